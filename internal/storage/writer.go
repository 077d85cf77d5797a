package storage

import (
	"io"

	"github.com/cockroachdb/errors"
)

// Section is the content of one reference's region, supplied when
// assembling a file.
type Section struct {
	Name    string
	Length  int64
	Content io.Reader
}

// Assemble writes a complete index file: header, reference table and every
// section in reference name order. It returns the regions written.
func Assemble(w io.Writer, h Header, sections []Section) ([]Region, error) {
	names := make([]string, len(sections))
	byName := make(map[string]Section, len(sections))
	for i, s := range sections {
		if _, dup := byName[s.Name]; dup {
			return nil, errors.Newf("duplicate reference %q", s.Name)
		}
		names[i] = s.Name
		byName[s.Name] = s
	}

	unsorted := make([]Region, len(sections))
	for i, s := range sections {
		unsorted[i] = Region{Name: s.Name, Length: s.Length}
	}
	regions := sortRegions(unsorted)
	offset := ReferenceTableLen(names)
	for i := range regions {
		regions[i].Offset = offset
		offset += regions[i].Length
	}

	if err := WriteHeader(w, h); err != nil {
		return nil, err
	}
	if err := WriteReferenceTable(w, regions); err != nil {
		return nil, err
	}
	for _, r := range regions {
		s := byName[r.Name]
		n, err := io.Copy(w, io.LimitReader(s.Content, s.Length))
		if err != nil {
			return nil, errors.Wrapf(err, "copying reference %q", r.Name)
		}
		if n != s.Length {
			return nil, errors.Newf("reference %q: copied %d of %d bytes", r.Name, n, s.Length)
		}
	}
	return regions, nil
}
