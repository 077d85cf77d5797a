package storage

import (
	"encoding/binary"
	"io"

	"github.com/cockroachdb/errors"

	"github.com/inodb/genomeidx/internal/genomics"
	"github.com/inodb/genomeidx/internal/record"
)

// maxReferences bounds the reference count accepted from a file.
const maxReferences = 1 << 20

// Region locates one reference's section in virtual address space.
type Region struct {
	Name   string
	Offset int64
	Length int64
}

// End returns the first virtual offset after the region.
func (r Region) End() int64 {
	return r.Offset + r.Length
}

// ReferenceTableLen returns the encoded size of a reference table holding names.
func ReferenceTableLen(names []string) int64 {
	n := int64(4)
	for _, name := range names {
		n += record.StringSize(name) + 16
	}
	return n
}

// WriteReferenceTable writes regions to w sorted by reference name order.
func WriteReferenceTable(w io.Writer, regions []Region) error {
	sorted := sortRegions(regions)
	var scratch [16]byte
	binary.BigEndian.PutUint32(scratch[:4], uint32(len(sorted)))
	if _, err := w.Write(scratch[:4]); err != nil {
		return errors.Wrap(err, "writing reference count")
	}
	for _, r := range sorted {
		if err := record.WriteString(w, r.Name); err != nil {
			return errors.Wrapf(err, "writing reference %q", r.Name)
		}
		binary.BigEndian.PutUint64(scratch[0:], uint64(r.Offset))
		binary.BigEndian.PutUint64(scratch[8:], uint64(r.Length))
		if _, err := w.Write(scratch[:]); err != nil {
			return errors.Wrapf(err, "writing reference %q", r.Name)
		}
	}
	return nil
}

// ReadReferenceTable reads a table written by WriteReferenceTable. The
// returned slice is sorted by reference name order.
func ReadReferenceTable(r io.Reader) ([]Region, error) {
	var scratch [16]byte
	if _, err := io.ReadFull(r, scratch[:4]); err != nil {
		return nil, errors.Mark(errors.Wrap(err, "reading reference count"), ErrCorruptIndex)
	}
	n := int32(binary.BigEndian.Uint32(scratch[:4]))
	if n < 0 || n > maxReferences {
		return nil, errors.Wrapf(ErrCorruptIndex, "reference count %d", n)
	}
	regions := make([]Region, 0, n)
	seen := make(map[string]bool, n)
	for i := int32(0); i < n; i++ {
		name, err := record.ReadString(r)
		if err != nil {
			return nil, errors.Mark(errors.Wrapf(err, "reading reference %d", i), ErrCorruptIndex)
		}
		if _, err := io.ReadFull(r, scratch[:]); err != nil {
			return nil, errors.Mark(errors.Wrapf(err, "reading reference %q", name), ErrCorruptIndex)
		}
		if seen[name] {
			return nil, errors.Wrapf(ErrCorruptIndex, "duplicate reference %q", name)
		}
		seen[name] = true
		regions = append(regions, Region{
			Name:   name,
			Offset: int64(binary.BigEndian.Uint64(scratch[0:])),
			Length: int64(binary.BigEndian.Uint64(scratch[8:])),
		})
	}
	return sortRegions(regions), nil
}

func sortRegions(regions []Region) []Region {
	names := make([]string, len(regions))
	byName := make(map[string]Region, len(regions))
	for i, r := range regions {
		names[i] = r.Name
		byName[r.Name] = r
	}
	genomics.SortReferences(names)
	sorted := make([]Region, len(names))
	for i, name := range names {
		sorted[i] = byName[name]
	}
	return sorted
}
