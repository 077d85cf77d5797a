package storage

import (
	"bufio"
	"io"

	"github.com/cockroachdb/errors"
	"github.com/spf13/afero"
)

// File is a read-only handle on an index file. Offsets passed to and
// returned from its methods are virtual: zero is the first byte after the
// header. A File keeps its own cursor and must not be shared between
// goroutines; open one handle per goroutine instead.
type File struct {
	f         afero.File
	path      string
	header    Header
	headerLen int64
	length    int64
	regions   []Region
	byName    map[string]Region
	pos       int64
}

// Open opens the index file at path and loads its header and reference table.
func Open(fs afero.Fs, path string) (*File, error) {
	f, err := fs.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "open index file")
	}
	sf, err := newFile(f, path)
	if err != nil {
		f.Close()
		return nil, errors.Wrapf(err, "open %s", path)
	}
	return sf, nil
}

func newFile(f afero.File, path string) (*File, error) {
	info, err := f.Stat()
	if err != nil {
		return nil, errors.Wrap(err, "stat index file")
	}
	h, err := ReadHeader(io.NewSectionReader(f, 0, info.Size()))
	if err != nil {
		return nil, err
	}
	sf := &File{
		f:         f,
		path:      path,
		header:    h,
		headerLen: h.Len(),
		length:    info.Size() - h.Len(),
	}

	regions, err := ReadReferenceTable(bufio.NewReader(io.NewSectionReader(f, sf.headerLen, sf.length)))
	if err != nil {
		return nil, err
	}
	names := make([]string, len(regions))
	for i, r := range regions {
		names[i] = r.Name
	}
	tableLen := ReferenceTableLen(names)
	sf.byName = make(map[string]Region, len(regions))
	for _, r := range regions {
		if r.Offset < tableLen || r.Length < 0 || r.End() > sf.length {
			return nil, errors.Wrapf(ErrCorruptIndex, "reference %q at [%d,+%d) outside file of %d bytes",
				r.Name, r.Offset, r.Length, sf.length)
		}
		sf.byName[r.Name] = r
	}
	sf.regions = regions
	sf.pos = tableLen
	return sf, nil
}

// Close closes the underlying file.
func (sf *File) Close() error {
	return sf.f.Close()
}

// Path returns the path the file was opened from.
func (sf *File) Path() string {
	return sf.path
}

// Header returns the file header.
func (sf *File) Header() Header {
	return sf.header
}

// Regions returns the reference regions in reference name order.
func (sf *File) Regions() []Region {
	return append([]Region(nil), sf.regions...)
}

// References returns the reference names in reference name order.
func (sf *File) References() []string {
	names := make([]string, len(sf.regions))
	for i, r := range sf.regions {
		names[i] = r.Name
	}
	return names
}

// Region returns the region of a reference.
func (sf *File) Region(ref string) (Region, bool) {
	r, ok := sf.byName[ref]
	return r, ok
}

// Length returns the size of the virtual address space.
func (sf *File) Length() int64 {
	return sf.length
}

// Tell returns the current virtual position.
func (sf *File) Tell() int64 {
	return sf.pos
}

// Seek moves the cursor to a virtual offset. Offsets before zero would
// address header bytes and are rejected.
func (sf *File) Seek(offset int64) error {
	if offset < 0 || offset > sf.length {
		return errors.Wrapf(ErrCorruptIndex, "virtual offset %d outside [0,%d]", offset, sf.length)
	}
	sf.pos = offset
	return nil
}

// SeekWithinReference moves the cursor to an offset relative to the start of
// a reference's region.
func (sf *File) SeekWithinReference(ref string, offset int64) error {
	r, ok := sf.byName[ref]
	if !ok {
		return errors.Newf("unknown reference %q", ref)
	}
	if offset < 0 || offset > r.Length {
		return errors.Wrapf(ErrCorruptIndex, "offset %d outside reference %q of %d bytes", offset, ref, r.Length)
	}
	return sf.Seek(r.Offset + offset)
}

// Read reads from the current virtual position and advances it.
func (sf *File) Read(p []byte) (int, error) {
	if sf.pos >= sf.length {
		return 0, io.EOF
	}
	if rem := sf.length - sf.pos; int64(len(p)) > rem {
		p = p[:rem]
	}
	n, err := sf.f.ReadAt(p, sf.headerLen+sf.pos)
	sf.pos += int64(n)
	if err == io.EOF && n > 0 {
		err = nil
	}
	return n, err
}

// Section returns a reader over part of a reference's region, starting at
// offset and ending at the region's end. Reads through it do not move the
// handle's cursor.
func (sf *File) Section(ref string, offset int64) (*io.SectionReader, error) {
	r, ok := sf.byName[ref]
	if !ok {
		return nil, errors.Newf("unknown reference %q", ref)
	}
	if offset < 0 || offset > r.Length {
		return nil, errors.Wrapf(ErrCorruptIndex, "offset %d outside reference %q of %d bytes", offset, ref, r.Length)
	}
	return io.NewSectionReader(sf.f, sf.headerLen+r.Offset+offset, r.Length-offset), nil
}
