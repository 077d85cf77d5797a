// Package storage provides the on-disk container for interval indexes: a
// typed header, a reference table and a virtual address space that starts
// after the header.
package storage

import (
	"encoding/binary"
	"fmt"
	"io"
	"math/bits"

	"github.com/cockroachdb/errors"

	"github.com/inodb/genomeidx/internal/record"
)

// CurrentVersion is the format version written by this package.
const CurrentVersion int32 = 3

// maxFields bounds the schema length accepted from a header.
const maxFields = 1024

var (
	// ErrUnrecognizedFormat is returned when the magic number is unknown.
	ErrUnrecognizedFormat = errors.New("unrecognized file format")
	// ErrWrongByteOrder is returned when the magic number is known but byte-swapped.
	ErrWrongByteOrder = errors.New("wrong byte order")
	// ErrUnsupportedVersion is returned for files newer than CurrentVersion.
	ErrUnsupportedVersion = errors.New("unsupported format version")
	// ErrCorruptIndex marks inconsistent headers, reference tables or node tables.
	ErrCorruptIndex = errors.New("corrupt index")
)

// FileType identifies the kind of records stored in a file. Its value is the
// file's magic number.
type FileType uint32

// Known file types.
const (
	TypeIntervalGeneric FileType = 0xFACE0101
	TypeIntervalBED     FileType = 0xFACE0102
	TypeIntervalGFF     FileType = 0xFACE0103
	TypeIntervalVCF     FileType = 0xFACE0104
)

var fileTypeNames = map[FileType]string{
	TypeIntervalGeneric: "INTERVAL_GENERIC",
	TypeIntervalBED:     "INTERVAL_BED",
	TypeIntervalGFF:     "INTERVAL_GFF",
	TypeIntervalVCF:     "INTERVAL_VCF",
}

// Known reports whether t is a recognised file type.
func (t FileType) Known() bool {
	_, ok := fileTypeNames[t]
	return ok
}

func (t FileType) String() string {
	if name, ok := fileTypeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("FileType(%#08x)", uint32(t))
}

// Header is the fixed prefix of every index file.
type Header struct {
	Type    FileType
	Version int32
	Schema  record.Schema
}

// Len returns the encoded size of the header in bytes.
func (h Header) Len() int64 {
	return 12 + 4*int64(len(h.Schema))
}

// WriteHeader writes h to w.
func WriteHeader(w io.Writer, h Header) error {
	if !h.Type.Known() {
		return errors.Wrapf(ErrUnrecognizedFormat, "writing header for %s", h.Type)
	}
	if err := h.Schema.Validate(); err != nil {
		return errors.Wrap(err, "writing header")
	}
	buf := make([]byte, h.Len())
	binary.BigEndian.PutUint32(buf[0:], uint32(h.Type))
	binary.BigEndian.PutUint32(buf[4:], uint32(h.Version))
	binary.BigEndian.PutUint32(buf[8:], uint32(len(h.Schema)))
	for i, t := range h.Schema {
		binary.BigEndian.PutUint32(buf[12+4*i:], uint32(t))
	}
	_, err := w.Write(buf)
	return err
}

// ReadHeader reads and validates a header from r.
func ReadHeader(r io.Reader) (Header, error) {
	var prefix [12]byte
	if _, err := io.ReadFull(r, prefix[:]); err != nil {
		return Header{}, errors.Mark(errors.Wrap(err, "reading header"), ErrUnrecognizedFormat)
	}
	magic := binary.BigEndian.Uint32(prefix[0:])
	h := Header{Type: FileType(magic)}
	if !h.Type.Known() {
		if swapped := FileType(bits.ReverseBytes32(magic)); swapped.Known() {
			return Header{}, errors.Wrapf(ErrWrongByteOrder, "magic %#08x is byte-swapped %s", magic, swapped)
		}
		return Header{}, errors.Wrapf(ErrUnrecognizedFormat, "magic %#08x", magic)
	}

	h.Version = int32(binary.BigEndian.Uint32(prefix[4:]))
	if h.Version > CurrentVersion || h.Version < 1 {
		return Header{}, errors.Wrapf(ErrUnsupportedVersion, "version %d", h.Version)
	}

	n := int32(binary.BigEndian.Uint32(prefix[8:]))
	if n <= 0 || n > maxFields {
		return Header{}, errors.Wrapf(ErrCorruptIndex, "field count %d", n)
	}
	tags := make([]byte, 4*n)
	if _, err := io.ReadFull(r, tags); err != nil {
		return Header{}, errors.Mark(errors.Wrap(err, "reading field types"), ErrCorruptIndex)
	}
	h.Schema = make(record.Schema, n)
	for i := range h.Schema {
		h.Schema[i] = record.FieldType(int32(binary.BigEndian.Uint32(tags[4*i:])))
	}
	if err := h.Schema.Validate(); err != nil {
		return Header{}, errors.Mark(errors.Wrap(err, "reading field types"), ErrCorruptIndex)
	}
	return h, nil
}
