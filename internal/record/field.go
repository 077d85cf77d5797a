// Package record encodes and decodes typed field tuples to and from the
// binary layout used inside interval index data blocks.
package record

import (
	"fmt"
	"strings"

	"github.com/cockroachdb/errors"
)

// FieldType is the on-disk tag describing one field of a record.
type FieldType int32

// Field type tags. The numeric values are part of the file format.
const (
	FieldIgnore FieldType = iota
	FieldString
	FieldChar
	FieldInteger
	FieldLong
	FieldFloat
	FieldDouble
	FieldRange
	FieldItemRGB
	FieldBlocks

	numFieldTypes
)

var fieldNames = [...]string{
	FieldIgnore:  "IGNORE",
	FieldString:  "STRING",
	FieldChar:    "CHAR",
	FieldInteger: "INTEGER",
	FieldLong:    "LONG",
	FieldFloat:   "FLOAT",
	FieldDouble:  "DOUBLE",
	FieldRange:   "RANGE",
	FieldItemRGB: "ITEMRGB",
	FieldBlocks:  "BLOCKS",
}

// Valid reports whether t is a known field type.
func (t FieldType) Valid() bool {
	return t >= 0 && t < numFieldTypes
}

func (t FieldType) String() string {
	if !t.Valid() {
		return fmt.Sprintf("FieldType(%d)", int32(t))
	}
	return fieldNames[t]
}

// ParseFieldType parses a field type name such as "STRING" (case-insensitive).
func ParseFieldType(s string) (FieldType, error) {
	for i, name := range fieldNames {
		if strings.EqualFold(name, s) {
			return FieldType(i), nil
		}
	}
	return 0, errors.Newf("unknown field type %q", s)
}

// Schema is the ordered list of field types shared by every record in a file.
type Schema []FieldType

// Validate checks that every tag is known and that the schema carries an
// interval (RANGE) field.
func (s Schema) Validate() error {
	for i, t := range s {
		if !t.Valid() {
			return errors.Mark(errors.Newf("field %d: unknown type tag %d", i, int32(t)), ErrCorruptRecord)
		}
	}
	if s.IntervalField() < 0 {
		return errors.Newf("schema %s has no %s field", s, FieldRange)
	}
	return nil
}

// IntervalField returns the position of the first RANGE field, or -1.
func (s Schema) IntervalField() int {
	for i, t := range s {
		if t == FieldRange {
			return i
		}
	}
	return -1
}

func (s Schema) String() string {
	names := make([]string, len(s))
	for i, t := range s {
		names[i] = t.String()
	}
	return "[" + strings.Join(names, " ") + "]"
}

// Modifier adjusts how a single field is encoded. The zero value means no
// modification.
type Modifier struct {
	// FixedLength truncates or space-pads STRING fields to exactly this
	// many bytes when positive.
	FixedLength int
}

// RGB is an item colour.
type RGB struct {
	Red, Green, Blue int32
}

// Block is one sub-feature of a record (e.g. a BED exon), relative to the
// record start.
type Block struct {
	Position int32
	Size     int32
}
