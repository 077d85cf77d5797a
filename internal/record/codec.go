package record

import (
	"bytes"
	"encoding/binary"
	"io"
	"math"

	"github.com/cockroachdb/errors"

	"github.com/inodb/genomeidx/internal/genomics"
)

const (
	// MaxStringLength bounds decoded STRING fields.
	MaxStringLength = 10000
	// MaxBlocks bounds decoded BLOCKS fields.
	MaxBlocks = 1000000
)

var (
	// ErrCorruptRecord marks implausible or malformed field data.
	ErrCorruptRecord = errors.New("corrupt record")
	// ErrUnexpectedEndOfData marks a stream that ended in the middle of a record.
	ErrUnexpectedEndOfData = errors.New("unexpected end of data")
)

// Record is one decoded row. Values holds one Go value per schema field;
// Interval is copied out of the first RANGE field.
type Record struct {
	Interval genomics.Range
	Values   []any
}

type encoder struct {
	w       io.Writer
	scratch [8]byte
}

func (e *encoder) int32(v int32) error {
	binary.BigEndian.PutUint32(e.scratch[:4], uint32(v))
	_, err := e.w.Write(e.scratch[:4])
	return err
}

func (e *encoder) int64(v int64) error {
	binary.BigEndian.PutUint64(e.scratch[:8], uint64(v))
	_, err := e.w.Write(e.scratch[:8])
	return err
}

func (e *encoder) bytes(b []byte) error {
	_, err := e.w.Write(b)
	return err
}

type decoder struct {
	r       io.Reader
	scratch [8]byte
}

func (d *decoder) fill(n int) ([]byte, error) {
	if _, err := io.ReadFull(d.r, d.scratch[:n]); err != nil {
		return nil, endOfData(err)
	}
	return d.scratch[:n], nil
}

func (d *decoder) int32() (int32, error) {
	b, err := d.fill(4)
	if err != nil {
		return 0, err
	}
	return int32(binary.BigEndian.Uint32(b)), nil
}

func (d *decoder) int64() (int64, error) {
	b, err := d.fill(8)
	if err != nil {
		return 0, err
	}
	return int64(binary.BigEndian.Uint64(b)), nil
}

func endOfData(err error) error {
	if err == io.EOF || err == io.ErrUnexpectedEOF {
		return errors.Mark(errors.Wrap(err, "decoding field"), ErrUnexpectedEndOfData)
	}
	return errors.Wrap(err, "decoding field")
}

func wrongType(t FieldType, v any) error {
	return errors.Mark(errors.Newf("%s field cannot hold %T", t, v), ErrCorruptRecord)
}

// fieldCodec pairs the encode and decode halves of one field type.
type fieldCodec struct {
	encode func(e *encoder, v any, m Modifier) error
	decode func(d *decoder) (any, error)
}

var fieldCodecs = [numFieldTypes]fieldCodec{
	FieldIgnore: {
		encode: func(*encoder, any, Modifier) error { return nil },
		decode: func(*decoder) (any, error) { return nil, nil },
	},
	FieldString: {
		encode: func(e *encoder, v any, m Modifier) error {
			s, ok := v.(string)
			if !ok {
				return wrongType(FieldString, v)
			}
			b := []byte(s)
			if m.FixedLength > 0 {
				if len(b) > m.FixedLength {
					b = b[:m.FixedLength]
				} else if len(b) < m.FixedLength {
					b = append(b, bytes.Repeat([]byte{' '}, m.FixedLength-len(b))...)
				}
			}
			if len(b) > MaxStringLength {
				return errors.Mark(errors.Newf("string of %d bytes exceeds %d", len(b), MaxStringLength), ErrCorruptRecord)
			}
			if err := e.int32(int32(len(b))); err != nil {
				return err
			}
			return e.bytes(b)
		},
		decode: func(d *decoder) (any, error) {
			n, err := d.int32()
			if err != nil {
				return nil, err
			}
			if n < 0 || n > MaxStringLength {
				return nil, errors.Mark(errors.Newf("implausible string length %d", n), ErrCorruptRecord)
			}
			b := make([]byte, n)
			if _, err := io.ReadFull(d.r, b); err != nil {
				return nil, endOfData(err)
			}
			return string(b), nil
		},
	},
	FieldChar: {
		encode: func(e *encoder, v any, _ Modifier) error {
			c, ok := v.(byte)
			if !ok {
				return wrongType(FieldChar, v)
			}
			return e.bytes([]byte{c})
		},
		decode: func(d *decoder) (any, error) {
			b, err := d.fill(1)
			if err != nil {
				return nil, err
			}
			return b[0], nil
		},
	},
	FieldInteger: {
		encode: func(e *encoder, v any, _ Modifier) error {
			i, ok := v.(int32)
			if !ok {
				return wrongType(FieldInteger, v)
			}
			return e.int32(i)
		},
		decode: func(d *decoder) (any, error) { return d.int32() },
	},
	FieldLong: {
		encode: func(e *encoder, v any, _ Modifier) error {
			i, ok := v.(int64)
			if !ok {
				return wrongType(FieldLong, v)
			}
			return e.int64(i)
		},
		decode: func(d *decoder) (any, error) { return d.int64() },
	},
	FieldFloat: {
		encode: func(e *encoder, v any, _ Modifier) error {
			f, ok := v.(float32)
			if !ok {
				return wrongType(FieldFloat, v)
			}
			return e.int32(int32(math.Float32bits(f)))
		},
		decode: func(d *decoder) (any, error) {
			i, err := d.int32()
			if err != nil {
				return nil, err
			}
			return math.Float32frombits(uint32(i)), nil
		},
	},
	FieldDouble: {
		encode: func(e *encoder, v any, _ Modifier) error {
			f, ok := v.(float64)
			if !ok {
				return wrongType(FieldDouble, v)
			}
			return e.int64(int64(math.Float64bits(f)))
		},
		decode: func(d *decoder) (any, error) {
			i, err := d.int64()
			if err != nil {
				return nil, err
			}
			return math.Float64frombits(uint64(i)), nil
		},
	},
	FieldRange: {
		encode: func(e *encoder, v any, _ Modifier) error {
			r, ok := v.(genomics.Range)
			if !ok {
				return wrongType(FieldRange, v)
			}
			if err := e.int32(r.Start); err != nil {
				return err
			}
			return e.int32(r.End)
		},
		decode: func(d *decoder) (any, error) {
			start, err := d.int32()
			if err != nil {
				return nil, err
			}
			end, err := d.int32()
			if err != nil {
				return nil, err
			}
			return genomics.Range{Start: start, End: end}, nil
		},
	},
	// Colour components are stored red, blue, green.
	FieldItemRGB: {
		encode: func(e *encoder, v any, _ Modifier) error {
			c, ok := v.(RGB)
			if !ok {
				return wrongType(FieldItemRGB, v)
			}
			for _, x := range [3]int32{c.Red, c.Blue, c.Green} {
				if err := e.int32(x); err != nil {
					return err
				}
			}
			return nil
		},
		decode: func(d *decoder) (any, error) {
			var c RGB
			for _, x := range [3]*int32{&c.Red, &c.Blue, &c.Green} {
				v, err := d.int32()
				if err != nil {
					return nil, err
				}
				*x = v
			}
			return c, nil
		},
	},
	FieldBlocks: {
		encode: func(e *encoder, v any, _ Modifier) error {
			blocks, ok := v.([]Block)
			if !ok {
				return wrongType(FieldBlocks, v)
			}
			if err := e.int32(int32(len(blocks))); err != nil {
				return err
			}
			for _, b := range blocks {
				if err := e.int32(b.Position); err != nil {
					return err
				}
				if err := e.int32(b.Size); err != nil {
					return err
				}
			}
			return nil
		},
		decode: func(d *decoder) (any, error) {
			n, err := d.int32()
			if err != nil {
				return nil, err
			}
			if n < 0 || n > MaxBlocks {
				return nil, errors.Mark(errors.Newf("implausible block count %d", n), ErrCorruptRecord)
			}
			blocks := make([]Block, n)
			for i := range blocks {
				if blocks[i].Position, err = d.int32(); err != nil {
					return nil, err
				}
				if blocks[i].Size, err = d.int32(); err != nil {
					return nil, err
				}
			}
			return blocks, nil
		},
	},
}

// Codec encodes and decodes records for one schema.
type Codec struct {
	schema   Schema
	mods     []Modifier
	interval int
}

// NewCodec returns a codec for schema. mods may be shorter than schema (or
// nil); missing entries mean no modifier.
func NewCodec(schema Schema, mods []Modifier) (*Codec, error) {
	if err := schema.Validate(); err != nil {
		return nil, err
	}
	if len(mods) > len(schema) {
		return nil, errors.Newf("%d modifiers for %d fields", len(mods), len(schema))
	}
	full := make([]Modifier, len(schema))
	copy(full, mods)
	return &Codec{schema: schema, mods: full, interval: schema.IntervalField()}, nil
}

// Schema returns the codec's schema.
func (c *Codec) Schema() Schema {
	return c.schema
}

// Encode writes values to w. values must hold one entry per schema field.
func (c *Codec) Encode(w io.Writer, values []any) error {
	if len(values) != len(c.schema) {
		return errors.Mark(errors.Newf("%d values for %d fields", len(values), len(c.schema)), ErrCorruptRecord)
	}
	e := &encoder{w: w}
	for i, t := range c.schema {
		if err := fieldCodecs[t].encode(e, values[i], c.mods[i]); err != nil {
			return errors.Wrapf(err, "encoding field %d (%s)", i, t)
		}
	}
	return nil
}

// Marshal encodes values into a new byte slice.
func (c *Codec) Marshal(values []any) ([]byte, error) {
	var buf bytes.Buffer
	if err := c.Encode(&buf, values); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Decode reads one record from r.
func (c *Codec) Decode(r io.Reader) (Record, error) {
	d := &decoder{r: r}
	values := make([]any, len(c.schema))
	for i, t := range c.schema {
		v, err := fieldCodecs[t].decode(d)
		if err != nil {
			return Record{}, errors.Wrapf(err, "decoding field %d (%s)", i, t)
		}
		values[i] = v
	}
	return Record{Interval: values[c.interval].(genomics.Range), Values: values}, nil
}

// Unmarshal decodes a single record from b.
func (c *Codec) Unmarshal(b []byte) (Record, error) {
	return c.Decode(bytes.NewReader(b))
}
