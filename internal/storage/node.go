package storage

import (
	"encoding/binary"
	"io"

	"github.com/cockroachdb/errors"

	"github.com/inodb/genomeidx/internal/genomics"
)

// NodeRecordSize is the encoded size of a NodeRecord.
const NodeRecordSize = 32

// TerminatorID is the id of the record that ends a node table.
const TerminatorID int32 = -1

// NodeRecord is one serialized tree node in a reference's node table.
type NodeRecord struct {
	ID          int32
	Span        genomics.Range
	DataOffset  int64 // relative to the reference's data block, -1 if Size == 0
	Size        int32
	SubtreeSize int32
	Parent      int32 // -1 for roots
}

// Terminator returns the record that ends every node table.
func Terminator() NodeRecord {
	return NodeRecord{
		ID:          TerminatorID,
		Span:        genomics.Range{Start: -1, End: -1},
		DataOffset:  -1,
		Size:        -1,
		SubtreeSize: -1,
		Parent:      -1,
	}
}

// IsTerminator reports whether rec ends a node table.
func (rec NodeRecord) IsTerminator() bool {
	return rec.ID == TerminatorID
}

// WriteNodeRecord writes rec to w.
func WriteNodeRecord(w io.Writer, rec NodeRecord) error {
	var b [NodeRecordSize]byte
	binary.BigEndian.PutUint32(b[0:], uint32(rec.ID))
	binary.BigEndian.PutUint32(b[4:], uint32(rec.Span.Start))
	binary.BigEndian.PutUint32(b[8:], uint32(rec.Span.End))
	binary.BigEndian.PutUint64(b[12:], uint64(rec.DataOffset))
	binary.BigEndian.PutUint32(b[20:], uint32(rec.Size))
	binary.BigEndian.PutUint32(b[24:], uint32(rec.SubtreeSize))
	binary.BigEndian.PutUint32(b[28:], uint32(rec.Parent))
	_, err := w.Write(b[:])
	return err
}

// ReadNodeRecord reads one record from r. Running out of data before a
// terminator is a corrupt index.
func ReadNodeRecord(r io.Reader) (NodeRecord, error) {
	var b [NodeRecordSize]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return NodeRecord{}, errors.Mark(errors.Wrap(err, "reading node record"), ErrCorruptIndex)
	}
	return NodeRecord{
		ID: int32(binary.BigEndian.Uint32(b[0:])),
		Span: genomics.Range{
			Start: int32(binary.BigEndian.Uint32(b[4:])),
			End:   int32(binary.BigEndian.Uint32(b[8:])),
		},
		DataOffset:  int64(binary.BigEndian.Uint64(b[12:])),
		Size:        int32(binary.BigEndian.Uint32(b[20:])),
		SubtreeSize: int32(binary.BigEndian.Uint32(b[24:])),
		Parent:      int32(binary.BigEndian.Uint32(b[28:])),
	}, nil
}
