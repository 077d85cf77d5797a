package reader

import (
	"bufio"
	"bytes"
	"io"

	"github.com/cockroachdb/errors"

	"github.com/inodb/genomeidx/internal/genomics"
	"github.com/inodb/genomeidx/internal/storage"
)

// maxNodes bounds the node table length read for one reference.
const maxNodes = 1 << 28

// nodeTable is a reference's node table with parent links inverted into
// child lists. Nodes are addressed by their position in nodes.
type nodeTable struct {
	nodes    []storage.NodeRecord
	children [][]int
	roots    []int
	// bounds[i] covers the spans of node i and all of its descendants. A
	// child's stored span need not lie inside its parent's.
	bounds []genomics.Range
	// dataBase is the data block's offset within the reference region.
	dataBase int64
}

// readNodeRecords reads records up to, not including, the terminator.
func readNodeRecords(r io.Reader) ([]storage.NodeRecord, error) {
	var recs []storage.NodeRecord
	for {
		rec, err := storage.ReadNodeRecord(r)
		if err != nil {
			return nil, errors.Wrapf(err, "node %d", len(recs))
		}
		if rec.IsTerminator() {
			return recs, nil
		}
		if len(recs) >= maxNodes {
			return nil, errors.Wrapf(storage.ErrCorruptIndex, "more than %d nodes without terminator", maxNodes)
		}
		recs = append(recs, rec)
	}
}

func encodeNodeRecords(recs []storage.NodeRecord) ([]byte, error) {
	var buf bytes.Buffer
	buf.Grow((len(recs) + 1) * storage.NodeRecordSize)
	for _, rec := range append(recs, storage.Terminator()) {
		if err := storage.WriteNodeRecord(&buf, rec); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}

// newNodeTable links recs into a forest and checks that every node points
// at data inside a region of regionLen bytes, is reachable from a root, and
// has a subtree size equal to its own size plus its children's.
func newNodeTable(recs []storage.NodeRecord, regionLen int64) (*nodeTable, error) {
	t := &nodeTable{
		nodes:    recs,
		children: make([][]int, len(recs)),
		dataBase: int64(len(recs)+1) * storage.NodeRecordSize,
	}
	if t.dataBase > regionLen {
		return nil, errors.Wrapf(storage.ErrCorruptIndex, "node table of %d bytes exceeds region of %d", t.dataBase, regionLen)
	}
	dataLen := regionLen - t.dataBase

	pos := make(map[int32]int, len(recs))
	for i, rec := range recs {
		if rec.ID < 0 {
			return nil, errors.Wrapf(storage.ErrCorruptIndex, "negative node id %d", rec.ID)
		}
		if _, dup := pos[rec.ID]; dup {
			return nil, errors.Wrapf(storage.ErrCorruptIndex, "duplicate node id %d", rec.ID)
		}
		if err := rec.Span.Validate(); err != nil {
			return nil, errors.Mark(errors.Wrapf(err, "node %d", rec.ID), storage.ErrCorruptIndex)
		}
		if rec.Size < 0 || rec.SubtreeSize < rec.Size {
			return nil, errors.Wrapf(storage.ErrCorruptIndex, "node %d: size %d, subtree size %d", rec.ID, rec.Size, rec.SubtreeSize)
		}
		if rec.Size > 0 && (rec.DataOffset < 0 || rec.DataOffset >= dataLen) {
			return nil, errors.Wrapf(storage.ErrCorruptIndex, "node %d: data offset %d outside data block of %d bytes", rec.ID, rec.DataOffset, dataLen)
		}
		pos[rec.ID] = i
	}
	for i, rec := range recs {
		if rec.Parent == storage.TerminatorID {
			t.roots = append(t.roots, i)
			continue
		}
		p, ok := pos[rec.Parent]
		if !ok || p == i {
			return nil, errors.Wrapf(storage.ErrCorruptIndex, "node %d: parent %d not in table", rec.ID, rec.Parent)
		}
		t.children[p] = append(t.children[p], i)
	}
	if err := t.link(); err != nil {
		return nil, err
	}
	return t, nil
}

// link walks the forest from its roots, rejecting nodes no root reaches,
// and fills bounds bottom-up while checking subtree sizes.
func (t *nodeTable) link() error {
	order := make([]int, 0, len(t.nodes))
	seen := make([]bool, len(t.nodes))
	for _, r := range t.roots {
		seen[r] = true
		order = append(order, r)
	}
	for k := 0; k < len(order); k++ {
		for _, c := range t.children[order[k]] {
			if seen[c] {
				return errors.Wrapf(storage.ErrCorruptIndex, "node %d reached twice", t.nodes[c].ID)
			}
			seen[c] = true
			order = append(order, c)
		}
	}
	if len(order) != len(t.nodes) {
		for i, ok := range seen {
			if !ok {
				return errors.Wrapf(storage.ErrCorruptIndex, "node %d is not reachable from a root", t.nodes[i].ID)
			}
		}
	}

	t.bounds = make([]genomics.Range, len(t.nodes))
	for k := len(order) - 1; k >= 0; k-- {
		i := order[k]
		n := t.nodes[i]
		b := n.Span
		sum := int64(n.Size)
		for _, c := range t.children[i] {
			b = b.Union(t.bounds[c])
			sum += int64(t.nodes[c].SubtreeSize)
		}
		if sum != int64(n.SubtreeSize) {
			return errors.Wrapf(storage.ErrCorruptIndex, "node %d: subtree size %d, children and own records add up to %d", n.ID, n.SubtreeSize, sum)
		}
		t.bounds[i] = b
	}
	return nil
}

// loadNodeTable reads a node table from the start of a reference section.
func loadNodeTable(sec *io.SectionReader) ([]storage.NodeRecord, error) {
	return readNodeRecords(bufio.NewReader(sec))
}

// count returns the number of records reachable from the roots.
func (t *nodeTable) count() int64 {
	var n int64
	for _, r := range t.roots {
		n += int64(t.nodes[r].SubtreeSize)
	}
	return n
}
