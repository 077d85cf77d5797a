package builder

import (
	"bytes"
	"context"
	"encoding/binary"
	"math/rand"
	"sort"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inodb/genomeidx/internal/genomics"
	"github.com/inodb/genomeidx/internal/storage"
)

func entry(start, end int32) Entry {
	data := make([]byte, 8)
	binary.BigEndian.PutUint32(data[0:], uint32(start))
	binary.BigEndian.PutUint32(data[4:], uint32(end))
	return Entry{Range: genomics.Range{Start: start, End: end}, Data: data}
}

func readNodes(t *testing.T, index []byte) []storage.NodeRecord {
	t.Helper()
	require.Zero(t, len(index)%storage.NodeRecordSize, "index is a whole number of node records")
	r := bytes.NewReader(index)
	var nodes []storage.NodeRecord
	for r.Len() > 0 {
		rec, err := storage.ReadNodeRecord(r)
		require.NoError(t, err)
		nodes = append(nodes, rec)
	}
	return nodes
}

func build(t *testing.T, span genomics.Range, entries []Entry, opts Options) ([]byte, []byte, Stats) {
	t.Helper()
	var index, data bytes.Buffer
	stats, err := Build(context.Background(), &index, &data, span, NewSliceSource(entries), opts)
	require.NoError(t, err)
	return index.Bytes(), data.Bytes(), stats
}

func randomEntries(r *rand.Rand, n int, maxStart, maxLen int) []Entry {
	entries := make([]Entry, n)
	for i := range entries {
		s := int32(1 + r.Intn(maxStart))
		entries[i] = entry(s, s+int32(r.Intn(maxLen)))
	}
	sort.SliceStable(entries, func(i, j int) bool { return entries[i].Range.Start < entries[j].Range.Start })
	return entries
}

func spanOf(entries []Entry) genomics.Range {
	span := entries[0].Range
	for _, e := range entries[1:] {
		span = span.Union(e.Range)
	}
	return span
}

func TestBuild_TerminatorAndSubtreeSize(t *testing.T) {
	entries := randomEntries(rand.New(rand.NewSource(1)), 5000, 1_000_000, 5000)
	index, data, stats := build(t, spanOf(entries), entries, Options{MinBinWidth: 128})

	nodes := readNodes(t, index)
	require.NotEmpty(t, nodes)

	terminators := 0
	for _, n := range nodes {
		if n.IsTerminator() {
			terminators++
		}
	}
	assert.Equal(t, 1, terminators)
	assert.True(t, nodes[len(nodes)-1].IsTerminator(), "terminator is last")
	assert.Equal(t, storage.Terminator(), nodes[len(nodes)-1])

	var roots []storage.NodeRecord
	seen := map[int32]bool{}
	var sizeSum int64
	for _, n := range nodes[:len(nodes)-1] {
		// children are flushed before their parents
		assert.False(t, seen[n.Parent], "node %d written after its parent %d", n.ID, n.Parent)
		seen[n.ID] = true
		if n.Parent == -1 {
			roots = append(roots, n)
		}
		if n.Size == 0 {
			assert.Equal(t, int64(-1), n.DataOffset)
		} else {
			assert.GreaterOrEqual(t, n.DataOffset, int64(0))
			assert.Less(t, n.DataOffset, int64(len(data)))
		}
		sizeSum += int64(n.Size)
	}
	require.Len(t, roots, 1)
	assert.Equal(t, int32(len(entries)), roots[0].SubtreeSize)
	assert.Equal(t, spanOf(entries), roots[0].Span)
	assert.Equal(t, int64(len(entries)), sizeSum)

	assert.Equal(t, int64(len(entries)), stats.Records)
	assert.Equal(t, int64(len(nodes)-1), stats.Nodes)
	assert.Equal(t, int64(len(index)), stats.IndexBytes)
	assert.Equal(t, int64(len(data)), stats.DataBytes)
	assert.Equal(t, int64(8*len(entries)), stats.DataBytes)
}

func TestBuild_SubtreeSizeEqualsChildrenSum(t *testing.T) {
	entries := randomEntries(rand.New(rand.NewSource(2)), 800, 50_000, 3000)
	index, _, _ := build(t, spanOf(entries), entries, Options{MinBinWidth: 16})

	nodes := readNodes(t, index)
	childSum := map[int32]int32{}
	for _, n := range nodes[:len(nodes)-1] {
		assert.Equal(t, n.Size+childSum[n.ID], n.SubtreeSize, "node %d", n.ID)
		childSum[n.Parent] += n.SubtreeSize
	}
}

func TestBuild_NodeRecordsAreContiguous(t *testing.T) {
	entries := randomEntries(rand.New(rand.NewSource(3)), 300, 10_000, 200)
	index, data, _ := build(t, spanOf(entries), entries, Options{MinBinWidth: 8})

	// Each node's records occupy [DataOffset, DataOffset+8*Size) and the
	// blocks tile the data stream in flush order.
	var next int64
	for _, n := range readNodes(t, index) {
		if n.IsTerminator() || n.Size == 0 {
			continue
		}
		assert.Equal(t, next, n.DataOffset)
		for i := int32(0); i < n.Size; i++ {
			off := n.DataOffset + 8*int64(i)
			r := genomics.Range{
				Start: int32(binary.BigEndian.Uint32(data[off:])),
				End:   int32(binary.BigEndian.Uint32(data[off+4:])),
			}
			assert.True(t, n.Span.Contains(r), "record %s outside node span %s", r, n.Span)
		}
		next = n.DataOffset + 8*int64(n.Size)
	}
	assert.Equal(t, int64(len(data)), next)
}

func TestBuild_Idempotent(t *testing.T) {
	entries := randomEntries(rand.New(rand.NewSource(4)), 2000, 100_000, 1000)
	span := spanOf(entries)

	index1, data1, _ := build(t, span, entries, Options{})
	index2, data2, _ := build(t, span, entries, Options{})
	assert.Equal(t, index1, index2)
	assert.Equal(t, data1, data2)
}

func TestBuild_Scenario(t *testing.T) {
	entries := []Entry{entry(1, 10), entry(5, 15), entry(20, 25)}
	var index, data bytes.Buffer
	b, err := New(&index, &data, genomics.Range{Start: 1, End: 25}, Options{MinBinWidth: 1})
	require.NoError(t, err)

	require.NoError(t, b.Add(entries[0]))
	require.NoError(t, b.Add(entries[1]))
	assert.Equal(t, int64(0), b.Stats().Nodes, "nothing can be flushed before start 11")

	require.NoError(t, b.Add(entries[2]))
	assert.Equal(t, int64(1), b.Stats().Nodes)

	assert.Zero(t, index.Len(), "node records stay buffered until Finish")

	require.NoError(t, b.Finish())
	assert.Equal(t, Done, b.State())

	nodes := readNodes(t, index.Bytes())
	require.NotEmpty(t, nodes)
	assert.Equal(t, int32(1), nodes[0].Size)
	assert.Equal(t, int64(0), nodes[0].DataOffset)
	assert.Equal(t, entries[0].Data, data.Bytes()[:8], "(1,10) is flushed first")

	root := nodes[len(nodes)-2]
	assert.Equal(t, int32(-1), root.Parent)
	assert.Equal(t, int32(3), root.SubtreeSize)
}

func TestBuild_Empty(t *testing.T) {
	index, data, stats := build(t, genomics.Range{Start: 1, End: 1}, nil, Options{})
	nodes := readNodes(t, index)
	require.Len(t, nodes, 1)
	assert.True(t, nodes[0].IsTerminator())
	assert.Empty(t, data)
	assert.Zero(t, stats.Records)
}

func TestBuild_RejectsUnsorted(t *testing.T) {
	entries := []Entry{entry(10, 20), entry(5, 30)}
	var index, data bytes.Buffer
	_, err := Build(context.Background(), &index, &data, genomics.Range{Start: 1, End: 30}, NewSliceSource(entries), Options{})
	assert.True(t, errors.Is(err, ErrUnsorted))
}

func TestBuild_RejectsInvalidRange(t *testing.T) {
	var index, data bytes.Buffer
	b, err := New(&index, &data, genomics.Range{Start: 1, End: 30}, Options{})
	require.NoError(t, err)

	assert.True(t, errors.Is(b.Add(entry(20, 10)), genomics.ErrInvalidRange))
	assert.True(t, errors.Is(b.Add(entry(-5, 10)), genomics.ErrInvalidRange))
	assert.Error(t, b.Add(entry(25, 40)), "outside the span")
}

func TestBuild_StateMachine(t *testing.T) {
	var index, data bytes.Buffer
	b, err := New(&index, &data, genomics.Range{Start: 1, End: 100}, Options{})
	require.NoError(t, err)
	assert.Equal(t, Accumulating, b.State())

	require.NoError(t, b.Add(entry(1, 5)))
	require.NoError(t, b.Finish())
	assert.Equal(t, Done, b.State())
	assert.Equal(t, "DONE", b.State().String())

	assert.Error(t, b.Add(entry(6, 7)))
	assert.Error(t, b.Finish())
}

func TestBuild_Cancelled(t *testing.T) {
	entries := randomEntries(rand.New(rand.NewSource(5)), 2000, 100_000, 100)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var index, data bytes.Buffer
	stats, err := Build(ctx, &index, &data, spanOf(entries), NewSliceSource(entries), Options{CheckInterval: 500})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrCancelled))
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Zero(t, stats.Records)
	assert.Zero(t, index.Len(), "no terminator written")
}

type cancellingSource struct {
	*SliceSource
	cancel context.CancelFunc
	after  int
	n      int
}

func (s *cancellingSource) Next() (*Entry, error) {
	s.n++
	if s.n == s.after {
		s.cancel()
	}
	return s.SliceSource.Next()
}

func TestBuild_CancelledMidway(t *testing.T) {
	entries := randomEntries(rand.New(rand.NewSource(6)), 2000, 100_000, 100)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	src := &cancellingSource{SliceSource: NewSliceSource(entries), cancel: cancel, after: 700}

	var index, data bytes.Buffer
	stats, err := Build(ctx, &index, &data, spanOf(entries), src, Options{CheckInterval: 500})
	assert.True(t, errors.Is(err, ErrCancelled))
	assert.Equal(t, int64(1000), stats.Records, "checked at the next 500-record boundary")
}

func TestBuild_Metrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	entries := randomEntries(rand.New(rand.NewSource(8)), 100, 10_000, 100)
	index, data, stats := build(t, spanOf(entries), entries, Options{Metrics: m})

	assert.Equal(t, float64(100), testutil.ToFloat64(m.Records))
	assert.Equal(t, float64(stats.Nodes), testutil.ToFloat64(m.NodesFlushed))
	assert.Equal(t, float64(len(index)), testutil.ToFloat64(m.BytesWritten.WithLabelValues("index")))
	assert.Equal(t, float64(len(data)), testutil.ToFloat64(m.BytesWritten.WithLabelValues("data")))
}
