// Package builder formats one reference's sorted intervals into a node table
// and a data block in a single streaming pass.
package builder

import (
	"bufio"
	"context"
	"io"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"github.com/inodb/genomeidx/internal/genomics"
	"github.com/inodb/genomeidx/internal/ivtree"
	"github.com/inodb/genomeidx/internal/storage"
)

// Defaults for Options.
const (
	DefaultMinBinWidth   = 1024
	DefaultCheckInterval = 500
)

var (
	// ErrCancelled is returned when the build context is cancelled.
	ErrCancelled = errors.New("index build cancelled")
	// ErrUnsorted is returned when an entry starts before its predecessor.
	ErrUnsorted = errors.New("input not sorted by start")
)

// State is the phase of a build.
type State int

// Build phases.
const (
	Accumulating State = iota
	Draining
	Done
)

func (s State) String() string {
	switch s {
	case Accumulating:
		return "ACCUMULATING"
	case Draining:
		return "DRAINING"
	case Done:
		return "DONE"
	}
	return "UNKNOWN"
}

// Entry is one interval with its already-encoded record.
type Entry struct {
	Range genomics.Range
	Data  []byte
}

// Source yields entries sorted by start. Next returns nil, nil when there are
// no more entries.
type Source interface {
	Next() (*Entry, error)
}

// Options configures a Builder.
type Options struct {
	// MinBinWidth is the narrowest span the tree subdivides.
	MinBinWidth int32
	// CheckInterval is how many entries Build processes between context checks.
	CheckInterval int
	Logger        *zap.Logger
	Metrics       *Metrics
}

func (o Options) withDefaults() Options {
	if o.MinBinWidth <= 0 {
		o.MinBinWidth = DefaultMinBinWidth
	}
	if o.CheckInterval <= 0 {
		o.CheckInterval = DefaultCheckInterval
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	return o
}

// Stats summarises a build.
type Stats struct {
	Records    int64
	Nodes      int64
	IndexBytes int64
	DataBytes  int64
}

// Builder writes the node table to one stream and the records to another.
// A node is flushed as soon as no later entry can fall into it, so memory
// holds only the nodes still open at the current position.
type Builder struct {
	index *bufio.Writer
	data  *bufio.Writer
	tree  *ivtree.Tree[[]byte]
	opts  Options

	state     State
	lastStart int32
	stats     Stats
}

// New returns a builder for intervals within span.
func New(index, data io.Writer, span genomics.Range, opts Options) (*Builder, error) {
	opts = opts.withDefaults()
	tree, err := ivtree.New[[]byte](span, opts.MinBinWidth)
	if err != nil {
		return nil, err
	}
	return &Builder{
		index:     bufio.NewWriter(index),
		data:      bufio.NewWriter(data),
		tree:      tree,
		opts:      opts,
		lastStart: span.Start,
	}, nil
}

// State returns the current phase.
func (b *Builder) State() State {
	return b.state
}

// Stats returns what has been written so far.
func (b *Builder) Stats() Stats {
	return b.stats
}

// Add inserts one entry, first flushing every node that ends before it.
func (b *Builder) Add(e Entry) error {
	if b.state != Accumulating {
		return errors.Newf("add in state %s", b.state)
	}
	if err := e.Range.Validate(); err != nil {
		return err
	}
	if e.Range.Start < b.lastStart {
		return errors.Wrapf(ErrUnsorted, "%s after start %d", e.Range, b.lastStart)
	}
	b.lastStart = e.Range.Start

	for {
		n, ok := b.tree.NodeWithSmallestMaxEndpoint()
		if !ok || n.Span.End >= e.Range.Start {
			break
		}
		if err := b.flush(n); err != nil {
			return err
		}
	}
	if _, err := b.tree.Insert(e.Range, e.Data); err != nil {
		return err
	}
	b.stats.Records++
	b.opts.Metrics.recordAdded()
	return nil
}

// Finish flushes all remaining nodes and writes the terminator.
func (b *Builder) Finish() error {
	if b.state != Accumulating {
		return errors.Newf("finish in state %s", b.state)
	}
	b.state = Draining
	for {
		n, ok := b.tree.NodeWithSmallestMaxEndpoint()
		if !ok {
			break
		}
		if err := b.flush(n); err != nil {
			return err
		}
	}
	if err := storage.WriteNodeRecord(b.index, storage.Terminator()); err != nil {
		return errors.Wrap(err, "writing terminator")
	}
	b.stats.IndexBytes += storage.NodeRecordSize
	b.opts.Metrics.bytesWritten(storage.NodeRecordSize, 0)
	if err := b.index.Flush(); err != nil {
		return errors.Wrap(err, "flushing index stream")
	}
	if err := b.data.Flush(); err != nil {
		return errors.Wrap(err, "flushing data stream")
	}
	b.state = Done
	b.opts.Logger.Debug("index built",
		zap.Int64("records", b.stats.Records),
		zap.Int64("nodes", b.stats.Nodes),
		zap.Int64("index_bytes", b.stats.IndexBytes),
		zap.Int64("data_bytes", b.stats.DataBytes))
	return nil
}

// flush writes a node's records and its node record, then drops it from the tree.
func (b *Builder) flush(n *ivtree.Node[[]byte]) error {
	rec := storage.NodeRecord{
		ID:          n.ID,
		Span:        n.Span,
		DataOffset:  -1,
		Size:        int32(n.Size()),
		SubtreeSize: int32(b.tree.SubtreeSize(n.ID)),
		Parent:      n.Parent,
	}
	if n.Size() > 0 {
		rec.DataOffset = b.stats.DataBytes
	}
	var written int64
	for _, item := range n.Items {
		if _, err := b.data.Write(item); err != nil {
			return errors.Wrapf(err, "writing records of node %d", n.ID)
		}
		written += int64(len(item))
	}
	if err := storage.WriteNodeRecord(b.index, rec); err != nil {
		return errors.Wrapf(err, "writing node %d", n.ID)
	}
	if err := b.tree.RemoveNode(n.ID); err != nil {
		return err
	}
	b.stats.DataBytes += written
	b.stats.IndexBytes += storage.NodeRecordSize
	b.stats.Nodes++
	b.opts.Metrics.nodeFlushed(storage.NodeRecordSize, written)
	return nil
}

// Build reads every entry from src, checking ctx every CheckInterval
// entries, and finishes the index. On cancellation it returns ErrCancelled
// without finishing; the caller must then discard both output streams.
func Build(ctx context.Context, index, data io.Writer, span genomics.Range, src Source, opts Options) (Stats, error) {
	b, err := New(index, data, span, opts)
	if err != nil {
		return Stats{}, err
	}
	for n := 0; ; n++ {
		if n%b.opts.CheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				return b.stats, errors.Mark(errors.Wrapf(err, "after %d records", n), ErrCancelled)
			}
		}
		e, err := src.Next()
		if err != nil {
			return b.stats, errors.Wrap(err, "reading entry")
		}
		if e == nil {
			break
		}
		if err := b.Add(*e); err != nil {
			return b.stats, err
		}
	}
	if err := b.Finish(); err != nil {
		return b.stats, err
	}
	return b.stats, nil
}

// SliceSource is a Source over an in-memory slice.
type SliceSource struct {
	entries []Entry
	i       int
}

// NewSliceSource returns a Source yielding entries in order.
func NewSliceSource(entries []Entry) *SliceSource {
	return &SliceSource{entries: entries}
}

// Next implements Source.
func (s *SliceSource) Next() (*Entry, error) {
	if s.i >= len(s.entries) {
		return nil, nil
	}
	e := &s.entries[s.i]
	s.i++
	return e, nil
}
