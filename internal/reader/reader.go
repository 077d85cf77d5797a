// Package reader answers range queries against interval index files by
// walking the serialized node tables directly from disk.
package reader

import (
	"bufio"
	"bytes"
	"context"
	"sort"

	"github.com/cockroachdb/errors"
	"github.com/spf13/afero"
	"go.uber.org/zap"

	"github.com/inodb/genomeidx/internal/cache"
	"github.com/inodb/genomeidx/internal/genomics"
	"github.com/inodb/genomeidx/internal/record"
	"github.com/inodb/genomeidx/internal/storage"
)

// Options configures a Reader.
type Options struct {
	// Cache, when set, stores node tables between readers of the same file.
	Cache   cache.Cache
	Logger  *zap.Logger
	Metrics *Metrics
}

// Reader queries one open index file. It is not safe for concurrent use;
// open one Reader per goroutine (see QueryMany).
type Reader struct {
	file   *storage.File
	codec  *record.Codec
	opts   Options
	fp     cache.Fingerprint
	tables map[string]*nodeTable
}

// Open opens the index file at path.
func Open(fs afero.Fs, path string, opts Options) (*Reader, error) {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	f, err := storage.Open(fs, path)
	if err != nil {
		return nil, err
	}
	codec, err := record.NewCodec(f.Header().Schema, nil)
	if err != nil {
		f.Close()
		return nil, errors.Mark(errors.Wrap(err, "file schema"), storage.ErrCorruptIndex)
	}
	r := &Reader{
		file:   f,
		codec:  codec,
		opts:   opts,
		tables: make(map[string]*nodeTable),
	}
	if opts.Cache != nil {
		if r.fp, err = cache.StatFile(fs, path); err != nil {
			f.Close()
			return nil, errors.Wrap(err, "fingerprint index file")
		}
	}
	return r, nil
}

// Close releases the file handle.
func (r *Reader) Close() error {
	return r.file.Close()
}

// Header returns the file header.
func (r *Reader) Header() storage.Header {
	return r.file.Header()
}

// References returns the reference names in reference name order.
func (r *Reader) References() []string {
	return r.file.References()
}

// table returns the node table of ref, loading it on first use.
func (r *Reader) table(ref string, region storage.Region) (*nodeTable, error) {
	if t, ok := r.tables[ref]; ok {
		return t, nil
	}

	var recs []storage.NodeRecord
	var key string
	cached := false
	if r.opts.Cache != nil {
		key = r.fp.Key(ref)
		b, ok, err := r.opts.Cache.Get(key)
		if err != nil {
			r.opts.Logger.Warn("index cache lookup failed", zap.String("ref", ref), zap.Error(err))
		} else if ok {
			if recs, err = readNodeRecords(bytes.NewReader(b)); err != nil {
				r.opts.Logger.Warn("discarding unreadable cached node table", zap.String("ref", ref), zap.Error(err))
				recs = nil
			} else {
				cached = true
			}
		}
	}
	if !cached {
		sec, err := r.file.Section(ref, 0)
		if err != nil {
			return nil, err
		}
		if recs, err = loadNodeTable(sec); err != nil {
			return nil, errors.Wrapf(err, "reference %q", ref)
		}
	}

	t, err := newNodeTable(recs, region.Length)
	if err != nil {
		return nil, errors.Wrapf(err, "reference %q", ref)
	}
	if r.opts.Cache != nil && !cached {
		if b, err := encodeNodeRecords(recs); err == nil {
			if err := r.opts.Cache.Put(key, b); err != nil {
				r.opts.Logger.Warn("index cache store failed", zap.String("ref", ref), zap.Error(err))
			}
		}
	}
	r.tables[ref] = t
	r.opts.Logger.Debug("loaded node table",
		zap.String("ref", ref),
		zap.Int("nodes", len(recs)),
		zap.Bool("cached", cached))
	return t, nil
}

// Count returns the number of records stored for ref.
func (r *Reader) Count(ref string) (int64, error) {
	region, ok := r.file.Region(ref)
	if !ok {
		return 0, nil
	}
	t, err := r.table(ref, region)
	if err != nil {
		return 0, err
	}
	return t.count(), nil
}

// Query returns every record of ref whose interval intersects q, sorted by
// start. Records with equal starts come back in no particular order. An
// unknown reference yields no records.
func (r *Reader) Query(ctx context.Context, ref string, q genomics.Range) ([]record.Record, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	region, ok := r.file.Region(ref)
	if !ok {
		return nil, nil
	}
	t, err := r.table(ref, region)
	if err != nil {
		return nil, err
	}
	r.opts.Metrics.queried()

	qr := &query{r: r, t: t, ref: ref, q: q}
	for _, root := range t.roots {
		if err := qr.visit(ctx, root); err != nil {
			return nil, errors.Wrapf(err, "query %s:%s", ref, q)
		}
	}
	sort.SliceStable(qr.out, func(i, j int) bool {
		return qr.out[i].Interval.Start < qr.out[j].Interval.Start
	})
	r.opts.Metrics.returned(len(qr.out))
	return qr.out, nil
}

type query struct {
	r   *Reader
	t   *nodeTable
	ref string
	q   genomics.Range
	out []record.Record
}

// visit collects matches from node i and its subtree. A subtree is skipped
// when it is empty or its covering bound misses the query; a node's own
// block is read only when its span meets the query.
func (qr *query) visit(ctx context.Context, i int) error {
	n := qr.t.nodes[i]
	if n.SubtreeSize == 0 || !qr.t.bounds[i].Intersects(qr.q) {
		return nil
	}
	if n.Size > 0 && n.Span.Intersects(qr.q) {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := qr.readBlock(n); err != nil {
			return err
		}
	}
	for _, c := range qr.t.children[i] {
		if err := qr.visit(ctx, c); err != nil {
			return err
		}
	}
	return nil
}

func (qr *query) readBlock(n storage.NodeRecord) error {
	sec, err := qr.r.file.Section(qr.ref, qr.t.dataBase+n.DataOffset)
	if err != nil {
		return err
	}
	qr.r.opts.Metrics.nodeRead()
	br := bufio.NewReader(sec)
	for k := int32(0); k < n.Size; k++ {
		rec, err := qr.r.codec.Decode(br)
		if err != nil {
			if errors.Is(err, record.ErrUnexpectedEndOfData) {
				err = errors.Mark(err, storage.ErrCorruptIndex)
			}
			return errors.Wrapf(err, "node %d record %d", n.ID, k)
		}
		if rec.Interval.Intersects(qr.q) {
			qr.out = append(qr.out, rec)
		}
	}
	return nil
}

// Schema returns the record schema shared by every record in the file.
func (r *Reader) Schema() record.Schema {
	return r.codec.Schema()
}

// FileType returns the kind of records stored in the file.
func (r *Reader) FileType() storage.FileType {
	return r.file.Header().Type
}

// Regions returns the reference table in reference name order.
func (r *Reader) Regions() []storage.Region {
	return r.file.Regions()
}
