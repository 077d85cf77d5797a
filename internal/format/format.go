// Package format turns a stream of parsed features into an interval index
// file. Features are spooled per reference, each reference is built with
// the streaming builder, and the finished file is moved into place only
// once complete.
package format

import (
	"bufio"
	"context"
	"io"
	"os"
	"path/filepath"
	"strconv"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/spf13/afero"
	"go.uber.org/zap"

	"github.com/inodb/genomeidx/internal/builder"
	"github.com/inodb/genomeidx/internal/genomics"
	"github.com/inodb/genomeidx/internal/input"
	"github.com/inodb/genomeidx/internal/record"
	"github.com/inodb/genomeidx/internal/storage"
)

// Source yields features. Next returns nil, nil when there are no more.
// input.Parser implements Source.
type Source interface {
	Next() (*input.Feature, error)
}

// Options configures a Formatter.
type Options struct {
	MinBinWidth   int32
	CheckInterval int
	// TmpDir holds spool and build files. Defaults to the output's directory.
	TmpDir  string
	Logger  *zap.Logger
	Metrics *builder.Metrics
}

// Formatter writes index files.
type Formatter struct {
	fs   afero.Fs
	opts Options
}

// New returns a Formatter writing through fs.
func New(fs afero.Fs, opts Options) *Formatter {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.CheckInterval <= 0 {
		opts.CheckInterval = builder.DefaultCheckInterval
	}
	return &Formatter{fs: fs, opts: opts}
}

// ReferenceStats describes one reference written to an index.
type ReferenceStats struct {
	Name string
	Span genomics.Range
	builder.Stats
}

// Result describes a finished index file.
type Result struct {
	Path       string
	Header     storage.Header
	References []ReferenceStats
	Records    int64
}

// FormatFile parses the input file at in and writes its index to out.
func (f *Formatter) FormatFile(ctx context.Context, in string, ft input.Format, out string) (*Result, error) {
	p, err := input.Open(f.fs, in, ft)
	if err != nil {
		return nil, err
	}
	defer p.Close()
	return f.Format(ctx, p, storage.Header{Type: ft.FileType(), Version: storage.CurrentVersion, Schema: ft.Schema()}, out)
}

// Format reads every feature from src and writes an index with header h to
// out. Features of one reference must be sorted by start; references may
// come in any order. On error or cancellation out is left untouched and all
// temporary files are removed.
func (f *Formatter) Format(ctx context.Context, src Source, h storage.Header, out string) (*Result, error) {
	codec, err := record.NewCodec(h.Schema, nil)
	if err != nil {
		return nil, err
	}
	if h.Version == 0 {
		h.Version = storage.CurrentVersion
	}

	dir := f.opts.TmpDir
	if dir == "" {
		dir = filepath.Dir(out)
	}
	job := &job{f: f, dir: dir, id: uuid.NewString(), spools: map[string]*spool{}}
	defer job.cleanup()

	if err := job.spoolAll(ctx, src, codec); err != nil {
		return nil, err
	}
	sections, res, err := job.buildAll(ctx)
	if err != nil {
		return nil, err
	}

	tmpOut := job.tempPath("gidx")
	if err := job.assemble(tmpOut, h, sections); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, errors.Mark(errors.Wrap(err, "before rename"), builder.ErrCancelled)
	}
	if err := f.fs.Rename(tmpOut, out); err != nil {
		return nil, errors.Wrapf(err, "move index into place at %s", out)
	}

	res.Path = out
	res.Header = h
	f.opts.Logger.Info("index written",
		zap.String("path", out),
		zap.Int("references", len(res.References)),
		zap.Int64("records", res.Records))
	return res, nil
}

// job tracks the temporary files of one Format call. At most one spool is
// open at a time, so the number of open files does not grow with the
// number of references.
type job struct {
	f      *Formatter
	dir    string
	id     string
	n      int
	temps  []string
	spools map[string]*spool
	order  []string
	active *spool
}

func (j *job) tempPath(kind string) string {
	j.n++
	p := filepath.Join(j.dir, ".genomeidx-"+j.id+"-"+strconv.Itoa(j.n)+"."+kind)
	j.temps = append(j.temps, p)
	return p
}

func (j *job) cleanup() {
	if j.active != nil {
		j.active.park()
	}
	for _, p := range j.temps {
		if err := j.f.fs.Remove(p); err != nil && !os.IsNotExist(err) {
			j.f.opts.Logger.Warn("failed to remove temporary file", zap.String("path", p), zap.Error(err))
		}
	}
}

// spoolFor returns the spool of ref, parking the previously active one.
func (j *job) spoolFor(ref string) (*spool, error) {
	if j.active != nil && j.active.ref == ref {
		return j.active, nil
	}
	if j.active != nil {
		if err := j.active.park(); err != nil {
			return nil, err
		}
		j.active = nil
	}
	s, ok := j.spools[ref]
	if !ok {
		s = newSpool(j.f.fs, ref, j.tempPath("spool"))
		j.spools[ref] = s
		j.order = append(j.order, ref)
	}
	j.active = s
	return s, nil
}

func (j *job) spoolAll(ctx context.Context, src Source, codec *record.Codec) error {
	field := codec.Schema().IntervalField()
	for n := 0; ; n++ {
		if n%j.f.opts.CheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				return errors.Mark(errors.Wrapf(err, "after %d features", n), builder.ErrCancelled)
			}
		}
		feat, err := src.Next()
		if err != nil {
			return err
		}
		if feat == nil {
			if j.active != nil {
				return j.active.park()
			}
			return nil
		}
		if err := feat.Range.Validate(); err != nil {
			return errors.Wrapf(err, "feature %d on %q", n+1, feat.Ref)
		}
		data, err := codec.Marshal(feat.Values)
		if err != nil {
			return errors.Wrapf(err, "encode feature %d on %q", n+1, feat.Ref)
		}
		// Entries are placed by Range but read back by the interval field.
		if v, _ := feat.Values[field].(genomics.Range); v != feat.Range {
			return errors.Newf("feature %d on %q: range %s differs from interval field %s", n+1, feat.Ref, feat.Range, v)
		}

		s, err := j.spoolFor(feat.Ref)
		if err != nil {
			return err
		}
		if err := s.add(builder.Entry{Range: feat.Range, Data: data}); err != nil {
			return err
		}
	}
}

// buildAll builds every spooled reference into its own section file. No
// file stays open between references.
func (j *job) buildAll(ctx context.Context) ([]storage.Section, *Result, error) {
	refs := append([]string(nil), j.order...)
	genomics.SortReferences(refs)

	var sections []storage.Section
	res := &Result{}
	for _, ref := range refs {
		s := j.spools[ref]
		sec, stats, err := j.buildReference(ctx, s)
		if err != nil {
			return nil, nil, err
		}
		sections = append(sections, sec)
		res.References = append(res.References, ReferenceStats{Name: ref, Span: s.span, Stats: stats})
		res.Records += stats.Records
		j.f.opts.Logger.Debug("built reference",
			zap.String("ref", ref),
			zap.Stringer("span", s.span),
			zap.Int64("records", stats.Records),
			zap.Int64("nodes", stats.Nodes))
	}
	return sections, res, nil
}

// buildReference writes the node table of s followed by its data block into
// one section file. The data block is built in a scratch file and appended.
func (j *job) buildReference(ctx context.Context, s *spool) (storage.Section, builder.Stats, error) {
	src, err := s.replay()
	if err != nil {
		return storage.Section{}, builder.Stats{}, err
	}
	defer src.Close()

	section, path, err := j.create("section")
	if err != nil {
		return storage.Section{}, builder.Stats{}, err
	}
	defer section.Close()
	data, dataPath, err := j.create("data")
	if err != nil {
		return storage.Section{}, builder.Stats{}, err
	}
	defer data.Close()

	stats, err := builder.Build(ctx, section, data, s.span, src, builder.Options{
		MinBinWidth:   j.f.opts.MinBinWidth,
		CheckInterval: j.f.opts.CheckInterval,
		Logger:        j.f.opts.Logger.With(zap.String("ref", s.ref)),
		Metrics:       j.f.opts.Metrics,
	})
	if err != nil {
		return storage.Section{}, builder.Stats{}, errors.Wrapf(err, "build reference %q", s.ref)
	}
	if _, err := data.Seek(0, io.SeekStart); err != nil {
		return storage.Section{}, builder.Stats{}, errors.Wrap(err, "rewind data block")
	}
	if _, err := io.Copy(section, data); err != nil {
		return storage.Section{}, builder.Stats{}, errors.Wrapf(err, "append data block of %q", s.ref)
	}
	if err := section.Close(); err != nil {
		return storage.Section{}, builder.Stats{}, errors.Wrapf(err, "close section of %q", s.ref)
	}
	data.Close()
	if err := j.f.fs.Remove(dataPath); err != nil {
		j.f.opts.Logger.Debug("failed to remove data block", zap.String("path", dataPath), zap.Error(err))
	}

	size := stats.IndexBytes + stats.DataBytes
	return storage.Section{
		Name:    s.ref,
		Length:  size,
		Content: &sectionFile{fs: j.f.fs, path: path, size: size},
	}, stats, nil
}

func (j *job) create(kind string) (afero.File, string, error) {
	path := j.tempPath(kind)
	f, err := j.f.fs.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0600)
	if err != nil {
		return nil, "", errors.Wrapf(err, "create %s file", kind)
	}
	return f, path, nil
}

func (j *job) assemble(path string, h storage.Header, sections []storage.Section) error {
	defer closeSections(sections)

	out, err := j.f.fs.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return errors.Wrap(err, "create index file")
	}
	w := bufio.NewWriter(out)
	if _, err := storage.Assemble(w, h, sections); err != nil {
		out.Close()
		return errors.Wrap(err, "assemble index file")
	}
	if err := w.Flush(); err != nil {
		out.Close()
		return errors.Wrap(err, "write index file")
	}
	if err := out.Sync(); err != nil {
		out.Close()
		return errors.Wrap(err, "sync index file")
	}
	return out.Close()
}

func closeSections(sections []storage.Section) {
	for _, s := range sections {
		if c, ok := s.Content.(*sectionFile); ok {
			c.Close()
		}
	}
}

// sectionFile reads a built section back. The file is opened on the first
// Read and closed as soon as size bytes have been read.
type sectionFile struct {
	fs   afero.Fs
	path string
	size int64
	read int64
	f    afero.File
	done bool
}

func (s *sectionFile) Read(p []byte) (int, error) {
	if s.done {
		return 0, io.EOF
	}
	if s.f == nil {
		f, err := s.fs.Open(s.path)
		if err != nil {
			s.done = true
			return 0, errors.Wrap(err, "reopen section")
		}
		s.f = f
	}
	if rem := s.size - s.read; int64(len(p)) > rem {
		p = p[:rem]
	}
	n, err := s.f.Read(p)
	s.read += int64(n)
	if s.read >= s.size {
		s.Close()
		if err == nil || err == io.EOF {
			return n, nil
		}
	} else if err != nil {
		s.Close()
	}
	return n, err
}

// Close releases the file if it is still open.
func (s *sectionFile) Close() {
	s.done = true
	if s.f != nil {
		s.f.Close()
		s.f = nil
	}
}
