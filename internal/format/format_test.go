package format

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inodb/genomeidx/internal/builder"
	"github.com/inodb/genomeidx/internal/genomics"
	"github.com/inodb/genomeidx/internal/input"
	"github.com/inodb/genomeidx/internal/reader"
	"github.com/inodb/genomeidx/internal/storage"
)

var genericHeader = storage.Header{
	Type:    storage.TypeIntervalGeneric,
	Version: storage.CurrentVersion,
	Schema:  input.FormatGeneric.Schema(),
}

func newFS(t *testing.T) afero.Fs {
	t.Helper()
	fs := afero.NewMemMapFs()
	require.NoError(t, fs.MkdirAll("/out", 0755))
	return fs
}

func parser(t *testing.T, text string) input.Parser {
	t.Helper()
	p, err := input.NewParser(strings.NewReader(text), input.FormatGeneric)
	require.NoError(t, err)
	return p
}

func dirNames(t *testing.T, fs afero.Fs, dir string) []string {
	t.Helper()
	infos, err := afero.ReadDir(fs, dir)
	require.NoError(t, err)
	var names []string
	for _, fi := range infos {
		names = append(names, fi.Name())
	}
	sort.Strings(names)
	return names
}

const sample = "chr2\t100\t200\tb1\n" +
	"chr2\t150\t160\tb2\n" +
	"chr10\t5\t9\tc1\n" +
	"chr1\t1\t10\ta1\n" +
	"chr1\t5\t15\ta2\n" +
	"chr1\t20\t25\ta3\n"

func TestFormat_ReadBack(t *testing.T) {
	fs := newFS(t)
	res, err := New(fs, Options{}).Format(context.Background(), parser(t, sample), genericHeader, "/out/s.gidx")
	require.NoError(t, err)

	assert.Equal(t, int64(6), res.Records)
	require.Len(t, res.References, 3)
	assert.Equal(t, "chr1", res.References[0].Name)
	assert.Equal(t, genomics.Range{Start: 1, End: 25}, res.References[0].Span)
	assert.Equal(t, []string{"s.gidx"}, dirNames(t, fs, "/out"), "no temporary files left")

	r, err := reader.Open(fs, "/out/s.gidx", reader.Options{})
	require.NoError(t, err)
	defer r.Close()
	assert.Equal(t, []string{"chr1", "chr2", "chr10"}, r.References())
	assert.Equal(t, storage.TypeIntervalGeneric, r.FileType())

	recs, err := r.Query(context.Background(), "chr1", genomics.Range{Start: 12, End: 12})
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "a2", recs[0].Values[2])

	n, err := r.Count("chr2")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

func TestFormat_ByteIdenticalRebuilds(t *testing.T) {
	var text strings.Builder
	for ref := 1; ref <= 3; ref++ {
		for i := range 400 {
			s := 1 + i*53
			fmt.Fprintf(&text, "chr%d\t%d\t%d\tf%d\n", ref, s, s+i%700, i)
		}
	}
	fs := newFS(t)
	f := New(fs, Options{MinBinWidth: 64})
	_, err := f.Format(context.Background(), parser(t, text.String()), genericHeader, "/out/a.gidx")
	require.NoError(t, err)
	_, err = f.Format(context.Background(), parser(t, text.String()), genericHeader, "/out/b.gidx")
	require.NoError(t, err)

	a, err := afero.ReadFile(fs, "/out/a.gidx")
	require.NoError(t, err)
	b, err := afero.ReadFile(fs, "/out/b.gidx")
	require.NoError(t, err)
	assert.Equal(t, a, b)

	// Rebuilding over an existing file replaces it.
	_, err = f.Format(context.Background(), parser(t, "chr1\t1\t2\tx\n"), genericHeader, "/out/a.gidx")
	require.NoError(t, err)
	a2, err := afero.ReadFile(fs, "/out/a.gidx")
	require.NoError(t, err)
	assert.Less(t, len(a2), len(a))
}

func TestFormat_Unsorted(t *testing.T) {
	fs := newFS(t)
	text := "chr1\t10\t20\n" + "chr2\t1\t2\n" + "chr1\t5\t6\n"
	_, err := New(fs, Options{}).Format(context.Background(), parser(t, text), genericHeader, "/out/u.gidx")
	require.Error(t, err)
	assert.True(t, errors.Is(err, builder.ErrUnsorted))
	assert.Empty(t, dirNames(t, fs, "/out"))
}

func TestFormat_ParseErrorAborts(t *testing.T) {
	fs := newFS(t)
	_, err := New(fs, Options{}).Format(context.Background(), parser(t, "chr1\t1\t2\nchr1\tx\t3\n"), genericHeader, "/out/p.gidx")
	var pe *input.ParseError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, 2, pe.Line)
	assert.Empty(t, dirNames(t, fs, "/out"))
}

// cancelAfter cancels its context once n features have been read.
type cancelAfter struct {
	src    Source
	n      int
	cancel context.CancelFunc
}

func (c *cancelAfter) Next() (*input.Feature, error) {
	if c.n == 0 {
		c.cancel()
	}
	c.n--
	return c.src.Next()
}

func TestFormat_Cancelled(t *testing.T) {
	var text strings.Builder
	for i := range 3000 {
		fmt.Fprintf(&text, "chr1\t%d\t%d\n", i+1, i+10)
	}

	t.Run("before start", func(t *testing.T) {
		fs := newFS(t)
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := New(fs, Options{}).Format(ctx, parser(t, text.String()), genericHeader, "/out/c.gidx")
		assert.True(t, errors.Is(err, builder.ErrCancelled))
		assert.True(t, errors.Is(err, context.Canceled))
		assert.Empty(t, dirNames(t, fs, "/out"))
	})

	t.Run("while spooling", func(t *testing.T) {
		fs := newFS(t)
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		src := &cancelAfter{src: parser(t, text.String()), n: 1200, cancel: cancel}
		_, err := New(fs, Options{CheckInterval: 100}).Format(ctx, src, genericHeader, "/out/c.gidx")
		assert.True(t, errors.Is(err, builder.ErrCancelled))
		assert.Empty(t, dirNames(t, fs, "/out"))
	})
}

func TestFormat_Empty(t *testing.T) {
	fs := newFS(t)
	res, err := New(fs, Options{}).Format(context.Background(), parser(t, "# nothing\n"), genericHeader, "/out/e.gidx")
	require.NoError(t, err)
	assert.Zero(t, res.Records)

	r, err := reader.Open(fs, "/out/e.gidx", reader.Options{})
	require.NoError(t, err)
	defer r.Close()
	assert.Empty(t, r.References())
}

func TestFormatFile_BED(t *testing.T) {
	fs := newFS(t)
	bed := "track name=x\n" +
		"chr1\t0\t100\tg1\t0\t+\n" +
		"chr1\t50\t60\tg2\t0\t-\n"
	require.NoError(t, afero.WriteFile(fs, "/in/genes.bed", []byte(bed), 0644))

	m := builder.NewMetrics(nil)
	res, err := New(fs, Options{TmpDir: "/out", Metrics: m}).FormatFile(context.Background(), "/in/genes.bed", input.FormatBED, "/in/genes.gidx")
	require.NoError(t, err)
	assert.Equal(t, storage.TypeIntervalBED, res.Header.Type)
	assert.Equal(t, 2.0, testutil.ToFloat64(m.Records))
	assert.Empty(t, dirNames(t, fs, "/out"), "temporary files live in TmpDir and are removed")

	r, err := reader.Open(fs, "/in/genes.gidx", reader.Options{})
	require.NoError(t, err)
	defer r.Close()
	recs, err := r.Query(context.Background(), "chr1", genomics.Range{Start: 1, End: 1})
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "g1", recs[0].Values[2])
	assert.Equal(t, genomics.Range{Start: 1, End: 100}, recs[0].Interval)
}

// openCounter tracks how many files are open at once.
type openCounter struct {
	afero.Fs
	open, peak int
}

func (c *openCounter) track(f afero.File, err error) (afero.File, error) {
	if err != nil {
		return nil, err
	}
	c.open++
	if c.open > c.peak {
		c.peak = c.open
	}
	return &countedFile{File: f, c: c}, nil
}

func (c *openCounter) Open(name string) (afero.File, error) {
	return c.track(c.Fs.Open(name))
}

func (c *openCounter) OpenFile(name string, flag int, perm os.FileMode) (afero.File, error) {
	return c.track(c.Fs.OpenFile(name, flag, perm))
}

func (c *openCounter) Create(name string) (afero.File, error) {
	return c.track(c.Fs.Create(name))
}

type countedFile struct {
	afero.File
	c      *openCounter
	closed bool
}

func (f *countedFile) Close() error {
	if !f.closed {
		f.closed = true
		f.c.open--
	}
	return f.File.Close()
}

func TestFormat_ManyReferencesKeepFewFilesOpen(t *testing.T) {
	const refs = 400
	var text strings.Builder
	// Two passes over every reference, so each spool is reopened.
	for pass := range 2 {
		for ref := range refs {
			s := 1 + pass*1000
			fmt.Fprintf(&text, "scaffold%d\t%d\t%d\tf%d_%d\n", ref, s, s+10, ref, pass)
		}
	}

	fs := &openCounter{Fs: newFS(t)}
	res, err := New(fs, Options{}).Format(context.Background(), parser(t, text.String()), genericHeader, "/out/m.gidx")
	require.NoError(t, err)
	assert.Equal(t, int64(2*refs), res.Records)
	assert.LessOrEqual(t, fs.peak, 4, "open files must not grow with the number of references")
	assert.Zero(t, fs.open)
	assert.Equal(t, []string{"m.gidx"}, dirNames(t, fs, "/out"))

	r, err := reader.Open(fs, "/out/m.gidx", reader.Options{})
	require.NoError(t, err)
	defer r.Close()
	assert.Len(t, r.References(), refs)
	for _, ref := range []string{"scaffold0", "scaffold199", "scaffold399"} {
		recs, err := r.Query(context.Background(), ref, genomics.Range{Start: 1, End: 2000})
		require.NoError(t, err)
		require.Len(t, recs, 2, ref)
		assert.Equal(t, int32(1), recs[0].Interval.Start)
		assert.Equal(t, int32(1001), recs[1].Interval.Start)
	}
}

// featureList replays fixed features.
type featureList []*input.Feature

func (l *featureList) Next() (*input.Feature, error) {
	if len(*l) == 0 {
		return nil, nil
	}
	f := (*l)[0]
	*l = (*l)[1:]
	return f, nil
}

func TestFormat_RangeMustMatchIntervalField(t *testing.T) {
	fs := newFS(t)
	src := &featureList{{
		Ref:    "chr1",
		Range:  genomics.Range{Start: 1, End: 10},
		Values: []any{"chr1", genomics.Range{Start: 40, End: 50}, "shifted"},
	}}
	_, err := New(fs, Options{}).Format(context.Background(), src, genericHeader, "/out/r.gidx")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "differs from interval field")
	assert.Empty(t, dirNames(t, fs, "/out"))
}
