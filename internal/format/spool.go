package format

import (
	"bufio"
	"encoding/binary"
	"io"
	"os"

	"github.com/cockroachdb/errors"
	"github.com/spf13/afero"

	"github.com/inodb/genomeidx/internal/builder"
	"github.com/inodb/genomeidx/internal/genomics"
)

// spool holds one reference's encoded entries on disk until its root span
// is known. Its file is open only while the spool is active; park closes it
// and the next add reopens it for appending.
type spool struct {
	fs        afero.Fs
	ref       string
	path      string
	file      afero.File
	w         *bufio.Writer
	created   bool
	span      genomics.Range
	count     int64
	lastStart int32
}

func newSpool(fs afero.Fs, ref, path string) *spool {
	return &spool{fs: fs, ref: ref, path: path}
}

func (s *spool) open() error {
	if s.file != nil {
		return nil
	}
	flag := os.O_WRONLY | os.O_APPEND
	if !s.created {
		flag = os.O_WRONLY | os.O_CREATE | os.O_EXCL
	}
	f, err := s.fs.OpenFile(s.path, flag, 0600)
	if err != nil {
		return errors.Wrapf(err, "open spool for %q", s.ref)
	}
	s.created = true
	s.file = f
	if s.w == nil {
		s.w = bufio.NewWriter(f)
	} else {
		s.w.Reset(f)
	}
	return nil
}

// park flushes pending entries and closes the spool file.
func (s *spool) park() error {
	if s.file == nil {
		return nil
	}
	f := s.file
	s.file = nil
	if err := s.w.Flush(); err != nil {
		f.Close()
		return errors.Wrapf(err, "flush spool %q", s.ref)
	}
	if err := f.Close(); err != nil {
		return errors.Wrapf(err, "close spool %q", s.ref)
	}
	return nil
}

// add appends an entry. Entries of one reference must arrive sorted by start.
func (s *spool) add(e builder.Entry) error {
	if s.count == 0 {
		s.span = e.Range
	} else {
		if e.Range.Start < s.lastStart {
			return errors.Wrapf(builder.ErrUnsorted, "reference %q: start %d after %d", s.ref, e.Range.Start, s.lastStart)
		}
		s.span = s.span.Union(e.Range)
	}
	if err := s.open(); err != nil {
		return err
	}
	s.lastStart = e.Range.Start
	s.count++

	var hdr [12]byte
	binary.BigEndian.PutUint32(hdr[0:], uint32(e.Range.Start))
	binary.BigEndian.PutUint32(hdr[4:], uint32(e.Range.End))
	binary.BigEndian.PutUint32(hdr[8:], uint32(len(e.Data)))
	if _, err := s.w.Write(hdr[:]); err != nil {
		return errors.Wrapf(err, "spool %q", s.ref)
	}
	if _, err := s.w.Write(e.Data); err != nil {
		return errors.Wrapf(err, "spool %q", s.ref)
	}
	return nil
}

// replay parks the spool and opens its file for reading. The caller closes
// the returned source.
func (s *spool) replay() (*spoolSource, error) {
	if err := s.park(); err != nil {
		return nil, err
	}
	f, err := s.fs.Open(s.path)
	if err != nil {
		return nil, errors.Wrapf(err, "reopen spool %q", s.ref)
	}
	return &spoolSource{file: f, r: bufio.NewReader(f), remaining: s.count}, nil
}

type spoolSource struct {
	file      afero.File
	r         *bufio.Reader
	remaining int64
	entry     builder.Entry
}

func (s *spoolSource) Close() error {
	return s.file.Close()
}

// Next implements builder.Source.
func (s *spoolSource) Next() (*builder.Entry, error) {
	if s.remaining == 0 {
		return nil, nil
	}
	var hdr [12]byte
	if _, err := io.ReadFull(s.r, hdr[:]); err != nil {
		return nil, errors.Wrap(err, "read spooled entry")
	}
	data := make([]byte, binary.BigEndian.Uint32(hdr[8:]))
	if _, err := io.ReadFull(s.r, data); err != nil {
		return nil, errors.Wrap(err, "read spooled entry")
	}
	s.remaining--
	s.entry = builder.Entry{
		Range: genomics.Range{
			Start: int32(binary.BigEndian.Uint32(hdr[0:])),
			End:   int32(binary.BigEndian.Uint32(hdr[4:])),
		},
		Data: data,
	}
	return &s.entry, nil
}
