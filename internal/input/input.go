// Package input parses text interval files (BED, generic interval and VCF)
// into typed records ready for indexing.
package input

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/spf13/afero"

	"github.com/inodb/genomeidx/internal/genomics"
	"github.com/inodb/genomeidx/internal/record"
	"github.com/inodb/genomeidx/internal/storage"
)

// Format is a supported input file format.
type Format int

// Input formats.
const (
	FormatGeneric Format = iota
	FormatBED
	FormatVCF
)

func (f Format) String() string {
	switch f {
	case FormatGeneric:
		return "generic"
	case FormatBED:
		return "bed"
	case FormatVCF:
		return "vcf"
	}
	return fmt.Sprintf("Format(%d)", int(f))
}

// ParseFormat parses a format name as given on the command line.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(s) {
	case "generic", "interval", "txt":
		return FormatGeneric, nil
	case "bed":
		return FormatBED, nil
	case "vcf":
		return FormatVCF, nil
	}
	return 0, fmt.Errorf("unknown input format %q (want bed, generic or vcf)", s)
}

// DetectFormat guesses the format from a file name, ignoring a .gz suffix.
// Unrecognized extensions are treated as generic interval files.
func DetectFormat(path string) Format {
	name := strings.ToLower(filepath.Base(path))
	name = strings.TrimSuffix(name, ".gz")
	switch filepath.Ext(name) {
	case ".bed":
		return FormatBED
	case ".vcf":
		return FormatVCF
	}
	return FormatGeneric
}

var bedSchema = record.Schema{
	record.FieldString,  // chrom
	record.FieldRange,   // [chromStart+1, chromEnd]
	record.FieldString,  // name
	record.FieldFloat,   // score
	record.FieldChar,    // strand
	record.FieldInteger, // thickStart
	record.FieldInteger, // thickEnd
	record.FieldItemRGB, // itemRgb
	record.FieldBlocks,  // exons
}

var genericSchema = record.Schema{
	record.FieldString,
	record.FieldRange,
	record.FieldString,
}

var vcfSchema = record.Schema{
	record.FieldString, // chrom
	record.FieldRange,  // [pos, pos+len(ref)-1]
	record.FieldString, // id
	record.FieldString, // ref
	record.FieldString, // alt
	record.FieldFloat,  // qual
	record.FieldString, // filter
	record.FieldString, // info
}

// Schema returns the record schema of features parsed in format f.
func (f Format) Schema() record.Schema {
	switch f {
	case FormatBED:
		return bedSchema
	case FormatVCF:
		return vcfSchema
	}
	return genericSchema
}

// FileType returns the index file type for format f.
func (f Format) FileType() storage.FileType {
	switch f {
	case FormatBED:
		return storage.TypeIntervalBED
	case FormatVCF:
		return storage.TypeIntervalVCF
	}
	return storage.TypeIntervalGeneric
}

// Feature is one parsed input line. Values holds one value per field of the
// format's schema; Range is the value of its RANGE field.
type Feature struct {
	Ref    string
	Range  genomics.Range
	Values []any
}

// Parser reads features from an input file.
type Parser interface {
	// Next reads the next feature.
	// Returns nil, nil when there are no more features.
	Next() (*Feature, error)

	// Close closes the parser and releases resources.
	Close() error

	// LineNumber returns the current line number being processed.
	LineNumber() int
}

// ParseError represents an error during input parsing with line context.
type ParseError struct {
	Format  Format
	Line    int
	Message string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("%s parse error at line %d: %s", e.Format, e.Line, e.Message)
}

// Open opens path on fs and returns a parser for format f. Gzipped files
// are detected by their magic bytes. A path of "-" reads standard input.
func Open(fs afero.Fs, path string, f Format) (Parser, error) {
	var file io.ReadCloser
	if path == "-" {
		file = io.NopCloser(os.Stdin)
	} else {
		af, err := fs.Open(path)
		if err != nil {
			return nil, fmt.Errorf("open input file: %w", err)
		}
		file = af
	}

	lr, err := newLineReader(file, f)
	if err != nil {
		file.Close()
		return nil, err
	}
	p, err := newParser(lr, f)
	if err != nil {
		lr.Close()
		return nil, err
	}
	return p, nil
}

// NewParser creates a parser for format f from an io.Reader (e.g., stdin).
// Gzipped content is decompressed transparently.
func NewParser(r io.Reader, f Format) (Parser, error) {
	lr, err := newLineReader(io.NopCloser(r), f)
	if err != nil {
		return nil, err
	}
	return newParser(lr, f)
}

func newParser(lr *lineReader, f Format) (Parser, error) {
	switch f {
	case FormatBED:
		return &bedParser{lineReader: lr}, nil
	case FormatVCF:
		p, err := newVCFParser(lr)
		if err != nil {
			return nil, err
		}
		return p, nil
	case FormatGeneric:
		return &genericParser{lineReader: lr}, nil
	}
	return nil, fmt.Errorf("unsupported input format %s", f)
}

// lineReader hands out data lines, counting every physical line read.
type lineReader struct {
	reader     *bufio.Reader
	file       io.Closer
	gzipReader *gzip.Reader
	format     Format
	lineNumber int
}

func newLineReader(file io.ReadCloser, f Format) (*lineReader, error) {
	lr := &lineReader{file: file, format: f}
	br := bufio.NewReader(file)

	// Check for gzip magic number (0x1f, 0x8b)
	magic, err := br.Peek(2)
	if err == nil && magic[0] == 0x1f && magic[1] == 0x8b {
		lr.gzipReader, err = gzip.NewReader(br)
		if err != nil {
			return nil, fmt.Errorf("create gzip reader: %w", err)
		}
		lr.reader = bufio.NewReader(lr.gzipReader)
	} else {
		lr.reader = br
	}
	return lr, nil
}

// readLine returns the next line without its line terminator. ok is false
// at end of input.
func (lr *lineReader) readLine() (line string, ok bool, err error) {
	line, err = lr.reader.ReadString('\n')
	if err != nil {
		if err == io.EOF {
			if line == "" {
				return "", false, nil
			}
		} else {
			return "", false, fmt.Errorf("read %s line: %w", lr.format, err)
		}
	}
	lr.lineNumber++
	return strings.TrimRight(line, "\r\n"), true, nil
}

// nextDataLine skips blank, comment, track and browser lines.
func (lr *lineReader) nextDataLine() (string, bool, error) {
	for {
		line, ok, err := lr.readLine()
		if err != nil || !ok {
			return "", ok, err
		}
		if isSkippable(line) {
			continue
		}
		return line, true, nil
	}
}

func isSkippable(line string) bool {
	trimmed := strings.TrimSpace(line)
	return trimmed == "" ||
		strings.HasPrefix(trimmed, "#") ||
		strings.HasPrefix(trimmed, "track") ||
		strings.HasPrefix(trimmed, "browser")
}

func (lr *lineReader) errorf(format string, args ...any) *ParseError {
	return &ParseError{Format: lr.format, Line: lr.lineNumber, Message: fmt.Sprintf(format, args...)}
}

// LineNumber returns the current line number being processed.
func (lr *lineReader) LineNumber() int {
	return lr.lineNumber
}

// Close closes the parser and underlying file.
func (lr *lineReader) Close() error {
	if lr.gzipReader != nil {
		lr.gzipReader.Close()
	}
	return lr.file.Close()
}

// splitColumns splits on tabs, falling back to runs of whitespace for
// space-delimited files.
func splitColumns(line string) []string {
	if strings.Contains(line, "\t") {
		return strings.Split(line, "\t")
	}
	return strings.Fields(line)
}
