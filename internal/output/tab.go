// Package output provides query result formatters.
package output

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/inodb/genomeidx/internal/genomics"
	"github.com/inodb/genomeidx/internal/record"
	"github.com/inodb/genomeidx/internal/storage"
)

var knownColumns = map[storage.FileType][]string{
	storage.TypeIntervalBED: {
		"#chrom", "start", "end", "name", "score", "strand",
		"thickStart", "thickEnd", "itemRgb", "blocks",
	},
	storage.TypeIntervalVCF: {
		"#CHROM", "start", "end", "ID", "REF", "ALT", "QUAL", "FILTER", "INFO",
	},
	storage.TypeIntervalGeneric: {
		"#chrom", "start", "end", "description",
	},
}

// Columns returns header names for records of schema stored in a file of
// type ft. Each RANGE field takes two columns. Unknown layouts are named
// after their field types.
func Columns(ft storage.FileType, schema record.Schema) []string {
	width := 0
	for _, t := range schema {
		width++
		if t == record.FieldRange {
			width++
		}
	}
	if cols, ok := knownColumns[ft]; ok && len(cols) == width {
		return cols
	}

	cols := make([]string, 0, width)
	for i, t := range schema {
		name := strings.ToLower(t.String()) + strconv.Itoa(i+1)
		if t == record.FieldRange {
			cols = append(cols, name+"_start", name+"_end")
			continue
		}
		cols = append(cols, name)
	}
	if len(cols) > 0 {
		cols[0] = "#" + cols[0]
	}
	return cols
}

// TabWriter writes records in tab-delimited format.
type TabWriter struct {
	w       *bufio.Writer
	columns []string
}

// NewTabWriter creates a new tab-delimited writer.
func NewTabWriter(w io.Writer, columns []string) *TabWriter {
	return &TabWriter{
		w:       bufio.NewWriter(w),
		columns: columns,
	}
}

// WriteHeader writes the header line.
func (tw *TabWriter) WriteHeader() error {
	_, err := tw.w.WriteString(strings.Join(tw.columns, "\t") + "\n")
	return err
}

// Write writes a single record.
func (tw *TabWriter) Write(rec record.Record) error {
	values := make([]string, 0, len(tw.columns))
	for _, v := range rec.Values {
		if r, ok := v.(genomics.Range); ok {
			values = append(values, strconv.Itoa(int(r.Start)), strconv.Itoa(int(r.End)))
			continue
		}
		values = append(values, FormatValue(v))
	}
	_, err := tw.w.WriteString(strings.Join(values, "\t") + "\n")
	return err
}

// Flush flushes any buffered data to the underlying writer.
func (tw *TabWriter) Flush() error {
	return tw.w.Flush()
}

// FormatValue renders one decoded field value. Empty values print as "-".
func FormatValue(v any) string {
	switch v := v.(type) {
	case nil:
		return "-"
	case string:
		if v == "" {
			return "-"
		}
		return v
	case byte:
		return string(rune(v))
	case int32:
		return strconv.FormatInt(int64(v), 10)
	case int64:
		return strconv.FormatInt(v, 10)
	case float32:
		return strconv.FormatFloat(float64(v), 'g', -1, 32)
	case float64:
		return strconv.FormatFloat(v, 'g', -1, 64)
	case genomics.Range:
		return v.String()
	case record.RGB:
		return fmt.Sprintf("%d,%d,%d", v.Red, v.Green, v.Blue)
	case []record.Block:
		if len(v) == 0 {
			return "-"
		}
		parts := make([]string, len(v))
		for i, b := range v {
			parts[i] = fmt.Sprintf("%d:%d", b.Position, b.Size)
		}
		return strings.Join(parts, ",")
	}
	return fmt.Sprint(v)
}
