package input

import (
	"strconv"
	"strings"

	"github.com/inodb/genomeidx/internal/genomics"
	"github.com/inodb/genomeidx/internal/record"
)

// bedParser reads BED3 to BED12 lines. BED coordinates are 0-based
// half-open; features are stored 1-based closed.
type bedParser struct {
	*lineReader
}

// Next reads the next BED feature.
// Returns nil, nil when there are no more features.
func (p *bedParser) Next() (*Feature, error) {
	line, ok, err := p.nextDataLine()
	if err != nil || !ok {
		return nil, err
	}
	return p.parseLine(line)
}

func (p *bedParser) parseLine(line string) (*Feature, error) {
	cols := splitColumns(line)
	if len(cols) < 3 {
		return nil, p.errorf("expected at least 3 columns, found %d", len(cols))
	}
	if len(cols) > 12 {
		cols = cols[:12]
	}

	start, err := parseCoord(cols[1])
	if err != nil {
		return nil, p.errorf("invalid start: %s", cols[1])
	}
	end, err := parseCoord(cols[2])
	if err != nil {
		return nil, p.errorf("invalid end: %s", cols[2])
	}
	if end < start {
		return nil, p.errorf("end %d before start %d", end, start)
	}
	// Zero-length features (insertion points) cover the base after start.
	rng := genomics.Range{Start: start + 1, End: max(end, start+1)}

	name := ""
	if len(cols) > 3 && cols[3] != "." {
		name = cols[3]
	}

	var score float32
	if len(cols) > 4 && cols[4] != "." {
		v, err := strconv.ParseFloat(cols[4], 32)
		if err != nil {
			return nil, p.errorf("invalid score: %s", cols[4])
		}
		score = float32(v)
	}

	strand := byte('.')
	if len(cols) > 5 {
		switch cols[5] {
		case "+", "-", ".":
			strand = cols[5][0]
		default:
			return nil, p.errorf("invalid strand: %s", cols[5])
		}
	}

	thickStart, thickEnd := rng.Start, rng.End
	if len(cols) > 6 {
		v, err := parseCoord(cols[6])
		if err != nil {
			return nil, p.errorf("invalid thickStart: %s", cols[6])
		}
		thickStart = v + 1
	}
	if len(cols) > 7 {
		if thickEnd, err = parseCoord(cols[7]); err != nil {
			return nil, p.errorf("invalid thickEnd: %s", cols[7])
		}
	}

	var rgb record.RGB
	if len(cols) > 8 {
		if rgb, err = parseRGB(cols[8]); err != nil {
			return nil, p.errorf("invalid itemRgb: %s", cols[8])
		}
	}

	var blocks []record.Block
	if len(cols) > 11 {
		if blocks, err = p.parseBlocks(start, cols[9], cols[10], cols[11]); err != nil {
			return nil, err
		}
	} else if len(cols) > 9 {
		return nil, p.errorf("blockCount without blockSizes and blockStarts")
	}

	return &Feature{
		Ref:    cols[0],
		Range:  rng,
		Values: []any{cols[0], rng, name, score, strand, thickStart, thickEnd, rgb, blocks},
	}, nil
}

// parseBlocks converts BED12 exon columns into absolute 1-based blocks.
func (p *bedParser) parseBlocks(chromStart int32, count, sizes, starts string) ([]record.Block, error) {
	n, err := strconv.Atoi(count)
	if err != nil || n < 0 {
		return nil, p.errorf("invalid blockCount: %s", count)
	}
	sizeList := splitList(sizes)
	startList := splitList(starts)
	if len(sizeList) != n || len(startList) != n {
		return nil, p.errorf("blockCount %d but %d sizes and %d starts", n, len(sizeList), len(startList))
	}
	blocks := make([]record.Block, n)
	for i := range blocks {
		size, err := parseCoord(sizeList[i])
		if err != nil {
			return nil, p.errorf("invalid block size: %s", sizeList[i])
		}
		rel, err := parseCoord(startList[i])
		if err != nil {
			return nil, p.errorf("invalid block start: %s", startList[i])
		}
		blocks[i] = record.Block{Position: chromStart + rel + 1, Size: size}
	}
	return blocks, nil
}

func parseRGB(s string) (record.RGB, error) {
	if s == "0" || s == "." {
		return record.RGB{}, nil
	}
	parts := strings.Split(s, ",")
	if len(parts) != 3 {
		return record.RGB{}, strconv.ErrSyntax
	}
	var c [3]int32
	for i, part := range parts {
		v, err := strconv.ParseInt(strings.TrimSpace(part), 10, 32)
		if err != nil || v < 0 || v > 255 {
			return record.RGB{}, strconv.ErrSyntax
		}
		c[i] = int32(v)
	}
	return record.RGB{Red: c[0], Green: c[1], Blue: c[2]}, nil
}

// splitList splits a comma-separated list, tolerating a trailing comma.
func splitList(s string) []string {
	s = strings.TrimSuffix(s, ",")
	if s == "" {
		return nil
	}
	return strings.Split(s, ",")
}

// parseCoord parses a non-negative int32 coordinate.
func parseCoord(s string) (int32, error) {
	v, err := strconv.ParseInt(s, 10, 32)
	if err != nil {
		return 0, err
	}
	if v < 0 {
		return 0, strconv.ErrRange
	}
	return int32(v), nil
}
