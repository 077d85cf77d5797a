package input

import (
	"strings"

	"github.com/inodb/genomeidx/internal/genomics"
)

// genericParser reads "chrom start end [description]" lines with 1-based
// closed coordinates.
type genericParser struct {
	*lineReader
}

// Next reads the next interval.
// Returns nil, nil when there are no more intervals.
func (p *genericParser) Next() (*Feature, error) {
	line, ok, err := p.nextDataLine()
	if err != nil || !ok {
		return nil, err
	}

	var cols []string
	if strings.Contains(line, "\t") {
		cols = strings.SplitN(line, "\t", 4)
	} else {
		cols = strings.Fields(line)
		if len(cols) > 4 {
			cols = append(cols[:3], strings.Join(cols[3:], " "))
		}
	}
	if len(cols) < 3 {
		return nil, p.errorf("expected at least 3 columns, found %d", len(cols))
	}

	start, err := parseCoord(cols[1])
	if err != nil {
		return nil, p.errorf("invalid start: %s", cols[1])
	}
	end, err := parseCoord(cols[2])
	if err != nil {
		return nil, p.errorf("invalid end: %s", cols[2])
	}
	rng, err := genomics.NewRange(start, end)
	if err != nil {
		return nil, p.errorf("%v", err)
	}

	desc := ""
	if len(cols) > 3 {
		desc = cols[3]
	}
	return &Feature{
		Ref:    cols[0],
		Range:  rng,
		Values: []any{cols[0], rng, desc},
	}, nil
}
