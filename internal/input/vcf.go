package input

import (
	"strconv"
	"strings"

	"github.com/inodb/genomeidx/internal/genomics"
)

// vcfParser reads VCF data lines. Each variant covers the reference bases it
// replaces.
type vcfParser struct {
	*lineReader
	header      []string
	sampleNames []string // sample names from #CHROM header line
}

func newVCFParser(lr *lineReader) (*vcfParser, error) {
	p := &vcfParser{lineReader: lr}
	if err := p.parseHeader(); err != nil {
		return nil, err
	}
	return p, nil
}

// parseHeader reads and stores VCF header lines.
func (p *vcfParser) parseHeader() error {
	for {
		line, ok, err := p.readLine()
		if err != nil {
			return err
		}
		if !ok {
			return p.errorf("no #CHROM header line found")
		}

		if strings.HasPrefix(line, "##") {
			p.header = append(p.header, line)
			continue
		}

		if strings.HasPrefix(line, "#CHROM") {
			p.header = append(p.header, line)
			// Extract sample names from columns after FORMAT (index 9+)
			fields := strings.Split(line, "\t")
			if len(fields) > 9 {
				p.sampleNames = fields[9:]
			}
			return nil
		}

		// Non-header line encountered without #CHROM
		return p.errorf("expected #CHROM header line")
	}
}

// Header returns the VCF header lines.
func (p *vcfParser) Header() []string {
	return p.header
}

// SampleNames returns sample names from the #CHROM header line.
// Returns nil if no sample columns are present.
func (p *vcfParser) SampleNames() []string {
	return p.sampleNames
}

// Next reads the next variant.
// Returns nil, nil when there are no more variants.
func (p *vcfParser) Next() (*Feature, error) {
	line, ok, err := p.nextDataLine()
	if err != nil || !ok {
		return nil, err
	}

	fields := strings.Split(line, "\t")
	if len(fields) < 8 {
		return nil, p.errorf("expected at least 8 columns, found %d", len(fields))
	}

	pos, err := parseCoord(fields[1])
	if err != nil || pos == 0 {
		return nil, p.errorf("invalid position: %s", fields[1])
	}
	ref := fields[3]
	if ref == "" || ref == "." {
		return nil, p.errorf("missing reference allele")
	}
	end := int64(pos) + int64(len(ref)) - 1
	if end > int64(^uint32(0)>>1) {
		return nil, p.errorf("reference allele runs past the end of the coordinate space")
	}
	rng := genomics.Range{Start: pos, End: int32(end)}

	var qual float32
	if fields[5] != "." {
		v, err := strconv.ParseFloat(fields[5], 32)
		if err != nil {
			return nil, p.errorf("invalid quality: %s", fields[5])
		}
		qual = float32(v)
	}

	return &Feature{
		Ref:    fields[0],
		Range:  rng,
		Values: []any{fields[0], rng, fields[2], ref, fields[4], qual, fields[6], fields[7]},
	}, nil
}
