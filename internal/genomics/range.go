// Package genomics provides coordinate and reference-sequence primitives.
package genomics

import (
	"fmt"

	"github.com/cockroachdb/errors"
)

// ErrInvalidRange is returned for ranges with negative coordinates or End < Start.
var ErrInvalidRange = errors.New("invalid range")

// Range is a closed interval [Start, End] in 1-based genomic coordinates.
type Range struct {
	Start int32
	End   int32
}

// NewRange returns a validated range.
func NewRange(start, end int32) (Range, error) {
	r := Range{Start: start, End: end}
	if err := r.Validate(); err != nil {
		return Range{}, err
	}
	return r, nil
}

// Validate rejects negative coordinates and inverted ranges.
func (r Range) Validate() error {
	if r.Start < 0 || r.End < 0 {
		return errors.Wrapf(ErrInvalidRange, "negative coordinate in %s", r)
	}
	if r.End < r.Start {
		return errors.Wrapf(ErrInvalidRange, "end before start in %s", r)
	}
	return nil
}

// Length returns the number of positions covered by the range.
func (r Range) Length() int64 {
	return int64(r.End) - int64(r.Start) + 1
}

// Intersects reports whether r and other share at least one position.
// Both ends are inclusive, so [10,15] intersects [15,20] and [12,12].
func (r Range) Intersects(other Range) bool {
	return r.Start <= other.End && other.Start <= r.End
}

// Contains reports whether other lies entirely within r.
func (r Range) Contains(other Range) bool {
	return r.Start <= other.Start && other.End <= r.End
}

// Union returns the smallest range covering both r and other.
func (r Range) Union(other Range) Range {
	u := r
	if other.Start < u.Start {
		u.Start = other.Start
	}
	if other.End > u.End {
		u.End = other.End
	}
	return u
}

func (r Range) String() string {
	return fmt.Sprintf("[%d,%d]", r.Start, r.End)
}
