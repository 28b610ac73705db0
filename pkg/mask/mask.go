// Package mask implements the samples mask: an optional filter of value
// ranges and discrete values that restricts which parts of a volume a ray
// iterator reports.
package mask

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"volrays/internal/models"
)

// ErrMalformedMask is returned by Commit when a range or value is NaN, a
// range has Lower > Upper, or values are not sorted ascending.
var ErrMalformedMask = errors.New("mask: malformed samples mask")

// SamplesMask holds a union of closed value ranges and a sorted list of
// discrete values. The zero value is an empty, uncommitted mask.
//
// A nil *SamplesMask accepts everything. A committed mask with no ranges and
// no values accepts nothing.
//
// A committed mask is read-only; changing it while iterators use it is not
// supported.
type SamplesMask struct {
	ranges []models.Range
	values []float64

	// bounds is the union of all ranges and values, filled by Commit
	bounds    models.Range
	committed bool
}

// New returns a mask over copies of ranges and values. It still has to be
// committed.
func New(ranges []models.Range, values []float64) *SamplesMask {
	m := &SamplesMask{}
	m.SetRanges(ranges)
	m.SetValues(values)
	return m
}

// SetRanges replaces the value ranges and marks the mask uncommitted.
func (m *SamplesMask) SetRanges(ranges []models.Range) {
	m.ranges = append([]models.Range(nil), ranges...)
	m.committed = false
}

// SetValues replaces the discrete values and marks the mask uncommitted.
func (m *SamplesMask) SetValues(values []float64) {
	m.values = append([]float64(nil), values...)
	m.committed = false
}

// Commit validates the mask and prepares it for queries.
func (m *SamplesMask) Commit() error {
	bounds := models.EmptyRange()

	for i, r := range m.ranges {
		if r.IsNaN() {
			return fmt.Errorf("range %d is NaN: %w", i, ErrMalformedMask)
		}
		if r.Lower > r.Upper {
			return fmt.Errorf("range %d has lower %v > upper %v: %w", i, r.Lower, r.Upper, ErrMalformedMask)
		}
		bounds = bounds.Union(r)
	}

	for i, v := range m.values {
		if math.IsNaN(v) {
			return fmt.Errorf("value %d is NaN: %w", i, ErrMalformedMask)
		}
		if i > 0 && v < m.values[i-1] {
			return fmt.Errorf("value %d (%v) is smaller than its predecessor %v: %w", i, v, m.values[i-1], ErrMalformedMask)
		}
		bounds = bounds.Extend(v)
	}

	m.bounds = bounds
	m.committed = true
	return nil
}

// Committed reports whether the mask passed Commit since its last change.
func (m *SamplesMask) Committed() bool { return m != nil && m.committed }

// Ranges returns the value ranges. The slice must not be modified.
func (m *SamplesMask) Ranges() []models.Range { return m.ranges }

// Values returns the discrete values in ascending order. The slice must not
// be modified.
func (m *SamplesMask) Values() []float64 { return m.values }

// Empty reports whether a non-nil mask filters out everything.
func (m *SamplesMask) Empty() bool {
	return m != nil && len(m.ranges) == 0 && len(m.values) == 0
}

// Intersects reports whether r overlaps any mask range or contains any mask
// value. All ranges are closed. A nil mask intersects everything.
func (m *SamplesMask) Intersects(r models.Range) bool {
	if m == nil {
		return true
	}
	if r.IsNaN() || r.Lower > r.Upper {
		return false
	}
	if m.committed && !m.bounds.Overlaps(r) {
		return false
	}

	for _, mr := range m.ranges {
		if mr.Overlaps(r) {
			return true
		}
	}

	if len(m.values) > 0 {
		i := sort.SearchFloat64s(m.values, r.Lower)
		if i < len(m.values) && m.values[i] <= r.Upper {
			return true
		}
	}
	return false
}

// ValuesIn returns the sub-slice of values lying in the closed range r.
func (m *SamplesMask) ValuesIn(r models.Range) []float64 {
	if m == nil || len(m.values) == 0 {
		return nil
	}
	lo := sort.SearchFloat64s(m.values, r.Lower)
	hi := lo
	for hi < len(m.values) && m.values[hi] <= r.Upper {
		hi++
	}
	return m.values[lo:hi]
}
