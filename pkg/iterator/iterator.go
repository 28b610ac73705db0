// Package iterator marches rays through a committed volume.
//
// An IntervalIterator reports the parametric ranges of a ray that cross
// bricks whose value range passes a samples mask. A HitIterator reports the
// points where the reconstructed field crosses the mask's discrete values.
// Both walk bricks in strictly increasing t and visit each brick at most
// once.
//
// Iterators capture the volume snapshot published at creation and are not
// safe for concurrent use. Run one iterator per ray; any number of iterators
// may share a volume.
package iterator

import (
	"errors"
	"fmt"
	"math"

	"volrays/internal/models"
	"volrays/pkg/mask"
	"volrays/pkg/volume"
)

var (
	// ErrMaskNotCommitted is returned when an iterator is created with a mask
	// that has not passed Commit.
	ErrMaskNotCommitted = errors.New("iterator: mask not committed")

	// ErrSamplingRate is returned for a sampling rate that is not a positive
	// finite number.
	ErrSamplingRate = errors.New("iterator: sampling rate must be positive and finite")

	// ErrLaneWidth is returned by the wide constructors for lane counts
	// other than 1, 4, 8 or 16.
	ErrLaneWidth = errors.New("iterator: lane width must be 1, 4, 8 or 16")
)

// Options tunes iteration.
type Options struct {
	// SamplingRate divides the nominal step derived from the grid spacing.
	// Values above 1 sample more densely.
	SamplingRate float64

	// Attribute selects the field whose brick ranges are tested against
	// the mask and whose samples are searched for hits.
	Attribute int
}

// DefaultOptions returns one sample per voxel spacing.
func DefaultOptions() *Options {
	return &Options{SamplingRate: 1}
}

func resolve(opts *Options) (*Options, error) {
	if opts == nil {
		return DefaultOptions(), nil
	}
	r := opts.SamplingRate
	if !(r > 0) || math.IsInf(r, 0) {
		return nil, fmt.Errorf("sampling rate %v: %w", r, ErrSamplingRate)
	}
	return opts, nil
}

func prepare(v *volume.Volume, m *mask.SamplesMask, opts *Options) (*volume.Snapshot, *Options, error) {
	s, err := v.Snapshot()
	if err != nil {
		return nil, nil, err
	}
	if m != nil && !m.Committed() {
		return nil, nil, ErrMaskNotCommitted
	}
	o, err := resolve(opts)
	if err != nil {
		return nil, nil, err
	}
	if err := s.Grid().CheckAttribute(o.Attribute); err != nil {
		return nil, nil, err
	}
	return s, o, nil
}

// IntervalIterator yields the bricks along a ray whose values may pass the
// mask.
type IntervalIterator struct {
	traversal
	mask *mask.SamplesMask
}

// NewIntervalIterator returns an iterator over ray through the volume's
// current snapshot. A nil mask accepts every brick. A nil opts uses
// DefaultOptions. An attribute the volume does not have returns
// grid.ErrAttribute.
func NewIntervalIterator(v *volume.Volume, ray models.Ray, m *mask.SamplesMask, opts *Options) (*IntervalIterator, error) {
	s, o, err := prepare(v, m, opts)
	if err != nil {
		return nil, err
	}
	it := &IntervalIterator{mask: m}
	it.init(s, ray, o)
	if m.Empty() {
		it.exhaust()
	}
	return it, nil
}

// Next returns the next interval, or false once the ray is exhausted.
// Intervals are ordered and never overlap; consecutive intervals share a
// bound exactly unless bricks were skipped between them.
func (it *IntervalIterator) Next() (models.Interval, bool) {
	for !it.cur.Done {
		it.state = models.StateAdvancing
		b, tr := it.current()
		valueRange := it.brickRange(b)
		it.advance()

		if tr.Empty() || !it.mask.Intersects(valueRange) {
			continue
		}

		it.state = models.StateEmitting
		return models.Interval{
			TRange:        tr,
			ValueRange:    valueRange,
			NominalDeltaT: it.nominalDeltaT,
		}, true
	}
	it.state = models.StateExhausted
	return models.Interval{}, false
}

// State returns the iterator's position in its state machine.
func (it *IntervalIterator) State() models.IteratorState { return it.state }

// Cursor returns the current position. Pass it to Resume to replay
// iteration from this point.
func (it *IntervalIterator) Cursor() Cursor { return it.cur }

// Resume continues iteration from c, which must come from an iterator over
// the same ray and volume snapshot.
func (it *IntervalIterator) Resume(c Cursor) { it.resume(c) }
