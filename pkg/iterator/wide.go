package iterator

import (
	"fmt"

	"volrays/internal/models"
	"volrays/pkg/mask"
	"volrays/pkg/volume"
)

func checkLaneWidth(n int) error {
	switch n {
	case 1, 4, 8, 16:
		return nil
	}
	return fmt.Errorf("%d lanes: %w", n, ErrLaneWidth)
}

// IntervalIteratorN advances a fixed group of rays together. Each lane is an
// independent IntervalIterator, so per-lane results are identical to
// iterating that ray alone.
type IntervalIteratorN struct {
	lanes []*IntervalIterator
	out   []models.Interval
	ok    []bool
}

// NewIntervalIteratorN returns a wide iterator with one lane per ray.
func NewIntervalIteratorN(v *volume.Volume, rays []models.Ray, m *mask.SamplesMask, opts *Options) (*IntervalIteratorN, error) {
	if err := checkLaneWidth(len(rays)); err != nil {
		return nil, err
	}
	w := &IntervalIteratorN{
		lanes: make([]*IntervalIterator, len(rays)),
		out:   make([]models.Interval, len(rays)),
		ok:    make([]bool, len(rays)),
	}
	for i, ray := range rays {
		it, err := NewIntervalIterator(v, ray, m, opts)
		if err != nil {
			return nil, err
		}
		w.lanes[i] = it
	}
	return w, nil
}

// Width returns the number of lanes.
func (w *IntervalIteratorN) Width() int { return len(w.lanes) }

// Next advances every lane i with valid[i] set and returns the per-lane
// intervals and found flags. Slots of inactive lanes keep their previous
// contents. The returned slices are reused by the next call.
func (w *IntervalIteratorN) Next(valid []bool) ([]models.Interval, []bool) {
	for i, it := range w.lanes {
		if i < len(valid) && valid[i] {
			w.out[i], w.ok[i] = it.Next()
		}
	}
	return w.out, w.ok
}

// Lane returns the scalar iterator of lane i.
func (w *IntervalIteratorN) Lane(i int) *IntervalIterator { return w.lanes[i] }

// HitIteratorN is the wide form of HitIterator.
type HitIteratorN struct {
	lanes []*HitIterator
	out   []models.SurfaceHit
	ok    []bool
}

// NewHitIteratorN returns a wide hit iterator with one lane per ray.
func NewHitIteratorN(v *volume.Volume, rays []models.Ray, m *mask.SamplesMask, opts *Options) (*HitIteratorN, error) {
	if err := checkLaneWidth(len(rays)); err != nil {
		return nil, err
	}
	w := &HitIteratorN{
		lanes: make([]*HitIterator, len(rays)),
		out:   make([]models.SurfaceHit, len(rays)),
		ok:    make([]bool, len(rays)),
	}
	for i, ray := range rays {
		it, err := NewHitIterator(v, ray, m, opts)
		if err != nil {
			return nil, err
		}
		w.lanes[i] = it
	}
	return w, nil
}

// Width returns the number of lanes.
func (w *HitIteratorN) Width() int { return len(w.lanes) }

// Next advances every lane i with valid[i] set. See IntervalIteratorN.Next.
func (w *HitIteratorN) Next(valid []bool) ([]models.SurfaceHit, []bool) {
	for i, it := range w.lanes {
		if i < len(valid) && valid[i] {
			w.out[i], w.ok[i] = it.Next()
		}
	}
	return w.out, w.ok
}

// Lane returns the scalar iterator of lane i.
func (w *HitIteratorN) Lane(i int) *HitIterator { return w.lanes[i] }
