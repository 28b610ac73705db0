package iterator

import (
	"math"

	"gonum.org/v1/gonum/spatial/r3"

	"volrays/internal/models"
	"volrays/pkg/mask"
	"volrays/pkg/volume"
)

const (
	// hitTolerance is the distance between a sample and an isovalue below
	// which the sample point itself is reported as the hit.
	hitTolerance = 1e-6

	maxBisections = 10

	// epsilonScale sizes SurfaceHit.Epsilon and the restart offset after a
	// hit as a fraction of the nominal step.
	epsilonScale = 0.125
)

// HitIterator yields isosurface crossings of the mask's values along a ray,
// in increasing t.
//
// Crossings are found by sign changes between samples one nominal step
// apart. Two crossings of the same value inside one step cancel and are
// both missed, as is a surface that touches the value between samples
// without crossing it. Raise Options.SamplingRate to resolve features
// thinner than the voxel spacing.
type HitIterator struct {
	traversal
	mask *mask.SamplesMask
}

// NewHitIterator returns an iterator over the crossings of ray with the
// isosurfaces at the values of m. Mask ranges only admit bricks; hits come
// from values. A nil mask, or one without values, yields no hits.
func NewHitIterator(v *volume.Volume, ray models.Ray, m *mask.SamplesMask, opts *Options) (*HitIterator, error) {
	s, o, err := prepare(v, m, opts)
	if err != nil {
		return nil, err
	}
	it := &HitIterator{mask: m}
	it.init(s, ray, o)
	if m == nil || len(m.Values()) == 0 {
		it.exhaust()
	}
	return it, nil
}

// Next returns the next surface hit, or false once the ray is exhausted.
// A value listed k times in the mask produces k hits at the same t.
func (it *HitIterator) Next() (models.SurfaceHit, bool) {
	if it.cur.Pending > 0 {
		it.cur.Pending--
		it.state = models.StateEmitting
		return it.cur.Hit, true
	}

	for !it.cur.Done {
		it.state = models.StateAdvancing
		b, tr := it.current()
		if tr.Empty() {
			it.advance()
			continue
		}

		values := it.mask.ValuesIn(it.brickRange(b))
		if len(values) == 0 {
			it.advance()
			continue
		}

		t, v, n, ok := it.search(tr, values)
		if !ok {
			it.advance()
			continue
		}

		hit := models.SurfaceHit{
			T:       t,
			Sample:  v,
			Epsilon: epsilonScale * it.nominalDeltaT * r3.Norm(it.ray.Direction),
		}
		it.cur.Hit = hit
		it.cur.Pending = n - 1
		it.consume(t + epsilonScale*it.nominalDeltaT)

		it.state = models.StateEmitting
		return hit, true
	}
	it.state = models.StateExhausted
	return models.SurfaceHit{}, false
}

// search marches tr at the nominal step and returns the smallest t at which
// the field crosses one of values, the value and its multiplicity.
func (it *HitIterator) search(tr models.Range, values []float64) (float64, float64, int, bool) {
	h := it.nominalDeltaT
	t0 := tr.Lower
	s0 := it.sample(t0)

	for {
		if v, n, ok := nearValue(s0, values); ok {
			return t0, v, n, true
		}

		t1 := math.Min(t0+h, tr.Upper)
		if !(t1 > t0) {
			t1 = tr.Upper
		}
		s1 := it.sample(t1)

		best := math.Inf(1)
		bestValue := 0.0
		bestCount := 0
		for i := 0; i < len(values); {
			v := values[i]
			n := multiplicity(values, i)
			i += n
			if (v-s0)*(v-s1) >= 0 {
				continue
			}
			if t := it.refine(t0, t1, s0, s1, v, h); t < best {
				best, bestValue, bestCount = t, v, n
			}
		}
		if bestCount > 0 {
			return best, bestValue, bestCount, true
		}

		if t1 >= tr.Upper {
			if v, n, ok := nearValue(s1, values); ok {
				return tr.Upper, v, n, true
			}
			return 0, 0, 0, false
		}
		t0, s0 = t1, s1
	}
}

// refine locates the crossing of v inside [a, b] by bisection, then
// interpolates linearly inside the final bracket.
func (it *HitIterator) refine(a, b, sa, sb, v, h float64) float64 {
	tol := math.Min(hitTolerance, 0.01*h)
	for i := 0; i < maxBisections && b-a > tol; i++ {
		m := 0.5 * (a + b)
		sm := it.sample(m)
		if (v-sa)*(v-sm) <= 0 {
			b, sb = m, sm
		} else {
			a, sa = m, sm
		}
	}
	if sb == sa {
		return a
	}
	t := a + (v-sa)/(sb-sa)*(b-a)
	return math.Max(a, math.Min(b, t))
}

func (it *HitIterator) sample(t float64) float64 {
	return it.sampler.ComputeSampleAttribute(it.ray.At(t), it.attr)
}

// nearValue returns the first value within hitTolerance of s.
func nearValue(s float64, values []float64) (float64, int, bool) {
	for i := 0; i < len(values); {
		n := multiplicity(values, i)
		if math.Abs(s-values[i]) < hitTolerance {
			return values[i], n, true
		}
		i += n
	}
	return 0, 0, false
}

// multiplicity counts the run of values equal to values[i].
func multiplicity(values []float64, i int) int {
	n := 1
	for i+n < len(values) && values[i+n] == values[i] {
		n++
	}
	return n
}

// State returns the iterator's position in its state machine.
func (it *HitIterator) State() models.IteratorState { return it.state }

// Cursor returns the current position, including hits still pending for
// duplicate values.
func (it *HitIterator) Cursor() Cursor { return it.cur }

// Resume continues iteration from c, which must come from an iterator over
// the same ray and volume snapshot.
func (it *HitIterator) Resume(c Cursor) { it.resume(c) }
