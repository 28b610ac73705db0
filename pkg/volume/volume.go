// Package volume is the entry point for clients: it turns commit parameters
// into a sampled structured volume with its acceleration structure and
// publishes both together.
//
// Commits are all-or-nothing. A failed commit leaves the previously
// published state in place, and readers always observe a grid together with
// the accelerator built from it.
package volume

import (
	"errors"
	"fmt"
	"math"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"gonum.org/v1/gonum/spatial/r3"

	"volrays/internal/logging"
	"volrays/internal/models"
	"volrays/pkg/accelerator"
	"volrays/pkg/grid"
)

// ErrNotCommitted is returned when a volume is queried before its first
// successful commit.
var ErrNotCommitted = errors.New("volume: not committed")

// Sampler is the read-side capability of a committed volume. Iterators and
// consumers depend on it rather than on a concrete volume type.
type Sampler interface {
	// Intersect clips the ray's parametric range to the volume bounds. The
	// result is empty when the ray misses.
	Intersect(ray models.Ray) models.Range
	ComputeSample(p r3.Vec) float64
	ComputeSamples(dst []float64, pts []r3.Vec)
	ComputeGradient(p r3.Vec) r3.Vec
	BoundingBox() r3.Box

	// NumAttributes is the number of fields sampled on the grid. The
	// attribute variants take an index in [0, NumAttributes).
	NumAttributes() int
	ComputeSampleAttribute(p r3.Vec, attr int) float64
	ComputeGradientAttribute(p r3.Vec, attr int) r3.Vec
}

// Options holds the defaults a Volume applies to its commits.
type Options struct {
	// Workers is the accelerator build parallelism used when
	// Params.Workers is zero. Zero or less means runtime.NumCPU().
	Workers int
}

// Initialize resolves opts into the values a volume will use and returns
// them. It keeps no state; pass the result to NewWithOptions.
func Initialize(opts Options) Options {
	if opts.Workers <= 0 {
		opts.Workers = runtime.NumCPU()
	}
	logging.Logger().Debug("volume options initialized", "workers", opts.Workers)
	return opts
}

// Snapshot is one committed state of a volume: a grid and the accelerator
// built from it. It is immutable and implements Sampler.
type Snapshot struct {
	grid        *grid.StructuredGrid
	accelerator *accelerator.GridAccelerator
	version     uint64
}

// Volume owns the published snapshot. Commit and the read methods may be
// called concurrently. Concurrent commits build in parallel and publish in
// version order; the last one to finish building wins.
type Volume struct {
	opts    Options
	current atomic.Pointer[Snapshot]

	// mu orders version assignment with publication
	mu      sync.Mutex
	version uint64
}

// New returns an uncommitted volume with default options.
func New() *Volume {
	return &Volume{}
}

// NewWithOptions returns an uncommitted volume using opts.
func NewWithOptions(opts Options) *Volume {
	return &Volume{opts: opts}
}

// Options returns the options the volume was created with.
func (v *Volume) Options() Options { return v.opts }

func (v *Volume) workers(p *Params) int {
	if p.Workers > 0 {
		return p.Workers
	}
	return v.opts.Workers
}

// Commit builds a new grid and accelerator from p and publishes them. On
// error the previously published snapshot stays in place.
func (v *Volume) Commit(p Params) error {
	start := time.Now()

	attributes := p.Voxels
	if attributes == nil && p.Raw != nil {
		attributes = make([][]float64, len(p.Raw))
		for a, raw := range p.Raw {
			decoded, err := grid.DecodeVoxels(raw, p.VoxelType, p.Dimensions.Product())
			if err != nil {
				logging.Logger().Warn("volume commit rejected", "attribute", a, "err", err)
				return fmt.Errorf("decoding attribute %d: %w", a, err)
			}
			attributes[a] = decoded
		}
	}

	g, err := grid.NewAttributes(p.Dimensions, p.Origin, p.Spacing, attributes, p.Filter)
	if err != nil {
		logging.Logger().Warn("volume commit rejected", "err", err)
		return fmt.Errorf("building grid: %w", err)
	}

	s := &Snapshot{
		grid:        g,
		accelerator: accelerator.Build(g, v.workers(&p)),
	}

	v.mu.Lock()
	v.version++
	s.version = v.version
	v.current.Store(s)
	v.mu.Unlock()

	logging.Logger().Info("volume committed",
		"dimensions", p.Dimensions.String(),
		"attributes", g.NumAttributes(),
		"filter", p.Filter.String(),
		"valueRange", fmt.Sprintf("[%g, %g]", g.ValueRange().Lower, g.ValueRange().Upper),
		"version", s.version,
		"duration", time.Since(start))
	return nil
}

// Snapshot returns the published state, or ErrNotCommitted.
func (v *Volume) Snapshot() (*Snapshot, error) {
	s := v.current.Load()
	if s == nil {
		return nil, ErrNotCommitted
	}
	return s, nil
}

// Committed reports whether a snapshot has been published.
func (v *Volume) Committed() bool { return v.current.Load() != nil }

// ComputeSample samples the published snapshot at p.
func (v *Volume) ComputeSample(p r3.Vec) (float64, error) {
	s, err := v.Snapshot()
	if err != nil {
		return 0, err
	}
	return s.ComputeSample(p), nil
}

// ComputeSamples samples pts into dst from a single snapshot.
func (v *Volume) ComputeSamples(dst []float64, pts []r3.Vec) error {
	s, err := v.Snapshot()
	if err != nil {
		return err
	}
	if len(dst) < len(pts) {
		return fmt.Errorf("volume: destination holds %d samples, need %d", len(dst), len(pts))
	}
	s.ComputeSamples(dst, pts)
	return nil
}

// ComputeSampleAttribute samples attribute attr of the published snapshot
// at p. An invalid attr returns grid.ErrAttribute.
func (v *Volume) ComputeSampleAttribute(p r3.Vec, attr int) (float64, error) {
	s, err := v.attributeSnapshot(attr)
	if err != nil {
		return 0, err
	}
	return s.ComputeSampleAttribute(p, attr), nil
}

// ComputeGradient returns the finite-difference gradient at p.
func (v *Volume) ComputeGradient(p r3.Vec) (r3.Vec, error) {
	s, err := v.Snapshot()
	if err != nil {
		return r3.Vec{}, err
	}
	return s.ComputeGradient(p), nil
}

// ComputeGradientAttribute returns the finite-difference gradient of
// attribute attr at p.
func (v *Volume) ComputeGradientAttribute(p r3.Vec, attr int) (r3.Vec, error) {
	s, err := v.attributeSnapshot(attr)
	if err != nil {
		return r3.Vec{}, err
	}
	return s.ComputeGradientAttribute(p, attr), nil
}

func (v *Volume) attributeSnapshot(attr int) (*Snapshot, error) {
	s, err := v.Snapshot()
	if err != nil {
		return nil, err
	}
	if err := s.grid.CheckAttribute(attr); err != nil {
		return nil, err
	}
	return s, nil
}

// BoundingBox returns the object-space bounds of the published grid.
func (v *Volume) BoundingBox() (r3.Box, error) {
	s, err := v.Snapshot()
	if err != nil {
		return r3.Box{}, err
	}
	return s.BoundingBox(), nil
}

// ValueRange returns the min/max voxel value of the published grid.
func (v *Volume) ValueRange() (models.Range, error) {
	s, err := v.Snapshot()
	if err != nil {
		return models.Range{}, err
	}
	return s.grid.ValueRange(), nil
}

// AttributeValueRange returns the min/max value of attribute attr.
func (v *Volume) AttributeValueRange(attr int) (models.Range, error) {
	s, err := v.attributeSnapshot(attr)
	if err != nil {
		return models.Range{}, err
	}
	return s.grid.AttributeValueRange(attr), nil
}

// Grid returns the published grid.
func (s *Snapshot) Grid() *grid.StructuredGrid { return s.grid }

// Accelerator returns the accelerator built from Grid.
func (s *Snapshot) Accelerator() *accelerator.GridAccelerator { return s.accelerator }

// Version counts commits of the owning volume, starting at 1.
func (s *Snapshot) Version() uint64 { return s.version }

func (s *Snapshot) ComputeSample(p r3.Vec) float64 { return s.grid.ComputeSample(p) }

func (s *Snapshot) ComputeSamples(dst []float64, pts []r3.Vec) { s.grid.ComputeSamples(dst, pts) }

func (s *Snapshot) ComputeGradient(p r3.Vec) r3.Vec { return s.grid.ComputeGradient(p) }

func (s *Snapshot) BoundingBox() r3.Box { return s.grid.BoundingBox() }

func (s *Snapshot) NumAttributes() int { return s.grid.NumAttributes() }

func (s *Snapshot) ComputeSampleAttribute(p r3.Vec, attr int) float64 {
	return s.grid.ComputeSampleAttribute(p, attr)
}

func (s *Snapshot) ComputeGradientAttribute(p r3.Vec, attr int) r3.Vec {
	return s.grid.ComputeGradientAttribute(p, attr)
}

// Intersect returns the part of ray.TRange inside the bounding box.
func (s *Snapshot) Intersect(ray models.Ray) models.Range {
	return IntersectBox(ray, s.grid.BoundingBox())
}

// minNormal is the smallest positive normal float64.
const minNormal = 0x1p-1022

// safeRcp returns 1/f, replacing denominators too small to invert with a
// signed minNormal so axis-parallel rays produce huge but finite slab
// distances instead of NaN.
func safeRcp(f float64) float64 {
	if math.Abs(f) < minNormal {
		return 1 / math.Copysign(minNormal, f)
	}
	return 1 / f
}

// IntersectBox clips ray.TRange to the slabs of box. The returned range is
// empty (or NaN) when the ray misses the box. An axis the ray does not move
// along only constrains the ray if the origin lies outside that slab.
func IntersectBox(ray models.Ray, box r3.Box) models.Range {
	r := ray.TRange
	slab := func(o, d, lo, hi float64) {
		if d == 0 {
			if o < lo || o > hi {
				r = models.Range{Lower: math.Inf(1), Upper: math.Inf(-1)}
			}
			return
		}
		rcp := safeRcp(d)
		t0 := (lo - o) * rcp
		t1 := (hi - o) * rcp
		r.Lower = max(r.Lower, math.Min(t0, t1))
		r.Upper = min(r.Upper, math.Max(t0, t1))
	}
	slab(ray.Origin.X, ray.Direction.X, box.Min.X, box.Max.X)
	slab(ray.Origin.Y, ray.Direction.Y, box.Min.Y, box.Max.Y)
	slab(ray.Origin.Z, ray.Direction.Z, box.Min.Z, box.Max.Z)
	return r
}
