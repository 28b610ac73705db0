package grid

import (
	"math"

	"gonum.org/v1/gonum/spatial/r3"

	"volrays/internal/models"
)

// snapTolerance is the relative distance below which a local coordinate is
// treated as lying exactly on a voxel plane. Object-to-local conversion of a
// grid-aligned point can be off by a few ulps; snapping keeps vertex samples
// bit-exact.
const snapTolerance = 1e-12

func snap(v float64) float64 {
	r := math.Round(v)
	if math.Abs(v-r) <= snapTolerance*math.Max(1, math.Abs(r)) {
		return r
	}
	return v
}

// cellAndFraction splits a local coordinate along an axis of n voxels into
// the lower corner index of its interpolation cell and the fractional offset
// inside that cell. The cell index is clamped to [0, n-2] so all corners stay
// in bounds; coordinates outside the grid sample the boundary cell.
func cellAndFraction(l float64, n int) (int, float64) {
	l = snap(l)
	if !(l > 0) {
		return 0, 0
	}
	if l >= float64(n-1) {
		return n - 2, 1
	}
	c := int(l)
	if c > n-2 {
		c = n - 2
	}
	return c, l - float64(c)
}

// lerp is exact at f == 0, at f == 1 and when a == b.
func lerp(a, b, f float64) float64 {
	if a == b {
		return a
	}
	return a*(1-f) + b*f
}

// ComputeSample reconstructs attribute 0 at an object-space point. Points
// outside the grid are clamped to the boundary; the result is always defined.
func (g *StructuredGrid) ComputeSample(p r3.Vec) float64 {
	return g.ComputeSampleAttribute(p, 0)
}

// ComputeSampleAttribute reconstructs attribute attr at p. attr must be a
// valid index.
func (g *StructuredGrid) ComputeSampleAttribute(p r3.Vec, attr int) float64 {
	l := g.ObjectToLocal(p)
	v := g.attributes[attr]
	if g.filter == models.FilterNearest {
		return v[g.Index(nearest(l.X, g.dims.X), nearest(l.Y, g.dims.Y), nearest(l.Z, g.dims.Z))]
	}
	return g.sampleTrilinear(v, l)
}

// ComputeSamples samples attribute 0 at every point of pts into dst. dst must
// be at least as long as pts.
func (g *StructuredGrid) ComputeSamples(dst []float64, pts []r3.Vec) {
	g.ComputeSamplesAttribute(dst, pts, 0)
}

// ComputeSamplesAttribute is the batch form of ComputeSampleAttribute.
func (g *StructuredGrid) ComputeSamplesAttribute(dst []float64, pts []r3.Vec, attr int) {
	_ = dst[:len(pts)]
	for i, p := range pts {
		dst[i] = g.ComputeSampleAttribute(p, attr)
	}
}

func (g *StructuredGrid) sampleTrilinear(v []float64, l r3.Vec) float64 {
	i, fx := cellAndFraction(l.X, g.dims.X)
	j, fy := cellAndFraction(l.Y, g.dims.Y)
	k, fz := cellAndFraction(l.Z, g.dims.Z)

	sy := g.dims.X
	sz := g.dims.X * g.dims.Y
	base := g.Index(i, j, k)

	x00 := lerp(v[base], v[base+1], fx)
	x10 := lerp(v[base+sy], v[base+sy+1], fx)
	x01 := lerp(v[base+sz], v[base+sz+1], fx)
	x11 := lerp(v[base+sy+sz], v[base+sy+sz+1], fx)

	y0 := lerp(x00, x10, fy)
	y1 := lerp(x01, x11, fy)

	return lerp(y0, y1, fz)
}

func nearest(l float64, n int) int {
	if !(l > 0) {
		return 0
	}
	if l >= float64(n-1) {
		return n - 1
	}
	return int(math.Round(l))
}

// ComputeGradient returns the gradient of attribute 0 at p by finite
// differences with a step of one voxel spacing. Central differences are
// used where both neighbours lie inside the bounding box, one-sided
// differences at the faces.
//
// This path does not use the grid accelerator.
func (g *StructuredGrid) ComputeGradient(p r3.Vec) r3.Vec {
	return g.ComputeGradientAttribute(p, 0)
}

// ComputeGradientAttribute returns the gradient of attribute attr at p.
func (g *StructuredGrid) ComputeGradientAttribute(p r3.Vec, attr int) r3.Vec {
	box := g.BoundingBox()
	h := g.spacing
	f := func(q r3.Vec) float64 { return g.ComputeSampleAttribute(q, attr) }

	if p.X-h.X >= box.Min.X && p.X+h.X <= box.Max.X &&
		p.Y-h.Y >= box.Min.Y && p.Y+h.Y <= box.Max.Y &&
		p.Z-h.Z >= box.Min.Z && p.Z+h.Z <= box.Max.Z {
		return r3.Gradient(p, h, f)
	}

	return r3.Vec{
		X: partial(f, p, r3.Vec{X: h.X}, p.X, box.Min.X, box.Max.X, h.X),
		Y: partial(f, p, r3.Vec{Y: h.Y}, p.Y, box.Min.Y, box.Max.Y, h.Y),
		Z: partial(f, p, r3.Vec{Z: h.Z}, p.Z, box.Min.Z, box.Max.Z, h.Z),
	}
}

func partial(f func(r3.Vec) float64, p, step r3.Vec, c, lo, hi, h float64) float64 {
	fwd := c+h <= hi
	bwd := c-h >= lo
	switch {
	case fwd && bwd:
		return (f(r3.Add(p, step)) - f(r3.Sub(p, step))) / (2 * h)
	case fwd:
		return (f(r3.Add(p, step)) - f(p)) / h
	case bwd:
		return (f(p) - f(r3.Sub(p, step))) / h
	default:
		return 0
	}
}
