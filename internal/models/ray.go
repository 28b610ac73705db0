package models

import (
	"math"

	"gonum.org/v1/gonum/spatial/r3"
)

// Ray is a parametric ray origin + t*direction restricted to TRange.
//
// Direction need not be normalized. Distances along the ray are measured in
// units of the direction's magnitude, so callers that normalize Direction get
// metric distances.
type Ray struct {
	// Origin is the ray origin in object space
	Origin r3.Vec

	// Direction is the ray direction in object space
	Direction r3.Vec

	// TRange is the valid parametric window of the ray
	TRange Range
}

// At returns the object-space point at parameter t.
func (r Ray) At(t float64) r3.Vec {
	return r3.Add(r.Origin, r3.Scale(t, r.Direction))
}

// Degenerate reports whether the ray cannot intersect anything: an empty or
// NaN parametric range, or a zero or non-finite direction.
func (r Ray) Degenerate() bool {
	if r.TRange.IsNaN() || r.TRange.Lower > r.TRange.Upper {
		return true
	}
	d := r.Direction
	if !finite(d.X) || !finite(d.Y) || !finite(d.Z) || !finite(r.Origin.X) || !finite(r.Origin.Y) || !finite(r.Origin.Z) {
		return true
	}
	return d.X == 0 && d.Y == 0 && d.Z == 0
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// Interval is a sub-range of a ray known to contain relevant values.
type Interval struct {
	// TRange is the parametric extent of the interval along the ray
	TRange Range

	// ValueRange is a conservative bound of the field over the interval
	ValueRange Range

	// NominalDeltaT is the suggested ray-marching step inside the interval,
	// in ray units
	NominalDeltaT float64
}

// SurfaceHit is an isosurface crossing along a ray.
type SurfaceHit struct {
	// T is the parametric distance of the crossing
	T float64

	// Sample is the isovalue that produced the hit
	Sample float64

	// Epsilon is a positive object-space distance that can be used to offset
	// secondary rays leaving the surface
	Epsilon float64
}

// IteratorState is the position of a ray iterator in its state machine.
type IteratorState int

const (
	StateCreated IteratorState = iota
	StateAdvancing
	StateEmitting
	StateExhausted
)

func (s IteratorState) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateAdvancing:
		return "advancing"
	case StateEmitting:
		return "emitting"
	case StateExhausted:
		return "exhausted"
	default:
		return "unknown"
	}
}
