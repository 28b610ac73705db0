package iterator

import (
	"math"

	"gonum.org/v1/gonum/spatial/r3"

	"volrays/internal/models"
	"volrays/pkg/accelerator"
	"volrays/pkg/grid"
	"volrays/pkg/volume"
)

// Cursor is the resumable position of an iterator along its ray. It is a
// plain value: copying it and passing it to Resume restarts iteration from
// the same point.
type Cursor struct {
	// T0 is the start of the part of the ray not yet consumed
	T0 float64

	// Brick is the brick containing T0
	Brick models.Vec3i

	// Started is set once the first brick has been located
	Started bool

	// Done is set when no bricks remain
	Done bool

	// Pending counts hits at Hit still to be emitted, for duplicate isovalues
	Pending int

	// Hit is the last emitted surface hit
	Hit models.SurfaceHit
}

// traversal walks the bricks pierced by a ray in increasing t, one brick at a
// time. Brick boundaries are computed in brick units from the same origin
// and reciprocal, so the exit t of one brick is bit-identical to the entry t
// of the next.
type traversal struct {
	sampler volume.Sampler
	grid    *grid.StructuredGrid
	acc     *accelerator.GridAccelerator

	ray models.Ray

	// bounds is the ray's parametric range inside the grid bounding box
	bounds models.Range

	// cellOrigin is the ray origin in brick units
	cellOrigin r3.Vec

	// rcp is the reciprocal of the ray direction in brick units, zero on
	// axes the ray does not move along
	rcp  r3.Vec
	step models.Vec3i

	// lastBrick is the highest brick index per axis that contains at least
	// one interpolation cell
	lastBrick models.Vec3i

	nominalDeltaT float64

	// attr is the attribute whose ranges and samples are used
	attr int

	cur   Cursor
	state models.IteratorState

	// dead is set when the ray misses the volume; resume cannot revive it
	dead bool
}

func (tr *traversal) init(s *volume.Snapshot, ray models.Ray, opts *Options) {
	tr.sampler = s
	tr.grid = s.Grid()
	tr.acc = s.Accelerator()
	tr.ray = ray
	tr.attr = opts.Attribute
	tr.state = models.StateCreated

	if ray.Degenerate() {
		tr.dead = true
		tr.exhaust()
		return
	}
	tr.bounds = s.Intersect(ray)
	if tr.bounds.Empty() {
		tr.dead = true
		tr.exhaust()
		return
	}

	spacing := tr.grid.Spacing()
	local := tr.grid.ObjectToLocal(ray.Origin)
	const w = accelerator.BrickWidth

	dims := tr.grid.Dimensions()
	tr.lastBrick = models.Vec3i{X: (dims.X - 2) / w, Y: (dims.Y - 2) / w, Z: (dims.Z - 2) / w}
	tr.cellOrigin = r3.Vec{X: local.X / w, Y: local.Y / w, Z: local.Z / w}
	tr.rcp.X, tr.step.X = axisRcp(ray.Direction.X, spacing.X)
	tr.rcp.Y, tr.step.Y = axisRcp(ray.Direction.Y, spacing.Y)
	tr.rcp.Z, tr.step.Z = axisRcp(ray.Direction.Z, spacing.Z)

	dt := math.Inf(1)
	for _, a := range [][2]float64{
		{spacing.X, ray.Direction.X},
		{spacing.Y, ray.Direction.Y},
		{spacing.Z, ray.Direction.Z},
	} {
		if a[1] != 0 {
			dt = math.Min(dt, a[0]/math.Abs(a[1]))
		}
	}
	tr.nominalDeltaT = dt / opts.SamplingRate
}

// axisRcp returns the reciprocal of the direction component in brick units
// and the brick step along that axis.
func axisRcp(d, spacing float64) (float64, int) {
	if d == 0 {
		return 0, 0
	}
	cellDir := d / spacing / accelerator.BrickWidth
	if d > 0 {
		return 1 / cellDir, 1
	}
	return 1 / cellDir, -1
}

// brickRange returns the value range of the iterated attribute in brick b.
func (tr *traversal) brickRange(b models.Vec3i) models.Range {
	return tr.acc.AttributeRangeOfBrick(tr.acc.Linear(b), tr.attr)
}

func (tr *traversal) exhaust() {
	tr.cur.Done = true
	tr.state = models.StateExhausted
}

// current returns the brick at the cursor and the part of the ray inside it
// that is not yet consumed. The range may be empty.
func (tr *traversal) current() (models.Vec3i, models.Range) {
	if !tr.cur.Started {
		entry := tr.ray.At(tr.bounds.Lower)
		tr.cur.Brick = tr.acc.BrickOf(tr.grid.ObjectToLocal(entry))
		tr.cur.T0 = tr.bounds.Lower
		tr.cur.Started = true
	}
	exit, axes := tr.exit(tr.cur.Brick)
	upper := math.Min(exit, tr.bounds.Upper)
	if !tr.inside(tr.next(tr.cur.Brick, axes)) {
		// Leaving the last brick means leaving the grid bounds.
		upper = tr.bounds.Upper
	}
	return tr.cur.Brick, models.Range{Lower: tr.cur.T0, Upper: upper}
}

func (tr *traversal) next(b models.Vec3i, axes [3]bool) models.Vec3i {
	if axes[0] {
		b.X += tr.step.X
	}
	if axes[1] {
		b.Y += tr.step.Y
	}
	if axes[2] {
		b.Z += tr.step.Z
	}
	return b
}

func (tr *traversal) inside(b models.Vec3i) bool {
	return b.X >= 0 && b.Y >= 0 && b.Z >= 0 &&
		b.X <= tr.lastBrick.X && b.Y <= tr.lastBrick.Y && b.Z <= tr.lastBrick.Z
}

// exit returns the t at which the ray leaves brick b and the axes whose
// faces it leaves through.
func (tr *traversal) exit(b models.Vec3i) (float64, [3]bool) {
	t := [3]float64{
		faceT(b.X, tr.step.X, tr.cellOrigin.X, tr.rcp.X),
		faceT(b.Y, tr.step.Y, tr.cellOrigin.Y, tr.rcp.Y),
		faceT(b.Z, tr.step.Z, tr.cellOrigin.Z, tr.rcp.Z),
	}
	tExit := math.Min(t[0], math.Min(t[1], t[2]))
	return tExit, [3]bool{t[0] == tExit, t[1] == tExit, t[2] == tExit}
}

func faceT(b, step int, origin, rcp float64) float64 {
	switch {
	case step > 0:
		return (float64(b+1) - origin) * rcp
	case step < 0:
		return (float64(b) - origin) * rcp
	default:
		return math.Inf(1)
	}
}

// advance moves the cursor to the next brick along the ray.
func (tr *traversal) advance() {
	exit, axes := tr.exit(tr.cur.Brick)
	tr.cur.T0 = math.Max(tr.cur.T0, exit)

	tr.cur.Brick = tr.next(tr.cur.Brick, axes)

	if !tr.inside(tr.cur.Brick) || !(tr.cur.T0 < tr.bounds.Upper) {
		tr.exhaust()
	}
}

// consume moves T0 forward to t without leaving the current brick. If t is
// beyond the ray's bounds the traversal is exhausted.
func (tr *traversal) consume(t float64) {
	tr.cur.T0 = math.Max(tr.cur.T0, t)
	if !(tr.cur.T0 < tr.bounds.Upper) {
		tr.exhaust()
	}
}

func (tr *traversal) resume(c Cursor) {
	if tr.dead {
		return
	}
	tr.cur = c
	switch {
	case c.Done:
		tr.state = models.StateExhausted
	case c.Started:
		tr.state = models.StateAdvancing
	default:
		tr.state = models.StateCreated
	}
}
