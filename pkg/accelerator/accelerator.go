// Package accelerator implements the macrocell index used to skip empty
// space during ray iteration.
//
// The grid is partitioned into bricks of BrickWidth³ interpolation cells and
// each brick stores, per attribute, the value range of every voxel that is a
// corner of one of its cells. A ray segment crossing a brick can only reconstruct values inside
// that range, so bricks whose range misses the active filter are skipped.
package accelerator

import (
	"math"
	"runtime"
	"sync"
	"time"

	"gonum.org/v1/gonum/spatial/r3"

	"volrays/internal/logging"
	"volrays/internal/models"
	"volrays/pkg/grid"
)

// BrickWidth is the number of interpolation cells per brick along each axis.
const BrickWidth = 16

// GridAccelerator holds one value range per brick and attribute. Bricks are
// row-major with x fastest; the ranges of one brick's attributes are
// adjacent. It is immutable once Build returns.
type GridAccelerator struct {
	grid       *grid.StructuredGrid
	bricks     models.Vec3i
	attributes int
	ranges     []models.Range
}

// BricksPerDimension returns ceil(dims/BrickWidth) per axis.
func BricksPerDimension(dims models.Vec3i) models.Vec3i {
	return models.Vec3i{
		X: (dims.X + BrickWidth - 1) / BrickWidth,
		Y: (dims.Y + BrickWidth - 1) / BrickWidth,
		Z: (dims.Z + BrickWidth - 1) / BrickWidth,
	}
}

// Build scans g and computes every brick range. Bricks are split into
// contiguous chunks, one per worker; each worker writes only the slots of
// its own bricks. workers <= 0 uses runtime.NumCPU().
func Build(g *grid.StructuredGrid, workers int) *GridAccelerator {
	start := time.Now()

	if workers <= 0 {
		workers = runtime.NumCPU()
	}

	bricks := BricksPerDimension(g.Dimensions())
	n := bricks.Product()
	na := g.NumAttributes()
	a := &GridAccelerator{
		grid:       g,
		bricks:     bricks,
		attributes: na,
		ranges:     make([]models.Range, n*na),
	}

	if workers > n {
		workers = n
	}
	bricksPerWorker := (n + workers - 1) / workers

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		startIdx := w * bricksPerWorker
		endIdx := (w + 1) * bricksPerWorker
		if endIdx > n {
			endIdx = n
		}
		if startIdx >= n {
			break
		}

		wg.Add(1)
		go func(startIdx, endIdx int) {
			defer wg.Done()
			for i := startIdx; i < endIdx; i++ {
				b := a.brickIndex(i)
				for attr := 0; attr < na; attr++ {
					a.ranges[i*na+attr] = a.scanBrick(b, attr)
				}
			}
		}(startIdx, endIdx)
	}
	wg.Wait()

	logging.Logger().Debug("accelerator built",
		"bricks", n,
		"attributes", na,
		"bricksPerDimension", bricks.String(),
		"workers", workers,
		"duration", time.Since(start))

	return a
}

// scanBrick aggregates voxels BrickWidth*b .. min(BrickWidth*(b+1), dims-1)
// along each axis. Those are exactly the corners of the cells inside the
// brick, so no voxel outside the grid is ever read.
func (a *GridAccelerator) scanBrick(b models.Vec3i, attr int) models.Range {
	dims := a.grid.Dimensions()
	i0, i1 := voxelSpan(b.X, dims.X)
	j0, j1 := voxelSpan(b.Y, dims.Y)
	k0, k1 := voxelSpan(b.Z, dims.Z)

	lo, hi := math.Inf(1), math.Inf(-1)
	voxels := a.grid.AttributeVoxels(attr)
	for k := k0; k <= k1; k++ {
		for j := j0; j <= j1; j++ {
			row := a.grid.Index(0, j, k)
			for i := i0; i <= i1; i++ {
				v := voxels[row+i]
				if v < lo {
					lo = v
				}
				if v > hi {
					hi = v
				}
			}
		}
	}
	return models.Range{Lower: lo, Upper: hi}
}

func voxelSpan(b, n int) (int, int) {
	first := b * BrickWidth
	last := first + BrickWidth
	if last > n-1 {
		last = n - 1
	}
	return first, last
}

func (a *GridAccelerator) brickIndex(linear int) models.Vec3i {
	nx, ny := a.bricks.X, a.bricks.Y
	return models.Vec3i{X: linear % nx, Y: (linear / nx) % ny, Z: linear / (nx * ny)}
}

// Grid returns the grid the accelerator was built from.
func (a *GridAccelerator) Grid() *grid.StructuredGrid { return a.grid }

// Bricks returns the number of bricks along each axis.
func (a *GridAccelerator) Bricks() models.Vec3i { return a.bricks }

// NumAttributes returns the number of attributes ranges are kept for.
func (a *GridAccelerator) NumAttributes() int { return a.attributes }

// Ranges exposes the per-brick ranges, indexed linear*NumAttributes()+attr.
// It must be treated as read-only.
func (a *GridAccelerator) Ranges() []models.Range { return a.ranges }

// Linear returns the row-major index of brick b.
func (a *GridAccelerator) Linear(b models.Vec3i) int {
	return b.X + a.bricks.X*(b.Y+a.bricks.Y*b.Z)
}

// Contains reports whether b addresses a brick of this accelerator.
func (a *GridAccelerator) Contains(b models.Vec3i) bool {
	return b.X >= 0 && b.Y >= 0 && b.Z >= 0 &&
		b.X < a.bricks.X && b.Y < a.bricks.Y && b.Z < a.bricks.Z
}

// RangeOfBrick returns the attribute 0 value range of the brick with
// row-major index linear.
func (a *GridAccelerator) RangeOfBrick(linear int) models.Range {
	return a.ranges[linear*a.attributes]
}

// AttributeRangeOfBrick returns the value range of attribute attr in the
// brick with row-major index linear.
func (a *GridAccelerator) AttributeRangeOfBrick(linear, attr int) models.Range {
	return a.ranges[linear*a.attributes+attr]
}

// BrickRange returns the attribute 0 value range of brick b, or false if b
// is out of bounds.
func (a *GridAccelerator) BrickRange(b models.Vec3i) (models.Range, bool) {
	return a.AttributeBrickRange(b, 0)
}

// AttributeBrickRange returns the value range of attribute attr in brick b,
// or false if b or attr is out of bounds.
func (a *GridAccelerator) AttributeBrickRange(b models.Vec3i, attr int) (models.Range, bool) {
	if !a.Contains(b) || attr < 0 || attr >= a.attributes {
		return models.EmptyRange(), false
	}
	return a.ranges[a.Linear(b)*a.attributes+attr], true
}

// BrickOf returns the brick containing the local (voxel index) coordinate l,
// clamped to the bricks that contain at least one interpolation cell.
func (a *GridAccelerator) BrickOf(l r3.Vec) models.Vec3i {
	dims := a.grid.Dimensions()
	return models.Vec3i{
		X: brickCoord(l.X, dims.X),
		Y: brickCoord(l.Y, dims.Y),
		Z: brickCoord(l.Z, dims.Z),
	}
}

func brickCoord(l float64, n int) int {
	last := (n - 2) / BrickWidth
	if !(l > 0) {
		return 0
	}
	if l >= float64(n-1) {
		return last
	}
	b := int(l) / BrickWidth
	if b > last {
		b = last
	}
	return b
}

// BrickBounds returns the object-space box of brick b. The box is not
// clipped to the grid.
func (a *GridAccelerator) BrickBounds(b models.Vec3i) r3.Box {
	return r3.Box{
		Min: a.grid.LocalToObject(r3.Vec{
			X: float64(b.X * BrickWidth),
			Y: float64(b.Y * BrickWidth),
			Z: float64(b.Z * BrickWidth),
		}),
		Max: a.grid.LocalToObject(r3.Vec{
			X: float64((b.X + 1) * BrickWidth),
			Y: float64((b.Y + 1) * BrickWidth),
			Z: float64((b.Z + 1) * BrickWidth),
		}),
	}
}

// Equal reports whether both accelerators hold the same brick layout,
// attribute count and ranges.
func (a *GridAccelerator) Equal(other *GridAccelerator) bool {
	if a == nil || other == nil {
		return a == other
	}
	if a.bricks != other.bricks || a.attributes != other.attributes || len(a.ranges) != len(other.ranges) {
		return false
	}
	for i := range a.ranges {
		if a.ranges[i] != other.ranges[i] {
			return false
		}
	}
	return true
}
