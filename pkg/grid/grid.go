// Package grid implements the structured regular grid: one or more flat
// arrays of voxel values (attributes) laid out row-major with x varying
// fastest, placed in object space by an origin and a per-axis spacing.
//
// A StructuredGrid is immutable after construction and safe for concurrent
// reads.
package grid

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/spatial/r3"

	"volrays/internal/models"
)

var (
	// ErrDimensions is returned when any grid dimension is smaller than 2.
	ErrDimensions = errors.New("grid: every dimension must be at least 2")

	// ErrSpacing is returned when a spacing component is not a positive
	// finite number, or the origin is not finite.
	ErrSpacing = errors.New("grid: spacing must be positive and finite")

	// ErrNoVoxelData is returned when no voxel buffer was supplied.
	ErrNoVoxelData = errors.New("grid: missing voxel data")

	// ErrVoxelCount is returned when the voxel buffer length does not match
	// the product of the dimensions.
	ErrVoxelCount = errors.New("grid: voxel count does not match dimensions")

	// ErrAttribute is returned for an attribute index outside
	// [0, NumAttributes).
	ErrAttribute = errors.New("grid: attribute index out of range")
)

// StructuredGrid holds the voxel layout and values of a structured regular
// volume.
type StructuredGrid struct {
	// dims is the number of voxels along each axis
	dims models.Vec3i

	// origin is the object-space position of voxel (0,0,0)
	origin r3.Vec

	// spacing is the object-space distance between neighbouring voxels
	spacing r3.Vec

	// attributes holds one array of dims.X*dims.Y*dims.Z values per
	// attribute, x fastest
	attributes [][]float64

	// filter selects trilinear or nearest reconstruction
	filter models.Filter

	// valueRanges is the min/max over all voxels of each attribute
	valueRanges []models.Range
}

// New validates the layout and returns a single-attribute grid that takes
// ownership of voxels. The caller must not modify voxels afterwards.
func New(dims models.Vec3i, origin, spacing r3.Vec, voxels []float64, filter models.Filter) (*StructuredGrid, error) {
	return NewAttributes(dims, origin, spacing, [][]float64{voxels}, filter)
}

// NewAttributes validates the layout and returns a grid with one attribute
// per element of attributes. Every attribute shares the layout and filter.
// The grid takes ownership of the slices.
func NewAttributes(dims models.Vec3i, origin, spacing r3.Vec, attributes [][]float64, filter models.Filter) (*StructuredGrid, error) {
	if dims.X < 2 || dims.Y < 2 || dims.Z < 2 {
		return nil, fmt.Errorf("dimensions %s: %w", dims, ErrDimensions)
	}
	if !positiveFinite(spacing.X) || !positiveFinite(spacing.Y) || !positiveFinite(spacing.Z) {
		return nil, fmt.Errorf("spacing %v: %w", spacing, ErrSpacing)
	}
	if !finite(origin.X) || !finite(origin.Y) || !finite(origin.Z) {
		return nil, fmt.Errorf("origin %v: %w", origin, ErrSpacing)
	}
	if len(attributes) == 0 {
		return nil, ErrNoVoxelData
	}
	valueRanges := make([]models.Range, len(attributes))
	for a, voxels := range attributes {
		if voxels == nil {
			return nil, fmt.Errorf("attribute %d: %w", a, ErrNoVoxelData)
		}
		if len(voxels) != dims.Product() {
			return nil, fmt.Errorf("attribute %d: got %d voxels for dimensions %s (want %d): %w",
				a, len(voxels), dims, dims.Product(), ErrVoxelCount)
		}
		valueRanges[a] = models.Range{Lower: floats.Min(voxels), Upper: floats.Max(voxels)}
	}
	if filter != models.FilterTrilinear && filter != models.FilterNearest {
		return nil, fmt.Errorf("grid: unsupported filter %v", filter)
	}

	return &StructuredGrid{
		dims:        dims,
		origin:      origin,
		spacing:     spacing,
		attributes:  attributes,
		filter:      filter,
		valueRanges: valueRanges,
	}, nil
}

func positiveFinite(v float64) bool {
	return v > 0 && !math.IsInf(v, 1)
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// Dimensions returns the number of voxels along each axis.
func (g *StructuredGrid) Dimensions() models.Vec3i { return g.dims }

// Origin returns the object-space position of voxel (0,0,0).
func (g *StructuredGrid) Origin() r3.Vec { return g.origin }

// Spacing returns the distance between neighbouring voxels along each axis.
func (g *StructuredGrid) Spacing() r3.Vec { return g.spacing }

// Filter returns the reconstruction filter.
func (g *StructuredGrid) Filter() models.Filter { return g.filter }

// NumAttributes returns the number of attributes.
func (g *StructuredGrid) NumAttributes() int { return len(g.attributes) }

// CheckAttribute returns ErrAttribute if attr is not a valid index.
func (g *StructuredGrid) CheckAttribute(attr int) error {
	if attr < 0 || attr >= len(g.attributes) {
		return fmt.Errorf("attribute %d of %d: %w", attr, len(g.attributes), ErrAttribute)
	}
	return nil
}

// ValueRange returns the min/max over the voxel values of attribute 0.
func (g *StructuredGrid) ValueRange() models.Range { return g.valueRanges[0] }

// AttributeValueRange returns the min/max over the voxel values of attr.
func (g *StructuredGrid) AttributeValueRange(attr int) models.Range { return g.valueRanges[attr] }

// Voxels exposes the voxel array of attribute 0. It must be treated as
// read-only.
func (g *StructuredGrid) Voxels() []float64 { return g.attributes[0] }

// AttributeVoxels exposes the voxel array of attr. It must be treated as
// read-only.
func (g *StructuredGrid) AttributeVoxels(attr int) []float64 { return g.attributes[attr] }

// Index returns the flat array index of voxel (i, j, k).
func (g *StructuredGrid) Index(i, j, k int) int {
	return i + g.dims.X*(j+g.dims.Y*k)
}

// VoxelValue returns the attribute 0 value of voxel (i, j, k). Indices must
// be in range.
func (g *StructuredGrid) VoxelValue(i, j, k int) float64 {
	return g.attributes[0][g.Index(i, j, k)]
}

// BoundingBox returns the object-space box spanned by the voxel centers,
// origin to origin + (dims-1)*spacing.
func (g *StructuredGrid) BoundingBox() r3.Box {
	return r3.Box{
		Min: g.origin,
		Max: g.LocalToObject(r3.Vec{
			X: float64(g.dims.X - 1),
			Y: float64(g.dims.Y - 1),
			Z: float64(g.dims.Z - 1),
		}),
	}
}

// ObjectToLocal converts an object-space point to continuous voxel index
// coordinates.
func (g *StructuredGrid) ObjectToLocal(p r3.Vec) r3.Vec {
	return r3.Vec{
		X: (p.X - g.origin.X) / g.spacing.X,
		Y: (p.Y - g.origin.Y) / g.spacing.Y,
		Z: (p.Z - g.origin.Z) / g.spacing.Z,
	}
}

// LocalToObject converts continuous voxel index coordinates to object space.
func (g *StructuredGrid) LocalToObject(l r3.Vec) r3.Vec {
	return r3.Vec{
		X: g.origin.X + l.X*g.spacing.X,
		Y: g.origin.Y + l.Y*g.spacing.Y,
		Z: g.origin.Z + l.Z*g.spacing.Z,
	}
}
