// Package visualization writes debug images of committed volumes: axis
// slices of the voxel grid and per-pixel maps of what ray iterators report.
package visualization

import (
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"math"
	"os"
	"path/filepath"

	"volrays/internal/models"
	"volrays/pkg/grid"
)

// Viewer extracts slices and regions from a structured grid.
type Viewer struct {
	// grid is the voxel grid being viewed
	grid *grid.StructuredGrid

	// dims caches the grid dimensions
	dims models.Vec3i

	// voxels is the attribute being viewed
	voxels []float64

	// window maps voxel values to grey levels; values outside are clamped
	window models.Range
}

// NewViewer creates a viewer whose grey levels span the grid's value range.
func NewViewer(g *grid.StructuredGrid) *Viewer {
	return &Viewer{
		grid:   g,
		dims:   g.Dimensions(),
		voxels: g.Voxels(),
		window: g.ValueRange(),
	}
}

// SetAttribute switches the viewed attribute and resets the window to its
// value range.
func (v *Viewer) SetAttribute(attr int) error {
	if err := v.grid.CheckAttribute(attr); err != nil {
		return err
	}
	v.voxels = v.grid.AttributeVoxels(attr)
	v.window = v.grid.AttributeValueRange(attr)
	return nil
}

func (v *Viewer) value(i, j, k int) float64 {
	return v.voxels[v.grid.Index(i, j, k)]
}

// SetWindow changes the value range mapped to black..white.
func (v *Viewer) SetWindow(r models.Range) { v.window = r }

// gray maps a voxel value into [0, 65535].
func (v *Viewer) gray(value float64) color.Gray16 {
	span := v.window.Upper - v.window.Lower
	f := 0.0
	if span > 0 {
		f = (value - v.window.Lower) / span
	}
	return color.Gray16{Y: uint16(math.Max(0, math.Min(65535, f*65535)))}
}

// ExtractSlice extracts the voxel plane at position along axis.
func (v *Viewer) ExtractSlice(axis string, position int) (image.Image, error) {
	if position < 0 {
		return nil, fmt.Errorf("position must be non-negative")
	}

	var img *image.Gray16

	switch axis {
	case "x", "X":
		// YZ plane
		if position >= v.dims.X {
			return nil, fmt.Errorf("position %d exceeds width %d", position, v.dims.X)
		}
		img = image.NewGray16(image.Rect(0, 0, v.dims.Z, v.dims.Y))
		for y := 0; y < v.dims.Y; y++ {
			for z := 0; z < v.dims.Z; z++ {
				img.SetGray16(z, y, v.gray(v.value(position, y, z)))
			}
		}

	case "y", "Y":
		// XZ plane
		if position >= v.dims.Y {
			return nil, fmt.Errorf("position %d exceeds height %d", position, v.dims.Y)
		}
		img = image.NewGray16(image.Rect(0, 0, v.dims.X, v.dims.Z))
		for z := 0; z < v.dims.Z; z++ {
			for x := 0; x < v.dims.X; x++ {
				img.SetGray16(x, z, v.gray(v.value(x, position, z)))
			}
		}

	case "z", "Z":
		// XY plane
		if position >= v.dims.Z {
			return nil, fmt.Errorf("position %d exceeds depth %d", position, v.dims.Z)
		}
		img = image.NewGray16(image.Rect(0, 0, v.dims.X, v.dims.Y))
		for y := 0; y < v.dims.Y; y++ {
			for x := 0; x < v.dims.X; x++ {
				img.SetGray16(x, y, v.gray(v.value(x, y, position)))
			}
		}

	default:
		return nil, fmt.Errorf("invalid axis: %s (must be x, y, or z)", axis)
	}

	return img, nil
}

// ExtractRegion copies a box of voxels, x fastest.
func (v *Viewer) ExtractRegion(start, size models.Vec3i) ([]float64, error) {
	if start.X < 0 || start.Y < 0 || start.Z < 0 {
		return nil, fmt.Errorf("start coordinates must be non-negative")
	}
	if size.X <= 0 || size.Y <= 0 || size.Z <= 0 {
		return nil, fmt.Errorf("size dimensions must be positive")
	}
	if start.X+size.X > v.dims.X || start.Y+size.Y > v.dims.Y || start.Z+size.Z > v.dims.Z {
		return nil, fmt.Errorf("region extends beyond volume boundaries")
	}

	region := make([]float64, size.Product())
	for z := 0; z < size.Z; z++ {
		for y := 0; y < size.Y; y++ {
			for x := 0; x < size.X; x++ {
				region[x+size.X*(y+size.Y*z)] = v.value(start.X+x, start.Y+y, start.Z+z)
			}
		}
	}
	return region, nil
}

// SaveSlice saves an image as JPEG.
func SaveSlice(img image.Image, filename string) error {
	file, err := os.Create(filename)
	if err != nil {
		return err
	}
	defer file.Close()

	return jpeg.Encode(file, img, &jpeg.Options{Quality: 90})
}

// SaveSliceSequence extracts and saves every slice along axis.
func (v *Viewer) SaveSliceSequence(axis string, outputDir string) error {
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return err
	}

	var maxPos int
	switch axis {
	case "x", "X":
		maxPos = v.dims.X
	case "y", "Y":
		maxPos = v.dims.Y
	case "z", "Z":
		maxPos = v.dims.Z
	default:
		return fmt.Errorf("invalid axis: %s (must be x, y, or z)", axis)
	}

	for pos := 0; pos < maxPos; pos++ {
		img, err := v.ExtractSlice(axis, pos)
		if err != nil {
			return err
		}

		filename := filepath.Join(outputDir, fmt.Sprintf("slice_%s_%03d.jpg", axis, pos))
		if err := SaveSlice(img, filename); err != nil {
			return err
		}
	}

	return nil
}
