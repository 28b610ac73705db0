package volume

import (
	"gonum.org/v1/gonum/spatial/r3"

	"volrays/internal/models"
)

// Params holds everything a commit needs to build a structured regular
// volume.
type Params struct {
	// Dimensions is the number of voxels along each axis; every component
	// must be at least 2.
	Dimensions models.Vec3i

	// Origin is the object-space position of voxel (0,0,0).
	Origin r3.Vec

	// Spacing is the distance between neighbouring voxels along each axis.
	Spacing r3.Vec

	// Voxels holds one slice of field values per attribute, x fastest.
	// When set, Raw and VoxelType are ignored. The volume takes ownership
	// of the slices.
	Voxels [][]float64

	// Raw holds one little-endian voxel buffer of type VoxelType per
	// attribute, used when Voxels is nil.
	Raw [][]byte

	// VoxelType is the element type of every Raw buffer.
	VoxelType models.VoxelType

	// Filter selects the reconstruction filter.
	Filter models.Filter

	// Workers is the accelerator build parallelism. Zero uses the volume's
	// Options.
	Workers int
}
