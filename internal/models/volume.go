package models

import (
	"fmt"
	"math"
)

// Vec3i is an integer 3-vector used for grid dimensions, voxel indices and
// brick indices.
type Vec3i struct {
	X, Y, Z int
}

// Product returns X*Y*Z.
func (v Vec3i) Product() int {
	return v.X * v.Y * v.Z
}

// Add returns the component-wise sum.
func (v Vec3i) Add(o Vec3i) Vec3i {
	return Vec3i{v.X + o.X, v.Y + o.Y, v.Z + o.Z}
}

// String formats the vector as XxYxZ.
func (v Vec3i) String() string {
	return fmt.Sprintf("%dx%dx%d", v.X, v.Y, v.Z)
}

// Range is a closed 1D interval [Lower, Upper]. It is used both for
// parametric ray ranges and for value ranges.
type Range struct {
	Lower float64
	Upper float64
}

// EmptyRange returns the canonical empty range (+Inf, -Inf), which is the
// identity for Extend.
func EmptyRange() Range {
	return Range{Lower: math.Inf(1), Upper: math.Inf(-1)}
}

// Empty reports whether the range contains no interior. A range with a NaN
// bound is empty.
func (r Range) Empty() bool {
	return !(r.Upper > r.Lower)
}

// IsNaN reports whether either bound is NaN.
func (r Range) IsNaN() bool {
	return math.IsNaN(r.Lower) || math.IsNaN(r.Upper)
}

// Overlaps reports whether two closed ranges share at least one point.
func (r Range) Overlaps(o Range) bool {
	return r.Upper >= o.Lower && r.Lower <= o.Upper
}

// Contains reports whether v lies in the closed range.
func (r Range) Contains(v float64) bool {
	return v >= r.Lower && v <= r.Upper
}

// Extend grows the range to include v.
func (r Range) Extend(v float64) Range {
	if v < r.Lower {
		r.Lower = v
	}
	if v > r.Upper {
		r.Upper = v
	}
	return r
}

// Union returns the smallest range covering both r and o.
func (r Range) Union(o Range) Range {
	return r.Extend(o.Lower).Extend(o.Upper)
}

// VoxelType identifies the element type of a raw voxel buffer handed over by
// the volume commit protocol.
type VoxelType int

const (
	VoxelFloat VoxelType = iota
	VoxelDouble
	VoxelUChar
	VoxelShort
	VoxelUShort
	VoxelHalf
)

// Size returns the number of bytes of one voxel of this type.
func (t VoxelType) Size() int {
	switch t {
	case VoxelUChar:
		return 1
	case VoxelShort, VoxelUShort, VoxelHalf:
		return 2
	case VoxelFloat:
		return 4
	case VoxelDouble:
		return 8
	default:
		return 0
	}
}

func (t VoxelType) String() string {
	switch t {
	case VoxelFloat:
		return "float"
	case VoxelDouble:
		return "double"
	case VoxelUChar:
		return "uchar"
	case VoxelShort:
		return "short"
	case VoxelUShort:
		return "ushort"
	case VoxelHalf:
		return "half"
	default:
		return fmt.Sprintf("VoxelType(%d)", int(t))
	}
}

// ParseVoxelType maps a configuration string to a VoxelType.
func ParseVoxelType(s string) (VoxelType, error) {
	for _, t := range []VoxelType{VoxelFloat, VoxelDouble, VoxelUChar, VoxelShort, VoxelUShort, VoxelHalf} {
		if t.String() == s {
			return t, nil
		}
	}
	return 0, fmt.Errorf("unknown voxel type %q", s)
}

// Filter selects the reconstruction used when sampling between voxels.
type Filter int

const (
	// FilterTrilinear blends the 8 voxels surrounding the sample point.
	FilterTrilinear Filter = iota

	// FilterNearest returns the value of the closest voxel.
	FilterNearest
)

func (f Filter) String() string {
	switch f {
	case FilterTrilinear:
		return "trilinear"
	case FilterNearest:
		return "nearest"
	default:
		return fmt.Sprintf("Filter(%d)", int(f))
	}
}

// ParseFilter maps a configuration string to a Filter.
func ParseFilter(s string) (Filter, error) {
	switch s {
	case "", "trilinear":
		return FilterTrilinear, nil
	case "nearest":
		return FilterNearest, nil
	default:
		return 0, fmt.Errorf("unknown filter %q", s)
	}
}
