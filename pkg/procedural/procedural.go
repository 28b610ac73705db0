// Package procedural generates synthetic scalar fields on structured grids.
package procedural

import (
	"fmt"
	"math"
	"runtime"
	"sort"
	"sync"

	"gonum.org/v1/gonum/spatial/r3"

	"volrays/internal/models"
	"volrays/pkg/grid"
	"volrays/pkg/volume"
)

// Field is an analytic scalar field with its gradient.
type Field struct {
	Name     string
	Value    func(p r3.Vec) float64
	Gradient func(p r3.Vec) r3.Vec
}

var (
	// XRamp is f(p) = p.x.
	XRamp = Field{
		Name:     "xramp",
		Value:    func(p r3.Vec) float64 { return p.X },
		Gradient: func(r3.Vec) r3.Vec { return r3.Vec{X: 1} },
	}

	// ZRamp is f(p) = p.z.
	ZRamp = Field{
		Name:     "zramp",
		Value:    func(p r3.Vec) float64 { return p.Z },
		Gradient: func(r3.Vec) r3.Vec { return r3.Vec{Z: 1} },
	}

	// XYZ is f(p) = p.x * p.y * p.z.
	XYZ = Field{
		Name:  "xyz",
		Value: func(p r3.Vec) float64 { return p.X * p.Y * p.Z },
		Gradient: func(p r3.Vec) r3.Vec {
			return r3.Vec{X: p.Y * p.Z, Y: p.X * p.Z, Z: p.X * p.Y}
		},
	}

	// Wavelet is sin(3x) + sin(3y) + cos(3z).
	Wavelet = Field{
		Name: "wavelet",
		Value: func(p r3.Vec) float64 {
			return math.Sin(3*p.X) + math.Sin(3*p.Y) + math.Cos(3*p.Z)
		},
		Gradient: func(p r3.Vec) r3.Vec {
			return r3.Vec{X: 3 * math.Cos(3*p.X), Y: 3 * math.Cos(3*p.Y), Z: -3 * math.Sin(3*p.Z)}
		},
	}

	// Sphere is the distance from the origin.
	Sphere = Field{
		Name:  "sphere",
		Value: func(p r3.Vec) float64 { return r3.Norm(p) },
		Gradient: func(p r3.Vec) r3.Vec {
			if n := r3.Norm(p); n > 0 {
				return r3.Scale(1/n, p)
			}
			return r3.Vec{}
		},
	}

	// Constant is 0.5 everywhere.
	Constant = Field{
		Name:     "const",
		Value:    func(r3.Vec) float64 { return 0.5 },
		Gradient: func(r3.Vec) r3.Vec { return r3.Vec{} },
	}
)

var fields = map[string]Field{}

func init() {
	for _, f := range []Field{XRamp, ZRamp, XYZ, Wavelet, Sphere, Constant} {
		fields[f.Name] = f
	}
}

// Lookup returns the field registered under name.
func Lookup(name string) (Field, error) {
	f, ok := fields[name]
	if !ok {
		return Field{}, fmt.Errorf("unknown field %q (available: %v)", name, Names())
	}
	return f, nil
}

// Names lists the registered fields in sorted order.
func Names() []string {
	names := make([]string, 0, len(fields))
	for n := range fields {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Sample evaluates f at every voxel of the layout, x fastest. Z slices are
// split between workers goroutines; workers <= 0 uses runtime.NumCPU().
func Sample(f Field, dims models.Vec3i, origin, spacing r3.Vec, workers int) []float64 {
	voxels := make([]float64, dims.Product())

	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	slicesPerWorker := (dims.Z + workers - 1) / workers

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		startZ := w * slicesPerWorker
		endZ := min((w+1)*slicesPerWorker, dims.Z)
		if startZ >= endZ {
			break
		}

		wg.Add(1)
		go func(startZ, endZ int) {
			defer wg.Done()
			for k := startZ; k < endZ; k++ {
				for j := 0; j < dims.Y; j++ {
					for i := 0; i < dims.X; i++ {
						p := r3.Vec{
							X: origin.X + float64(i)*spacing.X,
							Y: origin.Y + float64(j)*spacing.Y,
							Z: origin.Z + float64(k)*spacing.Z,
						}
						voxels[i+dims.X*(j+dims.Y*k)] = f.Value(p)
					}
				}
			}
		}(startZ, endZ)
	}
	wg.Wait()

	return voxels
}

// Params returns single-attribute commit parameters for f sampled on the
// given layout.
func Params(f Field, dims models.Vec3i, origin, spacing r3.Vec) volume.Params {
	return Attributes([]Field{f}, dims, origin, spacing, 0)
}

// Attributes returns commit parameters with one attribute per field, in
// order. workers is used both for sampling and for the accelerator build.
func Attributes(fields []Field, dims models.Vec3i, origin, spacing r3.Vec, workers int) volume.Params {
	voxels := make([][]float64, len(fields))
	for a, f := range fields {
		voxels[a] = Sample(f, dims, origin, spacing, workers)
	}
	return volume.Params{
		Dimensions: dims,
		Origin:     origin,
		Spacing:    spacing,
		Voxels:     voxels,
		Workers:    workers,
	}
}

// UnitCube returns commit parameters for f on an n³ grid spanning [0,1]³.
func UnitCube(f Field, n int) volume.Params {
	h := 1 / float64(n-1)
	return Params(f, models.Vec3i{X: n, Y: n, Z: n}, r3.Vec{}, r3.Vec{X: h, Y: h, Z: h})
}

// Encoded returns commit parameters whose voxels are handed over as raw
// buffers of type t, one per attribute, the way an external producer would.
// Values are clamped to the range of integer types first; unsigned types
// take the absolute value.
func Encoded(p volume.Params, t models.VoxelType) (volume.Params, error) {
	lo, hi := typeLimits(t)
	raw := make([][]byte, len(p.Voxels))
	for a, voxels := range p.Voxels {
		values := make([]float64, len(voxels))
		for i, v := range voxels {
			if lo == 0 {
				v = math.Abs(v)
			}
			values[i] = math.Max(lo, math.Min(hi, v))
		}

		var err error
		raw[a], err = grid.EncodeVoxels(values, t)
		if err != nil {
			return volume.Params{}, fmt.Errorf("attribute %d: %w", a, err)
		}
	}
	p.Voxels = nil
	p.Raw = raw
	p.VoxelType = t
	return p, nil
}

func typeLimits(t models.VoxelType) (float64, float64) {
	switch t {
	case models.VoxelUChar:
		return 0, math.MaxUint8
	case models.VoxelShort:
		return math.MinInt16, math.MaxInt16
	case models.VoxelUShort:
		return 0, math.MaxUint16
	case models.VoxelHalf:
		return -65504, 65504
	case models.VoxelFloat:
		return -math.MaxFloat32, math.MaxFloat32
	default:
		return math.Inf(-1), math.Inf(1)
	}
}
