package grid

import (
	"errors"
	"math"
	"testing"

	"gonum.org/v1/gonum/spatial/r3"

	"volrays/internal/models"
)

// rampGrid builds an n³ grid over the unit cube holding f evaluated at each
// voxel center.
func rampGrid(t *testing.T, n int, f func(p r3.Vec) float64) *StructuredGrid {
	t.Helper()
	spacing := 1.0 / float64(n-1)
	voxels := make([]float64, n*n*n)
	for k := 0; k < n; k++ {
		for j := 0; j < n; j++ {
			for i := 0; i < n; i++ {
				p := r3.Vec{X: float64(i) * spacing, Y: float64(j) * spacing, Z: float64(k) * spacing}
				voxels[i+n*(j+n*k)] = f(p)
			}
		}
	}
	g, err := New(models.Vec3i{X: n, Y: n, Z: n}, r3.Vec{}, r3.Vec{X: spacing, Y: spacing, Z: spacing}, voxels, models.FilterTrilinear)
	if err != nil {
		t.Fatalf("Failed to create grid: %v", err)
	}
	return g
}

// TestNewValidation verifies that malformed layouts are rejected
func TestNewValidation(t *testing.T) {
	dims := models.Vec3i{X: 2, Y: 2, Z: 2}
	unit := r3.Vec{X: 1, Y: 1, Z: 1}
	voxels := make([]float64, 8)

	tests := []struct {
		name    string
		dims    models.Vec3i
		origin  r3.Vec
		spacing r3.Vec
		voxels  []float64
		want    error
	}{
		{"flat dimension", models.Vec3i{X: 2, Y: 1, Z: 2}, r3.Vec{}, unit, make([]float64, 4), ErrDimensions},
		{"zero spacing", dims, r3.Vec{}, r3.Vec{X: 1, Y: 0, Z: 1}, voxels, ErrSpacing},
		{"negative spacing", dims, r3.Vec{}, r3.Vec{X: -1, Y: 1, Z: 1}, voxels, ErrSpacing},
		{"infinite spacing", dims, r3.Vec{}, r3.Vec{X: 1, Y: 1, Z: math.Inf(1)}, voxels, ErrSpacing},
		{"NaN origin", dims, r3.Vec{X: math.NaN()}, unit, voxels, ErrSpacing},
		{"missing voxels", dims, r3.Vec{}, unit, nil, ErrNoVoxelData},
		{"short voxels", dims, r3.Vec{}, unit, make([]float64, 7), ErrVoxelCount},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.dims, tt.origin, tt.spacing, tt.voxels, models.FilterTrilinear)
			if !errors.Is(err, tt.want) {
				t.Errorf("Expected error %v, got %v", tt.want, err)
			}
		})
	}
}

// TestValueRange verifies that the grid records the min and max voxel
func TestValueRange(t *testing.T) {
	voxels := []float64{3, -2, 7, 0, 1, 1, 1, 1}
	g, err := New(models.Vec3i{X: 2, Y: 2, Z: 2}, r3.Vec{}, r3.Vec{X: 1, Y: 1, Z: 1}, voxels, models.FilterTrilinear)
	if err != nil {
		t.Fatalf("Failed to create grid: %v", err)
	}
	if got := g.ValueRange(); got.Lower != -2 || got.Upper != 7 {
		t.Errorf("Expected value range [-2, 7], got %v", got)
	}
}

// TestSampleAtVoxelCenters verifies that sampling exactly at a voxel returns
// the stored value bit-for-bit
func TestSampleAtVoxelCenters(t *testing.T) {
	n := 128
	g := rampGrid(t, n, func(p r3.Vec) float64 { return p.X })
	h := 1.0 / float64(n-1)

	for _, i := range []int{0, 1, 17, 63, 64, 126, 127} {
		p := r3.Vec{X: float64(i) * h, Y: 0.5, Z: 0.25}
		got := g.ComputeSample(p)
		want := float64(i) * h
		if got != want {
			t.Errorf("Sample at voxel %d: expected %v, got %v", i, want, got)
		}
	}
}

// TestTrilinearInterpolation verifies that linear fields are reproduced
// between voxels
func TestTrilinearInterpolation(t *testing.T) {
	g := rampGrid(t, 9, func(p r3.Vec) float64 { return 2*p.X - p.Y + 0.5*p.Z })

	points := []r3.Vec{
		{X: 0.1, Y: 0.2, Z: 0.3},
		{X: 0.77, Y: 0.01, Z: 0.99},
		{X: 0.5, Y: 0.5, Z: 0.5},
	}
	for _, p := range points {
		want := 2*p.X - p.Y + 0.5*p.Z
		if got := g.ComputeSample(p); math.Abs(got-want) > 1e-12 {
			t.Errorf("Sample at %v: expected %v, got %v", p, want, got)
		}
	}
}

// TestSampleOutsideClamps verifies that points outside the grid take the
// value of the nearest boundary
func TestSampleOutsideClamps(t *testing.T) {
	g := rampGrid(t, 16, func(p r3.Vec) float64 { return p.X + p.Y + p.Z })

	if got := g.ComputeSample(r3.Vec{X: -5, Y: -5, Z: -5}); got != 0 {
		t.Errorf("Expected clamped sample 0, got %v", got)
	}
	if got := g.ComputeSample(r3.Vec{X: 5, Y: 5, Z: 5}); math.Abs(got-3) > 1e-12 {
		t.Errorf("Expected clamped sample 3, got %v", got)
	}
	if got := g.ComputeSample(r3.Vec{X: math.NaN(), Y: 0, Z: 0}); math.IsNaN(got) {
		t.Error("Expected NaN coordinate to clamp to the boundary")
	}
}

// TestNearestFilter verifies the nearest reconstruction
func TestNearestFilter(t *testing.T) {
	voxels := []float64{0, 1, 2, 3, 4, 5, 6, 7}
	g, err := New(models.Vec3i{X: 2, Y: 2, Z: 2}, r3.Vec{}, r3.Vec{X: 1, Y: 1, Z: 1}, voxels, models.FilterNearest)
	if err != nil {
		t.Fatalf("Failed to create grid: %v", err)
	}

	tests := []struct {
		p    r3.Vec
		want float64
	}{
		{r3.Vec{X: 0.4, Y: 0.4, Z: 0.4}, 0},
		{r3.Vec{X: 0.6, Y: 0.4, Z: 0.4}, 1},
		{r3.Vec{X: 0.6, Y: 0.6, Z: 0.6}, 7},
		{r3.Vec{X: 9, Y: -9, Z: 9}, 5},
	}
	for _, tt := range tests {
		if got := g.ComputeSample(tt.p); got != tt.want {
			t.Errorf("Nearest sample at %v: expected %v, got %v", tt.p, tt.want, got)
		}
	}
}

// TestComputeSamples verifies that the batch form matches single samples
func TestComputeSamples(t *testing.T) {
	g := rampGrid(t, 8, func(p r3.Vec) float64 { return p.X * p.Y })
	pts := []r3.Vec{{X: 0.1, Y: 0.9}, {X: 0.5, Y: 0.5, Z: 0.5}, {X: 2, Y: 2, Z: 2}}
	dst := make([]float64, len(pts))
	g.ComputeSamples(dst, pts)
	for i, p := range pts {
		if want := g.ComputeSample(p); dst[i] != want {
			t.Errorf("Sample %d: expected %v, got %v", i, want, dst[i])
		}
	}
	g.ComputeSamples(nil, nil)
}

// TestComputeGradient verifies finite-difference gradients in the interior
// and on the faces of a linear field
func TestComputeGradient(t *testing.T) {
	g := rampGrid(t, 11, func(p r3.Vec) float64 { return 3*p.X - 2*p.Y + p.Z })
	want := r3.Vec{X: 3, Y: -2, Z: 1}

	for _, p := range []r3.Vec{
		{X: 0.5, Y: 0.5, Z: 0.5},
		{X: 0, Y: 0.5, Z: 1},
		{X: 1, Y: 1, Z: 0},
	} {
		got := g.ComputeGradient(p)
		if r3.Norm(r3.Sub(got, want)) > 1e-9 {
			t.Errorf("Gradient at %v: expected %v, got %v", p, want, got)
		}
	}
}

// TestAttributes verifies that attributes share the layout but are sampled
// and validated independently
func TestAttributes(t *testing.T) {
	dims := models.Vec3i{X: 2, Y: 2, Z: 2}
	first := []float64{0, 1, 2, 3, 4, 5, 6, 7}
	second := []float64{10, 10, 10, 10, 20, 20, 20, 20}
	g, err := NewAttributes(dims, r3.Vec{}, r3.Vec{X: 1, Y: 1, Z: 1}, [][]float64{first, second}, models.FilterTrilinear)
	if err != nil {
		t.Fatalf("Failed to create grid: %v", err)
	}

	if g.NumAttributes() != 2 {
		t.Fatalf("Expected 2 attributes, got %d", g.NumAttributes())
	}
	if r := g.AttributeValueRange(1); r != (models.Range{Lower: 10, Upper: 20}) {
		t.Errorf("Expected attribute 1 range [10, 20], got %v", r)
	}
	if r := g.ValueRange(); r != (models.Range{Lower: 0, Upper: 7}) {
		t.Errorf("Expected attribute 0 range [0, 7], got %v", r)
	}

	p := r3.Vec{X: 0.5, Y: 0.5, Z: 0.25}
	if got := g.ComputeSampleAttribute(p, 1); got != 12.5 {
		t.Errorf("Expected attribute 1 sample 12.5, got %v", got)
	}
	if got, want := g.ComputeSampleAttribute(p, 0), g.ComputeSample(p); got != want {
		t.Errorf("Expected attribute 0 to match ComputeSample %v, got %v", want, got)
	}
	dst := make([]float64, 2)
	g.ComputeSamplesAttribute(dst, []r3.Vec{{}, {X: 1, Y: 1, Z: 1}}, 1)
	if dst[0] != 10 || dst[1] != 20 {
		t.Errorf("Expected batch samples [10 20], got %v", dst)
	}
	if grad := g.ComputeGradientAttribute(r3.Vec{}, 1); math.Abs(grad.Z-10) > 1e-12 || grad.X != 0 || grad.Y != 0 {
		t.Errorf("Expected attribute 1 gradient (0,0,10), got %v", grad)
	}

	for _, attr := range []int{-1, 2} {
		if err := g.CheckAttribute(attr); !errors.Is(err, ErrAttribute) {
			t.Errorf("Attribute %d: expected ErrAttribute, got %v", attr, err)
		}
	}
	if err := g.CheckAttribute(1); err != nil {
		t.Errorf("Attribute 1: unexpected error %v", err)
	}

	tests := []struct {
		name       string
		attributes [][]float64
		want       error
	}{
		{"no attributes", nil, ErrNoVoxelData},
		{"nil attribute", [][]float64{first, nil}, ErrNoVoxelData},
		{"short attribute", [][]float64{first, second[:7]}, ErrVoxelCount},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewAttributes(dims, r3.Vec{}, r3.Vec{X: 1, Y: 1, Z: 1}, tt.attributes, models.FilterTrilinear)
			if !errors.Is(err, tt.want) {
				t.Errorf("Expected %v, got %v", tt.want, err)
			}
		})
	}
}

// TestObjectLocalRoundTrip verifies the coordinate transforms
func TestObjectLocalRoundTrip(t *testing.T) {
	g, err := New(models.Vec3i{X: 4, Y: 5, Z: 6}, r3.Vec{X: -1, Y: 2, Z: 0.5},
		r3.Vec{X: 0.5, Y: 0.25, Z: 2}, make([]float64, 120), models.FilterTrilinear)
	if err != nil {
		t.Fatalf("Failed to create grid: %v", err)
	}

	l := r3.Vec{X: 1.5, Y: 3, Z: 4.25}
	back := g.ObjectToLocal(g.LocalToObject(l))
	if r3.Norm(r3.Sub(back, l)) > 1e-12 {
		t.Errorf("Expected %v after round trip, got %v", l, back)
	}

	box := g.BoundingBox()
	wantMax := r3.Vec{X: 0.5, Y: 3, Z: 10.5}
	if box.Min != g.Origin() || box.Max != wantMax {
		t.Errorf("Expected bounding box %v..%v, got %v..%v", g.Origin(), wantMax, box.Min, box.Max)
	}
}

// TestDecodeVoxels verifies every supported voxel encoding
func TestDecodeVoxels(t *testing.T) {
	values := []float64{0, 1, 2.5, 100}

	for _, vt := range []models.VoxelType{
		models.VoxelFloat, models.VoxelDouble, models.VoxelHalf,
	} {
		raw, err := EncodeVoxels(values, vt)
		if err != nil {
			t.Fatalf("%s: encode failed: %v", vt, err)
		}
		got, err := DecodeVoxels(raw, vt, len(values))
		if err != nil {
			t.Fatalf("%s: decode failed: %v", vt, err)
		}
		for i := range values {
			if got[i] != values[i] {
				t.Errorf("%s: voxel %d expected %v, got %v", vt, i, values[i], got[i])
			}
		}
	}

	raw := []byte{0xff, 0xff, 0x02, 0x00}
	short, err := DecodeVoxels(raw, models.VoxelShort, 2)
	if err != nil {
		t.Fatalf("short decode failed: %v", err)
	}
	if short[0] != -1 || short[1] != 2 {
		t.Errorf("Expected short voxels [-1 2], got %v", short)
	}
	ushort, _ := DecodeVoxels(raw, models.VoxelUShort, 2)
	if ushort[0] != 65535 {
		t.Errorf("Expected ushort voxel 65535, got %v", ushort[0])
	}
	uchar, _ := DecodeVoxels(raw, models.VoxelUChar, 4)
	if uchar[0] != 255 || uchar[2] != 2 {
		t.Errorf("Expected uchar voxels [255 255 2 0], got %v", uchar)
	}

	if _, err := DecodeVoxels(raw, models.VoxelFloat, 2); !errors.Is(err, ErrVoxelCount) {
		t.Errorf("Expected ErrVoxelCount for short buffer, got %v", err)
	}
}
