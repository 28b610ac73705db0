package volume

import (
	"errors"
	"math"
	"runtime"
	"sync"
	"testing"

	"gonum.org/v1/gonum/spatial/r3"

	"volrays/internal/models"
	"volrays/pkg/grid"
)

func rampParams(n int) Params {
	voxels := make([]float64, n*n*n)
	for k := 0; k < n; k++ {
		for j := 0; j < n; j++ {
			for i := 0; i < n; i++ {
				voxels[i+n*(j+n*k)] = float64(i)
			}
		}
	}
	return Params{
		Dimensions: models.Vec3i{X: n, Y: n, Z: n},
		Spacing:    r3.Vec{X: 1, Y: 1, Z: 1},
		Voxels:     [][]float64{voxels},
	}
}

// TestUncommittedVolume verifies that every query fails before the first
// commit
func TestUncommittedVolume(t *testing.T) {
	v := New()
	if v.Committed() {
		t.Fatal("New volume should not be committed")
	}
	if _, err := v.Snapshot(); !errors.Is(err, ErrNotCommitted) {
		t.Errorf("Expected ErrNotCommitted from Snapshot, got %v", err)
	}
	if _, err := v.ComputeSample(r3.Vec{}); !errors.Is(err, ErrNotCommitted) {
		t.Errorf("Expected ErrNotCommitted from ComputeSample, got %v", err)
	}
	if _, err := v.ValueRange(); !errors.Is(err, ErrNotCommitted) {
		t.Errorf("Expected ErrNotCommitted from ValueRange, got %v", err)
	}
}

// TestCommit verifies a successful commit publishes a sampled grid and its
// accelerator
func TestCommit(t *testing.T) {
	v := New()
	if err := v.Commit(rampParams(20)); err != nil {
		t.Fatalf("Commit failed: %v", err)
	}

	s, err := v.Snapshot()
	if err != nil {
		t.Fatalf("Snapshot failed: %v", err)
	}
	if s.Accelerator().Grid() != s.Grid() {
		t.Error("Expected accelerator to be built from the published grid")
	}
	if s.Version() != 1 {
		t.Errorf("Expected version 1, got %d", s.Version())
	}

	got, err := v.ComputeSample(r3.Vec{X: 3.25, Y: 7, Z: 1})
	if err != nil || math.Abs(got-3.25) > 1e-12 {
		t.Errorf("Expected sample 3.25, got %v (err %v)", got, err)
	}

	pts := []r3.Vec{{X: 1}, {X: 2.5}, {X: -4}}
	dst := make([]float64, 3)
	if err := v.ComputeSamples(dst, pts); err != nil {
		t.Fatalf("ComputeSamples failed: %v", err)
	}
	if dst[0] != 1 || dst[1] != 2.5 || dst[2] != 0 {
		t.Errorf("Expected samples [1 2.5 0], got %v", dst)
	}
	if err := v.ComputeSamples(dst[:1], pts); err == nil {
		t.Error("Expected error for short destination")
	}

	grad, _ := v.ComputeGradient(r3.Vec{X: 10, Y: 10, Z: 10})
	if math.Abs(grad.X-1) > 1e-12 || grad.Y != 0 || grad.Z != 0 {
		t.Errorf("Expected gradient (1,0,0), got %v", grad)
	}

	r, _ := v.ValueRange()
	if r.Lower != 0 || r.Upper != 19 {
		t.Errorf("Expected value range [0, 19], got %v", r)
	}
}

// TestFailedCommitKeepsSnapshot verifies that a rejected commit leaves the
// previous state published
func TestFailedCommitKeepsSnapshot(t *testing.T) {
	v := New()
	if err := v.Commit(rampParams(8)); err != nil {
		t.Fatalf("Commit failed: %v", err)
	}
	before, _ := v.Snapshot()

	bad := rampParams(8)
	bad.Voxels[0] = bad.Voxels[0][:10]
	if err := v.Commit(bad); !errors.Is(err, grid.ErrVoxelCount) {
		t.Errorf("Expected ErrVoxelCount, got %v", err)
	}

	bad = rampParams(8)
	bad.Spacing.Y = 0
	if err := v.Commit(bad); !errors.Is(err, grid.ErrSpacing) {
		t.Errorf("Expected ErrSpacing, got %v", err)
	}

	after, _ := v.Snapshot()
	if after != before {
		t.Error("Expected failed commits to keep the previous snapshot")
	}
}

// TestCommitRawVoxels verifies commits from typed byte buffers
func TestCommitRawVoxels(t *testing.T) {
	values := []float64{0, 1, 2, 3, 4, 5, 6, 7}
	raw, err := grid.EncodeVoxels(values, models.VoxelUChar)
	if err != nil {
		t.Fatalf("EncodeVoxels failed: %v", err)
	}

	v := New()
	p := Params{
		Dimensions: models.Vec3i{X: 2, Y: 2, Z: 2},
		Spacing:    r3.Vec{X: 1, Y: 1, Z: 1},
		Raw:        [][]byte{raw},
		VoxelType:  models.VoxelUChar,
	}
	if err := v.Commit(p); err != nil {
		t.Fatalf("Commit failed: %v", err)
	}
	got, _ := v.ComputeSample(r3.Vec{X: 1, Y: 1, Z: 1})
	if got != 7 {
		t.Errorf("Expected corner sample 7, got %v", got)
	}

	p.Raw = [][]byte{raw[:7]}
	if err := v.Commit(p); !errors.Is(err, grid.ErrVoxelCount) {
		t.Errorf("Expected ErrVoxelCount for short buffer, got %v", err)
	}
}

// TestConcurrentCommitAndRead verifies readers always see a consistent grid
// and accelerator pair while commits are published
func TestConcurrentCommitAndRead(t *testing.T) {
	v := NewWithOptions(Initialize(Options{Workers: 2}))
	if err := v.Commit(rampParams(17)); err != nil {
		t.Fatalf("Commit failed: %v", err)
	}

	var wg sync.WaitGroup
	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				s, err := v.Snapshot()
				if err != nil {
					t.Errorf("Snapshot failed: %v", err)
					return
				}
				if s.Accelerator().Grid() != s.Grid() {
					t.Error("Observed accelerator from a different grid")
					return
				}
			}
		}()
	}
	for i := 0; i < 5; i++ {
		if err := v.Commit(rampParams(17 + i)); err != nil {
			t.Errorf("Commit %d failed: %v", i, err)
		}
	}
	wg.Wait()

	s, _ := v.Snapshot()
	if s.Version() != 6 {
		t.Errorf("Expected version 6 after six commits, got %d", s.Version())
	}
}

// TestInitializeOptions verifies option resolution and that options stay
// with the volume they were given to
func TestInitializeOptions(t *testing.T) {
	if got := Initialize(Options{}); got.Workers != runtime.NumCPU() {
		t.Errorf("Expected %d workers, got %d", runtime.NumCPU(), got.Workers)
	}
	if got := Initialize(Options{Workers: 3}); got.Workers != 3 {
		t.Errorf("Expected 3 workers, got %d", got.Workers)
	}

	a := NewWithOptions(Options{Workers: 3})
	b := New()
	if a.Options().Workers != 3 || b.Options().Workers != 0 {
		t.Errorf("Expected per-volume options 3 and 0, got %d and %d", a.Options().Workers, b.Options().Workers)
	}
	if err := b.Commit(rampParams(5)); err != nil {
		t.Fatalf("Commit failed: %v", err)
	}
}

// TestConcurrentCommitsPublishInOrder verifies that racing commits never
// publish a lower version after a higher one
func TestConcurrentCommitsPublishInOrder(t *testing.T) {
	v := New()
	const commits = 16

	stop := make(chan struct{})
	var readers sync.WaitGroup
	readers.Add(1)
	go func() {
		defer readers.Done()
		var last uint64
		for {
			select {
			case <-stop:
				return
			default:
			}
			s, err := v.Snapshot()
			if err != nil {
				continue
			}
			if s.Version() < last {
				t.Errorf("Version went backwards: %d after %d", s.Version(), last)
				return
			}
			last = s.Version()
		}
	}()

	var writers sync.WaitGroup
	for i := 0; i < commits; i++ {
		writers.Add(1)
		go func(n int) {
			defer writers.Done()
			if err := v.Commit(rampParams(4 + n%5)); err != nil {
				t.Errorf("Commit failed: %v", err)
			}
		}(i)
	}
	writers.Wait()
	close(stop)
	readers.Wait()

	s, _ := v.Snapshot()
	if s.Version() != commits {
		t.Errorf("Expected version %d, got %d", commits, s.Version())
	}
}

// TestMultipleAttributes verifies that every attribute is sampled and
// validated independently
func TestMultipleAttributes(t *testing.T) {
	n := 6
	p := rampParams(n)
	doubled := make([]float64, len(p.Voxels[0]))
	for i, x := range p.Voxels[0] {
		doubled[i] = 2*x + 1
	}
	p.Voxels = append(p.Voxels, doubled)

	v := New()
	if err := v.Commit(p); err != nil {
		t.Fatalf("Commit failed: %v", err)
	}
	s, _ := v.Snapshot()
	if s.NumAttributes() != 2 {
		t.Fatalf("Expected 2 attributes, got %d", s.NumAttributes())
	}

	pt := r3.Vec{X: 2.5, Y: 1, Z: 3}
	a0, err := v.ComputeSampleAttribute(pt, 0)
	if err != nil || a0 != 2.5 {
		t.Errorf("Expected attribute 0 sample 2.5, got %v (err %v)", a0, err)
	}
	a1, err := v.ComputeSampleAttribute(pt, 1)
	if err != nil || a1 != 6 {
		t.Errorf("Expected attribute 1 sample 6, got %v (err %v)", a1, err)
	}
	grad, err := v.ComputeGradientAttribute(r3.Vec{X: 2, Y: 2, Z: 2}, 1)
	if err != nil || math.Abs(grad.X-2) > 1e-12 {
		t.Errorf("Expected attribute 1 gradient (2,0,0), got %v (err %v)", grad, err)
	}
	r, err := v.AttributeValueRange(1)
	if err != nil || r != (models.Range{Lower: 1, Upper: 11}) {
		t.Errorf("Expected attribute 1 range [1, 11], got %v (err %v)", r, err)
	}

	for _, attr := range []int{-1, 2} {
		if _, err := v.ComputeSampleAttribute(pt, attr); !errors.Is(err, grid.ErrAttribute) {
			t.Errorf("Attribute %d: expected ErrAttribute, got %v", attr, err)
		}
	}

	bad := rampParams(n)
	bad.Voxels = append(bad.Voxels, doubled[:5])
	if err := v.Commit(bad); !errors.Is(err, grid.ErrVoxelCount) {
		t.Errorf("Expected ErrVoxelCount for a short attribute, got %v", err)
	}
}

// TestIntersectBox verifies ray clipping against the volume bounds
func TestIntersectBox(t *testing.T) {
	box := r3.Box{Min: r3.Vec{}, Max: r3.Vec{X: 1, Y: 1, Z: 1}}
	inf := math.Inf(1)

	tests := []struct {
		name  string
		ray   models.Ray
		want  models.Range
		empty bool
	}{
		{
			name: "axis aligned",
			ray:  models.Ray{Origin: r3.Vec{X: 0.5, Y: 0.5, Z: -1}, Direction: r3.Vec{Z: 1}, TRange: models.Range{Lower: 0, Upper: inf}},
			want: models.Range{Lower: 1, Upper: 2},
		},
		{
			name: "clipped by tRange",
			ray:  models.Ray{Origin: r3.Vec{X: 0.5, Y: 0.5, Z: -1}, Direction: r3.Vec{Z: 1}, TRange: models.Range{Lower: 1.5, Upper: 1.75}},
			want: models.Range{Lower: 1.5, Upper: 1.75},
		},
		{
			name: "reverse direction",
			ray:  models.Ray{Origin: r3.Vec{X: 0.5, Y: 0.5, Z: 3}, Direction: r3.Vec{Z: -2}, TRange: models.Range{Lower: 0, Upper: inf}},
			want: models.Range{Lower: 1, Upper: 1.5},
		},
		{
			name:  "parallel outside",
			ray:   models.Ray{Origin: r3.Vec{X: 2, Y: 0.5, Z: -1}, Direction: r3.Vec{Z: 1}, TRange: models.Range{Lower: 0, Upper: inf}},
			empty: true,
		},
		{
			name:  "behind origin",
			ray:   models.Ray{Origin: r3.Vec{X: 0.5, Y: 0.5, Z: 2}, Direction: r3.Vec{Z: 1}, TRange: models.Range{Lower: 0, Upper: inf}},
			empty: true,
		},
		{
			name:  "NaN range",
			ray:   models.Ray{Origin: r3.Vec{X: 0.5, Y: 0.5, Z: -1}, Direction: r3.Vec{Z: 1}, TRange: models.Range{Lower: math.NaN(), Upper: inf}},
			empty: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := IntersectBox(tt.ray, box)
			if tt.empty {
				if !got.Empty() {
					t.Errorf("Expected empty range, got %v", got)
				}
				return
			}
			if got != tt.want {
				t.Errorf("Expected %v, got %v", tt.want, got)
			}
		})
	}
}
