package visualization

import (
	"fmt"
	"image"
	"image/color"
	"math"
	"runtime"
	"sync"

	"gonum.org/v1/gonum/spatial/r3"
	"gonum.org/v1/gonum/stat"

	"volrays/internal/models"
	"volrays/pkg/iterator"
	"volrays/pkg/mask"
	"volrays/pkg/volume"
)

// RenderParams configures an orthographic debug render.
type RenderParams struct {
	// Axis is the viewing direction: rays travel along +Axis.
	Axis string

	// Width and Height are the image size in pixels.
	Width  int
	Height int

	// Mask filters intervals and supplies the isovalues for hits. It may be
	// nil, in which case every interval counts and no hits are searched.
	Mask *mask.SamplesMask

	// Options is passed to every iterator. Nil uses the defaults.
	Options *iterator.Options

	// LaneWidth is the number of rays iterated together.
	LaneWidth int

	// Workers is the number of goroutines rendering rows. Zero uses
	// runtime.NumCPU().
	Workers int
}

// Maps holds per-pixel iteration results, row-major.
type Maps struct {
	Width  int
	Height int

	// Intervals counts the intervals reported along each pixel's ray.
	Intervals []float64

	// Depth is the t of the first surface hit, NaN where the ray hit
	// nothing. Rays start on the volume face, so t is the depth into the
	// volume in units of the bounding box.
	Depth []float64
}

// Render casts one ray per pixel through v and records the interval count
// and first-hit depth.
func Render(v *volume.Volume, p RenderParams) (*Maps, error) {
	if p.Width <= 0 || p.Height <= 0 {
		return nil, fmt.Errorf("image size %dx%d must be positive", p.Width, p.Height)
	}
	box, err := v.BoundingBox()
	if err != nil {
		return nil, err
	}
	camera, err := newOrthoCamera(p.Axis, box, p.Width, p.Height)
	if err != nil {
		return nil, err
	}
	lanes := p.LaneWidth
	if lanes == 0 {
		lanes = 1
	}

	maps := &Maps{
		Width:     p.Width,
		Height:    p.Height,
		Intervals: make([]float64, p.Width*p.Height),
		Depth:     make([]float64, p.Width*p.Height),
	}

	workers := p.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	rowsPerWorker := (p.Height + workers - 1) / workers

	var wg sync.WaitGroup
	errs := make([]error, workers)
	for w := 0; w < workers; w++ {
		startRow := w * rowsPerWorker
		endRow := min((w+1)*rowsPerWorker, p.Height)
		if startRow >= endRow {
			break
		}

		wg.Add(1)
		go func(w, startRow, endRow int) {
			defer wg.Done()
			for y := startRow; y < endRow && errs[w] == nil; y++ {
				for x := 0; x < p.Width; x += lanes {
					if err := renderPacket(v, camera, maps, p, x, y, lanes); err != nil {
						errs[w] = err
						break
					}
				}
			}
		}(w, startRow, endRow)
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return nil, err
		}
	}
	return maps, nil
}

// renderPacket iterates the rays of pixels x..x+lanes-1 of row y together.
// Lanes past the end of the row are padded and marked invalid.
func renderPacket(v *volume.Volume, cam orthoCamera, maps *Maps, p RenderParams, x, y, lanes int) error {
	rays := make([]models.Ray, lanes)
	valid := make([]bool, lanes)
	for i := range rays {
		px := min(x+i, p.Width-1)
		rays[i] = cam.ray(px, y)
		valid[i] = x+i < p.Width
	}

	intervals, err := iterator.NewIntervalIteratorN(v, rays, p.Mask, p.Options)
	if err != nil {
		return err
	}
	active := append([]bool(nil), valid...)
	for anyActive(active) {
		_, ok := intervals.Next(active)
		for i := range active {
			if !active[i] {
				continue
			}
			if ok[i] {
				maps.Intervals[y*p.Width+x+i]++
			} else {
				active[i] = false
			}
		}
	}

	for i := range valid {
		if valid[i] {
			maps.Depth[y*p.Width+x+i] = math.NaN()
		}
	}
	if p.Mask == nil {
		return nil
	}
	hits, err := iterator.NewHitIteratorN(v, rays, p.Mask, p.Options)
	if err != nil {
		return err
	}
	out, ok := hits.Next(valid)
	for i := range valid {
		if valid[i] && ok[i] {
			maps.Depth[y*p.Width+x+i] = out[i].T
		}
	}
	return nil
}

func anyActive(active []bool) bool {
	for _, a := range active {
		if a {
			return true
		}
	}
	return false
}

// orthoCamera places pixel rays on the entry face of the bounding box.
type orthoCamera struct {
	origin    r3.Vec
	u, v, dir r3.Vec
	width     int
	height    int
}

func newOrthoCamera(axis string, box r3.Box, width, height int) (orthoCamera, error) {
	size := box.Size()
	c := orthoCamera{origin: box.Min, width: width, height: height}
	switch axis {
	case "x", "X":
		c.u = r3.Vec{Z: size.Z}
		c.v = r3.Vec{Y: size.Y}
		c.dir = r3.Vec{X: 1}
	case "y", "Y":
		c.u = r3.Vec{X: size.X}
		c.v = r3.Vec{Z: size.Z}
		c.dir = r3.Vec{Y: 1}
	case "z", "Z":
		c.u = r3.Vec{X: size.X}
		c.v = r3.Vec{Y: size.Y}
		c.dir = r3.Vec{Z: 1}
	default:
		return orthoCamera{}, fmt.Errorf("invalid axis: %s (must be x, y, or z)", axis)
	}
	return c, nil
}

func (c orthoCamera) ray(x, y int) models.Ray {
	fu := (float64(x) + 0.5) / float64(c.width)
	fv := (float64(y) + 0.5) / float64(c.height)
	return models.Ray{
		Origin:    r3.Add(c.origin, r3.Add(r3.Scale(fu, c.u), r3.Scale(fv, c.v))),
		Direction: c.dir,
		TRange:    models.Range{Lower: 0, Upper: math.Inf(1)},
	}
}

// MapStats summarizes a render.
type MapStats struct {
	MeanIntervals float64
	StdIntervals  float64
	HitFraction   float64
	MeanDepth     float64
	StdDepth      float64
}

// Stats computes summary statistics over the maps. Depth statistics only
// include pixels with a hit.
func (m *Maps) Stats() MapStats {
	var s MapStats
	s.MeanIntervals, s.StdIntervals = stat.MeanStdDev(m.Intervals, nil)

	depths := make([]float64, 0, len(m.Depth))
	for _, d := range m.Depth {
		if !math.IsNaN(d) {
			depths = append(depths, d)
		}
	}
	if len(m.Depth) > 0 {
		s.HitFraction = float64(len(depths)) / float64(len(m.Depth))
	}
	if len(depths) > 1 {
		s.MeanDepth, s.StdDepth = stat.MeanStdDev(depths, nil)
	} else if len(depths) == 1 {
		s.MeanDepth = depths[0]
	}
	return s
}

// IntervalImage renders the interval counts, brightest at the maximum.
func (m *Maps) IntervalImage() *image.Gray16 {
	return toGray(m.Intervals, m.Width, m.Height, false)
}

// DepthImage renders first-hit depth, near hits bright, misses black.
func (m *Maps) DepthImage() *image.Gray16 {
	return toGray(m.Depth, m.Width, m.Height, true)
}

func toGray(values []float64, width, height int, invert bool) *image.Gray16 {
	lo, hi := math.Inf(1), math.Inf(-1)
	for _, v := range values {
		if math.IsNaN(v) {
			continue
		}
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}
	if !invert {
		lo = 0
	}

	img := image.NewGray16(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			v := values[y*width+x]
			if math.IsNaN(v) {
				continue
			}
			f := 0.0
			if hi > lo {
				f = (v - lo) / (hi - lo)
			}
			if invert {
				f = 1 - 0.75*f
			}
			img.SetGray16(x, y, color.Gray16{Y: uint16(math.Max(0, math.Min(65535, f*65535)))})
		}
	}
	return img
}
