package main

import (
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"gonum.org/v1/gonum/spatial/r3"

	"volrays/internal/logging"
	"volrays/internal/models"
	"volrays/pkg/config"
	"volrays/pkg/iterator"
	"volrays/pkg/mask"
	"volrays/pkg/procedural"
	"volrays/pkg/visualization"
	"volrays/pkg/volume"
)

func main() {
	// Parse command line arguments
	configPath := flag.String("config", "volrays.yaml", "Configuration file (defaults are used if it does not exist)")
	initConfig := flag.Bool("init-config", false, "Write a default configuration file to -config and exit")
	field := flag.String("field", "", "Procedural field, overrides volume.field")
	size := flag.Int("size", 0, "Voxels along every axis, overrides volume.dimensions")
	lanes := flag.Int("lanes", 0, "Rays iterated together (1, 4, 8 or 16), overrides iteration.laneWidth")
	workers := flag.Int("workers", 0, "Worker goroutines, overrides accelerator.workers")
	outputDir := flag.String("output", "", "Directory for rendered maps, overrides output.dir")
	verbose := flag.Bool("verbose", false, "Enable debug logging")
	flag.Parse()

	if *initConfig {
		if err := config.CreateDefaultConfigFile(*configPath); err != nil {
			log.Fatalf("Failed to write config: %v", err)
		}
		fmt.Printf("Default configuration written to %s\n", *configPath)
		return
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	applyFlags(cfg, *field, *size, *lanes, *workers, *outputDir, *verbose)
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Configuration rejected: %v", err)
	}

	if cfg.Output.Verbose {
		logging.SetLogger(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug})))
	}
	opts := volume.Initialize(volume.Options{Workers: cfg.Accelerator.Workers})

	fmt.Println("================================")
	fmt.Println("VOLRAYS: STRUCTURED VOLUME SAMPLING AND RAY ITERATION")
	fmt.Println("================================")

	params, err := volumeParams(cfg, opts.Workers)
	if err != nil {
		log.Fatalf("Failed to build volume: %v", err)
	}

	vol := volume.NewWithOptions(opts)
	startTime := time.Now()
	if err := vol.Commit(params); err != nil {
		log.Fatalf("Commit failed: %v", err)
	}
	commitTime := time.Since(startTime)

	valueRange, err := vol.AttributeValueRange(cfg.Iteration.Attribute)
	if err != nil {
		log.Fatalf("Volume not available: %v", err)
	}
	box, _ := vol.BoundingBox()
	fmt.Printf("Volume %v (%s, %d attributes, %s) committed in %.3f seconds\n", params.Dimensions, cfg.Volume.Field, len(params.Voxels)+len(params.Raw), cfg.Volume.VoxelType, commitTime.Seconds())
	fmt.Printf("- Bounding box: [%.3f %.3f %.3f] - [%.3f %.3f %.3f]\n", box.Min.X, box.Min.Y, box.Min.Z, box.Max.X, box.Max.Y, box.Max.Z)
	fmt.Printf("- Value range of attribute %d: [%.4f, %.4f]\n", cfg.Iteration.Attribute, valueRange.Lower, valueRange.Upper)

	m := samplesMask(cfg)
	if err := m.Commit(); err != nil {
		log.Fatalf("Samples mask rejected: %v", err)
	}

	fmt.Printf("\nRendering %dx%d along %s with %d-wide packets...\n", cfg.Render.Width, cfg.Render.Height, cfg.Render.Axis, cfg.Iteration.LaneWidth)
	startTime = time.Now()
	maps, err := visualization.Render(vol, visualization.RenderParams{
		Axis:      cfg.Render.Axis,
		Width:     cfg.Render.Width,
		Height:    cfg.Render.Height,
		Mask:      m,
		Options:   &iterator.Options{SamplingRate: cfg.Iteration.SamplingRate, Attribute: cfg.Iteration.Attribute},
		LaneWidth: cfg.Iteration.LaneWidth,
		Workers:   opts.Workers,
	})
	if err != nil {
		log.Fatalf("Render failed: %v", err)
	}
	renderTime := time.Since(startTime)

	stats := maps.Stats()
	fmt.Printf("Render completed in %.3f seconds\n\n", renderTime.Seconds())
	fmt.Printf("Iteration statistics:\n")
	fmt.Printf("=====================\n")
	fmt.Printf("Intervals per ray: %.3f (std %.3f)\n", stats.MeanIntervals, stats.StdIntervals)
	fmt.Printf("Rays with a hit: %.2f%%\n", 100*stats.HitFraction)
	fmt.Printf("First hit depth: %.4f (std %.4f)\n", stats.MeanDepth, stats.StdDepth)

	if err := saveOutputs(cfg, vol, maps); err != nil {
		log.Fatalf("Failed to save output: %v", err)
	}
	fmt.Printf("\nOutput saved to: %s\n", cfg.Output.Dir)
}

func applyFlags(cfg *config.Config, field string, size, lanes, workers int, outputDir string, verbose bool) {
	if field != "" {
		cfg.Volume.Field = field
	}
	if size > 0 {
		cfg.Volume.Dimensions = [3]int{size, size, size}
	}
	if lanes > 0 {
		cfg.Iteration.LaneWidth = lanes
	}
	if workers > 0 {
		cfg.Accelerator.Workers = workers
	}
	if outputDir != "" {
		cfg.Output.Dir = outputDir
	}
	if verbose {
		cfg.Output.Verbose = true
	}
}

// volumeParams samples the configured fields, one attribute each. Zero
// spacing components are chosen so the volume spans one unit along that
// axis.
func volumeParams(cfg *config.Config, workers int) (volume.Params, error) {
	names := append([]string{cfg.Volume.Field}, cfg.Volume.Attributes...)
	fields := make([]procedural.Field, len(names))
	for i, name := range names {
		f, err := procedural.Lookup(name)
		if err != nil {
			return volume.Params{}, err
		}
		fields[i] = f
	}
	voxelType, err := models.ParseVoxelType(cfg.Volume.VoxelType)
	if err != nil {
		return volume.Params{}, err
	}
	filter, err := models.ParseFilter(cfg.Volume.Filter)
	if err != nil {
		return volume.Params{}, err
	}

	d := cfg.Volume.Dimensions
	dims := models.Vec3i{X: d[0], Y: d[1], Z: d[2]}
	spacing := cfg.Volume.Spacing
	for i := range spacing {
		if spacing[i] == 0 {
			spacing[i] = 1 / float64(d[i]-1)
		}
	}
	o := cfg.Volume.Origin

	params := procedural.Attributes(fields, dims, r3.Vec{X: o[0], Y: o[1], Z: o[2]}, r3.Vec{X: spacing[0], Y: spacing[1], Z: spacing[2]}, workers)
	params.Filter = filter
	if voxelType != models.VoxelDouble {
		return procedural.Encoded(params, voxelType)
	}
	return params, nil
}

func samplesMask(cfg *config.Config) *mask.SamplesMask {
	ranges := make([]models.Range, len(cfg.Iteration.ValueRanges))
	for i, r := range cfg.Iteration.ValueRanges {
		ranges[i] = models.Range{Lower: r[0], Upper: r[1]}
	}
	return mask.New(ranges, cfg.Iteration.IsoValues)
}

func saveOutputs(cfg *config.Config, vol *volume.Volume, maps *visualization.Maps) error {
	if err := os.MkdirAll(cfg.Output.Dir, 0755); err != nil {
		return err
	}
	if err := visualization.SaveSlice(maps.IntervalImage(), filepath.Join(cfg.Output.Dir, "intervals.jpg")); err != nil {
		return err
	}
	if err := visualization.SaveSlice(maps.DepthImage(), filepath.Join(cfg.Output.Dir, "depth.jpg")); err != nil {
		return err
	}

	if cfg.Render.SaveSlices {
		snap, err := vol.Snapshot()
		if err != nil {
			return err
		}
		axisDir := filepath.Join(cfg.Output.Dir, "slices", cfg.Render.Axis)
		fmt.Printf("Saving %s-axis slices to: %s\n", cfg.Render.Axis, axisDir)
		viewer := visualization.NewViewer(snap.Grid())
		if err := viewer.SetAttribute(cfg.Iteration.Attribute); err != nil {
			return err
		}
		if err := viewer.SaveSliceSequence(cfg.Render.Axis, axisDir); err != nil {
			return err
		}
	}
	return nil
}
