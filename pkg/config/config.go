// Package config provides configuration loading and management for volrays.
// It handles loading configuration from YAML files and provides default values.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"gopkg.in/yaml.v3"

	"volrays/internal/models"
)

// ErrInvalidConfig is wrapped by every Validate error.
var ErrInvalidConfig = errors.New("invalid configuration")

// Config represents the application configuration loaded from YAML
type Config struct {
	// Volume describes the procedural volume to build
	Volume struct {
		// Dimensions is the number of voxels along x, y and z
		Dimensions [3]int `yaml:"dimensions"`

		// Origin is the object-space position of the first voxel
		Origin [3]float64 `yaml:"origin"`

		// Spacing is the distance between voxels along each axis. Zero
		// components are derived so the volume spans the unit cube.
		Spacing [3]float64 `yaml:"spacing"`

		// Field names the procedural field (xramp, zramp, xyz, wavelet, sphere, const)
		Field string `yaml:"field"`

		// Attributes names further fields committed as attributes 1, 2, ...
		Attributes []string `yaml:"attributes"`

		// VoxelType is the storage type the voxels are handed over in
		VoxelType string `yaml:"voxelType"`

		// Filter is the reconstruction filter, trilinear or nearest
		Filter string `yaml:"filter"`
	} `yaml:"volume"`

	// Accelerator build parameters
	Accelerator struct {
		// Workers is the number of goroutines building brick ranges
		Workers int `yaml:"workers"`
	} `yaml:"accelerator"`

	// Iteration parameters
	Iteration struct {
		// SamplingRate divides the nominal ray-marching step
		SamplingRate float64 `yaml:"samplingRate"`

		// LaneWidth is the number of rays iterated together (1, 4, 8 or 16)
		LaneWidth int `yaml:"laneWidth"`

		// Attribute selects the field iterated; 0 is volume.field
		Attribute int `yaml:"attribute"`

		// ValueRanges are the [lower, upper] pairs of the samples mask
		ValueRanges [][2]float64 `yaml:"valueRanges"`

		// IsoValues are the discrete values of the samples mask
		IsoValues []float64 `yaml:"isoValues"`
	} `yaml:"iteration"`

	// Render parameters for the debug maps
	Render struct {
		// Width and Height of the output images in pixels
		Width  int `yaml:"width"`
		Height int `yaml:"height"`

		// Axis is the viewing direction
		Axis string `yaml:"axis"`

		// SaveSlices also writes every voxel slice along Axis
		SaveSlices bool `yaml:"saveSlices"`
	} `yaml:"render"`

	// Output parameters
	Output struct {
		// Dir is where images are written
		Dir string `yaml:"dir"`

		// Verbose enables debug logging
		Verbose bool `yaml:"verbose"`
	} `yaml:"output"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	cfg := &Config{}

	// Set default volume parameters
	cfg.Volume.Dimensions = [3]int{128, 128, 128}
	cfg.Volume.Field = "wavelet"
	cfg.Volume.VoxelType = models.VoxelFloat.String()
	cfg.Volume.Filter = models.FilterTrilinear.String()

	cfg.Accelerator.Workers = runtime.NumCPU() // Use all available cores by default

	// Set default iteration parameters
	cfg.Iteration.SamplingRate = 1
	cfg.Iteration.LaneWidth = 8
	cfg.Iteration.ValueRanges = [][2]float64{{1.5, 3}}
	cfg.Iteration.IsoValues = []float64{-1, 0, 1}

	// Set default render parameters
	cfg.Render.Width = 256
	cfg.Render.Height = 256
	cfg.Render.Axis = "z"

	cfg.Output.Dir = "volrays_output"
	cfg.Output.Verbose = false

	return cfg
}

// LoadConfig loads configuration from a YAML file
// If the file doesn't exist, it returns the default configuration
func LoadConfig(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	// Check if config file exists
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return cfg, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	return cfg, nil
}

// SaveConfig saves the configuration to a YAML file
func SaveConfig(cfg *Config, configPath string) error {
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("error creating config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("error marshaling config: %w", err)
	}

	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("error writing config file: %w", err)
	}

	return nil
}

// CreateDefaultConfigFile creates a default configuration file at the specified path
func CreateDefaultConfigFile(configPath string) error {
	cfg := DefaultConfig()
	return SaveConfig(cfg, configPath)
}

// Validate checks values that would otherwise only fail deep inside a
// commit or render.
func (c *Config) Validate() error {
	for i, d := range c.Volume.Dimensions {
		if d < 2 {
			return fmt.Errorf("volume.dimensions[%d] = %d, need at least 2: %w", i, d, ErrInvalidConfig)
		}
	}
	for i, s := range c.Volume.Spacing {
		if s < 0 {
			return fmt.Errorf("volume.spacing[%d] = %v is negative: %w", i, s, ErrInvalidConfig)
		}
	}
	if _, err := models.ParseVoxelType(c.Volume.VoxelType); err != nil {
		return fmt.Errorf("volume.voxelType: %v: %w", err, ErrInvalidConfig)
	}
	if _, err := models.ParseFilter(c.Volume.Filter); err != nil {
		return fmt.Errorf("volume.filter: %v: %w", err, ErrInvalidConfig)
	}
	if a := c.Iteration.Attribute; a < 0 || a > len(c.Volume.Attributes) {
		return fmt.Errorf("iteration.attribute = %d, volume has %d attributes: %w", a, len(c.Volume.Attributes)+1, ErrInvalidConfig)
	}
	if !(c.Iteration.SamplingRate > 0) {
		return fmt.Errorf("iteration.samplingRate = %v must be positive: %w", c.Iteration.SamplingRate, ErrInvalidConfig)
	}
	switch c.Iteration.LaneWidth {
	case 1, 4, 8, 16:
	default:
		return fmt.Errorf("iteration.laneWidth = %d must be 1, 4, 8 or 16: %w", c.Iteration.LaneWidth, ErrInvalidConfig)
	}
	for i, r := range c.Iteration.ValueRanges {
		if r[0] > r[1] {
			return fmt.Errorf("iteration.valueRanges[%d] = %v is inverted: %w", i, r, ErrInvalidConfig)
		}
	}
	for i := 1; i < len(c.Iteration.IsoValues); i++ {
		if c.Iteration.IsoValues[i] < c.Iteration.IsoValues[i-1] {
			return fmt.Errorf("iteration.isoValues must be sorted ascending: %w", ErrInvalidConfig)
		}
	}
	if c.Render.Width <= 0 || c.Render.Height <= 0 {
		return fmt.Errorf("render size %dx%d must be positive: %w", c.Render.Width, c.Render.Height, ErrInvalidConfig)
	}
	switch c.Render.Axis {
	case "x", "y", "z":
	default:
		return fmt.Errorf("render.axis %q must be x, y or z: %w", c.Render.Axis, ErrInvalidConfig)
	}
	return nil
}
