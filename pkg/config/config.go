// Package config provides configuration loading and management for hpbviz.
// It handles loading configuration from YAML files and provides default values.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"hpbviz/pkg/mesh"
)

// Config represents the application configuration loaded from YAML
type Config struct {
	// Case discovery and output locations
	Paths struct {
		// RawRoot is the directory holding source cases (DICOM folders or NIfTI files)
		RawRoot string `yaml:"rawRoot"`

		// OutputRoot is where per-case masks are searched for and where
		// exports land
		OutputRoot string `yaml:"outputRoot"`
	} `yaml:"paths"`

	// Automatic liver segmentation
	Segmentation struct {
		// Server is the base URL of the remote segmentation service;
		// empty disables the remote backend
		Server string `yaml:"server"`

		// Fast requests the server's quicker, lower-quality model
		Fast bool `yaml:"fast"`

		// AllowLocal permits running a TotalSegmentator CLI found on PATH
		AllowLocal bool `yaml:"allowLocal"`
	} `yaml:"segmentation"`

	// Surface construction
	Surfaces struct {
		// Liver is the color of the liver capsule surface
		Liver mesh.RGBA `yaml:"liver"`

		// VesselTumor maps labels in the vessel/tumor mask to structures
		VesselTumor mesh.LabelTable `yaml:"vesselTumor"`
	} `yaml:"surfaces"`

	// Tumor burden measurement
	Metrics struct {
		// TumorLabel selects the label counted as tumor in the
		// vessel/tumor mask
		TumorLabel uint8 `yaml:"tumorLabel"`

		// Connectivity is the component adjacency rule: 6, 18 or 26
		Connectivity int `yaml:"connectivity"`
	} `yaml:"metrics"`

	// Slice rendering parameters
	Window struct {
		// Center of the intensity window in HU
		Center float64 `yaml:"center"`

		// Width of the intensity window in HU
		Width float64 `yaml:"width"`
	} `yaml:"window"`

	// Output parameters
	Output struct {
		// Verbose controls the level of logging output
		Verbose bool `yaml:"verbose"`
	} `yaml:"output"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Paths.RawRoot = "data/raw"
	cfg.Paths.OutputRoot = "data/output"

	cfg.Segmentation.Server = ""
	cfg.Segmentation.Fast = false
	cfg.Segmentation.AllowLocal = false

	cfg.Surfaces.Liver = mesh.RGBA{0.55, 0.27, 0.25, 0.35}
	cfg.Surfaces.VesselTumor = mesh.LabelTable{
		{Key: "hepatic_vessels", Label: 1, Color: mesh.RGBA{0.55, 0.10, 0.10, 1.0}},
		{Key: "liver_tumors", Label: 2, Color: mesh.RGBA{0.95, 0.85, 0.20, 1.0}},
	}

	cfg.Metrics.TumorLabel = 2
	cfg.Metrics.Connectivity = 26

	// Standard abdominal soft-tissue window
	cfg.Window.Center = 50
	cfg.Window.Width = 400

	cfg.Output.Verbose = false

	return cfg
}

// LoadConfig loads configuration from a YAML file
// If the file doesn't exist, it returns the default configuration
func LoadConfig(configPath string) (*Config, error) {
	cfg := DefaultConfig()

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

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", configPath, err)
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

func (cfg *Config) validate() error {
	switch cfg.Metrics.Connectivity {
	case 6, 18, 26:
	default:
		return fmt.Errorf("metrics.connectivity must be 6, 18 or 26, got %d", cfg.Metrics.Connectivity)
	}
	if cfg.Window.Width <= 0 {
		return fmt.Errorf("window.width must be positive, got %g", cfg.Window.Width)
	}
	seen := map[string]bool{}
	for _, entry := range cfg.Surfaces.VesselTumor {
		if entry.Key == "" {
			return fmt.Errorf("surfaces.vesselTumor entries need a key")
		}
		if seen[entry.Key] {
			return fmt.Errorf("duplicate surface key %q", entry.Key)
		}
		seen[entry.Key] = true
	}
	return nil
}
