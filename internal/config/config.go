// Package config loads the analysis settings from YAML.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Defaults.
const (
	DefaultManifest     = "model/model.yaml"
	DefaultInputSize    = 224
	DefaultThreshold    = 0.7
	DefaultCircleRadius = 25
	DefaultAlpha        = 0.45
	DefaultOutputRoot   = "resultados"
	DefaultHistory      = "resultados/master_history.duckdb"
)

// Config holds fundus-cam configuration.
type Config struct {
	Model    ModelConfig    `yaml:"model"`
	Analysis AnalysisConfig `yaml:"analysis"`
	Output   OutputConfig   `yaml:"output"`
}

type ModelConfig struct {
	Manifest    string `yaml:"manifest"`     // YAML model manifest
	TargetLayer string `yaml:"target_layer"` // empty selects the last convolution
	InputSize   int    `yaml:"input_size"`   // square side, e.g. 224
}

type AnalysisConfig struct {
	Threshold    float64 `yaml:"threshold"`     // [0,1]
	CircleRadius int     `yaml:"circle_radius"` // px
	Alpha        float64 `yaml:"alpha"`         // heatmap blend weight
}

type OutputConfig struct {
	Root       string `yaml:"root"`
	SaveImages *bool  `yaml:"save_images"`
	History    string `yaml:"history"` // DuckDB file
}

// SaveImagesEnabled reports the save_images setting, true when unset.
func (o OutputConfig) SaveImagesEnabled() bool {
	return o.SaveImages == nil || *o.SaveImages
}

// Load reads configuration from a YAML file.
// If the file doesn't exist, it returns a default config and no error.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}

	applyDefaults(&cfg)

	return &cfg, nil
}

// Default returns the built-in configuration.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

// applyDefaults fills zero values, so an explicit 0 threshold also becomes
// the default.
func applyDefaults(cfg *Config) {
	if cfg.Model.Manifest == "" {
		cfg.Model.Manifest = DefaultManifest
	}
	if cfg.Model.InputSize == 0 {
		cfg.Model.InputSize = DefaultInputSize
	}
	if cfg.Analysis.Threshold == 0 {
		cfg.Analysis.Threshold = DefaultThreshold
	}
	if cfg.Analysis.CircleRadius == 0 {
		cfg.Analysis.CircleRadius = DefaultCircleRadius
	}
	if cfg.Analysis.Alpha == 0 {
		cfg.Analysis.Alpha = DefaultAlpha
	}
	if cfg.Output.Root == "" {
		cfg.Output.Root = DefaultOutputRoot
	}
	if cfg.Output.History == "" {
		cfg.Output.History = DefaultHistory
	}
}
