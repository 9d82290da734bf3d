package config

import (
	"errors"
	"fmt"
	"math"
	"strings"
)

// Validate checks the loaded config for required fields and valid ranges.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}

	if strings.TrimSpace(cfg.Model.Manifest) == "" {
		return errors.New("model.manifest must be set")
	}
	if cfg.Model.InputSize <= 0 {
		return fmt.Errorf("model.input_size must be positive, got %d", cfg.Model.InputSize)
	}

	if t := cfg.Analysis.Threshold; math.IsNaN(t) || t < 0 || t > 1 {
		return fmt.Errorf("analysis.threshold must be in [0,1], got %v", t)
	}
	if cfg.Analysis.CircleRadius <= 0 {
		return fmt.Errorf("analysis.circle_radius must be positive, got %d", cfg.Analysis.CircleRadius)
	}
	if a := cfg.Analysis.Alpha; math.IsNaN(a) || a <= 0 || a > 1 {
		return fmt.Errorf("analysis.alpha must be in (0,1], got %v", a)
	}

	if strings.TrimSpace(cfg.Output.Root) == "" {
		return errors.New("output.root must be set")
	}
	if strings.TrimSpace(cfg.Output.History) == "" {
		return errors.New("output.history must be set")
	}
	return nil
}
