package pipeline

import (
	"fmt"

	"github.com/banshee-data/pose.report/internal/config"
	"github.com/banshee-data/pose.report/internal/pose/cache"
	"github.com/banshee-data/pose.report/internal/pose/scheduler"
	"github.com/banshee-data/pose.report/internal/pose/smoothing"
	"github.com/banshee-data/pose.report/internal/timeutil"
)

// Config holds the engine configurations and the optional dependencies
// of a pipeline.
type Config struct {
	Cache        cache.Config
	Scheduler    scheduler.Config
	Smoothing    smoothing.Config
	Levels       []scheduler.Level
	CoastSkipped bool // report skipped-level and invalid keypoints at their predicted position

	Processor scheduler.Processor // Optional: defaults to scheduler.PassThrough
	Clock     timeutil.Clock      // Optional: defaults to the wall clock
}

// DefaultConfig returns pipeline configuration loaded from the canonical
// tuning defaults file.
func DefaultConfig() Config {
	cfg, err := ConfigFromTuning(config.MustLoadDefaultConfig())
	if err != nil {
		panic(err)
	}
	return cfg
}

// ConfigFromTuning builds a Config from a loaded TuningConfig.
func ConfigFromTuning(tc *config.TuningConfig) (Config, error) {
	sm, err := smoothing.ConfigFromTuning(tc)
	if err != nil {
		return Config{}, err
	}
	return Config{
		Cache:        cache.ConfigFromTuning(tc),
		Scheduler:    scheduler.ConfigFromTuning(tc),
		Smoothing:    sm,
		Levels:       scheduler.LevelsFromTuning(tc),
		CoastSkipped: tc.GetCoastSkipped(),
	}, nil
}

// Validate checks every engine configuration and the level layout.
func (c Config) Validate() error {
	if err := c.Cache.Validate(); err != nil {
		return fmt.Errorf("pipeline: %w", err)
	}
	if err := c.Scheduler.Validate(); err != nil {
		return fmt.Errorf("pipeline: %w", err)
	}
	if err := c.Smoothing.Validate(); err != nil {
		return fmt.Errorf("pipeline: %w", err)
	}
	if err := scheduler.ValidateLevels(c.Levels, c.Scheduler.KeypointCount, c.Scheduler.MaxProcessingTime); err != nil {
		return fmt.Errorf("pipeline: %w", err)
	}
	return nil
}
