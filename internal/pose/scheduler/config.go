package scheduler

import (
	"fmt"
	"time"

	"github.com/banshee-data/pose.report/internal/config"
)

// Config holds configuration parameters for the scheduler.
type Config struct {
	MaxProcessingTime          time.Duration // Soft per-frame budget
	SkipLowPriorityOnDelay     bool          // Skip skippable levels the remaining budget cannot cover
	EnableParallelProcessing   bool          // Dispatch parallel-safe levels concurrently once no critical level remains
	EnableQualitySkip          bool          // Stop early when a level's quality clears its threshold by QualitySkipMargin
	QualitySkipMargin          float64       // Margin above QualityThreshold required for an early stop
	EnableBudgetRedistribution bool          // Inflate later skippable budgets by time saved on critical levels
	MaxBudgetMultiplier        float64       // Upper bound on the redistributed budget multiplier
	TimeBucket                 time.Duration // Fingerprint time bucket
	Quantization               float64       // Fingerprint coordinate quantum
	KeypointCount              int           // Size of the keypoint model; 0 disables coverage checks
	OptimizeCache              bool          // Run cache.Store.Optimize after every frame
}

// DefaultConfig returns scheduler configuration loaded from the canonical
// tuning defaults file.
func DefaultConfig() Config {
	return ConfigFromTuning(config.MustLoadDefaultConfig())
}

// ConfigFromTuning builds a Config from a loaded TuningConfig.
func ConfigFromTuning(cfg *config.TuningConfig) Config {
	return Config{
		MaxProcessingTime:          cfg.GetMaxProcessingTime(),
		SkipLowPriorityOnDelay:     cfg.GetSkipLowPriorityOnDelay(),
		EnableParallelProcessing:   cfg.GetEnableParallelProcessing(),
		EnableQualitySkip:          cfg.GetEnableQualitySkip(),
		QualitySkipMargin:          cfg.GetQualitySkipMargin(),
		EnableBudgetRedistribution: cfg.GetEnableBudgetRedistribution(),
		MaxBudgetMultiplier:        cfg.GetMaxBudgetMultiplier(),
		TimeBucket:                 cfg.GetFingerprintTimeBucket(),
		Quantization:               cfg.GetFingerprintQuantization(),
		KeypointCount:              cfg.GetKeypointCount(),
		OptimizeCache:              cfg.GetOptimizeCache(),
	}
}

// Validate checks that the configuration values are usable.
func (c Config) Validate() error {
	if c.MaxProcessingTime <= 0 {
		return fmt.Errorf("scheduler: max processing time must be positive, got %s", c.MaxProcessingTime)
	}
	if c.QualitySkipMargin < 0 || c.QualitySkipMargin > 1 {
		return fmt.Errorf("scheduler: quality skip margin must be in [0, 1], got %f", c.QualitySkipMargin)
	}
	if c.MaxBudgetMultiplier < 1 {
		return fmt.Errorf("scheduler: max budget multiplier must be >= 1, got %f", c.MaxBudgetMultiplier)
	}
	if c.TimeBucket < 0 {
		return fmt.Errorf("scheduler: fingerprint time bucket must be non-negative, got %s", c.TimeBucket)
	}
	if c.Quantization < 0 {
		return fmt.Errorf("scheduler: fingerprint quantization must be non-negative, got %f", c.Quantization)
	}
	if c.KeypointCount < 0 {
		return fmt.Errorf("scheduler: keypoint count must be non-negative, got %d", c.KeypointCount)
	}
	return nil
}
