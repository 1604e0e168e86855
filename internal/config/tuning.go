package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// DefaultConfigPath is the path to the canonical tuning defaults file.
// This is the single source of truth for all default tuning values.
const DefaultConfigPath = "config/pipeline.defaults.json"

// ErrInvalidConfig wraps every validation failure returned by Validate.
var ErrInvalidConfig = errors.New("invalid configuration")

// TuningConfig represents the root configuration for the landmark pipeline.
// Every field is optional; the Get* accessors supply defaults for nil
// fields so partial files and runtime patches share one schema.
type TuningConfig struct {
	// Cache store params
	MaxSize               *int     `json:"max_size,omitempty" toml:"max_size" yaml:"max_size,omitempty"`
	Strategy              *string  `json:"strategy,omitempty" toml:"strategy" yaml:"strategy,omitempty"`
	EnableCompression     *bool    `json:"enable_compression,omitempty" toml:"enable_compression" yaml:"enable_compression,omitempty"`
	CompressionThreshold  *int     `json:"compression_threshold,omitempty" toml:"compression_threshold" yaml:"compression_threshold,omitempty"`
	SimilarityThreshold   *float64 `json:"similarity_threshold,omitempty" toml:"similarity_threshold" yaml:"similarity_threshold,omitempty"`
	SimilarityScale       *float64 `json:"similarity_scale,omitempty" toml:"similarity_scale" yaml:"similarity_scale,omitempty"`
	TemporalWindow        *string  `json:"temporal_window,omitempty" toml:"temporal_window" yaml:"temporal_window,omitempty"` // duration string like "1s"
	HitRateWindow         *int     `json:"hit_rate_window,omitempty" toml:"hit_rate_window" yaml:"hit_rate_window,omitempty"`
	AdaptiveThreshold     *float64 `json:"adaptive_threshold,omitempty" toml:"adaptive_threshold" yaml:"adaptive_threshold,omitempty"`
	RegionCacheSize       *int     `json:"region_cache_size,omitempty" toml:"region_cache_size" yaml:"region_cache_size,omitempty"`
	HybridRecencyWeight   *float64 `json:"hybrid_recency_weight,omitempty" toml:"hybrid_recency_weight" yaml:"hybrid_recency_weight,omitempty"`
	HybridFrequencyWeight *float64 `json:"hybrid_frequency_weight,omitempty" toml:"hybrid_frequency_weight" yaml:"hybrid_frequency_weight,omitempty"`
	HybridTemporalWeight  *float64 `json:"hybrid_temporal_weight,omitempty" toml:"hybrid_temporal_weight" yaml:"hybrid_temporal_weight,omitempty"`

	// Scheduler params
	MaxProcessingTime          *string  `json:"max_processing_time,omitempty" toml:"max_processing_time" yaml:"max_processing_time,omitempty"` // duration string like "30ms"
	SkipLowPriorityOnDelay     *bool    `json:"skip_low_priority_on_delay,omitempty" toml:"skip_low_priority_on_delay" yaml:"skip_low_priority_on_delay,omitempty"`
	EnableParallelProcessing   *bool    `json:"enable_parallel_processing,omitempty" toml:"enable_parallel_processing" yaml:"enable_parallel_processing,omitempty"`
	EnableQualitySkip          *bool    `json:"enable_quality_skip,omitempty" toml:"enable_quality_skip" yaml:"enable_quality_skip,omitempty"`
	QualitySkipMargin          *float64 `json:"quality_skip_margin,omitempty" toml:"quality_skip_margin" yaml:"quality_skip_margin,omitempty"`
	EnableBudgetRedistribution *bool    `json:"enable_budget_redistribution,omitempty" toml:"enable_budget_redistribution" yaml:"enable_budget_redistribution,omitempty"`
	MaxBudgetMultiplier        *float64 `json:"max_budget_multiplier,omitempty" toml:"max_budget_multiplier" yaml:"max_budget_multiplier,omitempty"`
	FingerprintTimeBucket      *string  `json:"fingerprint_time_bucket,omitempty" toml:"fingerprint_time_bucket" yaml:"fingerprint_time_bucket,omitempty"`
	FingerprintQuantization    *float64 `json:"fingerprint_quantization,omitempty" toml:"fingerprint_quantization" yaml:"fingerprint_quantization,omitempty"`
	KeypointCount              *int     `json:"keypoint_count,omitempty" toml:"keypoint_count" yaml:"keypoint_count,omitempty"`
	OptimizeCache              *bool    `json:"optimize_cache,omitempty" toml:"optimize_cache" yaml:"optimize_cache,omitempty"`

	// Processing levels. Empty means the built-in body model levels.
	Levels []LevelConfig `json:"levels,omitempty" toml:"levels" yaml:"levels,omitempty"`

	// Smoother params
	SmoothingMode                *string  `json:"smoothing_mode,omitempty" toml:"smoothing_mode" yaml:"smoothing_mode,omitempty"`
	EnableKalman                 *bool    `json:"enable_kalman,omitempty" toml:"enable_kalman" yaml:"enable_kalman,omitempty"`
	EnableOutlierDetection       *bool    `json:"enable_outlier_detection,omitempty" toml:"enable_outlier_detection" yaml:"enable_outlier_detection,omitempty"`
	EnableWeightedAverage        *bool    `json:"enable_weighted_average,omitempty" toml:"enable_weighted_average" yaml:"enable_weighted_average,omitempty"`
	KalmanProcessNoise           *float64 `json:"kalman_process_noise,omitempty" toml:"kalman_process_noise" yaml:"kalman_process_noise,omitempty"`
	KalmanMeasurementNoise       *float64 `json:"kalman_measurement_noise,omitempty" toml:"kalman_measurement_noise" yaml:"kalman_measurement_noise,omitempty"`
	OutlierVelocityThreshold     *float64 `json:"outlier_velocity_threshold,omitempty" toml:"outlier_velocity_threshold" yaml:"outlier_velocity_threshold,omitempty"`
	OutlierAccelerationThreshold *float64 `json:"outlier_acceleration_threshold,omitempty" toml:"outlier_acceleration_threshold" yaml:"outlier_acceleration_threshold,omitempty"`
	OutlierMinVisibility         *float64 `json:"outlier_min_visibility,omitempty" toml:"outlier_min_visibility" yaml:"outlier_min_visibility,omitempty"`
	OutlierMinConfidence         *float64 `json:"outlier_min_confidence,omitempty" toml:"outlier_min_confidence" yaml:"outlier_min_confidence,omitempty"`
	OutlierZScoreThreshold       *float64 `json:"outlier_zscore_threshold,omitempty" toml:"outlier_zscore_threshold" yaml:"outlier_zscore_threshold,omitempty"`
	OutlierZScoreMinStd          *float64 `json:"outlier_zscore_min_std,omitempty" toml:"outlier_zscore_min_std" yaml:"outlier_zscore_min_std,omitempty"`
	OutlierHistorySize           *int     `json:"outlier_history_size,omitempty" toml:"outlier_history_size" yaml:"outlier_history_size,omitempty"`
	MaxConsecutiveOutliers       *int     `json:"max_consecutive_outliers,omitempty" toml:"max_consecutive_outliers" yaml:"max_consecutive_outliers,omitempty"`
	WeightedWindowSize           *int     `json:"weighted_window_size,omitempty" toml:"weighted_window_size" yaml:"weighted_window_size,omitempty"`
	WeightedDecayFactor          *float64 `json:"weighted_decay_factor,omitempty" toml:"weighted_decay_factor" yaml:"weighted_decay_factor,omitempty"`
	DefaultFrameInterval         *string  `json:"default_frame_interval,omitempty" toml:"default_frame_interval" yaml:"default_frame_interval,omitempty"`
	MaxFrameInterval             *string  `json:"max_frame_interval,omitempty" toml:"max_frame_interval" yaml:"max_frame_interval,omitempty"`

	// Pipeline params
	CoastSkipped *bool `json:"coast_skipped,omitempty" toml:"coast_skipped" yaml:"coast_skipped,omitempty"`
}

// LevelConfig is the file representation of a processing level.
type LevelConfig struct {
	Name             string   `json:"name" toml:"name" yaml:"name,omitempty"`
	Priority         int      `json:"priority" toml:"priority" yaml:"priority,omitempty"`
	Regions          []string `json:"regions,omitempty" toml:"regions" yaml:"regions,omitempty"`
	KeypointIDs      []uint32 `json:"keypoint_ids" toml:"keypoint_ids" yaml:"keypoint_ids,omitempty"`
	Budget           string   `json:"budget" toml:"budget" yaml:"budget,omitempty"` // duration string like "15ms"
	QualityThreshold *float64 `json:"quality_threshold,omitempty" toml:"quality_threshold" yaml:"quality_threshold,omitempty"`
	Skippable        bool     `json:"skippable" toml:"skippable" yaml:"skippable,omitempty"`
	ParallelSafe     bool     `json:"parallel_safe,omitempty" toml:"parallel_safe" yaml:"parallel_safe,omitempty"`
}

// GetBudget parses the level budget. Invalid strings are rejected by Validate.
func (l LevelConfig) GetBudget() time.Duration {
	d, err := time.ParseDuration(l.Budget)
	if err != nil {
		return 0
	}
	return d
}

// GetQualityThreshold returns the level quality threshold or the default.
func (l LevelConfig) GetQualityThreshold() float64 {
	if l.QualityThreshold == nil {
		return 0.8
	}
	return *l.QualityThreshold
}

// EmptyTuningConfig returns a TuningConfig with all fields set to nil.
// Use LoadTuningConfig to load actual values from the defaults file.
func EmptyTuningConfig() *TuningConfig {
	return &TuningConfig{}
}

// LoadTuningConfig loads a TuningConfig from a JSON, TOML or YAML file.
// The file is validated to ensure it has a supported extension and is under the max file size.
// Fields omitted from the file retain their default values, so
// partial configs are safe.
func LoadTuningConfig(path string) (*TuningConfig, error) {
	cleanPath := filepath.Clean(path)
	ext := filepath.Ext(cleanPath)
	switch ext {
	case ".json", ".toml", ".yaml", ".yml":
	default:
		return nil, fmt.Errorf("config file must have .json, .toml or .yaml extension, got %q", ext)
	}

	// Check file size for safety (max 1MB)
	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptyTuningConfig()
	switch ext {
	case ".json":
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config JSON: %w", err)
		}
	case ".toml":
		if _, err := toml.Decode(string(data), cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config TOML: %w", err)
		}
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config YAML: %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// MustLoadDefaultConfig loads the canonical tuning defaults from DefaultConfigPath.
// It searches for the file in the current directory and common parent directories.
// Panics if the file cannot be loaded, intended for test setup.
func MustLoadDefaultConfig() *TuningConfig {
	candidates := []string{
		DefaultConfigPath,
		"../" + DefaultConfigPath,          // from cmd/pose-replay/
		"../../" + DefaultConfigPath,       // from internal/config/
		"../../../" + DefaultConfigPath,    // from internal/pose/cache/
		"../../../../" + DefaultConfigPath, // deeper packages
	}
	for _, path := range candidates {
		if cfg, err := LoadTuningConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

func invalid(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvalidConfig, fmt.Sprintf(format, args...))
}

// Validate checks that the configuration values are valid. Cross-level
// invariants (coverage, overlaps) are checked by the scheduler, which owns
// the level model.
func (c *TuningConfig) Validate() error {
	if c.MaxSize != nil && *c.MaxSize < 1 {
		return invalid("max_size must be at least 1, got %d", *c.MaxSize)
	}
	if c.CompressionThreshold != nil && *c.CompressionThreshold < 0 {
		return invalid("compression_threshold must be non-negative, got %d", *c.CompressionThreshold)
	}
	if err := unitInterval("similarity_threshold", c.SimilarityThreshold); err != nil {
		return err
	}
	if err := unitInterval("adaptive_threshold", c.AdaptiveThreshold); err != nil {
		return err
	}
	if c.HitRateWindow != nil && *c.HitRateWindow < 1 {
		return invalid("hit_rate_window must be at least 1, got %d", *c.HitRateWindow)
	}
	if c.RegionCacheSize != nil && *c.RegionCacheSize < 0 {
		return invalid("region_cache_size must be non-negative, got %d", *c.RegionCacheSize)
	}

	durations := map[string]*string{
		"temporal_window":         c.TemporalWindow,
		"max_processing_time":     c.MaxProcessingTime,
		"fingerprint_time_bucket": c.FingerprintTimeBucket,
		"default_frame_interval":  c.DefaultFrameInterval,
		"max_frame_interval":      c.MaxFrameInterval,
	}
	for name, v := range durations {
		if v == nil || *v == "" {
			continue
		}
		d, err := time.ParseDuration(*v)
		if err != nil {
			return invalid("invalid %s '%s': %v", name, *v, err)
		}
		if d < 0 {
			return invalid("%s must be non-negative, got %s", name, *v)
		}
	}

	if c.MaxBudgetMultiplier != nil && *c.MaxBudgetMultiplier < 1 {
		return invalid("max_budget_multiplier must be >= 1, got %f", *c.MaxBudgetMultiplier)
	}
	if c.KeypointCount != nil && *c.KeypointCount < 0 {
		return invalid("keypoint_count must be non-negative, got %d", *c.KeypointCount)
	}
	if c.SmoothingMode != nil && *c.SmoothingMode != "advanced" && *c.SmoothingMode != "simple" {
		return invalid("smoothing_mode must be 'advanced' or 'simple', got %q", *c.SmoothingMode)
	}
	if c.WeightedWindowSize != nil && *c.WeightedWindowSize < 1 {
		return invalid("weighted_window_size must be at least 1, got %d", *c.WeightedWindowSize)
	}
	if c.WeightedDecayFactor != nil && (*c.WeightedDecayFactor <= 0 || *c.WeightedDecayFactor > 1) {
		return invalid("weighted_decay_factor must be in (0, 1], got %f", *c.WeightedDecayFactor)
	}
	if c.OutlierHistorySize != nil && *c.OutlierHistorySize < 3 {
		return invalid("outlier_history_size must be at least 3, got %d", *c.OutlierHistorySize)
	}

	for i, l := range c.Levels {
		if l.Name == "" {
			return invalid("levels[%d]: name is required", i)
		}
		if _, err := time.ParseDuration(l.Budget); err != nil {
			return invalid("level %q: invalid budget '%s': %v", l.Name, l.Budget, err)
		}
		if err := unitInterval("level "+l.Name+" quality_threshold", l.QualityThreshold); err != nil {
			return err
		}
	}

	return nil
}

func unitInterval(name string, v *float64) error {
	if v != nil && (*v < 0 || *v > 1) {
		return invalid("%s must be between 0 and 1, got %f", name, *v)
	}
	return nil
}

func parseDurationOr(v *string, def time.Duration) time.Duration {
	if v == nil || *v == "" {
		return def
	}
	d, err := time.ParseDuration(*v)
	if err != nil {
		return def // default on parse error
	}
	return d
}

func intOr(v *int, def int) int {
	if v == nil {
		return def
	}
	return *v
}

func floatOr(v *float64, def float64) float64 {
	if v == nil {
		return def
	}
	return *v
}

func boolOr(v *bool, def bool) bool {
	if v == nil {
		return def
	}
	return *v
}

func stringOr(v *string, def string) string {
	if v == nil || *v == "" {
		return def
	}
	return *v
}

// GetMaxSize returns the max_size value or the default.
func (c *TuningConfig) GetMaxSize() int { return intOr(c.MaxSize, 256) }

// GetStrategy returns the strategy value or the default.
func (c *TuningConfig) GetStrategy() string { return stringOr(c.Strategy, "adaptive") }

// GetEnableCompression returns the enable_compression value or the default.
func (c *TuningConfig) GetEnableCompression() bool { return boolOr(c.EnableCompression, true) }

// GetCompressionThreshold returns the compression_threshold value (bytes) or the default.
func (c *TuningConfig) GetCompressionThreshold() int { return intOr(c.CompressionThreshold, 1024) }

// GetSimilarityThreshold returns the similarity_threshold value or the default.
func (c *TuningConfig) GetSimilarityThreshold() float64 {
	return floatOr(c.SimilarityThreshold, 0.99)
}

// GetSimilarityScale returns the similarity_scale value or the default.
func (c *TuningConfig) GetSimilarityScale() float64 { return floatOr(c.SimilarityScale, 1.0) }

// GetTemporalWindow parses and returns the TemporalWindow as a time.Duration.
func (c *TuningConfig) GetTemporalWindow() time.Duration {
	return parseDurationOr(c.TemporalWindow, time.Second)
}

// GetHitRateWindow returns the hit_rate_window value or the default.
func (c *TuningConfig) GetHitRateWindow() int { return intOr(c.HitRateWindow, 100) }

// GetAdaptiveThreshold returns the adaptive_threshold value or the default.
func (c *TuningConfig) GetAdaptiveThreshold() float64 { return floatOr(c.AdaptiveThreshold, 0.3) }

// GetRegionCacheSize returns the region_cache_size value or the default.
func (c *TuningConfig) GetRegionCacheSize() int { return intOr(c.RegionCacheSize, 64) }

// GetHybridWeights returns the recency, frequency and temporal weights.
func (c *TuningConfig) GetHybridWeights() (recency, frequency, temporal float64) {
	return floatOr(c.HybridRecencyWeight, 0.4),
		floatOr(c.HybridFrequencyWeight, 0.3),
		floatOr(c.HybridTemporalWeight, 0.3)
}

// GetMaxProcessingTime parses and returns the MaxProcessingTime as a time.Duration.
func (c *TuningConfig) GetMaxProcessingTime() time.Duration {
	return parseDurationOr(c.MaxProcessingTime, 30*time.Millisecond)
}

// GetSkipLowPriorityOnDelay returns the skip_low_priority_on_delay value or the default.
func (c *TuningConfig) GetSkipLowPriorityOnDelay() bool {
	return boolOr(c.SkipLowPriorityOnDelay, true)
}

// GetEnableParallelProcessing returns the enable_parallel_processing value or the default.
func (c *TuningConfig) GetEnableParallelProcessing() bool {
	return boolOr(c.EnableParallelProcessing, false)
}

// GetEnableQualitySkip returns the enable_quality_skip value or the default.
func (c *TuningConfig) GetEnableQualitySkip() bool { return boolOr(c.EnableQualitySkip, false) }

// GetQualitySkipMargin returns the quality_skip_margin value or the default.
func (c *TuningConfig) GetQualitySkipMargin() float64 { return floatOr(c.QualitySkipMargin, 0.1) }

// GetEnableBudgetRedistribution returns the enable_budget_redistribution value or the default.
func (c *TuningConfig) GetEnableBudgetRedistribution() bool {
	return boolOr(c.EnableBudgetRedistribution, true)
}

// GetMaxBudgetMultiplier returns the max_budget_multiplier value or the default.
func (c *TuningConfig) GetMaxBudgetMultiplier() float64 {
	return floatOr(c.MaxBudgetMultiplier, 1.5)
}

// GetFingerprintTimeBucket parses and returns the fingerprint time bucket.
func (c *TuningConfig) GetFingerprintTimeBucket() time.Duration {
	return parseDurationOr(c.FingerprintTimeBucket, 100*time.Millisecond)
}

// GetFingerprintQuantization returns the fingerprint_quantization value or the default.
func (c *TuningConfig) GetFingerprintQuantization() float64 {
	return floatOr(c.FingerprintQuantization, 0.005)
}

// GetKeypointCount returns the keypoint_count value or the default (MediaPipe body model).
func (c *TuningConfig) GetKeypointCount() int { return intOr(c.KeypointCount, 33) }

// GetOptimizeCache returns the optimize_cache value or the default.
func (c *TuningConfig) GetOptimizeCache() bool { return boolOr(c.OptimizeCache, true) }

// GetSmoothingMode returns the smoothing_mode value or the default.
func (c *TuningConfig) GetSmoothingMode() string { return stringOr(c.SmoothingMode, "advanced") }

// GetEnableKalman returns the enable_kalman value or the default.
func (c *TuningConfig) GetEnableKalman() bool { return boolOr(c.EnableKalman, true) }

// GetEnableOutlierDetection returns the enable_outlier_detection value or the default.
func (c *TuningConfig) GetEnableOutlierDetection() bool {
	return boolOr(c.EnableOutlierDetection, true)
}

// GetEnableWeightedAverage returns the enable_weighted_average value or the default.
func (c *TuningConfig) GetEnableWeightedAverage() bool {
	return boolOr(c.EnableWeightedAverage, true)
}

// GetKalmanProcessNoise returns the kalman_process_noise value or the default.
func (c *TuningConfig) GetKalmanProcessNoise() float64 { return floatOr(c.KalmanProcessNoise, 1.0) }

// GetKalmanMeasurementNoise returns the kalman_measurement_noise value or the default.
func (c *TuningConfig) GetKalmanMeasurementNoise() float64 {
	return floatOr(c.KalmanMeasurementNoise, 0.001)
}

// GetOutlierVelocityThreshold returns the outlier_velocity_threshold (units/s) or the default.
func (c *TuningConfig) GetOutlierVelocityThreshold() float64 {
	return floatOr(c.OutlierVelocityThreshold, 3.0)
}

// GetOutlierAccelerationThreshold returns the outlier_acceleration_threshold (units/s²) or the default.
func (c *TuningConfig) GetOutlierAccelerationThreshold() float64 {
	return floatOr(c.OutlierAccelerationThreshold, 30.0)
}

// GetOutlierMinVisibility returns the outlier_min_visibility value or the default.
func (c *TuningConfig) GetOutlierMinVisibility() float64 {
	return floatOr(c.OutlierMinVisibility, 0.3)
}

// GetOutlierMinConfidence returns the outlier_min_confidence value or the default.
func (c *TuningConfig) GetOutlierMinConfidence() float64 {
	return floatOr(c.OutlierMinConfidence, 0.5)
}

// GetOutlierZScoreThreshold returns the outlier_zscore_threshold value or the default.
func (c *TuningConfig) GetOutlierZScoreThreshold() float64 {
	return floatOr(c.OutlierZScoreThreshold, 3.0)
}

// GetOutlierZScoreMinStd returns the outlier_zscore_min_std value or the default.
func (c *TuningConfig) GetOutlierZScoreMinStd() float64 {
	return floatOr(c.OutlierZScoreMinStd, 0.01)
}

// GetOutlierHistorySize returns the outlier_history_size value or the default.
func (c *TuningConfig) GetOutlierHistorySize() int { return intOr(c.OutlierHistorySize, 5) }

// GetMaxConsecutiveOutliers returns the max_consecutive_outliers value or the default.
func (c *TuningConfig) GetMaxConsecutiveOutliers() int {
	return intOr(c.MaxConsecutiveOutliers, 3)
}

// GetWeightedWindowSize returns the weighted_window_size value or the default.
func (c *TuningConfig) GetWeightedWindowSize() int { return intOr(c.WeightedWindowSize, 5) }

// GetWeightedDecayFactor returns the weighted_decay_factor value or the default.
func (c *TuningConfig) GetWeightedDecayFactor() float64 {
	return floatOr(c.WeightedDecayFactor, 0.8)
}

// GetDefaultFrameInterval parses and returns the dt used when timestamps do not advance.
func (c *TuningConfig) GetDefaultFrameInterval() time.Duration {
	return parseDurationOr(c.DefaultFrameInterval, 33*time.Millisecond)
}

// GetMaxFrameInterval parses and returns the largest dt used in a predict step.
func (c *TuningConfig) GetMaxFrameInterval() time.Duration {
	return parseDurationOr(c.MaxFrameInterval, 500*time.Millisecond)
}

// GetCoastSkipped returns the coast_skipped value or the default.
func (c *TuningConfig) GetCoastSkipped() bool { return boolOr(c.CoastSkipped, true) }
