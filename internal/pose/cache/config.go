package cache

import (
	"fmt"
	"time"

	"github.com/banshee-data/pose.report/internal/config"
)

// HybridWeights blends recency, frequency and temporal proximity when the
// HYBRID strategy ranks eviction victims.
type HybridWeights struct {
	Recency   float64
	Frequency float64
	Temporal  float64
}

func (w HybridWeights) normalised() HybridWeights {
	sum := w.Recency + w.Frequency + w.Temporal
	if sum <= 0 {
		return HybridWeights{Recency: 1.0 / 3, Frequency: 1.0 / 3, Temporal: 1.0 / 3}
	}
	return HybridWeights{Recency: w.Recency / sum, Frequency: w.Frequency / sum, Temporal: w.Temporal / sum}
}

// Config holds configuration parameters for the cache store.
type Config struct {
	MaxSize              int           // Maximum number of entries in the main store
	Strategy             Strategy      // Strategy selected at construction
	EnableCompression    bool          // Compress payloads larger than CompressionThreshold
	CompressionThreshold int           // Encoded size (bytes) above which payloads are compressed
	SimilarityThreshold  float64       // Minimum similarity [0,1] for FindSimilar to match
	SimilarityScale      float64       // Mean displacement that maps to similarity 0
	TemporalWindow       time.Duration // Sliding window used by TEMPORAL (frame time)
	HitRateWindow        int           // Accesses tracked for hit-rate based optimisation
	AdaptiveThreshold    float64       // Window hit rate below which Optimize acts
	RegionCacheSize      int           // Entries per region sub-cache; 0 disables them
	HybridWeights        HybridWeights // Blend used by HYBRID
}

// DefaultConfig returns cache configuration loaded from the canonical
// tuning defaults file.
func DefaultConfig() Config {
	return ConfigFromTuning(config.MustLoadDefaultConfig())
}

// ConfigFromTuning builds a Config from a loaded TuningConfig. An unknown
// strategy name falls back to ADAPTIVE; Validate on the tuning file is the
// place that rejects it for user input.
func ConfigFromTuning(cfg *config.TuningConfig) Config {
	strategy, err := ParseStrategy(cfg.GetStrategy())
	if err != nil {
		strategy = StrategyAdaptive
	}
	r, f, t := cfg.GetHybridWeights()
	return Config{
		MaxSize:              cfg.GetMaxSize(),
		Strategy:             strategy,
		EnableCompression:    cfg.GetEnableCompression(),
		CompressionThreshold: cfg.GetCompressionThreshold(),
		SimilarityThreshold:  cfg.GetSimilarityThreshold(),
		SimilarityScale:      cfg.GetSimilarityScale(),
		TemporalWindow:       cfg.GetTemporalWindow(),
		HitRateWindow:        cfg.GetHitRateWindow(),
		AdaptiveThreshold:    cfg.GetAdaptiveThreshold(),
		RegionCacheSize:      cfg.GetRegionCacheSize(),
		HybridWeights:        HybridWeights{Recency: r, Frequency: f, Temporal: t},
	}
}

// Validate checks that the configuration values are usable.
func (c Config) Validate() error {
	if c.MaxSize < 1 {
		return fmt.Errorf("cache: max size must be at least 1, got %d", c.MaxSize)
	}
	if !c.Strategy.valid() {
		return fmt.Errorf("cache: unknown strategy %d", int(c.Strategy))
	}
	if c.CompressionThreshold < 0 {
		return fmt.Errorf("cache: compression threshold must be non-negative, got %d", c.CompressionThreshold)
	}
	if c.SimilarityThreshold <= 0 || c.SimilarityThreshold > 1 {
		return fmt.Errorf("cache: similarity threshold must be in (0, 1], got %f", c.SimilarityThreshold)
	}
	if c.SimilarityScale <= 0 {
		return fmt.Errorf("cache: similarity scale must be positive, got %f", c.SimilarityScale)
	}
	if c.TemporalWindow <= 0 {
		return fmt.Errorf("cache: temporal window must be positive, got %s", c.TemporalWindow)
	}
	if c.HitRateWindow < 1 {
		return fmt.Errorf("cache: hit rate window must be at least 1, got %d", c.HitRateWindow)
	}
	if c.AdaptiveThreshold < 0 || c.AdaptiveThreshold > 1 {
		return fmt.Errorf("cache: adaptive threshold must be in [0, 1], got %f", c.AdaptiveThreshold)
	}
	if c.RegionCacheSize < 0 {
		return fmt.Errorf("cache: region cache size must be non-negative, got %d", c.RegionCacheSize)
	}
	w := c.HybridWeights
	if w.Recency < 0 || w.Frequency < 0 || w.Temporal < 0 {
		return fmt.Errorf("cache: hybrid weights must be non-negative, got %+v", w)
	}
	return nil
}

// evictionBatch returns how many entries one eviction cycle removes:
// ⌈10%⌉ of MaxSize, or more when the store has overshot by a larger margin.
func (c Config) evictionBatch(current int) int {
	n := (c.MaxSize + 9) / 10
	if over := current - c.MaxSize; over > n {
		n = over
	}
	return n
}
