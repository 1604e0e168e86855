package smoothing

import (
	"fmt"
	"strings"
	"time"

	"github.com/banshee-data/pose.report/internal/config"
)

// Mode selects the smoothing path.
type Mode int

const (
	ModeAdvanced Mode = iota // outlier gate, Kalman filter, weighted average
	ModeSimple               // moving average of raw positions
)

func (m Mode) String() string {
	switch m {
	case ModeAdvanced:
		return "advanced"
	case ModeSimple:
		return "simple"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// ParseMode converts a case-insensitive mode name.
func ParseMode(name string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "advanced":
		return ModeAdvanced, nil
	case "simple":
		return ModeSimple, nil
	}
	return 0, fmt.Errorf("smoothing: unknown mode %q", name)
}

// Config holds configuration parameters for the smoother.
type Config struct {
	Mode                   Mode
	EnableKalman           bool
	EnableOutlierDetection bool
	EnableWeightedAverage  bool

	// Kalman filter
	ProcessNoise     float64 // white-noise acceleration spectral density
	MeasurementNoise float64 // position variance at confidence 1

	// Outlier gate
	VelocityThreshold      float64 // units/s
	AccelerationThreshold  float64 // units/s²
	MinVisibility          float64
	MinConfidence          float64
	ZScoreThreshold        float64
	ZScoreMinStd           float64 // floor on history std
	HistorySize            int     // accepted samples kept for the gate
	MaxConsecutiveOutliers int     // after this many rejections in a row the measurement is accepted

	// Weighted moving average (also the simple-mode window)
	WindowSize  int
	DecayFactor float64

	DefaultDt time.Duration // used for the first frame and non-increasing timestamps
	MaxDt     time.Duration // upper bound on the prediction step across a gap
}

// DefaultConfig returns smoother configuration loaded from the canonical
// tuning defaults file.
func DefaultConfig() Config {
	cfg, err := ConfigFromTuning(config.MustLoadDefaultConfig())
	if err != nil {
		panic(err)
	}
	return cfg
}

// ConfigFromTuning builds a Config from a loaded TuningConfig.
func ConfigFromTuning(cfg *config.TuningConfig) (Config, error) {
	mode, err := ParseMode(cfg.GetSmoothingMode())
	if err != nil {
		return Config{}, err
	}
	return Config{
		Mode:                   mode,
		EnableKalman:           cfg.GetEnableKalman(),
		EnableOutlierDetection: cfg.GetEnableOutlierDetection(),
		EnableWeightedAverage:  cfg.GetEnableWeightedAverage(),
		ProcessNoise:           cfg.GetKalmanProcessNoise(),
		MeasurementNoise:       cfg.GetKalmanMeasurementNoise(),
		VelocityThreshold:      cfg.GetOutlierVelocityThreshold(),
		AccelerationThreshold:  cfg.GetOutlierAccelerationThreshold(),
		MinVisibility:          cfg.GetOutlierMinVisibility(),
		MinConfidence:          cfg.GetOutlierMinConfidence(),
		ZScoreThreshold:        cfg.GetOutlierZScoreThreshold(),
		ZScoreMinStd:           cfg.GetOutlierZScoreMinStd(),
		HistorySize:            cfg.GetOutlierHistorySize(),
		MaxConsecutiveOutliers: cfg.GetMaxConsecutiveOutliers(),
		WindowSize:             cfg.GetWeightedWindowSize(),
		DecayFactor:            cfg.GetWeightedDecayFactor(),
		DefaultDt:              cfg.GetDefaultFrameInterval(),
		MaxDt:                  cfg.GetMaxFrameInterval(),
	}, nil
}

// Validate checks that the configuration values are usable.
func (c Config) Validate() error {
	if c.Mode != ModeAdvanced && c.Mode != ModeSimple {
		return fmt.Errorf("smoothing: unknown mode %d", int(c.Mode))
	}
	if c.ProcessNoise <= 0 {
		return fmt.Errorf("smoothing: process noise must be positive, got %f", c.ProcessNoise)
	}
	if c.MeasurementNoise <= 0 {
		return fmt.Errorf("smoothing: measurement noise must be positive, got %f", c.MeasurementNoise)
	}
	if c.VelocityThreshold <= 0 || c.AccelerationThreshold <= 0 {
		return fmt.Errorf("smoothing: kinematic thresholds must be positive, got velocity=%f acceleration=%f", c.VelocityThreshold, c.AccelerationThreshold)
	}
	if c.MinVisibility < 0 || c.MinVisibility > 1 || c.MinConfidence < 0 || c.MinConfidence > 1 {
		return fmt.Errorf("smoothing: visibility/confidence minimums must be in [0, 1], got %f/%f", c.MinVisibility, c.MinConfidence)
	}
	if c.ZScoreThreshold <= 0 || c.ZScoreMinStd <= 0 {
		return fmt.Errorf("smoothing: z-score threshold and std floor must be positive, got %f/%f", c.ZScoreThreshold, c.ZScoreMinStd)
	}
	if c.HistorySize < 3 {
		return fmt.Errorf("smoothing: history size must be at least 3, got %d", c.HistorySize)
	}
	if c.MaxConsecutiveOutliers < 1 {
		return fmt.Errorf("smoothing: max consecutive outliers must be at least 1, got %d", c.MaxConsecutiveOutliers)
	}
	if c.WindowSize < 1 {
		return fmt.Errorf("smoothing: window size must be at least 1, got %d", c.WindowSize)
	}
	if c.DecayFactor <= 0 || c.DecayFactor > 1 {
		return fmt.Errorf("smoothing: decay factor must be in (0, 1], got %f", c.DecayFactor)
	}
	if c.DefaultDt <= 0 {
		return fmt.Errorf("smoothing: default frame interval must be positive, got %s", c.DefaultDt)
	}
	if c.MaxDt < c.DefaultDt {
		return fmt.Errorf("smoothing: max frame interval %s below default %s", c.MaxDt, c.DefaultDt)
	}
	return nil
}
