package smoothing

import (
	"math"

	"gonum.org/v1/gonum/stat"
)

// Outlier reasons, in the order they are checked.
const (
	ReasonVisibility   = "visibility"
	ReasonConfidence   = "confidence"
	ReasonVelocity     = "velocity"
	ReasonAcceleration = "acceleration"
	ReasonZScore       = "zscore"
)

// kinematic reports whether reason comes from the motion or history checks.
// Only those rejections count towards reacquisition.
func kinematic(reason string) bool {
	switch reason {
	case ReasonVelocity, ReasonAcceleration, ReasonZScore:
		return true
	}
	return false
}

// sample is an accepted observation kept in a keypoint's outlier history.
type sample struct {
	x, y float64
	t    float64
}

// checkOutlier gates an incoming observation against the history of
// accepted samples. It returns the first failing check, or "" when the
// observation is trusted. dtDefault replaces non-positive time steps.
func checkOutlier(cfg Config, hist *ring[sample], obs sample, visibility, confidence float32, dtDefault float64) string {
	if float64(visibility) < cfg.MinVisibility {
		return ReasonVisibility
	}
	if float64(confidence) < cfg.MinConfidence {
		return ReasonConfidence
	}
	n := hist.len()
	if n == 0 {
		return ""
	}

	last := hist.fromNewest(0)
	dt := obs.t - last.t
	if dt <= 0 {
		dt = dtDefault
	}
	vx := (obs.x - last.x) / dt
	vy := (obs.y - last.y) / dt
	if math.Hypot(vx, vy) > cfg.VelocityThreshold {
		return ReasonVelocity
	}

	if n >= 2 {
		prev := hist.fromNewest(1)
		pdt := last.t - prev.t
		if pdt <= 0 {
			pdt = dtDefault
		}
		pvx := (last.x - prev.x) / pdt
		pvy := (last.y - prev.y) / pdt
		if math.Hypot(vx-pvx, vy-pvy)/dt > cfg.AccelerationThreshold {
			return ReasonAcceleration
		}
	}

	if n >= 3 {
		xs := make([]float64, n)
		ys := make([]float64, n)
		for i := 0; i < n; i++ {
			s := hist.at(i)
			xs[i], ys[i] = s.x, s.y
		}
		if zScore(xs, obs.x, cfg.ZScoreMinStd) > cfg.ZScoreThreshold ||
			zScore(ys, obs.y, cfg.ZScoreMinStd) > cfg.ZScoreThreshold {
			return ReasonZScore
		}
	}
	return ""
}

func zScore(history []float64, v, minStd float64) float64 {
	mean, std := stat.MeanStdDev(history, nil)
	if math.IsNaN(std) || std < minStd {
		std = minStd
	}
	return math.Abs(v-mean) / std
}
