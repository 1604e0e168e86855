package smoothing

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRing(t *testing.T) {
	t.Parallel()

	r := newRing[int](3)
	assert.Equal(t, 0, r.len())
	for i := 1; i <= 5; i++ {
		r.push(i)
	}
	require.Equal(t, 3, r.len())
	assert.Equal(t, 3, r.at(0))
	assert.Equal(t, 5, r.at(2))
	assert.Equal(t, 5, r.fromNewest(0))
	assert.Equal(t, 4, r.fromNewest(1))

	r.reset()
	assert.Equal(t, 0, r.len())
	r.push(9)
	assert.Equal(t, 9, r.fromNewest(0))
}

func TestWeightedAverage(t *testing.T) {
	t.Parallel()

	w := newRing[point](3)
	w.push(point{0, 0})
	w.push(point{1, 2})

	// newest weight 1, previous 0.5
	x, y := weightedAverage(w, 0.5)
	assert.InDelta(t, 2.0/3, x, 1e-12)
	assert.InDelta(t, 4.0/3, y, 1e-12)

	x, _ = weightedAverage(w, 1)
	assert.InDelta(t, 0.5, x, 1e-12)
}

func TestCheckOutlier(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	const dt = 1 / frameRate

	steady := func(n int) *ring[sample] {
		h := newRing[sample](cfg.HistorySize)
		for i := 0; i < n; i++ {
			h.push(sample{x: 0.5 + 0.003*float64(i), y: 0.5, t: float64(i) * dt})
		}
		return h
	}
	next := func(n int, dx float64) sample {
		return sample{x: 0.5 + 0.003*float64(n) + dx, y: 0.5, t: float64(n) * dt}
	}

	tests := []struct {
		name       string
		hist       *ring[sample]
		obs        sample
		visibility float32
		confidence float32
		want       string
	}{
		{"trusted", steady(5), next(5, 0), 1, 1, ""},
		{"no history", steady(0), next(0, 5), 1, 1, ""},
		{"hidden", steady(5), next(5, 0), 0.1, 1, ReasonVisibility},
		{"unsure", steady(5), next(5, 0), 1, 0.2, ReasonConfidence},
		{"too fast", steady(1), next(1, 0.2), 1, 1, ReasonVelocity},
		{"jerk", steady(2), next(2, 0.05), 1, 1, ReasonAcceleration},
		{"far from history", zscoreHistory(cfg.HistorySize), sample{x: 0.56, y: 0.5, t: 0.5}, 1, 1, ReasonZScore},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := checkOutlier(cfg, tt.hist, tt.obs, tt.visibility, tt.confidence, cfg.DefaultDt.Seconds())
			assert.Equal(t, tt.want, got)
		})
	}
}

// zscoreHistory is a static history sampled slowly enough that a 0.06 step
// passes the kinematic checks.
func zscoreHistory(n int) *ring[sample] {
	h := newRing[sample](n)
	for i := 0; i < n; i++ {
		h.push(sample{x: 0.5, y: 0.5, t: float64(i) * 0.1})
	}
	return h
}

func TestMeasurementVariance(t *testing.T) {
	t.Parallel()

	assert.InDelta(t, 1e-3, measurementVariance(1e-3, 1), 1e-15)
	assert.InDelta(t, 2e-3, measurementVariance(1e-3, 0.5), 1e-15)
	assert.InDelta(t, 1e-2, measurementVariance(1e-3, 0), 1e-15)
}

func TestKalmanSingularInnovation(t *testing.T) {
	t.Parallel()

	ks := newKalmanState(0.1, 0.2)
	ks.P = [16]float64{}
	before := ks
	assert.False(t, ks.update(0.3, 0.4, 0))
	assert.Equal(t, before, ks)
}
