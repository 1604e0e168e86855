package scheduler

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/pose.report/internal/pose"
	"github.com/banshee-data/pose.report/internal/pose/cache"
	"github.com/banshee-data/pose.report/internal/timeutil"
)

var epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func testConfig() Config {
	return Config{
		MaxProcessingTime:          30 * time.Millisecond,
		SkipLowPriorityOnDelay:     true,
		QualitySkipMargin:          0.1,
		EnableBudgetRedistribution: true,
		MaxBudgetMultiplier:        1.5,
		TimeBucket:                 100 * time.Millisecond,
		Quantization:               0.005,
		KeypointCount:              33,
		OptimizeCache:              true,
	}
}

func idRange(from, to uint32) []uint32 {
	ids := make([]uint32, 0, to-from)
	for id := from; id < to; id++ {
		ids = append(ids, id)
	}
	return ids
}

// twoLevels is one non-skippable level of 18 keypoints and one skippable
// level of 15.
func twoLevels() []Level {
	return []Level{
		{
			Name:             "core",
			Priority:         0,
			Regions:          []pose.Region{pose.RegionTorso},
			KeypointIDs:      idRange(0, 18),
			Budget:           15 * time.Millisecond,
			QualityThreshold: 0.7,
		},
		{
			Name:             "limbs",
			Priority:         1,
			Regions:          []pose.Region{pose.RegionLeftLeg, pose.RegionRightLeg},
			KeypointIDs:      idRange(18, 33),
			Budget:           10 * time.Millisecond,
			QualityThreshold: 0.6,
			Skippable:        true,
		},
	}
}

func makeFrame(ts float64, shift float32) pose.FrameInput {
	kps := make(pose.KeypointSet, 33)
	for id := uint32(0); id < 33; id++ {
		kps[id] = pose.Keypoint{
			ID:         id,
			X:          0.3 + 0.01*float32(id) + shift,
			Y:          0.6 - 0.005*float32(id),
			Confidence: 0.9,
			Visibility: 0.9,
		}
	}
	return pose.FrameInput{Timestamp: ts, Keypoints: kps}
}

func newTestStore(t *testing.T, clock timeutil.Clock) *cache.Store[Result] {
	t.Helper()
	store, err := cache.New[Result](cache.Config{
		MaxSize:              64,
		Strategy:             cache.StrategyLRU,
		EnableCompression:    true,
		CompressionThreshold: 512,
		SimilarityThreshold:  0.99,
		SimilarityScale:      1,
		TemporalWindow:       time.Second,
		HitRateWindow:        50,
		AdaptiveThreshold:    0.3,
		RegionCacheSize:      8,
		HybridWeights:        cache.HybridWeights{Recency: 0.4, Frequency: 0.3, Temporal: 0.3},
	}, clock)
	require.NoError(t, err)
	return store
}

// delayProcessor passes keypoints through and advances the mock clock by
// whatever delay returns for the level.
type delayProcessor struct {
	clock *timeutil.MockClock
	delay func(level Level, frame int64) time.Duration
	frame atomic.Int64
	calls atomic.Int64
}

func (p *delayProcessor) Process(ctx context.Context, level Level, kps pose.KeypointSet) (Result, error) {
	p.calls.Add(1)
	if p.delay != nil {
		if d := p.delay(level, p.frame.Load()); d > 0 {
			p.clock.Advance(d)
		}
	}
	return PassThrough{}.Process(ctx, level, kps)
}

func TestValidateLevels(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func([]Level) []Level
		ok     bool
	}{
		{"valid", func(l []Level) []Level { return l }, true},
		{"empty", func([]Level) []Level { return nil }, false},
		{"missing name", func(l []Level) []Level { l[1].Name = ""; return l }, false},
		{"duplicate name", func(l []Level) []Level { l[1].Name = "core"; return l }, false},
		{"duplicate priority", func(l []Level) []Level { l[1].Priority = 0; return l }, false},
		{"overlapping ids", func(l []Level) []Level { l[1].KeypointIDs = append(l[1].KeypointIDs, 3); return l }, false},
		{"uncovered id", func(l []Level) []Level { l[1].KeypointIDs = l[1].KeypointIDs[1:]; return l }, false},
		{"id outside model", func(l []Level) []Level { l[1].KeypointIDs = append(l[1].KeypointIDs, 40); return l }, false},
		{"no ids", func(l []Level) []Level { l[1].KeypointIDs = nil; return l }, false},
		{"zero budget", func(l []Level) []Level { l[1].Budget = 0; return l }, false},
		{"quality above one", func(l []Level) []Level { l[0].QualityThreshold = 1.5; return l }, false},
		{"no critical level", func(l []Level) []Level { l[0].Skippable = true; return l }, false},
		{"critical budget too large", func(l []Level) []Level { l[0].Budget = time.Second; return l }, false},
		{"skippable budget may exceed frame", func(l []Level) []Level { l[1].Budget = time.Second; return l }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateLevels(tt.mutate(twoLevels()), 33, 30*time.Millisecond)
			if tt.ok {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalidLevels), "got %v", err)
		})
	}
}

func TestDefaultLevelsAreValid(t *testing.T) {
	t.Parallel()
	require.NoError(t, ValidateLevels(DefaultLevels(), 33, 30*time.Millisecond))
}

func TestNewRejectsBadInput(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.MaxProcessingTime = 0
	_, err := New(cfg, twoLevels(), nil, nil, nil)
	assert.Error(t, err)

	_, err = New(testConfig(), twoLevels()[1:], nil, nil, nil)
	assert.ErrorIs(t, err, ErrInvalidLevels)
}

func TestLevelsAreRunInPriorityOrder(t *testing.T) {
	t.Parallel()

	levels := twoLevels()
	levels[0], levels[1] = levels[1], levels[0]
	clock := timeutil.NewMockClock(epoch)

	var order []string
	proc := ProcessorFunc(func(ctx context.Context, l Level, kps pose.KeypointSet) (Result, error) {
		order = append(order, l.Name)
		return PassThrough{}.Process(ctx, l, kps)
	})
	s, err := New(testConfig(), levels, nil, proc, clock)
	require.NoError(t, err)

	out := s.Run(context.Background(), makeFrame(0, 0))
	assert.Equal(t, []string{"core", "limbs"}, order)
	assert.Equal(t, "core", out.Levels[0].Name)
	assert.Equal(t, "core", s.Levels()[0].Name)
}

// 100 frames of 33 keypoints under a 30ms budget. Frame 50 injects a 20ms
// delay into the skippable level's transform.
func TestDelayedSkippableLevelIsReportedSkipped(t *testing.T) {
	t.Parallel()

	clock := timeutil.NewMockClock(epoch)
	proc := &delayProcessor{clock: clock}
	proc.delay = func(l Level, frame int64) time.Duration {
		if l.Skippable && frame == 50 {
			return 20 * time.Millisecond
		}
		return 0
	}
	s, err := New(testConfig(), twoLevels(), newTestStore(t, clock), proc, clock)
	require.NoError(t, err)

	core := pose.KeypointSet{}
	for frame := int64(0); frame < 100; frame++ {
		proc.frame.Store(frame)
		in := makeFrame(float64(frame)/30, 0.02*float32(frame))
		out := s.Run(context.Background(), in)

		for _, id := range idRange(0, 18) {
			core[id] = in.Keypoints[id]
		}
		for id, kp := range core {
			assert.Equal(t, kp, out.Keypoints[id], "frame %d core keypoint %d", frame, id)
		}
		assert.NotContains(t, out.SkippedRegions, pose.RegionTorso)

		if frame == 50 {
			assert.Equal(t, []string{"limbs"}, out.SkippedLevels())
			assert.ElementsMatch(t, []pose.Region{pose.RegionLeftLeg, pose.RegionRightLeg}, out.SkippedRegions)
			assert.Len(t, out.Keypoints, 18)
			assert.Equal(t, ReasonOverrun, out.Levels[1].Reason)
			assert.Contains(t, out.Optimizations, "overrun_discard_limbs")
			continue
		}
		assert.Empty(t, out.SkippedRegions, "frame %d", frame)
		assert.Len(t, out.Keypoints, 33, "frame %d", frame)
	}

	st := s.Stats()
	assert.Equal(t, int64(100), st.Frames)
	assert.Equal(t, int64(1), st.Overruns)
}

func TestSkipWhenRemainingBudgetTooSmall(t *testing.T) {
	t.Parallel()

	for _, skipOnDelay := range []bool{true, false} {
		t.Run(fmt.Sprintf("skip_on_delay=%t", skipOnDelay), func(t *testing.T) {
			clock := timeutil.NewMockClock(epoch)
			proc := &delayProcessor{clock: clock}
			proc.delay = func(l Level, _ int64) time.Duration {
				if !l.Skippable {
					return 25 * time.Millisecond
				}
				return 0
			}
			cfg := testConfig()
			cfg.SkipLowPriorityOnDelay = skipOnDelay
			s, err := New(cfg, twoLevels(), nil, proc, clock)
			require.NoError(t, err)

			out := s.Run(context.Background(), makeFrame(0, 0))
			assert.Equal(t, StateComputed, out.LevelStates()["core"], "critical level overruns but is kept")
			if skipOnDelay {
				assert.Equal(t, StateSkipped, out.LevelStates()["limbs"])
				assert.Equal(t, ReasonBudget, out.Levels[1].Reason)
				assert.Equal(t, int64(1), proc.calls.Load())
			} else {
				assert.Equal(t, StateComputed, out.LevelStates()["limbs"])
				assert.Len(t, out.Keypoints, 33)
			}
		})
	}
}

func TestCriticalLevelNeverSkipped(t *testing.T) {
	t.Parallel()

	for _, maxTime := range []time.Duration{15 * time.Millisecond, 20 * time.Millisecond, 30 * time.Millisecond, 100 * time.Millisecond} {
		for _, step := range []time.Duration{0, time.Millisecond, 10 * time.Millisecond, 50 * time.Millisecond} {
			for _, cancelled := range []bool{false, true} {
				name := fmt.Sprintf("max=%s/step=%s/cancelled=%t", maxTime, step, cancelled)
				t.Run(name, func(t *testing.T) {
					clock := timeutil.NewMockClock(epoch)
					clock.SetStep(step)
					cfg := testConfig()
					cfg.MaxProcessingTime = maxTime
					s, err := New(cfg, twoLevels(), newTestStore(t, clock), nil, clock)
					require.NoError(t, err)

					ctx, cancel := context.WithCancel(context.Background())
					if cancelled {
						cancel()
					} else {
						defer cancel()
					}
					for frame := 0; frame < 5; frame++ {
						in := makeFrame(float64(frame)/30, 0.01*float32(frame))
						out := s.Run(ctx, in)

						assert.NotContains(t, out.SkippedRegions, pose.RegionTorso)
						assert.NotEqual(t, StateSkipped, out.LevelStates()["core"])
						for _, id := range idRange(0, 18) {
							assert.Contains(t, out.Keypoints, id)
						}
						for _, r := range out.Levels {
							assert.True(t, r.State.Terminal(), "level %s left %s", r.Name, r.State)
						}
					}
				})
			}
		}
	}
}

func TestRunIsDeterministic(t *testing.T) {
	t.Parallel()

	run := func() []Outcome {
		clock := timeutil.NewMockClock(epoch)
		clock.SetStep(3 * time.Millisecond)
		extra := twoLevels()
		extra[1].KeypointIDs = idRange(18, 26)
		extra = append(extra, Level{
			Name:        "tail",
			Priority:    2,
			Regions:     []pose.Region{pose.RegionFace},
			KeypointIDs: idRange(26, 33),
			Budget:      8 * time.Millisecond,
			Skippable:   true,
		})
		s, err := New(testConfig(), extra, newTestStore(t, clock), nil, clock)
		require.NoError(t, err)

		var outs []Outcome
		for frame := 0; frame < 20; frame++ {
			outs = append(outs, s.Run(context.Background(), makeFrame(float64(frame)/30, 0.003*float32(frame%4))))
		}
		return outs
	}

	a, b := run(), run()
	if diff := cmp.Diff(a, b); diff != "" {
		t.Errorf("outcomes differ (-first +second):\n%s", diff)
	}
}

func TestCacheHitOnRepeatedFrame(t *testing.T) {
	t.Parallel()

	clock := timeutil.NewMockClock(epoch)
	proc := &delayProcessor{clock: clock}
	s, err := New(testConfig(), twoLevels(), newTestStore(t, clock), proc, clock)
	require.NoError(t, err)

	in := makeFrame(1, 0)
	first := s.Run(context.Background(), in)
	second := s.Run(context.Background(), in)

	assert.Equal(t, 0, first.CacheHits)
	assert.Equal(t, 2, second.CacheHits)
	assert.Equal(t, StateCacheHit, second.LevelStates()["core"])
	assert.Equal(t, StateCacheHit, second.LevelStates()["limbs"])
	assert.Equal(t, int64(2), proc.calls.Load())
	if diff := cmp.Diff(first.Keypoints, second.Keypoints); diff != "" {
		t.Errorf("cached keypoints differ:\n%s", diff)
	}
}

func TestSimilarFrameHitsCache(t *testing.T) {
	t.Parallel()

	clock := timeutil.NewMockClock(epoch)
	proc := &delayProcessor{clock: clock}
	s, err := New(testConfig(), twoLevels(), newTestStore(t, clock), proc, clock)
	require.NoError(t, err)

	s.Run(context.Background(), makeFrame(1, 0))
	// Shifted past a quantisation step and into the next time bucket.
	out := s.Run(context.Background(), makeFrame(1.15, 0.004))

	assert.Equal(t, 2, out.CacheHits)
	assert.Equal(t, int64(2), proc.calls.Load())
}

func TestOverrunResultIsStillCached(t *testing.T) {
	t.Parallel()

	clock := timeutil.NewMockClock(epoch)
	proc := &delayProcessor{clock: clock}
	proc.delay = func(l Level, frame int64) time.Duration {
		if l.Skippable && frame == 0 {
			return 20 * time.Millisecond
		}
		return 0
	}
	s, err := New(testConfig(), twoLevels(), newTestStore(t, clock), proc, clock)
	require.NoError(t, err)

	in := makeFrame(1, 0)
	first := s.Run(context.Background(), in)
	require.Equal(t, StateSkipped, first.LevelStates()["limbs"])

	proc.frame.Store(1)
	second := s.Run(context.Background(), in)
	assert.Equal(t, StateCacheHit, second.LevelStates()["limbs"])
	assert.Len(t, second.Keypoints, 33)
}

func TestProcessorErrorFallsBackToRawKeypoints(t *testing.T) {
	t.Parallel()

	clock := timeutil.NewMockClock(epoch)
	var calls atomic.Int64
	proc := ProcessorFunc(func(ctx context.Context, l Level, kps pose.KeypointSet) (Result, error) {
		if l.Name == "limbs" {
			calls.Add(1)
			return Result{}, errors.New("model unavailable")
		}
		return PassThrough{}.Process(ctx, l, kps)
	})
	s, err := New(testConfig(), twoLevels(), newTestStore(t, clock), proc, clock)
	require.NoError(t, err)

	in := makeFrame(1, 0)
	out := s.Run(context.Background(), in)
	assert.Equal(t, StateComputed, out.LevelStates()["limbs"])
	assert.Equal(t, 0.0, out.LevelQuality()["limbs"])
	assert.Equal(t, in.Keypoints[20], out.Keypoints[20])

	// Failed results are not cached.
	s.Run(context.Background(), in)
	assert.Equal(t, int64(2), calls.Load())
	assert.Equal(t, int64(2), s.Stats().ProcessorErrors)
}

func TestProcessorOutputRestrictedToLevel(t *testing.T) {
	t.Parallel()

	proc := ProcessorFunc(func(_ context.Context, l Level, kps pose.KeypointSet) (Result, error) {
		out := kps.Clone()
		out[99] = pose.Keypoint{ID: 99}
		return Result{Keypoints: out, Quality: 1}, nil
	})
	s, err := New(testConfig(), twoLevels(), nil, proc, timeutil.NewMockClock(epoch))
	require.NoError(t, err)

	out := s.Run(context.Background(), makeFrame(0, 0))
	assert.NotContains(t, out.Keypoints, uint32(99))
	assert.Len(t, out.Keypoints, 33)
}

func TestInvalidKeypointsAreDropped(t *testing.T) {
	t.Parallel()

	s, err := New(testConfig(), twoLevels(), nil, nil, timeutil.NewMockClock(epoch))
	require.NoError(t, err)

	in := makeFrame(0, 0)
	bad := in.Keypoints[3]
	bad.X = float32(math.NaN())
	in.Keypoints[3] = bad
	delete(in.Keypoints, 20)

	out := s.Run(context.Background(), in)
	assert.NotContains(t, out.Keypoints, uint32(3))
	assert.NotContains(t, out.Keypoints, uint32(20))
	assert.Len(t, out.Keypoints, 31)
	assert.Empty(t, out.SkippedRegions)
}

func TestQualitySkip(t *testing.T) {
	t.Parallel()

	proc := ProcessorFunc(func(_ context.Context, l Level, kps pose.KeypointSet) (Result, error) {
		return Result{Keypoints: kps, Quality: 0.95}, nil
	})

	for _, enabled := range []bool{true, false} {
		t.Run(fmt.Sprintf("enabled=%t", enabled), func(t *testing.T) {
			cfg := testConfig()
			cfg.EnableQualitySkip = enabled
			s, err := New(cfg, twoLevels(), nil, proc, timeutil.NewMockClock(epoch))
			require.NoError(t, err)

			out := s.Run(context.Background(), makeFrame(0, 0))
			if !enabled {
				assert.Empty(t, out.SkippedRegions)
				assert.NotContains(t, out.Optimizations, OptQualitySkip)
				return
			}
			assert.Equal(t, StateSkipped, out.LevelStates()["limbs"])
			assert.Equal(t, ReasonQuality, out.Levels[1].Reason)
			assert.Contains(t, out.Optimizations, OptQualitySkip)
			assert.Len(t, out.Keypoints, 18)
		})
	}
}

func TestQualitySkipNeedsMargin(t *testing.T) {
	t.Parallel()

	proc := ProcessorFunc(func(_ context.Context, l Level, kps pose.KeypointSet) (Result, error) {
		return Result{Keypoints: kps, Quality: 0.75}, nil
	})
	cfg := testConfig()
	cfg.EnableQualitySkip = true
	s, err := New(cfg, twoLevels(), nil, proc, timeutil.NewMockClock(epoch))
	require.NoError(t, err)

	out := s.Run(context.Background(), makeFrame(0, 0))
	assert.Equal(t, StateComputed, out.LevelStates()["limbs"])
}

func TestBudgetRedistribution(t *testing.T) {
	t.Parallel()

	for _, enabled := range []bool{true, false} {
		t.Run(fmt.Sprintf("enabled=%t", enabled), func(t *testing.T) {
			clock := timeutil.NewMockClock(epoch)
			proc := &delayProcessor{clock: clock}
			proc.delay = func(l Level, _ int64) time.Duration {
				if l.Skippable {
					return 12 * time.Millisecond
				}
				return 3 * time.Millisecond
			}
			cfg := testConfig()
			cfg.EnableBudgetRedistribution = enabled
			s, err := New(cfg, twoLevels(), nil, proc, clock)
			require.NoError(t, err)

			out := s.Run(context.Background(), makeFrame(0, 0))
			if enabled {
				// core saved 80% of 15ms: limbs budget 10ms × 1.5 (capped).
				assert.Equal(t, StateComputed, out.LevelStates()["limbs"])
				assert.Equal(t, 15*time.Millisecond, out.Levels[1].Budget)
				assert.Contains(t, out.Optimizations, OptBudgetRedistribute)
			} else {
				assert.Equal(t, StateSkipped, out.LevelStates()["limbs"])
				assert.Equal(t, ReasonOverrun, out.Levels[1].Reason)
				assert.Equal(t, 10*time.Millisecond, out.Levels[1].Budget)
			}
		})
	}
}

func TestBudgetMultiplierIsBounded(t *testing.T) {
	t.Parallel()

	clock := timeutil.NewMockClock(epoch)
	cfg := testConfig()
	cfg.MaxBudgetMultiplier = 1.25
	s, err := New(cfg, twoLevels(), nil, nil, clock)
	require.NoError(t, err)

	out := s.Run(context.Background(), makeFrame(0, 0))
	assert.Equal(t, 12500*time.Microsecond, out.Levels[1].Budget)
}

func TestParallelLevels(t *testing.T) {
	t.Parallel()

	levels := []Level{
		{Name: "core", Priority: 0, Regions: []pose.Region{pose.RegionTorso}, KeypointIDs: idRange(0, 13), Budget: 15 * time.Millisecond},
		{Name: "hands", Priority: 1, Regions: []pose.Region{pose.RegionLeftHand}, KeypointIDs: idRange(13, 23), Budget: 8 * time.Millisecond, Skippable: true, ParallelSafe: true},
		{Name: "face", Priority: 2, Regions: []pose.Region{pose.RegionFace}, KeypointIDs: idRange(23, 33), Budget: 5 * time.Millisecond, Skippable: true, ParallelSafe: true},
	}
	clock := timeutil.NewMockClock(epoch)
	var calls atomic.Int64
	proc := ProcessorFunc(func(ctx context.Context, l Level, kps pose.KeypointSet) (Result, error) {
		calls.Add(1)
		return PassThrough{}.Process(ctx, l, kps)
	})
	cfg := testConfig()
	cfg.EnableParallelProcessing = true
	s, err := New(cfg, levels, newTestStore(t, clock), proc, clock)
	require.NoError(t, err)

	for frame := 0; frame < 10; frame++ {
		out := s.Run(context.Background(), makeFrame(float64(frame), 0.05*float32(frame)))
		assert.Contains(t, out.Optimizations, OptParallelLevels)
		assert.Len(t, out.Keypoints, 33)
		assert.Equal(t, 3, out.LevelsCompleted)
		assert.Equal(t, []string{"core", "hands", "face"}, []string{out.Levels[0].Name, out.Levels[1].Name, out.Levels[2].Name})
	}
	assert.Equal(t, int64(30), calls.Load())
}

func TestCancelledContextSkipsOnlySkippable(t *testing.T) {
	t.Parallel()

	s, err := New(testConfig(), twoLevels(), nil, nil, timeutil.NewMockClock(epoch))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	out := s.Run(ctx, makeFrame(0, 0))
	assert.Equal(t, StateComputed, out.LevelStates()["core"])
	assert.Equal(t, StateSkipped, out.LevelStates()["limbs"])
	assert.Equal(t, ReasonCancelled, out.Levels[1].Reason)
}

func TestUpdateConfigAndSetLevels(t *testing.T) {
	t.Parallel()

	s, err := New(testConfig(), twoLevels(), nil, nil, timeutil.NewMockClock(epoch))
	require.NoError(t, err)

	err = s.UpdateConfig(func(c *Config) { c.MaxProcessingTime = 10 * time.Millisecond })
	assert.ErrorIs(t, err, ErrInvalidLevels, "core budget no longer fits")
	assert.Equal(t, 30*time.Millisecond, s.Config().MaxProcessingTime)

	require.NoError(t, s.UpdateConfig(func(c *Config) { c.EnableParallelProcessing = true }))
	assert.True(t, s.Config().EnableParallelProcessing)

	bad := twoLevels()
	bad[1].KeypointIDs = bad[0].KeypointIDs
	assert.Error(t, s.SetLevels(bad))

	good := twoLevels()
	good[1].Budget = 5 * time.Millisecond
	require.NoError(t, s.SetLevels(good))
	assert.Equal(t, 5*time.Millisecond, s.Levels()[1].Budget)
}

func TestReconfigureSwapsConfigAndLevelsTogether(t *testing.T) {
	t.Parallel()

	s, err := New(testConfig(), twoLevels(), nil, nil, timeutil.NewMockClock(epoch))
	require.NoError(t, err)

	// A 10ms frame budget only fits once the core budget shrinks with it.
	cfg := testConfig()
	cfg.MaxProcessingTime = 10 * time.Millisecond
	tight := twoLevels()
	tight[0].Budget = 8 * time.Millisecond

	assert.ErrorIs(t, s.Reconfigure(cfg, twoLevels()), ErrInvalidLevels)
	assert.Equal(t, 30*time.Millisecond, s.Config().MaxProcessingTime)

	require.NoError(t, s.Reconfigure(cfg, tight))
	assert.Equal(t, 10*time.Millisecond, s.Config().MaxProcessingTime)
	assert.Equal(t, 8*time.Millisecond, s.Levels()[0].Budget)
}

func TestLevelStateTransitions(t *testing.T) {
	t.Parallel()

	r := LevelReport{Name: "core"}
	assert.False(t, r.transition(StatePending))
	assert.True(t, r.transition(StateComputed))
	assert.False(t, r.transition(StateSkipped), "terminal states are final")
	assert.Equal(t, StateComputed, r.State)

	b, err := StateCacheHit.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "cache_hit", string(b))
}

func TestRunDropsOutOfRangeScores(t *testing.T) {
	t.Parallel()

	clock := timeutil.NewMockClock(epoch)
	s, err := New(testConfig(), twoLevels(), nil, nil, clock)
	require.NoError(t, err)

	frame := makeFrame(0, 0)
	for id := uint32(0); id < 18; id++ {
		kp := frame.Keypoints[id]
		kp.Confidence, kp.Visibility = 1, 1
		frame.Keypoints[id] = kp
	}
	loud := frame.Keypoints[3]
	loud.Confidence = 4
	frame.Keypoints[3] = loud

	out := s.Run(context.Background(), frame)
	assert.NotContains(t, out.Keypoints, uint32(3))
	assert.Len(t, out.Keypoints, 32)
	q := out.LevelQuality()["core"]
	assert.InDelta(t, 17.0/18.0, q, 1e-9)
	assert.LessOrEqual(t, q, 1.0)
}

func TestSubsetQuality(t *testing.T) {
	t.Parallel()

	kps := pose.KeypointSet{
		0: {ID: 0, Confidence: 1, Visibility: 1},
		1: {ID: 1, Confidence: 0.5, Visibility: 0.5},
	}
	assert.InDelta(t, 0.625, SubsetQuality(kps, 2), 1e-9)
	assert.InDelta(t, 0.3125, SubsetQuality(kps, 4), 1e-9, "missing keypoints count as zero")
	assert.Equal(t, 0.0, SubsetQuality(nil, 0))
}
