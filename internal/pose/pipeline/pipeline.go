package pipeline

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/pose.report/internal/config"
	"github.com/banshee-data/pose.report/internal/pose"
	"github.com/banshee-data/pose.report/internal/pose/cache"
	"github.com/banshee-data/pose.report/internal/pose/scheduler"
	"github.com/banshee-data/pose.report/internal/pose/smoothing"
	"github.com/banshee-data/pose.report/internal/timeutil"
)

// Diagnostics describes how one frame was processed.
type Diagnostics struct {
	SessionID            string                          `json:"session_id"`
	LevelsCompleted      int                             `json:"levels_completed"`
	SkippedRegions       []pose.Region                   `json:"skipped_regions"`
	TotalTimeMs          float64                         `json:"total_time_ms"`
	CacheHits            int                             `json:"cache_hits"`
	CacheHitRate         float64                         `json:"cache_hit_rate"`
	OutliersDetected     int64                           `json:"outliers_detected"`
	KalmanCorrections    int64                           `json:"kalman_corrections"`
	OptimizationsApplied []string                        `json:"optimizations_applied"`
	LevelStates          map[string]scheduler.LevelState `json:"level_states"`
	LevelQuality         map[string]float64              `json:"level_quality"`
	CoastedKeypoints     int                             `json:"coasted_keypoints"`
}

// Output is the stabilised result of one frame.
type Output struct {
	SessionID   string           `json:"session_id"`
	FrameIndex  int64            `json:"frame_index"`
	Timestamp   float64          `json:"timestamp"`
	Keypoints   pose.KeypointSet `json:"keypoints"`
	Diagnostics Diagnostics      `json:"diagnostics"`
}

// Stats aggregates the cumulative counters of every engine.
type Stats struct {
	SessionID string          `json:"session_id"`
	Frames    int64           `json:"frames"`
	Coasted   int64           `json:"coasted"`
	Cache     cache.Stats     `json:"cache"`
	Scheduler scheduler.Stats `json:"scheduler"`
	Smoothing smoothing.Stats `json:"smoothing"`
}

// Pipeline processes the frames of one tracking session. Process calls
// are serialised; the smoother's per-keypoint state belongs to a single
// frame sequence.
type Pipeline struct {
	sessionID string
	clock     timeutil.Clock

	store    *cache.Store[scheduler.Result]
	sched    *scheduler.Scheduler
	smoother *smoothing.Smoother

	mu     sync.Mutex // serialises Process
	levels []scheduler.Level
	coast  atomic.Bool

	frames  atomic.Int64
	coasted atomic.Int64
}

// New builds the engines described by cfg and starts a session.
func New(cfg Config) (*Pipeline, error) {
	if err := cfg.Validate(); err != nil {
		opsf("refusing to start: %v", err)
		return nil, err
	}
	clock := cfg.Clock
	if clock == nil {
		clock = timeutil.RealClock{}
	}

	store, err := cache.New[scheduler.Result](cfg.Cache, clock)
	if err != nil {
		return nil, fmt.Errorf("pipeline: cache: %w", err)
	}
	sched, err := scheduler.New(cfg.Scheduler, cfg.Levels, store, cfg.Processor, clock)
	if err != nil {
		return nil, fmt.Errorf("pipeline: scheduler: %w", err)
	}
	smoother, err := smoothing.New(cfg.Smoothing)
	if err != nil {
		return nil, fmt.Errorf("pipeline: smoothing: %w", err)
	}

	p := &Pipeline{
		sessionID: fmt.Sprintf("ses_%s", uuid.NewString()),
		clock:     clock,
		store:     store,
		sched:     sched,
		smoother:  smoother,
		levels:    sched.Levels(),
	}
	p.coast.Store(cfg.CoastSkipped)
	diagf("session %s started: %d levels, cache=%s/%d, smoothing=%s", p.sessionID, len(p.levels), cfg.Cache.Strategy, cfg.Cache.MaxSize, cfg.Smoothing.Mode)
	return p, nil
}

// SessionID returns the identifier stamped on every Output.
func (p *Pipeline) SessionID() string { return p.sessionID }

// Cache returns the pipeline's cache store.
func (p *Pipeline) Cache() *cache.Store[scheduler.Result] { return p.store }

// Scheduler returns the pipeline's scheduler.
func (p *Pipeline) Scheduler() *scheduler.Scheduler { return p.sched }

// Smoother returns the pipeline's smoother.
func (p *Pipeline) Smoother() *smoothing.Smoother { return p.smoother }

// SetCoastSkipped toggles coasting of skipped-level and invalid keypoints.
func (p *Pipeline) SetCoastSkipped(on bool) { p.coast.Store(on) }

// SetLevels replaces the processing levels from the next frame on.
func (p *Pipeline) SetLevels(levels []scheduler.Level) error {
	if err := p.sched.SetLevels(levels); err != nil {
		return err
	}
	p.mu.Lock()
	p.levels = p.sched.Levels()
	p.mu.Unlock()
	return nil
}

// ApplyTuning pushes a tuning config into the running engines. The whole
// config is validated first so a bad patch changes nothing.
func (p *Pipeline) ApplyTuning(tc *config.TuningConfig) error {
	next, err := ConfigFromTuning(tc)
	if err != nil {
		return err
	}
	if err := next.Validate(); err != nil {
		opsf("rejected tuning update: %v", err)
		return err
	}
	if err := p.store.UpdateConfig(func(c *cache.Config) { *c = next.Cache }); err != nil {
		return err
	}
	if err := p.sched.Reconfigure(next.Scheduler, next.Levels); err != nil {
		return err
	}
	p.mu.Lock()
	p.levels = p.sched.Levels()
	p.mu.Unlock()
	if err := p.smoother.UpdateConfig(func(c *smoothing.Config) { *c = next.Smoothing }); err != nil {
		return err
	}
	p.coast.Store(next.CoastSkipped)
	diagf("session %s: tuning applied", p.sessionID)
	return nil
}

// SignalTrackingLoss resets the smoother state of the given keypoints, or
// of every keypoint when ids is empty.
func (p *Pipeline) SignalTrackingLoss(ids ...uint32) {
	if len(ids) == 0 {
		p.smoother.ResetAll()
		diagf("session %s: tracking lost, all keypoints reset", p.sessionID)
		return
	}
	p.smoother.Reset(ids...)
	diagf("session %s: tracking lost for %d keypoints", p.sessionID, len(ids))
}

// Process runs one frame through the scheduler and the smoother. It always
// returns a best-effort result.
func (p *Pipeline) Process(ctx context.Context, frame pose.FrameInput) Output {
	p.mu.Lock()
	defer p.mu.Unlock()

	start := p.clock.Now()
	index := p.frames.Add(1) - 1
	before := p.smoother.Stats()

	outcome := p.sched.Run(ctx, frame)
	smoothed := p.smoother.Smooth(pose.FrameInput{
		Timestamp:    frame.Timestamp,
		Keypoints:    outcome.Keypoints,
		TrackingLost: frame.TrackingLost,
	})

	coasted := 0
	if p.coast.Load() {
		coasted = p.coastMissing(outcome, frame, smoothed)
		p.coasted.Add(int64(coasted))
	}

	after := p.smoother.Stats()
	diag := Diagnostics{
		SessionID:            p.sessionID,
		LevelsCompleted:      outcome.LevelsCompleted,
		SkippedRegions:       nonNilRegions(outcome.SkippedRegions),
		TotalTimeMs:          float64(p.clock.Since(start)) / float64(time.Millisecond),
		CacheHits:            outcome.CacheHits,
		CacheHitRate:         p.store.Stats().HitRate,
		OutliersDetected:     after.OutliersDetected - before.OutliersDetected,
		KalmanCorrections:    after.KalmanCorrections - before.KalmanCorrections,
		OptimizationsApplied: nonNilStrings(outcome.Optimizations),
		LevelStates:          outcome.LevelStates(),
		LevelQuality:         outcome.LevelQuality(),
		CoastedKeypoints:     coasted,
	}
	tracef("frame %d t=%.3f: %d keypoints, %d coasted, %.2fms", index, frame.Timestamp, len(smoothed), coasted, diag.TotalTimeMs)

	return Output{
		SessionID:   p.sessionID,
		FrameIndex:  index,
		Timestamp:   frame.Timestamp,
		Keypoints:   smoothed,
		Diagnostics: diag,
	}
}

// coastMissing fills keypoints of skipped levels, and input keypoints that
// were dropped as invalid, with the smoother's prediction. Keypoints that
// were never observed stay absent.
func (p *Pipeline) coastMissing(outcome scheduler.Outcome, frame pose.FrameInput, out pose.KeypointSet) int {
	n := 0
	fill := func(id uint32) {
		if _, ok := out[id]; ok {
			return
		}
		if kp, ok := p.smoother.Predict(id, frame.Timestamp); ok {
			out[id] = kp
			n++
		}
	}

	if skipped := outcome.SkippedLevels(); len(skipped) > 0 {
		names := make(map[string]bool, len(skipped))
		for _, name := range skipped {
			names[name] = true
		}
		for _, lvl := range p.levels {
			if !names[lvl.Name] {
				continue
			}
			for _, id := range lvl.KeypointIDs {
				fill(id)
			}
		}
	}
	for id := range frame.Keypoints {
		fill(id)
	}
	return n
}

// Stats returns a snapshot of every engine's counters.
func (p *Pipeline) Stats() Stats {
	return Stats{
		SessionID: p.sessionID,
		Frames:    p.frames.Load(),
		Coasted:   p.coasted.Load(),
		Cache:     p.store.Stats(),
		Scheduler: p.sched.Stats(),
		Smoothing: p.smoother.Stats(),
	}
}

func nonNilRegions(r []pose.Region) []pose.Region {
	if r == nil {
		return []pose.Region{}
	}
	return r
}

func nonNilStrings(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
