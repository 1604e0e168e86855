package scheduler

import (
	"context"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/banshee-data/pose.report/internal/pose"
	"github.com/banshee-data/pose.report/internal/pose/cache"
	"github.com/banshee-data/pose.report/internal/timeutil"
)

// Skip reasons recorded on LevelReport.
const (
	ReasonBudget    = "budget"    // remaining frame budget below the level's budget
	ReasonOverrun   = "overrun"   // level ran past its effective budget; result discarded
	ReasonQuality   = "quality"   // an earlier level's quality made the rest unnecessary
	ReasonCancelled = "cancelled" // context done before the level started
)

// Optimization notes reported in Outcome.Optimizations.
const (
	OptQualitySkip          = "quality_skip"
	OptBudgetRedistribute   = "budget_redistribution"
	OptParallelLevels       = "parallel_levels"
	optOverrunDiscardPrefix = "overrun_discard_"
)

// LevelReport is the per-frame record of one level.
type LevelReport struct {
	Name     string        `json:"name"`
	Priority int           `json:"priority"`
	State    LevelState    `json:"state"`
	Reason   string        `json:"reason,omitempty"`
	Quality  float64       `json:"quality"`
	Elapsed  time.Duration `json:"elapsed_ns"`
	Budget   time.Duration `json:"budget_ns"` // effective budget after redistribution
}

// transition moves a pending level to a terminal state. Any other move is
// refused and logged: levels never go backward within a frame.
func (r *LevelReport) transition(to LevelState) bool {
	if r.State.Terminal() || !to.Terminal() {
		opsf("level %s: refused transition %s -> %s", r.Name, r.State, to)
		return false
	}
	r.State = to
	return true
}

// Outcome is the result of scheduling one frame.
type Outcome struct {
	Keypoints       pose.KeypointSet
	SkippedRegions  []pose.Region
	Levels          []LevelReport // priority order
	LevelsCompleted int
	TotalTime       time.Duration
	CacheHits       int
	Optimizations   []string
}

// LevelStates returns each level's terminal state by name.
func (o Outcome) LevelStates() map[string]LevelState {
	m := make(map[string]LevelState, len(o.Levels))
	for _, r := range o.Levels {
		m[r.Name] = r.State
	}
	return m
}

// LevelQuality returns the quality score of every completed level.
func (o Outcome) LevelQuality() map[string]float64 {
	m := make(map[string]float64, len(o.Levels))
	for _, r := range o.Levels {
		if r.State == StateComputed || r.State == StateCacheHit {
			m[r.Name] = r.Quality
		}
	}
	return m
}

// SkippedLevels returns the names of skipped levels in priority order.
func (o Outcome) SkippedLevels() []string {
	var names []string
	for _, r := range o.Levels {
		if r.State == StateSkipped {
			names = append(names, r.Name)
		}
	}
	return names
}

// Stats holds cumulative scheduler counters.
type Stats struct {
	Frames          int64 `json:"frames"`
	LevelsComputed  int64 `json:"levels_computed"`
	LevelsCacheHit  int64 `json:"levels_cache_hit"`
	LevelsSkipped   int64 `json:"levels_skipped"`
	Overruns        int64 `json:"overruns"`
	ProcessorErrors int64 `json:"processor_errors"`
}

// Scheduler runs processing levels for each frame. Run may be called from
// one goroutine at a time per frame sequence; configuration changes may
// happen concurrently and take effect on the next frame.
type Scheduler struct {
	mu     sync.RWMutex
	cfg    Config
	levels []Level // priority order, replaced wholesale

	store *cache.Store[Result]
	proc  Processor
	clock timeutil.Clock

	frames          atomic.Int64
	computed        atomic.Int64
	cacheHits       atomic.Int64
	skipped         atomic.Int64
	overruns        atomic.Int64
	processorErrors atomic.Int64
}

// New creates a scheduler. store may be nil to disable caching; a nil
// proc uses PassThrough and a nil clock the wall clock.
func New(cfg Config, levels []Level, store *cache.Store[Result], proc Processor, clock timeutil.Clock) (*Scheduler, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := ValidateLevels(levels, cfg.KeypointCount, cfg.MaxProcessingTime); err != nil {
		return nil, err
	}
	if proc == nil {
		proc = PassThrough{}
	}
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &Scheduler{
		cfg:    cfg,
		levels: sortLevels(levels),
		store:  store,
		proc:   proc,
		clock:  clock,
	}, nil
}

// Config returns a copy of the current configuration.
func (s *Scheduler) Config() Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg
}

// Levels returns a copy of the levels in priority order.
func (s *Scheduler) Levels() []Level {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return sortLevels(s.levels)
}

// UpdateConfig applies fn to a copy of the configuration. The change is
// rejected when the result, or the current levels under it, do not
// validate.
func (s *Scheduler) UpdateConfig(fn func(*Config)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	next := s.cfg
	fn(&next)
	if err := next.Validate(); err != nil {
		return err
	}
	if err := ValidateLevels(s.levels, next.KeypointCount, next.MaxProcessingTime); err != nil {
		return err
	}
	s.cfg = next
	diagf("config updated: max_processing_time=%s skip_on_delay=%t parallel=%t", next.MaxProcessingTime, next.SkipLowPriorityOnDelay, next.EnableParallelProcessing)
	return nil
}

// SetLevels replaces the level set after validating it.
func (s *Scheduler) SetLevels(levels []Level) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := ValidateLevels(levels, s.cfg.KeypointCount, s.cfg.MaxProcessingTime); err != nil {
		return err
	}
	s.levels = sortLevels(levels)
	diagf("levels updated: %d levels", len(levels))
	return nil
}

// Reconfigure replaces the configuration and the level set together.
func (s *Scheduler) Reconfigure(cfg Config, levels []Level) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := ValidateLevels(levels, cfg.KeypointCount, cfg.MaxProcessingTime); err != nil {
		return err
	}
	s.mu.Lock()
	s.cfg = cfg
	s.levels = sortLevels(levels)
	s.mu.Unlock()
	diagf("reconfigured: %d levels, max_processing_time=%s", len(levels), cfg.MaxProcessingTime)
	return nil
}

// Stats returns a snapshot of the cumulative counters.
func (s *Scheduler) Stats() Stats {
	return Stats{
		Frames:          s.frames.Load(),
		LevelsComputed:  s.computed.Load(),
		LevelsCacheHit:  s.cacheHits.Load(),
		LevelsSkipped:   s.skipped.Load(),
		Overruns:        s.overruns.Load(),
		ProcessorErrors: s.processorErrors.Load(),
	}
}

type levelResult struct {
	result  Result
	state   LevelState
	reason  string
	elapsed time.Duration
	budget  time.Duration
}

func (r levelResult) completed() bool {
	return r.state == StateComputed || r.state == StateCacheHit
}

// Run schedules every level for frame and returns the merged keypoints.
// Non-skippable levels always run to completion, whatever the budget or
// the context say. Run never fails; degraded levels show up in the
// outcome's skipped regions and level reports.
func (s *Scheduler) Run(ctx context.Context, frame pose.FrameInput) Outcome {
	s.mu.RLock()
	cfg := s.cfg
	levels := s.levels
	s.mu.RUnlock()

	start := s.clock.Now()
	s.frames.Add(1)

	out := Outcome{
		Keypoints: make(pose.KeypointSet, len(frame.Keypoints)),
		Levels:    make([]LevelReport, len(levels)),
	}
	for i, l := range levels {
		out.Levels[i] = LevelReport{Name: l.Name, Priority: l.Priority, Budget: l.Budget}
	}

	multiplier := 1.0
	for i := 0; i < len(levels); {
		if cfg.EnableParallelProcessing {
			if end := parallelBatchEnd(levels, i); end-i > 1 {
				results := s.runBatch(ctx, cfg, frame, levels[i:end], start, multiplier)
				for k, res := range results {
					s.record(&out, levels[i+k], i+k, res)
				}
				out.Optimizations = append(out.Optimizations, OptParallelLevels)
				i = end
				continue
			}
		}

		lvl := levels[i]
		if reason := s.admit(ctx, cfg, lvl, start); reason != "" {
			s.record(&out, lvl, i, levelResult{state: StateSkipped, reason: reason, budget: lvl.Budget})
			i++
			continue
		}

		res := s.execute(ctx, cfg, lvl, frame, effectiveBudget(lvl, multiplier))
		s.record(&out, lvl, i, res)

		if !lvl.Skippable && cfg.EnableBudgetRedistribution && res.elapsed < lvl.Budget && hasSkippable(levels[i+1:]) {
			saved := float64(lvl.Budget-res.elapsed) / float64(lvl.Budget)
			if next := math.Min(multiplier+saved, cfg.MaxBudgetMultiplier); next > multiplier {
				if multiplier == 1 {
					out.Optimizations = append(out.Optimizations, OptBudgetRedistribute)
				}
				multiplier = next
				tracef("level %s saved %.0f%% of budget; skippable multiplier now %.2f", lvl.Name, saved*100, multiplier)
			}
		}

		if cfg.EnableQualitySkip && res.completed() && i+1 < len(levels) && allSkippable(levels[i+1:]) &&
			res.result.Quality > lvl.QualityThreshold+cfg.QualitySkipMargin {
			for k := i + 1; k < len(levels); k++ {
				s.record(&out, levels[k], k, levelResult{state: StateSkipped, reason: ReasonQuality, budget: levels[k].Budget})
			}
			out.Optimizations = append(out.Optimizations, OptQualitySkip)
			diagf("level %s quality %.3f clears %.3f; skipping %d remaining levels", lvl.Name, res.result.Quality, lvl.QualityThreshold+cfg.QualitySkipMargin, len(levels)-i-1)
			break
		}
		i++
	}

	out.TotalTime = s.clock.Since(start)

	if cfg.OptimizeCache && s.store != nil {
		if changed, note := s.store.Optimize(); changed {
			out.Optimizations = append(out.Optimizations, note)
		}
	}

	tracef("frame t=%.3f: %d/%d levels, %d cache hits, %d skipped regions, %s", frame.Timestamp, out.LevelsCompleted, len(levels), out.CacheHits, len(out.SkippedRegions), out.TotalTime)
	return out
}

// admit decides whether lvl may start. It returns a skip reason, or ""
// when the level should run. Non-skippable levels are always admitted.
func (s *Scheduler) admit(ctx context.Context, cfg Config, lvl Level, start time.Time) string {
	if !lvl.Skippable {
		return ""
	}
	if ctx.Err() != nil {
		return ReasonCancelled
	}
	remaining := cfg.MaxProcessingTime - s.clock.Since(start)
	if cfg.SkipLowPriorityOnDelay && remaining < lvl.Budget {
		diagf("skipping level %s: remaining %s < budget %s", lvl.Name, remaining, lvl.Budget)
		return ReasonBudget
	}
	return ""
}

// execute resolves one admitted level through the cache or the processor.
func (s *Scheduler) execute(ctx context.Context, cfg Config, lvl Level, frame pose.FrameInput, budget time.Duration) levelResult {
	subset := frame.Keypoints.Subset(lvl.KeypointIDs)
	fp := cache.NewFingerprint(lvl.Name, subset, frame.Timestamp, cfg.TimeBucket, cfg.Quantization)

	t0 := s.clock.Now()
	if res, ok := s.lookup(fp, lvl); ok {
		return levelResult{result: res, state: StateCacheHit, elapsed: s.clock.Since(t0), budget: budget}
	}

	res, err := s.proc.Process(ctx, lvl, subset.Clone())
	elapsed := s.clock.Since(t0)
	if err != nil {
		s.processorErrors.Add(1)
		opsf("level %s: processor failed, using raw keypoints: %v", lvl.Name, err)
		res = Result{Keypoints: subset, Quality: 0}
	} else {
		res.Keypoints = res.Keypoints.Subset(lvl.KeypointIDs)
		s.storeResult(fp, lvl, frame.Timestamp, res)
	}

	if lvl.Skippable && elapsed > budget {
		diagf("level %s overran: %s > %s; result discarded", lvl.Name, elapsed, budget)
		return levelResult{state: StateSkipped, reason: ReasonOverrun, elapsed: elapsed, budget: budget}
	}
	return levelResult{result: res, state: StateComputed, elapsed: elapsed, budget: budget}
}

// lookup queries the cache: a similar entry first, then the exact key in
// the main store, then the level's region sub-cache.
func (s *Scheduler) lookup(fp cache.Fingerprint, lvl Level) (Result, bool) {
	if s.store == nil {
		return Result{}, false
	}
	key := fp.Key()
	if similar, ok := s.store.FindSimilar(fp); ok {
		key = similar
	}
	if res, ok := s.store.Get(key); ok {
		return res, true
	}
	return s.store.GetRegion(fp.Key(), lvl.primaryRegion())
}

func (s *Scheduler) storeResult(fp cache.Fingerprint, lvl Level, timestamp float64, res Result) {
	if s.store == nil {
		return
	}
	key := fp.Key()
	region := lvl.primaryRegion()
	s.store.Put(key, res, cache.Meta{Region: region, Timestamp: timestamp, Fingerprint: &fp})
	s.store.PutRegion(key, region, res)
}

// runBatch dispatches a run of parallel-safe skippable levels. Admission
// is decided for every level before any of them starts. The processor is
// called concurrently for the batch.
func (s *Scheduler) runBatch(ctx context.Context, cfg Config, frame pose.FrameInput, batch []Level, start time.Time, multiplier float64) []levelResult {
	results := make([]levelResult, len(batch))
	g, gctx := errgroup.WithContext(ctx)
	for k, lvl := range batch {
		k, lvl := k, lvl
		if reason := s.admit(ctx, cfg, lvl, start); reason != "" {
			results[k] = levelResult{state: StateSkipped, reason: reason, budget: lvl.Budget}
			continue
		}
		g.Go(func() error {
			results[k] = s.execute(gctx, cfg, lvl, frame, effectiveBudget(lvl, multiplier))
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// record folds a level result into the outcome.
func (s *Scheduler) record(out *Outcome, lvl Level, idx int, res levelResult) {
	rep := &out.Levels[idx]
	if !rep.transition(res.state) {
		return
	}
	rep.Reason = res.reason
	rep.Elapsed = res.elapsed
	rep.Budget = res.budget

	switch res.state {
	case StateSkipped:
		s.skipped.Add(1)
		out.SkippedRegions = append(out.SkippedRegions, lvl.Regions...)
		if res.reason == ReasonOverrun {
			s.overruns.Add(1)
			out.Optimizations = append(out.Optimizations, optOverrunDiscardPrefix+lvl.Name)
		}
		return
	case StateCacheHit:
		s.cacheHits.Add(1)
		out.CacheHits++
	case StateComputed:
		s.computed.Add(1)
	}
	rep.Quality = res.result.Quality
	out.Keypoints.Merge(res.result.Keypoints)
	out.LevelsCompleted++
}

func effectiveBudget(lvl Level, multiplier float64) time.Duration {
	if !lvl.Skippable || multiplier <= 1 {
		return lvl.Budget
	}
	return time.Duration(float64(lvl.Budget) * multiplier)
}

// parallelBatchEnd returns the exclusive end of the run of parallel-safe
// levels starting at i, or i when a non-skippable level is still ahead.
func parallelBatchEnd(levels []Level, i int) int {
	if !allSkippable(levels[i:]) {
		return i
	}
	j := i
	for j < len(levels) && levels[j].ParallelSafe {
		j++
	}
	return j
}

func allSkippable(levels []Level) bool {
	for _, l := range levels {
		if !l.Skippable {
			return false
		}
	}
	return true
}

func hasSkippable(levels []Level) bool {
	for _, l := range levels {
		if l.Skippable {
			return true
		}
	}
	return false
}
