package cache

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/banshee-data/pose.report/internal/pose"
	"github.com/banshee-data/pose.report/internal/timeutil"
)

// ErrCorruptEntry is logged when a stored payload cannot be decoded. The
// entry is dropped and the lookup reported as a miss.
var ErrCorruptEntry = errors.New("cache: corrupt entry")

// Meta describes a value being stored.
type Meta struct {
	Region      pose.Region
	Timestamp   float64 // frame time in seconds
	Fingerprint *Fingerprint
}

type entry struct {
	key         string
	payload     []byte
	compressed  bool
	sizeBytes   int
	lastAccess  float64
	frequency   uint32
	region      pose.Region
	timestamp   float64
	fingerprint *Fingerprint
	seq         uint64 // access order
	gen         uint64 // bumped on every put
}

// Stats is a point-in-time snapshot of store counters.
type Stats struct {
	Entries        int           `json:"entries"`
	TotalBytes     int           `json:"total_bytes"`
	Hits           int64         `json:"hits"`
	Misses         int64         `json:"misses"`
	HitRate        float64       `json:"hit_rate"`
	WindowHitRate  float64       `json:"window_hit_rate"`
	Evictions      int64         `json:"evictions"`
	CompressedPuts int64         `json:"compressed_puts"`
	DecodeFailures int64         `json:"decode_failures"`
	EncodeFailures int64         `json:"encode_failures"`
	RegionHits     int64         `json:"region_hits"`
	RegionMisses   int64         `json:"region_misses"`
	RegionEntries  int           `json:"region_entries"`
	Strategy       Strategy      `json:"strategy"`
	ActiveStrategy Strategy      `json:"active_strategy"`
	StrategySwaps  int           `json:"strategy_swaps"`
	HybridWeights  HybridWeights `json:"hybrid_weights"`
}

// Store is a bounded key→value cache. Values are serialised on Put and
// decoded on Get, so callers always receive independent copies. All map
// access happens under a single mutex; encoding, compression and
// similarity scoring run outside it.
type Store[V any] struct {
	cfg   atomic.Pointer[Config]
	clock timeutil.Clock

	mu       sync.Mutex
	entries  map[string]*entry
	seq      uint64
	latest   float64
	bytes    int
	adaptive adaptiveState
	regions  map[pose.Region]*lru.Cache[string, regionValue]

	hits           atomic.Int64
	misses         atomic.Int64
	evictions      atomic.Int64
	compressedPuts atomic.Int64
	decodeFailures atomic.Int64
	encodeFailures atomic.Int64
	regionHits     atomic.Int64
	regionMisses   atomic.Int64
}

// New creates a store. A nil clock uses the wall clock.
func New[V any](cfg Config, clock timeutil.Clock) (*Store[V], error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	s := &Store[V]{
		clock:    clock,
		entries:  make(map[string]*entry),
		adaptive: newAdaptiveState(cfg),
		regions:  make(map[pose.Region]*lru.Cache[string, regionValue]),
	}
	c := cfg
	s.cfg.Store(&c)
	return s, nil
}

// Config returns a copy of the current configuration.
func (s *Store[V]) Config() Config {
	return *s.cfg.Load()
}

// UpdateConfig applies fn to a copy of the configuration under the store
// lock. The change is rejected, and the old configuration kept, when the
// result does not validate. Shrinking MaxSize evicts immediately.
func (s *Store[V]) UpdateConfig(fn func(*Config)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	old := *s.cfg.Load()
	next := old
	fn(&next)
	if err := next.Validate(); err != nil {
		return err
	}
	s.cfg.Store(&next)

	if next.Strategy != old.Strategy || next.HitRateWindow != old.HitRateWindow || next.HybridWeights != old.HybridWeights {
		s.adaptive = newAdaptiveState(next)
	}
	if next.RegionCacheSize != old.RegionCacheSize {
		s.resizeRegionsLocked(next.RegionCacheSize)
	}
	if len(s.entries) > next.MaxSize {
		s.evictLocked("")
	}
	diagf("config updated: max_size=%d strategy=%s compression=%t", next.MaxSize, next.Strategy, next.EnableCompression)
	return nil
}

// SetStrategy switches the configured strategy at runtime.
func (s *Store[V]) SetStrategy(strategy Strategy) error {
	return s.UpdateConfig(func(c *Config) { c.Strategy = strategy })
}

// ActiveStrategy returns the strategy currently ranking entries. Under
// ADAPTIVE this is the delegate chosen by the last Optimize.
func (s *Store[V]) ActiveStrategy() Strategy {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activeStrategyLocked()
}

func (s *Store[V]) activeStrategyLocked() Strategy {
	if st := s.cfg.Load().Strategy; st != StrategyAdaptive {
		return st
	}
	return s.adaptive.active
}

func (s *Store[V]) policyLocked() policy {
	return policyFor(s.activeStrategyLocked())
}

func (s *Store[V]) evalContextLocked() evalContext {
	cfg := s.cfg.Load()
	return evalContext{
		now:     seconds(s.clock),
		latest:  s.latest,
		window:  cfg.TemporalWindow.Seconds(),
		weights: s.adaptive.weights,
	}
}

func seconds(c timeutil.Clock) float64 {
	return float64(c.Now().UnixNano()) / 1e9
}

// Get returns a decoded copy of the value stored under key. A miss, or a
// payload that fails to decode, returns false.
func (s *Store[V]) Get(key string) (V, bool) {
	var zero V

	s.mu.Lock()
	e, ok := s.entries[key]
	if !ok {
		s.recordAccessLocked(false)
		s.mu.Unlock()
		tracef("miss key=%s", key)
		return zero, false
	}
	s.touchLocked(e)
	payload, compressed, gen := e.payload, e.compressed, e.gen
	s.mu.Unlock()

	v, err := decodeValue[V](payload, compressed)

	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		s.decodeFailures.Add(1)
		if cur, ok := s.entries[key]; ok && cur.gen == gen {
			s.removeLocked(cur)
		}
		s.recordAccessLocked(false)
		opsf("dropping entry %s: %v", key, err)
		return zero, false
	}
	s.recordAccessLocked(true)
	return v, true
}

// Peek reports whether key is present without touching any metadata.
func (s *Store[V]) Peek(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.entries[key]
	return ok
}

// Put inserts or replaces the value under key. When the store grows past
// MaxSize a batch of victims chosen by the active strategy is evicted; the
// entry just written is never among them.
func (s *Store[V]) Put(key string, value V, meta Meta) {
	cfg := s.cfg.Load()
	payload, compressed, err := encodeValue(value, cfg.EnableCompression, cfg.CompressionThreshold)
	if err != nil {
		s.encodeFailures.Add(1)
		opsf("not caching %s: %v", key, err)
		return
	}
	if compressed {
		s.compressedPuts.Add(1)
	}
	var fp *Fingerprint
	if meta.Fingerprint != nil {
		c := meta.Fingerprint.clone()
		fp = &c
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	if ok {
		s.bytes -= e.sizeBytes
	} else {
		e = &entry{key: key}
		s.entries[key] = e
	}
	e.payload = payload
	e.compressed = compressed
	e.sizeBytes = len(payload)
	e.region = meta.Region
	e.timestamp = meta.Timestamp
	e.fingerprint = fp
	s.touchLocked(e)
	e.gen = e.seq
	s.bytes += e.sizeBytes
	if meta.Timestamp > s.latest {
		s.latest = meta.Timestamp
	}

	if len(s.entries) > s.cfg.Load().MaxSize {
		s.evictLocked(key)
	}
}

func (s *Store[V]) touchLocked(e *entry) {
	s.seq++
	e.seq = s.seq
	s.policyLocked().onAccess(e, s.evalContextLocked())
}

func (s *Store[V]) recordAccessLocked(hit bool) {
	if hit {
		s.hits.Add(1)
	} else {
		s.misses.Add(1)
	}
	s.adaptive.window.record(hit)
	st := s.adaptive.perStrategy[s.activeStrategyLocked()]
	st.accesses++
	if hit {
		st.hits++
	}
}

func (s *Store[V]) removeLocked(e *entry) {
	delete(s.entries, e.key)
	s.bytes -= e.sizeBytes
}

// evictLocked removes one eviction batch, skipping the protected key.
func (s *Store[V]) evictLocked(protect string) {
	cfg := s.cfg.Load()
	n := cfg.evictionBatch(len(s.entries))

	ctx := s.evalContextLocked()
	candidates := make([]*entry, 0, len(s.entries))
	for k, e := range s.entries {
		if e.frequency > ctx.maxFreq {
			ctx.maxFreq = e.frequency
		}
		if k == protect {
			continue
		}
		candidates = append(candidates, e)
	}

	victims := selectVictims(s.policyLocked(), candidates, n, ctx)
	for _, v := range victims {
		s.removeLocked(v)
	}
	s.evictions.Add(int64(len(victims)))
	diagf("evicted %d entries (strategy=%s, size=%d/%d)", len(victims), s.activeStrategyLocked(), len(s.entries), cfg.MaxSize)
}

type similarCandidate struct {
	key        string
	fp         *Fingerprint
	timestamp  float64
	frequency  uint32
	seq        uint64
	similarity float64
}

// FindSimilar returns the key of a stored entry whose fingerprint matches
// fp within the similarity threshold. An exact key match wins outright.
// Otherwise the active strategy picks among qualifying candidates: LFU
// prefers the most used, LRU the most recent, TEMPORAL the closest in
// frame time (and only considers entries inside the window), HYBRID the
// most similar.
func (s *Store[V]) FindSimilar(fp Fingerprint) (string, bool) {
	key := fp.Key()

	s.mu.Lock()
	if _, ok := s.entries[key]; ok {
		s.mu.Unlock()
		return key, true
	}
	cfg := s.cfg.Load()
	active := s.activeStrategyLocked()
	window := cfg.TemporalWindow.Seconds()
	candidates := make([]similarCandidate, 0, len(s.entries))
	for k, e := range s.entries {
		if e.fingerprint == nil || e.fingerprint.Level != fp.Level {
			continue
		}
		if active == StrategyTemporal && math.Abs(fp.Timestamp-e.timestamp) > window {
			continue
		}
		candidates = append(candidates, similarCandidate{
			key:       k,
			fp:        e.fingerprint,
			timestamp: e.timestamp,
			frequency: e.frequency,
			seq:       e.seq,
		})
	}
	s.mu.Unlock()

	var best *similarCandidate
	for i := range candidates {
		c := &candidates[i]
		c.similarity = fp.Similarity(*c.fp, cfg.SimilarityScale)
		if c.similarity < cfg.SimilarityThreshold {
			continue
		}
		if best == nil || preferCandidate(active, fp.Timestamp, c, best) {
			best = c
		}
	}
	if best == nil {
		return "", false
	}
	tracef("similar key=%s -> %s (%.4f, %s)", key, best.key, best.similarity, active)
	return best.key, true
}

func preferCandidate(active Strategy, ts float64, a, b *similarCandidate) bool {
	switch active {
	case StrategyLFU:
		if a.frequency != b.frequency {
			return a.frequency > b.frequency
		}
	case StrategyTemporal:
		da, db := math.Abs(ts-a.timestamp), math.Abs(ts-b.timestamp)
		if da != db {
			return da < db
		}
	case StrategyLRU:
		return a.seq > b.seq
	default:
		if a.similarity != b.similarity {
			return a.similarity > b.similarity
		}
	}
	return a.seq > b.seq
}

// Optimize re-evaluates the strategy once a full hit-rate window has been
// observed since the last change. Under ADAPTIVE a low window hit rate
// moves to another delegate; under HYBRID it shifts blend weight from
// recency to frequency. The returned note names the change for
// diagnostics. Other strategies never change here.
func (s *Store[V]) Optimize() (bool, string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cfg := s.cfg.Load()
	if cfg.Strategy != StrategyAdaptive && cfg.Strategy != StrategyHybrid {
		return false, ""
	}
	w := &s.adaptive.window
	if !w.full() || w.rate() >= cfg.AdaptiveThreshold {
		return false, ""
	}
	rate := w.rate()

	switch cfg.Strategy {
	case StrategyAdaptive:
		prev := s.adaptive.active
		next := s.adaptive.nextCandidate()
		if next == prev {
			w.reset()
			return false, ""
		}
		s.adaptive.active = next
		s.adaptive.switches++
		w.reset()
		diagf("adaptive strategy %s -> %s (window hit rate %.2f)", prev, next, rate)
		return true, fmt.Sprintf("cache_strategy_%s_to_%s", prev, next)
	default:
		if !s.adaptive.reweightHybrid() {
			w.reset()
			return false, ""
		}
		s.adaptive.switches++
		w.reset()
		diagf("hybrid weights now %+v (window hit rate %.2f)", s.adaptive.weights, rate)
		return true, "cache_hybrid_reweight"
	}
}

// Len returns the number of entries in the main store.
func (s *Store[V]) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Keys returns the stored keys in ascending order.
func (s *Store[V]) Keys() []string {
	s.mu.Lock()
	keys := make([]string, 0, len(s.entries))
	for k := range s.entries {
		keys = append(keys, k)
	}
	s.mu.Unlock()
	sort.Strings(keys)
	return keys
}

// Clear drops every entry, region sub-cache and optimisation measurement.
// Cumulative counters are kept.
func (s *Store[V]) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = make(map[string]*entry)
	s.bytes = 0
	s.latest = 0
	s.adaptive = newAdaptiveState(*s.cfg.Load())
	s.regions = make(map[pose.Region]*lru.Cache[string, regionValue])
}

// Stats returns a snapshot of the store counters.
func (s *Store[V]) Stats() Stats {
	s.mu.Lock()
	st := Stats{
		Entries:        len(s.entries),
		TotalBytes:     s.bytes,
		WindowHitRate:  s.adaptive.window.rate(),
		Strategy:       s.cfg.Load().Strategy,
		ActiveStrategy: s.activeStrategyLocked(),
		StrategySwaps:  s.adaptive.switches,
		HybridWeights:  s.adaptive.weights,
	}
	for _, rc := range s.regions {
		st.RegionEntries += rc.Len()
	}
	s.mu.Unlock()

	st.Hits = s.hits.Load()
	st.Misses = s.misses.Load()
	if total := st.Hits + st.Misses; total > 0 {
		st.HitRate = float64(st.Hits) / float64(total)
	}
	st.Evictions = s.evictions.Load()
	st.CompressedPuts = s.compressedPuts.Load()
	st.DecodeFailures = s.decodeFailures.Load()
	st.EncodeFailures = s.encodeFailures.Load()
	st.RegionHits = s.regionHits.Load()
	st.RegionMisses = s.regionMisses.Load()
	return st
}

func (f Fingerprint) clone() Fingerprint {
	c := f
	c.IDs = append([]uint32(nil), f.IDs...)
	c.Vector = append([]float32(nil), f.Vector...)
	return c
}
