package cache

import (
	"fmt"
	"math"
	"sort"
	"strings"
)

// Strategy selects how the store ranks eviction victims and similarity
// candidates.
type Strategy int

const (
	StrategyLRU      Strategy = iota // oldest last access evicted first
	StrategyLFU                      // lowest access frequency evicted first
	StrategyTemporal                 // entries outside the sliding frame-time window first
	StrategyAdaptive                 // delegates to the best performing of LRU/LFU/TEMPORAL
	StrategyHybrid                   // weighted blend of recency, frequency and temporal proximity
)

var strategyNames = map[Strategy]string{
	StrategyLRU:      "lru",
	StrategyLFU:      "lfu",
	StrategyTemporal: "temporal",
	StrategyAdaptive: "adaptive",
	StrategyHybrid:   "hybrid",
}

// adaptiveCandidates are the strategies ADAPTIVE may delegate to, in the
// order untried candidates are explored.
var adaptiveCandidates = []Strategy{StrategyLRU, StrategyLFU, StrategyTemporal}

func (s Strategy) String() string {
	if name, ok := strategyNames[s]; ok {
		return name
	}
	return fmt.Sprintf("strategy(%d)", int(s))
}

func (s Strategy) valid() bool {
	_, ok := strategyNames[s]
	return ok
}

// MarshalText encodes the strategy by name.
func (s Strategy) MarshalText() ([]byte, error) {
	if !s.valid() {
		return nil, fmt.Errorf("cache: unknown strategy %d", int(s))
	}
	return []byte(s.String()), nil
}

// UnmarshalText decodes a strategy name.
func (s *Strategy) UnmarshalText(text []byte) error {
	parsed, err := ParseStrategy(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// ParseStrategy converts a case-insensitive strategy name.
func ParseStrategy(name string) (Strategy, error) {
	n := strings.ToLower(strings.TrimSpace(name))
	for s, sn := range strategyNames {
		if sn == n {
			return s, nil
		}
	}
	return 0, fmt.Errorf("cache: unknown strategy %q", name)
}

// evalContext carries the store-wide values a policy needs to rank an
// entry. It is built under the store lock and passed by value.
type evalContext struct {
	now     float64 // wall-clock seconds
	latest  float64 // newest frame timestamp stored
	window  float64 // temporal window in seconds
	maxFreq uint32
	weights HybridWeights
}

// policy is the dispatch surface shared by every strategy. Victims are
// ranked by shouldEvict first, then by ascending score, then by access
// sequence so ties resolve to the least recently touched entry.
type policy interface {
	shouldEvict(e *entry, ctx evalContext) bool
	score(e *entry, ctx evalContext) float64
	onAccess(e *entry, ctx evalContext)
}

// accessTracker keeps both recency and frequency metadata current for
// every strategy so ADAPTIVE can switch without a cold start.
type accessTracker struct{}

func (accessTracker) onAccess(e *entry, ctx evalContext) {
	e.lastAccess = ctx.now
	if e.frequency < math.MaxUint32 {
		e.frequency++
	}
}

type lruPolicy struct{ accessTracker }

func (lruPolicy) shouldEvict(*entry, evalContext) bool { return false }

func (lruPolicy) score(e *entry, _ evalContext) float64 { return e.lastAccess }

type lfuPolicy struct{ accessTracker }

func (lfuPolicy) shouldEvict(*entry, evalContext) bool { return false }

func (lfuPolicy) score(e *entry, _ evalContext) float64 { return float64(e.frequency) }

type temporalPolicy struct{ accessTracker }

func (temporalPolicy) shouldEvict(e *entry, ctx evalContext) bool {
	return ctx.latest-e.timestamp > ctx.window
}

func (temporalPolicy) score(e *entry, _ evalContext) float64 { return e.timestamp }

type hybridPolicy struct{ accessTracker }

func (hybridPolicy) shouldEvict(*entry, evalContext) bool { return false }

func (hybridPolicy) score(e *entry, ctx evalContext) float64 {
	w := ctx.weights.normalised()
	recency := 1 / (1 + math.Max(0, ctx.now-e.lastAccess))
	frequency := 0.0
	if ctx.maxFreq > 0 {
		frequency = float64(e.frequency) / float64(ctx.maxFreq)
	}
	temporal := 1.0
	if ctx.window > 0 {
		temporal = 1 / (1 + math.Max(0, ctx.latest-e.timestamp)/ctx.window)
	}
	return w.Recency*recency + w.Frequency*frequency + w.Temporal*temporal
}

// policyFor resolves a concrete strategy to its policy. ADAPTIVE never
// reaches here; the store resolves it to its active delegate first.
func policyFor(s Strategy) policy {
	switch s {
	case StrategyLFU:
		return lfuPolicy{}
	case StrategyTemporal:
		return temporalPolicy{}
	case StrategyHybrid:
		return hybridPolicy{}
	default:
		return lruPolicy{}
	}
}

// selectVictims returns the n lowest ranked entries under p.
func selectVictims(p policy, entries []*entry, n int, ctx evalContext) []*entry {
	if n <= 0 || len(entries) == 0 {
		return nil
	}
	type ranked struct {
		e      *entry
		forced bool
		score  float64
	}
	rs := make([]ranked, len(entries))
	for i, e := range entries {
		rs[i] = ranked{e: e, forced: p.shouldEvict(e, ctx), score: p.score(e, ctx)}
	}
	sort.Slice(rs, func(i, j int) bool {
		if rs[i].forced != rs[j].forced {
			return rs[i].forced
		}
		if rs[i].score != rs[j].score {
			return rs[i].score < rs[j].score
		}
		return rs[i].e.seq < rs[j].e.seq
	})
	if n > len(rs) {
		n = len(rs)
	}
	out := make([]*entry, n)
	for i := 0; i < n; i++ {
		out[i] = rs[i].e
	}
	return out
}
