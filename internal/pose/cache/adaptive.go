package cache

// hitWindow is a fixed-capacity ring of recent access outcomes.
type hitWindow struct {
	buf  []bool
	pos  int
	n    int
	hits int
}

func newHitWindow(size int) hitWindow {
	if size < 1 {
		size = 1
	}
	return hitWindow{buf: make([]bool, size)}
}

func (w *hitWindow) record(hit bool) {
	if w.n == len(w.buf) {
		if w.buf[w.pos] {
			w.hits--
		}
	} else {
		w.n++
	}
	w.buf[w.pos] = hit
	if hit {
		w.hits++
	}
	w.pos = (w.pos + 1) % len(w.buf)
}

func (w *hitWindow) full() bool { return w.n == len(w.buf) }

func (w *hitWindow) rate() float64 {
	if w.n == 0 {
		return 0
	}
	return float64(w.hits) / float64(w.n)
}

func (w *hitWindow) reset() {
	for i := range w.buf {
		w.buf[i] = false
	}
	w.pos, w.n, w.hits = 0, 0, 0
}

type rateStat struct {
	hits     int64
	accesses int64
}

func (r rateStat) rate() float64 {
	if r.accesses == 0 {
		return 0
	}
	return float64(r.hits) / float64(r.accesses)
}

// adaptiveState is the runtime-mutable part of the store: the delegate
// strategy ADAPTIVE currently runs, the live hybrid weights, and the
// measurements Optimize uses to change either. Guarded by Store.mu.
type adaptiveState struct {
	active      Strategy
	weights     HybridWeights
	window      hitWindow
	perStrategy map[Strategy]*rateStat
	switches    int
}

func newAdaptiveState(cfg Config) adaptiveState {
	st := adaptiveState{
		active:      adaptiveCandidates[0],
		weights:     cfg.HybridWeights,
		window:      newHitWindow(cfg.HitRateWindow),
		perStrategy: make(map[Strategy]*rateStat),
	}
	for s := range strategyNames {
		st.perStrategy[s] = &rateStat{}
	}
	return st
}

// nextCandidate picks the delegate ADAPTIVE should move to: the first
// untried candidate, otherwise the candidate with the best recorded hit
// rate if it beats the current one. Returns the current delegate when no
// move is worthwhile.
func (a *adaptiveState) nextCandidate() Strategy {
	for _, c := range adaptiveCandidates {
		if c != a.active && a.perStrategy[c].accesses == 0 {
			return c
		}
	}
	best := a.active
	bestRate := a.perStrategy[a.active].rate()
	for _, c := range adaptiveCandidates {
		if r := a.perStrategy[c].rate(); r > bestRate {
			best, bestRate = c, r
		}
	}
	return best
}

// hybridStep is the weight moved from recency to frequency per Optimize.
const hybridStep = 0.1

// reweightHybrid shifts hybrid weight from recency to frequency. Returns
// false once recency has reached its floor.
func (a *adaptiveState) reweightHybrid() bool {
	w := a.weights.normalised()
	if w.Recency-hybridStep < hybridStep {
		return false
	}
	w.Recency -= hybridStep
	w.Frequency += hybridStep
	a.weights = w
	return true
}
