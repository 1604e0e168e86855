package smoothing

import (
	"sync"
	"sync/atomic"

	"github.com/banshee-data/pose.report/internal/monitoring"
	"github.com/banshee-data/pose.report/internal/pose"
)

// reacquireLogEvery samples reacquisition log lines; the counter in Stats
// stays exact.
const reacquireLogEvery = 100

// track is the temporal state of one keypoint.
type track struct {
	seen  bool
	lastT float64

	kf    KalmanState
	hasKF bool

	history     *ring[sample] // accepted observations only
	window      *ring[point]  // positions fed to the weighted average
	consecutive int           // outliers rejected in a row

	last pose.Keypoint // last emitted keypoint
}

// Stats holds cumulative smoother counters.
type Stats struct {
	FramesProcessed   int64 `json:"frames_processed"`
	OutliersDetected  int64 `json:"outliers_detected"`
	KalmanCorrections int64 `json:"kalman_corrections"`
	Reacquisitions    int64 `json:"reacquisitions"`
	ActiveTracks      int64 `json:"active_tracks"`
}

// Smoother holds per-keypoint temporal state for one tracking session.
type Smoother struct {
	mu     sync.Mutex
	cfg    Config
	tracks map[uint32]*track

	reacquireLog *monitoring.Sampled

	frames         atomic.Int64
	outliers       atomic.Int64
	corrections    atomic.Int64
	reacquisitions atomic.Int64
	activeTracks   atomic.Int64
}

// New creates a smoother.
func New(cfg Config) (*Smoother, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Smoother{
		cfg:          cfg,
		tracks:       make(map[uint32]*track),
		reacquireLog: monitoring.NewSampled(reacquireLogEvery),
	}, nil
}

// Config returns a copy of the current configuration.
func (s *Smoother) Config() Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg
}

// UpdateConfig applies fn to a copy of the configuration. The change is
// rejected when the result does not validate. Changing the mode, a layer
// toggle or a buffer size restarts every track.
func (s *Smoother) UpdateConfig(fn func(*Config)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	next := s.cfg
	fn(&next)
	if err := next.Validate(); err != nil {
		return err
	}
	old := s.cfg
	s.cfg = next
	if next.Mode != old.Mode ||
		next.EnableKalman != old.EnableKalman ||
		next.EnableOutlierDetection != old.EnableOutlierDetection ||
		next.EnableWeightedAverage != old.EnableWeightedAverage ||
		next.HistorySize != old.HistorySize ||
		next.WindowSize != old.WindowSize {
		s.resetAllLocked()
	}
	return nil
}

func (s *Smoother) newTrack() *track {
	return &track{
		history: newRing[sample](s.cfg.HistorySize),
		window:  newRing[point](s.cfg.WindowSize),
	}
}

// Smooth returns the stabilised keypoints of frame. Invalid keypoints are
// left out and their state is not touched. When frame.TrackingLost is set
// every track is reset first.
func (s *Smoother) Smooth(frame pose.FrameInput) pose.KeypointSet {
	s.mu.Lock()
	defer s.mu.Unlock()

	if frame.TrackingLost {
		s.resetAllLocked()
	}
	out := make(pose.KeypointSet, len(frame.Keypoints))
	for id, kp := range frame.Keypoints {
		if !kp.Valid() {
			continue
		}
		out[id] = s.smoothLocked(id, kp, frame.Timestamp)
	}
	s.frames.Add(1)
	s.activeTracks.Store(int64(len(s.tracks)))
	return out
}

func (s *Smoother) smoothLocked(id uint32, kp pose.Keypoint, ts float64) pose.Keypoint {
	cfg := s.cfg

	tr, ok := s.tracks[id]
	if !ok || !tr.seen {
		if s.gatesUntrusted(kp) {
			// An untrusted first sample is reported as is and seeds nothing.
			s.outliers.Add(1)
			kp.ID = id
			return kp
		}
	}
	if !ok {
		tr = s.newTrack()
		s.tracks[id] = tr
	}

	dt := cfg.DefaultDt.Seconds()
	if tr.seen && ts > tr.lastT {
		dt = ts - tr.lastT
		if maxDt := cfg.MaxDt.Seconds(); dt > maxDt {
			monitoring.Logf("[smoothing] keypoint %d unseen for %.3fs, predicting over %.3fs", id, dt, maxDt)
			dt = maxDt
		}
	}
	obs := sample{x: float64(kp.X), y: float64(kp.Y), t: ts}

	var x, y float64
	if cfg.Mode == ModeSimple {
		tr.window.push(point{obs.x, obs.y})
		x, y = weightedAverage(tr.window, 1)
	} else {
		x, y = s.advancedLocked(id, tr, kp, obs, dt)
	}

	if !tr.seen || ts > tr.lastT {
		tr.lastT = ts
	}
	tr.seen = true
	tr.last = pose.Keypoint{
		ID:         id,
		X:          float32(x),
		Y:          float32(y),
		Z:          kp.Z,
		Confidence: kp.Confidence,
		Visibility: kp.Visibility,
	}
	return tr.last
}

// gatesUntrusted reports whether the visibility or confidence gate
// rejects kp. The gates apply only when outlier detection runs.
func (s *Smoother) gatesUntrusted(kp pose.Keypoint) bool {
	cfg := s.cfg
	if cfg.Mode != ModeAdvanced || !cfg.EnableOutlierDetection {
		return false
	}
	return float64(kp.Visibility) < cfg.MinVisibility || float64(kp.Confidence) < cfg.MinConfidence
}

// advancedLocked runs the outlier gate, the Kalman filter and the weighted
// average for one observation and returns the reported position.
func (s *Smoother) advancedLocked(id uint32, tr *track, kp pose.Keypoint, obs sample, dt float64) (float64, float64) {
	cfg := s.cfg

	reason := ""
	if cfg.EnableOutlierDetection && tr.seen {
		reason = checkOutlier(cfg, tr.history, obs, kp.Visibility, kp.Confidence, cfg.DefaultDt.Seconds())
		switch {
		case reason == "":
		case !kinematic(reason):
			// Visibility and confidence failures never reacquire.
			s.outliers.Add(1)
		default:
			tr.consecutive++
			if tr.consecutive > cfg.MaxConsecutiveOutliers {
				s.reacquisitions.Add(1)
				s.reacquireLog.Logf("[smoothing] keypoint %d reacquired after %d rejected samples (last: %s)", id, tr.consecutive-1, reason)
				tr.history.reset()
				reason = ""
			} else {
				s.outliers.Add(1)
			}
		}
	}
	if reason == "" {
		tr.consecutive = 0
		tr.history.push(obs)
	}

	x, y := obs.x, obs.y
	switch {
	case cfg.EnableKalman && !tr.hasKF:
		tr.kf = newKalmanState(obs.x, obs.y)
		tr.hasKF = true
	case cfg.EnableKalman:
		tr.kf.predict(dt, cfg.ProcessNoise)
		zx, zy := obs.x, obs.y
		if reason != "" {
			zx, zy = tr.kf.X, tr.kf.Y
		}
		if tr.kf.update(zx, zy, measurementVariance(cfg.MeasurementNoise, kp.Confidence)) && reason == "" {
			s.corrections.Add(1)
		}
		x, y = tr.kf.X, tr.kf.Y
	case reason != "" && tr.history.len() > 0:
		last := tr.history.fromNewest(0)
		x, y = last.x, last.y
	}

	if cfg.EnableWeightedAverage {
		tr.window.push(point{x, y})
		x, y = weightedAverage(tr.window, cfg.DecayFactor)
	}
	return x, y
}

// Predict returns where keypoint id is expected at timestamp without
// changing any state. The result carries visibility 0. It reports false
// when the keypoint has never been observed.
func (s *Smoother) Predict(id uint32, timestamp float64) (pose.Keypoint, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tr, ok := s.tracks[id]
	if !ok || !tr.seen {
		return pose.Keypoint{}, false
	}
	kp := tr.last
	kp.Visibility = 0
	if s.cfg.Mode == ModeAdvanced && tr.hasKF {
		dt := timestamp - tr.lastT
		if dt < 0 {
			dt = 0
		}
		if maxDt := s.cfg.MaxDt.Seconds(); dt > maxDt {
			dt = maxDt
		}
		x, y := tr.kf.positionAt(dt)
		kp.X, kp.Y = float32(x), float32(y)
	}
	return kp, true
}

// Reset drops the state of the given keypoints.
func (s *Smoother) Reset(ids ...uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		delete(s.tracks, id)
	}
	s.activeTracks.Store(int64(len(s.tracks)))
}

// ResetAll drops every keypoint's state.
func (s *Smoother) ResetAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resetAllLocked()
}

func (s *Smoother) resetAllLocked() {
	if len(s.tracks) > 0 {
		monitoring.Logf("[smoothing] resetting %d tracks", len(s.tracks))
	}
	s.tracks = make(map[uint32]*track)
	s.activeTracks.Store(0)
}

// State returns a copy of keypoint id's Kalman state.
func (s *Smoother) State(id uint32) (KalmanState, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tr, ok := s.tracks[id]
	if !ok || !tr.hasKF {
		return KalmanState{}, false
	}
	return tr.kf, true
}

// Stats returns a snapshot of the cumulative counters.
func (s *Smoother) Stats() Stats {
	return Stats{
		FramesProcessed:   s.frames.Load(),
		OutliersDetected:  s.outliers.Load(),
		KalmanCorrections: s.corrections.Load(),
		Reacquisitions:    s.reacquisitions.Load(),
		ActiveTracks:      s.activeTracks.Load(),
	}
}
