// Package monitoring holds the process-wide diagnostic logger used by
// engine packages that do not own dedicated log streams.
package monitoring

import (
	"log"
	"sync/atomic"
)

// Logf is the package-level diagnostic logger. It defaults to log.Printf but may
// be replaced by SetLogger. Tests or production code can redirect or mute it.
var Logf func(format string, v ...interface{}) = log.Printf

// SetLogger replaces the package logger. Passing nil will set a no-op logger.
func SetLogger(f func(format string, v ...interface{})) {
	if f == nil {
		Logf = func(string, ...interface{}) {}
		return
	}
	Logf = f
}

// Sampled forwards one in every N events to Logf and counts all of them.
type Sampled struct {
	every uint64
	count atomic.Uint64
}

// NewSampled returns a sampler that logs the first event and then every
// n-th one. n < 1 logs every event.
func NewSampled(n int) *Sampled {
	if n < 1 {
		n = 1
	}
	return &Sampled{every: uint64(n)}
}

// Logf records an event and logs it when it falls on the sampling stride.
func (s *Sampled) Logf(format string, v ...interface{}) {
	c := s.count.Add(1)
	if (c-1)%s.every == 0 {
		Logf(format, v...)
	}
}

// Count returns the number of events recorded, logged or not.
func (s *Sampled) Count() uint64 {
	return s.count.Load()
}
