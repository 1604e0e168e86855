package pipeline

import (
	"io"
	"log"
	"sync"

	"github.com/banshee-data/pose.report/internal/pose/cache"
	"github.com/banshee-data/pose.report/internal/pose/scheduler"
)

// LogWriters holds the io.Writers for each logging stream.
type LogWriters struct {
	Ops   io.Writer
	Diag  io.Writer
	Trace io.Writer
}

var (
	mu          sync.RWMutex
	opsLogger   *log.Logger
	diagLogger  *log.Logger
	traceLogger *log.Logger
)

// SetLogWriters configures the three logging streams of the pipeline and
// of the engine packages it drives. Pass nil for any writer to disable
// that stream.
func SetLogWriters(w LogWriters) {
	mu.Lock()
	opsLogger = newLogger("[pipeline] ", w.Ops)
	diagLogger = newLogger("[pipeline] ", w.Diag)
	traceLogger = newLogger("[pipeline] ", w.Trace)
	mu.Unlock()

	cache.SetLogWriters(w.Ops, w.Diag, w.Trace)
	scheduler.SetLogWriters(w.Ops, w.Diag, w.Trace)
}

func newLogger(prefix string, w io.Writer) *log.Logger {
	if w == nil {
		return nil
	}
	return log.New(w, prefix, log.LstdFlags|log.Lmicroseconds)
}

// opsf logs to the ops stream (setup failures, rejected runtime changes).
func opsf(format string, args ...interface{}) {
	mu.RLock()
	l := opsLogger
	mu.RUnlock()
	if l != nil {
		l.Printf(format, args...)
	}
}

// diagf logs to the diag stream (session lifecycle, config changes).
func diagf(format string, args ...interface{}) {
	mu.RLock()
	l := diagLogger
	mu.RUnlock()
	if l != nil {
		l.Printf(format, args...)
	}
}

// tracef logs to the trace stream (per-frame telemetry).
func tracef(format string, args ...interface{}) {
	mu.RLock()
	l := traceLogger
	mu.RUnlock()
	if l != nil {
		l.Printf(format, args...)
	}
}
