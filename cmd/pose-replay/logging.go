package main

import (
	"fmt"
	"io"
	"log"
	"strings"

	"github.com/banshee-data/pose.report/internal/monitoring"
	"github.com/banshee-data/pose.report/internal/pose/pipeline"
)

// logOut receives CLI-level warnings; configureLogging points it at stderr.
var logOut io.Writer = io.Discard

// logWriters maps a --log-level value to the streams it enables. Each level
// includes the ones below it.
func logWriters(level string, w io.Writer) (pipeline.LogWriters, error) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "none", "off":
		return pipeline.LogWriters{}, nil
	case "ops", "":
		return pipeline.LogWriters{Ops: w}, nil
	case "diag":
		return pipeline.LogWriters{Ops: w, Diag: w}, nil
	case "trace":
		return pipeline.LogWriters{Ops: w, Diag: w, Trace: w}, nil
	}
	return pipeline.LogWriters{}, fmt.Errorf("unknown log level %q (want none, ops, diag or trace)", level)
}

func configureLogging(level string, w io.Writer) error {
	lw, err := logWriters(level, w)
	if err != nil {
		return err
	}
	pipeline.SetLogWriters(lw)
	logOut = io.Discard
	if lw.Ops != nil {
		logOut = lw.Ops
	}
	// The smoother reports through monitoring, on the diag stream.
	if lw.Diag != nil {
		monitoring.SetLogger(log.New(lw.Diag, "", log.LstdFlags|log.Lmicroseconds).Printf)
	} else {
		monitoring.SetLogger(nil)
	}
	return nil
}
