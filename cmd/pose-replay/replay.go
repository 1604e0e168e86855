package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/banshee-data/pose.report/internal/pose"
	"github.com/banshee-data/pose.report/internal/pose/pipeline"
	"github.com/banshee-data/pose.report/internal/pose/scheduler"
)

// maxLineBytes bounds a single JSONL frame.
const maxLineBytes = 4 * 1024 * 1024

type replaySummary struct {
	Frames        int
	Malformed     int
	SkippedLevels int
	Coasted       int
	TotalTimeMs   float64
}

// replay decodes one pose.FrameInput per line of in, processes it and
// writes one pipeline.Output per line to out. Malformed lines are counted
// and skipped.
func replay(ctx context.Context, p *pipeline.Pipeline, in io.Reader, out io.Writer) (replaySummary, error) {
	var sum replaySummary
	sc := bufio.NewScanner(in)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	bw := bufio.NewWriter(out)
	enc := json.NewEncoder(bw)

	line := 0
	for sc.Scan() {
		line++
		raw := bytes.TrimSpace(sc.Bytes())
		if len(raw) == 0 {
			continue
		}
		var frame pose.FrameInput
		if err := json.Unmarshal(raw, &frame); err != nil {
			sum.Malformed++
			fmt.Fprintf(logOut, "line %d: skipping malformed frame: %v\n", line, err)
			continue
		}
		if err := ctx.Err(); err != nil {
			return sum, err
		}

		res := p.Process(ctx, frame)
		sum.Frames++
		sum.TotalTimeMs += res.Diagnostics.TotalTimeMs
		sum.Coasted += res.Diagnostics.CoastedKeypoints
		for _, st := range res.Diagnostics.LevelStates {
			if st == scheduler.StateSkipped {
				sum.SkippedLevels++
			}
		}
		if err := enc.Encode(res); err != nil {
			return sum, fmt.Errorf("failed to write output for line %d: %w", line, err)
		}
	}
	if err := sc.Err(); err != nil {
		return sum, fmt.Errorf("failed to read input: %w", err)
	}
	if err := bw.Flush(); err != nil {
		return sum, fmt.Errorf("failed to flush output: %w", err)
	}
	return sum, nil
}

func (s replaySummary) write(w io.Writer, st pipeline.Stats) {
	mean := 0.0
	if s.Frames > 0 {
		mean = s.TotalTimeMs / float64(s.Frames)
	}
	fmt.Fprintf(w, "session %s\n", st.SessionID)
	fmt.Fprintf(w, "frames=%d malformed=%d mean_time_ms=%.3f\n", s.Frames, s.Malformed, mean)
	fmt.Fprintf(w, "levels: computed=%d cache_hit=%d skipped=%d overruns=%d processor_errors=%d\n",
		st.Scheduler.LevelsComputed, st.Scheduler.LevelsCacheHit, st.Scheduler.LevelsSkipped, st.Scheduler.Overruns, st.Scheduler.ProcessorErrors)
	fmt.Fprintf(w, "cache: entries=%d hit_rate=%.3f strategy=%s evictions=%d\n",
		st.Cache.Entries, st.Cache.HitRate, st.Cache.ActiveStrategy, st.Cache.Evictions)
	fmt.Fprintf(w, "smoothing: outliers=%d kalman_corrections=%d reacquisitions=%d coasted=%d\n",
		st.Smoothing.OutliersDetected, st.Smoothing.KalmanCorrections, st.Smoothing.Reacquisitions, s.Coasted)
}
