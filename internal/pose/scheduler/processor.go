package scheduler

import (
	"context"

	"gonum.org/v1/gonum/floats"

	"github.com/banshee-data/pose.report/internal/pose"
)

// Result is a level's processed keypoints and the quality score the
// processor assigned them. It is the value stored in the cache.
type Result struct {
	Keypoints pose.KeypointSet `json:"keypoints" cbor:"1,keyasint"`
	Quality   float64          `json:"quality" cbor:"2,keyasint"`
}

// Processor transforms a level's keypoint subset. Implementations receive
// only the level's valid keypoints and must not retain the map.
type Processor interface {
	Process(ctx context.Context, level Level, kps pose.KeypointSet) (Result, error)
}

// ProcessorFunc adapts a function to the Processor interface.
type ProcessorFunc func(ctx context.Context, level Level, kps pose.KeypointSet) (Result, error)

// Process calls f.
func (f ProcessorFunc) Process(ctx context.Context, level Level, kps pose.KeypointSet) (Result, error) {
	return f(ctx, level, kps)
}

// PassThrough returns keypoints unchanged, scored by SubsetQuality.
type PassThrough struct{}

// Process implements Processor.
func (PassThrough) Process(_ context.Context, level Level, kps pose.KeypointSet) (Result, error) {
	return Result{Keypoints: kps, Quality: SubsetQuality(kps, len(level.KeypointIDs))}, nil
}

// SubsetQuality is the mean of confidence × visibility over expected
// keypoints. Missing keypoints count as zero, so a partially observed
// level scores lower than a fully observed one.
func SubsetQuality(kps pose.KeypointSet, expected int) float64 {
	if expected < len(kps) {
		expected = len(kps)
	}
	if expected == 0 {
		return 0
	}
	scores := make([]float64, 0, len(kps))
	for _, kp := range kps {
		scores = append(scores, float64(kp.Confidence)*float64(kp.Visibility))
	}
	return floats.Sum(scores) / float64(expected)
}
