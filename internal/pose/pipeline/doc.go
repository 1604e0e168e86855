// Package pipeline wires the cache store, the hierarchical scheduler and
// the temporal smoother into one per-frame call.
//
// The pipeline does not own domain logic. It builds the three engines from
// one Config, runs the scheduler on each frame, feeds the merged keypoints
// to the smoother and assembles the diagnostics downstream consumers see.
package pipeline
