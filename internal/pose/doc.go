// Package pose owns the keypoint data model shared by the landmark
// processing engines.
//
// Key types: Keypoint, KeypointSet, FrameInput, Region.
//
// Dependency rule: pose imports nothing from its sub-packages. cache,
// scheduler and smoothing may depend on pose; pipeline is the only
// package that depends on all of them.
package pose
