// Package smoothing stabilises per-frame keypoints with per-keypoint
// temporal state.
//
// The advanced mode chains three independently toggleable layers: an
// outlier gate over a short history of accepted samples, a
// constant-velocity Kalman filter whose measurement noise scales with
// keypoint confidence, and an exponentially decayed weighted moving
// average over the filtered positions. The simple mode is a plain moving
// average of raw positions. The mode is always chosen explicitly.
package smoothing
