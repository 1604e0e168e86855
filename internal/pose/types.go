package pose

import (
	"math"
	"sort"
)

// Region is an anatomical grouping used to tag processing levels and
// cache entries.
type Region string

const (
	RegionFace      Region = "face"
	RegionTorso     Region = "torso"
	RegionLeftArm   Region = "left_arm"
	RegionRightArm  Region = "right_arm"
	RegionLeftHand  Region = "left_hand"
	RegionRightHand Region = "right_hand"
	RegionLeftLeg   Region = "left_leg"
	RegionRightLeg  Region = "right_leg"
	RegionLeftFoot  Region = "left_foot"
	RegionRightFoot Region = "right_foot"
)

// Keypoint is a single anatomical landmark as produced by the upstream
// pose estimator. Coordinates are in the estimator's frame (normalised
// image coordinates for MediaPipe-style models).
type Keypoint struct {
	ID         uint32  `json:"id" cbor:"1,keyasint"`
	X          float32 `json:"x" cbor:"2,keyasint"`
	Y          float32 `json:"y" cbor:"3,keyasint"`
	Z          float32 `json:"z,omitempty" cbor:"4,keyasint,omitempty"`
	Confidence float32 `json:"confidence" cbor:"5,keyasint"`
	Visibility float32 `json:"visibility" cbor:"6,keyasint"`
}

// Valid reports whether the keypoint carries usable coordinates and
// scores. NaN or infinite positions, and confidence or visibility outside
// [0, 1], mark the keypoint as not visible this frame.
func (k Keypoint) Valid() bool {
	return isFinite(k.X) && isFinite(k.Y) && isFinite(k.Z) &&
		unitScore(k.Confidence) && unitScore(k.Visibility)
}

// unitScore is false for NaN.
func unitScore(v float32) bool {
	return v >= 0 && v <= 1
}

func isFinite(v float32) bool {
	f := float64(v)
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

// KeypointSet maps keypoint id to keypoint for a single frame.
type KeypointSet map[uint32]Keypoint

// Clone returns an independent copy of the set.
func (s KeypointSet) Clone() KeypointSet {
	if s == nil {
		return nil
	}
	out := make(KeypointSet, len(s))
	for id, kp := range s {
		out[id] = kp
	}
	return out
}

// IDs returns the keypoint ids in ascending order.
func (s KeypointSet) IDs() []uint32 {
	ids := make([]uint32, 0, len(s))
	for id := range s {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Subset extracts the valid keypoints whose id is listed in ids. Missing
// and invalid keypoints are left out.
func (s KeypointSet) Subset(ids []uint32) KeypointSet {
	out := make(KeypointSet, len(ids))
	for _, id := range ids {
		kp, ok := s[id]
		if !ok || !kp.Valid() {
			continue
		}
		out[id] = kp
	}
	return out
}

// Merge copies every keypoint of other into s, overwriting existing ids.
func (s KeypointSet) Merge(other KeypointSet) {
	for id, kp := range other {
		s[id] = kp
	}
}

// FrameInput is one processing cycle's worth of keypoints.
type FrameInput struct {
	// Timestamp in seconds. Only differences between frames matter.
	Timestamp float64     `json:"timestamp"`
	Keypoints KeypointSet `json:"keypoints"`

	// TrackingLost signals that the upstream detector lost the subject;
	// all temporal state is reset before this frame is smoothed.
	TrackingLost bool `json:"tracking_lost,omitempty"`
}
