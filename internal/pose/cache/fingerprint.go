package cache

import (
	"encoding/binary"
	"fmt"
	"math"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/banshee-data/pose.report/internal/pose"
)

// Fingerprint summarises a level's keypoint subset at a coarse point in
// time. Hash is the exact identity; Vector keeps the unquantised
// coordinates so near-identical inputs can still be matched.
type Fingerprint struct {
	Level      string
	TimeBucket int64
	Timestamp  float64
	Hash       uint64
	IDs        []uint32
	Vector     []float32 // x,y pairs in IDs order
}

// NewFingerprint derives a fingerprint from keypoints. Coordinates are
// quantised by quant before hashing and visibility is bucketed to tenths,
// so sub-quantum jitter maps to the same key. A non-positive bucket drops
// the time component from the hash.
func NewFingerprint(level string, kps pose.KeypointSet, timestamp float64, bucket time.Duration, quant float64) Fingerprint {
	fp := Fingerprint{Level: level, Timestamp: timestamp}
	if bucket > 0 {
		fp.TimeBucket = int64(math.Floor(timestamp / bucket.Seconds()))
	}

	ids := kps.IDs()
	fp.IDs = ids
	fp.Vector = make([]float32, 0, 2*len(ids))

	h := xxhash.New()
	_, _ = h.WriteString(level)
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], uint64(fp.TimeBucket))
	_, _ = h.Write(buf[:])

	for _, id := range ids {
		kp := kps[id]
		fp.Vector = append(fp.Vector, kp.X, kp.Y)

		binary.LittleEndian.PutUint32(buf[:4], id)
		_, _ = h.Write(buf[:4])
		for _, v := range []float64{quantise(float64(kp.X), quant), quantise(float64(kp.Y), quant), quantise(float64(kp.Visibility), 0.1)} {
			binary.LittleEndian.PutUint64(buf[:], uint64(int64(v)))
			_, _ = h.Write(buf[:])
		}
	}
	fp.Hash = h.Sum64()
	return fp
}

func quantise(v, step float64) float64 {
	if step <= 0 {
		return math.Round(v * 1e6)
	}
	return math.Round(v / step)
}

// Key returns the exact cache key for the fingerprint.
func (f Fingerprint) Key() string {
	return fmt.Sprintf("%s/%016x", f.Level, f.Hash)
}

// Similarity returns 1 − mean displacement / scale, clamped to [0, 1].
// Fingerprints of different levels or different keypoint sets are never
// similar.
func (f Fingerprint) Similarity(other Fingerprint, scale float64) float64 {
	if f.Level != other.Level || len(f.IDs) != len(other.IDs) || len(f.Vector) != len(other.Vector) {
		return 0
	}
	for i := range f.IDs {
		if f.IDs[i] != other.IDs[i] {
			return 0
		}
	}
	if len(f.IDs) == 0 {
		return 1
	}
	if scale <= 0 {
		scale = 1
	}
	var sum float64
	for i := 0; i < len(f.Vector); i += 2 {
		dx := float64(f.Vector[i] - other.Vector[i])
		dy := float64(f.Vector[i+1] - other.Vector[i+1])
		sum += math.Sqrt(dx*dx + dy*dy)
	}
	mean := sum / float64(len(f.IDs))
	s := 1 - mean/scale
	if s < 0 || math.IsNaN(s) {
		return 0
	}
	return s
}
