package pose

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKeypointValid(t *testing.T) {
	t.Parallel()

	nan := float32(math.NaN())
	inf := float32(math.Inf(1))

	tests := []struct {
		name string
		kp   Keypoint
		want bool
	}{
		{"finite", Keypoint{X: 0.5, Y: 0.5}, true},
		{"nan x", Keypoint{X: nan, Y: 0.5}, false},
		{"nan y", Keypoint{X: 0.5, Y: nan}, false},
		{"inf z", Keypoint{X: 0.5, Y: 0.5, Z: inf}, false},
		{"unit scores", Keypoint{X: 0.5, Y: 0.5, Confidence: 1, Visibility: 0}, true},
		{"confidence above one", Keypoint{X: 0.5, Y: 0.5, Confidence: 1.2, Visibility: 1}, false},
		{"negative visibility", Keypoint{X: 0.5, Y: 0.5, Confidence: 1, Visibility: -0.1}, false},
		{"nan confidence", Keypoint{X: 0.5, Y: 0.5, Confidence: nan, Visibility: 1}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.kp.Valid())
		})
	}
}

func TestKeypointSetSubsetSkipsMissingAndInvalid(t *testing.T) {
	t.Parallel()

	set := KeypointSet{
		1: {ID: 1, X: 0.1, Y: 0.1},
		2: {ID: 2, X: float32(math.NaN()), Y: 0.2},
		3: {ID: 3, X: 0.3, Y: 0.3},
		5: {ID: 5, X: 0.5, Y: 0.5, Confidence: 3},
	}

	sub := set.Subset([]uint32{1, 2, 4, 5})
	assert.Len(t, sub, 1)
	assert.Contains(t, sub, uint32(1))
}

func TestKeypointSetCloneIsIndependent(t *testing.T) {
	t.Parallel()

	set := KeypointSet{1: {ID: 1, X: 0.1}}
	clone := set.Clone()
	clone[1] = Keypoint{ID: 1, X: 0.9}

	assert.Equal(t, float32(0.1), set[1].X)
	assert.Nil(t, KeypointSet(nil).Clone())
}

func TestKeypointSetIDsSorted(t *testing.T) {
	t.Parallel()

	set := KeypointSet{7: {}, 2: {}, 5: {}}
	assert.Equal(t, []uint32{2, 5, 7}, set.IDs())
}

func TestKeypointSetMerge(t *testing.T) {
	t.Parallel()

	set := KeypointSet{1: {ID: 1, X: 0.1}}
	set.Merge(KeypointSet{1: {ID: 1, X: 0.2}, 2: {ID: 2}})
	assert.Len(t, set, 2)
	assert.Equal(t, float32(0.2), set[1].X)
}
