package scheduler

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/pose.report/internal/config"
)

func TestLevelsFromTuningMatchDefaults(t *testing.T) {
	t.Parallel()

	got := LevelsFromTuning(config.MustLoadDefaultConfig())
	if diff := cmp.Diff(DefaultLevels(), got); diff != "" {
		t.Errorf("defaults file levels differ from DefaultLevels (-want +got):\n%s", diff)
	}
}

func TestLevelsFromEmptyTuning(t *testing.T) {
	t.Parallel()
	assert.Equal(t, DefaultLevels(), LevelsFromTuning(config.EmptyTuningConfig()))
}

func TestConfigFromTuning(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 30*time.Millisecond, cfg.MaxProcessingTime)
	assert.True(t, cfg.SkipLowPriorityOnDelay)
	assert.False(t, cfg.EnableParallelProcessing)
	assert.Equal(t, 1.5, cfg.MaxBudgetMultiplier)
	assert.Equal(t, 33, cfg.KeypointCount)
}

func TestSortLevelsCopies(t *testing.T) {
	t.Parallel()

	in := twoLevels()
	in[0].Priority = 5
	out := sortLevels(in)
	require.Equal(t, "limbs", out[0].Name)

	out[0].KeypointIDs[0] = 99
	assert.Equal(t, uint32(18), in[1].KeypointIDs[0])
}
