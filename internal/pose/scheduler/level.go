package scheduler

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/banshee-data/pose.report/internal/config"
	"github.com/banshee-data/pose.report/internal/pose"
)

// ErrInvalidLevels is returned when a level set cannot be scheduled.
var ErrInvalidLevels = errors.New("scheduler: invalid levels")

// Level is one tier of the keypoint model, processed as a unit under its
// own budget.
type Level struct {
	Name             string
	Priority         int // lower runs first
	Regions          []pose.Region
	KeypointIDs      []uint32
	Budget           time.Duration
	QualityThreshold float64
	Skippable        bool
	ParallelSafe     bool
}

// primaryRegion tags cache entries written for the level.
func (l Level) primaryRegion() pose.Region {
	if len(l.Regions) == 0 {
		return pose.Region(l.Name)
	}
	return l.Regions[0]
}

func (l Level) clone() Level {
	c := l
	c.Regions = append([]pose.Region(nil), l.Regions...)
	c.KeypointIDs = append([]uint32(nil), l.KeypointIDs...)
	return c
}

// LevelState is a level's position in the per-frame state machine. Every
// level starts pending and moves exactly once to a terminal state.
type LevelState int

const (
	StatePending LevelState = iota
	StateSkipped
	StateCacheHit
	StateComputed
)

var levelStateNames = [...]string{
	StatePending:  "pending",
	StateSkipped:  "skipped",
	StateCacheHit: "cache_hit",
	StateComputed: "computed",
}

func (s LevelState) String() string {
	if s >= 0 && int(s) < len(levelStateNames) {
		return levelStateNames[s]
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// MarshalText encodes the state by name.
func (s LevelState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Terminal reports whether the state ends the level's frame.
func (s LevelState) Terminal() bool { return s != StatePending }

func invalidLevels(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvalidLevels, fmt.Sprintf(format, args...))
}

// ValidateLevels checks that levels form a schedulable partition of the
// keypoint model: unique names and priorities, disjoint keypoint ids that
// cover 0..keypointCount-1 (when keypointCount > 0), and at least one
// non-skippable level whose budget fits inside maxTime.
func ValidateLevels(levels []Level, keypointCount int, maxTime time.Duration) error {
	if len(levels) == 0 {
		return invalidLevels("at least one level is required")
	}

	names := make(map[string]bool, len(levels))
	priorities := make(map[int]string, len(levels))
	owner := make(map[uint32]string)
	critical := 0

	for i, l := range levels {
		if l.Name == "" {
			return invalidLevels("level %d has no name", i)
		}
		if names[l.Name] {
			return invalidLevels("duplicate level name %q", l.Name)
		}
		names[l.Name] = true
		if other, ok := priorities[l.Priority]; ok {
			return invalidLevels("levels %q and %q share priority %d", other, l.Name, l.Priority)
		}
		priorities[l.Priority] = l.Name

		if len(l.KeypointIDs) == 0 {
			return invalidLevels("level %q has no keypoint ids", l.Name)
		}
		if l.Budget <= 0 {
			return invalidLevels("level %q budget must be positive, got %s", l.Name, l.Budget)
		}
		if l.QualityThreshold < 0 || l.QualityThreshold > 1 {
			return invalidLevels("level %q quality threshold must be in [0, 1], got %f", l.Name, l.QualityThreshold)
		}
		if !l.Skippable {
			critical++
			if maxTime > 0 && l.Budget > maxTime {
				return invalidLevels("non-skippable level %q budget %s exceeds max processing time %s", l.Name, l.Budget, maxTime)
			}
		}

		for _, id := range l.KeypointIDs {
			if keypointCount > 0 && int(id) >= keypointCount {
				return invalidLevels("level %q keypoint id %d outside model of %d keypoints", l.Name, id, keypointCount)
			}
			if prev, ok := owner[id]; ok {
				return invalidLevels("keypoint id %d assigned to both %q and %q", id, prev, l.Name)
			}
			owner[id] = l.Name
		}
	}

	if critical == 0 {
		return invalidLevels("at least one non-skippable level is required")
	}
	for id := 0; id < keypointCount; id++ {
		if _, ok := owner[uint32(id)]; !ok {
			return invalidLevels("keypoint id %d is not covered by any level", id)
		}
	}
	return nil
}

// sortLevels returns a priority-ordered deep copy of levels.
func sortLevels(levels []Level) []Level {
	out := make([]Level, len(levels))
	for i, l := range levels {
		out[i] = l.clone()
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Priority < out[j].Priority })
	return out
}

// DefaultLevels returns the three-tier split of the 33-point body model:
// the trunk and limbs, then hands and feet, then the face.
func DefaultLevels() []Level {
	return []Level{
		{
			Name:             "core",
			Priority:         0,
			Regions:          []pose.Region{pose.RegionTorso, pose.RegionLeftArm, pose.RegionRightArm, pose.RegionLeftLeg, pose.RegionRightLeg},
			KeypointIDs:      []uint32{0, 11, 12, 13, 14, 15, 16, 23, 24, 25, 26, 27, 28},
			Budget:           15 * time.Millisecond,
			QualityThreshold: 0.7,
		},
		{
			Name:             "extremities",
			Priority:         1,
			Regions:          []pose.Region{pose.RegionLeftHand, pose.RegionRightHand, pose.RegionLeftFoot, pose.RegionRightFoot},
			KeypointIDs:      []uint32{17, 18, 19, 20, 21, 22, 29, 30, 31, 32},
			Budget:           8 * time.Millisecond,
			QualityThreshold: 0.6,
			Skippable:        true,
			ParallelSafe:     true,
		},
		{
			Name:             "face",
			Priority:         2,
			Regions:          []pose.Region{pose.RegionFace},
			KeypointIDs:      []uint32{1, 2, 3, 4, 5, 6, 7, 8, 9, 10},
			Budget:           5 * time.Millisecond,
			QualityThreshold: 0.6,
			Skippable:        true,
			ParallelSafe:     true,
		},
	}
}

// LevelsFromTuning converts the tuning file's level definitions. An empty
// list yields DefaultLevels.
func LevelsFromTuning(cfg *config.TuningConfig) []Level {
	if len(cfg.Levels) == 0 {
		return DefaultLevels()
	}
	levels := make([]Level, 0, len(cfg.Levels))
	for _, lc := range cfg.Levels {
		l := Level{
			Name:             lc.Name,
			Priority:         lc.Priority,
			KeypointIDs:      append([]uint32(nil), lc.KeypointIDs...),
			Budget:           lc.GetBudget(),
			QualityThreshold: lc.GetQualityThreshold(),
			Skippable:        lc.Skippable,
			ParallelSafe:     lc.ParallelSafe,
		}
		for _, r := range lc.Regions {
			l.Regions = append(l.Regions, pose.Region(r))
		}
		levels = append(levels, l)
	}
	return levels
}
