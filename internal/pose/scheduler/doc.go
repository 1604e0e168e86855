// Package scheduler runs a frame's processing levels in priority order
// under a soft wall-clock budget.
//
// Levels partition the keypoint model into tiers. Non-skippable levels
// always run; skippable levels are dropped when the remaining frame budget
// cannot cover them, when they overrun their own (possibly redistributed)
// budget, or when an earlier level's quality makes them unnecessary.
// Level results are looked up in, and written back to, a cache.Store
// keyed by keypoint fingerprints.
package scheduler
