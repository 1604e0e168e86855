// Package cache implements the bounded, strategy-driven result store used
// by the scheduler to avoid recomputing a level for similar input.
//
// Responsibilities: exact and similarity lookup keyed by keypoint
// fingerprints, batch eviction under five interchangeable strategies,
// transparent payload compression and per-region sub-caches.
// Key types: Store, Fingerprint, Strategy, Config.
//
// The cache is advisory. Every internal failure degrades to a miss and is
// reported on the ops log stream; nothing here returns an error to the
// per-frame caller.
package cache
