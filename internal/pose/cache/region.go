package cache

import (
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/banshee-data/pose.report/internal/pose"
)

type regionValue struct {
	payload    []byte
	compressed bool
}

// regionCacheLocked returns the sub-cache for region, creating it on first
// use. Returns nil when region sub-caches are disabled.
func (s *Store[V]) regionCacheLocked(region pose.Region) *lru.Cache[string, regionValue] {
	size := s.cfg.Load().RegionCacheSize
	if size <= 0 {
		return nil
	}
	rc, ok := s.regions[region]
	if ok {
		return rc
	}
	rc, err := lru.New[string, regionValue](size)
	if err != nil {
		opsf("region cache %s unavailable: %v", region, err)
		return nil
	}
	s.regions[region] = rc
	return rc
}

func (s *Store[V]) resizeRegionsLocked(size int) {
	if size <= 0 {
		s.regions = make(map[pose.Region]*lru.Cache[string, regionValue])
		return
	}
	for _, rc := range s.regions {
		rc.Resize(size)
	}
}

// PutRegion stores a level-local result keyed by (baseKey, region). Each
// region has its own bounded LRU, so pressure in one region never evicts
// another region's entries.
func (s *Store[V]) PutRegion(baseKey string, region pose.Region, value V) {
	cfg := s.cfg.Load()
	if cfg.RegionCacheSize <= 0 {
		return
	}
	payload, compressed, err := encodeValue(value, cfg.EnableCompression, cfg.CompressionThreshold)
	if err != nil {
		s.encodeFailures.Add(1)
		opsf("not caching %s@%s: %v", baseKey, region, err)
		return
	}

	s.mu.Lock()
	rc := s.regionCacheLocked(region)
	s.mu.Unlock()
	if rc == nil {
		return
	}
	rc.Add(baseKey, regionValue{payload: payload, compressed: compressed})
}

// GetRegion returns a decoded copy of the value stored under (baseKey, region).
func (s *Store[V]) GetRegion(baseKey string, region pose.Region) (V, bool) {
	var zero V

	s.mu.Lock()
	rc, ok := s.regions[region]
	s.mu.Unlock()
	if !ok {
		s.regionMisses.Add(1)
		return zero, false
	}
	rv, ok := rc.Get(baseKey)
	if !ok {
		s.regionMisses.Add(1)
		return zero, false
	}
	v, err := decodeValue[V](rv.payload, rv.compressed)
	if err != nil {
		s.decodeFailures.Add(1)
		rc.Remove(baseKey)
		s.regionMisses.Add(1)
		opsf("dropping region entry %s@%s: %v", baseKey, region, err)
		return zero, false
	}
	s.regionHits.Add(1)
	return v, true
}

// RegionLen returns the number of entries held for region.
func (s *Store[V]) RegionLen(region pose.Region) int {
	s.mu.Lock()
	rc, ok := s.regions[region]
	s.mu.Unlock()
	if !ok {
		return 0
	}
	return rc.Len()
}
