package predcache

import "sync/atomic"

// Statistics holds the cache's running counters. All increments are atomic
// so the hot read path never blocks on a statistics lock. A Reset racing
// with increments may observe some of the racing increments, but counters
// never go negative or skip the zero state.
type Statistics struct {
	hits      atomic.Int64
	misses    atomic.Int64
	sets      atomic.Int64
	evictions atomic.Int64
	cleanups  atomic.Int64
}

// Stats is a read-only snapshot of the cache counters.
type Stats struct {
	Hits          int64   `json:"hits"`
	Misses        int64   `json:"misses"`
	Sets          int64   `json:"sets"`
	Evictions     int64   `json:"evictions"`
	Cleanups      int64   `json:"cleanups"`
	TotalRequests int64   `json:"total_requests"`
	HitRatio      float64 `json:"hit_ratio"`
}

func (s *Statistics) recordHit()      { s.hits.Add(1) }
func (s *Statistics) recordMiss()     { s.misses.Add(1) }
func (s *Statistics) recordSet()      { s.sets.Add(1) }
func (s *Statistics) recordEviction() { s.evictions.Add(1) }
func (s *Statistics) recordCleanup()  { s.cleanups.Add(1) }

// Snapshot returns a consistent-enough view of the counters. The hit ratio
// is the fraction of lookups that found a live entry, 0 when there have
// been no lookups.
func (s *Statistics) Snapshot() Stats {
	snap := Stats{
		Hits:      s.hits.Load(),
		Misses:    s.misses.Load(),
		Sets:      s.sets.Load(),
		Evictions: s.evictions.Load(),
		Cleanups:  s.cleanups.Load(),
	}
	snap.TotalRequests = snap.Hits + snap.Misses
	if snap.TotalRequests > 0 {
		snap.HitRatio = float64(snap.Hits) / float64(snap.TotalRequests)
	}
	return snap
}

// Reset zeroes all counters.
func (s *Statistics) Reset() {
	s.hits.Store(0)
	s.misses.Store(0)
	s.sets.Store(0)
	s.evictions.Store(0)
	s.cleanups.Store(0)
}
