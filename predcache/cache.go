// Package predcache provides a time-bounded, size-bounded cache for
// optimization decisions keyed by a fingerprint string. Entries carry an
// absolute expiry; capacity overflow is resolved by a pluggable eviction
// policy; expired entries are reaped by a background sweep.
package predcache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
)

// ErrInvalidArgument marks rejected calls: empty keys, nil recommendations,
// and non-positive TTLs. The wrapped message names the offending parameter.
var ErrInvalidArgument = errors.New("invalid argument")

// Entry is a single cached recommendation. The payload and creation
// timestamps are immutable; AccessCount and LastAccessedAt are updated by
// the cache on every hit.
type Entry struct {
	Recommendation any
	CreatedAt      time.Time
	ExpiresAt      time.Time
	AccessCount    int64
	LastAccessedAt time.Time
}

// Options configures a Cache.
type Options struct {
	// MaxSize is the entry capacity. Inserting a new key at capacity
	// evicts a policy-chosen victim first.
	MaxSize int

	// EnableStatistics toggles hit/miss/set/eviction/cleanup counting.
	EnableStatistics bool

	// CleanupInterval is the background sweep period. Defaults to one
	// minute when zero.
	CleanupInterval time.Duration
}

const defaultCleanupInterval = time.Minute

// Cache is a concurrent fingerprint → recommendation store. Safe for
// concurrent use; mutations are serialized on an internal lock, statistics
// are atomic.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]*Entry
	policy  Policy

	maxSize      int
	statsEnabled bool
	stats        Statistics
	logger       *slog.Logger
	now          func() time.Time

	// sweepMu serializes sweeps: overlapping ticks queue up rather than
	// running concurrently or being dropped.
	sweepMu   sync.Mutex
	stopCh    chan struct{}
	closeOnce sync.Once
}

// New creates a Cache with the given capacity and eviction policy and
// starts the background sweep. A nil policy falls back to FIFO; a nil
// logger falls back to slog.Default. Callers must Close the cache to stop
// the sweep goroutine.
func New(opts Options, policy Policy, logger *slog.Logger) *Cache {
	if policy == nil {
		policy = NewFIFO()
	}
	if logger == nil {
		logger = slog.Default()
	}
	interval := opts.CleanupInterval
	if interval <= 0 {
		interval = defaultCleanupInterval
	}

	c := &Cache{
		entries:      make(map[string]*Entry),
		policy:       policy,
		maxSize:      opts.MaxSize,
		statsEnabled: opts.EnableStatistics,
		logger:       logger,
		now:          time.Now,
		stopCh:       make(chan struct{}),
	}

	go c.sweepLoop(interval)

	logger.Info("prediction cache initialized",
		"max_size", opts.MaxSize,
		"cleanup_interval", interval,
		"statistics", opts.EnableStatistics,
	)
	return c
}

// Get returns the recommendation stored under key, or ok=false when the key
// is absent or its entry has expired. Every call records exactly one hit or
// miss. An expired entry is reported as a miss but stays in the map until
// the next sweep removes it.
func (c *Cache) Get(ctx context.Context, key string) (any, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	if err := validateKey(key); err != nil {
		return nil, false, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if !ok || !c.now().Before(entry.ExpiresAt) {
		if c.statsEnabled {
			c.stats.recordMiss()
		}
		return nil, false, nil
	}

	entry.AccessCount++
	entry.LastAccessedAt = c.now()
	c.policy.OnAccess(key)
	if c.statsEnabled {
		c.stats.recordHit()
	}
	return entry.Recommendation, true, nil
}

// Set stores recommendation under key with the given time-to-live. Storing
// an existing key replaces its entry without eviction or policy OnAdd.
// Storing a new key at capacity evicts the policy's victim first.
func (c *Cache) Set(ctx context.Context, key string, recommendation any, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := validateKey(key); err != nil {
		return err
	}
	if recommendation == nil {
		return fmt.Errorf("%w: recommendation must not be nil", ErrInvalidArgument)
	}
	if ttl <= 0 {
		return fmt.Errorf("%w: ttl must be positive, got %v", ErrInvalidArgument, ttl)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	entry := &Entry{
		Recommendation: recommendation,
		CreatedAt:      now,
		ExpiresAt:      now.Add(ttl),
		LastAccessedAt: now,
	}

	if _, exists := c.entries[key]; exists {
		c.entries[key] = entry
		if c.statsEnabled {
			c.stats.recordSet()
		}
		return nil
	}

	if c.maxSize > 0 && len(c.entries) >= c.maxSize {
		if victim, ok := c.policy.Victim(c.entries); ok {
			delete(c.entries, victim)
			c.policy.OnRemove(victim)
			if c.statsEnabled {
				c.stats.recordEviction()
			}
			c.logger.Debug("cache entry evicted", "key", victim, "for", key)
		}
	}

	c.entries[key] = entry
	c.policy.OnAdd(key)
	if c.statsEnabled {
		c.stats.recordSet()
	}
	return nil
}

// Clear removes all entries, resets statistics, and resets the eviction
// policy's bookkeeping.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries = make(map[string]*Entry)
	c.policy.Reset()
	if c.statsEnabled {
		c.stats.Reset()
	}
	c.logger.Info("prediction cache cleared")
}

// Len returns the current entry count, including entries that have expired
// but not yet been swept.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Stats returns a snapshot of the cache counters.
func (c *Cache) Stats() Stats {
	return c.stats.Snapshot()
}

// Sweep synchronously removes all expired entries. Each removed entry
// counts as an eviction; the pass itself counts as exactly one cleanup,
// even when nothing was removed. Sweeps are serialized: a Sweep racing
// with the background pass waits its turn.
func (c *Cache) Sweep() {
	c.sweepMu.Lock()
	defer c.sweepMu.Unlock()

	c.mu.Lock()
	now := c.now()
	removed := 0
	for key, entry := range c.entries {
		if !entry.ExpiresAt.After(now) {
			delete(c.entries, key)
			c.policy.OnRemove(key)
			if c.statsEnabled {
				c.stats.recordEviction()
			}
			removed++
		}
	}
	c.mu.Unlock()

	if c.statsEnabled {
		c.stats.recordCleanup()
	}
	if removed > 0 {
		c.logger.Debug("cache sweep removed expired entries", "removed", removed)
	}
}

// Close stops the background sweep. Idempotent: any number of calls after
// the first are no-ops.
func (c *Cache) Close() {
	c.closeOnce.Do(func() {
		close(c.stopCh)
	})
}

func (c *Cache) sweepLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stopCh:
			return
		case <-ticker.C:
			c.Sweep()
		}
	}
}

func validateKey(key string) error {
	if strings.TrimSpace(key) == "" {
		return fmt.Errorf("%w: key must be a non-empty string", ErrInvalidArgument)
	}
	return nil
}
