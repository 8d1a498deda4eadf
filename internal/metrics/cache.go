package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/optirun/resilience-core/predcache"
)

// CacheCollector exposes the prediction cache's internal counters as
// Prometheus metrics. The cache keeps its own atomic statistics; this
// collector reads a snapshot at scrape time instead of double-counting
// events through a second instrumentation path.
type CacheCollector struct {
	cache *predcache.Cache

	hits      *prometheus.Desc
	misses    *prometheus.Desc
	sets      *prometheus.Desc
	evictions *prometheus.Desc
	cleanups  *prometheus.Desc
	size      *prometheus.Desc
	hitRatio  *prometheus.Desc
}

// NewCacheCollector creates a collector for the given cache. Register it
// with prometheus.MustRegister alongside Init's collectors.
func NewCacheCollector(cache *predcache.Cache) *CacheCollector {
	return &CacheCollector{
		cache:     cache,
		hits:      prometheus.NewDesc("resilience_cache_hits_total", "Total cache hits", nil, nil),
		misses:    prometheus.NewDesc("resilience_cache_misses_total", "Total cache misses", nil, nil),
		sets:      prometheus.NewDesc("resilience_cache_sets_total", "Total cache store operations", nil, nil),
		evictions: prometheus.NewDesc("resilience_cache_evictions_total", "Total cache evictions (capacity and expiry)", nil, nil),
		cleanups:  prometheus.NewDesc("resilience_cache_cleanups_total", "Total expiry sweep passes", nil, nil),
		size:      prometheus.NewDesc("resilience_cache_entries", "Current cache entry count", nil, nil),
		hitRatio:  prometheus.NewDesc("resilience_cache_hit_ratio", "Fraction of lookups served from cache", nil, nil),
	}
}

func (c *CacheCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.hits
	ch <- c.misses
	ch <- c.sets
	ch <- c.evictions
	ch <- c.cleanups
	ch <- c.size
	ch <- c.hitRatio
}

func (c *CacheCollector) Collect(ch chan<- prometheus.Metric) {
	stats := c.cache.Stats()
	ch <- prometheus.MustNewConstMetric(c.hits, prometheus.CounterValue, float64(stats.Hits))
	ch <- prometheus.MustNewConstMetric(c.misses, prometheus.CounterValue, float64(stats.Misses))
	ch <- prometheus.MustNewConstMetric(c.sets, prometheus.CounterValue, float64(stats.Sets))
	ch <- prometheus.MustNewConstMetric(c.evictions, prometheus.CounterValue, float64(stats.Evictions))
	ch <- prometheus.MustNewConstMetric(c.cleanups, prometheus.CounterValue, float64(stats.Cleanups))
	ch <- prometheus.MustNewConstMetric(c.size, prometheus.GaugeValue, float64(c.cache.Len()))
	ch <- prometheus.MustNewConstMetric(c.hitRatio, prometheus.GaugeValue, stats.HitRatio)
}
