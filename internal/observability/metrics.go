// ABOUTME: Lookup metrics collection for observability
// ABOUTME: Counters, latency histograms, and per-route statistics

package observability

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// MetricsSnapshot contains a point-in-time snapshot of all metrics.
type MetricsSnapshot struct {
	// Total lookups attempted.
	LookupsTotal int64

	// Lookups that resolved to a record.
	LookupsFound int64

	// Lookups for addresses absent from the database.
	LookupsNotFound int64

	// Lookups rejected for malformed input.
	LookupsInvalid int64

	// Lookups that failed inside the reader.
	LookupsFailed int64

	// Responses served from the lookup cache.
	CacheHits int64

	// Lookups that missed the cache.
	CacheMisses int64

	// Requests currently in flight.
	ActiveRequests int64

	// Timestamp of snapshot.
	Timestamp time.Time
}

// String returns a human-readable representation.
func (s *MetricsSnapshot) String() string {
	return fmt.Sprintf(
		"lookups=%d (found=%d notfound=%d invalid=%d failed=%d) cache=%d/%d active=%d",
		s.LookupsTotal, s.LookupsFound, s.LookupsNotFound,
		s.LookupsInvalid, s.LookupsFailed,
		s.CacheHits, s.CacheHits+s.CacheMisses,
		s.ActiveRequests,
	)
}

// LatencyPercentiles contains latency distribution.
type LatencyPercentiles struct {
	P50 time.Duration
	P75 time.Duration
	P90 time.Duration
	P95 time.Duration
	P99 time.Duration
	Max time.Duration
}

// RouteStat contains statistics for a specific route.
type RouteStat struct {
	TotalRequests  int64
	SuccessCount   int64
	FailureCount   int64
	TotalLatency   time.Duration
	AverageLatency time.Duration
}

// routeStats holds per-route metrics.
type routeStats struct {
	mu        sync.Mutex
	total     int64
	successes int64
	failures  int64
	latencies []time.Duration
}

// LookupMetrics collects metrics for lookup operations.
type LookupMetrics struct {
	// Atomic counters.
	lookupsTotal    atomic.Int64
	lookupsFound    atomic.Int64
	lookupsNotFound atomic.Int64
	lookupsInvalid  atomic.Int64
	lookupsFailed   atomic.Int64
	cacheHits       atomic.Int64
	cacheMisses     atomic.Int64
	activeRequests  atomic.Int64

	// Latency histogram (protected by mutex).
	mu        sync.RWMutex
	latencies []time.Duration

	// Per-route stats.
	routeStats map[string]*routeStats
}

// LookupOutcome classifies how a lookup resolved.
type LookupOutcome int

// Lookup outcome values.
const (
	OutcomeFound LookupOutcome = iota
	OutcomeNotFound
	OutcomeInvalid
	OutcomeFailed
)

// NewLookupMetrics creates a new metrics collector.
func NewLookupMetrics() *LookupMetrics {
	return &LookupMetrics{
		latencies:  make([]time.Duration, 0, 1000),
		routeStats: make(map[string]*routeStats),
	}
}

// RecordLookup records a lookup operation against a route.
func (m *LookupMetrics) RecordLookup(route string, duration time.Duration, outcome LookupOutcome) {
	m.lookupsTotal.Add(1)

	switch outcome {
	case OutcomeFound:
		m.lookupsFound.Add(1)
	case OutcomeNotFound:
		m.lookupsNotFound.Add(1)
	case OutcomeInvalid:
		m.lookupsInvalid.Add(1)
	case OutcomeFailed:
		m.lookupsFailed.Add(1)
	}

	// Record latency.
	m.mu.Lock()
	m.latencies = append(m.latencies, duration)

	// Limit latency slice size.
	if len(m.latencies) > 10000 {
		m.latencies = m.latencies[len(m.latencies)-5000:]
	}

	// Record per-route stats.
	stats, ok := m.routeStats[route]
	if !ok {
		stats = &routeStats{}
		m.routeStats[route] = stats
	}
	m.mu.Unlock()

	stats.mu.Lock()
	stats.total++
	if outcome == OutcomeFound || outcome == OutcomeNotFound {
		stats.successes++
	} else {
		stats.failures++
	}
	stats.latencies = append(stats.latencies, duration)
	if len(stats.latencies) > 1000 {
		stats.latencies = stats.latencies[len(stats.latencies)-500:]
	}
	stats.mu.Unlock()
}

// RecordCacheHit records a response served from the lookup cache.
func (m *LookupMetrics) RecordCacheHit() {
	m.cacheHits.Add(1)
}

// RecordCacheMiss records a lookup that missed the cache.
func (m *LookupMetrics) RecordCacheMiss() {
	m.cacheMisses.Add(1)
}

// IncrementActiveRequests increments the in-flight request counter.
func (m *LookupMetrics) IncrementActiveRequests() {
	m.activeRequests.Add(1)
}

// DecrementActiveRequests decrements the in-flight request counter.
func (m *LookupMetrics) DecrementActiveRequests() {
	m.activeRequests.Add(-1)
}

// Snapshot returns a point-in-time snapshot of all metrics.
func (m *LookupMetrics) Snapshot() *MetricsSnapshot {
	return &MetricsSnapshot{
		LookupsTotal:    m.lookupsTotal.Load(),
		LookupsFound:    m.lookupsFound.Load(),
		LookupsNotFound: m.lookupsNotFound.Load(),
		LookupsInvalid:  m.lookupsInvalid.Load(),
		LookupsFailed:   m.lookupsFailed.Load(),
		CacheHits:       m.cacheHits.Load(),
		CacheMisses:     m.cacheMisses.Load(),
		ActiveRequests:  m.activeRequests.Load(),
		Timestamp:       time.Now(),
	}
}

// LatencyPercentiles returns latency distribution percentiles.
func (m *LookupMetrics) LatencyPercentiles() LatencyPercentiles {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if len(m.latencies) == 0 {
		return LatencyPercentiles{}
	}

	// Make a copy and sort.
	sorted := make([]time.Duration, len(m.latencies))
	copy(sorted, m.latencies)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i] < sorted[j]
	})

	return LatencyPercentiles{
		P50: percentile(sorted, 50),
		P75: percentile(sorted, 75),
		P90: percentile(sorted, 90),
		P95: percentile(sorted, 95),
		P99: percentile(sorted, 99),
		Max: sorted[len(sorted)-1],
	}
}

// percentile calculates the pth percentile of a sorted slice.
func percentile(sorted []time.Duration, p int) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	idx := (p * len(sorted)) / 100
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

// RouteStats returns per-route statistics.
func (m *LookupMetrics) RouteStats() map[string]*RouteStat {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make(map[string]*RouteStat, len(m.routeStats))
	for name, stats := range m.routeStats {
		stats.mu.Lock()
		stat := &RouteStat{
			TotalRequests: stats.total,
			SuccessCount:  stats.successes,
			FailureCount:  stats.failures,
		}
		if len(stats.latencies) > 0 {
			var total time.Duration
			for _, lat := range stats.latencies {
				total += lat
			}
			stat.TotalLatency = total
			stat.AverageLatency = total / time.Duration(len(stats.latencies))
		}
		stats.mu.Unlock()
		result[name] = stat
	}
	return result
}

// Reset resets all metrics to zero.
func (m *LookupMetrics) Reset() {
	m.lookupsTotal.Store(0)
	m.lookupsFound.Store(0)
	m.lookupsNotFound.Store(0)
	m.lookupsInvalid.Store(0)
	m.lookupsFailed.Store(0)
	m.cacheHits.Store(0)
	m.cacheMisses.Store(0)
	m.activeRequests.Store(0)

	m.mu.Lock()
	m.latencies = m.latencies[:0]
	m.routeStats = make(map[string]*routeStats)
	m.mu.Unlock()
}

// String returns a summary string.
func (m *LookupMetrics) String() string {
	snapshot := m.Snapshot()
	percentiles := m.LatencyPercentiles()

	var sb strings.Builder
	sb.WriteString(snapshot.String())
	sb.WriteString(fmt.Sprintf(" p50=%v p99=%v", percentiles.P50, percentiles.P99))
	return sb.String()
}
