package metrics

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/WebHare/platform-sub003/pkg/cache"
	"github.com/WebHare/platform-sub003/pkg/cache/memorycache"
)

// Collector collects and aggregates metrics for the application.
type Collector struct {
	// API metrics, keyed by gRPC method or HTTP route
	apiRequests sync.Map // map[string]*uint64
	apiErrors   sync.Map // map[string]*uint64
	apiDuration sync.Map // map[string]*durationValue

	// Entity updates, keyed by "type/outcome"
	updates        sync.Map // map[string]*uint64
	updateDuration sync.Map // map[string]*durationValue

	rowsWritten   atomic.Uint64
	rowsDeleted   atomic.Uint64
	rowsUnchanged atomic.Uint64

	// Reference cache (optional)
	cache cache.Cache
}

// durationValue holds duration with mutex for thread-safe updates.
type durationValue struct {
	mu           sync.Mutex
	totalSeconds float64
}

// CacheMetrics holds cache performance metrics.
type CacheMetrics struct {
	Hits        uint64
	Misses      uint64
	HitRate     float64
	KeysCurrent int64
	MemoryBytes int64
	Evictions   uint64
}

// APIMetrics holds API request metrics.
type APIMetrics struct {
	RequestCounts        map[string]uint64
	ErrorCounts          map[string]uint64
	TotalDurationSeconds map[string]float64
}

// UpdateMetrics holds entity update metrics.
type UpdateMetrics struct {
	Counts               map[string]uint64 // "type/outcome" -> count
	TotalDurationSeconds map[string]float64
	RowsWritten          uint64
	RowsDeleted          uint64
	RowsUnchanged        uint64
}

// NewCollector creates a new metrics collector.
func NewCollector() *Collector {
	return &Collector{}
}

// SetCache sets the cache instance for collecting cache metrics.
func (c *Collector) SetCache(cache cache.Cache) {
	c.cache = cache
}

// RecordRequest records an API request.
func (c *Collector) RecordRequest(method string) {
	atomic.AddUint64(c.getOrCreateCounter(&c.apiRequests, method), 1)
}

// RecordError records an API error.
func (c *Collector) RecordError(method string) {
	atomic.AddUint64(c.getOrCreateCounter(&c.apiErrors, method), 1)
}

// RecordDuration records the duration of an API call in seconds.
func (c *Collector) RecordDuration(method string, durationSeconds float64) {
	addDuration(&c.apiDuration, method, durationSeconds)
}

// RecordUpdate records one entity update or delete and its outcome
// (created, updated, noop, deleted or error).
func (c *Collector) RecordUpdate(typeTag, outcome string, d time.Duration) {
	key := typeTag + "/" + outcome
	atomic.AddUint64(c.getOrCreateCounter(&c.updates, key), 1)
	addDuration(&c.updateDuration, key, d.Seconds())
}

// RecordRows records the setting rows one reconcile wrote, deleted and kept.
func (c *Collector) RecordRows(upserts, deletes, unchanged int) {
	c.rowsWritten.Add(uint64(upserts))
	c.rowsDeleted.Add(uint64(deletes))
	c.rowsUnchanged.Add(uint64(unchanged))
}

// GetCacheMetrics returns current cache metrics.
func (c *Collector) GetCacheMetrics() *CacheMetrics {
	if c.cache == nil {
		return &CacheMetrics{}
	}

	metrics := c.cache.Metrics()
	if metrics == nil {
		return &CacheMetrics{}
	}

	result := &CacheMetrics{
		Hits:      metrics.Hits,
		Misses:    metrics.Misses,
		HitRate:   metrics.HitRate(),
		Evictions: metrics.KeysEvicted,
	}

	if memCache, ok := c.cache.(*memorycache.Cache); ok {
		result.KeysCurrent = int64(memCache.Len())
		result.MemoryBytes = memCache.Size()
	}

	return result
}

// GetAPIMetrics returns current API metrics.
func (c *Collector) GetAPIMetrics() *APIMetrics {
	return &APIMetrics{
		RequestCounts:        loadCounters(&c.apiRequests),
		ErrorCounts:          loadCounters(&c.apiErrors),
		TotalDurationSeconds: loadDurations(&c.apiDuration),
	}
}

// GetUpdateMetrics returns current entity update metrics.
func (c *Collector) GetUpdateMetrics() *UpdateMetrics {
	return &UpdateMetrics{
		Counts:               loadCounters(&c.updates),
		TotalDurationSeconds: loadDurations(&c.updateDuration),
		RowsWritten:          c.rowsWritten.Load(),
		RowsDeleted:          c.rowsDeleted.Load(),
		RowsUnchanged:        c.rowsUnchanged.Load(),
	}
}

// getOrCreateCounter gets or creates a counter for the given key.
func (c *Collector) getOrCreateCounter(m *sync.Map, key string) *uint64 {
	val, _ := m.LoadOrStore(key, new(uint64))
	return val.(*uint64)
}

func addDuration(m *sync.Map, key string, seconds float64) {
	val, _ := m.LoadOrStore(key, &durationValue{})
	dv := val.(*durationValue)
	dv.mu.Lock()
	dv.totalSeconds += seconds
	dv.mu.Unlock()
}

func loadCounters(m *sync.Map) map[string]uint64 {
	out := make(map[string]uint64)
	m.Range(func(key, value any) bool {
		out[key.(string)] = atomic.LoadUint64(value.(*uint64))
		return true
	})
	return out
}

func loadDurations(m *sync.Map) map[string]float64 {
	out := make(map[string]float64)
	m.Range(func(key, value any) bool {
		dv := value.(*durationValue)
		dv.mu.Lock()
		out[key.(string)] = dv.totalSeconds
		dv.mu.Unlock()
		return true
	})
	return out
}
