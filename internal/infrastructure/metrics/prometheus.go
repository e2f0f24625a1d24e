package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PrometheusExporter exports metrics to Prometheus format.
type PrometheusExporter struct {
	collector *Collector

	cacheHitRate     prometheus.Gauge
	cacheKeys        prometheus.Gauge
	cacheMemoryBytes prometheus.Gauge
	requests         *prometheus.CounterVec
	requestDuration  *prometheus.HistogramVec
	requestErrors    *prometheus.CounterVec
	updates          *prometheus.CounterVec
	updateDuration   *prometheus.HistogramVec
	settingRows      *prometheus.CounterVec
}

// NewPrometheusExporter creates a new Prometheus exporter registered with the
// default registry.
func NewPrometheusExporter(collector *Collector) *PrometheusExporter {
	return NewPrometheusExporterWith(collector, prometheus.DefaultRegisterer)
}

// NewPrometheusExporterWith creates a new Prometheus exporter registered with reg.
func NewPrometheusExporterWith(collector *Collector, reg prometheus.Registerer) *PrometheusExporter {
	factory := promauto.With(reg)
	return &PrometheusExporter{
		collector: collector,
		cacheHitRate: factory.NewGauge(prometheus.GaugeOpts{
			Name: "wrd_reference_cache_hit_rate",
			Help: "Current reference cache hit rate (0.0 to 1.0)",
		}),
		cacheKeys: factory.NewGauge(prometheus.GaugeOpts{
			Name: "wrd_reference_cache_keys_current",
			Help: "Current number of keys in the reference cache",
		}),
		cacheMemoryBytes: factory.NewGauge(prometheus.GaugeOpts{
			Name: "wrd_reference_cache_memory_bytes",
			Help: "Current memory usage of the reference cache in bytes",
		}),
		requests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "wrd_requests_total",
				Help: "Total number of API requests",
			},
			[]string{"method"},
		),
		requestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "wrd_request_duration_seconds",
				Help:    "Duration of API requests in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0, 5.0, 10.0},
			},
			[]string{"method"},
		),
		requestErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "wrd_request_errors_total",
				Help: "Total number of failed API requests",
			},
			[]string{"method"},
		),
		updates: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "wrd_entity_updates_total",
				Help: "Total number of entity writes by type and outcome",
			},
			[]string{"type", "outcome"},
		),
		updateDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "wrd_entity_update_duration_seconds",
				Help:    "Duration of entity writes in seconds",
				Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0},
			},
			[]string{"type"},
		),
		settingRows: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "wrd_setting_rows_total",
				Help: "Setting rows handled by the reconciler by action",
			},
			[]string{"action"},
		),
	}
}

// Update updates Gauge metrics from the collector.
// This should be called periodically (e.g., every 10 seconds).
func (e *PrometheusExporter) Update() {
	cacheMetrics := e.collector.GetCacheMetrics()
	e.cacheHitRate.Set(cacheMetrics.HitRate)
	e.cacheKeys.Set(float64(cacheMetrics.KeysCurrent))
	e.cacheMemoryBytes.Set(float64(cacheMetrics.MemoryBytes))
}

// RecordRequest records a request in Prometheus.
func (e *PrometheusExporter) RecordRequest(method string) {
	e.requests.WithLabelValues(method).Inc()
}

// RecordDuration records a duration in Prometheus.
func (e *PrometheusExporter) RecordDuration(method string, durationSeconds float64) {
	e.requestDuration.WithLabelValues(method).Observe(durationSeconds)
}

// RecordError records an error in Prometheus.
func (e *PrometheusExporter) RecordError(method string) {
	e.requestErrors.WithLabelValues(method).Inc()
}

// RecordUpdate records an entity write in Prometheus.
func (e *PrometheusExporter) RecordUpdate(typeTag, outcome string, d time.Duration) {
	e.updates.WithLabelValues(typeTag, outcome).Inc()
	e.updateDuration.WithLabelValues(typeTag).Observe(d.Seconds())
}

// RecordRows records reconciled setting rows in Prometheus.
func (e *PrometheusExporter) RecordRows(upserts, deletes, unchanged int) {
	e.settingRows.WithLabelValues("written").Add(float64(upserts))
	e.settingRows.WithLabelValues("deleted").Add(float64(deletes))
	e.settingRows.WithLabelValues("unchanged").Add(float64(unchanged))
}

// UpdateRecorder feeds entity write metrics to a collector and, when set, an
// exporter.
type UpdateRecorder struct {
	Collector *Collector
	Exporter  *PrometheusExporter
}

// RecordUpdate implements the updater's metrics sink.
func (r *UpdateRecorder) RecordUpdate(typeTag, outcome string, d time.Duration) {
	r.Collector.RecordUpdate(typeTag, outcome, d)
	if r.Exporter != nil {
		r.Exporter.RecordUpdate(typeTag, outcome, d)
	}
}

// RecordRows implements the updater's metrics sink.
func (r *UpdateRecorder) RecordRows(upserts, deletes, unchanged int) {
	r.Collector.RecordRows(upserts, deletes, unchanged)
	if r.Exporter != nil {
		r.Exporter.RecordRows(upserts, deletes, unchanged)
	}
}
