package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the audit pipeline. A nil
// *Metrics is valid and records nothing, so components can be built
// without a registry in tests.
type Metrics struct {
	EventsPublished   *prometheus.CounterVec
	PublishFailures   prometheus.Counter
	ValidationRejects prometheus.Counter
	PublishLatency    prometheus.Histogram

	MessagesProcessed  prometheus.Counter
	MessagesFailed     *prometheus.CounterVec
	MessagesDuplicated prometheus.Counter
	ProcessingLatency  prometheus.Histogram

	AuditDropped prometheus.Counter

	HistoryQueries   *prometheus.CounterVec
	StatsCacheLookup *prometheus.CounterVec
}

// New creates and registers all Prometheus metrics on the default
// registry. It must be called once per process.
func New() *Metrics {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

// NewWithRegistry registers the metrics on reg.
func NewWithRegistry(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		EventsPublished: f.NewCounterVec(prometheus.CounterOpts{
			Name: "portal_audit_events_published_total",
			Help: "Total number of audit events acknowledged by the broker",
		}, []string{"action", "entity"}),
		PublishFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "portal_audit_publish_failures_total",
			Help: "Total number of publish attempts that failed to connect or deliver",
		}),
		ValidationRejects: f.NewCounter(prometheus.CounterOpts{
			Name: "portal_audit_validation_rejects_total",
			Help: "Total number of audit events rejected before reaching the broker",
		}),
		PublishLatency: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "portal_audit_publish_duration_seconds",
			Help:    "Time from publish call to broker acknowledgement",
			Buckets: prometheus.DefBuckets,
		}),
		MessagesProcessed: f.NewCounter(prometheus.CounterOpts{
			Name: "portal_audit_consumer_processed_total",
			Help: "Total number of audit messages written to the history store",
		}),
		MessagesFailed: f.NewCounterVec(prometheus.CounterOpts{
			Name: "portal_audit_consumer_failed_total",
			Help: "Total number of audit messages that could not be persisted",
		}, []string{"reason"}),
		MessagesDuplicated: f.NewCounter(prometheus.CounterOpts{
			Name: "portal_audit_consumer_duplicates_total",
			Help: "Total number of redelivered audit messages skipped as already stored",
		}),
		ProcessingLatency: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "portal_audit_consumer_processing_duration_seconds",
			Help:    "Time spent handling one audit message",
			Buckets: prometheus.DefBuckets,
		}),
		AuditDropped: f.NewCounter(prometheus.CounterOpts{
			Name: "portal_audit_dropped_total",
			Help: "Total number of audit events dropped before publishing",
		}),
		HistoryQueries: f.NewCounterVec(prometheus.CounterOpts{
			Name: "portal_history_queries_total",
			Help: "Total number of history queries served",
		}, []string{"kind"}),
		StatsCacheLookup: f.NewCounterVec(prometheus.CounterOpts{
			Name: "portal_history_stats_cache_lookups_total",
			Help: "History stats cache lookups by result",
		}, []string{"result"}),
	}
}

func (m *Metrics) IncPublished(action, entity string) {
	if m == nil {
		return
	}
	m.EventsPublished.WithLabelValues(action, entity).Inc()
}

func (m *Metrics) IncPublishFailures() {
	if m == nil {
		return
	}
	m.PublishFailures.Inc()
}

func (m *Metrics) IncValidationRejects() {
	if m == nil {
		return
	}
	m.ValidationRejects.Inc()
}

// ObservePublish records the latency of one publish call.
func (m *Metrics) ObservePublish(d time.Duration) {
	if m == nil {
		return
	}
	m.PublishLatency.Observe(d.Seconds())
}

func (m *Metrics) IncProcessed() {
	if m == nil {
		return
	}
	m.MessagesProcessed.Inc()
}

// IncFailed counts a message that could not be persisted. reason is a short
// fixed label such as "deserialization" or "storage".
func (m *Metrics) IncFailed(reason string) {
	if m == nil {
		return
	}
	m.MessagesFailed.WithLabelValues(reason).Inc()
}

func (m *Metrics) IncDuplicates() {
	if m == nil {
		return
	}
	m.MessagesDuplicated.Inc()
}

func (m *Metrics) ObserveProcessing(d time.Duration) {
	if m == nil {
		return
	}
	m.ProcessingLatency.Observe(d.Seconds())
}

func (m *Metrics) IncAuditDropped() {
	if m == nil {
		return
	}
	m.AuditDropped.Inc()
}

func (m *Metrics) IncHistoryQuery(kind string) {
	if m == nil {
		return
	}
	m.HistoryQueries.WithLabelValues(kind).Inc()
}

// IncStatsCache counts a stats cache lookup; result is "hit", "miss" or
// "error".
func (m *Metrics) IncStatsCache(result string) {
	if m == nil {
		return
	}
	m.StatsCacheLookup.WithLabelValues(result).Inc()
}
