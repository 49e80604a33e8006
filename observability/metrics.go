// Package observability holds the Prometheus instruments and the tracer used
// across the service.
package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

// TracerName is the instrumentation scope for spans started by this module.
const TracerName = "github.com/becomeliminal/nim-companion"

// Tracer returns the module tracer from the global provider.
func Tracer() trace.Tracer {
	return otel.Tracer(TracerName)
}

// Metrics groups all Prometheus instruments used by the service.
// All methods are safe on a nil *Metrics.
type Metrics struct {
	registry *prometheus.Registry

	Conversations   *prometheus.CounterVec
	ConverseLatency prometheus.Histogram
	MemoryRecords   *prometheus.CounterVec
	Compactions     *prometheus.CounterVec
	ProfileSyncs    *prometheus.CounterVec
	TasksDropped    prometheus.Counter
	Fallbacks       *prometheus.CounterVec
}

// NewMetrics registers the instruments on a private registry.
func NewMetrics(namespace string) *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	return &Metrics{
		registry: reg,
		Conversations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "conversations_total",
			Help:      "Converse calls by outcome.",
		}, []string{"outcome"}),
		ConverseLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "converse_latency_ms",
			Help:      "Time from request to parsed reply in milliseconds.",
			Buckets:   []float64{250, 500, 1000, 2000, 4000, 8000, 16000},
		}),
		MemoryRecords: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "memory_records_total",
			Help:      "Long-term memory directives by result.",
		}, []string{"result"}),
		Compactions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "compactions_total",
			Help:      "History compactions by result.",
		}, []string{"result"}),
		ProfileSyncs: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "profile_syncs_total",
			Help:      "Profile reconciliations by action.",
		}, []string{"action"}),
		TasksDropped: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "background_tasks_dropped_total",
			Help:      "Background tasks dropped because the queue was full.",
		}),
		Fallbacks: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fallbacks_total",
			Help:      "Collaborator failures recovered with a default.",
		}, []string{"step"}),
	}
}

func (m *Metrics) Conversation(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.Conversations.WithLabelValues(outcome).Inc()
	if outcome == "ok" {
		m.ConverseLatency.Observe(float64(d.Milliseconds()))
	}
}

func (m *Metrics) MemoryRecord(result string) {
	if m == nil {
		return
	}
	m.MemoryRecords.WithLabelValues(result).Inc()
}

func (m *Metrics) Compaction(result string) {
	if m == nil {
		return
	}
	m.Compactions.WithLabelValues(result).Inc()
}

func (m *Metrics) ProfileSync(action string) {
	if m == nil {
		return
	}
	m.ProfileSyncs.WithLabelValues(action).Inc()
}

func (m *Metrics) TaskDropped() {
	if m == nil {
		return
	}
	m.TasksDropped.Inc()
}

func (m *Metrics) Fallback(step string) {
	if m == nil {
		return
	}
	m.Fallbacks.WithLabelValues(step).Inc()
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
