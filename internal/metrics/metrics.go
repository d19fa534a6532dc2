// Package metrics exposes prometheus collectors for the HTTP surface, the
// ingestion pipeline and the audio store.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector owns every metric the service exports
type Collector struct {
	registry *prometheus.Registry

	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	InFlightGauge   prometheus.Gauge

	NotesIngestedTotal    *prometheus.CounterVec
	AudioStoreFailures    *prometheus.CounterVec
	ProviderFallbackTotal *prometheus.CounterVec
}

// NewCollector registers all metrics on a fresh registry under namespace
func NewCollector(namespace string) *Collector {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Collector{
		registry: reg,

		RequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests by method, route, and status code.",
		}, []string{"method", "route", "status"}),

		RequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency distribution.",
			Buckets:   []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"method", "route", "status"}),

		InFlightGauge: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "in_flight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		}),

		NotesIngestedTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notes",
			Name:      "ingested_total",
			Help:      "Notes created, by audio storage backend.",
		}, []string{"backend"}),

		AudioStoreFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "audio",
			Name:      "store_failures_total",
			Help:      "Uploads that could not be made durable. Each leaves a retained file in the upload directory.",
		}, []string{"backend"}),

		ProviderFallbackTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ai",
			Name:      "fallbacks_total",
			Help:      "Pipeline steps that used local fallback output, by step.",
		}, []string{"step"}),
	}
}

// NoteIngested counts a created note
func (c *Collector) NoteIngested(backend string) {
	c.NotesIngestedTotal.WithLabelValues(backend).Inc()
}

// AudioStoreFailed counts a failed durable write
func (c *Collector) AudioStoreFailed(backend string) {
	c.AudioStoreFailures.WithLabelValues(backend).Inc()
}

// ProviderFallback counts a pipeline step that fell back
func (c *Collector) ProviderFallback(step string) {
	c.ProviderFallbackTotal.WithLabelValues(step).Inc()
}

// Handler serves the registry in the prometheus exposition format
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}
