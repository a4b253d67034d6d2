// Package metrics exposes Prometheus metrics for the ASR server.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the server's instrument set. Register against a dedicated
// registry so tests can create as many instances as they need.
type Metrics struct {
	Registry *prometheus.Registry

	RequestsTotal     *prometheus.CounterVec
	RequestFailures   *prometheus.CounterVec
	InferenceDuration prometheus.Histogram
	AudioSeconds      prometheus.Counter
	ActiveWebsockets  prometheus.Gauge
}

// New creates and registers all server metrics.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		Registry: reg,
		RequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "asr_requests_total",
			Help: "Total number of HTTP requests by endpoint",
		}, []string{"endpoint"}),
		RequestFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "asr_request_failures_total",
			Help: "Total number of failed HTTP requests by endpoint and status",
		}, []string{"endpoint", "status"}),
		InferenceDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "asr_inference_duration_seconds",
			Help:    "Wall-clock time spent in model inference",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
		}),
		AudioSeconds: factory.NewCounter(prometheus.CounterOpts{
			Name: "asr_audio_seconds_total",
			Help: "Total seconds of audio transcribed",
		}),
		ActiveWebsockets: factory.NewGauge(prometheus.GaugeOpts{
			Name: "asr_active_websockets",
			Help: "Number of open streaming transcription sessions",
		}),
	}
}
