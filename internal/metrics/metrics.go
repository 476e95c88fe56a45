// Package metrics provides Prometheus metrics for the relay.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "medrelay"

// Metrics holds all Prometheus metrics for the service.
type Metrics struct {
	// Session metrics
	SessionsTotal   prometheus.Counter
	SessionsActive  prometheus.Gauge
	SessionOutcomes *prometheus.CounterVec
	SessionRejected prometheus.Counter

	// Audio metrics
	AudioFramesForwarded prometheus.Counter
	AudioFramesDropped   *prometheus.CounterVec
	Commits              prometheus.Counter

	// Protocol metrics
	UpstreamEvents       *prometheus.CounterVec
	ClientEvents         *prometheus.CounterVec
	ClientProtocolErrors prometheus.Counter
}

// DefaultMetrics is the global metrics instance.
var DefaultMetrics = NewMetrics(prometheus.DefaultRegisterer)

// NewMetrics creates all metrics and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		SessionsTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_total",
			Help:      "Total number of transcription sessions started",
		}),
		SessionsActive: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_active",
			Help:      "Number of currently open transcription sessions",
		}),
		SessionOutcomes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_outcomes_total",
			Help:      "Sessions ended, by outcome",
		}, []string{"outcome"}),
		SessionRejected: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_rejected_total",
			Help:      "Websocket sessions refused while draining",
		}),

		AudioFramesForwarded: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audio_frames_forwarded_total",
			Help:      "Audio frames enqueued to the upstream service",
		}),
		AudioFramesDropped: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audio_frames_dropped_total",
			Help:      "Audio frames dropped before reaching the upstream service",
		}, []string{"reason"}),
		Commits: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commits_total",
			Help:      "Audio buffer commits forwarded upstream",
		}),

		UpstreamEvents: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upstream_events_total",
			Help:      "Events received from the upstream service, by kind",
		}, []string{"kind"}),
		ClientEvents: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "client_events_total",
			Help:      "Events sent to clients, by type",
		}, []string{"type"}),
		ClientProtocolErrors: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "client_protocol_errors_total",
			Help:      "Malformed messages received from clients",
		}),
	}
}
