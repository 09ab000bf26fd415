// Package metrics provides Prometheus metrics for the capture engine.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

const namespace = "parley"

// Metrics holds all Prometheus metrics for the engine.
type Metrics struct {
	SessionsConnected prometheus.Counter
	SessionsActive    prometheus.Gauge
	SessionDuration   prometheus.Histogram

	SpeechSegments    prometheus.Counter
	SegmentsFinalized prometheus.Counter
	SegmentsDiscarded prometheus.Counter

	FramesForwarded prometheus.Counter
	AudioBytesIn    prometheus.Counter
	AudioBytesOut   prometheus.Counter

	Interrupts     prometheus.Counter
	EventsReceived *prometheus.CounterVec

	Submissions      *prometheus.CounterVec
	SubmissionErrors *prometheus.CounterVec
}

// New creates engine metrics registered on the given registerer. Pass
// prometheus.DefaultRegisterer in production.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		SessionsConnected: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_connected_total",
			Help:      "Total number of realtime sessions connected",
		}),
		SessionsActive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_active",
			Help:      "Number of currently connected sessions",
		}),
		SessionDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "session_duration_seconds",
			Help:      "Duration of sessions in seconds",
			Buckets:   []float64{10, 30, 60, 120, 300, 600, 1200, 1800},
		}),
		SpeechSegments: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "speech_segments_total",
			Help:      "Total number of speech segments opened by VAD",
		}),
		SegmentsFinalized: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "segments_finalized_total",
			Help:      "Total number of segments finalized into a container",
		}),
		SegmentsDiscarded: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "segments_discarded_total",
			Help:      "Total number of segments dropped before finalize completed",
		}),
		FramesForwarded: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_forwarded_total",
			Help:      "Total audio frames forwarded to the realtime backend",
		}),
		AudioBytesIn: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audio_bytes_captured_total",
			Help:      "Total audio bytes captured from the device",
		}),
		AudioBytesOut: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audio_bytes_played_total",
			Help:      "Total synthesized audio bytes queued for playback",
		}),
		Interrupts: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "playback_interrupts_total",
			Help:      "Total playback interruptions paired with a cancel",
		}),
		EventsReceived: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "realtime_events_total",
			Help:      "Total raw realtime events by source",
		}, []string{"source"}),
		Submissions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "backend_submissions_total",
			Help:      "Total backend REST submissions by endpoint",
		}, []string{"endpoint"}),
		SubmissionErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "backend_submission_errors_total",
			Help:      "Total backend REST submission failures by endpoint",
		}, []string{"endpoint"}),
	}
}

// RecordSessionStart records a session connecting.
func (m *Metrics) RecordSessionStart() {
	m.SessionsConnected.Inc()
	m.SessionsActive.Inc()
}

// RecordSessionEnd records a session ending.
func (m *Metrics) RecordSessionEnd(elapsed time.Duration) {
	m.SessionsActive.Dec()
	m.SessionDuration.Observe(elapsed.Seconds())
}

// Serve exposes /metrics on addr until the process exits. Best effort: a
// bind failure is logged, never fatal.
func Serve(addr string, log zerolog.Logger) {
	if addr == "" {
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	go func() {
		if err := http.ListenAndServe(addr, mux); err != nil {
			log.Warn().Err(err).Str("addr", addr).Msg("metrics listener stopped")
		}
	}()
}
