// Package metrics holds the prometheus collectors of a streaming session.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Transport failure kinds.
const (
	FailureOpen       = "open"
	FailureWrite      = "write"
	FailureAck        = "ack"
	FailureAckTimeout = "ack_timeout"
)

// Session collectors. Create one set per registry with NewSession.
type Session struct {
	// Frames

	FramesRendered prometheus.Counter
	FramesSent     prometheus.Counter
	FramesSkipped  prometheus.Counter
	FrameRender    prometheus.Histogram

	// Transport

	TransportFailures *prometheus.CounterVec
	AckWait           prometheus.Histogram

	// State

	Token       prometheus.Gauge
	PreviewOnly prometheus.Gauge
}

// NewSession creates the collectors and registers them with reg. A nil reg
// leaves them unregistered.
func NewSession(reg prometheus.Registerer) *Session {
	f := promauto.With(reg)
	return &Session{
		FramesRendered: f.NewCounter(
			prometheus.CounterOpts{
				Name: "monostream_frames_rendered_total",
				Help: "Total number of frames dithered and packed",
			},
		),

		FramesSent: f.NewCounter(
			prometheus.CounterOpts{
				Name: "monostream_frames_sent_total",
				Help: "Total number of frames acknowledged by the device",
			},
		),

		FramesSkipped: f.NewCounter(
			prometheus.CounterOpts{
				Name: "monostream_frames_skipped_total",
				Help: "Total number of source frames dropped to catch up",
			},
		),

		FrameRender: f.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "monostream_frame_render_seconds",
				Help:    "Time spent fitting, dithering and packing a frame",
				Buckets: []float64{.0005, .001, .0025, .005, .01, .025, .05, .1},
			},
		),

		TransportFailures: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "monostream_transport_failures_total",
				Help: "Total number of transport failures",
			},
			[]string{"kind"},
		),

		AckWait: f.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "monostream_ack_wait_seconds",
				Help:    "Time from frame write to device acknowledgment",
				Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
			},
		),

		Token: f.NewGauge(
			prometheus.GaugeOpts{
				Name: "monostream_session_token",
				Help: "Current session generation token",
			},
		),

		PreviewOnly: f.NewGauge(
			prometheus.GaugeOpts{
				Name: "monostream_preview_only",
				Help: "1 when the session runs without a transport",
			},
		),
	}
}

// SetPreviewOnly records whether frames are only rendered locally.
func (s *Session) SetPreviewOnly(on bool) {
	if on {
		s.PreviewOnly.Set(1)
		return
	}
	s.PreviewOnly.Set(0)
}
