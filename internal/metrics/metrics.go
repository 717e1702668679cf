// Package metrics holds the relay's prometheus collectors.
// All methods are nil-safe so components can run without metrics in tests.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "callrelay"

// Upstream connect failure reasons.
const (
	ReasonTimeout = "timeout"
	ReasonDial    = "dial"
)

type Metrics struct {
	reg *prometheus.Registry

	Connections      prometheus.Gauge
	RoomsOpen        prometheus.Gauge
	UpstreamSessions prometheus.Gauge
	Offers           prometheus.Counter
	Candidates       *prometheus.CounterVec
	Transcripts      *prometheus.CounterVec
	UpstreamFailures *prometheus.CounterVec
	DroppedFrames    prometheus.Counter
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		reg: reg,
		Connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connections",
			Help:      "Authenticated client connections.",
		}),
		RoomsOpen: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "rooms_open",
			Help:      "Rooms created and not yet ended or swept.",
		}),
		UpstreamSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "upstream_sessions",
			Help:      "Live upstream transcription connections.",
		}),
		Offers: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "offers_total",
			Help:      "Offers submitted.",
		}),
		Candidates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ice_candidates_total",
			Help:      "ICE candidates by origin side and delivery.",
		}, []string{"side", "delivery"}),
		Transcripts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transcripts_total",
			Help:      "Completed transcript fragments by route.",
		}, []string{"route"}),
		UpstreamFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upstream_connect_failures_total",
			Help:      "Failed upstream connects by reason.",
		}, []string{"reason"}),
		DroppedFrames: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dropped_frames_total",
			Help:      "Outbound frames dropped on backpressure.",
		}),
	}
	reg.MustRegister(
		m.Connections,
		m.RoomsOpen,
		m.UpstreamSessions,
		m.Offers,
		m.Candidates,
		m.Transcripts,
		m.UpstreamFailures,
		m.DroppedFrames,
	)
	return m
}

// Handler serves the registry in the prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{Registry: m.reg})
}

func (m *Metrics) ConnectionOpened() {
	if m != nil {
		m.Connections.Inc()
	}
}

func (m *Metrics) ConnectionClosed() {
	if m != nil {
		m.Connections.Dec()
	}
}

func (m *Metrics) RoomOpened() {
	if m != nil {
		m.RoomsOpen.Inc()
	}
}

func (m *Metrics) RoomClosed() {
	if m != nil {
		m.RoomsOpen.Dec()
	}
}

func (m *Metrics) UpstreamOpened() {
	if m != nil {
		m.UpstreamSessions.Inc()
	}
}

func (m *Metrics) UpstreamClosed() {
	if m != nil {
		m.UpstreamSessions.Dec()
	}
}

func (m *Metrics) UpstreamFailed(reason string) {
	if m != nil {
		m.UpstreamFailures.WithLabelValues(reason).Inc()
	}
}

func (m *Metrics) OfferSubmitted() {
	if m != nil {
		m.Offers.Inc()
	}
}

// Candidate counts one ICE candidate; side is "offerer" or "answerer",
// delivery is "forwarded" or "buffered".
func (m *Metrics) Candidate(side, delivery string) {
	if m != nil {
		m.Candidates.WithLabelValues(side, delivery).Inc()
	}
}

func (m *Metrics) Transcript(route string) {
	if m != nil {
		m.Transcripts.WithLabelValues(route).Inc()
	}
}

func (m *Metrics) FrameDropped() {
	if m != nil {
		m.DroppedFrames.Inc()
	}
}
