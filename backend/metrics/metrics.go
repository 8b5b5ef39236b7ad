package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "relay"

// Occupancy reports live rooms and registered connections.
type Occupancy interface {
	Occupancy() (rooms int, connections int)
}

// Metrics holds relay collectors. A nil *Metrics records nothing.
type Metrics struct {
	sessions          prometheus.Counter
	framesRelayed     prometheus.Counter
	handshakeFailures *prometheus.CounterVec
	gatherer          prometheus.Gatherer
}

// New registers relay collectors in a fresh registry. Room and connection
// gauges are read from occ at scrape time.
func New(occ Occupancy) *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		sessions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_total",
			Help:      "WebSocket sessions accepted.",
		}),
		framesRelayed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_relayed_total",
			Help:      "Inbound frames fanned out to a room.",
		}),
		handshakeFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "handshake_failures_total",
			Help:      "Connections closed during the room handshake, by close reason.",
		}, []string{"reason"}),
		gatherer: reg,
	}
	reg.MustRegister(
		m.sessions,
		m.framesRelayed,
		m.handshakeFailures,
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "rooms_active",
			Help:      "Rooms with at least one member.",
		}, func() float64 {
			rooms, _ := occ.Occupancy()
			return float64(rooms)
		}),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connections_active",
			Help:      "Connections registered in a room.",
		}, func() float64 {
			_, conns := occ.Occupancy()
			return float64(conns)
		}),
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler exposes the collectors in Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

func (m *Metrics) SessionStarted() {
	if m == nil {
		return
	}
	m.sessions.Inc()
}

func (m *Metrics) FrameRelayed() {
	if m == nil {
		return
	}
	m.framesRelayed.Inc()
}

func (m *Metrics) HandshakeFailed(reason string) {
	if m == nil {
		return
	}
	m.handshakeFailures.WithLabelValues(reason).Inc()
}
