package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Event outcomes recorded by the gateway
const (
	OutcomeOK        = "ok"
	OutcomeRejected  = "rejected"
	OutcomeMalformed = "malformed"
)

// Metrics groups all Prometheus instruments used by the service.
// Each instance owns its registry so several servers can live in one process.
type Metrics struct {
	registry *prometheus.Registry

	Connections       prometheus.Gauge
	HandshakeFailures *prometheus.CounterVec
	Events            *prometheus.CounterVec
	Broadcasts        *prometheus.CounterVec
	DroppedSends      prometheus.Counter
	RoomsOccupied     prometheus.Gauge
	DispatchLatency   prometheus.Histogram
}

func NewMetrics(namespace string) *Metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(registry)

	return &Metrics{
		registry: registry,
		Connections: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "socket_connections",
			Help:      "Authenticated socket connections currently open.",
		}),
		HandshakeFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "handshake_failures_total",
			Help:      "Rejected socket handshakes by reason.",
		}, []string{"reason"}),
		Events: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "socket_events_total",
			Help:      "Inbound socket events by name and outcome.",
		}, []string{"event", "outcome"}),
		Broadcasts: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "broadcast_frames_total",
			Help:      "Outbound frames enqueued to room members by event.",
		}, []string{"event"}),
		DroppedSends: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dropped_sends_total",
			Help:      "Frames dropped because the recipient queue was full or closed.",
		}),
		RoomsOccupied: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "rooms_occupied",
			Help:      "Rooms with at least one present connection.",
		}),
		DispatchLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "dispatch_seconds",
			Help:      "Time the dispatcher spends on a single event.",
			Buckets:   []float64{.0001, .0005, .001, .005, .01, .05, .1},
		}),
	}
}

// Registry exposes the underlying registry for tests and custom collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves this instance's metrics in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
