package hub

import (
	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "civic_chat"

// Metrics holds the hub's Prometheus collectors. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	active         prometheus.Gauge
	connections    *prometheus.CounterVec
	envelopes      *prometheus.CounterVec
	deliveries     prometheus.Counter
	dropped        *prometheus.CounterVec
	inboundDropped *prometheus.CounterVec
}

// NewMetrics creates the hub collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		active: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "active_connections",
			Help:      "Number of registered websocket connections",
		}),
		connections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "connections_total",
			Help:      "Websocket handshakes by result",
		}, []string{"result"}),
		envelopes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "envelopes_broadcast_total",
			Help:      "Envelopes fanned out by type",
		}, []string{"type"}),
		deliveries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "deliveries_total",
			Help:      "Envelopes queued to individual connections",
		}),
		dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "deliveries_dropped_total",
			Help:      "Envelopes not queued to a recipient, by reason",
		}, []string{"reason"}),
		inboundDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "inbound_dropped_total",
			Help:      "Inbound payloads discarded, by reason",
		}, []string{"reason"}),
	}

	reg.MustRegister(m.active, m.connections, m.envelopes, m.deliveries, m.dropped, m.inboundDropped)
	return m
}

func (m *Metrics) setActive(n int) {
	if m != nil {
		m.active.Set(float64(n))
	}
}

func (m *Metrics) connection(result string) {
	if m != nil {
		m.connections.WithLabelValues(result).Inc()
	}
}

func (m *Metrics) broadcast(envelopeType string, delivered int) {
	if m != nil {
		m.envelopes.WithLabelValues(envelopeType).Inc()
		m.deliveries.Add(float64(delivered))
	}
}

func (m *Metrics) drop(reason string) {
	if m != nil {
		m.dropped.WithLabelValues(reason).Inc()
	}
}

func (m *Metrics) dropInbound(reason string) {
	if m != nil {
		m.inboundDropped.WithLabelValues(reason).Inc()
	}
}
