package server

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the server's Prometheus collectors. Each server instance
// carries its own registry so multiple servers can coexist in one process.
type Metrics struct {
	registry *prometheus.Registry

	activeSessions   prometheus.Gauge
	connections      prometheus.Counter
	disconnections   prometheus.Counter
	messagesReceived *prometheus.CounterVec
	messagesSent     *prometheus.CounterVec
	deliveryStates   *prometheus.CounterVec
	evictions        prometheus.Counter
}

// NewMetrics creates and registers the server's collectors.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		activeSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "chat_active_sessions",
			Help: "Number of authenticated sessions",
		}),
		connections: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chat_connections_total",
			Help: "Total accepted connections",
		}),
		disconnections: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chat_disconnections_total",
			Help: "Total closed connections",
		}),
		messagesReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chat_messages_received_total",
			Help: "Total envelopes received by kind",
		}, []string{"kind"}),
		messagesSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chat_messages_sent_total",
			Help: "Total envelopes sent by kind",
		}, []string{"kind"}),
		deliveryStates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chat_delivery_transitions_total",
			Help: "Total message delivery state transitions",
		}, []string{"state"}), // delivered|read
		evictions: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chat_session_evictions_total",
			Help: "Total sessions evicted by a duplicate login",
		}),
	}

	m.registry.MustRegister(
		m.activeSessions,
		m.connections,
		m.disconnections,
		m.messagesReceived,
		m.messagesSent,
		m.deliveryStates,
		m.evictions,
	)
	return m
}

// Handler returns the /metrics HTTP handler for this server's registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) RecordActiveSessions(count int) { m.activeSessions.Set(float64(count)) }
func (m *Metrics) RecordConnection()              { m.connections.Inc() }
func (m *Metrics) RecordDisconnection()           { m.disconnections.Inc() }
func (m *Metrics) RecordReceived(kind string)     { m.messagesReceived.WithLabelValues(kind).Inc() }
func (m *Metrics) RecordSent(kind string)         { m.messagesSent.WithLabelValues(kind).Inc() }
func (m *Metrics) RecordDelivery(state string)    { m.deliveryStates.WithLabelValues(state).Inc() }
func (m *Metrics) RecordEviction()                { m.evictions.Inc() }
