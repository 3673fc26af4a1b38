// Package metrics holds the relay's Prometheus collectors.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	dto "github.com/prometheus/client_model/go"
)

// Event names recorded under aero_webrtc_signaling_relay_events_total.
const (
	NamespaceCreated             = "namespace_created"
	PeerEntered                  = "peer_entered"
	PeerLeft                     = "peer_left"
	EnvelopeRelayed              = "envelope_relayed"
	EnvelopeBroadcast            = "envelope_broadcast"
	EnvelopeSuppressed           = "envelope_suppressed"
	EnvelopeDroppedUnknownTarget = "envelope_dropped_unknown_target"
	EnvelopeDelivered            = "envelope_delivered"
	MessageMalformed             = "message_malformed"
	RateLimited                  = "rate_limited"
	SendDroppedBackpressure      = "send_dropped_backpressure"
	ObserverEventDropped         = "observer_event_dropped"
	ObserverPanicked             = "observer_panicked"
	WebSocketRejectedOrigin      = "ws_rejected_origin"
	WebSocketRejectedNamespace   = "ws_rejected_namespace"
)

const namespace = "aero_webrtc_signaling_relay"

// Metrics owns a private registry so independent relays (and tests) never
// share counters.
type Metrics struct {
	registry *prometheus.Registry

	events       *prometheus.CounterVec
	namespaces   prometheus.Gauge
	peers        prometheus.Gauge
	httpDuration *prometheus.HistogramVec
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		events: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "events_total",
				Help:      "Relay lifecycle and routing events.",
			},
			[]string{"event"},
		),
		namespaces: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "namespaces",
			Help:      "Namespaces currently known to the relay.",
		}),
		peers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "peers",
			Help:      "Peers currently connected across all namespaces.",
		}),
		httpDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "request_duration_seconds",
				Help:      "HTTP request duration in seconds.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "route", "status"},
		),
	}
	m.registry.MustRegister(
		m.events,
		m.namespaces,
		m.peers,
		m.httpDuration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *Metrics) Inc(event string) {
	m.events.WithLabelValues(event).Inc()
}

func (m *Metrics) Add(event string, n int) {
	if n > 0 {
		m.events.WithLabelValues(event).Add(float64(n))
	}
}

// Get returns the current value of an event counter.
func (m *Metrics) Get(event string) uint64 {
	var out dto.Metric
	if err := m.events.WithLabelValues(event).Write(&out); err != nil {
		return 0
	}
	return uint64(out.GetCounter().GetValue())
}

func (m *Metrics) NamespaceAdded() { m.namespaces.Inc() }

func (m *Metrics) PeerAdded() { m.peers.Inc() }

func (m *Metrics) PeerRemoved() { m.peers.Dec() }

// Peers returns the connected-peer gauge.
func (m *Metrics) Peers() int {
	var out dto.Metric
	if err := m.peers.Write(&out); err != nil {
		return 0
	}
	return int(out.GetGauge().GetValue())
}

func (m *Metrics) ObserveHTTPRequest(method, route string, status int, d time.Duration) {
	m.httpDuration.WithLabelValues(method, route, strconv.Itoa(status)).Observe(d.Seconds())
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
