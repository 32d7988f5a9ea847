package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "arena"

// Metrics holds the service collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	matchmaking *prometheus.CounterVec
	connections *prometheus.CounterVec
	relayed     prometheus.Counter
	dropped     prometheus.Counter
	inbound     *prometheus.CounterVec
	timeouts    prometheus.Counter
	assetMarks  *prometheus.CounterVec
}

func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		matchmaking: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "matchmaking",
			Name:      "requests_total",
			Help:      "Matchmaking requests by operation and result code.",
		}, []string{"op", "result"}),
		connections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "relay",
			Name:      "attach_total",
			Help:      "Connection attach attempts by result code.",
		}, []string{"result"}),
		relayed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "relay",
			Name:      "deliveries_total",
			Help:      "Frames enqueued to peer outbound queues.",
		}),
		dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "relay",
			Name:      "dropped_deliveries_total",
			Help:      "Deliveries skipped because the peer queue was closed.",
		}),
		inbound: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "connection",
			Name:      "inbound_messages_total",
			Help:      "Inbound websocket messages by outcome.",
		}, []string{"outcome"}),
		timeouts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "matchmaking",
			Name:      "timeouts_total",
			Help:      "Waiting entries evicted by the matchmaking timeout.",
		}),
		assetMarks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "assets",
			Name:      "mark_in_use_total",
			Help:      "Asset store mark-in-use calls by result.",
		}, []string{"result"}),
	}
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.matchmaking, m.connections, m.relayed, m.dropped, m.inbound, m.timeouts, m.assetMarks,
	)
	return m
}

// Gauge registers a gauge evaluated at scrape time.
func (m *Metrics) Gauge(subsystem, name, help string, fn func() float64) {
	if m == nil {
		return
	}
	m.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      name,
		Help:      help,
	}, fn))
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

func (m *Metrics) Matchmaking(op, result string) {
	if m == nil {
		return
	}
	m.matchmaking.WithLabelValues(op, result).Inc()
}

func (m *Metrics) Attach(result string) {
	if m == nil {
		return
	}
	m.connections.WithLabelValues(result).Inc()
}

func (m *Metrics) Delivered(sent, dropped int) {
	if m == nil {
		return
	}
	m.relayed.Add(float64(sent))
	m.dropped.Add(float64(dropped))
}

func (m *Metrics) Inbound(outcome string) {
	if m == nil {
		return
	}
	m.inbound.WithLabelValues(outcome).Inc()
}

func (m *Metrics) Timeout() {
	if m == nil {
		return
	}
	m.timeouts.Inc()
}

func (m *Metrics) AssetMark(result string) {
	if m == nil {
		return
	}
	m.assetMarks.WithLabelValues(result).Inc()
}
