package fdc3

import "github.com/prometheus/client_golang/prometheus"

// Metrics bundles the Prometheus collectors RootAgent reports against,
// grounded on the pack's maestro-style metrics wiring (pack repo
// SnapdragonPartners-maestro). Callers construct one with NewMetrics,
// which registers every collector with the prometheus.Registerer passed
// in; pass the same Registry to NewServer so /metrics reports them.
type Metrics struct {
	ConnectedProxies prometheus.Gauge
	HandshakesTotal  *prometheus.CounterVec
	BroadcastsTotal  prometheus.Counter
	IntentsRaised    prometheus.Counter
	HandshakeLatency prometheus.Histogram
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ConnectedProxies: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "fdc3",
			Name:      "connected_proxies",
			Help:      "Number of proxies currently validated and routable.",
		}),
		HandshakesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "fdc3",
			Name:      "handshakes_total",
			Help:      "WCP handshakes, partitioned by outcome.",
		}, []string{"outcome"}),
		BroadcastsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "fdc3",
			Name:      "broadcasts_total",
			Help:      "Context broadcasts accepted (post-validation).",
		}),
		IntentsRaised: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "fdc3",
			Name:      "intents_raised_total",
			Help:      "raiseIntentRequests accepted.",
		}),
		HandshakeLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "fdc3",
			Name:      "handshake_latency_seconds",
			Help:      "Time from WCP1Hello to WCP5ValidateAppIdentityResponse.",
			Buckets:   prometheus.DefBuckets,
		}),
	}
	reg.MustRegister(m.ConnectedProxies, m.HandshakesTotal, m.BroadcastsTotal, m.IntentsRaised, m.HandshakeLatency)
	return m
}

func (m *Metrics) recordHandshake(outcome string) {
	if m == nil {
		return
	}
	m.HandshakesTotal.WithLabelValues(outcome).Inc()
}

func (m *Metrics) proxyConnected() {
	if m == nil {
		return
	}
	m.ConnectedProxies.Inc()
}

func (m *Metrics) proxyDisconnected() {
	if m == nil {
		return
	}
	m.ConnectedProxies.Dec()
}

func (m *Metrics) broadcastAccepted() {
	if m == nil {
		return
	}
	m.BroadcastsTotal.Inc()
}

func (m *Metrics) intentRaised() {
	if m == nil {
		return
	}
	m.IntentsRaised.Inc()
}
