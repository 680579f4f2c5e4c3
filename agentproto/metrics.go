package agentproto

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds the Prometheus instrumentation for a connection's
// lifetime: handshakes, records, streams, and pending requests. A nil
// *Metrics is valid everywhere it's accepted — every method is nil-safe —
// so the core protocol has no required metrics dependency.
type Metrics struct {
	ConnectionsAccepted prometheus.Counter
	HandshakesOK         prometheus.Counter
	HandshakesFailed      prometheus.Counter
	RecordsSent           prometheus.Counter
	RecordsReceived       prometheus.Counter
	StreamsActive         prometheus.Gauge
	RequestsPending       prometheus.Gauge
}

// NewMetrics registers a standard set of collectors with reg and returns
// the bundle. Pass a dedicated *prometheus.Registry (or
// prometheus.DefaultRegisterer) per process.
func NewMetrics(reg prometheus.Registerer, namespace string) *Metrics {
	m := &Metrics{
		ConnectionsAccepted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "connections_accepted_total",
			Help: "Total connections accepted by the responder.",
		}),
		HandshakesOK: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "handshakes_completed_total",
			Help: "Total handshakes that completed successfully.",
		}),
		HandshakesFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "handshakes_failed_total",
			Help: "Total handshakes that failed (IO, decode, or token mismatch).",
		}),
		RecordsSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "records_sent_total",
			Help: "Total encrypted records written to the wire.",
		}),
		RecordsReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "records_received_total",
			Help: "Total encrypted records read from the wire.",
		}),
		StreamsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "streams_active",
			Help: "Number of multiplexed streams currently open.",
		}),
		RequestsPending: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "requests_pending",
			Help: "Number of request-manager entries awaiting a final frame.",
		}),
	}
	if reg != nil {
		reg.MustRegister(
			m.ConnectionsAccepted, m.HandshakesOK, m.HandshakesFailed,
			m.RecordsSent, m.RecordsReceived, m.StreamsActive, m.RequestsPending,
		)
	}
	return m
}

func (m *Metrics) incConnectionsAccepted() {
	if m != nil && m.ConnectionsAccepted != nil {
		m.ConnectionsAccepted.Inc()
	}
}

func (m *Metrics) incHandshakesOK() {
	if m != nil && m.HandshakesOK != nil {
		m.HandshakesOK.Inc()
	}
}

func (m *Metrics) incHandshakesFailed() {
	if m != nil && m.HandshakesFailed != nil {
		m.HandshakesFailed.Inc()
	}
}

func (m *Metrics) incRecordsSent() {
	if m != nil && m.RecordsSent != nil {
		m.RecordsSent.Inc()
	}
}

func (m *Metrics) incRecordsReceived() {
	if m != nil && m.RecordsReceived != nil {
		m.RecordsReceived.Inc()
	}
}

func (m *Metrics) addStreamsActive(delta float64) {
	if m != nil && m.StreamsActive != nil {
		m.StreamsActive.Add(delta)
	}
}

func (m *Metrics) setRequestsPending(v float64) {
	if m != nil && m.RequestsPending != nil {
		m.RequestsPending.Set(v)
	}
}
