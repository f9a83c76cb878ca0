package channel

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics tracks handshake outcomes and the data phase of secure channels.
type Metrics struct {
	handshakes     *prometheus.CounterVec
	activeSessions prometheus.Gauge
	dataMessages   *prometheus.CounterVec
	closures       *prometheus.CounterVec
}

// Handshake result labels.
const (
	resultEstablished = "established"
	resultFailed      = "failed"
)

// Data direction labels.
const (
	directionEncrypt = "encrypt"
	directionDecrypt = "decrypt"
)

// Session closure reason labels.
const (
	reasonReplay        = "replay_or_out_of_order"
	reasonNonceOverflow = "nonce_overflow"
	reasonDecryptFailed = "decrypt_failed"
	reasonLocalClose    = "local_close"
)

// NewMetrics registers secure-channel metrics with the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	m := &Metrics{
		handshakes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ockam_channel_handshakes_total",
			Help: "Completed handshake attempts grouped by result.",
		}, []string{"result"}),
		activeSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ockam_channel_sessions_active",
			Help: "Secure-channel sessions currently in the data phase.",
		}),
		dataMessages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ockam_channel_data_messages_total",
			Help: "Data frames processed grouped by direction.",
		}, []string{"direction"}),
		closures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ockam_channel_session_closures_total",
			Help: "Session closures grouped by reason.",
		}, []string{"reason"}),
	}

	reg.MustRegister(m.handshakes, m.activeSessions, m.dataMessages, m.closures)
	return m
}

func (m *Metrics) recordHandshake(result string) {
	if m == nil {
		return
	}
	m.handshakes.WithLabelValues(result).Inc()
}

func (m *Metrics) sessionOpened() {
	if m == nil {
		return
	}
	m.activeSessions.Inc()
}

func (m *Metrics) sessionClosed(reason string) {
	if m == nil {
		return
	}
	m.activeSessions.Dec()
	m.closures.WithLabelValues(reason).Inc()
}

func (m *Metrics) recordData(direction string) {
	if m == nil {
		return
	}
	m.dataMessages.WithLabelValues(direction).Inc()
}
