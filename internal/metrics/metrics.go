// Package metrics exposes prometheus collectors for sessions, admission,
// authentication and transfers. A nil *Metrics is valid and records nothing.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "peerlink"

type Metrics struct {
	sessionsActive    prometheus.Gauge
	sessionsClosed    *prometheus.CounterVec
	admissionRejected *prometheus.CounterVec
	auth              *prometheus.CounterVec
	transferBytes     *prometheus.CounterVec
	transfers         *prometheus.CounterVec
	unhandled         prometheus.Counter
}

// New builds the collectors and registers them with reg when it is non-nil.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		sessionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_active",
			Help:      "Peer sessions currently held by the connector.",
		}),
		sessionsClosed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_closed_total",
			Help:      "Peer sessions torn down, by final state.",
		}, []string{"reason"}),
		admissionRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "admission_rejected_total",
			Help:      "Connection candidates refused by admission control.",
		}, []string{"reason"}),
		auth: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "auth_total",
			Help:      "Challenge/response outcomes.",
		}, []string{"result"}),
		transferBytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transfer_bytes_total",
			Help:      "File payload bytes moved, by direction.",
		}, []string{"direction"}),
		transfers: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transfers_total",
			Help:      "File transfers finished, by result.",
		}, []string{"result"}),
		unhandled: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "envelopes_unhandled_total",
			Help:      "Inbound events no middleware consumed.",
		}),
	}

	if reg != nil {
		reg.MustRegister(
			m.sessionsActive,
			m.sessionsClosed,
			m.admissionRejected,
			m.auth,
			m.transferBytes,
			m.transfers,
			m.unhandled,
		)
	}
	return m
}

func (m *Metrics) SessionOpened() {
	if m == nil {
		return
	}
	m.sessionsActive.Inc()
}

func (m *Metrics) SessionClosed(reason string) {
	if m == nil {
		return
	}
	m.sessionsActive.Dec()
	m.sessionsClosed.WithLabelValues(reason).Inc()
}

func (m *Metrics) AdmissionRejected(reason string) {
	if m == nil {
		return
	}
	m.admissionRejected.WithLabelValues(reason).Inc()
}

func (m *Metrics) Auth(result string) {
	if m == nil {
		return
	}
	m.auth.WithLabelValues(result).Inc()
}

func (m *Metrics) TransferBytes(direction string, n int) {
	if m == nil {
		return
	}
	m.transferBytes.WithLabelValues(direction).Add(float64(n))
}

func (m *Metrics) Transfer(result string) {
	if m == nil {
		return
	}
	m.transfers.WithLabelValues(result).Inc()
}

func (m *Metrics) EnvelopeUnhandled() {
	if m == nil {
		return
	}
	m.unhandled.Inc()
}
