// Package metrics holds the Prometheus instruments of an RTPS participant.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "rtpstalk"

type Metrics struct {
	datagramsReceived  prometheus.Counter
	datagramsDropped   *prometheus.CounterVec
	submessagesSkipped prometheus.Counter
	submessagesSent    *prometheus.CounterVec
	retransmissions    prometheus.Counter
	lostChanges        prometheus.Counter
	participants       prometheus.Gauge
	matchedEndpoints   *prometheus.GaugeVec
	callbacksDropped   prometheus.Counter
}

// New creates the instruments and registers them with reg when it is
// not nil.
func New(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		datagramsReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "datagrams_received_total",
			Help:      "RTPS datagrams received",
		}),
		datagramsDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "datagrams_dropped_total",
			Help:      "RTPS datagrams dropped before dispatch",
		}, []string{"reason"}),
		submessagesSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "submessages_skipped_total",
			Help:      "Submessages of unknown or unsupported kinds",
		}),
		submessagesSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "submessages_sent_total",
			Help:      "Submessages sent by kind",
		}, []string{"kind"}),
		retransmissions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retransmissions_total",
			Help:      "Changes re-sent in response to AckNack",
		}),
		lostChanges: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "lost_changes_total",
			Help:      "Missing changes no longer available from their writer",
		}),
		participants: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "participants",
			Help:      "Remote participants currently discovered",
		}),
		matchedEndpoints: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "matched_endpoints",
			Help:      "Remote endpoints matched with local ones",
		}, []string{"role"}),
		callbacksDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "callbacks_dropped_total",
			Help:      "Subscriber deliveries dropped by backpressure",
		}),
	}

	if reg != nil {
		for _, c := range m.collectors() {
			if err := reg.Register(c); err != nil {
				return nil, err
			}
		}
	}
	return m, nil
}

func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.datagramsReceived, m.datagramsDropped, m.submessagesSkipped,
		m.submessagesSent, m.retransmissions, m.lostChanges,
		m.participants, m.matchedEndpoints, m.callbacksDropped,
	}
}

// Unregister removes the instruments from reg.
func (m *Metrics) Unregister(reg prometheus.Registerer) {
	if m == nil || reg == nil {
		return
	}
	for _, c := range m.collectors() {
		reg.Unregister(c)
	}
}

func (m *Metrics) DatagramReceived() {
	if m != nil {
		m.datagramsReceived.Inc()
	}
}

func (m *Metrics) DatagramDropped(reason string) {
	if m != nil {
		m.datagramsDropped.WithLabelValues(reason).Inc()
	}
}

func (m *Metrics) SubmessagesSkipped(n int) {
	if m != nil && n > 0 {
		m.submessagesSkipped.Add(float64(n))
	}
}

func (m *Metrics) SubmessageSent(kind string) {
	if m != nil {
		m.submessagesSent.WithLabelValues(kind).Inc()
	}
}

func (m *Metrics) Retransmitted(n int) {
	if m != nil && n > 0 {
		m.retransmissions.Add(float64(n))
	}
}

func (m *Metrics) ChangesLost(n int) {
	if m != nil && n > 0 {
		m.lostChanges.Add(float64(n))
	}
}

func (m *Metrics) ParticipantAdded() {
	if m != nil {
		m.participants.Inc()
	}
}

func (m *Metrics) ParticipantRemoved() {
	if m != nil {
		m.participants.Dec()
	}
}

func (m *Metrics) EndpointMatched(role string, delta int) {
	if m != nil {
		m.matchedEndpoints.WithLabelValues(role).Add(float64(delta))
	}
}

func (m *Metrics) CallbackDropped() {
	if m != nil {
		m.callbacksDropped.Inc()
	}
}
