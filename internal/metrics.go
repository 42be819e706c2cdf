package internal

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the collectors updated by the transports. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	framesSent      *prometheus.CounterVec
	framesReceived  *prometheus.CounterVec
	decodeErrors    *prometheus.CounterVec
	connections     prometheus.Gauge
	datagramResults *prometheus.CounterVec
}

// NewMetrics creates the transport collectors and registers them with reg.
// If reg is nil the collectors are created but not registered.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		framesSent: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "peerlink_frames_sent_total",
				Help: "Total frames written by transport",
			},
			[]string{"transport"}, // acceptor|dialer|datagram
		),
		framesReceived: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "peerlink_frames_received_total",
				Help: "Total frames decoded by transport",
			},
			[]string{"transport"},
		),
		decodeErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "peerlink_decode_errors_total",
				Help: "Total frames dropped due to protocol errors",
			},
			[]string{"transport"},
		),
		connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "peerlink_connections",
			Help: "Number of live stream connections",
		}),
		datagramResults: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "peerlink_datagram_results_total",
				Help: "Total datagram sends by outcome",
			},
			[]string{"outcome"}, // ok|failed
		),
	}
	if reg == nil {
		return m, nil
	}

	for _, c := range []prometheus.Collector{
		m.framesSent,
		m.framesReceived,
		m.decodeErrors,
		m.connections,
		m.datagramResults,
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) IncSent(transport string) {
	if m == nil {
		return
	}
	m.framesSent.WithLabelValues(transport).Inc()
}

func (m *Metrics) IncReceived(transport string) {
	if m == nil {
		return
	}
	m.framesReceived.WithLabelValues(transport).Inc()
}

func (m *Metrics) IncDecodeError(transport string) {
	if m == nil {
		return
	}
	m.decodeErrors.WithLabelValues(transport).Inc()
}

func (m *Metrics) AddConnections(delta float64) {
	if m == nil {
		return
	}
	m.connections.Add(delta)
}

func (m *Metrics) ObserveResults(results Results) {
	if m == nil {
		return
	}
	for _, r := range results {
		if r.OK() {
			m.datagramResults.WithLabelValues("ok").Inc()
		} else {
			m.datagramResults.WithLabelValues("failed").Inc()
		}
	}
}
