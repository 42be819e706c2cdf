package internal

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := NewMetrics(reg)
	require.NoError(t, err)

	m.IncSent(transportAcceptor)
	m.IncSent(transportAcceptor)
	m.IncReceived(transportDialer)
	m.IncDecodeError(transportDatagram)
	m.AddConnections(2)
	m.AddConnections(-1)
	m.ObserveResults(Results{
		{Addr: "10.0.0.2"},
		{Addr: "10.0.0.3", Err: errors.New("unreachable")},
	})

	assert.Equal(t, 2.0, testutil.ToFloat64(m.framesSent.WithLabelValues(transportAcceptor)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.framesReceived.WithLabelValues(transportDialer)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.decodeErrors.WithLabelValues(transportDatagram)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.connections))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.datagramResults.WithLabelValues("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.datagramResults.WithLabelValues("failed")))
}

func TestMetrics_RegisterTwice(t *testing.T) {
	reg := prometheus.NewRegistry()
	_, err := NewMetrics(reg)
	require.NoError(t, err)

	_, err = NewMetrics(reg)
	assert.Error(t, err)
}

func TestMetrics_Nil(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.IncSent(transportAcceptor)
		m.AddConnections(1)
		m.ObserveResults(Results{{Addr: "10.0.0.2"}})
	})
}
