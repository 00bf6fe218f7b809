package metrics_test

import (
	"testing"

	"github.com/pinorobotics/rtpstalk/rtps/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestNilMetricsIsNoop(t *testing.T) {
	var m *metrics.Metrics
	require.NotPanics(t, func() {
		m.DatagramReceived()
		m.DatagramDropped("malformed")
		m.ChangesLost(3)
		m.ParticipantAdded()
		m.Unregister(prometheus.NewRegistry())
	})
}

func TestRegisterAndCount(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := metrics.New(reg)
	require.NoError(t, err)

	m.DatagramReceived()
	m.DatagramReceived()
	m.ChangesLost(2)
	m.SubmessageSent("ACKNACK")

	count, err := testutil.GatherAndCount(reg, "rtpstalk_datagrams_received_total", "rtpstalk_lost_changes_total")
	require.NoError(t, err)
	require.Equal(t, 2, count)

	// Duplicate registration fails
	_, err = metrics.New(reg)
	require.Error(t, err)

	m.Unregister(reg)
	_, err = metrics.New(reg)
	require.NoError(t, err)
}
