package metrics

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNopMetricsFieldsAreUsable(t *testing.T) {
	m := NopMetrics()
	require.NotPanics(t, func() {
		m.TipHeight.Set(1)
		m.BlocksProcessed.Add(1)
		m.SyncDuration.Observe(0.5)
		m.RPCRequestDuration.Observe(0.01)
	})
}

func TestPrometheusMetricsRegistersEveryField(t *testing.T) {
	m := PrometheusMetrics("consensuscore_test", "network_id", "testnet")
	require.NotNil(t, m.TipHeight)
	require.NotNil(t, m.FinalizedHeight)
	require.NotNil(t, m.BlocksProcessed)
	require.NotNil(t, m.CommitPoolSize)
	require.NotNil(t, m.SyncDuration)
	require.NotNil(t, m.RPCRequestDuration)
	require.NotNil(t, m.MaxHeightCertified)
	require.NotPanics(t, func() {
		m.TipHeight.Set(42)
		m.BlocksProcessed.Add(1)
	})
}
