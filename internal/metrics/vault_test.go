package metrics

import (
	"errors"
	"testing"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestVaultMetricsRecordsTriggers(t *testing.T) {
	m := Vault()
	require.Same(t, m, Vault())

	before := testutil.ToFloat64(m.triggers.WithLabelValues("rebalance", "error"))
	m.ObserveTrigger("rebalance", errors.New("boom"), time.Second)
	require.Equal(t, before+1, testutil.ToFloat64(m.triggers.WithLabelValues("rebalance", "error")))

	m.SetPosition(sdkmath.NewInt(57_750_000_000), 6, sdkmath.NewInt(210_000_000_000), 6)
	require.InDelta(t, 57_750.0, testutil.ToFloat64(m.loan), 1e-9)
	require.InDelta(t, 210_000.0, testutil.ToFloat64(m.lockedColl), 1e-9)
}

func TestNilVaultMetricsIsSafe(t *testing.T) {
	var m *VaultMetrics
	require.NotPanics(t, func() {
		m.ObserveTrigger("harvest", nil, time.Millisecond)
		m.ObserveBorrowerAction("borrow")
		m.ObserveSaga(3, true)
		m.ObserveSagaFailure()
		m.ObserveExternalCall("repay", nil)
		m.ObserveCompensation("repay", nil)
		m.SetPosition(sdkmath.OneInt(), 6, sdkmath.OneInt(), 6)
	})
}
