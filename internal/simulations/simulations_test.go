package simulations

import (
	"context"
	"testing"

	sdkmath "cosmossdk.io/math"
	"github.com/stretchr/testify/require"

	"github.com/elys-network/cdpvault/internal/tax"
	"github.com/elys-network/cdpvault/internal/types"
)

func taxedMarket(t *testing.T) *Market {
	t.Helper()
	terms, err := tax.NewTerms(sdkmath.LegacyMustNewDecFromStr("0.01"), sdkmath.NewInt(5))
	require.NoError(t, err)

	p := DefaultParams()
	p.Stable = sdkmath.NewInt(1_000)
	p.Receipt = sdkmath.NewInt(100)
	p.Loan = sdkmath.NewInt(200)
	p.Locked = sdkmath.NewInt(1_000)
	p.Tax = terms
	return NewMarket(p, nil)
}

func requireInt(t *testing.T, want int64, got sdkmath.Int) {
	t.Helper()
	require.Truef(t, got.Equal(sdkmath.NewInt(want)), "want %d, got %s", want, got)
}

func TestStableTransfersAreTaxed(t *testing.T) {
	m := taxedMarket(t)
	ctx := context.Background()

	// Repaying 100 costs the gross amount: 100 / 0.99 rounded up.
	require.NoError(t, m.Repay(ctx, sdkmath.NewInt(100)))
	requireInt(t, 898, m.Snapshot().Stable)
	requireInt(t, 100, m.Snapshot().Loan)

	// Borrowed stable arrives net of tax.
	require.NoError(t, m.Borrow(ctx, sdkmath.NewInt(100)))
	requireInt(t, 997, m.Snapshot().Stable)
	requireInt(t, 200, m.Snapshot().Loan)

	require.NoError(t, m.RedeemReceipt(ctx, sdkmath.NewInt(50)))
	requireInt(t, 1_046, m.Snapshot().Stable)
	requireInt(t, 50, m.Snapshot().Receipt)
}

func TestRedemptionRefusalsAreTemporary(t *testing.T) {
	m := taxedMarket(t)
	ctx := context.Background()
	m.FailRedemptions(1)

	err := m.RedeemReceipt(ctx, sdkmath.NewInt(10))
	require.ErrorIs(t, err, types.ErrExternalTemporary)
	require.NoError(t, m.RedeemReceipt(ctx, sdkmath.NewInt(10)))

	m.SetLiquidity(sdkmath.NewInt(5))
	err = m.RedeemReceipt(ctx, sdkmath.NewInt(10))
	require.ErrorIs(t, err, types.ErrExternalTemporary)
	require.Contains(t, err.Error(), "Not enough liquidity")
}

func TestCollateralLTVIsEnforced(t *testing.T) {
	m := taxedMarket(t)
	ctx := context.Background()

	require.ErrorIs(t, m.Borrow(ctx, sdkmath.NewInt(400)), ErrLTVExceeded)
	require.ErrorIs(t, m.UnlockCollateral(ctx, sdkmath.NewInt(601)), ErrLTVExceeded)
	require.NoError(t, m.UnlockCollateral(ctx, sdkmath.NewInt(600)))
	requireInt(t, 400, m.Snapshot().Locked)
	requireInt(t, 600, m.Snapshot().Idle)
}

func TestFailNextFiresOnce(t *testing.T) {
	m := taxedMarket(t)
	ctx := context.Background()
	m.FailNext(types.CallDepositStable, nil)

	require.ErrorIs(t, m.DepositStable(ctx, sdkmath.NewInt(10)), ErrInjected)
	require.NoError(t, m.DepositStable(ctx, sdkmath.NewInt(10)))
	requireInt(t, 110, m.Snapshot().Receipt)
}

func TestSharesAndCollateralTransfers(t *testing.T) {
	m := NewMarket(DefaultParams(), nil)
	ctx := context.Background()
	m.ReceiveCollateral("elys1alice", sdkmath.NewInt(500))

	received, err := m.CollateralReceivedFrom(ctx, "elys1alice")
	require.NoError(t, err)
	requireInt(t, 500, received)
	received, err = m.CollateralReceivedFrom(ctx, "elys1bob")
	require.NoError(t, err)
	requireInt(t, 0, received)

	require.NoError(t, m.Mint(ctx, "elys1alice", sdkmath.NewInt(500)))
	requireInt(t, 500, m.SharesOf("elys1alice"))
	require.Error(t, m.Burn(ctx, "elys1bob", sdkmath.NewInt(1)))

	require.NoError(t, m.SendCollateral(ctx, "elys1alice", sdkmath.NewInt(200)))
	requireInt(t, 200, m.CollateralSentTo("elys1alice"))
	requireInt(t, 300, m.Snapshot().Idle)
	require.ErrorIs(t, m.SendCollateral(ctx, "elys1alice", sdkmath.NewInt(301)), ErrInsufficientFunds)
}
