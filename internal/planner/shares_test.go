package planner

import (
	"testing"

	sdkmath "cosmossdk.io/math"
	"github.com/elys-network/cdpvault/internal/types"
	"github.com/stretchr/testify/require"
)

func TestSharesToMint(t *testing.T) {
	minted, err := SharesToMint(ints(100), sdkmath.ZeroInt(), sdkmath.ZeroInt())
	require.NoError(t, err)
	requireIntEqual(t, ints(100), minted)

	minted, err = SharesToMint(ints(100), ints(1_000), ints(500))
	require.NoError(t, err)
	requireIntEqual(t, ints(50), minted)
}

func TestSharesToMintRefusesFrozenState(t *testing.T) {
	_, err := SharesToMint(ints(100), sdkmath.ZeroInt(), ints(10))
	require.ErrorIs(t, err, types.ErrStateFrozen)

	_, err = SharesToMint(ints(100), ints(10), sdkmath.ZeroInt())
	require.ErrorIs(t, err, types.ErrStateFrozen)

	_, err = SharesToMint(ints(1), ints(1_000), ints(10))
	require.ErrorIs(t, err, types.ErrStateFrozen)

	_, err = SharesToMint(sdkmath.ZeroInt(), ints(1_000), ints(10))
	require.ErrorIs(t, err, types.ErrInvalidAmount)
}

func TestCollateralForShares(t *testing.T) {
	amount, err := CollateralForShares(ints(50), ints(1_000), ints(500))
	require.NoError(t, err)
	requireIntEqual(t, ints(100), amount)

	_, err = CollateralForShares(ints(501), ints(1_000), ints(500))
	require.ErrorIs(t, err, types.ErrInvalidAmount)

	_, err = CollateralForShares(ints(10), sdkmath.ZeroInt(), ints(500))
	require.ErrorIs(t, err, types.ErrStateFrozen)
}

func TestLoanShareRoundsUp(t *testing.T) {
	requireIntEqual(t, ints(334), LoanShare(ints(1_001), ints(1), ints(3)))
	requireIntEqual(t, ints(1_001), LoanShare(ints(1_001), ints(3), ints(3)))
	requireIntEqual(t, sdkmath.ZeroInt(), LoanShare(sdkmath.ZeroInt(), ints(1), ints(3)))
}
