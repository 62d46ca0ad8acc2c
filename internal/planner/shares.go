package planner

import (
	"fmt"

	sdkmath "cosmossdk.io/math"
	"github.com/elys-network/cdpvault/internal/types"
)

// checkNotFrozen refuses share math when collateral and shares disagree about the vault being empty.
func checkNotFrozen(collateral, totalShares sdkmath.Int) error {
	if collateral.IsZero() != totalShares.IsZero() {
		return fmt.Errorf("%w: collateral %s, shares %s", types.ErrStateFrozen, collateral, totalShares)
	}
	return nil
}

// SharesToMint prices a deposit against the collateral held before it arrived.
func SharesToMint(deposit, collateralBefore, totalShares sdkmath.Int) (sdkmath.Int, error) {
	deposit, collateralBefore, totalShares = orZero(deposit), orZero(collateralBefore), orZero(totalShares)
	if !deposit.IsPositive() {
		return sdkmath.ZeroInt(), fmt.Errorf("%w: deposit %s", types.ErrInvalidAmount, deposit)
	}
	if err := checkNotFrozen(collateralBefore, totalShares); err != nil {
		return sdkmath.ZeroInt(), err
	}
	if totalShares.IsZero() {
		return deposit, nil
	}
	minted := deposit.Mul(totalShares).Quo(collateralBefore)
	if minted.IsZero() {
		return sdkmath.ZeroInt(), fmt.Errorf("%w: deposit %s mints no shares", types.ErrStateFrozen, deposit)
	}
	return minted, nil
}

// CollateralForShares is the collateral a burn of shares releases.
func CollateralForShares(shares, totalCollateral, totalShares sdkmath.Int) (sdkmath.Int, error) {
	shares, totalCollateral, totalShares = orZero(shares), orZero(totalCollateral), orZero(totalShares)
	if !shares.IsPositive() || shares.GT(totalShares) {
		return sdkmath.ZeroInt(), fmt.Errorf("%w: shares %s of %s", types.ErrInvalidAmount, shares, totalShares)
	}
	if err := checkNotFrozen(totalCollateral, totalShares); err != nil {
		return sdkmath.ZeroInt(), err
	}
	amount := shares.Mul(totalCollateral).Quo(totalShares)
	if amount.IsZero() {
		return sdkmath.ZeroInt(), fmt.Errorf("%w: shares %s release no collateral", types.ErrStateFrozen, shares)
	}
	return amount, nil
}

// LoanShare is the part of the loan attributable to shares, rounded up so the vault never under-repays.
func LoanShare(loan, shares, totalShares sdkmath.Int) sdkmath.Int {
	loan, shares, totalShares = orZero(loan), orZero(shares), orZero(totalShares)
	if totalShares.IsZero() || loan.IsZero() {
		return sdkmath.ZeroInt()
	}
	num := loan.Mul(shares)
	share := num.Quo(totalShares)
	if !num.Mod(totalShares).IsZero() {
		share = share.AddRaw(1)
	}
	return sdkmath.MinInt(share, loan)
}
