/*

This file contains the LTV borrower-action planner. It is pure: every input is passed in
and the decision is returned without touching any collaborator.

*/

package planner

import (
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/elys-network/cdpvault/internal/logger"
	"github.com/elys-network/cdpvault/internal/types"
)

var plannerLogger = logger.GetForComponent("planner")

// LTVInputs is the position state the LTV planner decides on.
type LTVInputs struct {
	Loan             sdkmath.Int
	LockedCollateral sdkmath.Int
	IdleCollateral   sdkmath.Int
	Snapshot         types.LTVSnapshot
	CollateralMaxLTV sdkmath.LegacyDec
	BufferPart       sdkmath.LegacyDec
	Profitable       bool
}

// NewLTVSnapshot applies the price staleness rule to the policy band.
func NewLTVSnapshot(policy types.Policy, quote types.PriceQuote, now time.Time) types.LTVSnapshot {
	snapshot := types.LTVSnapshot{
		Price:  quote.Rate,
		LTVMax: policy.LTVMax,
		LTVMin: policy.LTVMin,
		LTVAim: policy.LTVAim,
	}
	if snapshot.Price.IsNil() {
		snapshot.Price = sdkmath.LegacyZeroDec()
	}
	if now.Sub(quote.LastUpdated) > policy.PriceTimeframe {
		half := sdkmath.LegacyNewDecWithPrec(5, 1)
		snapshot.LTVMax = snapshot.LTVMax.Mul(half)
		snapshot.LTVMin = snapshot.LTVMin.Mul(half)
		snapshot.LTVAim = snapshot.LTVAim.Mul(half)
		snapshot.Stale = true
		plannerLogger.Warn().
			Time("lastUpdated", quote.LastUpdated).
			Dur("timeframe", policy.PriceTimeframe).
			Msg("Collateral price is stale, halving LTV band")
	}
	return snapshot
}

// IsProfitable reports whether holding the leveraged position earns more than the loan costs.
func IsProfitable(rates types.MarketRates) bool {
	if rates.BorrowRate.IsNil() || rates.DepositRate.IsNil() {
		return false
	}
	earn := rates.DepositRate
	if !rates.DistributionAPR.IsNil() {
		earn = earn.Add(rates.DistributionAPR)
	}
	return earn.GTE(rates.BorrowRate)
}

// PlanBorrowerAction decides whether to borrow, repay, deposit idle collateral, unwind or do nothing.
func PlanBorrowerAction(in LTVInputs) types.BorrowerAction {
	loan := orZero(in.Loan)
	locked := orZero(in.LockedCollateral)
	idle := orZero(in.IdleCollateral)

	if locked.IsPositive() && !in.Profitable {
		return types.UnwindAllAction(loan)
	}

	if in.Profitable && idle.IsPositive() {
		next := in
		next.LockedCollateral = locked.Add(idle)
		next.IdleCollateral = sdkmath.ZeroInt()
		return types.DepositIdleCollateralAction(idle, PlanBorrowerAction(next))
	}

	price := in.Snapshot.Price
	if price.IsNil() || !price.IsPositive() || !locked.IsPositive() {
		return repayEverything(loan)
	}

	maxBorrow := sdkmath.LegacyNewDecFromInt(locked).Mul(price).Mul(in.CollateralMaxLTV).TruncateInt()
	if !maxBorrow.IsPositive() {
		return repayEverything(loan)
	}

	maxBorrowDec := sdkmath.LegacyNewDecFromInt(maxBorrow)
	currentLTV := sdkmath.LegacyNewDecFromInt(loan).Quo(maxBorrowDec)
	buffer := maxBorrowDec.Mul(in.BufferPart).TruncateInt()
	aimBorrow := maxBorrowDec.Mul(in.Snapshot.LTVAim).TruncateInt()

	plannerLogger.Debug().
		Str("maxBorrow", maxBorrow.String()).
		Str("currentLTV", currentLTV.String()).
		Str("aimBorrow", aimBorrow.String()).
		Str("buffer", buffer.String()).
		Msg("Evaluated LTV band")

	if currentLTV.GTE(in.Snapshot.LTVMax) {
		return types.RepayAction(loan.Sub(aimBorrow), buffer)
	}
	if currentLTV.LTE(in.Snapshot.LTVMin) && !aimBorrow.IsZero() && aimBorrow.GT(loan) {
		return types.BorrowAction(aimBorrow.Sub(loan), buffer)
	}
	return types.NothingAction()
}

// repayEverything is the answer when collateral cannot back any loan.
func repayEverything(loan sdkmath.Int) types.BorrowerAction {
	if loan.IsPositive() {
		return types.RepayAction(loan, sdkmath.ZeroInt())
	}
	return types.NothingAction()
}

func orZero(i sdkmath.Int) sdkmath.Int {
	if i.IsNil() {
		return sdkmath.ZeroInt()
	}
	return i
}
