/*

This file contains the tax-aware repay/sell planner. Given what is still owed and how much stable
should stay liquid, it picks the cheapest combination of redeeming yield receipt and repaying the
loan directly. Both legs are taxed: repaying pays tax on the outgoing transfer, redeeming pays tax
on the proceeds sent back by the lender.

*/

package planner

import (
	sdkmath "cosmossdk.io/math"
	"github.com/elys-network/cdpvault/internal/tax"
	"github.com/elys-network/cdpvault/internal/types"
)

// RepayInputs is the balance state the repay planner works from.
type RepayInputs struct {
	StableBalance    sdkmath.Int
	ReceiptBalance   sdkmath.Int
	ExchangeRate     sdkmath.LegacyDec // stable per receipt token
	RemainingToRepay sdkmath.Int
	TargetBuffer     sdkmath.Int
	Tax              tax.Terms
	IsFirstAttempt   bool
}

// PlanRepay decides how to raise and send stable for the next repayment step.
// The guard order matters: every step short-circuits a degenerate or zero result.
func PlanRepay(in RepayInputs) types.RepayPlan {
	stableInt := orZero(in.StableBalance)
	receiptInt := orZero(in.ReceiptBalance)
	if receiptInt.IsZero() || stableInt.IsZero() {
		return types.NothingPlan()
	}
	// Guards the Quo in receiptToSell; not a planning rule.
	if in.ExchangeRate.IsNil() || !in.ExchangeRate.IsPositive() {
		return types.NothingPlan()
	}

	stable := sdkmath.LegacyNewDecFromInt(stableInt)
	receipt := sdkmath.LegacyNewDecFromInt(receiptInt)
	remaining := sdkmath.LegacyNewDecFromInt(orZero(in.RemainingToRepay))
	buffer := sdkmath.LegacyNewDecFromInt(orZero(in.TargetBuffer))
	terms := in.Tax

	// Never propose repaying more than can be sent after tax.
	repayNow := sdkmath.MinInt(orZero(in.RemainingToRepay), terms.NetInt(stableInt))

	wantedWithoutTax := WantedStablecoins(stable, remaining, buffer)
	if wantedWithoutTax.IsZero() && repayNow.IsZero() {
		return types.NothingPlan()
	}

	wanted := WantedStablecoins(stable, terms.Gross(remaining), buffer)
	if wanted.IsZero() {
		return types.RepayLoanPlan(repayNow)
	}

	receiptValue := terms.Net(receipt.Mul(in.ExchangeRate))
	if receiptValue.IsZero() {
		return types.RepayLoanPlan(repayNow)
	}

	if in.IsFirstAttempt || repayNow.IsZero() {
		// The lender may still refuse the redemption, so nothing is committed to the repay leg yet.
		sell := receiptToSell(terms.Gross(wanted), receiptInt, in.ExchangeRate)
		if !proceedsPositive(sell, in.ExchangeRate, terms) {
			return types.NothingPlan()
		}
		return types.SellReceiptPlan(sell)
	}

	// A redemption already failed and repayNow is what the buffer stable can cover. The sale
	// is bounded by what that repayment consumes, not by the original target.
	repayNowDec := sdkmath.LegacyNewDecFromInt(repayNow)
	postRepayBalance := stable.Sub(terms.Gross(repayNowDec))
	if postRepayBalance.IsNegative() {
		postRepayBalance = sdkmath.LegacyZeroDec()
	}
	if postRepayBalance.GTE(buffer) {
		return types.RepayLoanPlan(repayNow)
	}

	needed := buffer.Sub(postRepayBalance).Add(terms.Gross(remaining.Sub(repayNowDec)))
	value := sdkmath.LegacyMinDec(terms.Net(repayNowDec), needed)
	sell := receiptToSell(terms.Gross(value), receiptInt, in.ExchangeRate)
	if !proceedsPositive(sell, in.ExchangeRate, terms) {
		return types.RepayLoanPlan(repayNow)
	}
	return types.RepayLoanAndSellReceiptPlan(repayNow, sell)
}

// WantedStablecoins is the stable shortfall for repaying repay while keeping buffer liquid.
func WantedStablecoins(balance, repay, buffer sdkmath.LegacyDec) sdkmath.LegacyDec {
	switch {
	case balance.GTE(repay.Add(buffer)):
		return sdkmath.LegacyZeroDec()
	case balance.GTE(buffer):
		return repay.Sub(balance.Sub(buffer))
	default:
		return repay.Add(buffer.Sub(balance))
	}
}

// receiptToSell converts a stable amount into receipt tokens, capped at the balance.
func receiptToSell(stableValue sdkmath.LegacyDec, balance sdkmath.Int, rate sdkmath.LegacyDec) sdkmath.Int {
	amount := stableValue.Quo(rate).TruncateInt()
	return sdkmath.MinInt(amount, balance)
}

func proceedsPositive(sell sdkmath.Int, rate sdkmath.LegacyDec, terms tax.Terms) bool {
	if !sell.IsPositive() {
		return false
	}
	return terms.Net(sdkmath.LegacyNewDecFromInt(sell).Mul(rate)).IsPositive()
}
