package planner

import (
	sdkmath "cosmossdk.io/math"
	"github.com/elys-network/cdpvault/internal/tax"
)

// ProfitInputs describes the vault around a harvest.
// Balances before the harvest are taken when the trigger starts.
type ProfitInputs struct {
	BalanceBeforeHarvest sdkmath.Int
	BalanceAfterHarvest  sdkmath.Int
	Loan                 sdkmath.Int
	ReceiptBalance       sdkmath.Int // receipt held before the harvest
	ExchangeRate         sdkmath.LegacyDec
	OverLoanBalanceValue sdkmath.LegacyDec
	Tax                  tax.Terms
}

// ProfitSplit holds the taxed amounts to send on each leg.
type ProfitSplit struct {
	Redeposit sdkmath.Int `json:"redeposit"`
	BuyReward sdkmath.Int `json:"buy_reward"`
}

func (s ProfitSplit) IsEmpty() bool {
	return !s.Redeposit.IsPositive() && !s.BuyReward.IsPositive()
}

// PlanProfitSplit divides harvested profit between topping up the deposit and buying the reward
// token. The deposit target is loan × over_loan_balance_value measured on the pre-harvest balance.
func PlanProfitSplit(in ProfitInputs) ProfitSplit {
	split := ProfitSplit{Redeposit: sdkmath.ZeroInt(), BuyReward: sdkmath.ZeroInt()}

	before := orZero(in.BalanceBeforeHarvest)
	after := orZero(in.BalanceAfterHarvest)
	if after.LTE(before) {
		return split
	}
	profit := after.Sub(before)

	aim := sdkmath.LegacyNewDecFromInt(orZero(in.Loan)).Mul(in.OverLoanBalanceValue).TruncateInt()
	effective := sdkmath.LegacyNewDecFromInt(orZero(in.ReceiptBalance)).Mul(in.ExchangeRate).TruncateInt().Add(before)

	switch {
	case effective.GTE(aim):
		split.BuyReward = in.Tax.NetInt(profit)
	case profit.LTE(aim.Sub(effective)):
		split.Redeposit = in.Tax.NetInt(profit)
	default:
		gap := aim.Sub(effective)
		split.Redeposit = in.Tax.NetInt(gap)
		split.BuyReward = in.Tax.NetInt(profit.Sub(gap))
	}

	plannerLogger.Debug().
		Str("profit", profit.String()).
		Str("aimBalance", aim.String()).
		Str("effectiveBalance", effective.String()).
		Str("redeposit", split.Redeposit.String()).
		Str("buyReward", split.BuyReward.String()).
		Msg("Planned profit split")
	return split
}
