package planner

import (
	"testing"

	sdkmath "cosmossdk.io/math"
	"github.com/stretchr/testify/require"
)

func profitInputs(t *testing.T) ProfitInputs {
	return ProfitInputs{
		BalanceBeforeHarvest: ints(100),
		Loan:                 ints(10_000),
		ReceiptBalance:       ints(9_000),
		ExchangeRate:         dec("1"),
		OverLoanBalanceValue: dec("1.01"),
		Tax:                  mustTerms(t, "0", 0),
	}
}

func TestPlanProfitSplitNoProfit(t *testing.T) {
	in := profitInputs(t)
	in.BalanceAfterHarvest = ints(100)
	require.True(t, PlanProfitSplit(in).IsEmpty())

	in.BalanceAfterHarvest = ints(50)
	require.True(t, PlanProfitSplit(in).IsEmpty())
}

func TestPlanProfitSplitAimMetBuysRewards(t *testing.T) {
	in := profitInputs(t)
	in.ExchangeRate = dec("1.2") // 10,800 + 100 over an aim of 10,100
	in.BalanceAfterHarvest = ints(600)

	split := PlanProfitSplit(in)
	requireIntEqual(t, sdkmath.ZeroInt(), split.Redeposit)
	requireIntEqual(t, ints(500), split.BuyReward)
}

func TestPlanProfitSplitGapTakesAllProfit(t *testing.T) {
	in := profitInputs(t)
	in.BalanceAfterHarvest = ints(600) // gap of 1,000, profit 500

	split := PlanProfitSplit(in)
	requireIntEqual(t, ints(500), split.Redeposit)
	requireIntEqual(t, sdkmath.ZeroInt(), split.BuyReward)
}

func TestPlanProfitSplitClosesGapThenBuys(t *testing.T) {
	in := profitInputs(t)
	in.BalanceAfterHarvest = ints(1_600)
	in.Tax = mustTerms(t, "0.01", 1_000)

	split := PlanProfitSplit(in)
	requireIntEqual(t, ints(990), split.Redeposit)
	requireIntEqual(t, ints(495), split.BuyReward)
}
