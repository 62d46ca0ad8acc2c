/*

This file contains the decisions produced by the LTV planner and the tax-aware repay planner.
They are computed per trigger and never persisted.

*/

package types

import (
	"fmt"

	sdkmath "cosmossdk.io/math"
)

// LTVSnapshot is the collateral price together with the effective LTV band.
// The band is halved when the price feed is stale.
type LTVSnapshot struct {
	Price  sdkmath.LegacyDec `json:"price"`
	LTVMax sdkmath.LegacyDec `json:"ltv_max"`
	LTVMin sdkmath.LegacyDec `json:"ltv_min"`
	LTVAim sdkmath.LegacyDec `json:"ltv_aim"`
	Stale  bool              `json:"stale"`
}

// BorrowerActionKind tags the BorrowerAction variant.
type BorrowerActionKind uint8

const (
	ActionNothing BorrowerActionKind = iota
	ActionBorrow
	ActionRepay
	ActionDepositIdleCollateral
	ActionUnwindAll
)

func (k BorrowerActionKind) String() string {
	switch k {
	case ActionNothing:
		return "nothing"
	case ActionBorrow:
		return "borrow"
	case ActionRepay:
		return "repay"
	case ActionDepositIdleCollateral:
		return "deposit_idle_collateral"
	case ActionUnwindAll:
		return "unwind_all"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(k))
	}
}

// BorrowerAction is the decision of the LTV planner.
//   - Borrow and Repay carry Amount and AdvisedBuffer.
//   - DepositIdleCollateral carries Amount and the follow-up decision in AndThen.
//   - UnwindAll carries the loan to repay in Amount.
type BorrowerAction struct {
	Kind          BorrowerActionKind `json:"kind"`
	Amount        sdkmath.Int        `json:"amount"`
	AdvisedBuffer sdkmath.Int        `json:"advised_buffer"`
	AndThen       *BorrowerAction    `json:"and_then,omitempty"`
}

func NothingAction() BorrowerAction {
	return BorrowerAction{Kind: ActionNothing, Amount: sdkmath.ZeroInt(), AdvisedBuffer: sdkmath.ZeroInt()}
}

func BorrowAction(amount, buffer sdkmath.Int) BorrowerAction {
	return BorrowerAction{Kind: ActionBorrow, Amount: amount, AdvisedBuffer: buffer}
}

func RepayAction(amount, buffer sdkmath.Int) BorrowerAction {
	return BorrowerAction{Kind: ActionRepay, Amount: amount, AdvisedBuffer: buffer}
}

func DepositIdleCollateralAction(amount sdkmath.Int, next BorrowerAction) BorrowerAction {
	return BorrowerAction{Kind: ActionDepositIdleCollateral, Amount: amount, AdvisedBuffer: sdkmath.ZeroInt(), AndThen: &next}
}

func UnwindAllAction(loan sdkmath.Int) BorrowerAction {
	return BorrowerAction{Kind: ActionUnwindAll, Amount: loan, AdvisedBuffer: sdkmath.ZeroInt()}
}

func (a BorrowerAction) String() string {
	switch a.Kind {
	case ActionNothing:
		return a.Kind.String()
	case ActionDepositIdleCollateral:
		if a.AndThen != nil {
			return fmt.Sprintf("%s{%s} -> %s", a.Kind, a.Amount, a.AndThen)
		}
		return fmt.Sprintf("%s{%s}", a.Kind, a.Amount)
	case ActionUnwindAll:
		return fmt.Sprintf("%s{%s}", a.Kind, a.Amount)
	default:
		return fmt.Sprintf("%s{%s, buffer %s}", a.Kind, a.Amount, a.AdvisedBuffer)
	}
}

// RepayPlanKind tags the RepayPlan variant.
type RepayPlanKind uint8

const (
	PlanNothing RepayPlanKind = iota
	PlanRepayLoan
	PlanSellReceipt
	PlanRepayLoanAndSellReceipt
)

func (k RepayPlanKind) String() string {
	switch k {
	case PlanNothing:
		return "nothing"
	case PlanRepayLoan:
		return "repay_loan"
	case PlanSellReceipt:
		return "sell_receipt"
	case PlanRepayLoanAndSellReceipt:
		return "repay_loan_and_sell_receipt"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(k))
	}
}

// RepayPlan is the decision of the tax-aware repay planner.
// RepayAmount is in stable, SellAmount in receipt tokens.
type RepayPlan struct {
	Kind        RepayPlanKind `json:"kind"`
	RepayAmount sdkmath.Int   `json:"repay_amount"`
	SellAmount  sdkmath.Int   `json:"sell_amount"`
}

func NothingPlan() RepayPlan {
	return RepayPlan{Kind: PlanNothing, RepayAmount: sdkmath.ZeroInt(), SellAmount: sdkmath.ZeroInt()}
}

// RepayLoanPlan degrades to NothingPlan when there is nothing to repay.
func RepayLoanPlan(amount sdkmath.Int) RepayPlan {
	if !amount.IsPositive() {
		return NothingPlan()
	}
	return RepayPlan{Kind: PlanRepayLoan, RepayAmount: amount, SellAmount: sdkmath.ZeroInt()}
}

func SellReceiptPlan(amount sdkmath.Int) RepayPlan {
	if !amount.IsPositive() {
		return NothingPlan()
	}
	return RepayPlan{Kind: PlanSellReceipt, RepayAmount: sdkmath.ZeroInt(), SellAmount: amount}
}

// RepayLoanAndSellReceiptPlan degrades to the single-leg plan when one leg is empty.
func RepayLoanAndSellReceiptPlan(repay, sell sdkmath.Int) RepayPlan {
	switch {
	case !repay.IsPositive():
		return SellReceiptPlan(sell)
	case !sell.IsPositive():
		return RepayLoanPlan(repay)
	}
	return RepayPlan{Kind: PlanRepayLoanAndSellReceipt, RepayAmount: repay, SellAmount: sell}
}

func (p RepayPlan) String() string {
	switch p.Kind {
	case PlanRepayLoan:
		return fmt.Sprintf("%s{%s}", p.Kind, p.RepayAmount)
	case PlanSellReceipt:
		return fmt.Sprintf("%s{%s}", p.Kind, p.SellAmount)
	case PlanRepayLoanAndSellReceipt:
		return fmt.Sprintf("%s{repay %s, sell %s}", p.Kind, p.RepayAmount, p.SellAmount)
	default:
		return p.Kind.String()
	}
}
