package types

import sdkmath "cosmossdk.io/math"

// RepaymentProgress is the persisted state of the repayment saga.
// A single record exists; every new saga overwrites it.
type RepaymentProgress struct {
	IterationIndex    uint8       `json:"iteration_index"`
	RepaidSomething   bool        `json:"repaid_something"`
	RemainingToRepay  sdkmath.Int `json:"remaining_to_repay"`
	AmountBeingRepaid sdkmath.Int `json:"amount_being_repaid"`
	TargetBuffer      sdkmath.Int `json:"target_buffer"`

	// RedemptionPending is set while a redemption issued by the current step has not replied yet.
	RedemptionPending bool `json:"redemption_pending"`
	// Unwind marks a saga started to close the whole position.
	Unwind bool `json:"unwind"`
	// RedemptionFault holds an unrecognized redemption failure seen while the repay leg of the
	// same step was still outstanding. The repay reply then settles the step.
	RedemptionFault string `json:"redemption_fault,omitempty"`
}

// NewRepaymentProgress returns the initial state of a saga repaying amount while aiming for buffer.
func NewRepaymentProgress(amount, buffer sdkmath.Int, unwind bool) RepaymentProgress {
	return RepaymentProgress{
		RemainingToRepay:  amount,
		AmountBeingRepaid: sdkmath.ZeroInt(),
		TargetBuffer:      buffer,
		Unwind:            unwind,
	}
}

// IsFirstAttempt is true until the first redemption reply has been observed.
func (p RepaymentProgress) IsFirstAttempt() bool {
	return p.IterationIndex == 0
}
