package types

import "errors"

// Error taxonomy shared by the planners, the repayment saga and the trigger surface.
var (
	ErrUnauthorized       = errors.New("caller is not authorized for this action")
	ErrInvalidPolicy      = errors.New("policy violates the LTV/buffer invariant")
	ErrStateFrozen        = errors.New("vault state is frozen: collateral and shares are out of sync")
	ErrExternalTemporary  = errors.New("redemption temporarily unavailable")
	ErrExternalFatal      = errors.New("external call failed")
	ErrRecursionExhausted = errors.New("repayment iteration bound exhausted without progress")
	ErrHarvestTooEarly    = errors.New("harvest interval has not elapsed")
	ErrLoanOutstanding    = errors.New("loan is not fully repaid")
	ErrInvalidAmount      = errors.New("amount is invalid")
)
