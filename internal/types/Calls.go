/*

This file contains the external calls the engine issues to its collaborators and the replies it receives.

*/

package types

import (
	"fmt"
	"time"

	sdkmath "cosmossdk.io/math"
)

// CallKind names the collaborator command a call invokes.
type CallKind string

const (
	CallLockCollateral    CallKind = "lock_collateral"
	CallUnlockCollateral  CallKind = "unlock_collateral"
	CallBorrow            CallKind = "borrow"
	CallRepay             CallKind = "repay"
	CallDepositStable     CallKind = "deposit_stable"
	CallRedeemReceipt     CallKind = "redeem_receipt"
	CallClaimRewards      CallKind = "claim_rewards"
	CallSellRewards       CallKind = "sell_rewards"
	CallBuyRewards        CallKind = "buy_rewards"
	CallDistributeRewards CallKind = "distribute_rewards"
	CallMintShares        CallKind = "mint_shares"
	CallBurnShares        CallKind = "burn_shares"
	CallSendCollateral    CallKind = "send_collateral"

	// JournalOutcome marks the journal entry closing a unit of work.
	JournalOutcome CallKind = "outcome"
)

// CallTag identifies which continuation a reply belongs to.
type CallTag string

const (
	TagNone            CallTag = ""
	TagBorrow          CallTag = "borrow"
	TagRedeem          CallTag = "redeem"
	TagRepay           CallTag = "repay"
	TagClaim           CallTag = "claim"
	TagSellRewards     CallTag = "sell_rewards"
	TagBuyRewards      CallTag = "buy_rewards"
	TagRemainderRedeem CallTag = "remainder_redeem"
)

// ReplyOn controls when the issuer is notified about a call's outcome.
type ReplyOn uint8

const (
	ReplyNever ReplyOn = iota
	ReplyOnSuccess
	ReplyAlways
)

// Call is one external command. Amount is in the unit of the command's asset.
type Call struct {
	Kind      CallKind    `json:"kind"`
	Tag       CallTag     `json:"tag,omitempty"`
	ReplyOn   ReplyOn     `json:"reply_on"`
	Amount    sdkmath.Int `json:"amount"`
	Recipient string      `json:"recipient,omitempty"`
}

// NewCall builds a fire-and-forget call.
func NewCall(kind CallKind, amount sdkmath.Int) Call {
	return Call{Kind: kind, Amount: amount}
}

// WithReply asks for a tagged notification.
func (c Call) WithReply(tag CallTag, on ReplyOn) Call {
	c.Tag = tag
	c.ReplyOn = on
	return c
}

// To sets the recipient of a transfer-like call.
func (c Call) To(recipient string) Call {
	c.Recipient = recipient
	return c
}

// Compensation returns the call undoing c, if c moves the loan, the collateral or the share supply.
// Redemptions, deposits, swaps and transfers out have no compensation.
func (c Call) Compensation() (Call, bool) {
	var kind CallKind
	switch c.Kind {
	case CallBorrow:
		kind = CallRepay
	case CallRepay:
		kind = CallBorrow
	case CallLockCollateral:
		kind = CallUnlockCollateral
	case CallUnlockCollateral:
		kind = CallLockCollateral
	case CallMintShares:
		kind = CallBurnShares
	case CallBurnShares:
		kind = CallMintShares
	default:
		return Call{}, false
	}
	return NewCall(kind, c.Amount).To(c.Recipient), true
}

func (c Call) String() string {
	if c.Tag == TagNone {
		return fmt.Sprintf("%s(%s)", c.Kind, c.Amount)
	}
	return fmt.Sprintf("%s(%s)#%s", c.Kind, c.Amount, c.Tag)
}

// Reply is the outcome of a call, delivered to the continuation named by Tag.
type Reply struct {
	Tag  CallTag
	Call Call
	Err  error
}

func (r Reply) Succeeded() bool {
	return r.Err == nil
}

// JournalEntry records one executed call or unit outcome.
type JournalEntry struct {
	RunID        string      `json:"run_id"`
	Trigger      string      `json:"trigger"`
	Step         int         `json:"step"`
	Kind         CallKind    `json:"kind"`
	Tag          CallTag     `json:"tag,omitempty"`
	Amount       sdkmath.Int `json:"amount"`
	Success      bool        `json:"success"`
	Compensation bool        `json:"compensation"`
	Message      string      `json:"message,omitempty"`
	CreatedAt    time.Time   `json:"created_at"`
}
