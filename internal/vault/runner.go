package vault

import (
	"context"
	"errors"
	"fmt"

	sdkmath "cosmossdk.io/math"
	"github.com/elys-network/cdpvault/internal/saga"
	"github.com/elys-network/cdpvault/internal/state"
	"github.com/elys-network/cdpvault/internal/types"
	"github.com/rs/zerolog"
)

// unit is one trigger's unit of work. It lives for a single Engine.run.
type unit struct {
	engine  *Engine
	runID   string
	trigger string
	logger  zerolog.Logger

	session state.Session
	policy  types.Policy
	saga    *saga.Orchestrator

	action        string
	executed      []types.Call
	compensations []types.Call
	journal       []types.JournalEntry
	progress      *types.RepaymentProgress

	// borrowBuffer is the stable the LTV planner advised keeping after a borrow.
	borrowBuffer sdkmath.Int
	harvest      *harvestContext
	// onSagaDone runs when the repayment saga reaches its terminal state.
	onSagaDone func(ctx context.Context, step saga.Step) ([]types.Call, error)
}

// execute runs calls depth-first: the calls produced by a reply run before the caller's siblings.
func (u *unit) execute(ctx context.Context, calls []types.Call) error {
	var stack []types.Call
	push := func(cs []types.Call) {
		for i := len(cs) - 1; i >= 0; i-- {
			stack = append(stack, cs[i])
		}
	}
	push(calls)

	for len(stack) > 0 {
		if err := ctx.Err(); err != nil {
			return err
		}
		if len(u.executed) >= u.engine.maxCalls {
			return fmt.Errorf("%w: limit %d", ErrCallBudgetExceeded, u.engine.maxCalls)
		}

		call := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		callErr := u.invoke(ctx, call)
		u.executed = append(u.executed, call)
		u.record(call, callErr, false)
		u.engine.metrics.ObserveExternalCall(string(call.Kind), callErr)

		if callErr == nil {
			if comp, ok := call.Compensation(); ok {
				u.compensations = append(u.compensations, comp)
			}
		} else {
			u.logger.Warn().Err(callErr).Str("call", call.String()).Msg("External call failed")
			if call.ReplyOn != types.ReplyAlways {
				return errors.Join(types.ErrExternalFatal, fmt.Errorf("%s failed: %w", call, callErr))
			}
		}

		if call.ReplyOn == types.ReplyNever {
			continue
		}
		next, err := u.handleReply(ctx, types.Reply{Tag: call.Tag, Call: call, Err: callErr})
		if err != nil {
			return err
		}
		push(next)
	}
	return nil
}

// invoke sends one call to the collaborator that serves it.
func (u *unit) invoke(ctx context.Context, call types.Call) error {
	c := u.engine.collab
	switch call.Kind {
	case types.CallLockCollateral:
		return c.Custody.LockCollateral(ctx, call.Amount)
	case types.CallUnlockCollateral:
		return c.Custody.UnlockCollateral(ctx, call.Amount)
	case types.CallBorrow:
		return c.Market.Borrow(ctx, call.Amount)
	case types.CallRepay:
		return c.Market.Repay(ctx, call.Amount)
	case types.CallDepositStable:
		return c.Market.DepositStable(ctx, call.Amount)
	case types.CallRedeemReceipt:
		return c.Market.RedeemReceipt(ctx, call.Amount)
	case types.CallClaimRewards:
		return c.Market.ClaimRewards(ctx)
	case types.CallSellRewards:
		return c.Swap.SellRewards(ctx, call.Amount)
	case types.CallBuyRewards:
		return c.Swap.BuyRewards(ctx, call.Amount)
	case types.CallDistributeRewards:
		return c.Distributor.Distribute(ctx, call.Amount)
	case types.CallMintShares:
		return c.Shares.Mint(ctx, call.Recipient, call.Amount)
	case types.CallBurnShares:
		return c.Shares.Burn(ctx, call.Recipient, call.Amount)
	case types.CallSendCollateral:
		return c.Wallet.SendCollateral(ctx, call.Recipient, call.Amount)
	default:
		return fmt.Errorf("unsupported call kind %q", call.Kind)
	}
}

// compensate undoes executed loan, collateral and share movements, newest first. Best effort:
// a failing compensation is logged and the rest still run.
func (u *unit) compensate(ctx context.Context) {
	for i := len(u.compensations) - 1; i >= 0; i-- {
		comp := u.compensations[i]
		err := u.invoke(ctx, comp)
		u.record(comp, err, true)
		u.engine.metrics.ObserveCompensation(string(comp.Kind), err)
		if err != nil {
			u.logger.Error().Err(err).Str("call", comp.String()).Msg("Compensation failed, manual intervention may be required")
			continue
		}
		u.logger.Warn().Str("call", comp.String()).Msg("Compensation applied")
	}
}

func (u *unit) record(call types.Call, err error, compensation bool) {
	entry := types.JournalEntry{
		RunID:        u.runID,
		Trigger:      u.trigger,
		Step:         len(u.journal),
		Kind:         call.Kind,
		Tag:          call.Tag,
		Amount:       orZero(call.Amount),
		Success:      err == nil,
		Compensation: compensation,
		CreatedAt:    u.engine.now(),
	}
	if err != nil {
		entry.Message = err.Error()
	}
	u.journal = append(u.journal, entry)
}

func (u *unit) recordOutcome(err error) {
	entry := types.JournalEntry{
		RunID:     u.runID,
		Trigger:   u.trigger,
		Step:      len(u.journal),
		Kind:      types.JournalOutcome,
		Amount:    sdkmath.ZeroInt(),
		Success:   err == nil,
		Message:   u.action,
		CreatedAt: u.engine.now(),
	}
	if err != nil {
		entry.Message = err.Error()
	}
	u.journal = append(u.journal, entry)
}

// RepaySnapshot reads the balances the repay planner needs. Tax terms are fetched every time.
func (u *unit) RepaySnapshot(ctx context.Context) (saga.Balances, error) {
	c := u.engine.collab
	stable, err := c.Wallet.StableBalance(ctx)
	if err != nil {
		return saga.Balances{}, fmt.Errorf("failed to read stable balance: %w", err)
	}
	receipt, err := c.Wallet.ReceiptBalance(ctx)
	if err != nil {
		return saga.Balances{}, fmt.Errorf("failed to read receipt balance: %w", err)
	}
	rate, err := c.Market.ExchangeRate(ctx)
	if err != nil {
		return saga.Balances{}, fmt.Errorf("failed to read exchange rate: %w", err)
	}
	terms, err := c.Tax.Terms(ctx, u.policy.StableDenom)
	if err != nil {
		return saga.Balances{}, fmt.Errorf("failed to read tax terms: %w", err)
	}
	return saga.Balances{Stable: stable, Receipt: receipt, ExchangeRate: rate, Tax: terms}, nil
}
