package vault

import (
	"context"
	"fmt"

	sdkmath "cosmossdk.io/math"
	"github.com/elys-network/cdpvault/internal/planner"
	"github.com/elys-network/cdpvault/internal/saga"
	"github.com/elys-network/cdpvault/internal/types"
)

// Rebalance brings the loan back into the LTV band. Anyone may call it.
func (e *Engine) Rebalance(ctx context.Context) (Outcome, error) {
	return e.run(ctx, TriggerRebalance, func(ctx context.Context, u *unit) ([]types.Call, error) {
		return u.rebalance(ctx)
	})
}

// HarvestRewards claims lender rewards and routes the proceeds through the profit split.
// It is rate limited by the policy's harvest interval.
func (e *Engine) HarvestRewards(ctx context.Context) (Outcome, error) {
	return e.run(ctx, TriggerHarvest, func(ctx context.Context, u *unit) ([]types.Call, error) {
		now := e.now()
		last, found, err := u.session.LoadLastHarvest(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to load harvest state: %w", err)
		}
		if found && now.Sub(last) < u.policy.HarvestInterval {
			return nil, fmt.Errorf("%w: last harvest at %s, next allowed at %s",
				types.ErrHarvestTooEarly, last.UTC().Format("2006-01-02 15:04:05"), last.Add(u.policy.HarvestInterval).UTC().Format("2006-01-02 15:04:05"))
		}
		if err := u.session.SaveLastHarvest(ctx, now); err != nil {
			return nil, err
		}

		hc, err := u.captureHarvest(ctx)
		if err != nil {
			return nil, err
		}
		u.harvest = hc
		return []types.Call{
			types.NewCall(types.CallClaimRewards, sdkmath.ZeroInt()).WithReply(types.TagClaim, types.ReplyOnSuccess),
		}, nil
	})
}

// ClaimRemainder converts everything left after the loan is closed into the distributed token.
func (e *Engine) ClaimRemainder(ctx context.Context) (Outcome, error) {
	return e.run(ctx, TriggerClaimRemainder, func(ctx context.Context, u *unit) ([]types.Call, error) {
		loan, err := e.collab.Market.LoanAmount(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to read loan: %w", err)
		}
		if loan.IsPositive() {
			return nil, fmt.Errorf("%w: %s still owed", types.ErrLoanOutstanding, loan)
		}
		receipt, err := e.collab.Wallet.ReceiptBalance(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to read receipt balance: %w", err)
		}
		if receipt.IsPositive() {
			return []types.Call{
				types.NewCall(types.CallRedeemReceipt, receipt).WithReply(types.TagRemainderRedeem, types.ReplyOnSuccess),
			}, nil
		}
		return u.buyWithRemainder(ctx)
	})
}

// UpdateConfig applies a governance patch to the policy. The patched policy must validate.
func (e *Engine) UpdateConfig(ctx context.Context, caller string, patch types.PolicyPatch) (types.Policy, error) {
	var updated types.Policy
	_, err := e.run(ctx, TriggerUpdateConfig, func(ctx context.Context, u *unit) ([]types.Call, error) {
		if caller == "" || caller != u.policy.Governance {
			return nil, fmt.Errorf("%w: %q is not the governance address", types.ErrUnauthorized, caller)
		}
		next := patch.Apply(u.policy)
		if err := next.Validate(); err != nil {
			return nil, err
		}
		if err := u.session.SavePolicy(ctx, next); err != nil {
			return nil, err
		}
		u.action = "policy updated"
		updated = next
		return nil, nil
	})
	return updated, err
}

// Deposit mints shares for collateral the depositor has already sent to the vault, then rebalances.
// Only collateral that is both unaccounted in the vault and received from depositor, and not
// yet credited to them, can back new shares.
func (e *Engine) Deposit(ctx context.Context, depositor string, amount sdkmath.Int) (Outcome, error) {
	return e.run(ctx, TriggerDeposit, func(ctx context.Context, u *unit) ([]types.Call, error) {
		if depositor == "" {
			return nil, fmt.Errorf("%w: depositor cannot be empty", types.ErrInvalidAmount)
		}
		amount = orZero(amount)
		total, err := u.totalCollateral(ctx)
		if err != nil {
			return nil, err
		}
		shares, err := e.collab.Shares.TotalShares(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to read total shares: %w", err)
		}
		accounted, err := u.accountedCollateral(ctx, total, shares)
		if err != nil {
			return nil, err
		}
		if unaccounted := saturatingSub(total, accounted); amount.GT(unaccounted) {
			return nil, fmt.Errorf("%w: deposit %s exceeds unaccounted collateral %s", types.ErrInvalidAmount, amount, unaccounted)
		}
		received, err := e.collab.Wallet.CollateralReceivedFrom(ctx, depositor)
		if err != nil {
			return nil, fmt.Errorf("failed to read collateral received from %s: %w", depositor, err)
		}
		credited, err := u.session.LoadDepositCredit(ctx, depositor)
		if err != nil {
			return nil, err
		}
		if uncredited := saturatingSub(received, credited); amount.GT(uncredited) {
			return nil, fmt.Errorf("%w: deposit %s exceeds uncredited collateral %s received from %s",
				types.ErrInvalidAmount, amount, uncredited, depositor)
		}
		minted, err := planner.SharesToMint(amount, accounted, shares)
		if err != nil {
			return nil, err
		}
		if err := u.session.SaveAccountedCollateral(ctx, accounted.Add(amount)); err != nil {
			return nil, err
		}
		if err := u.session.SaveDepositCredit(ctx, depositor, credited.Add(amount)); err != nil {
			return nil, err
		}

		rest, err := u.rebalance(ctx)
		if err != nil {
			return nil, err
		}
		mint := types.NewCall(types.CallMintShares, minted).To(depositor)
		return append([]types.Call{mint}, rest...), nil
	})
}

// Withdraw burns shares and returns their collateral after repaying their part of the loan.
func (e *Engine) Withdraw(ctx context.Context, owner string, shares sdkmath.Int) (Outcome, error) {
	return e.run(ctx, TriggerWithdraw, func(ctx context.Context, u *unit) ([]types.Call, error) {
		if owner == "" {
			return nil, fmt.Errorf("%w: owner cannot be empty", types.ErrInvalidAmount)
		}
		c := e.collab
		locked, err := c.Custody.LockedCollateral(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to read locked collateral: %w", err)
		}
		idle, err := c.Wallet.CollateralBalance(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to read idle collateral: %w", err)
		}
		totalShares, err := c.Shares.TotalShares(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to read total shares: %w", err)
		}
		loan, err := c.Market.LoanAmount(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to read loan: %w", err)
		}

		accounted, err := u.accountedCollateral(ctx, locked.Add(idle), totalShares)
		if err != nil {
			return nil, err
		}
		amount, err := planner.CollateralForShares(shares, accounted, totalShares)
		if err != nil {
			return nil, err
		}
		release := func(ctx context.Context) ([]types.Call, error) {
			if err := u.session.SaveAccountedCollateral(ctx, accounted.Sub(amount)); err != nil {
				return nil, err
			}
			var calls []types.Call
			if amount.GT(idle) {
				calls = append(calls, types.NewCall(types.CallUnlockCollateral, amount.Sub(idle)))
			}
			return append(calls,
				types.NewCall(types.CallBurnShares, shares).To(owner),
				types.NewCall(types.CallSendCollateral, amount).To(owner),
			), nil
		}

		loanShare := planner.LoanShare(loan, shares, totalShares)
		u.action = fmt.Sprintf("withdraw %s collateral, repay %s", amount, loanShare)
		if !loanShare.IsPositive() {
			return release(ctx)
		}

		u.onSagaDone = func(ctx context.Context, step saga.Step) ([]types.Call, error) {
			if step.Progress.RemainingToRepay.IsPositive() {
				return nil, fmt.Errorf("%w: %s of the withdrawn share could not be repaid", types.ErrLoanOutstanding, step.Progress.RemainingToRepay)
			}
			return release(ctx)
		}
		step, err := u.saga.Start(ctx, loanShare, sdkmath.ZeroInt(), false)
		if err != nil {
			return nil, err
		}
		return u.afterSagaStep(ctx, step)
	})
}

// rebalance runs the LTV planner on the current position and dispatches its decision.
func (u *unit) rebalance(ctx context.Context) ([]types.Call, error) {
	c := u.engine.collab
	loan, err := c.Market.LoanAmount(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read loan: %w", err)
	}
	locked, err := c.Custody.LockedCollateral(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read locked collateral: %w", err)
	}
	idle, err := c.Wallet.CollateralBalance(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read idle collateral: %w", err)
	}
	quote, err := c.Oracle.CollateralPrice(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read collateral price: %w", err)
	}
	rates, err := c.Market.Rates(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read market rates: %w", err)
	}

	action := planner.PlanBorrowerAction(planner.LTVInputs{
		Loan:             loan,
		LockedCollateral: locked,
		IdleCollateral:   idle,
		Snapshot:         planner.NewLTVSnapshot(u.policy, quote, u.engine.now()),
		CollateralMaxLTV: u.policy.CollateralMaxLTV,
		BufferPart:       u.policy.BufferPart,
		Profitable:       planner.IsProfitable(rates),
	})
	u.action = action.String()
	u.engine.metrics.ObserveBorrowerAction(action.Kind.String())
	u.logger.Info().
		Str("action", u.action).
		Str("loan", loan.String()).
		Str("locked", locked.String()).
		Str("idle", idle.String()).
		Msg("Planned borrower action")

	return u.dispatch(ctx, action)
}

func (u *unit) dispatch(ctx context.Context, action types.BorrowerAction) ([]types.Call, error) {
	switch action.Kind {
	case types.ActionNothing:
		return nil, nil
	case types.ActionBorrow:
		u.borrowBuffer = action.AdvisedBuffer
		return []types.Call{
			types.NewCall(types.CallBorrow, action.Amount).WithReply(types.TagBorrow, types.ReplyOnSuccess),
		}, nil
	case types.ActionRepay:
		step, err := u.saga.Start(ctx, action.Amount, action.AdvisedBuffer, false)
		if err != nil {
			return nil, err
		}
		return u.afterSagaStep(ctx, step)
	case types.ActionUnwindAll:
		step, err := u.saga.Start(ctx, action.Amount, sdkmath.ZeroInt(), true)
		if err != nil {
			return nil, err
		}
		return u.afterSagaStep(ctx, step)
	case types.ActionDepositIdleCollateral:
		calls := []types.Call{types.NewCall(types.CallLockCollateral, action.Amount)}
		if action.AndThen == nil {
			return calls, nil
		}
		rest, err := u.dispatch(ctx, *action.AndThen)
		if err != nil {
			return nil, err
		}
		return append(calls, rest...), nil
	default:
		return nil, fmt.Errorf("unknown borrower action %s", action.Kind)
	}
}

func (u *unit) captureHarvest(ctx context.Context) (*harvestContext, error) {
	c := u.engine.collab
	stable, err := c.Wallet.StableBalance(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read stable balance: %w", err)
	}
	loan, err := c.Market.LoanAmount(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read loan: %w", err)
	}
	receipt, err := c.Wallet.ReceiptBalance(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read receipt balance: %w", err)
	}
	rate, err := c.Market.ExchangeRate(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read exchange rate: %w", err)
	}
	return &harvestContext{stableBefore: stable, loan: loan, receipt: receipt, exchangeRate: rate}, nil
}

// accountedCollateral is the collateral backing the current shares, never more than the vault holds.
// A vault that predates the accounting adopts everything it holds once shares exist.
func (u *unit) accountedCollateral(ctx context.Context, total, shares sdkmath.Int) (sdkmath.Int, error) {
	accounted, found, err := u.session.LoadAccountedCollateral(ctx)
	if err != nil {
		return sdkmath.Int{}, err
	}
	if !found {
		if orZero(shares).IsPositive() {
			return total, nil
		}
		return sdkmath.ZeroInt(), nil
	}
	return sdkmath.MinInt(accounted, total), nil
}

func (u *unit) totalCollateral(ctx context.Context) (sdkmath.Int, error) {
	locked, err := u.engine.collab.Custody.LockedCollateral(ctx)
	if err != nil {
		return sdkmath.Int{}, fmt.Errorf("failed to read locked collateral: %w", err)
	}
	idle, err := u.engine.collab.Wallet.CollateralBalance(ctx)
	if err != nil {
		return sdkmath.Int{}, fmt.Errorf("failed to read idle collateral: %w", err)
	}
	return locked.Add(idle), nil
}
