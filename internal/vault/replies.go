package vault

import (
	"context"
	"errors"
	"fmt"

	sdkmath "cosmossdk.io/math"
	"github.com/elys-network/cdpvault/internal/planner"
	"github.com/elys-network/cdpvault/internal/saga"
	"github.com/elys-network/cdpvault/internal/types"
)

// harvestContext is the position captured when a harvest starts.
type harvestContext struct {
	stableBefore sdkmath.Int
	loan         sdkmath.Int
	receipt      sdkmath.Int
	exchangeRate sdkmath.LegacyDec
}

// handleReply routes a reply to its continuation by tag. Arrival order is never assumed.
func (u *unit) handleReply(ctx context.Context, reply types.Reply) ([]types.Call, error) {
	u.logger.Debug().Str("tag", string(reply.Tag)).Bool("success", reply.Succeeded()).Msg("Handling reply")

	switch reply.Tag {
	case types.TagRepay, types.TagRedeem:
		step, err := u.saga.HandleReply(ctx, reply)
		if err != nil {
			return nil, err
		}
		return u.afterSagaStep(ctx, step)
	case types.TagBorrow:
		return u.completeBorrow(ctx)
	case types.TagClaim:
		return u.sellClaimedRewards(ctx)
	case types.TagSellRewards:
		return u.splitProfit(ctx)
	case types.TagBuyRewards:
		return u.distribute(ctx)
	case types.TagRemainderRedeem:
		return u.buyWithRemainder(ctx)
	default:
		return nil, fmt.Errorf("no continuation for reply tag %q", reply.Tag)
	}
}

// afterSagaStep passes on the saga's calls and handles its terminal state.
func (u *unit) afterSagaStep(ctx context.Context, step saga.Step) ([]types.Call, error) {
	progress := step.Progress
	u.progress = &progress
	if !step.Done {
		return step.Calls, nil
	}

	partial := progress.RemainingToRepay.IsPositive()
	u.engine.metrics.ObserveSaga(progress.IterationIndex, partial)

	if progress.Unwind && !partial {
		locked, err := u.engine.collab.Custody.LockedCollateral(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to read locked collateral for unwind: %w", err)
		}
		if locked.IsPositive() {
			u.logger.Info().Str("collateral", locked.String()).Msg("Loan repaid, unlocking all collateral")
			return []types.Call{types.NewCall(types.CallUnlockCollateral, locked)}, nil
		}
		return nil, nil
	}
	if u.onSagaDone != nil {
		return u.onSagaDone(ctx, step)
	}
	return nil, nil
}

func (u *unit) completeBorrow(ctx context.Context) ([]types.Call, error) {
	stable, err := u.engine.collab.Wallet.StableBalance(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read stable balance after borrow: %w", err)
	}
	terms, err := u.engine.collab.Tax.Terms(ctx, u.policy.StableDenom)
	if err != nil {
		return nil, fmt.Errorf("failed to read tax terms: %w", err)
	}
	deposit := planner.PlanBorrowCompletion(stable, orZero(u.borrowBuffer), terms)
	if !deposit.IsPositive() {
		u.logger.Info().Str("stable", stable.String()).Msg("Borrowed stable stays as buffer")
		return nil, nil
	}
	return []types.Call{types.NewCall(types.CallDepositStable, deposit)}, nil
}

func (u *unit) sellClaimedRewards(ctx context.Context) ([]types.Call, error) {
	reward, err := u.engine.collab.Wallet.RewardBalance(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read reward balance: %w", err)
	}
	if !reward.IsPositive() {
		u.logger.Info().Msg("No rewards claimed")
		return nil, nil
	}
	return []types.Call{
		types.NewCall(types.CallSellRewards, reward).WithReply(types.TagSellRewards, types.ReplyOnSuccess),
	}, nil
}

func (u *unit) splitProfit(ctx context.Context) ([]types.Call, error) {
	if u.harvest == nil {
		return nil, errors.New("reward sale replied outside of a harvest")
	}
	after, err := u.engine.collab.Wallet.StableBalance(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read stable balance after reward sale: %w", err)
	}
	terms, err := u.engine.collab.Tax.Terms(ctx, u.policy.StableDenom)
	if err != nil {
		return nil, fmt.Errorf("failed to read tax terms: %w", err)
	}

	split := planner.PlanProfitSplit(planner.ProfitInputs{
		BalanceBeforeHarvest: u.harvest.stableBefore,
		BalanceAfterHarvest:  after,
		Loan:                 u.harvest.loan,
		ReceiptBalance:       u.harvest.receipt,
		ExchangeRate:         u.harvest.exchangeRate,
		OverLoanBalanceValue: u.policy.OverLoanBalanceValue,
		Tax:                  terms,
	})
	u.logger.Info().
		Str("redeposit", split.Redeposit.String()).
		Str("buyReward", split.BuyReward.String()).
		Msg("Harvest profit split")

	var calls []types.Call
	if split.Redeposit.IsPositive() {
		calls = append(calls, types.NewCall(types.CallDepositStable, split.Redeposit))
	}
	if split.BuyReward.IsPositive() {
		calls = append(calls, types.NewCall(types.CallBuyRewards, split.BuyReward).WithReply(types.TagBuyRewards, types.ReplyOnSuccess))
	}
	return calls, nil
}

func (u *unit) distribute(ctx context.Context) ([]types.Call, error) {
	amount, err := u.engine.collab.Wallet.DistributionBalance(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read distribution balance: %w", err)
	}
	if !amount.IsPositive() {
		return nil, nil
	}
	return []types.Call{types.NewCall(types.CallDistributeRewards, amount)}, nil
}

func (u *unit) buyWithRemainder(ctx context.Context) ([]types.Call, error) {
	stable, err := u.engine.collab.Wallet.StableBalance(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read stable balance: %w", err)
	}
	terms, err := u.engine.collab.Tax.Terms(ctx, u.policy.StableDenom)
	if err != nil {
		return nil, fmt.Errorf("failed to read tax terms: %w", err)
	}
	amount := terms.NetInt(stable)
	if !amount.IsPositive() {
		u.logger.Info().Str("stable", stable.String()).Msg("No stable left to convert")
		return nil, nil
	}
	return []types.Call{
		types.NewCall(types.CallBuyRewards, amount).WithReply(types.TagBuyRewards, types.ReplyOnSuccess),
	}, nil
}
