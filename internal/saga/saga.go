/*

This file contains the repayment saga. A repayment spans several external calls: the orchestrator
plans one step, persists its progress, hands the calls back for issuing and resumes when their
tagged replies come in. Work is bounded by the policy's iteration count.

*/

package saga

import (
	"context"
	"errors"
	"fmt"

	sdkmath "cosmossdk.io/math"
	"github.com/elys-network/cdpvault/internal/logger"
	"github.com/elys-network/cdpvault/internal/planner"
	"github.com/elys-network/cdpvault/internal/tax"
	"github.com/elys-network/cdpvault/internal/types"
	"github.com/rs/zerolog"
)

var (
	ErrNoRepayment = errors.New("no repayment in progress")
	ErrUnknownTag  = errors.New("reply tag does not belong to the repayment saga")
)

// Balances is what the repay planner needs from the chain, read fresh for every step.
type Balances struct {
	Stable       sdkmath.Int
	Receipt      sdkmath.Int
	ExchangeRate sdkmath.LegacyDec
	Tax          tax.Terms
}

// Snapshotter reads the balances the next step is planned from.
type Snapshotter interface {
	RepaySnapshot(ctx context.Context) (Balances, error)
}

// ProgressStore persists RepaymentProgress inside the current unit of work.
type ProgressStore interface {
	LoadRepayment(ctx context.Context) (types.RepaymentProgress, bool, error)
	SaveRepayment(ctx context.Context, progress types.RepaymentProgress) error
}

// Step is what the caller must do next. Calls may be empty while a reply is still outstanding.
type Step struct {
	Calls    []types.Call
	Plan     types.RepayPlan
	Done     bool
	Progress types.RepaymentProgress
}

// Orchestrator drives one repayment saga at a time.
type Orchestrator struct {
	balances      Snapshotter
	store         ProgressStore
	maxIterations uint8
	logger        zerolog.Logger
}

func NewOrchestrator(balances Snapshotter, store ProgressStore, maxIterations uint8) *Orchestrator {
	return &Orchestrator{
		balances:      balances,
		store:         store,
		maxIterations: maxIterations,
		logger:        logger.GetForComponent("saga"),
	}
}

// WithLogger returns a copy of the orchestrator logging through l.
func (o *Orchestrator) WithLogger(l zerolog.Logger) *Orchestrator {
	c := *o
	c.logger = l
	return &c
}

// Start begins a new saga repaying amount while keeping buffer of stable liquid.
// Any previous progress is overwritten.
func (o *Orchestrator) Start(ctx context.Context, amount, buffer sdkmath.Int, unwind bool) (Step, error) {
	if amount.IsNil() || amount.IsNegative() {
		return Step{}, fmt.Errorf("%w: repay amount %v", types.ErrInvalidAmount, amount)
	}
	if buffer.IsNil() {
		buffer = sdkmath.ZeroInt()
	}
	progress := types.NewRepaymentProgress(amount, buffer, unwind)
	o.logger.Info().
		Str("amount", amount.String()).
		Str("buffer", buffer.String()).
		Bool("unwind", unwind).
		Msg("Starting repayment saga")

	if amount.IsZero() {
		return o.finish(ctx, progress)
	}
	return o.plan(ctx, progress)
}

// HandleReply resumes the saga from the outcome of a repay or redeem call.
func (o *Orchestrator) HandleReply(ctx context.Context, reply types.Reply) (Step, error) {
	progress, found, err := o.store.LoadRepayment(ctx)
	if err != nil {
		return Step{}, fmt.Errorf("failed to load repayment progress: %w", err)
	}
	if !found {
		return Step{}, ErrNoRepayment
	}

	switch reply.Tag {
	case types.TagRepay:
		return o.onRepay(ctx, progress, reply)
	case types.TagRedeem:
		return o.onRedeem(ctx, progress, reply)
	default:
		return Step{}, fmt.Errorf("%w: %q", ErrUnknownTag, reply.Tag)
	}
}

func (o *Orchestrator) onRepay(ctx context.Context, progress types.RepaymentProgress, reply types.Reply) (Step, error) {
	if reply.Err != nil {
		return Step{}, errors.Join(types.ErrExternalFatal, fmt.Errorf("repay of %s failed: %w", progress.AmountBeingRepaid, reply.Err))
	}

	repaid := progress.AmountBeingRepaid
	progress.RepaidSomething = true
	progress.RemainingToRepay = saturatingSub(progress.RemainingToRepay, repaid)
	progress.AmountBeingRepaid = sdkmath.ZeroInt()
	o.logger.Info().
		Str("repaid", repaid.String()).
		Str("remaining", progress.RemainingToRepay.String()).
		Msg("Repay leg completed")

	if progress.RedemptionPending {
		// The redemption issued with this repay drives the next plan.
		if err := o.save(ctx, progress); err != nil {
			return Step{}, err
		}
		return Step{Progress: progress}, nil
	}

	var redeemErr error
	if progress.RedemptionFault != "" {
		redeemErr = errors.New(progress.RedemptionFault)
	}
	return o.advance(ctx, progress, redeemErr)
}

func (o *Orchestrator) onRedeem(ctx context.Context, progress types.RepaymentProgress, reply types.Reply) (Step, error) {
	progress.RedemptionPending = false
	if progress.IterationIndex < ^uint8(0) {
		progress.IterationIndex++
	}
	event := o.logger.Info().Uint8("iteration", progress.IterationIndex).Str("remaining", progress.RemainingToRepay.String())
	if reply.Err != nil {
		event = event.AnErr("redeemErr", reply.Err)
	}
	event.Msg("Redemption completed")

	if progress.AmountBeingRepaid.IsPositive() {
		// The repay leg of this step has not replied yet and settles it when it does.
		if reply.Err != nil && !errors.Is(reply.Err, types.ErrExternalTemporary) {
			progress.RedemptionFault = reply.Err.Error()
		}
		if err := o.save(ctx, progress); err != nil {
			return Step{}, err
		}
		return Step{Progress: progress}, nil
	}
	return o.advance(ctx, progress, reply.Err)
}

// advance runs once both legs of a step have replied.
func (o *Orchestrator) advance(ctx context.Context, progress types.RepaymentProgress, redeemErr error) (Step, error) {
	if progress.RemainingToRepay.IsZero() {
		return o.finish(ctx, progress)
	}

	if progress.IterationIndex >= o.maxIterations {
		if progress.RepaidSomething {
			o.logger.Info().Msg("Iteration bound reached after partial repayment, leaving the rest to the next rebalance")
			return o.finish(ctx, progress)
		}
		return Step{}, errors.Join(types.ErrRecursionExhausted, types.ErrExternalFatal, redeemErr)
	}

	if redeemErr != nil && !errors.Is(redeemErr, types.ErrExternalTemporary) {
		return Step{}, errors.Join(types.ErrExternalFatal, fmt.Errorf("redemption failed: %w", redeemErr))
	}
	return o.plan(ctx, progress)
}

// plan runs the repay planner on fresh balances and persists progress before returning calls.
func (o *Orchestrator) plan(ctx context.Context, progress types.RepaymentProgress) (Step, error) {
	balances, err := o.balances.RepaySnapshot(ctx)
	if err != nil {
		return Step{}, fmt.Errorf("failed to read repayment balances: %w", err)
	}

	plan := planner.PlanRepay(planner.RepayInputs{
		StableBalance:    balances.Stable,
		ReceiptBalance:   balances.Receipt,
		ExchangeRate:     balances.ExchangeRate,
		RemainingToRepay: progress.RemainingToRepay,
		TargetBuffer:     progress.TargetBuffer,
		Tax:              balances.Tax,
		IsFirstAttempt:   progress.IsFirstAttempt(),
	})
	o.logger.Info().
		Str("plan", plan.String()).
		Uint8("iteration", progress.IterationIndex).
		Str("stable", balances.Stable.String()).
		Str("receipt", balances.Receipt.String()).
		Msg("Planned repayment step")

	progress.RedemptionFault = ""
	var calls []types.Call
	switch plan.Kind {
	case types.PlanNothing:
		return o.finish(ctx, progress)
	case types.PlanRepayLoan:
		progress.AmountBeingRepaid = plan.RepayAmount
		calls = []types.Call{repayCall(plan.RepayAmount)}
	case types.PlanSellReceipt:
		progress.RedemptionPending = true
		calls = []types.Call{redeemCall(plan.SellAmount)}
	case types.PlanRepayLoanAndSellReceipt:
		progress.AmountBeingRepaid = plan.RepayAmount
		progress.RedemptionPending = true
		calls = []types.Call{repayCall(plan.RepayAmount), redeemCall(plan.SellAmount)}
	default:
		return Step{}, fmt.Errorf("unknown repay plan %s", plan.Kind)
	}

	if err := o.save(ctx, progress); err != nil {
		return Step{}, err
	}
	return Step{Calls: calls, Plan: plan, Progress: progress}, nil
}

func (o *Orchestrator) finish(ctx context.Context, progress types.RepaymentProgress) (Step, error) {
	progress.AmountBeingRepaid = sdkmath.ZeroInt()
	progress.RedemptionPending = false
	progress.RedemptionFault = ""
	if err := o.save(ctx, progress); err != nil {
		return Step{}, err
	}
	o.logger.Info().
		Bool("repaidSomething", progress.RepaidSomething).
		Str("remaining", progress.RemainingToRepay.String()).
		Msg("Repayment saga finished")
	return Step{Done: true, Progress: progress, Plan: types.NothingPlan()}, nil
}

func (o *Orchestrator) save(ctx context.Context, progress types.RepaymentProgress) error {
	if err := o.store.SaveRepayment(ctx, progress); err != nil {
		return fmt.Errorf("failed to persist repayment progress: %w", err)
	}
	return nil
}

func repayCall(amount sdkmath.Int) types.Call {
	return types.NewCall(types.CallRepay, amount).WithReply(types.TagRepay, types.ReplyOnSuccess)
}

// Redemptions report failures too: a temporary refusal is what drives the retry loop.
func redeemCall(amount sdkmath.Int) types.Call {
	return types.NewCall(types.CallRedeemReceipt, amount).WithReply(types.TagRedeem, types.ReplyAlways)
}

func saturatingSub(a, b sdkmath.Int) sdkmath.Int {
	if b.IsNil() {
		return a
	}
	if b.GTE(a) {
		return sdkmath.ZeroInt()
	}
	return a.Sub(b)
}
