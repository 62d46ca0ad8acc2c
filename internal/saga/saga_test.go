package saga

import (
	"context"
	"errors"
	"testing"

	sdkmath "cosmossdk.io/math"
	"github.com/elys-network/cdpvault/internal/tax"
	"github.com/elys-network/cdpvault/internal/types"
	"github.com/stretchr/testify/require"
)

type fakeBalances struct {
	balances Balances
	reads    int
}

func (f *fakeBalances) RepaySnapshot(context.Context) (Balances, error) {
	f.reads++
	return f.balances, nil
}

type memProgress struct {
	progress types.RepaymentProgress
	found    bool
	saves    int
}

func (m *memProgress) LoadRepayment(context.Context) (types.RepaymentProgress, bool, error) {
	return m.progress, m.found, nil
}

func (m *memProgress) SaveRepayment(_ context.Context, p types.RepaymentProgress) error {
	m.progress = p
	m.found = true
	m.saves++
	return nil
}

func ints(v int64) sdkmath.Int { return sdkmath.NewInt(v) }

func requireIntEqual(t *testing.T, want, got sdkmath.Int) {
	t.Helper()
	require.Truef(t, want.Equal(got), "want %s, got %s", want, got)
}

func requireCalls(t *testing.T, step Step, want ...types.Call) {
	t.Helper()
	require.Len(t, step.Calls, len(want))
	for i := range want {
		require.Equal(t, want[i].Kind, step.Calls[i].Kind)
		require.Equal(t, want[i].Tag, step.Calls[i].Tag)
		require.Equal(t, want[i].ReplyOn, step.Calls[i].ReplyOn)
		requireIntEqual(t, want[i].Amount, step.Calls[i].Amount)
	}
}

func zeroTax(t *testing.T) tax.Terms {
	terms, err := tax.NewTerms(sdkmath.LegacyZeroDec(), ints(99_999_999_999))
	require.NoError(t, err)
	return terms
}

func fullTax(t *testing.T) tax.Terms {
	terms, err := tax.NewTerms(sdkmath.LegacyOneDec(), ints(100))
	require.NoError(t, err)
	return terms
}

func retryScenario(t *testing.T) (*fakeBalances, *memProgress, *Orchestrator) {
	balances := &fakeBalances{balances: Balances{
		Stable:       ints(5_000),
		Receipt:      ints(7_000),
		ExchangeRate: sdkmath.LegacyMustNewDecFromStr("1.25"),
		Tax:          zeroTax(t),
	}}
	store := &memProgress{}
	return balances, store, NewOrchestrator(balances, store, 7)
}

func temporaryFailure() error {
	return errors.Join(types.ErrExternalTemporary, errors.New("Not enough stable in the market"))
}

func TestSagaRetriesAfterTemporaryRedemptionFailure(t *testing.T) {
	ctx := context.Background()
	balances, store, orchestrator := retryScenario(t)

	step, err := orchestrator.Start(ctx, ints(10_000), ints(5_000), false)
	require.NoError(t, err)
	require.False(t, step.Done)
	requireCalls(t, step, redeemCall(ints(7_000)))
	require.True(t, store.progress.RedemptionPending, "progress is saved before calls go out")

	step, err = orchestrator.HandleReply(ctx, types.Reply{Tag: types.TagRedeem, Err: temporaryFailure()})
	require.NoError(t, err)
	requireCalls(t, step, repayCall(ints(5_000)), redeemCall(ints(4_000)))
	require.EqualValues(t, 1, step.Progress.IterationIndex)

	// Repay leg lands first, then the 4,000 receipt comes back as 5,000 stable.
	step, err = orchestrator.HandleReply(ctx, types.Reply{Tag: types.TagRepay})
	require.NoError(t, err)
	require.Empty(t, step.Calls)
	require.False(t, step.Done)
	requireIntEqual(t, ints(5_000), step.Progress.RemainingToRepay)

	balances.balances.Receipt = ints(3_000)
	step, err = orchestrator.HandleReply(ctx, types.Reply{Tag: types.TagRedeem})
	require.NoError(t, err)
	requireCalls(t, step, repayCall(ints(5_000)), redeemCall(ints(3_000)))

	balances.balances.Receipt = sdkmath.ZeroInt()
	balances.balances.Stable = ints(3_750)
	step, err = orchestrator.HandleReply(ctx, types.Reply{Tag: types.TagRepay})
	require.NoError(t, err)
	requireIntEqual(t, sdkmath.ZeroInt(), step.Progress.RemainingToRepay)

	step, err = orchestrator.HandleReply(ctx, types.Reply{Tag: types.TagRedeem})
	require.NoError(t, err)
	require.True(t, step.Done)
	require.Empty(t, step.Calls)

	// A late redemption reply with nothing left owed is a no-op.
	reads := balances.reads
	step, err = orchestrator.HandleReply(ctx, types.Reply{Tag: types.TagRedeem})
	require.NoError(t, err)
	require.True(t, step.Done)
	require.Empty(t, step.Calls)
	require.Equal(t, reads, balances.reads)
}

func TestSagaRemainingNeverIncreases(t *testing.T) {
	ctx := context.Background()
	balances, _, orchestrator := retryScenario(t)

	replies := []types.Reply{
		{Tag: types.TagRedeem, Err: temporaryFailure()},
		{Tag: types.TagRepay},
		{Tag: types.TagRedeem},
		{Tag: types.TagRepay},
		{Tag: types.TagRedeem},
	}

	step, err := orchestrator.Start(ctx, ints(10_000), ints(5_000), false)
	require.NoError(t, err)
	last := step.Progress.RemainingToRepay
	lastIteration := step.Progress.IterationIndex
	for i, reply := range replies {
		if i == 2 {
			balances.balances.Receipt = ints(3_000)
		}
		step, err = orchestrator.HandleReply(ctx, reply)
		require.NoError(t, err)
		require.True(t, step.Progress.RemainingToRepay.LTE(last), "reply %d raised the remaining amount", i)
		require.LessOrEqual(t, step.Progress.IterationIndex-lastIteration, uint8(1))
		last = step.Progress.RemainingToRepay
		lastIteration = step.Progress.IterationIndex
	}
}

func TestSagaExhaustionWithoutProgressIsFatal(t *testing.T) {
	ctx := context.Background()
	balances := &fakeBalances{balances: Balances{
		Stable:       ints(10), // fully taxed, nothing can be sent
		Receipt:      ints(1_000),
		ExchangeRate: sdkmath.LegacyOneDec(),
		Tax:          fullTax(t),
	}}
	store := &memProgress{}
	orchestrator := NewOrchestrator(balances, store, 3)

	step, err := orchestrator.Start(ctx, ints(500), ints(50), false)
	require.NoError(t, err)
	requireCalls(t, step, redeemCall(ints(740)))

	for i := 0; i < 2; i++ {
		step, err = orchestrator.HandleReply(ctx, types.Reply{Tag: types.TagRedeem, Err: temporaryFailure()})
		require.NoError(t, err)
		requireCalls(t, step, redeemCall(ints(740)))
	}

	_, err = orchestrator.HandleReply(ctx, types.Reply{Tag: types.TagRedeem, Err: temporaryFailure()})
	require.ErrorIs(t, err, types.ErrRecursionExhausted)
	require.ErrorIs(t, err, types.ErrExternalFatal)
	require.EqualValues(t, 2, store.progress.IterationIndex, "the failed step is not persisted")
}

func TestSagaExhaustionAfterRepayIsClean(t *testing.T) {
	ctx := context.Background()
	balances, store, _ := retryScenario(t)
	orchestrator := NewOrchestrator(balances, store, 2)

	_, err := orchestrator.Start(ctx, ints(10_000), ints(5_000), false)
	require.NoError(t, err)
	step, err := orchestrator.HandleReply(ctx, types.Reply{Tag: types.TagRedeem, Err: temporaryFailure()})
	require.NoError(t, err)
	requireCalls(t, step, repayCall(ints(5_000)), redeemCall(ints(4_000)))

	_, err = orchestrator.HandleReply(ctx, types.Reply{Tag: types.TagRepay})
	require.NoError(t, err)
	step, err = orchestrator.HandleReply(ctx, types.Reply{Tag: types.TagRedeem, Err: temporaryFailure()})
	require.NoError(t, err)
	require.True(t, step.Done)
	require.Empty(t, step.Calls)
	require.True(t, step.Progress.RepaidSomething)
	requireIntEqual(t, ints(5_000), step.Progress.RemainingToRepay)
}

func TestSagaUnrecognizedRedemptionFailureIsFatal(t *testing.T) {
	ctx := context.Background()
	_, _, orchestrator := retryScenario(t)

	_, err := orchestrator.Start(ctx, ints(10_000), ints(5_000), false)
	require.NoError(t, err)
	_, err = orchestrator.HandleReply(ctx, types.Reply{Tag: types.TagRedeem, Err: errors.New("contract paused")})
	require.ErrorIs(t, err, types.ErrExternalFatal)
	require.NotErrorIs(t, err, types.ErrExternalTemporary)
}

func TestSagaRepayFailureIsFatal(t *testing.T) {
	ctx := context.Background()
	_, _, orchestrator := retryScenario(t)

	_, err := orchestrator.Start(ctx, ints(10_000), ints(5_000), false)
	require.NoError(t, err)
	_, err = orchestrator.HandleReply(ctx, types.Reply{Tag: types.TagRepay, Err: errors.New("insufficient funds")})
	require.ErrorIs(t, err, types.ErrExternalFatal)
}

func TestSagaRedeemReplyBeforeRepayWaitsForRepay(t *testing.T) {
	ctx := context.Background()
	balances, store, orchestrator := retryScenario(t)

	_, err := orchestrator.Start(ctx, ints(10_000), ints(5_000), false)
	require.NoError(t, err)
	step, err := orchestrator.HandleReply(ctx, types.Reply{Tag: types.TagRedeem, Err: temporaryFailure()})
	require.NoError(t, err)
	requireCalls(t, step, repayCall(ints(5_000)), redeemCall(ints(4_000)))

	reads := balances.reads
	step, err = orchestrator.HandleReply(ctx, types.Reply{Tag: types.TagRedeem})
	require.NoError(t, err)
	require.Empty(t, step.Calls, "nothing is planned while the repay leg is unbooked")
	require.False(t, step.Done)
	require.Equal(t, reads, balances.reads)
	require.EqualValues(t, 2, store.progress.IterationIndex)
	requireIntEqual(t, ints(5_000), store.progress.AmountBeingRepaid)
	requireIntEqual(t, ints(10_000), store.progress.RemainingToRepay)

	balances.balances.Receipt = ints(3_000)
	step, err = orchestrator.HandleReply(ctx, types.Reply{Tag: types.TagRepay})
	require.NoError(t, err)
	requireCalls(t, step, repayCall(ints(5_000)), redeemCall(ints(3_000)))
	requireIntEqual(t, ints(5_000), step.Progress.RemainingToRepay)
}

func TestSagaRedemptionFaultSettledByLateRepay(t *testing.T) {
	ctx := context.Background()
	_, store, orchestrator := retryScenario(t)

	_, err := orchestrator.Start(ctx, ints(10_000), ints(5_000), false)
	require.NoError(t, err)
	_, err = orchestrator.HandleReply(ctx, types.Reply{Tag: types.TagRedeem, Err: temporaryFailure()})
	require.NoError(t, err)

	_, err = orchestrator.HandleReply(ctx, types.Reply{Tag: types.TagRedeem, Err: errors.New("contract paused")})
	require.NoError(t, err)
	require.Equal(t, "contract paused", store.progress.RedemptionFault)

	_, err = orchestrator.HandleReply(ctx, types.Reply{Tag: types.TagRepay})
	require.ErrorIs(t, err, types.ErrExternalFatal)
	require.ErrorContains(t, err, "contract paused")
}

func TestSagaBoundReachedBeforeRepayReplyIsClean(t *testing.T) {
	ctx := context.Background()
	balances, store, _ := retryScenario(t)
	orchestrator := NewOrchestrator(balances, store, 2)

	_, err := orchestrator.Start(ctx, ints(10_000), ints(5_000), false)
	require.NoError(t, err)
	_, err = orchestrator.HandleReply(ctx, types.Reply{Tag: types.TagRedeem, Err: temporaryFailure()})
	require.NoError(t, err)

	step, err := orchestrator.HandleReply(ctx, types.Reply{Tag: types.TagRedeem, Err: temporaryFailure()})
	require.NoError(t, err)
	require.False(t, step.Done)

	step, err = orchestrator.HandleReply(ctx, types.Reply{Tag: types.TagRepay})
	require.NoError(t, err)
	require.True(t, step.Done)
	require.True(t, step.Progress.RepaidSomething)
	requireIntEqual(t, ints(5_000), step.Progress.RemainingToRepay)
}

func TestSagaRepayOnlyStepContinuesFromItsReply(t *testing.T) {
	ctx := context.Background()
	balances := &fakeBalances{balances: Balances{
		Stable:       ints(10_000),
		Receipt:      ints(100),
		ExchangeRate: sdkmath.LegacyOneDec(),
		Tax:          zeroTax(t),
	}}
	store := &memProgress{}
	orchestrator := NewOrchestrator(balances, store, 7)

	step, err := orchestrator.Start(ctx, ints(3_000), ints(2_000), false)
	require.NoError(t, err)
	requireCalls(t, step, repayCall(ints(3_000)))

	step, err = orchestrator.HandleReply(ctx, types.Reply{Tag: types.TagRepay})
	require.NoError(t, err)
	require.True(t, step.Done)
	require.True(t, step.Progress.RepaidSomething)
	require.EqualValues(t, 0, step.Progress.IterationIndex)
}

func TestSagaStartOverwritesPreviousProgress(t *testing.T) {
	// A new saga resets the first-attempt flag and forgets earlier repayments.
	ctx := context.Background()
	_, store, orchestrator := retryScenario(t)

	_, err := orchestrator.Start(ctx, ints(10_000), ints(5_000), false)
	require.NoError(t, err)
	_, err = orchestrator.HandleReply(ctx, types.Reply{Tag: types.TagRedeem, Err: temporaryFailure()})
	require.NoError(t, err)
	_, err = orchestrator.HandleReply(ctx, types.Reply{Tag: types.TagRepay})
	require.NoError(t, err)
	require.True(t, store.progress.RepaidSomething)
	require.EqualValues(t, 1, store.progress.IterationIndex)

	step, err := orchestrator.Start(ctx, ints(8_000), ints(5_000), false)
	require.NoError(t, err)
	require.True(t, step.Progress.IsFirstAttempt())
	require.False(t, step.Progress.RepaidSomething)
	requireIntEqual(t, ints(8_000), step.Progress.RemainingToRepay)
	require.Equal(t, types.PlanSellReceipt, step.Plan.Kind)
}

func TestSagaRejectsUnknownReplies(t *testing.T) {
	ctx := context.Background()
	_, _, orchestrator := retryScenario(t)

	_, err := orchestrator.HandleReply(ctx, types.Reply{Tag: types.TagRedeem})
	require.ErrorIs(t, err, ErrNoRepayment)

	_, err = orchestrator.Start(ctx, ints(10_000), ints(5_000), false)
	require.NoError(t, err)
	_, err = orchestrator.HandleReply(ctx, types.Reply{Tag: types.TagClaim})
	require.ErrorIs(t, err, ErrUnknownTag)
}

func TestSagaZeroAmountFinishesImmediately(t *testing.T) {
	balances, store, orchestrator := retryScenario(t)
	step, err := orchestrator.Start(context.Background(), sdkmath.ZeroInt(), sdkmath.ZeroInt(), true)
	require.NoError(t, err)
	require.True(t, step.Done)
	require.True(t, store.progress.Unwind)
	require.Zero(t, balances.reads)
}
