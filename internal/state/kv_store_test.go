package state

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/elys-network/cdpvault/internal/storage"
	"github.com/elys-network/cdpvault/internal/types"
	"github.com/stretchr/testify/require"
)

func testPolicy() types.Policy {
	return types.Policy{
		LTVAim:               sdkmath.LegacyMustNewDecFromStr("0.8"),
		LTVMin:               sdkmath.LegacyMustNewDecFromStr("0.75"),
		LTVMax:               sdkmath.LegacyMustNewDecFromStr("0.85"),
		CollateralMaxLTV:     sdkmath.LegacyMustNewDecFromStr("0.5"),
		BufferPart:           sdkmath.LegacyMustNewDecFromStr("0.018"),
		PriceTimeframe:       time.Minute,
		StableDenom:          "uusd",
		MaxIterations:        7,
		OverLoanBalanceValue: sdkmath.LegacyMustNewDecFromStr("1.01"),
		HarvestInterval:      8 * time.Hour,
		Governance:           "gov",
	}
}

func newStores(t *testing.T) map[string]*KVStore {
	ldb, err := storage.NewLevelDB(filepath.Join(t.TempDir(), "state"))
	require.NoError(t, err)
	t.Cleanup(ldb.Close)
	return map[string]*KVStore{
		"mem":     NewKVStore(storage.NewMemDB()),
		"leveldb": NewKVStore(ldb),
	}
}

func TestKVStoreCommitsSession(t *testing.T) {
	ctx := context.Background()
	for name, store := range newStores(t) {
		t.Run(name, func(t *testing.T) {
			harvestedAt := time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC)
			progress := types.NewRepaymentProgress(sdkmath.NewInt(57_750), sdkmath.NewInt(10_395), false)
			progress.IterationIndex = 2

			require.NoError(t, store.Atomic(ctx, func(s Session) error {
				_, err := s.LoadPolicy(ctx)
				require.ErrorIs(t, err, ErrNotFound)
				_, found, err := s.LoadRepayment(ctx)
				require.NoError(t, err)
				require.False(t, found)

				require.NoError(t, s.SavePolicy(ctx, testPolicy()))
				require.NoError(t, s.SaveRepayment(ctx, progress))
				require.NoError(t, s.SaveLastHarvest(ctx, harvestedAt))

				// Reads inside the session see its own writes.
				got, err := s.LoadPolicy(ctx)
				require.NoError(t, err)
				require.Equal(t, "gov", got.Governance)
				return nil
			}))

			require.NoError(t, store.Atomic(ctx, func(s Session) error {
				policy, err := s.LoadPolicy(ctx)
				require.NoError(t, err)
				require.True(t, policy.BufferPart.Equal(sdkmath.LegacyMustNewDecFromStr("0.018")))
				require.Equal(t, time.Minute, policy.PriceTimeframe)
				require.EqualValues(t, 7, policy.MaxIterations)

				got, found, err := s.LoadRepayment(ctx)
				require.NoError(t, err)
				require.True(t, found)
				require.EqualValues(t, 2, got.IterationIndex)
				require.True(t, got.RemainingToRepay.Equal(sdkmath.NewInt(57_750)))

				at, found, err := s.LoadLastHarvest(ctx)
				require.NoError(t, err)
				require.True(t, found)
				require.True(t, at.Equal(harvestedAt))
				return nil
			}))
		})
	}
}

func TestKVStoreRollsBackFailedSession(t *testing.T) {
	ctx := context.Background()
	boom := errors.New("boom")
	for name, store := range newStores(t) {
		t.Run(name, func(t *testing.T) {
			err := store.Atomic(ctx, func(s Session) error {
				require.NoError(t, s.SavePolicy(ctx, testPolicy()))
				return boom
			})
			require.ErrorIs(t, err, boom)

			require.NoError(t, store.Atomic(ctx, func(s Session) error {
				_, err := s.LoadPolicy(ctx)
				require.ErrorIs(t, err, ErrNotFound)
				return nil
			}))
		})
	}
}

func TestKVStoreKeepsDepositAccounting(t *testing.T) {
	ctx := context.Background()
	for name, store := range newStores(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, store.Atomic(ctx, func(s Session) error {
				accounted, found, err := s.LoadAccountedCollateral(ctx)
				require.NoError(t, err)
				require.False(t, found)
				require.True(t, accounted.IsZero())
				credit, err := s.LoadDepositCredit(ctx, "elys1alice")
				require.NoError(t, err)
				require.True(t, credit.IsZero())

				require.NoError(t, s.SaveAccountedCollateral(ctx, sdkmath.NewInt(1_500)))
				require.NoError(t, s.SaveDepositCredit(ctx, "elys1alice", sdkmath.NewInt(1_000)))
				require.NoError(t, s.SaveDepositCredit(ctx, "elys1bob", sdkmath.NewInt(500)))
				return nil
			}))

			require.NoError(t, store.Atomic(ctx, func(s Session) error {
				accounted, found, err := s.LoadAccountedCollateral(ctx)
				require.NoError(t, err)
				require.True(t, found)
				require.True(t, accounted.Equal(sdkmath.NewInt(1_500)))

				credit, err := s.LoadDepositCredit(ctx, "elys1alice")
				require.NoError(t, err)
				require.True(t, credit.Equal(sdkmath.NewInt(1_000)))
				credit, err = s.LoadDepositCredit(ctx, "elys1bob")
				require.NoError(t, err)
				require.True(t, credit.Equal(sdkmath.NewInt(500)))
				return nil
			}))
		})
	}
}

func TestKVStoreJournalNewestFirst(t *testing.T) {
	ctx := context.Background()
	for name, store := range newStores(t) {
		t.Run(name, func(t *testing.T) {
			for run := 0; run < 3; run++ {
				var entries []types.JournalEntry
				for step := 0; step < 5; step++ {
					entries = append(entries, types.JournalEntry{
						RunID:   fmt.Sprintf("run-%d", run),
						Trigger: "rebalance",
						Step:    step,
						Kind:    types.CallRepay,
						Amount:  sdkmath.NewInt(int64(step)),
						Success: true,
					})
				}
				require.NoError(t, store.AppendJournal(ctx, entries))
			}

			recent, err := store.RecentJournal(ctx, 7)
			require.NoError(t, err)
			require.Len(t, recent, 7)
			require.Equal(t, "run-2", recent[0].RunID)
			require.Equal(t, 4, recent[0].Step)
			require.Equal(t, "run-1", recent[6].RunID)
			require.Equal(t, 3, recent[6].Step)

			all, err := store.RecentJournal(ctx, 0)
			require.NoError(t, err)
			require.Len(t, all, 15)
		})
	}
}
