package keeper

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/elys-network/cdpvault/internal/types"
	"github.com/elys-network/cdpvault/internal/vault"
)

type fakeTriggers struct {
	mu         sync.Mutex
	rebalances int
	harvests   int
	harvestErr error
}

func (f *fakeTriggers) Rebalance(context.Context) (vault.Outcome, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rebalances++
	return vault.Outcome{RunID: "run", Trigger: "rebalance", Action: "nothing"}, nil
}

func (f *fakeTriggers) HarvestRewards(context.Context) (vault.Outcome, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.harvests++
	return vault.Outcome{RunID: "run", Trigger: "harvest_rewards"}, f.harvestErr
}

func (f *fakeTriggers) counts() (int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.rebalances, f.harvests
}

func TestNewKeeperValidates(t *testing.T) {
	_, err := NewKeeper(Config{RebalanceSchedule: "* * * * * *"})
	require.Error(t, err)

	_, err = NewKeeper(Config{Triggers: &fakeTriggers{}})
	require.Error(t, err)

	_, err = NewKeeper(Config{Triggers: &fakeTriggers{}, RebalanceSchedule: "not a schedule"})
	require.ErrorContains(t, err, "invalid rebalance schedule")

	_, err = NewKeeper(Config{Triggers: &fakeTriggers{}, RebalanceSchedule: "0 */10 * * * *", HarvestSchedule: "bad"})
	require.ErrorContains(t, err, "invalid harvest schedule")
}

func TestRunLoopRebalancesImmediatelyAndStops(t *testing.T) {
	triggers := &fakeTriggers{}
	// Yearly schedule: only the immediate run can fire during the test.
	k, err := NewKeeper(Config{Triggers: triggers, RebalanceSchedule: "0 0 0 1 1 *"})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		k.RunLoop(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool {
		rebalances, _ := triggers.counts()
		return rebalances == 1
	}, time.Second, 10*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("keeper loop did not stop")
	}
	require.Equal(t, 1, k.Cycles())
}

func TestRunHarvestToleratesEarlyHarvest(t *testing.T) {
	triggers := &fakeTriggers{harvestErr: types.ErrHarvestTooEarly}
	k, err := NewKeeper(Config{Triggers: triggers, RebalanceSchedule: "0 0 0 1 1 *", HarvestSchedule: "0 0 */8 * * *"})
	require.NoError(t, err)

	k.RunHarvest(context.Background())
	triggers.harvestErr = errors.New("claim failed")
	k.RunHarvest(context.Background())

	_, harvests := triggers.counts()
	require.Equal(t, 2, harvests)
	require.Zero(t, k.Cycles())
}
