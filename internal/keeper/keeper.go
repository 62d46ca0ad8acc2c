/*

This file contains the keeper: the scheduler that fires the permissionless triggers on a cron
schedule. Rebalance runs often; harvest runs on the policy's harvest cadence and is additionally
rate limited by the engine itself.

*/

package keeper

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/elys-network/cdpvault/internal/logger"
	"github.com/elys-network/cdpvault/internal/types"
	"github.com/elys-network/cdpvault/internal/vault"
)

// Triggers is what the keeper drives. *vault.Engine satisfies it.
type Triggers interface {
	Rebalance(ctx context.Context) (vault.Outcome, error)
	HarvestRewards(ctx context.Context) (vault.Outcome, error)
}

// Config holds the configuration for creating a new Keeper.
type Config struct {
	Triggers          Triggers
	RebalanceSchedule string // six-field cron expression, seconds first
	HarvestSchedule   string // empty disables scheduled harvests
}

// Keeper runs the scheduled triggers.
type Keeper struct {
	logger   zerolog.Logger
	triggers Triggers
	cron     *cron.Cron

	rebalanceSchedule string
	harvestSchedule   string
	cycleCount        int
}

// NewKeeper creates a new Keeper and registers its jobs.
func NewKeeper(cfg Config) (*Keeper, error) {
	if err := validateKeeperConfig(cfg); err != nil {
		return nil, fmt.Errorf("keeper configuration validation failed: %w", err)
	}

	k := &Keeper{
		logger:            logger.GetForComponent("keeper"),
		triggers:          cfg.Triggers,
		rebalanceSchedule: cfg.RebalanceSchedule,
		harvestSchedule:   cfg.HarvestSchedule,
	}
	// Overlapping runs would only queue behind the engine's lock.
	k.cron = cron.New(
		cron.WithSeconds(),
		cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)),
	)

	if _, err := k.cron.AddFunc(cfg.RebalanceSchedule, func() { k.RunRebalance(context.Background()) }); err != nil {
		return nil, fmt.Errorf("invalid rebalance schedule %q: %w", cfg.RebalanceSchedule, err)
	}
	if cfg.HarvestSchedule != "" {
		if _, err := k.cron.AddFunc(cfg.HarvestSchedule, func() { k.RunHarvest(context.Background()) }); err != nil {
			return nil, fmt.Errorf("invalid harvest schedule %q: %w", cfg.HarvestSchedule, err)
		}
	}

	k.logger.Info().
		Str("rebalanceSchedule", cfg.RebalanceSchedule).
		Str("harvestSchedule", cfg.HarvestSchedule).
		Msg("Keeper created")
	return k, nil
}

func validateKeeperConfig(cfg Config) error {
	if cfg.Triggers == nil {
		return errors.New("triggers cannot be nil")
	}
	if cfg.RebalanceSchedule == "" {
		return errors.New("rebalance schedule cannot be empty")
	}
	return nil
}

// RunLoop runs a first rebalance immediately, then the schedule until ctx is done.
func (k *Keeper) RunLoop(ctx context.Context) {
	k.logger.Info().Msg("Starting keeper loop")
	k.RunRebalance(ctx)

	k.cron.Start()
	<-ctx.Done()

	stopped := k.cron.Stop()
	<-stopped.Done()
	k.logger.Info().Msg("Keeper loop stopped due to context cancellation")
}

// RunRebalance fires one rebalance and logs its outcome.
func (k *Keeper) RunRebalance(ctx context.Context) {
	k.cycleCount++
	cycleLogger := k.cycleLogger()
	cycleLogger.Info().Msg("Initiating rebalance cycle")

	outcome, err := k.triggers.Rebalance(ctx)
	if err != nil {
		cycleLogger.Error().Err(err).Msg("Rebalance cycle failed")
		return
	}
	cycleLogger.Info().
		Str("runId", outcome.RunID).
		Str("action", outcome.Action).
		Int("calls", len(outcome.Calls)).
		Msg("Rebalance cycle completed")
}

// RunHarvest fires one harvest. An interval that has not elapsed is not an error for the keeper.
func (k *Keeper) RunHarvest(ctx context.Context) {
	cycleLogger := k.cycleLogger()
	outcome, err := k.triggers.HarvestRewards(ctx)
	switch {
	case errors.Is(err, types.ErrHarvestTooEarly):
		cycleLogger.Debug().Msg("Harvest skipped, interval has not elapsed")
	case err != nil:
		cycleLogger.Error().Err(err).Msg("Harvest failed")
	default:
		cycleLogger.Info().Str("runId", outcome.RunID).Int("calls", len(outcome.Calls)).Msg("Harvest completed")
	}
}

func (k *Keeper) cycleLogger() zerolog.Logger {
	return k.logger.With().Str("cycle_id", uuid.New().String()).Int("cycle", k.cycleCount).Logger()
}

// Cycles returns how many rebalance cycles have been started.
func (k *Keeper) Cycles() int {
	return k.cycleCount
}
