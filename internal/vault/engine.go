/*

This file contains the vault engine. Every trigger runs as one unit of work: the engine takes the
single-writer lock, opens a store session, plans, executes the resulting calls depth-first and
commits. A fatal error rolls the session back and runs the compensation log.

*/

package vault

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/elys-network/cdpvault/internal/logger"
	"github.com/elys-network/cdpvault/internal/metrics"
	"github.com/elys-network/cdpvault/internal/saga"
	"github.com/elys-network/cdpvault/internal/state"
	"github.com/elys-network/cdpvault/internal/types"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	defaultMaxCallsPerUnit = 256
	// cleanupTimeout bounds compensations and the journal write after the trigger's context is gone.
	cleanupTimeout = 2 * time.Minute
)

var ErrCallBudgetExceeded = errors.New("unit of work issued too many calls")

// Trigger names, also used as journal and metric labels.
const (
	TriggerRebalance      = "rebalance"
	TriggerHarvest        = "harvest_rewards"
	TriggerClaimRemainder = "claim_remainder"
	TriggerUpdateConfig   = "update_config"
	TriggerDeposit        = "deposit"
	TriggerWithdraw       = "withdraw"
)

// Engine is the rebalancing and repayment engine of one vault.
type Engine struct {
	mu sync.Mutex

	collab  Collaborators
	store   state.Store
	metrics *metrics.VaultMetrics
	now     func() time.Time
	logger  zerolog.Logger

	maxCalls           int
	stableExponent     int
	collateralExponent int
}

// Config holds the configuration for creating a new Engine.
type Config struct {
	Collaborators Collaborators
	Store         state.Store
	Metrics       *metrics.VaultMetrics // optional
	Now           func() time.Time      // defaults to time.Now

	MaxCallsPerUnit    int
	StableExponent     int
	CollateralExponent int
}

// Outcome describes what one trigger did.
type Outcome struct {
	RunID    string                   `json:"run_id"`
	Trigger  string                   `json:"trigger"`
	Action   string                   `json:"action,omitempty"`
	Calls    []types.Call             `json:"calls"`
	Progress *types.RepaymentProgress `json:"progress,omitempty"`
}

// VaultState is the persisted state as seen by readers.
type VaultState struct {
	Policy      types.Policy             `json:"policy"`
	Repayment   *types.RepaymentProgress `json:"repayment,omitempty"`
	LastHarvest *time.Time               `json:"last_harvest,omitempty"`
}

func NewEngine(cfg Config) (*Engine, error) {
	if err := validateEngineConfig(cfg); err != nil {
		return nil, fmt.Errorf("engine configuration validation failed: %w", err)
	}

	e := &Engine{
		collab:             cfg.Collaborators,
		store:              cfg.Store,
		metrics:            cfg.Metrics,
		now:                cfg.Now,
		logger:             logger.GetForComponent("vault_engine"),
		maxCalls:           cfg.MaxCallsPerUnit,
		stableExponent:     cfg.StableExponent,
		collateralExponent: cfg.CollateralExponent,
	}
	if e.now == nil {
		e.now = time.Now
	}
	if e.maxCalls == 0 {
		e.maxCalls = defaultMaxCallsPerUnit
	}
	return e, nil
}

func validateEngineConfig(cfg Config) error {
	if err := validateCollaborators(cfg.Collaborators); err != nil {
		return err
	}
	if cfg.Store == nil {
		return errors.New("store cannot be nil")
	}
	if cfg.MaxCallsPerUnit < 0 {
		return errors.New("max calls per unit cannot be negative")
	}
	if cfg.StableExponent < 0 || cfg.StableExponent > 18 {
		return fmt.Errorf("stable exponent %d must be between 0 and 18", cfg.StableExponent)
	}
	if cfg.CollateralExponent < 0 || cfg.CollateralExponent > 18 {
		return fmt.Errorf("collateral exponent %d must be between 0 and 18", cfg.CollateralExponent)
	}
	return nil
}

// EnsurePolicy stores def if no policy exists yet and returns the policy in effect.
func (e *Engine) EnsurePolicy(ctx context.Context, def types.Policy) (types.Policy, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	var effective types.Policy
	err := e.store.Atomic(ctx, func(s state.Session) error {
		policy, err := s.LoadPolicy(ctx)
		if err == nil {
			effective = policy
			return nil
		}
		if !errors.Is(err, state.ErrNotFound) {
			return err
		}
		if err := def.Validate(); err != nil {
			return err
		}
		effective = def
		e.logger.Info().Str("governance", def.Governance).Msg("No stored policy, seeding default")
		return s.SavePolicy(ctx, def)
	})
	return effective, err
}

// State reads back the persisted policy, repayment progress and harvest clock.
func (e *Engine) State(ctx context.Context) (VaultState, error) {
	var vs VaultState
	err := e.store.Atomic(ctx, func(s state.Session) error {
		policy, err := s.LoadPolicy(ctx)
		if err != nil {
			return fmt.Errorf("failed to load policy: %w", err)
		}
		vs.Policy = policy

		progress, found, err := s.LoadRepayment(ctx)
		if err != nil {
			return err
		}
		if found {
			vs.Repayment = &progress
		}

		at, found, err := s.LoadLastHarvest(ctx)
		if err != nil {
			return err
		}
		if found {
			vs.LastHarvest = &at
		}
		return nil
	})
	return vs, err
}

// Journal returns up to limit journal entries, newest first.
func (e *Engine) Journal(ctx context.Context, limit int) ([]types.JournalEntry, error) {
	return e.store.RecentJournal(ctx, limit)
}

// run executes one trigger as a unit of work.
func (e *Engine) run(ctx context.Context, trigger string, plan func(ctx context.Context, u *unit) ([]types.Call, error)) (Outcome, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	started := e.now()
	runID := uuid.New().String()
	runLogger := e.logger.With().Str("run_id", runID).Str("trigger", trigger).Logger()
	runLogger.Info().Msg("--- Starting unit of work ---")

	u := &unit{
		engine:  e,
		runID:   runID,
		trigger: trigger,
		logger:  runLogger,
	}

	err := e.store.Atomic(ctx, func(session state.Session) error {
		policy, err := session.LoadPolicy(ctx)
		if err != nil {
			return fmt.Errorf("failed to load policy: %w", err)
		}
		u.session = session
		u.policy = policy
		u.saga = saga.NewOrchestrator(u, session, policy.MaxIterations).WithLogger(runLogger)

		calls, err := plan(ctx, u)
		if err != nil {
			return err
		}
		return u.execute(ctx, calls)
	})

	// Compensations and the journal must run even when the caller has gone away.
	cleanupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cleanupTimeout)
	defer cancel()

	if err != nil {
		if u.progress != nil {
			e.metrics.ObserveSagaFailure()
		}
		runLogger.Error().Err(err).Int("executedCalls", len(u.executed)).Msg("Unit of work failed, state rolled back")
		u.compensate(cleanupCtx)
	} else {
		e.observePosition(ctx, runLogger)
	}

	u.recordOutcome(err)
	if jerr := e.store.AppendJournal(cleanupCtx, u.journal); jerr != nil {
		runLogger.Error().Err(jerr).Msg("Failed to append journal")
	}
	e.metrics.ObserveTrigger(trigger, err, e.now().Sub(started))

	runLogger.Info().
		Dur("duration", e.now().Sub(started)).
		Int("calls", len(u.executed)).
		Bool("success", err == nil).
		Msg("--- Unit of work finished ---")

	return Outcome{
		RunID:    runID,
		Trigger:  trigger,
		Action:   u.action,
		Calls:    u.executed,
		Progress: u.progress,
	}, err
}

func (e *Engine) observePosition(ctx context.Context, l zerolog.Logger) {
	if e.metrics == nil {
		return
	}
	loan, err := e.collab.Market.LoanAmount(ctx)
	if err != nil {
		l.Warn().Err(err).Msg("Failed to read loan for metrics")
		return
	}
	locked, err := e.collab.Custody.LockedCollateral(ctx)
	if err != nil {
		l.Warn().Err(err).Msg("Failed to read locked collateral for metrics")
		return
	}
	e.metrics.SetPosition(loan, e.stableExponent, locked, e.collateralExponent)
}

func orZero(i sdkmath.Int) sdkmath.Int {
	if i.IsNil() {
		return sdkmath.ZeroInt()
	}
	return i
}

func saturatingSub(a, b sdkmath.Int) sdkmath.Int {
	if a.LTE(b) {
		return sdkmath.ZeroInt()
	}
	return a.Sub(b)
}
