package state

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/elys-network/cdpvault/internal/types"
	"github.com/elys-network/cdpvault/internal/utils"
)

// vaultLockKey serializes units of work across every keeper sharing the database.
const vaultLockKey int64 = 0x63647076 // "cdpv"

// PostgresStore runs each unit of work in one transaction.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) (*PostgresStore, error) {
	if db == nil {
		return nil, ErrDBNotInitialized
	}
	return &PostgresStore{db: db}, nil
}

func (s *PostgresStore) Atomic(ctx context.Context, fn func(Session) error) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			tx.Rollback()
			panic(p) // Re-panic after rollback
		} else if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
				stateLogger.Error().Err(rbErr).Msg("Failed to roll back unit of work")
			}
		}
	}()

	if _, err = tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1);`, vaultLockKey); err != nil {
		return fmt.Errorf("failed to take vault lock: %w", err)
	}
	if err = fn(&pgSession{tx: tx}); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

type pgSession struct {
	tx *sql.Tx
}

func (s *pgSession) LoadPolicy(ctx context.Context) (types.Policy, error) {
	query := `
		SELECT ltv_aim, ltv_min, ltv_max, collateral_max_ltv, buffer_part,
			price_timeframe_seconds, stable_denom, max_iterations,
			over_loan_balance_value, harvest_interval_seconds, governance
		FROM vault_policy
		WHERE id = 1;`

	var (
		ltvAim, ltvMin, ltvMax, collateralMax, buffer, overLoan string
		timeframeSeconds, harvestSeconds                        int64
		maxIterations                                           int16
		p                                                       types.Policy
	)
	err := s.tx.QueryRowContext(ctx, query).Scan(
		&ltvAim, &ltvMin, &ltvMax, &collateralMax, &buffer,
		&timeframeSeconds, &p.StableDenom, &maxIterations,
		&overLoan, &harvestSeconds, &p.Governance,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return types.Policy{}, ErrNotFound
	}
	if err != nil {
		return types.Policy{}, fmt.Errorf("failed to scan vault policy: %w", err)
	}

	decs := []struct {
		raw  string
		into *sdkmath.LegacyDec
	}{
		{ltvAim, &p.LTVAim}, {ltvMin, &p.LTVMin}, {ltvMax, &p.LTVMax},
		{collateralMax, &p.CollateralMaxLTV}, {buffer, &p.BufferPart}, {overLoan, &p.OverLoanBalanceValue},
	}
	for _, d := range decs {
		if *d.into, err = utils.ParseDec(d.raw); err != nil {
			return types.Policy{}, fmt.Errorf("corrupt vault policy: %w", err)
		}
	}
	p.PriceTimeframe = time.Duration(timeframeSeconds) * time.Second
	p.HarvestInterval = time.Duration(harvestSeconds) * time.Second
	p.MaxIterations = uint8(maxIterations)
	return p, nil
}

func (s *pgSession) SavePolicy(ctx context.Context, p types.Policy) error {
	stmt := `
		INSERT INTO vault_policy (
			id, ltv_aim, ltv_min, ltv_max, collateral_max_ltv, buffer_part,
			price_timeframe_seconds, stable_denom, max_iterations,
			over_loan_balance_value, harvest_interval_seconds, governance, updated_at
		) VALUES (1, $1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, CURRENT_TIMESTAMP)
		ON CONFLICT (id) DO UPDATE SET
			ltv_aim = EXCLUDED.ltv_aim,
			ltv_min = EXCLUDED.ltv_min,
			ltv_max = EXCLUDED.ltv_max,
			collateral_max_ltv = EXCLUDED.collateral_max_ltv,
			buffer_part = EXCLUDED.buffer_part,
			price_timeframe_seconds = EXCLUDED.price_timeframe_seconds,
			stable_denom = EXCLUDED.stable_denom,
			max_iterations = EXCLUDED.max_iterations,
			over_loan_balance_value = EXCLUDED.over_loan_balance_value,
			harvest_interval_seconds = EXCLUDED.harvest_interval_seconds,
			governance = EXCLUDED.governance,
			updated_at = CURRENT_TIMESTAMP;`

	_, err := s.tx.ExecContext(ctx, stmt,
		p.LTVAim.String(), p.LTVMin.String(), p.LTVMax.String(), p.CollateralMaxLTV.String(), p.BufferPart.String(),
		int64(p.PriceTimeframe/time.Second), p.StableDenom, int16(p.MaxIterations),
		p.OverLoanBalanceValue.String(), int64(p.HarvestInterval/time.Second), p.Governance,
	)
	if err != nil {
		return fmt.Errorf("failed to save vault policy: %w", err)
	}
	return nil
}

func (s *pgSession) LoadRepayment(ctx context.Context) (types.RepaymentProgress, bool, error) {
	query := `
		SELECT iteration_index, repaid_something, remaining_to_repay, amount_being_repaid,
			target_buffer, redemption_pending, unwind, redemption_fault
		FROM repayment_progress
		WHERE id = 1;`

	var (
		iteration                   int16
		remaining, inFlight, buffer string
		p                           types.RepaymentProgress
	)
	err := s.tx.QueryRowContext(ctx, query).Scan(
		&iteration, &p.RepaidSomething, &remaining, &inFlight,
		&buffer, &p.RedemptionPending, &p.Unwind, &p.RedemptionFault,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return types.RepaymentProgress{}, false, nil
	}
	if err != nil {
		return types.RepaymentProgress{}, false, fmt.Errorf("failed to scan repayment progress: %w", err)
	}

	p.IterationIndex = uint8(iteration)
	if p.RemainingToRepay, err = utils.ParseInt(remaining); err != nil {
		return types.RepaymentProgress{}, false, fmt.Errorf("corrupt remaining_to_repay: %w", err)
	}
	if p.AmountBeingRepaid, err = utils.ParseInt(inFlight); err != nil {
		return types.RepaymentProgress{}, false, fmt.Errorf("corrupt amount_being_repaid: %w", err)
	}
	if p.TargetBuffer, err = utils.ParseInt(buffer); err != nil {
		return types.RepaymentProgress{}, false, fmt.Errorf("corrupt target_buffer: %w", err)
	}
	return p, true, nil
}

func (s *pgSession) SaveRepayment(ctx context.Context, p types.RepaymentProgress) error {
	stmt := `
		INSERT INTO repayment_progress (
			id, iteration_index, repaid_something, remaining_to_repay, amount_being_repaid,
			target_buffer, redemption_pending, unwind, redemption_fault, updated_at
		) VALUES (1, $1, $2, $3, $4, $5, $6, $7, $8, CURRENT_TIMESTAMP)
		ON CONFLICT (id) DO UPDATE SET
			iteration_index = EXCLUDED.iteration_index,
			repaid_something = EXCLUDED.repaid_something,
			remaining_to_repay = EXCLUDED.remaining_to_repay,
			amount_being_repaid = EXCLUDED.amount_being_repaid,
			target_buffer = EXCLUDED.target_buffer,
			redemption_pending = EXCLUDED.redemption_pending,
			unwind = EXCLUDED.unwind,
			redemption_fault = EXCLUDED.redemption_fault,
			updated_at = CURRENT_TIMESTAMP;`

	_, err := s.tx.ExecContext(ctx, stmt,
		int16(p.IterationIndex), p.RepaidSomething, intString(p.RemainingToRepay), intString(p.AmountBeingRepaid),
		intString(p.TargetBuffer), p.RedemptionPending, p.Unwind, p.RedemptionFault,
	)
	if err != nil {
		return fmt.Errorf("failed to save repayment progress: %w", err)
	}
	return nil
}

func (s *pgSession) LoadLastHarvest(ctx context.Context) (time.Time, bool, error) {
	var at time.Time
	err := s.tx.QueryRowContext(ctx, `SELECT last_harvest_at FROM harvest_state WHERE id = 1;`).Scan(&at)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("failed to scan harvest state: %w", err)
	}
	return at, true, nil
}

func (s *pgSession) SaveLastHarvest(ctx context.Context, at time.Time) error {
	stmt := `
		INSERT INTO harvest_state (id, last_harvest_at) VALUES (1, $1)
		ON CONFLICT (id) DO UPDATE SET last_harvest_at = EXCLUDED.last_harvest_at;`
	if _, err := s.tx.ExecContext(ctx, stmt, at.UTC()); err != nil {
		return fmt.Errorf("failed to save harvest state: %w", err)
	}
	return nil
}

func (s *pgSession) LoadAccountedCollateral(ctx context.Context) (sdkmath.Int, bool, error) {
	var raw string
	err := s.tx.QueryRowContext(ctx, `SELECT collateral FROM vault_accounting WHERE id = 1;`).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return sdkmath.ZeroInt(), false, nil
	}
	if err != nil {
		return sdkmath.ZeroInt(), false, fmt.Errorf("failed to scan vault accounting: %w", err)
	}
	amount, err := utils.ParseInt(raw)
	if err != nil {
		return sdkmath.ZeroInt(), false, fmt.Errorf("corrupt accounted collateral: %w", err)
	}
	return amount, true, nil
}

func (s *pgSession) SaveAccountedCollateral(ctx context.Context, amount sdkmath.Int) error {
	stmt := `
		INSERT INTO vault_accounting (id, collateral, updated_at) VALUES (1, $1, CURRENT_TIMESTAMP)
		ON CONFLICT (id) DO UPDATE SET collateral = EXCLUDED.collateral, updated_at = CURRENT_TIMESTAMP;`
	if _, err := s.tx.ExecContext(ctx, stmt, intString(amount)); err != nil {
		return fmt.Errorf("failed to save vault accounting: %w", err)
	}
	return nil
}

func (s *pgSession) LoadDepositCredit(ctx context.Context, depositor string) (sdkmath.Int, error) {
	var raw string
	err := s.tx.QueryRowContext(ctx, `SELECT amount FROM deposit_credits WHERE depositor = $1;`, depositor).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return sdkmath.ZeroInt(), nil
	}
	if err != nil {
		return sdkmath.ZeroInt(), fmt.Errorf("failed to scan deposit credit: %w", err)
	}
	amount, err := utils.ParseInt(raw)
	if err != nil {
		return sdkmath.ZeroInt(), fmt.Errorf("corrupt deposit credit for %s: %w", depositor, err)
	}
	return amount, nil
}

func (s *pgSession) SaveDepositCredit(ctx context.Context, depositor string, amount sdkmath.Int) error {
	stmt := `
		INSERT INTO deposit_credits (depositor, amount, updated_at) VALUES ($1, $2, CURRENT_TIMESTAMP)
		ON CONFLICT (depositor) DO UPDATE SET amount = EXCLUDED.amount, updated_at = CURRENT_TIMESTAMP;`
	if _, err := s.tx.ExecContext(ctx, stmt, depositor, intString(amount)); err != nil {
		return fmt.Errorf("failed to save deposit credit: %w", err)
	}
	return nil
}
