package state

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/rs/zerolog/log"
)

// DB is a global database connection pool.
var DB *sql.DB

// DBConfig holds database connection parameters.
type DBConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string // "disable", "require", "verify-full", etc.
}

// InitDB initializes the database connection pool.
func InitDB(cfg DBConfig) error {
	psqlInfo := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.DBName, cfg.SSLMode)

	var err error
	DB, err = sql.Open("postgres", psqlInfo)
	if err != nil {
		return fmt.Errorf("failed to open database connection: %w", err)
	}

	DB.SetMaxOpenConns(25)
	DB.SetMaxIdleConns(25)
	DB.SetConnMaxLifetime(5 * time.Minute)

	err = DB.Ping()
	if err != nil {
		DB.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	log.Info().Msg("Successfully connected to the PostgreSQL database!")
	return nil
}

// CloseDB closes the database connection pool.
func CloseDB() {
	if DB != nil {
		log.Info().Msg("Closing database connection...")
		if err := DB.Close(); err != nil {
			log.Error().Err(err).Msg("Error closing database connection")
		}
	}
}

// EnsureSchema applies the necessary DDL to create tables if they don't exist.
func EnsureSchema() error {
	if DB == nil {
		return ErrDBNotInitialized
	}

	schemaSQL := `
		CREATE TABLE IF NOT EXISTS vault_policy (
			id INTEGER PRIMARY KEY DEFAULT 1,
			ltv_aim NUMERIC NOT NULL,
			ltv_min NUMERIC NOT NULL,
			ltv_max NUMERIC NOT NULL,
			collateral_max_ltv NUMERIC NOT NULL,
			buffer_part NUMERIC NOT NULL,
			price_timeframe_seconds BIGINT NOT NULL,
			stable_denom TEXT NOT NULL,
			max_iterations SMALLINT NOT NULL,
			over_loan_balance_value NUMERIC NOT NULL,
			harvest_interval_seconds BIGINT NOT NULL,
			governance TEXT NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
			CONSTRAINT vault_policy_single_row CHECK (id = 1)
		);

		-- Present only once a repayment saga has run; every new saga overwrites it.
		CREATE TABLE IF NOT EXISTS repayment_progress (
			id INTEGER PRIMARY KEY DEFAULT 1,
			iteration_index SMALLINT NOT NULL DEFAULT 0,
			repaid_something BOOLEAN NOT NULL DEFAULT FALSE,
			remaining_to_repay NUMERIC NOT NULL DEFAULT 0,
			amount_being_repaid NUMERIC NOT NULL DEFAULT 0,
			target_buffer NUMERIC NOT NULL DEFAULT 0,
			redemption_pending BOOLEAN NOT NULL DEFAULT FALSE,
			unwind BOOLEAN NOT NULL DEFAULT FALSE,
			redemption_fault TEXT NOT NULL DEFAULT '',
			updated_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
			CONSTRAINT repayment_progress_single_row CHECK (id = 1)
		);
		ALTER TABLE repayment_progress ADD COLUMN IF NOT EXISTS redemption_fault TEXT NOT NULL DEFAULT '';

		CREATE TABLE IF NOT EXISTS harvest_state (
			id INTEGER PRIMARY KEY DEFAULT 1,
			last_harvest_at TIMESTAMPTZ NOT NULL,
			CONSTRAINT harvest_state_single_row CHECK (id = 1)
		);

		CREATE TABLE IF NOT EXISTS vault_accounting (
			id INTEGER PRIMARY KEY DEFAULT 1,
			collateral NUMERIC NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
			CONSTRAINT vault_accounting_single_row CHECK (id = 1)
		);

		CREATE TABLE IF NOT EXISTS deposit_credits (
			depositor TEXT PRIMARY KEY,
			amount NUMERIC NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
		);

		CREATE TABLE IF NOT EXISTS saga_journal (
			entry_id BIGSERIAL PRIMARY KEY,
			run_id TEXT NOT NULL,
			trigger_name VARCHAR(50) NOT NULL,
			step INTEGER NOT NULL,
			call_kind VARCHAR(50) NOT NULL,
			call_tag VARCHAR(50) NOT NULL DEFAULT '',
			amount NUMERIC NOT NULL DEFAULT 0,
			success BOOLEAN NOT NULL,
			compensation BOOLEAN NOT NULL DEFAULT FALSE,
			message TEXT,
			created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
		);
		CREATE INDEX IF NOT EXISTS idx_saga_journal_run_id ON saga_journal(run_id);
		CREATE INDEX IF NOT EXISTS idx_saga_journal_created_at ON saga_journal(created_at DESC);
	`
	_, err := DB.Exec(schemaSQL)
	if err != nil {
		return fmt.Errorf("failed to execute schema DDL: %w", err)
	}
	log.Info().Msg("Database schema ensured.")
	return nil
}

// ResetSagaState clears repayment progress, the harvest clock and the journal. The policy is kept.
func ResetSagaState() error {
	if DB == nil {
		return ErrDBNotInitialized
	}
	_, err := DB.Exec(`
		TRUNCATE TABLE repayment_progress, harvest_state;
		TRUNCATE TABLE saga_journal RESTART IDENTITY;
	`)
	if err != nil {
		return fmt.Errorf("failed to reset saga state: %w", err)
	}
	log.Info().Msg("Saga state reset.")
	return nil
}

// TestDBConnection tests if the database connection is healthy
func TestDBConnection() error {
	if DB == nil {
		return ErrDBNotInitialized
	}

	// Use a short timeout context for health checks
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := DB.PingContext(ctx)
	if err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}

	return nil
}
