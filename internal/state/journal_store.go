package state

import (
	"context"
	"database/sql"
	"fmt"

	sdkmath "cosmossdk.io/math"
	"github.com/elys-network/cdpvault/internal/types"
	"github.com/elys-network/cdpvault/internal/utils"
)

// AppendJournal inserts entries in their own transaction, independent of any unit of work.
func (s *PostgresStore) AppendJournal(ctx context.Context, entries []types.JournalEntry) (err error) {
	if len(entries) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin journal transaction: %w", err)
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO saga_journal (
			run_id, trigger_name, step, call_kind, call_tag, amount, success, compensation, message, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10);`)
	if err != nil {
		return fmt.Errorf("failed to prepare journal insert: %w", err)
	}
	defer stmt.Close()

	for _, e := range entries {
		_, err = stmt.ExecContext(ctx,
			e.RunID, e.Trigger, e.Step, string(e.Kind), string(e.Tag), intString(e.Amount),
			e.Success, e.Compensation, sql.NullString{String: e.Message, Valid: e.Message != ""}, e.CreatedAt.UTC(),
		)
		if err != nil {
			return fmt.Errorf("failed to insert journal entry for run %s: %w", e.RunID, err)
		}
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit journal: %w", err)
	}
	return nil
}

// RecentJournal retrieves the latest journal entries, newest first.
func (s *PostgresStore) RecentJournal(ctx context.Context, limit int) ([]types.JournalEntry, error) {
	limit = clampJournalLimit(limit)

	query := `
		SELECT run_id, trigger_name, step, call_kind, call_tag, amount, success, compensation, message, created_at
		FROM saga_journal
		ORDER BY entry_id DESC
		LIMIT $1;`

	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query journal: %w", err)
	}
	defer rows.Close()

	var entries []types.JournalEntry
	for rows.Next() {
		var (
			e       types.JournalEntry
			kind    string
			tag     string
			amount  string
			message sql.NullString
		)
		if err := rows.Scan(&e.RunID, &e.Trigger, &e.Step, &kind, &tag, &amount, &e.Success, &e.Compensation, &message, &e.CreatedAt); err != nil {
			stateLogger.Error().Err(err).Msg("Failed to scan journal row")
			continue // Skip this row and continue with others
		}
		e.Kind = types.CallKind(kind)
		e.Tag = types.CallTag(tag)
		e.Message = message.String
		if e.Amount, err = utils.ParseInt(amount); err != nil {
			stateLogger.Error().Err(err).Str("run_id", e.RunID).Msg("Failed to parse journal amount")
			continue
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}
	return entries, nil
}

func intString(i sdkmath.Int) string {
	if i.IsNil() {
		return "0"
	}
	return i.String()
}
