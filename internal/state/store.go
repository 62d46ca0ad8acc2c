/*

This file contains the persistence contract of the vault. Every trigger runs inside one atomic
session: policy, repayment progress, the harvest clock and the deposit accounting either all
commit or all roll back.
The journal is written separately so failed runs stay visible.

*/

package state

import (
	"context"
	"errors"
	"time"

	sdkmath "cosmossdk.io/math"

	"github.com/elys-network/cdpvault/internal/logger"
	"github.com/elys-network/cdpvault/internal/types"
)

var (
	ErrNotFound         = errors.New("record not found")
	ErrDBNotInitialized = errors.New("database not initialized")
)

var stateLogger = logger.GetForComponent("state")

const (
	defaultJournalLimit = 50
	maxJournalLimit     = 500
)

// Session is the view of persisted state inside one unit of work.
type Session interface {
	LoadPolicy(ctx context.Context) (types.Policy, error)
	SavePolicy(ctx context.Context, policy types.Policy) error
	LoadRepayment(ctx context.Context) (types.RepaymentProgress, bool, error)
	SaveRepayment(ctx context.Context, progress types.RepaymentProgress) error
	LoadLastHarvest(ctx context.Context) (time.Time, bool, error)
	SaveLastHarvest(ctx context.Context, at time.Time) error
	// LoadAccountedCollateral is the collateral already backing minted shares.
	LoadAccountedCollateral(ctx context.Context) (sdkmath.Int, bool, error)
	SaveAccountedCollateral(ctx context.Context, amount sdkmath.Int) error
	// LoadDepositCredit is the collateral from depositor that shares were minted for.
	LoadDepositCredit(ctx context.Context, depositor string) (sdkmath.Int, error)
	SaveDepositCredit(ctx context.Context, depositor string, amount sdkmath.Int) error
}

// Store runs units of work and keeps the call journal.
type Store interface {
	// Atomic commits every write fn made through the session, or none if fn returns an error.
	Atomic(ctx context.Context, fn func(Session) error) error
	AppendJournal(ctx context.Context, entries []types.JournalEntry) error
	// RecentJournal returns up to limit entries, newest first.
	RecentJournal(ctx context.Context, limit int) ([]types.JournalEntry, error)
}

func clampJournalLimit(limit int) int {
	if limit <= 0 {
		return defaultJournalLimit
	}
	if limit > maxJournalLimit {
		return maxJournalLimit
	}
	return limit
}
