package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/elys-network/cdpvault/internal/storage"
	"github.com/elys-network/cdpvault/internal/types"
)

const (
	keyPolicy        = "policy"
	keyRepayment     = "repayment"
	keyHarvest       = "harvest"
	keyJournalSeq    = "journal_seq"
	keyAccounting    = "accounting"
	journalKeyPrefix = "journal/"
	creditKeyPrefix  = "credit/"
)

// KVStore keeps vault state in a key-value database. Session writes are buffered and
// committed in one batch.
type KVStore struct {
	mu sync.Mutex
	db storage.Database
}

func NewKVStore(db storage.Database) *KVStore {
	return &KVStore{db: db}
}

func (s *KVStore) Atomic(ctx context.Context, fn func(Session) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	session := &kvSession{db: s.db, writes: make(map[string][]byte)}
	if err := fn(session); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(session.writes) == 0 {
		return nil
	}
	if err := s.db.WriteBatch(session.writes); err != nil {
		return fmt.Errorf("failed to commit session: %w", err)
	}
	return nil
}

func (s *KVStore) AppendJournal(_ context.Context, entries []types.JournalEntry) error {
	if len(entries) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	seq, err := s.journalSeq()
	if err != nil {
		return err
	}
	writes := make(map[string][]byte, len(entries)+1)
	for _, entry := range entries {
		seq++
		raw, err := json.Marshal(entry)
		if err != nil {
			return fmt.Errorf("failed to encode journal entry: %w", err)
		}
		writes[journalKey(seq)] = raw
	}
	writes[keyJournalSeq] = []byte(strconv.FormatUint(seq, 10))
	return s.db.WriteBatch(writes)
}

func (s *KVStore) RecentJournal(_ context.Context, limit int) ([]types.JournalEntry, error) {
	limit = clampJournalLimit(limit)

	var raws [][]byte
	err := s.db.Iterate([]byte(journalKeyPrefix), func(_, value []byte) bool {
		raws = append(raws, value)
		if len(raws) > limit {
			raws = raws[1:]
		}
		return true
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan journal: %w", err)
	}

	entries := make([]types.JournalEntry, 0, len(raws))
	for i := len(raws) - 1; i >= 0; i-- {
		var entry types.JournalEntry
		if err := json.Unmarshal(raws[i], &entry); err != nil {
			stateLogger.Error().Err(err).Msg("Skipping undecodable journal entry")
			continue
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

func (s *KVStore) journalSeq() (uint64, error) {
	raw, err := s.db.Get([]byte(keyJournalSeq))
	if errors.Is(err, storage.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read journal sequence: %w", err)
	}
	return strconv.ParseUint(string(raw), 10, 64)
}

// Zero padding keeps lexical and numeric order the same.
func journalKey(seq uint64) string {
	return fmt.Sprintf("%s%020d", journalKeyPrefix, seq)
}

type kvSession struct {
	db     storage.Database
	writes map[string][]byte
}

// get reads through the session's pending writes.
func (s *kvSession) get(key string, into interface{}) (bool, error) {
	raw, pending := s.writes[key]
	if !pending {
		var err error
		raw, err = s.db.Get([]byte(key))
		if errors.Is(err, storage.ErrNotFound) {
			return false, nil
		}
		if err != nil {
			return false, fmt.Errorf("failed to read %s: %w", key, err)
		}
	}
	if raw == nil {
		return false, nil
	}
	if err := json.Unmarshal(raw, into); err != nil {
		return false, fmt.Errorf("failed to decode %s: %w", key, err)
	}
	return true, nil
}

func (s *kvSession) put(key string, value interface{}) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", key, err)
	}
	s.writes[key] = raw
	return nil
}

func (s *kvSession) LoadPolicy(_ context.Context) (types.Policy, error) {
	var policy types.Policy
	found, err := s.get(keyPolicy, &policy)
	if err != nil {
		return types.Policy{}, err
	}
	if !found {
		return types.Policy{}, ErrNotFound
	}
	return policy, nil
}

func (s *kvSession) SavePolicy(_ context.Context, policy types.Policy) error {
	return s.put(keyPolicy, policy)
}

func (s *kvSession) LoadRepayment(_ context.Context) (types.RepaymentProgress, bool, error) {
	var progress types.RepaymentProgress
	found, err := s.get(keyRepayment, &progress)
	return progress, found, err
}

func (s *kvSession) SaveRepayment(_ context.Context, progress types.RepaymentProgress) error {
	return s.put(keyRepayment, progress)
}

type harvestRecord struct {
	LastHarvestAt time.Time `json:"last_harvest_at"`
}

func (s *kvSession) LoadLastHarvest(_ context.Context) (time.Time, bool, error) {
	var record harvestRecord
	found, err := s.get(keyHarvest, &record)
	return record.LastHarvestAt, found, err
}

func (s *kvSession) SaveLastHarvest(_ context.Context, at time.Time) error {
	return s.put(keyHarvest, harvestRecord{LastHarvestAt: at.UTC()})
}

type accountingRecord struct {
	Collateral sdkmath.Int `json:"collateral"`
}

func (s *kvSession) LoadAccountedCollateral(_ context.Context) (sdkmath.Int, bool, error) {
	var record accountingRecord
	found, err := s.get(keyAccounting, &record)
	if err != nil || !found {
		return sdkmath.ZeroInt(), false, err
	}
	return record.Collateral, true, nil
}

func (s *kvSession) SaveAccountedCollateral(_ context.Context, amount sdkmath.Int) error {
	return s.put(keyAccounting, accountingRecord{Collateral: amount})
}

func (s *kvSession) LoadDepositCredit(_ context.Context, depositor string) (sdkmath.Int, error) {
	var amount sdkmath.Int
	found, err := s.get(creditKeyPrefix+depositor, &amount)
	if err != nil || !found {
		return sdkmath.ZeroInt(), err
	}
	return amount, nil
}

func (s *kvSession) SaveDepositCredit(_ context.Context, depositor string, amount sdkmath.Int) error {
	return s.put(creditKeyPrefix+depositor, amount)
}
