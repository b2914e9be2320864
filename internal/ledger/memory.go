package ledger

import (
	"context"
	"math/big"
	"sync"

	"creditScope/internal/model"
)

type recordKey struct {
	user     string
	protocol model.Protocol
}

// MemoryStore is an in-memory Store, used in tests and single-process runs
// without Postgres.
type MemoryStore struct {
	mu         sync.RWMutex
	records    map[recordKey]model.ActivityRecord
	aggregates map[string]model.AggregateRecord
	seen       map[DedupKey]struct{}
	balances   map[BalanceKey]*big.Int
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records:    make(map[recordKey]model.ActivityRecord),
		aggregates: make(map[string]model.AggregateRecord),
		seen:       make(map[DedupKey]struct{}),
		balances:   make(map[BalanceKey]*big.Int),
	}
}

func (s *MemoryStore) GetRecord(_ context.Context, user string, protocol model.Protocol) (model.ActivityRecord, bool, error) {
	s.mu.RLock()
	record, ok := s.records[recordKey{user, protocol}]
	s.mu.RUnlock()
	return record, ok, nil
}

func (s *MemoryStore) GetAggregate(_ context.Context, user string) (model.AggregateRecord, bool, error) {
	s.mu.RLock()
	record, ok := s.aggregates[user]
	s.mu.RUnlock()
	return record, ok, nil
}

func (s *MemoryStore) SeenObservation(_ context.Context, key DedupKey) (bool, error) {
	s.mu.RLock()
	_, ok := s.seen[key]
	s.mu.RUnlock()
	return ok, nil
}

func (s *MemoryStore) LastBalance(_ context.Context, key BalanceKey) (*big.Int, bool, error) {
	s.mu.RLock()
	balance, ok := s.balances[key]
	s.mu.RUnlock()
	if !ok {
		return nil, false, nil
	}
	return new(big.Int).Set(balance), true, nil
}

// Apply writes the whole change set under one lock.
func (s *MemoryStore) Apply(_ context.Context, changes ChangeSet) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.records[recordKey{changes.Record.User, changes.Record.Protocol}] = changes.Record
	s.aggregates[changes.Aggregate.User] = changes.Aggregate
	for _, key := range changes.Marks {
		s.seen[key] = struct{}{}
	}
	for _, key := range changes.Order {
		s.balances[key] = new(big.Int).Set(changes.Balances[key])
	}
	return nil
}
