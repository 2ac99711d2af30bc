package store

import (
	"context"
	"sync"
	"time"

	"github.com/givechain/warden/core"
	"github.com/givechain/warden/ports"
)

// MemoryReconciliationStore is an in-memory implementation of the
// ReconciliationStore interface
type MemoryReconciliationStore struct {
	records map[string]*core.ReconciliationRecord
	mu      sync.Mutex
}

// NewMemoryReconciliationStore creates a new in-memory reconciliation store
func NewMemoryReconciliationStore() ports.ReconciliationStore {
	return &MemoryReconciliationStore{
		records: make(map[string]*core.ReconciliationRecord),
	}
}

// Create persists a new reconciliation record
func (s *MemoryReconciliationStore) Create(ctx context.Context, record *core.ReconciliationRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	r := *record
	s.records[record.EntityID] = &r
	return nil
}

// Get returns the record for an entity
func (s *MemoryReconciliationStore) Get(ctx context.Context, entityID string) (*core.ReconciliationRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.records[entityID]
	if !ok {
		return nil, core.ErrEntityNotFound
	}

	r := *record
	return &r, nil
}

// MarkLedgerConfirmed sets LedgerConfirmed, a no-op when already confirmed
func (s *MemoryReconciliationStore) MarkLedgerConfirmed(ctx context.Context, entityID string) (*core.ReconciliationRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.records[entityID]
	if !ok {
		return nil, core.ErrEntityNotFound
	}

	if !record.LedgerConfirmed {
		record.LedgerConfirmed = true
		record.UpdatedAt = time.Now()
	}

	r := *record
	return &r, nil
}

// MarkCommitted sets OffChainCommitted. The ledger must be confirmed
// first; committing without confirmation is a programming error.
func (s *MemoryReconciliationStore) MarkCommitted(ctx context.Context, entityID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.records[entityID]
	if !ok {
		return core.ErrEntityNotFound
	}

	if !record.LedgerConfirmed {
		return core.ErrInvariantViolation
	}

	if !record.OffChainCommitted {
		record.OffChainCommitted = true
		record.UpdatedAt = time.Now()
	}

	return nil
}

// ListUnresolved returns the records not yet committed off-chain
func (s *MemoryReconciliationStore) ListUnresolved(ctx context.Context) ([]*core.ReconciliationRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var unresolved []*core.ReconciliationRecord
	for _, record := range s.records {
		if record.OffChainCommitted {
			continue
		}
		r := *record
		unresolved = append(unresolved, &r)
	}
	return unresolved, nil
}

// IncrementAttempts bumps the off-chain attempt counter
func (s *MemoryReconciliationStore) IncrementAttempts(ctx context.Context, entityID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.records[entityID]
	if !ok {
		return 0, core.ErrEntityNotFound
	}

	record.Attempts++
	record.UpdatedAt = time.Now()
	return record.Attempts, nil
}
