package store

import (
	"context"
	"sync"
	"time"

	"github.com/givechain/warden/core"
	"github.com/givechain/warden/ports"
)

// MemoryOrganizationStore is an in-memory implementation of the
// OrganizationStore interface
type MemoryOrganizationStore struct {
	orgs map[string]*core.Organization
	mu   sync.Mutex
}

// NewMemoryOrganizationStore creates a new in-memory organization store
func NewMemoryOrganizationStore() ports.OrganizationStore {
	return &MemoryOrganizationStore{
		orgs: make(map[string]*core.Organization),
	}
}

// Create persists a new organization
func (s *MemoryOrganizationStore) Create(ctx context.Context, org *core.Organization) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	o := *org
	if o.Status == "" {
		o.Status = core.StatusPending
	}
	s.orgs[org.ID] = &o
	return nil
}

// Get returns the organization by id
func (s *MemoryOrganizationStore) Get(ctx context.Context, id string) (*core.Organization, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	org, ok := s.orgs[id]
	if !ok {
		return nil, core.ErrEntityNotFound
	}

	o := *org
	return &o, nil
}

// SetStatus transitions the organization status atomically
func (s *MemoryOrganizationStore) SetStatus(ctx context.Context, id string, from, to core.ApprovalStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	org, ok := s.orgs[id]
	if !ok {
		return core.ErrEntityNotFound
	}

	if org.Status != from {
		return core.ErrInvalidTransition
	}

	org.Status = to
	org.UpdatedAt = time.Now()
	return nil
}
