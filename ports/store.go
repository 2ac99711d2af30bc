package ports

import (
	"context"

	"github.com/givechain/warden/core"
)

// ChallengeStore issues and single-use-consumes per-address challenges.
// Implementations must make Consume atomic so concurrent verification
// attempts cannot both succeed with the same challenge.
type ChallengeStore interface {
	// Put stores a challenge, replacing any unconsumed challenge for the
	// same address.
	Put(ctx context.Context, challenge *core.Challenge) error

	// Get returns the unconsumed challenge for an address, or
	// core.ErrChallengeNotFound.
	Get(ctx context.Context, address string) (*core.Challenge, error)

	// Consume removes the challenge for address if its nonce matches.
	// Returns core.ErrChallengeNotFound when absent or already consumed.
	Consume(ctx context.Context, address, nonce string) error
}

// ReconciliationStore persists reconciliation records. Transitions are
// compare-and-swap so the two-phase flow cannot double-apply under
// concurrent callers, and the store must survive process restarts in
// production deployments.
type ReconciliationStore interface {
	Create(ctx context.Context, record *core.ReconciliationRecord) error

	// Get returns the record for an entity, or core.ErrEntityNotFound.
	Get(ctx context.Context, entityID string) (*core.ReconciliationRecord, error)

	// MarkLedgerConfirmed sets LedgerConfirmed and returns the updated
	// record. Calling it again once confirmed is a no-op.
	MarkLedgerConfirmed(ctx context.Context, entityID string) (*core.ReconciliationRecord, error)

	// MarkCommitted sets OffChainCommitted. It returns
	// core.ErrInvariantViolation unless LedgerConfirmed is already true;
	// marking an already committed record is a no-op.
	MarkCommitted(ctx context.Context, entityID string) error

	// IncrementAttempts bumps the off-chain attempt counter and returns
	// the new value.
	IncrementAttempts(ctx context.Context, entityID string) (int, error)

	// ListUnresolved returns every record not yet committed off-chain.
	// These are the in-flight approvals a restarted process must pick
	// back up.
	ListUnresolved(ctx context.Context) ([]*core.ReconciliationRecord, error)
}

// OrganizationStore is the boundary to the off-chain organization records
type OrganizationStore interface {
	Create(ctx context.Context, org *core.Organization) error

	// Get returns the organization, or core.ErrEntityNotFound.
	Get(ctx context.Context, id string) (*core.Organization, error)

	// SetStatus transitions id from one status to another atomically.
	// Returns core.ErrInvalidTransition when the current status differs
	// from the expected one.
	SetStatus(ctx context.Context, id string, from, to core.ApprovalStatus) error
}
