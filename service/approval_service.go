package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/avast/retry-go/v4"

	"github.com/givechain/warden/core"
	"github.com/givechain/warden/logging"
	"github.com/givechain/warden/ports"
)

const (
	// DefaultCommitAttempts bounds the automatic off-chain commit retries
	// before an approval is surfaced for manual intervention
	DefaultCommitAttempts = 3

	// DefaultCommitDelay is the backoff base between commit attempts
	DefaultCommitDelay = 200 * time.Millisecond
)

// ApprovalService is the two-phase reconciliation engine. A privileged
// approval must be reflected on the ledger and in the off-chain record,
// and the two must never disagree: the off-chain transition to APPROVED
// happens only after the ledger transaction confirmed, and a failed
// off-chain commit is retried rather than rolled back since the ledger
// action is irreversible.
type ApprovalService struct {
	tokenizer ports.Tokenizer
	records   ports.ReconciliationStore
	orgs      ports.OrganizationStore
	gateway   ports.LedgerGateway
	eventPub  ports.EventPublisher

	commitAttempts uint
	commitDelay    time.Duration
}

// NewApprovalService creates a new approval service
func NewApprovalService(
	tokenizer ports.Tokenizer,
	records ports.ReconciliationStore,
	orgs ports.OrganizationStore,
	gateway ports.LedgerGateway,
	eventPub ports.EventPublisher,
) *ApprovalService {
	return &ApprovalService{
		tokenizer:      tokenizer,
		records:        records,
		orgs:           orgs,
		gateway:        gateway,
		eventPub:       eventPub,
		commitAttempts: DefaultCommitAttempts,
		commitDelay:    DefaultCommitDelay,
	}
}

// SetCommitBackoff overrides the automatic retry policy for the off-chain
// commit
func (s *ApprovalService) SetCommitBackoff(attempts uint, delay time.Duration) {
	s.commitAttempts = attempts
	s.commitDelay = delay
}

// InitiateApproval submits the on-chain approval for an entity and
// persists the reconciliation record. Nothing is persisted when the
// ledger rejects the submission outright. The confirmation wait runs in
// the background; no lock is held while waiting.
func (s *ApprovalService) InitiateApproval(ctx context.Context, entityID, credential string) (*core.ReconciliationRecord, error) {
	identity, err := s.authorize(credential)
	if err != nil {
		return nil, err
	}

	// Reserve the entity before touching the ledger. The CAS admits
	// exactly one initiator; concurrent requests for the same entity must
	// not each submit their own irreversible transaction.
	if err := s.orgs.SetStatus(ctx, entityID, core.StatusPending, core.StatusAwaitingConfirmation); err != nil {
		return nil, err
	}

	txID, err := s.gateway.SubmitApproval(ctx, entityID)
	if err != nil {
		s.releaseReservation(ctx, entityID)
		if errors.Is(err, core.ErrLedgerSubmissionFailed) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", core.ErrLedgerSubmissionFailed, err)
	}

	now := time.Now()
	record := &core.ReconciliationRecord{
		EntityID:    entityID,
		LedgerTxID:  txID,
		InitiatedBy: identity.Address,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.records.Create(ctx, record); err != nil {
		// The transaction is already in flight and cannot be recalled;
		// releasing the reservation here would let a second submission
		// through. Keep the entity reserved and surface the failure.
		logging.Log().Errorf("Entity %s has tx %s in flight but no reconciliation record: %v", entityID, txID, err)
		return nil, fmt.Errorf("failed to persist reconciliation record: %w", err)
	}

	go s.watchConfirmation(entityID, txID)

	return record, nil
}

// releaseReservation undoes the status reservation when the ledger
// rejected the submission outright, restoring the nothing-persisted
// contract for failed initiations.
func (s *ApprovalService) releaseReservation(ctx context.Context, entityID string) {
	if err := s.orgs.SetStatus(ctx, entityID, core.StatusAwaitingConfirmation, core.StatusPending); err != nil {
		logging.Log().Errorf("Failed to release approval reservation for entity %s: %v", entityID, err)
	}
}

// Resume re-attaches the engine to in-flight approvals after a restart.
// Records are durable because a ledger transaction may take longer to
// confirm than a single process lifetime; without this the confirmation
// would land with nobody watching and the entity would stay
// AWAITING_CONFIRMATION forever.
func (s *ApprovalService) Resume(ctx context.Context) error {
	records, err := s.records.ListUnresolved(ctx)
	if err != nil {
		return fmt.Errorf("failed to list unresolved reconciliation records: %w", err)
	}

	for _, record := range records {
		if record.LedgerConfirmed {
			// The ledger half is done; only the off-chain commit is
			// outstanding.
			go func(entityID, txID string) {
				if err := s.commitWithRetry(context.Background(), entityID, txID); err != nil {
					logging.Log().Errorf("Resumed off-chain commit for entity %s failed: %v", entityID, err)
				}
			}(record.EntityID, record.LedgerTxID)
			continue
		}
		go s.watchConfirmation(record.EntityID, record.LedgerTxID)
	}

	if len(records) > 0 {
		logging.Log().Infof("Resumed %d in-flight approval(s).", len(records))
	}
	return nil
}

// Reject moves an entity to REJECTED. Rejection is off-chain only and is
// valid only before a ledger transaction has been submitted.
func (s *ApprovalService) Reject(ctx context.Context, entityID, credential string) error {
	if _, err := s.authorize(credential); err != nil {
		return err
	}

	return s.orgs.SetStatus(ctx, entityID, core.StatusPending, core.StatusRejected)
}

// OnLedgerConfirmed records the ledger confirmation and attempts the
// off-chain commit. It is idempotent: once the entity is APPROVED further
// calls are no-op successes.
func (s *ApprovalService) OnLedgerConfirmed(ctx context.Context, entityID string) error {
	record, err := s.records.Get(ctx, entityID)
	if err != nil {
		return err
	}
	if record.OffChainCommitted {
		return nil
	}

	record, err = s.records.MarkLedgerConfirmed(ctx, entityID)
	if err != nil {
		return err
	}

	return s.commitWithRetry(ctx, entityID, record.LedgerTxID)
}

// RetryOffChainCommit re-attempts only the off-chain half of a confirmed
// approval. A no-op success when already committed; refused when the
// ledger side never confirmed, since committing first would break the
// reconciliation invariant.
func (s *ApprovalService) RetryOffChainCommit(ctx context.Context, entityID string) error {
	record, err := s.records.Get(ctx, entityID)
	if err != nil {
		return err
	}
	if record.OffChainCommitted {
		return nil
	}
	if !record.LedgerConfirmed {
		return fmt.Errorf("%w: off-chain commit requested before ledger confirmation", core.ErrInvariantViolation)
	}

	return s.commitWithRetry(ctx, entityID, record.LedgerTxID)
}

// Status returns the current verification status of an entity
func (s *ApprovalService) Status(ctx context.Context, entityID string) (core.ApprovalStatus, error) {
	org, err := s.orgs.Get(ctx, entityID)
	if err != nil {
		return "", err
	}
	return org.Status, nil
}

// AwaitDecision polls the entity status at a fixed interval until it is
// terminal or maxWait elapses, then returns whatever status is current.
// Callers get a "still pending, check back" answer instead of blocking
// indefinitely.
func (s *ApprovalService) AwaitDecision(ctx context.Context, entityID string, interval, maxWait time.Duration) (core.ApprovalStatus, error) {
	deadline := time.Now().Add(maxWait)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		status, err := s.Status(ctx, entityID)
		if err != nil {
			return "", err
		}
		if status == core.StatusApproved || status == core.StatusRejected {
			return status, nil
		}
		if time.Now().After(deadline) {
			return status, nil
		}

		select {
		case <-ctx.Done():
			return status, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (s *ApprovalService) authorize(credential string) (*core.Identity, error) {
	identity, err := s.tokenizer.ValidateCredential(credential)
	if err != nil {
		return nil, err
	}
	if !identity.Role.CanApproveOrganizations() {
		return nil, core.ErrUnauthorized
	}
	return identity, nil
}

// watchConfirmation waits for the ledger confirmation and then drives the
// off-chain commit. Runs outside any lock; confirmation is paced by block
// production.
func (s *ApprovalService) watchConfirmation(entityID, txID string) {
	ctx := context.Background()

	if err := s.gateway.WaitConfirmed(ctx, txID); err != nil {
		logging.Log().Errorf("Confirmation wait for entity %s (tx %s) failed: %v", entityID, txID, err)
		return
	}

	if err := s.OnLedgerConfirmed(ctx, entityID); err != nil {
		logging.Log().Errorf("Ledger confirmed for entity %s (tx %s) but reconciliation failed: %v", entityID, txID, err)
	}
}

// commitWithRetry drives the off-chain transition to APPROVED with a
// bounded backoff. After the attempts are exhausted the record stays
// ledger-confirmed and uncommitted, an alert is published, and the flow
// waits for RetryOffChainCommit rather than looping forever.
func (s *ApprovalService) commitWithRetry(ctx context.Context, entityID, txID string) error {
	attempts := 0

	err := retry.Do(
		func() error {
			n, err := s.records.IncrementAttempts(ctx, entityID)
			if err != nil {
				return err
			}
			attempts = n
			return s.commitOffChain(ctx, entityID)
		},
		retry.Attempts(s.commitAttempts),
		retry.Delay(s.commitDelay),
		retry.LastErrorOnly(true),
		retry.Context(ctx),
	)
	if err != nil {
		logging.Log().Errorf("Off-chain commit for entity %s still failing after %d attempts: %v", entityID, attempts, err)
		if pubErr := s.eventPub.PublishApprovalStalled(ctx, entityID, txID, attempts); pubErr != nil {
			logging.Log().Errorf("Failed to publish stalled-approval alert for %s: %v", entityID, pubErr)
		}
		return fmt.Errorf("%w: %v", core.ErrOffChainCommitFailed, err)
	}

	if err := s.records.MarkCommitted(ctx, entityID); err != nil {
		return err
	}

	return nil
}

// commitOffChain performs the single off-chain status transition. An
// entity already APPROVED counts as success so retries stay idempotent.
func (s *ApprovalService) commitOffChain(ctx context.Context, entityID string) error {
	err := s.orgs.SetStatus(ctx, entityID, core.StatusAwaitingConfirmation, core.StatusApproved)
	if err == nil {
		return nil
	}

	if errors.Is(err, core.ErrInvalidTransition) {
		org, getErr := s.orgs.Get(ctx, entityID)
		if getErr == nil && org.Status == core.StatusApproved {
			return nil
		}
	}

	return err
}
