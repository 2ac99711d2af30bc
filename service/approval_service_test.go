package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/givechain/warden/adapters/ledger"
	"github.com/givechain/warden/adapters/store"
	"github.com/givechain/warden/core"
	"github.com/givechain/warden/ports"
)

// flakyOrganizationStore fails SetStatus a configured number of times to
// simulate a transient off-chain store outage
type flakyOrganizationStore struct {
	ports.OrganizationStore
	mu       sync.Mutex
	failures int
}

func (s *flakyOrganizationStore) failNext(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures = n
}

func (s *flakyOrganizationStore) SetStatus(ctx context.Context, id string, from, to core.ApprovalStatus) error {
	s.mu.Lock()
	if s.failures > 0 {
		s.failures--
		s.mu.Unlock()
		return errors.New("store temporarily unavailable")
	}
	s.mu.Unlock()
	return s.OrganizationStore.SetStatus(ctx, id, from, to)
}

type approvalFixture struct {
	approvals *ApprovalService
	records   ports.ReconciliationStore
	orgs      *flakyOrganizationStore
	gateway   *ledger.StubGateway
	events    *capturingPublisher

	adminCredential string
	donorCredential string
}

func newApprovalFixture(t *testing.T) *approvalFixture {
	t.Helper()

	tok := newTestTokenizer(t, time.Hour)
	records := store.NewMemoryReconciliationStore()
	orgs := &flakyOrganizationStore{OrganizationStore: store.NewMemoryOrganizationStore()}
	gateway := ledger.NewStubGateway()
	events := &capturingPublisher{}

	approvals := NewApprovalService(tok, records, orgs, gateway, events)
	approvals.SetCommitBackoff(2, time.Millisecond)

	adminCredential, _, err := tok.IssueCredential("0xAAAA000000000000000000000000000000000001", core.RoleAdmin)
	require.NoError(t, err)
	donorCredential, _, err := tok.IssueCredential("0xDDDD000000000000000000000000000000000001", core.RoleDonor)
	require.NoError(t, err)

	return &approvalFixture{
		approvals:       approvals,
		records:         records,
		orgs:            orgs,
		gateway:         gateway,
		events:          events,
		adminCredential: adminCredential,
		donorCredential: donorCredential,
	}
}

func (fx *approvalFixture) createOrganization(t *testing.T, id string) {
	t.Helper()
	org := &core.Organization{ID: id, Name: id, Status: core.StatusPending, CreatedAt: time.Now(), UpdatedAt: time.Now()}
	require.NoError(t, fx.orgs.Create(context.Background(), org))
}

func TestInitiateApprovalRequiresApproverRole(t *testing.T) {
	fx := newApprovalFixture(t)
	fx.createOrganization(t, "ngo-1")

	_, err := fx.approvals.InitiateApproval(context.Background(), "ngo-1", fx.donorCredential)
	assert.ErrorIs(t, err, core.ErrUnauthorized)
}

func TestInitiateApprovalRequiresValidCredential(t *testing.T) {
	fx := newApprovalFixture(t)
	fx.createOrganization(t, "ngo-1")

	_, err := fx.approvals.InitiateApproval(context.Background(), "ngo-1", "garbage")
	assert.ErrorIs(t, err, core.ErrCredentialInvalid)
}

func TestInitiateApprovalUnknownEntity(t *testing.T) {
	fx := newApprovalFixture(t)

	_, err := fx.approvals.InitiateApproval(context.Background(), "missing", fx.adminCredential)
	assert.ErrorIs(t, err, core.ErrEntityNotFound)
}

func TestInitiateApprovalLedgerRejection(t *testing.T) {
	fx := newApprovalFixture(t)
	fx.createOrganization(t, "ngo-1")
	fx.gateway.FailSubmissions(true)

	ctx := context.Background()
	_, err := fx.approvals.InitiateApproval(ctx, "ngo-1", fx.adminCredential)
	assert.ErrorIs(t, err, core.ErrLedgerSubmissionFailed)

	// Nothing is persisted on outright rejection.
	_, err = fx.records.Get(ctx, "ngo-1")
	assert.ErrorIs(t, err, core.ErrEntityNotFound)

	status, err := fx.approvals.Status(ctx, "ngo-1")
	require.NoError(t, err)
	assert.Equal(t, core.StatusPending, status)
}

func TestApprovalEndToEnd(t *testing.T) {
	fx := newApprovalFixture(t)
	fx.createOrganization(t, "ngo-42")
	ctx := context.Background()

	record, err := fx.approvals.InitiateApproval(ctx, "ngo-42", fx.adminCredential)
	require.NoError(t, err)
	assert.Equal(t, "tx-1", record.LedgerTxID)
	assert.False(t, record.LedgerConfirmed)
	assert.False(t, record.OffChainCommitted)

	status, err := fx.approvals.Status(ctx, "ngo-42")
	require.NoError(t, err)
	assert.Equal(t, core.StatusAwaitingConfirmation, status)

	fx.gateway.Confirm("tx-1")

	require.Eventually(t, func() bool {
		status, err := fx.approvals.Status(ctx, "ngo-42")
		return err == nil && status == core.StatusApproved
	}, 2*time.Second, 10*time.Millisecond)

	record, err = fx.records.Get(ctx, "ngo-42")
	require.NoError(t, err)
	assert.True(t, record.LedgerConfirmed)
	assert.True(t, record.OffChainCommitted)

	// A second confirmation callback is a no-op.
	require.NoError(t, fx.approvals.OnLedgerConfirmed(ctx, "ngo-42"))

	status, err = fx.approvals.Status(ctx, "ngo-42")
	require.NoError(t, err)
	assert.Equal(t, core.StatusApproved, status)
}

func TestOnLedgerConfirmedIdempotent(t *testing.T) {
	fx := newApprovalFixture(t)
	fx.createOrganization(t, "ngo-42")
	ctx := context.Background()

	_, err := fx.approvals.InitiateApproval(ctx, "ngo-42", fx.adminCredential)
	require.NoError(t, err)

	require.NoError(t, fx.approvals.OnLedgerConfirmed(ctx, "ngo-42"))
	require.NoError(t, fx.approvals.OnLedgerConfirmed(ctx, "ngo-42"))

	status, err := fx.approvals.Status(ctx, "ngo-42")
	require.NoError(t, err)
	assert.Equal(t, core.StatusApproved, status)
}

func TestOffChainCommitFailureIsRetryable(t *testing.T) {
	fx := newApprovalFixture(t)
	fx.createOrganization(t, "ngo-42")
	ctx := context.Background()

	record, err := fx.approvals.InitiateApproval(ctx, "ngo-42", fx.adminCredential)
	require.NoError(t, err)

	// Make every automatic attempt fail.
	fx.orgs.failNext(100)

	err = fx.approvals.OnLedgerConfirmed(ctx, "ngo-42")
	assert.ErrorIs(t, err, core.ErrOffChainCommitFailed)

	// Ledger is confirmed, off-chain is not: the recoverable state.
	got, err := fx.records.Get(ctx, "ngo-42")
	require.NoError(t, err)
	assert.True(t, got.LedgerConfirmed)
	assert.False(t, got.OffChainCommitted)

	// The exhausted retries raised an alert for manual intervention.
	alerts := fx.events.stalledEvents()
	require.Len(t, alerts, 1)
	assert.Equal(t, "ngo-42", alerts[0].entityID)
	assert.Equal(t, record.LedgerTxID, alerts[0].txID)
	assert.Equal(t, 2, alerts[0].attempts)

	// Store recovers; the retry commits the off-chain half only.
	fx.orgs.failNext(0)
	require.NoError(t, fx.approvals.RetryOffChainCommit(ctx, "ngo-42"))

	got, err = fx.records.Get(ctx, "ngo-42")
	require.NoError(t, err)
	assert.True(t, got.OffChainCommitted)
	assert.Equal(t, "tx-1", got.LedgerTxID, "no new ledger transaction was submitted")

	status, err := fx.approvals.Status(ctx, "ngo-42")
	require.NoError(t, err)
	assert.Equal(t, core.StatusApproved, status)
}

func TestRetryOffChainCommitBeforeConfirmation(t *testing.T) {
	fx := newApprovalFixture(t)
	fx.createOrganization(t, "ngo-42")
	ctx := context.Background()

	_, err := fx.approvals.InitiateApproval(ctx, "ngo-42", fx.adminCredential)
	require.NoError(t, err)

	err = fx.approvals.RetryOffChainCommit(ctx, "ngo-42")
	assert.ErrorIs(t, err, core.ErrInvariantViolation)

	got, err := fx.records.Get(ctx, "ngo-42")
	require.NoError(t, err)
	assert.False(t, got.OffChainCommitted)
}

func TestRetryOffChainCommitAlreadyApproved(t *testing.T) {
	fx := newApprovalFixture(t)
	fx.createOrganization(t, "ngo-42")
	ctx := context.Background()

	_, err := fx.approvals.InitiateApproval(ctx, "ngo-42", fx.adminCredential)
	require.NoError(t, err)
	require.NoError(t, fx.approvals.OnLedgerConfirmed(ctx, "ngo-42"))

	assert.NoError(t, fx.approvals.RetryOffChainCommit(ctx, "ngo-42"))
}

func TestReject(t *testing.T) {
	fx := newApprovalFixture(t)
	ctx := context.Background()

	t.Run("from pending", func(t *testing.T) {
		fx.createOrganization(t, "ngo-a")
		require.NoError(t, fx.approvals.Reject(ctx, "ngo-a", fx.adminCredential))

		status, err := fx.approvals.Status(ctx, "ngo-a")
		require.NoError(t, err)
		assert.Equal(t, core.StatusRejected, status)
	})

	t.Run("requires approver role", func(t *testing.T) {
		fx.createOrganization(t, "ngo-b")
		err := fx.approvals.Reject(ctx, "ngo-b", fx.donorCredential)
		assert.ErrorIs(t, err, core.ErrUnauthorized)
	})

	t.Run("not after submission", func(t *testing.T) {
		fx.createOrganization(t, "ngo-c")
		_, err := fx.approvals.InitiateApproval(ctx, "ngo-c", fx.adminCredential)
		require.NoError(t, err)

		err = fx.approvals.Reject(ctx, "ngo-c", fx.adminCredential)
		assert.ErrorIs(t, err, core.ErrInvalidTransition)
	})
}

func TestAwaitDecision(t *testing.T) {
	fx := newApprovalFixture(t)
	ctx := context.Background()

	t.Run("bounded wait surfaces pending", func(t *testing.T) {
		fx.createOrganization(t, "ngo-wait")

		start := time.Now()
		status, err := fx.approvals.AwaitDecision(ctx, "ngo-wait", 5*time.Millisecond, 30*time.Millisecond)
		require.NoError(t, err)
		assert.Equal(t, core.StatusPending, status)
		assert.Less(t, time.Since(start), time.Second)
	})

	t.Run("returns terminal status immediately", func(t *testing.T) {
		fx.createOrganization(t, "ngo-done")
		require.NoError(t, fx.approvals.Reject(ctx, "ngo-done", fx.adminCredential))

		status, err := fx.approvals.AwaitDecision(ctx, "ngo-done", 5*time.Millisecond, time.Second)
		require.NoError(t, err)
		assert.Equal(t, core.StatusRejected, status)
	})
}

func TestParallelApprovals(t *testing.T) {
	fx := newApprovalFixture(t)
	ctx := context.Background()

	fx.createOrganization(t, "ngo-x")
	fx.createOrganization(t, "ngo-y")

	recordX, err := fx.approvals.InitiateApproval(ctx, "ngo-x", fx.adminCredential)
	require.NoError(t, err)
	recordY, err := fx.approvals.InitiateApproval(ctx, "ngo-y", fx.adminCredential)
	require.NoError(t, err)
	assert.NotEqual(t, recordX.LedgerTxID, recordY.LedgerTxID)

	// Confirming one entity must not affect the other.
	fx.gateway.Confirm(recordY.LedgerTxID)

	require.Eventually(t, func() bool {
		status, err := fx.approvals.Status(ctx, "ngo-y")
		return err == nil && status == core.StatusApproved
	}, 2*time.Second, 10*time.Millisecond)

	status, err := fx.approvals.Status(ctx, "ngo-x")
	require.NoError(t, err)
	assert.Equal(t, core.StatusAwaitingConfirmation, status)
}

func TestInitiateApprovalConcurrentSingleSubmission(t *testing.T) {
	fx := newApprovalFixture(t)
	fx.createOrganization(t, "ngo-race")
	ctx := context.Background()

	const callers = 4
	var wg sync.WaitGroup
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = fx.approvals.InitiateApproval(ctx, "ngo-race", fx.adminCredential)
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
		} else {
			assert.ErrorIs(t, err, core.ErrInvalidTransition)
		}
	}
	assert.Equal(t, 1, succeeded, "exactly one initiation wins the reservation")
	assert.Equal(t, 1, fx.gateway.SubmissionCount(), "one entity, one ledger transaction")
}

func TestInitiateApprovalReservationFailure(t *testing.T) {
	fx := newApprovalFixture(t)
	fx.createOrganization(t, "ngo-1")
	ctx := context.Background()

	fx.orgs.failNext(1)
	_, err := fx.approvals.InitiateApproval(ctx, "ngo-1", fx.adminCredential)
	require.Error(t, err)

	// The reservation precedes the submission, so the ledger was never
	// touched.
	assert.Equal(t, 0, fx.gateway.SubmissionCount())
}

func TestResumeAfterRestart(t *testing.T) {
	ctx := context.Background()
	seed := func(t *testing.T, records ports.ReconciliationStore, orgs ports.OrganizationStore, entityID, txID string, confirmed bool) {
		t.Helper()
		now := time.Now()
		org := &core.Organization{ID: entityID, Name: entityID, Status: core.StatusAwaitingConfirmation, CreatedAt: now, UpdatedAt: now}
		require.NoError(t, orgs.Create(ctx, org))
		record := &core.ReconciliationRecord{
			EntityID:        entityID,
			LedgerTxID:      txID,
			LedgerConfirmed: confirmed,
			InitiatedBy:     "0xAAAA000000000000000000000000000000000001",
			CreatedAt:       now,
			UpdatedAt:       now,
		}
		require.NoError(t, records.Create(ctx, record))
	}

	t.Run("unconfirmed approval is watched again", func(t *testing.T) {
		// Stores pre-populated as a crashed process would have left them:
		// the entity awaiting confirmation, the record unconfirmed, and no
		// watcher goroutine anywhere.
		records := store.NewMemoryReconciliationStore()
		orgs := store.NewMemoryOrganizationStore()
		gateway := ledger.NewStubGateway()
		seed(t, records, orgs, "ngo-restart", "tx-9", false)

		approvals := NewApprovalService(newTestTokenizer(t, time.Hour), records, orgs, gateway, &capturingPublisher{})
		approvals.SetCommitBackoff(2, time.Millisecond)
		require.NoError(t, approvals.Resume(ctx))

		gateway.Confirm("tx-9")

		require.Eventually(t, func() bool {
			status, err := approvals.Status(ctx, "ngo-restart")
			return err == nil && status == core.StatusApproved
		}, 2*time.Second, 10*time.Millisecond, "resumed watcher should drive the approval to completion")

		record, err := records.Get(ctx, "ngo-restart")
		require.NoError(t, err)
		assert.True(t, record.LedgerConfirmed)
		assert.True(t, record.OffChainCommitted)
	})

	t.Run("confirmed but uncommitted approval is committed", func(t *testing.T) {
		records := store.NewMemoryReconciliationStore()
		orgs := store.NewMemoryOrganizationStore()
		seed(t, records, orgs, "ngo-half", "tx-3", true)

		approvals := NewApprovalService(newTestTokenizer(t, time.Hour), records, orgs, ledger.NewStubGateway(), &capturingPublisher{})
		approvals.SetCommitBackoff(2, time.Millisecond)
		require.NoError(t, approvals.Resume(ctx))

		require.Eventually(t, func() bool {
			status, err := approvals.Status(ctx, "ngo-half")
			return err == nil && status == core.StatusApproved
		}, 2*time.Second, 10*time.Millisecond, "resume should re-drive the off-chain half without a new ledger transaction")

		record, err := records.Get(ctx, "ngo-half")
		require.NoError(t, err)
		assert.True(t, record.OffChainCommitted)
		assert.Equal(t, "tx-3", record.LedgerTxID)
	})

	t.Run("resolved records stay untouched", func(t *testing.T) {
		records := store.NewMemoryReconciliationStore()
		orgs := store.NewMemoryOrganizationStore()
		now := time.Now()
		require.NoError(t, orgs.Create(ctx, &core.Organization{ID: "ngo-done", Name: "ngo-done", Status: core.StatusApproved, CreatedAt: now, UpdatedAt: now}))
		require.NoError(t, records.Create(ctx, &core.ReconciliationRecord{
			EntityID: "ngo-done", LedgerTxID: "tx-1", LedgerConfirmed: true, OffChainCommitted: true,
			CreatedAt: now, UpdatedAt: now,
		}))

		approvals := NewApprovalService(newTestTokenizer(t, time.Hour), records, orgs, ledger.NewStubGateway(), &capturingPublisher{})
		require.NoError(t, approvals.Resume(ctx))

		record, err := records.Get(ctx, "ngo-done")
		require.NoError(t, err)
		assert.Equal(t, 0, record.Attempts)
	})
}
