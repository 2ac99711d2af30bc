package ledger

import (
	"context"
	"fmt"
	"sync"

	"github.com/givechain/warden/core"
	"github.com/givechain/warden/ports"
)

// StubGateway is an in-process LedgerGateway for tests and local
// development. Confirmation is driven manually through Confirm.
type StubGateway struct {
	mu         sync.Mutex
	seq        int
	confirmed  map[string]chan struct{}
	submitted  map[string]string // txID -> entityID
	failSubmit bool
}

// NewStubGateway creates a new stub gateway
func NewStubGateway() *StubGateway {
	return &StubGateway{
		confirmed: make(map[string]chan struct{}),
		submitted: make(map[string]string),
	}
}

// FailSubmissions makes subsequent SubmitApproval calls fail outright
func (g *StubGateway) FailSubmissions(fail bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.failSubmit = fail
}

// SubmitApproval records a submission and returns a synthetic tx id
func (g *StubGateway) SubmitApproval(ctx context.Context, entityID string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.failSubmit {
		return "", core.ErrLedgerSubmissionFailed
	}

	g.seq++
	txID := fmt.Sprintf("tx-%d", g.seq)
	g.submitted[txID] = entityID
	g.confirmed[txID] = make(chan struct{})
	return txID, nil
}

// Confirm marks a transaction as confirmed, releasing any waiter
func (g *StubGateway) Confirm(txID string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	ch, ok := g.confirmed[txID]
	if !ok {
		ch = make(chan struct{})
		g.confirmed[txID] = ch
	}
	select {
	case <-ch:
	default:
		close(ch)
	}
}

// SubmissionCount returns how many submissions the gateway accepted
func (g *StubGateway) SubmissionCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.submitted)
}

// SubmittedEntity returns the entity a tx id was submitted for
func (g *StubGateway) SubmittedEntity(txID string) (string, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	entityID, ok := g.submitted[txID]
	return entityID, ok
}

// WaitConfirmed blocks until the transaction is confirmed or ctx is done
func (g *StubGateway) WaitConfirmed(ctx context.Context, txID string) error {
	g.mu.Lock()
	ch, ok := g.confirmed[txID]
	if !ok {
		ch = make(chan struct{})
		g.confirmed[txID] = ch
	}
	g.mu.Unlock()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-ch:
		return nil
	}
}

var _ ports.LedgerGateway = (*StubGateway)(nil)
