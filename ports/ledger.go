package ports

import "context"

// LedgerGateway is the boundary to the blockchain registry. It submits
// state-changing transactions and reports their eventual confirmation; the
// contract itself is opaque to this system.
type LedgerGateway interface {
	// SubmitApproval submits the on-chain approval for an entity and
	// returns the transaction id. An outright rejection surfaces as
	// core.ErrLedgerSubmissionFailed.
	SubmitApproval(ctx context.Context, entityID string) (txID string, err error)

	// WaitConfirmed blocks until txID is confirmed or ctx is done.
	// Confirmation is externally paced (block production), so callers
	// must not hold locks across this call.
	WaitConfirmed(ctx context.Context, txID string) error
}
