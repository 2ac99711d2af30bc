package core

import "errors"

var (
	// Authentication phase. All client caused; the only remedy is
	// requesting a fresh challenge.
	ErrInvalidAddress    = errors.New("invalid address")
	ErrChallengeNotFound = errors.New("challenge not found or already consumed")
	ErrChallengeExpired  = errors.New("challenge has expired")
	ErrMessageMismatch   = errors.New("signed message does not match issued challenge")
	ErrInvalidSignature  = errors.New("invalid signature")

	// Session phase. The client must re-authenticate.
	ErrCredentialExpired = errors.New("credential has expired")
	ErrCredentialInvalid = errors.New("invalid credential")

	ErrUnauthenticated = errors.New("authentication required")
	ErrUnauthorized    = errors.New("insufficient role")

	// Reconciliation phase.
	ErrEntityNotFound         = errors.New("entity not found")
	ErrInvalidTransition      = errors.New("invalid status transition")
	ErrLedgerSubmissionFailed = errors.New("ledger submission failed")
	ErrOffChainCommitFailed   = errors.New("off-chain commit failed")

	// ErrInvariantViolation marks a transition that must never happen,
	// such as committing off-chain before the ledger confirmed. It is a
	// programming error, not a recoverable condition.
	ErrInvariantViolation = errors.New("reconciliation invariant violated")
)
