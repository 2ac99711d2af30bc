package core

import (
	"time"

	"github.com/shopspring/decimal"
)

// ApprovalStatus is the verification state of an approvable organization
type ApprovalStatus string

const (
	StatusPending              ApprovalStatus = "PENDING"
	StatusAwaitingConfirmation ApprovalStatus = "AWAITING_CONFIRMATION"
	StatusApproved             ApprovalStatus = "APPROVED"
	StatusRejected             ApprovalStatus = "REJECTED"
)

// Organization is the off-chain record of a fundable organization.
// Status may only reach APPROVED through the reconciliation engine.
type Organization struct {
	ID           string
	Name         string
	Wallet       string // Ethereum address donations are paid to
	TargetAmount decimal.Decimal
	RaisedAmount decimal.Decimal
	Status       ApprovalStatus
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// ReconciliationRecord tracks a privileged approval across the ledger and
// the off-chain store. OffChainCommitted may only become true once
// LedgerConfirmed is true; the record persists until both sides agree so
// the off-chain half can be retried alone.
type ReconciliationRecord struct {
	EntityID          string
	LedgerTxID        string
	LedgerConfirmed   bool
	OffChainCommitted bool
	Attempts          int    // off-chain commit attempts so far
	InitiatedBy       string // address of the approving admin
	CreatedAt         time.Time
	UpdatedAt         time.Time
}
