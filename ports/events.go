package ports

import "context"

// EventPublisher publishes events to notify other instances
type EventPublisher interface {
	// PublishLogout announces a session teardown for an address.
	PublishLogout(ctx context.Context, address string) error

	// PublishApprovalStalled alerts that an approval is ledger-confirmed
	// but could not be committed off-chain after the automatic retries.
	// These events require manual intervention.
	PublishApprovalStalled(ctx context.Context, entityID, txID string, attempts int) error
}
