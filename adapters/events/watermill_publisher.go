package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/givechain/warden/ports"
)

const (
	// LogoutTopic carries session teardown notifications across instances
	LogoutTopic = "warden.logout"

	// ApprovalStalledTopic carries alerts for approvals that are
	// ledger-confirmed but failed to commit off-chain after the
	// automatic retries
	ApprovalStalledTopic = "warden.approval.stalled"
)

// LogoutEvent represents a session teardown
type LogoutEvent struct {
	Address string `json:"address"`
}

// ApprovalStalledEvent represents a reconciliation disagreement that
// needs manual intervention
type ApprovalStalledEvent struct {
	EntityID   string    `json:"entity_id"`
	LedgerTxID string    `json:"ledger_tx_id"`
	Attempts   int       `json:"attempts"`
	StalledAt  time.Time `json:"stalled_at"`
}

// WatermillPublisher implements the EventPublisher interface using Watermill
type WatermillPublisher struct {
	publisher message.Publisher
}

// NewWatermillPublisher creates a new Watermill publisher
func NewWatermillPublisher(publisher message.Publisher) ports.EventPublisher {
	return &WatermillPublisher{publisher: publisher}
}

// PublishLogout publishes a logout event
func (p *WatermillPublisher) PublishLogout(ctx context.Context, address string) error {
	return p.publish(LogoutTopic, LogoutEvent{Address: address})
}

// PublishApprovalStalled publishes a stalled-approval alert
func (p *WatermillPublisher) PublishApprovalStalled(ctx context.Context, entityID, txID string, attempts int) error {
	return p.publish(ApprovalStalledTopic, ApprovalStalledEvent{
		EntityID:   entityID,
		LedgerTxID: txID,
		Attempts:   attempts,
		StalledAt:  time.Now(),
	})
}

func (p *WatermillPublisher) publish(topic string, event interface{}) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	msg := message.NewMessage(watermill.NewUUID(), payload)

	if err := p.publisher.Publish(topic, msg); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}

	return nil
}
