package store

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/givechain/warden/core"
	"github.com/givechain/warden/ports"
)

// markCommittedScript enforces the reconciliation invariant inside Redis:
// the committed flag can only be set once the confirmed flag is.
var markCommittedScript = redis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 0 then
	return -2
end
if redis.call("HGET", KEYS[1], "ledger_confirmed") ~= "1" then
	return -1
end
redis.call("HSET", KEYS[1], "off_chain_committed", "1", "updated_at", ARGV[1])
return 1
`)

var markConfirmedScript = redis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 0 then
	return -2
end
if redis.call("HGET", KEYS[1], "ledger_confirmed") ~= "1" then
	redis.call("HSET", KEYS[1], "ledger_confirmed", "1", "updated_at", ARGV[1])
end
return 1
`)

// RedisReconciliationStore is a Redis implementation of the
// ReconciliationStore interface. Records are durable because a ledger
// transaction may take longer to confirm than a single process lifetime.
type RedisReconciliationStore struct {
	client *redis.Client
	prefix string
}

// NewRedisReconciliationStore creates a new Redis reconciliation store
func NewRedisReconciliationStore(client *redis.Client) ports.ReconciliationStore {
	return &RedisReconciliationStore{
		client: client,
		prefix: "warden:reconciliation:",
	}
}

func (s *RedisReconciliationStore) key(entityID string) string {
	return s.prefix + entityID
}

// Create persists a new reconciliation record
func (s *RedisReconciliationStore) Create(ctx context.Context, record *core.ReconciliationRecord) error {
	err := s.client.HSet(ctx, s.key(record.EntityID), map[string]interface{}{
		"entity_id":           record.EntityID,
		"ledger_tx_id":        record.LedgerTxID,
		"ledger_confirmed":    boolField(record.LedgerConfirmed),
		"off_chain_committed": boolField(record.OffChainCommitted),
		"attempts":            record.Attempts,
		"initiated_by":        record.InitiatedBy,
		"created_at":          record.CreatedAt.UTC().Format(time.RFC3339Nano),
		"updated_at":          record.UpdatedAt.UTC().Format(time.RFC3339Nano),
	}).Err()
	if err != nil {
		return fmt.Errorf("failed to store reconciliation record: %w", err)
	}
	return nil
}

// Get returns the record for an entity
func (s *RedisReconciliationStore) Get(ctx context.Context, entityID string) (*core.ReconciliationRecord, error) {
	fields, err := s.client.HGetAll(ctx, s.key(entityID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load reconciliation record: %w", err)
	}
	if len(fields) == 0 {
		return nil, core.ErrEntityNotFound
	}
	return recordFromFields(fields)
}

// MarkLedgerConfirmed sets LedgerConfirmed, a no-op when already confirmed
func (s *RedisReconciliationStore) MarkLedgerConfirmed(ctx context.Context, entityID string) (*core.ReconciliationRecord, error) {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	res, err := markConfirmedScript.Run(ctx, s.client, []string{s.key(entityID)}, now).Int()
	if err != nil {
		return nil, fmt.Errorf("failed to mark ledger confirmed: %w", err)
	}
	if res == -2 {
		return nil, core.ErrEntityNotFound
	}
	return s.Get(ctx, entityID)
}

// MarkCommitted sets OffChainCommitted once the ledger side is confirmed
func (s *RedisReconciliationStore) MarkCommitted(ctx context.Context, entityID string) error {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	res, err := markCommittedScript.Run(ctx, s.client, []string{s.key(entityID)}, now).Int()
	if err != nil {
		return fmt.Errorf("failed to mark committed: %w", err)
	}
	switch res {
	case -2:
		return core.ErrEntityNotFound
	case -1:
		return core.ErrInvariantViolation
	}
	return nil
}

// IncrementAttempts bumps the off-chain attempt counter
func (s *RedisReconciliationStore) IncrementAttempts(ctx context.Context, entityID string) (int, error) {
	key := s.key(entityID)

	exists, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to check reconciliation record: %w", err)
	}
	if exists == 0 {
		return 0, core.ErrEntityNotFound
	}

	attempts, err := s.client.HIncrBy(ctx, key, "attempts", 1).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to increment attempts: %w", err)
	}
	return int(attempts), nil
}

// ListUnresolved scans the record keyspace for approvals not yet
// committed off-chain
func (s *RedisReconciliationStore) ListUnresolved(ctx context.Context) ([]*core.ReconciliationRecord, error) {
	var unresolved []*core.ReconciliationRecord

	iter := s.client.Scan(ctx, 0, s.prefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		fields, err := s.client.HGetAll(ctx, iter.Val()).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to load reconciliation record: %w", err)
		}
		if len(fields) == 0 {
			// Key removed between scan and read.
			continue
		}
		record, err := recordFromFields(fields)
		if err != nil {
			return nil, err
		}
		if !record.OffChainCommitted {
			unresolved = append(unresolved, record)
		}
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan reconciliation records: %w", err)
	}
	return unresolved, nil
}

func boolField(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

func recordFromFields(fields map[string]string) (*core.ReconciliationRecord, error) {
	attempts, err := strconv.Atoi(fields["attempts"])
	if err != nil {
		return nil, fmt.Errorf("corrupt reconciliation record: %w", err)
	}
	createdAt, err := time.Parse(time.RFC3339Nano, fields["created_at"])
	if err != nil {
		return nil, fmt.Errorf("corrupt reconciliation record: %w", err)
	}
	updatedAt, err := time.Parse(time.RFC3339Nano, fields["updated_at"])
	if err != nil {
		return nil, fmt.Errorf("corrupt reconciliation record: %w", err)
	}

	return &core.ReconciliationRecord{
		EntityID:          fields["entity_id"],
		LedgerTxID:        fields["ledger_tx_id"],
		LedgerConfirmed:   fields["ledger_confirmed"] == "1",
		OffChainCommitted: fields["off_chain_committed"] == "1",
		Attempts:          attempts,
		InitiatedBy:       fields["initiated_by"],
		CreatedAt:         createdAt,
		UpdatedAt:         updatedAt,
	}, nil
}
