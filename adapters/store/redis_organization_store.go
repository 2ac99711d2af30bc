package store

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/givechain/warden/core"
	"github.com/givechain/warden/ports"
)

var setStatusScript = redis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 0 then
	return -2
end
if redis.call("HGET", KEYS[1], "status") ~= ARGV[1] then
	return -1
end
redis.call("HSET", KEYS[1], "status", ARGV[2], "updated_at", ARGV[3])
return 1
`)

// RedisOrganizationStore is a Redis implementation of the
// OrganizationStore interface
type RedisOrganizationStore struct {
	client *redis.Client
	prefix string
}

// NewRedisOrganizationStore creates a new Redis organization store
func NewRedisOrganizationStore(client *redis.Client) ports.OrganizationStore {
	return &RedisOrganizationStore{
		client: client,
		prefix: "warden:organization:",
	}
}

func (s *RedisOrganizationStore) key(id string) string {
	return s.prefix + id
}

// Create persists a new organization
func (s *RedisOrganizationStore) Create(ctx context.Context, org *core.Organization) error {
	status := org.Status
	if status == "" {
		status = core.StatusPending
	}

	err := s.client.HSet(ctx, s.key(org.ID), map[string]interface{}{
		"id":            org.ID,
		"name":          org.Name,
		"wallet":        org.Wallet,
		"target_amount": org.TargetAmount.String(),
		"raised_amount": org.RaisedAmount.String(),
		"status":        string(status),
		"created_at":    org.CreatedAt.UTC().Format(time.RFC3339Nano),
		"updated_at":    org.UpdatedAt.UTC().Format(time.RFC3339Nano),
	}).Err()
	if err != nil {
		return fmt.Errorf("failed to store organization: %w", err)
	}
	return nil
}

// Get returns the organization by id
func (s *RedisOrganizationStore) Get(ctx context.Context, id string) (*core.Organization, error) {
	fields, err := s.client.HGetAll(ctx, s.key(id)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load organization: %w", err)
	}
	if len(fields) == 0 {
		return nil, core.ErrEntityNotFound
	}

	target, err := decimal.NewFromString(fields["target_amount"])
	if err != nil {
		return nil, fmt.Errorf("corrupt organization record: %w", err)
	}
	raised, err := decimal.NewFromString(fields["raised_amount"])
	if err != nil {
		return nil, fmt.Errorf("corrupt organization record: %w", err)
	}
	createdAt, err := time.Parse(time.RFC3339Nano, fields["created_at"])
	if err != nil {
		return nil, fmt.Errorf("corrupt organization record: %w", err)
	}
	updatedAt, err := time.Parse(time.RFC3339Nano, fields["updated_at"])
	if err != nil {
		return nil, fmt.Errorf("corrupt organization record: %w", err)
	}

	return &core.Organization{
		ID:           fields["id"],
		Name:         fields["name"],
		Wallet:       fields["wallet"],
		TargetAmount: target,
		RaisedAmount: raised,
		Status:       core.ApprovalStatus(fields["status"]),
		CreatedAt:    createdAt,
		UpdatedAt:    updatedAt,
	}, nil
}

// SetStatus transitions the organization status atomically
func (s *RedisOrganizationStore) SetStatus(ctx context.Context, id string, from, to core.ApprovalStatus) error {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	res, err := setStatusScript.Run(ctx, s.client, []string{s.key(id)}, string(from), string(to), now).Int()
	if err != nil {
		return fmt.Errorf("failed to set status: %w", err)
	}
	switch res {
	case -2:
		return core.ErrEntityNotFound
	case -1:
		return core.ErrInvalidTransition
	}
	return nil
}
