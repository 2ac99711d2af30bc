package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/givechain/warden/core"
	"github.com/givechain/warden/ports"
)

// consumeChallengeScript deletes the challenge only when the stored nonce
// matches, so two concurrent logins cannot both consume it.
var consumeChallengeScript = redis.NewScript(`
if redis.call("HGET", KEYS[1], "nonce") == ARGV[1] then
	redis.call("DEL", KEYS[1])
	return 1
end
return 0
`)

// RedisChallengeStore is a Redis implementation of the ChallengeStore
// interface. Challenges survive process restarts and expire with the key.
type RedisChallengeStore struct {
	client *redis.Client
	prefix string
}

// NewRedisChallengeStore creates a new Redis challenge store
func NewRedisChallengeStore(client *redis.Client) ports.ChallengeStore {
	return &RedisChallengeStore{
		client: client,
		prefix: "warden:challenge:",
	}
}

func (s *RedisChallengeStore) key(address string) string {
	return s.prefix + strings.ToLower(address)
}

// Put stores a challenge, replacing any prior challenge for the address
func (s *RedisChallengeStore) Put(ctx context.Context, challenge *core.Challenge) error {
	key := s.key(challenge.Address)

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, key, map[string]interface{}{
		"address":    challenge.Address,
		"nonce":      challenge.Nonce,
		"domain":     challenge.Domain,
		"issued_at":  challenge.IssuedAt.UTC().Format(time.RFC3339Nano),
		"expires_at": challenge.ExpiresAt.UTC().Format(time.RFC3339Nano),
	})
	pipe.ExpireAt(ctx, key, challenge.ExpiresAt)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to store challenge: %w", err)
	}

	return nil
}

// Get returns the unconsumed challenge for an address
func (s *RedisChallengeStore) Get(ctx context.Context, address string) (*core.Challenge, error) {
	fields, err := s.client.HGetAll(ctx, s.key(address)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load challenge: %w", err)
	}
	if len(fields) == 0 {
		return nil, core.ErrChallengeNotFound
	}

	issuedAt, err := time.Parse(time.RFC3339Nano, fields["issued_at"])
	if err != nil {
		return nil, fmt.Errorf("corrupt challenge record: %w", err)
	}
	expiresAt, err := time.Parse(time.RFC3339Nano, fields["expires_at"])
	if err != nil {
		return nil, fmt.Errorf("corrupt challenge record: %w", err)
	}

	return &core.Challenge{
		Address:   fields["address"],
		Nonce:     fields["nonce"],
		Domain:    fields["domain"],
		IssuedAt:  issuedAt,
		ExpiresAt: expiresAt,
	}, nil
}

// Consume removes the challenge for address if the nonce matches
func (s *RedisChallengeStore) Consume(ctx context.Context, address, nonce string) error {
	consumed, err := consumeChallengeScript.Run(ctx, s.client, []string{s.key(address)}, nonce).Int()
	if err != nil {
		return fmt.Errorf("failed to consume challenge: %w", err)
	}
	if consumed != 1 {
		return core.ErrChallengeNotFound
	}
	return nil
}
