package store

import (
	"context"
	"strings"
	"sync"

	"github.com/givechain/warden/core"
	"github.com/givechain/warden/ports"
)

// MemoryChallengeStore is an in-memory implementation of the
// ChallengeStore interface, keyed by lowercased address
type MemoryChallengeStore struct {
	challenges map[string]*core.Challenge
	mu         sync.Mutex
}

// NewMemoryChallengeStore creates a new in-memory challenge store
func NewMemoryChallengeStore() ports.ChallengeStore {
	return &MemoryChallengeStore{
		challenges: make(map[string]*core.Challenge),
	}
}

// Put stores a challenge, replacing any prior challenge for the address
func (s *MemoryChallengeStore) Put(ctx context.Context, challenge *core.Challenge) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := *challenge
	s.challenges[challengeKey(challenge.Address)] = &c
	return nil
}

// Get returns the unconsumed challenge for an address
func (s *MemoryChallengeStore) Get(ctx context.Context, address string) (*core.Challenge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	challenge, ok := s.challenges[challengeKey(address)]
	if !ok {
		return nil, core.ErrChallengeNotFound
	}

	c := *challenge
	return &c, nil
}

// Consume removes the challenge for address if the nonce matches
func (s *MemoryChallengeStore) Consume(ctx context.Context, address, nonce string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := challengeKey(address)
	challenge, ok := s.challenges[key]
	if !ok || challenge.Nonce != nonce {
		return core.ErrChallengeNotFound
	}

	delete(s.challenges, key)
	return nil
}

func challengeKey(address string) string {
	return strings.ToLower(address)
}
