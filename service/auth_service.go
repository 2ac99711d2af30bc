package service

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/givechain/warden/core"
	"github.com/givechain/warden/internal/eth"
	"github.com/givechain/warden/logging"
	"github.com/givechain/warden/ports"
)

// DefaultChallengeTTL is how long a signed challenge stays usable
const DefaultChallengeTTL = 15 * time.Minute

// AuthService orchestrates the wallet login ceremony: challenge issuance,
// signature verification and credential minting.
type AuthService struct {
	challenges ports.ChallengeStore
	tokenizer  ports.Tokenizer
	eventPub   ports.EventPublisher

	domain       string
	challengeTTL time.Duration
}

// NewAuthService creates a new authentication service. domain is embedded
// in every challenge message so signatures cannot be replayed against a
// different origin.
func NewAuthService(challenges ports.ChallengeStore, tokenizer ports.Tokenizer, eventPub ports.EventPublisher, domain string) *AuthService {
	return &AuthService{
		challenges:   challenges,
		tokenizer:    tokenizer,
		eventPub:     eventPub,
		domain:       domain,
		challengeTTL: DefaultChallengeTTL,
	}
}

// SetChallengeTTL overrides the default challenge lifetime
func (s *AuthService) SetChallengeTTL(ttl time.Duration) {
	if ttl > 0 {
		s.challengeTTL = ttl
	}
}

// CreateChallenge generates a new challenge for an address. Any prior
// unconsumed challenge for the address is replaced.
func (s *AuthService) CreateChallenge(ctx context.Context, address string) (*core.Challenge, error) {
	if !common.IsHexAddress(address) {
		return nil, fmt.Errorf("%w: %q", core.ErrInvalidAddress, address)
	}

	nonceBytes := make([]byte, 32)
	if _, err := rand.Read(nonceBytes); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	now := time.Now()
	challenge := &core.Challenge{
		Address:   address,
		Nonce:     hex.EncodeToString(nonceBytes),
		Domain:    s.domain,
		IssuedAt:  now,
		ExpiresAt: now.Add(s.challengeTTL),
	}

	if err := s.challenges.Put(ctx, challenge); err != nil {
		return nil, fmt.Errorf("failed to store challenge: %w", err)
	}

	return challenge, nil
}

// ChallengeMessage renders the exact text the wallet must sign
func (s *AuthService) ChallengeMessage(challenge *core.Challenge) string {
	return eth.SignInMessage{
		Domain:    challenge.Domain,
		Address:   challenge.Address,
		Nonce:     challenge.Nonce,
		IssuedAt:  challenge.IssuedAt,
		ExpiresAt: challenge.ExpiresAt,
	}.Render()
}

// Login verifies a signed challenge and mints a credential. The challenge
// is consumed only when every check passes, so a failed attempt leaves it
// usable and a second attempt with a consumed challenge fails.
func (s *AuthService) Login(ctx context.Context, address, signature, message string) (string, time.Time, error) {
	challenge, err := s.challenges.Get(ctx, address)
	if err != nil {
		return "", time.Time{}, err
	}

	// The nonce embedded in the message identifies the challenge it was
	// signed for. A nonce that no longer matches the stored challenge
	// means that challenge was replaced or consumed.
	if nonce, ok := eth.ParseNonce(message); ok && nonce != challenge.Nonce {
		return "", time.Time{}, core.ErrChallengeNotFound
	}

	if time.Now().After(challenge.ExpiresAt) {
		return "", time.Time{}, core.ErrChallengeExpired
	}

	// The client echoes the message it signed; requiring byte-equality
	// with the reconstruction defeats substitution of any embedded field.
	if s.ChallengeMessage(challenge) != message {
		return "", time.Time{}, core.ErrMessageMismatch
	}

	sig, err := eth.ParseSignature(signature)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("%w: %v", core.ErrInvalidSignature, err)
	}

	verified, err := eth.VerifyPersonalSign(message, sig, common.HexToAddress(address))
	if err != nil {
		return "", time.Time{}, fmt.Errorf("%w: %v", core.ErrInvalidSignature, err)
	}
	if !verified {
		return "", time.Time{}, core.ErrInvalidSignature
	}

	// Single use: under concurrent logins with the same challenge exactly
	// one caller gets past this point.
	if err := s.challenges.Consume(ctx, address, challenge.Nonce); err != nil {
		return "", time.Time{}, err
	}

	credential, expiresAt, err := s.tokenizer.IssueCredential(address, core.DefaultRole)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to issue credential: %w", err)
	}

	return credential, expiresAt, nil
}

// Validate checks a bearer credential and returns the identity it carries
func (s *AuthService) Validate(ctx context.Context, credential string) (*core.Identity, error) {
	return s.tokenizer.ValidateCredential(credential)
}

// Refresh mints a new credential for the same address and role. The old
// credential must still validate; an expired credential cannot be
// refreshed.
func (s *AuthService) Refresh(ctx context.Context, credential string) (string, time.Time, error) {
	identity, err := s.tokenizer.ValidateCredential(credential)
	if err != nil {
		return "", time.Time{}, err
	}

	newCredential, expiresAt, err := s.tokenizer.IssueCredential(identity.Address, identity.Role)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to issue credential: %w", err)
	}

	return newCredential, expiresAt, nil
}

// Logout announces a session teardown. Credentials are stateless and die
// at their natural expiry; the event lets other instances clear their
// session state.
func (s *AuthService) Logout(ctx context.Context, credential string) error {
	identity, err := s.tokenizer.ValidateCredential(credential)
	if err != nil {
		return err
	}

	if err := s.eventPub.PublishLogout(ctx, identity.Address); err != nil {
		// The session is already gone client-side; a missed notification
		// is not worth failing the logout.
		logging.Log().Warnf("Failed to publish logout event for %s: %v", identity.Address, err)
	}

	return nil
}
