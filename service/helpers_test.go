package service

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common/hexutil"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"

	"github.com/givechain/warden/adapters/tokenizer"
	"github.com/givechain/warden/ports"
)

type stalledAlert struct {
	entityID string
	txID     string
	attempts int
}

// capturingPublisher records published events for assertions
type capturingPublisher struct {
	mu      sync.Mutex
	logouts []string
	stalled []stalledAlert
}

func (p *capturingPublisher) PublishLogout(ctx context.Context, address string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.logouts = append(p.logouts, address)
	return nil
}

func (p *capturingPublisher) PublishApprovalStalled(ctx context.Context, entityID, txID string, attempts int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stalled = append(p.stalled, stalledAlert{entityID: entityID, txID: txID, attempts: attempts})
	return nil
}

func (p *capturingPublisher) logoutEvents() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.logouts...)
}

func (p *capturingPublisher) stalledEvents() []stalledAlert {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]stalledAlert(nil), p.stalled...)
}

var _ ports.EventPublisher = (*capturingPublisher)(nil)

func newTestTokenizer(t *testing.T, ttl time.Duration) ports.Tokenizer {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	return tokenizer.NewJWTTokenizer(key, ttl)
}

// newWallet generates a throwaway wallet key and its address
func newWallet(t *testing.T) (*ecdsa.PrivateKey, string) {
	t.Helper()
	key, err := ethcrypto.GenerateKey()
	require.NoError(t, err)
	return key, ethcrypto.PubkeyToAddress(key.PublicKey).Hex()
}

// signPersonal signs a message the way a browser wallet does
func signPersonal(t *testing.T, key *ecdsa.PrivateKey, message string) string {
	t.Helper()
	sig, err := ethcrypto.Sign(accounts.TextHash([]byte(message)), key)
	require.NoError(t, err)
	sig[64] += 27
	return hexutil.Encode(sig)
}
