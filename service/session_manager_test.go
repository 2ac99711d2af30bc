package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/givechain/warden/adapters/store"
	"github.com/givechain/warden/core"
	"github.com/givechain/warden/ports"
)

// gatedTokenizer blocks credential issuance until released, holding an
// in-flight refresh at a precise point.
type gatedTokenizer struct {
	ports.Tokenizer
	entered chan struct{}
	release chan struct{}
}

func (g *gatedTokenizer) IssueCredential(address string, role core.Role) (string, time.Time, error) {
	g.entered <- struct{}{}
	<-g.release
	return g.Tokenizer.IssueCredential(address, role)
}

func newSessionFixture(t *testing.T, credentialTTL time.Duration) (*SessionManager, *authFixture) {
	t.Helper()
	fx := newAuthFixture(t, credentialTTL)
	return NewSessionManager(fx.auth), fx
}

func issueFor(t *testing.T, fx *authFixture, address string, role core.Role) string {
	t.Helper()
	credential, _, err := fx.tokenizer.IssueCredential(address, role)
	require.NoError(t, err)
	return credential
}

func TestSessionOpenAndGet(t *testing.T) {
	manager, fx := newSessionFixture(t, time.Hour)
	address := "0xAbCdEf3333333333333333333333333333333333"
	credential := issueFor(t, fx, address, core.RoleDonor)

	session, err := manager.Open(context.Background(), address, credential)
	require.NoError(t, err)
	assert.Equal(t, address, session.Address)
	assert.Equal(t, core.RoleDonor, session.Role)
	assert.Equal(t, credential, session.Credential)

	got, ok := manager.Get(address)
	require.True(t, ok)
	assert.Equal(t, credential, got.Credential)

	// Address lookup ignores hex casing.
	_, ok = manager.Get("0xabcdef3333333333333333333333333333333333")
	assert.True(t, ok)
}

func TestSessionOpenInvalidCredential(t *testing.T) {
	manager, _ := newSessionFixture(t, time.Hour)

	_, err := manager.Open(context.Background(), "0x3333333333333333333333333333333333333333", "garbage")
	assert.ErrorIs(t, err, core.ErrCredentialInvalid)
}

func TestSessionScheduledRefresh(t *testing.T) {
	manager, fx := newSessionFixture(t, 2*time.Second)
	manager.SetRefreshAhead(1900 * time.Millisecond) // fire ~100ms after open

	address := "0x3333333333333333333333333333333333333333"
	credential := issueFor(t, fx, address, core.RoleDonor)

	_, err := manager.Open(context.Background(), address, credential)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		session, ok := manager.Get(address)
		return ok && session.Credential != credential
	}, 3*time.Second, 20*time.Millisecond, "scheduled refresh should replace the credential")

	session, ok := manager.Get(address)
	require.True(t, ok)
	assert.Equal(t, core.RoleDonor, session.Role)
}

func TestSessionFailedRefreshTearsDown(t *testing.T) {
	manager, fx := newSessionFixture(t, 50*time.Millisecond)
	// Fire the refresh after the credential already expired.
	manager.SetRefreshAhead(-100 * time.Millisecond)

	address := "0x3333333333333333333333333333333333333333"
	credential := issueFor(t, fx, address, core.RoleDonor)

	_, err := manager.Open(context.Background(), address, credential)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		_, ok := manager.Get(address)
		return !ok
	}, 3*time.Second, 20*time.Millisecond, "failed refresh should destroy the session")
}

func TestSessionCloseCancelsRefresh(t *testing.T) {
	manager, fx := newSessionFixture(t, time.Hour)
	manager.SetRefreshAhead(time.Hour - 50*time.Millisecond) // would fire in ~50ms

	address := "0x3333333333333333333333333333333333333333"
	credential := issueFor(t, fx, address, core.RoleDonor)

	_, err := manager.Open(context.Background(), address, credential)
	require.NoError(t, err)

	manager.Close(address)

	time.Sleep(150 * time.Millisecond)

	_, ok := manager.Get(address)
	assert.False(t, ok, "closed session must not be resurrected by its timer")
}

func TestSessionAddressSwitchInvalidation(t *testing.T) {
	manager, fx := newSessionFixture(t, time.Hour)

	bound := "0x3333333333333333333333333333333333333333"
	credential := issueFor(t, fx, bound, core.RoleDonor)

	_, err := manager.Open(context.Background(), bound, credential)
	require.NoError(t, err)

	t.Run("same address is a no-op", func(t *testing.T) {
		cleared := manager.OnAddressChanged(bound, "0x3333333333333333333333333333333333333333")
		assert.False(t, cleared)

		_, ok := manager.Get(bound)
		assert.True(t, ok)
	})

	t.Run("different address clears the session", func(t *testing.T) {
		cleared := manager.OnAddressChanged(bound, "0x4444444444444444444444444444444444444444")
		assert.True(t, cleared)

		_, ok := manager.Get(bound)
		assert.False(t, ok)
	})
}

func TestSessionOpenReplacesExisting(t *testing.T) {
	manager, fx := newSessionFixture(t, time.Hour)
	address := "0x3333333333333333333333333333333333333333"

	first := issueFor(t, fx, address, core.RoleDonor)
	_, err := manager.Open(context.Background(), address, first)
	require.NoError(t, err)

	second := issueFor(t, fx, address, core.RoleDonor)
	_, err = manager.Open(context.Background(), address, second)
	require.NoError(t, err)

	session, ok := manager.Get(address)
	require.True(t, ok)
	assert.Equal(t, second, session.Credential)
}

func TestSessionReplaceDuringInFlightRefresh(t *testing.T) {
	inner := newTestTokenizer(t, time.Hour)
	gate := &gatedTokenizer{Tokenizer: inner, entered: make(chan struct{}), release: make(chan struct{})}
	auth := NewAuthService(store.NewMemoryChallengeStore(), gate, &capturingPublisher{}, testDomain)
	manager := NewSessionManager(auth)

	address := "0x3333333333333333333333333333333333333333"
	first, _, err := inner.IssueCredential(address, core.RoleDonor)
	require.NoError(t, err)

	// Fire the first session's refresh immediately and hold it at the
	// issuance gate.
	manager.SetRefreshAhead(time.Hour)
	_, err = manager.Open(context.Background(), address, first)
	require.NoError(t, err)
	<-gate.entered

	// Replace the session while that refresh is still in flight. The
	// replacement's own timer must stay clear of the test window.
	manager.SetRefreshAhead(-time.Hour)
	second, _, err := inner.IssueCredential(address, core.RoleDonor)
	require.NoError(t, err)
	_, err = manager.Open(context.Background(), address, second)
	require.NoError(t, err)

	close(gate.release)
	time.Sleep(100 * time.Millisecond)

	session, ok := manager.Get(address)
	require.True(t, ok)
	assert.Equal(t, second, session.Credential, "a stale refresh must not clobber the replacement session")
}
