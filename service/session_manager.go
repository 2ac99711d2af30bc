package service

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/givechain/warden/core"
	"github.com/givechain/warden/logging"
)

// DefaultRefreshAhead is how long before credential expiry the scheduled
// refresh fires
const DefaultRefreshAhead = 5 * time.Minute

type managedSession struct {
	session core.Session
	timer   *time.Timer
}

// SessionManager owns the lifecycle of active sessions: created on
// successful authentication, refreshed ahead of credential expiry,
// destroyed on logout, refresh failure or address switch. Exactly one
// session exists per wallet address.
type SessionManager struct {
	auth         *AuthService
	refreshAhead time.Duration

	mu       sync.Mutex
	sessions map[string]*managedSession
}

// NewSessionManager creates a new session manager
func NewSessionManager(auth *AuthService) *SessionManager {
	return &SessionManager{
		auth:         auth,
		refreshAhead: DefaultRefreshAhead,
		sessions:     make(map[string]*managedSession),
	}
}

// SetRefreshAhead overrides how far before expiry the scheduled refresh
// fires
func (m *SessionManager) SetRefreshAhead(d time.Duration) {
	m.refreshAhead = d
}

// Open registers a session for address and schedules its refresh. An
// existing session for the same address is replaced, cancelling its timer.
func (m *SessionManager) Open(ctx context.Context, address, credential string) (*core.Session, error) {
	identity, err := m.auth.Validate(ctx, credential)
	if err != nil {
		return nil, err
	}

	session := core.Session{
		Address:    address,
		Role:       identity.Role,
		Credential: credential,
		IssuedAt:   time.Now(),
		ExpiresAt:  identity.ExpiresAt,
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	key := sessionKey(address)
	if prev, ok := m.sessions[key]; ok {
		prev.timer.Stop()
	}

	ms := &managedSession{session: session}
	ms.timer = time.AfterFunc(m.refreshDelay(identity.ExpiresAt), func() {
		m.refresh(address)
	})
	m.sessions[key] = ms

	s := session
	return &s, nil
}

// Get returns the active session for an address
func (m *SessionManager) Get(address string) (*core.Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ms, ok := m.sessions[sessionKey(address)]
	if !ok {
		return nil, false
	}
	s := ms.session
	return &s, true
}

// Close destroys the session for an address and cancels its pending
// refresh timer
func (m *SessionManager) Close(address string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closeLocked(sessionKey(address))
}

// OnAddressChanged enforces address-switch invalidation: when the wallet's
// connected address no longer matches the session's bound address, the
// session is cleared and re-authentication is required. Returns true when
// a session was cleared.
func (m *SessionManager) OnAddressChanged(boundAddress, connectedAddress string) bool {
	if sessionKey(boundAddress) == sessionKey(connectedAddress) {
		return false
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	key := sessionKey(boundAddress)
	if _, ok := m.sessions[key]; !ok {
		return false
	}
	m.closeLocked(key)
	logging.Log().Infof("Session for %s cleared after address switch.", boundAddress)
	return true
}

func (m *SessionManager) closeLocked(key string) {
	if ms, ok := m.sessions[key]; ok {
		ms.timer.Stop()
		delete(m.sessions, key)
	}
}

// refresh runs on the session timer. A failed refresh tears the session
// down instead of letting it expire silently mid-use.
func (m *SessionManager) refresh(address string) {
	m.mu.Lock()
	ms, ok := m.sessions[sessionKey(address)]
	if !ok {
		m.mu.Unlock()
		return
	}
	credential := ms.session.Credential
	m.mu.Unlock()

	newCredential, expiresAt, err := m.auth.Refresh(context.Background(), credential)
	if err != nil {
		logging.Log().Warnf("Scheduled refresh failed for %s, tearing session down: %v", address, err)
		m.Close(address)
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	ms, ok = m.sessions[sessionKey(address)]
	if !ok {
		// Session was closed while the refresh was in flight.
		return
	}
	if ms.session.Credential != credential {
		// Session was replaced while the refresh was in flight; the
		// replacement owns its own timer and credential.
		return
	}
	ms.timer.Stop()
	ms.session.Credential = newCredential
	ms.session.ExpiresAt = expiresAt
	ms.timer = time.AfterFunc(m.refreshDelay(expiresAt), func() {
		m.refresh(address)
	})
}

func (m *SessionManager) refreshDelay(expiresAt time.Time) time.Duration {
	delay := time.Until(expiresAt.Add(-m.refreshAhead))
	if delay < 0 {
		delay = 0
	}
	return delay
}

func sessionKey(address string) string {
	return strings.ToLower(address)
}
