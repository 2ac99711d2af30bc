package core

import "time"

// Challenge represents an authentication challenge issued for a single address.
// At most one unconsumed challenge exists per address; issuing a new one
// replaces any prior challenge for that address.
type Challenge struct {
	Address   string    // Ethereum address of the user
	Nonce     string    // Random nonce to be signed
	Domain    string    // Origin the signed message is bound to
	IssuedAt  time.Time // When the challenge was created
	ExpiresAt time.Time // When the challenge expires
}

// Identity is the result of validating a bearer credential
type Identity struct {
	Address   string
	Role      Role
	ExpiresAt time.Time
}

// Session represents an authenticated user session. Exactly one session
// exists per connected wallet; it is destroyed on logout, on refresh
// failure, or when the connected address no longer matches Address.
type Session struct {
	Address    string    // Ethereum address the session is bound to
	Role       Role      // Role carried by the session credential
	Credential string    // Current bearer credential
	IssuedAt   time.Time // When the session was created
	ExpiresAt  time.Time // When the current credential expires
}
