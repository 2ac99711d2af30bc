package eth

import (
	"fmt"
	"strings"
	"time"
)

// SignInMessage is the payload a wallet signs during login. Every field is
// embedded in the rendered text so a signature cannot be replayed against
// a different origin, address, or after expiry.
type SignInMessage struct {
	Domain    string
	Address   string
	Nonce     string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// Render produces the exact text presented to the wallet. Verification
// requires byte-equality with this output, so the format is part of the
// protocol and must stay stable.
func (m SignInMessage) Render() string {
	return fmt.Sprintf(
		"%s wants you to sign in with your Ethereum account:\n%s\n\nNonce: %s\nIssued At: %s\nExpires At: %s",
		m.Domain,
		m.Address,
		m.Nonce,
		m.IssuedAt.UTC().Format(time.RFC3339),
		m.ExpiresAt.UTC().Format(time.RFC3339),
	)
}

// ParseNonce extracts the nonce line from a rendered sign-in message. The
// nonce identifies which issued challenge a signed message belongs to.
func ParseNonce(message string) (string, bool) {
	for _, line := range strings.Split(message, "\n") {
		if nonce, ok := strings.CutPrefix(line, "Nonce: "); ok {
			return nonce, true
		}
	}
	return "", false
}
