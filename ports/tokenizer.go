package ports

import (
	"time"

	"github.com/givechain/warden/core"
)

// Tokenizer mints and validates self-contained bearer credentials.
// Validation is stateless: the credential carries everything needed, so no
// store lookup happens on the hot path. The trade-off is that credentials
// cannot be revoked before their natural expiry, which is kept short.
type Tokenizer interface {
	// IssueCredential signs a credential for address with the given role.
	IssueCredential(address string, role core.Role) (credential string, expiresAt time.Time, err error)

	// ValidateCredential verifies the signature and expiry of a
	// credential. Fails with core.ErrCredentialExpired or
	// core.ErrCredentialInvalid.
	ValidateCredential(credential string) (*core.Identity, error)
}
