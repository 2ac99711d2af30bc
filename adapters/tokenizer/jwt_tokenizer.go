package tokenizer

import (
	"crypto/ecdsa"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/givechain/warden/core"
	"github.com/givechain/warden/ports"
)

const AudienceCredential = "warden:credential"

// DefaultCredentialTTL bounds the blast radius of a leaked credential.
// There is no revocation list, so this window is the only limit.
const DefaultCredentialTTL = 2 * time.Hour

// JWTTokenizer implements the Tokenizer interface using JWT
type JWTTokenizer struct {
	signKey *ecdsa.PrivateKey
	ttl     time.Duration
}

// NewJWTTokenizer creates a new JWT tokenizer signing with signKey
func NewJWTTokenizer(signKey *ecdsa.PrivateKey, ttl time.Duration) ports.Tokenizer {
	if ttl <= 0 {
		ttl = DefaultCredentialTTL
	}
	return &JWTTokenizer{signKey: signKey, ttl: ttl}
}

// IssueCredential signs a credential for address with the given role
func (j *JWTTokenizer) IssueCredential(address string, role core.Role) (string, time.Time, error) {
	now := time.Now()
	expiresAt := now.Add(j.ttl)

	claims := CredentialClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   address,
			ID:        uuid.New().String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			Audience:  jwt.ClaimStrings{AudienceCredential},
		},
		Role: role.String(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodES256, claims)

	signedToken, err := token.SignedString(j.signKey)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign credential: %w", err)
	}

	return signedToken, expiresAt, nil
}

// ValidateCredential verifies the credential signature and expiry
func (j *JWTTokenizer) ValidateCredential(credential string) (*core.Identity, error) {
	token, err := jwt.ParseWithClaims(credential, &CredentialClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodECDSA); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return &j.signKey.PublicKey, nil
	}, jwt.WithAudience(AudienceCredential))

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, core.ErrCredentialExpired
		}
		return nil, fmt.Errorf("%w: %v", core.ErrCredentialInvalid, err)
	}

	if !token.Valid {
		return nil, core.ErrCredentialInvalid
	}

	claims, ok := token.Claims.(*CredentialClaims)
	if !ok {
		return nil, core.ErrCredentialInvalid
	}

	role, err := core.ParseRole(claims.Role)
	if err != nil {
		return nil, err
	}

	return &core.Identity{
		Address:   claims.Subject,
		Role:      role,
		ExpiresAt: claims.ExpiresAt.Time,
	}, nil
}
