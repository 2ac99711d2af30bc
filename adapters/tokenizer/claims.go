package tokenizer

import "github.com/golang-jwt/jwt/v5"

// CredentialClaims combines standard claims with the credential role
type CredentialClaims struct {
	jwt.RegisteredClaims
	Role string `json:"role"`
}
