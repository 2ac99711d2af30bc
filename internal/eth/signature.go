package eth

import (
	"fmt"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
)

// SignatureLength is the expected length of a secp256k1 signature with
// recovery id
const SignatureLength = 65

// ParseSignature decodes a hex-encoded signature and checks its length
func ParseSignature(signatureHex string) ([]byte, error) {
	sig, err := hexutil.Decode(signatureHex)
	if err != nil {
		return nil, fmt.Errorf("failed to decode signature: %w", err)
	}
	if len(sig) != SignatureLength {
		return nil, fmt.Errorf("signature must be %d bytes, got %d", SignatureLength, len(sig))
	}
	return sig, nil
}

// RecoverAddress recovers the signing address from an EIP-191 personal-sign
// signature over message
func RecoverAddress(message string, signature []byte) (common.Address, error) {
	if len(signature) != SignatureLength {
		return common.Address{}, fmt.Errorf("signature must be %d bytes, got %d", SignatureLength, len(signature))
	}

	// Wallets return the recovery id as 27/28 per the Ethereum RPC
	// convention; crypto.SigToPub expects 0/1.
	sig := make([]byte, SignatureLength)
	copy(sig, signature)
	if sig[64] >= 27 {
		sig[64] -= 27
	}

	hash := accounts.TextHash([]byte(message))
	pubKey, err := crypto.SigToPub(hash, sig)
	if err != nil {
		return common.Address{}, fmt.Errorf("failed to recover public key: %w", err)
	}

	return crypto.PubkeyToAddress(*pubKey), nil
}

// VerifyPersonalSign reports whether signature was produced over message by
// the key behind expected. Address comparison goes through common.Address,
// so hex casing never matters.
func VerifyPersonalSign(message string, signature []byte, expected common.Address) (bool, error) {
	recovered, err := RecoverAddress(message, signature)
	if err != nil {
		return false, err
	}
	return recovered == expected, nil
}
