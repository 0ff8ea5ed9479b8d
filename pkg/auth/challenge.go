package auth

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/mr-tron/base58"
	"golang.org/x/crypto/nacl/sign"
)

const (
	// NonceSize is the number of random bytes in a challenge nonce.
	NonceSize = 32

	challengeTag = "concord:auth"

	publicKeySize = 32
	signatureSize = 64
)

var (
	ErrBadPublicKey = errors.New("public key is not a base58 ed25519 key")
	ErrBadSignature = errors.New("signature is not valid hex of the right length")
)

// NewNonce returns NonceSize random bytes, hex encoded.
func NewNonce() (string, error) {
	buf := make([]byte, NonceSize)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

// ChallengeMessage is the exact string a client signs to prove key possession.
func ChallengeMessage(nonce, publicKey string) string {
	return fmt.Sprintf("%s:%s:%s", challengeTag, nonce, publicKey)
}

// DecodePublicKey decodes a base58 ed25519 public key.
func DecodePublicKey(publicKey string) (*[publicKeySize]byte, error) {
	rawKey, err := base58.Decode(publicKey)
	if err != nil || len(rawKey) != publicKeySize {
		return nil, ErrBadPublicKey
	}
	var key [publicKeySize]byte
	copy(key[:], rawKey)
	return &key, nil
}

// VerifyChallenge checks a hex detached signature over the challenge message
// against a base58 public key.
func VerifyChallenge(nonce, publicKey, signatureHex string) error {
	key, err := DecodePublicKey(publicKey)
	if err != nil {
		return err
	}
	sig, err := hex.DecodeString(signatureHex)
	if err != nil || len(sig) != signatureSize {
		return ErrBadSignature
	}

	msg := ChallengeMessage(nonce, publicKey)
	signed := make([]byte, 0, signatureSize+len(msg))
	signed = append(signed, sig...)
	signed = append(signed, msg...)
	if _, ok := sign.Open(nil, signed, key); !ok {
		return errors.New("signature verification failed")
	}
	return nil
}
