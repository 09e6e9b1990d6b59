package auth

import (
	"crypto/ecdsa"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// MinSecretLength is the minimum HMAC secret size, 256 bits for HS256.
const MinSecretLength = 32

// KeyStore holds the key material used to verify bearer tokens. It is built once at
// startup and never mutated, so it is shared between requests without locking.
type KeyStore struct {
	verifyKey    any
	signKey      any
	validMethods []string
}

// NewHMACKeyStore creates a key store for a shared HMAC secret.
func NewHMACKeyStore(secret []byte) (*KeyStore, error) {
	if len(secret) == 0 {
		return nil, ErrSigningKeyMissing
	}
	if len(secret) < MinSecretLength {
		return nil, fmt.Errorf("JWT secret must be at least %d bytes", MinSecretLength)
	}

	key := make([]byte, len(secret))
	copy(key, secret)

	return &KeyStore{
		verifyKey:    key,
		signKey:      key,
		validMethods: []string{"HS256", "HS384", "HS512"},
	}, nil
}

// NewECDSAKeyStore creates a verify-only key store from a PEM encoded ECDSA public key.
func NewECDSAKeyStore(publicKeyPEM string) (*KeyStore, error) {
	if publicKeyPEM == "" {
		return nil, ErrSigningKeyMissing
	}

	publicKey, err := jwt.ParseECPublicKeyFromPEM([]byte(publicKeyPEM))
	if err != nil {
		return nil, fmt.Errorf("failed to parse JWT public key: %w", err)
	}

	return &KeyStore{
		verifyKey:    publicKey,
		validMethods: []string{"ES256", "ES384", "ES512"},
	}, nil
}

// VerificationKey returns the key used to check token signatures.
func (k *KeyStore) VerificationKey() any {
	return k.verifyKey
}

// ValidMethods returns the accepted "alg" header values.
func (k *KeyStore) ValidMethods() []string {
	return k.validMethods
}

// keyFunc returns the verification key after checking the algorithm family matches
// the configured key, so an HMAC secret is never accepted as an ECDSA key or vice versa.
func (k *KeyStore) keyFunc(t *jwt.Token) (any, error) {
	switch k.verifyKey.(type) {
	case []byte:
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
	case *ecdsa.PublicKey:
		if _, ok := t.Method.(*jwt.SigningMethodECDSA); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
	default:
		return nil, errors.New("no verification key configured")
	}
	return k.verifyKey, nil
}

// IssueToken creates an HS256 token for subject expiring after ttl.
// Only HMAC key stores can sign.
func (k *KeyStore) IssueToken(subject string, ttl time.Duration) (string, error) {
	if k.signKey == nil {
		return "", errors.New("key store cannot sign tokens")
	}

	now := time.Now()
	claims := &jwt.RegisteredClaims{
		Subject:   subject,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		Issuer:    "hakbot",
	}

	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(k.signKey)
}
