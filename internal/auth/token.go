package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// VerifiedToken is the result of a successful validation. It is never persisted.
type VerifiedToken struct {
	Subject   string
	ExpiresAt time.Time
	Valid     bool
}

// TokenValidator verifies bearer token signature, expiry and subject.
type TokenValidator struct {
	keys *KeyStore
	now  func() time.Time
}

// ValidatorOption configures a TokenValidator.
type ValidatorOption func(*TokenValidator)

// WithClock overrides the time source used for expiry checks.
func WithClock(now func() time.Time) ValidatorOption {
	return func(v *TokenValidator) {
		v.now = now
	}
}

// NewTokenValidator creates a validator over the given key store.
func NewTokenValidator(keys *KeyStore, opts ...ValidatorOption) *TokenValidator {
	v := &TokenValidator{keys: keys, now: time.Now}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Validate checks the token text and returns the verified claims. Any failed check
// yields ErrInvalidToken and no token.
func (v *TokenValidator) Validate(tokenText string) (*VerifiedToken, error) {
	claims := &jwt.RegisteredClaims{}

	parsed, err := jwt.ParseWithClaims(tokenText, claims, v.keys.keyFunc,
		jwt.WithValidMethods(v.keys.ValidMethods()),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(v.now),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}

	if !parsed.Valid {
		return nil, fmt.Errorf("%w: token invalid", ErrInvalidToken)
	}

	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: missing subject claim", ErrInvalidToken)
	}

	if claims.ExpiresAt == nil {
		return nil, fmt.Errorf("%w: missing expiration claim", ErrInvalidToken)
	}

	return &VerifiedToken{
		Subject:   claims.Subject,
		ExpiresAt: claims.ExpiresAt.Time,
		Valid:     true,
	}, nil
}
