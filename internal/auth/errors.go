package auth

import "errors"

var (
	// ErrUnauthenticated is returned when no strategy produced a principal.
	// Causes below are wrapped alongside it.
	ErrUnauthenticated = errors.New("unauthenticated")

	// ErrMalformedCredential means a header was present but not in the expected form.
	// Strategies treat it as "not applicable".
	ErrMalformedCredential = errors.New("malformed credential")

	// ErrInvalidToken covers signature mismatch, expiry and missing claims.
	ErrInvalidToken = errors.New("invalid token")

	// ErrUnknownPrincipal means a verified credential maps to no stored identity or team.
	ErrUnknownPrincipal = errors.New("unknown principal")

	// ErrDenied is returned by the guard when a principal lacks privilege.
	ErrDenied = errors.New("privileged access denied")

	// ErrSigningKeyMissing is a configuration fault: authenticated endpoints must not be served.
	ErrSigningKeyMissing = errors.New("JWT signing key not provided")
)
