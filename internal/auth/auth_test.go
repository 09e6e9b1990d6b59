package auth

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"encoding/pem"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"github.com/wolfeidau/hakbot/internal/models"
	"github.com/wolfeidau/hakbot/internal/store/memory"
)

var testSecret = []byte("0123456789abcdef0123456789abcdef")

func newHMACKeys(t *testing.T) *KeyStore {
	t.Helper()
	keys, err := NewHMACKeyStore(testSecret)
	require.NoError(t, err)
	return keys
}

func signHS256(t *testing.T, secret []byte, claims *jwt.RegisteredClaims) string {
	t.Helper()
	tokenStr, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	require.NoError(t, err)
	return tokenStr
}

func generatePublicKeyPEM(t *testing.T, publicKey *ecdsa.PublicKey) string {
	t.Helper()
	publicKeyDER, err := x509.MarshalPKIXPublicKey(publicKey)
	require.NoError(t, err)

	publicKeyPEM := pem.EncodeToMemory(&pem.Block{
		Type:  "PUBLIC KEY",
		Bytes: publicKeyDER,
	})
	require.NotNil(t, publicKeyPEM)
	return string(publicKeyPEM)
}

// fixture seeds a memory store with a privileged team, an ordinary team and
// alice (privileged), bob (ordinary) and carol (no teams).
type fixture struct {
	store      *memory.Store
	admins     *models.Team
	developers *models.Team
	authn      *Authenticator
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	st := memory.NewStore()

	admins := &models.Team{UUID: uuid.New(), TeamName: "admins", Privileged: true}
	developers := &models.Team{UUID: uuid.New(), TeamName: "developers"}
	require.NoError(t, st.CreateTeam(ctx, admins))
	require.NoError(t, st.CreateTeam(ctx, developers))

	for _, identity := range []*models.DirectoryIdentity{
		{Username: "alice", DN: "uid=alice,ou=people,dc=example,dc=com", Teams: []*models.Team{admins, developers}},
		{Username: "bob", DN: "uid=bob,ou=people,dc=example,dc=com", Teams: []*models.Team{developers}},
		{Username: "carol", DN: "uid=carol,ou=people,dc=example,dc=com"},
	} {
		_, err := st.UpsertIdentity(ctx, identity)
		require.NoError(t, err)
	}

	require.NoError(t, st.CreateAccessKey(ctx, &models.AccessKey{Value: "hak_admins", TeamUUID: admins.UUID}))
	require.NoError(t, st.CreateAccessKey(ctx, &models.AccessKey{Value: "hak_developers", TeamUUID: developers.UUID}))

	resolver := NewResolver(st, st)
	authn := NewAuthenticator(
		NewBearerStrategy(NewTokenValidator(newHMACKeys(t)), resolver),
		NewAccessKeyStrategy(resolver),
	)

	return &fixture{store: st, admins: admins, developers: developers, authn: authn}
}

func bearer(token string) HeaderMap {
	return HeaderMap{AuthorizationHeader: "Bearer " + token}
}

func TestKeyStore(t *testing.T) {
	t.Run("empty secret", func(t *testing.T) {
		keys, err := NewHMACKeyStore(nil)
		require.ErrorIs(t, err, ErrSigningKeyMissing)
		require.Nil(t, keys)
	})

	t.Run("short secret", func(t *testing.T) {
		keys, err := NewHMACKeyStore([]byte("too-short"))
		require.Error(t, err)
		require.Nil(t, keys)
	})

	t.Run("secret is copied", func(t *testing.T) {
		secret := append([]byte(nil), testSecret...)
		keys, err := NewHMACKeyStore(secret)
		require.NoError(t, err)

		secret[0] = 'X'
		require.Equal(t, testSecret, keys.VerificationKey())
	})

	t.Run("empty public key", func(t *testing.T) {
		keys, err := NewECDSAKeyStore("")
		require.ErrorIs(t, err, ErrSigningKeyMissing)
		require.Nil(t, keys)
	})

	t.Run("invalid PEM", func(t *testing.T) {
		keys, err := NewECDSAKeyStore("invalid pem")
		require.Error(t, err)
		require.Nil(t, keys)
	})

	t.Run("valid public key PEM", func(t *testing.T) {
		privateKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
		require.NoError(t, err)

		keys, err := NewECDSAKeyStore(generatePublicKeyPEM(t, &privateKey.PublicKey))
		require.NoError(t, err)
		require.Equal(t, []string{"ES256", "ES384", "ES512"}, keys.ValidMethods())

		_, err = keys.IssueToken("alice", time.Hour)
		require.Error(t, err)
	})
}

func TestTokenValidator(t *testing.T) {
	keys := newHMACKeys(t)
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	validator := NewTokenValidator(keys, WithClock(func() time.Time { return now }))

	t.Run("valid token", func(t *testing.T) {
		tokenStr := signHS256(t, testSecret, &jwt.RegisteredClaims{
			Subject:   "alice",
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
		})

		verified, err := validator.Validate(tokenStr)
		require.NoError(t, err)
		require.Equal(t, "alice", verified.Subject)
		require.True(t, verified.Valid)
		require.True(t, verified.ExpiresAt.Equal(now.Add(time.Hour)))
	})

	tests := []struct {
		name  string
		token func(t *testing.T) string
	}{
		{
			name: "expired",
			token: func(t *testing.T) string {
				return signHS256(t, testSecret, &jwt.RegisteredClaims{
					Subject:   "alice",
					ExpiresAt: jwt.NewNumericDate(now.Add(-time.Minute)),
				})
			},
		},
		{
			name: "missing expiration",
			token: func(t *testing.T) string {
				return signHS256(t, testSecret, &jwt.RegisteredClaims{Subject: "alice"})
			},
		},
		{
			name: "missing subject",
			token: func(t *testing.T) string {
				return signHS256(t, testSecret, &jwt.RegisteredClaims{
					ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
				})
			},
		},
		{
			name: "signed with another secret",
			token: func(t *testing.T) string {
				return signHS256(t, []byte("ffffffffffffffffffffffffffffffff"), &jwt.RegisteredClaims{
					Subject:   "alice",
					ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
				})
			},
		},
		{
			name: "tampered payload",
			token: func(t *testing.T) string {
				good := signHS256(t, testSecret, &jwt.RegisteredClaims{
					Subject:   "alice",
					ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
				})
				forged := signHS256(t, testSecret, &jwt.RegisteredClaims{
					Subject:   "mallory",
					ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
				})
				goodParts := strings.Split(good, ".")
				forgedParts := strings.Split(forged, ".")
				return goodParts[0] + "." + forgedParts[1] + "." + goodParts[2]
			},
		},
		{
			name: "ECDSA token against HMAC key",
			token: func(t *testing.T) string {
				privateKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
				require.NoError(t, err)
				tokenStr, err := jwt.NewWithClaims(jwt.SigningMethodES256, &jwt.RegisteredClaims{
					Subject:   "alice",
					ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
				}).SignedString(privateKey)
				require.NoError(t, err)
				return tokenStr
			},
		},
		{
			name:  "garbage",
			token: func(t *testing.T) string { return "not-a-jwt" },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			verified, err := validator.Validate(tt.token(t))
			require.ErrorIs(t, err, ErrInvalidToken)
			require.Nil(t, verified)
		})
	}
}

func TestECDSATokens(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	privateKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	publicKeyPEM := generatePublicKeyPEM(t, &privateKey.PublicKey)

	keys, err := NewECDSAKeyStore(publicKeyPEM)
	require.NoError(t, err)
	validator := NewTokenValidator(keys)

	claims := &jwt.RegisteredClaims{
		Subject:   "alice",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}

	t.Run("ES256 token validates", func(t *testing.T) {
		tokenStr, err := jwt.NewWithClaims(jwt.SigningMethodES256, claims).SignedString(privateKey)
		require.NoError(t, err)

		verified, err := validator.Validate(tokenStr)
		require.NoError(t, err)
		require.Equal(t, "alice", verified.Subject)
		require.True(t, verified.Valid)

		strategy := NewBearerStrategy(validator, NewResolver(f.store, f.store))
		principal, err := strategy.Authenticate(ctx, bearer(tokenStr))
		require.NoError(t, err)
		require.Equal(t, "alice", principal.Name())
		require.True(t, IsPrivileged(principal))
	})

	t.Run("token signed by another key", func(t *testing.T) {
		otherKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
		require.NoError(t, err)
		tokenStr, err := jwt.NewWithClaims(jwt.SigningMethodES256, claims).SignedString(otherKey)
		require.NoError(t, err)

		_, err = validator.Validate(tokenStr)
		require.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("unsigned token", func(t *testing.T) {
		tokenStr, err := jwt.NewWithClaims(jwt.SigningMethodNone, claims).SignedString(jwt.UnsafeAllowNoneSignatureType)
		require.NoError(t, err)

		_, err = validator.Validate(tokenStr)
		require.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("HMAC token keyed with the public key", func(t *testing.T) {
		tokenStr := signHS256(t, []byte(publicKeyPEM), claims)

		_, err := validator.Validate(tokenStr)
		require.ErrorIs(t, err, ErrInvalidToken)
	})
}

func TestIssueTokenRoundTrip(t *testing.T) {
	keys := newHMACKeys(t)

	tokenStr, err := keys.IssueToken("alice", time.Hour)
	require.NoError(t, err)

	verified, err := NewTokenValidator(keys).Validate(tokenStr)
	require.NoError(t, err)
	require.Equal(t, "alice", verified.Subject)
}

func TestStrategyApplicability(t *testing.T) {
	bearerStrategy := NewBearerStrategy(nil, nil)
	keyStrategy := NewAccessKeyStrategy(nil)

	tests := []struct {
		name      string
		headers   HeaderMap
		bearer    bool
		accessKey bool
	}{
		{name: "no headers", headers: HeaderMap{}},
		{name: "bearer token", headers: HeaderMap{AuthorizationHeader: "Bearer abc"}, bearer: true},
		{name: "lowercase scheme", headers: HeaderMap{AuthorizationHeader: "bearer abc"}},
		{name: "empty token", headers: HeaderMap{AuthorizationHeader: "Bearer "}},
		{name: "basic auth", headers: HeaderMap{AuthorizationHeader: "Basic YWxpY2U6c2VjcmV0"}},
		{name: "access key", headers: HeaderMap{AccessKeyHeader: "hak_abc"}, accessKey: true},
		{
			name:      "both",
			headers:   HeaderMap{AuthorizationHeader: "Bearer abc", AccessKeyHeader: "hak_abc"},
			bearer:    true,
			accessKey: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.bearer, bearerStrategy.Applicable(tt.headers))
			require.Equal(t, tt.accessKey, keyStrategy.Applicable(tt.headers))
		})
	}
}

func TestAuthenticator(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	keys := newHMACKeys(t)

	aliceToken, err := keys.IssueToken("alice", time.Hour)
	require.NoError(t, err)

	t.Run("no credentials", func(t *testing.T) {
		principal, err := f.authn.Authenticate(ctx, HeaderMap{})
		require.ErrorIs(t, err, ErrUnauthenticated)
		require.Nil(t, principal)
	})

	t.Run("bearer token resolves identity with teams", func(t *testing.T) {
		principal, err := f.authn.Authenticate(ctx, bearer(aliceToken))
		require.NoError(t, err)

		identity, ok := principal.(*models.DirectoryIdentity)
		require.True(t, ok)
		require.Equal(t, "alice", identity.Username)
		require.Len(t, identity.Teams, 2)
	})

	t.Run("access key resolves owning team", func(t *testing.T) {
		principal, err := f.authn.Authenticate(ctx, HeaderMap{AccessKeyHeader: "hak_developers"})
		require.NoError(t, err)

		team, ok := principal.(*models.Team)
		require.True(t, ok)
		require.Equal(t, f.developers.UUID, team.UUID)
	})

	t.Run("unknown access key", func(t *testing.T) {
		principal, err := f.authn.Authenticate(ctx, HeaderMap{AccessKeyHeader: "hak_unknown"})
		require.ErrorIs(t, err, ErrUnauthenticated)
		require.ErrorIs(t, err, ErrUnknownPrincipal)
		require.Nil(t, principal)
	})

	t.Run("access key must match exactly", func(t *testing.T) {
		principal, err := f.authn.Authenticate(ctx, HeaderMap{AccessKeyHeader: "hak_admin"})
		require.ErrorIs(t, err, ErrUnauthenticated)
		require.Nil(t, principal)
	})

	t.Run("bearer wins when both are valid", func(t *testing.T) {
		req := HeaderMap{AuthorizationHeader: "Bearer " + aliceToken, AccessKeyHeader: "hak_developers"}
		principal, err := f.authn.Authenticate(ctx, req)
		require.NoError(t, err)
		require.Equal(t, "alice", principal.Name())
	})

	t.Run("invalid bearer falls through to access key", func(t *testing.T) {
		req := HeaderMap{AuthorizationHeader: "Bearer not-a-jwt", AccessKeyHeader: "hak_developers"}
		principal, err := f.authn.Authenticate(ctx, req)
		require.NoError(t, err)
		require.Equal(t, "developers", principal.Name())
	})

	t.Run("all strategies fail", func(t *testing.T) {
		req := HeaderMap{AuthorizationHeader: "Bearer not-a-jwt", AccessKeyHeader: "hak_unknown"}
		principal, err := f.authn.Authenticate(ctx, req)
		require.ErrorIs(t, err, ErrUnauthenticated)
		require.ErrorIs(t, err, ErrInvalidToken)
		require.ErrorIs(t, err, ErrUnknownPrincipal)
		require.Nil(t, principal)
	})
}

func TestRequirePrivileged(t *testing.T) {
	ctx := context.Background()
	privileged := &models.Team{TeamName: "admins", Privileged: true}
	ordinary := &models.Team{TeamName: "developers"}

	tests := []struct {
		name      string
		principal models.Principal
		wantErr   error
	}{
		{
			name:      "identity in privileged team",
			principal: &models.DirectoryIdentity{Username: "alice", Teams: []*models.Team{ordinary, privileged}},
		},
		{
			name:      "identity in ordinary teams only",
			principal: &models.DirectoryIdentity{Username: "bob", Teams: []*models.Team{ordinary}},
			wantErr:   ErrDenied,
		},
		{
			name:      "identity with zero teams",
			principal: &models.DirectoryIdentity{Username: "carol"},
			wantErr:   ErrDenied,
		},
		{
			name:      "privileged team key",
			principal: privileged,
		},
		{
			name:      "ordinary team key",
			principal: ordinary,
			wantErr:   ErrDenied,
		},
		{
			name:    "no principal",
			wantErr: ErrUnauthenticated,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := RequirePrivileged(ctx, tt.principal)
			if tt.wantErr == nil {
				require.NoError(t, err)
				return
			}
			require.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestEndToEnd(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	keys := newHMACKeys(t)

	t.Run("alice is authenticated and privileged", func(t *testing.T) {
		tokenStr, err := keys.IssueToken("alice", time.Hour)
		require.NoError(t, err)

		principal, err := f.authn.Authenticate(ctx, bearer(tokenStr))
		require.NoError(t, err)
		require.NoError(t, RequirePrivileged(ctx, principal))
	})

	t.Run("ghost is unauthenticated", func(t *testing.T) {
		tokenStr, err := keys.IssueToken("ghost", time.Hour)
		require.NoError(t, err)

		principal, err := f.authn.Authenticate(ctx, bearer(tokenStr))
		require.ErrorIs(t, err, ErrUnauthenticated)
		require.ErrorIs(t, err, ErrUnknownPrincipal)
		require.Nil(t, principal)
	})

	t.Run("bob is authenticated but denied", func(t *testing.T) {
		tokenStr, err := keys.IssueToken("bob", time.Hour)
		require.NoError(t, err)

		principal, err := f.authn.Authenticate(ctx, bearer(tokenStr))
		require.NoError(t, err)
		require.ErrorIs(t, RequirePrivileged(ctx, principal), ErrDenied)
	})

	t.Run("deleted team keys stop authenticating", func(t *testing.T) {
		require.NoError(t, f.store.DeleteTeam(ctx, f.admins.UUID))

		principal, err := f.authn.Authenticate(ctx, HeaderMap{AccessKeyHeader: "hak_admins"})
		require.ErrorIs(t, err, ErrUnauthenticated)
		require.Nil(t, principal)
	})
}
