package auth

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/wolfeidau/hakbot/internal/models"
)

const (
	// AuthorizationHeader carries bearer tokens.
	AuthorizationHeader = "Authorization"
	// AccessKeyHeader carries pre-shared team access keys.
	AccessKeyHeader = "X-Api-Key"

	// bearerPrefix is matched case-sensitively, including the single space.
	bearerPrefix = "Bearer "
)

// Request is the transport independent view of an inbound request.
type Request interface {
	Header(name string) string
}

type httpRequest struct {
	r *http.Request
}

func (h httpRequest) Header(name string) string {
	return h.r.Header.Get(name)
}

// FromHTTP adapts an *http.Request to a Request.
func FromHTTP(r *http.Request) Request {
	return httpRequest{r: r}
}

// HeaderMap is a Request backed by a plain map, used by the CLI and tests.
type HeaderMap map[string]string

func (h HeaderMap) Header(name string) string {
	return h[name]
}

// Strategy authenticates one kind of credential.
type Strategy interface {
	// Name identifies the strategy in logs and metrics.
	Name() string
	// Applicable reports whether the request carries this strategy's credential.
	Applicable(req Request) bool
	// Authenticate returns the principal for the credential, or an error when
	// the credential is invalid or maps to nobody.
	Authenticate(ctx context.Context, req Request) (models.Principal, error)
}

// BearerStrategy authenticates directory identities with signed bearer tokens.
type BearerStrategy struct {
	validator *TokenValidator
	resolver  *Resolver
}

// NewBearerStrategy creates a bearer token strategy.
func NewBearerStrategy(validator *TokenValidator, resolver *Resolver) *BearerStrategy {
	return &BearerStrategy{validator: validator, resolver: resolver}
}

func (s *BearerStrategy) Name() string { return "bearer" }

func (s *BearerStrategy) Applicable(req Request) bool {
	_, ok := bearerToken(req)
	return ok
}

func (s *BearerStrategy) Authenticate(ctx context.Context, req Request) (models.Principal, error) {
	tokenText, ok := bearerToken(req)
	if !ok {
		return nil, ErrMalformedCredential
	}

	verified, err := s.validator.Validate(tokenText)
	if err != nil {
		return nil, err
	}

	return s.resolver.ResolveBySubject(ctx, verified.Subject)
}

// bearerToken extracts the token after the "Bearer " prefix.
func bearerToken(req Request) (string, bool) {
	header := req.Header(AuthorizationHeader)
	token, ok := strings.CutPrefix(header, bearerPrefix)
	if !ok || token == "" {
		return "", false
	}
	return token, true
}

// AccessKeyStrategy authenticates teams with pre-shared access keys.
type AccessKeyStrategy struct {
	resolver *Resolver
}

// NewAccessKeyStrategy creates an access key strategy.
func NewAccessKeyStrategy(resolver *Resolver) *AccessKeyStrategy {
	return &AccessKeyStrategy{resolver: resolver}
}

func (s *AccessKeyStrategy) Name() string { return "access_key" }

func (s *AccessKeyStrategy) Applicable(req Request) bool {
	return req.Header(AccessKeyHeader) != ""
}

func (s *AccessKeyStrategy) Authenticate(ctx context.Context, req Request) (models.Principal, error) {
	value := req.Header(AccessKeyHeader)
	if value == "" {
		return nil, fmt.Errorf("%w: empty access key", ErrMalformedCredential)
	}
	return s.resolver.ResolveByKey(ctx, value)
}
