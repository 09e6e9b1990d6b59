package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/wolfeidau/hakbot/internal/models"
	"github.com/wolfeidau/hakbot/internal/telemetry"
)

// Authenticator tries each strategy in priority order. The first strategy to yield
// a principal wins; a failing strategy hands over to the next applicable one.
type Authenticator struct {
	strategies []Strategy
}

// NewAuthenticator creates an authenticator with strategies in priority order.
func NewAuthenticator(strategies ...Strategy) *Authenticator {
	return &Authenticator{strategies: strategies}
}

// Authenticate returns the principal for the request or an error wrapping
// ErrUnauthenticated. Strategy failures never escape as anything else.
func (a *Authenticator) Authenticate(ctx context.Context, req Request) (models.Principal, error) {
	var errs []error

	for _, strategy := range a.strategies {
		if !strategy.Applicable(req) {
			continue
		}

		principal, err := strategy.Authenticate(ctx, req)
		recordAttempt(ctx, strategy.Name(), err)
		if err != nil {
			logStrategyFailure(strategy.Name(), err)
			errs = append(errs, fmt.Errorf("%s: %w", strategy.Name(), err))
			continue
		}

		log.Debug().
			Str("strategy", strategy.Name()).
			Str("principal", principal.Name()).
			Str("kind", PrincipalKind(principal)).
			Msg("Request authenticated")

		return principal, nil
	}

	telemetry.GetMetrics().AuthFailuresTotal.Add(ctx, 1)

	if len(errs) == 0 {
		return nil, fmt.Errorf("%w: no credentials presented", ErrUnauthenticated)
	}

	return nil, fmt.Errorf("%w: %w", ErrUnauthenticated, errors.Join(errs...))
}

func recordAttempt(ctx context.Context, strategy string, err error) {
	outcome := "success"
	switch {
	case errors.Is(err, ErrInvalidToken):
		outcome = "invalid_token"
	case errors.Is(err, ErrUnknownPrincipal):
		outcome = "unknown_principal"
	case errors.Is(err, ErrMalformedCredential):
		outcome = "malformed"
	case err != nil:
		outcome = "error"
	}

	telemetry.GetMetrics().AuthAttemptsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("strategy", strategy),
		attribute.String("outcome", outcome),
	))
}

// logStrategyFailure keeps expected credential failures at debug and reports
// anything else, such as store outages, as errors.
func logStrategyFailure(strategy string, err error) {
	if errors.Is(err, ErrInvalidToken) || errors.Is(err, ErrUnknownPrincipal) || errors.Is(err, ErrMalformedCredential) {
		log.Debug().Err(err).Str("strategy", strategy).Msg("Authentication failed")
		return
	}
	log.Error().Err(err).Str("strategy", strategy).Msg("Authentication error")
}
