// Package accesskey manages teams and the pre-shared access keys they own.
package accesskey

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"github.com/mr-tron/base58"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/wolfeidau/hakbot/internal/models"
	"github.com/wolfeidau/hakbot/internal/store"
	"github.com/wolfeidau/hakbot/internal/telemetry"
)

const (
	// KeyPrefix marks values as hakbot access keys so they are easy to spot in config and logs.
	KeyPrefix = "hak_"

	keyBytes        = 32
	defaultMaxTries = 5
)

// ErrInvalidTeam is returned for team input that fails validation.
var ErrInvalidTeam = errors.New("invalid team")

// GenerateValue returns a fresh access key value with 256 bits of entropy.
func GenerateValue() (string, error) {
	buf := make([]byte, keyBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to read random bytes: %w", err)
	}
	return KeyPrefix + base58.Encode(buf), nil
}

// Option configures a Lifecycle.
type Option func(*Lifecycle)

// WithValueGenerator overrides how key values are produced.
func WithValueGenerator(fn func() (string, error)) Option {
	return func(l *Lifecycle) {
		l.newValue = fn
	}
}

// WithMaxTries bounds the attempts made when a generated value collides.
func WithMaxTries(n uint) Option {
	return func(l *Lifecycle) {
		l.maxTries = n
	}
}

// Lifecycle creates, regenerates and revokes access keys. Mutual exclusion of
// concurrent mutations is provided by the store; no lock is held here.
type Lifecycle struct {
	teams    store.TeamStore
	keys     store.AccessKeyStore
	newValue func() (string, error)
	maxTries uint
}

// New creates a Lifecycle over the team and access key stores.
func New(teams store.TeamStore, keys store.AccessKeyStore, opts ...Option) *Lifecycle {
	l := &Lifecycle{
		teams:    teams,
		keys:     keys,
		newValue: GenerateValue,
		maxTries: defaultMaxTries,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// CreateTeam stores a new team and issues its first access key.
func (l *Lifecycle) CreateTeam(ctx context.Context, name string, privileged bool) (*models.Team, error) {
	if name == "" {
		return nil, fmt.Errorf("%w: name is required", ErrInvalidTeam)
	}

	ctx, span := startSpan(ctx, "accesskey.CreateTeam", attribute.String("team.name", name))
	defer span.End()

	now := time.Now()
	team := &models.Team{
		UUID:       uuid.New(),
		TeamName:   name,
		Privileged: privileged,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	if err := l.teams.CreateTeam(ctx, team); err != nil {
		return nil, recordError(span, fmt.Errorf("failed to create team: %w", err))
	}

	key, err := l.Generate(ctx, team.UUID)
	if err != nil {
		// a team without its first key must not block a retry with the same name
		if delErr := l.teams.DeleteTeam(context.WithoutCancel(ctx), team.UUID); delErr != nil {
			log.Error().Err(delErr).Str("team", team.UUID.String()).Msg("Failed to remove team after key issue failed")
		}
		return nil, recordError(span, err)
	}
	team.AccessKeys = []*models.AccessKey{key}

	log.Info().
		Str("team", team.UUID.String()).
		Str("name", team.TeamName).
		Bool("privileged", team.Privileged).
		Msg("Team created")

	return team, nil
}

// UpdateTeam changes the name and privileged flag of an existing team.
func (l *Lifecycle) UpdateTeam(ctx context.Context, teamUUID uuid.UUID, name string, privileged bool) (*models.Team, error) {
	if name == "" {
		return nil, fmt.Errorf("%w: name is required", ErrInvalidTeam)
	}

	team, err := l.teams.GetTeam(ctx, teamUUID)
	if err != nil {
		return nil, err
	}

	team.TeamName = name
	team.Privileged = privileged
	team.UpdatedAt = time.Now()

	if err := l.teams.UpdateTeam(ctx, team); err != nil {
		return nil, fmt.Errorf("failed to update team: %w", err)
	}

	return team, nil
}

// DeleteTeam revokes every key of the team and removes it as one unit of work.
func (l *Lifecycle) DeleteTeam(ctx context.Context, teamUUID uuid.UUID) error {
	ctx, span := startSpan(ctx, "accesskey.DeleteTeam", attribute.String("team.uuid", teamUUID.String()))
	defer span.End()

	if err := l.teams.DeleteTeam(ctx, teamUUID); err != nil {
		return recordError(span, err)
	}

	log.Info().Str("team", teamUUID.String()).Msg("Team deleted with its access keys")
	return nil
}

// Generate issues an additional access key for the team.
func (l *Lifecycle) Generate(ctx context.Context, teamUUID uuid.UUID) (*models.AccessKey, error) {
	ctx, span := startSpan(ctx, "accesskey.Generate", attribute.String("team.uuid", teamUUID.String()))
	defer span.End()

	key, err := l.withFreshValue(ctx, func(value string) (*models.AccessKey, error) {
		key := &models.AccessKey{Value: value, TeamUUID: teamUUID, CreatedAt: time.Now()}
		if err := l.keys.CreateAccessKey(ctx, key); err != nil {
			return nil, err
		}
		return key, nil
	})
	if err != nil {
		return nil, recordError(span, err)
	}

	telemetry.GetMetrics().KeysGeneratedTotal.Add(ctx, 1)
	log.Info().Str("team", teamUUID.String()).Str("key", key.MaskedValue()).Msg("Access key generated")

	return key, nil
}

// Regenerate replaces oldValue with a fresh value for the same team. The swap is
// atomic: once it returns, oldValue no longer authenticates. Of two concurrent
// regenerations of the same key exactly one succeeds; the other gets
// store.ErrAccessKeyNotFound.
func (l *Lifecycle) Regenerate(ctx context.Context, oldValue string) (*models.AccessKey, error) {
	ctx, span := startSpan(ctx, "accesskey.Regenerate")
	defer span.End()

	key, err := l.withFreshValue(ctx, func(value string) (*models.AccessKey, error) {
		return l.keys.ReplaceAccessKey(ctx, oldValue, value)
	})
	if err != nil {
		return nil, recordError(span, err)
	}

	telemetry.GetMetrics().KeysRegeneratedTotal.Add(ctx, 1)
	log.Info().
		Str("team", key.TeamUUID.String()).
		Str("old_key", models.MaskKey(oldValue)).
		Str("key", key.MaskedValue()).
		Msg("Access key regenerated")

	return key, nil
}

// Revoke deletes a single key.
func (l *Lifecycle) Revoke(ctx context.Context, value string) error {
	ctx, span := startSpan(ctx, "accesskey.Revoke")
	defer span.End()

	if err := l.keys.DeleteAccessKey(ctx, value); err != nil {
		return recordError(span, err)
	}

	telemetry.GetMetrics().KeysRevokedTotal.Add(ctx, 1)
	log.Info().Str("key", models.MaskKey(value)).Msg("Access key revoked")
	return nil
}

// RevokeAll deletes every key owned by the team and returns how many were removed.
func (l *Lifecycle) RevokeAll(ctx context.Context, teamUUID uuid.UUID) (int, error) {
	ctx, span := startSpan(ctx, "accesskey.RevokeAll", attribute.String("team.uuid", teamUUID.String()))
	defer span.End()

	if _, err := l.teams.GetTeam(ctx, teamUUID); err != nil {
		return 0, recordError(span, err)
	}

	n, err := l.keys.DeleteAccessKeysByTeam(ctx, teamUUID)
	if err != nil {
		return 0, recordError(span, err)
	}

	telemetry.GetMetrics().KeysRevokedTotal.Add(ctx, int64(n))
	log.Info().Str("team", teamUUID.String()).Int("count", n).Msg("Access keys revoked")
	return n, nil
}

// withFreshValue runs fn with newly generated values, retrying with backoff only
// when the store reports a value collision.
func (l *Lifecycle) withFreshValue(ctx context.Context, fn func(value string) (*models.AccessKey, error)) (*models.AccessKey, error) {
	operation := func() (*models.AccessKey, error) {
		value, err := l.newValue()
		if err != nil {
			return nil, backoff.Permanent(err)
		}

		key, err := fn(value)
		if errors.Is(err, store.ErrAccessKeyAlreadyExists) {
			telemetry.GetMetrics().KeyCollisionsTotal.Add(ctx, 1)
			log.Warn().Str("key", models.MaskKey(value)).Msg("Generated access key collided, retrying")
			return nil, err
		}
		if err != nil {
			return nil, backoff.Permanent(err)
		}
		return key, nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 10 * time.Millisecond

	return backoff.Retry(ctx, operation,
		backoff.WithBackOff(bo),
		backoff.WithMaxTries(l.maxTries),
	)
}

func startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return telemetry.Tracer().Start(ctx, name, trace.WithAttributes(attrs...))
}

func recordError(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}
