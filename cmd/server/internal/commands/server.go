package commands

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	zlog "github.com/rs/zerolog/log"

	"github.com/wolfeidau/hakbot/internal/accesskey"
	"github.com/wolfeidau/hakbot/internal/auth"
	"github.com/wolfeidau/hakbot/internal/directory"
	"github.com/wolfeidau/hakbot/internal/events"
	"github.com/wolfeidau/hakbot/internal/logger"
	"github.com/wolfeidau/hakbot/internal/scheduler"
	"github.com/wolfeidau/hakbot/internal/server"
	"github.com/wolfeidau/hakbot/internal/store"
	memorystore "github.com/wolfeidau/hakbot/internal/store/memory"
	postgresstore "github.com/wolfeidau/hakbot/internal/store/postgres"
	"github.com/wolfeidau/hakbot/internal/telemetry"
)

const shutdownTimeout = 30 * time.Second

type ServerCmd struct {
	// Server configuration
	Listen string `help:"HTTP server listen address" default:"0.0.0.0:8080" env:"HAKBOT_LISTEN"`
	Cert   string `help:"path to TLS cert file" default:"" env:"HAKBOT_TLS_CERT"`
	Key    string `help:"path to TLS key file" default:"" env:"HAKBOT_TLS_KEY"`

	// CORS configuration
	CORSOrigins []string `help:"allowed CORS origins for API requests" default:"https://localhost" env:"HAKBOT_CORS_ORIGINS"`

	// Observability
	Tracing          bool    `help:"enable tracing" default:"false" env:"HAKBOT_TRACING"`
	TraceSampleRatio float64 `help:"fraction of root traces sampled" default:"1.0" env:"HAKBOT_TRACE_SAMPLE_RATIO"`

	Auth AuthFlags `embed:"" prefix:"auth-"`
	Sync SyncFlags `embed:"" prefix:"sync-"`

	// Store configuration
	StoreType     string             `help:"store type (memory or postgres)" default:"memory" env:"HAKBOT_STORE_TYPE" enum:"memory,postgres"`
	PostgresStore PostgresStoreFlags `embed:"" prefix:"postgres-"`
}

func (c *ServerCmd) Validate() error {
	if (c.Cert == "") != (c.Key == "") {
		return errors.New("TLS certificate and key must be provided together (--cert and --key)")
	}
	if c.StoreType == "postgres" && c.PostgresStore.ConnString == "" {
		return errors.New("PostgreSQL connection string is required (--postgres-conn-string or POSTGRES_CONNECTION_STRING)")
	}
	// kong does not run Validate on embedded flag groups
	if err := c.Auth.Validate(); err != nil {
		return err
	}
	return c.Sync.Validate()
}

func (c *ServerCmd) Run(globals *Globals) error {
	log := logger.Setup(globals.Debug)
	zlog.Logger = log

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Info().Str("version", globals.Version).Bool("debug", globals.Debug).Msg("Starting server")

	// Refuse to serve authenticated endpoints without key material
	keys, err := c.Auth.KeyStore()
	if err != nil {
		return fmt.Errorf("failed to load JWT signing key: %w", err)
	}

	if c.Tracing {
		log.Info().Msg("Tracing is enabled")
		shutdown, err := telemetry.InitTelemetry(ctx, "hakbot-server", globals.Version, c.TraceSampleRatio)
		if err != nil {
			log.Warn().Err(err).Msg("Failed to initialize telemetry, continuing without metrics")
			shutdown = func(ctx context.Context) error { return nil }
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdown(shutdownCtx); err != nil {
				log.Error().Err(err).Msg("Failed to shutdown telemetry")
			}
		}()
	}

	st, closeStore, err := c.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	bus := events.NewBus()
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := bus.Close(closeCtx); err != nil {
			log.Error().Err(err).Msg("Event bus did not drain before shutdown")
		}
	}()

	if c.Sync.DirectoryFile != "" {
		sync := directory.NewSynchronizer(
			directory.NewFileSource(c.Sync.DirectoryFile), st, st,
			directory.WithPrune(c.Sync.Prune),
		)
		if _, err := sync.Subscribe(bus); err != nil {
			return fmt.Errorf("failed to subscribe directory sync: %w", err)
		}
		log.Info().Str("file", c.Sync.DirectoryFile).Msg("Directory sync enabled")
	} else {
		log.Warn().Msg("No directory source configured, sync events will have no consumer")
	}

	sched := scheduler.New(bus, c.Sync.SchedulerConfig())
	sched.Start()
	defer func() {
		select {
		case <-sched.Shutdown().Done():
		case <-time.After(shutdownTimeout):
			log.Error().Msg("Sync firing still running at shutdown")
		}
	}()

	resolver := auth.NewResolver(st, st)
	authn := auth.NewAuthenticator(
		auth.NewBearerStrategy(auth.NewTokenValidator(keys), resolver),
		auth.NewAccessKeyStrategy(resolver),
	)
	lifecycle := accesskey.New(st, st)

	handler, err := server.NewServer(server.Config{
		CORSOrigins: c.CORSOrigins,
		Tracing:     c.Tracing,
	}, authn, st, lifecycle).Handler(log)
	if err != nil {
		return fmt.Errorf("failed to build HTTP handler: %w", err)
	}

	srv := configureHTTPServer(c.Listen, handler)

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", c.Listen).Bool("tls", c.Cert != "").Msg("Starting HTTP server")
		if c.Cert != "" {
			errCh <- srv.ListenAndServeTLS(c.Cert, c.Key)
			return
		}
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
		log.Info().Msg("Shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	return srv.Shutdown(shutdownCtx)
}

func (c *ServerCmd) openStore(ctx context.Context) (store.Store, func(), error) {
	switch c.StoreType {
	case "postgres":
		pool, err := postgresstore.NewPool(ctx, c.PostgresStore.PoolConfig())
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create connection pool: %w", err)
		}
		zlog.Info().Msg("Using PostgreSQL store")
		return postgresstore.NewStore(pool), pool.Close, nil
	default:
		zlog.Info().Msg("Using in-memory store")
		return memorystore.NewStore(), func() {}, nil
	}
}
