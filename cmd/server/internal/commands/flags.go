package commands

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/wolfeidau/hakbot/internal/auth"
	"github.com/wolfeidau/hakbot/internal/scheduler"
	postgresstore "github.com/wolfeidau/hakbot/internal/store/postgres"
)

type AuthFlags struct {
	JWTSecret        string `help:"HMAC secret used to verify bearer tokens (at least 32 bytes)" env:"HAKBOT_JWT_SECRET"`
	JWTPublicKeyFile string `help:"path to a PEM encoded ECDSA public key used to verify bearer tokens" type:"existingfile" env:"HAKBOT_JWT_PUBLIC_KEY_FILE"`
}

func (a *AuthFlags) Validate() error {
	if a.JWTSecret != "" && a.JWTPublicKeyFile != "" {
		return errors.New("only one of --auth-jwt-secret and --auth-jwt-public-key-file may be set")
	}
	return nil
}

// KeyStore builds the token verification keys. Missing configuration is fatal.
func (a *AuthFlags) KeyStore() (*auth.KeyStore, error) {
	if a.JWTPublicKeyFile != "" {
		pemData, err := os.ReadFile(a.JWTPublicKeyFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read JWT public key: %w", err)
		}
		return auth.NewECDSAKeyStore(string(pemData))
	}
	return auth.NewHMACKeyStore([]byte(a.JWTSecret))
}

type SyncFlags struct {
	InitialDelay  time.Duration `help:"delay before the first directory sync (must be positive)" default:"1m" env:"HAKBOT_SYNC_INITIAL_DELAY"`
	Period        time.Duration `help:"interval between directory syncs" default:"6h" env:"HAKBOT_SYNC_PERIOD"`
	DirectoryFile string        `help:"YAML file listing directory users and their teams" env:"HAKBOT_SYNC_DIRECTORY_FILE"`
	Prune         bool          `help:"remove identities no longer present in the directory" default:"false" env:"HAKBOT_SYNC_PRUNE"`
}

func (s *SyncFlags) Validate() error {
	if s.Period <= 0 {
		return errors.New("sync period must be positive")
	}
	if s.InitialDelay <= 0 {
		return errors.New("sync initial delay must be positive")
	}
	return nil
}

func (s *SyncFlags) SchedulerConfig() scheduler.Config {
	return scheduler.Config{InitialDelay: s.InitialDelay, Period: s.Period}
}

type PostgresStoreFlags struct {
	// Connection Configuration
	ConnString string `help:"PostgreSQL connection string" env:"POSTGRES_CONNECTION_STRING"`

	// Connection Pool Configuration
	MaxConns        int32         `help:"maximum number of connections in pool" default:"20"`
	MinConns        int32         `help:"minimum number of connections in pool" default:"2"`
	MaxConnLifetime time.Duration `help:"maximum connection lifetime" default:"1h"`
	MaxConnIdleTime time.Duration `help:"maximum connection idle time" default:"30m"`

	// Migration Configuration
	AutoMigrate bool `help:"run database migrations on startup" default:"false" env:"HAKBOT_POSTGRES_AUTO_MIGRATE"`
}

func (p *PostgresStoreFlags) PoolConfig() *postgresstore.PoolConfig {
	return &postgresstore.PoolConfig{
		ConnString:      p.ConnString,
		MaxConns:        p.MaxConns,
		MinConns:        p.MinConns,
		MaxConnLifetime: p.MaxConnLifetime,
		MaxConnIdleTime: p.MaxConnIdleTime,
		AutoMigrate:     p.AutoMigrate,
	}
}
