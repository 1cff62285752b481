package factory

import (
	"errors"
	"io"
	"log/slog"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	"github.com/joinhall/lobbysync/internal/dependencies/clock"
	"github.com/joinhall/lobbysync/internal/dependencies/random"
	"github.com/joinhall/lobbysync/internal/identity"
	"github.com/joinhall/lobbysync/internal/lobby"
	"github.com/joinhall/lobbysync/internal/store"
	"github.com/joinhall/lobbysync/internal/store/memory"
	redisstore "github.com/joinhall/lobbysync/internal/store/redis"
)

// Store type constants
const (
	StoreTypeMemory = "memory"
	StoreTypeRedis  = "redis"
)

// App contains all wired application components
type App struct {
	// Shared store and its identity facility
	Store store.Store
	Auth  store.Auth

	// External dependencies
	Clock  clock.Clock
	Random random.Random

	// Components
	Identity *identity.Provider
	Client   *lobby.Client
}

// Config holds configuration for the application factory
type Config struct {
	// StoreType selects the store backend ("memory" or "redis")
	// If empty, defaults to "memory"
	StoreType string
	// RedisConfig holds Redis connection settings (required if StoreType is "redis")
	RedisConfig *redisstore.Config
	// ClientConfig holds lobby client settings (optional)
	ClientConfig lobby.Config
	// KeystoreApp names the user-config subdirectory holding the
	// device identity. If empty, a session-only identity is used.
	KeystoreApp string
	// Logger is the application logger (optional)
	// If nil, a no-op logger is used
	Logger *slog.Logger
}

// EnvConfig is the environment surface of the factory
type EnvConfig struct {
	StoreType string `env:"LOBBYSYNC_STORE" envDefault:"memory"`
	RedisURL  string `env:"LOBBYSYNC_REDIS_URL" envDefault:"redis://localhost:6379"`
	Slug      string `env:"LOBBYSYNC_SLUG" envDefault:"lobbysync"`
}

// FromEnv builds a factory Config from the process environment. A .env
// file in the working directory is applied first when present.
func FromEnv() (Config, error) {
	_ = godotenv.Load()

	var ec EnvConfig
	if err := env.Parse(&ec); err != nil {
		return Config{}, err
	}

	clientCfg := lobby.DefaultConfig()
	clientCfg.Slug = ec.Slug

	cfg := Config{
		StoreType:    ec.StoreType,
		ClientConfig: clientCfg,
		KeystoreApp:  "lobbysync",
	}
	if ec.StoreType == StoreTypeRedis {
		rc := redisstore.DefaultConfig()
		rc.URL = ec.RedisURL
		cfg.RedisConfig = &rc
	}
	return cfg, nil
}

// New creates a new application with all dependencies wired
func New(cfg Config) (*App, error) {
	// Use no-op logger if not provided
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}

	// Create store based on type
	var (
		st   store.Store
		auth store.Auth
	)
	storeType := cfg.StoreType
	if storeType == "" {
		storeType = StoreTypeMemory
	}

	switch storeType {
	case StoreTypeMemory:
		mem := memory.New()
		st, auth = mem, mem
	case StoreTypeRedis:
		if cfg.RedisConfig == nil {
			return nil, errors.New("RedisConfig required when StoreType is redis")
		}
		redisStore, err := redisstore.New(*cfg.RedisConfig)
		if err != nil {
			return nil, err
		}
		st, auth = redisStore, redisStore
	default:
		return nil, errors.New("invalid StoreType: must be 'memory' or 'redis'")
	}

	// Device identity keystore
	var ks identity.Keystore
	if cfg.KeystoreApp != "" {
		fileKs, err := identity.NewFileKeystore(cfg.KeystoreApp)
		if err != nil {
			logger.Warn("user config dir unavailable, using session-only identity",
				slog.String("error", err.Error()))
			ks = &identity.MemoryKeystore{}
		} else {
			ks = fileKs
		}
	} else {
		ks = &identity.MemoryKeystore{}
	}

	return newWithDependencies(st, auth, clock.New(), random.New(), ks, cfg.ClientConfig, logger), nil
}

// newWithDependencies creates an App with the given dependencies (useful for testing)
func newWithDependencies(st store.Store, auth store.Auth, clk clock.Clock, rnd random.Random, ks identity.Keystore, clientCfg lobby.Config, logger *slog.Logger) *App {
	ids := identity.New(ks, auth, 0, logger)
	client := lobby.New(st, clk, rnd, ids, clientCfg, logger)

	return &App{
		Store:    st,
		Auth:     auth,
		Clock:    clk,
		Random:   rnd,
		Identity: ids,
		Client:   client,
	}
}
