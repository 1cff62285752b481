package cli

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/joinhall/lobbysync/internal/factory"
	redisstore "github.com/joinhall/lobbysync/internal/store/redis"
)

var (
	cfg *Config
	app *factory.App
)

// NewRootCmd creates the root command
func NewRootCmd() *cobra.Command {
	cfg = DefaultConfig()

	rootCmd := &cobra.Command{
		Use:   "lobbyctl",
		Short: "CLI for multiplayer lobby sessions",
		Long: `lobbyctl hosts and joins shared multiplayer lobby sessions.

It connects to the shared store, establishes your identity and presence,
and runs an interactive session where plain lines are sent as chat and
slash commands drive readiness, countdowns, reactions, and moderation.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return buildApp()
		},
		SilenceUsage: true,
	}

	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfg.StoreType, "store", cfg.StoreType, "Store backend: memory, redis (env: LOBBYSYNC_STORE)")
	rootCmd.PersistentFlags().StringVar(&cfg.RedisURL, "redis-url", cfg.RedisURL, "Redis URL (env: LOBBYSYNC_REDIS_URL)")
	rootCmd.PersistentFlags().StringVarP(&cfg.Name, "name", "n", cfg.Name, "Display name (env: LOBBYSYNC_NAME)")
	rootCmd.PersistentFlags().StringVarP(&cfg.Output, "output", "o", cfg.Output, "Output format: text, json")
	rootCmd.PersistentFlags().BoolVarP(&cfg.Verbose, "verbose", "v", cfg.Verbose, "Verbose output")

	// Add subcommands
	rootCmd.AddCommand(newHostCmd())
	rootCmd.AddCommand(newJoinCmd())
	rootCmd.AddCommand(newResolveCmd())

	return rootCmd
}

// buildApp wires the application from environment and flags
func buildApp() error {
	level := slog.LevelWarn
	if cfg.Verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))

	fcfg, err := factory.FromEnv()
	if err != nil {
		return err
	}
	fcfg.StoreType = cfg.StoreType
	if cfg.StoreType == factory.StoreTypeRedis {
		rc := redisstore.DefaultConfig()
		rc.URL = cfg.RedisURL
		fcfg.RedisConfig = &rc
	}
	fcfg.Logger = logger

	app, err = factory.New(fcfg)
	return err
}

// Execute runs the root command
func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
