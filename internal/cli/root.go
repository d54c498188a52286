// Package cli implements the blocklog command-line interface.
package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/kilupskalvis/blocklog/internal/actors"
	"github.com/kilupskalvis/blocklog/internal/api"
	"github.com/kilupskalvis/blocklog/internal/config"
	"github.com/kilupskalvis/blocklog/internal/store"
	"github.com/kilupskalvis/blocklog/internal/world"
	"github.com/spf13/cobra"
)

// cmdContext holds common resources for CLI commands
type cmdContext struct {
	Config *config.Config
	Logger *slog.Logger
	Store  *store.Store
	World  *world.BoltWorld
	Names  *actors.Resolver

	cache *actors.RedisCache
}

// Close releases resources held by cmdContext. The world is saved first.
func (c *cmdContext) Close() {
	if c.World != nil {
		if err := c.World.Close(); err != nil {
			c.Logger.Error("failed to save world", "error", err)
		}
	}
	if c.cache != nil {
		c.cache.Close()
	}
	if c.Store != nil {
		c.Store.Close()
	}
}

// initContext loads config, opens the store and runs migrations
func initContext() *cmdContext {
	cfg, err := config.Load()
	if err != nil {
		exitError("%v", err)
	}

	level, format := cfg.LogLevel, cfg.LogFormat
	if logLevel != "" {
		level = logLevel
	}
	if logFormat != "" {
		format = logFormat
	}
	logger := newLogger(level, format)

	st, err := store.New(cfg.DatabasePath(), logger)
	if err != nil {
		exitError("failed to open store: %v", err)
	}
	if err := st.RunMigrations(); err != nil {
		st.Close()
		exitError("failed to run migrations: %v", err)
	}

	c := &cmdContext{Config: cfg, Logger: logger, Store: st}
	c.Names = actors.NewResolver(st, c.openCache(), logger)
	return c
}

// initWorldContext also opens the bbolt world
func initWorldContext() *cmdContext {
	c := initContext()

	w, err := world.OpenBoltWorld(c.Config.WorldPath(), c.Logger)
	if err != nil {
		c.Close()
		exitError("failed to open world: %v", err)
	}
	c.World = w
	return c
}

// openCache connects the Redis name cache when one is configured. A cache
// that cannot be reached is skipped.
func (c *cmdContext) openCache() actors.Cache {
	if c.Config.RedisAddr == "" {
		return nil
	}
	cache, err := actors.NewRedisCache(actors.DefaultRedisConfig(c.Config.RedisAddr))
	if err != nil {
		c.Logger.Warn("actor cache disabled", "addr", c.Config.RedisAddr, "error", err)
		return nil
	}
	c.cache = cache
	return cache
}

var (
	logLevel    string
	logFormat   string
	serverURL   string
	serverToken string
)

var rootCmd = &cobra.Command{
	Use:   "blocklog",
	Short: "Block change log and rollback tool",
	Long: `blocklog records every change made to a voxel world and can undo or
redo any selection of them: by time window, area, player, action or block.`,
}

// Execute runs the root command
func Execute() error {
	return rootCmd.ExecuteContext(context.Background())
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (debug|info|warn|error), overrides config")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "Log format (text|json), overrides config")
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", os.Getenv("BLOCKLOG_SERVER"),
		"Send lookup, rollback and restore to a running blocklog server (env: BLOCKLOG_SERVER)")
	rootCmd.PersistentFlags().StringVar(&serverToken, "token", os.Getenv("BLOCKLOG_API_TOKEN"),
		"Bearer token for --server (env: BLOCKLOG_API_TOKEN)")

	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(recordCmd)
	rootCmd.AddCommand(lookupCmd)
	rootCmd.AddCommand(rollbackCmd)
	rootCmd.AddCommand(restoreCmd)
	rootCmd.AddCommand(purgeCmd)
	rootCmd.AddCommand(serveCmd)
}

// remoteClient returns a client for --server, or nil when commands should
// open the local files.
func remoteClient() *api.Client {
	if serverURL == "" {
		return nil
	}
	return api.NewClient(serverURL, serverToken, nil)
}

// newLogger builds the process logger. Logs go to stderr so command output
// stays clean.
func newLogger(level, format string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: lvl}
	if format == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	return slog.New(handler)
}

// exitError prints an error and exits
func exitError(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "error: "+format+"\n", args...)
	os.Exit(1)
}
