package cli

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kilupskalvis/blocklog/internal/api"
	"github.com/kilupskalvis/blocklog/internal/core"
	"github.com/kilupskalvis/blocklog/internal/store"
	"github.com/kilupskalvis/blocklog/internal/world"
	"github.com/spf13/cobra"
)

var (
	serveListen       string
	serveTLSCert      string
	serveTLSKey       string
	serveTick         time.Duration
	serveSaveInterval time.Duration
	serveOrigins      []string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the admin HTTP API",
	Long: `Run the admin HTTP API over the log and the world file.

World changes run on a tick loop, log writes are committed in batches every
commit_interval, and dirty chunks are saved every --save-interval.

Set api_token in the config (or BLOCKLOG_API_TOKEN) to require a bearer token
on /api routes.

Examples:
  blocklog serve
  blocklog serve --listen 0.0.0.0:8740 --tls-cert server.crt --tls-key server.key`,
	Run: runServe,
}

func init() {
	f := serveCmd.Flags()
	f.StringVar(&serveListen, "listen", "", "Listen address (host:port), overrides config")
	f.StringVar(&serveTLSCert, "tls-cert", os.Getenv("BLOCKLOG_TLS_CERT"), "TLS certificate file")
	f.StringVar(&serveTLSKey, "tls-key", os.Getenv("BLOCKLOG_TLS_KEY"), "TLS key file")
	f.DurationVar(&serveTick, "tick", 50*time.Millisecond, "World tick interval")
	f.DurationVar(&serveSaveInterval, "save-interval", time.Minute, "How often dirty chunks are saved")
	f.StringSliceVar(&serveOrigins, "allowed-origin", nil, "CORS origins allowed to call the API")
}

func runServe(cmd *cobra.Command, _ []string) {
	c := initWorldContext()
	defer c.Close()
	logger := c.Logger
	cfg := c.Config

	listen := serveListen
	if listen == "" {
		listen = cfg.Listen
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var batcher *store.Batcher
	if cfg.CommitInterval.Duration > 0 {
		batcher = store.NewBatcher(c.Store, cfg.CommitInterval.Duration, logger)
		if err := batcher.Start(ctx); err != nil {
			logger.Error("failed to start batch commits", "error", err)
			os.Exit(1)
		}
	}

	loop := world.NewTickLoop(serveTick, logger)
	loopDone := make(chan struct{})
	go func() {
		defer close(loopDone)
		loop.Run(ctx)
	}()
	go saveWorld(ctx, loop, c.World, serveSaveInterval, logger)

	eng := core.NewEngine(c.Store, c.World, core.Options{
		Executor:        loop,
		Logger:          logger,
		LoadConcurrency: cfg.LoadConcurrency,
	})
	h := api.NewHandler(eng, c.Store, c.Names, api.HandlerOptions{
		DefaultWorld: cfg.DefaultWorld,
		PageSize:     cfg.PageSize,
		Logger:       logger,
	})
	router := api.NewRouter(h, api.RouterOptions{
		Token:          cfg.APIToken,
		AllowedOrigins: serveOrigins,
		Logger:         logger,
	})

	srv := &http.Server{
		Addr:              listen,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      5 * time.Minute,
		IdleTimeout:       120 * time.Second,
		BaseContext:       func(_ net.Listener) context.Context { return ctx },
	}

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)

	go func() {
		logger.Info("starting blocklog server", "listen", listen, "data_dir", cfg.Path(), "auth", cfg.APIToken != "")
		var err error
		if serveTLSCert != "" && serveTLSKey != "" {
			err = srv.ListenAndServeTLS(serveTLSCert, serveTLSKey)
		} else {
			err = srv.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	<-done
	logger.Info("shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
	}

	cancel()
	<-loopDone
	if batcher != nil {
		if err := batcher.Stop(); err != nil {
			logger.Error("final commit failed", "error", err)
		}
	}
	logger.Info("server stopped")
}

// saveWorld writes dirty chunks on the tick loop so saves never interleave
// with a rollback.
func saveWorld(ctx context.Context, loop *world.TickLoop, w *world.BoltWorld, interval time.Duration, logger *slog.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			err := loop.Do(ctx, func() error { return w.Save(ctx) })
			if err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("failed to save world", "error", err)
			}
		}
	}
}
