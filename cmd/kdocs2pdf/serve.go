package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"kdocs2pdf/internal/app"
	"kdocs2pdf/internal/chrome"
	"kdocs2pdf/internal/convert"
	"kdocs2pdf/internal/metrics"
	"kdocs2pdf/internal/storage"
	u "kdocs2pdf/internal/utils"
)

const tokenRefreshInterval = time.Minute

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP service",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg := loadConfig()
	initLogger(cfg)

	deps, cleanup, err := buildDeps(cfg)
	if err != nil {
		u.Error("Startup failed", "error", err)
		return err
	}
	defer cleanup()

	idleConnsClosed := make(chan struct{})
	if cfg.Auth.Postgres.Enabled() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := deps.Tokens.LoadFromPostgres(ctx, cfg.Auth.Postgres); err != nil {
			u.Error("Failed to load API tokens", "error", err)
		}
		cancel()
		go deps.Tokens.RefreshPeriodically(cfg.Auth.Postgres, tokenRefreshInterval, idleConnsClosed)
	}

	application := app.SetupApp(cfg, deps)
	u.Info("Starting server", "addr", cfg.Server.Host+cfg.Server.Port, "engine", cfg.Browser.Engine, "version", version)

	err = startServer(application, cfg, idleConnsClosed)
	<-idleConnsClosed
	return err
}

// buildDeps wires storage, browser, caches and metrics for the HTTP layer.
// The returned func releases everything that holds a connection.
func buildDeps(cfg u.Config) (app.Deps, func(), error) {
	files, err := storage.NewFileStore(cfg.Storage.DownloadDir)
	if err != nil {
		return app.Deps{}, nil, err
	}
	launcher, err := chrome.NewLauncher(cfg.Browser)
	if err != nil {
		return app.Deps{}, nil, err
	}

	reg := metrics.NewRegistry()
	m := metrics.NewConversionMetrics(reg)
	opts := []convert.Option{convert.WithMetrics(m)}

	var rdb *redis.Client
	if cfg.Cache.ResultCacheEnabled && cfg.Cache.RedisHost != "" {
		rdb = redis.NewClient(&redis.Options{
			Addr: cfg.Cache.RedisHost,
			DB:   cfg.Cache.ResultCacheDB,
		})
		opts = append(opts, convert.WithResultCache(storage.NewResultCache(rdb, cfg.Cache.ResultCacheTTL)))
		u.Info("Result cache enabled", "addr", cfg.Cache.RedisHost, "db", cfg.Cache.ResultCacheDB, "ttl", cfg.Cache.ResultCacheTTL.String())
	}

	tokens := u.NewTokenStore(cfg.Auth.APIKey, cfg.RateLimiter.TokenLimit)
	limitStore := app.NewRateLimitStore(cfg.Cache)

	deps := app.Deps{
		Converter:      convert.New(cfg.Browser, launcher, files, opts...),
		Files:          files,
		Tokens:         tokens,
		RateLimitStore: limitStore,
		Registry:       reg,
		Metrics:        m,
	}
	cleanup := func() {
		if err := tokens.Close(); err != nil {
			u.Warn("Closing token database failed", "error", err)
		}
		if err := limitStore.Close(); err != nil {
			u.Warn("Closing rate limit store failed", "error", err)
		}
		if rdb != nil {
			if err := rdb.Close(); err != nil {
				u.Warn("Closing result cache failed", "error", err)
			}
		}
	}
	return deps, cleanup, nil
}

// startServer starts the Fiber app and listens for shutdown signals. It returns
// the listen error when the server could not start.
func startServer(app *fiber.App, cfg u.Config, idleConnsClosed chan struct{}) error {
	listenErr := make(chan error, 1)
	go func() {
		if err := app.Listen(cfg.Server.Host + cfg.Server.Port); err != nil {
			u.Error("Server error", "error", err)
			listenErr <- err
		}
	}()

	// Listen for OS termination signals
	sigint := make(chan os.Signal, 1)
	signal.Notify(sigint, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigint)

	var err error
	select {
	case <-sigint:
		u.Warn("Shutdown signal received, closing server...")
	case err = <-listenErr:
	}

	// Graceful shutdown with timeout
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if serr := app.ShutdownWithContext(ctx); serr != nil {
		u.Error("Server forced to shutdown", "error", serr)
	}

	close(idleConnsClosed)
	if err != nil {
		return err
	}
	u.Info("Server stopped cleanly")
	return nil
}
