package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"

	"pdfshift/internal/app"
	u "pdfshift/internal/utils"
)

func main() {
	cfg := u.LoadConfig()
	u.InitLogger(
		cfg.Logger.File,
		cfg.Logger.MaxSizeMB,
		cfg.Logger.MaxBackups,
		cfg.Logger.MaxAgeDays,
		cfg.Logger.Compress,
		cfg.Logger.Level,
	)

	scratch := u.NewScratchDirs(cfg.Scratch.BaseDir)
	if err := u.EnsureScratchDirs(scratch); err != nil {
		u.Error("Failed to create scratch directories", "error", err)
		os.Exit(1)
	}

	var rdb *redis.Client
	if cfg.Cache.RedisHost != "" {
		rdb = redis.NewClient(&redis.Options{
			Addr: cfg.Cache.RedisHost,
			DB:   cfg.Cache.PDFCacheDB,
		})
		defer rdb.Close()
	}

	idleConnsClosed := make(chan struct{})
	startAPIKeyStore(cfg, idleConnsClosed)
	go u.SweepScratchPeriodically(scratch, cfg.Scratch.MaxAge, cfg.Scratch.SweepInterval, idleConnsClosed)

	app := app.SetupApp(cfg, rdb, scratch)

	startServer(app, cfg, idleConnsClosed)
	<-idleConnsClosed
}

// startAPIKeyStore loads API keys from Postgres and keeps them fresh. Without
// a configured store the server accepts only anonymous requests.
func startAPIKeyStore(cfg u.Config, stop <-chan struct{}) {
	if !u.AuthEnabled(cfg.Auth.Postgres) {
		u.LoadAPIKeysFromMap(map[string]int{})
		return
	}
	if err := u.LoadAPIKeysFromPostgres(context.Background(), cfg.Auth.Postgres); err != nil {
		u.Error("Failed to load API keys", "error", err)
	}
	go u.RefreshAPIKeysPeriodically(cfg.Auth.Postgres, cfg.Auth.ReloadInterval, stop)
}

// startServer starts the Fiber app and listens for shutdown signals
func startServer(app *fiber.App, cfg u.Config, idleConnsClosed chan struct{}) {
	go func() {
		u.Info("Server listening", "addr", cfg.Server.Host+cfg.Server.Port)
		if err := app.Listen(cfg.Server.Host + cfg.Server.Port); err != nil {
			u.Error("Server error", "error", err)
		}
	}()

	sigint := make(chan os.Signal, 1)
	signal.Notify(sigint, syscall.SIGINT, syscall.SIGTERM)
	<-sigint
	signal.Stop(sigint)

	u.Warn("Shutdown signal received, closing server...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := app.ShutdownWithContext(ctx); err != nil {
		u.Error("Server forced to shutdown", "error", err)
	}

	close(idleConnsClosed)
	u.Info("Server stopped cleanly")
}
