package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/gofiber/fiber/v2"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"

	"pdfmerge/internal/config"
	"pdfmerge/internal/http/server"
	"pdfmerge/internal/infra/logging"
	"pdfmerge/internal/infra/metrics"
	"pdfmerge/internal/orchestrator"
	"pdfmerge/internal/scheduler"
)

func main() {
	// A missing .env is fine; the environment may already be set.
	_ = godotenv.Load()

	cfg := config.Load()
	logging.InitLogger(
		cfg.Logger.File,
		cfg.Logger.MaxSizeMB,
		cfg.Logger.MaxBackups,
		cfg.Logger.MaxAgeDays,
		cfg.Logger.Compress,
		cfg.Logger.Level,
	)

	var rdb *redis.Client
	if cfg.Cache.RedisHost != "" {
		rdb = redis.NewClient(&redis.Options{
			Addr: cfg.Cache.RedisHost,
			DB:   cfg.Cache.RateLimitDB,
		})
		defer rdb.Close()
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	sched := scheduler.NewTimerScheduler()
	svc, err := orchestrator.New(cfg.Merge, orchestrator.Deps{
		Scheduler: sched,
		Metrics:   metrics.New(reg),
	})
	if err != nil {
		logging.Error("Failed to initialise merge service", "error", err)
		os.Exit(1)
	}

	app := server.New(server.Deps{
		Config:     cfg,
		Service:    svc,
		Redis:      rdb,
		Registry:   reg,
		UploadRoot: svc.UploadRoot(),
	})

	sigint := make(chan os.Signal, 1)
	signal.Notify(sigint, syscall.SIGINT, syscall.SIGTERM)

	startServer(app, cfg, sigint)

	// Outputs may still be in their grace period; remove them now.
	logging.Info("Running pending workspace cleanups", "pending", sched.Pending())
	sched.Flush()
	logging.Info("Server stopped cleanly")
}

// startServer listens until stop fires, then shuts the app down within the
// configured timeout.
func startServer(app *fiber.App, cfg config.Config, stop <-chan os.Signal) {
	addr := cfg.Server.Host + cfg.Server.Port
	go func() {
		logging.Info("Listening", "addr", addr)
		if err := app.Listen(addr); err != nil {
			logging.Error("Server error", "error", err)
		}
	}()

	<-stop
	logging.Warn("Shutdown signal received, closing server...")

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := app.ShutdownWithContext(ctx); err != nil {
		logging.Error("Server forced to shutdown", "error", err)
	}
}
