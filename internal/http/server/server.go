package server

import (
	"context"
	"errors"
	"os"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/monitor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"pdfmerge/internal/config"
	"pdfmerge/internal/domain"
	"pdfmerge/internal/http/handlers"
	"pdfmerge/internal/http/middleware"
	"pdfmerge/internal/infra/logging"
	"pdfmerge/internal/infra/ratelimit"
)

// Deps wires the app. Redis and Registry are optional.
type Deps struct {
	Config   config.Config
	Service  handlers.MergeService
	Redis    *redis.Client
	Registry *prometheus.Registry

	// UploadRoot is probed for readiness.
	UploadRoot string
}

// New builds the Fiber app with middleware, routes and a JSON 404.
func New(d Deps) *fiber.App {
	app := fiber.New(fiber.Config{
		Prefork:               d.Config.Server.Prefork,
		BodyLimit:             d.Config.Server.BodyLimitBytes,
		DisableStartupMessage: true,
		ErrorHandler:          errorHandler,
	})

	middleware.Register(app, d.Config, readiness(d))
	if d.Config.RateLimiter.Enabled {
		store := ratelimit.NewStore(ratelimit.RedisConfig{
			Addr: d.Config.Cache.RedisHost,
			DB:   d.Config.Cache.RateLimitDB,
		})
		app.Use(middleware.UserRateLimit(d.Config.RateLimiter, store))
	}

	registerRoutes(app, d)

	app.Use(func(c *fiber.Ctx) error {
		return fiber.NewError(fiber.StatusNotFound, "Not Found")
	})

	return app
}

func registerRoutes(app *fiber.App, d Deps) {
	h := handlers.NewMergeHandler(d.Service)
	app.Post("/validate", h.HandleValidate)
	app.Post("/merge", h.HandleMerge)
	app.Post("/merge-multiple", h.HandleMergeMultiple)
	app.Post("/preview", h.HandlePreview)

	ops := app.Group("/ops")
	if d.Registry != nil {
		ops.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(d.Registry, promhttp.HandlerOpts{})))
	}
	ops.Get("/monitor", monitor.New(monitor.Config{Title: "pdfmerge"}))
}

// readiness reports ready when the upload root is a directory and Redis, if
// configured, answers a ping.
func readiness(d Deps) func(*fiber.Ctx) bool {
	return func(c *fiber.Ctx) bool {
		if d.UploadRoot != "" {
			info, err := os.Stat(d.UploadRoot)
			if err != nil || !info.IsDir() {
				logging.Warn("Upload root unavailable", "path", d.UploadRoot, "error", err)
				return false
			}
		}
		if d.Redis != nil {
			ctx, cancel := context.WithTimeout(c.UserContext(), time.Second)
			defer cancel()
			if err := d.Redis.Ping(ctx).Err(); err != nil {
				logging.Warn("Redis ping failed", "error", err)
				return false
			}
		}
		return true
	}
}

// StatusFor maps an error kind to its HTTP status.
func StatusFor(kind domain.Kind) int {
	switch kind {
	case domain.KindNoInput, domain.KindInsufficientInput, domain.KindUnsupportedType, domain.KindInvalidDocument:
		return fiber.StatusBadRequest
	case domain.KindMergeFailure:
		return fiber.StatusUnprocessableEntity
	case domain.KindPayloadTooLarge:
		return fiber.StatusRequestEntityTooLarge
	default:
		return fiber.StatusInternalServerError
	}
}

func errorHandler(c *fiber.Ctx, err error) error {
	var (
		code int
		kind string
		msg  string
	)

	var fe *fiber.Error
	if errors.As(err, &fe) {
		code, kind, msg = fe.Code, "http", fe.Message
		if code == fiber.StatusRequestEntityTooLarge {
			kind = string(domain.KindPayloadTooLarge)
		}
	} else {
		de := domain.AsError(err)
		code, kind, msg = StatusFor(de.Kind), string(de.Kind), de.Message
	}

	if code >= fiber.StatusInternalServerError {
		logging.Error("Request failed", "path", c.Path(), "status", code, "error", err)
	} else {
		logging.Warn("Request failed", "path", c.Path(), "status", code, "message", msg, "error", err)
	}

	return c.Status(code).JSON(fiber.Map{
		"error": fiber.Map{
			"code":    code,
			"kind":    kind,
			"message": msg,
		},
	})
}
