package middleware

import (
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/healthcheck"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/rs/xid"

	"pdfmerge/internal/config"
	"pdfmerge/internal/infra/logging"
)

const (
	LivenessPath  = "/ops/health"
	ReadinessPath = "/ops/ready"
)

// Register attaches the global middleware chain. ready backs the readiness
// endpoint; nil reports ready.
func Register(app *fiber.App, cfg config.Config, ready healthcheck.HealthChecker) {
	if ready == nil {
		ready = func(*fiber.Ctx) bool { return true }
	}

	app.Use(cors.New(cors.Config{
		ExposeHeaders: "Content-Disposition, X-Total-Pages, X-Files-Merged, X-Merge-Id, X-Request-Id",
	}))

	app.Use(requestid.New(requestid.Config{
		Generator: func() string {
			return xid.New().String()
		},
	}))

	app.Use(healthcheck.New(healthcheck.Config{
		LivenessEndpoint:  LivenessPath,
		ReadinessEndpoint: ReadinessPath,
		ReadinessProbe:    ready,
	}))

	app.Use(RequestLogger())
}

// RequestLogger logs every request once it has been handled.
func RequestLogger() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()

		requestID := c.Get(fiber.HeaderXRequestID)
		if requestID == "" {
			requestID = c.GetRespHeader(fiber.HeaderXRequestID)
		}
		logging.Info("Request handled",
			"method", c.Method(),
			"path", c.Path(),
			"status", c.Response().StatusCode(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", requestID,
		)
		return err
	}
}

// UserRateLimit limits requests per client, keyed by a hash of IP and
// User-Agent. It is a pass-through unless cfg.Enabled is set.
func UserRateLimit(cfg config.RateLimiterConfig, store fiber.Storage) fiber.Handler {
	if !cfg.Enabled || cfg.Limit <= 0 {
		return func(c *fiber.Ctx) error {
			return c.Next()
		}
	}

	return limiter.New(limiter.Config{
		Max:               cfg.Limit,
		Expiration:        cfg.Interval,
		LimiterMiddleware: limiter.SlidingWindow{},
		Storage:           store,
		KeyGenerator:      clientKey,
		LimitReached: func(c *fiber.Ctx) error {
			logging.Warn("Rate limit exceeded", "user", clientKey(c), "path", c.Path())
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error": fiber.Map{
					"code":    fiber.StatusTooManyRequests,
					"kind":    "rate_limited",
					"message": "Too Many Requests",
				},
			})
		},
	})
}

func clientKey(c *fiber.Ctx) string {
	sum := sha256.Sum256([]byte(c.IP() + c.Get(fiber.HeaderUserAgent)))
	return hex.EncodeToString(sum[:])
}
