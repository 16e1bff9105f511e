package app

import (
	"errors"

	"kdocs2pdf/internal/handlers"
	"kdocs2pdf/internal/metrics"
	u "kdocs2pdf/internal/utils"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/monitor"
	"github.com/prometheus/client_golang/prometheus"
)

// Deps are the collaborators the HTTP layer is wired to.
type Deps struct {
	Converter handlers.Converter
	Files     handlers.FileSource
	Tokens    *u.TokenStore
	// RateLimitStore backs the limiters. Nil selects Redis or memory from config.
	RateLimitStore fiber.Storage
	Registry       *prometheus.Registry
	Metrics        *metrics.ConversionMetrics
}

// SetupApp creates and configures a new Fiber app instance
func SetupApp(cfg u.Config, deps Deps) *fiber.App {
	app := fiber.New(fiber.Config{
		Prefork:               cfg.Server.Prefork,
		DisableStartupMessage: true,
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			code := fiber.StatusInternalServerError
			msg := "Internal Server Error"

			var e *fiber.Error
			if errors.As(err, &e) {
				code = e.Code
				msg = e.Message
			}

			u.Warn("Request failed", "path", c.Path(), "status", code, "message", msg)

			return c.Status(code).JSON(fiber.Map{"error": msg})
		},
	})

	if deps.RateLimitStore == nil {
		deps.RateLimitStore = NewRateLimitStore(cfg.Cache)
	}
	if deps.Tokens == nil {
		deps.Tokens = u.NewTokenStore(cfg.Auth.APIKey, cfg.RateLimiter.TokenLimit)
	}

	RegisterMiddleware(app)
	RegisterRoutes(app, cfg, deps)

	// Ensure all responses, including 404s, return JSON
	app.Use(func(c *fiber.Ctx) error {
		return fiber.NewError(fiber.StatusNotFound, "Not Found")
	})

	return app
}

// RegisterRoutes mounts all route handlers to the app
func RegisterRoutes(app *fiber.App, cfg u.Config, deps Deps) {
	svc := handlers.NewDocumentService(cfg, deps.Converter, deps.Files, deps.Metrics)
	limits := newLimiters(deps.RateLimitStore, cfg.RateLimiter.Interval)

	auth := apiKeyAuth(deps.Tokens)

	app.Post("/convert", auth, limits.tokenRateLimit(deps.Tokens), svc.HandleConvert)

	download := []fiber.Handler{}
	if cfg.Auth.ProtectDownload {
		download = append(download, auth, limits.tokenRateLimit(deps.Tokens))
	}
	if cfg.RateLimiter.EnableUserLimiter || cfg.RateLimiter.UserLimit > 0 {
		download = append(download, limits.userRateLimit(cfg.RateLimiter.UserLimit))
	}
	download = append(download, svc.HandleDownload)
	app.Get("/download/:filename", download...)

	app.Get("/monitor", monitor.New(monitor.Config{Title: "kdocs2pdf"}))

	if deps.Registry != nil {
		app.Get("/metrics", adaptor.HTTPHandler(metrics.Handler(deps.Registry)))
	}
}
