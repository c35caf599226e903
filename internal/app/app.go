package app

import (
	"pdfshift/internal/handlers"
	u "pdfshift/internal/utils"
	"pdfshift/internal/web"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/monitor"
	"github.com/redis/go-redis/v9"
)

// multipartOverhead is headroom above the upload limit for form boundaries
// and the margin field. Oversized files must still reach the handler.
const multipartOverhead = 1 << 20

// SetupApp creates and configures a new Fiber app instance
func SetupApp(cfg u.Config, redis *redis.Client, scratch u.ScratchDirs) *fiber.App {
	app := fiber.New(fiber.Config{
		Prefork:               cfg.Server.Prefork,
		DisableStartupMessage: true,
		BodyLimit:             bodyLimit(cfg),
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			code := fiber.StatusInternalServerError
			msg := "Internal Server Error"

			if e, ok := err.(*fiber.Error); ok {
				code = e.Code
				msg = e.Message
			}

			u.Warn("Request failed", "path", c.Path(), "status", code, "detail", msg)

			return c.Status(code).JSON(fiber.Map{"detail": msg})
		},
	})

	RegisterMiddleware(app, cfg)
	RegisterRoutes(app, cfg, redis, scratch)

	// Ensure all responses, including 404s, return JSON
	app.Use(func(c *fiber.Ctx) error {
		return fiber.NewError(fiber.StatusNotFound, "Not Found")
	})

	return app
}

func bodyLimit(cfg u.Config) int {
	if cfg.Limits.MaxUploadBytes <= 0 {
		return fiber.DefaultBodyLimit
	}
	return 2*cfg.Limits.MaxUploadBytes + multipartOverhead
}

// RegisterRoutes mounts all route handlers to the app
func RegisterRoutes(app *fiber.App, cfg u.Config, redis *redis.Client, scratch u.ScratchDirs) {
	app.Get("/", web.HandleIndex)

	api := app.Group("/api")
	svc := handlers.NewConvertService(cfg, redis, scratch)
	api.Post("/convert", svc.HandleConvert)
	api.Get("/monitor", monitor.New())
}
