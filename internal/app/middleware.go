package app

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
	"sync"

	u "pdfshift/internal/utils"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/healthcheck"
	"github.com/gofiber/fiber/v2/middleware/keyauth"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	memoryStorage "github.com/gofiber/storage/memory/v2"
	redisStorage "github.com/gofiber/storage/redis/v2"
	"github.com/rs/xid"
)

var (
	keyLimiterCache struct {
		sync.RWMutex
		handlers map[int]fiber.Handler
	}
	rateLimitStore fiber.Storage
)

func tooManyRequests(c *fiber.Ctx) error {
	return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{"detail": "Too Many Requests"})
}

// clientKey identifies an anonymous client by address and user agent.
func clientKey(c *fiber.Ctx) string {
	sum := sha256.Sum256([]byte(c.IP() + c.Get(fiber.HeaderUserAgent)))
	return hex.EncodeToString(sum[:])
}

// getKeyLimiter returns a cached limiter for the given per-key budget,
// creating one if needed.
func getKeyLimiter(limit int) fiber.Handler {
	keyLimiterCache.RLock()
	h, ok := keyLimiterCache.handlers[limit]
	keyLimiterCache.RUnlock()
	if ok {
		return h
	}

	h = limiter.New(limiter.Config{
		Max:               limit,
		Expiration:        u.GetConfig().RateLimiter.Interval,
		LimiterMiddleware: limiter.SlidingWindow{},
		Storage:           rateLimitStore,
		KeyGenerator: func(c *fiber.Ctx) string {
			if key, ok := c.Locals("api_key").(string); ok {
				return "key:" + key
			}
			return ""
		},
		LimitReached: func(c *fiber.Ctx) error {
			u.Warn("Rate limit exceeded", "scope", "api_key", "path", c.Path())
			return tooManyRequests(c)
		},
	})

	keyLimiterCache.Lock()
	if keyLimiterCache.handlers == nil {
		keyLimiterCache.handlers = make(map[int]fiber.Handler)
	}
	keyLimiterCache.handlers[limit] = h
	keyLimiterCache.Unlock()

	return h
}

// keyRateLimitMiddleware applies the per-key budget of authenticated requests.
func keyRateLimitMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		key, ok := c.Locals("api_key").(string)
		if !ok || key == "" {
			return c.Next()
		}
		limit := u.KeyRateLimit(key)
		if limit <= 0 {
			return c.Next()
		}
		return getKeyLimiter(limit)(c)
	}
}

// userRateLimitMiddleware limits anonymous clients when enabled.
func userRateLimitMiddleware(cfg u.Config) fiber.Handler {
	if cfg.RateLimiter.UserLimit <= 0 {
		return func(c *fiber.Ctx) error {
			return c.Next()
		}
	}
	userLimiter := limiter.New(limiter.Config{
		Max:               cfg.RateLimiter.UserLimit,
		Expiration:        cfg.RateLimiter.Interval,
		LimiterMiddleware: limiter.SlidingWindow{},
		Storage:           rateLimitStore,
		KeyGenerator:      clientKey,
		LimitReached: func(c *fiber.Ctx) error {
			u.Warn("Rate limit exceeded", "scope", "client", "client", clientKey(c), "path", c.Path())
			return tooManyRequests(c)
		},
	})
	return func(c *fiber.Ctx) error {
		// Requests carrying an API key are governed by the key budget only.
		if key, ok := c.Locals("api_key").(string); ok && key != "" {
			return c.Next()
		}
		return userLimiter(c)
	}
}

// newRateLimitStore prefers Redis and falls back to process memory when
// Redis is not configured or unreachable.
func newRateLimitStore(cfg u.Config) (store fiber.Storage) {
	store = memoryStorage.New()
	if cfg.Cache.RedisHost == "" {
		return store
	}

	defer func() {
		if r := recover(); r != nil {
			u.Error("Redis limiter store init panicked, falling back to memory", "panic", r)
		}
	}()
	store = redisStorage.New(redisStorage.Config{
		Addrs:    []string{cfg.Cache.RedisHost},
		Database: cfg.Cache.RateLimitDB,
	})
	u.Info("Using Redis for rate limiting", "addr", cfg.Cache.RedisHost, "db", cfg.Cache.RateLimitDB)
	return store
}

func validateAPIKey(c *fiber.Ctx, key string) (bool, error) {
	if !u.APIKeysReady() {
		return false, u.ErrKeyStoreNotReady
	}
	if !u.ValidateAPIKey(key) {
		return false, u.ErrInvalidAPIKey
	}
	return true, nil
}

// RegisterMiddleware attaches global middleware to the app
func RegisterMiddleware(app *fiber.App, cfg u.Config) {
	rateLimitStore = newRateLimitStore(cfg)

	app.Use(cors.New(cors.Config{
		AllowOrigins:  strings.Join(allowOrigins(cfg), ","),
		ExposeHeaders: "Content-Disposition,X-Page-Count,X-Margin-Points,X-Request-ID",
	}))

	app.Use(requestid.New(requestid.Config{
		Generator: func() string {
			return xid.New().String()
		},
	}))

	app.Use(healthcheck.New())

	app.Use(keyauth.New(keyauth.Config{
		KeyLookup:  "header:X-API-Key",
		ContextKey: "api_key",
		Validator:  validateAPIKey,
		// Anonymous requests are allowed; only a presented key is checked.
		Next: func(c *fiber.Ctx) bool {
			return c.Method() == fiber.MethodOptions || c.Get("X-API-Key") == ""
		},
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			// keyauth may call ErrorHandler with a nil error.
			status := fiber.StatusUnauthorized
			if err == nil {
				err = fiber.ErrUnauthorized
			}
			if errors.Is(err, u.ErrKeyStoreNotReady) {
				status = fiber.StatusServiceUnavailable
			}
			return c.Status(status).JSON(fiber.Map{"detail": err.Error()})
		},
	}))

	app.Use(keyRateLimitMiddleware())

	if cfg.RateLimiter.EnableUserLimiter || cfg.RateLimiter.UserLimit > 0 {
		app.Use(userRateLimitMiddleware(cfg))
	}

	app.Use(func(c *fiber.Ctx) error {
		requestID := c.Get(fiber.HeaderXRequestID)
		if requestID == "" {
			requestID = c.GetRespHeader(fiber.HeaderXRequestID)
		}
		u.Info("Incoming request", "method", c.Method(), "path", c.Path(), "request_id", requestID)
		return c.Next()
	})
}

func allowOrigins(cfg u.Config) []string {
	if len(cfg.Server.AllowOrigins) == 0 {
		return []string{"*"}
	}
	return cfg.Server.AllowOrigins
}
