package app

import (
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/keyauth"

	u "pdfshift/internal/utils"
)

type memStore struct {
	sync.RWMutex
	m map[string][]byte
}

func newMemStore() *memStore {
	return &memStore{m: make(map[string][]byte)}
}

func (s *memStore) Get(key string) ([]byte, error) {
	s.RLock()
	defer s.RUnlock()
	return s.m[key], nil
}

func (s *memStore) Set(key string, val []byte, exp time.Duration) error {
	s.Lock()
	s.m[key] = val
	s.Unlock()
	return nil
}

func (s *memStore) Delete(key string) error {
	s.Lock()
	delete(s.m, key)
	s.Unlock()
	return nil
}

func (s *memStore) Reset() error {
	s.Lock()
	s.m = make(map[string][]byte)
	s.Unlock()
	return nil
}

func (s *memStore) Close() error { return nil }

func resetLimiters() {
	rateLimitStore = newMemStore()
	keyLimiterCache.Lock()
	keyLimiterCache.handlers = nil
	keyLimiterCache.Unlock()
}

func testKeyAuth() fiber.Handler {
	return keyauth.New(keyauth.Config{
		KeyLookup:  "header:X-API-Key",
		ContextKey: "api_key",
		Validator: func(c *fiber.Ctx, key string) (bool, error) {
			return u.ValidateAPIKey(key), nil
		},
		Next: func(c *fiber.Ctx) bool {
			return c.Get("X-API-Key") == ""
		},
	})
}

func clientRequest(key string) *http.Request {
	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set("User-Agent", "test-agent")
	req.RemoteAddr = "1.2.3.4:5678"
	if key != "" {
		req.Header.Set("X-API-Key", key)
	}
	return req
}

func expectStatus(t *testing.T, app *fiber.App, req *http.Request, want int) {
	t.Helper()
	resp, err := app.Test(req, -1)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	if resp.StatusCode != want {
		t.Fatalf("expected %d but got %d", want, resp.StatusCode)
	}
}

func TestKeyRateLimitMiddleware(t *testing.T) {
	key := "test-key"
	limit := 2

	u.LoadAPIKeysFromMap(map[string]int{key: limit})
	u.AppConfig.RateLimiter.Interval = time.Hour
	resetLimiters()

	app := fiber.New()
	app.Use(testKeyAuth())
	app.Use(keyRateLimitMiddleware())
	app.Get("/", func(c *fiber.Ctx) error { return c.SendString("ok") })

	for i := 0; i < limit; i++ {
		expectStatus(t, app, clientRequest(key), fiber.StatusOK)
	}
	expectStatus(t, app, clientRequest(key), fiber.StatusTooManyRequests)
}

func TestUserRateLimitMiddleware(t *testing.T) {
	cfg := u.Config{}
	cfg.RateLimiter.EnableUserLimiter = true
	cfg.RateLimiter.UserLimit = 2
	cfg.RateLimiter.Interval = time.Hour
	resetLimiters()

	app := fiber.New()
	app.Use(userRateLimitMiddleware(cfg))
	app.Get("/", func(c *fiber.Ctx) error { return c.SendString("ok") })

	for i := 0; i < 2; i++ {
		expectStatus(t, app, clientRequest(""), fiber.StatusOK)
	}
	expectStatus(t, app, clientRequest(""), fiber.StatusTooManyRequests)
}

func TestKeyBasedLimitOverridesUserBasedLimit(t *testing.T) {
	key := "test-key"
	// High key budget so only the client limiter could block.
	u.LoadAPIKeysFromMap(map[string]int{key: 100})
	u.AppConfig.RateLimiter.Interval = time.Hour
	resetLimiters()

	cfg := u.Config{}
	cfg.RateLimiter.EnableUserLimiter = true
	cfg.RateLimiter.UserLimit = 2
	cfg.RateLimiter.Interval = time.Hour

	app := fiber.New()
	app.Use(testKeyAuth())
	app.Use(keyRateLimitMiddleware())
	app.Use(userRateLimitMiddleware(cfg))
	app.Get("/", func(c *fiber.Ctx) error { return c.SendString("ok") })

	for i := 0; i < 2; i++ {
		expectStatus(t, app, clientRequest(""), fiber.StatusOK)
	}
	expectStatus(t, app, clientRequest(""), fiber.StatusTooManyRequests)

	// Same client with a key must not be blocked by the client limiter.
	expectStatus(t, app, clientRequest(key), fiber.StatusOK)
}

func TestUserRateLimitDisabled(t *testing.T) {
	resetLimiters()
	app := fiber.New()
	app.Use(userRateLimitMiddleware(u.Config{}))
	app.Get("/", func(c *fiber.Ctx) error { return c.SendString("ok") })

	for i := 0; i < 5; i++ {
		expectStatus(t, app, clientRequest(""), fiber.StatusOK)
	}
}
