package app

import (
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"

	u "kdocs2pdf/internal/utils"

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

const (
	apiKeyHeader = "X-API-KEY"
	apiKeyLocal  = "api_key"
)

// limiters shares one storage between the per-token and per-client limiters
// and caches one token limiter per distinct limit.
type limiters struct {
	store    fiber.Storage
	interval time.Duration

	mu       sync.RWMutex
	handlers map[int]fiber.Handler
}

func newLimiters(store fiber.Storage, interval time.Duration) *limiters {
	return &limiters{store: store, interval: interval, handlers: make(map[int]fiber.Handler)}
}

// NewRateLimitStore connects the limiter storage to Redis, falling back to
// memory when no host is configured or Redis is unreachable.
func NewRateLimitStore(cfg u.CacheConfig) (store fiber.Storage) {
	if cfg.RedisHost == "" {
		u.Info("Using memory for rate limiting")
		return memoryStorage.New()
	}

	defer func() {
		if r := recover(); r != nil {
			u.Error("Redis limiter store init panicked, falling back to memory", "panic", r)
			store = memoryStorage.New()
		}
	}()
	store = redisStorage.New(redisStorage.Config{
		Addrs:    []string{cfg.RedisHost},
		Database: cfg.RateLimitDB,
	})
	u.Info("Using Redis for rate limiting", "addr", cfg.RedisHost, "db", cfg.RateLimitDB)
	return store
}

func tooManyRequests(c *fiber.Ctx) error {
	return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{"error": "Too Many Requests"})
}

// getTokenLimiter returns a cached limiter for the given token limit, creating one if needed.
func (l *limiters) getTokenLimiter(limit int) fiber.Handler {
	l.mu.RLock()
	h, ok := l.handlers[limit]
	l.mu.RUnlock()
	if ok {
		return h
	}

	h = limiter.New(limiter.Config{
		Max:               limit,
		Expiration:        l.interval,
		LimiterMiddleware: limiter.SlidingWindow{},
		Storage:           l.store,
		KeyGenerator: func(c *fiber.Ctx) string {
			token, _ := c.Locals(apiKeyLocal).(string)
			return "token:" + token
		},
		LimitReached: func(c *fiber.Ctx) error {
			u.Warn("Rate limit exceeded", "path", c.Path(), "request_id", c.GetRespHeader(fiber.HeaderXRequestID))
			return tooManyRequests(c)
		},
	})

	l.mu.Lock()
	if existing, ok := l.handlers[limit]; ok {
		h = existing
	} else {
		l.handlers[limit] = h
	}
	l.mu.Unlock()

	return h
}

// tokenRateLimit applies the authenticated token's own limit. A limit of 0
// means unlimited.
func (l *limiters) tokenRateLimit(tokens *u.TokenStore) fiber.Handler {
	return func(c *fiber.Ctx) error {
		token, ok := c.Locals(apiKeyLocal).(string)
		if !ok || token == "" {
			return c.Next()
		}
		limit := tokens.RateLimit(token)
		if limit <= 0 {
			return c.Next()
		}
		return l.getTokenLimiter(limit)(c)
	}
}

func clientKey(c *fiber.Ctx) string {
	sum := sha256.Sum256([]byte(c.IP() + c.Get(fiber.HeaderUserAgent)))
	return hex.EncodeToString(sum[:])
}

// userRateLimit limits requests per client (IP plus User-Agent).
// Authenticated requests are left to the token limiter.
func (l *limiters) userRateLimit(limit int) fiber.Handler {
	if limit <= 0 {
		return func(c *fiber.Ctx) error {
			return c.Next()
		}
	}
	userLimiter := limiter.New(limiter.Config{
		Max:               limit,
		Expiration:        l.interval,
		LimiterMiddleware: limiter.SlidingWindow{},
		Storage:           l.store,
		KeyGenerator: func(c *fiber.Ctx) string {
			return "user:" + clientKey(c)
		},
		LimitReached: func(c *fiber.Ctx) error {
			u.Warn("Rate limit exceeded", "user", clientKey(c), "path", c.Path())
			return tooManyRequests(c)
		},
	})
	return func(c *fiber.Ctx) error {
		if token, ok := c.Locals(apiKeyLocal).(string); ok && token != "" {
			return c.Next()
		}
		return userLimiter(c)
	}
}

// apiKeyAuth requires a valid X-API-KEY header.
func apiKeyAuth(tokens *u.TokenStore) fiber.Handler {
	return keyauth.New(keyauth.Config{
		KeyLookup:  "header:" + apiKeyHeader,
		ContextKey: apiKeyLocal,
		Validator: func(c *fiber.Ctx, key string) (bool, error) {
			if !tokens.Validate(key) {
				return false, keyauth.ErrMissingOrMalformedAPIKey
			}
			return true, nil
		},
		// Keyauth can call ErrorHandler with a nil error.
		ErrorHandler: func(c *fiber.Ctx, _ error) error {
			u.Warn("Unauthorized request", "path", c.Path(), "request_id", c.GetRespHeader(fiber.HeaderXRequestID))
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Unauthorized"})
		},
	})
}

// RegisterMiddleware attaches global middleware to the app
func RegisterMiddleware(app *fiber.App) {
	app.Use(cors.New())

	app.Use(requestid.New(requestid.Config{
		Generator: func() string {
			return xid.New().String()
		},
	}))

	app.Use(healthcheck.New(healthcheck.Config{
		LivenessEndpoint:  "/health",
		ReadinessEndpoint: "/ready",
	}))

	app.Use(func(c *fiber.Ctx) error {
		requestID := c.Get(fiber.HeaderXRequestID)
		if requestID == "" {
			requestID = c.GetRespHeader(fiber.HeaderXRequestID)
		}
		u.Info("Incoming request", "method", c.Method(), "path", c.Path(), "request_id", requestID)
		return c.Next()
	})
}
