package app

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	u "kdocs2pdf/internal/utils"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/keyauth"
)

func TestTokenBasedLimitOverridesUserBasedLimit(t *testing.T) {
	userLimit := 2
	token := "test-token"

	// Set a high token limit so only the user limiter would block if it were applied.
	tokens := u.NewTokenStore("", 0)
	tokens.Replace(map[string]int{token: 100})

	// Shared store for both limiters to reproduce the real middleware chain.
	limits := newLimiters(newMemStore(), time.Hour)

	app := fiber.New()
	app.Use(keyauth.New(keyauth.Config{
		KeyLookup:  "header:" + apiKeyHeader,
		ContextKey: apiKeyLocal,
		Validator: func(c *fiber.Ctx, key string) (bool, error) {
			return tokens.Validate(key), nil
		},
		// Allow anonymous requests to hit the user limiter.
		Next: func(c *fiber.Ctx) bool {
			return c.Get(apiKeyHeader) == ""
		},
	}))
	app.Use(limits.tokenRateLimit(tokens))
	app.Use(limits.userRateLimit(userLimit))
	app.Get("/", func(c *fiber.Ctx) error { return c.SendString("ok") })

	makeReq := func(withToken bool) *http.Request {
		req := httptest.NewRequest("GET", "/", nil)
		req.Header.Set("User-Agent", "test-agent")
		req.RemoteAddr = "1.2.3.4:5678"
		if withToken {
			req.Header.Set(apiKeyHeader, token)
		}
		return req
	}

	// Exhaust anonymous user limit.
	for i := 0; i < userLimit; i++ {
		resp, err := app.Test(makeReq(false), -1)
		if err != nil {
			t.Fatalf("anonymous request %d failed: %v", i+1, err)
		}
		if resp.StatusCode != fiber.StatusOK {
			t.Fatalf("expected 200 but got %d", resp.StatusCode)
		}
	}
	resp, err := app.Test(makeReq(false), -1)
	if err != nil {
		t.Fatalf("anonymous exceed request failed: %v", err)
	}
	if resp.StatusCode != fiber.StatusTooManyRequests {
		t.Fatalf("expected 429 but got %d", resp.StatusCode)
	}

	// Now authenticate via token: this must NOT be blocked by the user limiter.
	resp, err = app.Test(makeReq(true), -1)
	if err != nil {
		t.Fatalf("token request failed: %v", err)
	}
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("expected 200 for token request but got %d", resp.StatusCode)
	}
}
