package middleware

import (
	"bytes"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/afyatrack/afyatrack-api/internal/auth"
	"github.com/afyatrack/afyatrack-api/internal/config"
	"github.com/afyatrack/afyatrack-api/internal/model"
)

func newCtx(method, target string) (echo.Context, *httptest.ResponseRecorder) {
	e := echo.New()
	req := httptest.NewRequest(method, target, nil)
	rec := httptest.NewRecorder()
	return e.NewContext(req, rec), rec
}

func ok(c echo.Context) error { return c.String(http.StatusOK, "ok") }

type verifierFunc func(string) (model.Identity, error)

func (f verifierFunc) VerifyAccessToken(tok string) (model.Identity, error) { return f(tok) }

func TestJWTAuth(t *testing.T) {
	v := verifierFunc(func(tok string) (model.Identity, error) {
		switch tok {
		case "good":
			return model.Identity{UserID: 3, Role: model.RoleDoctor}, nil
		case "old":
			return model.Identity{}, auth.ErrExpiredToken
		}
		return model.Identity{}, auth.ErrInvalidToken
	})

	cases := []struct {
		name   string
		header string
		code   int
		body   string
	}{
		{"missing", "", http.StatusUnauthorized, "missing bearer token"},
		{"wrong scheme", "Basic abc", http.StatusUnauthorized, "missing bearer token"},
		{"empty token", "Bearer ", http.StatusUnauthorized, "missing bearer token"},
		{"invalid", "Bearer junk", http.StatusUnauthorized, "invalid token"},
		{"expired", "Bearer old", http.StatusUnauthorized, "token expired"},
		{"valid", "Bearer good", http.StatusOK, "ok"},
		{"lowercase scheme", "bearer good", http.StatusOK, "ok"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c, rec := newCtx(http.MethodGet, "/v1/me")
			if tc.header != "" {
				c.Request().Header.Set(echo.HeaderAuthorization, tc.header)
			}
			var seen model.Identity
			h := JWTAuth(v)(func(c echo.Context) error {
				seen, _ = IdentityFrom(c)
				return ok(c)
			})
			require.NoError(t, h(c))
			assert.Equal(t, tc.code, rec.Code)
			assert.Contains(t, rec.Body.String(), tc.body)
			if tc.code == http.StatusOK {
				assert.Equal(t, uint64(3), seen.UserID)
			}
		})
	}
}

func TestIdentityFrom_Missing(t *testing.T) {
	c, _ := newCtx(http.MethodGet, "/")
	_, found := IdentityFrom(c)
	assert.False(t, found)
	assert.Equal(t, "guest", userID(c))

	SetIdentity(c, model.Identity{UserID: 12, Role: model.RoleNurse})
	assert.Equal(t, "12", userID(c))
}

func TestRequestID(t *testing.T) {
	t.Run("generates", func(t *testing.T) {
		c, rec := newCtx(http.MethodGet, "/")
		require.NoError(t, RequestID()(ok)(c))
		assert.NotEmpty(t, rec.Header().Get(RequestIDHeader))
		assert.Equal(t, rec.Header().Get(RequestIDHeader), c.Get(requestIDKey))
	})

	t.Run("preserves", func(t *testing.T) {
		c, rec := newCtx(http.MethodGet, "/")
		c.Request().Header.Set(RequestIDHeader, "abc-123")
		require.NoError(t, RequestID()(ok)(c))
		assert.Equal(t, "abc-123", rec.Header().Get(RequestIDHeader))
	})
}

func TestRecovery(t *testing.T) {
	c, _ := newCtx(http.MethodGet, "/")
	h := Recovery(zerolog.Nop())(func(echo.Context) error { panic("boom") })

	err := h(c)
	var he *echo.HTTPError
	require.True(t, errors.As(err, &he))
	assert.Equal(t, http.StatusInternalServerError, he.Code)
}

func TestLogger_WritesLine(t *testing.T) {
	var buf bytes.Buffer
	c, rec := newCtx(http.MethodGet, "/healthz")
	c.Set(requestIDKey, "rid-1")

	h := Logger(zerolog.New(&buf))(func(echo.Context) error {
		return echo.NewHTTPError(http.StatusTeapot, "nope")
	})
	require.NoError(t, h(c))
	assert.Equal(t, http.StatusTeapot, rec.Code)
	assert.Contains(t, buf.String(), `"request_id":"rid-1"`)
	assert.Contains(t, buf.String(), `"status":418`)
}

func TestRateKey(t *testing.T) {
	c, _ := newCtx(http.MethodPost, "/v1/auth/login")
	c.SetPath("/v1/auth/login")
	c.Request().RemoteAddr = "192.0.2.1:5555"

	cfg := config.RateLimitConfig{Prefix: "rl", KeyStrategy: "ip_route"}
	assert.Equal(t, "rl:ip:192.0.2.1:route:POST /v1/auth/login", rateKey(cfg, c))

	SetIdentity(c, model.Identity{UserID: 4, Role: model.RoleDoctor})
	cfg.KeyStrategy = "user"
	assert.Equal(t, "rl:user:4", rateKey(cfg, c))
	cfg.KeyStrategy = ""
	assert.Equal(t, "rl:ip:192.0.2.1:user:4:route:POST /v1/auth/login", rateKey(cfg, c))
}

func unreachableRedis() *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 50 * time.Millisecond,
		MaxRetries:  -1,
	})
}

func TestRateLimit_FailsOpen(t *testing.T) {
	cfg := config.RateLimitConfig{Enabled: true, Capacity: 1, RefillTokens: 1, RefillInterval: time.Second, TTL: time.Minute, Prefix: "rl"}

	for name, rdb := range map[string]*redis.Client{"nil client": nil, "redis down": unreachableRedis()} {
		t.Run(name, func(t *testing.T) {
			c, rec := newCtx(http.MethodGet, "/")
			require.NoError(t, RateLimit(cfg, rdb, zerolog.Nop())(ok)(c))
			assert.Equal(t, http.StatusOK, rec.Code)
		})
	}
}

func TestResponseCache_Bypass(t *testing.T) {
	cfg := config.CacheConfig{Enabled: true, Methods: map[string]bool{"GET": true}, Prefix: "c", MaxBodyBytes: 1024}
	rdb := unreachableRedis()

	t.Run("anonymous", func(t *testing.T) {
		c, rec := newCtx(http.MethodGet, "/v1/stats")
		require.NoError(t, ResponseCache(cfg, rdb)(ok)(c))
		assert.Equal(t, "ok", rec.Body.String())
		assert.Empty(t, rec.Header().Get("X-Cache"))
	})

	t.Run("redis down still serves", func(t *testing.T) {
		c, rec := newCtx(http.MethodGet, "/v1/stats")
		SetIdentity(c, model.Identity{UserID: 1, Role: model.RoleAdmin})
		require.NoError(t, ResponseCache(cfg, rdb)(ok)(c))
		assert.Equal(t, "ok", rec.Body.String())
		assert.Equal(t, "MISS", rec.Header().Get("X-Cache"))
	})
}

func TestCacheKey_PerUser(t *testing.T) {
	cfg := config.CacheConfig{Prefix: "c"}
	a, _ := newCtx(http.MethodGet, "/v1/stats?x=1")
	b, _ := newCtx(http.MethodGet, "/v1/stats?x=1")
	SetIdentity(a, model.Identity{UserID: 1, Role: model.RoleDoctor})
	SetIdentity(b, model.Identity{UserID: 2, Role: model.RoleDoctor})
	assert.NotEqual(t, cacheKey(cfg, a), cacheKey(cfg, b))

	c, _ := newCtx(http.MethodGet, "/v1/stats?x=2")
	SetIdentity(c, model.Identity{UserID: 1, Role: model.RoleDoctor})
	assert.NotEqual(t, cacheKey(cfg, a), cacheKey(cfg, c))
}

func TestCaptureWriter_Truncates(t *testing.T) {
	rec := httptest.NewRecorder()
	cw := &captureWriter{ResponseWriter: rec, limit: 4}
	_, _ = cw.Write([]byte("abc"))
	_, _ = cw.Write([]byte("defg"))
	assert.True(t, cw.truncated)
	assert.Equal(t, "abcdefg", rec.Body.String())
}
