package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/redsquare/screen-booking/internal/config"
	"github.com/redsquare/screen-booking/internal/utils"
)

func newRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return mr, rdb
}

func do(e *echo.Echo, method, target, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestRedisCache_HitAfterMissAndInvalidation(t *testing.T) {
	_, rdb := newRedis(t)
	cfg := config.CacheConfig{Enabled: true, Methods: map[string]bool{"GET": true}, TTL: time.Minute, Prefix: "test:cache", MaxBodyBytes: 1 << 16}

	calls := 0
	e := echo.New()
	e.GET("/v1/screens/:id/availability", func(c echo.Context) error {
		calls++
		return c.JSON(http.StatusOK, echo.Map{"screen": c.Param("id"), "calls": calls})
	}, NewRedisCache(cfg, rdb, zap.NewNop()))

	first := do(e, http.MethodGet, "/v1/screens/1/availability?date=2025-03-01", "")
	if first.Header().Get("X-Cache") != "MISS" {
		t.Fatalf("expected MISS, got %q", first.Header().Get("X-Cache"))
	}
	second := do(e, http.MethodGet, "/v1/screens/1/availability?date=2025-03-01", "")
	if second.Header().Get("X-Cache") != "HIT" || second.Body.String() != first.Body.String() {
		t.Fatalf("expected identical HIT, got %q %s", second.Header().Get("X-Cache"), second.Body.String())
	}
	if other := do(e, http.MethodGet, "/v1/screens/1/availability?date=2025-03-02", ""); other.Header().Get("X-Cache") != "MISS" {
		t.Fatalf("expected another date to miss")
	}
	if calls != 2 {
		t.Fatalf("expected handler to run twice, ran %d times", calls)
	}

	n, err := NewCacheInvalidator(cfg, rdb).InvalidateScreen(context.Background(), 1)
	if err != nil || n != 2 {
		t.Fatalf("expected 2 keys invalidated, got %d err=%v", n, err)
	}
	if again := do(e, http.MethodGet, "/v1/screens/1/availability?date=2025-03-01", ""); again.Header().Get("X-Cache") != "MISS" {
		t.Fatalf("expected MISS after invalidation")
	}
}

func TestRedisCache_DoesNotStoreErrors(t *testing.T) {
	_, rdb := newRedis(t)
	cfg := config.CacheConfig{Enabled: true, Methods: map[string]bool{"GET": true}, TTL: time.Minute, Prefix: "test:cache"}
	e := echo.New()
	e.GET("/v1/screens/:id/availability", func(c echo.Context) error {
		return c.JSON(http.StatusNotFound, echo.Map{"error": "screen not found"})
	}, NewRedisCache(cfg, rdb, zap.NewNop()))

	do(e, http.MethodGet, "/v1/screens/9/availability?date=2025-03-01", "")
	if rec := do(e, http.MethodGet, "/v1/screens/9/availability?date=2025-03-01", ""); rec.Header().Get("X-Cache") != "MISS" {
		t.Fatalf("404 responses must not be cached")
	}
}

func TestTokenBucket_Blocks(t *testing.T) {
	_, rdb := newRedis(t)
	cfg := config.RateLimitConfig{Enabled: true, Capacity: 2, RefillTokens: 1, RefillInterval: time.Hour, TTL: 2 * time.Hour, KeyStrategy: "ip", Prefix: "test:rl"}
	e := echo.New()
	e.GET("/ping", func(c echo.Context) error { return c.String(http.StatusOK, "pong") }, NewTokenBucket(cfg, rdb, zap.NewNop()))

	for i := 0; i < 2; i++ {
		if rec := do(e, http.MethodGet, "/ping", ""); rec.Code != http.StatusOK {
			t.Fatalf("request %d: expected 200, got %d", i, rec.Code)
		}
	}
	rec := do(e, http.MethodGet, "/ping", "")
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Fatalf("expected Retry-After header")
	}
}

func TestTokenBucket_PassesWithoutRedis(t *testing.T) {
	e := echo.New()
	e.GET("/ping", func(c echo.Context) error { return c.String(http.StatusOK, "pong") },
		NewTokenBucket(config.RateLimitConfig{Enabled: true, Capacity: 1}, nil, zap.NewNop()))
	for i := 0; i < 3; i++ {
		if rec := do(e, http.MethodGet, "/ping", ""); rec.Code != http.StatusOK {
			t.Fatalf("expected pass-through, got %d", rec.Code)
		}
	}
}

func userToken(t *testing.T, secret string, sub any, role string) string {
	t.Helper()
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": sub, "role": role, "exp": time.Now().Add(time.Hour).Unix(),
	}).SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return tok
}

func TestJWTAuthAndRequireRole(t *testing.T) {
	const secret = "s3cret"
	e := echo.New()
	g := e.Group("/v1", JWTAuth(secret))
	g.GET("/owner", func(c echo.Context) error {
		return c.JSON(http.StatusOK, echo.Map{"user": c.Get(CtxUserID)})
	}, RequireRole("OWNER"))
	g.GET("/screen", func(c echo.Context) error {
		return c.JSON(http.StatusOK, echo.Map{"screen": c.Get(CtxScreenID), "device": c.Get(CtxDeviceID)})
	}, RequireRole(utils.RoleScreen))

	if rec := do(e, http.MethodGet, "/v1/owner", ""); rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", rec.Code)
	}
	if rec := do(e, http.MethodGet, "/v1/owner", "garbage"); rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for malformed token, got %d", rec.Code)
	}
	if rec := do(e, http.MethodGet, "/v1/owner", userToken(t, secret, "7", "OWNER")); rec.Code != http.StatusOK {
		t.Fatalf("expected 200 for owner, got %d", rec.Code)
	}
	if rec := do(e, http.MethodGet, "/v1/owner", userToken(t, secret, "8", "ADVERTISER")); rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for advertiser, got %d", rec.Code)
	}

	dev, err := utils.NewDeviceToken(secret, "dev-1", 3, time.Hour)
	if err != nil {
		t.Fatalf("NewDeviceToken: %v", err)
	}
	rec := do(e, http.MethodGet, "/v1/screen", dev.Token)
	if rec.Code != http.StatusOK || rec.Body.String() != "{\"device\":\"dev-1\",\"screen\":3}\n" {
		t.Fatalf("unexpected device response %d %s", rec.Code, rec.Body.String())
	}
	if rec := do(e, http.MethodGet, "/v1/owner", dev.Token); rec.Code != http.StatusForbidden {
		t.Fatalf("expected device token to be refused on owner routes, got %d", rec.Code)
	}
}

func TestRequestLogger_SetsRequestID(t *testing.T) {
	e := echo.New()
	e.Use(RequestLogger(zap.NewNop()))
	e.GET("/healthz", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })

	rec := do(e, http.MethodGet, "/healthz", "")
	if rec.Header().Get(headerRequestID) == "" {
		t.Fatalf("expected a generated request id")
	}
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set(headerRequestID, "abc")
	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	if rec.Header().Get(headerRequestID) != "abc" {
		t.Fatalf("expected client request id to be kept")
	}
}
