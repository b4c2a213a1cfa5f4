package middleware

import (
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/redsquare/screen-booking/internal/config"
)

// bucketScript refills a bucket continuously at ARGV[3] tokens per ms and
// takes one token when it can. It returns {allowed, floor(tokens), wait_ms}.
var bucketScript = redis.NewScript(`
local now = tonumber(ARGV[1])
local cap = tonumber(ARGV[2])
local rate = tonumber(ARGV[3])
local ttl = tonumber(ARGV[4])

local b = redis.call('HMGET', KEYS[1], 'level', 'at')
local level = tonumber(b[1]) or cap
local at = tonumber(b[2]) or now
if now > at then
    level = math.min(cap, level + (now - at) * rate)
end

local ok, wait = 0, 0
if level >= 1 then
    ok = 1
    level = level - 1
else
    wait = math.ceil((1 - level) / rate)
end
redis.call('HSET', KEYS[1], 'level', tostring(level), 'at', now)
redis.call('EXPIRE', KEYS[1], ttl)
return { ok, math.floor(level), wait }
`)

// NewTokenBucket limits requests per key with a Redis token bucket holding
// cfg.Capacity tokens. Without Redis, or when Redis fails, requests pass:
// the limiter never takes the API down with it.
func NewTokenBucket(cfg config.RateLimitConfig, rdb *redis.Client, logger *zap.Logger) echo.MiddlewareFunc {
	if !cfg.Enabled || rdb == nil {
		return func(next echo.HandlerFunc) echo.HandlerFunc { return next }
	}
	perMs := float64(cfg.RefillTokens) / float64(cfg.RefillInterval.Milliseconds()+1)
	ttl := int64(cfg.TTL / time.Second)
	limit := strconv.Itoa(cfg.Capacity)

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			key := rateKey(cfg, c)
			res, err := bucketScript.Run(c.Request().Context(), rdb, []string{key},
				time.Now().UnixMilli(), cfg.Capacity, strconv.FormatFloat(perMs, 'g', -1, 64), ttl).Int64Slice()
			if err != nil || len(res) != 3 {
				logger.Warn("rate limiter unavailable", zap.String("key", key), zap.Error(err))
				return next(c)
			}

			h := c.Response().Header()
			h.Set("X-RateLimit-Limit", limit)
			h.Set("X-RateLimit-Remaining", strconv.FormatInt(res[1], 10))
			if res[0] == 1 {
				return next(c)
			}
			wait := int(math.Ceil(float64(res[2]) / 1000))
			h.Set("Retry-After", strconv.Itoa(wait))
			logger.Debug("rate limited", zap.String("key", key), zap.Int64("wait_ms", res[2]))
			return c.JSON(http.StatusTooManyRequests, echo.Map{"error": "too_many_requests", "retry_after": wait})
		}
	}
}

// rateKey joins the parts named by cfg.KeyStrategy, e.g. "ip_route", under
// cfg.Prefix. Unknown parts are ignored; an empty result keys by ip.
func rateKey(cfg config.RateLimitConfig, c echo.Context) string {
	parts := []string{cfg.Prefix}
	for _, p := range strings.Split(strings.ToLower(cfg.KeyStrategy), "_") {
		switch p {
		case "ip":
			parts = append(parts, "ip", c.RealIP())
		case "user":
			parts = append(parts, "who", subject(c))
		case "route":
			parts = append(parts, "route", c.Request().Method+" "+c.Path())
		}
	}
	if len(parts) == 1 {
		parts = append(parts, "ip", c.RealIP())
	}
	return strings.Join(parts, ":")
}

// subject identifies the caller: the device for players, the user for
// dashboard tokens, "anon" on public routes.
func subject(c echo.Context) string {
	if dev, ok := c.Get(CtxDeviceID).(string); ok && dev != "" {
		return "device-" + dev
	}
	switch v := c.Get(CtxUserID).(type) {
	case string:
		if v != "" {
			return "user-" + v
		}
	case float64:
		return "user-" + strconv.FormatUint(uint64(v), 10)
	case uint64:
		return "user-" + strconv.FormatUint(v, 10)
	}
	return "anon"
}
