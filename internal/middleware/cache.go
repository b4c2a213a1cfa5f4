package middleware

import (
	"bytes"
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/redsquare/screen-booking/internal/config"
)

// cachedResponse is what a cache entry holds.
type cachedResponse struct {
	Status      int    `json:"s"`
	ContentType string `json:"ct"`
	Body        []byte `json:"b"`
}

// bodyRecorder tees the response body into buf until it exceeds max bytes;
// past that the entry is marked overflowed and is not stored.
type bodyRecorder struct {
	http.ResponseWriter
	status     int
	buf        bytes.Buffer
	max        int
	overflowed bool
}

func (r *bodyRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *bodyRecorder) Write(b []byte) (int, error) {
	if !r.overflowed {
		if r.max > 0 && r.buf.Len()+len(b) > r.max {
			r.overflowed = true
			r.buf.Reset()
		} else {
			r.buf.Write(b)
		}
	}
	return r.ResponseWriter.Write(b)
}

func screenScope(prefix, screenID string) string {
	return prefix + ":screen:" + screenID
}

// cacheKey is "{prefix}:screen:{id}:{sha1}" on screen routes and
// "{prefix}:global:{sha1}" elsewhere. cfg.KeyStrategy lists the request
// parts hashed into the key, e.g. "route_query" or "method_route".
func cacheKey(cfg config.CacheConfig, c echo.Context) string {
	r := c.Request()
	strategy := cfg.KeyStrategy
	if strategy == "" {
		strategy = "route_query"
	}
	h := sha1.New()
	for _, p := range strings.Split(strings.ToLower(strategy), "_") {
		switch p {
		case "method":
			h.Write([]byte("m=" + r.Method + "\n"))
		case "route":
			h.Write([]byte("r=" + c.Path() + "\n"))
		case "query":
			// Encode sorts by key so ?a=1&b=2 and ?b=2&a=1 share an entry
			h.Write([]byte("q=" + r.URL.Query().Encode() + "\n"))
		}
	}
	sum := hex.EncodeToString(h.Sum(nil))
	if id := c.Param("id"); id != "" {
		return screenScope(cfg.Prefix, id) + ":" + sum
	}
	return cfg.Prefix + ":global:" + sum
}

// NewRedisCache serves repeated reads from Redis. Only 200 responses whose
// body fits cfg.MaxBodyBytes are stored. It passes through when caching is
// disabled or rdb is nil.
func NewRedisCache(cfg config.CacheConfig, rdb *redis.Client, logger *zap.Logger) echo.MiddlewareFunc {
	if !cfg.Enabled || rdb == nil {
		return func(next echo.HandlerFunc) echo.HandlerFunc { return next }
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = 30 * time.Second
	}

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if !cfg.Methods[strings.ToUpper(c.Request().Method)] {
				return next(c)
			}
			ctx := c.Request().Context()
			key := cacheKey(cfg, c)

			raw, err := rdb.Get(ctx, key).Bytes()
			switch {
			case err == nil:
				var hit cachedResponse
				if json.Unmarshal(raw, &hit) == nil {
					c.Response().Header().Set("X-Cache", "HIT")
					return c.Blob(hit.Status, hit.ContentType, hit.Body)
				}
				logger.Warn("dropping undecodable cache entry", zap.String("key", key))
			case !errors.Is(err, redis.Nil):
				logger.Warn("cache read failed", zap.String("key", key), zap.Error(err))
			}

			rec := &bodyRecorder{ResponseWriter: c.Response().Writer, status: http.StatusOK, max: cfg.MaxBodyBytes}
			c.Response().Writer = rec
			c.Response().Header().Set("X-Cache", "MISS")
			if err := next(c); err != nil {
				return err
			}
			if rec.status != http.StatusOK || rec.overflowed {
				return nil
			}
			entry, err := json.Marshal(cachedResponse{
				Status:      rec.status,
				ContentType: c.Response().Header().Get(echo.HeaderContentType),
				Body:        rec.buf.Bytes(),
			})
			if err != nil {
				return nil
			}
			if err := rdb.Set(context.WithoutCancel(ctx), key, entry, ttl).Err(); err != nil {
				logger.Warn("cache write failed", zap.String("key", key), zap.Error(err))
			}
			return nil
		}
	}
}

// CacheInvalidator drops cached responses after writes.
type CacheInvalidator struct {
	rdb    *redis.Client
	prefix string
}

// NewCacheInvalidator returns nil when caching is off; a nil invalidator is
// a no-op.
func NewCacheInvalidator(cfg config.CacheConfig, rdb *redis.Client) *CacheInvalidator {
	if rdb == nil || !cfg.Enabled {
		return nil
	}
	return &CacheInvalidator{rdb: rdb, prefix: cfg.Prefix}
}

// InvalidateScreen deletes every cached response of screenID and returns
// how many keys were removed.
func (i *CacheInvalidator) InvalidateScreen(ctx context.Context, screenID uint64) (int, error) {
	if i == nil {
		return 0, nil
	}
	iter := i.rdb.Scan(ctx, 0, screenScope(i.prefix, strconv.FormatUint(screenID, 10))+":*", 100).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return 0, err
	}
	if len(keys) == 0 {
		return 0, nil
	}
	n, err := i.rdb.Unlink(ctx, keys...).Result()
	return int(n), err
}
