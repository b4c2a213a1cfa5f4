package config

import (
	"context"
	"crypto/tls"
	"os"
	"time"

	"github.com/redis/go-redis/v9"
)

// redisOptions reads REDIS_URL, or REDIS_ADDR / REDIS_HOST+REDIS_PORT with
// REDIS_PASSWORD, REDIS_DB and REDIS_TLS. REDIS_POOL_SIZE applies to both.
func redisOptions() (*redis.Options, error) {
	var opts *redis.Options
	if u := os.Getenv("REDIS_URL"); u != "" {
		parsed, err := redis.ParseURL(u)
		if err != nil {
			return nil, err
		}
		opts = parsed
	} else {
		addr := getenv("REDIS_ADDR", "localhost:6379")
		if host, port := os.Getenv("REDIS_HOST"), os.Getenv("REDIS_PORT"); host != "" && port != "" {
			addr = host + ":" + port
		}
		opts = &redis.Options{
			Addr:     addr,
			Password: os.Getenv("REDIS_PASSWORD"),
			DB:       envInt("REDIS_DB", 0),
		}
		if envBool("REDIS_TLS", false) {
			opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
		}
	}
	opts.PoolSize = envInt("REDIS_POOL_SIZE", opts.PoolSize)
	return opts, nil
}

// NewRedisClient connects and pings Redis. It returns nil when the options
// are invalid or the server does not answer within two seconds; callers then
// run the response cache and rate limiter as pass-through.
func NewRedisClient(ctx context.Context) *redis.Client {
	opts, err := redisOptions()
	if err != nil {
		return nil
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil
	}
	return client
}
