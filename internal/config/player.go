package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// PlayerConfig configures the screen player agent.
type PlayerConfig struct {
	Env         string
	APIBase     string // base URL of the API server
	ScreenID    uint64
	DeviceToken string // issued by POST /v1/devices/pair

	CacheDir      string
	CacheMaxBytes int64 // byte budget of the local content cache
	CacheMaxItems int

	RefreshEvery   time.Duration // schedule refetch + cache fill
	TickEvery      time.Duration // playback decision
	HeartbeatEvery time.Duration
	HTTPTimeout    time.Duration
	AppVersion     string
}

// LoadPlayerConfig reads PLAYER_* variables.
func LoadPlayerConfig() (PlayerConfig, error) {
	_ = godotenv.Load()

	cfg := PlayerConfig{
		Env:            getenv("APP_ENV", "prod"),
		APIBase:        strings.TrimRight(getenv("PLAYER_API_BASE", "http://localhost:8080"), "/"),
		DeviceToken:    os.Getenv("PLAYER_DEVICE_TOKEN"),
		CacheDir:       getenv("PLAYER_CACHE_DIR", "./player-cache"),
		CacheMaxBytes:  envInt64("PLAYER_CACHE_MAX_BYTES", 2<<30),
		CacheMaxItems:  envInt("PLAYER_CACHE_MAX_ITEMS", 4096),
		RefreshEvery:   envDur("PLAYER_REFRESH_EVERY", time.Minute),
		TickEvery:      envDur("PLAYER_TICK_EVERY", time.Second),
		HeartbeatEvery: envDur("PLAYER_HEARTBEAT_EVERY", 30*time.Second),
		HTTPTimeout:    envDur("PLAYER_HTTP_TIMEOUT", 30*time.Second),
		AppVersion:     getenv("PLAYER_APP_VERSION", "dev"),
	}

	raw := os.Getenv("PLAYER_SCREEN_ID")
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil || id == 0 {
		return PlayerConfig{}, fmt.Errorf("invalid PLAYER_SCREEN_ID: %q", raw)
	}
	cfg.ScreenID = id
	if cfg.DeviceToken == "" {
		return PlayerConfig{}, fmt.Errorf("missing required env var: PLAYER_DEVICE_TOKEN")
	}
	return cfg, nil
}
