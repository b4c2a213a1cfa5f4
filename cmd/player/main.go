// Command player runs on a screen device. It keeps the screen's content
// schedule fresh, caches the media locally and decides what plays.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/redsquare/screen-booking/internal/config"
	"github.com/redsquare/screen-booking/internal/logging"
	"github.com/redsquare/screen-booking/internal/playback"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.LoadPlayerConfig()
	if err != nil {
		return err
	}
	logger, err := logging.New(cfg.Env)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()
	logger = logger.With(zap.Uint64("screen_id", cfg.ScreenID))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client := playback.NewClient(cfg.APIBase, cfg.DeviceToken, cfg.HTTPTimeout)
	cache, err := playback.NewContentCache(cfg.CacheMaxItems, cfg.CacheMaxBytes, logger.Named("cache"))
	if err != nil {
		return err
	}
	sched, err := playback.NewScheduler(playback.Options{
		Sync:    client,
		Signer:  client,
		Fetcher: client,
		Cache:   cache,
		Dir:     cfg.CacheDir,
		Logger:  logger.Named("scheduler"),
	})
	if err != nil {
		return err
	}

	agent := playback.NewAgent(playback.AgentConfig{
		ScreenID:       cfg.ScreenID,
		RefreshEvery:   cfg.RefreshEvery,
		TickEvery:      cfg.TickEvery,
		HeartbeatEvery: cfg.HeartbeatEvery,
		AppVersion:     cfg.AppVersion,
		PushURL:        fmt.Sprintf("%s/v1/screens/%d/ws", client.Base(), cfg.ScreenID),
		Token:          client.Token(),
	}, sched, client, logger)
	return agent.Run(ctx)
}
