package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"

	"github.com/redsquare/screen-booking/internal/availability"
	"github.com/redsquare/screen-booking/internal/config"
	"github.com/redsquare/screen-booking/internal/database"
	"github.com/redsquare/screen-booking/internal/handler"
	"github.com/redsquare/screen-booking/internal/logging"
	"github.com/redsquare/screen-booking/internal/middleware"
	"github.com/redsquare/screen-booking/internal/queue"
	"github.com/redsquare/screen-booking/internal/repository"
	"github.com/redsquare/screen-booking/internal/router"
	"github.com/redsquare/screen-booking/internal/service"
	"github.com/redsquare/screen-booking/internal/storage"
	"github.com/redsquare/screen-booking/internal/websocket"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger, err := logging.New(cfg.Env)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := database.Open(ctx, cfg.DBUser, cfg.DBPass, cfg.DBHost, cfg.DBPort, cfg.DBName)
	if err != nil {
		return err
	}
	defer db.Close()
	if err := database.Migrate(ctx, db, logger); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}

	rdb := config.NewRedisClient(ctx)
	if rdb == nil {
		logger.Warn("redis unavailable; response cache and rate limiting disabled")
	} else {
		defer rdb.Close()
	}
	cacheCfg := config.LoadCacheConfig()
	rateCfg := config.LoadRateLimitConfig()

	screens := repository.NewScreenRepo(db)
	bookings := repository.NewBookingRepo(db)
	contents := repository.NewContentRepo(db)
	devices := repository.NewDeviceRepo(db)

	engine := availability.NewEngine(screens, bookings)
	hub := websocket.NewHub(logger.Named("push"))
	publisher := service.NewRabbitPublisher(cfg.RabbitURL, logger.Named("publisher"))
	signer := storage.NewSigner(cfg.StorageSecret, cfg.PublicBaseURL)

	go func() {
		err := queue.StartBookingConsumer(ctx, cfg.RabbitURL, notifyScreen(hub), logger.Named("consumer"))
		if err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("booking consumer stopped", zap.Error(err))
		}
	}()

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Debug = cfg.IsDev()
	e.Use(echomw.Recover())
	e.Use(middleware.RequestLogger(logger.Named("http")))

	limit := middleware.NewTokenBucket(rateCfg, rdb, logger.Named("ratelimit"))
	router.RegisterRoutes(e, db)
	router.RegisterAvailability(e,
		handler.NewAvailabilityHandler(engine, logger),
		middleware.NewRedisCache(cacheCfg, rdb, logger.Named("cache")),
		limit,
	)
	router.RegisterBooking(e,
		handler.NewBookingHandler(screens, bookings, engine, publisher,
			middleware.NewCacheInvalidator(cacheCfg, rdb), cfg.StrictWindow, logger),
		cfg.JWTSecret,
	)
	router.RegisterScreen(e, router.ScreenHandlers{
		Content: handler.NewContentHandler(screens, bookings, contents, hub, logger),
		Storage: handler.NewStorageHandler(signer, storage.NewStore(cfg.MediaRoot), contents, logger),
		Device:  handler.NewDeviceHandler(screens, devices, cfg.JWTSecret, cfg.DeviceTokenTTL, cfg.PairingCodeTTL, cfg.BcryptCost, logger),
		Push:    handler.NewPushHandler(hub, devices, logger),
	}, cfg.JWTSecret, limit)

	addr := ":" + cfg.Port
	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", zap.String("addr", addr), zap.String("env", cfg.Env))
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return e.Shutdown(shutdownCtx)
}

// notifyScreen turns confirmed bookings into schedule.updated pushes so the
// booked screen's player refetches right away.
func notifyScreen(hub *websocket.Hub) queue.BookingHandler {
	return func(ctx context.Context, ev queue.BookingConfirmedEvent) error {
		bookingID := ev.BookingID
		msg, err := websocket.NewMessage(websocket.TypeScheduleUpdated, websocket.ScheduleUpdatedPayload{
			ScreenID:  ev.ScreenID,
			Reason:    "booking_confirmed",
			BookingID: &bookingID,
		})
		if err != nil {
			return err
		}
		hub.Notify(ev.ScreenID, msg)
		return nil
	}
}
