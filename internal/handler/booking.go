package handler

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/redsquare/screen-booking/internal/availability"
	"github.com/redsquare/screen-booking/internal/model"
	"github.com/redsquare/screen-booking/internal/queue"
	"github.com/redsquare/screen-booking/internal/repository"
	"github.com/redsquare/screen-booking/internal/service"
)

// CacheInvalidator drops cached availability responses of a screen.
type CacheInvalidator interface {
	InvalidateScreen(ctx context.Context, screenID uint64) (int, error)
}

// BookingHandler creates, confirms and cancels bookings. State changes run
// in a transaction; confirmation re-checks the day's slots under row locks
// so two confirmations cannot take the same hour.
type BookingHandler struct {
	// Screens resolves screen ownership and the window used for re-checks.
	Screens *repository.ScreenRepo
	// Bookings owns the transactions; every state change goes through it.
	Bookings *repository.BookingRepo
	// Engine computes the day's slots for new requests.
	Engine *availability.Engine
	// Publisher announces confirmed bookings to the notification consumers.
	Publisher service.BookingPublisher
	// Cache drops cached availability after a change. Optional.
	Cache CacheInvalidator
	// StrictWindow refuses hours outside the screen's operating window
	// instead of only reporting them.
	StrictWindow bool
	Logger       *zap.Logger
	// Now stamps created_at and updated_at in responses. Tests replace it.
	Now func() time.Time
}

func NewBookingHandler(screens *repository.ScreenRepo, bookings *repository.BookingRepo, engine *availability.Engine,
	publisher service.BookingPublisher, cache CacheInvalidator, strictWindow bool, logger *zap.Logger) *BookingHandler {
	if screens == nil || bookings == nil || engine == nil || publisher == nil {
		panic("nil dependency passed to NewBookingHandler")
	}
	return &BookingHandler{
		Screens:      screens,
		Bookings:     bookings,
		Engine:       engine,
		Publisher:    publisher,
		Cache:        cache,
		StrictWindow: strictWindow,
		Logger:       logger,
		Now:          time.Now,
	}
}

// Create handles POST /v1/screens/:id/bookings. The booking starts out
// pending and does not hold its hours until confirmed, but a request for
// hours that are already taken is refused with 409.
func (h *BookingHandler) Create(c echo.Context) error {
	userID, err := getUserID(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	screenID, ok := parseID(c, "id")
	if !ok {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid screen id"})
	}
	var body checkRequest
	if err := c.Bind(&body); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}
	ctx := c.Request().Context()

	// Work out the day's slots and check the requested hours against them
	// before anything is written.
	day, err := h.Engine.DaySlots(ctx, screenID, body.Date)
	switch {
	case errors.Is(err, availability.ErrScreenNotFound):
		return c.JSON(http.StatusNotFound, echo.Map{"error": "screen not found"})
	case errors.Is(err, availability.ErrInvalidDate):
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "date must be YYYY-MM-DD"})
	case err != nil:
		h.Logger.Error("compute availability", zap.Uint64("screen_id", screenID), zap.Error(err))
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "database error"})
	}
	res, err := availability.Check(day, body.StartTime, body.DurationHours)
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": err.Error()})
	}
	if res.Conflict {
		return c.JSON(http.StatusConflict, echo.Map{"error": "requested hours are already booked"})
	}
	if h.StrictWindow && len(res.OutsideWindow) > 0 {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "requested hours are outside the screen's availability", "hours": res.OutsideWindow})
	}

	// A pending booking is inserted on its own; it does not take the hours
	// until Confirm re-checks them under lock.
	b := &model.Booking{
		ScreenID:           screenID,
		AdvertiserID:       userID,
		ScheduledDate:      day.Date,
		ScheduledStartTime: body.StartTime,
		ScheduledEndTime:   res.EndTime,
		Status:             model.BookingPending,
		TotalPrice:         availability.Quote(day.Screen.PricePerHour, body.DurationHours),
	}
	tx, err := h.Bookings.DB().BeginTx(ctx, nil)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "database error"})
	}
	defer func() { _ = tx.Rollback() }()
	if err := h.Bookings.CreateTx(ctx, tx, b); err != nil {
		h.Logger.Error("insert booking", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "database error"})
	}
	if err := tx.Commit(); err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "database error"})
	}
	b.CreatedAt = h.Now().UTC()
	b.UpdatedAt = b.CreatedAt
	h.Logger.Info("booking created", zap.Uint64("booking_id", b.ID), zap.Uint64("screen_id", screenID),
		zap.String("date", b.ScheduledDate), zap.String("start", b.ScheduledStartTime), zap.String("end", b.ScheduledEndTime))
	return c.JSON(http.StatusCreated, b)
}

// authorize checks that the caller may act on b: the advertiser who made it
// or the owner of its screen.
func (h *BookingHandler) authorize(ctx context.Context, c echo.Context, b *model.Booking) error {
	userID, err := getUserID(c)
	if err != nil {
		return repository.ErrForbidden
	}
	switch getRole(c) {
	case RoleAdvertiser:
		if b.AdvertiserID == userID {
			return nil
		}
	case RoleOwner:
		owns, err := h.Screens.OwnedBy(ctx, b.ScreenID, userID)
		if err != nil {
			return err
		}
		if owns {
			return nil
		}
	}
	return repository.ErrForbidden
}

// Confirm handles POST /v1/bookings/:id/confirm. The day's occupying
// bookings are locked and the requested hours re-checked before the status
// changes, then a booking.confirmed event is published.
func (h *BookingHandler) Confirm(c echo.Context) error {
	bookingID, ok := parseID(c, "id")
	if !ok {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid booking id"})
	}
	ctx := c.Request().Context()

	tx, err := h.Bookings.DB().BeginTx(ctx, nil)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "database error"})
	}
	defer func() { _ = tx.Rollback() }()

	b, screen, errResp := h.loadForUpdate(ctx, c, tx, bookingID)
	if b == nil {
		return errResp
	}
	if b.Status != model.BookingPending {
		return c.JSON(http.StatusConflict, echo.Map{"error": "only pending bookings can be confirmed", "status": b.Status})
	}

	// Lock the occupying bookings of the day and rebuild the slots from
	// them. Another confirmation for the same day waits here.
	taken, err := h.Bookings.ListOccupyingTx(ctx, tx, b.ScreenID, b.ScheduledDate)
	if err != nil {
		h.Logger.Error("list occupying bookings", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "database error"})
	}
	slots, err := availability.ComputeDaySlots(*screen, taken)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "screen availability misconfigured"})
	}
	hours, err := bookedHours(b)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "booking has malformed times"})
	}
	conflict, err := availability.WouldConflict(slots, b.ScheduledStartTime, hours)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "booking has malformed times"})
	}
	if conflict {
		return c.JSON(http.StatusConflict, echo.Map{"error": "requested hours are already booked"})
	}

	// The status guard catches a cancel that committed after our read.
	if err := h.Bookings.UpdateStatusTx(ctx, tx, b.ID, model.BookingConfirmed, model.BookingPending); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return c.JSON(http.StatusConflict, echo.Map{"error": "booking changed concurrently"})
		}
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "database error"})
	}
	if err := tx.Commit(); err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "database error"})
	}
	// Committed. The rest only informs other parties.
	b.Status = model.BookingConfirmed
	now := h.Now().UTC()
	b.UpdatedAt = now
	h.invalidate(ctx, b.ScreenID)

	ev := queue.BookingConfirmedEvent{
		BookingID:    b.ID,
		ScreenID:     b.ScreenID,
		ScreenName:   screen.Name,
		AdvertiserID: b.AdvertiserID,
		Date:         b.ScheduledDate,
		StartTime:    b.ScheduledStartTime,
		EndTime:      b.ScheduledEndTime,
		TotalPrice:   b.TotalPrice,
		ConfirmedAt:  now.Format(time.RFC3339),
	}
	// the booking is committed; a broker outage only delays notifications
	if err := h.Publisher.PublishBookingConfirmed(ctx, ev); err != nil {
		h.Logger.Warn("publish booking.confirmed failed", zap.Uint64("booking_id", b.ID), zap.Error(err))
	}
	h.Logger.Info("booking confirmed", zap.Uint64("booking_id", b.ID), zap.Uint64("screen_id", b.ScreenID))
	return c.JSON(http.StatusOK, b)
}

// Cancel handles POST /v1/bookings/:id/cancel. Bookings that are already
// running, finished or cancelled cannot be cancelled.
func (h *BookingHandler) Cancel(c echo.Context) error {
	bookingID, ok := parseID(c, "id")
	if !ok {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid booking id"})
	}
	ctx := c.Request().Context()

	tx, err := h.Bookings.DB().BeginTx(ctx, nil)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "database error"})
	}
	defer func() { _ = tx.Rollback() }()

	b, _, errResp := h.loadForUpdate(ctx, c, tx, bookingID)
	if b == nil {
		return errResp
	}
	// Only states before the booking starts running may be cancelled.
	err = h.Bookings.UpdateStatusTx(ctx, tx, b.ID, model.BookingCancelled,
		model.BookingPending, model.BookingConfirmed, model.BookingPaid)
	if errors.Is(err, repository.ErrConflict) {
		return c.JSON(http.StatusConflict, echo.Map{"error": "booking cannot be cancelled", "status": b.Status})
	}
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "database error"})
	}
	if err := tx.Commit(); err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "database error"})
	}
	// a pending booking never showed in availability
	if b.Status.Occupies() {
		h.invalidate(ctx, b.ScreenID)
	}
	b.Status = model.BookingCancelled
	b.UpdatedAt = h.Now().UTC()
	h.Logger.Info("booking cancelled", zap.Uint64("booking_id", b.ID))
	return c.JSON(http.StatusOK, b)
}

// loadForUpdate locks the booking, loads its screen and checks the caller.
// On failure it returns a nil booking and the written error response.
func (h *BookingHandler) loadForUpdate(ctx context.Context, c echo.Context, tx *sql.Tx, id uint64) (*model.Booking, *model.Screen, error) {
	b, err := h.Bookings.GetByIDTx(ctx, tx, id)
	if errors.Is(err, repository.ErrBookingNotFound) {
		return nil, nil, c.JSON(http.StatusNotFound, echo.Map{"error": "booking not found"})
	}
	if err != nil {
		h.Logger.Error("load booking", zap.Uint64("booking_id", id), zap.Error(err))
		return nil, nil, c.JSON(http.StatusInternalServerError, echo.Map{"error": "database error"})
	}
	if err := h.authorize(ctx, c, b); err != nil {
		if errors.Is(err, repository.ErrForbidden) {
			return nil, nil, c.JSON(http.StatusForbidden, echo.Map{"error": "forbidden"})
		}
		return nil, nil, c.JSON(http.StatusInternalServerError, echo.Map{"error": "database error"})
	}
	screen, err := h.Screens.GetByID(ctx, b.ScreenID)
	if err != nil {
		h.Logger.Error("load screen", zap.Uint64("screen_id", b.ScreenID), zap.Error(err))
		return nil, nil, c.JSON(http.StatusInternalServerError, echo.Map{"error": "database error"})
	}
	return b, screen, nil
}

// invalidate drops the cached availability of screenID. It runs after the
// commit, so it must not be cut short by a client that already hung up.
func (h *BookingHandler) invalidate(ctx context.Context, screenID uint64) {
	if h.Cache == nil {
		return
	}
	if _, err := h.Cache.InvalidateScreen(context.WithoutCancel(ctx), screenID); err != nil {
		h.Logger.Warn("invalidate availability cache", zap.Uint64("screen_id", screenID), zap.Error(err))
	}
}

// bookedHours is the number of whole hours b occupies.
func bookedHours(b *model.Booking) (int, error) {
	start, err := availability.ParseHour(b.ScheduledStartTime)
	if err != nil {
		return 0, err
	}
	end, err := availability.ParseHour(b.ScheduledEndTime)
	if err != nil {
		return 0, err
	}
	return end - start, nil
}
