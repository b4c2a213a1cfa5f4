package handler

import (
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/redsquare/screen-booking/internal/model"
	"github.com/redsquare/screen-booking/internal/repository"
	"github.com/redsquare/screen-booking/internal/storage"
	"github.com/redsquare/screen-booking/internal/utils"
	"github.com/redsquare/screen-booking/internal/websocket"
)

// scheduleLookback is how far back content-sync reaches so an item that
// started before the player's last refresh can still be found as current.
const scheduleLookback = 24 * time.Hour

// Notifier pushes a message to the players of a screen.
type Notifier interface {
	Notify(screenID uint64, m websocket.Message) int
}

// ContentHandler serves screen schedules to players and lets owners and
// advertisers add to them.
type ContentHandler struct {
	Screens *repository.ScreenRepo
	// Bookings backs the advertiser check in AddItem.
	Bookings *repository.BookingRepo
	Contents *repository.ContentRepo
	// Notifier tells connected players to refetch after a schedule change.
	Notifier Notifier
	Logger   *zap.Logger
	// Now anchors the content-sync lookback window.
	Now func() time.Time
}

func NewContentHandler(screens *repository.ScreenRepo, bookings *repository.BookingRepo, contents *repository.ContentRepo,
	notifier Notifier, logger *zap.Logger) *ContentHandler {
	if screens == nil || bookings == nil || contents == nil || notifier == nil {
		panic("nil dependency passed to NewContentHandler")
	}
	return &ContentHandler{Screens: screens, Bookings: bookings, Contents: contents, Notifier: notifier, Logger: logger, Now: time.Now}
}

// Sync handles POST /v1/content-sync {screen_id}. Players may only read
// their own screen; owners may read screens they own.
func (h *ContentHandler) Sync(c echo.Context) error {
	var body struct {
		ScreenID uint64 `json:"screen_id"`
	}
	if err := c.Bind(&body); err != nil || body.ScreenID == 0 {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "screen_id is required"})
	}
	ctx := c.Request().Context()

	// Players are identified by the screen in their device token, users by
	// ownership of the screen. Any other role is refused.
	switch getRole(c) {
	case utils.RoleScreen:
		if sid, _, ok := deviceScreen(c); !ok || sid != body.ScreenID {
			return c.JSON(http.StatusForbidden, echo.Map{"error": "device is not paired with this screen"})
		}
	case RoleOwner:
		userID, err := getUserID(c)
		if err != nil {
			return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
		}
		owns, err := h.Screens.OwnedBy(ctx, body.ScreenID, userID)
		if errors.Is(err, repository.ErrScreenNotFound) {
			return c.JSON(http.StatusNotFound, echo.Map{"error": "screen not found"})
		}
		if err != nil {
			return c.JSON(http.StatusInternalServerError, echo.Map{"error": "database error"})
		}
		if !owns {
			return c.JSON(http.StatusForbidden, echo.Map{"error": "forbidden"})
		}
	default:
		return c.JSON(http.StatusForbidden, echo.Map{"error": "forbidden"})
	}

	items, err := h.Contents.ListForScreen(ctx, body.ScreenID, h.Now().UTC().Add(-scheduleLookback))
	if err != nil {
		h.Logger.Error("list schedule", zap.Uint64("screen_id", body.ScreenID), zap.Error(err))
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "database error"})
	}
	return c.JSON(http.StatusOK, echo.Map{"schedule": items})
}

type addContentRequest struct {
	URL             string    `json:"url"`
	Type            string    `json:"type"`
	ScheduledTime   time.Time `json:"scheduled_time"`
	DurationSeconds int       `json:"duration_seconds"`
	BookingID       *uint64   `json:"booking_id"`
}

// AddItem handles POST /v1/screens/:id/schedule. Owners schedule freely on
// their screens; advertisers must attach the item to one of their occupying
// bookings on that screen. Connected players are told to refetch.
func (h *ContentHandler) AddItem(c echo.Context) error {
	screenID, ok := parseID(c, "id")
	if !ok {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid screen id"})
	}
	userID, err := getUserID(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	var body addContentRequest
	if err := c.Bind(&body); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}
	kind := model.ContentType(body.Type)
	switch {
	case !kind.Valid():
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "type must be image, video or gif"})
	case body.ScheduledTime.IsZero():
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "scheduled_time is required"})
	case body.DurationSeconds < 0:
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "duration_seconds must not be negative"})
	}
	if _, _, err := storage.ParseObjectRef(body.URL); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "url must point to a stored object"})
	}
	ctx := c.Request().Context()

	owns, err := h.Screens.OwnedBy(ctx, screenID, userID)
	if errors.Is(err, repository.ErrScreenNotFound) {
		return c.JSON(http.StatusNotFound, echo.Map{"error": "screen not found"})
	}
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "database error"})
	}
	if getRole(c) != RoleOwner || !owns {
		if body.BookingID == nil {
			return c.JSON(http.StatusForbidden, echo.Map{"error": "booking_id is required"})
		}
		b, err := h.Bookings.GetByID(ctx, *body.BookingID)
		if errors.Is(err, repository.ErrBookingNotFound) {
			return c.JSON(http.StatusNotFound, echo.Map{"error": "booking not found"})
		}
		if err != nil {
			return c.JSON(http.StatusInternalServerError, echo.Map{"error": "database error"})
		}
		if b.AdvertiserID != userID || b.ScreenID != screenID || !b.Status.Occupies() {
			return c.JSON(http.StatusForbidden, echo.Map{"error": "booking does not grant this screen"})
		}
	}

	item := &model.ContentItem{
		ScreenID:        screenID,
		BookingID:       body.BookingID,
		URL:             body.URL,
		Type:            kind,
		ScheduledTime:   body.ScheduledTime.UTC(),
		DurationSeconds: body.DurationSeconds,
	}
	if err := h.Contents.Create(ctx, item); err != nil {
		h.Logger.Error("insert content item", zap.Uint64("screen_id", screenID), zap.Error(err))
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "database error"})
	}

	contentID := item.ID
	msg, err := websocket.NewMessage(websocket.TypeScheduleUpdated, websocket.ScheduleUpdatedPayload{
		ScreenID: screenID, Reason: "content_added", ContentID: &contentID, BookingID: item.BookingID,
	})
	if err == nil {
		n := h.Notifier.Notify(screenID, msg)
		h.Logger.Info("content scheduled", zap.Uint64("screen_id", screenID), zap.Uint64("content_id", item.ID), zap.Int("players_notified", n))
	}
	return c.JSON(http.StatusCreated, item)
}
