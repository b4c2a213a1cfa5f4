package handler

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/redsquare/screen-booking/internal/availability"
)

// AvailabilityHandler serves the public slot view of a screen.
type AvailabilityHandler struct {
	Engine *availability.Engine
	Logger *zap.Logger
}

func NewAvailabilityHandler(engine *availability.Engine, logger *zap.Logger) *AvailabilityHandler {
	if engine == nil {
		panic("nil engine passed to NewAvailabilityHandler")
	}
	return &AvailabilityHandler{Engine: engine, Logger: logger}
}

type slotResponse struct {
	Time      string  `json:"time"`
	Available bool    `json:"available"`
	BookingID *uint64 `json:"booking_id,omitempty"`
}

func toSlotResponses(slots []availability.Slot) []slotResponse {
	out := make([]slotResponse, len(slots))
	for i, s := range slots {
		out[i] = slotResponse{Time: s.Time, Available: s.Available}
		if s.Booking != nil {
			id := s.Booking.ID
			out[i].BookingID = &id
		}
	}
	return out
}

// day resolves the screen and date of the request and writes the error
// response itself when it cannot. A nil result means a response was sent.
func (h *AvailabilityHandler) day(c echo.Context, date string) (*availability.DayAvailability, error) {
	screenID, ok := parseID(c, "id")
	if !ok {
		return nil, c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid screen id"})
	}
	if date == "" {
		return nil, c.JSON(http.StatusBadRequest, echo.Map{"error": "date is required"})
	}
	day, err := h.Engine.DaySlots(c.Request().Context(), screenID, date)
	switch {
	case err == nil:
		return day, nil
	case errors.Is(err, availability.ErrScreenNotFound):
		return nil, c.JSON(http.StatusNotFound, echo.Map{"error": "screen not found"})
	case errors.Is(err, availability.ErrInvalidDate):
		return nil, c.JSON(http.StatusBadRequest, echo.Map{"error": "date must be YYYY-MM-DD"})
	case errors.Is(err, availability.ErrInvalidTime):
		h.Logger.Error("screen has malformed availability window", zap.Uint64("screen_id", screenID), zap.Error(err))
		return nil, c.JSON(http.StatusInternalServerError, echo.Map{"error": "screen availability misconfigured"})
	default:
		h.Logger.Error("compute availability", zap.Uint64("screen_id", screenID), zap.Error(err))
		return nil, c.JSON(http.StatusInternalServerError, echo.Map{"error": "database error"})
	}
}

// GetAvailability handles GET /v1/screens/:id/availability?date=YYYY-MM-DD.
// An unknown screen is a 404, never an empty list of slots.
func (h *AvailabilityHandler) GetAvailability(c echo.Context) error {
	day, err := h.day(c, c.QueryParam("date"))
	if day == nil {
		return err
	}
	return c.JSON(http.StatusOK, echo.Map{
		"screen_id":          day.Screen.ID,
		"date":               day.Date,
		"availability_start": day.Screen.AvailabilityStart,
		"availability_end":   day.Screen.AvailabilityEnd,
		"price_per_hour":     day.Screen.PricePerHour,
		"slots":              toSlotResponses(day.Slots),
	})
}

type checkRequest struct {
	Date          string `json:"date"`
	StartTime     string `json:"start_time"`
	DurationHours int    `json:"duration_hours"`
}

// Check handles POST /v1/screens/:id/availability/check and answers
// whether a booking would collide with occupied slots.
func (h *AvailabilityHandler) Check(c echo.Context) error {
	var body checkRequest
	if err := c.Bind(&body); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}
	day, err := h.day(c, body.Date)
	if day == nil {
		return err
	}
	res, err := availability.Check(day, body.StartTime, body.DurationHours)
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": err.Error()})
	}
	return c.JSON(http.StatusOK, echo.Map{
		"conflict":       res.Conflict,
		"outside_window": nonNil(res.OutsideWindow),
		"end_time":       res.EndTime,
		"total_price":    availability.Quote(day.Screen.PricePerHour, body.DurationHours),
	})
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
