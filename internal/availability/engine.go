package availability

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redsquare/screen-booking/internal/model"
	"github.com/redsquare/screen-booking/internal/repository"
)

// DateLayout is the calendar date format used by bookings and the API.
const DateLayout = "2006-01-02"

var (
	// ErrScreenNotFound is the repository sentinel, re-exported for callers
	// that only depend on this package.
	ErrScreenNotFound = repository.ErrScreenNotFound
	ErrInvalidDate    = errors.New("invalid date")
	ErrInvalidHours   = errors.New("duration must be between 1 and 24 hours")
)

// ScreenReader loads a screen row.
type ScreenReader interface {
	GetByID(ctx context.Context, id uint64) (*model.Screen, error)
}

// BookingReader lists the bookings that occupy slots on one screen and date.
type BookingReader interface {
	ListOccupying(ctx context.Context, screenID uint64, date string) ([]model.Booking, error)
}

// Engine answers availability questions from stored screens and bookings.
type Engine struct {
	screens  ScreenReader
	bookings BookingReader
}

func NewEngine(screens ScreenReader, bookings BookingReader) *Engine {
	if screens == nil || bookings == nil {
		panic("nil reader passed to availability.NewEngine")
	}
	return &Engine{screens: screens, bookings: bookings}
}

// DayAvailability is the slot partition of one screen on one date.
type DayAvailability struct {
	Screen *model.Screen
	Date   string
	Slots  []Slot
}

// DaySlots computes the slots of screenID on date ("YYYY-MM-DD"). A missing
// screen yields ErrScreenNotFound and a malformed date ErrInvalidDate; in
// both cases there is no result, which is distinct from an empty day.
func (e *Engine) DaySlots(ctx context.Context, screenID uint64, date string) (*DayAvailability, error) {
	if _, err := time.Parse(DateLayout, date); err != nil {
		return nil, fmt.Errorf("%w: %q", ErrInvalidDate, date)
	}
	screen, err := e.screens.GetByID(ctx, screenID)
	if err != nil {
		return nil, err
	}
	bookings, err := e.bookings.ListOccupying(ctx, screenID, date)
	if err != nil {
		return nil, fmt.Errorf("list bookings: %w", err)
	}
	slots, err := ComputeDaySlots(*screen, bookings)
	if err != nil {
		return nil, err
	}
	return &DayAvailability{Screen: screen, Date: date, Slots: slots}, nil
}

// CheckResult is the answer to a prospective booking.
type CheckResult struct {
	Conflict      bool     `json:"conflict"`
	OutsideWindow []string `json:"outside_window,omitempty"`
	EndTime       string   `json:"end_time"`
}

// Check evaluates a booking of durationHours starting at start against the
// slots in day. A booking never spans more than one day, so durations above
// 24 hours are rejected before any arithmetic.
func Check(day *DayAvailability, start string, durationHours int) (CheckResult, error) {
	if durationHours < 1 || durationHours > 24 {
		return CheckResult{}, ErrInvalidHours
	}
	end, err := EndTime(start, durationHours)
	if err != nil {
		return CheckResult{}, err
	}
	conflict, err := WouldConflict(day.Slots, start, durationHours)
	if err != nil {
		return CheckResult{}, err
	}
	outside, err := OutsideWindow(day.Slots, start, durationHours)
	if err != nil {
		return CheckResult{}, err
	}
	return CheckResult{Conflict: conflict, OutsideWindow: outside, EndTime: end}, nil
}
