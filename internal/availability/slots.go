// Package availability partitions a screen's operating window into hourly
// slots and checks requested bookings against the slots already taken.
//
// Times are "HH:MM" strings and only the hour is significant: a booking from
// 10:30 to 12:15 occupies the 10:00 and 11:00 slots.
package availability

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/redsquare/screen-booking/internal/model"
)

// ErrInvalidTime is returned for strings that are not "HH:MM" with an hour in [0,24].
var ErrInvalidTime = errors.New("invalid time")

// Slot is one hour of a screen's bookable day.
type Slot struct {
	Time      string         `json:"time"` // "HH:00"
	Available bool           `json:"available"`
	Booking   *model.Booking `json:"booking,omitempty"` // the booking holding the hour, if any
}

// ParseHour returns the hour component of an "HH:MM" string. Minutes must be
// present and numeric but are otherwise ignored.
func ParseHour(hhmm string) (int, error) {
	h, m, ok := strings.Cut(strings.TrimSpace(hhmm), ":")
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrInvalidTime, hhmm)
	}
	hour, err := strconv.Atoi(h)
	if err != nil || hour < 0 || hour > 24 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidTime, hhmm)
	}
	// tolerate a seconds suffix ("10:00:00") as stored by some clients
	m, _, _ = strings.Cut(m, ":")
	if min, err := strconv.Atoi(m); err != nil || min < 0 || min > 59 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidTime, hhmm)
	}
	return hour, nil
}

// SlotLabel formats hour h as a slot label, e.g. 9 -> "09:00".
func SlotLabel(h int) string {
	return fmt.Sprintf("%02d:00", h)
}

// ComputeDaySlots returns one slot per hour in [start hour, end hour) of the
// screen's window, in ascending order. A slot is unavailable when an
// occupying booking's [start hour, end hour) contains it; the first such
// booking in input order is attached to the slot.
//
// bookings should already be limited to the screen and date being queried.
// Bookings whose status does not occupy a slot are skipped.
func ComputeDaySlots(screen model.Screen, bookings []model.Booking) ([]Slot, error) {
	startHour, err := ParseHour(screen.AvailabilityStart)
	if err != nil {
		return nil, fmt.Errorf("screen %d availability_start: %w", screen.ID, err)
	}
	endHour, err := ParseHour(screen.AvailabilityEnd)
	if err != nil {
		return nil, fmt.Errorf("screen %d availability_end: %w", screen.ID, err)
	}

	type hourRange struct {
		from, to int
		booking  *model.Booking
	}
	ranges := make([]hourRange, 0, len(bookings))
	for i := range bookings {
		b := &bookings[i]
		if !b.Status.Occupies() {
			continue
		}
		from, err := ParseHour(b.ScheduledStartTime)
		if err != nil {
			return nil, fmt.Errorf("booking %d start: %w", b.ID, err)
		}
		to, err := ParseHour(b.ScheduledEndTime)
		if err != nil {
			return nil, fmt.Errorf("booking %d end: %w", b.ID, err)
		}
		ranges = append(ranges, hourRange{from: from, to: to, booking: b})
	}

	slots := make([]Slot, 0, max(endHour-startHour, 0))
	for h := startHour; h < endHour; h++ {
		slot := Slot{Time: SlotLabel(h), Available: true}
		for _, r := range ranges {
			if h >= r.from && h < r.to {
				slot.Available = false
				slot.Booking = r.booking
				break
			}
		}
		slots = append(slots, slot)
	}
	return slots, nil
}

// WouldConflict reports whether booking durationHours whole hours from start
// would collide with an unavailable slot.
//
// Requested hours that have no slot (outside the screen's operating window)
// are not counted as conflicts. Use OutsideWindow to detect them.
func WouldConflict(slots []Slot, start string, durationHours int) (bool, error) {
	startHour, err := ParseHour(start)
	if err != nil {
		return false, err
	}
	byLabel := indexSlots(slots)
	for h := startHour; h < spanEnd(startHour, durationHours); h++ {
		if s, ok := byLabel[SlotLabel(h)]; ok && !s.Available {
			return true, nil
		}
	}
	return false, nil
}

// OutsideWindow returns the labels of requested hours that have no slot.
func OutsideWindow(slots []Slot, start string, durationHours int) ([]string, error) {
	startHour, err := ParseHour(start)
	if err != nil {
		return nil, err
	}
	byLabel := indexSlots(slots)
	var out []string
	for h := startHour; h < spanEnd(startHour, durationHours); h++ {
		if _, ok := byLabel[SlotLabel(h)]; !ok {
			out = append(out, SlotLabel(h))
		}
	}
	return out, nil
}

// EndTime adds durationHours to an "HH:MM" start, keeping its minutes.
// The result may not pass midnight except for exactly "24:00".
func EndTime(start string, durationHours int) (string, error) {
	startHour, err := ParseHour(start)
	if err != nil {
		return "", err
	}
	_, rest, _ := strings.Cut(strings.TrimSpace(start), ":")
	rest, _, _ = strings.Cut(rest, ":")
	minutes, _ := strconv.Atoi(rest) // validated by ParseHour
	if durationHours < 0 {
		return "", fmt.Errorf("%w: negative duration", ErrInvalidTime)
	}
	// compare before adding; a huge duration must not wrap around
	left := 24 - startHour
	if durationHours > left || (durationHours == left && minutes != 0) {
		return "", fmt.Errorf("%w: booking ends after midnight", ErrInvalidTime)
	}
	return fmt.Sprintf("%02d:%02d", startHour+durationHours, minutes), nil
}

// spanEnd is the exclusive end hour of durationHours from startHour, capped
// at midnight.
func spanEnd(startHour, durationHours int) int {
	if durationHours > 24-startHour {
		return 24
	}
	return startHour + durationHours
}

// Quote prices a booking of hours whole hours.
func Quote(pricePerHour decimal.Decimal, hours int) decimal.Decimal {
	return pricePerHour.Mul(decimal.NewFromInt(int64(hours))).Round(2)
}

func indexSlots(slots []Slot) map[string]Slot {
	m := make(map[string]Slot, len(slots))
	for _, s := range slots {
		m[s.Time] = s
	}
	return m
}
