package availability

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/redsquare/screen-booking/internal/model"
)

type fakeScreens map[uint64]model.Screen

func (f fakeScreens) GetByID(_ context.Context, id uint64) (*model.Screen, error) {
	s, ok := f[id]
	if !ok {
		return nil, ErrScreenNotFound
	}
	return &s, nil
}

type fakeBookings struct {
	rows     []model.Booking
	lastDate string
	err      error
}

func (f *fakeBookings) ListOccupying(_ context.Context, screenID uint64, date string) ([]model.Booking, error) {
	f.lastDate = date
	if f.err != nil {
		return nil, f.err
	}
	var out []model.Booking
	for _, b := range f.rows {
		if b.ScreenID == screenID && b.ScheduledDate == date {
			out = append(out, b)
		}
	}
	return out, nil
}

func TestEngine_DaySlots(t *testing.T) {
	bookings := &fakeBookings{rows: []model.Booking{
		confirmed(1, "10:00", "12:00"),
		{ID: 2, ScreenID: 1, ScheduledDate: "2025-01-02", ScheduledStartTime: "09:00", ScheduledEndTime: "17:00", Status: model.BookingConfirmed},
	}}
	e := NewEngine(fakeScreens{1: nineToFive()}, bookings)

	day, err := e.DaySlots(context.Background(), 1, "2025-01-01")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(day.Slots) != 8 {
		t.Fatalf("expected 8 slots, got %d", len(day.Slots))
	}
	if slotByTime(t, day.Slots, "10:00").Available {
		t.Fatalf("10:00 should be taken")
	}
	if !slotByTime(t, day.Slots, "09:00").Available {
		t.Fatalf("09:00 should be free; other dates must not leak in")
	}
}

func TestEngine_DaySlots_NotLoaded(t *testing.T) {
	e := NewEngine(fakeScreens{}, &fakeBookings{})

	if _, err := e.DaySlots(context.Background(), 9, "2025-01-01"); !errors.Is(err, ErrScreenNotFound) {
		t.Fatalf("expected ErrScreenNotFound, got %v", err)
	}
	if _, err := e.DaySlots(context.Background(), 9, ""); !errors.Is(err, ErrInvalidDate) {
		t.Fatalf("expected ErrInvalidDate for missing date, got %v", err)
	}
}

func TestEngine_DaySlots_BookingErrorPropagates(t *testing.T) {
	boom := errors.New("db down")
	e := NewEngine(fakeScreens{1: nineToFive()}, &fakeBookings{err: boom})
	if _, err := e.DaySlots(context.Background(), 1, "2025-01-01"); !errors.Is(err, boom) {
		t.Fatalf("expected wrapped db error, got %v", err)
	}
}

func TestCheck(t *testing.T) {
	slots, _ := ComputeDaySlots(nineToFive(), []model.Booking{confirmed(1, "10:00", "12:00")})
	day := &DayAvailability{Date: "2025-01-01", Slots: slots}

	res, err := Check(day, "11:00", 2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.Conflict || res.EndTime != "13:00" {
		t.Fatalf("unexpected result %+v", res)
	}

	res, err = Check(day, "07:00", 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Conflict || len(res.OutsideWindow) != 1 {
		t.Fatalf("expected lenient non-conflict with one outside hour, got %+v", res)
	}

	for _, hours := range []int{0, -1, 25, math.MaxInt - 5, math.MaxInt} {
		if _, err := Check(day, "10:00", hours); !errors.Is(err, ErrInvalidHours) {
			t.Fatalf("Check(10:00, %d): expected ErrInvalidHours, got %v", hours, err)
		}
	}
	if _, err := Check(day, "10:00", 15); !errors.Is(err, ErrInvalidTime) {
		t.Fatalf("expected a booking past midnight to be rejected, got %v", err)
	}
}
