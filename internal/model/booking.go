package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// BookingStatus is the lifecycle state of a booking.
type BookingStatus string

const (
	BookingPending   BookingStatus = "pending"
	BookingConfirmed BookingStatus = "confirmed"
	BookingPaid      BookingStatus = "paid"
	BookingActive    BookingStatus = "active"
	BookingCancelled BookingStatus = "cancelled"
	BookingCompleted BookingStatus = "completed"
)

// OccupyingStatuses lists the statuses that hold a screen's slot. Pending
// bookings do not block other advertisers until they are confirmed.
var OccupyingStatuses = []BookingStatus{BookingConfirmed, BookingPaid, BookingActive}

// Occupies reports whether a booking in this status blocks its hours.
func (s BookingStatus) Occupies() bool {
	for _, o := range OccupyingStatuses {
		if s == o {
			return true
		}
	}
	return false
}

// Booking reserves a range of whole hours on one screen for one date.
// ScheduledDate is "YYYY-MM-DD"; start and end times are "HH:MM".
type Booking struct {
	ID                 uint64          `json:"id"`
	ScreenID           uint64          `json:"screen_id"`
	AdvertiserID       uint64          `json:"advertiser_id"`
	ScheduledDate      string          `json:"scheduled_date"`
	ScheduledStartTime string          `json:"scheduled_start_time"`
	ScheduledEndTime   string          `json:"scheduled_end_time"`
	Status             BookingStatus   `json:"status"`
	TotalPrice         decimal.Decimal `json:"total_price"`
	CreatedAt          time.Time       `json:"created_at"`
	UpdatedAt          time.Time       `json:"updated_at"`
}
