// Package queue defines the messages exchanged over RabbitMQ and the
// consumer that reacts to them.
package queue

import "github.com/shopspring/decimal"

// BookingConfirmedQueue is the durable queue confirmed bookings are
// published to.
const BookingConfirmedQueue = "booking.confirmed"

// BookingConfirmedEvent is published when a booking moves to confirmed. It
// carries enough for consumers to notify the screen and bill the advertiser
// without reading the database.
type BookingConfirmedEvent struct {
	BookingID    uint64          `json:"booking_id"`
	ScreenID     uint64          `json:"screen_id"`
	ScreenName   string          `json:"screen_name"`
	AdvertiserID uint64          `json:"advertiser_id"`
	Date         string          `json:"scheduled_date"`
	StartTime    string          `json:"scheduled_start_time"`
	EndTime      string          `json:"scheduled_end_time"`
	TotalPrice   decimal.Decimal `json:"total_price"`
	ConfirmedAt  string          `json:"confirmed_at"`
}
