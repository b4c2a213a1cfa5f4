package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Screen is a physical display that advertisers can book by the hour.
//
// Fields:
//  AvailabilityStart – opening time of the bookable window, "HH:MM".
//  AvailabilityEnd   – closing time of the bookable window, "HH:MM"; after AvailabilityStart.
//  PricePerHour      – price of one booked hour.
type Screen struct {
	ID                uint64          // screens.id
	OwnerID           uint64          // screens.owner_id
	Name              string          // screens.name
	AvailabilityStart string          // screens.availability_start
	AvailabilityEnd   string          // screens.availability_end
	PricePerHour      decimal.Decimal // screens.price_per_hour
	CreatedAt         time.Time       // screens.created_at
	UpdatedAt         time.Time       // screens.updated_at
}
