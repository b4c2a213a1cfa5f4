package model

import "time"

// Device is a player that completed pairing for a screen.
type Device struct {
	DeviceID   string    // screen_devices.device_id (uuid)
	ScreenID   uint64    // screen_devices.screen_id
	Status     string    // screen_devices.status as last reported by heartbeat
	AppVersion string    // screen_devices.app_version
	PairedAt   time.Time // screen_devices.paired_at
	LastSeenAt time.Time // screen_devices.last_seen_at
}

// Pairing is a one-time code an owner hands to a new player. Only the bcrypt
// hash of the code is stored.
type Pairing struct {
	ID        uint64     // screen_pairings.id
	ScreenID  uint64     // screen_pairings.screen_id
	CodeHash  string     // screen_pairings.code_hash
	ExpiresAt time.Time  // screen_pairings.expires_at
	UsedAt    *time.Time // screen_pairings.used_at (nullable)
}
