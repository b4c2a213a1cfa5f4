package websocket

import (
	"encoding/json"
	"time"
)

// MessageType identifies the type of a push message.
type MessageType string

const (
	// Server -> player
	TypeScheduleUpdated MessageType = "schedule.updated"
	TypeHello           MessageType = "hello"
)

// Message is the envelope of every push message.
type Message struct {
	Type      MessageType     `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// NewMessage creates a message stamped with the current time.
func NewMessage(t MessageType, payload any) (Message, error) {
	m := Message{Type: t, Timestamp: time.Now().UTC()}
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return Message{}, err
		}
		m.Payload = b
	}
	return m, nil
}

// JSON serializes the message.
func (m Message) JSON() ([]byte, error) {
	return json.Marshal(m)
}

// ScheduleUpdatedPayload tells a player that its schedule changed and
// should be refetched.
type ScheduleUpdatedPayload struct {
	ScreenID  uint64  `json:"screen_id"`
	Reason    string  `json:"reason"`
	ContentID *uint64 `json:"content_id,omitempty"`
	BookingID *uint64 `json:"booking_id,omitempty"`
}

// HelloPayload is sent once after a player connects.
type HelloPayload struct {
	ScreenID uint64 `json:"screen_id"`
	DeviceID string `json:"device_id,omitempty"`
}
