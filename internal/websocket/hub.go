// Package websocket pushes change notifications to paired screen players.
// Each connection belongs to exactly one screen; messages fan out per screen.
package websocket

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	sendBuffer   = 16
	writeTimeout = 10 * time.Second
	pongWait     = 60 * time.Second
	pingEvery    = 30 * time.Second
	maxReadBytes = 4096
)

// Hub tracks connected players by screen.
type Hub struct {
	mu      sync.RWMutex
	clients map[uint64]map[*Client]struct{}
	logger  *zap.Logger
}

func NewHub(logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{clients: make(map[uint64]map[*Client]struct{}), logger: logger}
}

// Client is one player connection.
type Client struct {
	ScreenID uint64
	DeviceID string
	send     chan []byte
}

// NewClient returns an unregistered client for screenID.
func NewClient(screenID uint64, deviceID string) *Client {
	return &Client{ScreenID: screenID, DeviceID: deviceID, send: make(chan []byte, sendBuffer)}
}

// Send returns the channel of outgoing frames. It is closed when the hub
// drops the client.
func (c *Client) Send() <-chan []byte { return c.send }

// Register adds c to its screen's set.
func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	set, ok := h.clients[c.ScreenID]
	if !ok {
		set = make(map[*Client]struct{})
		h.clients[c.ScreenID] = set
	}
	set[c] = struct{}{}
	n := len(set)
	h.mu.Unlock()
	h.logger.Info("player connected", zap.Uint64("screen_id", c.ScreenID), zap.String("device_id", c.DeviceID), zap.Int("screen_clients", n))
}

// Unregister removes c and closes its send channel. It is safe to call more
// than once.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	removed := h.removeLocked(c)
	h.mu.Unlock()
	if removed {
		h.logger.Info("player disconnected", zap.Uint64("screen_id", c.ScreenID), zap.String("device_id", c.DeviceID))
	}
}

func (h *Hub) removeLocked(c *Client) bool {
	set, ok := h.clients[c.ScreenID]
	if !ok {
		return false
	}
	if _, ok := set[c]; !ok {
		return false
	}
	delete(set, c)
	close(c.send)
	if len(set) == 0 {
		delete(h.clients, c.ScreenID)
	}
	return true
}

// Notify sends m to every player of screenID and returns how many received
// it. Players whose buffer is full are dropped; they reconnect and refetch.
func (h *Hub) Notify(screenID uint64, m Message) int {
	frame, err := m.JSON()
	if err != nil {
		h.logger.Error("encode push message", zap.String("type", string(m.Type)), zap.Error(err))
		return 0
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	delivered := 0
	for c := range h.clients[screenID] {
		select {
		case c.send <- frame:
			delivered++
		default:
			h.logger.Warn("player send buffer full, dropping connection",
				zap.Uint64("screen_id", screenID), zap.String("device_id", c.DeviceID))
			h.removeLocked(c)
		}
	}
	return delivered
}

// ClientCount returns the number of players connected for screenID.
func (h *Hub) ClientCount(screenID uint64) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[screenID])
}

// Serve registers a client for conn and pumps messages until the
// connection closes. It blocks.
func (h *Hub) Serve(conn *websocket.Conn, screenID uint64, deviceID string) {
	c := NewClient(screenID, deviceID)
	h.Register(c)
	if hello, err := NewMessage(TypeHello, HelloPayload{ScreenID: screenID, DeviceID: deviceID}); err == nil {
		if frame, err := hello.JSON(); err == nil {
			c.send <- frame
		}
	}
	go h.writePump(conn, c)
	h.readPump(conn, c)
}

func (h *Hub) writePump(conn *websocket.Conn, c *Client) {
	ticker := time.NewTicker(pingEvery)
	defer func() {
		ticker.Stop()
		_ = conn.Close()
	}()
	for {
		select {
		case frame, ok := <-c.send:
			_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump only drains control frames; players do not send commands.
func (h *Hub) readPump(conn *websocket.Conn, c *Client) {
	defer func() {
		h.Unregister(c)
		_ = conn.Close()
	}()
	conn.SetReadLimit(maxReadBytes)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Debug("player read error", zap.Uint64("screen_id", c.ScreenID), zap.Error(err))
			}
			return
		}
	}
}
