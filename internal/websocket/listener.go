package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Listen connects to the push endpoint at url and calls onMessage for every
// message until ctx is done. Lost connections are redialled with
// exponential backoff capped at 30 seconds.
func Listen(ctx context.Context, url, token string, logger *zap.Logger, onMessage func(Message)) {
	if logger == nil {
		logger = zap.NewNop()
	}
	url = toWS(url)
	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)

	backoff := time.Second
	for ctx.Err() == nil {
		conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, header)
		if err != nil {
			logger.Warn("push dial failed", zap.String("url", url), zap.Duration("retry_in", backoff), zap.Error(err))
			if !sleep(ctx, backoff) {
				return
			}
			if backoff < 30*time.Second {
				backoff *= 2
			}
			continue
		}
		backoff = time.Second
		logger.Info("push channel connected", zap.String("url", url))
		readLoop(ctx, conn, logger, onMessage)
		if !sleep(ctx, 2*time.Second) {
			return
		}
	}
}

func readLoop(ctx context.Context, conn *websocket.Conn, logger *zap.Logger, onMessage func(Message)) {
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()
	defer conn.Close()
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				logger.Warn("push channel lost", zap.Error(err))
			}
			return
		}
		var m Message
		if err := json.Unmarshal(data, &m); err != nil {
			logger.Warn("ignoring malformed push message", zap.Error(err))
			continue
		}
		onMessage(m)
	}
}

func toWS(u string) string {
	switch {
	case strings.HasPrefix(u, "https://"):
		return "wss://" + strings.TrimPrefix(u, "https://")
	case strings.HasPrefix(u, "http://"):
		return "ws://" + strings.TrimPrefix(u, "http://")
	}
	return u
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
