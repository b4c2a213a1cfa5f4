package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func TestHub_NotifyOnlyReachesThatScreen(t *testing.T) {
	h := NewHub(nil)
	a := NewClient(1, "dev-a")
	b := NewClient(2, "dev-b")
	h.Register(a)
	h.Register(b)

	msg, _ := NewMessage(TypeScheduleUpdated, ScheduleUpdatedPayload{ScreenID: 1, Reason: "content_added"})
	if n := h.Notify(1, msg); n != 1 {
		t.Fatalf("expected one delivery, got %d", n)
	}
	select {
	case frame := <-a.Send():
		var got Message
		if err := json.Unmarshal(frame, &got); err != nil || got.Type != TypeScheduleUpdated {
			t.Fatalf("unexpected frame %s err=%v", frame, err)
		}
	default:
		t.Fatalf("expected screen 1 client to receive the message")
	}
	select {
	case <-b.Send():
		t.Fatalf("screen 2 client must not receive screen 1 messages")
	default:
	}
}

func TestHub_FullBufferDropsClient(t *testing.T) {
	h := NewHub(nil)
	c := NewClient(1, "slow")
	h.Register(c)
	msg, _ := NewMessage(TypeScheduleUpdated, nil)
	for i := 0; i < sendBuffer; i++ {
		h.Notify(1, msg)
	}
	if n := h.Notify(1, msg); n != 0 {
		t.Fatalf("expected the overflowing send to be dropped, got %d deliveries", n)
	}
	if h.ClientCount(1) != 0 {
		t.Fatalf("expected slow client to be removed")
	}
	h.Unregister(c) // second removal is a no-op
}

func TestListen_ReceivesServedMessages(t *testing.T) {
	h := NewHub(nil)
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tok" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		id, _ := strconv.ParseUint(r.URL.Query().Get("screen"), 10, 64)
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		h.Serve(conn, id, "dev-1")
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	got := make(chan Message, 4)
	go Listen(ctx, srv.URL+"/?screen=9", "tok", nil, func(m Message) { got <- m })

	hello := <-got
	if hello.Type != TypeHello {
		t.Fatalf("expected hello first, got %s", hello.Type)
	}
	msg, _ := NewMessage(TypeScheduleUpdated, ScheduleUpdatedPayload{ScreenID: 9, Reason: "test"})
	if n := h.Notify(9, msg); n != 1 {
		t.Fatalf("expected one listener, got %d", n)
	}
	select {
	case m := <-got:
		var p ScheduleUpdatedPayload
		if err := json.Unmarshal(m.Payload, &p); err != nil || p.ScreenID != 9 {
			t.Fatalf("unexpected payload %s err=%v", m.Payload, err)
		}
	case <-ctx.Done():
		t.Fatalf("timed out waiting for pushed message")
	}
}
