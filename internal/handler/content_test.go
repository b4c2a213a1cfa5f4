package handler

import (
	"encoding/json"
	"net/http"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"go.uber.org/zap"

	"github.com/redsquare/screen-booking/internal/model"
	"github.com/redsquare/screen-booking/internal/repository"
	"github.com/redsquare/screen-booking/internal/utils"
	"github.com/redsquare/screen-booking/internal/websocket"
)

type recordingNotifier struct {
	screens []uint64
	msgs    []websocket.Message
}

func (n *recordingNotifier) Notify(screenID uint64, m websocket.Message) int {
	n.screens = append(n.screens, screenID)
	n.msgs = append(n.msgs, m)
	return 1
}

func newContentHandler(t *testing.T) (*ContentHandler, sqlmock.Sqlmock, *recordingNotifier) {
	db, mock := newMock(t)
	n := &recordingNotifier{}
	h := NewContentHandler(repository.NewScreenRepo(db), repository.NewBookingRepo(db), repository.NewContentRepo(db), n, zap.NewNop())
	h.Now = func() time.Time { return time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC) }
	return h, mock, n
}

var player1 = identity{role: utils.RoleScreen, screenID: 1, deviceID: "2f1b7c1e-6a53-4f0e-9f6a-1d1c0b7e9a10"}

func TestContentSync_Device(t *testing.T) {
	h, mock, _ := newContentHandler(t)
	at := time.Date(2025, 3, 1, 12, 30, 0, 0, time.UTC)
	mock.ExpectQuery(regexp.QuoteMeta("FROM content_schedules")).
		WithArgs(uint64(1), sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id", "screen_id", "booking_id", "url", "content_type", "scheduled_time", "duration_seconds"}).
			AddRow(3, 1, nil, "/v1/objects/media/a.png", "image", at, 15))

	c, rec := newContext(http.MethodPost, "/v1/content-sync", `{"screen_id":1}`, player1)
	if err := h.Sync(c); err != nil {
		t.Fatalf("Sync: %v", err)
	}
	wantStatus(t, rec, http.StatusOK)
	var got struct {
		Schedule []model.ContentItem `json:"schedule"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(got.Schedule) != 1 || got.Schedule[0].ID != 3 || got.Schedule[0].DurationSeconds != 15 {
		t.Fatalf("unexpected schedule: %+v", got.Schedule)
	}
}

func TestContentSync_Access(t *testing.T) {
	t.Run("device of another screen", func(t *testing.T) {
		h, _, _ := newContentHandler(t)
		c, rec := newContext(http.MethodPost, "/v1/content-sync", `{"screen_id":2}`, player1)
		_ = h.Sync(c)
		wantStatus(t, rec, http.StatusForbidden)
	})
	t.Run("owner of another screen", func(t *testing.T) {
		h, mock, _ := newContentHandler(t)
		expectOwner(mock, 2, 8)
		c, rec := newContext(http.MethodPost, "/v1/content-sync", `{"screen_id":2}`, identity{userID: 2, role: RoleOwner})
		_ = h.Sync(c)
		wantStatus(t, rec, http.StatusForbidden)
	})
	t.Run("advertiser", func(t *testing.T) {
		h, _, _ := newContentHandler(t)
		c, rec := newContext(http.MethodPost, "/v1/content-sync", `{"screen_id":1}`, advertiser9)
		_ = h.Sync(c)
		wantStatus(t, rec, http.StatusForbidden)
	})
	t.Run("missing screen id", func(t *testing.T) {
		h, _, _ := newContentHandler(t)
		c, rec := newContext(http.MethodPost, "/v1/content-sync", `{}`, player1)
		_ = h.Sync(c)
		wantStatus(t, rec, http.StatusBadRequest)
	})
}

func TestAddItem_AdvertiserWithBooking(t *testing.T) {
	h, mock, n := newContentHandler(t)
	expectOwner(mock, 1, 2)
	mock.ExpectQuery(regexp.QuoteMeta("FROM bookings WHERE id = ?")).
		WithArgs(uint64(17)).
		WillReturnRows(bookingRows(bookingRow{17, 1, 9, "12:00", "14:00", "confirmed"}))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO content_schedules")).
		WillReturnResult(sqlmock.NewResult(40, 1))

	body := `{"url":"/v1/objects/media/ads/spring.mp4","type":"video","scheduled_time":"2025-03-01T12:00:00Z","booking_id":17}`
	c, rec := newContext(http.MethodPost, "/v1/screens/1/schedule", body, advertiser9, "id", "1")
	if err := h.AddItem(c); err != nil {
		t.Fatalf("AddItem: %v", err)
	}
	wantStatus(t, rec, http.StatusCreated)

	if len(n.msgs) != 1 || n.screens[0] != 1 || n.msgs[0].Type != websocket.TypeScheduleUpdated {
		t.Fatalf("expected one schedule.updated for screen 1, got %+v", n.msgs)
	}
	var p websocket.ScheduleUpdatedPayload
	if err := json.Unmarshal(n.msgs[0].Payload, &p); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if p.ContentID == nil || *p.ContentID != 40 || p.BookingID == nil || *p.BookingID != 17 {
		t.Fatalf("unexpected payload: %+v", p)
	}
}

func TestAddItem_OwnerNeedsNoBooking(t *testing.T) {
	h, mock, _ := newContentHandler(t)
	expectOwner(mock, 1, 2)
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO content_schedules")).
		WillReturnResult(sqlmock.NewResult(41, 1))

	body := `{"url":"/v1/objects/media/house.png","type":"image","scheduled_time":"2025-03-01T09:00:00Z"}`
	c, rec := newContext(http.MethodPost, "/v1/screens/1/schedule", body, identity{userID: 2, role: RoleOwner}, "id", "1")
	_ = h.AddItem(c)
	wantStatus(t, rec, http.StatusCreated)
}

func TestAddItem_Refused(t *testing.T) {
	t.Run("no booking", func(t *testing.T) {
		h, mock, n := newContentHandler(t)
		expectOwner(mock, 1, 2)
		body := `{"url":"/v1/objects/media/a.png","type":"image","scheduled_time":"2025-03-01T12:00:00Z"}`
		c, rec := newContext(http.MethodPost, "/v1/screens/1/schedule", body, advertiser9, "id", "1")
		_ = h.AddItem(c)
		wantStatus(t, rec, http.StatusForbidden)
		if len(n.msgs) != 0 {
			t.Fatalf("no push expected")
		}
	})
	t.Run("pending booking", func(t *testing.T) {
		h, mock, _ := newContentHandler(t)
		expectOwner(mock, 1, 2)
		mock.ExpectQuery(regexp.QuoteMeta("FROM bookings WHERE id = ?")).
			WillReturnRows(bookingRows(bookingRow{17, 1, 9, "12:00", "14:00", "pending"}))
		body := `{"url":"/v1/objects/media/a.png","type":"image","scheduled_time":"2025-03-01T12:00:00Z","booking_id":17}`
		c, rec := newContext(http.MethodPost, "/v1/screens/1/schedule", body, advertiser9, "id", "1")
		_ = h.AddItem(c)
		wantStatus(t, rec, http.StatusForbidden)
	})
	t.Run("bad type", func(t *testing.T) {
		h, _, _ := newContentHandler(t)
		body := `{"url":"/v1/objects/media/a.svg","type":"svg","scheduled_time":"2025-03-01T12:00:00Z"}`
		c, rec := newContext(http.MethodPost, "/v1/screens/1/schedule", body, advertiser9, "id", "1")
		_ = h.AddItem(c)
		wantStatus(t, rec, http.StatusBadRequest)
	})
	t.Run("foreign url", func(t *testing.T) {
		h, _, _ := newContentHandler(t)
		body := `{"url":"https://cdn.example.com/a.png","type":"image","scheduled_time":"2025-03-01T12:00:00Z"}`
		c, rec := newContext(http.MethodPost, "/v1/screens/1/schedule", body, advertiser9, "id", "1")
		_ = h.AddItem(c)
		wantStatus(t, rec, http.StatusBadRequest)
	})
}
