package handler

import (
	"database/sql"
	"net/http/httptest"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/labstack/echo/v4"

	"github.com/redsquare/screen-booking/internal/middleware"
)

var (
	screenCols  = []string{"id", "owner_id", "name", "availability_start", "availability_end", "price_per_hour", "created_at", "updated_at"}
	bookingCols = []string{"id", "screen_id", "advertiser_id", "scheduled_date", "scheduled_start_time",
		"scheduled_end_time", "status", "total_price", "created_at", "updated_at"}
	testDay = time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
)

func newMock(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	t.Cleanup(func() {
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Errorf("expectations: %v", err)
		}
		db.Close()
	})
	return db, mock
}

// expectScreen answers one ScreenRepo.GetByID for a 09:00-18:00 screen at
// 120.00 per hour.
func expectScreen(mock sqlmock.Sqlmock, id, owner uint64) {
	now := time.Now().UTC()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, owner_id, name")).
		WithArgs(id).
		WillReturnRows(sqlmock.NewRows(screenCols).AddRow(id, owner, "Lobby", "09:00", "18:00", "120.00", now, now))
}

func expectOwner(mock sqlmock.Sqlmock, screenID, owner uint64) {
	mock.ExpectQuery(regexp.QuoteMeta("SELECT owner_id FROM screens")).
		WithArgs(screenID).
		WillReturnRows(sqlmock.NewRows([]string{"owner_id"}).AddRow(owner))
}

type bookingRow struct {
	id, screen, advertiser uint64
	start, end, status     string
}

func bookingRows(rows ...bookingRow) *sqlmock.Rows {
	now := time.Now().UTC()
	out := sqlmock.NewRows(bookingCols)
	for _, b := range rows {
		out.AddRow(b.id, b.screen, b.advertiser, testDay, b.start, b.end, b.status, "240.00", now, now)
	}
	return out
}

// identity is what JWTAuth would have stored on the context.
type identity struct {
	userID   uint64
	role     string
	screenID uint64
	deviceID string
}

func newContext(method, target, body string, id identity, params ...string) (echo.Context, *httptest.ResponseRecorder) {
	e := echo.New()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if body != "" {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	if len(params) > 0 {
		var names, values []string
		for i := 0; i+1 < len(params); i += 2 {
			names = append(names, params[i])
			values = append(values, params[i+1])
		}
		c.SetParamNames(names...)
		c.SetParamValues(values...)
	}
	if id.role != "" {
		c.Set(middleware.CtxRole, id.role)
	}
	if id.userID != 0 {
		c.Set(middleware.CtxUserID, id.userID)
	}
	if id.deviceID != "" {
		c.Set(middleware.CtxScreenID, id.screenID)
		c.Set(middleware.CtxDeviceID, id.deviceID)
	}
	return c, rec
}

func wantStatus(t *testing.T, rec *httptest.ResponseRecorder, code int) {
	t.Helper()
	if rec.Code != code {
		t.Fatalf("status = %d, want %d; body: %s", rec.Code, code, rec.Body.String())
	}
}
