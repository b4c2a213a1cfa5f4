package repository

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
)

func TestScreenRepo_GetByID(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	now := time.Now().UTC()
	mock.ExpectQuery(regexp.QuoteMeta("FROM screens WHERE id = ?")).
		WithArgs(uint64(1)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "owner_id", "name", "availability_start", "availability_end", "price_per_hour", "created_at", "updated_at"}).
			AddRow(1, 2, "Lobby", "09:00", "17:00", "55.50", now, now))

	s, err := NewScreenRepo(db).GetByID(context.Background(), 1)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if s.Name != "Lobby" || s.AvailabilityStart != "09:00" || s.PricePerHour.String() != "55.5" {
		t.Fatalf("unexpected screen: %+v", s)
	}
}

func TestScreenRepo_GetByIDNotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	mock.ExpectQuery(regexp.QuoteMeta("FROM screens WHERE id = ?")).
		WithArgs(uint64(99)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	if _, err := NewScreenRepo(db).GetByID(context.Background(), 99); !errors.Is(err, ErrScreenNotFound) {
		t.Fatalf("expected ErrScreenNotFound, got %v", err)
	}
}
