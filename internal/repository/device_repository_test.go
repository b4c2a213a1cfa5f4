package repository

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/redsquare/screen-booking/internal/model"
)

func TestDeviceRepo_UpsertInsertsUnknownDevice(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	d := &model.Device{DeviceID: "dev-1", ScreenID: 1, Status: "paired", AppVersion: "1.0.0", PairedAt: now, LastSeenAt: now}

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT device_id FROM screen_devices WHERE device_id = ? FOR UPDATE")).
		WithArgs("dev-1").
		WillReturnError(sql.ErrNoRows)
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO screen_devices")).
		WithArgs("dev-1", uint64(1), "paired", "1.0.0", now, now).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	ctx := context.Background()
	tx, _ := db.BeginTx(ctx, nil)
	if err := NewDeviceRepo(db).UpsertDeviceTx(ctx, tx, d); err != nil {
		t.Fatalf("UpsertDeviceTx: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestDeviceRepo_UpsertUpdatesKnownDevice(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	d := &model.Device{DeviceID: "dev-1", ScreenID: 2, Status: "paired", PairedAt: now, LastSeenAt: now}

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("FOR UPDATE")).
		WithArgs("dev-1").
		WillReturnRows(sqlmock.NewRows([]string{"device_id"}).AddRow("dev-1"))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE screen_devices SET screen_id = ?")).
		WithArgs(uint64(2), "paired", "", now, now, "dev-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	ctx := context.Background()
	tx, _ := db.BeginTx(ctx, nil)
	if err := NewDeviceRepo(db).UpsertDeviceTx(ctx, tx, d); err != nil {
		t.Fatalf("UpsertDeviceTx: %v", err)
	}
	_ = tx.Commit()
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestDeviceRepo_TouchUnknownDevice(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	mock.ExpectExec(regexp.QuoteMeta("UPDATE screen_devices SET status = ?")).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err = NewDeviceRepo(db).Touch(context.Background(), "dev-x", 1, "online", "1.0.0", time.Now())
	if !errors.Is(err, ErrDeviceNotFound) {
		t.Fatalf("expected ErrDeviceNotFound, got %v", err)
	}
}
