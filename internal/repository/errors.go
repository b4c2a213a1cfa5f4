// Package repository contains MySQL data access for screens, bookings,
// content schedules and paired devices. The sentinel errors below let
// handlers tell missing rows and state conflicts apart from database
// failures.
package repository

import (
	"context"
	"database/sql"
	"errors"
)

var (
	ErrScreenNotFound  = errors.New("screen not found")
	ErrBookingNotFound = errors.New("booking not found")
	ErrDeviceNotFound  = errors.New("device not found")

	// ErrForbidden is returned when the caller does not own the resource.
	ErrForbidden = errors.New("forbidden")

	// ErrConflict signals that the row is not in a state that permits the
	// requested transition, e.g. confirming a cancelled booking.
	ErrConflict = errors.New("conflict")
)

// queryer is satisfied by both *sql.DB and *sql.Tx.
type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}
