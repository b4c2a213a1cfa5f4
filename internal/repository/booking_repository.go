package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/redsquare/screen-booking/internal/model"
)

// BookingRepo manages the bookings table.
type BookingRepo struct {
	db *sql.DB
}

func NewBookingRepo(db *sql.DB) *BookingRepo { return &BookingRepo{db: db} }

func (r *BookingRepo) DB() *sql.DB { return r.db }

const bookingColumns = `id, screen_id, advertiser_id, scheduled_date, scheduled_start_time, scheduled_end_time, status, total_price, created_at, updated_at`

// ListOccupying returns the bookings of screenID on date ("YYYY-MM-DD") whose
// status holds a slot (confirmed, paid, active), ordered by start time.
func (r *BookingRepo) ListOccupying(ctx context.Context, screenID uint64, date string) ([]model.Booking, error) {
	return listOccupying(ctx, r.db, screenID, date, false)
}

// ListOccupyingTx is ListOccupying inside tx, locking the rows it reads so
// two confirmations for the same screen and date serialize.
func (r *BookingRepo) ListOccupyingTx(ctx context.Context, tx *sql.Tx, screenID uint64, date string) ([]model.Booking, error) {
	return listOccupying(ctx, tx, screenID, date, true)
}

func listOccupying(ctx context.Context, q queryer, screenID uint64, date string, lock bool) ([]model.Booking, error) {
	query := `SELECT ` + bookingColumns + ` FROM bookings
	          WHERE screen_id = ? AND scheduled_date = ? AND status IN (?, ?, ?)
	          ORDER BY scheduled_start_time ASC, id ASC`
	if lock {
		query += ` FOR UPDATE`
	}
	args := []any{screenID, date}
	for _, s := range model.OccupyingStatuses {
		args = append(args, string(s))
	}
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []model.Booking{}
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *b)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBooking(s rowScanner) (*model.Booking, error) {
	var (
		b      model.Booking
		date   time.Time
		status string
	)
	if err := s.Scan(&b.ID, &b.ScreenID, &b.AdvertiserID, &date, &b.ScheduledStartTime, &b.ScheduledEndTime,
		&status, &b.TotalPrice, &b.CreatedAt, &b.UpdatedAt); err != nil {
		return nil, err
	}
	b.ScheduledDate = date.Format("2006-01-02")
	b.Status = model.BookingStatus(status)
	return &b, nil
}

// GetByID returns ErrBookingNotFound when no row matches.
func (r *BookingRepo) GetByID(ctx context.Context, id uint64) (*model.Booking, error) {
	b, err := scanBooking(r.db.QueryRowContext(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrBookingNotFound
	}
	return b, err
}

// GetByIDTx loads and locks a booking inside tx.
func (r *BookingRepo) GetByIDTx(ctx context.Context, tx *sql.Tx, id uint64) (*model.Booking, error) {
	b, err := scanBooking(tx.QueryRowContext(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE id = ? FOR UPDATE`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrBookingNotFound
	}
	return b, err
}

// CreateTx inserts b and assigns the generated ID. Status defaults to
// pending when empty. The caller commits or rolls back tx.
func (r *BookingRepo) CreateTx(ctx context.Context, tx *sql.Tx, b *model.Booking) error {
	if b.Status == "" {
		b.Status = model.BookingPending
	}
	const q = `INSERT INTO bookings (screen_id, advertiser_id, scheduled_date, scheduled_start_time, scheduled_end_time, status, total_price)
	           VALUES (?, ?, ?, ?, ?, ?, ?)`
	res, err := tx.ExecContext(ctx, q, b.ScreenID, b.AdvertiserID, b.ScheduledDate, b.ScheduledStartTime,
		b.ScheduledEndTime, string(b.Status), b.TotalPrice.StringFixed(2))
	if err != nil {
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	b.ID = uint64(id)
	return nil
}

// UpdateStatusTx moves a booking from one of the from statuses to to. It
// returns ErrConflict when the booking is not currently in any of them.
func (r *BookingRepo) UpdateStatusTx(ctx context.Context, tx *sql.Tx, id uint64, to model.BookingStatus, from ...model.BookingStatus) error {
	if len(from) == 0 {
		return fmt.Errorf("update booking %d: no source status given", id)
	}
	q := `UPDATE bookings SET status = ? WHERE id = ? AND status IN (?` + repeatPlaceholders(len(from)-1) + `)`
	args := []any{string(to), id}
	for _, s := range from {
		args = append(args, string(s))
	}
	res, err := tx.ExecContext(ctx, q, args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrConflict
	}
	return nil
}

func repeatPlaceholders(n int) string {
	s := ""
	for i := 0; i < n; i++ {
		s += ", ?"
	}
	return s
}
