package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/redsquare/screen-booking/internal/model"
)

// ContentRepo stores the rows that make up each screen's content schedule.
type ContentRepo struct {
	db *sql.DB
}

func NewContentRepo(db *sql.DB) *ContentRepo { return &ContentRepo{db: db} }

// ListForScreen returns the items of screenID scheduled at or after since,
// ordered by scheduled time.
func (r *ContentRepo) ListForScreen(ctx context.Context, screenID uint64, since time.Time) ([]model.ContentItem, error) {
	const q = `SELECT id, screen_id, booking_id, url, content_type, scheduled_time, duration_seconds
	           FROM content_schedules
	           WHERE screen_id = ? AND scheduled_time >= ?
	           ORDER BY scheduled_time ASC, id ASC`
	rows, err := r.db.QueryContext(ctx, q, screenID, since.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := []model.ContentItem{}
	for rows.Next() {
		var (
			it        model.ContentItem
			bookingID sql.NullInt64
			kind      string
			duration  sql.NullInt32
		)
		if err := rows.Scan(&it.ID, &it.ScreenID, &bookingID, &it.URL, &kind, &it.ScheduledTime, &duration); err != nil {
			return nil, err
		}
		if bookingID.Valid {
			v := uint64(bookingID.Int64)
			it.BookingID = &v
		}
		if duration.Valid {
			it.DurationSeconds = int(duration.Int32)
		}
		it.Type = model.ContentType(kind)
		it.ScheduledTime = it.ScheduledTime.UTC()
		items = append(items, it)
	}
	return items, rows.Err()
}

// Create inserts it and assigns the generated ID. A zero duration is stored
// as NULL so readers apply the default.
func (r *ContentRepo) Create(ctx context.Context, it *model.ContentItem) error {
	const q = `INSERT INTO content_schedules (screen_id, booking_id, url, content_type, scheduled_time, duration_seconds)
	           VALUES (?, ?, ?, ?, ?, ?)`
	var duration sql.NullInt32
	if it.DurationSeconds > 0 {
		duration = sql.NullInt32{Int32: int32(it.DurationSeconds), Valid: true}
	}
	var bookingID sql.NullInt64
	if it.BookingID != nil {
		bookingID = sql.NullInt64{Int64: int64(*it.BookingID), Valid: true}
	}
	res, err := r.db.ExecContext(ctx, q, it.ScreenID, bookingID, it.URL, string(it.Type), it.ScheduledTime.UTC(), duration)
	if err != nil {
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	it.ID = uint64(id)
	return nil
}
