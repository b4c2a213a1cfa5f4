package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/redsquare/screen-booking/internal/model"
)

// ScreenRepo reads screen rows. Screens are created and edited by the
// dashboard, so this repository is read-only.
type ScreenRepo struct {
	db *sql.DB
}

func NewScreenRepo(db *sql.DB) *ScreenRepo { return &ScreenRepo{db: db} }

// DB exposes the handle so callers can run transactions that span
// repositories.
func (r *ScreenRepo) DB() *sql.DB { return r.db }

const screenColumns = `id, owner_id, name, availability_start, availability_end, price_per_hour, created_at, updated_at`

// GetByID returns ErrScreenNotFound when no row matches.
func (r *ScreenRepo) GetByID(ctx context.Context, id uint64) (*model.Screen, error) {
	var s model.Screen
	err := r.db.QueryRowContext(ctx, `SELECT `+screenColumns+` FROM screens WHERE id = ?`, id).Scan(
		&s.ID, &s.OwnerID, &s.Name, &s.AvailabilityStart, &s.AvailabilityEnd, &s.PricePerHour, &s.CreatedAt, &s.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrScreenNotFound
		}
		return nil, err
	}
	return &s, nil
}

// OwnedBy reports whether ownerID owns the screen.
func (r *ScreenRepo) OwnedBy(ctx context.Context, screenID, ownerID uint64) (bool, error) {
	var owner uint64
	err := r.db.QueryRowContext(ctx, `SELECT owner_id FROM screens WHERE id = ?`, screenID).Scan(&owner)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, ErrScreenNotFound
		}
		return false, err
	}
	return owner == ownerID, nil
}
