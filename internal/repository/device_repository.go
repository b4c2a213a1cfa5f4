package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/redsquare/screen-booking/internal/model"
)

// DeviceRepo persists pairing codes and paired players.
type DeviceRepo struct {
	db *sql.DB
}

func NewDeviceRepo(db *sql.DB) *DeviceRepo { return &DeviceRepo{db: db} }

func (r *DeviceRepo) DB() *sql.DB { return r.db }

// CreatePairing stores the hash of a new pairing code for screenID.
func (r *DeviceRepo) CreatePairing(ctx context.Context, screenID uint64, codeHash string, expiresAt time.Time) (uint64, error) {
	res, err := r.db.ExecContext(ctx,
		`INSERT INTO screen_pairings (screen_id, code_hash, expires_at) VALUES (?, ?, ?)`,
		screenID, codeHash, expiresAt.UTC())
	if err != nil {
		return 0, err
	}
	id, err := res.LastInsertId()
	return uint64(id), err
}

// ActivePairingsTx returns unused, unexpired pairings of screenID, locked
// for the remainder of tx.
func (r *DeviceRepo) ActivePairingsTx(ctx context.Context, tx *sql.Tx, screenID uint64, now time.Time) ([]model.Pairing, error) {
	const q = `SELECT id, screen_id, code_hash, expires_at FROM screen_pairings
	           WHERE screen_id = ? AND used_at IS NULL AND expires_at > ?
	           ORDER BY id DESC FOR UPDATE`
	rows, err := tx.QueryContext(ctx, q, screenID, now.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.Pairing
	for rows.Next() {
		var p model.Pairing
		if err := rows.Scan(&p.ID, &p.ScreenID, &p.CodeHash, &p.ExpiresAt); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// MarkPairingUsedTx consumes a pairing code.
func (r *DeviceRepo) MarkPairingUsedTx(ctx context.Context, tx *sql.Tx, id uint64, now time.Time) error {
	_, err := tx.ExecContext(ctx, `UPDATE screen_pairings SET used_at = ? WHERE id = ?`, now.UTC(), id)
	return err
}

// UpsertDeviceTx inserts d or, when the device id is already known, moves it
// to d.ScreenID and refreshes its pairing and last-seen times.
func (r *DeviceRepo) UpsertDeviceTx(ctx context.Context, tx *sql.Tx, d *model.Device) error {
	var existing string
	err := tx.QueryRowContext(ctx, `SELECT device_id FROM screen_devices WHERE device_id = ? FOR UPDATE`, d.DeviceID).Scan(&existing)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		_, err = tx.ExecContext(ctx,
			`INSERT INTO screen_devices (device_id, screen_id, status, app_version, paired_at, last_seen_at) VALUES (?, ?, ?, ?, ?, ?)`,
			d.DeviceID, d.ScreenID, d.Status, d.AppVersion, d.PairedAt.UTC(), d.LastSeenAt.UTC())
		return err
	case err != nil:
		return err
	}
	_, err = tx.ExecContext(ctx,
		`UPDATE screen_devices SET screen_id = ?, status = ?, app_version = ?, paired_at = ?, last_seen_at = ? WHERE device_id = ?`,
		d.ScreenID, d.Status, d.AppVersion, d.PairedAt.UTC(), d.LastSeenAt.UTC(), d.DeviceID)
	return err
}

// Touch records a heartbeat. It returns ErrDeviceNotFound when the device is
// not paired with screenID.
func (r *DeviceRepo) Touch(ctx context.Context, deviceID string, screenID uint64, status, appVersion string, now time.Time) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE screen_devices SET status = ?, app_version = ?, last_seen_at = ? WHERE device_id = ? AND screen_id = ?`,
		status, appVersion, now.UTC(), deviceID, screenID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrDeviceNotFound
	}
	return nil
}

// Get loads a device row.
func (r *DeviceRepo) Get(ctx context.Context, deviceID string) (*model.Device, error) {
	var d model.Device
	err := r.db.QueryRowContext(ctx,
		`SELECT device_id, screen_id, status, app_version, paired_at, last_seen_at FROM screen_devices WHERE device_id = ?`,
		deviceID).Scan(&d.DeviceID, &d.ScreenID, &d.Status, &d.AppVersion, &d.PairedAt, &d.LastSeenAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrDeviceNotFound
	}
	if err != nil {
		return nil, err
	}
	return &d, nil
}
