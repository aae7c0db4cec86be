package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"kennelbook/internal/models"
)

const reservationColumns = `id, tenant_id, resource_id, requester_ref, start_time, end_time,
	status, hold_expires_at, external_ref, created_at, updated_at, version`

func scanReservation(scanner interface{ Scan(...any) error }) (*models.Reservation, error) {
	var r models.Reservation
	var status string
	var holdExpires sql.NullTime
	err := scanner.Scan(
		&r.ID, &r.TenantID, &r.ResourceID, &r.RequesterRef, &r.Start, &r.End,
		&status, &holdExpires, &r.ExternalRef, &r.CreatedAt, &r.UpdatedAt, &r.Version,
	)
	if err != nil {
		return nil, err
	}
	r.Status = models.ReservationStatus(status)
	if holdExpires.Valid {
		t := holdExpires.Time
		r.HoldExpiresAt = &t
	}
	return &r, nil
}

// CreateReservation inserts a new reservation row.
func (db *DB) CreateReservation(ctx context.Context, r *models.Reservation) error {
	now := time.Now().UTC()
	r.CreatedAt = now
	r.UpdatedAt = now
	if r.Version == 0 {
		r.Version = 1
	}

	var holdExpires any
	if r.HoldExpiresAt != nil {
		holdExpires = *r.HoldExpiresAt
	}

	_, err := db.ExecContext(ctx, `
		INSERT INTO reservations (id, tenant_id, resource_id, requester_ref, start_time, end_time,
			status, hold_expires_at, external_ref, created_at, updated_at, version)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.TenantID, r.ResourceID, r.RequesterRef, r.Start, r.End,
		string(r.Status), holdExpires, r.ExternalRef, r.CreatedAt, r.UpdatedAt, r.Version,
	)
	if err != nil {
		return fmt.Errorf("insert reservation: %w", err)
	}
	return nil
}

// GetReservation returns a reservation scoped to the tenant.
func (db *DB) GetReservation(ctx context.Context, tenantID, id string) (*models.Reservation, error) {
	row := db.QueryRowContext(ctx,
		`SELECT `+reservationColumns+` FROM reservations WHERE id = ? AND tenant_id = ?`,
		id, tenantID,
	)
	r, err := scanReservation(row)
	if err == sql.ErrNoRows {
		return nil, models.ErrReservationNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select reservation: %w", err)
	}
	return r, nil
}

// UpdateReservationStatus transitions a reservation's status with an
// optimistic version guard. The hold expiry is cleared on any transition
// out of PENDING.
func (db *DB) UpdateReservationStatus(ctx context.Context, id string, version int64, status models.ReservationStatus) error {
	res, err := db.ExecContext(ctx, `
		UPDATE reservations
		SET status = ?, hold_expires_at = NULL, updated_at = ?, version = version + 1
		WHERE id = ? AND version = ?`,
		string(status), time.Now().UTC(), id, version,
	)
	if err != nil {
		return fmt.Errorf("update reservation status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrConcurrentModification
	}
	return nil
}

// UpdateReservationInterval moves a reservation to a new interval, with the
// same version guard. Used by reschedule.
func (db *DB) UpdateReservationInterval(ctx context.Context, id string, version int64, start, end time.Time) error {
	res, err := db.ExecContext(ctx, `
		UPDATE reservations
		SET start_time = ?, end_time = ?, updated_at = ?, version = version + 1
		WHERE id = ? AND version = ?`,
		start, end, time.Now().UTC(), id, version,
	)
	if err != nil {
		return fmt.Errorf("update reservation interval: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrConcurrentModification
	}
	return nil
}

// ListOccupyingReservations returns every reservation in an occupying
// status, across tenants. Used to rebuild the interval index on startup.
func (db *DB) ListOccupyingReservations(ctx context.Context) ([]models.Reservation, error) {
	return db.queryReservations(ctx, `
		SELECT `+reservationColumns+` FROM reservations
		WHERE status IN ('PENDING', 'CONFIRMED', 'CHECKED_IN')
		ORDER BY start_time`)
}

// ListExpiredHolds returns PENDING reservations whose hold window has
// passed. Consumed by the sweeper.
func (db *DB) ListExpiredHolds(ctx context.Context, now time.Time) ([]models.Reservation, error) {
	return db.queryReservations(ctx, `
		SELECT `+reservationColumns+` FROM reservations
		WHERE status = 'PENDING' AND hold_expires_at IS NOT NULL AND hold_expires_at <= ?
		ORDER BY hold_expires_at`, now)
}

// CountActiveByRequester counts a requester's occupying reservations,
// for the max-active-per-requester rule.
func (db *DB) CountActiveByRequester(ctx context.Context, tenantID, requesterRef string) (int, error) {
	var count int
	err := db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM reservations
		WHERE tenant_id = ? AND requester_ref = ?
		AND status IN ('PENDING', 'CONFIRMED', 'CHECKED_IN')`,
		tenantID, requesterRef,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count active reservations: %w", err)
	}
	return count, nil
}

// ListReservationsByRange returns the tenant's reservations intersecting
// [start, end), any status. Used for reporting.
func (db *DB) ListReservationsByRange(ctx context.Context, tenantID string, start, end time.Time) ([]models.Reservation, error) {
	return db.queryReservations(ctx, `
		SELECT `+reservationColumns+` FROM reservations
		WHERE tenant_id = ? AND start_time < ? AND end_time > ?
		ORDER BY start_time`, tenantID, end, start)
}

func (db *DB) queryReservations(ctx context.Context, query string, args ...any) ([]models.Reservation, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("select reservations: %w", err)
	}
	defer rows.Close()

	var reservations []models.Reservation
	for rows.Next() {
		r, err := scanReservation(rows)
		if err != nil {
			return nil, fmt.Errorf("scan reservation: %w", err)
		}
		reservations = append(reservations, *r)
	}
	return reservations, rows.Err()
}
