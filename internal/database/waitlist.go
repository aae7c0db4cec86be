package database

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"kennelbook/internal/models"
)

const waitlistColumns = `id, tenant_id, requester_ref, category, requested_start, requested_end,
	flexible, flex_days, preferred_resource, preferred_staff, priority, status, expires_at,
	offer_count, offered_resource, offered_start, offered_end, offer_expires_at,
	converted_reservation, created_at, updated_at`

func scanWaitlistEntry(scanner interface{ Scan(...any) error }) (*models.WaitlistEntry, error) {
	var e models.WaitlistEntry
	var category, status string
	var requestedEnd, offeredStart, offeredEnd, offerExpires sql.NullTime
	err := scanner.Scan(
		&e.ID, &e.TenantID, &e.RequesterRef, &category, &e.RequestedStart, &requestedEnd,
		&e.Flexible, &e.FlexDays, &e.PreferredResource, &e.PreferredStaff, &e.Priority, &status, &e.ExpiresAt,
		&e.OfferCount, &e.OfferedResource, &offeredStart, &offeredEnd, &offerExpires,
		&e.ConvertedReservation, &e.CreatedAt, &e.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	e.Category = models.ServiceCategory(category)
	e.Status = models.WaitlistStatus(status)
	if requestedEnd.Valid {
		t := requestedEnd.Time
		e.RequestedEnd = &t
	}
	if offeredStart.Valid {
		e.OfferedStart = offeredStart.Time
	}
	if offeredEnd.Valid {
		e.OfferedEnd = offeredEnd.Time
	}
	if offerExpires.Valid {
		e.OfferExpiresAt = offerExpires.Time
	}
	return &e, nil
}

// CreateWaitlistEntry inserts a new entry.
func (db *DB) CreateWaitlistEntry(ctx context.Context, e *models.WaitlistEntry) error {
	now := time.Now().UTC()
	e.CreatedAt = now
	e.UpdatedAt = now

	var requestedEnd any
	if e.RequestedEnd != nil {
		requestedEnd = *e.RequestedEnd
	}

	_, err := db.ExecContext(ctx, `
		INSERT INTO waitlist_entries (id, tenant_id, requester_ref, category, requested_start, requested_end,
			flexible, flex_days, preferred_resource, preferred_staff, priority, status, expires_at,
			offer_count, converted_reservation, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0, '', ?, ?)`,
		e.ID, e.TenantID, e.RequesterRef, string(e.Category), e.RequestedStart, requestedEnd,
		e.Flexible, e.FlexDays, e.PreferredResource, e.PreferredStaff, e.Priority, string(e.Status), e.ExpiresAt,
		e.CreatedAt, e.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert waitlist entry: %w", err)
	}
	return nil
}

// GetWaitlistEntry returns an entry scoped to the tenant.
func (db *DB) GetWaitlistEntry(ctx context.Context, tenantID, id string) (*models.WaitlistEntry, error) {
	row := db.QueryRowContext(ctx,
		`SELECT `+waitlistColumns+` FROM waitlist_entries WHERE id = ? AND tenant_id = ?`,
		id, tenantID,
	)
	e, err := scanWaitlistEntry(row)
	if err == sql.ErrNoRows {
		return nil, models.ErrEntryNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select waitlist entry: %w", err)
	}
	return e, nil
}

// ListWaitlistEntries returns entries for a tenant, optionally filtered by
// statuses and category. Nil statuses means all.
func (db *DB) ListWaitlistEntries(ctx context.Context, tenantID string, statuses []models.WaitlistStatus, category models.ServiceCategory) ([]models.WaitlistEntry, error) {
	query := `SELECT ` + waitlistColumns + ` FROM waitlist_entries WHERE tenant_id = ?`
	args := []any{tenantID}

	if len(statuses) > 0 {
		placeholders := make([]string, len(statuses))
		for i, s := range statuses {
			placeholders[i] = "?"
			args = append(args, string(s))
		}
		query += " AND status IN (" + strings.Join(placeholders, ", ") + ")"
	}
	if category != "" {
		query += " AND category = ?"
		args = append(args, string(category))
	}
	query += " ORDER BY priority, created_at"

	return db.queryWaitlistEntries(ctx, query, args...)
}

// HasActiveDuplicate reports whether an ACTIVE or OFFERED entry already
// exists for the same (requester, interval, category) demand. Start-only
// demand duplicates only other start-only demand; IS matches the NULL end.
func (db *DB) HasActiveDuplicate(ctx context.Context, tenantID, requesterRef string, category models.ServiceCategory, requestedStart time.Time, requestedEnd *time.Time) (bool, error) {
	var end any
	if requestedEnd != nil {
		end = *requestedEnd
	}

	var count int
	err := db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM waitlist_entries
		WHERE tenant_id = ? AND requester_ref = ? AND category = ?
		AND requested_start = ? AND requested_end IS ?
		AND status IN ('ACTIVE', 'OFFERED')`,
		tenantID, requesterRef, string(category), requestedStart, end,
	).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("check duplicate entry: %w", err)
	}
	return count > 0, nil
}

// MarkOffered atomically transitions an ACTIVE entry to OFFERED, records
// the offered slot and bumps the offer count. Returns false if the entry
// was no longer ACTIVE.
func (db *DB) MarkOffered(ctx context.Context, id, resourceID string, start, end, offerExpiresAt time.Time) (bool, error) {
	res, err := db.ExecContext(ctx, `
		UPDATE waitlist_entries
		SET status = 'OFFERED', offered_resource = ?, offered_start = ?, offered_end = ?,
			offer_expires_at = ?, offer_count = offer_count + 1, updated_at = ?
		WHERE id = ? AND status = 'ACTIVE'`,
		resourceID, start, end, offerExpiresAt, time.Now().UTC(), id,
	)
	if err != nil {
		return false, fmt.Errorf("mark offered: %w", err)
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// TransitionWaitlistStatus is the single compare-and-swap guard every offer
// resolution goes through: accept, decline and expiry race on it and exactly
// one wins. Offer fields are cleared when leaving OFFERED.
func (db *DB) TransitionWaitlistStatus(ctx context.Context, id string, from, to models.WaitlistStatus) (bool, error) {
	query := `UPDATE waitlist_entries SET status = ?, updated_at = ?`
	if from == models.WaitlistOffered && to != models.WaitlistConverted {
		query += `, offered_resource = '', offered_start = NULL, offered_end = NULL, offer_expires_at = NULL`
	}
	query += ` WHERE id = ? AND status = ?`

	res, err := db.ExecContext(ctx, query, string(to), time.Now().UTC(), id, string(from))
	if err != nil {
		return false, fmt.Errorf("transition waitlist status: %w", err)
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// LinkConvertedReservation records the reservation produced by a conversion.
func (db *DB) LinkConvertedReservation(ctx context.Context, id, reservationID string) error {
	_, err := db.ExecContext(ctx, `
		UPDATE waitlist_entries SET converted_reservation = ?, updated_at = ? WHERE id = ?`,
		reservationID, time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("link converted reservation: %w", err)
	}
	return nil
}

// ListExpiredOffers returns OFFERED entries whose offer window has lapsed.
func (db *DB) ListExpiredOffers(ctx context.Context, now time.Time) ([]models.WaitlistEntry, error) {
	return db.queryWaitlistEntries(ctx, `
		SELECT `+waitlistColumns+` FROM waitlist_entries
		WHERE status = 'OFFERED' AND offer_expires_at IS NOT NULL AND offer_expires_at <= ?
		ORDER BY offer_expires_at`, now)
}

// ListExpiredWaitlist returns ACTIVE entries past their overall expiry.
func (db *DB) ListExpiredWaitlist(ctx context.Context, now time.Time) ([]models.WaitlistEntry, error) {
	return db.queryWaitlistEntries(ctx, `
		SELECT `+waitlistColumns+` FROM waitlist_entries
		WHERE status = 'ACTIVE' AND expires_at <= ?
		ORDER BY expires_at`, now)
}

func (db *DB) queryWaitlistEntries(ctx context.Context, query string, args ...any) ([]models.WaitlistEntry, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("select waitlist entries: %w", err)
	}
	defer rows.Close()

	var entries []models.WaitlistEntry
	for rows.Next() {
		e, err := scanWaitlistEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan waitlist entry: %w", err)
		}
		entries = append(entries, *e)
	}
	return entries, rows.Err()
}
