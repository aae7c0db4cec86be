package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"kennelbook/internal/models"
)

// CreateResource inserts a new bookable resource.
func (db *DB) CreateResource(ctx context.Context, r *models.Resource) error {
	now := time.Now().UTC()
	r.CreatedAt = now
	r.UpdatedAt = now
	if r.Capacity <= 0 {
		r.Capacity = 1
	}

	_, err := db.ExecContext(ctx, `
		INSERT INTO resources (id, tenant_id, name, category, capacity, staff, is_active, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.TenantID, r.Name, string(r.Category), r.Capacity, r.Staff, r.Active, r.CreatedAt, r.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert resource: %w", err)
	}
	return nil
}

// GetResource returns a resource scoped to the tenant.
func (db *DB) GetResource(ctx context.Context, tenantID, id string) (*models.Resource, error) {
	var r models.Resource
	var category string
	err := db.QueryRowContext(ctx, `
		SELECT id, tenant_id, name, category, capacity, staff, is_active, created_at, updated_at
		FROM resources WHERE id = ? AND tenant_id = ?`,
		id, tenantID,
	).Scan(&r.ID, &r.TenantID, &r.Name, &category, &r.Capacity, &r.Staff, &r.Active, &r.CreatedAt, &r.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, models.ErrResourceNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select resource: %w", err)
	}
	r.Category = models.ServiceCategory(category)
	return &r, nil
}

// ListResources returns resources for a tenant, optionally filtered by
// category and active flag.
func (db *DB) ListResources(ctx context.Context, tenantID string, category models.ServiceCategory, activeOnly bool) ([]models.Resource, error) {
	query := `
		SELECT id, tenant_id, name, category, capacity, staff, is_active, created_at, updated_at
		FROM resources WHERE tenant_id = ?`
	args := []any{tenantID}

	if category != "" {
		query += " AND category = ?"
		args = append(args, string(category))
	}
	if activeOnly {
		query += " AND is_active = 1"
	}
	query += " ORDER BY name"

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("select resources: %w", err)
	}
	defer rows.Close()

	var resources []models.Resource
	for rows.Next() {
		var r models.Resource
		var cat string
		if err := rows.Scan(&r.ID, &r.TenantID, &r.Name, &cat, &r.Capacity, &r.Staff, &r.Active, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan resource: %w", err)
		}
		r.Category = models.ServiceCategory(cat)
		resources = append(resources, r)
	}
	return resources, rows.Err()
}

// UpdateResourceCapacity sets a new capacity and returns the previous one.
func (db *DB) UpdateResourceCapacity(ctx context.Context, tenantID, id string, capacity int) (int, error) {
	if capacity <= 0 {
		return 0, fmt.Errorf("%w: capacity must be positive", models.ErrConfiguration)
	}

	prev, err := db.GetResource(ctx, tenantID, id)
	if err != nil {
		return 0, err
	}

	_, err = db.ExecContext(ctx,
		`UPDATE resources SET capacity = ?, updated_at = ? WHERE id = ? AND tenant_id = ?`,
		capacity, time.Now().UTC(), id, tenantID,
	)
	if err != nil {
		return 0, fmt.Errorf("update capacity: %w", err)
	}
	return prev.Capacity, nil
}

// SetResourceActive soft-activates or soft-deactivates a resource. Resources
// referenced by reservations are never deleted.
func (db *DB) SetResourceActive(ctx context.Context, tenantID, id string, active bool) error {
	res, err := db.ExecContext(ctx,
		`UPDATE resources SET is_active = ?, updated_at = ? WHERE id = ? AND tenant_id = ?`,
		active, time.Now().UTC(), id, tenantID,
	)
	if err != nil {
		return fmt.Errorf("update active flag: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return models.ErrResourceNotFound
	}
	return nil
}
