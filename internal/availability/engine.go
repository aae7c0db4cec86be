// Package availability answers free/occupied queries over resources. It is
// a read-only projection of committed state and is inherently racy against
// concurrent commits: the booking coordinator re-validates under its own
// lock, so nothing here may be used as the sole gate before commit.
package availability

import (
	"context"
	"fmt"

	"kennelbook/internal/interval"
	"kennelbook/internal/models"
)

// Catalog resolves resources and category eligibility. Implemented by the
// database layer.
type Catalog interface {
	GetResource(ctx context.Context, tenantID, id string) (*models.Resource, error)
	ListResources(ctx context.Context, tenantID string, category models.ServiceCategory, activeOnly bool) ([]models.Resource, error)
}

// ResourceAvailability is the per-resource answer to a batch query.
type ResourceAvailability struct {
	ResourceID string   `json:"resource_id"`
	Free       bool     `json:"free"`
	Occupying  []string `json:"occupying,omitempty"` // reservation IDs
}

// IntervalAvailability is the per-interval answer for a single resource.
type IntervalAvailability struct {
	Interval models.Interval `json:"interval"`
	Free     bool            `json:"free"`
}

// Engine evaluates availability against the interval index.
type Engine struct {
	index   *interval.Index
	catalog Catalog
}

// NewEngine builds an engine over the given index and catalog.
func NewEngine(index *interval.Index, catalog Catalog) *Engine {
	return &Engine{index: index, catalog: catalog}
}

// Check answers one batch query: many resources against one interval.
// A resource is free when its overlapping active reservation count is below
// its capacity. Resources that are inactive or ineligible for the category
// are reported occupied with no occupying reservations.
func (e *Engine) Check(ctx context.Context, tenantID string, resourceIDs []string, category models.ServiceCategory, iv models.Interval) (map[string]ResourceAvailability, error) {
	if _, err := models.NewInterval(iv.Start, iv.End); err != nil {
		return nil, err
	}
	if category != "" && !models.ValidCategory(category) {
		return nil, fmt.Errorf("%w: unknown category %q", models.ErrConfiguration, category)
	}

	result := make(map[string]ResourceAvailability, len(resourceIDs))
	for _, id := range resourceIDs {
		res, err := e.catalog.GetResource(ctx, tenantID, id)
		if err != nil {
			return nil, err
		}
		result[id] = e.checkOne(res, category, iv)
	}
	return result, nil
}

// CheckIntervals answers the other batch shape: one resource against many
// candidate intervals.
func (e *Engine) CheckIntervals(ctx context.Context, tenantID, resourceID string, category models.ServiceCategory, intervals []models.Interval) ([]IntervalAvailability, error) {
	res, err := e.catalog.GetResource(ctx, tenantID, resourceID)
	if err != nil {
		return nil, err
	}

	answers := make([]IntervalAvailability, 0, len(intervals))
	for _, iv := range intervals {
		if _, err := models.NewInterval(iv.Start, iv.End); err != nil {
			return nil, err
		}
		ra := e.checkOne(res, category, iv)
		answers = append(answers, IntervalAvailability{Interval: iv, Free: ra.Free})
	}
	return answers, nil
}

// FreeResources returns the tenant's active resources of the category that
// are free for the interval. Used when a caller supplies no resource IDs
// and by the dispatcher to verify a freed slot is still claimable.
func (e *Engine) FreeResources(ctx context.Context, tenantID string, category models.ServiceCategory, iv models.Interval) ([]models.Resource, error) {
	if _, err := models.NewInterval(iv.Start, iv.End); err != nil {
		return nil, err
	}

	resources, err := e.catalog.ListResources(ctx, tenantID, category, true)
	if err != nil {
		return nil, err
	}

	var free []models.Resource
	for _, res := range resources {
		r := res
		if e.checkOne(&r, category, iv).Free {
			free = append(free, r)
		}
	}
	return free, nil
}

func (e *Engine) checkOne(res *models.Resource, category models.ServiceCategory, iv models.Interval) ResourceAvailability {
	answer := ResourceAvailability{ResourceID: res.ID}
	if !res.Active {
		return answer
	}
	if category != "" && res.Category != category {
		return answer
	}

	occupying := e.index.Overlapping(res.ID, iv.Start, iv.End)
	answer.Occupying = occupying
	answer.Free = len(occupying) < res.Capacity
	return answer
}
