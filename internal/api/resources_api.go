package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"

	"kennelbook/internal/events"
	"kennelbook/internal/metrics"
	"kennelbook/internal/models"
)

// CreateResourceRequest is the request body for POST /api/resources.
type CreateResourceRequest struct {
	Name     string `json:"name"`
	Category string `json:"category"`
	Capacity int    `json:"capacity,omitempty"`
	Staff    string `json:"staff,omitempty"`
}

// handleResources creates or lists resources.
// POST /api/resources, GET /api/resources?category=...
func (s *HTTPServer) handleResources(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("resources")
	switch r.Method {
	case http.MethodGet:
		resources, err := s.db.ListResources(r.Context(), tenantFrom(r),
			models.ServiceCategory(r.URL.Query().Get("category")), false)
		if err != nil {
			s.writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, resources)
	case http.MethodPost:
		s.createResource(w, r)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "use GET or POST")
	}
}

func (s *HTTPServer) createResource(w http.ResponseWriter, r *http.Request) {
	var req CreateResourceRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid JSON body")
		return
	}
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "name is required")
		return
	}
	category := models.ServiceCategory(req.Category)
	if !models.ValidCategory(category) {
		writeError(w, http.StatusBadRequest, "invalid_request", "unknown category")
		return
	}

	resource := &models.Resource{
		ID:       uuid.NewString(),
		TenantID: tenantFrom(r),
		Name:     req.Name,
		Category: category,
		Capacity: req.Capacity,
		Staff:    req.Staff,
		Active:   true,
	}
	if err := s.db.CreateResource(r.Context(), resource); err != nil {
		s.writeMappedError(w, err)
		return
	}

	s.publishCapacityAdded(resource)
	writeJSON(w, http.StatusCreated, resource)
}

// CapacityRequest is the request body for POST /api/resources/capacity.
type CapacityRequest struct {
	ResourceID string `json:"resource_id"`
	Capacity   int    `json:"capacity"`
}

// handleResourceCapacity adjusts a resource's capacity. A capacity increase
// frees slots, so it publishes an availability-changed event that wakes the
// dispatcher.
// POST /api/resources/capacity
func (s *HTTPServer) handleResourceCapacity(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("resource_capacity")
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "use POST")
		return
	}

	var req CapacityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid JSON body")
		return
	}
	if req.ResourceID == "" || req.Capacity < 1 {
		writeError(w, http.StatusBadRequest, "invalid_request", "resource_id and a capacity of at least 1 are required")
		return
	}
	tenantID := tenantFrom(r)

	previous, err := s.db.UpdateResourceCapacity(r.Context(), tenantID, req.ResourceID, req.Capacity)
	if err != nil {
		s.writeMappedError(w, err)
		return
	}

	if req.Capacity > previous {
		resource, err := s.db.GetResource(r.Context(), tenantID, req.ResourceID)
		if err == nil {
			s.publishCapacityAdded(resource)
		}
	}
	s.invalidateCache(r, req.ResourceID)
	writeJSON(w, http.StatusOK, map[string]int{"previous_capacity": previous, "capacity": req.Capacity})
}

// ActiveRequest is the request body for POST /api/resources/active.
type ActiveRequest struct {
	ResourceID string `json:"resource_id"`
	Active     bool   `json:"active"`
}

// handleResourceActive soft-activates or deactivates a resource. Inactive
// resources keep their reservation history but stop matching and booking.
// POST /api/resources/active
func (s *HTTPServer) handleResourceActive(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("resource_active")
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "use POST")
		return
	}

	var req ActiveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid JSON body")
		return
	}
	if req.ResourceID == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "resource_id is required")
		return
	}

	if err := s.db.SetResourceActive(r.Context(), tenantFrom(r), req.ResourceID, req.Active); err != nil {
		s.writeMappedError(w, err)
		return
	}
	s.invalidateCache(r, req.ResourceID)
	writeJSON(w, http.StatusOK, map[string]bool{"active": req.Active})
}

// capacityEventHorizon bounds the freed window announced for new capacity.
const capacityEventHorizon = 90 * 24 * time.Hour

func (s *HTTPServer) publishCapacityAdded(resource *models.Resource) {
	now := time.Now().UTC()
	s.bus.Publish(events.AvailabilityChanged{
		TenantID:   resource.TenantID,
		ResourceID: resource.ID,
		Start:      now,
		End:        now.Add(capacityEventHorizon),
		Cause:      events.CauseCapacityAdded,
	})
}

// handleReport streams the XLSX booking report.
// GET /api/report?from=...&to=...
func (s *HTTPServer) handleReport(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("report")
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "use GET")
		return
	}

	from, err := parseTime(r.URL.Query().Get("from"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "from must be RFC 3339")
		return
	}
	to, err := parseTime(r.URL.Query().Get("to"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "to must be RFC 3339")
		return
	}

	buf, err := s.exporter.Export(r.Context(), tenantFrom(r), from, to)
	if err != nil {
		s.writeMappedError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", `attachment; filename="bookings.xlsx"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}
