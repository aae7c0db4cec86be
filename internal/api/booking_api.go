package api

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"kennelbook/internal/booking"
	"kennelbook/internal/metrics"
	"kennelbook/internal/models"
)

// ReserveRequest is the request body for POST /api/reserve.
type ReserveRequest struct {
	ResourceID   string `json:"resource_id"`
	RequesterRef string `json:"requester_ref"`
	Start        string `json:"start"` // RFC 3339
	End          string `json:"end"`   // RFC 3339
	Confirm      bool   `json:"confirm,omitempty"`
	ExternalRef  string `json:"external_ref,omitempty"`
}

// handleReserve commits a reservation, or a time-boxed hold unless confirm
// is set. A conflict response carries the waitlist eligibility hint.
// POST /api/reserve
func (s *HTTPServer) handleReserve(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("reserve")
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "use POST")
		return
	}

	var req ReserveRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid JSON body")
		return
	}
	if req.ResourceID == "" || req.RequesterRef == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "resource_id and requester_ref are required")
		return
	}
	start, err := parseTime(req.Start)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "start must be RFC 3339")
		return
	}
	end, err := parseTime(req.End)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "end must be RFC 3339")
		return
	}

	reservation, err := s.coord.Reserve(r.Context(), tenantFrom(r), req.ResourceID, req.RequesterRef,
		start, end, booking.ReserveOptions{Confirm: req.Confirm, ExternalRef: req.ExternalRef})
	if err != nil {
		s.writeMappedError(w, err)
		return
	}
	s.invalidateCache(r, req.ResourceID)
	writeJSON(w, http.StatusCreated, reservation)
}

// CancelRequest is the request body for POST /api/cancel.
type CancelRequest struct {
	ReservationID string `json:"reservation_id"`
	Reason        string `json:"reason,omitempty"`
}

// handleCancel cancels a reservation. Idempotent.
// POST /api/cancel
func (s *HTTPServer) handleCancel(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("cancel")
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "use POST")
		return
	}

	var req CancelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid JSON body")
		return
	}
	if req.ReservationID == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "reservation_id is required")
		return
	}
	reason := req.Reason
	if reason == "" {
		reason = "customer_request"
	}

	if err := s.coord.Cancel(r.Context(), tenantFrom(r), req.ReservationID, reason); err != nil {
		s.writeMappedError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cancelled"})
}

// RescheduleRequest is the body for the reschedule action.
type RescheduleRequest struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

// handleReservationAction routes lifecycle actions on one reservation.
// POST /api/reservations/{id}/{confirm|checkin|checkout|no-show|reschedule}
func (s *HTTPServer) handleReservationAction(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("reservation_action")
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "use POST")
		return
	}

	parts := strings.Split(strings.TrimPrefix(r.URL.Path, "/api/reservations/"), "/")
	if len(parts) != 2 || parts[0] == "" {
		writeError(w, http.StatusNotFound, "not_found", "expected /api/reservations/{id}/{action}")
		return
	}
	id, action := parts[0], parts[1]
	tenantID := tenantFrom(r)

	var reservation *models.Reservation
	var err error
	switch action {
	case "confirm":
		reservation, err = s.coord.Confirm(r.Context(), tenantID, id)
	case "checkin":
		reservation, err = s.coord.CheckIn(r.Context(), tenantID, id)
	case "checkout":
		reservation, err = s.coord.CheckOut(r.Context(), tenantID, id)
	case "no-show":
		reservation, err = s.coord.MarkNoShow(r.Context(), tenantID, id)
	case "reschedule":
		var req RescheduleRequest
		if decodeErr := json.NewDecoder(r.Body).Decode(&req); decodeErr != nil {
			writeError(w, http.StatusBadRequest, "invalid_json", "invalid JSON body")
			return
		}
		var start, end time.Time
		start, err = parseTime(req.Start)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request", "start must be RFC 3339")
			return
		}
		end, err = parseTime(req.End)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request", "end must be RFC 3339")
			return
		}
		reservation, err = s.coord.Reschedule(r.Context(), tenantID, id, start, end)
	default:
		writeError(w, http.StatusNotFound, "not_found", "unknown action")
		return
	}

	if err != nil {
		s.writeMappedError(w, err)
		return
	}
	s.invalidateCache(r, reservation.ResourceID)
	writeJSON(w, http.StatusOK, reservation)
}

// invalidateCache drops cached availability for the resource after a commit.
// The event-driven invalidation covers cancellations; commits invalidate
// here because a successful reserve publishes nothing.
func (s *HTTPServer) invalidateCache(r *http.Request, resourceID string) {
	if s.cache == nil {
		return
	}
	s.cache.Invalidate(r.Context(), tenantFrom(r), resourceID)
}
