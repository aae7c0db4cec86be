package api

import (
	"encoding/json"
	"net/http"
	"time"

	"kennelbook/internal/metrics"
	"kennelbook/internal/models"
	"kennelbook/internal/waitlist"
)

// EnqueueRequest is the request body for POST /api/waitlist.
type EnqueueRequest struct {
	RequesterRef      string `json:"requester_ref"`
	Category          string `json:"category"`
	RequestedStart    string `json:"requested_start"`
	RequestedEnd      string `json:"requested_end,omitempty"`
	Flexible          bool   `json:"flexible,omitempty"`
	FlexDays          int    `json:"flex_days,omitempty"`
	PreferredResource string `json:"preferred_resource,omitempty"`
	PreferredStaff    string `json:"preferred_staff,omitempty"`
}

// handleWaitlistEnqueue enrolls unmet demand.
// POST /api/waitlist
func (s *HTTPServer) handleWaitlistEnqueue(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("waitlist_enqueue")
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "use POST")
		return
	}

	var req EnqueueRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid JSON body")
		return
	}
	if req.RequesterRef == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "requester_ref is required")
		return
	}
	start, err := parseTime(req.RequestedStart)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "requested_start must be RFC 3339")
		return
	}
	var end *time.Time
	if req.RequestedEnd != "" {
		parsed, err := parseTime(req.RequestedEnd)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request", "requested_end must be RFC 3339")
			return
		}
		end = &parsed
	}

	entry, err := s.queue.Enqueue(r.Context(), tenantFrom(r), waitlist.EnqueueRequest{
		RequesterRef:      req.RequesterRef,
		Category:          models.ServiceCategory(req.Category),
		RequestedStart:    start,
		RequestedEnd:      end,
		Flexible:          req.Flexible,
		FlexDays:          req.FlexDays,
		PreferredResource: req.PreferredResource,
		PreferredStaff:    req.PreferredStaff,
	})
	if err != nil {
		s.writeMappedError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, entry)
}

// PositionResponse is the response for GET /api/waitlist/position.
type PositionResponse struct {
	EntryID  string `json:"entry_id"`
	Position int    `json:"position"`
	Status   string `json:"status"`
}

// handleWaitlistPosition reports the entry's current rank.
// GET /api/waitlist/position?entry_id=...
func (s *HTTPServer) handleWaitlistPosition(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("waitlist_position")
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "use GET")
		return
	}

	entryID := r.URL.Query().Get("entry_id")
	if entryID == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "entry_id is required")
		return
	}
	tenantID := tenantFrom(r)

	entry, err := s.queue.Get(r.Context(), tenantID, entryID)
	if err != nil {
		s.writeMappedError(w, err)
		return
	}
	position := 0
	if entry.Status == models.WaitlistActive {
		position, err = s.queue.PositionOf(r.Context(), tenantID, entryID)
		if err != nil {
			s.writeMappedError(w, err)
			return
		}
	}
	writeJSON(w, http.StatusOK, PositionResponse{
		EntryID:  entryID,
		Position: position,
		Status:   string(entry.Status),
	})
}

type entryActionRequest struct {
	EntryID string `json:"entry_id"`
	// Leave, on decline, removes the entry from the waitlist entirely.
	Leave bool `json:"leave,omitempty"`
}

func decodeEntryAction(w http.ResponseWriter, r *http.Request) (entryActionRequest, bool) {
	var req entryActionRequest
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "use POST")
		return req, false
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid JSON body")
		return req, false
	}
	if req.EntryID == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "entry_id is required")
		return req, false
	}
	return req, true
}

// handleWaitlistCancel drops an entry from the queue.
// POST /api/waitlist/cancel
func (s *HTTPServer) handleWaitlistCancel(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("waitlist_cancel")
	req, ok := decodeEntryAction(w, r)
	if !ok {
		return
	}
	if err := s.queue.Cancel(r.Context(), tenantFrom(r), req.EntryID); err != nil {
		s.writeMappedError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cancelled"})
}

// handleWaitlistAccept converts an open offer into a reservation.
// POST /api/waitlist/accept
func (s *HTTPServer) handleWaitlistAccept(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("waitlist_accept")
	req, ok := decodeEntryAction(w, r)
	if !ok {
		return
	}
	reservation, err := s.disp.Accept(r.Context(), tenantFrom(r), req.EntryID)
	if err != nil {
		s.writeMappedError(w, err)
		return
	}
	s.invalidateCache(r, reservation.ResourceID)
	writeJSON(w, http.StatusCreated, reservation)
}

// handleWaitlistDecline resolves an open offer by refusal.
// POST /api/waitlist/decline
func (s *HTTPServer) handleWaitlistDecline(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("waitlist_decline")
	req, ok := decodeEntryAction(w, r)
	if !ok {
		return
	}
	if err := s.disp.Decline(r.Context(), tenantFrom(r), req.EntryID, req.Leave); err != nil {
		s.writeMappedError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "declined"})
}
