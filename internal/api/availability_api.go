package api

import (
	"encoding/json"
	"net/http"

	"kennelbook/internal/availability"
	"kennelbook/internal/metrics"
	"kennelbook/internal/models"
)

// AvailabilityRequest is the request body for POST /api/availability.
// Either resource_ids with one interval (many resources x one interval), or
// resource_id with intervals (one resource x many intervals). Empty
// resource_ids means "every active resource of the category".
type AvailabilityRequest struct {
	ResourceIDs []string `json:"resource_ids,omitempty"`
	ResourceID  string   `json:"resource_id,omitempty"`
	Category    string   `json:"category,omitempty"`
	Start       string   `json:"start,omitempty"`
	End         string   `json:"end,omitempty"`
	Intervals   []struct {
		Start string `json:"start"`
		End   string `json:"end"`
	} `json:"intervals,omitempty"`
}

// AvailabilityResponse is the response for POST /api/availability.
type AvailabilityResponse struct {
	Resources map[string]availability.ResourceAvailability `json:"resources,omitempty"`
	Intervals []availability.IntervalAvailability          `json:"intervals,omitempty"`
}

// handleAvailability answers batch availability queries. Read-only; it
// never gates a commit, which re-validates under the coordinator's lock.
// POST /api/availability
func (s *HTTPServer) handleAvailability(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("availability")
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "use POST")
		return
	}

	var req AvailabilityRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid JSON body")
		return
	}

	if len(req.Intervals) > 0 {
		s.answerIntervals(w, r, &req)
		return
	}
	s.answerResources(w, r, &req)
}

func (s *HTTPServer) answerIntervals(w http.ResponseWriter, r *http.Request, req *AvailabilityRequest) {
	if req.ResourceID == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "resource_id is required with intervals")
		return
	}
	intervals := make([]models.Interval, 0, len(req.Intervals))
	for _, raw := range req.Intervals {
		iv, err := parseInterval(raw.Start, raw.End)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
			return
		}
		intervals = append(intervals, iv)
	}

	answers, err := s.engine.CheckIntervals(r.Context(), tenantFrom(r), req.ResourceID,
		models.ServiceCategory(req.Category), intervals)
	if err != nil {
		s.writeMappedError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, AvailabilityResponse{Intervals: answers})
}

func (s *HTTPServer) answerResources(w http.ResponseWriter, r *http.Request, req *AvailabilityRequest) {
	iv, err := parseInterval(req.Start, req.End)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	tenantID := tenantFrom(r)
	category := models.ServiceCategory(req.Category)

	ids := req.ResourceIDs
	if len(ids) == 0 {
		resources, err := s.db.ListResources(r.Context(), tenantID, category, true)
		if err != nil {
			s.writeMappedError(w, err)
			return
		}
		for _, res := range resources {
			ids = append(ids, res.ID)
		}
	}

	answers := make(map[string]availability.ResourceAvailability, len(ids))
	var misses []string
	if s.cache != nil {
		for _, id := range ids {
			if answer, ok := s.cache.Get(r.Context(), tenantID, id, iv); ok {
				answers[id] = answer
			} else {
				misses = append(misses, id)
			}
		}
	} else {
		misses = ids
	}

	if len(misses) > 0 {
		fresh, err := s.engine.Check(r.Context(), tenantID, misses, category, iv)
		if err != nil {
			s.writeMappedError(w, err)
			return
		}
		for id, answer := range fresh {
			answers[id] = answer
			if s.cache != nil {
				s.cache.Set(r.Context(), tenantID, id, iv, answer)
			}
		}
	}
	writeJSON(w, http.StatusOK, AvailabilityResponse{Resources: answers})
}

func parseInterval(start, end string) (models.Interval, error) {
	s, err := parseTime(start)
	if err != nil {
		return models.Interval{}, errInvalidTime("start")
	}
	e, err := parseTime(end)
	if err != nil {
		return models.Interval{}, errInvalidTime("end")
	}
	return models.NewInterval(s, e)
}

type errInvalidTime string

func (e errInvalidTime) Error() string {
	return string(e) + " must be RFC 3339"
}
