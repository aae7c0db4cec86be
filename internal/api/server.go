// Package api exposes the booking engine over HTTP. Handlers translate the
// error taxonomy into status codes; all state changes go through the
// coordinator, the queue and the dispatcher, never through storage directly.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"kennelbook/internal/availability"
	"kennelbook/internal/booking"
	"kennelbook/internal/cache"
	"kennelbook/internal/database"
	"kennelbook/internal/dispatch"
	"kennelbook/internal/events"
	"kennelbook/internal/models"
	"kennelbook/internal/report"
	"kennelbook/internal/waitlist"
)

// HTTPServer holds the service wiring behind the HTTP surface.
type HTTPServer struct {
	coord    *booking.Coordinator
	engine   *availability.Engine
	queue    *waitlist.Queue
	disp     *dispatch.Dispatcher
	exporter *report.Exporter
	db       *database.DB
	bus      *events.Bus
	cache    *cache.AvailabilityCache
	apiKey   string
	logger   *zerolog.Logger
}

// NewHTTPServer wires the API. The cache may be nil.
func NewHTTPServer(coord *booking.Coordinator, engine *availability.Engine, queue *waitlist.Queue, disp *dispatch.Dispatcher, exporter *report.Exporter, db *database.DB, bus *events.Bus, availCache *cache.AvailabilityCache, apiKey string, logger *zerolog.Logger) *HTTPServer {
	return &HTTPServer{
		coord:    coord,
		engine:   engine,
		queue:    queue,
		disp:     disp,
		exporter: exporter,
		db:       db,
		bus:      bus,
		cache:    availCache,
		apiKey:   apiKey,
		logger:   logger,
	}
}

// Routes builds the handler tree.
func (s *HTTPServer) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/api/reserve", s.auth(s.handleReserve))
	mux.HandleFunc("/api/cancel", s.auth(s.handleCancel))
	mux.HandleFunc("/api/availability", s.auth(s.handleAvailability))
	mux.HandleFunc("/api/reservations/", s.auth(s.handleReservationAction))
	mux.HandleFunc("/api/waitlist", s.auth(s.handleWaitlistEnqueue))
	mux.HandleFunc("/api/waitlist/position", s.auth(s.handleWaitlistPosition))
	mux.HandleFunc("/api/waitlist/cancel", s.auth(s.handleWaitlistCancel))
	mux.HandleFunc("/api/waitlist/accept", s.auth(s.handleWaitlistAccept))
	mux.HandleFunc("/api/waitlist/decline", s.auth(s.handleWaitlistDecline))
	mux.HandleFunc("/api/resources", s.auth(s.handleResources))
	mux.HandleFunc("/api/resources/capacity", s.auth(s.handleResourceCapacity))
	mux.HandleFunc("/api/resources/active", s.auth(s.handleResourceActive))
	mux.HandleFunc("/api/report", s.auth(s.handleReport))
	return mux
}

// auth enforces the shared API key and the tenant header. Every request
// carries an opaque tenant scope; handlers read it via tenantFrom.
func (s *HTTPServer) auth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.apiKey != "" && r.Header.Get("X-API-Key") != s.apiKey {
			writeError(w, http.StatusUnauthorized, "unauthorized", "invalid or missing API key")
			return
		}
		if tenantFrom(r) == "" {
			writeError(w, http.StatusBadRequest, "missing_tenant", "X-Tenant-ID header is required")
			return
		}
		next(w, r)
	}
}

func tenantFrom(r *http.Request) string {
	return r.Header.Get("X-Tenant-ID")
}

func (s *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "use GET")
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := s.db.PingContext(ctx); err != nil {
		writeError(w, http.StatusServiceUnavailable, "db_unreachable", "database ping failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type errorResponse struct {
	Error responseError `json:"error"`
	// WaitlistEligible tells a caller that lost a slot they can enqueue in
	// the same response cycle instead of retrying.
	WaitlistEligible bool `json:"waitlist_eligible,omitempty"`
}

type responseError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorResponse{Error: responseError{Code: code, Message: message}})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(payload)
}

func mapError(err error) (int, string, string) {
	switch {
	case errors.Is(err, models.ErrConfiguration):
		return http.StatusBadRequest, "invalid_request", err.Error()
	case errors.Is(err, models.ErrResourceNotFound):
		return http.StatusNotFound, "resource_not_found", "resource not found"
	case errors.Is(err, models.ErrReservationNotFound):
		return http.StatusNotFound, "reservation_not_found", "reservation not found"
	case errors.Is(err, models.ErrEntryNotFound):
		return http.StatusNotFound, "entry_not_found", "waitlist entry not found"
	case errors.Is(err, models.ErrResourceUnavailable):
		return http.StatusConflict, "resource_unavailable", "resource is not available for the requested interval"
	case errors.Is(err, models.ErrDuplicateEntry):
		return http.StatusConflict, "duplicate_entry", "an active waitlist entry for this demand already exists"
	case errors.Is(err, models.ErrInvalidStateTransition):
		return http.StatusConflict, "invalid_state", "current state does not allow this action"
	case errors.Is(err, models.ErrExpiredOffer):
		return http.StatusConflict, "expired_offer", "the offer is no longer open"
	case errors.Is(err, models.ErrExpiredHold):
		return http.StatusConflict, "expired_hold", "the hold has expired"
	case errors.Is(err, database.ErrConcurrentModification):
		return http.StatusConflict, "concurrent_modification", "the record changed underneath this request; retry"
	default:
		return http.StatusInternalServerError, "internal_error", "internal server error"
	}
}

func (s *HTTPServer) writeMappedError(w http.ResponseWriter, err error) {
	status, code, message := mapError(err)
	if status == http.StatusInternalServerError {
		s.logger.Error().Err(err).Msg("request failed")
	}
	writeJSON(w, status, errorResponse{
		Error:            responseError{Code: code, Message: message},
		WaitlistEligible: errors.Is(err, models.ErrResourceUnavailable),
	})
}

func parseTime(value string) (time.Time, error) {
	return time.Parse(time.RFC3339, value)
}
