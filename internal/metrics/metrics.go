package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	once sync.Once

	reservationsCreated = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "kennelbook",
			Name:      "reservations_created_total",
			Help:      "Count of reservations created by status.",
		},
		[]string{"status"},
	)

	bookingConflicts = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "kennelbook",
			Name:      "booking_conflicts_total",
			Help:      "Count of reserve calls rejected at commit-time re-check.",
		},
	)

	reservationsCancelled = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "kennelbook",
			Name:      "reservations_cancelled_total",
			Help:      "Count of cancelled reservations by reason.",
		},
		[]string{"reason"},
	)

	waitlistEnqueued = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "kennelbook",
			Name:      "waitlist_enqueued_total",
			Help:      "Count of waitlist entries created.",
		},
	)

	offersIssued = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "kennelbook",
			Name:      "offers_issued_total",
			Help:      "Count of waitlist offers issued.",
		},
	)

	offersResolved = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "kennelbook",
			Name:      "offers_resolved_total",
			Help:      "Count of offers resolved by outcome (converted, declined, expired).",
		},
		[]string{"outcome"},
	)

	sweeperPasses = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "kennelbook",
			Name:      "sweeper_passes_total",
			Help:      "Count of completed sweeper passes.",
		},
	)

	sweeperErrors = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "kennelbook",
			Name:      "sweeper_errors_total",
			Help:      "Count of per-entry failures skipped during sweeps.",
		},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "kennelbook",
			Name:      "http_requests_total",
			Help:      "Count of API requests by endpoint.",
		},
		[]string{"endpoint"},
	)
)

// Register registers metrics (idempotent).
func Register() {
	once.Do(func() {
		prometheus.MustRegister(
			reservationsCreated,
			bookingConflicts,
			reservationsCancelled,
			waitlistEnqueued,
			offersIssued,
			offersResolved,
			sweeperPasses,
			sweeperErrors,
			httpRequests,
		)
	})
}

func IncReservationCreated(status string) {
	reservationsCreated.WithLabelValues(status).Inc()
}

func IncBookingConflict() {
	bookingConflicts.Inc()
}

func IncReservationCancelled(reason string) {
	reservationsCancelled.WithLabelValues(reason).Inc()
}

func IncWaitlistEnqueued() {
	waitlistEnqueued.Inc()
}

func IncOfferIssued() {
	offersIssued.Inc()
}

func IncOfferResolved(outcome string) {
	offersResolved.WithLabelValues(outcome).Inc()
}

func IncSweeperPass() {
	sweeperPasses.Inc()
}

func IncSweeperError() {
	sweeperErrors.Inc()
}

func IncHTTP(endpoint string) {
	httpRequests.WithLabelValues(endpoint).Inc()
}
