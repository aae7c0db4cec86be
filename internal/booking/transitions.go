package booking

import "kennelbook/internal/models"

// validTransitions maps each reservation status to its allowed successors.
// Terminal states have no successors.
var validTransitions = map[models.ReservationStatus][]models.ReservationStatus{
	models.ReservationPending: {
		models.ReservationConfirmed,
		models.ReservationCancelled,
	},
	models.ReservationConfirmed: {
		models.ReservationCheckedIn,
		models.ReservationCancelled,
		models.ReservationNoShow,
	},
	models.ReservationCheckedIn: {
		models.ReservationCompleted,
		models.ReservationCancelled,
	},
}

// ValidTransition reports whether from → to is an allowed status change.
func ValidTransition(from, to models.ReservationStatus) bool {
	for _, allowed := range validTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}
