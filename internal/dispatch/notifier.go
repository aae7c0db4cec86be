package dispatch

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// OfferDetails is what a requester needs to act on an offer.
type OfferDetails struct {
	EntryID      string    `json:"entry_id"`
	ResourceID   string    `json:"resource_id"`
	ResourceName string    `json:"resource_name"`
	Start        time.Time `json:"start"`
	End          time.Time `json:"end"`
}

// Notifier delivers offer notifications. Delivery is fire-and-forget from
// the dispatcher's perspective: a failed delivery never rolls back the
// offer, which still expires on schedule.
type Notifier interface {
	Notify(ctx context.Context, requesterRef string, offer OfferDetails, expiry time.Time) error
}

// LogNotifier writes offers to the log. Stands in until a real delivery
// channel (SMS, email, push) is plugged behind the interface.
type LogNotifier struct {
	logger *zerolog.Logger
}

// NewLogNotifier returns a Notifier backed by the given logger.
func NewLogNotifier(logger *zerolog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) Notify(_ context.Context, requesterRef string, offer OfferDetails, expiry time.Time) error {
	n.logger.Info().
		Str("requester", requesterRef).
		Str("entry_id", offer.EntryID).
		Str("resource_id", offer.ResourceID).
		Time("start", offer.Start).
		Time("end", offer.End).
		Time("expires_at", expiry).
		Msg("offer notification")
	return nil
}
