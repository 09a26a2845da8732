package metrics

import (
	"github.com/orema/pos-backend/internal/events"
)

// RecordEvent mirrors a security event into the auth counters.
// It is meant to be registered with events.EventBus.Subscribe.
func RecordEvent(event events.Event) {
	SecurityEventsPublished.WithLabelValues(event.Type).Inc()

	method := event.Metadata[events.MetaMethod]
	if method == "" {
		method = "unknown"
	}

	switch event.Type {
	case events.EventTypeLoginSucceeded:
		LoginAttemptsTotal.WithLabelValues(method, "success").Inc()
	case events.EventTypeLoginFailed:
		LoginAttemptsTotal.WithLabelValues(method, "failure").Inc()
	case events.EventTypeLoginLocked:
		LoginAttemptsTotal.WithLabelValues(method, "locked").Inc()
		// Only the failure that trips the threshold counts as a new lockout.
		if event.Metadata[events.MetaReason] == "threshold" {
			LockoutsTotal.WithLabelValues(method).Inc()
		}
	case events.EventTypeSessionRejected:
		SessionRejectionsTotal.WithLabelValues("invalid").Inc()
	case events.EventTypeSessionStale:
		SessionRejectionsTotal.WithLabelValues("stale_tenant").Inc()
	case events.EventTypeLogout:
		LogoutsTotal.Inc()
	case events.EventTypeRateLimitExceeded:
		preset := event.Metadata[events.MetaPreset]
		if preset == "" {
			preset = "unknown"
		}
		RateLimitRejectionsTotal.WithLabelValues(preset).Inc()
	}
}
