package events

import (
	"log/slog"
)

// LogSubscriber returns a handler that writes each event to logger.
// Lockouts and stale-tenant sessions are warnings; the rest is info.
func LogSubscriber(logger *slog.Logger) EventHandler {
	return func(event Event) {
		attrs := []any{
			slog.String("event_id", event.ID),
			slog.String("event_type", event.Type),
		}
		if event.TenantID != "" {
			attrs = append(attrs, slog.String("etablissement_id", event.TenantID))
		}
		if event.UserID != "" {
			attrs = append(attrs, slog.String("user_id", event.UserID))
		}
		if event.Identifier != "" {
			attrs = append(attrs, slog.String("identifier", event.Identifier))
		}
		for k, v := range event.Metadata {
			attrs = append(attrs, slog.String(k, v))
		}

		switch event.Type {
		case EventTypeLoginLocked, EventTypeSessionStale, EventTypeRateLimitExceeded:
			logger.Warn("security event", attrs...)
		default:
			logger.Info("security event", attrs...)
		}
	}
}
