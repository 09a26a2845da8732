package sse

import (
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/orema/pos-backend/internal/auth"
	"github.com/orema/pos-backend/internal/events"
	"github.com/orema/pos-backend/internal/logger"
)

// EventReplayer returns buffered tenant events after an event id.
type EventReplayer interface {
	GetEventsSince(tenantID string, lastEventID string) ([]events.Event, error)
}

// Handler implements the SSE handler for the security event stream.
type Handler struct {
	config  Config
	manager *ConnectionManager
	replay  EventReplayer
	logger  *slog.Logger
}

// NewHandler creates a new SSE handler.
func NewHandler(config Config, manager *ConnectionManager, replay EventReplayer, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{
		config:  config.withDefaults(),
		manager: manager,
		replay:  replay,
		logger:  log,
	}
}

// HandleStream streams the caller's etablissement events until the client
// disconnects, the stream is evicted or the connection timeout elapses.
// The route must sit behind session authentication.
func (h *Handler) HandleStream(w http.ResponseWriter, r *http.Request) {
	session, ok := auth.SessionFromContext(r.Context())
	if !ok {
		auth.WriteError(w, http.StatusUnauthorized, auth.CodeSessionMissing, "Not authenticated", nil)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		logger.WithCorrelationID(r.Context(), h.logger).Error("cannot open security event stream",
			slog.Any("error", ErrStreamingNotSupported))
		auth.WriteError(w, http.StatusInternalServerError, auth.CodeInternalError, "Streaming is not available", nil)
		return
	}

	// Streams outlive the server's write timeout.
	_ = http.NewResponseController(w).SetWriteDeadline(time.Time{})

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable nginx buffering
	w.WriteHeader(http.StatusOK)

	conn := newConnection(uuid.New().String(), session.EtablissementID, session.UserID, h.config.SendBuffer)
	h.manager.AddConnection(conn)
	defer h.manager.RemoveConnection(conn)

	log := logger.WithCorrelationID(r.Context(), h.logger).With(
		slog.String("connection_id", conn.ID),
		slog.String("etablissement_id", conn.TenantID),
	)
	log.Info("security event stream opened")
	defer log.Info("security event stream closed")

	send := func(event events.Event) bool {
		if err := writeEvent(w, event); err != nil {
			log.Debug("stream write failed", slog.Any("error", err))
			return false
		}
		flusher.Flush()
		return true
	}

	if !send(controlEvent(EventTypeConnected, conn)) {
		return
	}

	lastEventID := r.Header.Get("Last-Event-ID")
	if lastEventID == "" {
		lastEventID = r.URL.Query().Get("lastEventId")
	}
	if lastEventID != "" {
		missed, err := h.replay.GetEventsSince(conn.TenantID, lastEventID)
		if err != nil {
			log.Error("replay security events", slog.Any("error", err))
		}
		for _, event := range missed {
			if !send(event) {
				return
			}
		}
	}

	heartbeat := time.NewTicker(h.config.HeartbeatInterval)
	defer heartbeat.Stop()
	timeout := time.NewTimer(h.config.ConnectionTimeout)
	defer timeout.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-timeout.C:
			return
		case <-conn.done:
			if err := conn.Err(); err != nil {
				log.Info("security event stream replaced", slog.Any("reason", err))
				send(controlEvent(EventTypeConnectionLimit, conn))
			}
			return
		case event := <-conn.queue:
			if !send(event) {
				return
			}
		case <-heartbeat.C:
			if !send(controlEvent(EventTypeHeartbeat, conn)) {
				return
			}
		}
	}
}

func controlEvent(eventType string, conn *Connection) events.Event {
	return events.Event{
		ID:        uuid.New().String(),
		Type:      eventType,
		UserID:    conn.UserID,
		Timestamp: time.Now().UTC(),
	}
}

func writeEvent(w io.Writer, event events.Event) error {
	msg, err := FormatSSEEvent(event)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprint(w, msg); err != nil {
		return fmt.Errorf("%w: %w", ErrStreamWrite, err)
	}
	return nil
}
