package sse

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/orema/pos-backend/internal/auth"
	"github.com/orema/pos-backend/internal/events"
)

type streamFixture struct {
	server  *httptest.Server
	manager *ConnectionManager
	bus     *events.InMemoryEventBus
}

func newStreamFixture(t *testing.T, cfg Config) *streamFixture {
	t.Helper()
	bus := events.NewEventBus(events.NewEventStore(100))
	manager := NewConnectionManager(cfg)
	bus.Subscribe(manager.Deliver)

	withSession := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tenant := r.Header.Get("X-Test-Etablissement")
			if tenant == "" {
				next.ServeHTTP(w, r)
				return
			}
			payload := &auth.SessionPayload{UserID: "admin-1", Role: auth.RoleAdmin, EtablissementID: tenant}
			next.ServeHTTP(w, r.WithContext(auth.ContextWithSession(r.Context(), payload)))
		})
	}

	r := chi.NewRouter()
	r.Route("/api/v1", func(r chi.Router) {
		RegisterRoutes(r, NewHandler(cfg, manager, bus, nil), withSession)
	})
	server := httptest.NewServer(r)
	t.Cleanup(func() {
		manager.CloseAll()
		server.Close()
	})
	return &streamFixture{server: server, manager: manager, bus: bus}
}

type streamClient struct {
	resp   *http.Response
	reader *bufio.Reader
	cancel context.CancelFunc
}

func (f *streamFixture) open(t *testing.T, tenant string, header map[string]string) *streamClient {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.server.URL+"/api/v1/events/stream", nil)
	require.NoError(t, err)
	req.Header.Set("X-Test-Etablissement", tenant)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	c := &streamClient{resp: resp, reader: bufio.NewReader(resp.Body), cancel: cancel}
	t.Cleanup(c.close)
	return c
}

func (c *streamClient) close() {
	c.cancel()
	c.resp.Body.Close()
}

// next reads one SSE message and returns its event type and decoded data.
func (c *streamClient) next(t *testing.T) (string, events.Event) {
	t.Helper()
	var eventType string
	var event events.Event
	for {
		line, err := c.reader.ReadString('\n')
		require.NoError(t, err)
		line = strings.TrimRight(line, "\n")
		switch {
		case line == "":
			return eventType, event
		case strings.HasPrefix(line, "event: "):
			eventType = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &event))
		}
	}
}

func TestHandleStream_RequiresSession(t *testing.T) {
	f := newStreamFixture(t, DefaultConfig())

	resp, err := http.Get(f.server.URL + "/api/v1/events/stream")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestHandleStream_DeliversTenantEvents(t *testing.T) {
	f := newStreamFixture(t, DefaultConfig())

	client := f.open(t, "etab-a", nil)
	require.Equal(t, http.StatusOK, client.resp.StatusCode)
	require.Equal(t, "text/event-stream", client.resp.Header.Get("Content-Type"))

	eventType, _ := client.next(t)
	require.Equal(t, EventTypeConnected, eventType)
	require.Equal(t, 1, f.manager.CountConnections("etab-a"))

	require.NoError(t, f.bus.Publish(events.New(events.EventTypeLoginFailed, "etab-b", "", "other@orema.ga", nil)))
	locked := events.New(events.EventTypeLoginLocked, "etab-a", "user-1", "marie@orema.ga", nil)
	require.NoError(t, f.bus.Publish(locked))

	eventType, event := client.next(t)
	require.Equal(t, events.EventTypeLoginLocked, eventType)
	require.Equal(t, locked.ID, event.ID)
	require.Equal(t, "marie@orema.ga", event.Identifier)
}

func TestHandleStream_ReplaysFromLastEventID(t *testing.T) {
	f := newStreamFixture(t, DefaultConfig())

	seen := events.New(events.EventTypeLoginFailed, "etab-a", "", "a@orema.ga", nil)
	missed1 := events.New(events.EventTypeLoginFailed, "etab-a", "", "b@orema.ga", nil)
	missed2 := events.New(events.EventTypeLoginLocked, "etab-a", "", "b@orema.ga", nil)
	for _, e := range []events.Event{seen, missed1, missed2} {
		require.NoError(t, f.bus.Publish(e))
	}

	client := f.open(t, "etab-a", map[string]string{"Last-Event-ID": seen.ID})
	eventType, _ := client.next(t)
	require.Equal(t, EventTypeConnected, eventType)

	_, first := client.next(t)
	_, second := client.next(t)
	require.Equal(t, missed1.ID, first.ID)
	require.Equal(t, missed2.ID, second.ID)
}

func TestHandleStream_Heartbeat(t *testing.T) {
	f := newStreamFixture(t, Config{HeartbeatInterval: 20 * time.Millisecond})

	client := f.open(t, "etab-a", nil)
	eventType, _ := client.next(t)
	require.Equal(t, EventTypeConnected, eventType)

	eventType, _ = client.next(t)
	require.Equal(t, EventTypeHeartbeat, eventType)
}

func TestHandleStream_EvictedStreamIsNotified(t *testing.T) {
	f := newStreamFixture(t, Config{MaxConnectionsPerTenant: 1})

	old := f.open(t, "etab-a", nil)
	eventType, _ := old.next(t)
	require.Equal(t, EventTypeConnected, eventType)

	newer := f.open(t, "etab-a", nil)
	eventType, _ = newer.next(t)
	require.Equal(t, EventTypeConnected, eventType)

	eventType, _ = old.next(t)
	require.Equal(t, EventTypeConnectionLimit, eventType)
	require.Equal(t, 1, f.manager.CountConnections("etab-a"))
}

type nonFlushingWriter struct {
	http.ResponseWriter
}

func TestHandleStream_RequiresFlusher(t *testing.T) {
	manager := NewConnectionManager(DefaultConfig())
	h := NewHandler(DefaultConfig(), manager, events.NewEventBus(nil), nil)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/events/stream", nil)
	req = req.WithContext(auth.ContextWithSession(req.Context(), &auth.SessionPayload{
		UserID: "admin-1", Role: auth.RoleAdmin, EtablissementID: "etab-a",
	}))
	rec := httptest.NewRecorder()
	h.HandleStream(nonFlushingWriter{rec}, req)

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	var resp auth.APIResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, auth.CodeInternalError, resp.Error.Code)
	require.Equal(t, 0, manager.TotalConnections())
}
