package sse

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/orema/pos-backend/internal/events"
)

func TestConnectionManager_EvictsOldestAtLimit(t *testing.T) {
	cm := NewConnectionManager(Config{MaxConnectionsPerTenant: 2})

	first := newConnection("c1", "etab-a", "u1", 4)
	second := newConnection("c2", "etab-a", "u1", 4)
	second.CreatedAt = first.CreatedAt.Add(time.Second)
	third := newConnection("c3", "etab-a", "u2", 4)
	third.CreatedAt = first.CreatedAt.Add(2 * time.Second)

	cm.AddConnection(first)
	cm.AddConnection(second)
	cm.AddConnection(third)

	require.Equal(t, 2, cm.CountConnections("etab-a"))
	require.True(t, first.IsClosed())
	require.ErrorIs(t, first.Err(), ErrStreamEvicted)
	require.False(t, second.IsClosed())
	require.NoError(t, second.Err())
	require.False(t, third.IsClosed())

	cm.RemoveConnection(second)
	cm.RemoveConnection(third)
	require.Equal(t, 0, cm.TotalConnections())
	require.True(t, second.IsClosed())
	require.NoError(t, second.Err(), "a normal close is not an eviction")
}

func TestPropertyDeliverTenantIsolation(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		cm := NewConnectionManager(Config{MaxConnectionsPerTenant: 10, SendBuffer: 100})
		tenants := []string{"etab-a", "etab-b", "etab-c"}

		conns := map[string]*Connection{}
		for i, tenant := range tenants {
			conn := newConnection(tenant+"-conn", tenant, "", 100)
			conn.CreatedAt = conn.CreatedAt.Add(time.Duration(i) * time.Millisecond)
			conns[tenant] = conn
			cm.AddConnection(conn)
		}

		sent := map[string]int{}
		n := rapid.IntRange(1, 50).Draw(t, "events")
		for i := 0; i < n; i++ {
			tenant := rapid.SampledFrom(tenants).Draw(t, "tenant")
			cm.Deliver(events.New(events.EventTypeLoginFailed, tenant, "", "", nil))
			sent[tenant]++
		}

		for tenant, conn := range conns {
			if len(conn.queue) != sent[tenant] {
				t.Fatalf("tenant %s: expected %d queued events, got %d", tenant, sent[tenant], len(conn.queue))
			}
			for len(conn.queue) > 0 {
				if event := <-conn.queue; event.TenantID != tenant {
					t.Fatalf("tenant %s received event for %s", tenant, event.TenantID)
				}
			}
			cm.RemoveConnection(conn)
		}
	})
}

func TestConnectionManager_DeliverSkipsUntenantedAndFullQueues(t *testing.T) {
	cm := NewConnectionManager(Config{SendBuffer: 1})
	conn := newConnection("c1", "etab-a", "", 1)
	cm.AddConnection(conn)
	defer cm.RemoveConnection(conn)

	cm.Deliver(events.New(events.EventTypeRateLimitExceeded, "", "", "", nil))
	require.Len(t, conn.queue, 0)

	cm.Deliver(events.New(events.EventTypeLoginFailed, "etab-a", "", "", nil))
	cm.Deliver(events.New(events.EventTypeLoginFailed, "etab-a", "", "", nil))
	require.Len(t, conn.queue, 1)
}

func TestConnectionManager_CloseAll(t *testing.T) {
	cm := NewConnectionManager(DefaultConfig())
	a := newConnection("c1", "etab-a", "", 1)
	b := newConnection("c2", "etab-b", "", 1)
	cm.AddConnection(a)
	cm.AddConnection(b)

	cm.CloseAll()

	require.True(t, a.IsClosed())
	require.True(t, b.IsClosed())
	require.Equal(t, 0, cm.TotalConnections())
	require.False(t, a.enqueue(events.New(events.EventTypeLogout, "etab-a", "", "", nil)))

	// Handlers still call RemoveConnection after CloseAll.
	cm.RemoveConnection(a)
	require.Equal(t, 0, cm.TotalConnections())
}

func TestFormatSSEEvent(t *testing.T) {
	event := events.New(events.EventTypeLoginLocked, "etab-a", "user-1", "marie@orema.ga", map[string]string{
		events.MetaMethod: "pin",
	})

	msg, err := FormatSSEEvent(event)
	require.NoError(t, err)
	require.Contains(t, msg, "event: login.locked\n")
	require.Contains(t, msg, "id: "+event.ID+"\n")
	require.Contains(t, msg, `"identifier":"marie@orema.ga"`)
	require.NotContains(t, msg, "etab-a")
	require.True(t, len(msg) > 2 && msg[len(msg)-2:] == "\n\n")
}
