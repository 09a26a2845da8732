package sse

import (
	"sync"

	"github.com/orema/pos-backend/internal/events"
	"github.com/orema/pos-backend/internal/metrics"
)

// ConnectionManager tracks open streams per etablissement and fans bus
// events out to them.
type ConnectionManager struct {
	mu          sync.RWMutex
	connections map[string]map[string]*Connection // tenantID -> connID -> Connection
	config      Config
}

// NewConnectionManager creates a new ConnectionManager with the given config.
func NewConnectionManager(config Config) *ConnectionManager {
	return &ConnectionManager{
		connections: make(map[string]map[string]*Connection),
		config:      config.withDefaults(),
	}
}

// AddConnection registers conn. When the tenant is at its limit the oldest
// stream is evicted; its handler sends a connection_limit event before closing.
func (cm *ConnectionManager) AddConnection(conn *Connection) {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	tenantConns := cm.connections[conn.TenantID]
	if tenantConns == nil {
		tenantConns = make(map[string]*Connection)
		cm.connections[conn.TenantID] = tenantConns
	}

	if len(tenantConns) >= cm.config.MaxConnectionsPerTenant {
		if oldest := oldestLocked(tenantConns); oldest != nil {
			oldest.evicted = true
			oldest.Close()
			delete(tenantConns, oldest.ID)
			metrics.EventStreamConnections.Dec()
		}
	}

	tenantConns[conn.ID] = conn
	metrics.EventStreamConnections.Inc()
}

// RemoveConnection closes and forgets a connection.
func (cm *ConnectionManager) RemoveConnection(conn *Connection) {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	conn.Close()
	tenantConns, ok := cm.connections[conn.TenantID]
	if !ok {
		return
	}
	if _, ok := tenantConns[conn.ID]; ok {
		delete(tenantConns, conn.ID)
		metrics.EventStreamConnections.Dec()
	}
	if len(tenantConns) == 0 {
		delete(cm.connections, conn.TenantID)
	}
}

// Deliver is an events.EventHandler. It queues tenant events on every open
// stream of that tenant and drops them for clients that fall behind.
func (cm *ConnectionManager) Deliver(event events.Event) {
	if event.TenantID == "" {
		return
	}

	cm.mu.RLock()
	defer cm.mu.RUnlock()

	for _, conn := range cm.connections[event.TenantID] {
		if !conn.enqueue(event) {
			metrics.EventStreamDropped.Inc()
		}
	}
}

// CountConnections returns the number of open streams for a tenant.
func (cm *ConnectionManager) CountConnections(tenantID string) int {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return len(cm.connections[tenantID])
}

// TotalConnections returns the number of open streams across tenants.
func (cm *ConnectionManager) TotalConnections() int {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	total := 0
	for _, tenantConns := range cm.connections {
		total += len(tenantConns)
	}
	return total
}

// CloseAll ends every stream, used on shutdown.
func (cm *ConnectionManager) CloseAll() {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	for tenantID, tenantConns := range cm.connections {
		for _, conn := range tenantConns {
			conn.Close()
			metrics.EventStreamConnections.Dec()
		}
		delete(cm.connections, tenantID)
	}
}

func oldestLocked(conns map[string]*Connection) *Connection {
	var oldest *Connection
	for _, conn := range conns {
		if oldest == nil || conn.CreatedAt.Before(oldest.CreatedAt) {
			oldest = conn
		}
	}
	return oldest
}
