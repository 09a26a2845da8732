// Package sse streams security events to administrators over Server-Sent Events.
package sse

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/orema/pos-backend/internal/events"
)

// Stream control event types. They are never published on the bus.
const (
	EventTypeConnected       = "connected"
	EventTypeHeartbeat       = "heartbeat"
	EventTypeConnectionLimit = "connection_limit"
)

// Config holds SSE server configuration.
type Config struct {
	HeartbeatInterval       time.Duration // Default: 30 seconds
	ConnectionTimeout       time.Duration // Default: 1 hour
	MaxConnectionsPerTenant int           // Default: 5
	SendBuffer              int           // Default: 64 events per connection
}

// DefaultConfig returns the default SSE configuration.
func DefaultConfig() Config {
	return Config{
		HeartbeatInterval:       30 * time.Second,
		ConnectionTimeout:       1 * time.Hour,
		MaxConnectionsPerTenant: 5,
		SendBuffer:              64,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = d.HeartbeatInterval
	}
	if c.ConnectionTimeout <= 0 {
		c.ConnectionTimeout = d.ConnectionTimeout
	}
	if c.MaxConnectionsPerTenant <= 0 {
		c.MaxConnectionsPerTenant = d.MaxConnectionsPerTenant
	}
	if c.SendBuffer <= 0 {
		c.SendBuffer = d.SendBuffer
	}
	return c
}

// Connection is one open stream. Events are queued on a buffered channel
// and written only by the goroutine serving the request.
type Connection struct {
	ID        string
	TenantID  string
	UserID    string
	CreatedAt time.Time

	queue     chan events.Event
	done      chan struct{}
	closeOnce sync.Once
	evicted   bool
}

func newConnection(id, tenantID, userID string, buffer int) *Connection {
	return &Connection{
		ID:        id,
		TenantID:  tenantID,
		UserID:    userID,
		CreatedAt: time.Now(),
		queue:     make(chan events.Event, buffer),
		done:      make(chan struct{}),
	}
}

// Close closes the connection.
func (c *Connection) Close() {
	c.closeOnce.Do(func() { close(c.done) })
}

// IsClosed returns true if the connection is closed.
func (c *Connection) IsClosed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// Err returns ErrStreamEvicted once the connection has been evicted, nil otherwise.
func (c *Connection) Err() error {
	if c.IsClosed() && c.evicted {
		return ErrStreamEvicted
	}
	return nil
}

// enqueue offers an event without blocking the publisher.
func (c *Connection) enqueue(event events.Event) bool {
	if c.IsClosed() {
		return false
	}
	select {
	case c.queue <- event:
		return true
	default:
		return false
	}
}

// FormatSSEEvent formats an event as an SSE message.
// Format: event: <type>\ndata: <json>\nid: <id>\n\n
func FormatSSEEvent(event events.Event) (string, error) {
	data, err := json.Marshal(event)
	if err != nil {
		return "", fmt.Errorf("marshal event: %w", err)
	}
	return fmt.Sprintf("event: %s\ndata: %s\nid: %s\n\n", event.Type, data, event.ID), nil
}
