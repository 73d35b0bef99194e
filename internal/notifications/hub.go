package notifications

import (
	"context"
	"errors"
	"sync"

	"framez/internal/observability"

	"github.com/gofiber/websocket/v2"
)

const (
	// Max live feed connections per user
	maxConnsPerUser = 12
	// Max total connections
	maxTotalConns = 10000
)

// Hub limits and tracks live feed websocket clients, keyed by viewer ID.
type Hub struct {
	mu         sync.RWMutex
	conns      map[string]map[*Client]struct{}
	totalConns int
	closed     bool
}

// NewHub creates an empty Hub.
func NewHub() *Hub {
	return &Hub{conns: make(map[string]map[*Client]struct{})}
}

// Name returns a human-readable identifier for this hub.
func (h *Hub) Name() string { return "feed hub" }

// Register a connection for a given viewer. Returns the Client or error if limits exceeded.
func (h *Hub) Register(viewerID string, conn *websocket.Conn) (*Client, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return nil, errors.New("hub is shutting down")
	}
	if h.totalConns >= maxTotalConns {
		return nil, errors.New("server connection limit reached")
	}

	m, ok := h.conns[viewerID]
	if !ok {
		m = make(map[*Client]struct{})
		h.conns[viewerID] = m
	}
	if len(m) >= maxConnsPerUser {
		return nil, errors.New("user connection limit reached")
	}

	client := NewClient(h, conn, viewerID)
	m[client] = struct{}{}
	h.totalConns++
	observability.WebSocketConnectionsTotal.Inc()
	return client, nil
}

// UnregisterClient removes client and runs its close hook once.
func (h *Hub) UnregisterClient(client *Client) {
	h.mu.Lock()
	removed := false
	if m, ok := h.conns[client.UserID]; ok {
		if _, exists := m[client]; exists {
			delete(m, client)
			h.totalConns--
			removed = true
		}
		if len(m) == 0 {
			delete(h.conns, client.UserID)
		}
	}
	h.mu.Unlock()

	if removed {
		observability.WebSocketConnectionsTotal.Dec()
	}
	client.runCloseHook()
}

// Count returns the number of registered clients.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.totalConns
}

// CountFor returns the number of clients registered for one viewer.
func (h *Hub) CountFor(viewerID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns[viewerID])
}

// Shutdown gracefully closes all websocket connections
func (h *Hub) Shutdown(_ context.Context) error {
	h.mu.Lock()
	h.closed = true
	var clients []*Client
	for _, userConns := range h.conns {
		for client := range userConns {
			clients = append(clients, client)
		}
	}
	h.conns = make(map[string]map[*Client]struct{})
	observability.WebSocketConnectionsTotal.Sub(float64(h.totalConns))
	h.totalConns = 0
	h.mu.Unlock()

	for _, client := range clients {
		client.runCloseHook()
		if client.Conn == nil {
			continue
		}
		if err := client.Conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "Server shutting down")); err != nil {
			observability.GlobalLogger.Warn("failed to write close message", "viewer_id", client.UserID, "error", err.Error())
		}
		if err := client.Conn.Close(); err != nil {
			observability.GlobalLogger.Warn("failed to close websocket", "viewer_id", client.UserID, "error", err.Error())
		}
	}
	return nil
}
