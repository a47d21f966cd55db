package realtime

import (
	"sync"

	"go.uber.org/zap"
)

// Hub keeps the broadcast group of every game. Sends never block: a client
// whose queue is full is dropped and its connection closed.
type Hub struct {
	mu     sync.Mutex
	groups map[string]map[*Client]struct{}
	logger *zap.Logger
}

// NewHub creates an empty hub
func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		groups: make(map[string]map[*Client]struct{}),
		logger: logger,
	}
}

// Register adds c to its game's group
func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	group, ok := h.groups[c.gameID]
	if !ok {
		group = make(map[*Client]struct{})
		h.groups[c.gameID] = group
	}
	group[c] = struct{}{}
	h.logger.Debug("client registered",
		zap.String("game_id", c.gameID),
		zap.String("client_id", c.id.String()),
		zap.String("player", c.player),
	)
}

// Unregister removes c and closes its queue. It reports whether c was still
// registered.
func (h *Hub) Unregister(c *Client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	return h.remove(c)
}

func (h *Hub) remove(c *Client) bool {
	group, ok := h.groups[c.gameID]
	if !ok {
		return false
	}
	if _, ok := group[c]; !ok {
		return false
	}
	delete(group, c)
	if len(group) == 0 {
		delete(h.groups, c.gameID)
	}
	close(c.send)
	return true
}

// deliver queues data for c; the caller holds h.mu
func (h *Hub) deliver(c *Client, data []byte) bool {
	select {
	case c.send <- data:
		return true
	default:
		h.logger.Warn("send queue full, dropping client",
			zap.String("game_id", c.gameID),
			zap.String("client_id", c.id.String()),
			zap.String("player", c.player),
		)
		h.remove(c)
		return false
	}
}

// Send queues data for a single registered client
func (h *Hub) Send(c *Client, data []byte) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.groups[c.gameID][c]; !ok {
		return false
	}
	return h.deliver(c, data)
}

// Broadcast queues data for every client of gameID and returns how many
// received it
func (h *Hub) Broadcast(gameID string, data []byte) int {
	h.mu.Lock()
	defer h.mu.Unlock()

	sent := 0
	for c := range h.groups[gameID] {
		if h.deliver(c, data) {
			sent++
		}
	}
	return sent
}

// Each queues a message rendered per client of gameID. A nil rendering
// skips the client.
func (h *Hub) Each(gameID string, render func(c *Client) []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for c := range h.groups[gameID] {
		if data := render(c); data != nil {
			h.deliver(c, data)
		}
	}
}

// Size returns the number of clients connected to gameID
func (h *Hub) Size(gameID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()

	return len(h.groups[gameID])
}

// Close drops every client
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, group := range h.groups {
		for c := range group {
			h.remove(c)
		}
	}
}
