// Package transport carries controller events over websockets and exposes
// the REST API.
package transport

import (
	"encoding/json"
	"sync"

	"github.com/amoylab/gameroom/internal/core"

	"go.uber.org/zap"
)

// Gauge tracks open connections. prometheus.Gauge satisfies it.
type Gauge interface {
	Inc()
	Dec()
}

// Hub routes events to connected clients by channel id.
type Hub struct {
	logger  *zap.Logger
	mu      sync.RWMutex
	clients map[string]*Client
	gauge   Gauge
}

var _ core.Emitter = (*Hub)(nil)

// NewHub creates a hub. gauge may be nil.
func NewHub(logger *zap.Logger, gauge Gauge) *Hub {
	return &Hub{
		logger:  logger.Named("hub"),
		clients: make(map[string]*Client),
		gauge:   gauge,
	}
}

// Register adds c to the hub
func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	h.clients[c.channel] = c
	count := len(h.clients)
	h.mu.Unlock()

	if h.gauge != nil {
		h.gauge.Inc()
	}
	h.logger.Debug("client registered", zap.String("channel", c.channel), zap.Int("client_count", count))
}

// Unregister removes c from the hub and closes its queue
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	current, ok := h.clients[c.channel]
	if ok && current == c {
		delete(h.clients, c.channel)
	}
	count := len(h.clients)
	h.mu.Unlock()

	c.close()
	if ok && current == c {
		if h.gauge != nil {
			h.gauge.Dec()
		}
		h.logger.Debug("client unregistered", zap.String("channel", c.channel), zap.Int("client_count", count))
	}
}

// Emit implements core.Emitter. A client whose queue is full is dropped; its
// read loop then ends and the controller releases the channel.
func (h *Hub) Emit(channel string, ev core.Event) {
	h.mu.RLock()
	c, ok := h.clients[channel]
	h.mu.RUnlock()
	if !ok {
		return
	}

	msg, err := json.Marshal(ev)
	if err != nil {
		h.logger.Error("failed to marshal event", zap.String("type", string(ev.Type)), zap.Error(err))
		return
	}
	if c.enqueue(msg) {
		return
	}

	h.logger.Warn("dropping slow client",
		zap.String("channel", channel),
		zap.String("type", string(ev.Type)))
	h.Unregister(c)
	if c.conn != nil {
		_ = c.conn.Close()
	}
}

// Has reports whether channel is connected to this hub
func (h *Hub) Has(channel string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.clients[channel]
	return ok
}

// Count returns the number of connected clients
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// CloseAll closes every client
func (h *Hub) CloseAll() {
	h.mu.RLock()
	clients := make([]*Client, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	for _, c := range clients {
		h.Unregister(c)
	}
}
