package websocket

import (
	"encoding/json"
	"sync"

	"dm-service/internal/metrics"
	"dm-service/internal/model"
	"dm-service/internal/presence"

	"go.uber.org/zap"
)

// Hub owns the live connections and fans outbound events out to them.
// Sends never block: a client whose buffer is full is dropped.
type Hub struct {
	mu      sync.RWMutex
	clients map[presence.ConnID]*Client

	metrics *metrics.Metrics
	logger  *zap.Logger
}

func NewHub(m *metrics.Metrics, logger *zap.Logger) *Hub {
	return &Hub{
		clients: make(map[presence.ConnID]*Client),
		metrics: m,
		logger:  logger,
	}
}

func (h *Hub) Register(client *Client) {
	h.mu.Lock()
	h.clients[client.id] = client
	h.mu.Unlock()

	h.metrics.RecordConnection()
	h.logger.Debug("Client registered", zap.String("conn", string(client.id)))
}

// Unregister removes the client and closes its send buffer. It reports
// whether the client was still registered.
func (h *Hub) Unregister(client *Client) bool {
	h.mu.Lock()
	current, ok := h.clients[client.id]
	if ok && current == client {
		delete(h.clients, client.id)
	}
	h.mu.Unlock()

	if !ok || current != client {
		return false
	}
	client.closeSend()
	h.metrics.RecordDisconnection()
	h.logger.Debug("Client unregistered", zap.String("conn", string(client.id)))
	return true
}

// SendTo queues evt on conn. It reports false when the connection is gone
// or was dropped for being too slow.
func (h *Hub) SendTo(conn presence.ConnID, evt model.Event) bool {
	h.mu.RLock()
	client, ok := h.clients[conn]
	h.mu.RUnlock()
	if !ok {
		return false
	}

	payload, err := json.Marshal(evt)
	if err != nil {
		h.logger.Error("Failed to encode event", zap.String("type", string(evt.Type)), zap.Error(err))
		return false
	}
	return h.deliver(client, payload)
}

func (h *Hub) Broadcast(evt model.Event) {
	payload, err := json.Marshal(evt)
	if err != nil {
		h.logger.Error("Failed to encode event", zap.String("type", string(evt.Type)), zap.Error(err))
		return
	}

	h.mu.RLock()
	clients := make([]*Client, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	for _, c := range clients {
		h.deliver(c, payload)
	}
}

func (h *Hub) deliver(client *Client, payload []byte) bool {
	if client.enqueue(payload) {
		return true
	}
	if h.Unregister(client) {
		h.metrics.RecordDroppedEvent("slow_consumer")
		h.logger.Warn("Dropping slow client", zap.String("conn", string(client.id)))
	}
	return false
}

// Len returns the number of registered connections.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// CloseAll drops every connection, used at shutdown.
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
