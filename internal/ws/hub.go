package ws

import (
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/parlorhq/parlor/internal/chat"
	"github.com/parlorhq/parlor/internal/service"
)

// sendBufferSize is the per-client outbound buffer. A client that
// cannot drain it fast enough has events dropped; the next snapshot
// broadcast restores convergence.
const sendBufferSize = 64

// Hub fans outbound events out to every connected client. It is the
// Broadcaster the orchestrator drives.
type Hub struct {
	mu      sync.RWMutex
	clients map[*Client]struct{}
	log     *slog.Logger
}

var _ service.Broadcaster = (*Hub)(nil)

func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		clients: make(map[*Client]struct{}),
		log:     logger.With("component", "hub"),
	}
}

func (h *Hub) register(c *Client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()
	h.log.Debug("client connected", "clients", n)
}

// unregister removes the client and signals its pumps via done. The
// send channel is never closed: broadcast may still hold a reference
// to a client it snapshotted before the disconnect, and sending to a
// closed channel would panic.
func (h *Hub) unregister(c *Client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.done)
	}
	n := len(h.clients)
	h.mu.Unlock()
	h.log.Debug("client disconnected", "clients", n)
}

// broadcast marshals once and delivers to every client, dropping the
// frame for clients whose buffers are full.
func (h *Hub) broadcast(evt *Event) {
	body, err := json.Marshal(evt)
	if err != nil {
		h.log.Error("marshal event", "type", evt.Type, "error", err)
		return
	}

	h.mu.RLock()
	targets := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	for _, c := range targets {
		select {
		case c.send <- body:
		case <-c.done:
		default:
			h.log.Debug("dropped event for slow client", "type", evt.Type)
		}
	}
}

func (h *Hub) ChatsUpdated(chats []chat.Chat, affectedIndex int) {
	idx := affectedIndex
	h.broadcast(&Event{Type: EventChatsUpdated, Chats: chats, AffectedIndex: &idx})
}

func (h *Hub) GenerationComplete() {
	h.broadcast(&Event{Type: EventGenerationComplete})
}

func (h *Hub) Error(message string) {
	h.broadcast(&Event{Type: EventError, Message: message})
}

func (h *Hub) Info(message string) {
	h.broadcast(&Event{Type: EventInfo, Message: message})
}
