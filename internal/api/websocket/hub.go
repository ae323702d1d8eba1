package websocket

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/KevinKickass/BragerSync/internal/session"
	"github.com/KevinKickass/BragerSync/internal/state"
	"go.uber.org/zap"
)

// Displayer converts raw values for presentation.
type Displayer interface {
	Display(symbol string, raw any) any
}

// SnapshotProvider returns the payload sent to a client right after it
// connects.
type SnapshotProvider func() any

// Hub maintains active WebSocket clients and broadcasts messages
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan Message
	register   chan *Client
	unregister chan *Client

	mu     sync.RWMutex
	logger *zap.Logger
	done   chan struct{}

	display  Displayer
	snapshot SnapshotProvider
}

func NewHub(display Displayer, logger *zap.Logger) *Hub {
	return &Hub{
		broadcast:  make(chan Message, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		clients:    make(map[*Client]bool),
		logger:     logger,
		done:       make(chan struct{}),
		display:    display,
	}
}

func (h *Hub) SetSnapshotProvider(provider SnapshotProvider) {
	h.snapshot = provider
}

// Run is the hub's event loop. It returns when ctx is done, closing every
// client.
func (h *Hub) Run(ctx context.Context) {
	h.logger.Info("WebSocket hub started")
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for client := range h.clients {
				close(client.send)
				delete(h.clients, client)
			}
			h.mu.Unlock()
			h.logger.Info("WebSocket hub stopped")
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			total := len(h.clients)
			h.mu.Unlock()
			h.logger.Info("WebSocket client registered",
				zap.String("client_id", client.id.String()),
				zap.Int("total_clients", total))
			h.sendSnapshot(client)

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
				h.logger.Info("WebSocket client unregistered",
					zap.String("client_id", client.id.String()),
					zap.Int("total_clients", len(h.clients)))
			}
			h.mu.Unlock()

		case message := <-h.broadcast:
			data, err := json.Marshal(message)
			if err != nil {
				h.logger.Error("Failed to marshal broadcast message", zap.Error(err))
				continue
			}

			h.mu.Lock()
			for client := range h.clients {
				select {
				case client.send <- data:
				default:
					// slow or dead client
					close(client.send)
					delete(h.clients, client)
					h.logger.Warn("Client send buffer full, unregistering",
						zap.String("client_id", client.id.String()))
				}
			}
			h.mu.Unlock()
		}
	}
}

func (h *Hub) sendSnapshot(client *Client) {
	if h.snapshot == nil {
		return
	}
	data, err := json.Marshal(NewMessage(MessageTypeSnapshot, h.snapshot()))
	if err != nil {
		h.logger.Error("Failed to marshal snapshot", zap.Error(err))
		return
	}
	select {
	case client.send <- data:
	default:
	}
}

// Broadcast sends a message to all connected clients
func (h *Hub) Broadcast(msg Message) {
	select {
	case h.broadcast <- msg:
	default:
		h.logger.Warn("Hub broadcast channel full, message dropped",
			zap.String("message_type", string(msg.Type)))
	}
}

// GetClientCount returns the number of connected clients
func (h *Hub) GetClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// OnStateChange implements session.Listener.
func (h *Hub) OnStateChange(from, to session.State, cause error) {
	h.Broadcast(NewSessionStateMessage(to.String(), from.String(), cause))
}

// OnUpdate implements session.Listener.
func (h *Hub) OnUpdate(u state.Update) {
	display := u.Raw
	if h.display != nil {
		display = h.display.Display(u.Symbol, u.Raw)
	}
	h.Broadcast(NewParameterUpdateMessage(u, display))
}
