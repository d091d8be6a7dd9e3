// Fontaine - Connected Water Fountain Gamification Platform
// Copyright 2026 Culture Thirst
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/culture-thirst/fontaine

package realtime

import (
	"context"
	"sort"
	"sync"

	"github.com/culture-thirst/fontaine/internal/logging"
	"github.com/culture-thirst/fontaine/internal/metrics"
)

// SnapshotFunc produces the current counters for an init message. The hub
// calls it once per client registration so reconnecting clients
// resynchronize without replaying missed events.
type SnapshotFunc func() InitSnapshot

// ControlFunc receives device-originated control messages (start_fill,
// stop_fill) read from a client connection.
type ControlFunc func(m Message)

// Hub maintains the set of active clients and fans messages out to them.
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan Message
	Register   chan *Client
	Unregister chan *Client
	mu         sync.RWMutex

	snapshot  SnapshotFunc
	onControl ControlFunc
}

// NewHub creates a hub. snapshot may be nil, in which case clients receive
// a zero init message on connect.
func NewHub(snapshot SnapshotFunc, onControl ControlFunc) *Hub {
	if snapshot == nil {
		snapshot = func() InitSnapshot { return InitSnapshot{} }
	}
	if onControl == nil {
		onControl = func(Message) {}
	}
	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan Message, 256),
		Register:   make(chan *Client),
		Unregister: make(chan *Client),
		snapshot:   snapshot,
		onControl:  onControl,
	}
}

// Serve runs the hub until ctx is canceled. Designed for suture
// supervision; returning ctx.Err() tells the supervisor the stop was
// intentional.
//
// Channel readiness is checked in priority order so client state is always
// settled before a broadcast is processed: shutdown first, then lifecycle
// events, then broadcasts.
func (h *Hub) Serve(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			h.shutdown()
			return ctx.Err()
		default:
		}

		select {
		case client := <-h.Register:
			h.register(client)
			continue
		case client := <-h.Unregister:
			h.unregister(client)
			continue
		default:
		}

		select {
		case <-ctx.Done():
			h.shutdown()
			return ctx.Err()
		case client := <-h.Register:
			h.register(client)
		case client := <-h.Unregister:
			h.unregister(client)
		case message := <-h.broadcast:
			h.broadcastToClients(message)
		}
	}
}

func (h *Hub) register(client *Client) {
	h.mu.Lock()
	h.clients[client] = true
	total := len(h.clients)
	h.mu.Unlock()

	metrics.WebsocketClients.Set(float64(total))
	logging.Info().Int("total_clients", total).Msg("Realtime client connected")

	// The init snapshot is this client's resynchronization point; it goes
	// straight to the client's queue, never through broadcast.
	snap := h.snapshot()
	select {
	case client.send <- Message{Kind: KindInit, Init: &snap}:
	default:
		metrics.BroadcastsDropped.WithLabelValues(string(KindInit)).Inc()
	}
}

func (h *Hub) unregister(client *Client) {
	h.mu.Lock()
	if _, ok := h.clients[client]; ok {
		delete(h.clients, client)
		close(client.send)
	}
	total := len(h.clients)
	h.mu.Unlock()

	metrics.WebsocketClients.Set(float64(total))
	logging.Info().Int("total_clients", total).Msg("Realtime client disconnected")
}

// broadcastToClients delivers a message to every client in id order.
// Sorting keeps delivery order reproducible; map iteration order is not.
func (h *Hub) broadcastToClients(message Message) {
	h.mu.Lock()
	defer h.mu.Unlock()

	clients := make([]*Client, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	sort.Slice(clients, func(i, j int) bool {
		return clients[i].id < clients[j].id
	})

	var toRemove []*Client
	for _, client := range clients {
		select {
		case client.send <- message:
		default:
			// Queue full means the client stopped draining; evict it.
			toRemove = append(toRemove, client)
		}
	}

	for _, client := range toRemove {
		metrics.BroadcastsDropped.WithLabelValues(string(message.Kind)).Inc()
		close(client.send)
		delete(h.clients, client)
	}
	if len(toRemove) > 0 {
		metrics.WebsocketClients.Set(float64(len(h.clients)))
		logging.Warn().Int("evicted", len(toRemove)).Msg("Evicted slow realtime clients")
	}
}

func (h *Hub) shutdown() {
	h.mu.Lock()
	clients := make([]*Client, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	sort.Slice(clients, func(i, j int) bool {
		return clients[i].id < clients[j].id
	})
	for _, client := range clients {
		close(client.send)
		delete(h.clients, client)
	}
	h.mu.Unlock()

	metrics.WebsocketClients.Set(0)
	logging.Info().
		Str("component", "realtime-hub").
		Int("clients_closed", len(clients)).
		Msg("Realtime hub stopped")
}

// ClientCount reports the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Broadcast queues a message for every client. Dropped, with a metric, if
// the hub's queue is full.
func (h *Hub) Broadcast(m Message) {
	select {
	case h.broadcast <- m:
	default:
		metrics.BroadcastsDropped.WithLabelValues(string(m.Kind)).Inc()
		logging.Warn().Str("kind", string(m.Kind)).Msg("Realtime broadcast queue full, message dropped")
	}
}

// BroadcastFlow publishes the machine's cumulative liters for the current fill.
func (h *Hub) BroadcastFlow(liters float64) {
	h.Broadcast(Message{Kind: KindFlow, Flow: liters})
}

// BroadcastDeptUpdate publishes refreshed department totals.
func (h *Hub) BroadcastDeptUpdate(water float64, plastic int) {
	h.Broadcast(Message{Kind: KindDeptUpdate, Dept: &DeptUpdate{Water: water, Plastic: plastic}})
}

// BroadcastStartFill signals the button press to all clients.
func (h *Hub) BroadcastStartFill() {
	h.Broadcast(Message{Kind: KindStartFill})
}

// BroadcastStopFill signals the button release to all clients.
func (h *Hub) BroadcastStopFill() {
	h.Broadcast(Message{Kind: KindStopFill})
}

// BroadcastUpdateDone confirms a close's aggregates were persisted.
func (h *Hub) BroadcastUpdateDone() {
	h.Broadcast(Message{Kind: KindUpdateDone})
}
