// PlexGuard - Access Control and Session Enforcement for Plex
// Copyright 2026 PlexGuard Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/plexguard/plexguard

// Package websocket streams bus events to connected admin UI clients. The
// hub subscribes to every event topic and fans messages out to however
// many dashboards are open; a slow client is dropped rather than allowed
// to stall the others.
package websocket

import (
	"context"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/goccy/go-json"

	"github.com/plexguard/plexguard/internal/events"
	"github.com/plexguard/plexguard/internal/logging"
)

// Envelope is the frame sent to UI clients.
type Envelope struct {
	Type      string          `json:"type"`
	Data      json.RawMessage `json:"data"`
	Timestamp time.Time       `json:"timestamp"`
}

// Hub manages connected clients and broadcasts.
type Hub struct {
	mu         sync.RWMutex
	clients    map[*Client]bool
	broadcast  chan []byte
	register   chan *Client
	unregister chan *Client
}

// NewHub creates a hub.
func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan []byte, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
	}
}

// AttachBus subscribes the hub to every event topic. Call before the hub
// starts serving.
func (h *Hub) AttachBus(ctx context.Context, bus *events.Bus) error {
	topics := []string{
		events.TopicNewDevice,
		events.TopicLocationChange,
		events.TopicReturnedDevice,
		events.TopicNoteSubmitted,
		events.TopicStreamBlocked,
	}

	for _, topic := range topics {
		topic := topic
		err := bus.Subscribe(ctx, topic, "websocket-hub", func(msg *message.Message) error {
			h.BroadcastEvent(topic, msg.Payload)
			return nil
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// BroadcastEvent queues one event frame for all connected clients.
func (h *Hub) BroadcastEvent(eventType string, payload []byte) {
	frame, err := json.Marshal(Envelope{
		Type:      eventType,
		Data:      payload,
		Timestamp: time.Now().UTC(),
	})
	if err != nil {
		logging.Error().Err(err).Str("type", eventType).Msg("websocket frame marshal failed")
		return
	}

	select {
	case h.broadcast <- frame:
	default:
		logging.Warn().Str("type", eventType).Msg("websocket broadcast buffer full, dropping frame")
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Serve implements suture.Service: the hub's select loop.
func (h *Hub) Serve(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return ctx.Err()

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()

		case client := <-h.unregister:
			h.mu.Lock()
			if h.clients[client] {
				delete(h.clients, client)
				close(client.send)
			}
			h.mu.Unlock()

		case frame := <-h.broadcast:
			h.mu.Lock()
			for client := range h.clients {
				select {
				case client.send <- frame:
				default:
					// Slow consumer: drop it instead of blocking the hub.
					delete(h.clients, client)
					close(client.send)
				}
			}
			h.mu.Unlock()
		}
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for client := range h.clients {
		close(client.send)
		delete(h.clients, client)
	}
}
