// Warden - Upload Abuse Detection and Enforcement
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/warden

// Package websocket pushes appeal queue activity to connected reviewer
// consoles.
package websocket

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/tomtom215/warden/internal/logging"
	"github.com/tomtom215/warden/internal/models"
)

// Message types.
const (
	MessageTypeAppealSubmitted = "appeal_submitted"
	MessageTypeAppealDecided   = "appeal_decided"
	MessageTypePing            = "ping"
	MessageTypePong            = "pong"
)

// ErrBroadcastFull is returned when the broadcast queue is full and the
// message was dropped.
var ErrBroadcastFull = errors.New("websocket broadcast queue full")

// Message is the envelope of every frame sent to clients.
type Message struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
}

// AppealNotice is the payload of the appeal messages. The user id and the
// appeal text stay out of it; reviewers fetch the appeal for details.
type AppealNotice struct {
	AppealID         string              `json:"appeal_id"`
	BlockedContentID string              `json:"blocked_content_id"`
	Status           models.AppealStatus `json:"status"`
	SubmittedAt      time.Time           `json:"submitted_at"`
	ReviewedAt       *time.Time          `json:"reviewed_at,omitempty"`
}

// Hub tracks connected clients and fans messages out to them.
type Hub struct {
	mu        sync.RWMutex
	clients   map[*Client]struct{}
	broadcast chan Message
}

// NewHub returns a hub with a 256 message queue.
func NewHub() *Hub {
	return &Hub{
		clients:   make(map[*Client]struct{}),
		broadcast: make(chan Message, 256),
	}
}

// Attach registers conn and starts its read and write pumps.
func (h *Hub) Attach(conn *websocket.Conn) *Client {
	c := newClient(h, conn)
	h.mu.Lock()
	h.clients[c] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()
	logging.Info().Int("total_clients", n).Msg("websocket client connected")

	c.start()
	return c
}

// detach drops c and closes its send queue. Safe to call more than once.
func (h *Hub) detach(c *Client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
	n := len(h.clients)
	h.mu.Unlock()
	logging.Info().Int("total_clients", n).Msg("websocket client disconnected")
}

// RunWithContext delivers queued messages until ctx is done, then closes
// every client. Cancellation is checked before each delivery.
func (h *Hub) RunWithContext(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			n := h.closeAll()
			logging.Info().
				Str("component", "websocket-hub").
				Int("clients_closed", n).
				Msg("websocket hub stopped")
			return ctx.Err()
		default:
		}

		select {
		case <-ctx.Done():
		case msg := <-h.broadcast:
			h.deliver(msg)
		}
	}
}

// deliver sends msg to every client in connection order. A client whose
// queue is full is dropped.
func (h *Hub) deliver(msg Message) {
	h.mu.Lock()
	defer h.mu.Unlock()

	clients := h.sortedLocked()
	for _, c := range clients {
		select {
		case c.send <- msg:
		default:
			close(c.send)
			delete(h.clients, c)
			logging.Warn().Uint64("client_id", c.id).Msg("websocket client too slow, dropped")
		}
	}
}

func (h *Hub) closeAll() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	clients := h.sortedLocked()
	for _, c := range clients {
		close(c.send)
		delete(h.clients, c)
	}
	return len(clients)
}

func (h *Hub) sortedLocked() []*Client {
	clients := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	sort.Slice(clients, func(i, j int) bool { return clients[i].id < clients[j].id })
	return clients
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Broadcast queues msg for every client without blocking.
func (h *Hub) Broadcast(msg Message) error {
	select {
	case h.broadcast <- msg:
		return nil
	default:
		logging.Warn().Str("message_type", msg.Type).Msg("broadcast channel full, dropping message")
		return ErrBroadcastFull
	}
}

// AppealSubmitted announces a new appeal to the review consoles.
func (h *Hub) AppealSubmitted(_ context.Context, a *models.Appeal) error {
	return h.Broadcast(Message{Type: MessageTypeAppealSubmitted, Data: noticeFor(a)})
}

// AppealDecided announces a review decision so other consoles drop the
// appeal from their queue.
func (h *Hub) AppealDecided(_ context.Context, a *models.Appeal) error {
	return h.Broadcast(Message{Type: MessageTypeAppealDecided, Data: noticeFor(a)})
}

func noticeFor(a *models.Appeal) AppealNotice {
	return AppealNotice{
		AppealID:         a.ID,
		BlockedContentID: a.BlockedContentID,
		Status:           a.Status,
		SubmittedAt:      a.SubmittedAt,
		ReviewedAt:       a.ReviewedAt,
	}
}
