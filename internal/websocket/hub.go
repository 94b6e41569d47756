package websocket

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/rs/zerolog"

	"github.com/xelth-com/eckpick/internal/picking"
)

type subscription struct {
	client    *Client
	sessionID string
	applied   chan struct{}
}

// Hub maintains the set of active clients and routes session events to them.
// Several clients may follow the same picking session (scanner plus tablet).
type Hub struct {
	// Registered clients: SessionID -> clients
	sessions map[string]map[*Client]struct{}

	// Register (or re-register under another session) requests
	register chan subscription

	// Unregister requests
	unregister chan *Client

	// Closed when Run returns
	done chan struct{}

	// Mutex for thread-safe access to sessions map
	mu  sync.RWMutex
	log zerolog.Logger
}

// NewHub creates a new Hub instance
func NewHub(log zerolog.Logger) *Hub {
	return &Hub{
		sessions:   make(map[string]map[*Client]struct{}),
		register:   make(chan subscription),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		log:        log.With().Str("component", "ws-hub").Logger(),
	}
}

// Run starts the hub's main loop until ctx is cancelled
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case sub := <-h.register:
			h.mu.Lock()
			h.detach(sub.client)
			sub.client.sessionID = sub.sessionID
			clients, ok := h.sessions[sub.sessionID]
			if !ok {
				clients = make(map[*Client]struct{})
				h.sessions[sub.sessionID] = clients
			}
			clients[sub.client] = struct{}{}
			h.mu.Unlock()
			close(sub.applied)
			h.log.Info().Str("session", sub.sessionID).Msg("📱 Client subscribed")

		case client := <-h.unregister:
			h.mu.Lock()
			if h.detach(client) {
				close(client.send)
				h.log.Info().Str("session", client.sessionID).Msg("📴 Client disconnected")
			}
			h.mu.Unlock()

		case <-ctx.Done():
			h.mu.Lock()
			for _, clients := range h.sessions {
				for c := range clients {
					close(c.send)
				}
			}
			h.sessions = make(map[string]map[*Client]struct{})
			h.mu.Unlock()
			return
		}
	}
}

// detach removes a client from its current session; caller holds mu
func (h *Hub) detach(c *Client) bool {
	clients, ok := h.sessions[c.sessionID]
	if !ok {
		return false
	}
	if _, ok := clients[c]; !ok {
		return false
	}
	delete(clients, c)
	if len(clients) == 0 {
		delete(h.sessions, c.sessionID)
	}
	return true
}

// subscribe returns once the hub routes the session's events to c
func (h *Hub) subscribe(c *Client, sessionID string) bool {
	sub := subscription{client: c, sessionID: sessionID, applied: make(chan struct{})}
	select {
	case h.register <- sub:
		<-sub.applied
		return true
	case <-h.done:
		return false
	}
}

func (h *Hub) leave(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

// Publish delivers a picking event to every client following its session.
// Slow clients miss events rather than stall the engine.
func (h *Hub) Publish(e picking.Event) {
	h.SendToSession(e.SessionID, e)
}

// SendToSession sends a message to all clients of a session and reports how many took it
func (h *Hub) SendToSession(sessionID string, message interface{}) int {
	jsonMsg, err := json.Marshal(message)
	if err != nil {
		h.log.Error().Err(err).Msg("Error marshaling message")
		return 0
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	sent := 0
	for c := range h.sessions[sessionID] {
		select {
		case c.send <- jsonMsg:
			sent++
		default:
			// Buffer full or client dead
			h.log.Warn().Str("session", sessionID).Msg("Dropping event for slow client")
		}
	}
	return sent
}

// sendTo writes to one client if it is still registered
func (h *Hub) sendTo(c *Client, message interface{}) {
	jsonMsg, err := json.Marshal(message)
	if err != nil {
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	if _, ok := h.sessions[c.sessionID][c]; !ok {
		return
	}
	select {
	case c.send <- jsonMsg:
	default:
	}
}

func (h *Hub) sessionOf(c *Client) string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return c.sessionID
}

// Clients counts the connections following a session
func (h *Hub) Clients(sessionID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions[sessionID])
}

var _ picking.EventSink = (*Hub)(nil)
