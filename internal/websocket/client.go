package websocket

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = pongWait * 9 / 10
	maxMessageSize = 4 * 1024
	sendBuffer     = 64

	// SessionHeader carries the picker session id on HTTP and upgrade requests
	SessionHeader = "X-Session-ID"

	msgIdentify = "SESSION_IDENTIFY"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// handhelds load the UI from their own origin
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Client is one connected handheld or browser tab following a session
type Client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte

	// guarded by hub.mu
	sessionID string
}

// BaseMessage is the only inbound shape: a client switching sessions
type BaseMessage struct {
	Type      string `json:"type"`
	SessionID string `json:"sessionId,omitempty"`
	MsgID     string `json:"msgId,omitempty"`
}

// readPump handles identify messages until the peer goes away.
// Events only flow from the hub to the client.
func (c *Client) readPump() {
	defer func() {
		c.hub.leave(c)
		c.conn.Close()
	}()
	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var msg BaseMessage
		if err := c.conn.ReadJSON(&msg); err != nil {
			var (
				syntaxErr *json.SyntaxError
				typeErr   *json.UnmarshalTypeError
			)
			if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) {
				continue
			}
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.log.Warn().Err(err).Str("session", c.hub.sessionOf(c)).Msg("WS read failed")
			}
			return
		}
		sessionID := strings.TrimSpace(msg.SessionID)
		if msg.Type == msgIdentify && sessionID != "" {
			if !c.hub.subscribe(c, sessionID) {
				return
			}
			c.hub.sendTo(c, map[string]string{
				"type":   "ACK",
				"msgId":  msg.MsgID,
				"status": "subscribed",
			})
		}
	}
}

// writePump drains send and keeps the connection alive with pings.
// A closed send channel means the hub dropped the client.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		var (
			kind    = websocket.PingMessage
			payload []byte
		)
		select {
		case msg, ok := <-c.send:
			if !ok {
				_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
				_ = c.conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			kind, payload = websocket.TextMessage, msg
		case <-ticker.C:
		}
		_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteMessage(kind, payload); err != nil {
			return
		}
	}
}

// ServeWs upgrades the request and subscribes the client to a session taken
// from the X-Session-ID header, the "session" query parameter, or a fresh
// anonymous id that the client replaces by identifying.
func ServeWs(hub *Hub, w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		hub.log.Warn().Err(err).Msg("WS upgrade failed")
		return
	}
	sessionID := strings.TrimSpace(r.Header.Get(SessionHeader))
	if sessionID == "" {
		sessionID = strings.TrimSpace(r.URL.Query().Get("session"))
	}
	if sessionID == "" {
		sessionID = "web_" + uuid.New().String()
	}
	client := &Client{hub: hub, conn: conn, send: make(chan []byte, sendBuffer)}
	if !hub.subscribe(client, sessionID) {
		conn.Close()
		return
	}

	go client.writePump()
	go client.readPump()
}
