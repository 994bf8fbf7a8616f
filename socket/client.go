package socket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"grocerylist/internal/grocery/model"
	"grocerylist/pkg/logger"

	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 30 * time.Second
	maxMessageSize = 1024
	sendBufferSize = 256
)

// SnapshotFunc loads the list a client subscribes to. It must return
// model.ErrNotFound when userID does not own the list.
type SnapshotFunc func(ctx context.Context, userID string, listID int64) (any, error)

// NewUpgrader accepts websocket handshakes from the given origins. Requests
// without an Origin header (non-browser clients) are accepted.
func NewUpgrader(allowedOrigins []string) *websocket.Upgrader {
	return &websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" {
				return true
			}
			for _, o := range allowedOrigins {
				if o == "*" || o == origin {
					return true
				}
			}
			return false
		},
	}
}

// ServeWs subscribes an authenticated user to live updates of one list.
// Ownership is checked before the upgrade so a foreign list is a plain 404.
// The client joins the room before the snapshot is loaded, so a change
// committed meanwhile is delivered right after the snapshot.
func ServeWs(hub *Hub, upgrader *websocket.Upgrader, w http.ResponseWriter, r *http.Request, userID string, load SnapshotFunc) {
	listID, err := strconv.ParseInt(r.URL.Query().Get("listId"), 10, 64)
	if err != nil || listID <= 0 {
		http.Error(w, "Missing or invalid listId parameter", http.StatusBadRequest)
		return
	}

	client := &Client{
		Hub:    hub,
		ListID: listID,
		UserID: userID,
		Send:   make(chan []byte, sendBufferSize),
	}
	if !hub.register(client) {
		http.Error(w, "Service unavailable", http.StatusServiceUnavailable)
		return
	}

	snapshot, err := loadSnapshot(r.Context(), userID, listID, load)
	if err != nil {
		hub.unregister(client)
		if errors.Is(err, model.ErrNotFound) {
			http.Error(w, "Grocery list not found", http.StatusNotFound)
			return
		}
		logger.Sugar.Errorf("Failed to load list %d for subscription: %v", listID, err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		hub.unregister(client)
		logger.Sugar.Error(err)
		return
	}
	client.Conn = conn

	if !hub.deliver(client, snapshot) {
		conn.Close()
		return
	}

	go client.writePump()
	go client.readPump()
}

func loadSnapshot(ctx context.Context, userID string, listID int64, load SnapshotFunc) ([]byte, error) {
	list, err := load(ctx, userID, listID)
	if err != nil {
		return nil, err
	}
	payload, err := json.Marshal(list)
	if err != nil {
		return nil, fmt.Errorf("marshal snapshot of list %d: %w", listID, err)
	}
	return json.Marshal(WSMessage{Type: SnapshotType, ListID: listID, UserID: userID, Payload: payload})
}

// readPump only watches for disconnects and pongs; subscribers never write
// changes over the socket, they use the REST API.
func (c *Client) readPump() {
	defer func() {
		c.Hub.unregister(c)
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(maxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error {
		return c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.Conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logger.Sugar.Errorf("error: %v", err)
			}
			return
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The hub closed the channel: list deleted or server shutting down.
				c.Conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
