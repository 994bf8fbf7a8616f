package socket

import (
	"context"
	"encoding/json"
	"sync"

	"grocerylist/pkg/logger"

	"github.com/gorilla/websocket"
)

const (
	SnapshotType    = "SNAPSHOT"     // Full list sent to a client when it subscribes
	ListUpdatedType = "LIST_UPDATED" // Name/description/closed state changed, or items moved
	ListDeletedType = "LIST_DELETED" // List and all of its items are gone
	ItemCreatedType = "ITEM_CREATED"
	ItemUpdatedType = "ITEM_UPDATED" // Includes purchased toggles
	ItemDeletedType = "ITEM_DELETED"
)

type WSMessage struct {
	Type    string          `json:"type"`
	ListID  int64           `json:"list_id"`
	UserID  string          `json:"user_id"`
	Payload json.RawMessage `json:"payload"`
}

// Hub keeps the websocket subscribers of each list. It only fans out change
// notifications; grocery data always comes from the database.
type Hub struct {
	Rooms      map[int64]map[*Client]bool
	Broadcast  chan WSMessage
	Register   chan *Client
	Unregister chan *Client
	activate   chan activation
	closeList  chan int64
	done       chan struct{}
	mu         sync.Mutex
}

type Client struct {
	Hub    *Hub
	Conn   *websocket.Conn
	ListID int64
	UserID string
	Send   chan []byte

	// Until the snapshot is delivered, events are held in pending. Both
	// fields are owned by the hub.
	ready   bool
	pending [][]byte
}

type activation struct {
	client   *Client
	snapshot []byte
}

func NewHub() *Hub {
	return &Hub{
		Rooms:      make(map[int64]map[*Client]bool),
		Broadcast:  make(chan WSMessage),
		Register:   make(chan *Client),
		Unregister: make(chan *Client),
		activate:   make(chan activation),
		closeList:  make(chan int64),
		done:       make(chan struct{}),
	}
}

// Run is the hub's event loop. It returns when ctx is cancelled, after
// disconnecting every client.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)

	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for listID := range h.Rooms {
				h.dropRoomLocked(listID)
			}
			h.mu.Unlock()
			return

		case client := <-h.Register:
			h.mu.Lock()
			if h.Rooms[client.ListID] == nil {
				h.Rooms[client.ListID] = make(map[*Client]bool)
			}
			h.Rooms[client.ListID][client] = true
			h.mu.Unlock()

		case a := <-h.activate:
			h.mu.Lock()
			h.activateLocked(a.client, a.snapshot)
			h.mu.Unlock()

		case client := <-h.Unregister:
			h.mu.Lock()
			h.removeLocked(client)
			h.mu.Unlock()

		case listID := <-h.closeList:
			h.mu.Lock()
			h.dropRoomLocked(listID)
			h.mu.Unlock()
			logger.Sugar.Infof("Closed subscriptions of deleted list %d", listID)

		case msg := <-h.Broadcast:
			payload, err := json.Marshal(msg)
			if err != nil {
				logger.Sugar.Errorf("Error marshalling broadcast message: %v", err)
				continue
			}

			h.mu.Lock()
			for client := range h.Rooms[msg.ListID] {
				if !client.ready {
					if len(client.pending) < cap(client.Send)-1 {
						client.pending = append(client.pending, payload)
						continue
					}
					logger.Sugar.Warnf("Client %s fell behind before its snapshot. Unregistering.", client.UserID)
					h.removeLocked(client)
					continue
				}
				select {
				case client.Send <- payload:
				default:
					// Lagging client; drop it rather than block the hub.
					logger.Sugar.Warnf("Client %s's send buffer is full. Unregistering.", client.UserID)
					h.removeLocked(client)
				}
			}
			h.mu.Unlock()
		}
	}
}

// Publish hands a change event to the hub. It never blocks once the hub has stopped.
func (h *Hub) Publish(msg WSMessage) {
	select {
	case h.Broadcast <- msg:
	case <-h.done:
	}
}

// CloseList disconnects every subscriber of a deleted list.
func (h *Hub) CloseList(listID int64) {
	select {
	case h.closeList <- listID:
	case <-h.done:
	}
}

// SubscriberCount reports how many clients are subscribed to a list.
func (h *Hub) SubscriberCount(listID int64) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.Rooms[listID])
}

func (h *Hub) register(c *Client) bool {
	select {
	case h.Register <- c:
		return true
	case <-h.done:
		return false
	}
}

// deliver sends the snapshot to a registered client, followed by any events
// published since it registered. It reports false once the hub has stopped.
func (h *Hub) deliver(c *Client, snapshot []byte) bool {
	select {
	case h.activate <- activation{client: c, snapshot: snapshot}:
		return true
	case <-h.done:
		return false
	}
}

func (h *Hub) unregister(c *Client) {
	select {
	case h.Unregister <- c:
	case <-h.done:
	}
}

func (h *Hub) activateLocked(c *Client, snapshot []byte) {
	if !h.Rooms[c.ListID][c] {
		// Dropped while loading; Send is already closed.
		return
	}
	for _, msg := range append([][]byte{snapshot}, c.pending...) {
		select {
		case c.Send <- msg:
		default:
			logger.Sugar.Warnf("Client %s's send buffer is full. Unregistering.", c.UserID)
			h.removeLocked(c)
			return
		}
	}
	c.pending = nil
	c.ready = true
	logger.Sugar.Debugf("User %s subscribed to list %d", c.UserID, c.ListID)
}

func (h *Hub) removeLocked(c *Client) {
	room, ok := h.Rooms[c.ListID]
	if !ok || !room[c] {
		return
	}
	delete(room, c)
	close(c.Send)
	if len(room) == 0 {
		delete(h.Rooms, c.ListID)
	}
}

func (h *Hub) dropRoomLocked(listID int64) {
	for client := range h.Rooms[listID] {
		close(client.Send)
	}
	delete(h.Rooms, listID)
}
