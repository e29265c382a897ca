package realtime

import (
	"context"
	"encoding/json"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"

	"amplifi/internal/common"
	"amplifi/internal/metrics"
)

// Frame is the JSON envelope used in both directions on the socket.
type Frame struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// NewFrame marshals payload into a frame. Marshal failures yield a frame with no payload.
func NewFrame(typ string, payload any) Frame {
	raw, err := json.Marshal(payload)
	if err != nil {
		common.Log.WithError(err).WithField("type", typ).Error("frame encode failed")
		return Frame{Type: typ}
	}
	return Frame{Type: typ, Payload: raw}
}

// FrameHandler handles an inbound frame from an authenticated user.
type FrameHandler func(ctx context.Context, userID string, payload json.RawMessage)

// RoomGuard decides whether userID may subscribe to room.
type RoomGuard func(ctx context.Context, userID, room string) error

// Hub fans frames out to connected users and to named rooms. A single goroutine
// owns the client maps; everything else talks to it over channels.
type Hub struct {
	register   chan *Client
	unregister chan *Client
	toUsers    chan userDelivery
	toRoom     chan roomDelivery
	membership chan roomChange
	counts     chan chan int
	done       chan struct{}

	mu       sync.RWMutex
	handlers map[string]FrameHandler
	guards   map[string]RoomGuard

	users map[string]map[*Client]struct{}
	rooms map[string]map[*Client]struct{}
}

type userDelivery struct {
	userIDs []string
	data    []byte
}

type roomDelivery struct {
	room string
	data []byte
}

type roomChange struct {
	client *Client
	room   string
	join   bool
}

func NewHub() *Hub {
	h := &Hub{
		register:   make(chan *Client),
		unregister: make(chan *Client),
		toUsers:    make(chan userDelivery, 256),
		toRoom:     make(chan roomDelivery, 256),
		membership: make(chan roomChange),
		counts:     make(chan chan int),
		done:       make(chan struct{}),
		handlers:   map[string]FrameHandler{},
		guards:     map[string]RoomGuard{},
		users:      map[string]map[*Client]struct{}{},
		rooms:      map[string]map[*Client]struct{}{},
	}
	h.Handle("ping", func(_ context.Context, userID string, _ json.RawMessage) {
		h.SendToUsers([]string{userID}, NewFrame("pong", nil))
	})
	return h
}

// Handle registers fn for inbound frames of the given type.
func (h *Hub) Handle(frameType string, fn FrameHandler) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.handlers[frameType] = fn
}

// GuardRooms checks every subscription to a room starting with prefix against fn.
func (h *Hub) GuardRooms(prefix string, fn RoomGuard) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.guards[prefix] = fn
}

func (h *Hub) authorize(ctx context.Context, userID, room string) error {
	h.mu.RLock()
	var guard RoomGuard
	for prefix, fn := range h.guards {
		if strings.HasPrefix(room, prefix) {
			guard = fn
			break
		}
	}
	h.mu.RUnlock()
	if guard == nil {
		return nil
	}
	return guard(ctx, userID, room)
}

func (h *Hub) handler(frameType string) (FrameHandler, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	fn, ok := h.handlers[frameType]
	return fn, ok
}

// Run owns the hub state until ctx is cancelled, then closes every client.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			for _, set := range h.users {
				for c := range set {
					close(c.send)
				}
			}
			h.users = map[string]map[*Client]struct{}{}
			h.rooms = map[string]map[*Client]struct{}{}
			metrics.WebsocketClients.Set(0)
			return

		case c := <-h.register:
			if h.users[c.userID] == nil {
				h.users[c.userID] = map[*Client]struct{}{}
			}
			h.users[c.userID][c] = struct{}{}
			metrics.WebsocketClients.Inc()
			common.Log.WithField("user_id", c.userID).Debug("websocket client registered")

		case c := <-h.unregister:
			h.drop(c)

		case m := <-h.membership:
			if _, ok := h.users[m.client.userID][m.client]; !ok {
				continue
			}
			if m.join {
				if h.rooms[m.room] == nil {
					h.rooms[m.room] = map[*Client]struct{}{}
				}
				h.rooms[m.room][m.client] = struct{}{}
				m.client.rooms[m.room] = struct{}{}
				continue
			}
			h.leaveRoom(m.client, m.room)

		case d := <-h.toUsers:
			for _, id := range d.userIDs {
				for c := range h.users[id] {
					h.offer(c, d.data)
				}
			}

		case d := <-h.toRoom:
			for c := range h.rooms[d.room] {
				h.offer(c, d.data)
			}

		case reply := <-h.counts:
			n := 0
			for _, set := range h.users {
				n += len(set)
			}
			reply <- n
		}
	}
}

// offer drops clients whose send buffer is full rather than blocking the hub.
func (h *Hub) offer(c *Client, data []byte) {
	select {
	case c.send <- data:
	default:
		common.Log.WithField("user_id", c.userID).Warn("websocket client too slow, disconnecting")
		h.drop(c)
	}
}

func (h *Hub) drop(c *Client) {
	set, ok := h.users[c.userID]
	if !ok {
		return
	}
	if _, ok := set[c]; !ok {
		return
	}
	for room := range c.rooms {
		h.leaveRoom(c, room)
	}
	delete(set, c)
	if len(set) == 0 {
		delete(h.users, c.userID)
	}
	close(c.send)
	metrics.WebsocketClients.Dec()
}

func (h *Hub) leaveRoom(c *Client, room string) {
	delete(c.rooms, room)
	if members, ok := h.rooms[room]; ok {
		delete(members, c)
		if len(members) == 0 {
			delete(h.rooms, room)
		}
	}
}

func encode(f Frame) ([]byte, bool) {
	data, err := json.Marshal(f)
	if err != nil {
		common.Log.WithError(err).WithField("type", f.Type).Error("frame encode failed")
		return nil, false
	}
	return data, true
}

// SendToUsers delivers f to every connection of the given users.
func (h *Hub) SendToUsers(userIDs []string, f Frame) {
	if len(userIDs) == 0 {
		return
	}
	if data, ok := encode(f); ok {
		select {
		case h.toUsers <- userDelivery{userIDs: userIDs, data: data}:
		case <-h.done:
		}
	}
}

// Broadcast delivers f to every connection subscribed to room.
func (h *Hub) Broadcast(room string, f Frame) {
	if data, ok := encode(f); ok {
		select {
		case h.toRoom <- roomDelivery{room: room, data: data}:
		case <-h.done:
		}
	}
}

func (h *Hub) submit(ch chan *Client, c *Client) {
	select {
	case ch <- c:
	case <-h.done:
	}
}

func (h *Hub) changeRoom(m roomChange) {
	select {
	case h.membership <- m:
	case <-h.done:
	}
}

// Connected returns the number of open connections, or 0 once the hub stopped.
func (h *Hub) Connected() int {
	reply := make(chan int, 1)
	select {
	case h.counts <- reply:
		return <-reply
	case <-h.done:
		return 0
	}
}

func (h *Hub) dispatch(ctx context.Context, c *Client, f Frame) {
	switch f.Type {
	case "subscribe", "unsubscribe":
		var p struct {
			Room string `json:"room"`
		}
		if err := json.Unmarshal(f.Payload, &p); err != nil || p.Room == "" {
			return
		}
		join := f.Type == "subscribe"
		if join {
			if err := h.authorize(ctx, c.userID, p.Room); err != nil {
				common.Log.WithError(err).WithFields(logrus.Fields{"user_id": c.userID, "room": p.Room}).Debug("room subscription refused")
				h.SendToUsers([]string{c.userID}, NewFrame("subscribe_denied", map[string]string{
					"room":  p.Room,
					"error": err.Error(),
				}))
				return
			}
		}
		h.changeRoom(roomChange{client: c, room: p.Room, join: join})
		return
	}

	fn, ok := h.handler(f.Type)
	if !ok {
		common.Log.WithFields(logrus.Fields{"user_id": c.userID, "type": f.Type}).Debug("unhandled websocket frame")
		return
	}
	fn(ctx, c.userID, f.Payload)
}
