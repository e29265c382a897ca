package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"amplifi/internal/common"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 30 * time.Second
	maxFrameSize   = 4096
	sendBufferSize = 256
)

// Client is one websocket connection of one user.
type Client struct {
	hub    *Hub
	conn   *websocket.Conn
	userID string
	send   chan []byte
	rooms  map[string]struct{} // owned by the hub goroutine
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// ServeWS upgrades an authenticated request. Browsers cannot set headers on
// websocket requests, so the bearer token may also arrive as ?token=.
func ServeWS(hub *Hub, tokens *common.TokenManager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := common.UserIDFrom(r.Context())
		if userID == "" {
			claims, err := tokens.ValidToken(r.URL.Query().Get("token"))
			if err != nil {
				common.WriteError(w, common.NewError(common.ErrUnauthorized, "a valid token is required"))
				return
			}
			userID = claims.UserID
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			common.Log.WithError(err).Warn("websocket upgrade failed")
			return
		}
		c := &Client{
			hub:    hub,
			conn:   conn,
			userID: userID,
			send:   make(chan []byte, sendBufferSize),
			rooms:  map[string]struct{}{},
		}
		if hello, ok := encode(NewFrame("connected", map[string]any{"userId": userID, "time": time.Now().Unix()})); ok {
			c.send <- hello
		}
		hub.submit(hub.register, c)

		go c.writePump()
		go c.readPump()
	}
}

func (c *Client) readPump() {
	defer func() {
		c.hub.submit(c.hub.unregister, c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxFrameSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				common.Log.WithError(err).WithField("user_id", c.userID).Warn("websocket read failed")
			}
			return
		}
		var f Frame
		if err := json.Unmarshal(data, &f); err != nil {
			continue
		}
		c.hub.dispatch(context.Background(), c, f)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
