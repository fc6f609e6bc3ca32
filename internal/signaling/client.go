package signaling

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	// PingInterval and PongWait are used for heartbeat (seconds).
	PingInterval = 30
	PongWait     = 60

	writeWait     = 10 * time.Second
	maxMessageLen = 65536
	sendBuffer    = 256
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // allow all origins in dev; restrict in production
	},
}

// Client is one WebSocket connection. Lifecycle: connected, joined to at most
// one room after a join event, closed. room/name/joined are owned by the hub
// and guarded by its lock.
type Client struct {
	ID     string
	hub    *Hub
	conn   *websocket.Conn
	send   chan Envelope
	logger *zap.Logger

	room   uuid.UUID
	name   string
	joined bool
}

// ServeWs handles the WebSocket upgrade and runs the client loop.
func ServeWs(hub *Hub, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			logger.Warn("websocket upgrade failed", zap.Error(err))
			return
		}

		client := &Client{
			ID:     uuid.New().String(),
			hub:    hub,
			conn:   conn,
			send:   make(chan Envelope, sendBuffer),
			logger: logger,
		}
		logger.Debug("client connected", zap.String("conn_id", client.ID))
		go client.writePump()
		client.readPump()
	}
}

// enqueue hands an envelope to the connection's writer without blocking.
// A full buffer means a slow consumer; the message is dropped.
func (c *Client) enqueue(env Envelope) {
	select {
	case c.send <- env:
	default:
	}
}

func (c *Client) readPump() {
	defer func() {
		c.hub.Leave(c)
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageLen)
	_ = c.conn.SetReadDeadline(time.Now().Add(PongWait * time.Second))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(PongWait * time.Second))
		return nil
	})

	for {
		var env Envelope
		if err := c.conn.ReadJSON(&env); err != nil {
			break
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(PongWait * time.Second))

		switch env.Event {
		case EventJoin:
			var payload JoinPayload
			if err := json.Unmarshal(env.Data, &payload); err != nil || payload.SessionID == "" {
				continue
			}
			roomID, err := uuid.Parse(payload.SessionID)
			if err != nil {
				continue
			}
			members := c.hub.Join(c, roomID, payload.DisplayName)
			c.enqueue(newEnvelope(EventExistingMembers, members))
			c.hub.BroadcastToRoomExcept(roomID, c.ID,
				newEnvelope(EventPeerJoined, Member{ID: c.ID, Name: payload.DisplayName}))

		case EventOffer, EventAnswer, EventICECandidate:
			if !c.joined {
				continue
			}
			var payload SignalPayload
			if err := json.Unmarshal(env.Data, &payload); err != nil || payload.Target == "" {
				continue
			}
			c.hub.SendToClient(c.room, payload.Target, newEnvelope(env.Event, ForwardedSignal{
				Sender:    c.ID,
				SDP:       payload.SDP,
				Candidate: payload.Candidate,
			}))

		default:
			// ignore
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(PingInterval * time.Second)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case env, ok := <-c.send:
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(env); err != nil {
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
