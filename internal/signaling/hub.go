package signaling

import (
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Hub is the room registry of the signaling relay: session id -> set of
// connections. Membership is ephemeral; it lives and dies with the process
// and the connections. All mutation happens under one lock, so concurrent
// connect/disconnect for the same room cannot corrupt the maps. Nothing here
// blocks: sends go into buffered per-client channels and drop on overflow.
type Hub struct {
	rooms  map[uuid.UUID]map[string]*Client
	mu     sync.RWMutex
	logger *zap.Logger
}

// NewHub creates a signaling hub.
func NewHub(logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		rooms:  make(map[uuid.UUID]map[string]*Client),
		logger: logger,
	}
}

// Join adds the connection to a room and returns the members that were
// already present. A connection is in at most one room; joining while joined
// moves it, notifying the old room of the departure.
func (h *Hub) Join(c *Client, roomID uuid.UUID, displayName string) []Member {
	h.mu.Lock()
	if c.joined {
		h.removeLocked(c)
	}
	members := make([]Member, 0, len(h.rooms[roomID]))
	for _, peer := range h.rooms[roomID] {
		members = append(members, Member{ID: peer.ID, Name: peer.name})
	}
	if h.rooms[roomID] == nil {
		h.rooms[roomID] = make(map[string]*Client)
	}
	c.room = roomID
	c.name = displayName
	c.joined = true
	h.rooms[roomID][c.ID] = c
	h.mu.Unlock()

	h.logger.Debug("connection joined room",
		zap.String("conn_id", c.ID), zap.String("room_id", roomID.String()))
	return members
}

// Leave removes the connection from its room (if any) and notifies the
// remaining members with a peer-left notice.
func (h *Hub) Leave(c *Client) {
	h.mu.Lock()
	left := h.removeLocked(c)
	h.mu.Unlock()
	if left {
		h.logger.Debug("connection left room",
			zap.String("conn_id", c.ID), zap.String("room_id", c.room.String()))
	}
}

// removeLocked detaches c from its room and broadcasts peer-left to the rest.
// Caller holds h.mu; the broadcast itself is channel sends, never blocking.
func (h *Hub) removeLocked(c *Client) bool {
	if !c.joined {
		return false
	}
	room, ok := h.rooms[c.room]
	if !ok {
		c.joined = false
		return false
	}
	delete(room, c.ID)
	if len(room) == 0 {
		delete(h.rooms, c.room)
	}
	notice := newEnvelope(EventPeerLeft, Member{ID: c.ID})
	for _, peer := range room {
		peer.enqueue(notice)
	}
	c.joined = false
	return true
}

// SendToClient forwards an envelope to one connection in a room. If the
// target is gone, the message is silently dropped; the sender gets no error.
func (h *Hub) SendToClient(roomID uuid.UUID, targetID string, env Envelope) {
	h.mu.RLock()
	target, ok := h.rooms[roomID][targetID]
	h.mu.RUnlock()
	if !ok {
		return
	}
	target.enqueue(env)
}

// BroadcastToRoom sends an envelope to every connection in a room. Used for
// relay-independent notifications such as recording completion.
func (h *Hub) BroadcastToRoom(roomID uuid.UUID, env Envelope) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, peer := range h.rooms[roomID] {
		peer.enqueue(env)
	}
}

// BroadcastToRoomExcept sends an envelope to every room member except one.
func (h *Hub) BroadcastToRoomExcept(roomID uuid.UUID, exceptID string, env Envelope) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for id, peer := range h.rooms[roomID] {
		if id == exceptID {
			continue
		}
		peer.enqueue(env)
	}
}

// RoomSize returns the number of connections currently in a room.
func (h *Hub) RoomSize(roomID uuid.UUID) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[roomID])
}
