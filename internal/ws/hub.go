package ws

import (
	"sync"

	"github.com/theopensystemslab/planx-new-sub014/internal/cache"
)

// Hub owns the live session registry: one room per flow, each room a set of
// connections. Rooms exist only while at least one connection is subscribed;
// the last Leave deletes the room.
type Hub struct {
	presence cache.PresenceCache
	mu       sync.RWMutex
	// flowID -> set of connections. Keyed by connection, not actor: one
	// actor can hold several tabs and each needs its own delivery.
	rooms map[string]map[*Conn]struct{}
}

func NewHub(p cache.PresenceCache) *Hub {
	return &Hub{presence: p, rooms: make(map[string]map[*Conn]struct{})}
}

func (h *Hub) Join(flowID string, c *Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.rooms[flowID] == nil {
		h.rooms[flowID] = make(map[*Conn]struct{})
	}
	h.rooms[flowID][c] = struct{}{}
}

func (h *Hub) Leave(flowID string, c *Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if conns, ok := h.rooms[flowID]; ok {
		delete(conns, c)
		if len(conns) == 0 {
			delete(h.rooms, flowID)
		}
	}
}

// Broadcast delivers a message to every connection in the flow's room
// except the excluded one (usually the sender, which gets an ack instead).
// The lock is held across the iteration so a concurrent Leave cannot mutate
// the room mid-walk; enqueue never blocks, so this cannot deadlock.
func (h *Hub) Broadcast(flowID string, exclude *Conn, msg OutboundMessage) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.rooms[flowID] {
		if c == exclude {
			continue
		}
		c.enqueue(msg)
	}
}

// RoomSize reports the number of live connections for a flow.
func (h *Hub) RoomSize(flowID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[flowID])
}
