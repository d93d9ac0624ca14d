// Package broadcast fans auction events out to live connections.
//
// Each auction id is a room. Membership is owned by the Hub and mutated only
// through its methods; connections never share maps directly. Delivery is
// non-blocking: a subscriber that cannot keep up loses events and is flagged
// lagging so its transport can drop it and let the client resync from a
// fresh snapshot.
//
// Publishes for one room are serialized by the room's lock and carry the
// auction version they describe. A publish older than the newest one already
// sent to the room is discarded, so two bid goroutines racing to publish can
// never make a subscriber see the current bid go backwards.
package broadcast

import (
	"sync"

	"realtime-auction/internal/models"
	"realtime-auction/utils"
)

type room struct {
	mu          sync.Mutex
	members     map[*Subscriber]struct{}
	lastVersion int64
	pruned      bool
}

// Stats is a point-in-time view of hub occupancy
type Stats struct {
	Subscribers int `json:"subscribers"`
	Rooms       int `json:"rooms"`
	Memberships int `json:"memberships"`
}

// Hub is the process-local room broadcaster. Lock order is Hub.mu then room.mu.
type Hub struct {
	mu          sync.RWMutex
	rooms       map[string]*room
	subscribers map[*Subscriber]struct{}
	buffer      int
}

// NewHub creates a Hub whose subscribers get buffer-sized outbound queues
func NewHub(buffer int) *Hub {
	return &Hub{
		rooms:       make(map[string]*room),
		subscribers: make(map[*Subscriber]struct{}),
		buffer:      buffer,
	}
}

// Register adds a connection to the hub so it receives global events
func (h *Hub) Register(connID string) *Subscriber {
	sub := newSubscriber(connID, h.buffer)

	h.mu.Lock()
	h.subscribers[sub] = struct{}{}
	h.mu.Unlock()

	utils.Debug("broadcast: subscriber registered", map[string]any{"conn_id": connID})
	return sub
}

// roomLocked returns the room for auctionID, creating it. Caller holds h.mu.
func (h *Hub) roomLocked(auctionID string) *room {
	r, ok := h.rooms[auctionID]
	if !ok {
		r = &room{members: make(map[*Subscriber]struct{})}
		h.rooms[auctionID] = r
	}
	return r
}

// lockRoom returns the live room for auctionID with r.mu held, or nil when
// there is none and create is false.
func (h *Hub) lockRoom(auctionID string, create bool) *room {
	for {
		h.mu.RLock()
		r, ok := h.rooms[auctionID]
		h.mu.RUnlock()
		if !ok {
			if !create {
				return nil
			}
			h.mu.Lock()
			r = h.roomLocked(auctionID)
			h.mu.Unlock()
		}

		r.mu.Lock()
		if !r.pruned {
			return r
		}
		r.mu.Unlock()
	}
}

// removeMemberLocked drops sub from the room and forgets the room once it
// has no members and nothing was ever published to it. Caller holds h.mu.
func (h *Hub) removeMemberLocked(sub *Subscriber, auctionID string) {
	r, ok := h.rooms[auctionID]
	if !ok {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.members, sub)
	if len(r.members) == 0 && r.lastVersion == 0 {
		r.pruned = true
		delete(h.rooms, auctionID)
	}
}

// Join adds sub to the auction's room. Joining twice is a no-op, as is
// joining after Disconnect.
func (h *Hub) Join(sub *Subscriber, auctionID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, registered := h.subscribers[sub]; !registered {
		return
	}

	r := h.roomLocked(auctionID)
	r.mu.Lock()
	r.members[sub] = struct{}{}
	r.mu.Unlock()
	sub.rooms[auctionID] = struct{}{}
}

// Leave removes sub from the auction's room; a no-op for non-members
func (h *Hub) Leave(sub *Subscriber, auctionID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, member := sub.rooms[auctionID]; !member {
		return
	}
	delete(sub.rooms, auctionID)
	h.removeMemberLocked(sub, auctionID)
}

// Disconnect removes sub from every room and from the global set. Safe to
// call from every teardown path; only the first call has an effect.
func (h *Hub) Disconnect(sub *Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !sub.close() {
		return
	}

	for auctionID := range sub.rooms {
		h.removeMemberLocked(sub, auctionID)
	}
	sub.rooms = make(map[string]struct{})
	delete(h.subscribers, sub)

	utils.Debug("broadcast: subscriber disconnected", map[string]any{"conn_id": sub.ID})
}

// Publish delivers env to every current member of the auction's room. A
// version older than the room's newest publish is dropped and Publish
// returns false. Version 0 skips the check and never creates a room.
func (h *Hub) Publish(auctionID string, version int64, env models.Envelope) bool {
	r := h.lockRoom(auctionID, version != 0)
	if r == nil {
		return true
	}
	defer r.mu.Unlock()

	if version != 0 {
		if version < r.lastVersion {
			utils.Debug("broadcast: stale publish dropped", map[string]any{
				"auction_id":   auctionID,
				"version":      version,
				"last_version": r.lastVersion,
			})
			return false
		}
		r.lastVersion = version
	}

	for sub := range r.members {
		if trySend(sub, env) == sendTripped {
			utils.Warn("broadcast: subscriber lagging", map[string]any{
				"auction_id": auctionID,
				"conn_id":    sub.ID,
			})
		}
	}
	return true
}

// DeliverSnapshot sends a join-time snapshot to one member unless a newer
// version has already been published to the room. Call it after Join.
func (h *Hub) DeliverSnapshot(sub *Subscriber, auctionID string, version int64, env models.Envelope) bool {
	r := h.lockRoom(auctionID, false)
	if r == nil {
		return false
	}
	defer r.mu.Unlock()

	if _, member := r.members[sub]; !member {
		return false
	}
	if version < r.lastVersion {
		return false
	}
	return trySend(sub, env) != sendGone
}

// PublishGlobal delivers env to every registered subscriber
func (h *Hub) PublishGlobal(env models.Envelope) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for sub := range h.subscribers {
		if trySend(sub, env) == sendTripped {
			utils.Warn("broadcast: subscriber lagging", map[string]any{"conn_id": sub.ID})
		}
	}
}

// Reply sends env to a single subscriber only
func (h *Hub) Reply(sub *Subscriber, env models.Envelope) bool {
	return trySend(sub, env) != sendGone
}

// Stats returns current counts
func (h *Hub) Stats() Stats {
	h.mu.RLock()
	defer h.mu.RUnlock()

	stats := Stats{Subscribers: len(h.subscribers)}
	for _, r := range h.rooms {
		r.mu.Lock()
		if n := len(r.members); n > 0 {
			stats.Rooms++
			stats.Memberships += n
		}
		r.mu.Unlock()
	}
	return stats
}
