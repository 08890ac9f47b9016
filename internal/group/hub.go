// Package group implements the room fan-out used by match sessions and
// tournament lobbies to multicast events to their subscribed connections.
package group

import "sync"

// Sender is a delivery target for fan-out payloads. Send must never block;
// returning false indicates the payload was dropped because the receiver is
// saturated or gone.
type Sender interface {
	UserID() string
	Send(payload []byte) bool
}

// Hub maps room identifiers to the set of currently subscribed senders. It is
// purely a routing construct and holds no gameplay state, so its lock is a
// leaf: nothing is acquired while it is held.
type Hub struct {
	mu     sync.RWMutex
	groups map[string]map[string]Sender
}

// NewHub constructs an empty fan-out hub.
func NewHub() *Hub {
	return &Hub{groups: make(map[string]map[string]Sender)}
}

// Join subscribes a sender to the group, creating the group on first use. A
// second subscription for the same user replaces the first.
func (h *Hub) Join(groupID string, sender Sender) {
	if h == nil || groupID == "" || sender == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	members, ok := h.groups[groupID]
	if !ok {
		members = make(map[string]Sender)
		h.groups[groupID] = members
	}
	members[sender.UserID()] = sender
}

// Leave unsubscribes a user from the group, removing the group once empty.
func (h *Hub) Leave(groupID, userID string) {
	if h == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	members, ok := h.groups[groupID]
	if !ok {
		return
	}
	delete(members, userID)
	if len(members) == 0 {
		delete(h.groups, groupID)
	}
}

// Drop removes an entire group in one step, used on room teardown.
func (h *Hub) Drop(groupID string) {
	if h == nil {
		return
	}
	h.mu.Lock()
	delete(h.groups, groupID)
	h.mu.Unlock()
}

// Broadcast delivers the payload to every member of the group. Delivery is
// fire-and-forget: slow receivers lose frames rather than stalling the sender.
func (h *Hub) Broadcast(groupID string, payload []byte) {
	if h == nil {
		return
	}
	h.mu.RLock()
	members := h.groups[groupID]
	targets := make([]Sender, 0, len(members))
	for _, sender := range members {
		targets = append(targets, sender)
	}
	h.mu.RUnlock()
	//1.- Send outside the lock so a saturated receiver cannot stall other rooms.
	for _, sender := range targets {
		sender.Send(payload)
	}
}

// Unicast delivers the payload to a single group member, reporting whether the
// user was subscribed at all.
func (h *Hub) Unicast(groupID, userID string, payload []byte) bool {
	if h == nil {
		return false
	}
	h.mu.RLock()
	sender, ok := h.groups[groupID][userID]
	h.mu.RUnlock()
	if !ok {
		return false
	}
	sender.Send(payload)
	return true
}

// Contains reports whether the user is subscribed to the group.
func (h *Hub) Contains(groupID, userID string) bool {
	if h == nil {
		return false
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.groups[groupID][userID]
	return ok
}

// Size reports the current number of subscribers in the group.
func (h *Hub) Size(groupID string) int {
	if h == nil {
		return 0
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.groups[groupID])
}
