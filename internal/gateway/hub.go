// Package gateway fans auction events out to the connections observing each
// auction. Room membership lives only in memory and is rebuilt from live
// connections after a restart; it never decides auction outcomes.
package gateway

import (
	"auction-engine/internal/metrics"
	model "auction-engine/internal/models"
	"auction-engine/utils"
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// ErrMemberClosed is returned when a member cannot take the join snapshot
var ErrMemberClosed = errors.New("member connection closed")

// Member is one connection observing auctions. Send must not block: it
// queues the event for a single writer and reports false when the queue is
// full or the connection is gone.
type Member interface {
	ID() string
	Send(event model.Event) bool
	Close()
}

// Broadcaster delivers transition events to the rooms they belong to
type Broadcaster interface {
	Broadcast(ctx context.Context, events ...model.Event)
}

type room struct {
	auctionID string
	mu        sync.Mutex
	members   map[string]Member
	dead      atomic.Bool
}

// Hub is the in-process room registry
type Hub struct {
	mu          sync.RWMutex
	rooms       map[string]*room
	memberships map[string]map[string]struct{} // key: memberID -> value: set of auctionIDs
	metrics     *metrics.Metrics
	now         func() time.Time
}

// NewHub creates an empty registry
func NewHub(m *metrics.Metrics) *Hub {
	return &Hub{
		rooms:       make(map[string]*room),
		memberships: make(map[string]map[string]struct{}),
		metrics:     m,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// liveRoom returns the room for auctionID, replacing one that is being torn down
func (h *Hub) liveRoom(auctionID string) *room {
	h.mu.RLock()
	r, ok := h.rooms[auctionID]
	h.mu.RUnlock()
	if ok && !r.dead.Load() {
		return r
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if r, ok := h.rooms[auctionID]; ok && !r.dead.Load() {
		return r
	}
	r = &room{auctionID: auctionID, members: make(map[string]Member)}
	h.rooms[auctionID] = r
	return r
}

func (h *Hub) existingRoom(auctionID string) (*room, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	r, ok := h.rooms[auctionID]
	return r, ok
}

// Join adds member to the room of auctionID. snapshot is called under the
// room lock and its event is queued before any later broadcast, so the
// member never misses an event newer than its snapshot.
func (h *Hub) Join(member Member, auctionID string, snapshot func() (model.Event, error)) error {
	for {
		r := h.liveRoom(auctionID)
		r.mu.Lock()
		if r.dead.Load() {
			r.mu.Unlock()
			continue
		}

		ev, err := snapshot()
		if err != nil {
			r.mu.Unlock()
			h.reapIfEmpty(r)
			return fmt.Errorf("gateway: snapshot for auction %s: %w", auctionID, err)
		}
		if !member.Send(ev) {
			r.mu.Unlock()
			h.reapIfEmpty(r)
			return fmt.Errorf("gateway: join auction %s: %w", auctionID, ErrMemberClosed)
		}

		_, already := r.members[member.ID()]
		r.members[member.ID()] = member
		if !already {
			h.metrics.MemberJoined()
		}
		// recorded under the room lock so a concurrent drop can forget it
		h.remember(member.ID(), auctionID)
		dropped := r.deliverLocked(h.presence(r), h.metrics)
		r.mu.Unlock()

		h.settleDropped(r, dropped)
		for _, id := range dropped {
			if id == member.ID() {
				return fmt.Errorf("gateway: join auction %s: %w", auctionID, ErrMemberClosed)
			}
		}
		return nil
	}
}

// Leave removes member from one room
func (h *Hub) Leave(memberID, auctionID string) {
	h.mu.Lock()
	if set, ok := h.memberships[memberID]; ok {
		delete(set, auctionID)
		if len(set) == 0 {
			delete(h.memberships, memberID)
		}
	}
	h.mu.Unlock()

	r, ok := h.existingRoom(auctionID)
	if !ok {
		return
	}
	r.mu.Lock()
	var dropped []string
	if _, ok := r.members[memberID]; ok {
		delete(r.members, memberID)
		h.metrics.MemberLeft()
		dropped = r.deliverLocked(h.presence(r), h.metrics)
	}
	r.mu.Unlock()
	h.settleDropped(r, dropped)
	h.reapIfEmpty(r)
}

// LeaveAll removes member from every room it joined, e.g. on disconnect
func (h *Hub) LeaveAll(memberID string) {
	h.mu.RLock()
	auctionIDs := make([]string, 0, len(h.memberships[memberID]))
	for id := range h.memberships[memberID] {
		auctionIDs = append(auctionIDs, id)
	}
	h.mu.RUnlock()

	for _, id := range auctionIDs {
		h.Leave(memberID, id)
	}
}

// Broadcast delivers each event to every member of the event's room.
// Members that cannot keep up are dropped and must re-join.
func (h *Hub) Broadcast(_ context.Context, events ...model.Event) {
	for _, ev := range events {
		r, ok := h.existingRoom(ev.AuctionID)
		if !ok {
			continue
		}
		r.mu.Lock()
		dropped := r.deliverLocked(ev, h.metrics)
		r.mu.Unlock()
		h.settleDropped(r, dropped)
	}
}

// MemberCount returns how many connections observe auctionID
func (h *Hub) MemberCount(auctionID string) int {
	r, ok := h.existingRoom(auctionID)
	if !ok {
		return 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.members)
}

// RoomCount returns the number of rooms with at least one member
func (h *Hub) RoomCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms)
}

func (h *Hub) presence(r *room) model.Event {
	return model.Event{
		Type:      model.EventPresence,
		AuctionID: r.auctionID,
		Data:      model.PresencePayload{ActiveUsers: len(r.members)},
		Timestamp: h.now(),
	}
}

// deliverLocked queues ev for every member; r.mu must be held
func (r *room) deliverLocked(ev model.Event, m *metrics.Metrics) []string {
	var dropped []string
	for id, member := range r.members {
		if member.Send(ev) {
			continue
		}
		delete(r.members, id)
		member.Close()
		dropped = append(dropped, id)
		m.MemberLeft()
		m.BroadcastDropped()
		utils.Warn("gateway: dropping slow or closed member", map[string]any{
			"auction_id": r.auctionID,
			"member_id":  id,
			"event":      string(ev.Type),
		})
	}
	return dropped
}

func (h *Hub) remember(memberID, auctionID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.memberships[memberID] == nil {
		h.memberships[memberID] = make(map[string]struct{})
	}
	h.memberships[memberID][auctionID] = struct{}{}
}

// settleDropped clears the memberships of members removed from r by a
// failed delivery and reaps r once it is empty
func (h *Hub) settleDropped(r *room, dropped []string) {
	if len(dropped) == 0 {
		return
	}
	for _, id := range dropped {
		h.forget(id, r.auctionID)
	}
	h.reapIfEmpty(r)
}

func (h *Hub) forget(memberID, auctionID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if set, ok := h.memberships[memberID]; ok {
		delete(set, auctionID)
		if len(set) == 0 {
			delete(h.memberships, memberID)
		}
	}
}

// reapIfEmpty removes an empty room from the registry
func (h *Hub) reapIfEmpty(r *room) {
	r.mu.Lock()
	if len(r.members) > 0 || r.dead.Load() {
		r.mu.Unlock()
		return
	}
	r.dead.Store(true)
	r.mu.Unlock()

	h.mu.Lock()
	if h.rooms[r.auctionID] == r {
		delete(h.rooms, r.auctionID)
	}
	h.mu.Unlock()
}
