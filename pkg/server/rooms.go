package server

import (
	"sync"
	"time"
)

// RoomInfo describes a room independent of its membership.
type RoomInfo struct {
	Name      string
	Private   bool
	Owner     string
	Topic     string
	CreatedAt time.Time
}

// RoomSummary is a RoomInfo with a participant count, used by listings.
type RoomSummary struct {
	RoomInfo
	Participants int
}

// RoomObserver receives registry events. Callbacks run outside the registry
// lock and must not assume the state they describe still holds.
type RoomObserver interface {
	RoomCreated(info RoomInfo)
	RoomRemoved(name string)
	MemberJoined(room string, sess *Session)
	MemberLeft(room string, sess *Session)
}

type room struct {
	RoomInfo
	members map[string]struct{}
}

// RoomRegistry owns all rooms and their member sets. Default rooms are seeded
// at construction and survive becoming empty; any other room is created
// lazily on first join and removed as soon as its last member leaves.
type RoomRegistry struct {
	mu       sync.RWMutex
	rooms    map[string]*room
	defaults map[string]bool
	observer RoomObserver
}

// NewRoomRegistry creates a registry with the given protected default rooms.
// The observer may be nil.
func NewRoomRegistry(defaults []string, observer RoomObserver) *RoomRegistry {
	r := &RoomRegistry{
		rooms:    make(map[string]*room),
		defaults: make(map[string]bool),
		observer: observer,
	}
	for _, name := range defaults {
		r.defaults[name] = true
		r.rooms[name] = &room{
			RoomInfo: RoomInfo{Name: name, CreatedAt: time.Now()},
			members:  make(map[string]struct{}),
		}
	}
	return r
}

// Create inserts a room if its name is free and returns the effective
// descriptor. Idempotent: an existing room wins over the argument.
func (r *RoomRegistry) Create(info RoomInfo) RoomInfo {
	r.mu.Lock()
	if existing, ok := r.rooms[info.Name]; ok {
		r.mu.Unlock()
		return existing.RoomInfo
	}
	r.rooms[info.Name] = &room{
		RoomInfo: info,
		members:  make(map[string]struct{}),
	}
	r.mu.Unlock()

	if r.observer != nil {
		r.observer.RoomCreated(info)
	}
	return info
}

// Remove deletes a room. No-op when the room does not exist.
func (r *RoomRegistry) Remove(name string) {
	r.mu.Lock()
	if _, ok := r.rooms[name]; !ok {
		r.mu.Unlock()
		return
	}
	delete(r.rooms, name)
	r.mu.Unlock()

	if r.observer != nil {
		r.observer.RoomRemoved(name)
	}
}

// Join adds the session to the room, creating the room on demand. The room's
// member set and the session's room set are updated in the same critical
// section so they can never disagree.
func (r *RoomRegistry) Join(name string, sess *Session) {
	created := false

	r.mu.Lock()
	rm, ok := r.rooms[name]
	if !ok {
		rm = &room{
			RoomInfo: RoomInfo{Name: name, CreatedAt: time.Now()},
			members:  make(map[string]struct{}),
		}
		r.rooms[name] = rm
		created = true
	}
	info := rm.RoomInfo
	rm.members[sess.ID] = struct{}{}
	sess.addRoom(name)
	r.mu.Unlock()

	if r.observer != nil {
		if created {
			r.observer.RoomCreated(info)
		}
		r.observer.MemberJoined(name, sess)
	}
}

// Leave removes the session from the room and, when a non-default room
// becomes empty, removes the room itself. No-op for unknown rooms.
func (r *RoomRegistry) Leave(name string, sess *Session) {
	removed := false

	r.mu.Lock()
	rm, ok := r.rooms[name]
	if !ok {
		r.mu.Unlock()
		return
	}
	delete(rm.members, sess.ID)
	sess.removeRoom(name)
	if !r.defaults[name] && len(rm.members) == 0 {
		delete(r.rooms, name)
		removed = true
	}
	r.mu.Unlock()

	if r.observer != nil {
		r.observer.MemberLeft(name, sess)
		if removed {
			r.observer.RoomRemoved(name)
		}
	}
}

// Members returns a point-in-time snapshot of the room's member session ids.
// Concurrent joins and leaves may invalidate it immediately.
func (r *RoomRegistry) Members(name string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rm, ok := r.rooms[name]
	if !ok {
		return nil
	}
	ids := make([]string, 0, len(rm.members))
	for id := range rm.members {
		ids = append(ids, id)
	}
	return ids
}

// Has reports whether a room currently exists.
func (r *RoomRegistry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, ok := r.rooms[name]
	return ok
}

// Count returns the number of rooms, defaults included.
func (r *RoomRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.rooms)
}

// List returns summaries of every room.
func (r *RoomRegistry) List() []RoomSummary {
	r.mu.RLock()
	defer r.mu.RUnlock()

	summaries := make([]RoomSummary, 0, len(r.rooms))
	for _, rm := range r.rooms {
		summaries = append(summaries, RoomSummary{
			RoomInfo:     rm.RoomInfo,
			Participants: len(rm.members),
		})
	}
	return summaries
}
