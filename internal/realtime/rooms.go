package realtime

import (
	"sync"

	"github.com/google/uuid"
)

// Sink receives encoded events. Send must not block; it reports false when
// the event was dropped.
type Sink interface {
	Send(data []byte) bool
}

// Rooms tracks which local sinks joined which chat room.
type Rooms struct {
	mu      sync.RWMutex
	rooms   map[uuid.UUID]map[Sink]struct{}
	members map[Sink]map[uuid.UUID]struct{}
}

// NewRooms creates an empty registry.
func NewRooms() *Rooms {
	return &Rooms{
		rooms:   make(map[uuid.UUID]map[Sink]struct{}),
		members: make(map[Sink]map[uuid.UUID]struct{}),
	}
}

// Join adds the sink to the room. Joining twice is a no-op.
func (r *Rooms) Join(chatID uuid.UUID, sink Sink) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.rooms[chatID] == nil {
		r.rooms[chatID] = make(map[Sink]struct{})
	}
	r.rooms[chatID][sink] = struct{}{}

	if r.members[sink] == nil {
		r.members[sink] = make(map[uuid.UUID]struct{})
	}
	r.members[sink][chatID] = struct{}{}
}

// Leave removes the sink from the room.
func (r *Rooms) Leave(chatID uuid.UUID, sink Sink) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.leave(chatID, sink)
}

// LeaveAll removes the sink from every room and returns the rooms it left.
func (r *Rooms) LeaveAll(sink Sink) []uuid.UUID {
	r.mu.Lock()
	defer r.mu.Unlock()

	left := make([]uuid.UUID, 0, len(r.members[sink]))
	for chatID := range r.members[sink] {
		left = append(left, chatID)
	}
	for _, chatID := range left {
		r.leave(chatID, sink)
	}
	return left
}

func (r *Rooms) leave(chatID uuid.UUID, sink Sink) {
	if room, ok := r.rooms[chatID]; ok {
		delete(room, sink)
		if len(room) == 0 {
			delete(r.rooms, chatID)
		}
	}
	if joined, ok := r.members[sink]; ok {
		delete(joined, chatID)
		if len(joined) == 0 {
			delete(r.members, sink)
		}
	}
}

// Broadcast sends data to every sink in the room and returns how many accepted it.
func (r *Rooms) Broadcast(chatID uuid.UUID, data []byte) int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	delivered := 0
	for sink := range r.rooms[chatID] {
		if sink.Send(data) {
			delivered++
		}
	}
	return delivered
}

// Size returns the number of sinks joined to the room.
func (r *Rooms) Size(chatID uuid.UUID) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms[chatID])
}
