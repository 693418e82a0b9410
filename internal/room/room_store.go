// internal/room/room_store.go
package room

import (
	"errors"
	"sync"

	"github.com/google/uuid"
)

var ErrRoomNotFound = errors.New("room not found")

// RoomStore holds all in-memory rooms, keyed by room ID.
type RoomStore struct {
	mu    sync.Mutex
	rooms map[uuid.UUID]*Room
}

// NewRoomStore creates an empty store.
func NewRoomStore() *RoomStore {
	return &RoomStore{
		rooms: make(map[uuid.UUID]*Room),
	}
}

// AddRoom registers a room and wires its OnEmpty to store deletion.
func (store *RoomStore) AddRoom(r *Room) {
	store.mu.Lock()
	defer store.mu.Unlock()
	if r.OnEmpty == nil {
		r.OnEmpty = func(roomID uuid.UUID) {
			store.DeleteRoom(roomID)
		}
	}
	store.rooms[r.ID] = r
}

// GetRoom fetches a room by ID.
func (store *RoomStore) GetRoom(id uuid.UUID) (*Room, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	r, ok := store.rooms[id]
	if !ok {
		return nil, ErrRoomNotFound
	}
	return r, nil
}

// ListRooms returns a snapshot of all rooms.
func (store *RoomStore) ListRooms() []*Room {
	store.mu.Lock()
	defer store.mu.Unlock()
	out := make([]*Room, 0, len(store.rooms))
	for _, r := range store.rooms {
		out = append(out, r)
	}
	return out
}

// DeleteRoom removes a room from the store.
func (store *RoomStore) DeleteRoom(id uuid.UUID) {
	store.mu.Lock()
	defer store.mu.Unlock()
	delete(store.rooms, id)
}
