// internal/game/session_store.go
package game

import (
	"sync"

	"github.com/google/uuid"
)

// SessionStore holds all in-memory game sessions, keyed by session ID.
type SessionStore struct {
	mu       sync.Mutex
	sessions map[uuid.UUID]*Session
	byRoom   map[uuid.UUID]uuid.UUID
}

// NewSessionStore creates an empty store.
func NewSessionStore() *SessionStore {
	return &SessionStore{
		sessions: make(map[uuid.UUID]*Session),
		byRoom:   make(map[uuid.UUID]uuid.UUID),
	}
}

// AddSession registers a session and indexes it by its room.
func (store *SessionStore) AddSession(s *Session) {
	store.mu.Lock()
	defer store.mu.Unlock()
	store.sessions[s.ID] = s
	store.byRoom[s.RoomID] = s.ID
}

// GetSession fetches a session by ID.
func (store *SessionStore) GetSession(id uuid.UUID) (*Session, bool) {
	store.mu.Lock()
	defer store.mu.Unlock()
	s, ok := store.sessions[id]
	return s, ok
}

// GetSessionByRoomID fetches the session currently bound to a room.
func (store *SessionStore) GetSessionByRoomID(roomID uuid.UUID) (*Session, bool) {
	store.mu.Lock()
	defer store.mu.Unlock()
	sid, ok := store.byRoom[roomID]
	if !ok {
		return nil, false
	}
	s, ok := store.sessions[sid]
	return s, ok
}

// DeleteSession removes a session and its room index entry.
func (store *SessionStore) DeleteSession(id uuid.UUID) {
	store.mu.Lock()
	defer store.mu.Unlock()
	if s, ok := store.sessions[id]; ok {
		delete(store.byRoom, s.RoomID)
	}
	delete(store.sessions, id)
}
