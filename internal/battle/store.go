// internal/battle/store.go
package battle

import (
	"sync"

	"github.com/google/uuid"
)

// SessionStore tracks active battle sessions in memory, addressable by
// session id and by the lobby code that spawned them (1:1 once started).
type SessionStore struct {
	mu      sync.Mutex
	byID    map[uuid.UUID]*Session
	byLobby map[string]*Session
}

// NewSessionStore returns an empty SessionStore.
func NewSessionStore() *SessionStore {
	return &SessionStore{
		byID:    make(map[uuid.UUID]*Session),
		byLobby: make(map[string]*Session),
	}
}

// Add registers a session under both keys.
func (st *SessionStore) Add(s *Session) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.byID[s.ID] = s
	st.byLobby[s.LobbyCode] = s
}

// Get returns the session by id.
func (st *SessionStore) Get(id uuid.UUID) (*Session, bool) {
	st.mu.Lock()
	defer st.mu.Unlock()
	s, ok := st.byID[id]
	return s, ok
}

// GetByLobby returns the session for a lobby code.
func (st *SessionStore) GetByLobby(code string) (*Session, bool) {
	st.mu.Lock()
	defer st.mu.Unlock()
	s, ok := st.byLobby[code]
	return s, ok
}

// Delete drops the session from both indexes.
func (st *SessionStore) Delete(id uuid.UUID) {
	st.mu.Lock()
	defer st.mu.Unlock()
	if s, ok := st.byID[id]; ok {
		delete(st.byLobby, s.LobbyCode)
		delete(st.byID, id)
	}
}
