// internal/presence/tracker.go
//
// In-memory liveness cache. Lost on restart by design; the lobby registry
// remains the durable source of truth.
package presence

import "sync"

// GameMode tags what a user is currently doing.
type GameMode string

const (
	ModePvPBattle GameMode = "pvp-battle"
	ModeSoloStudy GameMode = "solo-study"
)

// Status is one user's presence entry.
type Status struct {
	Online   bool     `json:"online"`
	InGame   bool     `json:"in_game"`
	GameMode GameMode `json:"game_mode,omitempty"`
	InLobby  bool     `json:"in_lobby"`
}

// ChangeFunc receives every observable presence change for push fan-out.
type ChangeFunc func(userID string, s Status)

// Tracker keeps refcounted presence per user. Multiple tabs hold multiple
// connections; a user goes offline only when the last one drops.
type Tracker struct {
	mu       sync.Mutex
	conns    map[string]int
	statuses map[string]Status
	onChange ChangeFunc
}

// NewTracker returns an empty Tracker. onChange may be nil.
func NewTracker(onChange ChangeFunc) *Tracker {
	return &Tracker{
		conns:    make(map[string]int),
		statuses: make(map[string]Status),
		onChange: onChange,
	}
}

// Connected records one more live connection for the user.
func (t *Tracker) Connected(userID string) {
	t.mu.Lock()
	t.conns[userID]++
	s := t.statuses[userID]
	changed := !s.Online
	s.Online = true
	t.statuses[userID] = s
	t.mu.Unlock()
	if changed {
		t.notify(userID, s)
	}
}

// Disconnected records one connection drop. The entry is cleared once the
// last connection goes away.
func (t *Tracker) Disconnected(userID string) {
	t.mu.Lock()
	n, ok := t.conns[userID]
	if !ok {
		t.mu.Unlock()
		return
	}
	if n > 1 {
		t.conns[userID] = n - 1
		t.mu.Unlock()
		return
	}
	delete(t.conns, userID)
	delete(t.statuses, userID)
	t.mu.Unlock()
	t.notify(userID, Status{})
}

// SetInLobby flags whether the user currently sits in a lobby.
func (t *Tracker) SetInLobby(userID string, inLobby bool) {
	t.mu.Lock()
	s, ok := t.statuses[userID]
	if !ok || s.InLobby == inLobby {
		t.mu.Unlock()
		return
	}
	s.InLobby = inLobby
	t.statuses[userID] = s
	t.mu.Unlock()
	t.notify(userID, s)
}

// SetGameMode marks the user in (or out of, with empty mode) a game.
func (t *Tracker) SetGameMode(userID string, mode GameMode) {
	t.mu.Lock()
	s, ok := t.statuses[userID]
	if !ok {
		t.mu.Unlock()
		return
	}
	s.GameMode = mode
	s.InGame = mode != ""
	t.statuses[userID] = s
	t.mu.Unlock()
	t.notify(userID, s)
}

// Query answers a batched status lookup. Unknown users come back zero-valued
// (offline).
func (t *Tracker) Query(userIDs []string) map[string]Status {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[string]Status, len(userIDs))
	for _, id := range userIDs {
		out[id] = t.statuses[id]
	}
	return out
}

// Get returns a single user's status.
func (t *Tracker) Get(userID string) Status {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.statuses[userID]
}

func (t *Tracker) notify(userID string, s Status) {
	if t.onChange != nil {
		t.onChange(userID, s)
	}
}
