// internal/realtime/hub.go
package realtime

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/duel-learn/pvp-service/internal/lobby"
	"github.com/duel-learn/pvp-service/internal/presence"
)

// Hub is the real-time lobby coordinator: one room per lobby code for
// battle-state fan-out, plus a per-user connection set for direct delivery
// (battle invitations, presence pushes).
type Hub struct {
	mu    sync.Mutex
	rooms map[string]map[*Conn]lobby.Role
	users map[string]map[*Conn]struct{}

	Presence *presence.Tracker
	log      *logrus.Logger
}

// NewHub builds a Hub and its presence tracker. Presence changes are pushed
// to every connection of the affected user's watchers via BroadcastAll.
func NewHub(log *logrus.Logger) *Hub {
	if log == nil {
		log = logrus.New()
	}
	h := &Hub{
		rooms: make(map[string]map[*Conn]lobby.Role),
		users: make(map[string]map[*Conn]struct{}),
		log:   log,
	}
	h.Presence = presence.NewTracker(func(userID string, s presence.Status) {
		h.BroadcastAll(map[string]interface{}{
			"type":    "user_status_changed",
			"user_id": userID,
			"status":  s,
		})
	})
	return h
}

// Register binds a connection to its user (the setup handshake) and marks
// the user online.
func (h *Hub) Register(c *Conn) {
	h.mu.Lock()
	set, ok := h.users[c.UserID]
	if !ok {
		set = make(map[*Conn]struct{})
		h.users[c.UserID] = set
	}
	set[c] = struct{}{}
	h.mu.Unlock()
	h.Presence.Connected(c.UserID)
	h.log.Infof("hub: user %s connected (%d tabs)", c.UserID, len(set))
}

// Unregister drops the connection. If it was inside a lobby room, the room
// is notified with player_disconnected. A bare disconnect is NOT a leave:
// the registry row is untouched so a network blip never forfeits the lobby.
// The lobby code the connection occupied is returned so the battle layer can
// arm its reconnect window.
func (h *Hub) Unregister(c *Conn) string {
	code, _ := c.Lobby()
	h.mu.Lock()
	if set, ok := h.users[c.UserID]; ok {
		delete(set, c)
		if len(set) == 0 {
			delete(h.users, c.UserID)
		}
	}
	if code != "" {
		if room, ok := h.rooms[code]; ok {
			delete(room, c)
			if len(room) == 0 {
				delete(h.rooms, code)
			}
		}
	}
	h.mu.Unlock()

	if code != "" {
		h.BroadcastRoom(code, map[string]interface{}{
			"type":       "player_disconnected",
			"lobby_code": code,
			"player_id":  c.UserID,
		}, c)
		h.Presence.SetInLobby(c.UserID, false)
	}
	h.Presence.Disconnected(c.UserID)
	return code
}

// JoinRoom adds the connection to a lobby room under its verified role.
// Duplicate joins from the same connection (effect re-runs on the client)
// are no-ops; the return value reports whether membership changed. A
// connection switching rooms (invitation acceptance while still sitting in
// another lobby) is evicted from its old room first, so stale memberships
// never keep receiving broadcasts or pin an empty room alive.
func (h *Hub) JoinRoom(c *Conn, code string, role lobby.Role) bool {
	if prev, _ := c.Lobby(); prev != "" && prev != code {
		h.mu.Lock()
		if room, ok := h.rooms[prev]; ok {
			delete(room, c)
			if len(room) == 0 {
				delete(h.rooms, prev)
			}
		}
		h.mu.Unlock()
		h.BroadcastRoom(prev, map[string]interface{}{
			"type":       "player_disconnected",
			"lobby_code": prev,
			"player_id":  c.UserID,
		}, c)
		h.log.Infof("hub: %s switched rooms %s -> %s", c.UserID, prev, code)
	}

	h.mu.Lock()
	room, ok := h.rooms[code]
	if !ok {
		room = make(map[*Conn]lobby.Role)
		h.rooms[code] = room
	}
	if _, member := room[c]; member {
		h.mu.Unlock()
		return false
	}
	room[c] = role
	h.mu.Unlock()

	c.SetLobby(code, role)
	h.Presence.SetInLobby(c.UserID, true)
	h.log.Infof("hub: %s joined room %s as %s", c.UserID, code, role)
	return true
}

// LeaveRoom removes the connection from its room without broadcasting;
// callers emit the appropriate player_left payload themselves.
func (h *Hub) LeaveRoom(c *Conn, code string) {
	h.mu.Lock()
	if room, ok := h.rooms[code]; ok {
		delete(room, c)
		if len(room) == 0 {
			delete(h.rooms, code)
		}
	}
	h.mu.Unlock()
	c.ClearLobby()
	h.Presence.SetInLobby(c.UserID, false)
}

// BroadcastRoom fans msg out to every member of the room, optionally
// excluding one connection (the sender).
func (h *Hub) BroadcastRoom(code string, msg map[string]interface{}, except *Conn) {
	h.mu.Lock()
	conns := make([]*Conn, 0, len(h.rooms[code]))
	for c := range h.rooms[code] {
		if c != except {
			conns = append(conns, c)
		}
	}
	h.mu.Unlock()
	for _, c := range conns {
		c.Write(msg)
	}
}

// SendToUser delivers msg to every open connection of one user. Returns
// false if the user has no live connection.
func (h *Hub) SendToUser(userID string, msg map[string]interface{}) bool {
	h.mu.Lock()
	conns := make([]*Conn, 0, len(h.users[userID]))
	for c := range h.users[userID] {
		conns = append(conns, c)
	}
	h.mu.Unlock()
	for _, c := range conns {
		c.Write(msg)
	}
	return len(conns) > 0
}

// BroadcastAll sends msg to every connection on the hub.
func (h *Hub) BroadcastAll(msg map[string]interface{}) {
	h.mu.Lock()
	conns := make([]*Conn, 0)
	for _, set := range h.users {
		for c := range set {
			conns = append(conns, c)
		}
	}
	h.mu.Unlock()
	for _, c := range conns {
		c.Write(msg)
	}
}

// RoomCodes returns the codes of all rooms with at least one member.
func (h *Hub) RoomCodes() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	codes := make([]string, 0, len(h.rooms))
	for code := range h.rooms {
		codes = append(codes, code)
	}
	return codes
}

// UserInRoom reports whether the user still holds at least one member
// connection in the room. The battle layer consults this before treating a
// single connection drop as the user disconnecting: with two tabs in one
// lobby, closing a tab must not arm the reconnect window.
func (h *Hub) UserInRoom(userID, code string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.rooms[code] {
		if c.UserID == userID {
			return true
		}
	}
	return false
}

// RoomSize returns the member count of a room.
func (h *Hub) RoomSize(code string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.rooms[code])
}

// SnapshotFunc fetches the current lobby snapshot for a room code. A false
// return skips the push (lobby gone).
type SnapshotFunc func(code string) (interface{}, bool)

// RunSync pushes a fresh lobby_state snapshot into every active room at the
// configured interval. This is the push-side twin of the clients' polling
// fallback: even if an individual event was dropped, rooms converge within
// one interval.
func (h *Hub) RunSync(ctx context.Context, interval time.Duration, snapshot SnapshotFunc) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, code := range h.RoomCodes() {
				snap, ok := snapshot(code)
				if !ok {
					continue
				}
				h.BroadcastRoom(code, map[string]interface{}{
					"type":       "lobby_state",
					"lobby_code": code,
					"lobby":      snap,
				}, nil)
			}
		}
	}
}
