// internal/realtime/conn.go
package realtime

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/duel-learn/pvp-service/internal/lobby"
)

// Conn is one client tab's live socket session. It is ephemeral: the active
// lobby and role are reconstructed through role resolution on every
// (re)connect and never persisted.
type Conn struct {
	UserID   string
	Username string

	// Cancel tears down the read/write pumps bound to this connection.
	Cancel context.CancelFunc

	// Out carries queued outbound messages to the write pump.
	Out chan map[string]interface{}

	log *logrus.Logger

	mu          sync.Mutex
	activeLobby string
	role        lobby.Role
}

// NewConn builds a connection wrapper with a buffered outbound queue.
func NewConn(userID, username string, cancel context.CancelFunc, log *logrus.Logger) *Conn {
	if log == nil {
		log = logrus.New()
	}
	return &Conn{
		UserID:   userID,
		Username: username,
		Cancel:   cancel,
		Out:      make(chan map[string]interface{}, 16),
		log:      log,
	}
}

// Write queues a message without blocking. If the write pump has stalled,
// the message is dropped and logged; clients reconcile via the periodic
// lobby_state sync. Out is never closed: the write pump exits on context
// cancellation and the channel is left for the collector.
func (c *Conn) Write(msg map[string]interface{}) {
	select {
	case c.Out <- msg:
	default:
		msgType, _ := msg["type"].(string)
		c.log.Warnf("conn %s: outbound queue full, dropped %q", c.UserID, msgType)
	}
}

// WriteError reports a failed action back to the sender. Socket actions are
// otherwise fire-and-forget, so this is the only way a client can tell
// "silently failed" from "still waiting".
func (c *Conn) WriteError(action, msg string) {
	c.Write(map[string]interface{}{
		"type":    "error",
		"action":  action,
		"message": msg,
	})
}

// SetLobby records the room this connection currently occupies.
func (c *Conn) SetLobby(code string, role lobby.Role) {
	c.mu.Lock()
	c.activeLobby = code
	c.role = role
	c.mu.Unlock()
}

// Lobby returns the active lobby code and role, empty if none.
func (c *Conn) Lobby() (string, lobby.Role) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.activeLobby, c.role
}

// ClearLobby resets the room binding.
func (c *Conn) ClearLobby() {
	c.mu.Lock()
	c.activeLobby = ""
	c.role = lobby.RoleNone
	c.mu.Unlock()
}
