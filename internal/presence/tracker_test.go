// internal/presence/tracker_test.go
package presence

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

// changeLog collects notifications for assertions.
type changeLog struct {
	mu      sync.Mutex
	entries []Status
}

func (cl *changeLog) add(_ string, s Status) {
	cl.mu.Lock()
	cl.entries = append(cl.entries, s)
	cl.mu.Unlock()
}

func (cl *changeLog) len() int {
	cl.mu.Lock()
	defer cl.mu.Unlock()
	return len(cl.entries)
}

func TestRefcountedOnlineStatus(t *testing.T) {
	tr := NewTracker(nil)

	tr.Connected("u1")
	tr.Connected("u1") // second tab
	assert.True(t, tr.Get("u1").Online)

	tr.Disconnected("u1")
	assert.True(t, tr.Get("u1").Online, "one tab still open")

	tr.Disconnected("u1")
	assert.False(t, tr.Get("u1").Online, "last tab closed")
}

func TestLobbyAndGameModeFlags(t *testing.T) {
	tr := NewTracker(nil)
	tr.Connected("u1")

	tr.SetInLobby("u1", true)
	assert.True(t, tr.Get("u1").InLobby)

	tr.SetGameMode("u1", ModePvPBattle)
	got := tr.Get("u1")
	assert.True(t, got.InGame)
	assert.Equal(t, ModePvPBattle, got.GameMode)

	tr.SetGameMode("u1", "")
	got = tr.Get("u1")
	assert.False(t, got.InGame)
	assert.Empty(t, got.GameMode)

	// Flags on a user with no connections are dropped silently.
	tr.SetGameMode("ghost", ModeSoloStudy)
	assert.False(t, tr.Get("ghost").InGame)
}

func TestBatchQuery(t *testing.T) {
	tr := NewTracker(nil)
	tr.Connected("u1")
	tr.SetInLobby("u1", true)

	got := tr.Query([]string{"u1", "nobody"})
	assert.True(t, got["u1"].Online)
	assert.True(t, got["u1"].InLobby)
	assert.False(t, got["nobody"].Online, "unknown users read as offline")
}

func TestChangeNotifications(t *testing.T) {
	cl := &changeLog{}
	tr := NewTracker(cl.add)

	tr.Connected("u1")
	assert.Equal(t, 1, cl.len())

	tr.Connected("u1") // no observable change
	assert.Equal(t, 1, cl.len())

	tr.SetInLobby("u1", true)
	tr.SetInLobby("u1", true) // idempotent, no notification
	assert.Equal(t, 2, cl.len())

	tr.Disconnected("u1")
	tr.Disconnected("u1")
	assert.Equal(t, 3, cl.len(), "only the final disconnect notifies")
}
