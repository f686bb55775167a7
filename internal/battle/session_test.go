// internal/battle/session_test.go
package battle

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	hostID  = "host-1"
	guestID = "guest-1"
)

func newTestSession(window time.Duration) *Session {
	return NewSession("AB12CD", hostID, guestID, window, nil)
}

// endRecorder captures the end callback for assertions.
type endRecorder struct {
	mu       sync.Mutex
	calls    int
	winnerID string
	reason   string
}

func (er *endRecorder) record(_ *Session, winnerID, reason string) {
	er.mu.Lock()
	defer er.mu.Unlock()
	er.calls++
	er.winnerID = winnerID
	er.reason = reason
}

func (er *endRecorder) snapshot() (int, string, string) {
	er.mu.Lock()
	defer er.mu.Unlock()
	return er.calls, er.winnerID, er.reason
}

func TestOpeningTurnIsOneOfThePlayersAndStable(t *testing.T) {
	s := newTestSession(time.Minute)
	first := s.CurrentTurn()
	assert.Contains(t, []string{hostID, guestID}, first)
	for i := 0; i < 5; i++ {
		assert.Equal(t, first, s.CurrentTurn(), "turn must not re-randomize on read")
	}
}

func TestTurnAlternates(t *testing.T) {
	s := newTestSession(time.Minute)
	first := s.CurrentTurn()
	second := s.opponent(first)

	require.NoError(t, s.SubmitAnswer(first, false, 0))
	assert.Equal(t, second, s.CurrentTurn())

	require.NoError(t, s.SubmitAnswer(second, false, 0))
	assert.Equal(t, first, s.CurrentTurn())
}

func TestSubmitAnswerRejections(t *testing.T) {
	s := newTestSession(time.Minute)
	idle := s.opponent(s.CurrentTurn())

	assert.ErrorIs(t, s.SubmitAnswer(idle, true, 0), ErrNotYourTurn)
	assert.ErrorIs(t, s.SubmitAnswer("stranger", true, 0), ErrNotParticipant)
}

func TestCorrectAnswerDamagesOpponent(t *testing.T) {
	s := newTestSession(time.Minute)
	actor := s.CurrentTurn()

	require.NoError(t, s.SubmitAnswer(actor, true, 25))
	snap := s.Snapshot()
	if actor == hostID {
		assert.Equal(t, StartingHealth-25, snap.GuestHealth)
		assert.Equal(t, StartingHealth, snap.HostHealth)
	} else {
		assert.Equal(t, StartingHealth-25, snap.HostHealth)
		assert.Equal(t, StartingHealth, snap.GuestHealth)
	}
}

func TestHealthDepletionEndsSession(t *testing.T) {
	s := newTestSession(time.Minute)
	er := &endRecorder{}
	s.SetCallbacks(er.record, nil)

	// Whoever has the turn answers correctly; the opponent always misses.
	// The player who opened therefore lands every hit.
	winner := s.CurrentTurn()
	for !s.Ended() {
		actor := s.CurrentTurn()
		require.NoError(t, s.SubmitAnswer(actor, actor == winner, 25))
	}

	calls, gotWinner, reason := er.snapshot()
	assert.Equal(t, 1, calls)
	assert.Equal(t, winner, gotWinner)
	assert.Equal(t, "health_depleted", reason)

	snap := s.Snapshot()
	assert.True(t, snap.Ended)
	assert.Equal(t, winner, snap.WinnerID)

	assert.ErrorIs(t, s.SubmitAnswer(winner, true, 0), ErrSessionEnded)
}

func TestDisconnectWindowExpiryForfeits(t *testing.T) {
	s := newTestSession(30 * time.Millisecond)
	er := &endRecorder{}
	s.SetCallbacks(er.record, nil)

	s.HandleDisconnect(guestID)
	assert.False(t, s.Ended(), "window must not expire immediately")

	require.Eventually(t, s.Ended, time.Second, 5*time.Millisecond)
	calls, winner, reason := er.snapshot()
	assert.Equal(t, 1, calls)
	assert.Equal(t, hostID, winner)
	assert.Equal(t, "reconnect_timeout", reason)
}

func TestReconnectWithinWindowCancelsForfeit(t *testing.T) {
	s := newTestSession(40 * time.Millisecond)
	er := &endRecorder{}
	s.SetCallbacks(er.record, nil)

	s.HandleDisconnect(guestID)
	s.HandleReconnect(guestID)

	time.Sleep(100 * time.Millisecond)
	assert.False(t, s.Ended())
	calls, _, _ := er.snapshot()
	assert.Zero(t, calls)

	snap := s.Snapshot()
	assert.True(t, snap.GuestConnected)
}

func TestForfeitAwardsOpponent(t *testing.T) {
	s := newTestSession(time.Minute)
	er := &endRecorder{}
	s.SetCallbacks(er.record, nil)

	require.NoError(t, s.Forfeit(hostID))
	_, winner, reason := er.snapshot()
	assert.Equal(t, guestID, winner)
	assert.Equal(t, "forfeit", reason)

	assert.ErrorIs(t, s.Forfeit(guestID), ErrSessionEnded)
	assert.ErrorIs(t, s.Forfeit("stranger"), ErrNotParticipant)
}

func TestFlashcardVisibility(t *testing.T) {
	s := newTestSession(time.Minute)

	require.NoError(t, s.SetFlashcard(hostID, true, "What is a goroutine?"))

	// The guest sees the host's activity, never its own slot.
	view, err := s.OpponentView(guestID)
	require.NoError(t, err)
	assert.True(t, view.OnFlashcard)
	assert.Equal(t, "What is a goroutine?", view.QuestionText)

	view, err = s.OpponentView(hostID)
	require.NoError(t, err)
	assert.False(t, view.OnFlashcard)

	// Leaving the card clears the text.
	require.NoError(t, s.SetFlashcard(hostID, false, "ignored"))
	view, err = s.OpponentView(guestID)
	require.NoError(t, err)
	assert.False(t, view.OnFlashcard)
	assert.Empty(t, view.QuestionText)

	assert.ErrorIs(t, s.SetFlashcard("stranger", true, "x"), ErrNotParticipant)
}

func TestAnswerClearsActorCard(t *testing.T) {
	s := newTestSession(time.Minute)
	actor := s.CurrentTurn()

	require.NoError(t, s.SetFlashcard(actor, true, "Q"))
	require.NoError(t, s.SubmitAnswer(actor, false, 0))

	view, err := s.OpponentView(s.opponent(actor))
	require.NoError(t, err)
	assert.False(t, view.OnFlashcard, "resolving the turn clears the actor's card")
}

func TestSessionStoreIndexes(t *testing.T) {
	st := NewSessionStore()
	s := newTestSession(time.Minute)
	st.Add(s)

	got, ok := st.Get(s.ID)
	require.True(t, ok)
	assert.Same(t, s, got)

	got, ok = st.GetByLobby("AB12CD")
	require.True(t, ok)
	assert.Same(t, s, got)

	st.Delete(s.ID)
	_, ok = st.Get(s.ID)
	assert.False(t, ok)
	_, ok = st.GetByLobby("AB12CD")
	assert.False(t, ok)
}
