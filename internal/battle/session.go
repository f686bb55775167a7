// internal/battle/session.go
package battle

import (
	"errors"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Battle session errors.
var (
	ErrNotParticipant = errors.New("player is not part of this battle")
	ErrNotYourTurn    = errors.New("not this player's turn")
	ErrSessionEnded   = errors.New("battle session has ended")
)

// StartingHealth is each player's initial health.
const StartingHealth = 100

// DefaultDamage is applied to the opponent on a correct answer when the
// caller does not specify one.
const DefaultDamage = 10

// CardView is what the idle player may see about the opponent's current
// activity. The answer is never stored here, so it cannot leak.
type CardView struct {
	OnFlashcard  bool   `json:"on_flashcard"`
	QuestionText string `json:"question_text,omitempty"`
}

// Snapshot is the authoritative per-session state handed to both clients.
// Clients reconcile against it whenever a push event was missed.
type Snapshot struct {
	SessionID      string   `json:"session_id"`
	LobbyCode      string   `json:"lobby_code"`
	HostID         string   `json:"host_id"`
	GuestID        string   `json:"guest_id"`
	CurrentTurn    string   `json:"current_turn"`
	HostHealth     int      `json:"host_health"`
	GuestHealth    int      `json:"guest_health"`
	HostCard       CardView `json:"host_card"`
	GuestCard      CardView `json:"guest_card"`
	HostConnected  bool     `json:"host_connected"`
	GuestConnected bool     `json:"guest_connected"`
	Ended          bool     `json:"ended"`
	WinnerID       string   `json:"winner_id,omitempty"`
	EndReason      string   `json:"end_reason,omitempty"`
}

// EndFunc is invoked exactly once when the session finishes.
type EndFunc func(s *Session, winnerID, reason string)

// ActionFunc observes every state change for archival (the Redis action
// queue) and push fan-out. May be nil.
type ActionFunc func(s *Session, actionType string, payload map[string]interface{})

// Session arbitrates one in-progress battle between a lobby's host and
// guest: whose turn it is, health, the opponent-activity view, and the
// bounded reconnect window on disconnect.
type Session struct {
	ID        uuid.UUID
	LobbyCode string
	HostID    string
	GuestID   string

	mu          sync.Mutex
	currentTurn string
	hostHealth  int
	guestHealth int
	hostCard    CardView
	guestCard   CardView

	hostConnected  bool
	guestConnected bool
	graceTimers    map[string]*time.Timer

	ended     bool
	winnerID  string
	endReason string

	window   time.Duration
	log      *logrus.Logger
	onEnd    EndFunc
	onAction ActionFunc
}

// NewSession creates a battle session for a lobby that just transitioned to
// in_progress. The opening turn is chosen uniformly at random here, once,
// so page reloads observe the same value.
func NewSession(lobbyCode, hostID, guestID string, window time.Duration, log *logrus.Logger) *Session {
	if log == nil {
		log = logrus.New()
	}
	first := hostID
	if rand.Intn(2) == 1 {
		first = guestID
	}
	s := &Session{
		ID:             uuid.New(),
		LobbyCode:      lobbyCode,
		HostID:         hostID,
		GuestID:        guestID,
		currentTurn:    first,
		hostHealth:     StartingHealth,
		guestHealth:    StartingHealth,
		hostConnected:  true,
		guestConnected: true,
		graceTimers:    make(map[string]*time.Timer),
		window:         window,
		log:            log,
	}
	log.Infof("battle %s: session for lobby %s, first turn %s", s.ID, lobbyCode, first)
	return s
}

// SetCallbacks wires the end and action observers. Call before the session
// is exposed to clients.
func (s *Session) SetCallbacks(onEnd EndFunc, onAction ActionFunc) {
	s.mu.Lock()
	s.onEnd = onEnd
	s.onAction = onAction
	s.mu.Unlock()
}

func (s *Session) isParticipant(playerID string) bool {
	return playerID == s.HostID || playerID == s.GuestID
}

func (s *Session) opponent(playerID string) string {
	if playerID == s.HostID {
		return s.GuestID
	}
	return s.HostID
}

// CurrentTurn returns the player id whose turn it is.
func (s *Session) CurrentTurn() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.currentTurn
}

// SetFlashcard records that playerID is (or is no longer) viewing a
// question, along with its text. Only the actor may write its own slot.
func (s *Session) SetFlashcard(playerID string, onCard bool, questionText string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.isParticipant(playerID) {
		return ErrNotParticipant
	}
	if s.ended {
		return ErrSessionEnded
	}
	view := CardView{OnFlashcard: onCard, QuestionText: questionText}
	if !onCard {
		view.QuestionText = ""
	}
	if playerID == s.HostID {
		s.hostCard = view
	} else {
		s.guestCard = view
	}
	s.fireActionLocked("flashcard_update", map[string]interface{}{
		"player_id":     playerID,
		"on_flashcard":  onCard,
		"question_text": view.QuestionText,
	})
	return nil
}

// OpponentView returns the other player's activity slot for playerID.
func (s *Session) OpponentView(playerID string) (CardView, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.isParticipant(playerID) {
		return CardView{}, ErrNotParticipant
	}
	if playerID == s.HostID {
		return s.guestCard, nil
	}
	return s.hostCard, nil
}

// SubmitAnswer resolves the acting player's turn. A correct answer deals
// damage to the opponent; either way the turn passes and the actor's
// flashcard slot is cleared. Reaching zero health ends the session.
func (s *Session) SubmitAnswer(playerID string, correct bool, damage int) error {
	s.mu.Lock()
	if !s.isParticipant(playerID) {
		s.mu.Unlock()
		return ErrNotParticipant
	}
	if s.ended {
		s.mu.Unlock()
		return ErrSessionEnded
	}
	if s.currentTurn != playerID {
		s.mu.Unlock()
		return ErrNotYourTurn
	}
	if damage <= 0 {
		damage = DefaultDamage
	}

	if correct {
		if playerID == s.HostID {
			s.guestHealth -= damage
			if s.guestHealth < 0 {
				s.guestHealth = 0
			}
		} else {
			s.hostHealth -= damage
			if s.hostHealth < 0 {
				s.hostHealth = 0
			}
		}
	}
	if playerID == s.HostID {
		s.hostCard = CardView{}
	} else {
		s.guestCard = CardView{}
	}
	s.currentTurn = s.opponent(playerID)

	s.fireActionLocked("answer_submitted", map[string]interface{}{
		"player_id":    playerID,
		"correct":      correct,
		"damage":       damage,
		"host_health":  s.hostHealth,
		"guest_health": s.guestHealth,
		"next_turn":    s.currentTurn,
	})

	if s.hostHealth == 0 {
		s.endLocked(s.GuestID, "health_depleted")
		return nil
	}
	if s.guestHealth == 0 {
		s.endLocked(s.HostID, "health_depleted")
		return nil
	}
	s.mu.Unlock()
	return nil
}

// HandleDisconnect marks the player disconnected and arms the reconnect
// window. If the window expires before HandleReconnect, the remaining
// player is awarded the win.
func (s *Session) HandleDisconnect(playerID string) {
	s.mu.Lock()
	if !s.isParticipant(playerID) || s.ended {
		s.mu.Unlock()
		return
	}
	if playerID == s.HostID {
		s.hostConnected = false
	} else {
		s.guestConnected = false
	}
	s.fireActionLocked("player_disconnected", map[string]interface{}{"player_id": playerID})

	if old := s.graceTimers[playerID]; old != nil {
		old.Stop()
	}
	var timer *time.Timer
	timer = time.AfterFunc(s.window, func() {
		s.mu.Lock()
		// Stale timer: the player reconnected (or a newer timer replaced it).
		if s.graceTimers[playerID] != timer || s.ended {
			s.mu.Unlock()
			return
		}
		delete(s.graceTimers, playerID)
		s.log.Infof("battle %s: reconnect window expired for %s", s.ID, playerID)
		s.endLocked(s.opponent(playerID), "reconnect_timeout")
	})
	s.graceTimers[playerID] = timer
	s.mu.Unlock()
	s.log.Infof("battle %s: player %s disconnected, %s reconnect window armed", s.ID, playerID, s.window)
}

// HandleReconnect clears a pending disconnect window.
func (s *Session) HandleReconnect(playerID string) {
	s.mu.Lock()
	if !s.isParticipant(playerID) || s.ended {
		s.mu.Unlock()
		return
	}
	if timer := s.graceTimers[playerID]; timer != nil {
		timer.Stop()
		delete(s.graceTimers, playerID)
	}
	if playerID == s.HostID {
		s.hostConnected = true
	} else {
		s.guestConnected = true
	}
	s.fireActionLocked("player_reconnected", map[string]interface{}{"player_id": playerID})
	s.mu.Unlock()
}

// Forfeit ends the session immediately in the opponent's favor. Used when a
// player explicitly leaves mid-battle; there is no mid-battle resume.
func (s *Session) Forfeit(leaverID string) error {
	s.mu.Lock()
	if !s.isParticipant(leaverID) {
		s.mu.Unlock()
		return ErrNotParticipant
	}
	if s.ended {
		s.mu.Unlock()
		return ErrSessionEnded
	}
	s.endLocked(s.opponent(leaverID), "forfeit")
	return nil
}

// endLocked finishes the session. Callers must hold s.mu; the lock is
// released before the end callback runs.
func (s *Session) endLocked(winnerID, reason string) {
	s.ended = true
	s.winnerID = winnerID
	s.endReason = reason
	for _, t := range s.graceTimers {
		t.Stop()
	}
	s.graceTimers = make(map[string]*time.Timer)
	onEnd := s.onEnd
	s.fireActionLocked("battle_ended", map[string]interface{}{
		"winner_id": winnerID,
		"reason":    reason,
	})
	s.mu.Unlock()

	s.log.Infof("battle %s: ended, winner %s (%s)", s.ID, winnerID, reason)
	if onEnd != nil {
		onEnd(s, winnerID, reason)
	}
}

// fireActionLocked dispatches the action observer without dropping the lock;
// observers must not call back into the session.
func (s *Session) fireActionLocked(actionType string, payload map[string]interface{}) {
	if s.onAction != nil {
		s.onAction(s, actionType, payload)
	}
}

// Ended reports whether the session has finished.
func (s *Session) Ended() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ended
}

// Snapshot returns the full authoritative state.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		SessionID:      s.ID.String(),
		LobbyCode:      s.LobbyCode,
		HostID:         s.HostID,
		GuestID:        s.GuestID,
		CurrentTurn:    s.currentTurn,
		HostHealth:     s.hostHealth,
		GuestHealth:    s.guestHealth,
		HostCard:       s.hostCard,
		GuestCard:      s.guestCard,
		HostConnected:  s.hostConnected,
		GuestConnected: s.guestConnected,
		Ended:          s.ended,
		WinnerID:       s.winnerID,
		EndReason:      s.endReason,
	}
}
