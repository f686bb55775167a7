// internal/lobby/registry.go
package lobby

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/duel-learn/pvp-service/internal/models"
)

// Role is a player's position in a lobby.
type Role string

const (
	RoleHost  Role = "host"
	RoleGuest Role = "guest"
	RoleNone  Role = ""
)

// LeaveOutcome describes what a Leave call did to the lobby, so the
// real-time layer knows which notification to fan out.
type LeaveOutcome string

const (
	// LeaveAbandoned: the host left before battle start, or either player
	// left mid-battle. The lobby is dead and remaining players must be
	// redirected out.
	LeaveAbandoned LeaveOutcome = "abandoned"
	// LeaveGuestCleared: the guest left pre-battle; the lobby returns to
	// waiting with an open guest slot.
	LeaveGuestCleared LeaveOutcome = "guest_cleared"
)

// Registry is the authoritative lobby state machine over a durable Store.
// All mutations for one lobby code are serialized through a per-code mutex,
// so concurrent host+guest writes cannot interleave their read-modify-write
// cycles (the source of lost ready flags and settings).
type Registry struct {
	store Store
	log   *logrus.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewRegistry builds a Registry over the given store.
func NewRegistry(store Store, log *logrus.Logger) *Registry {
	if log == nil {
		log = logrus.New()
	}
	return &Registry{
		store: store,
		log:   log,
		locks: make(map[string]*sync.Mutex),
	}
}

// codeLock returns the mutex dedicated to one lobby code, creating it on
// first use. Entries are never reclaimed; lobby churn is small enough that
// the map stays bounded by total codes seen per process lifetime.
func (r *Registry) codeLock(code string) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.locks[code]
	if !ok {
		m = &sync.Mutex{}
		r.locks[code] = m
	}
	return m
}

// Create persists a new lobby with status=waiting and an empty guest slot.
// If requestedCode is empty a code is generated; on collision, generation
// retries up to the bounded attempt count before failing with ErrExhausted.
// A caller-supplied code that collides fails immediately with ErrCodeTaken.
func (r *Registry) Create(ctx context.Context, host models.PlayerProfile, settings models.LobbySettings, requestedCode string) (*models.Lobby, error) {
	if host.ID == "" {
		return nil, fmt.Errorf("%w: missing host id", ErrValidation)
	}
	for _, qt := range settings.QuestionTypes {
		if !models.ValidQuestionType(qt) {
			return nil, fmt.Errorf("%w: unknown question type %q", ErrValidation, qt)
		}
	}

	attempts := maxCodeAttempts
	code := NormalizeCode(requestedCode)
	if code != "" {
		if !ValidCode(code) {
			return nil, fmt.Errorf("%w: malformed lobby code %q", ErrValidation, code)
		}
		attempts = 1
	}

	for i := 0; i < attempts; i++ {
		if code == "" {
			code = GenerateCode()
		}
		l := &models.Lobby{
			Code:     code,
			Host:     &host,
			Settings: settings,
			Status:   models.StatusWaiting,
		}
		err := r.store.Insert(ctx, l)
		if err == nil {
			r.log.Infof("lobby %s created by host %s", code, host.ID)
			return l, nil
		}
		if !errors.Is(err, ErrCodeTaken) {
			return nil, err
		}
		if requestedCode != "" {
			return nil, ErrCodeTaken
		}
		r.log.Warnf("lobby code collision on %s, retrying (%d/%d)", code, i+1, attempts)
		code = ""
	}
	return nil, ErrExhausted
}

// Join claims the guest slot. A re-join by the same guest id is idempotent
// and returns the current snapshot.
func (r *Registry) Join(ctx context.Context, code string, guest models.PlayerProfile) (*models.Lobby, error) {
	if guest.ID == "" {
		return nil, fmt.Errorf("%w: missing player id", ErrValidation)
	}
	code = NormalizeCode(code)
	lock := r.codeLock(code)
	lock.Lock()
	defer lock.Unlock()

	l, err := r.store.Get(ctx, code)
	if err != nil {
		return nil, err
	}
	if l.IsGuest(guest.ID) || l.IsHost(guest.ID) {
		return l, nil // refresh/reconnect of an already-joined player
	}
	if l.Status != models.StatusWaiting && l.Status != models.StatusReady {
		return nil, fmt.Errorf("%w: lobby is %s", ErrInvalidState, l.Status)
	}
	if l.HasGuest() {
		return nil, ErrLobbyFull
	}

	l.Guest = &guest
	l.GuestReady = false
	if err := r.store.Update(ctx, l); err != nil {
		return nil, err
	}
	r.log.Infof("lobby %s: guest %s joined", code, guest.ID)
	return l, nil
}

// UpdateSettings merges a settings patch. Host only. Both ready flags are
// reset in the same write: readiness given under old settings is void.
func (r *Registry) UpdateSettings(ctx context.Context, code, callerID string, patch models.SettingsPatch) (*models.Lobby, error) {
	if patch.Empty() {
		return nil, fmt.Errorf("%w: empty settings patch", ErrValidation)
	}
	if patch.QuestionTypes != nil {
		for _, qt := range *patch.QuestionTypes {
			if !models.ValidQuestionType(qt) {
				return nil, fmt.Errorf("%w: unknown question type %q", ErrValidation, qt)
			}
		}
	}

	code = NormalizeCode(code)
	lock := r.codeLock(code)
	lock.Lock()
	defer lock.Unlock()

	l, err := r.store.Get(ctx, code)
	if err != nil {
		return nil, err
	}
	if !l.IsHost(callerID) {
		return nil, fmt.Errorf("%w: only the host may change settings", ErrUnauthorized)
	}
	if l.Status == models.StatusInProgress || l.Status == models.StatusCompleted || l.Status == models.StatusAbandoned {
		return nil, fmt.Errorf("%w: lobby is %s", ErrInvalidState, l.Status)
	}

	patch.Apply(&l.Settings)
	l.HostReady = false
	l.GuestReady = false
	if l.Status == models.StatusReady {
		l.Status = models.StatusWaiting
	}
	if err := r.store.Update(ctx, l); err != nil {
		return nil, err
	}
	return l, nil
}

// SetReady sets the caller's own ready flag. Setting another player's flag
// is rejected.
func (r *Registry) SetReady(ctx context.Context, code, playerID string, ready bool) (*models.Lobby, error) {
	code = NormalizeCode(code)
	lock := r.codeLock(code)
	lock.Lock()
	defer lock.Unlock()

	l, err := r.store.Get(ctx, code)
	if err != nil {
		return nil, err
	}
	if l.Status == models.StatusInProgress || l.Status == models.StatusCompleted || l.Status == models.StatusAbandoned {
		return nil, fmt.Errorf("%w: lobby is %s", ErrInvalidState, l.Status)
	}

	switch {
	case l.IsHost(playerID):
		l.HostReady = ready
	case l.IsGuest(playerID):
		l.GuestReady = ready
	default:
		return nil, fmt.Errorf("%w: player %s is not in lobby %s", ErrUnauthorized, playerID, code)
	}

	if l.HostReady && l.GuestReady && l.Status == models.StatusWaiting {
		l.Status = models.StatusReady
	} else if !(l.HostReady && l.GuestReady) && l.Status == models.StatusReady {
		l.Status = models.StatusWaiting
	}
	if err := r.store.Update(ctx, l); err != nil {
		return nil, err
	}
	return l, nil
}

// SetStatus validates and applies a status transition. in_progress requires
// a guest and both ready flags; a lobby with no guest can never start.
func (r *Registry) SetStatus(ctx context.Context, code string, next models.LobbyStatus) (*models.Lobby, error) {
	if !next.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", ErrValidation, next)
	}
	code = NormalizeCode(code)
	lock := r.codeLock(code)
	lock.Lock()
	defer lock.Unlock()

	l, err := r.store.Get(ctx, code)
	if err != nil {
		return nil, err
	}
	if l.Status == next {
		return l, nil
	}
	if !l.Status.CanTransitionTo(next) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, l.Status, next)
	}
	if next == models.StatusInProgress {
		if !l.HasGuest() {
			return nil, fmt.Errorf("%w: cannot start without a guest", ErrInvalidState)
		}
		if !l.HostReady || !l.GuestReady {
			return nil, fmt.Errorf("%w: both players must be ready", ErrInvalidState)
		}
	}

	l.Status = next
	if err := r.store.Update(ctx, l); err != nil {
		return nil, err
	}
	r.log.Infof("lobby %s: status -> %s", code, next)
	return l, nil
}

// Leave removes a player. Host leaving pre-battle abandons the lobby; guest
// leaving pre-battle clears the slot and drops the lobby back to waiting;
// anyone leaving after in_progress abandons the lobby (forfeit, no resume).
func (r *Registry) Leave(ctx context.Context, code, playerID string) (*models.Lobby, LeaveOutcome, error) {
	code = NormalizeCode(code)
	lock := r.codeLock(code)
	lock.Lock()
	defer lock.Unlock()

	l, err := r.store.Get(ctx, code)
	if err != nil {
		return nil, "", err
	}
	isHost := l.IsHost(playerID)
	isGuest := l.IsGuest(playerID)
	if !isHost && !isGuest {
		return nil, "", fmt.Errorf("%w: player %s is not in lobby %s", ErrUnauthorized, playerID, code)
	}

	outcome := LeaveAbandoned
	if l.Status == models.StatusInProgress || isHost {
		l.Status = models.StatusAbandoned
	} else {
		l.Guest = nil
		l.GuestReady = false
		l.Status = models.StatusWaiting
		outcome = LeaveGuestCleared
	}
	if err := r.store.Update(ctx, l); err != nil {
		return nil, "", err
	}
	r.log.Infof("lobby %s: player %s left (%s)", code, playerID, outcome)
	return l, outcome, nil
}

// Get returns the current lobby snapshot.
func (r *Registry) Get(ctx context.Context, code string) (*models.Lobby, error) {
	return r.store.Get(ctx, NormalizeCode(code))
}

// ResolveRole runs the join protocol for a connecting client and returns its
// verified role. It must complete before the client joins the transport
// room; stale client-side roles are never trusted, so this is re-run on
// every mount.
//
//  1. host_id == self          -> host
//  2. guest_id == self         -> guest (refresh/reconnect)
//  3. guest slot empty         -> claim it via Join -> guest
//  4. both slots held by others -> ErrLobbyFull
func (r *Registry) ResolveRole(ctx context.Context, code string, player models.PlayerProfile) (Role, *models.Lobby, error) {
	l, err := r.Get(ctx, code)
	if err != nil {
		return RoleNone, nil, err
	}
	switch {
	case l.IsHost(player.ID):
		return RoleHost, l, nil
	case l.IsGuest(player.ID):
		return RoleGuest, l, nil
	case !l.HasGuest():
		joined, err := r.Join(ctx, code, player)
		if err != nil {
			return RoleNone, nil, err
		}
		return RoleGuest, joined, nil
	default:
		return RoleNone, nil, ErrLobbyFull
	}
}
