// internal/lobby/registry_test.go
package lobby

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/duel-learn/pvp-service/internal/models"
)

func newTestRegistry() *Registry {
	return NewRegistry(NewMemoryStore(), nil)
}

func hostProfile() models.PlayerProfile {
	return models.PlayerProfile{ID: "host-1", Username: "Hosty", Level: 5}
}

func guestProfile() models.PlayerProfile {
	return models.PlayerProfile{ID: "guest-1", Username: "Guesty", Level: 3}
}

func defaultSettings() models.LobbySettings {
	return models.LobbySettings{
		QuestionTypes:   []string{models.QuestionMultipleChoice, models.QuestionTrueFalse},
		StudyMaterialID: "mat-42",
		Difficulty:      "average",
		TimeLimitSec:    30,
	}
}

func TestCreateLobby(t *testing.T) {
	r := newTestRegistry()
	ctx := context.Background()

	l, err := r.Create(ctx, hostProfile(), defaultSettings(), "")
	require.NoError(t, err)
	assert.Equal(t, models.StatusWaiting, l.Status)
	assert.Nil(t, l.Guest)
	assert.False(t, l.HostReady)
	assert.True(t, ValidCode(l.Code))
	assert.EqualValues(t, 1, l.Version)

	got, err := r.Get(ctx, l.Code)
	require.NoError(t, err)
	assert.Equal(t, l.Code, got.Code)
}

func TestCreateValidation(t *testing.T) {
	r := newTestRegistry()
	ctx := context.Background()

	_, err := r.Create(ctx, models.PlayerProfile{}, defaultSettings(), "")
	assert.ErrorIs(t, err, ErrValidation)

	bad := defaultSettings()
	bad.QuestionTypes = []string{"essay"}
	_, err = r.Create(ctx, hostProfile(), bad, "")
	assert.ErrorIs(t, err, ErrValidation)
}

func TestCreateRequestedCode(t *testing.T) {
	r := newTestRegistry()
	ctx := context.Background()

	l, err := r.Create(ctx, hostProfile(), defaultSettings(), "abc234")
	require.NoError(t, err)
	assert.Equal(t, "ABC234", l.Code)

	// A caller-supplied code that collides fails immediately.
	_, err = r.Create(ctx, guestProfile(), defaultSettings(), "ABC234")
	assert.ErrorIs(t, err, ErrCodeTaken)

	_, err = r.Create(ctx, hostProfile(), defaultSettings(), "x!")
	assert.ErrorIs(t, err, ErrValidation)
}

// collideStore forces the first n generated codes to collide. The sentinel
// comes back wrapped, the way a SQL-backed store reports it.
type collideStore struct {
	Store
	mu        sync.Mutex
	remaining int
	inserts   int
}

func (s *collideStore) Insert(ctx context.Context, l *models.Lobby) error {
	s.mu.Lock()
	s.inserts++
	if s.remaining > 0 {
		s.remaining--
		s.mu.Unlock()
		return fmt.Errorf("insert lobby %s: %w", l.Code, ErrCodeTaken)
	}
	s.mu.Unlock()
	return s.Store.Insert(ctx, l)
}

func TestCreateRetriesOnCollision(t *testing.T) {
	cs := &collideStore{Store: NewMemoryStore(), remaining: 2}
	r := NewRegistry(cs, nil)

	l, err := r.Create(context.Background(), hostProfile(), defaultSettings(), "")
	require.NoError(t, err)
	assert.True(t, ValidCode(l.Code))
	assert.Equal(t, 3, cs.inserts)
}

func TestCreateExhaustsAttempts(t *testing.T) {
	cs := &collideStore{Store: NewMemoryStore(), remaining: maxCodeAttempts}
	r := NewRegistry(cs, nil)

	_, err := r.Create(context.Background(), hostProfile(), defaultSettings(), "")
	assert.ErrorIs(t, err, ErrExhausted)
}

func TestJoinIsIdempotent(t *testing.T) {
	r := newTestRegistry()
	ctx := context.Background()
	l, err := r.Create(ctx, hostProfile(), defaultSettings(), "")
	require.NoError(t, err)

	first, err := r.Join(ctx, l.Code, guestProfile())
	require.NoError(t, err)
	require.NotNil(t, first.Guest)
	assert.Equal(t, "guest-1", first.Guest.ID)

	again, err := r.Join(ctx, l.Code, guestProfile())
	require.NoError(t, err)
	assert.Equal(t, first.Version, again.Version, "re-join must not write")
}

func TestJoinFullAndClosed(t *testing.T) {
	r := newTestRegistry()
	ctx := context.Background()
	l, err := r.Create(ctx, hostProfile(), defaultSettings(), "")
	require.NoError(t, err)

	_, err = r.Join(ctx, l.Code, guestProfile())
	require.NoError(t, err)

	_, err = r.Join(ctx, l.Code, models.PlayerProfile{ID: "third-wheel"})
	assert.ErrorIs(t, err, ErrLobbyFull)

	_, _, err = r.Leave(ctx, l.Code, "host-1")
	require.NoError(t, err)
	_, err = r.Join(ctx, l.Code, models.PlayerProfile{ID: "latecomer"})
	assert.ErrorIs(t, err, ErrInvalidState)

	_, err = r.Join(ctx, "ZZZZ99", guestProfile())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUpdateSettingsResetsReadyFlags(t *testing.T) {
	r := newTestRegistry()
	ctx := context.Background()
	l, err := r.Create(ctx, hostProfile(), defaultSettings(), "")
	require.NoError(t, err)
	_, err = r.Join(ctx, l.Code, guestProfile())
	require.NoError(t, err)

	_, err = r.SetReady(ctx, l.Code, "host-1", true)
	require.NoError(t, err)
	got, err := r.SetReady(ctx, l.Code, "guest-1", true)
	require.NoError(t, err)
	require.Equal(t, models.StatusReady, got.Status)

	diff := "hard"
	updated, err := r.UpdateSettings(ctx, l.Code, "host-1", models.SettingsPatch{Difficulty: &diff})
	require.NoError(t, err)
	assert.Equal(t, "hard", updated.Settings.Difficulty)
	assert.False(t, updated.HostReady, "settings change voids host readiness")
	assert.False(t, updated.GuestReady, "settings change voids guest readiness")
	assert.Equal(t, models.StatusWaiting, updated.Status)
}

func TestUpdateSettingsAuthorization(t *testing.T) {
	r := newTestRegistry()
	ctx := context.Background()
	l, err := r.Create(ctx, hostProfile(), defaultSettings(), "")
	require.NoError(t, err)
	_, err = r.Join(ctx, l.Code, guestProfile())
	require.NoError(t, err)

	diff := "easy"
	_, err = r.UpdateSettings(ctx, l.Code, "guest-1", models.SettingsPatch{Difficulty: &diff})
	assert.ErrorIs(t, err, ErrUnauthorized)

	_, err = r.UpdateSettings(ctx, l.Code, "host-1", models.SettingsPatch{})
	assert.ErrorIs(t, err, ErrValidation)
}

func TestSetReadyOwnFlagOnly(t *testing.T) {
	r := newTestRegistry()
	ctx := context.Background()
	l, err := r.Create(ctx, hostProfile(), defaultSettings(), "")
	require.NoError(t, err)
	_, err = r.Join(ctx, l.Code, guestProfile())
	require.NoError(t, err)

	_, err = r.SetReady(ctx, l.Code, "someone-else", true)
	assert.ErrorIs(t, err, ErrUnauthorized)

	got, err := r.SetReady(ctx, l.Code, "host-1", true)
	require.NoError(t, err)
	assert.True(t, got.HostReady)
	assert.False(t, got.GuestReady)
	assert.Equal(t, models.StatusWaiting, got.Status)

	got, err = r.SetReady(ctx, l.Code, "guest-1", true)
	require.NoError(t, err)
	assert.Equal(t, models.StatusReady, got.Status)

	got, err = r.SetReady(ctx, l.Code, "guest-1", false)
	require.NoError(t, err)
	assert.Equal(t, models.StatusWaiting, got.Status, "unready drops the lobby back to waiting")
}

func TestConcurrentReadyFlags(t *testing.T) {
	r := newTestRegistry()
	ctx := context.Background()
	l, err := r.Create(ctx, hostProfile(), defaultSettings(), "")
	require.NoError(t, err)
	_, err = r.Join(ctx, l.Code, guestProfile())
	require.NoError(t, err)

	var wg sync.WaitGroup
	for _, id := range []string{"host-1", "guest-1"} {
		wg.Add(1)
		go func(playerID string) {
			defer wg.Done()
			_, err := r.SetReady(ctx, l.Code, playerID, true)
			assert.NoError(t, err)
		}(id)
	}
	wg.Wait()

	got, err := r.Get(ctx, l.Code)
	require.NoError(t, err)
	assert.True(t, got.HostReady, "concurrent write must not drop the host flag")
	assert.True(t, got.GuestReady, "concurrent write must not drop the guest flag")
	assert.Equal(t, models.StatusReady, got.Status)
}

func TestSetStatusGuards(t *testing.T) {
	r := newTestRegistry()
	ctx := context.Background()
	l, err := r.Create(ctx, hostProfile(), defaultSettings(), "")
	require.NoError(t, err)

	// No guest: can never start.
	_, err = r.SetStatus(ctx, l.Code, models.StatusInProgress)
	assert.ErrorIs(t, err, ErrInvalidState)

	_, err = r.Join(ctx, l.Code, guestProfile())
	require.NoError(t, err)

	// Guest present but not everyone ready.
	_, err = r.SetStatus(ctx, l.Code, models.StatusInProgress)
	assert.ErrorIs(t, err, ErrInvalidState)

	_, err = r.SetReady(ctx, l.Code, "host-1", true)
	require.NoError(t, err)
	_, err = r.SetReady(ctx, l.Code, "guest-1", true)
	require.NoError(t, err)

	got, err := r.SetStatus(ctx, l.Code, models.StatusInProgress)
	require.NoError(t, err)
	assert.Equal(t, models.StatusInProgress, got.Status)

	// in_progress only completes or abandons.
	_, err = r.SetStatus(ctx, l.Code, models.StatusWaiting)
	assert.ErrorIs(t, err, ErrInvalidTransition)

	got, err = r.SetStatus(ctx, l.Code, models.StatusCompleted)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, got.Status)

	// Terminal states stay terminal.
	_, err = r.SetStatus(ctx, l.Code, models.StatusAbandoned)
	assert.ErrorIs(t, err, ErrInvalidTransition)

	_, err = r.SetStatus(ctx, l.Code, "sideways")
	assert.ErrorIs(t, err, ErrValidation)
}

func TestLeaveOutcomes(t *testing.T) {
	r := newTestRegistry()
	ctx := context.Background()

	t.Run("guest pre-battle clears the slot", func(t *testing.T) {
		l, err := r.Create(ctx, hostProfile(), defaultSettings(), "")
		require.NoError(t, err)
		_, err = r.Join(ctx, l.Code, guestProfile())
		require.NoError(t, err)
		_, err = r.SetReady(ctx, l.Code, "guest-1", true)
		require.NoError(t, err)

		got, outcome, err := r.Leave(ctx, l.Code, "guest-1")
		require.NoError(t, err)
		assert.Equal(t, LeaveGuestCleared, outcome)
		assert.Nil(t, got.Guest)
		assert.False(t, got.GuestReady)
		assert.Equal(t, models.StatusWaiting, got.Status)
	})

	t.Run("host leaving abandons the lobby", func(t *testing.T) {
		l, err := r.Create(ctx, hostProfile(), defaultSettings(), "")
		require.NoError(t, err)

		got, outcome, err := r.Leave(ctx, l.Code, "host-1")
		require.NoError(t, err)
		assert.Equal(t, LeaveAbandoned, outcome)
		assert.Equal(t, models.StatusAbandoned, got.Status)
	})

	t.Run("anyone leaving mid-battle abandons", func(t *testing.T) {
		l, err := r.Create(ctx, hostProfile(), defaultSettings(), "")
		require.NoError(t, err)
		_, err = r.Join(ctx, l.Code, guestProfile())
		require.NoError(t, err)
		_, err = r.SetReady(ctx, l.Code, "host-1", true)
		require.NoError(t, err)
		_, err = r.SetReady(ctx, l.Code, "guest-1", true)
		require.NoError(t, err)
		_, err = r.SetStatus(ctx, l.Code, models.StatusInProgress)
		require.NoError(t, err)

		got, outcome, err := r.Leave(ctx, l.Code, "guest-1")
		require.NoError(t, err)
		assert.Equal(t, LeaveAbandoned, outcome)
		assert.Equal(t, models.StatusAbandoned, got.Status)
	})

	t.Run("stranger cannot leave", func(t *testing.T) {
		l, err := r.Create(ctx, hostProfile(), defaultSettings(), "")
		require.NoError(t, err)
		_, _, err = r.Leave(ctx, l.Code, "stranger")
		assert.ErrorIs(t, err, ErrUnauthorized)
	})
}

func TestResolveRole(t *testing.T) {
	r := newTestRegistry()
	ctx := context.Background()
	l, err := r.Create(ctx, hostProfile(), defaultSettings(), "")
	require.NoError(t, err)

	role, _, err := r.ResolveRole(ctx, l.Code, hostProfile())
	require.NoError(t, err)
	assert.Equal(t, RoleHost, role)

	// A stranger with an open slot claims it.
	role, got, err := r.ResolveRole(ctx, l.Code, guestProfile())
	require.NoError(t, err)
	assert.Equal(t, RoleGuest, role)
	require.NotNil(t, got.Guest)
	assert.Equal(t, "guest-1", got.Guest.ID)

	// The same guest resolving again is a refresh, not a second join.
	role, _, err = r.ResolveRole(ctx, l.Code, guestProfile())
	require.NoError(t, err)
	assert.Equal(t, RoleGuest, role)

	// Both slots held by others.
	_, _, err = r.ResolveRole(ctx, l.Code, models.PlayerProfile{ID: "third-wheel"})
	assert.ErrorIs(t, err, ErrLobbyFull)
}

func TestCodeHelpers(t *testing.T) {
	code := GenerateCode()
	assert.Len(t, code, CodeLength)
	assert.True(t, ValidCode(code))
	assert.NotContains(t, code, "O")
	assert.NotContains(t, code, "0")

	assert.Equal(t, "AB12CD", NormalizeCode("  ab12cd "))
	assert.False(t, ValidCode("ab"))
	assert.False(t, ValidCode("HAS SPACE"))
}
