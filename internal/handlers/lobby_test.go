// internal/handlers/lobby_test.go
package handlers

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/duel-learn/pvp-service/internal/config"
	"github.com/duel-learn/pvp-service/internal/lobby"
	"github.com/duel-learn/pvp-service/internal/models"
	"github.com/duel-learn/pvp-service/internal/realtime"
)

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Message string          `json:"message"`
}

func newTestServer() (*Server, *httptest.Server) {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)

	reg := lobby.NewRegistry(lobby.NewMemoryStore(), logger)
	hub := realtime.NewHub(logger)
	srv := NewServer(reg, hub, config.Default(), logger)

	mux := http.NewServeMux()
	mux.Handle("/lobby/create", CreateLobbyHandler(srv))
	mux.Handle("/lobby/join", JoinLobbyHandler(srv))
	mux.Handle("/lobby/settings", UpdateSettingsHandler(srv))
	mux.Handle("/lobby/ready", UpdateReadyHandler(srv))
	mux.Handle("/lobby/status", UpdateStatusHandler(srv))
	mux.Handle("/lobby/leave", LeaveLobbyHandler(srv))
	mux.Handle("/lobby/validate/", ValidateLobbyHandler(srv))
	mux.Handle("/lobby/", GetLobbyHandler(srv))
	mux.Handle("/battle/session/", GetBattleSessionHandler(srv))
	mux.Handle("/battle/lobby/", GetBattleByLobbyHandler(srv))

	return srv, httptest.NewServer(mux)
}

func postJSON(t *testing.T, url string, body interface{}) (*http.Response, envelope) {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(data))
	require.NoError(t, err)
	defer resp.Body.Close()
	var env envelope
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&env))
	return resp, env
}

func getJSON(t *testing.T, url string) (*http.Response, envelope) {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	var env envelope
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&env))
	return resp, env
}

func createLobby(t *testing.T, base string) models.Lobby {
	t.Helper()
	resp, env := postJSON(t, base+"/lobby/create", map[string]interface{}{
		"host_id":       "host-1",
		"host_username": "Hosty",
		"host_level":    5,
		"settings": map[string]interface{}{
			"question_types":    []string{"multiple-choice"},
			"study_material_id": "mat-42",
			"difficulty":        "average",
			"time_limit_sec":    30,
		},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.True(t, env.Success)
	var lob models.Lobby
	require.NoError(t, json.Unmarshal(env.Data, &lob))
	return lob
}

func joinLobby(t *testing.T, base, code string) models.Lobby {
	t.Helper()
	resp, env := postJSON(t, base+"/lobby/join", map[string]interface{}{
		"lobby_code":      code,
		"player_id":       "guest-1",
		"player_username": "Guesty",
		"player_level":    3,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var lob models.Lobby
	require.NoError(t, json.Unmarshal(env.Data, &lob))
	return lob
}

func putJSON(t *testing.T, url string, body interface{}) (*http.Response, envelope) {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	req, err := http.NewRequest(http.MethodPut, url, bytes.NewReader(data))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	var env envelope
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&env))
	return resp, env
}

func TestCreateAndFetchLobby(t *testing.T) {
	_, ts := newTestServer()
	defer ts.Close()

	lob := createLobby(t, ts.URL)
	assert.Equal(t, models.StatusWaiting, lob.Status)
	assert.Nil(t, lob.Guest)

	resp, env := getJSON(t, ts.URL+"/lobby/"+lob.Code)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var got models.Lobby
	require.NoError(t, json.Unmarshal(env.Data, &got))
	assert.Equal(t, lob.Code, got.Code)
	assert.Equal(t, "Hosty", got.Host.Username)
}

func TestJoinAndFullLobby(t *testing.T) {
	_, ts := newTestServer()
	defer ts.Close()

	lob := createLobby(t, ts.URL)
	joined := joinLobby(t, ts.URL, lob.Code)
	require.NotNil(t, joined.Guest)
	assert.Equal(t, "guest-1", joined.Guest.ID)

	resp, env := postJSON(t, ts.URL+"/lobby/join", map[string]interface{}{
		"lobby_code": lob.Code,
		"player_id":  "third-wheel",
	})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.False(t, env.Success)
	assert.NotEmpty(t, env.Message)
}

func TestJoinUnknownLobby(t *testing.T) {
	_, ts := newTestServer()
	defer ts.Close()

	resp, env := postJSON(t, ts.URL+"/lobby/join", map[string]interface{}{
		"lobby_code": "ZZZZ99",
		"player_id":  "guest-1",
	})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.False(t, env.Success)
}

func TestSettingsUpdateResetsReadiness(t *testing.T) {
	_, ts := newTestServer()
	defer ts.Close()

	lob := createLobby(t, ts.URL)
	joinLobby(t, ts.URL, lob.Code)

	for _, id := range []string{"host-1", "guest-1"} {
		resp, _ := putJSON(t, ts.URL+"/lobby/ready", map[string]interface{}{
			"lobby_code": lob.Code,
			"player_id":  id,
			"is_ready":   true,
		})
		require.Equal(t, http.StatusOK, resp.StatusCode)
	}

	resp, env := putJSON(t, ts.URL+"/lobby/settings", map[string]interface{}{
		"lobby_code": lob.Code,
		"player_id":  "host-1",
		"settings":   map[string]interface{}{"difficulty": "hard"},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var got models.Lobby
	require.NoError(t, json.Unmarshal(env.Data, &got))
	assert.Equal(t, "hard", got.Settings.Difficulty)
	assert.False(t, got.HostReady)
	assert.False(t, got.GuestReady)
	assert.Equal(t, models.StatusWaiting, got.Status)

	// Guests cannot touch settings.
	resp, env = putJSON(t, ts.URL+"/lobby/settings", map[string]interface{}{
		"lobby_code": lob.Code,
		"player_id":  "guest-1",
		"settings":   map[string]interface{}{"difficulty": "easy"},
	})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.False(t, env.Success)
}

func TestStartBattleOverHTTP(t *testing.T) {
	srv, ts := newTestServer()
	defer ts.Close()

	lob := createLobby(t, ts.URL)
	joinLobby(t, ts.URL, lob.Code)

	// Starting before anyone is ready must fail.
	resp, _ := putJSON(t, ts.URL+"/lobby/status", map[string]interface{}{
		"lobby_code": lob.Code,
		"status":     "in_progress",
	})
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)

	for _, id := range []string{"host-1", "guest-1"} {
		putJSON(t, ts.URL+"/lobby/ready", map[string]interface{}{
			"lobby_code": lob.Code,
			"player_id":  id,
			"is_ready":   true,
		})
	}

	resp, env := putJSON(t, ts.URL+"/lobby/status", map[string]interface{}{
		"lobby_code": lob.Code,
		"status":     "in_progress",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var started struct {
		Lobby   models.Lobby `json:"lobby"`
		Session struct {
			SessionID   string `json:"session_id"`
			CurrentTurn string `json:"current_turn"`
			HostHealth  int    `json:"host_health"`
		} `json:"session"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &started))
	assert.Equal(t, models.StatusInProgress, started.Lobby.Status)
	assert.Contains(t, []string{"host-1", "guest-1"}, started.Session.CurrentTurn)
	assert.Equal(t, 100, started.Session.HostHealth)

	sess, ok := srv.Sessions.GetByLobby(lob.Code)
	require.True(t, ok)

	// The snapshot endpoint reports the same opening turn.
	resp, env = getJSON(t, fmt.Sprintf("%s/battle/session/%s", ts.URL, sess.ID))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var snap struct {
		CurrentTurn string `json:"current_turn"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &snap))
	assert.Equal(t, started.Session.CurrentTurn, snap.CurrentTurn)

	resp, _ = getJSON(t, ts.URL+"/battle/lobby/"+lob.Code)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestLeaveForfeitsActiveBattle(t *testing.T) {
	srv, ts := newTestServer()
	defer ts.Close()

	lob := createLobby(t, ts.URL)
	joinLobby(t, ts.URL, lob.Code)
	for _, id := range []string{"host-1", "guest-1"} {
		putJSON(t, ts.URL+"/lobby/ready", map[string]interface{}{
			"lobby_code": lob.Code,
			"player_id":  id,
			"is_ready":   true,
		})
	}
	putJSON(t, ts.URL+"/lobby/status", map[string]interface{}{
		"lobby_code": lob.Code,
		"status":     "in_progress",
	})
	sess, ok := srv.Sessions.GetByLobby(lob.Code)
	require.True(t, ok)

	resp, env := postJSON(t, ts.URL+"/lobby/leave", map[string]interface{}{
		"lobby_code": lob.Code,
		"player_id":  "guest-1",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var left struct {
		Outcome string `json:"outcome"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &left))
	assert.Equal(t, "abandoned", left.Outcome)

	assert.True(t, sess.Ended())
	snap := sess.Snapshot()
	assert.Equal(t, "host-1", snap.WinnerID)
	assert.Equal(t, "forfeit", snap.EndReason)
}

func TestGuestLeavePreBattleClearsSlot(t *testing.T) {
	_, ts := newTestServer()
	defer ts.Close()

	lob := createLobby(t, ts.URL)
	joinLobby(t, ts.URL, lob.Code)

	resp, env := postJSON(t, ts.URL+"/lobby/leave", map[string]interface{}{
		"lobby_code": lob.Code,
		"player_id":  "guest-1",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var left struct {
		Lobby   models.Lobby `json:"lobby"`
		Outcome string       `json:"outcome"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &left))
	assert.Equal(t, "guest_cleared", left.Outcome)
	assert.Nil(t, left.Lobby.Guest)
	assert.Equal(t, models.StatusWaiting, left.Lobby.Status)
}

func TestValidateLobby(t *testing.T) {
	_, ts := newTestServer()
	defer ts.Close()

	lob := createLobby(t, ts.URL)

	resp, env := getJSON(t, ts.URL+"/lobby/validate/"+lob.Code)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, env.Success)

	joinLobby(t, ts.URL, lob.Code)
	resp, env = getJSON(t, ts.URL+"/lobby/validate/"+lob.Code)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.False(t, env.Success)

	resp, _ = getJSON(t, ts.URL+"/lobby/validate/ZZZZ99")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
