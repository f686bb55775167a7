// internal/handlers/lobby.go
package handlers

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/duel-learn/pvp-service/internal/lobby"
	"github.com/duel-learn/pvp-service/internal/models"
)

type createLobbyRequest struct {
	LobbyCode    string               `json:"lobby_code"`
	HostID       string               `json:"host_id"`
	HostUsername string               `json:"host_username"`
	HostLevel    int                  `json:"host_level"`
	HostPicture  string               `json:"host_picture"`
	Settings     models.LobbySettings `json:"settings"`
}

// CreateLobbyHandler persists a new lobby with status=waiting and no guest.
// The client may supply its own code; collisions surface as 409 so it can
// retry with a fresh one.
func CreateLobbyHandler(s *Server) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req createLobbyRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "bad create payload")
			return
		}
		host := models.PlayerProfile{
			ID:             req.HostID,
			Username:       req.HostUsername,
			Level:          req.HostLevel,
			DisplayPicture: req.HostPicture,
		}
		lob, err := s.Registry.Create(r.Context(), host, req.Settings, req.LobbyCode)
		if err != nil {
			writeLobbyError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, lob)
	}
}

type joinLobbyRequest struct {
	LobbyCode      string `json:"lobby_code"`
	PlayerID       string `json:"player_id"`
	PlayerUsername string `json:"player_username"`
	PlayerLevel    int    `json:"player_level"`
	PlayerPicture  string `json:"player_picture"`
}

// JoinLobbyHandler claims the guest slot. Re-joining with the same player
// id is idempotent and returns the current snapshot.
func JoinLobbyHandler(s *Server) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req joinLobbyRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "bad join payload")
			return
		}
		guest := models.PlayerProfile{
			ID:             req.PlayerID,
			Username:       req.PlayerUsername,
			Level:          req.PlayerLevel,
			DisplayPicture: req.PlayerPicture,
		}
		lob, err := s.Registry.Join(r.Context(), req.LobbyCode, guest)
		if err != nil {
			writeLobbyError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, lob)
	}
}

type updateSettingsRequest struct {
	LobbyCode string               `json:"lobby_code"`
	PlayerID  string               `json:"player_id"`
	Settings  models.SettingsPatch `json:"settings"`
}

// UpdateSettingsHandler merges a host settings patch. Both ready flags are
// reset in the same durable write.
func UpdateSettingsHandler(s *Server) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req updateSettingsRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "bad settings payload")
			return
		}
		lob, err := s.Registry.UpdateSettings(r.Context(), req.LobbyCode, req.PlayerID, req.Settings)
		if err != nil {
			writeLobbyError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, lob)
	}
}

type updateReadyRequest struct {
	LobbyCode string `json:"lobby_code"`
	PlayerID  string `json:"player_id"`
	IsReady   bool   `json:"is_ready"`
}

// UpdateReadyHandler sets the caller's own ready flag.
func UpdateReadyHandler(s *Server) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req updateReadyRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "bad ready payload")
			return
		}
		lob, err := s.Registry.SetReady(r.Context(), req.LobbyCode, req.PlayerID, req.IsReady)
		if err != nil {
			writeLobbyError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, lob)
	}
}

type updateStatusRequest struct {
	LobbyCode string `json:"lobby_code"`
	Status    string `json:"status"`
}

// UpdateStatusHandler applies a status transition. Moving to in_progress
// additionally starts the battle session and returns its snapshot so both
// clients converge on the same randomized opening turn.
func UpdateStatusHandler(s *Server) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req updateStatusRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "bad status payload")
			return
		}
		next := models.LobbyStatus(req.Status)
		lob, err := s.Registry.SetStatus(r.Context(), req.LobbyCode, next)
		if err != nil {
			writeLobbyError(w, err)
			return
		}

		if next == models.StatusInProgress {
			if _, exists := s.Sessions.GetByLobby(lob.Code); !exists {
				sess := s.StartBattle(r.Context(), lob)
				writeJSON(w, http.StatusOK, map[string]interface{}{
					"lobby":   lob,
					"session": sess.Snapshot(),
				})
				return
			}
		}
		writeJSON(w, http.StatusOK, lob)
	}
}

type leaveLobbyRequest struct {
	LobbyCode string `json:"lobby_code"`
	PlayerID  string `json:"player_id"`
	IsHost    bool   `json:"is_host"`
	IsGuest   bool   `json:"is_guest"`
}

// LeaveLobbyHandler removes a player from the lobby. Leaving mid-battle is
// an immediate forfeit.
func LeaveLobbyHandler(s *Server) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req leaveLobbyRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "bad leave payload")
			return
		}
		lob, outcome, err := s.Registry.Leave(r.Context(), req.LobbyCode, req.PlayerID)
		if err != nil {
			writeLobbyError(w, err)
			return
		}
		if sess, ok := s.Sessions.GetByLobby(lob.Code); ok && !sess.Ended() {
			if err := sess.Forfeit(req.PlayerID); err != nil {
				s.Log.Warnf("lobby %s: forfeit on leave failed: %v", lob.Code, err)
			}
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"lobby":   lob,
			"outcome": outcome,
		})
	}
}

// GetLobbyHandler serves GET /lobby/{code}.
func GetLobbyHandler(s *Server) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		code := strings.TrimPrefix(r.URL.Path, "/lobby/")
		if code == "" || strings.Contains(code, "/") {
			writeError(w, http.StatusBadRequest, "missing lobby code")
			return
		}
		lob, err := s.Registry.Get(r.Context(), code)
		if err != nil {
			writeLobbyError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, lob)
	}
}

// ValidateLobbyHandler serves GET /lobby/validate/{code}: a cheap existence
// and joinability probe used before the full join protocol runs.
func ValidateLobbyHandler(s *Server) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		code := strings.TrimPrefix(r.URL.Path, "/lobby/validate/")
		if code == "" {
			writeError(w, http.StatusBadRequest, "missing lobby code")
			return
		}
		lob, err := s.Registry.Get(r.Context(), code)
		if err != nil {
			writeLobbyError(w, err)
			return
		}
		switch {
		case lob.Status != models.StatusWaiting && lob.Status != models.StatusReady:
			writeError(w, http.StatusUnprocessableEntity, "lobby is "+string(lob.Status))
		case lob.HasGuest():
			writeError(w, http.StatusConflict, lobby.ErrLobbyFull.Error())
		default:
			writeMessage(w, http.StatusOK, "lobby is open")
		}
	}
}
