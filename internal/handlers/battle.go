// internal/handlers/battle.go
package handlers

import (
	"net/http"
	"strings"

	"github.com/google/uuid"
)

// GetBattleSessionHandler serves GET /battle/session/{id}: the authoritative
// snapshot clients reconcile against after a reload or missed push.
func GetBattleSessionHandler(s *Server) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		raw := strings.TrimPrefix(r.URL.Path, "/battle/session/")
		id, err := uuid.Parse(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid session id")
			return
		}
		sess, ok := s.Sessions.Get(id)
		if !ok {
			writeError(w, http.StatusNotFound, "battle session not found")
			return
		}
		writeJSON(w, http.StatusOK, sess.Snapshot())
	}
}

// GetBattleByLobbyHandler serves GET /battle/lobby/{code}, resolving the
// active session for a lobby without knowing its session id.
func GetBattleByLobbyHandler(s *Server) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		code := strings.TrimPrefix(r.URL.Path, "/battle/lobby/")
		if code == "" {
			writeError(w, http.StatusBadRequest, "missing lobby code")
			return
		}
		sess, ok := s.Sessions.GetByLobby(strings.ToUpper(strings.TrimSpace(code)))
		if !ok {
			writeError(w, http.StatusNotFound, "no battle for this lobby")
			return
		}
		writeJSON(w, http.StatusOK, sess.Snapshot())
	}
}
