// internal/handlers/ws.go
package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/coder/websocket"

	"github.com/duel-learn/pvp-service/internal/battle"
	"github.com/duel-learn/pvp-service/internal/lobby"
	"github.com/duel-learn/pvp-service/internal/models"
	"github.com/duel-learn/pvp-service/internal/presence"
	"github.com/duel-learn/pvp-service/internal/realtime"
)

// WSHandler upgrades the single multiplexed client socket. Lobby membership,
// role, presence, and battle relays all flow over this one connection; the
// client speaks the "duel" subprotocol and is identified by its auth token
// (or a fresh guest account when the token is missing or stale).
func WSHandler(s *Server) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		remoteAddr := r.RemoteAddr

		c, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			Subprotocols:   []string{"duel"},
			OriginPatterns: []string{"*"}, // Adjust in production
		})
		if err != nil {
			s.Log.Warnf("websocket accept error: %v", err)
			return
		}
		defer c.Close(websocket.StatusInternalError, "handler finished")

		if c.Subprotocol() != "duel" {
			c.Close(BadSubprotocolError, "client must speak the duel subprotocol")
			return
		}

		user, err := EnsureGuestUser(r.Context(), s.Log, r)
		if err != nil {
			s.Log.Warnf("socket auth failed for %s: %v", remoteAddr, err)
			c.Close(InvalidAuthTokenError, "authentication failed")
			return
		}

		ctx, cancel := context.WithCancel(r.Context())
		conn := realtime.NewConn(user.ID.String(), user.Username, cancel, s.Log)
		s.Hub.Register(conn)
		s.Log.Infof("user %s (%s) connected from %s", conn.UserID, conn.Username, remoteAddr)

		conn.Write(map[string]interface{}{
			"type":     "connected",
			"user_id":  conn.UserID,
			"username": conn.Username,
		})

		go writePump(ctx, c, conn, s)

		readPump(ctx, c, conn, s)

		// Cleanup after readPump exits. The socket dropping is NOT a leave:
		// the registry row survives so a network blip never costs the lobby,
		// and an in-progress battle only arms its reconnect window. If the
		// user still has another tab in the room, the player is not gone and
		// no window is armed.
		cancel()
		code := s.Hub.Unregister(conn)
		if code != "" && !s.Hub.UserInRoom(conn.UserID, code) {
			if sess, ok := s.Sessions.GetByLobby(code); ok && !sess.Ended() {
				sess.HandleDisconnect(conn.UserID)
			}
		}
		s.Log.Infof("user %s disconnected", conn.UserID)
	}
}

// readPump decodes inbound frames and dispatches them until the socket
// closes or the context is cancelled.
func readPump(ctx context.Context, c *websocket.Conn, conn *realtime.Conn, s *Server) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		typ, msg, err := c.Read(ctx)
		if err != nil {
			closeStatus := websocket.CloseStatus(err)
			if closeStatus == websocket.StatusNormalClosure || closeStatus == websocket.StatusGoingAway {
				s.Log.Infof("socket closed normally for user %s", conn.UserID)
			} else if !strings.Contains(err.Error(), "context canceled") {
				s.Log.Warnf("socket read error for user %s: %v (close status %d)", conn.UserID, err, closeStatus)
			}
			return
		}
		if typ != websocket.MessageText {
			s.Log.Warnf("ignoring non-text frame type %d from user %s", typ, conn.UserID)
			continue
		}

		var packet map[string]interface{}
		if err := json.Unmarshal(msg, &packet); err != nil {
			s.Log.Warnf("invalid json from user %s: %v", conn.UserID, err)
			conn.WriteError("", "invalid JSON format")
			continue
		}
		s.handleSocketMessage(ctx, conn, packet)
	}
}

// writePump drains the connection's outbound queue and keeps the socket
// alive with periodic pings.
func writePump(ctx context.Context, c *websocket.Conn, conn *realtime.Conn, s *Server) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	defer func() {
		_ = c.Close(websocket.StatusGoingAway, "write pump stopping")
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-conn.Out:
			if !ok {
				return
			}
			data, err := json.Marshal(msg)
			if err != nil {
				s.Log.Warnf("failed to marshal outgoing msg for user %s: %v", conn.UserID, err)
				continue
			}
			writeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			err = c.Write(writeCtx, websocket.MessageText, data)
			cancel()
			if err != nil {
				s.Log.Warnf("socket write failed for user %s: %v", conn.UserID, err)
				return
			}
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
			err := c.Ping(pingCtx)
			cancel()
			if err != nil {
				s.Log.Warnf("ping failed for user %s, assuming disconnect: %v", conn.UserID, err)
				return
			}
		}
	}
}

// handleSocketMessage interprets the "type" field. Every mutating action
// runs against the registry first and fans out only after the durable write
// succeeds; failures go back to the sender as an explicit error event.
func (s *Server) handleSocketMessage(ctx context.Context, conn *realtime.Conn, packet map[string]interface{}) {
	action, _ := packet["type"].(string)

	switch action {
	case "join_lobby":
		s.handleJoinLobby(ctx, conn, packet)

	case "leave_lobby":
		s.handleLeaveLobby(ctx, conn)

	case "update_question_types":
		patch := models.SettingsPatch{}
		if raw, ok := packet["question_types"].([]interface{}); ok {
			types := make([]string, 0, len(raw))
			for _, v := range raw {
				if qt, ok := v.(string); ok {
					types = append(types, qt)
				}
			}
			patch.QuestionTypes = &types
		}
		s.applySettingsPatch(ctx, conn, action, patch, "question_types_updated")

	case "update_study_material":
		patch := models.SettingsPatch{}
		if v, ok := packet["study_material_id"].(string); ok {
			patch.StudyMaterialID = &v
		}
		if v, ok := packet["study_material_title"].(string); ok {
			patch.StudyMaterialTitle = &v
		}
		s.applySettingsPatch(ctx, conn, action, patch, "study_material_updated")

	case "update_difficulty":
		patch := models.SettingsPatch{}
		if v, ok := packet["difficulty"].(string); ok {
			patch.Difficulty = &v
		}
		if v, ok := packet["time_limit_sec"].(float64); ok {
			sec := int(v)
			patch.TimeLimitSec = &sec
		}
		s.applySettingsPatch(ctx, conn, action, patch, "difficulty_updated")

	case "update_player_ready":
		code, _ := conn.Lobby()
		if code == "" {
			conn.WriteError(action, "not in a lobby")
			return
		}
		ready, _ := packet["is_ready"].(bool)
		lob, err := s.Registry.SetReady(ctx, code, conn.UserID, ready)
		if err != nil {
			conn.WriteError(action, err.Error())
			return
		}
		s.Hub.BroadcastRoom(code, map[string]interface{}{
			"type":       "player_ready_changed",
			"lobby_code": code,
			"player_id":  conn.UserID,
			"is_ready":   ready,
			"lobby":      lob,
		}, nil)

	case "update_lobby_status":
		code, _ := conn.Lobby()
		if code == "" {
			conn.WriteError(action, "not in a lobby")
			return
		}
		status, _ := packet["status"].(string)
		lob, err := s.Registry.SetStatus(ctx, code, models.LobbyStatus(status))
		if err != nil {
			conn.WriteError(action, err.Error())
			return
		}
		s.Hub.BroadcastRoom(code, map[string]interface{}{
			"type":       "lobby_status_updated",
			"lobby_code": code,
			"status":     string(lob.Status),
			"lobby":      lob,
		}, nil)
		if lob.Status == models.StatusInProgress {
			if _, exists := s.Sessions.GetByLobby(code); !exists {
				s.StartBattle(ctx, lob)
			}
		}

	case "battle_invitation":
		receiverID, _ := packet["receiver_id"].(string)
		lobbyCode, _ := packet["lobby_code"].(string)
		if receiverID == "" {
			conn.WriteError(action, "missing receiver_id")
			return
		}
		delivered := s.Hub.SendToUser(receiverID, map[string]interface{}{
			"type":            "battle_invitation",
			"sender_id":       conn.UserID,
			"sender_username": conn.Username,
			"lobby_code":      lobby.NormalizeCode(lobbyCode),
		})
		if !delivered {
			conn.WriteError(action, "player is offline")
		}

	case "accept_battle_invitation", "decline_battle_invitation":
		senderID, _ := packet["sender_id"].(string)
		lobbyCode, _ := packet["lobby_code"].(string)
		if senderID == "" {
			conn.WriteError(action, "missing sender_id")
			return
		}
		reply := "battle_invitation_accepted"
		if action == "decline_battle_invitation" {
			reply = "battle_invitation_declined"
		}
		s.Hub.SendToUser(senderID, map[string]interface{}{
			"type":              reply,
			"receiver_id":       conn.UserID,
			"receiver_username": conn.Username,
			"lobby_code":        lobby.NormalizeCode(lobbyCode),
		})

	case "request_online_status":
		ids := make([]string, 0)
		if raw, ok := packet["player_ids"].([]interface{}); ok {
			for _, v := range raw {
				if id, ok := v.(string); ok {
					ids = append(ids, id)
				}
			}
		}
		conn.Write(map[string]interface{}{
			"type":     "online_status_response",
			"statuses": s.Hub.Presence.Query(ids),
		})

	case "request_game_status":
		playerID, _ := packet["player_id"].(string)
		st := s.Hub.Presence.Get(playerID)
		conn.Write(map[string]interface{}{
			"type":      "game_status_response",
			"player_id": playerID,
			"in_game":   st.InGame,
			"game_mode": string(st.GameMode),
		})

	case "request_lobby_status":
		code, _ := packet["lobby_code"].(string)
		lob, err := s.Registry.Get(ctx, code)
		if err != nil {
			conn.WriteError(action, err.Error())
			return
		}
		conn.Write(map[string]interface{}{
			"type":       "lobby_status_response",
			"lobby_code": lob.Code,
			"lobby":      lob,
		})

	case "flashcard_update":
		sess, ok := s.activeSession(conn)
		if !ok {
			conn.WriteError(action, "no active battle")
			return
		}
		onCard, _ := packet["on_flashcard"].(bool)
		questionText, _ := packet["question_text"].(string)
		if err := sess.SetFlashcard(conn.UserID, onCard, questionText); err != nil {
			conn.WriteError(action, err.Error())
		}

	case "submit_answer":
		sess, ok := s.activeSession(conn)
		if !ok {
			conn.WriteError(action, "no active battle")
			return
		}
		correct, _ := packet["correct"].(bool)
		damage := 0
		if v, ok := packet["damage"].(float64); ok {
			damage = int(v)
		}
		if err := sess.SubmitAnswer(conn.UserID, correct, damage); err != nil {
			conn.WriteError(action, err.Error())
		}

	default:
		s.Log.Warnf("unknown socket action %q from user %s", action, conn.UserID)
		conn.WriteError(action, fmt.Sprintf("unknown action type: %s", action))
	}
}

// handleJoinLobby runs role resolution BEFORE room membership: the server
// decides host/guest from the registry row, never from whatever the client
// last cached. A reconnect during a live battle clears the grace timer.
func (s *Server) handleJoinLobby(ctx context.Context, conn *realtime.Conn, packet map[string]interface{}) {
	code, _ := packet["lobby_code"].(string)
	if code == "" {
		conn.WriteError("join_lobby", "missing lobby_code")
		return
	}

	profile := models.PlayerProfile{
		ID:       conn.UserID,
		Username: conn.Username,
		Level:    1,
	}
	if v, ok := packet["player_username"].(string); ok && v != "" {
		profile.Username = v
	}
	if v, ok := packet["player_level"].(float64); ok {
		profile.Level = int(v)
	}
	if v, ok := packet["player_picture"].(string); ok {
		profile.DisplayPicture = v
	}

	role, lob, err := s.Registry.ResolveRole(ctx, code, profile)
	if err != nil {
		conn.WriteError("join_lobby", err.Error())
		return
	}

	if s.Hub.JoinRoom(conn, lob.Code, role) {
		s.Hub.BroadcastRoom(lob.Code, map[string]interface{}{
			"type":       "player_joined",
			"lobby_code": lob.Code,
			"player_id":  conn.UserID,
			"role":       string(role),
			"lobby":      lob,
		}, conn)
	}
	conn.Write(map[string]interface{}{
		"type":       "lobby_joined",
		"lobby_code": lob.Code,
		"role":       string(role),
		"lobby":      lob,
	})

	if sess, ok := s.Sessions.GetByLobby(lob.Code); ok && !sess.Ended() {
		sess.HandleReconnect(conn.UserID)
		conn.Write(map[string]interface{}{
			"type":    "battle_state",
			"session": sess.Snapshot(),
		})
	}
	if lob.Status == models.StatusInProgress {
		s.Hub.Presence.SetGameMode(conn.UserID, presence.ModePvPBattle)
	}
}

// handleLeaveLobby is the explicit, intentional exit. Unlike a socket drop
// it mutates the registry; mid-battle it is an immediate forfeit.
func (s *Server) handleLeaveLobby(ctx context.Context, conn *realtime.Conn) {
	code, _ := conn.Lobby()
	if code == "" {
		conn.WriteError("leave_lobby", "not in a lobby")
		return
	}

	lob, outcome, err := s.Registry.Leave(ctx, code, conn.UserID)
	if err != nil {
		conn.WriteError("leave_lobby", err.Error())
		return
	}
	s.Hub.LeaveRoom(conn, code)
	s.Hub.BroadcastRoom(code, map[string]interface{}{
		"type":       "player_left",
		"lobby_code": code,
		"player_id":  conn.UserID,
		"outcome":    string(outcome),
		"lobby":      lob,
	}, conn)
	if outcome == lobby.LeaveAbandoned {
		s.Hub.BroadcastRoom(code, map[string]interface{}{
			"type":       "lobby_closed",
			"lobby_code": code,
		}, conn)
	}

	if sess, ok := s.Sessions.GetByLobby(code); ok && !sess.Ended() {
		if err := sess.Forfeit(conn.UserID); err != nil {
			s.Log.Warnf("lobby %s: forfeit on socket leave failed: %v", code, err)
		}
	}
	conn.Write(map[string]interface{}{
		"type":       "lobby_left",
		"lobby_code": code,
		"outcome":    string(outcome),
	})
}

// applySettingsPatch is the shared path for host settings relays: durable
// write first (which also voids both ready flags), broadcast second.
func (s *Server) applySettingsPatch(ctx context.Context, conn *realtime.Conn, action string, patch models.SettingsPatch, event string) {
	code, _ := conn.Lobby()
	if code == "" {
		conn.WriteError(action, "not in a lobby")
		return
	}
	lob, err := s.Registry.UpdateSettings(ctx, code, conn.UserID, patch)
	if err != nil {
		conn.WriteError(action, err.Error())
		return
	}
	s.Hub.BroadcastRoom(code, map[string]interface{}{
		"type":       event,
		"lobby_code": code,
		"settings":   lob.Settings,
		"lobby":      lob,
	}, nil)
}

// activeSession resolves the live battle for the connection's current room.
func (s *Server) activeSession(conn *realtime.Conn) (*battle.Session, bool) {
	code, _ := conn.Lobby()
	if code == "" {
		return nil, false
	}
	sess, ok := s.Sessions.GetByLobby(code)
	if !ok || sess.Ended() {
		return nil, false
	}
	return sess, true
}
