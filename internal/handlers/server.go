// internal/handlers/server.go
package handlers

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/duel-learn/pvp-service/internal/battle"
	"github.com/duel-learn/pvp-service/internal/cache"
	"github.com/duel-learn/pvp-service/internal/config"
	"github.com/duel-learn/pvp-service/internal/database"
	"github.com/duel-learn/pvp-service/internal/lobby"
	"github.com/duel-learn/pvp-service/internal/models"
	"github.com/duel-learn/pvp-service/internal/realtime"
)

// Server wires the lobby registry, the real-time hub, and active battle
// sessions together for the HTTP and WebSocket handlers.
type Server struct {
	Registry *lobby.Registry
	Hub      *realtime.Hub
	Sessions *battle.SessionStore
	Config   *config.Config
	Log      *logrus.Logger
}

// NewServer builds a Server. A nil config or logger falls back to defaults.
func NewServer(reg *lobby.Registry, hub *realtime.Hub, cfg *config.Config, log *logrus.Logger) *Server {
	if cfg == nil {
		cfg = config.Default()
	}
	if log == nil {
		log = logrus.New()
	}
	return &Server{
		Registry: reg,
		Hub:      hub,
		Sessions: battle.NewSessionStore(),
		Config:   cfg,
		Log:      log,
	}
}

// StartBattle spins up the turn coordinator for a lobby that just moved to
// in_progress. The opening turn is randomized exactly once here and
// persisted before any client renders the battle, so reloads cannot
// re-randomize it.
func (s *Server) StartBattle(ctx context.Context, lob *models.Lobby) *battle.Session {
	sess := battle.NewSession(lob.Code, lob.Host.ID, lob.Guest.ID, s.Config.DisconnectWindow, s.Log)

	actionIndex := 0
	sess.SetCallbacks(s.onBattleEnd, func(bs *battle.Session, actionType string, payload map[string]interface{}) {
		actionIndex++
		s.fanOutBattleAction(bs, actionType, payload, actionIndex)
	})
	s.Sessions.Add(sess)

	if database.DB != nil {
		if err := database.InsertBattleSession(ctx, sess.ID, lob.Code, lob.Host.ID, lob.Guest.ID, sess.CurrentTurn()); err != nil {
			s.Log.Warnf("battle %s: failed to persist session: %v", sess.ID, err)
		}
	}

	s.Hub.Presence.SetGameMode(lob.Host.ID, "pvp-battle")
	s.Hub.Presence.SetGameMode(lob.Guest.ID, "pvp-battle")

	snap := sess.Snapshot()
	s.Hub.BroadcastRoom(lob.Code, map[string]interface{}{
		"type":    "battle_started",
		"session": snap,
	}, nil)
	return sess
}

// fanOutBattleAction relays a battle state change to the lobby room,
// archives it on the Redis queue, and mirrors turn/health into Postgres.
// Runs under the session lock; everything slow happens asynchronously.
func (s *Server) fanOutBattleAction(bs *battle.Session, actionType string, payload map[string]interface{}, actionIndex int) {
	msg := map[string]interface{}{
		"type":       actionType,
		"session_id": bs.ID.String(),
		"lobby_code": bs.LobbyCode,
	}
	for k, v := range payload {
		msg[k] = v
	}
	s.Hub.BroadcastRoom(bs.LobbyCode, msg, nil)

	actorID, _ := payload["player_id"].(string)
	record := cache.BattleActionRecord{
		SessionID:   bs.ID,
		ActionIndex: actionIndex,
		ActorID:     actorID,
		ActionType:  actionType,
		Payload:     payload,
		Timestamp:   time.Now().UnixMilli(),
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := cache.PublishBattleAction(ctx, record); err != nil {
			s.Log.Warnf("battle %s: failed to enqueue action: %v", bs.ID, err)
		}
		if database.DB == nil {
			return
		}
		switch actionType {
		case "answer_submitted":
			turn, _ := payload["next_turn"].(string)
			hostHP, _ := payload["host_health"].(int)
			guestHP, _ := payload["guest_health"].(int)
			if err := database.UpdateBattleSession(ctx, bs.ID, turn, hostHP, guestHP); err != nil {
				s.Log.Warnf("battle %s: failed to persist turn: %v", bs.ID, err)
			}
		case "battle_ended":
			winner, _ := payload["winner_id"].(string)
			reason, _ := payload["reason"].(string)
			if err := database.MarkBattleEnded(ctx, bs.ID, winner, reason); err != nil {
				s.Log.Warnf("battle %s: failed to persist end: %v", bs.ID, err)
			}
		}
	}()
}

// onBattleEnd reconciles the durable lobby status once a session finishes:
// completed for a normal end, abandoned for forfeits and reconnect
// timeouts. Both players drop out of in-game presence.
func (s *Server) onBattleEnd(bs *battle.Session, winnerID, reason string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	target := models.StatusCompleted
	if reason == "forfeit" || reason == "reconnect_timeout" {
		target = models.StatusAbandoned
	}
	if _, err := s.Registry.SetStatus(ctx, bs.LobbyCode, target); err != nil {
		// Leave() may have already abandoned the lobby; anything else is worth a log.
		s.Log.Debugf("battle %s: lobby %s status reconcile: %v", bs.ID, bs.LobbyCode, err)
	}
	s.Hub.Presence.SetGameMode(bs.HostID, "")
	s.Hub.Presence.SetGameMode(bs.GuestID, "")
}
