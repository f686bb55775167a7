// cmd/server/main.go
package main

import (
	"context"
	"log"
	"net/http"
	"os"

	_ "github.com/joho/godotenv/autoload"
	"github.com/sirupsen/logrus"

	"github.com/duel-learn/pvp-service/internal/auth"
	"github.com/duel-learn/pvp-service/internal/cache"
	"github.com/duel-learn/pvp-service/internal/config"
	"github.com/duel-learn/pvp-service/internal/database"
	"github.com/duel-learn/pvp-service/internal/handlers"
	"github.com/duel-learn/pvp-service/internal/lobby"
	"github.com/duel-learn/pvp-service/internal/middleware"
	"github.com/duel-learn/pvp-service/internal/realtime"
)

func main() {
	cfg := config.Load()

	logger := logrus.New()
	if lvl, err := logrus.ParseLevel(cfg.LogLevel); err == nil {
		logger.SetLevel(lvl)
	}

	auth.Init()

	// Postgres is the durable lobby store; without PG_HOST the service runs
	// on the in-memory store (local development, tests).
	var store lobby.Store
	if os.Getenv("PG_HOST") != "" {
		database.ConnectDB()
		store = database.NewLobbyStore()
	} else {
		logger.Warn("PG_HOST not set, using in-memory lobby store")
		store = lobby.NewMemoryStore()
	}

	// Redis archival is best-effort; battles run fine without it.
	if err := cache.ConnectRedis(); err != nil {
		logger.Warnf("redis unavailable, battle action archival disabled: %v", err)
	}

	registry := lobby.NewRegistry(store, logger)
	hub := realtime.NewHub(logger)
	srv := handlers.NewServer(registry, hub, cfg, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.RunSync(ctx, cfg.SyncInterval, func(code string) (interface{}, bool) {
		lob, err := registry.Get(ctx, code)
		if err != nil {
			return nil, false
		}
		return lob, true
	})

	limiter := middleware.NewIPRateLimiter(cfg.RateLimit, cfg.RateBurst)
	wrap := func(h http.Handler) http.Handler {
		return middleware.LogMiddleware(logger)(middleware.RateLimitMiddleware(limiter)(h))
	}

	mux := http.NewServeMux()

	// user endpoints
	mux.Handle("/user/create", wrap(http.HandlerFunc(handlers.CreateUserHandler)))
	mux.Handle("/user/login", wrap(http.HandlerFunc(handlers.LoginHandler)))

	// lobby endpoints
	mux.Handle("/lobby/create", wrap(handlers.CreateLobbyHandler(srv)))
	mux.Handle("/lobby/join", wrap(handlers.JoinLobbyHandler(srv)))
	mux.Handle("/lobby/settings", wrap(handlers.UpdateSettingsHandler(srv)))
	mux.Handle("/lobby/ready", wrap(handlers.UpdateReadyHandler(srv)))
	mux.Handle("/lobby/status", wrap(handlers.UpdateStatusHandler(srv)))
	mux.Handle("/lobby/leave", wrap(handlers.LeaveLobbyHandler(srv)))
	mux.Handle("/lobby/validate/", wrap(handlers.ValidateLobbyHandler(srv)))
	mux.Handle("/lobby/", wrap(handlers.GetLobbyHandler(srv)))

	// battle snapshots
	mux.Handle("/battle/session/", wrap(handlers.GetBattleSessionHandler(srv)))
	mux.Handle("/battle/lobby/", wrap(handlers.GetBattleByLobbyHandler(srv)))

	// the multiplexed realtime socket
	mux.Handle("/ws", middleware.LogMiddleware(logger)(handlers.WSHandler(srv)))

	addr := ":" + cfg.Port
	logger.Infof("Running on %s", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Fatalf("server exited: %v", err)
	}
}
