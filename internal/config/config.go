// internal/config/config.go
package config

import (
	"os"
	"strconv"
	"time"

	"golang.org/x/time/rate"
)

// Config holds all service configuration.
type Config struct {
	Port string

	// DisconnectWindow is how long a battle waits for a reconnect before
	// awarding the remaining player a win.
	DisconnectWindow time.Duration

	// SyncInterval is the cadence of the lobby_state push sync to rooms
	// (the server-side twin of the client's polling fallback).
	SyncInterval time.Duration

	// RateLimit / RateBurst apply per IP to the HTTP surface.
	RateLimit rate.Limit
	RateBurst int

	LogLevel string
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Port:             "8080",
		DisconnectWindow: 45 * time.Second,
		SyncInterval:     5 * time.Second,
		RateLimit:        20,
		RateBurst:        40,
		LogLevel:         "info",
	}
}

// Load reads configuration from the environment on top of the defaults.
func Load() *Config {
	cfg := Default()
	if port := os.Getenv("PORT"); port != "" {
		cfg.Port = port
	}
	if sec := getEnvInt("BATTLE_DISCONNECT_WINDOW_SEC", 0); sec > 0 {
		cfg.DisconnectWindow = time.Duration(sec) * time.Second
	}
	if sec := getEnvInt("LOBBY_SYNC_INTERVAL_SEC", 0); sec > 0 {
		cfg.SyncInterval = time.Duration(sec) * time.Second
	}
	if rps := getEnvInt("RATE_LIMIT_RPS", 0); rps > 0 {
		cfg.RateLimit = rate.Limit(rps)
	}
	if burst := getEnvInt("RATE_LIMIT_BURST", 0); burst > 0 {
		cfg.RateBurst = burst
	}
	if lvl := os.Getenv("LOG_LEVEL"); lvl != "" {
		cfg.LogLevel = lvl
	}
	return cfg
}

// getEnvInt parses an environment variable as an integer, else def.
func getEnvInt(key string, def int) int {
	s := os.Getenv(key)
	if s == "" {
		return def
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return v
}
