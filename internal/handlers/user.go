// internal/handlers/user.go
package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/duel-learn/pvp-service/internal/auth"
	"github.com/duel-learn/pvp-service/internal/database"
	"github.com/duel-learn/pvp-service/internal/models"
)

type credentialsRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Username string `json:"username"`
}

// CreateUserHandler registers a permanent account and issues an auth cookie.
func CreateUserHandler(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad signup payload")
		return
	}
	if req.Email == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "email and password are required")
		return
	}
	if req.Username == "" {
		req.Username = req.Email
	}

	user := &models.User{
		Email:    req.Email,
		Password: req.Password,
		Username: req.Username,
		Level:    1,
	}
	if err := database.CreateUser(r.Context(), user); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to create user")
		return
	}

	token, err := auth.CreateJWT(user.ID.String())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to issue token")
		return
	}
	setAuthCookie(w, token)
	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"user_id": user.ID.String(),
		"token":   token,
	})
}

// LoginHandler verifies credentials and rotates the auth cookie.
func LoginHandler(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad login payload")
		return
	}

	user, err := database.GetUserByEmail(r.Context(), req.Email)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}
	match, err := auth.ComparePasswordAndHash(req.Password, user.Password)
	if err != nil || !match {
		writeError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}

	token, err := auth.CreateJWT(user.ID.String())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to issue token")
		return
	}
	setAuthCookie(w, token)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"user_id": user.ID.String(),
		"token":   token,
	})
}

func setAuthCookie(w http.ResponseWriter, token string) {
	http.SetCookie(w, &http.Cookie{
		Name:     "auth_token",
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}

// EnsureGuestUser resolves the caller's identity from the auth_token cookie
// or a token query parameter. A missing or invalid token yields a fresh
// ephemeral guest account, so the socket handshake never fails on auth.
func EnsureGuestUser(ctx context.Context, log *logrus.Logger, r *http.Request) (*models.User, error) {
	token := extractCookieToken(r.Header.Get("Cookie"), "auth_token")
	if token == "" {
		token = r.URL.Query().Get("token")
	}

	if token != "" {
		if sub, err := auth.AuthenticateJWT(token); err == nil {
			id, err := uuid.Parse(sub)
			if err == nil {
				if database.DB == nil {
					return &models.User{ID: id, Username: "Guest", Level: 1, IsEphemeral: true}, nil
				}
				user, err := database.GetUserByID(ctx, id)
				if err == nil {
					return user, nil
				}
				log.Warnf("token subject %s has no account, issuing guest", sub)
			}
		}
	}

	id, err := uuid.NewRandom()
	if err != nil {
		return nil, fmt.Errorf("failed to generate guest id: %w", err)
	}
	guest := &models.User{
		ID:          id,
		Username:    fmt.Sprintf("Guest-%s", id.String()[:8]),
		Level:       1,
		IsEphemeral: true,
	}
	if database.DB != nil {
		if err := database.CreateUser(ctx, guest); err != nil {
			return nil, fmt.Errorf("failed to create guest user: %w", err)
		}
	}
	return guest, nil
}
