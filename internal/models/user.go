package models

import "github.com/google/uuid"

// User is an account row. Ephemeral users are created on the fly for
// unauthenticated WebSocket connects and can later be claimed.
type User struct {
	ID       uuid.UUID `json:"id"`
	Email    string    `json:"email"`
	Password string    `json:"password,omitempty"`
	Username string    `json:"username"`

	Level          int    `json:"level"`
	DisplayPicture string `json:"display_picture"`

	IsEphemeral bool `json:"is_ephemeral"`
}

// Profile converts the account row into the PvP participant shape embedded
// in lobby snapshots.
func (u *User) Profile() PlayerProfile {
	return PlayerProfile{
		ID:             u.ID.String(),
		Username:       u.Username,
		Level:          u.Level,
		DisplayPicture: u.DisplayPicture,
	}
}
