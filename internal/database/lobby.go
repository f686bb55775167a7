package database

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/duel-learn/pvp-service/internal/lobby"
	"github.com/duel-learn/pvp-service/internal/models"
)

// LobbyStore is the Postgres-backed lobby.Store. Rows live in the lobbies
// table keyed by code; version is bumped on every write and guards updates.
type LobbyStore struct{}

// NewLobbyStore returns a store over the global pool.
func NewLobbyStore() *LobbyStore { return &LobbyStore{} }

const uniqueViolation = "23505"

// Insert creates a new lobby row, translating code collisions into
// lobby.ErrCodeTaken so the registry can retry generation.
func (s *LobbyStore) Insert(ctx context.Context, l *models.Lobby) error {
	q := `
	INSERT INTO lobbies (
		code, host_id, host_username, host_level, host_picture,
		question_types, study_material_id, study_material_title,
		difficulty, time_limit_sec,
		status, host_ready, guest_ready, version,
		created_at, updated_at
	)
	VALUES ($1, $2, $3, $4, $5,
	        $6, $7, $8, $9, $10,
	        $11, false, false, 1,
	        now(), now())
	RETURNING version, created_at, updated_at
	`
	err := DB.QueryRow(ctx, q,
		l.Code, l.Host.ID, l.Host.Username, l.Host.Level, l.Host.DisplayPicture,
		l.Settings.QuestionTypes, l.Settings.StudyMaterialID, l.Settings.StudyMaterialTitle,
		l.Settings.Difficulty, l.Settings.TimeLimitSec,
		string(l.Status),
	).Scan(&l.Version, &l.CreatedAt, &l.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return lobby.ErrCodeTaken
		}
		return err
	}
	return nil
}

// Get fetches a lobby row by code.
func (s *LobbyStore) Get(ctx context.Context, code string) (*models.Lobby, error) {
	q := `
	SELECT code, host_id, host_username, host_level, host_picture,
	       guest_id, guest_username, guest_level, guest_picture,
	       question_types, study_material_id, study_material_title,
	       difficulty, time_limit_sec,
	       status, host_ready, guest_ready, version,
	       created_at, updated_at
	FROM lobbies
	WHERE code = $1
	`
	var (
		l         models.Lobby
		host      models.PlayerProfile
		guestID   *string
		guestName *string
		guestLvl  *int
		guestPic  *string
		status    string
	)
	err := DB.QueryRow(ctx, q, code).Scan(
		&l.Code, &host.ID, &host.Username, &host.Level, &host.DisplayPicture,
		&guestID, &guestName, &guestLvl, &guestPic,
		&l.Settings.QuestionTypes, &l.Settings.StudyMaterialID, &l.Settings.StudyMaterialTitle,
		&l.Settings.Difficulty, &l.Settings.TimeLimitSec,
		&status, &l.HostReady, &l.GuestReady, &l.Version,
		&l.CreatedAt, &l.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, lobby.ErrNotFound
		}
		return nil, err
	}
	l.Host = &host
	if guestID != nil {
		guest := models.PlayerProfile{ID: *guestID}
		if guestName != nil {
			guest.Username = *guestName
		}
		if guestLvl != nil {
			guest.Level = *guestLvl
		}
		if guestPic != nil {
			guest.DisplayPicture = *guestPic
		}
		l.Guest = &guest
	}
	l.Status = models.LobbyStatus(status)
	return &l, nil
}

// Update writes the row back, guarded by the version the registry read.
// Zero affected rows means either the lobby vanished or a concurrent writer
// advanced the version first.
func (s *LobbyStore) Update(ctx context.Context, l *models.Lobby) error {
	q := `
	UPDATE lobbies SET
		guest_id = $3, guest_username = $4, guest_level = $5, guest_picture = $6,
		question_types = $7, study_material_id = $8, study_material_title = $9,
		difficulty = $10, time_limit_sec = $11,
		status = $12, host_ready = $13, guest_ready = $14,
		version = version + 1, updated_at = now()
	WHERE code = $1 AND version = $2
	RETURNING version, updated_at
	`
	var (
		guestID, guestName, guestPic *string
		guestLvl                     *int
	)
	if l.Guest != nil {
		guestID = &l.Guest.ID
		guestName = &l.Guest.Username
		guestLvl = &l.Guest.Level
		guestPic = &l.Guest.DisplayPicture
	}
	err := DB.QueryRow(ctx, q,
		l.Code, l.Version,
		guestID, guestName, guestLvl, guestPic,
		l.Settings.QuestionTypes, l.Settings.StudyMaterialID, l.Settings.StudyMaterialTitle,
		l.Settings.Difficulty, l.Settings.TimeLimitSec,
		string(l.Status), l.HostReady, l.GuestReady,
	).Scan(&l.Version, &l.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			if _, getErr := s.Get(ctx, l.Code); errors.Is(getErr, lobby.ErrNotFound) {
				return lobby.ErrNotFound
			}
			return lobby.ErrStaleWrite
		}
		return err
	}
	return nil
}

// Delete removes a lobby row.
func (s *LobbyStore) Delete(ctx context.Context, code string) error {
	tag, err := DB.Exec(ctx, `DELETE FROM lobbies WHERE code = $1`, code)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return lobby.ErrNotFound
	}
	return nil
}
