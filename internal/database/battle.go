package database

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// InsertBattleSession persists a newly started session, including the
// randomized opening turn so a reload never re-randomizes it.
func InsertBattleSession(ctx context.Context, sessionID uuid.UUID, lobbyCode, hostID, guestID, currentTurn string) error {
	q := `
	INSERT INTO battle_sessions (id, lobby_code, host_id, guest_id, current_turn, host_health, guest_health, started_at)
	VALUES ($1, $2, $3, $4, $5, 100, 100, now())
	`
	return pgx.BeginTxFunc(ctx, DB, pgx.TxOptions{}, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, q, sessionID, lobbyCode, hostID, guestID, currentTurn)
		return err
	})
}

// UpdateBattleSession writes the current turn and health values back after
// each resolved answer.
func UpdateBattleSession(ctx context.Context, sessionID uuid.UUID, currentTurn string, hostHealth, guestHealth int) error {
	q := `
	UPDATE battle_sessions
	SET current_turn = $2, host_health = $3, guest_health = $4, updated_at = now()
	WHERE id = $1
	`
	_, err := DB.Exec(ctx, q, sessionID, currentTurn, hostHealth, guestHealth)
	return err
}

// MarkBattleEnded records the winner and end reason.
func MarkBattleEnded(ctx context.Context, sessionID uuid.UUID, winnerID, reason string) error {
	q := `
	UPDATE battle_sessions
	SET winner_id = $2, end_reason = $3, ended_at = now()
	WHERE id = $1
	`
	_, err := DB.Exec(ctx, q, sessionID, winnerID, reason)
	return err
}

// BattleActionRow is one archived action, batch-inserted by the historian.
type BattleActionRow struct {
	SessionID   uuid.UUID
	ActionIndex int
	ActorID     string
	ActionType  string
	Payload     map[string]interface{}
	Timestamp   int64
}

// InsertBattleActions batch-inserts archived actions in one transaction.
func InsertBattleActions(ctx context.Context, rows []BattleActionRow) error {
	if len(rows) == 0 {
		return nil
	}
	q := `
	INSERT INTO battle_actions (session_id, action_index, actor_id, action_type, payload, ts)
	VALUES ($1, $2, $3, $4, $5, to_timestamp($6 / 1000.0))
	ON CONFLICT DO NOTHING
	`
	return pgx.BeginTxFunc(ctx, DB, pgx.TxOptions{}, func(tx pgx.Tx) error {
		for _, r := range rows {
			if _, err := tx.Exec(ctx, q, r.SessionID, r.ActionIndex, r.ActorID, r.ActionType, r.Payload, r.Timestamp); err != nil {
				return err
			}
		}
		return nil
	})
}

// MarkStaleSessionsAbandoned flags sessions with no activity for the given
// number of seconds and no recorded end. Returns the affected count.
func MarkStaleSessionsAbandoned(ctx context.Context, inactivitySec int) (int64, error) {
	q := `
	UPDATE battle_sessions
	SET end_reason = 'abandoned', ended_at = now()
	WHERE ended_at IS NULL
	  AND coalesce(updated_at, started_at) < now() - make_interval(secs => $1)
	`
	tag, err := DB.Exec(ctx, q, inactivitySec)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
