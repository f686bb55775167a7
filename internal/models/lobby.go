// internal/models/lobby.go
package models

import "time"

// LobbyStatus is the lifecycle state of a PvP lobby.
type LobbyStatus string

const (
	StatusWaiting    LobbyStatus = "waiting"
	StatusReady      LobbyStatus = "ready"
	StatusInProgress LobbyStatus = "in_progress"
	StatusCompleted  LobbyStatus = "completed"
	StatusAbandoned  LobbyStatus = "abandoned"
)

// Valid reports whether s is a known lobby status.
func (s LobbyStatus) Valid() bool {
	switch s {
	case StatusWaiting, StatusReady, StatusInProgress, StatusCompleted, StatusAbandoned:
		return true
	}
	return false
}

// CanTransitionTo reports whether the status machine allows moving from s to next.
// Statuses only advance waiting -> ready -> in_progress -> completed; any
// non-terminal state may move to abandoned. waiting -> in_progress is allowed
// so a host can skip the explicit "ready" status; the registry still guards
// that transition on guest presence and both ready flags.
func (s LobbyStatus) CanTransitionTo(next LobbyStatus) bool {
	if next == StatusAbandoned {
		return s != StatusCompleted && s != StatusAbandoned
	}
	switch s {
	case StatusWaiting:
		return next == StatusReady || next == StatusInProgress
	case StatusReady:
		return next == StatusWaiting || next == StatusInProgress
	case StatusInProgress:
		return next == StatusCompleted
	}
	return false
}

// Question type identifiers accepted in lobby settings.
const (
	QuestionIdentification = "identification"
	QuestionMultipleChoice = "multiple-choice"
	QuestionTrueFalse      = "true-false"
)

// ValidQuestionType reports whether qt names a supported question type.
func ValidQuestionType(qt string) bool {
	switch qt {
	case QuestionIdentification, QuestionMultipleChoice, QuestionTrueFalse:
		return true
	}
	return false
}

// PlayerProfile identifies a PvP participant. ID is the stable identity
// issued at account creation (a UUID string), not a connection identifier.
type PlayerProfile struct {
	ID             string `json:"id"`
	Username       string `json:"username"`
	Level          int    `json:"level"`
	DisplayPicture string `json:"display_picture,omitempty"`
}

// LobbySettings holds the host-controlled battle configuration shared by
// both players.
type LobbySettings struct {
	QuestionTypes      []string `json:"question_types"`
	StudyMaterialID    string   `json:"study_material_id"`
	StudyMaterialTitle string   `json:"study_material_title"`
	Difficulty         string   `json:"difficulty"`
	TimeLimitSec       int      `json:"time_limit_sec"`
}

// SettingsPatch is a partial settings update. Nil fields are left untouched.
type SettingsPatch struct {
	QuestionTypes      *[]string `json:"question_types,omitempty"`
	StudyMaterialID    *string   `json:"study_material_id,omitempty"`
	StudyMaterialTitle *string   `json:"study_material_title,omitempty"`
	Difficulty         *string   `json:"difficulty,omitempty"`
	TimeLimitSec       *int      `json:"time_limit_sec,omitempty"`
}

// Apply merges the patch into s.
func (p SettingsPatch) Apply(s *LobbySettings) {
	if p.QuestionTypes != nil {
		s.QuestionTypes = append([]string(nil), (*p.QuestionTypes)...)
	}
	if p.StudyMaterialID != nil {
		s.StudyMaterialID = *p.StudyMaterialID
	}
	if p.StudyMaterialTitle != nil {
		s.StudyMaterialTitle = *p.StudyMaterialTitle
	}
	if p.Difficulty != nil {
		s.Difficulty = *p.Difficulty
	}
	if p.TimeLimitSec != nil {
		s.TimeLimitSec = *p.TimeLimitSec
	}
}

// Empty reports whether the patch changes nothing.
func (p SettingsPatch) Empty() bool {
	return p.QuestionTypes == nil && p.StudyMaterialID == nil &&
		p.StudyMaterialTitle == nil && p.Difficulty == nil && p.TimeLimitSec == nil
}

// Lobby is the durable record for a PvP lobby, keyed by its short code.
// Version increments on every write and guards against stale updates.
type Lobby struct {
	Code       string         `json:"lobby_code"`
	Host       *PlayerProfile `json:"host"`
	Guest      *PlayerProfile `json:"guest,omitempty"`
	Settings   LobbySettings  `json:"settings"`
	Status     LobbyStatus    `json:"status"`
	HostReady  bool           `json:"host_ready"`
	GuestReady bool           `json:"guest_ready"`
	Version    int64          `json:"version"`
	CreatedAt  time.Time      `json:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at"`
}

// HasGuest reports whether the guest slot is occupied.
func (l *Lobby) HasGuest() bool {
	return l.Guest != nil
}

// IsHost reports whether playerID is the lobby host.
func (l *Lobby) IsHost(playerID string) bool {
	return l.Host != nil && l.Host.ID == playerID
}

// IsGuest reports whether playerID occupies the guest slot.
func (l *Lobby) IsGuest(playerID string) bool {
	return l.Guest != nil && l.Guest.ID == playerID
}

// Clone returns a deep copy so snapshots handed to callers never alias the
// stored record.
func (l *Lobby) Clone() *Lobby {
	cp := *l
	if l.Host != nil {
		h := *l.Host
		cp.Host = &h
	}
	if l.Guest != nil {
		g := *l.Guest
		cp.Guest = &g
	}
	cp.Settings.QuestionTypes = append([]string(nil), l.Settings.QuestionTypes...)
	return &cp
}
