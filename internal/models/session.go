package models

import (
	"time"

	"github.com/google/uuid"
)

// SessionStatus is the lifecycle state of a polling session.
type SessionStatus string

const (
	StatusDraft  SessionStatus = "draft"
	StatusActive SessionStatus = "active"
	StatusEnded  SessionStatus = "ended"
)

// Valid reports whether s is a known status value.
func (s SessionStatus) Valid() bool {
	switch s {
	case StatusDraft, StatusActive, StatusEnded:
		return true
	}
	return false
}

// ValidTransition reports whether a status change is legal:
// draft->active (start), active->ended (end), ended->active (reopen).
func ValidTransition(from, to SessionStatus) bool {
	switch from {
	case StatusDraft:
		return to == StatusActive
	case StatusActive:
		return to == StatusEnded
	case StatusEnded:
		return to == StatusActive
	}
	return false
}

// Session represents one live-polling event: a join code, an owner,
// a status, and an ordered set of questions.
type Session struct {
	ID            uuid.UUID     `json:"id"`
	Code          string        `json:"code"`
	Title         string        `json:"title"`
	PresenterID   string        `json:"presenter_id"`
	PresenterName string        `json:"presenter_name"`
	Status        SessionStatus `json:"status"`

	// ActiveQuestionID and QuestionStartedAt are set and cleared together:
	// the start timestamp exists iff a question is live.
	ActiveQuestionID  *uuid.UUID `json:"active_question_id,omitempty"`
	QuestionStartedAt *time.Time `json:"question_started_at,omitempty"`

	MaxParticipants *int    `json:"max_participants,omitempty"`
	BrandColor      *string `json:"brand_color,omitempty"`
	BrandLogoKey    *string `json:"brand_logo_key,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// SessionStats are the per-session dependent-row counts. After a delete
// cascade converges the session itself is gone; after a reset only
// QuestionCount stays nonzero.
type SessionStats struct {
	QuestionCount    int `json:"question_count"`
	ParticipantCount int `json:"participant_count"`
	ResponseCount    int `json:"response_count"`
}
