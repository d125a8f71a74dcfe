package models

import (
	"time"

	"github.com/google/uuid"
)

// Participant is an audience member who joined a session by code.
// Identity details are owned by the participant collaborator; the core
// only counts participants and deletes them during cascades.
type Participant struct {
	ID        uuid.UUID `json:"id"`
	SessionID uuid.UUID `json:"session_id"`
	Name      string    `json:"name"`
	JoinedAt  time.Time `json:"joined_at"`
}
