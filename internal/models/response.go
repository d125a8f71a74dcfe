package models

import (
	"time"

	"github.com/google/uuid"
)

// Response is one audience answer to a question. Storage and aggregation
// belong to the response collaborator; the core issues bounded deletes,
// counts, and reads aggregates.
type Response struct {
	ID            uuid.UUID `json:"id"`
	SessionID     uuid.UUID `json:"session_id"`
	QuestionID    uuid.UUID `json:"question_id"`
	ParticipantID uuid.UUID `json:"participant_id"`
	Answer        string    `json:"answer"`
	CreatedAt     time.Time `json:"created_at"`
}

// ResponseAggregate is the per-question tally keyed by normalized answer.
type ResponseAggregate struct {
	Counts map[string]int `json:"counts"`
	Total  int            `json:"total"`
}
