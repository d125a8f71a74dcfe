package models

import (
	"time"

	"github.com/google/uuid"
)

// QuestionType is the prompt kind presented to the audience.
type QuestionType string

const (
	TypeMultipleChoice QuestionType = "multiple_choice"
	TypeWordCloud      QuestionType = "word_cloud"
	TypeOpenEnded      QuestionType = "open_ended"
	TypeRating         QuestionType = "rating"
)

// Valid reports whether t is a known question type.
func (t QuestionType) Valid() bool {
	switch t {
	case TypeMultipleChoice, TypeWordCloud, TypeOpenEnded, TypeRating:
		return true
	}
	return false
}

// Question is one prompt within a session. Options, OptionImageKeys,
// ChartLayout and CorrectAnswer are multiple_choice-only and are kept
// absent for every other type.
type Question struct {
	ID        uuid.UUID    `json:"id"`
	SessionID uuid.UUID    `json:"session_id"`
	Title     string       `json:"title"`
	Type      QuestionType `json:"type"`

	Options         []string `json:"options,omitempty"`
	OptionImageKeys []string `json:"option_image_keys,omitempty"`
	ChartLayout     *string  `json:"chart_layout,omitempty"`
	CorrectAnswer   *string  `json:"correct_answer,omitempty"`

	SortOrder     int       `json:"sort_order"`
	TimeLimit     *int      `json:"time_limit,omitempty"` // seconds; absent = untimed
	AllowMultiple bool      `json:"allow_multiple"`
	ShowResults   bool      `json:"show_results"`
	CreatedAt     time.Time `json:"created_at"`
}
