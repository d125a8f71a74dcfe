package questions

import (
	"fmt"

	"github.com/pollstream/backend/internal/models"
)

// UpdateRequest is the set of question fields a presenter may change.
// Nil means "leave unchanged".
type UpdateRequest struct {
	Title           *string
	Type            *models.QuestionType
	AllowMultiple   *bool
	ShowResults     *bool
	TimeLimit       *int
	Options         *[]string
	OptionImageKeys *[]string
	ChartLayout     *string
	CorrectAnswer   *string
}

// hasStructural reports whether the request touches fields that reshape the
// question rather than its content.
func (r UpdateRequest) hasStructural() bool {
	return r.Type != nil || r.AllowMultiple != nil
}

// ValidateUpdate decides whether an update is allowed given the owning
// session's status:
//
//   - draft:  everything
//   - active: title, show_results, time_limit, and multiple-choice display
//     content; structural changes rejected
//   - ended:  nothing
//
// Rejections carry a descriptive reason and are never silent no-ops.
func ValidateUpdate(status models.SessionStatus, req UpdateRequest) error {
	if status == models.StatusEnded {
		return fmt.Errorf("%w: session has ended", models.ErrInvalidState)
	}
	if status != models.StatusDraft && req.hasStructural() {
		if req.Type != nil {
			return fmt.Errorf("%w: cannot change question type while session is live", models.ErrInvalidState)
		}
		return fmt.Errorf("%w: question structure can only change while session is a draft", models.ErrInvalidState)
	}
	if req.Type != nil && !req.Type.Valid() {
		return fmt.Errorf("unknown question type %q", *req.Type)
	}
	return nil
}

// ValidateStructural gates create, delete, and reorder: draft sessions only.
func ValidateStructural(status models.SessionStatus) error {
	switch status {
	case models.StatusDraft:
		return nil
	case models.StatusEnded:
		return fmt.Errorf("%w: session has ended", models.ErrInvalidState)
	default:
		return fmt.Errorf("%w: session is not in draft", models.ErrInvalidState)
	}
}

// ApplyUpdate returns q with the requested changes applied. A type change
// away from multiple_choice clears the MC-only fields in the same write;
// a change into multiple_choice repopulates them from the request. MC-only
// fields are only ever stored on a multiple_choice question, so a stored
// question's shape always matches its type. time_limit values <= 0
// normalize to absent (untimed).
func ApplyUpdate(q models.Question, req UpdateRequest) models.Question {
	if req.Title != nil {
		q.Title = *req.Title
	}
	if req.ShowResults != nil {
		q.ShowResults = *req.ShowResults
	}
	if req.AllowMultiple != nil {
		q.AllowMultiple = *req.AllowMultiple
	}
	if req.TimeLimit != nil {
		q.TimeLimit = NormalizeTimeLimit(*req.TimeLimit)
	}
	if req.Type != nil {
		q.Type = *req.Type
	}

	if q.Type == models.TypeMultipleChoice {
		if req.Options != nil {
			q.Options = *req.Options
		}
		if req.OptionImageKeys != nil {
			q.OptionImageKeys = *req.OptionImageKeys
		}
		if req.ChartLayout != nil {
			q.ChartLayout = req.ChartLayout
		}
		if req.CorrectAnswer != nil {
			q.CorrectAnswer = req.CorrectAnswer
		}
	} else {
		q.Options = nil
		q.OptionImageKeys = nil
		q.ChartLayout = nil
		q.CorrectAnswer = nil
	}
	return q
}

// NormalizeTimeLimit maps non-positive limits to "untimed" (absent).
func NormalizeTimeLimit(seconds int) *int {
	if seconds <= 0 {
		return nil
	}
	return &seconds
}
