package sessions

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pollstream/backend/internal/models"
)

const sessionColumns = `id, code, title, presenter_id, presenter_name, status,
	active_question_id, question_started_at, max_participants,
	brand_color, brand_logo_key, created_at, updated_at`

// Repository handles session persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a session repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

func scanSession(row pgx.Row) (*models.Session, error) {
	var s models.Session
	err := row.Scan(&s.ID, &s.Code, &s.Title, &s.PresenterID, &s.PresenterName, &s.Status,
		&s.ActiveQuestionID, &s.QuestionStartedAt, &s.MaxParticipants,
		&s.BrandColor, &s.BrandLogoKey, &s.CreatedAt, &s.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// Create inserts a new session in draft. IsUniqueViolation on the returned
// error means the allocated code lost the insert race and the caller should
// allocate again.
func (r *Repository) Create(ctx context.Context, s *models.Session) error {
	const q = `INSERT INTO sessions (id, code, title, presenter_id, presenter_name, status, max_participants, brand_color, brand_logo_key)
		VALUES (gen_random_uuid(), $1, $2, $3, $4, 'draft', $5, $6, $7)
		RETURNING id, status, created_at, updated_at`
	return r.pool.QueryRow(ctx, q, s.Code, s.Title, s.PresenterID, s.PresenterName,
		s.MaxParticipants, s.BrandColor, s.BrandLogoKey).
		Scan(&s.ID, &s.Status, &s.CreatedAt, &s.UpdatedAt)
}

// IsUniqueViolation reports whether err is a Postgres unique-index conflict.
func IsUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// GetByID returns a session by ID.
func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*models.Session, error) {
	return scanSession(r.pool.QueryRow(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE id = $1`, id))
}

// GetByCode returns a session by join code.
func (r *Repository) GetByCode(ctx context.Context, code string) (*models.Session, error) {
	return scanSession(r.pool.QueryRow(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE code = $1`, code))
}

// ListByPresenter returns all sessions owned by a presenter, newest first.
func (r *Repository) ListByPresenter(ctx context.Context, presenterID string) ([]models.Session, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+sessionColumns+` FROM sessions WHERE presenter_id = $1 ORDER BY created_at DESC`, presenterID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var list []models.Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, *s)
	}
	return list, rows.Err()
}

// UpdateStatus writes the session status. Transition legality is the
// caller's responsibility (models.ValidTransition).
func (r *Repository) UpdateStatus(ctx context.Context, id uuid.UUID, status models.SessionStatus) error {
	const q = `UPDATE sessions SET status = $1, updated_at = NOW() WHERE id = $2`
	tag, err := r.pool.Exec(ctx, q, status, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}

// SetActiveQuestion writes the live-question pointer. A concrete id stamps
// question_started_at; nil clears both. The deprecated positional index is
// cleared on every write.
func (r *Repository) SetActiveQuestion(ctx context.Context, id uuid.UUID, questionID *uuid.UUID) error {
	const q = `UPDATE sessions SET
		active_question_id = $1,
		question_started_at = CASE WHEN $1::uuid IS NULL THEN NULL ELSE NOW() END,
		active_question_index = NULL,
		updated_at = NOW()
		WHERE id = $2`
	tag, err := r.pool.Exec(ctx, q, questionID, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}

// UpdateTitle writes the session title. Not status gated.
func (r *Repository) UpdateTitle(ctx context.Context, id uuid.UUID, title string) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE sessions SET title = $1, updated_at = NOW() WHERE id = $2`, title, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}

// UpdateMaxParticipants writes the participant cap; nil removes it.
// Enforcement belongs to the participant collaborator.
func (r *Repository) UpdateMaxParticipants(ctx context.Context, id uuid.UUID, max *int) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE sessions SET max_participants = $1, updated_at = NOW() WHERE id = $2`, max, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}

// UpdateBranding writes branding fields. Not status gated.
func (r *Repository) UpdateBranding(ctx context.Context, id uuid.UUID, color, logoKey *string) error {
	const q = `UPDATE sessions SET
		brand_color = COALESCE($1, brand_color),
		brand_logo_key = COALESCE($2, brand_logo_key),
		updated_at = NOW()
		WHERE id = $3`
	tag, err := r.pool.Exec(ctx, q, color, logoKey, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}

// ClearBrandLogo removes the stored logo reference.
func (r *Repository) ClearBrandLogo(ctx context.Context, id uuid.UUID) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE sessions SET brand_logo_key = NULL, updated_at = NOW() WHERE id = $1`, id)
	return err
}

// Delete removes the session row itself. Dependent rows are the cascade
// engine's job; this is its terminal step.
func (r *Repository) Delete(ctx context.Context, id uuid.UUID) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM sessions WHERE id = $1`, id)
	return err
}

// EndStaleActive force-ends every active session created before cutoff and
// returns how many were ended.
func (r *Repository) EndStaleActive(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx,
		`UPDATE sessions SET status = 'ended', updated_at = NOW() WHERE status = 'active' AND created_at < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
