package questions

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pollstream/backend/internal/models"
)

const questionColumns = `id, session_id, title, type, options, option_image_keys,
	chart_layout, correct_answer, sort_order, time_limit, allow_multiple, show_results, created_at`

// Repository handles question persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a questions repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

func scanQuestion(row pgx.Row) (*models.Question, error) {
	var q models.Question
	err := row.Scan(&q.ID, &q.SessionID, &q.Title, &q.Type, &q.Options, &q.OptionImageKeys,
		&q.ChartLayout, &q.CorrectAnswer, &q.SortOrder, &q.TimeLimit, &q.AllowMultiple, &q.ShowResults, &q.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &q, nil
}

// Create inserts a new question appended at sort_order = current count.
func (r *Repository) Create(ctx context.Context, q *models.Question) error {
	const query = `INSERT INTO questions
		(id, session_id, title, type, options, option_image_keys, chart_layout, correct_answer, sort_order, time_limit, allow_multiple, show_results)
		VALUES (gen_random_uuid(), $1, $2, $3, $4, $5, $6, $7,
			(SELECT COUNT(*) FROM questions WHERE session_id = $1), $8, $9, $10)
		RETURNING id, sort_order, created_at`
	return r.pool.QueryRow(ctx, query, q.SessionID, q.Title, q.Type, q.Options, q.OptionImageKeys,
		q.ChartLayout, q.CorrectAnswer, q.TimeLimit, q.AllowMultiple, q.ShowResults).
		Scan(&q.ID, &q.SortOrder, &q.CreatedAt)
}

// CreateCopy inserts a duplicate of q for another session, preserving its
// sort_order. Used by session duplication.
func (r *Repository) CreateCopy(ctx context.Context, sessionID uuid.UUID, q models.Question) error {
	const query = `INSERT INTO questions
		(id, session_id, title, type, options, option_image_keys, chart_layout, correct_answer, sort_order, time_limit, allow_multiple, show_results)
		VALUES (gen_random_uuid(), $1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`
	_, err := r.pool.Exec(ctx, query, sessionID, q.Title, q.Type, q.Options, q.OptionImageKeys,
		q.ChartLayout, q.CorrectAnswer, q.SortOrder, q.TimeLimit, q.AllowMultiple, q.ShowResults)
	return err
}

// GetByID returns a question by ID.
func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*models.Question, error) {
	return scanQuestion(r.pool.QueryRow(ctx,
		`SELECT `+questionColumns+` FROM questions WHERE id = $1`, id))
}

// ListBySession returns a session's questions ordered by sort_order.
func (r *Repository) ListBySession(ctx context.Context, sessionID uuid.UUID) ([]models.Question, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+questionColumns+` FROM questions WHERE session_id = $1 ORDER BY sort_order`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var list []models.Question
	for rows.Next() {
		q, err := scanQuestion(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, *q)
	}
	return list, rows.Err()
}

// Update writes the full mutable field set of a question.
func (r *Repository) Update(ctx context.Context, q *models.Question) error {
	const query = `UPDATE questions SET
		title = $1, type = $2, options = $3, option_image_keys = $4,
		chart_layout = $5, correct_answer = $6, time_limit = $7,
		allow_multiple = $8, show_results = $9
		WHERE id = $10`
	tag, err := r.pool.Exec(ctx, query, q.Title, q.Type, q.Options, q.OptionImageKeys,
		q.ChartLayout, q.CorrectAnswer, q.TimeLimit, q.AllowMultiple, q.ShowResults, q.ID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}

// Delete removes a single question. Remaining questions keep their
// sort_order; gaps are tolerated and reorder rewrites 0..n-1 anyway.
func (r *Repository) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM questions WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}

// sortAssignment pairs a question id with its new sort_order.
type sortAssignment struct {
	ID        uuid.UUID
	SortOrder int
}

// reorderAssignments maps each listed question to its position in the
// requested order: first id gets sort_order 0, and so on.
func reorderAssignments(orderedIDs []uuid.UUID) []sortAssignment {
	out := make([]sortAssignment, len(orderedIDs))
	for i, id := range orderedIDs {
		out[i] = sortAssignment{ID: id, SortOrder: i}
	}
	return out
}

// Reorder rewrites every listed question's sort_order to its position in
// orderedIDs. The session_id predicate keeps foreign ids from being touched.
func (r *Repository) Reorder(ctx context.Context, sessionID uuid.UUID, orderedIDs []uuid.UUID) error {
	batch := &pgx.Batch{}
	for _, a := range reorderAssignments(orderedIDs) {
		batch.Queue(`UPDATE questions SET sort_order = $1 WHERE id = $2 AND session_id = $3`, a.SortOrder, a.ID, sessionID)
	}
	results := r.pool.SendBatch(ctx, batch)
	defer results.Close()
	for range orderedIDs {
		if _, err := results.Exec(); err != nil {
			return err
		}
	}
	return nil
}

// CountBySession returns the number of questions in a session.
func (r *Repository) CountBySession(ctx context.Context, sessionID uuid.UUID) (int, error) {
	var n int
	err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM questions WHERE session_id = $1`, sessionID).Scan(&n)
	return n, err
}

// DeleteBatchBySession deletes up to limit questions of a session and
// returns how many went. Used by the cascade engine.
func (r *Repository) DeleteBatchBySession(ctx context.Context, sessionID uuid.UUID, limit int) (int, error) {
	const query = `DELETE FROM questions WHERE id IN
		(SELECT id FROM questions WHERE session_id = $1 LIMIT $2)`
	tag, err := r.pool.Exec(ctx, query, sessionID, limit)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}
