// Package responses is the core's view of the response collaborator:
// counts, bounded deletes, per-question deletion, and read-side aggregation.
package responses

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pollstream/backend/internal/models"
)

// Repository handles response rows.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a responses repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// CountBySession returns the number of responses in a session.
func (r *Repository) CountBySession(ctx context.Context, sessionID uuid.UUID) (int, error) {
	var n int
	err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM responses WHERE session_id = $1`, sessionID).Scan(&n)
	return n, err
}

// DeleteBatchBySession deletes up to limit responses of a session and
// returns how many went.
func (r *Repository) DeleteBatchBySession(ctx context.Context, sessionID uuid.UUID, limit int) (int, error) {
	const query = `DELETE FROM responses WHERE id IN
		(SELECT id FROM responses WHERE session_id = $1 LIMIT $2)`
	tag, err := r.pool.Exec(ctx, query, sessionID, limit)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

// DeleteAllForQuestion removes every response addressed to one question.
// Single-question volumes stay well under the batch ceiling, so this is
// unbatched.
func (r *Repository) DeleteAllForQuestion(ctx context.Context, questionID uuid.UUID) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM responses WHERE question_id = $1`, questionID)
	return err
}

// Aggregate tallies responses for a question, keyed by trimmed, lowercased
// answer. Answer-key normalization is owned here, not by callers.
func (r *Repository) Aggregate(ctx context.Context, questionID uuid.UUID) (*models.ResponseAggregate, error) {
	const query = `SELECT LOWER(TRIM(answer)), COUNT(*) FROM responses
		WHERE question_id = $1 GROUP BY LOWER(TRIM(answer))`
	rows, err := r.pool.Query(ctx, query, questionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	agg := &models.ResponseAggregate{Counts: make(map[string]int)}
	for rows.Next() {
		var key string
		var count int
		if err := rows.Scan(&key, &count); err != nil {
			return nil, err
		}
		agg.Counts[key] = count
		agg.Total += count
	}
	return agg, rows.Err()
}
