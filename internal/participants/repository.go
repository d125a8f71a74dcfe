// Package participants is the core's view of the participant collaborator:
// session-scoped counts and bounded deletes for the cascade engine.
// Participant identity and join flow live elsewhere.
package participants

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository handles participant rows for counting and cascading deletion.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a participants repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// CountBySession returns the number of participants in a session.
func (r *Repository) CountBySession(ctx context.Context, sessionID uuid.UUID) (int, error) {
	var n int
	err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM participants WHERE session_id = $1`, sessionID).Scan(&n)
	return n, err
}

// DeleteBatchBySession deletes up to limit participants of a session and
// returns how many went.
func (r *Repository) DeleteBatchBySession(ctx context.Context, sessionID uuid.UUID, limit int) (int, error) {
	const query = `DELETE FROM participants WHERE id IN
		(SELECT id FROM participants WHERE session_id = $1 LIMIT $2)`
	tag, err := r.pool.Exec(ctx, query, sessionID, limit)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}
