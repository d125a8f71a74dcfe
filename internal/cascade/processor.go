// Package cascade implements the bounded, self-continuing delete/reset
// engine. A session's dependent rows can number in the hundreds of
// thousands; instead of one long transaction, the engine advances in
// independently-committable steps of at most BatchSize rows, re-enqueued
// through the job queue until every phase is drained.
package cascade

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/pollstream/backend/pkg/queue"
)

// BatchStore deletes up to limit session-scoped rows from one collection
// and reports how many went.
type BatchStore interface {
	DeleteBatchBySession(ctx context.Context, sessionID uuid.UUID, limit int) (int, error)
}

// SessionDeleter removes the session row itself, the terminal step of a
// full delete.
type SessionDeleter interface {
	Delete(ctx context.Context, id uuid.UUID) error
}

// Stores groups the collections a cascade touches, in phase order.
type Stores struct {
	Responses    BatchStore
	Participants BatchStore
	Questions    BatchStore
	Sessions     SessionDeleter
}

// Processor executes cascade steps. Each step is cursorless and idempotent:
// it asks "are there still up to N rows left in this collection", so
// re-running a step after a crash converges instead of double-deleting.
type Processor struct {
	stores    Stores
	batchSize int
	logger    *zap.Logger
}

// NewProcessor creates a cascade processor.
func NewProcessor(stores Stores, batchSize int, logger *zap.Logger) *Processor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Processor{stores: stores, batchSize: batchSize, logger: logger}
}

// Step runs one cascade step and returns the follow-up step to enqueue,
// or nil when the cascade has converged.
func (p *Processor) Step(ctx context.Context, step queue.CascadePayload) (*queue.CascadePayload, error) {
	switch step.Phase {
	case queue.PhaseResponses:
		return p.drain(ctx, step, p.stores.Responses, queue.PhaseParticipants)

	case queue.PhaseParticipants:
		next := queue.PhaseQuestions
		if step.Kind == queue.CascadeReset {
			// Reset keeps questions and the session row; participants
			// are the last collection it drains.
			return p.drain(ctx, step, p.stores.Participants, "")
		}
		return p.drain(ctx, step, p.stores.Participants, next)

	case queue.PhaseQuestions:
		return p.drain(ctx, step, p.stores.Questions, queue.PhaseSession)

	case queue.PhaseSession:
		if err := p.stores.Sessions.Delete(ctx, step.SessionID); err != nil {
			return nil, fmt.Errorf("delete session row: %w", err)
		}
		p.logger.Info("cascade finished",
			zap.String("session_id", step.SessionID.String()),
			zap.String("kind", string(step.Kind)))
		return nil, nil

	default:
		return nil, fmt.Errorf("unknown cascade phase %q", step.Phase)
	}
}

// drain deletes one batch of the current phase's collection. A full batch
// means there may be more: the same step is re-enqueued. A short batch
// advances to nextPhase, or finishes when nextPhase is empty.
func (p *Processor) drain(ctx context.Context, step queue.CascadePayload, store BatchStore, nextPhase queue.CascadePhase) (*queue.CascadePayload, error) {
	deleted, err := store.DeleteBatchBySession(ctx, step.SessionID, p.batchSize)
	if err != nil {
		return nil, fmt.Errorf("delete batch (%s): %w", step.Phase, err)
	}
	p.logger.Debug("cascade step",
		zap.String("session_id", step.SessionID.String()),
		zap.String("phase", string(step.Phase)),
		zap.Int("deleted", deleted))

	if deleted == p.batchSize {
		same := step
		return &same, nil
	}
	if nextPhase == "" {
		p.logger.Info("cascade finished",
			zap.String("session_id", step.SessionID.String()),
			zap.String("kind", string(step.Kind)))
		return nil, nil
	}
	next := step
	next.Phase = nextPhase
	return &next, nil
}

// Run consumes cascade jobs from the queue until ctx is done. Transient
// step failures go back through the queue's retry/DLQ policy.
func (p *Processor) Run(ctx context.Context, q *queue.Queue) {
	for {
		select {
		case <-ctx.Done():
			p.logger.Info("cascade worker stopping")
			return
		default:
		}

		job, err := q.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			p.logger.Warn("dequeue error", zap.Error(err))
			time.Sleep(queue.RetryBackoff)
			continue
		}
		if job == nil {
			continue
		}

		var step queue.CascadePayload
		if err := json.Unmarshal(job.Payload, &step); err != nil {
			p.logger.Error("invalid cascade payload", zap.String("job_id", job.ID), zap.Error(err))
			continue
		}

		next, err := p.Step(ctx, step)
		if err != nil {
			p.logger.Error("cascade step failed", zap.String("job_id", job.ID), zap.Error(err))
			if reErr := q.Retry(ctx, job); reErr != nil {
				p.logger.Error("retry enqueue failed", zap.Error(reErr))
			}
			time.Sleep(queue.RetryBackoff)
			continue
		}
		if next != nil {
			if err := q.EnqueueCascade(ctx, *next); err != nil {
				p.logger.Error("enqueue continuation failed", zap.Error(err),
					zap.String("session_id", next.SessionID.String()))
			}
		}
	}
}
