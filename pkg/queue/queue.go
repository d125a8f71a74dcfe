package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	// QueueCascade is the Redis list key for cascade delete/reset steps.
	QueueCascade = "worker:cascade"
	// QueueDLQ is the dead-letter queue for failed jobs after retries.
	QueueDLQ = "worker:dlq"
	// MaxRetries is the number of times to retry a job before moving to DLQ.
	MaxRetries = 3
	// RetryBackoff is the delay between retries.
	RetryBackoff = 5 * time.Second
)

// JobType identifies the job kind.
type JobType string

const (
	JobTypeCascade JobType = "cascade"
)

// CascadeKind selects which cascade a step belongs to.
type CascadeKind string

const (
	// CascadeDelete removes every dependent row and finally the session itself.
	CascadeDelete CascadeKind = "delete"
	// CascadeReset removes responses and participants but keeps questions
	// and the session row.
	CascadeReset CascadeKind = "reset"
)

// CascadePhase names the collection a step works on next.
type CascadePhase string

const (
	PhaseResponses    CascadePhase = "responses"
	PhaseParticipants CascadePhase = "participants"
	PhaseQuestions    CascadePhase = "questions"
	PhaseSession      CascadePhase = "session"
)

// CascadePayload is one self-contained cascade step. It carries no
// offset/cursor: re-running a step converges on the same end state.
type CascadePayload struct {
	SessionID uuid.UUID    `json:"session_id"`
	Kind      CascadeKind  `json:"kind"`
	Phase     CascadePhase `json:"phase"`
}

// Job is a generic job envelope.
type Job struct {
	ID        string          `json:"id"`
	Type      JobType         `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	Attempt   int             `json:"attempt"`
	CreatedAt time.Time       `json:"created_at"`
}

// Queue enqueues and dequeues jobs via Redis.
type Queue struct {
	client *redis.Client
	logger *zap.Logger
}

// NewQueue creates a new Redis-backed job queue.
func NewQueue(client *redis.Client, logger *zap.Logger) *Queue {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Queue{client: client, logger: logger}
}

// EnqueueCascade enqueues one cascade step. The trigger endpoints call this
// for the first step and return immediately; the worker calls it again for
// each continuation.
func (q *Queue) EnqueueCascade(ctx context.Context, payload CascadePayload) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	job := Job{
		ID:        uuid.New().String(),
		Type:      JobTypeCascade,
		Payload:   body,
		Attempt:   0,
		CreatedAt: time.Now(),
	}
	raw, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	if err := q.client.RPush(ctx, QueueCascade, raw).Err(); err != nil {
		return fmt.Errorf("rpush: %w", err)
	}
	q.logger.Debug("enqueued cascade step",
		zap.String("job_id", job.ID),
		zap.String("session_id", payload.SessionID.String()),
		zap.String("kind", string(payload.Kind)),
		zap.String("phase", string(payload.Phase)))
	return nil
}

// Dequeue blocks until a job is available or ctx is done.
func (q *Queue) Dequeue(ctx context.Context) (*Job, error) {
	result, err := q.client.BLPop(ctx, 0, QueueCascade).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, err
	}
	if len(result) < 2 {
		return nil, nil
	}
	var job Job
	if err := json.Unmarshal([]byte(result[1]), &job); err != nil {
		q.logger.Warn("invalid job payload", zap.String("raw", result[1]), zap.Error(err))
		return nil, nil
	}
	return &job, nil
}

// Retry re-enqueues a job with incremented attempt. If attempt >= MaxRetries,
// pushes to DLQ instead.
func (q *Queue) Retry(ctx context.Context, job *Job) error {
	job.Attempt++
	raw, err := json.Marshal(job)
	if err != nil {
		return err
	}
	if job.Attempt >= MaxRetries {
		if err := q.client.RPush(ctx, QueueDLQ, raw).Err(); err != nil {
			q.logger.Error("dlq push failed", zap.Error(err), zap.String("job_id", job.ID))
			return err
		}
		q.logger.Warn("job moved to DLQ", zap.String("job_id", job.ID), zap.Int("attempt", job.Attempt))
		return nil
	}
	if err := q.client.RPush(ctx, QueueCascade, raw).Err(); err != nil {
		return err
	}
	q.logger.Info("job retried", zap.String("job_id", job.ID), zap.Int("attempt", job.Attempt))
	return nil
}
