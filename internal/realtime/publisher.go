package realtime

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	channelPrefix  = "session:"
	publishTimeout = 5 * time.Second
)

// Event names published to the realtime delivery tier.
const (
	EventStatusChanged      = "status_changed"
	EventQuestionActivated  = "question_activated"
	EventQuestionCleared    = "question_cleared"
	EventQuestionsReordered = "questions_reordered"
	EventSessionReset       = "session_reset"
)

// payload is the message published to Redis for the delivery tier to fan out.
type payload struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
	At    int64           `json:"at"`
}

// Publisher pushes session lifecycle events onto per-session Redis channels.
// This is the whole contract the core exposes to the realtime delivery
// collaborator; delivery to audience devices is not guaranteed here.
type Publisher struct {
	client *redis.Client
	logger *zap.Logger
}

// NewPublisher creates a Redis-backed event publisher.
func NewPublisher(client *redis.Client, logger *zap.Logger) *Publisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Publisher{client: client, logger: logger}
}

// Publish sends an event on the session's channel. Failures are logged and
// swallowed; lifecycle writes never fail because a broadcast did. A nil
// publisher publishes nothing.
func (p *Publisher) Publish(sessionID uuid.UUID, event string, data interface{}) {
	if p == nil {
		return
	}
	raw, err := json.Marshal(data)
	if err != nil {
		p.logger.Warn("marshal event data", zap.Error(err), zap.String("event", event))
		return
	}
	body, err := json.Marshal(payload{Event: event, Data: raw, At: time.Now().Unix()})
	if err != nil {
		p.logger.Warn("marshal event", zap.Error(err), zap.String("event", event))
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	if err := p.client.Publish(ctx, channelPrefix+sessionID.String(), body).Err(); err != nil {
		p.logger.Warn("publish event", zap.Error(err),
			zap.String("event", event), zap.String("session_id", sessionID.String()))
	}
}
