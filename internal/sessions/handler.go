package sessions

import (
	"context"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/pollstream/backend/internal/middleware"
	"github.com/pollstream/backend/internal/models"
	"github.com/pollstream/backend/internal/realtime"
	"github.com/pollstream/backend/pkg/queue"
	"github.com/pollstream/backend/pkg/response"
	"github.com/pollstream/backend/pkg/storage"
)

// Store is the session persistence surface the handler drives.
type Store interface {
	Create(ctx context.Context, s *models.Session) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Session, error)
	GetByCode(ctx context.Context, code string) (*models.Session, error)
	ListByPresenter(ctx context.Context, presenterID string) ([]models.Session, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status models.SessionStatus) error
	SetActiveQuestion(ctx context.Context, id uuid.UUID, questionID *uuid.UUID) error
	UpdateTitle(ctx context.Context, id uuid.UUID, title string) error
	UpdateMaxParticipants(ctx context.Context, id uuid.UUID, max *int) error
	UpdateBranding(ctx context.Context, id uuid.UUID, color, logoKey *string) error
	ClearBrandLogo(ctx context.Context, id uuid.UUID) error
}

// QuestionStore is the slice of the questions repository the session
// lifecycle needs: ownership checks, duplication, and counting.
type QuestionStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Question, error)
	ListBySession(ctx context.Context, sessionID uuid.UUID) ([]models.Question, error)
	CreateCopy(ctx context.Context, sessionID uuid.UUID, q models.Question) error
	CountBySession(ctx context.Context, sessionID uuid.UUID) (int, error)
}

// Counter provides session-scoped row counts (participants, responses).
type Counter interface {
	CountBySession(ctx context.Context, sessionID uuid.UUID) (int, error)
}

// Enqueuer hands cascade steps to the job queue.
type Enqueuer interface {
	EnqueueCascade(ctx context.Context, step queue.CascadePayload) error
}

// ImageStore is the object-storage surface branding needs. A nil ImageStore
// means image features answer 503.
type ImageStore interface {
	Upload(ctx context.Context, key, contentType string, body io.Reader) (string, error)
	Copy(ctx context.Context, srcKey, dstKey string) error
	Delete(ctx context.Context, key string) error
	PresignDownload(ctx context.Context, key string) (string, error)
}

// Handler handles session HTTP endpoints.
type Handler struct {
	repo         Store
	questions    QuestionStore
	participants Counter
	responses    Counter
	queue        Enqueuer
	publisher    *realtime.Publisher
	images       ImageStore // nil when S3 is not configured
	logger       *zap.Logger
}

// NewHandler creates a session handler.
func NewHandler(repo Store, questions QuestionStore, participants, responses Counter,
	q Enqueuer, publisher *realtime.Publisher, images ImageStore, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		repo: repo, questions: questions, participants: participants, responses: responses,
		queue: q, publisher: publisher, images: images, logger: logger,
	}
}

// CreateRequest is the body for POST /sessions.
type CreateRequest struct {
	Title           string  `json:"title" binding:"required"`
	MaxParticipants *int    `json:"max_participants"`
	BrandColor      *string `json:"brand_color"`
}

// createAllocateAttempts bounds the allocate-then-insert loop: the unique
// index on sessions.code can still reject a code that looked free.
const createAllocateAttempts = 3

// Create handles POST /sessions.
func (h *Handler) Create(c *gin.Context) {
	var req CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	presenterID := c.MustGet(middleware.ContextPresenterID).(string)
	presenterName := c.GetString(middleware.ContextPresenterName)

	s := &models.Session{
		Title:           req.Title,
		PresenterID:     presenterID,
		PresenterName:   presenterName,
		MaxParticipants: req.MaxParticipants,
		BrandColor:      req.BrandColor,
	}
	if err := h.createWithFreshCode(c.Request.Context(), s); err != nil {
		h.logger.Error("create session", zap.Error(err))
		response.FromError(c, err)
		return
	}
	response.Created(c, s)
}

// createWithFreshCode allocates a join code and inserts the session,
// reallocating whenever the unique index rejects a code that looked free.
func (h *Handler) createWithFreshCode(ctx context.Context, s *models.Session) error {
	for attempt := 0; attempt < createAllocateAttempts; attempt++ {
		code, err := AllocateCode(ctx, h.repo)
		if err != nil {
			return err
		}
		s.Code = code
		err = h.repo.Create(ctx, s)
		if err == nil {
			return nil
		}
		if !IsUniqueViolation(err) {
			return err
		}
		// Lost the insert race for this code; allocate a fresh one.
	}
	return models.ErrCodeSpaceExhausted
}

// GetByID handles GET /sessions/:id.
func (h *Handler) GetByID(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid session id")
		return
	}
	s, err := h.repo.GetByID(c.Request.Context(), id)
	if err != nil {
		response.FromError(c, fmt.Errorf("session %w", err))
		return
	}
	response.OK(c, s)
}

// GetByCode handles GET /sessions/code/:code (audience join lookup).
func (h *Handler) GetByCode(c *gin.Context) {
	code := strings.ToUpper(strings.TrimSpace(c.Param("code")))
	s, err := h.repo.GetByCode(c.Request.Context(), code)
	if err != nil {
		response.FromError(c, fmt.Errorf("session %w", err))
		return
	}
	response.OK(c, s)
}

// List handles GET /sessions: all sessions of the calling presenter.
func (h *Handler) List(c *gin.Context) {
	presenterID := c.MustGet(middleware.ContextPresenterID).(string)
	list, err := h.repo.ListByPresenter(c.Request.Context(), presenterID)
	if err != nil {
		h.logger.Error("list sessions", zap.Error(err))
		response.Internal(c, "failed to list sessions")
		return
	}
	response.OK(c, list)
}

// SetStatusRequest is the body for PATCH /sessions/:id/status.
type SetStatusRequest struct {
	Status models.SessionStatus `json:"status" binding:"required"`
}

// SetStatus handles PATCH /sessions/:id/status (start, end).
func (h *Handler) SetStatus(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid session id")
		return
	}
	var req SetStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	if !req.Status.Valid() {
		response.BadRequest(c, fmt.Sprintf("unknown status %q", req.Status))
		return
	}
	h.transition(c, id, req.Status)
}

// Reopen handles POST /sessions/:id/reopen, the ended->active path.
func (h *Handler) Reopen(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid session id")
		return
	}
	h.transition(c, id, models.StatusActive)
}

func (h *Handler) transition(c *gin.Context, id uuid.UUID, to models.SessionStatus) {
	s, err := h.repo.GetByID(c.Request.Context(), id)
	if err != nil {
		response.FromError(c, fmt.Errorf("session %w", err))
		return
	}
	if !models.ValidTransition(s.Status, to) {
		response.FromError(c, fmt.Errorf("%w: cannot move session from %s to %s",
			models.ErrInvalidState, s.Status, to))
		return
	}
	if err := h.repo.UpdateStatus(c.Request.Context(), id, to); err != nil {
		response.FromError(c, err)
		return
	}
	h.publisher.Publish(id, realtime.EventStatusChanged, gin.H{"status": to})
	response.OK(c, gin.H{"id": id, "status": to})
}

// SetActiveQuestionRequest is the body for PUT /sessions/:id/active-question.
// A null question_id retracts the live question.
type SetActiveQuestionRequest struct {
	QuestionID *uuid.UUID `json:"question_id"`
}

// SetActiveQuestion handles PUT /sessions/:id/active-question.
func (h *Handler) SetActiveQuestion(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid session id")
		return
	}
	var req SetActiveQuestionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	s, err := h.repo.GetByID(c.Request.Context(), id)
	if err != nil {
		response.FromError(c, fmt.Errorf("session %w", err))
		return
	}

	if req.QuestionID == nil {
		if err := h.repo.SetActiveQuestion(c.Request.Context(), s.ID, nil); err != nil {
			response.FromError(c, err)
			return
		}
		h.publisher.Publish(s.ID, realtime.EventQuestionCleared, gin.H{})
		response.OK(c, gin.H{"id": s.ID, "active_question_id": nil})
		return
	}

	q, err := h.questions.GetByID(c.Request.Context(), *req.QuestionID)
	if err != nil {
		response.FromError(c, fmt.Errorf("question %w", err))
		return
	}
	if q.SessionID != s.ID {
		response.BadRequest(c, "question does not belong to this session")
		return
	}
	if err := h.repo.SetActiveQuestion(c.Request.Context(), s.ID, &q.ID); err != nil {
		response.FromError(c, err)
		return
	}
	h.publisher.Publish(s.ID, realtime.EventQuestionActivated, gin.H{
		"question_id": q.ID,
		"type":        q.Type,
		"time_limit":  q.TimeLimit,
	})
	response.OK(c, gin.H{"id": s.ID, "active_question_id": q.ID})
}

// Duplicate handles POST /sessions/:id/duplicate: fresh code, copied config
// and questions, draft status, no participants or responses.
func (h *Handler) Duplicate(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid session id")
		return
	}
	src, err := h.repo.GetByID(c.Request.Context(), id)
	if err != nil {
		response.FromError(c, fmt.Errorf("session %w", err))
		return
	}
	dup := &models.Session{
		Title:           src.Title,
		PresenterID:     src.PresenterID,
		PresenterName:   src.PresenterName,
		MaxParticipants: src.MaxParticipants,
		BrandColor:      src.BrandColor,
	}
	if err := h.createWithFreshCode(c.Request.Context(), dup); err != nil {
		h.logger.Error("duplicate session", zap.Error(err))
		response.FromError(c, err)
		return
	}

	// The logo object is copied under the duplicate's own key, never shared:
	// clearing one session's logo deletes its object, and a shared reference
	// would leave the other session pointing at nothing.
	if src.BrandLogoKey != nil && h.images != nil {
		dstKey := storage.BrandingKeyExt(dup.ID.String(), path.Ext(*src.BrandLogoKey))
		if err := h.images.Copy(c.Request.Context(), *src.BrandLogoKey, dstKey); err != nil {
			h.logger.Warn("copy branding object", zap.Error(err), zap.String("src_key", *src.BrandLogoKey))
		} else if err := h.repo.UpdateBranding(c.Request.Context(), dup.ID, nil, &dstKey); err != nil {
			response.FromError(c, err)
			return
		} else {
			dup.BrandLogoKey = &dstKey
		}
	}

	qs, err := h.questions.ListBySession(c.Request.Context(), src.ID)
	if err != nil {
		h.logger.Error("duplicate session questions", zap.Error(err))
		response.Internal(c, "failed to duplicate session")
		return
	}
	for _, q := range qs {
		if err := h.questions.CreateCopy(c.Request.Context(), dup.ID, q); err != nil {
			h.logger.Error("duplicate question", zap.Error(err), zap.String("question_id", q.ID.String()))
			response.Internal(c, "failed to duplicate session")
			return
		}
	}
	response.Created(c, dup)
}

// UpdateRequest is the body for PATCH /sessions/:id. All fields optional;
// none of these writes are status gated.
type UpdateRequest struct {
	Title           *string `json:"title"`
	MaxParticipants *int    `json:"max_participants"`
	BrandColor      *string `json:"brand_color"`
}

// Update handles PATCH /sessions/:id (title, participant cap, branding).
func (h *Handler) Update(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid session id")
		return
	}
	var req UpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	if _, err := h.repo.GetByID(c.Request.Context(), id); err != nil {
		response.FromError(c, fmt.Errorf("session %w", err))
		return
	}
	ctx := c.Request.Context()
	if req.Title != nil {
		if err := h.repo.UpdateTitle(ctx, id, *req.Title); err != nil {
			response.FromError(c, err)
			return
		}
	}
	if req.MaxParticipants != nil {
		if err := h.repo.UpdateMaxParticipants(ctx, id, req.MaxParticipants); err != nil {
			response.FromError(c, err)
			return
		}
	}
	if req.BrandColor != nil {
		if err := h.repo.UpdateBranding(ctx, id, req.BrandColor, nil); err != nil {
			response.FromError(c, err)
			return
		}
	}
	updated, err := h.repo.GetByID(ctx, id)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.OK(c, updated)
}

// UploadBrandingImage handles POST /sessions/:id/branding-image (multipart).
func (h *Handler) UploadBrandingImage(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid session id")
		return
	}
	if h.images == nil {
		response.ServiceUnavailable(c, "image storage is not configured")
		return
	}
	if _, err := h.repo.GetByID(c.Request.Context(), id); err != nil {
		response.FromError(c, fmt.Errorf("session %w", err))
		return
	}

	file, header, err := c.Request.FormFile("image")
	if err != nil {
		response.BadRequest(c, "missing image file")
		return
	}
	defer file.Close()
	if header.Size > storage.MaxImageFileSize {
		response.BadRequest(c, "image exceeds size limit")
		return
	}
	contentType := header.Header.Get("Content-Type")
	if !storage.ValidateImageType(contentType) {
		response.BadRequest(c, "unsupported image type")
		return
	}

	key := storage.BrandingKey(id.String(), contentType)
	if _, err := h.images.Upload(c.Request.Context(), key, contentType, file); err != nil {
		h.logger.Error("upload branding image", zap.Error(err))
		response.Internal(c, "failed to upload image")
		return
	}
	if err := h.repo.UpdateBranding(c.Request.Context(), id, nil, &key); err != nil {
		response.FromError(c, err)
		return
	}
	response.OK(c, gin.H{"id": id, "brand_logo_key": key})
}

// ClearBrandingImage handles DELETE /sessions/:id/branding-image. The stored
// object is deleted first, then the reference cleared; a session without a
// logo is a no-op success.
func (h *Handler) ClearBrandingImage(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid session id")
		return
	}
	s, err := h.repo.GetByID(c.Request.Context(), id)
	if err != nil {
		response.FromError(c, fmt.Errorf("session %w", err))
		return
	}
	if s.BrandLogoKey == nil {
		response.NoContent(c)
		return
	}
	if h.images != nil {
		if err := h.images.Delete(c.Request.Context(), *s.BrandLogoKey); err != nil {
			h.logger.Warn("delete branding object", zap.Error(err), zap.String("key", *s.BrandLogoKey))
		}
	}
	if err := h.repo.ClearBrandLogo(c.Request.Context(), id); err != nil {
		response.FromError(c, err)
		return
	}
	response.NoContent(c)
}

// BrandingImageURL handles GET /sessions/:id/branding-image: a short-lived
// presigned URL for the session logo, resolved by audience clients at render
// time. The bucket stays private; only the URL leaves the backend.
func (h *Handler) BrandingImageURL(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid session id")
		return
	}
	s, err := h.repo.GetByID(c.Request.Context(), id)
	if err != nil {
		response.FromError(c, fmt.Errorf("session %w", err))
		return
	}
	if s.BrandLogoKey == nil {
		response.NotFound(c, "session has no logo")
		return
	}
	if h.images == nil {
		response.ServiceUnavailable(c, "image storage is not configured")
		return
	}
	url, err := h.images.PresignDownload(c.Request.Context(), *s.BrandLogoKey)
	if err != nil {
		h.logger.Error("presign logo url", zap.Error(err), zap.String("key", *s.BrandLogoKey))
		response.Internal(c, "failed to sign logo url")
		return
	}
	response.OK(c, gin.H{"id": s.ID, "url": url})
}

// Delete handles DELETE /sessions/:id. Fire-and-forget: the cascade is
// enqueued and the request returns before dependent rows are gone.
func (h *Handler) Delete(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid session id")
		return
	}
	if _, err := h.repo.GetByID(c.Request.Context(), id); err != nil {
		response.FromError(c, fmt.Errorf("session %w", err))
		return
	}
	step := queue.CascadePayload{SessionID: id, Kind: queue.CascadeDelete, Phase: queue.PhaseResponses}
	if err := h.queue.EnqueueCascade(c.Request.Context(), step); err != nil {
		h.logger.Error("enqueue delete cascade", zap.Error(err))
		response.Internal(c, "failed to schedule deletion")
		return
	}
	response.Accepted(c, gin.H{"id": id, "status": "deleting"})
}

// Reset handles POST /sessions/:id/reset: drops responses and participants,
// keeps questions and the session. The live-question pointer is cleared
// before the first step so a session mid-reset never points at data that is
// about to vanish.
func (h *Handler) Reset(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid session id")
		return
	}
	if _, err := h.repo.GetByID(c.Request.Context(), id); err != nil {
		response.FromError(c, fmt.Errorf("session %w", err))
		return
	}
	if err := h.repo.SetActiveQuestion(c.Request.Context(), id, nil); err != nil {
		response.FromError(c, err)
		return
	}
	step := queue.CascadePayload{SessionID: id, Kind: queue.CascadeReset, Phase: queue.PhaseResponses}
	if err := h.queue.EnqueueCascade(c.Request.Context(), step); err != nil {
		h.logger.Error("enqueue reset cascade", zap.Error(err))
		response.Internal(c, "failed to schedule reset")
		return
	}
	h.publisher.Publish(id, realtime.EventSessionReset, gin.H{})
	response.Accepted(c, gin.H{"id": id, "status": "resetting"})
}

// Stats handles GET /sessions/:id/stats. Counts converge to zero as a
// cascade progresses; nonzero counts after a reset just mean it is still
// running.
func (h *Handler) Stats(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid session id")
		return
	}
	ctx := c.Request.Context()
	if _, err := h.repo.GetByID(ctx, id); err != nil {
		response.FromError(c, fmt.Errorf("session %w", err))
		return
	}
	questions, err := h.questions.CountBySession(ctx, id)
	if err != nil {
		response.Internal(c, "failed to count questions")
		return
	}
	participants, err := h.participants.CountBySession(ctx, id)
	if err != nil {
		response.Internal(c, "failed to count participants")
		return
	}
	responses, err := h.responses.CountBySession(ctx, id)
	if err != nil {
		response.Internal(c, "failed to count responses")
		return
	}
	response.OK(c, models.SessionStats{
		QuestionCount:    questions,
		ParticipantCount: participants,
		ResponseCount:    responses,
	})
}
