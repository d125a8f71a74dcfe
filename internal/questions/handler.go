package questions

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/pollstream/backend/internal/models"
	"github.com/pollstream/backend/internal/realtime"
	"github.com/pollstream/backend/pkg/response"
	"github.com/pollstream/backend/pkg/storage"
)

// Store is the question persistence surface the handler drives.
type Store interface {
	Create(ctx context.Context, q *models.Question) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Question, error)
	ListBySession(ctx context.Context, sessionID uuid.UUID) ([]models.Question, error)
	Update(ctx context.Context, q *models.Question) error
	Delete(ctx context.Context, id uuid.UUID) error
	Reorder(ctx context.Context, sessionID uuid.UUID, orderedIDs []uuid.UUID) error
}

// SessionStore is the slice of the sessions repository question mutations
// need: status reads for the guard, and pointer clearing when the live
// question is deleted.
type SessionStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Session, error)
	SetActiveQuestion(ctx context.Context, id uuid.UUID, questionID *uuid.UUID) error
}

// ResponseStore is the response-collaborator surface question mutations
// need: per-question deletion and the read-side aggregate.
type ResponseStore interface {
	DeleteAllForQuestion(ctx context.Context, questionID uuid.UUID) error
	Aggregate(ctx context.Context, questionID uuid.UUID) (*models.ResponseAggregate, error)
}

// ImageStore is the object-storage surface option images need. A nil
// ImageStore means image features answer 503.
type ImageStore interface {
	Upload(ctx context.Context, key, contentType string, body io.Reader) (string, error)
	Delete(ctx context.Context, key string) error
}

// Handler handles question HTTP endpoints.
type Handler struct {
	repo      Store
	sessions  SessionStore
	responses ResponseStore
	publisher *realtime.Publisher
	images    ImageStore
	logger    *zap.Logger
}

// NewHandler creates a questions handler.
func NewHandler(repo Store, sessions SessionStore, responses ResponseStore,
	publisher *realtime.Publisher, images ImageStore, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{repo: repo, sessions: sessions, responses: responses,
		publisher: publisher, images: images, logger: logger}
}

// CreateQuestionRequest is the body for POST /sessions/:id/questions.
type CreateQuestionRequest struct {
	Title           string              `json:"title" binding:"required"`
	Type            models.QuestionType `json:"type" binding:"required"`
	Options         []string            `json:"options"`
	OptionImageKeys []string            `json:"option_image_keys"`
	ChartLayout     *string             `json:"chart_layout"`
	CorrectAnswer   *string             `json:"correct_answer"`
	TimeLimit       int                 `json:"time_limit"`
	AllowMultiple   bool                `json:"allow_multiple"`
	ShowResults     *bool               `json:"show_results"`
}

// Create handles POST /sessions/:id/questions. Appends at the end of the
// session's question list; draft sessions only.
func (h *Handler) Create(c *gin.Context) {
	sessionID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid session id")
		return
	}
	var req CreateQuestionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	if !req.Type.Valid() {
		response.BadRequest(c, fmt.Sprintf("unknown question type %q", req.Type))
		return
	}
	s, err := h.sessions.GetByID(c.Request.Context(), sessionID)
	if err != nil {
		response.FromError(c, fmt.Errorf("session %w", err))
		return
	}
	if err := ValidateStructural(s.Status); err != nil {
		response.FromError(c, err)
		return
	}

	showResults := true
	if req.ShowResults != nil {
		showResults = *req.ShowResults
	}
	q := models.Question{
		SessionID:     sessionID,
		Title:         req.Title,
		Type:          req.Type,
		TimeLimit:     NormalizeTimeLimit(req.TimeLimit),
		AllowMultiple: req.AllowMultiple,
		ShowResults:   showResults,
	}
	// MC-only fields are stored only on multiple_choice questions.
	if req.Type == models.TypeMultipleChoice {
		q.Options = req.Options
		q.OptionImageKeys = req.OptionImageKeys
		q.ChartLayout = req.ChartLayout
		q.CorrectAnswer = req.CorrectAnswer
	}
	if err := h.repo.Create(c.Request.Context(), &q); err != nil {
		h.logger.Error("create question", zap.Error(err))
		response.Internal(c, "failed to create question")
		return
	}
	response.Created(c, q)
}

// List handles GET /sessions/:id/questions, ordered by sort_order.
func (h *Handler) List(c *gin.Context) {
	sessionID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid session id")
		return
	}
	if _, err := h.sessions.GetByID(c.Request.Context(), sessionID); err != nil {
		response.FromError(c, fmt.Errorf("session %w", err))
		return
	}
	list, err := h.repo.ListBySession(c.Request.Context(), sessionID)
	if err != nil {
		h.logger.Error("list questions", zap.Error(err))
		response.Internal(c, "failed to list questions")
		return
	}
	response.OK(c, list)
}

// Get handles GET /questions/:id. When the question is currently live and
// timed, the payload carries remaining_seconds derived from the shared
// timer formula.
func (h *Handler) Get(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid question id")
		return
	}
	q, err := h.repo.GetByID(c.Request.Context(), id)
	if err != nil {
		response.FromError(c, fmt.Errorf("question %w", err))
		return
	}
	s, err := h.sessions.GetByID(c.Request.Context(), q.SessionID)
	if err != nil {
		response.FromError(c, fmt.Errorf("session %w", err))
		return
	}

	body := gin.H{"question": q}
	if s.ActiveQuestionID != nil && *s.ActiveQuestionID == q.ID &&
		q.TimeLimit != nil && s.QuestionStartedAt != nil {
		body["remaining_seconds"] = RemainingSeconds(*q.TimeLimit, *s.QuestionStartedAt, time.Now())
	}
	response.OK(c, body)
}

// UpdateQuestionRequest is the body for PATCH /questions/:id. Absent fields
// are left unchanged.
type UpdateQuestionRequest struct {
	Title           *string              `json:"title"`
	Type            *models.QuestionType `json:"type"`
	Options         *[]string            `json:"options"`
	OptionImageKeys *[]string            `json:"option_image_keys"`
	ChartLayout     *string              `json:"chart_layout"`
	CorrectAnswer   *string              `json:"correct_answer"`
	TimeLimit       *int                 `json:"time_limit"`
	AllowMultiple   *bool                `json:"allow_multiple"`
	ShowResults     *bool                `json:"show_results"`
}

// Update handles PATCH /questions/:id, subject to the mutability guard.
func (h *Handler) Update(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid question id")
		return
	}
	var req UpdateQuestionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	q, err := h.repo.GetByID(c.Request.Context(), id)
	if err != nil {
		response.FromError(c, fmt.Errorf("question %w", err))
		return
	}
	s, err := h.sessions.GetByID(c.Request.Context(), q.SessionID)
	if err != nil {
		response.FromError(c, fmt.Errorf("session %w", err))
		return
	}

	update := UpdateRequest{
		Title:           req.Title,
		Type:            req.Type,
		Options:         req.Options,
		OptionImageKeys: req.OptionImageKeys,
		ChartLayout:     req.ChartLayout,
		CorrectAnswer:   req.CorrectAnswer,
		TimeLimit:       req.TimeLimit,
		AllowMultiple:   req.AllowMultiple,
		ShowResults:     req.ShowResults,
	}
	if err := ValidateUpdate(s.Status, update); err != nil {
		response.FromError(c, err)
		return
	}
	updated := ApplyUpdate(*q, update)
	if err := h.repo.Update(c.Request.Context(), &updated); err != nil {
		response.FromError(c, err)
		return
	}
	response.OK(c, updated)
}

// Delete handles DELETE /questions/:id. Responses addressed to the question
// go first, then the row; draft sessions only. If the question happened to
// be the live one, the session's pointer pair is cleared too.
func (h *Handler) Delete(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid question id")
		return
	}
	q, err := h.repo.GetByID(c.Request.Context(), id)
	if err != nil {
		response.FromError(c, fmt.Errorf("question %w", err))
		return
	}
	s, err := h.sessions.GetByID(c.Request.Context(), q.SessionID)
	if err != nil {
		response.FromError(c, fmt.Errorf("session %w", err))
		return
	}
	if err := ValidateStructural(s.Status); err != nil {
		response.FromError(c, err)
		return
	}

	ctx := c.Request.Context()
	if err := h.responses.DeleteAllForQuestion(ctx, q.ID); err != nil {
		h.logger.Error("delete question responses", zap.Error(err))
		response.Internal(c, "failed to delete question responses")
		return
	}
	if err := h.repo.Delete(ctx, q.ID); err != nil {
		response.FromError(c, err)
		return
	}
	if s.ActiveQuestionID != nil && *s.ActiveQuestionID == q.ID {
		if err := h.sessions.SetActiveQuestion(ctx, s.ID, nil); err != nil {
			h.logger.Warn("clear live pointer after delete", zap.Error(err))
		}
	}
	response.NoContent(c)
}

// ReorderRequest is the body for PUT /sessions/:id/questions/order: the
// full ordered list of question ids.
type ReorderRequest struct {
	QuestionIDs []uuid.UUID `json:"question_ids" binding:"required"`
}

// Reorder handles PUT /sessions/:id/questions/order. Every listed question
// gets its position in the list as sort_order; ids from other sessions are
// left untouched.
func (h *Handler) Reorder(c *gin.Context) {
	sessionID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid session id")
		return
	}
	var req ReorderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	s, err := h.sessions.GetByID(c.Request.Context(), sessionID)
	if err != nil {
		response.FromError(c, fmt.Errorf("session %w", err))
		return
	}
	if err := ValidateStructural(s.Status); err != nil {
		response.FromError(c, err)
		return
	}
	if err := h.repo.Reorder(c.Request.Context(), sessionID, req.QuestionIDs); err != nil {
		h.logger.Error("reorder questions", zap.Error(err))
		response.Internal(c, "failed to reorder questions")
		return
	}
	h.publisher.Publish(sessionID, realtime.EventQuestionsReordered, gin.H{"question_ids": req.QuestionIDs})
	response.OK(c, gin.H{"id": sessionID, "question_ids": req.QuestionIDs})
}

// UploadOptionImage handles POST /questions/:id/options/:index/image
// (multipart). Multiple choice questions only; the image attaches to the
// option at the given index and replaces whatever was there.
func (h *Handler) UploadOptionImage(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid question id")
		return
	}
	index, err := strconv.Atoi(c.Param("index"))
	if err != nil || index < 0 {
		response.BadRequest(c, "invalid option index")
		return
	}
	if h.images == nil {
		response.ServiceUnavailable(c, "image storage is not configured")
		return
	}
	q, err := h.repo.GetByID(c.Request.Context(), id)
	if err != nil {
		response.FromError(c, fmt.Errorf("question %w", err))
		return
	}
	s, err := h.sessions.GetByID(c.Request.Context(), q.SessionID)
	if err != nil {
		response.FromError(c, fmt.Errorf("session %w", err))
		return
	}
	if q.Type != models.TypeMultipleChoice {
		response.BadRequest(c, "only multiple choice questions carry option images")
		return
	}
	if index >= len(q.Options) {
		response.BadRequest(c, "option index out of range")
		return
	}
	keys := make([]string, len(q.Options))
	copy(keys, q.OptionImageKeys)
	if err := ValidateUpdate(s.Status, UpdateRequest{OptionImageKeys: &keys}); err != nil {
		response.FromError(c, err)
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

	key := storage.OptionImageKey(q.ID.String(), index, contentType)
	if _, err := h.images.Upload(c.Request.Context(), key, contentType, file); err != nil {
		h.logger.Error("upload option image", zap.Error(err))
		response.Internal(c, "failed to upload image")
		return
	}
	if old := keys[index]; old != "" && old != key {
		if err := h.images.Delete(c.Request.Context(), old); err != nil {
			h.logger.Warn("delete replaced option image", zap.Error(err), zap.String("key", old))
		}
	}
	keys[index] = key
	q.OptionImageKeys = keys
	if err := h.repo.Update(c.Request.Context(), q); err != nil {
		response.FromError(c, err)
		return
	}
	response.OK(c, q)
}

// Results handles GET /questions/:id/results: the response collaborator's
// aggregate, passed through.
func (h *Handler) Results(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid question id")
		return
	}
	if _, err := h.repo.GetByID(c.Request.Context(), id); err != nil {
		response.FromError(c, fmt.Errorf("question %w", err))
		return
	}
	agg, err := h.responses.Aggregate(c.Request.Context(), id)
	if err != nil {
		h.logger.Error("aggregate responses", zap.Error(err))
		response.Internal(c, "failed to aggregate responses")
		return
	}
	response.OK(c, agg)
}
