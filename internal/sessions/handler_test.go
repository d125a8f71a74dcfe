package sessions

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/pollstream/backend/internal/models"
	"github.com/pollstream/backend/pkg/queue"
)

// memSessionRepo is an in-memory Store. The shared ops log records the
// order of side effects across collaborators.
type memSessionRepo struct {
	byID        map[uuid.UUID]*models.Session
	ops         *[]string
	createErrs  []error
	createCalls int
}

func newMemSessionRepo(ops *[]string) *memSessionRepo {
	return &memSessionRepo{byID: map[uuid.UUID]*models.Session{}, ops: ops}
}

func (m *memSessionRepo) add(s *models.Session) *models.Session {
	if s.ID == (uuid.UUID{}) {
		s.ID = uuid.New()
	}
	m.byID[s.ID] = s
	return s
}

func (m *memSessionRepo) record(op string) {
	if m.ops != nil {
		*m.ops = append(*m.ops, op)
	}
}

func (m *memSessionRepo) Create(_ context.Context, s *models.Session) error {
	m.createCalls++
	if len(m.createErrs) > 0 {
		err := m.createErrs[0]
		m.createErrs = m.createErrs[1:]
		if err != nil {
			return err
		}
	}
	s.ID = uuid.New()
	s.Status = models.StatusDraft
	cp := *s
	m.byID[s.ID] = &cp
	return nil
}

func (m *memSessionRepo) GetByID(_ context.Context, id uuid.UUID) (*models.Session, error) {
	s, ok := m.byID[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	return s, nil
}

func (m *memSessionRepo) GetByCode(_ context.Context, code string) (*models.Session, error) {
	for _, s := range m.byID {
		if s.Code == code {
			return s, nil
		}
	}
	return nil, models.ErrNotFound
}

func (m *memSessionRepo) ListByPresenter(_ context.Context, presenterID string) ([]models.Session, error) {
	var list []models.Session
	for _, s := range m.byID {
		if s.PresenterID == presenterID {
			list = append(list, *s)
		}
	}
	return list, nil
}

func (m *memSessionRepo) UpdateStatus(_ context.Context, id uuid.UUID, status models.SessionStatus) error {
	s, ok := m.byID[id]
	if !ok {
		return models.ErrNotFound
	}
	s.Status = status
	return nil
}

func (m *memSessionRepo) SetActiveQuestion(_ context.Context, id uuid.UUID, questionID *uuid.UUID) error {
	s, ok := m.byID[id]
	if !ok {
		return models.ErrNotFound
	}
	s.ActiveQuestionID = questionID
	if questionID == nil {
		s.QuestionStartedAt = nil
		m.record("clear_pointer")
	} else {
		now := time.Now()
		s.QuestionStartedAt = &now
		m.record("set_pointer")
	}
	return nil
}

func (m *memSessionRepo) UpdateTitle(_ context.Context, id uuid.UUID, title string) error {
	s, ok := m.byID[id]
	if !ok {
		return models.ErrNotFound
	}
	s.Title = title
	return nil
}

func (m *memSessionRepo) UpdateMaxParticipants(_ context.Context, id uuid.UUID, max *int) error {
	s, ok := m.byID[id]
	if !ok {
		return models.ErrNotFound
	}
	s.MaxParticipants = max
	return nil
}

func (m *memSessionRepo) UpdateBranding(_ context.Context, id uuid.UUID, color, logoKey *string) error {
	s, ok := m.byID[id]
	if !ok {
		return models.ErrNotFound
	}
	if color != nil {
		s.BrandColor = color
	}
	if logoKey != nil {
		s.BrandLogoKey = logoKey
	}
	return nil
}

func (m *memSessionRepo) ClearBrandLogo(_ context.Context, id uuid.UUID) error {
	s, ok := m.byID[id]
	if !ok {
		return models.ErrNotFound
	}
	s.BrandLogoKey = nil
	return nil
}

type memEnqueuer struct {
	ops   *[]string
	steps []queue.CascadePayload
}

func (m *memEnqueuer) EnqueueCascade(_ context.Context, step queue.CascadePayload) error {
	if m.ops != nil {
		*m.ops = append(*m.ops, "enqueue")
	}
	m.steps = append(m.steps, step)
	return nil
}

type memQuestionCopier struct {
	bySession map[uuid.UUID][]models.Question
}

func (m *memQuestionCopier) GetByID(context.Context, uuid.UUID) (*models.Question, error) {
	return nil, models.ErrNotFound
}

func (m *memQuestionCopier) ListBySession(_ context.Context, sessionID uuid.UUID) ([]models.Question, error) {
	return m.bySession[sessionID], nil
}

func (m *memQuestionCopier) CreateCopy(_ context.Context, sessionID uuid.UUID, q models.Question) error {
	if m.bySession == nil {
		m.bySession = map[uuid.UUID][]models.Question{}
	}
	q.SessionID = sessionID
	m.bySession[sessionID] = append(m.bySession[sessionID], q)
	return nil
}

func (m *memQuestionCopier) CountBySession(_ context.Context, sessionID uuid.UUID) (int, error) {
	return len(m.bySession[sessionID]), nil
}

type memImages struct {
	copies  [][2]string
	deleted []string
}

func (m *memImages) Upload(_ context.Context, key, _ string, _ io.Reader) (string, error) {
	return key, nil
}

func (m *memImages) Copy(_ context.Context, srcKey, dstKey string) error {
	m.copies = append(m.copies, [2]string{srcKey, dstKey})
	return nil
}

func (m *memImages) Delete(_ context.Context, key string) error {
	m.deleted = append(m.deleted, key)
	return nil
}

func (m *memImages) PresignDownload(_ context.Context, key string) (string, error) {
	return "https://images.test/" + key, nil
}

func newSessionRouter(h *Handler) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.POST("/sessions/:id/reset", h.Reset)
	r.POST("/sessions/:id/duplicate", h.Duplicate)
	r.GET("/sessions/:id/branding-image", h.BrandingImageURL)
	return r
}

func TestResetClearsLivePointerBeforeEnqueue(t *testing.T) {
	var ops []string
	repo := newMemSessionRepo(&ops)
	qid := uuid.New()
	startedAt := time.Now()
	s := repo.add(&models.Session{
		Status:            models.StatusActive,
		ActiveQuestionID:  &qid,
		QuestionStartedAt: &startedAt,
	})
	enq := &memEnqueuer{ops: &ops}
	h := NewHandler(repo, nil, nil, nil, enq, nil, nil, nil)

	req := httptest.NewRequest(http.MethodPost, "/sessions/"+s.ID.String()+"/reset", nil)
	w := httptest.NewRecorder()
	newSessionRouter(h).ServeHTTP(w, req)
	if w.Code != http.StatusAccepted {
		t.Fatalf("reset status = %d, want 202: %s", w.Code, w.Body.String())
	}

	if s.ActiveQuestionID != nil {
		t.Error("active question id survived reset")
	}
	if s.QuestionStartedAt != nil {
		t.Error("question started at survived reset")
	}
	if len(ops) != 2 || ops[0] != "clear_pointer" || ops[1] != "enqueue" {
		t.Fatalf("side-effect order = %v, want [clear_pointer enqueue]", ops)
	}
	if len(enq.steps) != 1 {
		t.Fatalf("enqueued %d steps, want 1", len(enq.steps))
	}
	step := enq.steps[0]
	if step.SessionID != s.ID || step.Kind != queue.CascadeReset || step.Phase != queue.PhaseResponses {
		t.Errorf("step = %+v, want reset cascade starting at responses", step)
	}
}

func TestDuplicateReallocatesCodeOnInsertRace(t *testing.T) {
	repo := newMemSessionRepo(nil)
	src := repo.add(&models.Session{Code: "AAAAAA", Title: "Quiz", Status: models.StatusEnded})
	repo.createErrs = []error{&pgconn.PgError{Code: "23505"}}
	h := NewHandler(repo, &memQuestionCopier{}, nil, nil, nil, nil, nil, nil)

	req := httptest.NewRequest(http.MethodPost, "/sessions/"+src.ID.String()+"/duplicate", nil)
	w := httptest.NewRecorder()
	newSessionRouter(h).ServeHTTP(w, req)
	if w.Code != http.StatusCreated {
		t.Fatalf("duplicate status = %d, want 201: %s", w.Code, w.Body.String())
	}
	if repo.createCalls != 2 {
		t.Errorf("insert attempts = %d, want 2 (retry after unique violation)", repo.createCalls)
	}
	if len(repo.byID) != 2 {
		t.Fatalf("sessions stored = %d, want 2", len(repo.byID))
	}
	for id, s := range repo.byID {
		if id == src.ID {
			continue
		}
		if s.Code == "" || s.Code == src.Code {
			t.Errorf("duplicate code = %q, want a fresh code", s.Code)
		}
		if s.Title != src.Title {
			t.Errorf("duplicate title = %q, want %q", s.Title, src.Title)
		}
	}
}

func TestDuplicateCopiesLogoToFreshKey(t *testing.T) {
	repo := newMemSessionRepo(nil)
	src := repo.add(&models.Session{Code: "AAAAAA", Title: "Quiz", Status: models.StatusDraft})
	srcKey := "branding/" + src.ID.String() + ".png"
	src.BrandLogoKey = &srcKey
	images := &memImages{}
	h := NewHandler(repo, &memQuestionCopier{}, nil, nil, nil, nil, images, nil)

	req := httptest.NewRequest(http.MethodPost, "/sessions/"+src.ID.String()+"/duplicate", nil)
	w := httptest.NewRecorder()
	newSessionRouter(h).ServeHTTP(w, req)
	if w.Code != http.StatusCreated {
		t.Fatalf("duplicate status = %d, want 201: %s", w.Code, w.Body.String())
	}

	var dup *models.Session
	for id, s := range repo.byID {
		if id != src.ID {
			dup = s
		}
	}
	if dup == nil {
		t.Fatal("duplicate session not stored")
	}
	if len(images.copies) != 1 {
		t.Fatalf("object copies = %d, want 1", len(images.copies))
	}
	copied := images.copies[0]
	wantDst := "branding/" + dup.ID.String() + ".png"
	if copied[0] != srcKey || copied[1] != wantDst {
		t.Errorf("copied %v, want [%s %s]", copied, srcKey, wantDst)
	}
	if dup.BrandLogoKey == nil || *dup.BrandLogoKey != wantDst {
		t.Errorf("duplicate logo key = %v, want %s", dup.BrandLogoKey, wantDst)
	}
	if *src.BrandLogoKey != srcKey {
		t.Errorf("source logo key changed to %s", *src.BrandLogoKey)
	}
}

func TestBrandingImageURLPresignsLogo(t *testing.T) {
	repo := newMemSessionRepo(nil)
	key := "branding/logo.png"
	s := repo.add(&models.Session{Status: models.StatusActive, BrandLogoKey: &key})
	bare := repo.add(&models.Session{Status: models.StatusActive})
	h := NewHandler(repo, nil, nil, nil, nil, nil, &memImages{}, nil)
	router := newSessionRouter(h)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet,
		"/sessions/"+s.ID.String()+"/branding-image", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", w.Code, w.Body.String())
	}
	if !bytes.Contains(w.Body.Bytes(), []byte("https://images.test/"+key)) {
		t.Errorf("body %s missing presigned url", w.Body.String())
	}

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet,
		"/sessions/"+bare.ID.String()+"/branding-image", nil))
	if w.Code != http.StatusNotFound {
		t.Errorf("status for session without logo = %d, want 404", w.Code)
	}
}
