package cascade

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"

	"github.com/pollstream/backend/pkg/queue"
)

// memStore is an in-memory session-scoped collection.
type memStore struct {
	rows  map[uuid.UUID]int
	calls int
	err   error
}

func newMemStore(sessionID uuid.UUID, n int) *memStore {
	return &memStore{rows: map[uuid.UUID]int{sessionID: n}}
}

func (m *memStore) DeleteBatchBySession(_ context.Context, sessionID uuid.UUID, limit int) (int, error) {
	m.calls++
	if m.err != nil {
		return 0, m.err
	}
	n := m.rows[sessionID]
	if n > limit {
		m.rows[sessionID] = n - limit
		return limit, nil
	}
	m.rows[sessionID] = 0
	return n, nil
}

type memSessions struct {
	deleted map[uuid.UUID]bool
}

func (m *memSessions) Delete(_ context.Context, id uuid.UUID) error {
	if m.deleted == nil {
		m.deleted = make(map[uuid.UUID]bool)
	}
	m.deleted[id] = true
	return nil
}

// runToConvergence feeds each continuation back into the processor the way
// the queue-driven worker would.
func runToConvergence(t *testing.T, p *Processor, first queue.CascadePayload) int {
	t.Helper()
	steps := 0
	next := &first
	for next != nil {
		steps++
		if steps > 1000 {
			t.Fatal("cascade did not converge")
		}
		var err error
		next, err = p.Step(context.Background(), *next)
		if err != nil {
			t.Fatalf("step %d: %v", steps, err)
		}
	}
	return steps
}

func TestDeleteCascadeCompleteness(t *testing.T) {
	sessionID := uuid.New()
	resp := newMemStore(sessionID, 1250)
	parts := newMemStore(sessionID, 70)
	qs := newMemStore(sessionID, 12)
	sess := &memSessions{}
	p := NewProcessor(Stores{Responses: resp, Participants: parts, Questions: qs, Sessions: sess}, 500, nil)

	runToConvergence(t, p, queue.CascadePayload{
		SessionID: sessionID, Kind: queue.CascadeDelete, Phase: queue.PhaseResponses,
	})

	if resp.rows[sessionID] != 0 || parts.rows[sessionID] != 0 || qs.rows[sessionID] != 0 {
		t.Fatalf("rows left: responses=%d participants=%d questions=%d",
			resp.rows[sessionID], parts.rows[sessionID], qs.rows[sessionID])
	}
	if !sess.deleted[sessionID] {
		t.Fatal("session row was not deleted")
	}
}

func TestFullBatchReenqueuesSamePhase(t *testing.T) {
	sessionID := uuid.New()
	resp := newMemStore(sessionID, 500) // exactly one full batch
	p := NewProcessor(Stores{Responses: resp}, 500, nil)

	next, err := p.Step(context.Background(), queue.CascadePayload{
		SessionID: sessionID, Kind: queue.CascadeDelete, Phase: queue.PhaseResponses,
	})
	if err != nil {
		t.Fatal(err)
	}
	// A full batch may mean more rows remain; the same phase runs again
	// and finds zero before advancing.
	if next == nil || next.Phase != queue.PhaseResponses {
		t.Fatalf("expected responses phase again, got %+v", next)
	}
}

func TestShortBatchAdvancesPhase(t *testing.T) {
	sessionID := uuid.New()
	resp := newMemStore(sessionID, 3)
	p := NewProcessor(Stores{Responses: resp}, 500, nil)

	next, err := p.Step(context.Background(), queue.CascadePayload{
		SessionID: sessionID, Kind: queue.CascadeDelete, Phase: queue.PhaseResponses,
	})
	if err != nil {
		t.Fatal(err)
	}
	if next == nil || next.Phase != queue.PhaseParticipants {
		t.Fatalf("expected participants phase, got %+v", next)
	}
}

func TestResetPreservesQuestionsAndSession(t *testing.T) {
	sessionID := uuid.New()
	resp := newMemStore(sessionID, 900)
	parts := newMemStore(sessionID, 40)
	qs := newMemStore(sessionID, 8)
	sess := &memSessions{}
	p := NewProcessor(Stores{Responses: resp, Participants: parts, Questions: qs, Sessions: sess}, 500, nil)

	runToConvergence(t, p, queue.CascadePayload{
		SessionID: sessionID, Kind: queue.CascadeReset, Phase: queue.PhaseResponses,
	})

	if resp.rows[sessionID] != 0 || parts.rows[sessionID] != 0 {
		t.Fatalf("reset left responses=%d participants=%d", resp.rows[sessionID], parts.rows[sessionID])
	}
	if qs.rows[sessionID] != 8 {
		t.Fatalf("reset must not touch questions, %d left of 8", qs.rows[sessionID])
	}
	if qs.calls != 0 {
		t.Fatalf("reset issued %d question deletes", qs.calls)
	}
	if sess.deleted[sessionID] {
		t.Fatal("reset must not delete the session row")
	}
}

func TestStepIdempotence(t *testing.T) {
	sessionID := uuid.New()
	resp := newMemStore(sessionID, 2) // less than one batch remaining
	p := NewProcessor(Stores{Responses: resp}, 500, nil)

	step := queue.CascadePayload{SessionID: sessionID, Kind: queue.CascadeDelete, Phase: queue.PhaseResponses}

	// Run the same step twice, as a crash-and-retry would.
	if _, err := p.Step(context.Background(), step); err != nil {
		t.Fatal(err)
	}
	next, err := p.Step(context.Background(), step)
	if err != nil {
		t.Fatal(err)
	}
	if resp.rows[sessionID] != 0 {
		t.Fatalf("rows = %d after repeated step, want 0", resp.rows[sessionID])
	}
	if next == nil || next.Phase != queue.PhaseParticipants {
		t.Fatalf("repeated step should still advance, got %+v", next)
	}
}

func TestCascadeScopedToOneSession(t *testing.T) {
	target, other := uuid.New(), uuid.New()
	resp := &memStore{rows: map[uuid.UUID]int{target: 600, other: 300}}
	parts := &memStore{rows: map[uuid.UUID]int{target: 5, other: 9}}
	qs := &memStore{rows: map[uuid.UUID]int{target: 3, other: 4}}
	sess := &memSessions{}
	p := NewProcessor(Stores{Responses: resp, Participants: parts, Questions: qs, Sessions: sess}, 500, nil)

	runToConvergence(t, p, queue.CascadePayload{
		SessionID: target, Kind: queue.CascadeDelete, Phase: queue.PhaseResponses,
	})

	if resp.rows[other] != 300 || parts.rows[other] != 9 || qs.rows[other] != 4 {
		t.Fatal("cascade touched another session's rows")
	}
	if sess.deleted[other] {
		t.Fatal("cascade deleted another session")
	}
}

func TestStepErrorSurfaces(t *testing.T) {
	sessionID := uuid.New()
	boom := errors.New("deadlock detected")
	resp := &memStore{rows: map[uuid.UUID]int{sessionID: 10}, err: boom}
	p := NewProcessor(Stores{Responses: resp}, 500, nil)

	_, err := p.Step(context.Background(), queue.CascadePayload{
		SessionID: sessionID, Kind: queue.CascadeDelete, Phase: queue.PhaseResponses,
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected store error to surface, got %v", err)
	}
}

func TestUnknownPhaseRejected(t *testing.T) {
	p := NewProcessor(Stores{}, 500, nil)
	_, err := p.Step(context.Background(), queue.CascadePayload{
		SessionID: uuid.New(), Kind: queue.CascadeDelete, Phase: "archive",
	})
	if err == nil {
		t.Fatal("expected error for unknown phase")
	}
}
