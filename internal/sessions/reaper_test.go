package sessions

import (
	"context"
	"errors"
	"testing"
	"time"
)

type mockStaleEnder struct {
	cutoffs []time.Time
	ended   int64
	err     error
}

func (m *mockStaleEnder) EndStaleActive(_ context.Context, cutoff time.Time) (int64, error) {
	m.cutoffs = append(m.cutoffs, cutoff)
	return m.ended, m.err
}

func TestSweepUsesCreationAgeCutoff(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	store := &mockStaleEnder{ended: 3}
	r := NewReaper(store, time.Hour, 24*time.Hour, nil)
	r.now = func() time.Time { return now }

	if err := r.Sweep(context.Background()); err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if len(store.cutoffs) != 1 {
		t.Fatalf("EndStaleActive called %d times, want 1", len(store.cutoffs))
	}
	want := now.Add(-24 * time.Hour)
	if !store.cutoffs[0].Equal(want) {
		t.Fatalf("cutoff = %v, want %v", store.cutoffs[0], want)
	}
}

func TestSweepPropagatesStoreError(t *testing.T) {
	boom := errors.New("connection reset")
	r := NewReaper(&mockStaleEnder{err: boom}, time.Hour, 24*time.Hour, nil)

	if err := r.Sweep(context.Background()); !errors.Is(err, boom) {
		t.Fatalf("expected store error, got %v", err)
	}
}

func TestRunStopsOnContextCancel(t *testing.T) {
	r := NewReaper(&mockStaleEnder{}, 10*time.Millisecond, 24*time.Hour, nil)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		r.Run(ctx)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not stop after cancel")
	}
}
