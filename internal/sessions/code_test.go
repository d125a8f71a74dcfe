package sessions

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/pollstream/backend/internal/models"
)

// mockLookup marks codes as taken and records lookups.
type mockLookup struct {
	taken   map[string]bool
	takeAll bool
	lookups int
}

func (m *mockLookup) GetByCode(_ context.Context, code string) (*models.Session, error) {
	m.lookups++
	if m.takeAll || m.taken[code] {
		return &models.Session{Code: code}, nil
	}
	return nil, models.ErrNotFound
}

func TestGenerateCodeAlphabet(t *testing.T) {
	for i := 0; i < 200; i++ {
		code, err := GenerateCode(CodeLength)
		if err != nil {
			t.Fatalf("GenerateCode: %v", err)
		}
		if len(code) != CodeLength {
			t.Fatalf("code %q has length %d, want %d", code, len(code), CodeLength)
		}
		for _, ch := range code {
			if !strings.ContainsRune(codeAlphabet, ch) {
				t.Fatalf("code %q contains %q outside the alphabet", code, ch)
			}
		}
		for _, banned := range "IO01" {
			if strings.ContainsRune(code, banned) {
				t.Fatalf("code %q contains ambiguous glyph %q", code, banned)
			}
		}
	}
}

func TestAllocateCodeSequentialUniqueness(t *testing.T) {
	lookup := &mockLookup{taken: make(map[string]bool)}
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		code, err := AllocateCode(context.Background(), lookup)
		if err != nil {
			t.Fatalf("AllocateCode: %v", err)
		}
		if seen[code] {
			t.Fatalf("code %q allocated twice", code)
		}
		seen[code] = true
		// Simulate the caller's insert so later allocations see it.
		lookup.taken[code] = true
	}
}

func TestAllocateCodeRetriesCollisions(t *testing.T) {
	// Every standard-length code reads as taken; only the longer
	// fallback can succeed.
	takenSix := &sixCharTaken{}
	code, err := AllocateCode(context.Background(), takenSix)
	if err != nil {
		t.Fatalf("AllocateCode: %v", err)
	}
	if len(code) != fallbackCodeLength {
		t.Fatalf("expected %d-char fallback code, got %q", fallbackCodeLength, code)
	}
	if takenSix.lookups != maxAllocateAttempts+1 {
		t.Fatalf("lookups = %d, want %d", takenSix.lookups, maxAllocateAttempts+1)
	}
}

// sixCharTaken rejects every standard-length code and accepts longer ones.
type sixCharTaken struct {
	lookups int
}

func (m *sixCharTaken) GetByCode(_ context.Context, code string) (*models.Session, error) {
	m.lookups++
	if len(code) == CodeLength {
		return &models.Session{Code: code}, nil
	}
	return nil, models.ErrNotFound
}

func TestAllocateCodeExhausted(t *testing.T) {
	lookup := &mockLookup{takeAll: true}
	_, err := AllocateCode(context.Background(), lookup)
	if !errors.Is(err, models.ErrCodeSpaceExhausted) {
		t.Fatalf("expected ErrCodeSpaceExhausted, got %v", err)
	}
	if lookup.lookups != maxAllocateAttempts+1 {
		t.Fatalf("lookups = %d, want capped at %d", lookup.lookups, maxAllocateAttempts+1)
	}
}

func TestAllocateCodePropagatesLookupErrors(t *testing.T) {
	boom := errors.New("connection refused")
	_, err := AllocateCode(context.Background(), failingLookup{err: boom})
	if !errors.Is(err, boom) {
		t.Fatalf("expected lookup error to propagate, got %v", err)
	}
}

type failingLookup struct{ err error }

func (f failingLookup) GetByCode(context.Context, string) (*models.Session, error) {
	return nil, f.err
}
