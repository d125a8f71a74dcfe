package sessions

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"

	"github.com/pollstream/backend/internal/models"
)

// codeAlphabet is the 32-symbol join-code alphabet. Visually ambiguous
// glyphs (I, O, 0, 1) are excluded so audiences can type codes from a
// projected screen without mistakes.
const codeAlphabet = "23456789ABCDEFGHJKLMNPQRSTUVWXYZ"

const (
	// CodeLength is the standard join-code length. 32^6 candidates make
	// collisions astronomically unlikely at expected session volumes.
	CodeLength = 6
	// fallbackCodeLength is tried once when the retry cap is hit.
	fallbackCodeLength = 8
	// maxAllocateAttempts bounds the generate-and-check loop.
	maxAllocateAttempts = 32
)

// CodeLookup resolves a join code to an existing session. Implementations
// return models.ErrNotFound when the code is free.
type CodeLookup interface {
	GetByCode(ctx context.Context, code string) (*models.Session, error)
}

// GenerateCode draws n independent characters from the code alphabet.
// The alphabet length divides 256, so a byte modulo draw is unbiased.
func GenerateCode(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("read random: %w", err)
	}
	for i, b := range buf {
		buf[i] = codeAlphabet[int(b)%len(codeAlphabet)]
	}
	return string(buf), nil
}

// AllocateCode returns a join code no existing session holds. The check and
// the caller's insert are separate steps; the unique index on sessions.code
// closes the remaining race, with the caller retrying on conflict.
func AllocateCode(ctx context.Context, lookup CodeLookup) (string, error) {
	for attempt := 0; attempt < maxAllocateAttempts; attempt++ {
		code, err := GenerateCode(CodeLength)
		if err != nil {
			return "", err
		}
		free, err := codeIsFree(ctx, lookup, code)
		if err != nil {
			return "", err
		}
		if free {
			return code, nil
		}
	}

	// Retry cap hit: try one longer code before giving up.
	code, err := GenerateCode(fallbackCodeLength)
	if err != nil {
		return "", err
	}
	free, err := codeIsFree(ctx, lookup, code)
	if err != nil {
		return "", err
	}
	if free {
		return code, nil
	}
	return "", models.ErrCodeSpaceExhausted
}

func codeIsFree(ctx context.Context, lookup CodeLookup, code string) (bool, error) {
	_, err := lookup.GetByCode(ctx, code)
	if errors.Is(err, models.ErrNotFound) {
		return true, nil
	}
	if err != nil {
		return false, err
	}
	return false, nil
}
