package models

import "errors"

// Domain errors surfaced by repositories and lifecycle operations.
// Handlers map these onto HTTP statuses in pkg/response.
var (
	// ErrNotFound means the referenced session or question does not exist.
	ErrNotFound = errors.New("not found")
	// ErrInvalidState means the mutation is forbidden in the current session status.
	ErrInvalidState = errors.New("invalid state")
	// ErrCodeSpaceExhausted means the join-code allocator gave up after its retry cap.
	ErrCodeSpaceExhausted = errors.New("join code space exhausted")
)
