// Package vector maintains the semantic index over persisted turns.
// The index is best-effort: it is only ever written after the corresponding
// turn is durably appended, and losing it degrades retrieval quality without
// corrupting the session log.
package vector

import (
	"context"
	"errors"
)

// Entry points back at one durably appended turn.
type Entry struct {
	SessionID string
	TurnIndex int
	Role      string
	Snippet   string
	Embedding []float32
}

// Result pairs an entry with its cosine similarity to the query vector.
type Result struct {
	Entry
	Score float32
}

var ErrIndexUnavailable = errors.New("vector index unavailable")

// Index is the similarity-search capability.
//
// Insert is idempotent per (session_id, turn_index): re-inserting replaces
// the previous entry. Query returns at most k results, highest score first,
// ties broken toward the more recent turn, and never crosses sessions.
type Index interface {
	Insert(ctx context.Context, entry Entry) error
	Query(ctx context.Context, sessionID string, embedding []float32, k int) ([]Result, error)
	DeleteSession(ctx context.Context, sessionID string) error
	Close() error
}
