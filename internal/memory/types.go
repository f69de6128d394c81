package memory

import (
	"context"
	"errors"
	"time"
)

// Role tags who produced a turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is one immutable entry in a session's append-only log. TurnIndex is
// assigned at append time and is strictly increasing, gap-free per session.
type Turn struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id"`
	TurnIndex int       `json:"turn_index"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// ErrStorage wraps any store failure. Storage failures are fatal for the
// call that hit them: an exchange the system cannot remember is reported as
// failed even if the backend already produced a response.
var ErrStorage = errors.New("session storage failed")

// Store persists and retrieves the per-session turn log.
//
// Tail returns the last n turns in chronological order; n <= 0 returns no
// turns.
//
// Appends on the same session are serialized by the implementation so that
// turn_index assignment is race-free; appends on different sessions do not
// block each other. AppendExchange persists a user/assistant pair atomically:
// after a failure mid-pair, neither turn is visible.
type Store interface {
	Append(ctx context.Context, sessionID string, role Role, content string) (Turn, error)
	AppendExchange(ctx context.Context, sessionID, userContent, assistantContent string) (Turn, Turn, error)
	Tail(ctx context.Context, sessionID string, n int) ([]Turn, error)
	Clear(ctx context.Context, sessionID string) error
	Close() error
}
