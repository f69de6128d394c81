package memory

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore persists session logs in PostgreSQL.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("%w: connect postgres: %v", ErrStorage, err)
	}

	if err := initPostgresSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	return &PostgresStore{pool: pool}, nil
}

func initPostgresSchema(ctx context.Context, pool *pgxpool.Pool) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS turns (
			session_id TEXT NOT NULL,
			turn_index INTEGER NOT NULL,
			id TEXT NOT NULL,
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			PRIMARY KEY (session_id, turn_index)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_turns_session_created ON turns (session_id, created_at);`,
	}
	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("%w: init schema failed on %q: %v", ErrStorage, stmt, err)
		}
	}
	return nil
}

func (s *PostgresStore) Append(ctx context.Context, sessionID string, role Role, content string) (Turn, error) {
	var turn Turn
	err := s.inTx(ctx, sessionID, func(tx pgx.Tx) error {
		var err error
		turn, err = appendTurnPostgres(ctx, tx, sessionID, role, content)
		return err
	})
	if err != nil {
		return Turn{}, err
	}
	return turn, nil
}

func (s *PostgresStore) AppendExchange(ctx context.Context, sessionID, userContent, assistantContent string) (Turn, Turn, error) {
	var user, assistant Turn
	err := s.inTx(ctx, sessionID, func(tx pgx.Tx) error {
		var err error
		if user, err = appendTurnPostgres(ctx, tx, sessionID, RoleUser, userContent); err != nil {
			return err
		}
		assistant, err = appendTurnPostgres(ctx, tx, sessionID, RoleAssistant, assistantContent)
		return err
	})
	if err != nil {
		return Turn{}, Turn{}, err
	}
	return user, assistant, nil
}

// inTx runs fn in a transaction holding a per-session advisory lock, so
// index assignment is race-free within a session while other sessions
// proceed in parallel.
func (s *PostgresStore) inTx(ctx context.Context, sessionID string, fn func(pgx.Tx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("%w: begin: %v", ErrStorage, err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, sessionID); err != nil {
		return fmt.Errorf("%w: session lock: %v", ErrStorage, err)
	}
	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("%w: commit: %v", ErrStorage, err)
	}
	return nil
}

func appendTurnPostgres(ctx context.Context, tx pgx.Tx, sessionID string, role Role, content string) (Turn, error) {
	var next int
	err := tx.QueryRow(ctx,
		`SELECT COALESCE(MAX(turn_index) + 1, 0) FROM turns WHERE session_id = $1`,
		sessionID,
	).Scan(&next)
	if err != nil {
		return Turn{}, fmt.Errorf("%w: next index: %v", ErrStorage, err)
	}

	turn := Turn{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		TurnIndex: next,
		Role:      role,
		Content:   content,
		CreatedAt: time.Now().UTC(),
	}
	_, err = tx.Exec(ctx,
		`INSERT INTO turns (session_id, turn_index, id, role, content, created_at) VALUES ($1, $2, $3, $4, $5, $6)`,
		turn.SessionID, turn.TurnIndex, turn.ID, turn.Role, turn.Content, turn.CreatedAt,
	)
	if err != nil {
		return Turn{}, fmt.Errorf("%w: insert turn: %v", ErrStorage, err)
	}
	return turn, nil
}

func (s *PostgresStore) Tail(ctx context.Context, sessionID string, n int) ([]Turn, error) {
	if n <= 0 {
		return nil, nil
	}

	rows, err := s.pool.Query(ctx,
		`SELECT id, session_id, turn_index, role, content, created_at
		 FROM turns WHERE session_id = $1 ORDER BY turn_index DESC LIMIT $2`,
		sessionID, n,
	)
	if err != nil {
		return nil, fmt.Errorf("%w: query tail: %v", ErrStorage, err)
	}
	defer rows.Close()

	var turns []Turn
	for rows.Next() {
		var t Turn
		if err := rows.Scan(&t.ID, &t.SessionID, &t.TurnIndex, &t.Role, &t.Content, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("%w: scan turn: %v", ErrStorage, err)
		}
		turns = append(turns, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterate turns: %v", ErrStorage, err)
	}

	reverseTurns(turns)
	return turns, nil
}

func (s *PostgresStore) Clear(ctx context.Context, sessionID string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM turns WHERE session_id = $1`, sessionID); err != nil {
		return fmt.Errorf("%w: clear session: %v", ErrStorage, err)
	}
	return nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
