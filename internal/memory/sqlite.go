package memory

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// SQLiteStore persists session logs in a local SQLite file. This is the
// durable default when no Postgres URL is configured: every append commits
// with synchronous=FULL, so a successful return survives a crash.
type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(ctx context.Context, path string) (*SQLiteStore, error) {
	// _txlock=immediate makes write transactions take the write lock at
	// BEGIN, which serializes concurrent appenders instead of failing them
	// with SQLITE_BUSY at commit.
	dsn := fmt.Sprintf("file:%s?_txlock=immediate&_pragma=journal_mode(WAL)&_pragma=synchronous(FULL)&_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("%w: open sqlite: %v", ErrStorage, err)
	}

	if err := initSQLiteSchema(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &SQLiteStore{db: db}, nil
}

func initSQLiteSchema(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS turns (
		session_id TEXT NOT NULL,
		turn_index INTEGER NOT NULL,
		id TEXT NOT NULL,
		role TEXT NOT NULL,
		content TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL,
		PRIMARY KEY (session_id, turn_index)
	)`)
	if err != nil {
		return fmt.Errorf("%w: init schema: %v", ErrStorage, err)
	}
	return nil
}

func (s *SQLiteStore) Append(ctx context.Context, sessionID string, role Role, content string) (Turn, error) {
	var turn Turn
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		var err error
		turn, err = appendTurnSQLite(ctx, tx, sessionID, role, content)
		return err
	})
	if err != nil {
		return Turn{}, err
	}
	return turn, nil
}

func (s *SQLiteStore) AppendExchange(ctx context.Context, sessionID, userContent, assistantContent string) (Turn, Turn, error) {
	var user, assistant Turn
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		var err error
		if user, err = appendTurnSQLite(ctx, tx, sessionID, RoleUser, userContent); err != nil {
			return err
		}
		assistant, err = appendTurnSQLite(ctx, tx, sessionID, RoleAssistant, assistantContent)
		return err
	})
	if err != nil {
		return Turn{}, Turn{}, err
	}
	return user, assistant, nil
}

func (s *SQLiteStore) inTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: begin: %v", ErrStorage, err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit: %v", ErrStorage, err)
	}
	return nil
}

func appendTurnSQLite(ctx context.Context, tx *sql.Tx, sessionID string, role Role, content string) (Turn, error) {
	var next int
	err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(turn_index) + 1, 0) FROM turns WHERE session_id = ?`,
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
	_, err = tx.ExecContext(ctx,
		`INSERT INTO turns (session_id, turn_index, id, role, content, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		turn.SessionID, turn.TurnIndex, turn.ID, turn.Role, turn.Content, turn.CreatedAt,
	)
	if err != nil {
		return Turn{}, fmt.Errorf("%w: insert turn: %v", ErrStorage, err)
	}
	return turn, nil
}

func (s *SQLiteStore) Tail(ctx context.Context, sessionID string, n int) ([]Turn, error) {
	if n <= 0 {
		return nil, nil
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, turn_index, role, content, created_at
		 FROM turns WHERE session_id = ? ORDER BY turn_index DESC LIMIT ?`,
		sessionID, n,
	)
	if err != nil {
		return nil, fmt.Errorf("%w: query tail: %v", ErrStorage, err)
	}
	defer rows.Close()

	turns, err := scanTurns(rows)
	if err != nil {
		return nil, err
	}
	reverseTurns(turns)
	return turns, nil
}

func scanTurns(rows *sql.Rows) ([]Turn, error) {
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
	return turns, nil
}

// reverseTurns flips a DESC-ordered tail into chronological order.
func reverseTurns(turns []Turn) {
	for i, j := 0, len(turns)-1; i < j; i, j = i+1, j-1 {
		turns[i], turns[j] = turns[j], turns[i]
	}
}

func (s *SQLiteStore) Clear(ctx context.Context, sessionID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM turns WHERE session_id = ?`, sessionID); err != nil {
		return fmt.Errorf("%w: clear session: %v", ErrStorage, err)
	}
	return nil
}

func (s *SQLiteStore) Close() error { return s.db.Close() }
