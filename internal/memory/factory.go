package memory

import (
	"context"
	"log"
	"strings"
)

// NewStore picks the storage backend: Postgres when DATABASE_URL is set,
// SQLite when a file path is configured, otherwise in-memory.
func NewStore(ctx context.Context, databaseURL, sqlitePath string) (Store, error) {
	if strings.TrimSpace(databaseURL) != "" {
		return NewPostgresStore(ctx, databaseURL)
	}
	if strings.TrimSpace(sqlitePath) != "" {
		return NewSQLiteStore(ctx, sqlitePath)
	}
	log.Printf("memory store: no DATABASE_URL or MEMORY_SQLITE_PATH, sessions will not survive restarts")
	return NewInMemoryStore(), nil
}
