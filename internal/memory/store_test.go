package memory

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
)

// storeUnderTest builds each backend that can run without external services.
func storesUnderTest(t *testing.T) map[string]Store {
	t.Helper()
	sqlite, err := NewSQLiteStore(context.Background(), filepath.Join(t.TempDir(), "relay.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore() error = %v", err)
	}
	t.Cleanup(func() { _ = sqlite.Close() })
	return map[string]Store{
		"inmemory": NewInMemoryStore(),
		"sqlite":   sqlite,
	}
}

func TestAppendOrdering(t *testing.T) {
	for name, store := range storesUnderTest(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			contents := []string{"A", "B", "C"}
			for i, c := range contents {
				turn, err := store.Append(ctx, "s1", RoleUser, c)
				if err != nil {
					t.Fatalf("Append(%q) error = %v", c, err)
				}
				if turn.TurnIndex != i {
					t.Fatalf("Append(%q) index = %d, want %d", c, turn.TurnIndex, i)
				}
			}

			tail, err := store.Tail(ctx, "s1", 3)
			if err != nil {
				t.Fatalf("Tail() error = %v", err)
			}
			if len(tail) != 3 {
				t.Fatalf("len(tail) = %d, want 3", len(tail))
			}
			for i, c := range contents {
				if tail[i].Content != c {
					t.Fatalf("tail[%d] = %q, want %q", i, tail[i].Content, c)
				}
				if tail[i].TurnIndex != i {
					t.Fatalf("tail[%d] index = %d, want %d", i, tail[i].TurnIndex, i)
				}
			}
		})
	}
}

func TestTailBounds(t *testing.T) {
	for name, store := range storesUnderTest(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			for i := 0; i < 10; i++ {
				if _, err := store.Append(ctx, "s1", RoleUser, fmt.Sprintf("turn-%d", i)); err != nil {
					t.Fatalf("Append() error = %v", err)
				}
			}

			tail, err := store.Tail(ctx, "s1", 2)
			if err != nil {
				t.Fatalf("Tail() error = %v", err)
			}
			if len(tail) != 2 {
				t.Fatalf("len(tail) = %d, want 2", len(tail))
			}
			if tail[0].Content != "turn-8" || tail[1].Content != "turn-9" {
				t.Fatalf("tail = [%q %q], want the last two turns", tail[0].Content, tail[1].Content)
			}

			empty, err := store.Tail(ctx, "never-seen", 5)
			if err != nil {
				t.Fatalf("Tail(unknown) error = %v", err)
			}
			if len(empty) != 0 {
				t.Fatalf("unknown session tail = %d turns, want 0", len(empty))
			}
		})
	}
}

func TestAppendExchangePairsAreAdjacent(t *testing.T) {
	for name, store := range storesUnderTest(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			user, assistant, err := store.AppendExchange(ctx, "s1", "question", "answer")
			if err != nil {
				t.Fatalf("AppendExchange() error = %v", err)
			}
			if user.TurnIndex != 0 || assistant.TurnIndex != 1 {
				t.Fatalf("indices = %d/%d, want 0/1", user.TurnIndex, assistant.TurnIndex)
			}
			if user.Role != RoleUser || assistant.Role != RoleAssistant {
				t.Fatalf("roles = %q/%q", user.Role, assistant.Role)
			}
		})
	}
}

func TestConcurrentExchangesNoDuplicateIndices(t *testing.T) {
	for name, store := range storesUnderTest(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			const workers = 8

			var wg sync.WaitGroup
			errs := make(chan error, workers)
			for i := 0; i < workers; i++ {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					u, a, err := store.AppendExchange(ctx, "s1", fmt.Sprintf("q%d", i), fmt.Sprintf("a%d", i))
					if err != nil {
						errs <- err
						return
					}
					if a.TurnIndex != u.TurnIndex+1 {
						errs <- fmt.Errorf("pair not adjacent: %d/%d", u.TurnIndex, a.TurnIndex)
					}
				}(i)
			}
			wg.Wait()
			close(errs)
			for err := range errs {
				t.Fatalf("concurrent exchange: %v", err)
			}

			tail, err := store.Tail(ctx, "s1", workers*2)
			if err != nil {
				t.Fatalf("Tail() error = %v", err)
			}
			if len(tail) != workers*2 {
				t.Fatalf("len(tail) = %d, want %d", len(tail), workers*2)
			}
			seen := make(map[int]bool, len(tail))
			for _, turn := range tail {
				if seen[turn.TurnIndex] {
					t.Fatalf("duplicate turn_index %d", turn.TurnIndex)
				}
				seen[turn.TurnIndex] = true
			}
			for i := 0; i < workers*2; i++ {
				if !seen[i] {
					t.Fatalf("missing turn_index %d", i)
				}
			}
		})
	}
}

func TestSessionsAreIndependent(t *testing.T) {
	for name, store := range storesUnderTest(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			if _, err := store.Append(ctx, "s1", RoleUser, "s1 turn"); err != nil {
				t.Fatalf("Append(s1) error = %v", err)
			}
			turn, err := store.Append(ctx, "s2", RoleUser, "s2 turn")
			if err != nil {
				t.Fatalf("Append(s2) error = %v", err)
			}
			if turn.TurnIndex != 0 {
				t.Fatalf("s2 first index = %d, want 0", turn.TurnIndex)
			}

			if err := store.Clear(ctx, "s1"); err != nil {
				t.Fatalf("Clear(s1) error = %v", err)
			}
			gone, _ := store.Tail(ctx, "s1", 10)
			if len(gone) != 0 {
				t.Fatalf("cleared session still has %d turns", len(gone))
			}
			kept, _ := store.Tail(ctx, "s2", 10)
			if len(kept) != 1 {
				t.Fatalf("unrelated session lost turns: %d", len(kept))
			}
		})
	}
}

func TestSQLiteSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "relay.db")

	store, err := NewSQLiteStore(ctx, path)
	if err != nil {
		t.Fatalf("NewSQLiteStore() error = %v", err)
	}
	if _, _, err := store.AppendExchange(ctx, "s1", "hello", "hi there"); err != nil {
		t.Fatalf("AppendExchange() error = %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	reopened, err := NewSQLiteStore(ctx, path)
	if err != nil {
		t.Fatalf("reopen error = %v", err)
	}
	defer reopened.Close()

	tail, err := reopened.Tail(ctx, "s1", 10)
	if err != nil {
		t.Fatalf("Tail() after reopen error = %v", err)
	}
	if len(tail) != 2 {
		t.Fatalf("len(tail) after reopen = %d, want 2", len(tail))
	}
	if tail[0].Content != "hello" || tail[1].Content != "hi there" {
		t.Fatalf("tail after reopen = %q/%q", tail[0].Content, tail[1].Content)
	}
}

func TestNewStoreFactory(t *testing.T) {
	ctx := context.Background()

	s, err := NewStore(ctx, "", "")
	if err != nil {
		t.Fatalf("NewStore() error = %v", err)
	}
	if _, ok := s.(*InMemoryStore); !ok {
		t.Fatalf("NewStore(\"\", \"\") = %T, want *InMemoryStore", s)
	}

	s, err = NewStore(ctx, "", filepath.Join(t.TempDir(), "relay.db"))
	if err != nil {
		t.Fatalf("NewStore(sqlite) error = %v", err)
	}
	defer s.Close()
	if _, ok := s.(*SQLiteStore); !ok {
		t.Fatalf("NewStore(sqlite) = %T, want *SQLiteStore", s)
	}
}
