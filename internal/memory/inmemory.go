package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// InMemoryStore keeps session logs in process memory. Durability is limited
// to the process lifetime; it backs dev setups and tests.
type InMemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*sessionLog
}

// sessionLog carries its own lock so appends on different sessions never
// contend with each other.
type sessionLog struct {
	mu    sync.Mutex
	turns []Turn
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{sessions: make(map[string]*sessionLog)}
}

func (s *InMemoryStore) log(sessionID string, create bool) *sessionLog {
	s.mu.RLock()
	l := s.sessions[sessionID]
	s.mu.RUnlock()
	if l != nil || !create {
		return l
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if l = s.sessions[sessionID]; l == nil {
		l = &sessionLog{}
		s.sessions[sessionID] = l
	}
	return l
}

func (s *InMemoryStore) Append(_ context.Context, sessionID string, role Role, content string) (Turn, error) {
	l := s.log(sessionID, true)
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.append(sessionID, role, content), nil
}

func (s *InMemoryStore) AppendExchange(_ context.Context, sessionID, userContent, assistantContent string) (Turn, Turn, error) {
	l := s.log(sessionID, true)
	l.mu.Lock()
	defer l.mu.Unlock()
	user := l.append(sessionID, RoleUser, userContent)
	assistant := l.append(sessionID, RoleAssistant, assistantContent)
	return user, assistant, nil
}

func (l *sessionLog) append(sessionID string, role Role, content string) Turn {
	turn := Turn{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		TurnIndex: len(l.turns),
		Role:      role,
		Content:   content,
		CreatedAt: time.Now().UTC(),
	}
	l.turns = append(l.turns, turn)
	return turn
}

func (s *InMemoryStore) Tail(_ context.Context, sessionID string, n int) ([]Turn, error) {
	if n <= 0 {
		return nil, nil
	}
	l := s.log(sessionID, false)
	if l == nil {
		return nil, nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if n > len(l.turns) {
		n = len(l.turns)
	}
	out := make([]Turn, n)
	copy(out, l.turns[len(l.turns)-n:])
	return out, nil
}

func (s *InMemoryStore) Clear(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, sessionID)
	return nil
}

func (s *InMemoryStore) Close() error { return nil }
