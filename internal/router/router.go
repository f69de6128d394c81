// Package router is the single entry point for one user/assistant exchange:
// assemble context, call the backend, persist the pair, index it.
package router

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/antoniostano/relay/internal/assembler"
	"github.com/antoniostano/relay/internal/config"
	"github.com/antoniostano/relay/internal/embed"
	"github.com/antoniostano/relay/internal/memory"
	"github.com/antoniostano/relay/internal/observability"
	"github.com/antoniostano/relay/internal/policy"
	"github.com/antoniostano/relay/internal/provider"
	"github.com/antoniostano/relay/internal/session"
	"github.com/antoniostano/relay/internal/vector"
)

// ErrEmptyPrompt rejects prompts that are empty after trimming. It is the
// caller's mistake, not a backend failure.
var ErrEmptyPrompt = errors.New("prompt must not be empty")

// Overrides are optional per-request knobs; nil means use the configured value.
type Overrides struct {
	Temperature *float64
	MaxTokens   *int
	MaxHistory  *int
	TopK        *int
}

// Result is one completed exchange.
type Result struct {
	Text         string `json:"text"`
	Backend      string `json:"backend"`
	SessionID    string `json:"session_id,omitempty"`
	TurnIndex    int    `json:"turn_index,omitempty"`
	ContextTurns int    `json:"context_turns"`
}

type Manager struct {
	cfg      config.Config
	adapter  provider.Adapter
	store    memory.Store
	index    vector.Index
	embedder embed.Embedder
	asm      *assembler.Assembler
	registry *session.Registry
	metrics  *observability.Metrics

	indexWG sync.WaitGroup
}

func NewManager(cfg config.Config, adapter provider.Adapter, store memory.Store, index vector.Index, embedder embed.Embedder, asm *assembler.Assembler, registry *session.Registry, metrics *observability.Metrics) *Manager {
	return &Manager{
		cfg:      cfg,
		adapter:  adapter,
		store:    store,
		index:    index,
		embedder: embedder,
		asm:      asm,
		registry: registry,
		metrics:  metrics,
	}
}

// Route runs one exchange. With a non-nil onDelta the backend's text is also
// streamed fragment by fragment; the returned Result always carries the full
// reply.
//
// Persistence is all-or-nothing: on success both turns of the exchange are
// durably appended before Route returns; on any failure neither is. A storage
// failure after generation fails the whole call. Index writes never do.
func (m *Manager) Route(ctx context.Context, sessionID, prompt string, ov Overrides, onDelta provider.DeltaHandler) (Result, error) {
	start := time.Now()

	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		m.countRoute("invalid_input")
		return Result{}, ErrEmptyPrompt
	}
	sessionID = strings.TrimSpace(sessionID)

	opts := m.windowOptions(sessionID, ov)
	window, err := m.asm.Build(ctx, sessionID, prompt, opts)
	if err != nil {
		m.countRoute("storage_error")
		return Result{}, fmt.Errorf("assemble context: %w", err)
	}

	messages := make([]provider.Message, 0, len(window)+1)
	messages = append(messages, window...)
	messages = append(messages, provider.Message{Role: provider.RoleUser, Content: prompt})

	genCtx, cancel := context.WithTimeout(ctx, m.cfg.ProviderTimeout)
	resp, err := m.adapter.Generate(genCtx, messages, m.params(ov), onDelta)
	cancel()
	if err != nil {
		code := ErrorCode(err)
		m.countRoute(code)
		if m.metrics != nil {
			m.metrics.ProviderErrors.WithLabelValues(m.adapter.Backend(), code).Inc()
		}
		return Result{}, err
	}

	result := Result{
		Text:         resp.Text,
		Backend:      resp.Backend,
		SessionID:    sessionID,
		ContextTurns: len(window),
	}

	if m.memoryActive(sessionID) {
		userTurn, assistantTurn, err := m.persistExchange(ctx, sessionID, prompt, resp.Text)
		if err != nil {
			m.countRoute("storage_error")
			return Result{}, fmt.Errorf("persist exchange: %w", err)
		}
		result.TurnIndex = assistantTurn.TurnIndex
		m.indexTurns(userTurn, assistantTurn)

		m.registry.Touch(sessionID)
		if m.metrics != nil {
			m.metrics.SessionEvents.WithLabelValues("exchange").Inc()
			m.metrics.ActiveSessions.Set(float64(m.registry.ActiveCount()))
		}
	}

	m.countRoute("success")
	if m.metrics != nil {
		m.metrics.ObserveRouteLatency(time.Since(start))
		m.metrics.ContextTurns.Observe(float64(len(window)))
	}
	return result, nil
}

// Close drains in-flight background index writes.
func (m *Manager) Close() error {
	m.indexWG.Wait()
	return nil
}

func (m *Manager) memoryActive(sessionID string) bool {
	return m.cfg.MemoryEnabled && sessionID != ""
}

func (m *Manager) windowOptions(sessionID string, ov Overrides) assembler.Options {
	opts := assembler.Options{
		Mode:       assembler.ModeNone,
		MaxHistory: m.cfg.MemoryMaxHistory,
		TopK:       m.cfg.MemoryTopK,
	}
	if m.memoryActive(sessionID) {
		opts.Mode = m.cfg.MemoryMode
	}
	if ov.MaxHistory != nil {
		opts.MaxHistory = *ov.MaxHistory
	}
	if ov.TopK != nil {
		opts.TopK = *ov.TopK
	}
	return opts
}

func (m *Manager) params(ov Overrides) provider.Params {
	p := provider.Params{
		Temperature: m.cfg.Temperature,
		MaxTokens:   m.cfg.MaxTokens,
		System:      m.cfg.SystemPrompt,
	}
	if ov.Temperature != nil {
		p.Temperature = *ov.Temperature
	}
	if ov.MaxTokens != nil {
		p.MaxTokens = *ov.MaxTokens
	}
	return p
}

// persistExchange appends the pair even when the client has already gone
// away: a reply that was produced is either fully remembered or the call
// fails, never half of it.
func (m *Manager) persistExchange(ctx context.Context, sessionID, userContent, assistantContent string) (memory.Turn, memory.Turn, error) {
	if m.cfg.MemoryRedactPII {
		userContent, _ = policy.RedactPII(userContent)
		assistantContent, _ = policy.RedactPII(assistantContent)
	}
	return m.store.AppendExchange(context.WithoutCancel(ctx), sessionID, userContent, assistantContent)
}

// indexTurns writes both turns of a persisted exchange to the vector index.
// Failures are counted and logged, never returned: the log is already
// durable and retrieval simply degrades.
func (m *Manager) indexTurns(turns ...memory.Turn) {
	if m.index == nil || m.embedder == nil {
		return
	}
	if m.cfg.MemoryAsyncIndex {
		m.indexWG.Add(1)
		go func() {
			defer m.indexWG.Done()
			m.doIndexTurns(turns)
		}()
		return
	}
	m.doIndexTurns(turns)
}

func (m *Manager) doIndexTurns(turns []memory.Turn) {
	ctx, cancel := context.WithTimeout(context.Background(), m.cfg.EmbedTimeout+5*time.Second)
	defer cancel()

	for _, turn := range turns {
		embedding, err := m.embedder.Embed(ctx, turn.Content)
		if err != nil {
			m.countIndexInsert("embed_failed")
			log.Printf("index: embedding turn %d of session %s failed: %v", turn.TurnIndex, turn.SessionID, err)
			continue
		}
		err = m.index.Insert(ctx, vector.Entry{
			SessionID: turn.SessionID,
			TurnIndex: turn.TurnIndex,
			Role:      string(turn.Role),
			Snippet:   turn.Content,
			Embedding: embedding,
		})
		if err != nil {
			m.countIndexInsert("error")
			log.Printf("index: inserting turn %d of session %s failed: %v", turn.TurnIndex, turn.SessionID, err)
			continue
		}
		m.countIndexInsert("success")
	}
}

func (m *Manager) countRoute(outcome string) {
	if m.metrics == nil {
		return
	}
	m.metrics.RouteRequests.WithLabelValues(m.adapter.Backend(), outcome).Inc()
}

func (m *Manager) countIndexInsert(outcome string) {
	if m.metrics == nil {
		return
	}
	m.metrics.IndexInserts.WithLabelValues(outcome).Inc()
}

// ErrorCode maps a Route error to its stable code label, used for metrics
// and for client-facing error events.
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, ErrEmptyPrompt):
		return "invalid_input"
	case errors.Is(err, provider.ErrAuthentication):
		return "authentication"
	case errors.Is(err, provider.ErrBackendTimeout):
		return "timeout"
	case errors.Is(err, provider.ErrBackendUnavailable):
		return "unavailable"
	case errors.Is(err, provider.ErrInvalidResponse):
		return "invalid_response"
	case errors.Is(err, memory.ErrStorage):
		return "storage_error"
	default:
		return "internal"
	}
}
