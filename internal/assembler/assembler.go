// Package assembler builds the bounded context window attached to each
// outgoing request, merging the session's recency window with semantic
// retrieval when vector memory is enabled.
package assembler

import (
	"context"
	"errors"
	"log"
	"sort"
	"strings"

	"github.com/antoniostano/relay/internal/embed"
	"github.com/antoniostano/relay/internal/memory"
	"github.com/antoniostano/relay/internal/observability"
	"github.com/antoniostano/relay/internal/provider"
	"github.com/antoniostano/relay/internal/vector"
)

const (
	ModeNone    = "none"
	ModeSession = "session"
	ModeVector  = "vector"
)

// Options bound one window. They are read at call time and applied to the
// full existing log; stored history is never rewritten.
type Options struct {
	Mode       string
	MaxHistory int
	TopK       int
}

type Assembler struct {
	store    memory.Store
	index    vector.Index
	embedder embed.Embedder
	metrics  *observability.Metrics
}

func New(store memory.Store, index vector.Index, embedder embed.Embedder, metrics *observability.Metrics) *Assembler {
	return &Assembler{store: store, index: index, embedder: embedder, metrics: metrics}
}

// Build assembles the context window for a new prompt. It is read-only:
// nothing is written to the store or the index.
//
// Vector mode degrades to the session strategy when embedding or the index
// fails; only storage errors propagate.
func (a *Assembler) Build(ctx context.Context, sessionID, prompt string, opts Options) ([]provider.Message, error) {
	mode := strings.ToLower(strings.TrimSpace(opts.Mode))
	if mode == "" || mode == ModeNone || sessionID == "" {
		return nil, nil
	}

	recent, err := a.store.Tail(ctx, sessionID, opts.MaxHistory)
	if err != nil {
		return nil, err
	}

	if mode != ModeVector {
		return turnsToMessages(recent), nil
	}

	semantic, ok := a.semanticWindow(ctx, sessionID, prompt, opts.TopK)
	if !ok {
		return turnsToMessages(recent), nil
	}
	return mergeWindows(recent, semantic), nil
}

// semanticWindow returns the top-k entries for the prompt, or ok=false when
// semantic retrieval is unavailable and the caller should fall back to the
// recency window.
func (a *Assembler) semanticWindow(ctx context.Context, sessionID, prompt string, topK int) ([]vector.Result, bool) {
	if a.index == nil || a.embedder == nil || topK <= 0 {
		return nil, false
	}

	embedding, err := a.embedder.Embed(ctx, prompt)
	if err != nil {
		a.degrade(sessionID, degradeReason(err), err)
		return nil, false
	}

	results, err := a.index.Query(ctx, sessionID, embedding, topK)
	if err != nil {
		a.degrade(sessionID, "index_error", err)
		return nil, false
	}
	return results, true
}

func (a *Assembler) degrade(sessionID, reason string, err error) {
	log.Printf("context assembly: session %s falling back to recency window (%s): %v", sessionID, reason, err)
	if a.metrics != nil {
		a.metrics.MemoryDegradations.WithLabelValues(reason).Inc()
	}
}

func degradeReason(err error) string {
	if errors.Is(err, embed.ErrEmbeddingTimeout) {
		return "embed_timeout"
	}
	return "embed_unavailable"
}

// mergeWindows combines recency and semantic picks, deduplicated by
// turn_index and replayed in chronological order so the context reads as a
// conversation fragment rather than a similarity-sorted jumble.
func mergeWindows(recent []memory.Turn, semantic []vector.Result) []provider.Message {
	byIndex := make(map[int]provider.Message, len(recent)+len(semantic))
	for _, t := range recent {
		byIndex[t.TurnIndex] = provider.Message{Role: roleOf(string(t.Role)), Content: t.Content}
	}
	for _, r := range semantic {
		if _, ok := byIndex[r.TurnIndex]; ok {
			continue
		}
		byIndex[r.TurnIndex] = provider.Message{Role: roleOf(r.Role), Content: r.Snippet}
	}

	indices := make([]int, 0, len(byIndex))
	for i := range byIndex {
		indices = append(indices, i)
	}
	sort.Ints(indices)

	out := make([]provider.Message, 0, len(indices))
	for _, i := range indices {
		out = append(out, byIndex[i])
	}
	return out
}

func turnsToMessages(turns []memory.Turn) []provider.Message {
	if len(turns) == 0 {
		return nil
	}
	out := make([]provider.Message, 0, len(turns))
	for _, t := range turns {
		out = append(out, provider.Message{Role: roleOf(string(t.Role)), Content: t.Content})
	}
	return out
}

func roleOf(role string) provider.Role {
	if role == string(memory.RoleAssistant) {
		return provider.RoleAssistant
	}
	return provider.RoleUser
}
