// Package embed maps text to fixed-dimension vectors for semantic retrieval.
// Embedding is best-effort everywhere it is used: callers degrade to
// recency-only context when it fails, they never fail the request.
package embed

import (
	"context"
	"errors"
	"strings"

	"github.com/antoniostano/relay/internal/config"
)

// Embedder converts text to a fixed-length vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Dimensions() int
}

var (
	ErrEmbeddingTimeout     = errors.New("embedding timed out")
	ErrEmbeddingUnavailable = errors.New("embedding provider unavailable")
)

// NewEmbedder resolves the embedding backend from configuration and wraps it
// in the ristretto cache when caching is enabled.
func NewEmbedder(cfg config.Config) (Embedder, error) {
	var inner Embedder
	switch strings.ToLower(strings.TrimSpace(cfg.EmbedProvider)) {
	case "mock":
		inner = NewMockEmbedder()
	case "ollama":
		inner = NewOllamaEmbedder(cfg.OllamaHost, cfg.OllamaEmbedModel, cfg.EmbedTimeout)
	case "", "auto":
		if strings.TrimSpace(cfg.OllamaHost) != "" {
			inner = NewOllamaEmbedder(cfg.OllamaHost, cfg.OllamaEmbedModel, cfg.EmbedTimeout)
		} else {
			inner = NewMockEmbedder()
		}
	default:
		return nil, errors.New("unsupported embed provider " + cfg.EmbedProvider)
	}

	if cfg.EmbedCacheEntries <= 0 {
		return inner, nil
	}
	return NewCachedEmbedder(inner, cfg.EmbedCacheEntries)
}
