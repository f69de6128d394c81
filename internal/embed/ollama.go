package embed

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync/atomic"
	"time"
)

const defaultOllamaDimensions = 768

// OllamaEmbedder uses a local Ollama instance's embeddings endpoint.
type OllamaEmbedder struct {
	host    string
	model   string
	timeout time.Duration
	client  *http.Client

	// dims is learned from the first successful response.
	dims atomic.Int64
}

func NewOllamaEmbedder(host, model string, timeout time.Duration) *OllamaEmbedder {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	e := &OllamaEmbedder{
		host:    strings.TrimRight(strings.TrimSpace(host), "/"),
		model:   model,
		timeout: timeout,
		client:  &http.Client{},
	}
	e.dims.Store(defaultOllamaDimensions)
	return e
}

func (e *OllamaEmbedder) Dimensions() int { return int(e.dims.Load()) }

type ollamaEmbedRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type ollamaEmbedResponse struct {
	Embedding []float64 `json:"embedding"`
	Error     string    `json:"error,omitempty"`
}

func (e *OllamaEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	payload, err := json.Marshal(ollamaEmbedRequest{Model: e.model, Prompt: text})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.host+"/api/embeddings", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := e.client.Do(req)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: %v", ErrEmbeddingTimeout, err)
		}
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return nil, fmt.Errorf("%w: %v", ErrEmbeddingTimeout, err)
		}
		return nil, fmt.Errorf("%w: %v", ErrEmbeddingUnavailable, err)
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 4<<10))
		return nil, fmt.Errorf("%w: status %d: %s", ErrEmbeddingUnavailable, res.StatusCode, strings.TrimSpace(string(body)))
	}

	var parsed ollamaEmbedResponse
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("%w: decode response: %v", ErrEmbeddingUnavailable, err)
	}
	if parsed.Error != "" {
		return nil, fmt.Errorf("%w: %s", ErrEmbeddingUnavailable, parsed.Error)
	}
	if len(parsed.Embedding) == 0 {
		return nil, fmt.Errorf("%w: empty embedding", ErrEmbeddingUnavailable)
	}

	e.dims.Store(int64(len(parsed.Embedding)))
	vec := make([]float32, len(parsed.Embedding))
	for i, v := range parsed.Embedding {
		vec[i] = float32(v)
	}
	return vec, nil
}
