package provider

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"syscall"
	"time"

	"github.com/antoniostano/relay/internal/reliability"
)

// OllamaAdapter talks to a local Ollama instance over its chat API.
type OllamaAdapter struct {
	host   string
	model  string
	client *http.Client
}

func NewOllamaAdapter(host, model string) *OllamaAdapter {
	return &OllamaAdapter{
		host:  strings.TrimRight(strings.TrimSpace(host), "/"),
		model: model,
		// No client timeout: cancellation is caller-driven via context so the
		// router's deadline is the single source of truth.
		client: &http.Client{},
	}
}

func (a *OllamaAdapter) Backend() string { return "local" }

type ollamaChatRequest struct {
	Model    string         `json:"model"`
	Messages []Message      `json:"messages"`
	Stream   bool           `json:"stream"`
	Options  map[string]any `json:"options,omitempty"`
}

type ollamaChatChunk struct {
	Message struct {
		Content string `json:"content"`
	} `json:"message"`
	Done  bool   `json:"done"`
	Error string `json:"error,omitempty"`
}

func (a *OllamaAdapter) Generate(
	ctx context.Context,
	messages []Message,
	params Params,
	onDelta DeltaHandler,
) (Response, error) {
	model := params.ModelName
	if model == "" {
		model = a.model
	}

	outgoing := messages
	if strings.TrimSpace(params.System) != "" {
		outgoing = append([]Message{{Role: RoleSystem, Content: params.System}}, messages...)
	}

	payload, err := json.Marshal(ollamaChatRequest{
		Model:    model,
		Messages: outgoing,
		Stream:   onDelta != nil,
		Options:  map[string]any{"temperature": params.Temperature, "num_predict": params.MaxTokens},
	})
	if err != nil {
		return Response{}, fmt.Errorf("marshal request: %w", err)
	}

	res, err := a.post(ctx, a.host+"/api/chat", payload)
	if err != nil {
		return Response{}, err
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 4<<10))
		return Response{}, classifyHTTPFailure("ollama", res.StatusCode, body)
	}

	text, err := a.consume(res.Body, onDelta)
	if err != nil {
		return Response{}, err
	}
	if strings.TrimSpace(text) == "" {
		return Response{}, fmt.Errorf("%w: ollama returned empty content", ErrInvalidResponse)
	}
	return Response{Text: strings.TrimSpace(text), Backend: a.Backend()}, nil
}

// post performs the request with a single backoff-delayed re-dial on
// connection refusal. Ollama restarts are common on dev machines; one retry
// of an unsent request is safe and stays within the provider boundary.
func (a *OllamaAdapter) post(ctx context.Context, url string, payload []byte) (*http.Response, error) {
	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, wrapTransportError(ctx, lastErr)
			case <-time.After(reliability.ExponentialBackoff(attempt, 200*time.Millisecond, time.Second)):
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
		if err != nil {
			return nil, fmt.Errorf("create request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")

		res, err := a.client.Do(req)
		if err == nil {
			return res, nil
		}
		lastErr = err
		if !isConnectionRefused(err) {
			return nil, wrapTransportError(ctx, err)
		}
	}
	return nil, wrapTransportError(ctx, lastErr)
}

func (a *OllamaAdapter) consume(body io.Reader, onDelta DeltaHandler) (string, error) {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	var out strings.Builder
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var chunk ollamaChatChunk
		if err := json.Unmarshal([]byte(line), &chunk); err != nil {
			return "", fmt.Errorf("%w: malformed chunk: %v", ErrInvalidResponse, err)
		}
		if chunk.Error != "" {
			return "", fmt.Errorf("%w: ollama error: %s", ErrBackendUnavailable, chunk.Error)
		}
		if chunk.Message.Content == "" {
			continue
		}
		out.WriteString(chunk.Message.Content)
		if onDelta != nil {
			if err := onDelta(chunk.Message.Content); err != nil {
				return "", err
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return "", fmt.Errorf("%w: stream read: %v", ErrBackendUnavailable, err)
	}
	return out.String(), nil
}

// isConnectionRefused matches only ECONNREFUSED: the request was never
// accepted, so re-sending it cannot duplicate work. Resets and timeouts may
// have reached the server and are not retried.
func isConnectionRefused(err error) bool {
	return errors.Is(err, syscall.ECONNREFUSED)
}

// wrapTransportError maps a transport failure to the typed taxonomy,
// preferring the timeout classification when the context deadline fired.
func wrapTransportError(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); errors.Is(ctxErr, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrBackendTimeout, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %v", ErrBackendTimeout, err)
	}
	return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
}

// classifyHTTPFailure maps a non-2xx provider status to the typed taxonomy.
func classifyHTTPFailure(backend string, status int, body []byte) error {
	detail := strings.TrimSpace(string(body))
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return fmt.Errorf("%w: %s status %d: %s", ErrAuthentication, backend, status, detail)
	case status == http.StatusRequestTimeout || status == http.StatusGatewayTimeout:
		return fmt.Errorf("%w: %s status %d: %s", ErrBackendTimeout, backend, status, detail)
	case reliability.IsRetryableHTTPStatus(status):
		return fmt.Errorf("%w: %s status %d: %s", ErrBackendUnavailable, backend, status, detail)
	default:
		return fmt.Errorf("%w: %s status %d: %s", ErrInvalidResponse, backend, status, detail)
	}
}
