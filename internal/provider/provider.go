package provider

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/antoniostano/relay/internal/config"
)

// Role tags a message in the outgoing sequence.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one role-tagged entry in the context window sent to a backend.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Params are the generation knobs forwarded to the backend.
type Params struct {
	ModelName   string
	Temperature float64
	MaxTokens   int
	System      string
}

// Response is the backend's completed reply.
type Response struct {
	Text    string
	Backend string
}

// DeltaHandler receives streaming text fragments as they arrive.
// A nil handler means the caller only wants the final text.
type DeltaHandler func(delta string) error

// Adapter is the generate capability implemented once per backend.
type Adapter interface {
	Generate(ctx context.Context, messages []Message, params Params, onDelta DeltaHandler) (Response, error)
	Backend() string
}

// Typed failures surfaced to the router. Callers match with errors.Is.
var (
	ErrBackendUnavailable = errors.New("backend unavailable")
	ErrAuthentication     = errors.New("backend authentication failed")
	ErrBackendTimeout     = errors.New("backend timed out")
	ErrInvalidResponse    = errors.New("backend returned an invalid response")
)

// NewAdapter resolves the active backend from configuration. The choice is
// made once at startup; Route never re-resolves it.
func NewAdapter(cfg config.Config) (Adapter, error) {
	mode := strings.ToLower(strings.TrimSpace(cfg.ActiveModel))
	if mode == "" {
		mode = "auto"
	}

	switch mode {
	case "auto":
		return newAutoAdapter(cfg), nil
	case "anthropic":
		if strings.TrimSpace(cfg.AnthropicAPIKey) == "" {
			return nil, errors.New("ANTHROPIC_API_KEY is required for anthropic mode")
		}
		return NewAnthropicAdapter(cfg.AnthropicAPIKey, cfg.AnthropicModel), nil
	case "openai":
		if strings.TrimSpace(cfg.OpenAIAPIKey) == "" {
			return nil, errors.New("OPENAI_API_KEY is required for openai mode")
		}
		return NewOpenAIAdapter(cfg.OpenAIBaseURL, cfg.OpenAIAPIKey, cfg.OpenAIModel), nil
	case "local":
		return NewOllamaAdapter(cfg.OllamaHost, cfg.OllamaModel), nil
	case "mock":
		return NewMockAdapter(), nil
	default:
		return nil, fmt.Errorf("unsupported provider mode %q", cfg.ActiveModel)
	}
}

func newAutoAdapter(cfg config.Config) Adapter {
	if strings.TrimSpace(cfg.AnthropicAPIKey) != "" {
		return NewAnthropicAdapter(cfg.AnthropicAPIKey, cfg.AnthropicModel)
	}
	if strings.TrimSpace(cfg.OpenAIAPIKey) != "" {
		return NewOpenAIAdapter(cfg.OpenAIBaseURL, cfg.OpenAIAPIKey, cfg.OpenAIModel)
	}
	if strings.TrimSpace(cfg.OllamaHost) != "" {
		return NewOllamaAdapter(cfg.OllamaHost, cfg.OllamaModel)
	}
	return NewMockAdapter()
}
