package provider

import (
	"context"
	"fmt"
	"strings"
)

// MockAdapter provides deterministic local replies when no real backend is
// configured. Useful for tests and first-run onboarding.
type MockAdapter struct{}

func NewMockAdapter() *MockAdapter { return &MockAdapter{} }

func (a *MockAdapter) Backend() string { return "mock" }

func (a *MockAdapter) Generate(
	ctx context.Context,
	messages []Message,
	params Params,
	onDelta DeltaHandler,
) (Response, error) {
	select {
	case <-ctx.Done():
		return Response{}, fmt.Errorf("%w: %v", ErrBackendTimeout, ctx.Err())
	default:
	}

	text := buildMockReply(messages)
	if onDelta != nil && text != "" {
		if err := onDelta(text); err != nil {
			return Response{}, err
		}
	}
	return Response{Text: text, Backend: a.Backend()}, nil
}

func buildMockReply(messages []Message) string {
	prompt := ""
	var lastContext string
	for _, m := range messages {
		switch m.Role {
		case RoleUser:
			if prompt != "" {
				lastContext = prompt
			}
			prompt = strings.TrimSpace(m.Content)
		case RoleAssistant:
			lastContext = strings.TrimSpace(m.Content)
		}
	}
	if prompt == "" {
		prompt = "I am listening."
	}

	if lastContext == "" {
		return fmt.Sprintf("I heard you: %s", prompt)
	}
	return fmt.Sprintf("I heard you: %s\nI also remember: %s", prompt, lastContext)
}
