package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/antoniostano/relay/internal/reliability"
)

// AnthropicAdapter calls the Anthropic Messages API through the official SDK.
type AnthropicAdapter struct {
	client anthropic.Client
	model  string
}

func NewAnthropicAdapter(apiKey, model string) *AnthropicAdapter {
	return &AnthropicAdapter{
		client: anthropic.NewClient(option.WithAPIKey(apiKey)),
		model:  model,
	}
}

func (a *AnthropicAdapter) Backend() string { return "anthropic" }

func (a *AnthropicAdapter) Generate(
	ctx context.Context,
	messages []Message,
	params Params,
	onDelta DeltaHandler,
) (Response, error) {
	model := params.ModelName
	if model == "" {
		model = a.model
	}

	apiMessages := make([]anthropic.MessageParam, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case RoleUser:
			apiMessages = append(apiMessages, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)))
		case RoleAssistant:
			apiMessages = append(apiMessages, anthropic.NewAssistantMessage(anthropic.NewTextBlock(m.Content)))
		}
	}

	req := anthropic.MessageNewParams{
		Model:       anthropic.Model(model),
		MaxTokens:   int64(params.MaxTokens),
		Temperature: anthropic.Float(params.Temperature),
		Messages:    apiMessages,
	}
	if strings.TrimSpace(params.System) != "" {
		req.System = []anthropic.TextBlockParam{{Text: params.System}}
	}

	var (
		msg *anthropic.Message
		err error
	)
	if onDelta != nil {
		msg, err = a.generateStreaming(ctx, req, onDelta)
	} else {
		msg, err = a.client.Messages.New(ctx, req)
	}
	if err != nil {
		return Response{}, classifyAnthropicError(ctx, err)
	}

	var out strings.Builder
	for _, block := range msg.Content {
		if text, ok := block.AsAny().(anthropic.TextBlock); ok {
			out.WriteString(text.Text)
		}
	}
	text := strings.TrimSpace(out.String())
	if text == "" {
		return Response{}, fmt.Errorf("%w: anthropic returned no text content", ErrInvalidResponse)
	}
	return Response{Text: text, Backend: a.Backend()}, nil
}

func (a *AnthropicAdapter) generateStreaming(ctx context.Context, req anthropic.MessageNewParams, onDelta DeltaHandler) (*anthropic.Message, error) {
	stream := a.client.Messages.NewStreaming(ctx, req)
	defer stream.Close()

	message := anthropic.Message{}
	for stream.Next() {
		event := stream.Current()
		if err := message.Accumulate(event); err != nil {
			continue
		}
		if evt, ok := event.AsAny().(anthropic.ContentBlockDeltaEvent); ok {
			if delta, ok := evt.Delta.AsAny().(anthropic.TextDelta); ok && delta.Text != "" {
				if err := onDelta(delta.Text); err != nil {
					return nil, err
				}
			}
		}
	}
	if err := stream.Err(); err != nil {
		return nil, err
	}
	return &message, nil
}

func classifyAnthropicError(ctx context.Context, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrBackendTimeout, err)
	}

	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.StatusCode == http.StatusUnauthorized || apiErr.StatusCode == http.StatusForbidden:
			return fmt.Errorf("%w: anthropic status %d: %v", ErrAuthentication, apiErr.StatusCode, err)
		case reliability.IsRetryableHTTPStatus(apiErr.StatusCode):
			return fmt.Errorf("%w: anthropic status %d: %v", ErrBackendUnavailable, apiErr.StatusCode, err)
		default:
			return fmt.Errorf("%w: anthropic status %d: %v", ErrInvalidResponse, apiErr.StatusCode, err)
		}
	}
	return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
}
