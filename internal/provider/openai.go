package provider

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// OpenAIAdapter forwards requests to an OpenAI-compatible chat completions
// endpoint. Any server speaking that dialect (OpenAI itself, vLLM, LM Studio)
// works unchanged.
type OpenAIAdapter struct {
	baseURL string
	apiKey  string
	model   string
	client  *http.Client
}

func NewOpenAIAdapter(baseURL, apiKey, model string) *OpenAIAdapter {
	return &OpenAIAdapter{
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		apiKey:  apiKey,
		model:   model,
		client:  &http.Client{},
	}
}

func (a *OpenAIAdapter) Backend() string { return "openai" }

type openAIChatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature"`
	MaxTokens   int       `json:"max_tokens"`
	Stream      bool      `json:"stream"`
}

type openAIChatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

func (a *OpenAIAdapter) Generate(
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

	payload, err := json.Marshal(openAIChatRequest{
		Model:       model,
		Messages:    outgoing,
		Temperature: params.Temperature,
		MaxTokens:   params.MaxTokens,
		Stream:      onDelta != nil,
	})
	if err != nil {
		return Response{}, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return Response{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+a.apiKey)

	res, err := a.client.Do(req)
	if err != nil {
		return Response{}, wrapTransportError(ctx, err)
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 4<<10))
		return Response{}, classifyHTTPFailure("openai", res.StatusCode, body)
	}

	if onDelta != nil {
		return a.consumeStreaming(res.Body, onDelta)
	}

	body, err := io.ReadAll(res.Body)
	if err != nil {
		return Response{}, fmt.Errorf("%w: read response: %v", ErrBackendUnavailable, err)
	}

	var parsed openAIChatResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return Response{}, fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}
	if parsed.Error != nil {
		return Response{}, fmt.Errorf("%w: openai error: %s", ErrInvalidResponse, parsed.Error.Message)
	}
	if len(parsed.Choices) == 0 || strings.TrimSpace(parsed.Choices[0].Message.Content) == "" {
		return Response{}, fmt.Errorf("%w: openai returned empty content", ErrInvalidResponse)
	}

	return Response{Text: strings.TrimSpace(parsed.Choices[0].Message.Content), Backend: a.Backend()}, nil
}

func (a *OpenAIAdapter) consumeStreaming(body io.Reader, onDelta DeltaHandler) (Response, error) {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	var out strings.Builder
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		line = strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if line == "[DONE]" {
			break
		}

		var chunk openAIChatResponse
		if err := json.Unmarshal([]byte(line), &chunk); err != nil {
			return Response{}, fmt.Errorf("%w: malformed stream chunk: %v", ErrInvalidResponse, err)
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		delta := chunk.Choices[0].Delta.Content
		if delta == "" {
			continue
		}
		out.WriteString(delta)
		if err := onDelta(delta); err != nil {
			return Response{}, err
		}
	}
	if err := scanner.Err(); err != nil {
		return Response{}, fmt.Errorf("%w: stream read: %v", ErrBackendUnavailable, err)
	}

	text := strings.TrimSpace(out.String())
	if text == "" {
		return Response{}, fmt.Errorf("%w: openai stream produced no content", ErrInvalidResponse)
	}
	return Response{Text: text, Backend: a.Backend()}, nil
}
