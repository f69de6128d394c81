// Package protocol defines the JSON messages exchanged over the chat
// WebSocket. Every frame is a single JSON object with a "type" discriminator.
package protocol

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Client → server.
const (
	TypeClientPrompt = "client_prompt"
)

// Server → client.
const (
	TypeAssistantTextDelta = "assistant_text_delta"
	TypeAssistantTurnEnd   = "assistant_turn_end"
	TypeErrorEvent         = "error_event"
)

// ClientMessage is any frame sent by the client. Generation knobs are
// optional; absent fields fall back to the server's configuration.
type ClientMessage struct {
	Type        string   `json:"type"`
	Prompt      string   `json:"prompt,omitempty"`
	SessionID   string   `json:"session_id,omitempty"`
	Temperature *float64 `json:"temperature,omitempty"`
	MaxTokens   *int     `json:"max_tokens,omitempty"`
	MaxHistory  *int     `json:"max_history,omitempty"`
	TopK        *int     `json:"top_k,omitempty"`
}

// AssistantTextDelta carries one streamed fragment of the reply.
type AssistantTextDelta struct {
	Type  string `json:"type"`
	Delta string `json:"delta"`
}

// AssistantTurnEnd closes one exchange and carries the full reply.
type AssistantTurnEnd struct {
	Type         string `json:"type"`
	Text         string `json:"text"`
	Backend      string `json:"backend"`
	SessionID    string `json:"session_id,omitempty"`
	TurnIndex    int    `json:"turn_index,omitempty"`
	ContextTurns int    `json:"context_turns"`
}

// ErrorEvent reports a failed exchange. Retryable tells the client whether
// resending the same frame can succeed.
type ErrorEvent struct {
	Type      string `json:"type"`
	Code      string `json:"code"`
	Retryable bool   `json:"retryable"`
	Detail    string `json:"detail,omitempty"`
}

func NewTextDelta(delta string) AssistantTextDelta {
	return AssistantTextDelta{Type: TypeAssistantTextDelta, Delta: delta}
}

func NewTurnEnd(text, backend, sessionID string, turnIndex, contextTurns int) AssistantTurnEnd {
	return AssistantTurnEnd{
		Type:         TypeAssistantTurnEnd,
		Text:         text,
		Backend:      backend,
		SessionID:    sessionID,
		TurnIndex:    turnIndex,
		ContextTurns: contextTurns,
	}
}

func NewErrorEvent(code string, retryable bool, detail string) ErrorEvent {
	return ErrorEvent{Type: TypeErrorEvent, Code: code, Retryable: retryable, Detail: detail}
}

// ParseClientMessage decodes and validates one inbound frame.
func ParseClientMessage(data []byte) (ClientMessage, error) {
	var msg ClientMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return ClientMessage{}, fmt.Errorf("malformed frame: %w", err)
	}
	switch msg.Type {
	case TypeClientPrompt:
		if strings.TrimSpace(msg.Prompt) == "" {
			return ClientMessage{}, fmt.Errorf("%s frame without a prompt", TypeClientPrompt)
		}
		return msg, nil
	case "":
		return ClientMessage{}, fmt.Errorf("frame without a type")
	default:
		return ClientMessage{}, fmt.Errorf("unsupported frame type %q", msg.Type)
	}
}
