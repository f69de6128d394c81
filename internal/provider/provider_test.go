package provider

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"syscall"
	"testing"

	"github.com/antoniostano/relay/internal/config"
)

func TestNewAdapterModes(t *testing.T) {
	cases := []struct {
		name    string
		cfg     config.Config
		want    string
		wantErr bool
	}{
		{
			name: "explicit mock",
			cfg:  config.Config{ActiveModel: "mock"},
			want: "mock",
		},
		{
			name: "explicit local",
			cfg:  config.Config{ActiveModel: "local", OllamaHost: "http://localhost:11434", OllamaModel: "llama2"},
			want: "local",
		},
		{
			name:    "openai without key",
			cfg:     config.Config{ActiveModel: "openai"},
			wantErr: true,
		},
		{
			name:    "anthropic without key",
			cfg:     config.Config{ActiveModel: "anthropic"},
			wantErr: true,
		},
		{
			name: "auto prefers anthropic key",
			cfg:  config.Config{ActiveModel: "auto", AnthropicAPIKey: "sk-test", OllamaHost: "http://localhost:11434"},
			want: "anthropic",
		},
		{
			name: "auto falls back to local",
			cfg:  config.Config{ActiveModel: "auto", OllamaHost: "http://localhost:11434"},
			want: "local",
		},
		{
			name: "auto with nothing configured",
			cfg:  config.Config{ActiveModel: "auto"},
			want: "mock",
		},
		{
			name:    "unknown mode",
			cfg:     config.Config{ActiveModel: "bard"},
			wantErr: true,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			adapter, err := NewAdapter(tc.cfg)
			if tc.wantErr {
				if err == nil {
					t.Fatalf("NewAdapter() expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("NewAdapter() error = %v", err)
			}
			if adapter.Backend() != tc.want {
				t.Fatalf("Backend() = %q, want %q", adapter.Backend(), tc.want)
			}
		})
	}
}

func TestMockAdapterEchoesPromptAndContext(t *testing.T) {
	a := NewMockAdapter()

	var streamed strings.Builder
	res, err := a.Generate(context.Background(), []Message{
		{Role: RoleUser, Content: "first question"},
		{Role: RoleAssistant, Content: "first answer"},
		{Role: RoleUser, Content: "what about now?"},
	}, Params{}, func(delta string) error {
		streamed.WriteString(delta)
		return nil
	})
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if !strings.Contains(res.Text, "what about now?") {
		t.Fatalf("reply %q does not echo the prompt", res.Text)
	}
	if !strings.Contains(res.Text, "first answer") {
		t.Fatalf("reply %q does not mention remembered context", res.Text)
	}
	if streamed.String() != res.Text {
		t.Fatalf("streamed %q != final %q", streamed.String(), res.Text)
	}
}

func TestMockAdapterCancelled(t *testing.T) {
	a := NewMockAdapter()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := a.Generate(ctx, []Message{{Role: RoleUser, Content: "hi"}}, Params{}, nil); !errors.Is(err, ErrBackendTimeout) {
		t.Fatalf("Generate() on cancelled ctx = %v, want ErrBackendTimeout", err)
	}
}

func TestOpenAIAdapterSuccess(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer sk-test" {
			t.Errorf("Authorization = %q", got)
		}
		var req openAIChatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if req.Messages[0].Role != RoleSystem {
			t.Errorf("first message role = %q, want system", req.Messages[0].Role)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]any{"content": "  hello there  "}},
			},
		})
	}))
	defer ts.Close()

	a := NewOpenAIAdapter(ts.URL, "sk-test", "gpt-4-turbo")
	res, err := a.Generate(context.Background(), []Message{{Role: RoleUser, Content: "hi"}}, Params{System: "be brief"}, nil)
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if res.Text != "hello there" {
		t.Fatalf("Text = %q, want %q", res.Text, "hello there")
	}
	if res.Backend != "openai" {
		t.Fatalf("Backend = %q, want openai", res.Backend)
	}
}

func TestOpenAIAdapterStreaming(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		chunks := []string{"Hel", "lo"}
		for _, c := range chunks {
			payload, _ := json.Marshal(map[string]any{
				"choices": []map[string]any{{"delta": map[string]any{"content": c}}},
			})
			_, _ = w.Write([]byte("data: " + string(payload) + "\n\n"))
		}
		_, _ = w.Write([]byte("data: [DONE]\n\n"))
	}))
	defer ts.Close()

	a := NewOpenAIAdapter(ts.URL, "sk-test", "gpt-4-turbo")
	var deltas []string
	res, err := a.Generate(context.Background(), []Message{{Role: RoleUser, Content: "hi"}}, Params{}, func(delta string) error {
		deltas = append(deltas, delta)
		return nil
	})
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if res.Text != "Hello" {
		t.Fatalf("Text = %q, want Hello", res.Text)
	}
	if len(deltas) != 2 {
		t.Fatalf("deltas = %v, want 2 fragments", deltas)
	}
}

func TestOpenAIAdapterErrorClassification(t *testing.T) {
	cases := []struct {
		status int
		want   error
	}{
		{http.StatusUnauthorized, ErrAuthentication},
		{http.StatusForbidden, ErrAuthentication},
		{http.StatusTooManyRequests, ErrBackendUnavailable},
		{http.StatusServiceUnavailable, ErrBackendUnavailable},
		{http.StatusGatewayTimeout, ErrBackendTimeout},
		{http.StatusNotFound, ErrInvalidResponse},
	}
	for _, tc := range cases {
		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "nope", tc.status)
		}))
		a := NewOpenAIAdapter(ts.URL, "sk-test", "gpt-4-turbo")
		_, err := a.Generate(context.Background(), []Message{{Role: RoleUser, Content: "hi"}}, Params{}, nil)
		ts.Close()
		if !errors.Is(err, tc.want) {
			t.Fatalf("status %d: err = %v, want %v", tc.status, err, tc.want)
		}
	}
}

func TestOpenAIAdapterEmptyChoices(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"choices": []any{}})
	}))
	defer ts.Close()

	a := NewOpenAIAdapter(ts.URL, "sk-test", "gpt-4-turbo")
	if _, err := a.Generate(context.Background(), []Message{{Role: RoleUser, Content: "hi"}}, Params{}, nil); !errors.Is(err, ErrInvalidResponse) {
		t.Fatalf("err = %v, want ErrInvalidResponse", err)
	}
}

func TestIsConnectionRefused(t *testing.T) {
	refused := &net.OpError{Op: "dial", Net: "tcp", Err: os.NewSyscallError("connect", syscall.ECONNREFUSED)}
	if !isConnectionRefused(refused) {
		t.Fatalf("isConnectionRefused(ECONNREFUSED) = false, want true")
	}

	// A reset connection may have carried the request to the server; the
	// re-dial must not fire for it.
	reset := &net.OpError{Op: "read", Net: "tcp", Err: os.NewSyscallError("read", syscall.ECONNRESET)}
	if isConnectionRefused(reset) {
		t.Fatalf("isConnectionRefused(ECONNRESET) = true, want false")
	}
	if isConnectionRefused(errors.New("some transport failure")) {
		t.Fatalf("isConnectionRefused(generic error) = true, want false")
	}
}

func TestOllamaAdapterSuccess(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat" {
			t.Errorf("path = %q, want /api/chat", r.URL.Path)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"message": map[string]any{"role": "assistant", "content": "local says hi"},
			"done":    true,
		})
	}))
	defer ts.Close()

	a := NewOllamaAdapter(ts.URL, "llama2")
	res, err := a.Generate(context.Background(), []Message{{Role: RoleUser, Content: "hi"}}, Params{}, nil)
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if res.Text != "local says hi" {
		t.Fatalf("Text = %q", res.Text)
	}
	if res.Backend != "local" {
		t.Fatalf("Backend = %q, want local", res.Backend)
	}
}

func TestOllamaAdapterStreamAndError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/x-ndjson")
		_, _ = w.Write([]byte(`{"message":{"content":"a"},"done":false}` + "\n"))
		_, _ = w.Write([]byte(`{"message":{"content":"b"},"done":true}` + "\n"))
	}))
	defer ts.Close()

	a := NewOllamaAdapter(ts.URL, "llama2")
	var got strings.Builder
	res, err := a.Generate(context.Background(), []Message{{Role: RoleUser, Content: "hi"}}, Params{}, func(d string) error {
		got.WriteString(d)
		return nil
	})
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if res.Text != "ab" || got.String() != "ab" {
		t.Fatalf("text/stream = %q/%q, want ab/ab", res.Text, got.String())
	}

	down := NewOllamaAdapter("http://127.0.0.1:1", "llama2")
	if _, err := down.Generate(context.Background(), []Message{{Role: RoleUser, Content: "hi"}}, Params{}, nil); !errors.Is(err, ErrBackendUnavailable) {
		t.Fatalf("unreachable ollama err = %v, want ErrBackendUnavailable", err)
	}
}
