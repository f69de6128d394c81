package embed

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/antoniostano/relay/internal/config"
)

func TestMockEmbedderDeterministic(t *testing.T) {
	e := NewMockEmbedder()

	a, err := e.Embed(context.Background(), "hello world")
	if err != nil {
		t.Fatalf("Embed() error = %v", err)
	}
	b, err := e.Embed(context.Background(), "hello world")
	if err != nil {
		t.Fatalf("Embed() error = %v", err)
	}
	if len(a) != e.Dimensions() {
		t.Fatalf("len = %d, want %d", len(a), e.Dimensions())
	}
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("embeddings differ at %d: %v vs %v", i, a[i], b[i])
		}
	}

	c, _ := e.Embed(context.Background(), "something else entirely")
	same := true
	for i := range a {
		if a[i] != c[i] {
			same = false
			break
		}
	}
	if same {
		t.Fatalf("different texts produced identical embeddings")
	}

	var norm float64
	for _, v := range a {
		norm += float64(v) * float64(v)
	}
	if math.Abs(math.Sqrt(norm)-1) > 1e-3 {
		t.Fatalf("embedding not unit length: %v", math.Sqrt(norm))
	}
}

func TestOllamaEmbedder(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/embeddings" {
			t.Errorf("path = %q", r.URL.Path)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"embedding": []float64{0.1, 0.2, 0.3}})
	}))
	defer ts.Close()

	e := NewOllamaEmbedder(ts.URL, "nomic-embed-text", time.Second)
	vec, err := e.Embed(context.Background(), "hi")
	if err != nil {
		t.Fatalf("Embed() error = %v", err)
	}
	if len(vec) != 3 {
		t.Fatalf("len = %d, want 3", len(vec))
	}
	if e.Dimensions() != 3 {
		t.Fatalf("Dimensions() = %d, want 3 after first response", e.Dimensions())
	}
}

func TestOllamaEmbedderUnavailable(t *testing.T) {
	e := NewOllamaEmbedder("http://127.0.0.1:1", "nomic-embed-text", time.Second)
	if _, err := e.Embed(context.Background(), "hi"); !errors.Is(err, ErrEmbeddingUnavailable) {
		t.Fatalf("err = %v, want ErrEmbeddingUnavailable", err)
	}
}

type countingEmbedder struct {
	calls atomic.Int64
	inner Embedder
}

func (c *countingEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	c.calls.Add(1)
	return c.inner.Embed(ctx, text)
}

func (c *countingEmbedder) Dimensions() int { return c.inner.Dimensions() }

func TestCachedEmbedderHitsCache(t *testing.T) {
	counting := &countingEmbedder{inner: NewMockEmbedder()}
	cached, err := NewCachedEmbedder(counting, 128)
	if err != nil {
		t.Fatalf("NewCachedEmbedder() error = %v", err)
	}

	if _, err := cached.Embed(context.Background(), "repeated prompt"); err != nil {
		t.Fatalf("Embed() error = %v", err)
	}
	cached.Wait()
	if _, err := cached.Embed(context.Background(), "repeated prompt"); err != nil {
		t.Fatalf("Embed() error = %v", err)
	}
	if got := counting.calls.Load(); got != 1 {
		t.Fatalf("inner calls = %d, want 1", got)
	}
}

func TestNewEmbedderSelection(t *testing.T) {
	e, err := NewEmbedder(config.Config{EmbedProvider: "mock", EmbedCacheEntries: 0})
	if err != nil {
		t.Fatalf("NewEmbedder() error = %v", err)
	}
	if _, ok := e.(*MockEmbedder); !ok {
		t.Fatalf("NewEmbedder(mock) = %T, want *MockEmbedder", e)
	}

	e, err = NewEmbedder(config.Config{EmbedProvider: "mock", EmbedCacheEntries: 16})
	if err != nil {
		t.Fatalf("NewEmbedder() error = %v", err)
	}
	if _, ok := e.(*CachedEmbedder); !ok {
		t.Fatalf("NewEmbedder(mock, cached) = %T, want *CachedEmbedder", e)
	}
}
