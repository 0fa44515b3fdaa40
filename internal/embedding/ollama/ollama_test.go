package ollama

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"bookrag/internal/domain"
)

// lengthServer answers /api/embed with a one-component vector holding each input's length.
func lengthServer(t *testing.T, calls *atomic.Int32) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/embed" {
			http.NotFound(w, r)
			return
		}
		calls.Add(1)
		var req struct {
			Model string   `json:"model"`
			Input []string `json:"input"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		embs := make([][]float32, len(req.Input))
		for i, in := range req.Input {
			embs[i] = []float32{float32(len(in))}
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"model": req.Model, "embeddings": embs})
	}))
}

func TestEmbedPreservesOrderAcrossBatches(t *testing.T) {
	var calls atomic.Int32
	srv := lengthServer(t, &calls)
	defer srv.Close()

	c, err := NewClient(Config{BaseURL: srv.URL, BatchSize: 2, MaxConcurrent: 3, Logger: zerolog.Nop()})
	if err != nil {
		t.Fatal(err)
	}
	texts := []string{"a", "bb", "ccc", "dddd", "eeeee"}
	vecs, err := c.Embed(context.Background(), texts)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(vecs) != len(texts) {
		t.Fatalf("got %d vectors", len(vecs))
	}
	for i, v := range vecs {
		if int(v[0]) != len(texts[i]) {
			t.Errorf("vector %d = %v, want length of %q", i, v, texts[i])
		}
	}
	if got := calls.Load(); got != 3 {
		t.Errorf("expected 3 batch calls, got %d", got)
	}
}

func TestEmbedEmptyInputMakesNoCall(t *testing.T) {
	var calls atomic.Int32
	srv := lengthServer(t, &calls)
	defer srv.Close()

	c, _ := NewClient(Config{BaseURL: srv.URL})
	vecs, err := c.Embed(context.Background(), nil)
	if err != nil || len(vecs) != 0 {
		t.Fatalf("got %v, %v", vecs, err)
	}
	if calls.Load() != 0 {
		t.Error("no request expected for empty input")
	}
}

func TestEmbedDimensionMismatchIsProviderError(t *testing.T) {
	var calls atomic.Int32
	srv := lengthServer(t, &calls)
	defer srv.Close()

	c, _ := NewClient(Config{BaseURL: srv.URL, Dimensions: 1024})
	_, err := c.Embed(context.Background(), []string{"x"})
	var pe *domain.ProviderError
	if !errors.As(err, &pe) {
		t.Fatalf("expected ProviderError, got %v", err)
	}
}

func TestEmbedBackendFailureIsProviderError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":"model not loaded"}`))
	}))
	defer srv.Close()

	c, _ := NewClient(Config{BaseURL: srv.URL})
	vecs, err := c.Embed(context.Background(), []string{"a", "b"})
	if vecs != nil {
		t.Errorf("partial result returned: %v", vecs)
	}
	var pe *domain.ProviderError
	if !errors.As(err, &pe) {
		t.Fatalf("expected ProviderError, got %v", err)
	}
	if !strings.Contains(err.Error(), "model not loaded") {
		t.Errorf("error should carry backend message: %v", err)
	}
}

func TestEmbedTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	c, _ := NewClient(Config{BaseURL: srv.URL, Timeout: 50 * time.Millisecond})
	_, err := c.Embed(context.Background(), []string{"a"})
	if !domain.IsTimeout(err) {
		t.Fatalf("expected timeout error, got %v", err)
	}
}

func TestEmbedUnreachableBackend(t *testing.T) {
	c, _ := NewClient(Config{BaseURL: "http://127.0.0.1:1", Timeout: time.Second})
	_, err := c.Embed(context.Background(), []string{"a"})
	var pe *domain.ProviderError
	if !errors.As(err, &pe) {
		t.Fatalf("expected ProviderError, got %v", err)
	}
}
