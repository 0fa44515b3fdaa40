package domain

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestTypedErrorsUnwrap(t *testing.T) {
	cause := fmt.Errorf("dial: %w", context.DeadlineExceeded)
	errs := []error{
		&ProviderError{Provider: "ollama", Op: "embed", Err: cause},
		&GenerationError{Provider: "ollama", Err: cause},
		&StorageError{Backend: "qdrant", Op: "search", Err: cause},
	}
	for _, err := range errs {
		if !IsTimeout(err) {
			t.Errorf("%v: timeout not detected through the wrapper", err)
		}
		if !strings.Contains(err.Error(), "dial") {
			t.Errorf("%v: cause missing from message", err)
		}
	}
	if IsTimeout(&StorageError{Backend: "qdrant", Op: "search", Err: ErrNotFound}) {
		t.Error("not found is not a timeout")
	}
	if !errors.Is(&StorageError{Err: ErrNotFound}, ErrNotFound) {
		t.Error("sentinel lost through StorageError")
	}
}

func TestTruncate(t *testing.T) {
	if got := Truncate("corto", 10); got != "corto" {
		t.Errorf("short text changed: %q", got)
	}
	if got := Truncate("exacto", 6); got != "exacto" {
		t.Errorf("text at the limit changed: %q", got)
	}
	if got := Truncate("añoñoño", 3); got != "año..." {
		t.Errorf("got %q, want rune-based cut", got)
	}
}

func TestNewSource(t *testing.T) {
	src := NewSource(RetrievedChunk{
		Chunk: Chunk{Content: "texto", Titulo: "IA", Seccion: "Redes"},
		Score: 0.87654,
	})
	if src.Score != 0.877 {
		t.Errorf("score = %v", src.Score)
	}
	if src.SourceFile != "unknown" {
		t.Errorf("source file = %q", src.SourceFile)
	}
	if src.Titulo == nil || *src.Titulo != "IA" || src.Subseccion != nil {
		t.Errorf("headings = %v %v %v", src.Titulo, src.Seccion, src.Subseccion)
	}

	data, err := json.Marshal(src)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), `"subseccion":null`) {
		t.Errorf("absent heading should encode as null: %s", data)
	}
}

func TestNewStreamSourceTruncates(t *testing.T) {
	long := strings.Repeat("x", StreamSourceMaxLen+1)
	ss := NewStreamSource(Source{SourceFile: "a.md", Content: long, Score: 0.5})
	if ss.Content != strings.Repeat("x", StreamSourceMaxLen)+"..." {
		t.Errorf("content length = %d", len(ss.Content))
	}
	if ss.SourceFile != "a.md" || ss.Score != 0.5 {
		t.Errorf("stream source = %+v", ss)
	}
}
