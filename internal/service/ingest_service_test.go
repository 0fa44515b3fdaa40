package service

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"

	"bookrag/internal/chunker"
	"bookrag/internal/domain"
	"bookrag/internal/vectorstore/memory"
)

func writeFiles(t *testing.T, dir string, files map[string]string) {
	t.Helper()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	for name, content := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}
}

func newIngest(store domain.CollectionStore, emb domain.Embedder) *IngestService {
	return NewIngestService(IngestConfig{
		Chunker:  chunker.NewMarkdownChunker(1000),
		Embedder: emb,
		Store:    store,
		Logger:   zerolog.Nop(),
	})
}

var book = map[string]string{
	"01-intro.md":  "# Libro\n\n## Uno\n\nPrimer tema.\n\n## Dos\n\nSegundo tema.\n",
	"02-cierre.md": "## Tres\n\nTercer tema.\n",
	"notas.txt":    "ignorado",
}

func TestIngestIsIdempotentWithoutForce(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	writeFiles(t, dir, book)
	store := memory.NewStorage(2)
	emb := &fakeEmbedder{fallback: []float32{1, 0}}
	svc := newIngest(store, emb)

	first := svc.Ingest(ctx, "demo", dir, false)
	if first.Status != domain.StatusReady || first.ChunksCount != 4 || first.FilesProcessed != 2 {
		t.Fatalf("first ingest = %+v", first)
	}
	second := svc.Ingest(ctx, "demo", dir, false)
	if second.Status != domain.StatusReady || second.ChunksCount != first.ChunksCount {
		t.Fatalf("second ingest = %+v", second)
	}
	if emb.calls != 1 {
		t.Errorf("second ingest should do no work, embed calls = %d", emb.calls)
	}
	if n, _ := store.Count(ctx, "demo"); n != 4 {
		t.Errorf("records duplicated: count = %d", n)
	}
}

func TestIngestForceReplacesContent(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	writeFiles(t, dir, book)
	store := memory.NewStorage(2)
	svc := newIngest(store, &fakeEmbedder{fallback: []float32{1, 0}})
	svc.Ingest(ctx, "demo", dir, false)

	if err := os.Remove(filepath.Join(dir, "01-intro.md")); err != nil {
		t.Fatal(err)
	}
	res := svc.Ingest(ctx, "demo", dir, true)
	if res.Status != domain.StatusReady || res.ChunksCount != 1 || res.FilesProcessed != 1 {
		t.Fatalf("forced ingest = %+v", res)
	}
	if n, _ := store.Count(ctx, "demo"); n != 1 {
		t.Errorf("old chunks survived: count = %d", n)
	}
}

func TestIngestEmbeddingFailureLeavesNoCollection(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	writeFiles(t, dir, book)
	store := memory.NewStorage(2)
	res := newIngest(store, &fakeEmbedder{err: errors.New("ollama down")}).Ingest(ctx, "demo", dir, false)

	var pe *domain.ProviderError
	if res.Status != domain.StatusError || !errors.As(res.Err, &pe) || res.Error == "" {
		t.Fatalf("result = %+v", res)
	}
	if ok, _ := store.Exists(ctx, "demo"); ok {
		t.Error("failed ingestion left a collection")
	}
}

func TestIngestInsertFailureRollsBack(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	writeFiles(t, dir, book)
	mem := memory.NewStorage(2)
	res := newIngest(failingStore{mem}, &fakeEmbedder{fallback: []float32{1, 0}}).Ingest(ctx, "demo", dir, false)

	var se *domain.StorageError
	if res.Status != domain.StatusError || !errors.As(res.Err, &se) {
		t.Fatalf("result = %+v", res)
	}
	if res.FilesProcessed != 2 {
		t.Errorf("files processed = %d", res.FilesProcessed)
	}
	if ok, _ := mem.Exists(ctx, "demo"); ok {
		t.Error("collection created before the failure was not rolled back")
	}
}

func TestIngestRollsBackAfterCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	dir := t.TempDir()
	writeFiles(t, dir, book)
	mem := memory.NewStorage(2)
	res := newIngest(failingStore{mem}, &fakeEmbedder{fallback: []float32{1, 0}}).Ingest(ctx, "demo", dir, false)
	if res.Status != domain.StatusError {
		t.Fatalf("result = %+v", res)
	}
	if ok, _ := mem.Exists(context.Background(), "demo"); ok {
		t.Error("rollback must not depend on the caller's context")
	}
}

func TestIngestMissingInputs(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStorage(2)
	svc := newIngest(store, &fakeEmbedder{fallback: []float32{1, 0}})

	res := svc.Ingest(ctx, "demo", filepath.Join(t.TempDir(), "nope"), false)
	if res.Status != domain.StatusError || !errors.Is(res.Err, domain.ErrNotFound) {
		t.Errorf("missing dir: %+v", res)
	}

	empty := t.TempDir()
	writeFiles(t, empty, map[string]string{"readme.txt": "x"})
	res = svc.Ingest(ctx, "demo", empty, false)
	if res.Status != domain.StatusError || !errors.Is(res.Err, domain.ErrNotFound) {
		t.Errorf("no markdown files: %+v", res)
	}

	blank := t.TempDir()
	writeFiles(t, blank, map[string]string{"vacio.md": "\n\n   \n"})
	res = svc.Ingest(ctx, "demo", blank, false)
	if res.Status != domain.StatusError || !errors.Is(res.Err, domain.ErrInvalidArgument) || res.FilesProcessed != 1 {
		t.Errorf("no chunks: %+v", res)
	}
	if ok, _ := store.Exists(ctx, "demo"); ok {
		t.Error("no collection should be created")
	}
}

func TestIngestResolvesDocsDir(t *testing.T) {
	docs := t.TempDir()
	writeFiles(t, filepath.Join(docs, "demo"), book)
	svc := NewIngestService(IngestConfig{
		Chunker:  chunker.NewMarkdownChunker(1000),
		Embedder: &fakeEmbedder{fallback: []float32{1, 0}},
		Store:    memory.NewStorage(2),
		DocsDir:  docs,
		Logger:   zerolog.Nop(),
	})
	if res := svc.Ingest(context.Background(), "demo", "", false); res.Status != domain.StatusReady {
		t.Fatalf("result = %+v", res)
	}
}

func TestStatusAndDelete(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	writeFiles(t, dir, book)
	svc := newIngest(memory.NewStorage(2), &fakeEmbedder{fallback: []float32{1, 0}})

	st, err := svc.Status(ctx, "demo")
	if err != nil || st.Status != domain.StatusPending || st.ChunksCount != 0 {
		t.Fatalf("status before ingest = %+v, %v", st, err)
	}
	svc.Ingest(ctx, "demo", dir, false)
	st, _ = svc.Status(ctx, "demo")
	if st.Status != domain.StatusReady || st.ChunksCount != 4 {
		t.Fatalf("status after ingest = %+v", st)
	}
	if ids, _ := svc.List(ctx); len(ids) != 1 || ids[0] != "demo" {
		t.Fatalf("list = %v", ids)
	}
	if deleted, _ := svc.Delete(ctx, "demo"); !deleted {
		t.Fatal("delete should report true")
	}
	if deleted, err := svc.Delete(ctx, "demo"); deleted || err != nil {
		t.Fatalf("second delete = %v, %v", deleted, err)
	}
}

func TestIngestAll(t *testing.T) {
	ctx := context.Background()
	docs := t.TempDir()
	writeFiles(t, filepath.Join(docs, "redes-neuronales"), book)
	writeFiles(t, filepath.Join(docs, "ia"), map[string]string{"a.md": "## IA\n\nTexto."})
	writeFiles(t, filepath.Join(docs, ".git"), map[string]string{"x.md": "## oculto"})
	writeFiles(t, filepath.Join(docs, "vacia"), map[string]string{"a.txt": "nada"})
	store := memory.NewStorage(2)
	svc := newIngest(store, &fakeEmbedder{fallback: []float32{1, 0}})
	svc.Ingest(ctx, "ia", filepath.Join(docs, "ia"), false)

	results, err := svc.IngestAll(ctx, docs)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 2 {
		t.Fatalf("results = %+v", results)
	}
	if results[0].Slug != "ia" || results[0].Status != ScanExisting || results[0].ChunksCount != 1 {
		t.Errorf("ia = %+v", results[0])
	}
	if results[1].Slug != "redes-neuronales" || results[1].Status != string(domain.StatusReady) || results[1].FilesCount != 2 {
		t.Errorf("redes = %+v", results[1])
	}
}

func TestDiscover(t *testing.T) {
	docs := t.TempDir()
	writeFiles(t, filepath.Join(docs, "machine_learning-basico"), map[string]string{"a.md": "x", "b.md": "y"})
	writeFiles(t, filepath.Join(docs, "vacia"), nil)

	subjects, err := Discover(docs)
	if err != nil {
		t.Fatal(err)
	}
	if len(subjects) != 1 {
		t.Fatalf("subjects = %+v", subjects)
	}
	want := domain.Subject{Slug: "machine_learning-basico", Name: "Machine Learning Basico", FileCount: 2}
	if subjects[0] != want {
		t.Errorf("subject = %+v, want %+v", subjects[0], want)
	}

	if subjects, err := Discover(filepath.Join(docs, "no-existe")); err != nil || len(subjects) != 0 {
		t.Errorf("missing docs dir = %v, %v", subjects, err)
	}
}
