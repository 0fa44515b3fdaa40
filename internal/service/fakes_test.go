package service

import (
	"context"
	"errors"
	"iter"
	"sync"

	"bookrag/internal/domain"
	"bookrag/internal/vectorstore/memory"
)

// fakeEmbedder returns vectors[text] or fallback, and counts calls.
type fakeEmbedder struct {
	mu       sync.Mutex
	vectors  map[string][]float32
	fallback []float32
	err      error
	calls    int
}

func (f *fakeEmbedder) Name() string { return "fake" }

func (f *fakeEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, &domain.ProviderError{Provider: "fake", Op: "embed", Err: f.err}
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		if v, ok := f.vectors[t]; ok {
			out[i] = v
			continue
		}
		out[i] = f.fallback
	}
	return out, nil
}

// fakeGenerator records requests and replays a canned answer or stream.
type fakeGenerator struct {
	answer    string
	err       error
	fragments []string
	streamErr error
	requests  []domain.GenerateRequest
	// yielded counts fragments handed to the consumer.
	yielded int
}

func (f *fakeGenerator) Model() string { return "fake-model" }

func (f *fakeGenerator) Generate(_ context.Context, req domain.GenerateRequest) (string, error) {
	f.requests = append(f.requests, req)
	if f.err != nil {
		return "", &domain.GenerationError{Provider: "fake", Err: f.err}
	}
	return f.answer, nil
}

func (f *fakeGenerator) Stream(_ context.Context, req domain.GenerateRequest) iter.Seq2[string, error] {
	f.requests = append(f.requests, req)
	return func(yield func(string, error) bool) {
		for _, frag := range f.fragments {
			f.yielded++
			if !yield(frag, nil) {
				return
			}
		}
		if f.streamErr != nil {
			yield("", &domain.GenerationError{Provider: "fake", Err: f.streamErr})
		}
	}
}

// failingStore breaks Insert after the collection has been created.
type failingStore struct {
	*memory.Storage
}

func (f failingStore) Insert(context.Context, string, []domain.Chunk, [][]float32) (int, error) {
	return 0, &domain.StorageError{Backend: "fake", Op: "insert", Err: errors.New("connection reset")}
}

// recordingStore remembers the arguments of every Search.
type recordingStore struct {
	*memory.Storage
	limits     []int
	thresholds []*float64
}

func (r *recordingStore) Search(ctx context.Context, bookID string, vector []float32, limit int, threshold *float64) ([]domain.RetrievedChunk, error) {
	r.limits = append(r.limits, limit)
	r.thresholds = append(r.thresholds, threshold)
	return r.Storage.Search(ctx, bookID, vector, limit, threshold)
}
