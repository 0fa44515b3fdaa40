package domain

import (
	"context"
	"iter"
)

// Chunker splits one markdown document into ordered chunks.
type Chunker interface {
	Chunk(markdown, sourceFile string) []Chunk
}

// Embedder converts texts into fixed-length vectors, one per text, in order.
// Either every text is embedded or the call fails.
type Embedder interface {
	Name() string
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// Generator produces text from a prompt, whole or as a stream of fragments.
// Both paths remove thinking blocks before text reaches the caller.
type Generator interface {
	Model() string
	Generate(ctx context.Context, req GenerateRequest) (string, error)
	// Stream yields filtered fragments. A failure is yielded once as the
	// last element. Stopping the iteration early releases the backend request.
	Stream(ctx context.Context, req GenerateRequest) iter.Seq2[string, error]
}

// CollectionStore keeps one vector collection per document set.
type CollectionStore interface {
	Exists(ctx context.Context, bookID string) (bool, error)
	// Create reports false when the collection already exists.
	Create(ctx context.Context, bookID string) (bool, error)
	// Delete reports false when there was nothing to delete.
	Delete(ctx context.Context, bookID string) (bool, error)
	// Insert stores all records or none and returns once they are searchable.
	Insert(ctx context.Context, bookID string, chunks []Chunk, embeddings [][]float32) (int, error)
	// Search returns hits by descending score. A nil threshold disables filtering.
	Search(ctx context.Context, bookID string, vector []float32, limit int, threshold *float64) ([]RetrievedChunk, error)
	Count(ctx context.Context, bookID string) (int, error)
	List(ctx context.Context) ([]string, error)
}
