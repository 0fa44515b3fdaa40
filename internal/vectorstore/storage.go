// Package vectorstore holds what the collection store backends share:
// collection naming, record construction and payload mapping.
// Backends implement domain.CollectionStore.
package vectorstore

import (
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"

	"bookrag/internal/domain"
)

// DefaultPrefix is prepended to a book id to name its collection.
const DefaultPrefix = "book_"

// Payload field names. book_id and source_file are indexed for filtering.
const (
	FieldBookID     = "book_id"
	FieldChunkIndex = "chunk_index"
	FieldContent    = "content"
	FieldSourceFile = "source_file"
	FieldTitulo     = "titulo"
	FieldSeccion    = "seccion"
	FieldSubseccion = "subseccion"
	FieldCreatedAt  = "created_at"
)

// IndexedFields are the payload fields every backend makes filterable.
var IndexedFields = []string{FieldBookID, FieldSourceFile}

// CollectionName returns the backend name of a book's collection.
func CollectionName(prefix, bookID string) string {
	return prefix + bookID
}

// Record is one chunk with its vector, ready to be written.
type Record struct {
	ID         string
	BookID     string
	ChunkIndex int
	Chunk      domain.Chunk
	Vector     []float32
	CreatedAt  time.Time
}

// NewRecords pairs chunks with embeddings under fresh ids.
// It fails with domain.ErrInvalidArgument when the inputs do not line up
// or when dims is positive and a vector has another length.
func NewRecords(bookID string, chunks []domain.Chunk, embeddings [][]float32, dims int) ([]Record, error) {
	if len(chunks) != len(embeddings) {
		return nil, fmt.Errorf("%d chunks but %d embeddings: %w", len(chunks), len(embeddings), domain.ErrInvalidArgument)
	}
	now := time.Now().UTC()
	records := make([]Record, len(chunks))
	for i := range chunks {
		if len(embeddings[i]) == 0 {
			return nil, fmt.Errorf("empty embedding for chunk %d: %w", i, domain.ErrInvalidArgument)
		}
		if dims > 0 && len(embeddings[i]) != dims {
			return nil, fmt.Errorf("embedding %d has dimension %d, collection has %d: %w",
				i, len(embeddings[i]), dims, domain.ErrInvalidArgument)
		}
		records[i] = Record{
			ID:         uuid.NewString(),
			BookID:     bookID,
			ChunkIndex: i,
			Chunk:      chunks[i],
			Vector:     embeddings[i],
			CreatedAt:  now,
		}
	}
	return records, nil
}

// Payload returns the record's payload. Absent headings are nil.
func (r Record) Payload() map[string]any {
	return map[string]any{
		FieldBookID:     r.BookID,
		FieldChunkIndex: r.ChunkIndex,
		FieldContent:    r.Chunk.Content,
		FieldSourceFile: sourceFile(r.Chunk.SourceFile),
		FieldTitulo:     nullable(r.Chunk.Titulo),
		FieldSeccion:    nullable(r.Chunk.Seccion),
		FieldSubseccion: nullable(r.Chunk.Subseccion),
		FieldCreatedAt:  r.CreatedAt.Format(time.RFC3339),
	}
}

// Metadata returns the payload as strings, omitting absent headings.
func (r Record) Metadata() map[string]string {
	m := map[string]string{
		FieldBookID:     r.BookID,
		FieldChunkIndex: strconv.Itoa(r.ChunkIndex),
		FieldSourceFile: sourceFile(r.Chunk.SourceFile),
		FieldCreatedAt:  r.CreatedAt.Format(time.RFC3339),
	}
	for k, v := range map[string]string{
		FieldTitulo:     r.Chunk.Titulo,
		FieldSeccion:    r.Chunk.Seccion,
		FieldSubseccion: r.Chunk.Subseccion,
	} {
		if v != "" {
			m[k] = v
		}
	}
	return m
}

// FromPayload rebuilds a search hit from a JSON-decoded payload.
func FromPayload(payload map[string]any, score float64) domain.RetrievedChunk {
	str := func(k string) string {
		s, _ := payload[k].(string)
		return s
	}
	rc := domain.RetrievedChunk{
		Chunk: domain.Chunk{
			Content:    str(FieldContent),
			SourceFile: str(FieldSourceFile),
			Titulo:     str(FieldTitulo),
			Seccion:    str(FieldSeccion),
			Subseccion: str(FieldSubseccion),
		},
		Score: score,
	}
	if v, ok := payload[FieldChunkIndex].(float64); ok {
		rc.ChunkIndex = int(v)
	}
	return rc
}

// FromMetadata rebuilds a search hit from string metadata and content.
func FromMetadata(meta map[string]string, content string, score float64) domain.RetrievedChunk {
	idx, _ := strconv.Atoi(meta[FieldChunkIndex])
	return domain.RetrievedChunk{
		Chunk: domain.Chunk{
			Content:    content,
			SourceFile: meta[FieldSourceFile],
			Titulo:     meta[FieldTitulo],
			Seccion:    meta[FieldSeccion],
			Subseccion: meta[FieldSubseccion],
		},
		ChunkIndex: idx,
		Score:      score,
	}
}

func sourceFile(s string) string {
	if s == "" {
		return "unknown"
	}
	return s
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
