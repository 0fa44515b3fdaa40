package domain

import (
	"math"
	"unicode/utf8"
)

// Chunk is a contiguous span of one markdown document plus the headings that enclose it.
type Chunk struct {
	Content    string `json:"content"`
	SourceFile string `json:"source_file"`
	Titulo     string `json:"titulo,omitempty"`
	Seccion    string `json:"seccion,omitempty"`
	Subseccion string `json:"subseccion,omitempty"`
}

// RetrievedChunk is a chunk returned by a similarity search.
type RetrievedChunk struct {
	Chunk
	ChunkIndex int     `json:"chunk_index"`
	Score      float64 `json:"score"`
}

// IngestStatus is the lifecycle state of a document set.
type IngestStatus string

const (
	StatusPending    IngestStatus = "pending"
	StatusProcessing IngestStatus = "processing"
	StatusReady      IngestStatus = "ready"
	StatusError      IngestStatus = "error"
)

// IngestResult is the outcome of one ingestion run.
// Err keeps the typed failure for callers; Error is its wire form.
type IngestResult struct {
	BookID         string       `json:"book_id"`
	Status         IngestStatus `json:"status"`
	ChunksCount    int          `json:"chunks_count"`
	FilesProcessed int          `json:"files_processed"`
	Error          string       `json:"error,omitempty"`
	Err            error        `json:"-"`
}

// BookStatus is derived from the collection, never stored.
type BookStatus struct {
	BookID      string       `json:"book_id"`
	Status      IngestStatus `json:"status"`
	ChunksCount int          `json:"chunks_count"`
}

// ScanResult reports what a directory scan did with one document set.
type ScanResult struct {
	Slug        string `json:"slug"`
	Status      string `json:"status"`
	ChunksCount int    `json:"chunks_count"`
	FilesCount  int    `json:"files_count"`
	Error       string `json:"error,omitempty"`
}

// Subject is a document set found on disk.
type Subject struct {
	Slug      string `json:"slug"`
	Name      string `json:"name"`
	FileCount int    `json:"file_count"`
}

// Source is a retrieved chunk as exposed to callers of the engine.
type Source struct {
	SourceFile string  `json:"source_file"`
	Titulo     *string `json:"titulo"`
	Seccion    *string `json:"seccion"`
	Subseccion *string `json:"subseccion"`
	Content    string  `json:"content"`
	Score      float64 `json:"score"`
}

// NewSource converts a search hit, rounding the score to 3 decimals.
func NewSource(rc RetrievedChunk) Source {
	file := rc.SourceFile
	if file == "" {
		file = "unknown"
	}
	return Source{
		SourceFile: file,
		Titulo:     optional(rc.Titulo),
		Seccion:    optional(rc.Seccion),
		Subseccion: optional(rc.Subseccion),
		Content:    rc.Content,
		Score:      math.Round(rc.Score*1000) / 1000,
	}
}

// RAGAnswer is a generated answer with the sources it was grounded on.
type RAGAnswer struct {
	Answer    string   `json:"answer"`
	Sources   []Source `json:"sources"`
	BookID    string   `json:"book_id"`
	ModelUsed string   `json:"model_used"`
}

// StreamSourceMaxLen bounds the content carried by a sources event.
const StreamSourceMaxLen = 200

// StreamSource is the transport form of a Source inside a sources event.
type StreamSource struct {
	SourceFile string  `json:"source_file"`
	Titulo     *string `json:"titulo"`
	Seccion    *string `json:"seccion"`
	Content    string  `json:"content"`
	Score      float64 `json:"score"`
}

// NewStreamSource truncates the content to StreamSourceMaxLen characters.
func NewStreamSource(s Source) StreamSource {
	return StreamSource{
		SourceFile: s.SourceFile,
		Titulo:     s.Titulo,
		Seccion:    s.Seccion,
		Content:    Truncate(s.Content, StreamSourceMaxLen),
		Score:      s.Score,
	}
}

// Truncate cuts s to n characters and appends "..." when it was longer.
func Truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n]) + "..."
}

// EventType names a streamed answer event.
type EventType string

const (
	EventSources EventType = "sources"
	EventToken   EventType = "token"
	EventDone    EventType = "done"
	EventError   EventType = "error"
)

// StreamEvent is one element of a streamed answer.
type StreamEvent struct {
	Type    EventType
	Sources []StreamSource
	Token   string
	Err     error
}

// GenerateRequest is the input to a generation backend. Nil options use the backend defaults.
type GenerateRequest struct {
	Prompt       string
	SystemPrompt string
	Temperature  *float64
	MaxTokens    *int
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
