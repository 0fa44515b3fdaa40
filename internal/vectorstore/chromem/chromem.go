// Package chromem stores book collections in an embedded chromem-go database,
// in memory or persisted to a directory.
package chromem

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sort"
	"strconv"
	"strings"

	"github.com/philippgille/chromem-go"
	"github.com/rs/zerolog"

	"bookrag/internal/domain"
	"bookrag/internal/vectorstore"
)

var _ domain.CollectionStore = (*Storage)(nil)

var errNoEmbeddingFunc = errors.New("documents must carry precomputed embeddings")

type Config struct {
	// Path persists the database when set; otherwise it lives in memory.
	Path             string
	Compress         bool
	CollectionPrefix string
	Dimensions       int
	Logger           zerolog.Logger
}

type Storage struct {
	db        *chromem.DB
	prefix    string
	dimension int
	logger    zerolog.Logger
}

func NewStorage(cfg Config) (*Storage, error) {
	var db *chromem.DB
	if cfg.Path == "" {
		db = chromem.NewDB()
	} else {
		var err error
		db, err = chromem.NewPersistentDB(cfg.Path, cfg.Compress)
		if err != nil {
			return nil, &domain.StorageError{Backend: "chromem", Op: "open", Err: err}
		}
	}
	if cfg.CollectionPrefix == "" {
		cfg.CollectionPrefix = vectorstore.DefaultPrefix
	}
	return &Storage{db: db, prefix: cfg.CollectionPrefix, dimension: cfg.Dimensions, logger: cfg.Logger}, nil
}

// noEmbed refuses to embed; every record arrives with its vector.
func noEmbed(context.Context, string) ([]float32, error) {
	return nil, errNoEmbeddingFunc
}

func (s *Storage) collection(bookID string) *chromem.Collection {
	return s.db.GetCollection(vectorstore.CollectionName(s.prefix, bookID), noEmbed)
}

func (s *Storage) Exists(_ context.Context, bookID string) (bool, error) {
	return s.collection(bookID) != nil, nil
}

func (s *Storage) Create(_ context.Context, bookID string) (bool, error) {
	if s.collection(bookID) != nil {
		return false, nil
	}
	meta := map[string]string{
		vectorstore.FieldBookID: bookID,
		"dimensions":            strconv.Itoa(s.dimension),
		"distance":              "cosine",
	}
	if _, err := s.db.CreateCollection(vectorstore.CollectionName(s.prefix, bookID), meta, noEmbed); err != nil {
		return false, &domain.StorageError{Backend: "chromem", Op: "create", Err: err}
	}
	s.logger.Info().Str("book_id", bookID).Msg("collection created")
	return true, nil
}

func (s *Storage) Delete(_ context.Context, bookID string) (bool, error) {
	if s.collection(bookID) == nil {
		return false, nil
	}
	if err := s.db.DeleteCollection(vectorstore.CollectionName(s.prefix, bookID)); err != nil {
		return false, &domain.StorageError{Backend: "chromem", Op: "delete", Err: err}
	}
	s.logger.Info().Str("book_id", bookID).Msg("collection deleted")
	return true, nil
}

// Insert adds all documents or, on failure, removes the ones already added.
func (s *Storage) Insert(ctx context.Context, bookID string, chunks []domain.Chunk, embeddings [][]float32) (int, error) {
	records, err := vectorstore.NewRecords(bookID, chunks, embeddings, s.dimension)
	if err != nil {
		return 0, err
	}
	col := s.collection(bookID)
	if col == nil {
		return 0, fmt.Errorf("collection for %s: %w", bookID, domain.ErrNotFound)
	}
	if len(records) == 0 {
		return 0, nil
	}
	docs := make([]chromem.Document, len(records))
	ids := make([]string, len(records))
	for i, r := range records {
		ids[i] = r.ID
		docs[i] = chromem.Document{
			ID:        r.ID,
			Metadata:  r.Metadata(),
			Embedding: r.Vector,
			Content:   r.Chunk.Content,
		}
	}
	if err := col.AddDocuments(ctx, docs, runtime.NumCPU()); err != nil {
		if derr := col.Delete(context.WithoutCancel(ctx), nil, nil, ids...); derr != nil {
			s.logger.Warn().Err(derr).Str("book_id", bookID).Msg("could not roll back partial insert")
		}
		return 0, &domain.StorageError{Backend: "chromem", Op: "insert", Err: err}
	}
	return len(records), nil
}

func (s *Storage) Search(ctx context.Context, bookID string, vector []float32, limit int, threshold *float64) ([]domain.RetrievedChunk, error) {
	col := s.collection(bookID)
	if col == nil {
		return nil, fmt.Errorf("collection for %s: %w", bookID, domain.ErrNotFound)
	}
	// chromem rejects nResults above the document count
	n := min(limit, col.Count())
	if n <= 0 {
		return []domain.RetrievedChunk{}, nil
	}
	results, err := col.QueryEmbedding(ctx, vector, n, nil, nil)
	if err != nil {
		return nil, &domain.StorageError{Backend: "chromem", Op: "search", Err: err}
	}
	hits := make([]domain.RetrievedChunk, 0, len(results))
	for _, r := range results {
		score := float64(r.Similarity)
		if threshold != nil && score < *threshold {
			continue
		}
		hits = append(hits, vectorstore.FromMetadata(r.Metadata, r.Content, score))
	}
	return hits, nil
}

func (s *Storage) Count(_ context.Context, bookID string) (int, error) {
	col := s.collection(bookID)
	if col == nil {
		return 0, nil
	}
	return col.Count(), nil
}

func (s *Storage) List(_ context.Context) ([]string, error) {
	ids := make([]string, 0)
	for name := range s.db.ListCollections() {
		if id, ok := strings.CutPrefix(name, s.prefix); ok {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}
