package memory

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"

	"bookrag/internal/domain"
	"bookrag/internal/vectorstore"
)

var _ domain.CollectionStore = (*Storage)(nil)

// Storage is an in-memory collection store using brute-force cosine similarity.
type Storage struct {
	mu          sync.RWMutex
	prefix      string
	dimension   int
	collections map[string][]vectorstore.Record
}

// NewStorage returns an empty store. A positive dimension is enforced on insert.
func NewStorage(dimension int) *Storage {
	return &Storage{
		prefix:      vectorstore.DefaultPrefix,
		dimension:   dimension,
		collections: make(map[string][]vectorstore.Record),
	}
}

func (s *Storage) name(bookID string) string {
	return vectorstore.CollectionName(s.prefix, bookID)
}

func (s *Storage) Exists(_ context.Context, bookID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.collections[s.name(bookID)]
	return ok, nil
}

func (s *Storage) Create(_ context.Context, bookID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.collections[s.name(bookID)]; ok {
		return false, nil
	}
	s.collections[s.name(bookID)] = []vectorstore.Record{}
	return true, nil
}

func (s *Storage) Delete(_ context.Context, bookID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.collections[s.name(bookID)]; !ok {
		return false, nil
	}
	delete(s.collections, s.name(bookID))
	return true, nil
}

func (s *Storage) Insert(_ context.Context, bookID string, chunks []domain.Chunk, embeddings [][]float32) (int, error) {
	records, err := vectorstore.NewRecords(bookID, chunks, embeddings, s.dimension)
	if err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.collections[s.name(bookID)]
	if !ok {
		return 0, fmt.Errorf("collection %s: %w", s.name(bookID), domain.ErrNotFound)
	}
	s.collections[s.name(bookID)] = append(existing, records...)
	return len(records), nil
}

func (s *Storage) Search(_ context.Context, bookID string, vector []float32, limit int, threshold *float64) ([]domain.RetrievedChunk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	records, ok := s.collections[s.name(bookID)]
	if !ok {
		return nil, fmt.Errorf("collection %s: %w", s.name(bookID), domain.ErrNotFound)
	}
	if limit <= 0 {
		return []domain.RetrievedChunk{}, nil
	}
	hits := make([]domain.RetrievedChunk, 0, len(records))
	for _, r := range records {
		score := cosine(r.Vector, vector)
		if threshold != nil && score < *threshold {
			continue
		}
		hits = append(hits, domain.RetrievedChunk{Chunk: r.Chunk, ChunkIndex: r.ChunkIndex, Score: score})
	}
	// stable so equal scores keep insertion order
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	if len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

func (s *Storage) Count(_ context.Context, bookID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.collections[s.name(bookID)]), nil
}

func (s *Storage) List(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.collections))
	for name := range s.collections {
		if id, ok := strings.CutPrefix(name, s.prefix); ok {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func cosine(a, b []float32) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var dot, na, nb float64
	for i := 0; i < n; i++ {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
