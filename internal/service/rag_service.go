package service

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"time"

	"github.com/rs/zerolog"

	"bookrag/internal/domain"
)

const (
	DefaultRetrieverK        = 4
	DefaultMinRelevanceScore = 0.3
	// overFetch widens the store query before trimming to k.
	overFetch = 3
)

// RAGConfig wires the question answering engine.
type RAGConfig struct {
	Embedder  domain.Embedder
	Store     domain.CollectionStore
	Generator domain.Generator
	// K is the number of chunks kept as context.
	K int
	// MinScore drops hits scoring below it.
	MinScore float64
	Logger   zerolog.Logger
}

// RAGService answers questions about one book from its retrieved chunks.
type RAGService struct {
	embedder  domain.Embedder
	store     domain.CollectionStore
	generator domain.Generator
	k         int
	minScore  float64
	logger    zerolog.Logger
}

func NewRAGService(cfg RAGConfig) *RAGService {
	if cfg.K <= 0 {
		cfg.K = DefaultRetrieverK
	}
	return &RAGService{
		embedder:  cfg.Embedder,
		store:     cfg.Store,
		generator: cfg.Generator,
		k:         cfg.K,
		minScore:  cfg.MinScore,
		logger:    cfg.Logger,
	}
}

// Retrieve returns at most k hits above the minimum score, best first.
// It fails with domain.ErrNotFound when the book has no collection.
func (s *RAGService) Retrieve(ctx context.Context, bookID, question string) ([]domain.RetrievedChunk, error) {
	exists, err := s.store.Exists(ctx, bookID)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, fmt.Errorf("book %q: %w", bookID, domain.ErrNotFound)
	}
	vectors, err := s.embedder.Embed(ctx, []string{question})
	if err != nil {
		return nil, err
	}
	if len(vectors) != 1 {
		return nil, &domain.ProviderError{Provider: s.embedder.Name(), Op: "embed", Err: errors.New("no embedding for question")}
	}
	minScore := s.minScore
	hits, err := s.store.Search(ctx, bookID, vectors[0], s.k*overFetch, &minScore)
	if err != nil {
		return nil, err
	}
	if len(hits) > s.k {
		hits = hits[:s.k]
	}
	return hits, nil
}

// Answer retrieves context and generates a cited answer. With no relevant
// context it returns NoResultsAnswer without calling the generator.
func (s *RAGService) Answer(ctx context.Context, bookID, question string) (*domain.RAGAnswer, error) {
	started := time.Now()
	hits, err := s.Retrieve(ctx, bookID, question)
	if err != nil {
		return nil, err
	}
	resp := &domain.RAGAnswer{BookID: bookID, ModelUsed: s.generator.Model(), Sources: []domain.Source{}}
	if len(hits) == 0 {
		s.logger.Info().Str("book_id", bookID).Msg("no relevant chunks")
		resp.Answer = NoResultsAnswer
		return resp, nil
	}

	bookContext, sources := BuildContext(hits)
	answer, err := s.generator.Generate(ctx, domain.GenerateRequest{
		Prompt:       question,
		SystemPrompt: SystemPrompt(bookContext),
	})
	if err != nil {
		return nil, err
	}
	resp.Answer = answer
	resp.Sources = sources
	s.logger.Info().
		Str("book_id", bookID).
		Int("sources", len(sources)).
		Dur("took", time.Since(started)).
		Msg("answered question")
	return resp, nil
}

// Stream retrieves context up front, so lookup, embedding and search
// failures are returned before any event. The sequence then yields the
// sources, the answer tokens and a done event, or an error event in place
// of done. Stopping the iteration cancels generation.
func (s *RAGService) Stream(ctx context.Context, bookID, question string) (iter.Seq[domain.StreamEvent], error) {
	hits, err := s.Retrieve(ctx, bookID, question)
	if err != nil {
		return nil, err
	}
	bookContext, sources := BuildContext(hits)
	streamSources := make([]domain.StreamSource, len(sources))
	for i, src := range sources {
		streamSources[i] = domain.NewStreamSource(src)
	}

	return func(yield func(domain.StreamEvent) bool) {
		if !yield(domain.StreamEvent{Type: domain.EventSources, Sources: streamSources}) {
			return
		}
		if len(hits) == 0 {
			if yield(domain.StreamEvent{Type: domain.EventToken, Token: NoResultsAnswer}) {
				yield(domain.StreamEvent{Type: domain.EventDone})
			}
			return
		}
		req := domain.GenerateRequest{Prompt: question, SystemPrompt: SystemPrompt(bookContext)}
		for frag, err := range s.generator.Stream(ctx, req) {
			if err != nil {
				s.logger.Error().Err(err).Str("book_id", bookID).Msg("stream failed")
				yield(domain.StreamEvent{Type: domain.EventError, Err: err})
				return
			}
			if !yield(domain.StreamEvent{Type: domain.EventToken, Token: frag}) {
				return
			}
		}
		yield(domain.StreamEvent{Type: domain.EventDone})
	}, nil
}
