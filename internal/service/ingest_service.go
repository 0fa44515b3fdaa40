package service

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
	"unicode"

	"github.com/rs/zerolog"

	"bookrag/internal/domain"
)

const rollbackTimeout = 30 * time.Second

// ScanExisting marks a document set that was already ingested before a scan.
const ScanExisting = "existing"

// IngestConfig wires the ingestion pipeline.
type IngestConfig struct {
	Chunker  domain.Chunker
	Embedder domain.Embedder
	Store    domain.CollectionStore
	// DocsDir resolves the source directory when Ingest gets an empty one.
	DocsDir string
	Logger  zerolog.Logger
}

// IngestService turns a directory of markdown files into a searchable collection.
//
// Concurrent ingestion of the same book id is not synchronized here;
// callers that allow it must serialize per book id.
type IngestService struct {
	chunker  domain.Chunker
	embedder domain.Embedder
	store    domain.CollectionStore
	docsDir  string
	logger   zerolog.Logger
}

func NewIngestService(cfg IngestConfig) *IngestService {
	return &IngestService{
		chunker:  cfg.Chunker,
		embedder: cfg.Embedder,
		store:    cfg.Store,
		docsDir:  cfg.DocsDir,
		logger:   cfg.Logger,
	}
}

// Ingest loads, chunks, embeds and stores every markdown file in sourceDir.
// Failures never escape as errors: they come back as a result with status
// error, and no partial collection is left behind.
func (s *IngestService) Ingest(ctx context.Context, bookID, sourceDir string, force bool) domain.IngestResult {
	if sourceDir == "" {
		sourceDir = filepath.Join(s.docsDir, bookID)
	}
	log := s.logger.With().Str("book_id", bookID).Logger()
	log.Info().Str("dir", sourceDir).Bool("force", force).Msg("starting ingestion")

	fail := func(files int, err error) domain.IngestResult {
		log.Error().Err(err).Msg("ingestion failed")
		return domain.IngestResult{
			BookID:         bookID,
			Status:         domain.StatusError,
			FilesProcessed: files,
			Error:          err.Error(),
			Err:            err,
		}
	}

	if info, err := os.Stat(sourceDir); err != nil || !info.IsDir() {
		return fail(0, fmt.Errorf("directory not found: %s: %w", sourceDir, domain.ErrNotFound))
	}

	exists, err := s.store.Exists(ctx, bookID)
	if err != nil {
		return fail(0, err)
	}
	if exists {
		if !force {
			count, err := s.store.Count(ctx, bookID)
			if err != nil {
				return fail(0, err)
			}
			log.Info().Int("chunks", count).Msg("collection already exists, skipping")
			return domain.IngestResult{BookID: bookID, Status: domain.StatusReady, ChunksCount: count}
		}
		log.Info().Msg("force flag set, deleting existing collection")
		if _, err := s.store.Delete(ctx, bookID); err != nil {
			return fail(0, err)
		}
	}

	files, inserted, err := s.build(ctx, bookID, sourceDir)
	if err != nil {
		s.rollback(ctx, bookID)
		return fail(files, err)
	}
	log.Info().Int("chunks", inserted).Int("files", files).Msg("ingestion complete")
	return domain.IngestResult{
		BookID:         bookID,
		Status:         domain.StatusReady,
		ChunksCount:    inserted,
		FilesProcessed: files,
	}
}

// build runs the load, chunk, embed and store steps. It reports how many
// files were loaded even when a later step fails.
func (s *IngestService) build(ctx context.Context, bookID, sourceDir string) (int, int, error) {
	paths, err := markdownFiles(sourceDir)
	if err != nil {
		return 0, 0, err
	}
	if len(paths) == 0 {
		return 0, 0, fmt.Errorf("no markdown files in %s: %w", sourceDir, domain.ErrNotFound)
	}

	var chunks []domain.Chunk
	for _, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			return 0, 0, fmt.Errorf("read %s: %w", p, err)
		}
		chunks = append(chunks, s.chunker.Chunk(string(data), filepath.Base(p))...)
	}
	files := len(paths)
	if len(chunks) == 0 {
		return files, 0, fmt.Errorf("no content to index in %s: %w", sourceDir, domain.ErrInvalidArgument)
	}
	s.logger.Debug().Str("book_id", bookID).Int("chunks", len(chunks)).Int("files", files).Msg("chunked documents")

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Content
	}
	embeddings, err := s.embedder.Embed(ctx, texts)
	if err != nil {
		return files, 0, err
	}

	created, err := s.store.Create(ctx, bookID)
	if err != nil {
		return files, 0, err
	}
	if !created {
		s.logger.Warn().Str("book_id", bookID).Msg("collection appeared during ingestion")
	}
	inserted, err := s.store.Insert(ctx, bookID, chunks, embeddings)
	if err != nil {
		return files, 0, err
	}
	return files, inserted, nil
}

// rollback removes the collection even when ctx is already cancelled.
func (s *IngestService) rollback(ctx context.Context, bookID string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), rollbackTimeout)
	defer cancel()
	exists, err := s.store.Exists(ctx, bookID)
	if err == nil && !exists {
		return
	}
	if _, err := s.store.Delete(ctx, bookID); err != nil {
		s.logger.Error().Err(err).Str("book_id", bookID).Msg("rollback failed")
		return
	}
	s.logger.Info().Str("book_id", bookID).Msg("rolled back collection")
}

// Status is derived from the store: ready with its count, or pending.
func (s *IngestService) Status(ctx context.Context, bookID string) (domain.BookStatus, error) {
	exists, err := s.store.Exists(ctx, bookID)
	if err != nil {
		return domain.BookStatus{}, err
	}
	if !exists {
		return domain.BookStatus{BookID: bookID, Status: domain.StatusPending}, nil
	}
	count, err := s.store.Count(ctx, bookID)
	if err != nil {
		return domain.BookStatus{}, err
	}
	return domain.BookStatus{BookID: bookID, Status: domain.StatusReady, ChunksCount: count}, nil
}

// Delete removes the book's collection and reports whether there was one.
func (s *IngestService) Delete(ctx context.Context, bookID string) (bool, error) {
	deleted, err := s.store.Delete(ctx, bookID)
	if err != nil {
		return false, err
	}
	if !deleted {
		s.logger.Warn().Str("book_id", bookID).Msg("nothing to delete")
	}
	return deleted, nil
}

// List returns the ids of every ingested book.
func (s *IngestService) List(ctx context.Context) ([]string, error) {
	return s.store.List(ctx)
}

// IngestAll ingests every subject directory under docsDir that is not
// already ingested. Directories without markdown files are skipped.
func (s *IngestService) IngestAll(ctx context.Context, docsDir string) ([]domain.ScanResult, error) {
	subjects, err := Discover(docsDir)
	if err != nil {
		return nil, err
	}
	results := make([]domain.ScanResult, 0, len(subjects))
	for _, subj := range subjects {
		if err := ctx.Err(); err != nil {
			return results, err
		}
		exists, err := s.store.Exists(ctx, subj.Slug)
		if err != nil {
			results = append(results, domain.ScanResult{Slug: subj.Slug, Status: string(domain.StatusError), FilesCount: subj.FileCount, Error: err.Error()})
			continue
		}
		if exists {
			count, err := s.store.Count(ctx, subj.Slug)
			if err != nil {
				results = append(results, domain.ScanResult{Slug: subj.Slug, Status: string(domain.StatusError), FilesCount: subj.FileCount, Error: err.Error()})
				continue
			}
			s.logger.Info().Str("book_id", subj.Slug).Int("chunks", count).Msg("already ingested")
			results = append(results, domain.ScanResult{Slug: subj.Slug, Status: ScanExisting, ChunksCount: count, FilesCount: subj.FileCount})
			continue
		}
		res := s.Ingest(ctx, subj.Slug, filepath.Join(docsDir, subj.Slug), false)
		results = append(results, domain.ScanResult{
			Slug:        subj.Slug,
			Status:      string(res.Status),
			ChunksCount: res.ChunksCount,
			FilesCount:  res.FilesProcessed,
			Error:       res.Error,
		})
	}
	return results, nil
}

// Discover lists the subject directories under docsDir that hold markdown
// files, sorted by slug. A missing docsDir yields no subjects.
func Discover(docsDir string) ([]domain.Subject, error) {
	entries, err := os.ReadDir(docsDir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read docs dir: %w", err)
	}
	var subjects []domain.Subject
	for _, e := range entries {
		if !e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		files, err := markdownFiles(filepath.Join(docsDir, e.Name()))
		if err != nil || len(files) == 0 {
			continue
		}
		subjects = append(subjects, domain.Subject{
			Slug:      e.Name(),
			Name:      DisplayName(e.Name()),
			FileCount: len(files),
		})
	}
	return subjects, nil
}

// DisplayName turns a slug such as "redes-neuronales" into "Redes Neuronales".
func DisplayName(slug string) string {
	words := strings.Fields(strings.NewReplacer("-", " ", "_", " ").Replace(slug))
	for i, w := range words {
		r := []rune(strings.ToLower(w))
		r[0] = unicode.ToTitle(r[0])
		words[i] = string(r)
	}
	return strings.Join(words, " ")
}

// markdownFiles returns the .md files directly inside dir, sorted by name.
func markdownFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", dir, err)
	}
	var paths []string
	for _, e := range entries {
		if e.Type().IsRegular() && strings.HasSuffix(e.Name(), ".md") {
			paths = append(paths, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(paths)
	return paths, nil
}
