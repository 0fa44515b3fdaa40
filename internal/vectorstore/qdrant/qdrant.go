package qdrant

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"bookrag/internal/domain"
	"bookrag/internal/vectorstore"
)

const (
	defaultTimeout           = 30 * time.Second
	defaultIndexingThreshold = 10000
)

var _ domain.CollectionStore = (*Storage)(nil)

// Storage is a REST client to Qdrant with one collection per book.
// Collections use cosine distance.
type Storage struct {
	url               string
	apiKey            string
	prefix            string
	dimension         int
	indexingThreshold int
	client            *http.Client
	logger            zerolog.Logger
}

type Config struct {
	URL               string
	APIKey            string
	CollectionPrefix  string
	Dimensions        int
	IndexingThreshold int
	Timeout           time.Duration
	Logger            zerolog.Logger
}

func NewStorage(cfg Config) (*Storage, error) {
	if cfg.URL == "" {
		return nil, errors.New("qdrant url is required")
	}
	if cfg.Dimensions <= 0 {
		return nil, errors.New("invalid dimension")
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = defaultTimeout
	}
	if cfg.CollectionPrefix == "" {
		cfg.CollectionPrefix = vectorstore.DefaultPrefix
	}
	if cfg.IndexingThreshold <= 0 {
		cfg.IndexingThreshold = defaultIndexingThreshold
	}
	return &Storage{
		url:               strings.TrimRight(cfg.URL, "/"),
		apiKey:            cfg.APIKey,
		prefix:            cfg.CollectionPrefix,
		dimension:         cfg.Dimensions,
		indexingThreshold: cfg.IndexingThreshold,
		client:            &http.Client{Timeout: timeout},
		logger:            cfg.Logger,
	}, nil
}

func (s *Storage) collectionURL(bookID string, parts ...string) string {
	u := s.url + "/collections/" + url.PathEscape(vectorstore.CollectionName(s.prefix, bookID))
	for _, p := range parts {
		u += "/" + p
	}
	return u
}

func (s *Storage) Exists(ctx context.Context, bookID string) (bool, error) {
	status, err := s.do(ctx, http.MethodGet, s.collectionURL(bookID), nil, nil)
	if status == http.StatusNotFound {
		return false, nil
	}
	if err != nil {
		return false, s.fail("exists", err)
	}
	return true, nil
}

func (s *Storage) Create(ctx context.Context, bookID string) (bool, error) {
	exists, err := s.Exists(ctx, bookID)
	if err != nil {
		return false, err
	}
	if exists {
		return false, nil
	}
	body := map[string]any{
		"vectors": map[string]any{
			"size":     s.dimension,
			"distance": "Cosine",
		},
		"optimizers_config": map[string]any{
			"indexing_threshold": s.indexingThreshold,
		},
	}
	if _, err := s.do(ctx, http.MethodPut, s.collectionURL(bookID), body, nil); err != nil {
		return false, s.fail("create", err)
	}
	for _, field := range vectorstore.IndexedFields {
		idx := map[string]any{"field_name": field, "field_schema": "keyword"}
		if _, err := s.do(ctx, http.MethodPut, s.collectionURL(bookID, "index")+"?wait=true", idx, nil); err != nil {
			// a collection without its indexes is not usable for filtering
			if _, derr := s.do(context.WithoutCancel(ctx), http.MethodDelete, s.collectionURL(bookID), nil, nil); derr != nil {
				s.logger.Warn().Err(derr).Str("book_id", bookID).Msg("could not remove half-created collection")
			}
			return false, s.fail("create index "+field, err)
		}
	}
	s.logger.Info().Str("book_id", bookID).Int("dimensions", s.dimension).Msg("collection created")
	return true, nil
}

func (s *Storage) Delete(ctx context.Context, bookID string) (bool, error) {
	exists, err := s.Exists(ctx, bookID)
	if err != nil {
		return false, err
	}
	if !exists {
		return false, nil
	}
	if _, err := s.do(ctx, http.MethodDelete, s.collectionURL(bookID), nil, nil); err != nil {
		return false, s.fail("delete", err)
	}
	s.logger.Info().Str("book_id", bookID).Msg("collection deleted")
	return true, nil
}

type point struct {
	ID      string         `json:"id"`
	Vector  []float32      `json:"vector"`
	Payload map[string]any `json:"payload"`
}

// Insert writes all points in one request and waits until they are indexed.
func (s *Storage) Insert(ctx context.Context, bookID string, chunks []domain.Chunk, embeddings [][]float32) (int, error) {
	records, err := vectorstore.NewRecords(bookID, chunks, embeddings, s.dimension)
	if err != nil {
		return 0, err
	}
	if len(records) == 0 {
		return 0, nil
	}
	points := make([]point, len(records))
	for i, r := range records {
		points[i] = point{ID: r.ID, Vector: r.Vector, Payload: r.Payload()}
	}
	status, err := s.do(ctx, http.MethodPut, s.collectionURL(bookID, "points")+"?wait=true", map[string]any{"points": points}, nil)
	if status == http.StatusNotFound {
		return 0, fmt.Errorf("collection for %s: %w", bookID, domain.ErrNotFound)
	}
	if err != nil {
		return 0, s.fail("insert", err)
	}
	return len(records), nil
}

func (s *Storage) Search(ctx context.Context, bookID string, vector []float32, limit int, threshold *float64) ([]domain.RetrievedChunk, error) {
	if limit <= 0 {
		return []domain.RetrievedChunk{}, nil
	}
	req := map[string]any{
		"vector":       vector,
		"limit":        limit,
		"with_payload": true,
	}
	if threshold != nil {
		req["score_threshold"] = *threshold
	}
	var resp struct {
		Result []struct {
			Score   float64        `json:"score"`
			Payload map[string]any `json:"payload"`
		} `json:"result"`
	}
	status, err := s.do(ctx, http.MethodPost, s.collectionURL(bookID, "points", "search"), req, &resp)
	if status == http.StatusNotFound {
		return nil, fmt.Errorf("collection for %s: %w", bookID, domain.ErrNotFound)
	}
	if err != nil {
		return nil, s.fail("search", err)
	}
	results := make([]domain.RetrievedChunk, 0, len(resp.Result))
	for _, r := range resp.Result {
		results = append(results, vectorstore.FromPayload(r.Payload, r.Score))
	}
	return results, nil
}

func (s *Storage) Count(ctx context.Context, bookID string) (int, error) {
	var resp struct {
		Result struct {
			Count int `json:"count"`
		} `json:"result"`
	}
	status, err := s.do(ctx, http.MethodPost, s.collectionURL(bookID, "points", "count"), map[string]any{"exact": true}, &resp)
	if status == http.StatusNotFound {
		return 0, nil
	}
	if err != nil {
		return 0, s.fail("count", err)
	}
	return resp.Result.Count, nil
}

// List returns the book ids behind every collection carrying the prefix.
func (s *Storage) List(ctx context.Context) ([]string, error) {
	var resp struct {
		Result struct {
			Collections []struct {
				Name string `json:"name"`
			} `json:"collections"`
		} `json:"result"`
	}
	if _, err := s.do(ctx, http.MethodGet, s.url+"/collections", nil, &resp); err != nil {
		return nil, s.fail("list", err)
	}
	ids := make([]string, 0, len(resp.Result.Collections))
	for _, c := range resp.Result.Collections {
		if id, ok := strings.CutPrefix(c.Name, s.prefix); ok {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// Ping checks that the server answers.
func (s *Storage) Ping(ctx context.Context) error {
	if _, err := s.do(ctx, http.MethodGet, s.url+"/collections", nil, nil); err != nil {
		return s.fail("ping", err)
	}
	return nil
}

func (s *Storage) fail(op string, err error) error {
	return &domain.StorageError{Backend: "qdrant", Op: op, Err: err}
}

// do sends a JSON request and decodes the response into out when non-nil.
// It returns the HTTP status, or 0 when no response arrived.
func (s *Storage) do(ctx context.Context, method, url string, body, out any) (int, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return 0, err
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return 0, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if s.apiKey != "" {
		req.Header.Set("api-key", s.apiKey)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return resp.StatusCode, fmt.Errorf("qdrant %s %s failed: %s%s", method, req.URL.Path, resp.Status, errorDetail(resp.Body))
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, fmt.Errorf("decode qdrant response: %w", err)
		}
	}
	return resp.StatusCode, nil
}

func errorDetail(r io.Reader) string {
	var body struct {
		Status struct {
			Error string `json:"error"`
		} `json:"status"`
	}
	data, _ := io.ReadAll(io.LimitReader(r, 4096))
	if json.Unmarshal(data, &body) == nil && body.Status.Error != "" {
		return ": " + body.Status.Error
	}
	return ""
}
