package ollama

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/ollama/ollama/api"
	"github.com/ollama/ollama/envconfig"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"bookrag/internal/domain"
	"bookrag/internal/embedding"
)

const (
	defaultModel         = "bge-m3"
	defaultBatchSize     = 32
	defaultMaxConcurrent = 3
	defaultTimeout       = 60 * time.Second
)

var _ domain.Embedder = (*Client)(nil)

// Config configures the Ollama embedding client.
type Config struct {
	BaseURL       string
	Model         string
	Dimensions    int
	BatchSize     int
	MaxConcurrent int
	Timeout       time.Duration
	Logger        zerolog.Logger
}

// Client embeds texts through the Ollama /api/embed endpoint.
type Client struct {
	api           *api.Client
	model         string
	dimensions    int
	batchSize     int
	maxConcurrent int
	timeout       time.Duration
	logger        zerolog.Logger
}

// NewClient creates a client for cfg.BaseURL, or OLLAMA_HOST when it is empty.
func NewClient(cfg Config) (*Client, error) {
	base := envconfig.Host()
	if cfg.BaseURL != "" {
		u, err := url.Parse(cfg.BaseURL)
		if err != nil {
			return nil, fmt.Errorf("parse ollama url: %w", err)
		}
		base = u
	}
	if cfg.Model == "" {
		cfg.Model = defaultModel
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultBatchSize
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = defaultMaxConcurrent
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	return &Client{
		api:           api.NewClient(base, &http.Client{}),
		model:         cfg.Model,
		dimensions:    cfg.Dimensions,
		batchSize:     cfg.BatchSize,
		maxConcurrent: cfg.MaxConcurrent,
		timeout:       cfg.Timeout,
		logger:        cfg.Logger,
	}, nil
}

// Name returns the identifier of this embedder implementation.
func (c *Client) Name() string { return "ollama" }

// Embed embeds texts in batches, several batches in flight at once.
// The first failing batch cancels the others and fails the whole call.
func (c *Client) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}
	out := make([][]float32, len(texts))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.maxConcurrent)
	offset := 0
	for _, batch := range embedding.Batches(texts, c.batchSize) {
		start := offset
		offset += len(batch)
		g.Go(func() error {
			vecs, err := c.embedBatch(gctx, batch)
			if err != nil {
				return err
			}
			copy(out[start:], vecs)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, &domain.ProviderError{Provider: c.Name(), Op: "embed", Err: err}
	}
	if err := embedding.CheckVectors(out, len(texts), c.dimensions); err != nil {
		return nil, &domain.ProviderError{Provider: c.Name(), Op: "embed", Err: err}
	}
	return out, nil
}

func (c *Client) embedBatch(ctx context.Context, batch []string) ([][]float32, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	started := time.Now()
	resp, err := c.api.Embed(ctx, &api.EmbedRequest{Model: c.model, Input: batch})
	if err != nil {
		return nil, err
	}
	if len(resp.Embeddings) != len(batch) {
		return nil, fmt.Errorf("got %d embeddings for %d inputs", len(resp.Embeddings), len(batch))
	}
	c.logger.Debug().
		Str("model", c.model).
		Int("batch", len(batch)).
		Dur("took", time.Since(started)).
		Msg("embedded batch")
	return resp.Embeddings, nil
}
