package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"bookrag/internal/chunker"
	"bookrag/internal/config"
	"bookrag/internal/domain"
	"bookrag/internal/embedding/ollama"
	"bookrag/internal/embedding/openai"
	genollama "bookrag/internal/generation/ollama"
	"bookrag/internal/logging"
	"bookrag/internal/service"
	"bookrag/internal/vectorstore/chromem"
	"bookrag/internal/vectorstore/memory"
	"bookrag/internal/vectorstore/postgres"
	"bookrag/internal/vectorstore/qdrant"
)

var (
	configPath string    // --config
	logOutput  io.Writer = os.Stderr
)

func main() {
	_ = godotenv.Load()

	root := &cobra.Command{
		Use:           "bookrag",
		Short:         "Ask questions about markdown books",
		Long:          "bookrag indexes folders of markdown files into a vector store and answers questions grounded on them.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config.yaml (default: ./config.yaml or ~/.config/bookrag/config.yaml)")

	root.AddCommand(ingestCmd())
	root.AddCommand(statusCmd())
	root.AddCommand(deleteCmd())
	root.AddCommand(listCmd())
	root.AddCommand(askCmd())
	root.AddCommand(chatCmd())
	root.AddCommand(healthCmd())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// app holds the assembled pipeline for one command invocation.
type app struct {
	cfg    *config.AppConfig
	logger zerolog.Logger
	store  domain.CollectionStore
	ingest *service.IngestService
	rag    *service.RAGService
	close  func()
}

func loadConfig() (*config.AppConfig, error) {
	var (
		cfg *config.AppConfig
		err error
	)
	if configPath == "" {
		cfg, _, err = config.LoadDefault()
	} else {
		cfg, err = config.Load(configPath)
	}
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// newApp wires the configured backends. withGenerator is false for commands
// that never answer questions, so they do not need a chat model.
func newApp(ctx context.Context, withGenerator bool) (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	logger, err := logging.New(cfg.Log, logOutput)
	if err != nil {
		return nil, err
	}

	emb, err := newEmbedder(cfg, logger)
	if err != nil {
		return nil, err
	}
	store, closeStore, err := newStore(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	a := &app{cfg: cfg, logger: logger, store: store, close: closeStore}
	a.ingest = service.NewIngestService(service.IngestConfig{
		Chunker:  chunker.NewMarkdownChunker(cfg.Chunker.ChunkSize),
		Embedder: emb,
		Store:    store,
		DocsDir:  cfg.DocsDir,
		Logger:   logger,
	})
	if withGenerator {
		gen, err := newGenerator(cfg, logger)
		if err != nil {
			closeStore()
			return nil, err
		}
		a.rag = service.NewRAGService(service.RAGConfig{
			Embedder:  emb,
			Store:     store,
			Generator: gen,
			K:         cfg.Retrieval.K,
			MinScore:  cfg.Retrieval.MinRelevanceScore,
			Logger:    logger,
		})
	}
	return a, nil
}

func secs(n int) time.Duration { return time.Duration(n) * time.Second }

func newEmbedder(cfg *config.AppConfig, logger zerolog.Logger) (domain.Embedder, error) {
	switch cfg.Embedder.Type {
	case "ollama":
		o := cfg.Embedder.Ollama
		return ollama.NewClient(ollama.Config{
			BaseURL:       o.BaseURL,
			Model:         o.Model,
			Dimensions:    cfg.Embedder.Dimensions,
			BatchSize:     o.BatchSize,
			MaxConcurrent: o.MaxConcurrent,
			Timeout:       secs(o.TimeoutSecs),
			Logger:        logger,
		})
	case "openai":
		o := cfg.Embedder.OpenAI
		return openai.NewClient(openai.Config{
			BaseURL:    o.BaseURL,
			APIKeyEnv:  o.APIKeyEnv,
			Model:      o.Model,
			Dimensions: cfg.Embedder.Dimensions,
			BatchSize:  o.BatchSize,
			Timeout:    secs(o.TimeoutSecs),
			MaxRetries: o.MaxRetries,
			Logger:     logger,
		})
	default:
		return nil, fmt.Errorf("unknown embedder: %s", cfg.Embedder.Type)
	}
}

func newGenerator(cfg *config.AppConfig, logger zerolog.Logger) (domain.Generator, error) {
	switch cfg.Generator.Type {
	case "ollama":
		o := cfg.Generator.Ollama
		return genollama.NewClient(genollama.Config{
			BaseURL:         o.BaseURL,
			Model:           o.Model,
			Temperature:     o.Temperature,
			MaxTokens:       o.MaxTokens,
			Timeout:         secs(o.TimeoutSecs),
			DisableThinking: o.DisableThinking == nil || *o.DisableThinking,
			Logger:          logger,
		})
	default:
		return nil, fmt.Errorf("unknown generator: %s", cfg.Generator.Type)
	}
}

func newStore(ctx context.Context, cfg *config.AppConfig, logger zerolog.Logger) (domain.CollectionStore, func(), error) {
	vs := cfg.VectorStore
	dims := cfg.Embedder.Dimensions
	noop := func() {}
	switch vs.Type {
	case "qdrant":
		st, err := qdrant.NewStorage(qdrant.Config{
			URL:               vs.Qdrant.URL,
			APIKey:            vs.Qdrant.APIKey,
			CollectionPrefix:  vs.CollectionPrefix,
			Dimensions:        dims,
			IndexingThreshold: vs.Qdrant.IndexingThreshold,
			Timeout:           secs(vs.Qdrant.TimeoutSecs),
			Logger:            logger,
		})
		return st, noop, err
	case "chromem":
		st, err := chromem.NewStorage(chromem.Config{
			Path:             vs.Chromem.Path,
			Compress:         vs.Chromem.Compress,
			CollectionPrefix: vs.CollectionPrefix,
			Dimensions:       dims,
			Logger:           logger,
		})
		return st, noop, err
	case "postgres":
		cctx, cancel := context.WithTimeout(ctx, secs(vs.Postgres.TimeoutSecs))
		defer cancel()
		pool, err := postgres.Connect(cctx, vs.Postgres.DSN)
		if err != nil {
			return nil, noop, err
		}
		st, err := postgres.New(pool, postgres.Config{
			CollectionPrefix: vs.CollectionPrefix,
			Dimensions:       dims,
			Timeout:          secs(vs.Postgres.TimeoutSecs),
			Logger:           logger,
		})
		if err != nil {
			pool.Close()
			return nil, noop, err
		}
		return st, pool.Close, nil
	case "memory":
		logger.Warn().Msg("memory vector store does not persist between runs")
		return memory.NewStorage(dims), noop, nil
	default:
		return nil, noop, fmt.Errorf("unknown vector store: %s", vs.Type)
	}
}
