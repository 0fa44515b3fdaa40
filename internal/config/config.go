package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// LogConfig controls the process logger.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// ChunkerConfig configures how markdown documents are split into chunks.
type ChunkerConfig struct {
	ChunkSize int `yaml:"chunk_size"`
}

// OllamaEmbedderConfig holds configuration for the Ollama embedder.
type OllamaEmbedderConfig struct {
	BaseURL       string `yaml:"base_url"`
	Model         string `yaml:"model"`
	BatchSize     int    `yaml:"batch_size"`
	MaxConcurrent int    `yaml:"max_concurrent"`
	TimeoutSecs   int    `yaml:"timeout_secs"`
}

// OpenAIEmbedderConfig holds configuration for the OpenAI-compatible embedder.
type OpenAIEmbedderConfig struct {
	BaseURL     string `yaml:"base_url"`
	APIKeyEnv   string `yaml:"api_key_env"`
	Model       string `yaml:"model"`
	TimeoutSecs int    `yaml:"timeout_secs"`
	BatchSize   int    `yaml:"batch_size"`
	MaxRetries  int    `yaml:"max_retries"`
}

// EmbedderConfig selects and configures the text embedder implementation.
type EmbedderConfig struct {
	Type       string                `yaml:"type"`
	Dimensions int                   `yaml:"dimensions"`
	Ollama     *OllamaEmbedderConfig `yaml:"ollama,omitempty"`
	OpenAI     *OpenAIEmbedderConfig `yaml:"openai,omitempty"`
}

// OllamaGeneratorConfig holds configuration for the Ollama chat backend.
type OllamaGeneratorConfig struct {
	BaseURL         string  `yaml:"base_url"`
	Model           string  `yaml:"model"`
	Temperature     float64 `yaml:"temperature"`
	MaxTokens       int     `yaml:"max_tokens"`
	TimeoutSecs     int     `yaml:"timeout_secs"`
	DisableThinking *bool   `yaml:"disable_thinking,omitempty"`
}

// GeneratorConfig selects and configures the answer generator.
type GeneratorConfig struct {
	Type   string                 `yaml:"type"`
	Ollama *OllamaGeneratorConfig `yaml:"ollama,omitempty"`
}

// QdrantConfig contains connection details for a Qdrant vector store.
type QdrantConfig struct {
	URL               string `yaml:"url"`
	APIKey            string `yaml:"api_key"`
	IndexingThreshold int    `yaml:"indexing_threshold"`
	TimeoutSecs       int    `yaml:"timeout_secs"`
}

// ChromemConfig configures the embedded chromem-go store. An empty path keeps it in memory.
type ChromemConfig struct {
	Path     string `yaml:"path"`
	Compress bool   `yaml:"compress"`
}

// PostgresConfig configures the pgvector store.
type PostgresConfig struct {
	DSN         string `yaml:"dsn"`
	TimeoutSecs int    `yaml:"timeout_secs"`
}

// VectorStoreConfig selects and configures the vector store implementation.
type VectorStoreConfig struct {
	Type             string          `yaml:"type"`
	CollectionPrefix string          `yaml:"collection_prefix"`
	Qdrant           *QdrantConfig   `yaml:"qdrant,omitempty"`
	Chromem          *ChromemConfig  `yaml:"chromem,omitempty"`
	Postgres         *PostgresConfig `yaml:"postgres,omitempty"`
}

// RetrievalConfig controls how much context is retrieved per question.
type RetrievalConfig struct {
	K                 int     `yaml:"k"`
	MinRelevanceScore float64 `yaml:"min_relevance_score"`
}

// AppConfig is the root application configuration structure.
type AppConfig struct {
	DocsDir     string            `yaml:"docs_dir"`
	Log         LogConfig         `yaml:"log"`
	Chunker     ChunkerConfig     `yaml:"chunker"`
	Embedder    EmbedderConfig    `yaml:"embedder"`
	Generator   GeneratorConfig   `yaml:"generator"`
	VectorStore VectorStoreConfig `yaml:"vector_store"`
	Retrieval   RetrievalConfig   `yaml:"retrieval"`
}

// Load reads a config from a specified path. If the file does not exist, returns defaults.
// Environment overrides are applied in both cases.
func Load(path string) (*AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			cfg := defaultConfig()
			ApplyEnv(cfg)
			return cfg, nil
		}
		return nil, err
	}
	// decode over the defaults so omitted keys keep their default values
	cfg := defaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	applyConfigDefaults(cfg)
	ApplyEnv(cfg)
	return cfg, nil
}

// LoadDefault tries ./config.yaml first, then ~/.config/bookrag/config.yaml.
// If neither exists, it writes defaults to ~/.config/bookrag/config.yaml and returns them.
func LoadDefault() (*AppConfig, string, error) {
	cwdPath := "config.yaml"
	if _, err := os.Stat(cwdPath); err == nil {
		cfg, err := Load(cwdPath)
		return cfg, cwdPath, err
	}
	userPath, err := defaultUserConfigPath()
	if err != nil {
		return nil, "", err
	}
	if _, err := os.Stat(userPath); err == nil {
		cfg, err := Load(userPath)
		return cfg, userPath, err
	}
	cfg := defaultConfig()
	if err := Save(userPath, cfg); err != nil {
		return nil, "", err
	}
	ApplyEnv(cfg)
	return cfg, userPath, nil
}

// Save writes the config to the given path, creating directories as needed.
func Save(path string, cfg *AppConfig) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// ApplyEnv overrides connection settings and paths from the environment.
func ApplyEnv(cfg *AppConfig) {
	if v := os.Getenv("BOOKRAG_DOCS_DIR"); v != "" {
		cfg.DocsDir = v
	}
	if v := os.Getenv("BOOKRAG_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("OLLAMA_BASE_URL"); v != "" {
		if cfg.Embedder.Ollama != nil {
			cfg.Embedder.Ollama.BaseURL = v
		}
		if cfg.Generator.Ollama != nil {
			cfg.Generator.Ollama.BaseURL = v
		}
	}
	if cfg.VectorStore.Qdrant != nil {
		if v := os.Getenv("QDRANT_URL"); v != "" {
			cfg.VectorStore.Qdrant.URL = v
		}
		if v := os.Getenv("QDRANT_API_KEY"); v != "" {
			cfg.VectorStore.Qdrant.APIKey = v
		}
	}
	if v := os.Getenv("DATABASE_URL"); v != "" && cfg.VectorStore.Postgres != nil {
		cfg.VectorStore.Postgres.DSN = v
	}
}

// Validate rejects settings no component can run with.
func (c *AppConfig) Validate() error {
	var errs []error
	if c.Chunker.ChunkSize <= 0 {
		errs = append(errs, errors.New("chunker.chunk_size must be positive"))
	}
	if c.Embedder.Dimensions <= 0 {
		errs = append(errs, errors.New("embedder.dimensions must be positive"))
	}
	if c.Retrieval.K <= 0 {
		errs = append(errs, errors.New("retrieval.k must be positive"))
	}
	if c.Retrieval.MinRelevanceScore < -1 || c.Retrieval.MinRelevanceScore > 1 {
		errs = append(errs, errors.New("retrieval.min_relevance_score must be within [-1, 1]"))
	}
	switch c.Embedder.Type {
	case "ollama", "openai":
	default:
		errs = append(errs, fmt.Errorf("unknown embedder: %q", c.Embedder.Type))
	}
	if c.Generator.Type != "ollama" {
		errs = append(errs, fmt.Errorf("unknown generator: %q", c.Generator.Type))
	}
	switch c.VectorStore.Type {
	case "qdrant":
		if c.VectorStore.Qdrant == nil || c.VectorStore.Qdrant.URL == "" {
			errs = append(errs, errors.New("vector_store.qdrant.url is required"))
		}
	case "postgres":
		if c.VectorStore.Postgres == nil || c.VectorStore.Postgres.DSN == "" {
			errs = append(errs, errors.New("vector_store.postgres.dsn is required"))
		}
	case "chromem", "memory":
	default:
		errs = append(errs, fmt.Errorf("unknown vector store: %q", c.VectorStore.Type))
	}
	return errors.Join(errs...)
}

func defaultUserConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "bookrag", "config.yaml"), nil
}

func defaultConfig() *AppConfig {
	cfg := &AppConfig{
		DocsDir:     "./docs",
		Log:         LogConfig{Level: "info", Format: "console"},
		Chunker:     ChunkerConfig{ChunkSize: 1000},
		Embedder:    EmbedderConfig{Type: "ollama", Dimensions: 1024},
		Generator:   GeneratorConfig{Type: "ollama"},
		VectorStore: VectorStoreConfig{Type: "qdrant"},
		Retrieval:   RetrievalConfig{K: 4, MinRelevanceScore: 0.3},
	}
	applyConfigDefaults(cfg)
	return cfg
}

func applyConfigDefaults(cfg *AppConfig) {
	if cfg.DocsDir == "" {
		cfg.DocsDir = "./docs"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "console"
	}
	if cfg.Chunker.ChunkSize == 0 {
		cfg.Chunker.ChunkSize = 1000
	}
	if cfg.Retrieval.K == 0 {
		cfg.Retrieval.K = 4
	}
	if cfg.Embedder.Type == "" {
		cfg.Embedder.Type = "ollama"
	}
	if cfg.Embedder.Dimensions == 0 {
		cfg.Embedder.Dimensions = 1024
	}
	switch cfg.Embedder.Type {
	case "ollama":
		if cfg.Embedder.Ollama == nil {
			cfg.Embedder.Ollama = &OllamaEmbedderConfig{}
		}
		o := cfg.Embedder.Ollama
		if o.BaseURL == "" {
			o.BaseURL = "http://localhost:11434"
		}
		if o.Model == "" {
			o.Model = "bge-m3"
		}
		if o.BatchSize == 0 {
			o.BatchSize = 32
		}
		if o.MaxConcurrent == 0 {
			o.MaxConcurrent = 3
		}
		if o.TimeoutSecs == 0 {
			o.TimeoutSecs = 60
		}
	case "openai":
		if cfg.Embedder.OpenAI == nil {
			cfg.Embedder.OpenAI = &OpenAIEmbedderConfig{}
		}
		o := cfg.Embedder.OpenAI
		if o.BaseURL == "" {
			o.BaseURL = "https://api.openai.com/v1"
		}
		if o.APIKeyEnv == "" {
			o.APIKeyEnv = "OPENAI_API_KEY"
		}
		if o.Model == "" {
			o.Model = "text-embedding-3-small"
		}
		if o.TimeoutSecs == 0 {
			o.TimeoutSecs = 30
		}
		if o.BatchSize == 0 {
			o.BatchSize = 32
		}
		if o.MaxRetries == 0 {
			o.MaxRetries = 3
		}
	}

	if cfg.Generator.Type == "" {
		cfg.Generator.Type = "ollama"
	}
	if cfg.Generator.Type == "ollama" {
		if cfg.Generator.Ollama == nil {
			cfg.Generator.Ollama = &OllamaGeneratorConfig{Temperature: 0.2}
		}
		g := cfg.Generator.Ollama
		if g.BaseURL == "" {
			g.BaseURL = "http://localhost:11434"
		}
		if g.Model == "" {
			g.Model = "qwen3:4b"
		}
		if g.MaxTokens == 0 {
			g.MaxTokens = 2048
		}
		if g.TimeoutSecs == 0 {
			g.TimeoutSecs = 120
		}
		if g.DisableThinking == nil {
			yes := true
			g.DisableThinking = &yes
		}
	}

	if cfg.VectorStore.Type == "" {
		cfg.VectorStore.Type = "qdrant"
	}
	if cfg.VectorStore.CollectionPrefix == "" {
		cfg.VectorStore.CollectionPrefix = "book_"
	}
	switch cfg.VectorStore.Type {
	case "qdrant":
		if cfg.VectorStore.Qdrant == nil {
			cfg.VectorStore.Qdrant = &QdrantConfig{}
		}
		q := cfg.VectorStore.Qdrant
		if q.URL == "" {
			q.URL = "http://localhost:6333"
		}
		if q.IndexingThreshold == 0 {
			q.IndexingThreshold = 10000
		}
		if q.TimeoutSecs == 0 {
			q.TimeoutSecs = 30
		}
	case "chromem":
		if cfg.VectorStore.Chromem == nil {
			cfg.VectorStore.Chromem = &ChromemConfig{}
		}
	case "postgres":
		if cfg.VectorStore.Postgres == nil {
			cfg.VectorStore.Postgres = &PostgresConfig{}
		}
		if cfg.VectorStore.Postgres.TimeoutSecs == 0 {
			cfg.VectorStore.Postgres.TimeoutSecs = 30
		}
	}
}
