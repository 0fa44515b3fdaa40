package ollama

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ollama/ollama/api"
	"github.com/ollama/ollama/envconfig"
	"github.com/rs/zerolog"

	"bookrag/internal/domain"
	"bookrag/internal/generation"
)

const (
	defaultModel       = "qwen3:4b"
	defaultTemperature = 0.2
	defaultMaxTokens   = 2048
	defaultTimeout     = 120 * time.Second

	// noThinkDirective asks Qwen 3 models to skip their reasoning phase.
	noThinkDirective = "/no_think\n"
)

// errStopped aborts the chat callback when the consumer stops iterating.
var errStopped = errors.New("stream consumer stopped")

var _ domain.Generator = (*Client)(nil)

// Config configures the Ollama chat client.
type Config struct {
	BaseURL         string
	Model           string
	Temperature     float64
	MaxTokens       int
	Timeout         time.Duration
	DisableThinking bool
	Logger          zerolog.Logger
}

// Client generates answers through the Ollama /api/chat endpoint.
type Client struct {
	api         *api.Client
	model       string
	temperature float64
	maxTokens   int
	timeout     time.Duration
	noThink     bool
	logger      zerolog.Logger
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
	if cfg.Temperature < 0 {
		cfg.Temperature = defaultTemperature
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = defaultMaxTokens
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	return &Client{
		api:         api.NewClient(base, &http.Client{}),
		model:       cfg.Model,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
		timeout:     cfg.Timeout,
		noThink:     cfg.DisableThinking,
		logger:      cfg.Logger,
	}, nil
}

// Model returns the chat model name.
func (c *Client) Model() string { return c.model }

// Generate returns the whole answer with thinking blocks removed.
func (c *Client) Generate(ctx context.Context, req domain.GenerateRequest) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	started := time.Now()
	var sb strings.Builder
	done := false
	err := c.api.Chat(ctx, c.chatRequest(req, false), func(resp api.ChatResponse) error {
		sb.WriteString(resp.Message.Content)
		done = done || resp.Done
		return nil
	})
	if err == nil && !done {
		err = errors.New("response ended before completion")
	}
	if err != nil {
		return "", &domain.GenerationError{Provider: "ollama", Err: err}
	}
	c.logger.Debug().Str("model", c.model).Dur("took", time.Since(started)).Msg("generated answer")
	return generation.StripThinking(sb.String()), nil
}

// Stream yields answer fragments as they arrive, thinking blocks removed.
// The timeout bounds the whole stream.
func (c *Client) Stream(ctx context.Context, req domain.GenerateRequest) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		ctx, cancel := context.WithTimeout(ctx, c.timeout)
		defer cancel()

		filter := generation.NewThinkFilter()
		done := false
		err := c.api.Chat(ctx, c.chatRequest(req, true), func(resp api.ChatResponse) error {
			done = done || resp.Done
			if out := filter.Push(resp.Message.Content); out != "" {
				if !yield(out, nil) {
					return errStopped
				}
			}
			return nil
		})
		if errors.Is(err, errStopped) {
			c.logger.Debug().Str("model", c.model).Msg("stream abandoned by consumer")
			return
		}
		if err == nil && !done {
			err = errors.New("stream ended before completion")
		}
		if err != nil {
			yield("", &domain.GenerationError{Provider: "ollama", Err: err})
			return
		}
		if out := filter.Flush(); out != "" {
			yield(out, nil)
		}
	}
}

// Models lists the models installed on the Ollama server.
func (c *Client) Models(ctx context.Context) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	resp, err := c.api.List(ctx)
	if err != nil {
		return nil, &domain.GenerationError{Provider: "ollama", Err: err}
	}
	names := make([]string, 0, len(resp.Models))
	for _, m := range resp.Models {
		names = append(names, m.Name)
	}
	return names, nil
}

func (c *Client) chatRequest(req domain.GenerateRequest, stream bool) *api.ChatRequest {
	var msgs []api.Message
	if req.SystemPrompt != "" {
		msgs = append(msgs, api.Message{Role: "system", Content: req.SystemPrompt})
	}
	prompt := req.Prompt
	if c.noThink {
		prompt = noThinkDirective + prompt
	}
	msgs = append(msgs, api.Message{Role: "user", Content: prompt})

	temperature := c.temperature
	if req.Temperature != nil {
		temperature = *req.Temperature
	}
	maxTokens := c.maxTokens
	if req.MaxTokens != nil {
		maxTokens = *req.MaxTokens
	}
	return &api.ChatRequest{
		Model:    c.model,
		Messages: msgs,
		Stream:   &stream,
		Options: map[string]any{
			"temperature": temperature,
			"num_predict": maxTokens,
		},
	}
}
