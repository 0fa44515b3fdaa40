package main

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"bookrag/internal/config"
	genollama "bookrag/internal/generation/ollama"
	"bookrag/internal/logging"
)

type pinger interface {
	Ping(ctx context.Context) error
}

func healthCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check that the model server and vector store are reachable",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), 15*time.Second)
			defer cancel()

			cfg, err := loadConfig()
			if err != nil {
				printFail("Config", err.Error())
				return err
			}
			printPass("Config", "valid")
			logger, err := logging.New(cfg.Log, logOutput)
			if err != nil {
				return err
			}

			failed := 0
			if base, models := ollamaTargets(cfg); base != "" {
				if err := checkOllama(ctx, base, models); err != nil {
					printFail("Ollama", err.Error())
					failed++
				} else {
					printPass("Ollama", fmt.Sprintf("%s (%s)", base, strings.Join(models, ", ")))
				}
			}

			store, closeStore, err := newStore(ctx, cfg, logger)
			if err != nil {
				printFail("Vector store", err.Error())
				failed++
			} else {
				defer closeStore()
				if p, ok := store.(pinger); ok {
					err = p.Ping(ctx)
				} else {
					_, err = store.List(ctx)
				}
				if err != nil {
					printFail("Vector store", err.Error())
					failed++
				} else {
					printPass("Vector store", cfg.VectorStore.Type)
				}
			}

			if failed > 0 {
				return fmt.Errorf("%d checks failed", failed)
			}
			return nil
		},
	}
}

// ollamaTargets returns the Ollama URL and the models the config expects on it.
func ollamaTargets(cfg *config.AppConfig) (string, []string) {
	var base string
	var models []string
	if cfg.Embedder.Type == "ollama" {
		base = cfg.Embedder.Ollama.BaseURL
		models = append(models, cfg.Embedder.Ollama.Model)
	}
	if cfg.Generator.Type == "ollama" {
		if base == "" {
			base = cfg.Generator.Ollama.BaseURL
		}
		models = append(models, cfg.Generator.Ollama.Model)
	}
	return base, models
}

func checkOllama(ctx context.Context, base string, models []string) error {
	client, err := genollama.NewClient(genollama.Config{BaseURL: base})
	if err != nil {
		return err
	}
	names, err := client.Models(ctx)
	if err != nil {
		return err
	}
	var have []string
	for _, n := range names {
		have = append(have, n, strings.TrimSuffix(n, ":latest"))
	}
	var errs []error
	for _, m := range models {
		if !slices.Contains(have, m) {
			errs = append(errs, fmt.Errorf("model %s not pulled", m))
		}
	}
	return errors.Join(errs...)
}

func printPass(check, detail string) { fmt.Printf("  ✓ %-14s %s\n", check, detail) }

func printFail(check, detail string) { fmt.Printf("  ✗ %-14s %s\n", check, detail) }
