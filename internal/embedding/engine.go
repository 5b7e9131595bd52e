// Package embedding generates vector embeddings for semantic recall.
// Supports a local Ollama server and Google's Gemini API as backends.
package embedding

import (
	"context"
	"fmt"

	"quarry/internal/config"
	"quarry/internal/logging"
)

// Engine generates vector embeddings for text.
type Engine interface {
	// Embed generates an embedding for a single text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch generates embeddings for multiple texts.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the dimensionality of embeddings.
	Dimensions() int

	// Name returns the engine name.
	Name() string
}

// HealthChecker is an optional interface for engines that can verify
// their backing service is reachable.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// NewEngine creates an embedding engine from settings. A disabled
// embedding section yields a nil engine and no error; callers fall back
// to keyword retrieval.
func NewEngine(cfg config.EmbeddingSettings) (Engine, error) {
	if !cfg.Enabled {
		logging.Embedding("embedding disabled, semantic recall unavailable")
		return nil, nil
	}

	timer := logging.StartTimer(logging.CategoryEmbedding, "NewEngine")
	defer timer.Stop()

	var engine Engine
	var err error
	switch cfg.Provider {
	case "ollama", "":
		engine, err = NewOllamaEngine(cfg.BaseURL, cfg.Model)
	case "gemini", "genai":
		engine, err = NewGeminiEngine(cfg.APIKey, cfg.Model)
	default:
		return nil, fmt.Errorf("unsupported embedding provider: %s (use 'ollama' or 'gemini')", cfg.Provider)
	}
	if err != nil {
		logging.Get(logging.CategoryEmbedding).Error("failed to create embedding engine: %v", err)
		return nil, err
	}

	logging.Embedding("embedding engine ready: name=%s, dimensions=%d", engine.Name(), engine.Dimensions())
	return engine, nil
}
