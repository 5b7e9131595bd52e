// Package llm wraps the completion backends used for query planning and
// answer synthesis: any OpenAI-compatible API (OpenAI, Ollama) and
// Google's Gemini API.
package llm

import (
	"context"
	"fmt"
	"strings"

	"quarry/internal/config"
)

// Client is a completion backend.
type Client interface {
	// Complete sends a system + user prompt pair and returns the full
	// completion text.
	Complete(ctx context.Context, systemPrompt, userPrompt string, temperature float64) (string, error)

	// Stream sends the same prompt pair and returns incremental content
	// deltas. The content channel closes when the stream ends; at most
	// one error is delivered on the error channel.
	Stream(ctx context.Context, systemPrompt, userPrompt string, temperature float64) (<-chan string, <-chan error)

	// Model returns the configured model name.
	Model() string
}

// HealthChecker is an optional interface for clients that can probe
// their backing service.
type HealthChecker interface {
	CheckHealth(ctx context.Context) error
}

// New creates a client from settings.
func New(cfg config.LLMSettings) (Client, error) {
	switch cfg.Provider {
	case "openai", "":
		return NewOpenAIClient(OpenAIConfig{
			APIKey:  cfg.APIKey,
			BaseURL: cfg.BaseURL,
			Model:   cfg.Model,
			Timeout: cfg.GetTimeout(),
		}), nil
	case "ollama":
		baseURL := cfg.BaseURL
		if baseURL == "" || !strings.Contains(baseURL, "/v1") {
			baseURL = strings.TrimSuffix(baseURL, "/")
			if baseURL == "" {
				baseURL = "http://localhost:11434"
			}
			baseURL += "/v1"
		}
		return NewOpenAIClient(OpenAIConfig{
			APIKey:  "ollama",
			BaseURL: baseURL,
			Model:   cfg.Model,
			Timeout: cfg.GetTimeout(),
		}), nil
	case "gemini":
		return NewGeminiClient(cfg.APIKey, cfg.Model)
	default:
		return nil, fmt.Errorf("unsupported llm provider: %s (use 'openai', 'ollama' or 'gemini')", cfg.Provider)
	}
}

// CompleteJSON runs a deterministic completion (temperature 0) and
// slices the response down to its JSON payload. Models often wrap JSON
// in prose or markdown fences.
func CompleteJSON(ctx context.Context, c Client, systemPrompt, userPrompt string) (string, error) {
	response, err := c.Complete(ctx, systemPrompt, userPrompt, 0)
	if err != nil {
		return "", err
	}
	payload := ExtractJSON(response)
	if payload == "" {
		return "", fmt.Errorf("no JSON object in completion: %q", truncateForError(response))
	}
	return payload, nil
}

// ExtractJSON returns the outermost JSON object in s, or "" when none
// is present.
func ExtractJSON(s string) string {
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end <= start {
		return ""
	}
	return s[start : end+1]
}

func truncateForError(s string) string {
	s = strings.TrimSpace(s)
	if len(s) > 120 {
		return s[:120] + "..."
	}
	return s
}
