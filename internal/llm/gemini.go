package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"google.golang.org/genai"

	"quarry/internal/logging"
)

// GeminiClient talks to Google's Gemini API through the genai SDK.
type GeminiClient struct {
	client *genai.Client
	model  string
}

// NewGeminiClient creates a Gemini client.
func NewGeminiClient(apiKey, model string) (*GeminiClient, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini API key is required")
	}
	if model == "" {
		model = "gemini-2.0-flash"
	}

	client, err := genai.NewClient(context.Background(), &genai.ClientConfig{
		APIKey: apiKey,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}
	return &GeminiClient{client: client, model: model}, nil
}

func (c *GeminiClient) generateConfig(systemPrompt string, temperature float64) *genai.GenerateContentConfig {
	cfg := &genai.GenerateContentConfig{
		Temperature:     genai.Ptr(float32(temperature)),
		MaxOutputTokens: 4096,
	}
	if strings.TrimSpace(systemPrompt) != "" {
		cfg.SystemInstruction = genai.NewContentFromText(systemPrompt, genai.RoleUser)
	}
	return cfg
}

// Complete sends a system + user prompt pair and returns the completion.
func (c *GeminiClient) Complete(ctx context.Context, systemPrompt, userPrompt string, temperature float64) (string, error) {
	startTime := time.Now()
	logging.LLMDebug("[gemini] Complete: model=%s system_len=%d user_len=%d temp=%.2f",
		c.model, len(systemPrompt), len(userPrompt), temperature)

	contents := []*genai.Content{
		genai.NewContentFromText(userPrompt, genai.RoleUser),
	}
	result, err := c.client.Models.GenerateContent(ctx, c.model, contents, c.generateConfig(systemPrompt, temperature))
	if err != nil {
		logging.LLMError("[gemini] Complete failed: %v", err)
		return "", fmt.Errorf("gemini completion failed: %w", err)
	}

	text := strings.TrimSpace(result.Text())
	if text == "" {
		return "", fmt.Errorf("no completion returned")
	}
	logging.LLM("[gemini] Complete: done in %v response_len=%d", time.Since(startTime), len(text))
	return text, nil
}

// Stream sends the prompt pair and forwards incremental content deltas.
func (c *GeminiClient) Stream(ctx context.Context, systemPrompt, userPrompt string, temperature float64) (<-chan string, <-chan error) {
	contentChan := make(chan string, 100)
	errorChan := make(chan error, 1)

	go func() {
		defer close(contentChan)
		defer close(errorChan)

		contents := []*genai.Content{
			genai.NewContentFromText(userPrompt, genai.RoleUser),
		}
		for chunk, err := range c.client.Models.GenerateContentStream(ctx, c.model, contents, c.generateConfig(systemPrompt, temperature)) {
			if err != nil {
				errorChan <- fmt.Errorf("gemini stream failed: %w", err)
				return
			}
			delta := chunk.Text()
			if delta == "" {
				continue
			}
			select {
			case contentChan <- delta:
			case <-ctx.Done():
				return
			}
		}
	}()

	return contentChan, errorChan
}

// CheckHealth runs a minimal completion to verify connectivity.
func (c *GeminiClient) CheckHealth(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	_, err := c.Complete(ctx, "", "Reply with the single word: ok", 0)
	return err
}

// Model returns the configured model name.
func (c *GeminiClient) Model() string {
	return c.model
}
