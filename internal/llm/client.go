// Package llm adapts Genkit text generation to the single-method
// Completer interfaces the planner and generator define. Keeping the
// Genkit dependency here means those packages test against plain
// function stubs.
package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
	"google.golang.org/genai"
)

// Client generates text with a configured model.
type Client struct {
	g           *genkit.Genkit
	modelName   string
	temperature float64
	logger      *slog.Logger
}

// NewClient creates a Client. modelName is the fully qualified Genkit
// model name (e.g. "googleai/gemini-2.5-flash").
func NewClient(g *genkit.Genkit, modelName string, temperature float64, logger *slog.Logger) (*Client, error) {
	if g == nil {
		return nil, errors.New("genkit instance is required")
	}
	if modelName == "" {
		return nil, errors.New("model name is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		g:           g,
		modelName:   modelName,
		temperature: temperature,
		logger:      logger,
	}, nil
}

// Complete generates a text response for the prompt.
func (c *Client) Complete(ctx context.Context, prompt string) (string, error) {
	resp, err := genkit.Generate(ctx, c.g,
		ai.WithModelName(c.modelName),
		ai.WithPrompt(prompt),
		ai.WithConfig(&genai.GenerateContentConfig{
			Temperature: genai.Ptr(float32(c.temperature)),
		}),
	)
	if err != nil {
		return "", fmt.Errorf("generate: %w", err)
	}

	text := resp.Text()
	if text == "" {
		return "", errors.New("model returned empty response")
	}

	c.logger.Debug("completion generated",
		"model", c.modelName, "prompt_length", len(prompt), "response_length", len(text))
	return text, nil
}
