package config

import (
	"fmt"
	"strings"
)

// validSSLModes are the PostgreSQL sslmode values accepted by pgx.
var validSSLModes = map[string]bool{
	"disable":     true,
	"allow":       true,
	"prefer":      true,
	"require":     true,
	"verify-ca":   true,
	"verify-full": true,
}

// Validate checks the configuration for consistency.
// Called by Load after unmarshal (fail-fast); safe to call on a
// hand-constructed Config in tests.
func (c *Config) Validate() error {
	if c == nil {
		return ErrConfigNil
	}

	switch c.Provider {
	case ProviderGemini, ProviderOllama, ProviderOpenAI:
	default:
		return fmt.Errorf("%w: %q (expected gemini, ollama, or openai)", ErrInvalidProvider, c.Provider)
	}

	if strings.TrimSpace(c.ModelName) == "" {
		return fmt.Errorf("%w: model name is empty", ErrInvalidModelName)
	}
	if c.Temperature < 0 || c.Temperature > 2 {
		return fmt.Errorf("%w: %v (expected 0-2)", ErrInvalidTemperature, c.Temperature)
	}
	if strings.TrimSpace(c.EmbedderModel) == "" {
		return fmt.Errorf("%w: embedder model is empty", ErrInvalidEmbedderModel)
	}

	if c.Retrieval.TopK < 1 || c.Retrieval.TopK > 50 {
		return fmt.Errorf("%w: %d (expected 1-50)", ErrInvalidTopK, c.Retrieval.TopK)
	}
	if c.Retrieval.MinSimilarity < 0 || c.Retrieval.MinSimilarity > 1 {
		return fmt.Errorf("%w: min_similarity=%v", ErrInvalidSimilarity, c.Retrieval.MinSimilarity)
	}
	if c.Retrieval.FallbackThreshold < 0 || c.Retrieval.FallbackThreshold > 1 {
		return fmt.Errorf("%w: fallback_threshold=%v", ErrInvalidSimilarity, c.Retrieval.FallbackThreshold)
	}

	if c.Generation.TaskRetries < 0 || c.Generation.TaskRetries > 10 {
		return fmt.Errorf("%w: %d (expected 0-10)", ErrInvalidRetryBudget, c.Generation.TaskRetries)
	}

	if c.Session.MaxTurns < 1 || c.Session.MaxTurns > 1000 {
		return fmt.Errorf("%w: %d (expected 1-1000)", ErrInvalidMaxTurns, c.Session.MaxTurns)
	}

	if strings.TrimSpace(c.PostgresHost) == "" {
		return fmt.Errorf("%w: host is empty", ErrInvalidPostgresHost)
	}
	if c.PostgresPort < 1 || c.PostgresPort > 65535 {
		return fmt.Errorf("%w: %d", ErrInvalidPostgresPort, c.PostgresPort)
	}
	if strings.TrimSpace(c.PostgresDBName) == "" {
		return fmt.Errorf("%w: database name is empty", ErrInvalidPostgresDBName)
	}
	if !validSSLModes[c.PostgresSSLMode] {
		return fmt.Errorf("%w: %q", ErrInvalidPostgresSSLMode, c.PostgresSSLMode)
	}

	for name, sec := range map[string]int{
		"retrieve_sec": c.Timeouts.RetrieveSec,
		"plan_sec":     c.Timeouts.PlanSec,
		"generate_sec": c.Timeouts.GenerateSec,
	} {
		if sec < 1 || sec > 3600 {
			return fmt.Errorf("%w: %s=%d (expected 1-3600)", ErrInvalidStageTimeout, name, sec)
		}
	}

	return nil
}
