// Package config provides application configuration management with multi-source priority.
//
// Configuration sources (highest to lowest priority):
//  1. Environment variables (runtime override)
//  2. Config file (~/.codelake/config.yaml)
//  3. Default values
//
// Main configuration categories:
//   - AI: provider, model, temperature, embedder
//   - Storage: PostgreSQL connection (pgvector chunk store, sessions)
//   - Retrieval: topK, minimum similarity, fallback threshold
//   - WebSearch: SearXNG endpoint and fetch limits
//   - Generation: per-task retry budget
//   - Session: conversation memory retention
//
// Sensitive fields (passwords) are masked in MarshalJSON and never logged.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

var (
	// ErrConfigNil indicates the configuration is nil.
	ErrConfigNil = errors.New("configuration is nil")

	// ErrInvalidProvider indicates the AI provider is not supported.
	ErrInvalidProvider = errors.New("invalid provider")

	// ErrInvalidModelName indicates the model name is invalid.
	ErrInvalidModelName = errors.New("invalid model name")

	// ErrInvalidTemperature indicates the temperature value is out of range.
	ErrInvalidTemperature = errors.New("invalid temperature")

	// ErrInvalidEmbedderModel indicates the embedder model is invalid.
	ErrInvalidEmbedderModel = errors.New("invalid embedder model")

	// ErrInvalidTopK indicates the retrieval topK is out of range.
	ErrInvalidTopK = errors.New("invalid retrieval top_k")

	// ErrInvalidSimilarity indicates a similarity threshold is out of [0,1].
	ErrInvalidSimilarity = errors.New("invalid similarity threshold")

	// ErrInvalidRetryBudget indicates the generation retry budget is out of range.
	ErrInvalidRetryBudget = errors.New("invalid generation retry budget")

	// ErrInvalidMaxTurns indicates the session max turns is out of range.
	ErrInvalidMaxTurns = errors.New("invalid session max turns")

	// ErrInvalidPostgresHost indicates the PostgreSQL host is invalid.
	ErrInvalidPostgresHost = errors.New("invalid PostgreSQL host")

	// ErrInvalidPostgresPort indicates the PostgreSQL port is out of range.
	ErrInvalidPostgresPort = errors.New("invalid PostgreSQL port")

	// ErrInvalidPostgresDBName indicates the PostgreSQL database name is invalid.
	ErrInvalidPostgresDBName = errors.New("invalid PostgreSQL database name")

	// ErrInvalidPostgresSSLMode indicates the PostgreSQL SSL mode is invalid.
	ErrInvalidPostgresSSLMode = errors.New("invalid PostgreSQL SSL mode")

	// ErrInvalidStageTimeout indicates a pipeline stage timeout is out of range.
	ErrInvalidStageTimeout = errors.New("invalid stage timeout")
)

// AI provider identifiers used in Config.Provider.
const (
	ProviderGemini   = "gemini"
	ProviderOllama   = "ollama"
	ProviderOpenAI   = "openai"
	ProviderGoogleAI = "googleai"
)

// RetrievalConfig holds the read-path tuning knobs.
type RetrievalConfig struct {
	// TopK is the maximum number of chunks returned per query.
	TopK int `mapstructure:"top_k" json:"top_k"`
	// MinSimilarity discards results scoring below this value.
	MinSimilarity float32 `mapstructure:"min_similarity" json:"min_similarity"`
	// FallbackThreshold triggers web fallback when the top score is below it.
	FallbackThreshold float32 `mapstructure:"fallback_threshold" json:"fallback_threshold"`
}

// WebSearchConfig holds SearXNG and page-fetch configuration for the web fallback.
type WebSearchConfig struct {
	// BaseURL is the SearXNG instance URL (e.g., http://searxng:8080).
	// Empty disables the fallback.
	BaseURL string `mapstructure:"base_url" json:"base_url"`
	// MaxResults is the number of search hits fetched per fallback.
	MaxResults int `mapstructure:"max_results" json:"max_results"`
	// Parallelism is max concurrent fetches per domain.
	Parallelism int `mapstructure:"parallelism" json:"parallelism"`
	// DelayMs is the delay between fetches in milliseconds.
	DelayMs int `mapstructure:"delay_ms" json:"delay_ms"`
	// TimeoutMs is the per-fetch timeout in milliseconds.
	TimeoutMs int `mapstructure:"timeout_ms" json:"timeout_ms"`
}

// GenerationConfig holds code-generation tuning.
type GenerationConfig struct {
	// TaskRetries is the retry budget per sub-task capability call.
	TaskRetries int `mapstructure:"task_retries" json:"task_retries"`
}

// SessionConfig holds conversation-memory retention policy.
type SessionConfig struct {
	// MaxTurns caps turns kept per session (count-based eviction).
	MaxTurns int `mapstructure:"max_turns" json:"max_turns"`
	// MaxAgeMinutes evicts turns older than this (0 = no age eviction).
	MaxAgeMinutes int `mapstructure:"max_age_minutes" json:"max_age_minutes"`
}

// TimeoutConfig holds per-stage timeouts in seconds.
type TimeoutConfig struct {
	RetrieveSec int `mapstructure:"retrieve_sec" json:"retrieve_sec"`
	PlanSec     int `mapstructure:"plan_sec" json:"plan_sec"`
	GenerateSec int `mapstructure:"generate_sec" json:"generate_sec"`
}

// Config stores application configuration.
// SECURITY: sensitive fields are explicitly masked in MarshalJSON().
type Config struct {
	// AI provider and model configuration
	Provider    string  `mapstructure:"provider" json:"provider"`
	ModelName   string  `mapstructure:"model_name" json:"model_name"`
	Temperature float32 `mapstructure:"temperature" json:"temperature"`
	SDKName     string  `mapstructure:"sdk_name" json:"sdk_name"`

	// Ollama configuration (only used when provider is "ollama")
	OllamaHost string `mapstructure:"ollama_host" json:"ollama_host"`

	// Embedder for vector search
	EmbedderModel string `mapstructure:"embedder_model" json:"embedder_model"`

	// Storage configuration
	PostgresHost     string `mapstructure:"postgres_host" json:"postgres_host"`
	PostgresPort     int    `mapstructure:"postgres_port" json:"postgres_port"`
	PostgresUser     string `mapstructure:"postgres_user" json:"postgres_user"`
	PostgresPassword string `mapstructure:"postgres_password" json:"postgres_password"` // SENSITIVE: masked in MarshalJSON
	PostgresDBName   string `mapstructure:"postgres_db_name" json:"postgres_db_name"`
	PostgresSSLMode  string `mapstructure:"postgres_ssl_mode" json:"postgres_ssl_mode"`

	// Pipeline configuration
	Retrieval  RetrievalConfig  `mapstructure:"retrieval" json:"retrieval"`
	WebSearch  WebSearchConfig  `mapstructure:"web_search" json:"web_search"`
	Generation GenerationConfig `mapstructure:"generation" json:"generation"`
	Session    SessionConfig    `mapstructure:"session" json:"session"`
	Timeouts   TimeoutConfig    `mapstructure:"timeouts" json:"timeouts"`

	// Serve mode
	ListenAddr string `mapstructure:"listen_addr" json:"listen_addr"`

	// Observability (OTLP trace export; empty disables)
	OTLPEndpoint string `mapstructure:"otlp_endpoint" json:"otlp_endpoint"`
}

// Load loads configuration.
// Priority: environment variables > configuration file > default values.
func Load() (*Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("getting user home directory: %w", err)
	}

	configDir := filepath.Join(home, ".codelake")
	if err := os.MkdirAll(configDir, 0o750); err != nil {
		return nil, fmt.Errorf("creating config directory: %w", err)
	}

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(configDir)
	viper.AddConfigPath(".")

	setDefaults()
	bindEnvVariables()

	if err := viper.ReadInConfig(); err != nil {
		// Configuration file not found is not an error, use defaults.
		var configNotFound viper.ConfigFileNotFoundError
		if !errors.As(err, &configNotFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		slog.Debug("configuration file not found, using default values",
			"search_paths", []string{configDir, "."})
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing configuration: %w", err)
	}

	// DATABASE_URL has highest priority for PostgreSQL settings.
	if err := cfg.parseDatabaseURL(); err != nil {
		return nil, fmt.Errorf("parsing DATABASE_URL: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating configuration: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets all default configuration values.
func setDefaults() {
	viper.SetDefault("provider", ProviderGemini)
	viper.SetDefault("model_name", "gemini-2.5-flash")
	viper.SetDefault("temperature", 0.2)
	viper.SetDefault("sdk_name", "")
	viper.SetDefault("ollama_host", "http://localhost:11434")
	viper.SetDefault("embedder_model", "gemini-embedding-001")

	viper.SetDefault("postgres_host", "localhost")
	viper.SetDefault("postgres_port", 5432)
	viper.SetDefault("postgres_user", "codelake")
	viper.SetDefault("postgres_password", "codelake_dev_password")
	viper.SetDefault("postgres_db_name", "codelake")
	viper.SetDefault("postgres_ssl_mode", "disable")

	viper.SetDefault("retrieval.top_k", 5)
	viper.SetDefault("retrieval.min_similarity", 0.30)
	viper.SetDefault("retrieval.fallback_threshold", 0.60)

	viper.SetDefault("web_search.base_url", "")
	viper.SetDefault("web_search.max_results", 3)
	viper.SetDefault("web_search.parallelism", 2)
	viper.SetDefault("web_search.delay_ms", 1000)
	viper.SetDefault("web_search.timeout_ms", 30000)

	viper.SetDefault("generation.task_retries", 2)

	viper.SetDefault("session.max_turns", 10)
	viper.SetDefault("session.max_age_minutes", 0)

	viper.SetDefault("timeouts.retrieve_sec", 30)
	viper.SetDefault("timeouts.plan_sec", 60)
	viper.SetDefault("timeouts.generate_sec", 300)

	viper.SetDefault("listen_addr", "127.0.0.1:3400")
	viper.SetDefault("otlp_endpoint", "")
}

// bindEnvVariables binds runtime override environment variables explicitly.
// GEMINI_API_KEY / OPENAI_API_KEY are read directly by the Genkit plugins,
// not via Viper.
func bindEnvVariables() {
	mustBind := func(key, envVar string) {
		if err := viper.BindEnv(key, envVar); err != nil {
			panic(fmt.Sprintf("BUG: failed to bind %q to %q: %v", key, envVar, err))
		}
	}

	mustBind("provider", "CODELAKE_PROVIDER")
	mustBind("model_name", "CODELAKE_MODEL_NAME")
	mustBind("ollama_host", "CODELAKE_OLLAMA_HOST")
	mustBind("sdk_name", "CODELAKE_SDK_NAME")
	mustBind("web_search.base_url", "CODELAKE_SEARXNG_URL")
	mustBind("listen_addr", "CODELAKE_LISTEN_ADDR")
	mustBind("otlp_endpoint", "CODELAKE_OTLP_ENDPOINT")
}

// parseDatabaseURL overrides PostgreSQL settings from DATABASE_URL when set.
func (c *Config) parseDatabaseURL() error {
	raw := os.Getenv("DATABASE_URL")
	if raw == "" {
		return nil
	}

	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("parsing URL: %w", err)
	}
	if u.Scheme != "postgres" && u.Scheme != "postgresql" {
		return fmt.Errorf("unsupported scheme %q", u.Scheme)
	}

	c.PostgresHost = u.Hostname()
	if p := u.Port(); p != "" {
		port, err := strconv.Atoi(p)
		if err != nil {
			return fmt.Errorf("parsing port: %w", err)
		}
		c.PostgresPort = port
	}
	if u.User != nil {
		c.PostgresUser = u.User.Username()
		if pw, ok := u.User.Password(); ok {
			c.PostgresPassword = pw
		}
	}
	if db := strings.TrimPrefix(u.Path, "/"); db != "" {
		c.PostgresDBName = db
	}
	if mode := u.Query().Get("sslmode"); mode != "" {
		c.PostgresSSLMode = mode
	}
	return nil
}

// PostgresURL returns the connection URL (postgres:// form) for migrations.
func (c *Config) PostgresURL() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		url.QueryEscape(c.PostgresUser),
		url.QueryEscape(c.PostgresPassword),
		c.PostgresHost, c.PostgresPort, c.PostgresDBName, c.PostgresSSLMode)
}

// PostgresConnectionString returns the keyword/value form used by pgxpool.
func (c *Config) PostgresConnectionString() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.PostgresHost, c.PostgresPort, c.PostgresUser, c.PostgresPassword,
		c.PostgresDBName, c.PostgresSSLMode)
}

// FullModelName returns the provider-qualified model name for Genkit.
// Examples: "googleai/gemini-2.5-flash", "ollama/llama3.3", "openai/gpt-4o".
// If ModelName already contains a "/", it is returned as-is.
func (c *Config) FullModelName() string {
	if strings.Contains(c.ModelName, "/") {
		return c.ModelName
	}
	switch c.Provider {
	case ProviderOllama:
		return ProviderOllama + "/" + c.ModelName
	case ProviderOpenAI:
		return ProviderOpenAI + "/" + c.ModelName
	default:
		return ProviderGoogleAI + "/" + c.ModelName
	}
}

// StageTimeouts returns the per-stage timeouts as durations.
func (c *Config) StageTimeouts() (retrieve, plan, generate time.Duration) {
	return time.Duration(c.Timeouts.RetrieveSec) * time.Second,
		time.Duration(c.Timeouts.PlanSec) * time.Second,
		time.Duration(c.Timeouts.GenerateSec) * time.Second
}

// maskedValue is the placeholder for masked sensitive data.
const maskedValue = "████████"

// maskSecret masks a secret string for safe logging. Secrets of eight
// characters or fewer are fully masked to prevent substring matching.
func maskSecret(s string) string {
	if s == "" {
		return ""
	}
	if len(s) <= 8 {
		return maskedValue
	}
	return s[:2] + "<" + maskedValue + ">" + s[len(s)-2:]
}

// MarshalJSON implements json.Marshaler with sensitive field masking.
func (c Config) MarshalJSON() ([]byte, error) {
	type alias Config
	a := alias(c)
	a.PostgresPassword = maskSecret(a.PostgresPassword)
	data, err := json.Marshal(a)
	if err != nil {
		return nil, fmt.Errorf("marshal config: %w", err)
	}
	return data, nil
}

// String implements Stringer to prevent accidental printing of secrets.
func (c Config) String() string {
	data, err := c.MarshalJSON()
	if err != nil {
		return fmt.Sprintf("Config{error: %v}", err)
	}
	return string(data)
}
