package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/core/api"
	"github.com/firebase/genkit/go/core/tracing"
	"github.com/firebase/genkit/go/genkit"
	"github.com/firebase/genkit/go/plugins/compat_oai/openai"
	"github.com/firebase/genkit/go/plugins/googlegenai"
	"github.com/firebase/genkit/go/plugins/ollama"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/codelake/codelake/db"
	"github.com/codelake/codelake/internal/assist"
	"github.com/codelake/codelake/internal/config"
	"github.com/codelake/codelake/internal/generator"
	"github.com/codelake/codelake/internal/knowledge"
	"github.com/codelake/codelake/internal/llm"
	"github.com/codelake/codelake/internal/planner"
	"github.com/codelake/codelake/internal/retrieval"
	"github.com/codelake/codelake/internal/session"
	"github.com/codelake/codelake/internal/websearch"
)

// Setup creates and initializes the application.
// Returns an App with embedded cleanup; call Close() to release.
func Setup(ctx context.Context, cfg *config.Config, logger *slog.Logger) (_ *App, retErr error) {
	if cfg == nil {
		return nil, config.ErrConfigNil
	}
	if logger == nil {
		logger = slog.Default()
	}
	a := &App{Config: cfg, Logger: logger}

	// On error, clean up everything already initialized.
	defer func() {
		if retErr != nil {
			if err := a.Close(); err != nil {
				logger.Warn("cleanup during setup failure", "error", err)
			}
		}
	}()

	// Tracing must be ready before Genkit initialization so Genkit's
	// TracerProvider picks up the span processor.
	a.otelCleanup = provideOtelShutdown(ctx, cfg, logger)

	pool, err := provideDBPool(ctx, cfg)
	if err != nil {
		return nil, err
	}
	a.DBPool = pool

	g, err := provideGenkit(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	a.Genkit = g

	embedder := provideEmbedder(g, cfg)
	if embedder == nil {
		return nil, fmt.Errorf("embedder %q not found for provider %q", cfg.EmbedderModel, cfg.Provider)
	}
	a.Embedder = embedder

	a.Knowledge = knowledge.New(knowledge.NewQueries(pool), embedder, logger)
	a.SessionStore = session.NewStore(pool, logger)
	a.Memory = session.NewManager(session.MemoryConfig{
		MaxTurns: cfg.Session.MaxTurns,
		MaxAge:   time.Duration(cfg.Session.MaxAgeMinutes) * time.Minute,
	})

	assistant, err := provideAssistant(a, cfg, logger)
	if err != nil {
		return nil, err
	}
	a.Assistant = assistant

	return a, nil
}

// provideOtelShutdown sets up OTLP trace export when an endpoint is
// configured. Spans are exported over OTLP HTTP to a local collector,
// which handles buffering and forwarding.
func provideOtelShutdown(ctx context.Context, cfg *config.Config, logger *slog.Logger) func() {
	if cfg.OTLPEndpoint == "" {
		return func() {}
	}

	exporter, err := otlptracehttp.New(ctx,
		otlptracehttp.WithEndpoint(cfg.OTLPEndpoint),
		otlptracehttp.WithInsecure(),
	)
	if err != nil {
		logger.Warn("creating OTLP exporter, tracing disabled", "error", err)
		return func() {}
	}

	processor := sdktrace.NewBatchSpanProcessor(exporter)
	tracing.TracerProvider().RegisterSpanProcessor(processor)

	logger.Debug("OTLP tracing enabled", "endpoint", cfg.OTLPEndpoint)

	shutdown := tracing.TracerProvider().Shutdown

	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdown(shutdownCtx); err != nil {
			logger.Warn("shutting down tracer provider", "error", err)
		}
	}
}

// provideDBPool runs migrations and creates the PostgreSQL connection pool.
func provideDBPool(ctx context.Context, cfg *config.Config) (*pgxpool.Pool, error) {
	if err := db.Migrate(cfg.PostgresURL()); err != nil {
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.PostgresConnectionString())
	if err != nil {
		return nil, fmt.Errorf("parsing connection config: %w", err)
	}

	poolCfg.MaxConns = 10
	poolCfg.MinConns = 2
	poolCfg.MaxConnLifetime = 30 * time.Minute
	poolCfg.MaxConnIdleTime = 5 * time.Minute
	poolCfg.HealthCheckPeriod = 1 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}

	pingCtx, pingCancel := context.WithTimeout(ctx, 5*time.Second)
	defer pingCancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	return pool, nil
}

// provideGenkit initializes Genkit with the configured AI provider.
// Supports gemini (default), ollama, and openai.
func provideGenkit(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*genkit.Genkit, error) {
	var g *genkit.Genkit

	switch cfg.Provider {
	case config.ProviderOllama:
		ollamaPlugin := &ollama.Ollama{ServerAddress: cfg.OllamaHost}
		g = genkit.Init(ctx, genkit.WithPlugins(ollamaPlugin))
		if g == nil {
			return nil, errors.New("initializing genkit with ollama provider")
		}
		// Ollama requires explicit model registration (no auto-discovery).
		ollamaPlugin.DefineModel(g, ollama.ModelDefinition{
			Name: cfg.ModelName,
			Type: "chat",
		}, nil)
		ollamaPlugin.DefineEmbedder(g, cfg.OllamaHost, cfg.EmbedderModel, nil)
		logger.Info("initialized Genkit with ollama provider",
			"model", cfg.ModelName, "host", cfg.OllamaHost)

	case config.ProviderOpenAI:
		g = genkit.Init(ctx, genkit.WithPlugins(&openai.OpenAI{}))
		if g == nil {
			return nil, errors.New("initializing genkit with openai provider")
		}
		logger.Info("initialized Genkit with openai provider", "model", cfg.ModelName)

	default: // gemini
		g = genkit.Init(ctx, genkit.WithPlugins(&googlegenai.GoogleAI{}))
		if g == nil {
			return nil, errors.New("initializing genkit with gemini provider")
		}
		logger.Info("initialized Genkit with gemini provider", "model", cfg.ModelName)
	}

	return g, nil
}

// provideEmbedder looks up the embedder registered by the provider
// plugin. Each provider registers embedders differently:
//   - gemini: GoogleAIEmbedder(g, modelName)
//   - ollama: registered in provideGenkit, keyed by server address
//   - openai: auto-registered in Init(), looked up by model name
func provideEmbedder(g *genkit.Genkit, cfg *config.Config) ai.Embedder {
	switch cfg.Provider {
	case config.ProviderOllama:
		return ollama.Embedder(g, cfg.OllamaHost)
	case config.ProviderOpenAI:
		return genkit.LookupEmbedder(g, api.NewName("openai", cfg.EmbedderModel))
	default: // gemini
		return googlegenai.GoogleAIEmbedder(g, cfg.EmbedderModel)
	}
}

// provideWebSupplementer builds the web fallback when SearXNG is
// configured. Returns nil when web_search.base_url is empty.
func provideWebSupplementer(cfg *config.Config, logger *slog.Logger) (*websearch.Supplementer, error) {
	ws := cfg.WebSearch
	if ws.BaseURL == "" {
		return nil, nil
	}

	client, err := websearch.NewClient(websearch.Config{
		BaseURL:    ws.BaseURL,
		MaxResults: ws.MaxResults,
		Timeout:    time.Duration(ws.TimeoutMs) * time.Millisecond,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("creating search client: %w", err)
	}

	fetcher := websearch.NewFetcher(websearch.FetcherConfig{
		Parallelism: ws.Parallelism,
		Delay:       time.Duration(ws.DelayMs) * time.Millisecond,
		Timeout:     time.Duration(ws.TimeoutMs) * time.Millisecond,
	}, logger)

	return websearch.NewSupplementer(client, fetcher, logger), nil
}

// componentDocs adapts the knowledge store into the generator's
// per-component documentation lookup.
type componentDocs struct {
	store *knowledge.Store
}

func (c componentDocs) FindComponentDocs(ctx context.Context, component string) (string, error) {
	results, err := c.store.Search(ctx, component, knowledge.WithTopK(2))
	if err != nil {
		return "", err
	}
	parts := make([]string, 0, len(results))
	for _, r := range results {
		parts = append(parts, r.Chunk.Content)
	}
	return strings.Join(parts, "\n\n"), nil
}

// provideAssistant wires the pipeline stages into an Assistant.
func provideAssistant(a *App, cfg *config.Config, logger *slog.Logger) (*assist.Assistant, error) {
	llmClient, err := llm.NewClient(a.Genkit, cfg.FullModelName(), float64(cfg.Temperature), logger)
	if err != nil {
		return nil, fmt.Errorf("creating llm client: %w", err)
	}

	supplementer, err := provideWebSupplementer(cfg, logger)
	if err != nil {
		return nil, err
	}
	// A typed nil must not become a non-nil interface value.
	var web retrieval.Supplementer
	if supplementer != nil {
		web = supplementer
	}

	retriever := retrieval.New(a.Knowledge, web, retrieval.Config{
		TopK:              int32(cfg.Retrieval.TopK),
		MinSimilarity:     cfg.Retrieval.MinSimilarity,
		FallbackThreshold: cfg.Retrieval.FallbackThreshold,
	}, logger)

	retry := generator.DefaultRetryConfig()
	if cfg.Generation.TaskRetries > 0 {
		retry.MaxRetries = cfg.Generation.TaskRetries
	}

	retrieveTO, planTO, generateTO := cfg.StageTimeouts()

	return assist.New(
		retriever,
		planner.New(llmClient, logger),
		generator.New(llmClient, retry, logger,
			generator.WithDocFinder(componentDocs{store: a.Knowledge})),
		a.Memory,
		a.SessionStore,
		assist.Timeouts{Retrieve: retrieveTO, Plan: planTO, Generate: generateTO},
		logger,
		assist.WithChat(llmClient),
	)
}
