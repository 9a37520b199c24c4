// Package app initializes the application: configuration, tracing,
// database, Genkit, and the generation pipeline, wired together in
// dependency order.
package app

import (
	"context"
	"log/slog"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/codelake/codelake/internal/assist"
	"github.com/codelake/codelake/internal/config"
	"github.com/codelake/codelake/internal/knowledge"
	"github.com/codelake/codelake/internal/session"
)

// App is the core application container.
type App struct {
	Config *config.Config
	Logger *slog.Logger

	Genkit   *genkit.Genkit
	Embedder ai.Embedder
	DBPool   *pgxpool.Pool

	Knowledge    *knowledge.Store
	SessionStore *session.Store
	Memory       *session.Manager
	Assistant    *assist.Assistant

	otelCleanup func()
}

// Close gracefully shuts down all resources in reverse init order.
func (a *App) Close() error {
	a.logger().Info("shutting down application")

	if a.DBPool != nil {
		a.DBPool.Close()
		a.logger().Debug("database pool closed")
	}
	if a.otelCleanup != nil {
		a.otelCleanup()
	}
	return nil
}

// WarmMemory preloads conversation memory from persisted turns so
// follow-ups to recent sessions have context after a restart.
func (a *App) WarmMemory(ctx context.Context) error {
	if a.SessionStore == nil || a.Memory == nil {
		return nil
	}

	maxTurns := 10
	if a.Config != nil && a.Config.Session.MaxTurns > 0 {
		maxTurns = a.Config.Session.MaxTurns
	}

	sessions, err := a.SessionStore.ListSessions(ctx, warmSessionLimit, 0)
	if err != nil {
		return err
	}

	warmed := 0
	for _, s := range sessions {
		turns, err := a.SessionStore.LoadRecent(ctx, s.ID, int32(maxTurns))
		if err != nil {
			a.logger().Warn("loading turns for warm-up", "session_id", s.ID, "error", err)
			continue
		}
		mem := a.Memory.Get(s.ID)
		for _, turn := range turns {
			mem.Append(turn)
		}
		warmed++
	}

	a.logger().Debug("conversation memory warmed", "sessions", warmed)
	return nil
}

// warmSessionLimit caps how many recent sessions are preloaded.
const warmSessionLimit = 50

func (a *App) logger() *slog.Logger {
	if a.Logger != nil {
		return a.Logger
	}
	return slog.Default()
}
