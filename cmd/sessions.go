package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"github.com/codelake/codelake/internal/config"
	"github.com/codelake/codelake/internal/session"
)

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "Manage persisted sessions",
}

var sessionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List sessions",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withSessionStore(cmd.Context(), func(ctx context.Context, store *session.Store) error {
			return runSessionsList(ctx, cmd, store)
		})
	},
}

var sessionsShowCmd = &cobra.Command{
	Use:   "show <session-id>",
	Short: "Show a session's turns",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSessionStore(cmd.Context(), func(ctx context.Context, store *session.Store) error {
			return runSessionsShow(ctx, cmd, store, args[0])
		})
	},
}

var sessionsDeleteCmd = &cobra.Command{
	Use:   "delete <session-id>",
	Short: "Delete a session and its turns",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSessionStore(cmd.Context(), func(ctx context.Context, store *session.Store) error {
			return runSessionsDelete(ctx, cmd, store, args[0])
		})
	},
}

func init() {
	sessionsCmd.AddCommand(sessionsListCmd, sessionsShowCmd, sessionsDeleteCmd)
	rootCmd.AddCommand(sessionsCmd)
}

// withSessionStore opens a short-lived pool for one session command.
// Session commands only need the database, not the full application.
func withSessionStore(ctx context.Context, fn func(context.Context, *session.Store) error) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	pool, err := pgxpool.New(ctx, cfg.PostgresConnectionString())
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	defer pool.Close()

	return fn(ctx, session.NewStore(pool, slog.Default()))
}

func runSessionsList(ctx context.Context, cmd *cobra.Command, store *session.Store) error {
	sessions, err := store.ListSessions(ctx, 100, 0)
	if err != nil {
		return fmt.Errorf("listing sessions: %w", err)
	}

	out := cmd.OutOrStdout()
	if len(sessions) == 0 {
		fmt.Fprintln(out, "No sessions yet.")
		return nil
	}

	for _, s := range sessions {
		title := s.Title
		if title == "" {
			title = "(untitled)"
		}
		fmt.Fprintf(out, "%s  %-30s  updated %s\n", s.ID, title, formatTime(s.UpdatedAt))
	}
	return nil
}

func runSessionsShow(ctx context.Context, cmd *cobra.Command, store *session.Store, rawID string) error {
	sessionID, err := uuid.Parse(rawID)
	if err != nil {
		return fmt.Errorf("invalid session id: %s", rawID)
	}

	sess, err := store.GetSession(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("getting session: %w", err)
	}
	turns, err := store.LoadRecent(ctx, sessionID, 100)
	if err != nil {
		return fmt.Errorf("loading turns: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Session: %s\n", sess.ID)
	if sess.Title != "" {
		fmt.Fprintf(out, "Title: %s\n", sess.Title)
	}
	fmt.Fprintf(out, "Created: %s\n", formatTime(sess.CreatedAt))
	fmt.Fprintf(out, "Turns: %d\n\n", len(turns))

	for _, t := range turns {
		fmt.Fprintf(out, "You> %s\n", t.Request)
		if t.Code != "" {
			fmt.Fprintln(out, t.Code)
		}
		if !t.Complete {
			fmt.Fprintln(out, "(incomplete)")
		}
		fmt.Fprintln(out)
	}
	return nil
}

func runSessionsDelete(ctx context.Context, cmd *cobra.Command, store *session.Store, rawID string) error {
	sessionID, err := uuid.Parse(rawID)
	if err != nil {
		return fmt.Errorf("invalid session id: %s", rawID)
	}

	if err := store.DeleteSession(ctx, sessionID); err != nil {
		return fmt.Errorf("deleting session: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Deleted session %s\n", sessionID)
	return nil
}

// formatTime formats time relative to now for listing output.
func formatTime(t time.Time) string {
	diff := time.Since(t)
	switch {
	case diff < time.Minute:
		return "just now"
	case diff < time.Hour:
		return fmt.Sprintf("%d minutes ago", int(diff.Minutes()))
	case diff < 24*time.Hour:
		return fmt.Sprintf("%d hours ago", int(diff.Hours()))
	case diff < 7*24*time.Hour:
		return fmt.Sprintf("%d days ago", int(diff.Hours()/24))
	default:
		return t.Format("2006-01-02 15:04")
	}
}
