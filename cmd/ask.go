package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"strings"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/codelake/codelake/internal/app"
	"github.com/codelake/codelake/internal/assist"
	"github.com/codelake/codelake/internal/config"
)

var askSessionID string

var askCmd = &cobra.Command{
	Use:   "ask [request]",
	Short: "Generate SDK code for a one-shot request",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runAsk,
}

func init() {
	askCmd.Flags().StringVar(&askSessionID, "session", "", "session UUID to continue an earlier conversation")
	rootCmd.AddCommand(askCmd)
}

func runAsk(cmd *cobra.Command, args []string) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if err := checkProviderEnv(cfg); err != nil {
		return err
	}

	logger := slog.Default()

	a, err := app.Setup(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("initializing application: %w", err)
	}
	defer func() {
		if closeErr := a.Close(); closeErr != nil {
			logger.Warn("shutdown error", "error", closeErr)
		}
	}()

	var sessionID uuid.UUID
	if askSessionID != "" {
		sessionID, err = uuid.Parse(askSessionID)
		if err != nil {
			return fmt.Errorf("invalid session id %q: %w", askSessionID, err)
		}
		if err := a.WarmMemory(ctx); err != nil {
			logger.Warn("warming session memory", "error", err)
		}
	}

	resp, err := a.Assistant.Handle(ctx, assist.Request{
		SessionID: sessionID,
		Message:   strings.Join(args, " "),
	})
	if err != nil {
		return fmt.Errorf("handling request: %w", err)
	}

	printResponse(cmd, resp)
	return nil
}

func printResponse(cmd *cobra.Command, resp *assist.Response) {
	out := cmd.OutOrStdout()

	if len(resp.PlanSteps) > 0 {
		fmt.Fprintln(out, "Plan:")
		for i, step := range resp.PlanSteps {
			fmt.Fprintf(out, "  %d. %s\n", i+1, step)
		}
		fmt.Fprintln(out)
	}

	if resp.Code != "" {
		fmt.Fprintln(out, resp.Code)
		fmt.Fprintln(out)
	}
	if resp.Explanation != "" {
		fmt.Fprintln(out, resp.Explanation)
	}

	if len(resp.Sources) > 0 {
		fmt.Fprintln(out)
		fmt.Fprintln(out, "Sources:")
		for _, src := range resp.Sources {
			fmt.Fprintf(out, "  - %s\n", src)
		}
	}
	for _, missing := range resp.MissingInfo {
		fmt.Fprintf(out, "Missing: %s\n", missing)
	}
	for _, suggestion := range resp.Suggestions {
		fmt.Fprintf(out, "Suggestion: %s\n", suggestion)
	}

	if !resp.Complete {
		fmt.Fprintln(out)
		fmt.Fprintln(out, "Warning: generation stopped before all planned tasks completed.")
	}
	if resp.Degraded {
		fmt.Fprintln(out, "Note: web fallback was unavailable; results are local-only.")
	}

	fmt.Fprintf(out, "\nSession: %s (confidence %.2f)\n", resp.SessionID, resp.Confidence)
}
