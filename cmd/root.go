// Package cmd provides the codelake CLI commands.
//
// Commands:
//   - ask: one-shot code generation from the terminal
//   - serve: HTTP API server
//   - sessions: list, show, and delete persisted sessions
//   - version: build and configuration information
//
// Signal handling and graceful shutdown are implemented for all
// long-running commands via context cancellation.
package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/codelake/codelake/internal/config"
	"github.com/codelake/codelake/internal/log"
)

var rootCmd = &cobra.Command{
	Use:   "codelake",
	Short: "Codelake generates SDK code from indexed documentation",
	Long: `Codelake answers "write code that does X with this SDK" requests.
It retrieves relevant documentation chunks from a local vector store,
plans the request as sub-tasks, and generates code task by task. When
local documentation is thin it can supplement results with web search.

Run "codelake ask" for one-shot generation or "codelake serve" to
expose the pipeline as an HTTP API.`,
	SilenceUsage: true,
}

// Execute is the main entry point for the codelake CLI.
func Execute() error {
	// Initialize logger once at entry point. DEBUG env enables debug level.
	level := slog.LevelInfo
	if os.Getenv("DEBUG") != "" {
		level = slog.LevelDebug
	}
	slog.SetDefault(log.New(log.Config{Level: level}))

	return rootCmd.Execute()
}

// checkProviderEnv verifies the API key environment variable required
// by the configured provider. Keys are read directly by the Genkit
// plugins, so only presence is checked here.
func checkProviderEnv(cfg *config.Config) error {
	switch cfg.Provider {
	case config.ProviderOllama:
		return nil
	case config.ProviderOpenAI:
		if os.Getenv("OPENAI_API_KEY") == "" {
			fmt.Fprintln(os.Stderr, "Error: OPENAI_API_KEY environment variable not set")
			fmt.Fprintln(os.Stderr, "")
			fmt.Fprintln(os.Stderr, "To set your API key:")
			fmt.Fprintln(os.Stderr, "  export OPENAI_API_KEY=your-api-key")
			return fmt.Errorf("OPENAI_API_KEY not set")
		}
		return nil
	default: // gemini
		if os.Getenv("GEMINI_API_KEY") == "" {
			fmt.Fprintln(os.Stderr, "Error: GEMINI_API_KEY environment variable not set")
			fmt.Fprintln(os.Stderr, "")
			fmt.Fprintln(os.Stderr, "To set your API key:")
			fmt.Fprintln(os.Stderr, "  export GEMINI_API_KEY=your-api-key")
			fmt.Fprintln(os.Stderr, "")
			fmt.Fprintln(os.Stderr, "Get your API key at: https://ai.google.dev/")
			return fmt.Errorf("GEMINI_API_KEY not set")
		}
		return nil
	}
}
