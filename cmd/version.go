package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/codelake/codelake/internal/config"
)

// Version information (injected at build time via ldflags).
var (
	AppVersion = "development"
	BuildTime  = "unknown"
	GitCommit  = "unknown"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Args:  cobra.NoArgs,
	RunE:  runVersion,
}

func init() {
	rootCmd.AddCommand(versionCmd)
}

func runVersion(cmd *cobra.Command, _ []string) error {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "codelake %s\n", AppVersion)
	fmt.Fprintf(out, "Build Time: %s\n", BuildTime)
	fmt.Fprintf(out, "Git Commit: %s\n", GitCommit)

	// Configuration summary is best effort; version must work even
	// with a broken config file.
	cfg, err := config.Load()
	if err != nil {
		return nil
	}
	fmt.Fprintln(out)
	fmt.Fprintln(out, "Configuration:")
	fmt.Fprintf(out, "  Provider: %s\n", cfg.Provider)
	fmt.Fprintf(out, "  Model: %s\n", cfg.FullModelName())
	fmt.Fprintf(out, "  Embedder: %s\n", cfg.EmbedderModel)
	fmt.Fprintf(out, "  Database: %s:%d/%s\n", cfg.PostgresHost, cfg.PostgresPort, cfg.PostgresDBName)
	if cfg.WebSearch.BaseURL != "" {
		fmt.Fprintf(out, "  Web fallback: %s\n", cfg.WebSearch.BaseURL)
	}
	return nil
}
