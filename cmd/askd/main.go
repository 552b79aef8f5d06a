// Askd answers questions by planning which knowledge tools to use, running
// them with reasoning-guided retries and replying from the merged results.
//
// Usage:
//
//	askd serve               start the HTTP API
//	askd ask "question"      answer one question and exit
//	askd chat                interactive terminal chat
//	askd ingest FILE...      add documents to the knowledge base
//	askd version             print build information
//
// Configuration comes from ~/.config/askd/config.yaml (or --config) and
// ASKD_-prefixed environment variables.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/askd/internal/config"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

var configPath string

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "askd",
		Short: "Conversational assistant over your knowledge base, trackers and the web",
		Long: `askd plans which knowledge tools a question needs, runs them with bounded
reasoning-guided retries and answers from the merged results and conversation memory.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to config file (default ~/.config/askd/config.yaml)")

	root.AddCommand(newServeCmd(), newAskCmd(), newChatCmd(), newIngestCmd(), newVersionCmd())
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "askd by Fyrsmith Labs\n")
			fmt.Fprintf(out, "Version:    %s\n", version)
			fmt.Fprintf(out, "Commit:     %s\n", gitCommit)
			fmt.Fprintf(out, "Build Date: %s\n", buildDate)
		},
	}
}

// loadConfig loads and validates configuration. quiet sends logs to stderr
// at warn level so they do not mix with command output.
func loadConfig(quiet bool) (*config.Config, error) {
	cfg, err := config.LoadWithFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	if quiet {
		cfg.Logging.Output.Stdout = false
		cfg.Logging.Output.Stderr = true
		cfg.Logging.Level = "warn"
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}
