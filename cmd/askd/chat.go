package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/askd/internal/console"
)

func newChatCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "chat",
		Short: "Interactive terminal chat",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			cfg, err := loadConfig(true)
			if err != nil {
				return err
			}
			// The console owns the terminal.
			cfg.Logging.Level = "error"

			a, err := newApp(ctx, cfg)
			if err != nil {
				return err
			}
			defer func() { _ = a.close(context.Background()) }()

			return console.Run(ctx, a.orchestrator, console.Config{
				Author:       currentUser(),
				BudgetTokens: cfg.Memory.BudgetTokens,
			})
		},
	}
}
