package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/askd/internal/conversation"
	"github.com/fyrsmithlabs/askd/internal/orchestrator"
	"github.com/fyrsmithlabs/askd/internal/progress"
)

type askOptions struct {
	channel  string
	thread   string
	progress bool
	jsonOut  bool
}

func newAskCmd() *cobra.Command {
	var opts askOptions
	cmd := &cobra.Command{
		Use:   "ask QUESTION...",
		Short: "Answer one question and exit",
		Long: `Answer one question and exit.

Pass --thread to continue an earlier conversation; history is kept in the
configured storage backend.

Examples:
  askd ask "how do I rotate the deploy key?"
  askd ask --progress --thread ops-42 "jql: project = OPS AND status = Open"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAsk(cmd, strings.Join(args, " "), opts)
		},
	}
	cmd.Flags().StringVar(&opts.channel, "channel", "cli", "channel id recorded with the turn")
	cmd.Flags().StringVar(&opts.thread, "thread", "", "thread id to continue (default: new thread)")
	cmd.Flags().BoolVar(&opts.progress, "progress", false, "print progress notes to stderr")
	cmd.Flags().BoolVar(&opts.jsonOut, "json", false, "print the full turn as JSON")
	return cmd
}

func runAsk(cmd *cobra.Command, question string, opts askOptions) error {
	ctx := cmd.Context()
	cfg, err := loadConfig(true)
	if err != nil {
		return err
	}
	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = a.close(context.Background()) }()

	msg := conversation.Message{
		ID:         uuid.NewString(),
		Role:       conversation.RoleUser,
		Text:       question,
		AuthorID:   currentUser(),
		AuthorName: currentUser(),
		ChannelID:  opts.channel,
		ThreadID:   opts.thread,
		Timestamp:  time.Now(),
		IsDirect:   true,
	}

	var turnOpts []orchestrator.TurnOption
	if opts.progress {
		stderr := cmd.ErrOrStderr()
		turnOpts = append(turnOpts, orchestrator.WithSink(progress.SinkFunc(func(_ context.Context, text string) error {
			_, err := fmt.Fprintln(stderr, text)
			return err
		})))
	}

	turn, err := a.orchestrator.ProcessTurn(ctx, msg, turnOpts...)
	if err != nil {
		return err
	}
	if opts.jsonOut {
		return printJSON(cmd.OutOrStdout(), turn)
	}
	fmt.Fprintln(cmd.OutOrStdout(), turn.Reply)
	return nil
}

func currentUser() string {
	if u := os.Getenv("USER"); u != "" {
		return u
	}
	return "cli"
}
