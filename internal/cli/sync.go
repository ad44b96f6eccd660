package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/pantry/internal/message"
	"github.com/roach88/pantry/internal/queue"
	"github.com/roach88/pantry/internal/syncer"
)

// SyncReport is the result of `pantry sync`.
type SyncReport struct {
	message.SyncComplete
	Remaining int `json:"remaining"`
}

// RenderText prints one line per replayed action and a summary.
func (r SyncReport) RenderText(w io.Writer) {
	if len(r.Results) == 0 {
		fmt.Fprintln(w, "Queue empty, nothing to sync.")
		return
	}
	for _, res := range r.Results {
		line := fmt.Sprintf("  %-7s %s %s (%s)", res.Status, res.Method, res.Endpoint, res.ID)
		if res.Error != "" {
			line += ": " + res.Error
		}
		fmt.Fprintln(w, line)
	}
	fmt.Fprintf(w, "Synced %d, failed %d, %d left in queue.\n", r.Synced, r.Failed, r.Remaining)
}

// NewSyncCommand creates the sync command.
func NewSyncCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Replay queued actions against the upstream",
		Long: `Replay every pending and failed action in the queue once, in the order
they were queued. Synced actions are removed; rejected ones stay queued as
failed and are retried by the next pass.

Exit codes:
  0 - Every action synced (or the queue was empty)
  1 - At least one action failed and remains queued
  2 - Command error (bad configuration, database unavailable, etc.)

Examples:
  pantry sync --upstream https://api.example.com
  pantry sync --db ./pantry.db --format json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSync(rootOpts, cmd)
		},
	}
}

func runSync(opts *RootOptions, cmd *cobra.Command) error {
	out := opts.formatter(cmd)

	cfg, err := opts.loadConfig()
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return out.Fail(ExitCommandError, CodeConfig, "invalid configuration", err)
	}
	client, err := newClient(cfg)
	if err != nil {
		return err
	}
	st, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	q := queue.New(st)
	coord := syncer.New(q, client)
	out.VerboseLog("replaying queue against %s", client.Base())

	sum, err := coord.Sync(ctx)
	if err != nil {
		return out.Fail(ExitCommandError, CodeStorage, "sync failed", err)
	}
	remaining, err := q.Len(ctx)
	if err != nil {
		return out.Fail(ExitCommandError, CodeStorage, "failed to count queue", err)
	}

	if err := out.Success(SyncReport{SyncComplete: sum.Message(), Remaining: remaining}); err != nil {
		return err
	}
	if sum.Failed > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d action(s) failed to sync", sum.Failed))
	}
	return nil
}
