package cli

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/pantry/internal/model"
	"github.com/roach88/pantry/internal/queue"
	"github.com/roach88/pantry/internal/store"
	transport "github.com/roach88/pantry/internal/transport/http"
)

// QueueListing is the result of `pantry queue list`.
type QueueListing struct {
	Actions []transport.ActionView `json:"actions"`
}

func (l QueueListing) RenderText(w io.Writer) {
	if len(l.Actions) == 0 {
		fmt.Fprintln(w, "Queue empty.")
		return
	}
	for _, a := range l.Actions {
		fmt.Fprintf(w, "%s  %-7s %-6s %s  attempts=%d", a.ID, a.Status, a.Method, a.Endpoint, a.Attempts)
		if a.LastError != "" {
			fmt.Fprintf(w, "  last_error=%q", a.LastError)
		}
		fmt.Fprintln(w)
	}
}

// NewQueueCommand creates the queue command and its subcommands.
func NewQueueCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect and manage queued actions",
	}
	cmd.AddCommand(newQueueListCommand(rootOpts))
	cmd.AddCommand(newQueueRetryCommand(rootOpts))
	cmd.AddCommand(newQueueDiscardCommand(rootOpts))
	return cmd
}

func newQueueListCommand(opts *RootOptions) *cobra.Command {
	var status string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List queued actions in replay order",
		Example: `  pantry queue list
  pantry queue list --status failed --format json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var statuses []model.ActionStatus
			if status != "" {
				st := model.ActionStatus(status)
				if !st.Valid() {
					return NewExitError(ExitCommandError, fmt.Sprintf("invalid status %q: must be pending, synced or failed", status))
				}
				statuses = append(statuses, st)
			}
			return withQueue(opts, cmd, func(ctx context.Context, q *queue.Queue, out *OutputFormatter) error {
				actions, err := q.List(ctx, statuses...)
				if err != nil {
					return out.Fail(ExitCommandError, CodeStorage, "failed to list queue", err)
				}
				listing := QueueListing{Actions: make([]transport.ActionView, 0, len(actions))}
				for _, a := range actions {
					listing.Actions = append(listing.Actions, transport.NewActionView(a))
				}
				return out.Success(listing)
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "only actions in this status (pending|synced|failed)")
	return cmd
}

func newQueueRetryCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "retry <id>",
		Short: "Move a failed action back to pending",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withQueue(opts, cmd, func(ctx context.Context, q *queue.Queue, out *OutputFormatter) error {
				a, err := q.Retry(ctx, args[0])
				if err != nil {
					return queueFailure(out, "retry failed", err)
				}
				return out.Success(transport.NewActionView(a))
			})
		},
	}
}

func newQueueDiscardCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "discard <id>",
		Short: "Drop a failed action without replaying it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withQueue(opts, cmd, func(ctx context.Context, q *queue.Queue, out *OutputFormatter) error {
				if err := q.Discard(ctx, args[0]); err != nil {
					return queueFailure(out, "discard failed", err)
				}
				return out.Success(fmt.Sprintf("Discarded %s.", args[0]))
			})
		},
	}
}

// withQueue opens the configured store and runs fn against its queue.
func withQueue(opts *RootOptions, cmd *cobra.Command, fn func(context.Context, *queue.Queue, *OutputFormatter) error) error {
	return withStore(opts, cmd, func(ctx context.Context, st *store.Store, out *OutputFormatter) error {
		return fn(ctx, queue.New(st), out)
	})
}

func queueFailure(out *OutputFormatter, msg string, err error) error {
	switch {
	case queue.IsNotFound(err):
		return out.Fail(ExitCommandError, CodeNotFound, msg, err)
	case errors.Is(err, store.ErrIllegalTransition):
		return out.Fail(ExitCommandError, CodeConflict, msg, err)
	}
	return out.Fail(ExitCommandError, CodeStorage, msg, err)
}
