package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/pantry/internal/store"
)

// Targets accepted by `pantry cache clear`.
const (
	clearResponses = "responses"
	clearKV        = "kv"
	clearAll       = "all"
)

// NewCacheCommand creates the cache command and its subcommands.
func NewCacheCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Maintain the local response and TTL caches",
	}
	cmd.AddCommand(newCacheClearCommand(rootOpts))
	cmd.AddCommand(newCacheSweepCommand(rootOpts))
	return cmd
}

func newCacheClearCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "clear [responses|kv|all]",
		Short: "Drop cached upstream responses, TTL entries, or both",
		Long: `Drop cached data. "responses" removes cached upstream responses (the app
shell included), "kv" removes TTL cache entries, "all" (the default) does
both. Queued actions are never touched.`,
		Args:      cobra.MaximumNArgs(1),
		ValidArgs: []string{clearResponses, clearKV, clearAll},
		RunE: func(cmd *cobra.Command, args []string) error {
			target := clearAll
			if len(args) == 1 {
				target = args[0]
			}
			if target != clearResponses && target != clearKV && target != clearAll {
				return NewExitError(ExitCommandError, fmt.Sprintf("invalid target %q: must be responses, kv or all", target))
			}
			return withStore(opts, cmd, func(ctx context.Context, st *store.Store, out *OutputFormatter) error {
				if target != clearKV {
					if err := st.ClearResponses(ctx); err != nil {
						return out.Fail(ExitCommandError, CodeStorage, "failed to clear responses", err)
					}
				}
				if target != clearResponses {
					if err := st.Clear(ctx); err != nil {
						return out.Fail(ExitCommandError, CodeStorage, "failed to clear TTL cache", err)
					}
				}
				return out.Success(fmt.Sprintf("Cleared %s.", target))
			})
		},
	}
}

func newCacheSweepCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Delete expired TTL cache entries",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(opts, cmd, func(ctx context.Context, st *store.Store, out *OutputFormatter) error {
				n, err := st.Sweep(ctx)
				if err != nil {
					return out.Fail(ExitCommandError, CodeStorage, "sweep failed", err)
				}
				if out.Format == "json" {
					return out.Success(map[string]int64{"removed": n})
				}
				return out.Success(fmt.Sprintf("Removed %d expired entries.", n))
			})
		},
	}
}

func withStore(opts *RootOptions, cmd *cobra.Command, fn func(context.Context, *store.Store, *OutputFormatter) error) error {
	cfg, err := opts.loadConfig()
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
	return fn(ctx, st, opts.formatter(cmd))
}
