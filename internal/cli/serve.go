package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/roach88/pantry/internal/config"
	"github.com/roach88/pantry/internal/schedule"
	"github.com/roach88/pantry/internal/store"
)

const shutdownTimeout = 5 * time.Second

// ServeOptions holds flags for the serve command.
type ServeOptions struct {
	*RootOptions
	Listen string
}

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the sidecar",
		Long: `Run the offline sync sidecar in front of the upstream API.

Reads go through the caching strategies, writes are queued while the upstream
is unreachable, and the queue is replayed when connectivity returns. The
control API is served under /_pantry.

If the database cannot be opened the sidecar keeps running on an in-memory
store; queued writes are then lost on exit.

Example:
  pantry serve --upstream https://api.example.com
  pantry serve --config pantry.yaml --listen 127.0.0.1:9000 --verbose`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Listen, "listen", "", "address to listen on (overrides config)")

	return cmd
}

func runServe(opts *ServeOptions, cmd *cobra.Command) error {
	cfg, err := opts.loadConfig()
	if err != nil {
		return err
	}
	if opts.Listen != "" {
		cfg.Listen = opts.Listen
	}
	if err := cfg.Validate(); err != nil {
		return WrapExitError(ExitCommandError, "invalid configuration", err)
	}

	logger := slog.Default()

	st, inMemory, err := store.OpenOrMemory(cfg.DB, store.WithLogger(logger))
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer func() {
		if closeErr := st.Close(); closeErr != nil {
			slog.Error("error closing database", "error", closeErr)
		}
	}()
	slog.Info("database ready", "path", st.Path(), "in_memory", inMemory)

	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, cancel := context.WithCancel(parentCtx)
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		select {
		case sig := <-sigChan:
			slog.Info("received signal, shutting down", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	runner := schedule.NewRunner(ctx, logger)
	defer runner.Close()

	sc, err := newSidecar(cfg, st, runner, logger)
	if err != nil {
		return err
	}
	startBackground(sc, cfg, runner)

	ln, err := net.Listen("tcp", cfg.Listen)
	if err != nil {
		sc.broker.Close()
		return WrapExitError(ExitCommandError, "failed to listen", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Pantry listening on %s, upstream %s\n", ln.Addr(), cfg.Upstream)
	fmt.Fprintln(cmd.OutOrStdout(), "Press Ctrl-C to stop.")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		err := sc.server.Serve(ln)
		if errors.Is(err, net.ErrClosed) {
			return nil
		}
		return err
	})
	g.Go(func() error {
		<-gctx.Done()
		// Event streams end when the broker closes, which lets shutdown drain.
		sc.broker.Close()
		shutdownCtx, done := context.WithTimeout(context.Background(), shutdownTimeout)
		defer done()
		err := sc.server.Shutdown(shutdownCtx)
		_ = ln.Close()
		return err
	})

	if err := g.Wait(); err != nil {
		return WrapExitError(ExitFailure, "server error", err)
	}

	slog.Info("sidecar stopped gracefully")
	return nil
}

// startBackground schedules the startup work and the connectivity probe.
func startBackground(sc *sidecar, cfg *config.Config, sched schedule.Scheduler) {
	if cfg.Probe.Interval > 0 {
		sc.prober.Start(sched, cfg.Probe.Interval)
	}
	if len(cfg.CriticalAssets) > 0 {
		sched.Go("precache critical assets", func(ctx context.Context) {
			sc.handler.Precache(ctx, cfg.CriticalAssets)
		})
	}
	if cfg.SyncOnStart {
		sched.Go("sync on start", func(ctx context.Context) {
			if _, err := sc.syncer.Sync(ctx); err != nil {
				slog.Warn("startup sync failed", "error", err)
			}
		})
	}
}
