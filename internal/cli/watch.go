package cli

import (
	"context"
	"errors"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/fatgtr/vivid-building-management-systems-sub003/internal/connectivity"
	"github.com/fatgtr/vivid-building-management-systems-sub003/internal/engine"
)

// WatchOptions holds flags for the watch command.
type WatchOptions struct {
	*RootOptions
	RetryEvery time.Duration
}

// NewWatchCommand creates the watch command.
func NewWatchCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &WatchOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Sync automatically whenever connectivity returns",
		Long: `Follow the configured connectivity source (a status file written by a
network hook, or else a TCP dial of the remote) and drain the queue on every
offline-to-online transition. When both are configured only the status file
is used. While online, failed records are retried every
--retry-every.

Runs until interrupted.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWatch(cmd, opts)
		},
	}

	cmd.Flags().DurationVar(&opts.RetryEvery, "retry-every", 5*time.Minute, "retry interval for a non-empty queue while online (0 disables)")

	return cmd
}

func runWatch(cmd *cobra.Command, opts *WatchOptions) error {
	a, err := openApp(commandContext(cmd.Context()), opts.RootOptions, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer a.Close()

	if !a.cfg.RemoteConfigured() {
		return NewExitError(ExitCommandError, "no remote configured (set remote.base_url or FIELDSYNC_REMOTE_URL)")
	}

	ctx, cancel := signalContext(cmd.Context(), a.logger)
	defer cancel()

	unsubscribe := a.monitor.OnTransition(func(s connectivity.State) {
		a.logger.Info("connectivity changed", "reachable", s.Reachable)
	})
	defer unsubscribe()

	stop := engine.AutoSync(ctx, a.monitor, a.reporter)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	source := "none"
	if src := a.connectivitySource(); src != nil {
		source = src.kind
		g.Go(func() error { return src.run(gctx) })
	}
	g.Go(func() error {
		retryLoop(gctx, a, opts.RetryEvery)
		return nil
	})

	a.logger.Info("watching connectivity",
		"source", source,
		"reachable", a.monitor.Reachable())

	err = g.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		return WrapExitError(ExitCommandError, "connectivity source failed", err)
	}
	return nil
}

// retryLoop drains once at start if online, then every interval while online
// and the queue is not empty.
func retryLoop(ctx context.Context, a *app, interval time.Duration) {
	drain := func() {
		if !a.monitor.Reachable() {
			return
		}
		pending, err := a.reporter.PendingCount(ctx)
		if err != nil {
			a.logger.Warn("count queue", "error", err)
			return
		}
		if pending == 0 {
			return
		}
		if _, _, err := a.reporter.TriggerSync(ctx); err != nil && !errors.Is(err, context.Canceled) {
			a.logger.Warn("retry drain", "error", err)
		}
	}

	drain()
	if interval <= 0 {
		<-ctx.Done()
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			drain()
		}
	}
}
