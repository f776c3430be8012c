package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// NewSyncCommand creates the sync command.
func NewSyncCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Drain the queue to the remote once",
		Long: `Run one drain pass: every queued capture is uploaded and created in FIFO
order. A failing record keeps its place and the pass moves on to the next.

Exits 1 if any record failed.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := commandContext(cmd.Context())
			a, err := openApp(ctx, rootOpts, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer a.Close()

			if !a.cfg.RemoteConfigured() {
				return NewExitError(ExitCommandError, "no remote configured (set remote.base_url or FIELDSYNC_REMOTE_URL)")
			}

			summary, started, err := a.reporter.TriggerSync(ctx)
			if err != nil {
				return WrapExitError(ExitCommandError, "sync failed", err)
			}

			res := syncResult{Started: started}
			if started {
				res.Pass = newPassView(summary)
			}
			if err := rootOpts.formatter(cmd).Success(res); err != nil {
				return err
			}
			if started && summary.Failed > 0 {
				return NewExitError(ExitFailure, fmt.Sprintf("%d record(s) failed to sync", summary.Failed))
			}
			return nil
		},
	}
}
