package cli

import (
	"github.com/spf13/cobra"
)

// NewQueueCommand creates the queue command.
func NewQueueCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "queue",
		Short: "List captures waiting to sync",
		Long: `List the captures in the local queue, oldest first, with their sync
state, attempt count and last error. Records flagged as needing correction are
skipped by sync until fixed with "fieldsync correct".`,
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

			items, err := a.reporter.PendingItems(ctx)
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to list queue", err)
			}
			return rootOpts.formatter(cmd).Success(newQueueResult(items))
		},
	}
}
