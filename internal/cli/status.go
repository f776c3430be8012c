package cli

import (
	"github.com/spf13/cobra"
)

// NewStatusCommand creates the status command.
func NewStatusCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "status",
		Short:         "Show queue depth and the last sync outcome",
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

			pending, err := a.reporter.PendingCount(ctx)
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to count queue", err)
			}

			res := statusResult{Pending: pending}
			if last, ok := a.reporter.LastPassSummary(); ok {
				res.LastPass = newPassView(last)
			}
			return rootOpts.formatter(cmd).Success(res)
		},
	}
}
