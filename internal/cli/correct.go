package cli

import (
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/fatgtr/vivid-building-management-systems-sub003/internal/capture"
	"github.com/fatgtr/vivid-building-management-systems-sub003/internal/engine"
	"github.com/fatgtr/vivid-building-management-systems-sub003/internal/syncerr"
)

// CorrectOptions holds flags for the correct command.
type CorrectOptions struct {
	*RootOptions
	Fields []string
	Unset  []string
}

type correctResult struct {
	LocalID    string         `json:"local_id"`
	Collection string         `json:"collection"`
	Payload    map[string]any `json:"payload"`
}

func (r correctResult) RenderText(w io.Writer) error {
	fmt.Fprintf(w, "Corrected %s (%s); it will be retried on the next sync\n", r.LocalID, r.Collection)
	return nil
}

// NewCorrectCommand creates the correct command.
func NewCorrectCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &CorrectOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "correct <local-id>",
		Short: "Edit a rejected capture and requeue it",
		Long: `Change fields of a queued capture that the remote rejected, clear its
"needs correction" flag and put it back in line for the next sync.

Example:
  fieldsync correct 0192c9d4-... --field severity=3 --unset notes`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCorrect(cmd, opts, args[0])
		},
	}

	cmd.Flags().StringArrayVarP(&opts.Fields, "field", "f", nil, "field to set as key=value (repeatable)")
	cmd.Flags().StringArrayVar(&opts.Unset, "unset", nil, "field to remove (repeatable)")

	return cmd
}

func runCorrect(cmd *cobra.Command, opts *CorrectOptions, localID string) error {
	fields, err := parseFields(opts.Fields)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid field", err)
	}
	if len(fields) == 0 && len(opts.Unset) == 0 {
		return NewExitError(ExitCommandError, "nothing to change: pass --field or --unset")
	}

	ctx := commandContext(cmd.Context())
	a, err := openApp(ctx, opts.RootOptions, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer a.Close()

	out := opts.formatter(cmd)
	rec, err := a.store.Get(ctx, localID)
	if err != nil {
		out.Error(ErrorCode(err), "unknown capture", localID)
		return WrapExitError(ExitCommandError, "unknown capture", err)
	}

	payload := capture.ClonePayload(rec.Payload)
	for k, v := range fields {
		payload[k] = v
	}
	for _, k := range opts.Unset {
		delete(payload, k)
	}

	if err := a.engine.Correct(ctx, localID, payload); err != nil {
		switch {
		case errors.Is(err, engine.ErrDrainInProgress):
			return WrapExitError(ExitFailure, "a sync is running, try again", err)
		case syncerr.IsValidation(err):
			out.Error(ErrorCode(err), "corrected payload is still invalid", err.Error())
			return WrapExitError(ExitFailure, "corrected payload is still invalid", err)
		default:
			return WrapExitError(ExitCommandError, "correction failed", err)
		}
	}

	return out.Success(correctResult{
		LocalID:    localID,
		Collection: rec.Collection,
		Payload:    capture.NormalizePayload(payload),
	})
}
