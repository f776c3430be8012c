package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/fatgtr/vivid-building-management-systems-sub003/internal/capture"
	"github.com/fatgtr/vivid-building-management-systems-sub003/internal/engine"
)

// CaptureOptions holds flags for the capture command.
type CaptureOptions struct {
	*RootOptions
	Collection string
	Title      string
	Fields     []string
	Attach     []string
}

// captureResult is the output of the capture command.
type captureResult struct {
	Outcome     engine.Outcome `json:"outcome"`
	LocalID     string         `json:"local_id"`
	RemoteID    string         `json:"remote_id,omitempty"`
	Attachments int            `json:"attachments"`
	Cause       string         `json:"cause,omitempty"`
}

func (r captureResult) RenderText(w io.Writer) error {
	switch r.Outcome {
	case engine.OutcomeSynced:
		fmt.Fprintf(w, "Synced %s as %s (%d attachments)\n", r.LocalID, r.RemoteID, r.Attachments)
	case engine.OutcomeSavedOffline:
		fmt.Fprintf(w, "Saved offline: %s (%d attachments)\n", r.LocalID, r.Attachments)
	default:
		fmt.Fprintf(w, "Queued %s after failed submission: %s\n", r.LocalID, r.Cause)
	}
	return nil
}

// NewCaptureCommand creates the capture command.
func NewCaptureCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &CaptureOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "capture",
		Short: "Record a capture and submit or queue it",
		Long: `Record a capture with structured fields and attachments.

If the remote is reachable the capture is submitted immediately; otherwise, or
if the submission fails, it is saved to the local queue for the next sync.
Field values are parsed as JSON when possible and kept as strings otherwise.

Example:
  fieldsync capture --collection inspections --title "Unit 4B" \
    --field unit=4B --field severity=3 --attach photo1.jpg`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCapture(cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.Collection, "collection", "", "target collection (required)")
	cmd.Flags().StringVar(&opts.Title, "title", "", "display title (defaults to the collection and time)")
	cmd.Flags().StringArrayVarP(&opts.Fields, "field", "f", nil, "payload field as key=value (repeatable)")
	cmd.Flags().StringArrayVarP(&opts.Attach, "attach", "a", nil, "file to attach (repeatable)")
	_ = cmd.MarkFlagRequired("collection")

	return cmd
}

func runCapture(cmd *cobra.Command, opts *CaptureOptions) error {
	fields, err := parseFields(opts.Fields)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid field", err)
	}

	session := capture.NewSession(opts.Collection)
	if opts.Title != "" {
		session.SetTitle(opts.Title)
	}
	for k, v := range fields {
		session.SetField(k, v)
	}
	for _, path := range opts.Attach {
		data, err := os.ReadFile(path)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to read attachment", err)
		}
		session.AddAttachment(data, contentTypeOf(path, data))
	}

	ctx := commandContext(cmd.Context())
	a, err := openApp(ctx, opts.RootOptions, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer a.Close()

	a.refreshConnectivity(ctx)

	out := opts.formatter(cmd)
	sub, err := a.router.Submit(ctx, session)
	if err != nil {
		out.Error(ErrorCode(err), "capture not saved", err.Error())
		return WrapExitError(ExitFailure, "capture not saved", err)
	}

	res := captureResult{
		Outcome:     sub.Outcome,
		LocalID:     sub.LocalID,
		RemoteID:    sub.RemoteID,
		Attachments: len(opts.Attach),
	}
	if sub.Cause != nil {
		res.Cause = sub.Cause.Error()
	}
	return out.Success(res)
}

// parseFields turns key=value pairs into payload fields.
func parseFields(pairs []string) (map[string]any, error) {
	fields := make(map[string]any, len(pairs))
	for _, pair := range pairs {
		key, raw, ok := strings.Cut(pair, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("%q is not key=value", pair)
		}
		fields[key] = parseValue(raw)
	}
	return fields, nil
}

func parseValue(raw string) any {
	var v any
	if err := json.Unmarshal([]byte(raw), &v); err == nil {
		return v
	}
	return raw
}

func contentTypeOf(path string, data []byte) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	case ".heic":
		return "image/heic"
	}
	return http.DetectContentType(data)
}
