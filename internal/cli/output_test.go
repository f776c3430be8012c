package cli

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fatgtr/vivid-building-management-systems-sub003/internal/engine"
	"github.com/fatgtr/vivid-building-management-systems-sub003/internal/syncerr"
)

func TestOutputFormatter_JSONSuccess(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{Format: "json", Writer: buf}

	err := formatter.Success(statusResult{Pending: 2})
	require.NoError(t, err)

	var resp CLIResponse
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, map[string]any{"pending": float64(2)}, resp.Data)
}

func TestOutputFormatter_JSONError(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{Format: "json", Writer: buf}

	err := formatter.Error("NOT_FOUND", "unknown capture", "r9")
	require.NoError(t, err)

	var resp CLIResponse
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.Equal(t, "error", resp.Status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "NOT_FOUND", resp.Error.Code)
	assert.Equal(t, "unknown capture", resp.Error.Message)
	assert.Equal(t, "r9", resp.Error.Details)
}

func TestOutputFormatter_TextUsesRenderer(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{Format: "text", Writer: buf}

	require.NoError(t, formatter.Success(captureResult{
		Outcome:     engine.OutcomeSavedOffline,
		LocalID:     "r1",
		Attachments: 2,
	}))
	assert.Equal(t, "Saved offline: r1 (2 attachments)\n", buf.String())
}

func TestOutputFormatter_TextFallsBackToFmt(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{Format: "text", Writer: buf}

	require.NoError(t, formatter.Success("done"))
	assert.Equal(t, "done\n", buf.String())
}

func TestOutputFormatter_TextError(t *testing.T) {
	tests := []struct {
		name        string
		verbose     bool
		wantDetails bool
	}{
		{"quiet", false, false},
		{"verbose", true, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := &bytes.Buffer{}
			formatter := &OutputFormatter{Format: "text", Writer: buf, Verbose: tt.verbose}

			require.NoError(t, formatter.Error("VALIDATION_ERROR", "capture not saved", "severity required"))
			assert.Contains(t, buf.String(), "Error [VALIDATION_ERROR]: capture not saved")
			if tt.wantDetails {
				assert.Contains(t, buf.String(), "Details: severity required")
			} else {
				assert.NotContains(t, buf.String(), "Details:")
			}
		})
	}
}

func TestOutputFormatter_VerboseLogUsesErrWriter(t *testing.T) {
	out, diag := &bytes.Buffer{}, &bytes.Buffer{}
	formatter := &OutputFormatter{Format: "json", Writer: out, ErrWriter: diag, Verbose: true}

	formatter.VerboseLog("opening %s", "queue.db")
	assert.Empty(t, out.String())
	assert.Equal(t, "opening queue.db\n", diag.String())

	formatter.Verbose = false
	formatter.VerboseLog("hidden")
	assert.NotContains(t, diag.String(), "hidden")
}

func TestErrorCode(t *testing.T) {
	assert.Equal(t, "STORAGE_UNAVAILABLE", ErrorCode(fmt.Errorf("wrapped: %w", syncerr.Storage("store.append", errors.New("disk full")))))
	assert.Equal(t, "COMMAND_ERROR", ErrorCode(errors.New("boom")))
}

func TestGetExitCode(t *testing.T) {
	assert.Equal(t, ExitSuccess, GetExitCode(nil))
	assert.Equal(t, ExitFailure, GetExitCode(errors.New("boom")))
	assert.Equal(t, ExitCommandError, GetExitCode(fmt.Errorf("outer: %w", NewExitError(ExitCommandError, "bad flag"))))

	wrapped := WrapExitError(ExitFailure, "sync failed", errors.New("timeout"))
	assert.Equal(t, "sync failed: timeout", wrapped.Error())
	assert.EqualError(t, errors.Unwrap(wrapped), "timeout")
}

func TestStatusResult_Text(t *testing.T) {
	buf := &bytes.Buffer{}
	require.NoError(t, statusResult{Pending: 0}.RenderText(buf))
	assert.Contains(t, buf.String(), "Pending: 0")
	assert.Contains(t, buf.String(), "never")

	buf.Reset()
	res := statusResult{Pending: 1, LastPass: newPassView(engine.PassSummary{
		FinishedAt: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
		Synced:     2,
		Failed:     1,
		Skipped:    1,
		Pending:    2,
	})}
	require.NoError(t, res.RenderText(buf))
	assert.Contains(t, buf.String(), "2 synced, 1 failed, 1 need correction, 2 pending")
}
