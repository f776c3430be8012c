package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/fatgtr/vivid-building-management-systems-sub003/internal/devserver"
)

// isolateEnv clears every FIELDSYNC_* variable so the host environment cannot
// leak into a test, and keeps logs quiet.
func isolateEnv(t *testing.T) {
	t.Helper()
	for _, kv := range os.Environ() {
		if key, _, _ := strings.Cut(kv, "="); strings.HasPrefix(key, "FIELDSYNC_") {
			t.Setenv(key, "")
			os.Unsetenv(key)
		}
	}
	t.Setenv("FIELDSYNC_LOG_LEVEL", "error")
}

type testEnv struct {
	dir     string
	config  string
	devsrv  *devserver.Server
	baseURL string
}

// newTestEnv writes a config file pointing at a fresh database and, when
// withRemote is set, at an in-process devserver.
func newTestEnv(t *testing.T, withRemote bool, extraYAML string, srvOpts ...devserver.Option) *testEnv {
	t.Helper()
	isolateEnv(t)

	env := &testEnv{dir: t.TempDir()}
	var cfg strings.Builder
	fmt.Fprintf(&cfg, "database_path: %s\n", filepath.Join(env.dir, "queue.db"))

	if withRemote {
		srvOpts = append([]devserver.Option{devserver.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))}, srvOpts...)
		env.devsrv = devserver.New(srvOpts...)
		ts := httptest.NewServer(env.devsrv)
		t.Cleanup(ts.Close)
		env.baseURL = ts.URL
		fmt.Fprintf(&cfg, "remote:\n  base_url: %s\n  timeout: 5s\n", ts.URL)
	}
	cfg.WriteString(extraYAML)

	env.config = filepath.Join(env.dir, "fieldsync.yaml")
	require.NoError(t, os.WriteFile(env.config, []byte(cfg.String()), 0o644))
	return env
}

func (e *testEnv) path(name string) string {
	return filepath.Join(e.dir, name)
}

func (e *testEnv) writeFile(t *testing.T, name, body string) string {
	t.Helper()
	p := e.path(name)
	require.NoError(t, os.WriteFile(p, []byte(body), 0o644))
	return p
}

// run executes the root command with --config set and returns stdout.
func (e *testEnv) run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCommand()
	out := &bytes.Buffer{}
	cmd.SetOut(out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(append([]string{"--config", e.config}, args...))
	err := cmd.Execute()
	return out.String(), err
}

// runJSON executes a command with --format json and decodes the data field.
func (e *testEnv) runJSON(t *testing.T, data any, args ...string) error {
	t.Helper()
	out, err := e.run(t, append([]string{"--format", "json"}, args...)...)
	if out == "" {
		return err
	}

	var resp struct {
		Status string          `json:"status"`
		Data   json.RawMessage `json:"data"`
		Error  *CLIError       `json:"error"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp), "output: %s", out)
	if resp.Status == "ok" && data != nil {
		require.NoError(t, json.Unmarshal(resp.Data, data))
	}
	return err
}
