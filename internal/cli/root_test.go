package cli

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCommand(t *testing.T) {
	cmd := NewRootCommand()
	require.NotNil(t, cmd)
	assert.Equal(t, "fieldsync", cmd.Use)
	assert.Contains(t, cmd.Long, "queues them")
}

func TestCommandPresence(t *testing.T) {
	cmd := NewRootCommand()
	commands := []string{"capture", "queue", "sync", "status", "correct", "watch", "devserver"}

	for _, cmdName := range commands {
		t.Run(cmdName, func(t *testing.T) {
			subCmd, _, err := cmd.Find([]string{cmdName})
			require.NoError(t, err, "Command %s should exist", cmdName)
			require.NotNil(t, subCmd)
			assert.Equal(t, cmdName, subCmd.Name())
		})
	}
}

func TestGlobalFlags(t *testing.T) {
	cmd := NewRootCommand()

	verboseFlag := cmd.PersistentFlags().Lookup("verbose")
	require.NotNil(t, verboseFlag)
	assert.Equal(t, "v", verboseFlag.Shorthand)
	assert.Equal(t, "false", verboseFlag.DefValue)

	formatFlag := cmd.PersistentFlags().Lookup("format")
	require.NotNil(t, formatFlag)
	assert.Equal(t, "text", formatFlag.DefValue)

	configFlag := cmd.PersistentFlags().Lookup("config")
	require.NotNil(t, configFlag)
	assert.Equal(t, "c", configFlag.Shorthand)

	require.NotNil(t, cmd.PersistentFlags().Lookup("db"))
}

func TestCaptureCommandFlags(t *testing.T) {
	cmd := NewRootCommand()
	captureCmd, _, err := cmd.Find([]string{"capture"})
	require.NoError(t, err)

	fieldFlag := captureCmd.Flags().Lookup("field")
	require.NotNil(t, fieldFlag)
	assert.Equal(t, "f", fieldFlag.Shorthand)

	attachFlag := captureCmd.Flags().Lookup("attach")
	require.NotNil(t, attachFlag)
	assert.Equal(t, "a", attachFlag.Shorthand)
}

func TestWatchCommandFlags(t *testing.T) {
	cmd := NewRootCommand()
	watchCmd, _, err := cmd.Find([]string{"watch"})
	require.NoError(t, err)

	retryFlag := watchCmd.Flags().Lookup("retry-every")
	require.NotNil(t, retryFlag)
	assert.Equal(t, "5m0s", retryFlag.DefValue)
}

func TestInvalidFormat(t *testing.T) {
	isolateEnv(t)
	cmd := NewRootCommand()
	cmd.SetArgs([]string{"--format", "xml", "status"})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "invalid format")
}

func TestCaptureRequiresCollection(t *testing.T) {
	env := newTestEnv(t, false, "")
	_, err := env.run(t, "capture", "--field", "unit=4B")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "collection")
}
