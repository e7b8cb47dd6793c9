package cli

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusStopped(t *testing.T) {
	path := writeConfig(t, `{"metrics": {"enabled": false}}`)

	output, err := execute(t, "", "status", "--config", path)
	require.NoError(t, err)
	assert.Equal(t, "Status: stopped\n", output)
}

func TestStopNotRunning(t *testing.T) {
	path := writeConfig(t, `{}`)

	output, err := execute(t, "", "stop", "--config", path)
	require.NoError(t, err)
	assert.Contains(t, output, "Daemon is not running")
}

func TestStopHelp(t *testing.T) {
	output, err := execute(t, "", "stop", "--help")
	require.NoError(t, err)
	assert.Contains(t, output, "Stop the warden daemon")
	assert.Contains(t, output, "timeout")
}

func TestFormatDuration(t *testing.T) {
	assert.Equal(t, "5s", formatDuration(5_400_000_000))
	assert.Equal(t, "2m3s", formatDuration(123_000_000_000))
	assert.Equal(t, "1h0m1s", formatDuration(3601_000_000_000))
}
