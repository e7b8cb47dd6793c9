package daemon

import (
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLifecycleManagerStartStop(t *testing.T) {
	pidFile := filepath.Join(t.TempDir(), "nested", "warden.pid")
	lm := NewLifecycleManager(pidFile, zerolog.Nop())

	require.NoError(t, lm.Start())
	assert.FileExists(t, pidFile)
	assert.True(t, lm.IsRunning())

	pid, err := lm.GetPID()
	require.NoError(t, err)
	assert.Equal(t, os.Getpid(), pid)

	require.NoError(t, lm.Stop())
	assert.NoFileExists(t, pidFile)
	assert.False(t, lm.IsRunning())

	// Removing an absent PID file is not an error
	require.NoError(t, lm.Stop())
}

func TestLifecycleManagerReplacesStalePIDFile(t *testing.T) {
	pidFile := filepath.Join(t.TempDir(), "warden.pid")
	// PID 0 is never a valid daemon
	require.NoError(t, os.WriteFile(pidFile, []byte("0"), 0644))

	lm := NewLifecycleManager(pidFile, zerolog.Nop())
	require.NoError(t, lm.Start())

	pid, err := lm.GetPID()
	require.NoError(t, err)
	assert.Equal(t, os.Getpid(), pid)
}

func TestLifecycleManagerRefusesLiveProcess(t *testing.T) {
	pidFile := filepath.Join(t.TempDir(), "warden.pid")
	// The parent of the test binary is alive for the duration of the test.
	require.NoError(t, os.WriteFile(pidFile, []byte(strconv.Itoa(os.Getppid())), 0644))

	lm := NewLifecycleManager(pidFile, zerolog.Nop())
	err := lm.Start()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrAlreadyRunning)
}

func TestReadPIDFile(t *testing.T) {
	dir := t.TempDir()

	tests := []struct {
		name    string
		content string
		want    int
		wantErr bool
	}{
		{name: "plain", content: "1234", want: 1234},
		{name: "trailing newline", content: "1234\n", want: 1234},
		{name: "garbage", content: "abc", wantErr: true},
		{name: "negative", content: "-5", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(dir, tt.name)
			require.NoError(t, os.WriteFile(path, []byte(tt.content), 0644))

			pid, err := ReadPIDFile(path)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, pid)
		})
	}

	_, err := ReadPIDFile(filepath.Join(dir, "missing"))
	assert.True(t, os.IsNotExist(err))
}
