package cli

import (
	"fmt"
	"os"
	"syscall"
	"time"

	"github.com/harun/warden/internal/daemon"
	"github.com/spf13/cobra"
)

var (
	stopTimeout int
)

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the warden daemon",
	Long: `Stop the warden daemon gracefully.
Sends SIGTERM to the daemon and waits for it to shut down.`,
	RunE: runStop,
}

func init() {
	stopCmd.Flags().IntVar(&stopTimeout, "timeout", 30, "timeout in seconds to wait for daemon to stop")
	rootCmd.AddCommand(stopCmd)
}

func runStop(cmd *cobra.Command, args []string) error {
	cfg, _, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()

	lm := daemon.NewLifecycleManager(cfg.PIDFile, nopLogger())
	if !lm.IsRunning() {
		fmt.Fprintln(out, "Daemon is not running")
		return nil
	}

	pid, err := daemon.SignalProcess(cfg.PIDFile, syscall.SIGTERM)
	if err != nil {
		return fmt.Errorf("failed to send SIGTERM: %w", err)
	}

	// Wait for process to stop with timeout
	deadline := time.Now().Add(time.Duration(stopTimeout) * time.Second)
	for time.Now().Before(deadline) {
		if !lm.IsRunning() {
			fmt.Fprintln(out, "Daemon stopped successfully")
			return nil
		}
		time.Sleep(100 * time.Millisecond)
	}

	// Force kill if timeout
	fmt.Fprintln(out, "Timeout reached, sending SIGKILL...")

	if _, err := daemon.SignalProcess(cfg.PIDFile, syscall.SIGKILL); err != nil {
		return fmt.Errorf("failed to send SIGKILL to %d: %w", pid, err)
	}

	os.Remove(cfg.PIDFile)
	fmt.Fprintln(out, "Daemon killed")
	return nil
}
