package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/harun/warden/internal/config"
	"github.com/harun/warden/internal/daemon"
	"github.com/harun/warden/pkg/circuitbreaker"
	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show daemon status",
	Long: `Show the current status of the warden daemon. When the metrics
endpoint is enabled, invoker, eviction and circuit counters are included.`,
	RunE: runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, _, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()

	lm := daemon.NewLifecycleManager(cfg.PIDFile, nopLogger())
	if !lm.IsRunning() {
		fmt.Fprintln(out, "Status: stopped")
		return nil
	}

	pid, err := lm.GetPID()
	if err != nil {
		return fmt.Errorf("failed to read PID file: %w", err)
	}
	fmt.Fprintf(out, "Status: running\n")
	fmt.Fprintf(out, "PID: %d\n", pid)

	if !cfg.Metrics.Enabled {
		return nil
	}

	status, err := fetchStatus(cfg.Metrics)
	if err != nil {
		fmt.Fprintf(out, "Details unavailable: %v\n", err)
		return nil
	}
	printStatus(out, status)
	return nil
}

func fetchStatus(mc config.MetricsConfig) (*daemon.Status, error) {
	client := &http.Client{Timeout: 3 * time.Second}
	resp, err := client.Get(fmt.Sprintf("http://%s/status", mc.Listen))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status endpoint returned %s", resp.Status)
	}
	var status daemon.Status
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return nil, fmt.Errorf("failed to decode status: %w", err)
	}
	return &status, nil
}

func printStatus(out io.Writer, s *daemon.Status) {
	fmt.Fprintf(out, "Uptime: %s\n", formatDuration(s.Uptime))
	fmt.Fprintf(out, "Sessions: %d\n", s.Harness.Sessions)

	inv := s.Harness.Invoker
	fmt.Fprintf(out, "Tool calls: %d (failed %d, retries %d)\n",
		inv.TotalExecutions, inv.TotalFailures, inv.TotalRetries)

	ev := s.Harness.Eviction
	fmt.Fprintf(out, "Evicted: %d of %d results (%d bytes)\n", ev.ResultsEvicted, ev.ResultsSeen, ev.BytesEvicted)

	for _, c := range s.Harness.Circuits {
		if c.State == circuitbreaker.StateOpen {
			fmt.Fprintf(out, "Circuit open: %s until %s\n", c.Tool, c.OpenedUntil.Format(time.RFC3339))
		}
	}
	if !s.NextCleanup.IsZero() {
		fmt.Fprintf(out, "Next cleanup: %s\n", s.NextCleanup.Format(time.RFC3339))
	}
}

func formatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	h := d / time.Hour
	d -= h * time.Hour
	m := d / time.Minute
	d -= m * time.Minute
	s := d / time.Second

	if h > 0 {
		return fmt.Sprintf("%dh%dm%ds", h, m, s)
	}
	if m > 0 {
		return fmt.Sprintf("%dm%ds", m, s)
	}
	return fmt.Sprintf("%ds", s)
}
