package cli

import (
	"fmt"

	"github.com/harun/warden/internal/daemon"
	"github.com/harun/warden/internal/logger"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:     "serve",
	Aliases: []string{"start"},
	Short:   "Run the warden daemon",
	Long: `Run the warden daemon in the foreground until SIGINT or SIGTERM.
The daemon serves Prometheus metrics, runs scheduled cleanup of evicted
results and reloads tool policies when the config file changes.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, loader, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	if daemon.NewLifecycleManager(cfg.PIDFile, nopLogger()).IsRunning() {
		return fmt.Errorf("daemon is already running (PID file: %s)", cfg.PIDFile)
	}

	log, err := logger.New(logger.FromLoggingConfig(cfg.Logging))
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer log.Close()

	d, err := daemon.New(cfg, log, daemon.WithConfigLoader(loader))
	if err != nil {
		return err
	}
	if err := d.Start(); err != nil {
		return err
	}

	d.Wait()
	return nil
}
