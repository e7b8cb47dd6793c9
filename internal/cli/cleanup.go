package cli

import (
	"fmt"
	"time"

	"github.com/harun/warden/internal/daemon"
	"github.com/spf13/cobra"
)

var (
	cleanupMaxAge time.Duration
	cleanupPrefix string
)

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Delete evicted results older than the retention age",
	Long: `Delete evicted tool results whose path timestamp is older than the
retention age. Paths without a timestamp suffix are never deleted.
Uses the cleanup section of the config unless overridden by flags.`,
	RunE: runCleanup,
}

func init() {
	cleanupCmd.Flags().DurationVar(&cleanupMaxAge, "max-age", 0, "retention age (default from config)")
	cleanupCmd.Flags().StringVar(&cleanupPrefix, "prefix", "", "path prefix to clean (default from config)")
	rootCmd.AddCommand(cleanupCmd)
}

func runCleanup(cmd *cobra.Command, args []string) error {
	cfg, _, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	log, err := commandLogger(cmd, cfg)
	if err != nil {
		return err
	}
	defer log.Close()

	h, err := daemon.BuildHarness(cfg, log.GetZerolog())
	if err != nil {
		return err
	}
	defer h.Close()

	maxAge := cfg.Cleanup.MaxAge
	if cleanupMaxAge > 0 {
		maxAge = cleanupMaxAge
	}
	prefix := cfg.Cleanup.Prefix
	if cleanupPrefix != "" {
		prefix = cleanupPrefix
	}

	report, err := h.Eviction().Cleanup(cmd.Context(), prefix, maxAge)
	if err != nil {
		return fmt.Errorf("cleanup failed: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Scanned: %d\nDeleted: %d\nSkipped: %d\n",
		report.Scanned, report.Deleted, report.Skipped)
	return nil
}
