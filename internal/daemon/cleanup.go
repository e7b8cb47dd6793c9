package daemon

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/harun/warden/internal/config"
	"github.com/harun/warden/internal/tracing"
	"github.com/harun/warden/pkg/eviction"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// cronLogger adapts zerolog to cron.Logger.
type cronLogger struct {
	logger zerolog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug().Fields(keysAndValues).Msg(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error().Err(err).Fields(keysAndValues).Msg(msg)
}

// CleanupScheduler periodically deletes evicted artifacts older than MaxAge.
type CleanupScheduler struct {
	cron    *cron.Cron
	evictor *eviction.Manager
	logger  zerolog.Logger

	mu      sync.Mutex
	cfg     config.CleanupConfig
	entry   cron.EntryID
	last    eviction.CleanupReport
	lastRun time.Time
}

// NewCleanupScheduler validates the schedule and registers the cleanup job.
// Overlapping runs are skipped.
func NewCleanupScheduler(evictor *eviction.Manager, cfg config.CleanupConfig, logger zerolog.Logger) (*CleanupScheduler, error) {
	logger = logger.With().Str("component", "cleanup").Logger()
	cl := cronLogger{logger: logger}

	s := &CleanupScheduler{
		evictor: evictor,
		logger:  logger,
		cfg:     cfg,
	}
	s.cron = cron.New(
		cron.WithParser(cron.NewParser(cron.Minute|cron.Hour|cron.Dom|cron.Month|cron.Dow|cron.Descriptor)),
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)

	id, err := s.cron.AddFunc(cfg.Schedule, func() {
		if _, err := s.Run(context.Background()); err != nil {
			s.logger.Error().Err(err).Msg("Scheduled cleanup failed")
		}
	})
	if err != nil {
		return nil, fmt.Errorf("invalid cleanup schedule %q: %w", cfg.Schedule, err)
	}
	s.entry = id

	return s, nil
}

// Start begins running the schedule in the background.
func (s *CleanupScheduler) Start() {
	s.cron.Start()
	s.logger.Info().
		Str("schedule", s.config().Schedule).
		Time("next_run", s.NextRun()).
		Msg("Cleanup scheduler started")
}

// Stop stops the schedule and waits for a running job until ctx is done.
func (s *CleanupScheduler) Stop(ctx context.Context) {
	done := s.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
		s.logger.Warn().Msg("Timeout waiting for cleanup job to finish")
	}
}

// Run performs one cleanup pass immediately.
func (s *CleanupScheduler) Run(ctx context.Context) (eviction.CleanupReport, error) {
	cfg := s.config()

	ctx = tracing.WithRunID(ctx, tracing.NewRunID())
	ctx, span := tracing.StartSpan(ctx, "cleanup.Run")
	defer span.End()

	start := time.Now()
	report, err := s.evictor.Cleanup(ctx, cfg.Prefix, cfg.MaxAge)
	if err != nil {
		span.RecordError(err)
		return report, err
	}

	s.mu.Lock()
	s.last = report
	s.lastRun = start
	s.mu.Unlock()

	s.logger.Debug().Dur("duration", time.Since(start)).Msg("Cleanup run complete")

	return report, nil
}

// SetRetention changes the prefix and max age used by later runs. The schedule
// itself is fixed for the scheduler's lifetime.
func (s *CleanupScheduler) SetRetention(prefix string, maxAge time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg.Prefix = prefix
	s.cfg.MaxAge = maxAge
}

// NextRun returns the next scheduled run, or the zero time before Start.
func (s *CleanupScheduler) NextRun() time.Time {
	return s.cron.Entry(s.entry).Next
}

// LastReport returns the most recent successful report and when it started.
func (s *CleanupScheduler) LastReport() (eviction.CleanupReport, time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last, s.lastRun
}

func (s *CleanupScheduler) config() config.CleanupConfig {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg
}
