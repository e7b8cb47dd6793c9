package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/harun/warden/internal/config"
	"github.com/harun/warden/internal/logger"
	"github.com/harun/warden/internal/observability"
	"github.com/harun/warden/internal/tracing"
	"github.com/harun/warden/pkg/eviction"
	"github.com/harun/warden/pkg/harness"
)

// Daemon represents the warden service: a harness plus the background
// services around it.
type Daemon struct {
	config *config.Config
	logger *logger.Logger
	loader *config.Loader

	harness   *harness.Harness
	cleanup   *CleanupScheduler
	watcher   *config.Watcher
	lifecycle *LifecycleManager

	metricsServer   *http.Server
	metricsListener net.Listener

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	startTime time.Time
	running   bool
	mu        sync.RWMutex

	tracingEnabled bool
}

// Option configures a Daemon.
type Option func(*Daemon)

// WithConfigLoader enables hot reload of the file behind loader.
func WithConfigLoader(loader *config.Loader) Option {
	return func(d *Daemon) {
		d.loader = loader
	}
}

// New creates a new daemon instance
func New(cfg *config.Config, log *logger.Logger, opts ...Option) (*Daemon, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	observability.EnsureRegistered()

	ctx, cancel := context.WithCancel(context.Background())
	d := &Daemon{
		config:    cfg,
		logger:    log,
		ctx:       ctx,
		cancel:    cancel,
		lifecycle: NewLifecycleManager(cfg.PIDFile, log.GetZerolog()),
	}
	for _, opt := range opts {
		opt(d)
	}

	h, err := BuildHarness(cfg, log.Component("harness"))
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to build harness: %w", err)
	}
	d.harness = h

	if cfg.Cleanup.Enabled {
		sched, err := NewCleanupScheduler(h.Eviction(), cfg.Cleanup, log.GetZerolog())
		if err != nil {
			_ = h.Close()
			cancel()
			return nil, err
		}
		d.cleanup = sched
	}

	return d, nil
}

// Harness returns the harness served by the daemon.
func (d *Daemon) Harness() *harness.Harness {
	return d.harness
}

// Start starts the daemon
func (d *Daemon) Start() error {
	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		return fmt.Errorf("daemon is already running")
	}
	d.running = true
	d.startTime = time.Now()
	d.mu.Unlock()

	logger := d.logger.GetZerolog().With().Str("trace_id", tracing.NewTraceID()).Logger()
	logger.Info().Msg("Starting warden daemon")

	if err := d.lifecycle.Start(); err != nil {
		d.markStopped()
		return fmt.Errorf("failed to start lifecycle manager: %w", err)
	}

	if d.config.AuditFile != "" {
		if err := observability.InitAuditLogger(d.config.AuditFile); err != nil {
			logger.Warn().Err(err).Msg("Failed to open audit log, audit events are discarded")
		}
	}

	if d.config.Tracing.Enabled {
		if err := tracing.InitOpenTelemetry(d.config.Tracing.ServiceName); err != nil {
			logger.Warn().Err(err).Msg("Failed to initialize tracing, continuing without distributed tracing")
		} else {
			d.tracingEnabled = true
			logger.Info().Msg("Tracing initialized")
		}
	}

	if d.config.Metrics.Enabled {
		if err := d.startMetricsServer(); err != nil {
			_ = d.lifecycle.Stop()
			d.markStopped()
			return fmt.Errorf("failed to start metrics server: %w", err)
		}
		logger.Info().Str("addr", d.MetricsAddr()).Msg("Metrics server started")
	}

	if d.cleanup != nil {
		d.cleanup.Start()
	}

	if d.loader != nil {
		w, err := config.NewWatcher(d.loader, d.logger.GetZerolog(), d.applyConfig)
		if err != nil {
			logger.Warn().Err(err).Msg("Failed to watch config file, hot reload disabled")
		} else {
			d.watcher = w
			logger.Info().Str("path", d.loader.GetConfigPath()).Msg("Config watcher started")
		}
	}

	logger.Info().Msg("Warden daemon started")
	return nil
}

// Stop stops the daemon
func (d *Daemon) Stop() error {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return fmt.Errorf("daemon is not running")
	}
	d.running = false
	d.mu.Unlock()

	logger := d.logger.GetZerolog().With().Str("trace_id", tracing.NewTraceID()).Logger()
	logger.Info().Msg("Stopping warden daemon")

	if d.watcher != nil {
		if err := d.watcher.Stop(); err != nil {
			logger.Error().Err(err).Msg("Failed to stop config watcher")
		}
	}

	if d.cleanup != nil {
		stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		d.cleanup.Stop(stopCtx)
		cancel()
		logger.Info().Msg("Cleanup scheduler stopped")
	}

	if d.metricsServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := d.metricsServer.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("Failed to stop metrics server")
		}
		cancel()
	}

	d.cancel()

	// Wait for goroutines to finish (with timeout)
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		logger.Info().Msg("All goroutines stopped")
	case <-time.After(5 * time.Second):
		logger.Warn().Msg("Timeout waiting for goroutines to stop")
	}

	if err := d.harness.Close(); err != nil {
		logger.Error().Err(err).Msg("Failed to close harness")
	}

	if err := d.lifecycle.Stop(); err != nil {
		logger.Error().Err(err).Msg("Failed to stop lifecycle manager")
	}

	if d.tracingEnabled {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := tracing.ShutdownOpenTelemetry(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("Failed to shutdown tracing")
		}
		cancel()
		d.tracingEnabled = false
	}

	if err := observability.GetAuditLogger().Close(); err != nil {
		logger.Error().Err(err).Msg("Failed to close audit logger")
	}

	logger.Info().Msg("Daemon stopped successfully")

	return nil
}

// Status returns daemon status
func (d *Daemon) Status() Status {
	d.mu.RLock()
	defer d.mu.RUnlock()

	status := Status{
		Running:   d.running,
		StartTime: d.startTime,
		PID:       os.Getpid(),
		Harness:   d.harness.Stats(),
	}
	if d.running {
		status.Uptime = time.Since(d.startTime)
	}
	if d.cleanup != nil {
		status.NextCleanup = d.cleanup.NextRun()
		status.LastCleanup, status.LastCleanupAt = d.cleanup.LastReport()
	}
	return status
}

// Wait blocks until SIGINT or SIGTERM and then stops the daemon.
func (d *Daemon) Wait() {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	sig := <-sigChan
	d.logger.Info().Str("signal", sig.String()).Msg("Received signal")

	if err := d.Stop(); err != nil {
		d.logger.Error().Err(err).Msg("Failed to stop daemon")
	}
}

// RunCleanup performs an immediate artifact cleanup pass.
func (d *Daemon) RunCleanup(ctx context.Context) (eviction.CleanupReport, error) {
	if d.cleanup == nil {
		cfg := d.currentConfig()
		return d.harness.Eviction().Cleanup(ctx, cfg.Cleanup.Prefix, cfg.Cleanup.MaxAge)
	}
	return d.cleanup.Run(ctx)
}

func (d *Daemon) currentConfig() *config.Config {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.config
}

// MetricsAddr returns the bound metrics address, or "" when metrics are off.
func (d *Daemon) MetricsAddr() string {
	if d.metricsListener == nil {
		return ""
	}
	return d.metricsListener.Addr().String()
}

func (d *Daemon) startMetricsServer() error {
	ln, err := net.Listen("tcp", d.config.Metrics.Listen)
	if err != nil {
		return err
	}

	path := d.config.Metrics.Path
	if path == "" {
		path = "/metrics"
	}
	mux := http.NewServeMux()
	mux.Handle(path, observability.MetricsHandler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})
	mux.HandleFunc("/status", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(d.Status()); err != nil {
			d.logger.Warn().Err(err).Msg("Failed to encode status")
		}
	})

	d.metricsListener = ln
	d.metricsServer = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		if err := d.metricsServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			d.logger.Error().Err(err).Msg("Metrics server failed")
		}
	}()
	return nil
}

// applyConfig applies the reloadable parts of a new config: tool policies and
// cleanup retention. Storage, concurrency and listener changes need a restart.
func (d *Daemon) applyConfig(cfg *config.Config) {
	d.mu.Lock()
	prev := d.config
	d.config = cfg
	d.mu.Unlock()

	tools := cfg.Invoker.ToolConfigs()
	d.harness.Invoker().Configs().Replace(cfg.Invoker.DefaultTool, tools)

	if d.cleanup != nil {
		d.cleanup.SetRetention(cfg.Cleanup.Prefix, cfg.Cleanup.MaxAge)
	}

	var restart []string
	if prev.Invoker.MaxConcurrency != cfg.Invoker.MaxConcurrency {
		restart = append(restart, "invoker.max_concurrency")
	}
	if prev.Metrics != cfg.Metrics {
		restart = append(restart, "metrics")
	}
	if prev.Eviction.CharThreshold != cfg.Eviction.CharThreshold || prev.Eviction.PathPrefix != cfg.Eviction.PathPrefix {
		restart = append(restart, "eviction")
	}
	if prev.Cleanup.Schedule != cfg.Cleanup.Schedule || prev.Cleanup.Enabled != cfg.Cleanup.Enabled {
		restart = append(restart, "cleanup.schedule")
	}
	if len(restart) > 0 {
		d.logger.Warn().Strs("fields", restart).Msg("Config changes require a restart to take effect")
	}

	observability.RecordConfigAudit(d.ctx, "reload", "watcher", map[string]interface{}{
		"tools":            len(tools),
		"restart_required": restart,
	})
	d.logger.Info().Int("tools", len(tools)).Msg("Tool policies reloaded")
}

func (d *Daemon) markStopped() {
	d.mu.Lock()
	d.running = false
	d.mu.Unlock()
}

// Status represents daemon status
type Status struct {
	Running       bool                   `json:"running"`
	Uptime        time.Duration          `json:"uptime"`
	StartTime     time.Time              `json:"start_time"`
	PID           int                    `json:"pid"`
	Harness       harness.Stats          `json:"harness"`
	NextCleanup   time.Time              `json:"next_cleanup"`
	LastCleanup   eviction.CleanupReport `json:"last_cleanup"`
	LastCleanupAt time.Time              `json:"last_cleanup_at"`
}
