package daemonrun

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/google/uuid"
	"k8s.io/utils/clock"

	"curator/internal/backend"
	"curator/internal/config"
	"curator/internal/daemon"
	"curator/internal/logging"
	"curator/internal/metrics"
	"curator/internal/notifications"
	"curator/internal/plugin"
	"curator/internal/scheduler"
	"curator/internal/store"
	"curator/internal/workflows"
)

// Options configures daemon process runtime behavior.
type Options struct {
	LogLevel    string
	Development bool
}

// Run starts the curator daemon and blocks until SIGINT/SIGTERM or ctx ends.
func Run(cmdCtx context.Context, cfg *config.Config, opts Options) error {
	if cfg == nil {
		return fmt.Errorf("config is required")
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return err
	}

	signalCtx, cancel := signal.NotifyContext(cmdCtx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	level := cfg.Logging.Level
	if opts.LogLevel != "" {
		level = opts.LogLevel
	}
	logger, err := logging.New(logging.Options{
		Level:       level,
		Format:      cfg.Logging.Format,
		FilePath:    cfg.LogFilePath(),
		Development: opts.Development,
	})
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	logger = logger.With(logging.String("session_id", uuid.NewString()))
	logConfigSnapshot(logger, cfg)

	pidPath := filepath.Join(cfg.Paths.DataDir, "curatord.pid")
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}
	defer os.Remove(pidPath)

	st, err := store.Open(cfg)
	if err != nil {
		logger.Error("open execution store", logging.Error(err))
		return err
	}

	plugins := plugin.NewPassthroughRegistry()
	local := backend.NewLocal(plugins, clock.RealClock{}, logger)
	defer local.Close()

	notifier := notifications.NewService(cfg, logger)
	defer func() {
		if err := notifier.Close(); err != nil {
			logger.Warn("close event publisher", logging.Error(err))
		}
	}()

	m := metrics.New()
	registry := workflows.NewRegistry(st)
	orch, err := scheduler.New(scheduler.Dependencies{
		Store:     st,
		Datasets:  st,
		Workflows: registry,
		Backend:   local,
		Clock:     clock.RealClock{},
		Logger:    logger,
		Metrics:   m,
		Notifier:  notifier,
	}, scheduler.Options{
		Workers:            cfg.Scheduler.ConsumerWorkers,
		MonitorInterval:    cfg.MonitorInterval(),
		ErrorRetryInterval: cfg.ErrorRetryInterval(),
	})
	if err != nil {
		_ = st.Close()
		return fmt.Errorf("create scheduler: %w", err)
	}
	sweeper, err := scheduler.NewSweeper(orch, cfg.Scheduler.SweepSchedule, clock.RealClock{}, logger)
	if err != nil {
		_ = st.Close()
		return fmt.Errorf("create sweeper: %w", err)
	}

	d, err := daemon.New(daemon.Dependencies{
		Config:       cfg,
		Store:        st,
		Orchestrator: orch,
		Sweeper:      sweeper,
		Workflows:    registry,
		Plugins:      plugins,
		Metrics:      m,
		Logger:       logger,
	})
	if err != nil {
		_ = st.Close()
		return fmt.Errorf("create daemon: %w", err)
	}

	if err := d.Start(signalCtx); err != nil {
		logging.ErrorWithContext(logger, "daemon start failed", "daemon_start_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check configuration, directory permissions and whether another daemon holds the lock"),
		)
		_ = d.Close()
		return err
	}

	<-signalCtx.Done()
	logger.Info("curator daemon shutting down")
	closeWithTimeout(logger, d, cfg.ShutdownTimeout())
	return nil
}

// closeWithTimeout stops the daemon, giving up after timeout. Executions still
// running are requeued on the next start.
func closeWithTimeout(logger *slog.Logger, d *daemon.Daemon, timeout time.Duration) {
	done := make(chan error, 1)
	go func() { done <- d.Close() }()
	select {
	case err := <-done:
		if err != nil {
			logger.Warn("daemon close", logging.Error(err))
		}
	case <-time.After(timeout):
		logging.WarnWithContext(logger, "shutdown timed out", "shutdown_timeout",
			logging.Duration("timeout", timeout),
			logging.String(logging.FieldImpact, "running executions will be requeued on next start"),
		)
	}
}

func writePIDFile(path string) error {
	if path == "" {
		return nil
	}
	value := strconv.Itoa(os.Getpid()) + "\n"
	return os.WriteFile(path, []byte(value), 0o644)
}

func logConfigSnapshot(logger *slog.Logger, cfg *config.Config) {
	logger.Info("configuration snapshot",
		logging.String(logging.FieldEventType, "config_snapshot"),
		logging.String("data_dir", cfg.Paths.DataDir),
		logging.String("api_bind", cfg.Paths.APIBind),
		logging.Bool("api_token_set", cfg.Paths.APIToken != ""),
		logging.Int("consumer_workers", cfg.Scheduler.ConsumerWorkers),
		logging.String("sweep_schedule", cfg.Scheduler.SweepSchedule),
		logging.Bool("events_enabled", cfg.EventsEnabled()),
		logging.String("events_topic", cfg.Events.KafkaTopic),
	)
}
