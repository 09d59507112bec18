package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"

	"curator/internal/config"
	"curator/internal/logging"
	"curator/internal/metrics"
	"curator/internal/plugin"
	"curator/internal/preflight"
	"curator/internal/scheduler"
	"curator/internal/store"
	"curator/internal/workflows"
)

// Dependencies are the collaborators a daemon coordinates.
type Dependencies struct {
	Config       *config.Config
	Store        *store.Store
	Orchestrator *scheduler.Orchestrator
	Sweeper      *scheduler.Sweeper
	Workflows    *workflows.Registry
	Plugins      *plugin.Registry
	Metrics      *metrics.Metrics
	Logger       *slog.Logger
}

// Daemon coordinates the background services and enforces single-instance execution.
type Daemon struct {
	cfg       *config.Config
	logger    *slog.Logger
	store     *store.Store
	scheduler *scheduler.Orchestrator
	sweeper   *scheduler.Sweeper
	workflows *workflows.Registry
	plugins   *plugin.Registry
	metrics   *metrics.Metrics
	api       *apiServer

	lockPath string
	lock     *flock.Flock

	checksMu sync.Mutex
	checks   []preflight.Result

	running atomic.Bool
	ctx     context.Context
	cancel  context.CancelFunc
}

// Status represents daemon runtime information.
type Status struct {
	Running      bool
	PID          int
	DatabasePath string
	LockFilePath string
	EventsTarget string
	Scheduler    scheduler.StatusSummary
	LastSweep    time.Time
	Checks       []preflight.Result
	Steps        []plugin.Health
}

// New constructs a daemon with initialized dependencies.
func New(deps Dependencies) (*Daemon, error) {
	if deps.Config == nil || deps.Store == nil || deps.Orchestrator == nil || deps.Workflows == nil {
		return nil, errors.New("daemon requires config, store, scheduler, and workflow registry")
	}
	logger := deps.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	lockPath := deps.Config.LockPath()
	d := &Daemon{
		cfg:       deps.Config,
		logger:    logging.NewComponentLogger(logger, "daemon"),
		store:     deps.Store,
		scheduler: deps.Orchestrator,
		sweeper:   deps.Sweeper,
		workflows: deps.Workflows,
		plugins:   deps.Plugins,
		metrics:   deps.Metrics,
		lockPath:  lockPath,
		lock:      flock.New(lockPath),
	}
	d.api = newAPIServer(deps.Config, d, logger)
	return d, nil
}

// Start acquires the daemon lock, runs preflight checks and launches the
// scheduler, the sweeper and the API server.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another curator daemon instance is already running")
	}

	results := preflight.RunAll(ctx, d.cfg)
	d.checksMu.Lock()
	d.checks = results
	d.checksMu.Unlock()
	for _, r := range results {
		if !r.Passed {
			d.logger.Warn("preflight check failed",
				logging.String("check", r.Name),
				logging.String("detail", r.Detail),
				logging.Bool("optional", r.Optional),
			)
		}
	}
	if failed := preflight.Failed(results); len(failed) > 0 {
		_ = d.lock.Unlock()
		names := make([]string, 0, len(failed))
		for _, r := range failed {
			names = append(names, r.Name+": "+r.Detail)
		}
		return fmt.Errorf("preflight failed: %s", strings.Join(names, "; "))
	}

	d.ctx, d.cancel = context.WithCancel(ctx)
	if err := d.scheduler.Start(d.ctx); err != nil {
		d.abortStart()
		return fmt.Errorf("start scheduler: %w", err)
	}
	if d.sweeper != nil {
		if err := d.sweeper.Start(d.ctx); err != nil {
			d.scheduler.Stop()
			d.abortStart()
			return fmt.Errorf("start sweeper: %w", err)
		}
	}
	if err := d.api.start(d.ctx); err != nil {
		if d.sweeper != nil {
			d.sweeper.Stop()
		}
		d.scheduler.Stop()
		d.abortStart()
		return err
	}

	d.running.Store(true)
	d.logger.Info("curator daemon started",
		logging.String("lock", d.lockPath),
		logging.String("database", d.store.Path()),
		logging.String("api", d.APIAddress()),
	)
	return nil
}

func (d *Daemon) abortStart() {
	_ = d.lock.Unlock()
	d.cancel()
	d.ctx = nil
	d.cancel = nil
}

// Stop stops background processing and releases the daemon lock. Executions
// still running are left RUNNING and get requeued on the next start.
func (d *Daemon) Stop() {
	if !d.running.Load() {
		return
	}

	d.api.stop()
	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	if d.sweeper != nil {
		d.sweeper.Stop()
	}
	d.scheduler.Stop()
	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("failed to release daemon lock", logging.Error(err))
	}
	d.ctx = nil
	d.running.Store(false)
	d.logger.Info("curator daemon stopped")
}

// Close releases resources held by the daemon.
func (d *Daemon) Close() error {
	d.Stop()
	d.scheduler.Close()
	if d.store != nil {
		return d.store.Close()
	}
	return nil
}

// APIAddress returns the address the API server listens on, or the
// configured bind before Start.
func (d *Daemon) APIAddress() string {
	return d.api.address()
}

// Status returns the current daemon status.
func (d *Daemon) Status(ctx context.Context) (Status, error) {
	summary, err := d.scheduler.Status(ctx)
	if err != nil {
		return Status{}, err
	}
	d.checksMu.Lock()
	checks := append([]preflight.Result(nil), d.checks...)
	d.checksMu.Unlock()

	status := Status{
		Running:      d.running.Load(),
		PID:          os.Getpid(),
		DatabasePath: d.store.Path(),
		LockFilePath: d.lockPath,
		EventsTarget: eventsTarget(d.cfg),
		Scheduler:    summary,
		Checks:       checks,
		Steps:        d.plugins.Health(ctx),
	}
	if d.sweeper != nil {
		status.LastSweep = d.sweeper.LastRun()
	}
	return status, nil
}

func eventsTarget(cfg *config.Config) string {
	if !cfg.EventsEnabled() {
		return "log"
	}
	return "kafka://" + strings.Join(cfg.Events.KafkaBrokers, ",") + "/" + cfg.Events.KafkaTopic
}
