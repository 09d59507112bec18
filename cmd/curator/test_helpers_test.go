package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/pelletier/go-toml/v2"
	"k8s.io/utils/clock"

	"curator/internal/backend"
	"curator/internal/config"
	"curator/internal/daemon"
	"curator/internal/logging"
	"curator/internal/metrics"
	"curator/internal/plugin"
	"curator/internal/scheduler"
	"curator/internal/testsupport"
	"curator/internal/workflows"
)

type cliTestEnv struct {
	cfg        *config.Config
	daemon     *daemon.Daemon
	configPath string
	baseDir    string
}

func setupCLITestEnv(t *testing.T) *cliTestEnv {
	t.Helper()

	base := t.TempDir()
	t.Setenv("HOME", base)
	cfg := testsupport.NewConfig(t)

	logger := logging.NewNop()
	st := testsupport.MustOpenStore(t, cfg)
	plugins := plugin.NewPassthroughRegistry()
	local := backend.NewLocal(plugins, nil, logger)
	t.Cleanup(local.Close)
	registry := workflows.NewRegistry(st)
	m := metrics.New()

	orch, err := scheduler.New(scheduler.Dependencies{
		Store:     st,
		Datasets:  st,
		Workflows: registry,
		Backend:   local,
		Logger:    logger,
		Metrics:   m,
	}, scheduler.Options{MonitorInterval: cfg.MonitorInterval()})
	if err != nil {
		t.Fatalf("scheduler.New: %v", err)
	}
	sweeper, err := scheduler.NewSweeper(orch, cfg.Scheduler.SweepSchedule, clock.RealClock{}, logger)
	if err != nil {
		t.Fatalf("NewSweeper: %v", err)
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
		t.Fatalf("daemon.New: %v", err)
	}
	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("daemon.Start: %v", err)
	}
	t.Cleanup(d.Stop)

	// Point the CLI at the port the daemon actually bound.
	cliCfg := *cfg
	cliCfg.Paths.APIBind = d.APIAddress()
	raw, err := toml.Marshal(cliCfg)
	if err != nil {
		t.Fatalf("marshal config: %v", err)
	}
	configPath := filepath.Join(base, "config.toml")
	if err := os.WriteFile(configPath, raw, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	return &cliTestEnv{cfg: cfg, daemon: d, configPath: configPath, baseDir: base}
}

func (e *cliTestEnv) run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	return runCLI(t, append([]string{"--config", e.configPath}, args...)...)
}

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCommand()
	var buf bytes.Buffer
	cmd.SetOut(&buf)
	cmd.SetErr(&buf)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return buf.String(), err
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}
