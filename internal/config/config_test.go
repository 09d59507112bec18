package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/pelletier/go-toml/v2"

	"curator/internal/config"
)

func TestLoadDefaultConfigExpandsPaths(t *testing.T) {
	tempHome := t.TempDir()
	t.Setenv("HOME", tempHome)

	cfg, resolved, exists, err := config.Load("")
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if resolved == "" {
		t.Fatal("expected resolved path")
	}
	if exists {
		t.Fatal("expected config file to be absent in temp HOME")
	}

	wantData := filepath.Join(tempHome, ".local", "share", "curator")
	if cfg.Paths.DataDir != wantData {
		t.Fatalf("unexpected data dir: got %q want %q", cfg.Paths.DataDir, wantData)
	}
	if cfg.Paths.LogDir != filepath.Join(wantData, "logs") {
		t.Fatalf("unexpected log dir: %q", cfg.Paths.LogDir)
	}
	if cfg.Paths.APIBind != "127.0.0.1:7610" {
		t.Fatalf("unexpected api bind: %q", cfg.Paths.APIBind)
	}
	if cfg.Scheduler.ConsumerWorkers != 1 {
		t.Fatalf("expected a single consumer worker by default, got %d", cfg.Scheduler.ConsumerWorkers)
	}
	if cfg.Scheduler.SweepSchedule != "@every 1m" {
		t.Fatalf("unexpected sweep schedule: %q", cfg.Scheduler.SweepSchedule)
	}
	if cfg.MonitorInterval() != 5*time.Second {
		t.Fatalf("unexpected monitor interval: %s", cfg.MonitorInterval())
	}
	if cfg.EventsEnabled() {
		t.Fatal("expected lifecycle events disabled by default")
	}
	if cfg.DatabasePath() != filepath.Join(wantData, "curator.db") {
		t.Fatalf("unexpected database path: %q", cfg.DatabasePath())
	}
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories failed: %v", err)
	}
	for _, dir := range []string{cfg.Paths.DataDir, cfg.Paths.LogDir} {
		info, err := os.Stat(dir)
		if err != nil {
			t.Fatalf("expected directory %q to exist: %v", dir, err)
		}
		if !info.IsDir() {
			t.Fatalf("expected %q to be directory", dir)
		}
	}
}

func TestLoadCustomPath(t *testing.T) {
	tempDir := t.TempDir()
	configPath := filepath.Join(tempDir, "curator.toml")

	type payload struct {
		Paths struct {
			DataDir string `toml:"data_dir"`
		} `toml:"paths"`
		Scheduler struct {
			ConsumerWorkers int    `toml:"consumer_workers"`
			MonitorInterval int    `toml:"monitor_interval"`
			SweepSchedule   string `toml:"sweep_schedule"`
		} `toml:"scheduler"`
		Events struct {
			KafkaBrokers []string `toml:"kafka_brokers"`
		} `toml:"events"`
	}
	custom := payload{}
	custom.Paths.DataDir = filepath.Join(tempDir, "data")
	custom.Scheduler.ConsumerWorkers = 3
	custom.Scheduler.MonitorInterval = 12
	custom.Scheduler.SweepSchedule = "*/5 * * * *"
	custom.Events.KafkaBrokers = []string{" broker-1:9092 ", ""}
	data, err := toml.Marshal(custom)
	if err != nil {
		t.Fatalf("marshal custom config: %v", err)
	}
	if err := os.WriteFile(configPath, data, 0o644); err != nil {
		t.Fatalf("write custom config: %v", err)
	}

	cfg, resolved, exists, err := config.Load(configPath)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if !exists {
		t.Fatal("expected exists to be true")
	}
	if resolved != configPath {
		t.Fatalf("unexpected resolved path: got %q want %q", resolved, configPath)
	}
	if cfg.Paths.DataDir != filepath.Join(tempDir, "data") {
		t.Fatalf("expected data dir override, got %q", cfg.Paths.DataDir)
	}
	if cfg.Scheduler.ConsumerWorkers != 3 {
		t.Fatalf("expected 3 workers, got %d", cfg.Scheduler.ConsumerWorkers)
	}
	if cfg.MonitorInterval() != 12*time.Second {
		t.Fatalf("expected monitor interval 12s, got %s", cfg.MonitorInterval())
	}
	if cfg.Scheduler.SweepSchedule != "*/5 * * * *" {
		t.Fatalf("unexpected sweep schedule %q", cfg.Scheduler.SweepSchedule)
	}
	if len(cfg.Events.KafkaBrokers) != 1 || cfg.Events.KafkaBrokers[0] != "broker-1:9092" {
		t.Fatalf("expected trimmed broker list, got %v", cfg.Events.KafkaBrokers)
	}
	if !cfg.EventsEnabled() {
		t.Fatal("expected events enabled when brokers are configured")
	}
}

func TestEnvOverridesAPIBind(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Setenv("CURATOR_API_BIND", "0.0.0.0:9000")

	cfg, _, _, err := config.Load("")
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Paths.APIBind != "0.0.0.0:9000" {
		t.Fatalf("expected env api bind, got %q", cfg.Paths.APIBind)
	}
}

func TestEnvSetsAPIToken(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Setenv("CURATOR_API_TOKEN", "  s3cret ")

	cfg, _, _, err := config.Load("")
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Paths.APIToken != "s3cret" {
		t.Fatalf("expected trimmed token, got %q", cfg.Paths.APIToken)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*config.Config)
		want   string
	}{
		{"workers", func(c *config.Config) { c.Scheduler.ConsumerWorkers = 99 }, "consumer_workers"},
		{"sweep", func(c *config.Config) { c.Scheduler.SweepSchedule = "every minute" }, "sweep_schedule"},
		{"format", func(c *config.Config) { c.Logging.Format = "xml" }, "logging.format"},
		{"level", func(c *config.Config) { c.Logging.Level = "trace" }, "logging.level"},
		{"data dir", func(c *config.Config) { c.Paths.DataDir = "" }, "data_dir"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := config.Default()
			tc.mutate(&cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("expected %q in error, got %v", tc.want, err)
			}
		})
	}
}

func TestCreateSampleIsLoadable(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	path := filepath.Join(t.TempDir(), "nested", "config.toml")
	if err := config.CreateSample(path); err != nil {
		t.Fatalf("CreateSample failed: %v", err)
	}
	cfg, _, exists, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load sample failed: %v", err)
	}
	if !exists {
		t.Fatal("expected sample file to exist")
	}
	if cfg.Logging.Format != "console" {
		t.Fatalf("unexpected sample log format %q", cfg.Logging.Format)
	}
}
