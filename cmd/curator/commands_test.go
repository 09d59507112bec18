package main

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"curator/internal/api"
	"curator/internal/services"
)

const indexWorkflowYAML = `owner: tester
name: index
steps:
  - kind: HTTP_HARVEST
    parameters:
      url: ["https://example.org/feed"]
  - kind: VALIDATION_EXTERNAL
  - kind: PUBLISH
`

func TestWorkflowApplyCreatesThenUpdates(t *testing.T) {
	env := setupCLITestEnv(t)
	path := writeFile(t, env.baseDir, "index.yaml", indexWorkflowYAML)

	out, err := env.run(t, "workflow", "apply", path)
	require.NoError(t, err)
	assert.Contains(t, out, "created tester/index")

	out, err = env.run(t, "workflow", "apply", path)
	require.NoError(t, err)
	assert.Contains(t, out, "updated tester/index")

	out, err = env.run(t, "workflow", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "HTTP_HARVEST → VALIDATION_EXTERNAL → PUBLISH")

	out, err = env.run(t, "workflow", "show", "tester/index")
	require.NoError(t, err)
	assert.Contains(t, out, "kind: VALIDATION_EXTERNAL")
	assert.Contains(t, out, "https://example.org/feed")

	out, err = env.run(t, "workflow", "delete", "tester/index")
	require.NoError(t, err)
	assert.Contains(t, out, "deleted tester/index")

	_, err = env.run(t, "workflow", "show", "tester/index")
	assert.True(t, errors.Is(err, services.ErrWorkflowNotFound), "got %v", err)
}

func TestSubmitShowAndList(t *testing.T) {
	env := setupCLITestEnv(t)
	path := writeFile(t, env.baseDir, "index.yaml", indexWorkflowYAML)
	_, err := env.run(t, "workflow", "apply", path)
	require.NoError(t, err)
	_, err = env.run(t, "dataset", "register", "ds1", "--name", "Example")
	require.NoError(t, err)

	out, err := env.run(t, "--json", "submit", "ds1", "tester/index", "--priority", "3")
	require.NoError(t, err)
	var resp api.SubmitResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	require.NotEmpty(t, resp.ExecutionID)

	require.Eventually(t, func() bool {
		out, err := env.run(t, "--json", "show", resp.ExecutionID)
		if err != nil {
			return false
		}
		var exec api.Execution
		return json.Unmarshal([]byte(out), &exec) == nil && exec.Status == "FINISHED"
	}, 5*time.Second, 25*time.Millisecond)

	out, err = env.run(t, "show", resp.ExecutionID)
	require.NoError(t, err)
	assert.Contains(t, out, "Status:     FINISHED")
	assert.Contains(t, out, "VALIDATION_EXTERNAL")

	out, err = env.run(t, "list", "--dataset", "ds1")
	require.NoError(t, err)
	assert.Contains(t, out, resp.ExecutionID)
	assert.Contains(t, out, "tester/index")

	out, err = env.run(t, "reconcile", resp.ExecutionID)
	require.NoError(t, err)
	assert.Contains(t, out, "All executions completed")

	_, err = env.run(t, "cancel", "ds1")
	assert.True(t, errors.Is(err, services.ErrExecutionNotFound), "got %v", err)

	_, err = env.run(t, "submit", "ds9", "tester/index")
	assert.True(t, errors.Is(err, services.ErrDatasetNotFound), "got %v", err)
}

func TestScheduleCommands(t *testing.T) {
	env := setupCLITestEnv(t)
	path := writeFile(t, env.baseDir, "index.yaml", indexWorkflowYAML)
	_, err := env.run(t, "workflow", "apply", path)
	require.NoError(t, err)
	_, err = env.run(t, "dataset", "register", "ds1")
	require.NoError(t, err)

	out, err := env.run(t, "schedule", "set", "ds1", "tester/index", "--start", "2031-05-01", "--frequency", "monthly")
	require.NoError(t, err)
	assert.Contains(t, out, "MONTHLY tester/index on ds1 next at 2031-05-01T00:00:00.000Z")

	_, err = env.run(t, "schedule", "set", "ds1", "tester/index", "--start", "2031-05-01", "--frequency", "daily")
	assert.True(t, errors.Is(err, services.ErrScheduledTriggerAlreadyExists), "got %v", err)

	out, err = env.run(t, "schedule", "update", "ds1", "tester/index", "--start", "2031-06-01", "--frequency", "weekly")
	require.NoError(t, err)
	assert.Contains(t, out, "WEEKLY")

	out, err = env.run(t, "schedule", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "2031-06-01T00:00:00.000Z")

	_, err = env.run(t, "schedule", "delete", "ds1")
	require.NoError(t, err)
	out, err = env.run(t, "schedule", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "No schedules")
}

func TestStatusCommand(t *testing.T) {
	env := setupCLITestEnv(t)
	out, err := env.run(t, "status")
	require.NoError(t, err)
	assert.Contains(t, out, "running (pid")
	assert.Contains(t, out, "1 workers")
	assert.Contains(t, out, "== Scheduler ==")
	assert.NotContains(t, out, "\x1b[")
}

func TestDatasetDeleteUnknown(t *testing.T) {
	env := setupCLITestEnv(t)
	_, err := env.run(t, "dataset", "delete", "nope")
	assert.True(t, errors.Is(err, services.ErrDatasetNotFound), "got %v", err)
}

func TestConfigInit(t *testing.T) {
	target := filepath.Join(t.TempDir(), "nested", "config.toml")

	out, err := runCLI(t, "config", "init", "--path", target)
	require.NoError(t, err)
	assert.Contains(t, out, target)
	raw, err := os.ReadFile(target)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "[scheduler]")

	_, err = runCLI(t, "config", "init", "--path", target)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--overwrite")

	_, err = runCLI(t, "config", "init", "--path", target, "--overwrite")
	require.NoError(t, err)

	out, err = runCLI(t, "--config", target, "config", "validate")
	require.NoError(t, err)
	assert.Contains(t, out, "Configuration valid")
}

func TestSplitWorkflowRef(t *testing.T) {
	cases := []struct {
		in          string
		owner, name string
		ok          bool
	}{
		{"tester/index", "tester", "index", true},
		{" team a / nightly ", "team a", "nightly", true},
		{"index", "", "", false},
		{"/index", "", "", false},
		{"tester/", "", "", false},
	}
	for _, tc := range cases {
		owner, name, err := splitWorkflowRef(tc.in)
		if tc.ok {
			require.NoError(t, err, tc.in)
			assert.Equal(t, tc.owner, owner)
			assert.Equal(t, tc.name, name)
		} else {
			assert.Error(t, err, tc.in)
		}
	}
}

func TestRenderStatusFlagsStoppedConsumer(t *testing.T) {
	var b strings.Builder
	renderStatus(&b, api.DaemonStatus{
		Running: true,
		PID:     42,
		Scheduler: api.SchedulerStatus{
			Workers:   2,
			Counts:    map[string]int{"FINISHED": 3},
			LastError: "store unavailable",
		},
		Checks: []api.CheckResult{{Name: "Kafka brokers", Passed: false, Optional: true, Detail: "dial refused"}},
		Steps:  []api.StepHealth{{Kind: "PUBLISH", Ready: true}, {Kind: "ENRICHMENT", Ready: false}},
	}, false)
	out := b.String()
	assert.Contains(t, out, "[WARN] not running")
	assert.Contains(t, out, "finished 3")
	assert.Contains(t, out, "[WARN] store unavailable")
	assert.Contains(t, out, "[WARN] dial refused")
	assert.Contains(t, out, "unavailable: ENRICHMENT")
}

func TestCurrentStep(t *testing.T) {
	exec := api.Execution{Steps: []api.Step{
		{Kind: "HTTP_HARVEST", Status: "FINISHED"},
		{Kind: "PUBLISH", Status: "RUNNING"},
	}}
	assert.Equal(t, "PUBLISH", currentStep(exec))
	exec.Steps[1].Status = "INQUEUE"
	assert.Equal(t, "HTTP_HARVEST", currentStep(exec))
}

func TestLogsCommandFiltersByExecution(t *testing.T) {
	logDir := t.TempDir()
	configPath := writeFile(t, t.TempDir(), "config.toml",
		"[paths]\ndata_dir = \""+filepath.Join(logDir, "data")+"\"\nlog_dir = \""+logDir+"\"\n")
	writeFile(t, logDir, "curator.log", strings.Join([]string{
		`{"ts":"2026-10-19T08:00:00Z","level":"info","msg":"execution started","execution_id":"e1"}`,
		`{"ts":"2026-10-19T08:00:01Z","level":"info","msg":"execution started","execution_id":"e2"}`,
		`{"ts":"2026-10-19T08:00:02Z","level":"error","msg":"step failed","component":"consumer","execution_id":"e1"}`,
	}, "\n")+"\n")

	out, err := runCLI(t, "--config", configPath, "logs", "--execution", "e1")
	require.NoError(t, err)
	assert.Contains(t, out, "INFO  execution started execution_id=e1")
	assert.Contains(t, out, "ERROR [consumer] step failed execution_id=e1")
	assert.NotContains(t, out, "e2")

	out, err = runCLI(t, "--config", configPath, "logs", "--level", "error", "--json")
	require.NoError(t, err)
	assert.Equal(t, `{"ts":"2026-10-19T08:00:02Z","level":"error","msg":"step failed","component":"consumer","execution_id":"e1"}`+"\n", out)
}
