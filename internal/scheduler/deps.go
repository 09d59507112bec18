package scheduler

import (
	"context"
	"log/slog"
	"time"

	"k8s.io/utils/clock"

	"curator/internal/backend"
	"curator/internal/execqueue"
	"curator/internal/metrics"
	"curator/internal/notifications"
	"curator/internal/store"
)

// DatasetChecker answers whether a dataset exists.
type DatasetChecker interface {
	DatasetExists(ctx context.Context, id string) (bool, error)
}

// WorkflowLookup resolves workflow definitions by owner and name. A missing
// definition is reported as (nil, nil).
type WorkflowLookup interface {
	Get(ctx context.Context, owner, name string) (*store.WorkflowDefinition, error)
}

// ExecutionStore is the persistence the scheduler drives.
type ExecutionStore interface {
	ActiveExecutionForDataset(ctx context.Context, datasetID string) (string, bool, error)
	CreateExecution(ctx context.Context, rec *store.ExecutionRecord) error
	GetExecution(ctx context.Context, id string) (*store.ExecutionRecord, error)
	FindRunningOrQueued(ctx context.Context, datasetID string) (*store.ExecutionRecord, error)
	ListActiveExecutions(ctx context.Context) ([]*store.ExecutionRecord, error)
	ListExecutions(ctx context.Context, filter store.ExecutionFilter) ([]*store.ExecutionRecord, error)
	RemoveCompletedFrom(ctx context.Context, candidateIDs []string, interval time.Duration) ([]string, error)

	MarkRunning(ctx context.Context, id string, at time.Time) (bool, error)
	RequestCancel(ctx context.Context, id string) (bool, error)
	CancelQueued(ctx context.Context, id string, at time.Time) (bool, error)
	SaveProgress(ctx context.Context, rec *store.ExecutionRecord) error
	FinishExecution(ctx context.Context, rec *store.ExecutionRecord) (bool, error)
	RequeueInterrupted(ctx context.Context, at time.Time) (int, int, error)

	CreateTrigger(ctx context.Context, trig *store.ScheduledTrigger) error
	UpdateTrigger(ctx context.Context, trig *store.ScheduledTrigger) error
	DeleteTrigger(ctx context.Context, datasetID string) error
	TriggerForDataset(ctx context.Context, datasetID string) (*store.ScheduledTrigger, error)
	ListTriggers(ctx context.Context, includeInactive bool) ([]*store.ScheduledTrigger, error)
	DueTriggers(ctx context.Context, now time.Time) ([]*store.ScheduledTrigger, error)
	AdvanceTrigger(ctx context.Context, id string, expected, next, firedAt time.Time, executionID string) (bool, error)
	DeactivateTrigger(ctx context.Context, id string, expected, firedAt time.Time, executionID string) (bool, error)

	Health(ctx context.Context) (store.HealthSummary, error)
}

var _ ExecutionStore = (*store.Store)(nil)

// Dependencies are the collaborators an Orchestrator is built from. Store,
// Datasets, Workflows and Backend are required.
type Dependencies struct {
	Store     ExecutionStore
	Datasets  DatasetChecker
	Workflows WorkflowLookup
	Queue     *execqueue.Queue
	Backend   backend.Backend
	Clock     clock.Clock
	Logger    *slog.Logger
	Metrics   *metrics.Metrics
	Notifier  notifications.Service
}

// Options tune the orchestrator.
type Options struct {
	// Workers is the consumer pool size. Defaults to 1.
	Workers int
	// MonitorInterval bounds reconciliation queries.
	MonitorInterval time.Duration
	// ErrorRetryInterval is how long a worker backs off after a store error.
	ErrorRetryInterval time.Duration
}

const (
	defaultMonitorInterval    = 5 * time.Second
	defaultErrorRetryInterval = 10 * time.Second
)

func (o Options) normalized() Options {
	if o.Workers <= 0 {
		o.Workers = 1
	}
	if o.MonitorInterval <= 0 {
		o.MonitorInterval = defaultMonitorInterval
	}
	if o.ErrorRetryInterval <= 0 {
		o.ErrorRetryInterval = defaultErrorRetryInterval
	}
	return o
}
