package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/google/uuid"
	"k8s.io/utils/clock"

	"curator/internal/execqueue"
	"curator/internal/logging"
	"curator/internal/metrics"
	"curator/internal/notifications"
	"curator/internal/services"
	"curator/internal/store"
)

// Orchestrator is the submission, cancellation and scheduling facade.
type Orchestrator struct {
	store     ExecutionStore
	datasets  DatasetChecker
	workflows WorkflowLookup
	queue     *execqueue.Queue
	clock     clock.Clock
	logger    *slog.Logger
	metrics   *metrics.Metrics
	notifier  notifications.Service
	opts      Options

	consumer *Consumer
	locks    *datasetLocks
	sweepMu  sync.Mutex
	// resumeMu serializes recovery with starting the consumer pool.
	resumeMu sync.Mutex
	// pendingFires holds triggers whose execution was submitted but whose
	// pointer date could not be moved. Guarded by sweepMu.
	pendingFires map[string]pendingFire

	mu      sync.Mutex
	baseCtx context.Context
	started bool
}

// New wires an orchestrator. It does not start any goroutines.
func New(deps Dependencies, opts Options) (*Orchestrator, error) {
	switch {
	case deps.Store == nil:
		return nil, errors.New("scheduler: store is required")
	case deps.Datasets == nil:
		return nil, errors.New("scheduler: dataset checker is required")
	case deps.Workflows == nil:
		return nil, errors.New("scheduler: workflow lookup is required")
	case deps.Backend == nil:
		return nil, errors.New("scheduler: backend is required")
	}
	if deps.Queue == nil {
		deps.Queue = execqueue.New()
	}
	if deps.Clock == nil {
		deps.Clock = clock.RealClock{}
	}
	if deps.Notifier == nil {
		deps.Notifier = notifications.Noop{}
	}
	logger := logging.NewComponentLogger(deps.Logger, "scheduler")
	opts = opts.normalized()

	o := &Orchestrator{
		store:     deps.Store,
		datasets:  deps.Datasets,
		workflows: deps.Workflows,
		queue:     deps.Queue,
		clock:     deps.Clock,
		logger:    logger,
		metrics:   deps.Metrics,
		notifier:  deps.Notifier,
		opts:      opts,
		locks:     newDatasetLocks(),
		baseCtx:   context.Background(),

		pendingFires: make(map[string]pendingFire),
	}
	o.consumer = newConsumer(consumerConfig{
		store:         deps.Store,
		queue:         deps.Queue,
		backend:       deps.Backend,
		clock:         deps.Clock,
		logger:        logging.NewComponentLogger(deps.Logger, "consumer"),
		metrics:       deps.Metrics,
		notifier:      deps.Notifier,
		workers:       opts.Workers,
		retryInterval: opts.ErrorRetryInterval,
	})
	return o, nil
}

// Start recovers executions interrupted by a previous process and starts the
// consumer pool. The pool stops when ctx is cancelled or Stop is called.
func (o *Orchestrator) Start(ctx context.Context) error {
	o.mu.Lock()
	if o.started {
		o.mu.Unlock()
		return errors.New("scheduler already started")
	}
	o.started = true
	o.baseCtx = ctx
	o.mu.Unlock()

	o.resumeMu.Lock()
	defer o.resumeMu.Unlock()
	if err := o.Recover(ctx); err != nil {
		o.mu.Lock()
		o.started = false
		o.mu.Unlock()
		return err
	}
	o.consumer.Start(ctx)
	return nil
}

// Stop halts the consumer pool and waits for workers to exit. Executions
// still running on the backend stay RUNNING and are recovered when the pool
// starts again.
func (o *Orchestrator) Stop() {
	o.consumer.Stop()
	o.mu.Lock()
	o.started = false
	o.mu.Unlock()
}

// Close stops the pool and closes the execution queue. The orchestrator
// cannot be started again afterwards.
func (o *Orchestrator) Close() {
	o.Stop()
	o.queue.Close()
}

// resume starts a stopped consumer pool, first requeueing executions a
// previous pool left RUNNING. It reports whether the pool was started.
func (o *Orchestrator) resume(ctx context.Context) bool {
	o.resumeMu.Lock()
	defer o.resumeMu.Unlock()
	if o.consumer.Running() {
		return false
	}
	if err := o.Recover(ctx); err != nil {
		logging.WarnWithContext(o.logger, "recovery before consumer restart failed", "consumer_recover_failed",
			logging.Error(err),
			logging.String(logging.FieldImpact, "executions left running stay detached until the next restart"),
			logging.String(logging.FieldErrorHint, "check database access"),
		)
	}
	o.mu.Lock()
	base := o.baseCtx
	o.mu.Unlock()
	return o.consumer.EnsureRunning(base)
}

// Consumer exposes the dispatch pool.
func (o *Orchestrator) Consumer() *Consumer {
	return o.consumer
}

// Recover resets executions left RUNNING to INQUEUE, cancels those with a
// pending cancellation, and enqueues every INQUEUE execution.
func (o *Orchestrator) Recover(ctx context.Context) error {
	now := o.clock.Now().UTC()
	requeued, cancelled, err := o.store.RequeueInterrupted(ctx, now)
	if err != nil {
		return fmt.Errorf("recover executions: %w", err)
	}
	active, err := o.store.ListActiveExecutions(ctx)
	if err != nil {
		return fmt.Errorf("recover executions: %w", err)
	}
	enqueued := 0
	for _, rec := range active {
		if rec.Status != store.StatusInQueue {
			continue
		}
		if o.queue.Enqueue(rec.ID, rec.Priority, rec.CreatedAt) {
			enqueued++
		}
	}
	o.metrics.SetQueueDepth(o.queue.Len())
	if requeued > 0 || cancelled > 0 || enqueued > 0 {
		o.logger.Info("recovered executions",
			logging.Int("requeued", requeued),
			logging.Int("cancelled", cancelled),
			logging.Int("enqueued", enqueued),
			logging.String(logging.FieldEventType, "executions_recovered"),
		)
	}
	return nil
}

// Submit creates an INQUEUE execution of owner/workflowName for datasetID.
func (o *Orchestrator) Submit(ctx context.Context, datasetID, owner, workflowName string, priority int) (string, error) {
	datasetID = strings.TrimSpace(datasetID)
	if err := o.requireDataset(ctx, "submit", datasetID); err != nil {
		o.metrics.Submission(metrics.ResultRejected)
		return "", err
	}
	def, err := o.requireWorkflow(ctx, "submit", owner, workflowName)
	if err != nil {
		o.metrics.Submission(metrics.ResultRejected)
		return "", err
	}
	return o.persistAndEnqueue(ctx, datasetID, def, priority)
}

// SubmitDefinition creates an execution from an already resolved definition.
// The active execution check runs before the dataset check; the workflow
// lookup is skipped.
func (o *Orchestrator) SubmitDefinition(ctx context.Context, datasetID string, def *store.WorkflowDefinition, priority int) (string, error) {
	datasetID = strings.TrimSpace(datasetID)
	if def == nil || len(def.Steps) == 0 {
		o.metrics.Submission(metrics.ResultRejected)
		return "", services.Wrap(services.ErrInvalidWorkflow, "submit definition", "definition has no steps", nil)
	}
	existing, found, err := o.store.ActiveExecutionForDataset(ctx, datasetID)
	if err != nil {
		return "", fmt.Errorf("submit definition: %w", err)
	}
	if found {
		o.metrics.Submission(metrics.ResultRejected)
		return "", services.Wrap(services.ErrExecutionAlreadyExists, "submit definition",
			fmt.Sprintf("dataset %s already has execution %s", datasetID, existing), nil)
	}
	if err := o.requireDataset(ctx, "submit definition", datasetID); err != nil {
		o.metrics.Submission(metrics.ResultRejected)
		return "", err
	}
	return o.persistAndEnqueue(ctx, datasetID, def, priority)
}

func (o *Orchestrator) persistAndEnqueue(ctx context.Context, datasetID string, def *store.WorkflowDefinition, priority int) (string, error) {
	release := o.locks.Lock(datasetID)
	defer release()

	now := o.clock.Now().UTC()
	rec := &store.ExecutionRecord{
		ID:           uuid.NewString(),
		DatasetID:    datasetID,
		Owner:        def.Owner,
		WorkflowName: def.Name,
		Priority:     priority,
		Status:       store.StatusInQueue,
		CreatedAt:    now,
		UpdatedAt:    now,
		Steps:        snapshotSteps(def),
	}
	if err := o.store.CreateExecution(ctx, rec); err != nil {
		if errors.Is(err, services.ErrExecutionAlreadyExists) {
			o.metrics.Submission(metrics.ResultRejected)
			return "", err
		}
		return "", fmt.Errorf("submit: %w", err)
	}
	o.queue.Enqueue(rec.ID, rec.Priority, rec.CreatedAt)
	o.metrics.Submission(metrics.ResultAccepted)
	o.metrics.SetQueueDepth(o.queue.Len())

	o.logger.Info("execution submitted",
		logging.String(logging.FieldExecutionID, rec.ID),
		logging.String(logging.FieldDatasetID, datasetID),
		logging.String(logging.FieldWorkflow, def.Owner+"/"+def.Name),
		logging.Int("priority", priority),
		logging.Int("steps", len(rec.Steps)),
		logging.String(logging.FieldEventType, "execution_submitted"),
	)
	o.publish(ctx, rec, notifications.EventSubmitted, "")
	return rec.ID, nil
}

func snapshotSteps(def *store.WorkflowDefinition) []store.StepState {
	steps := make([]store.StepState, len(def.Steps))
	for i, cfg := range def.Steps {
		steps[i] = store.StepState{
			Kind:           cfg.Kind,
			Status:         store.StatusInQueue,
			RequestedOrder: i,
			Parameters:     cfg.Parameters,
		}
	}
	return steps
}

// Cancel cancels the active execution of datasetID. A queued execution is
// cancelled immediately. A running one is flagged and cancelled once the
// backend acknowledges.
func (o *Orchestrator) Cancel(ctx context.Context, datasetID string) error {
	datasetID = strings.TrimSpace(datasetID)
	release := o.locks.Lock(datasetID)
	defer release()

	rec, err := o.store.FindRunningOrQueued(ctx, datasetID)
	if err != nil {
		return fmt.Errorf("cancel: %w", err)
	}
	if rec == nil {
		return services.Wrap(services.ErrExecutionNotFound, "cancel", "no queued or running execution for dataset "+datasetID, nil)
	}
	logger := o.logger.With(
		logging.String(logging.FieldExecutionID, rec.ID),
		logging.String(logging.FieldDatasetID, datasetID),
	)

	if rec.Status == store.StatusInQueue {
		removed := o.queue.RemoveByID(rec.ID)
		o.metrics.SetQueueDepth(o.queue.Len())
		ok, err := o.store.CancelQueued(ctx, rec.ID, o.clock.Now().UTC())
		if err != nil {
			if removed {
				o.queue.Enqueue(rec.ID, rec.Priority, rec.CreatedAt)
				o.metrics.SetQueueDepth(o.queue.Len())
			}
			return fmt.Errorf("cancel: %w", err)
		}
		if ok {
			o.metrics.Cancellation(string(store.StatusInQueue))
			o.metrics.Completed(string(store.StatusCancelled), 0)
			logger.Info("queued execution cancelled", logging.String(logging.FieldEventType, "execution_cancelled"))
			rec.Status = store.StatusCancelled
			o.publish(ctx, rec, notifications.EventCancelled, "")
			return nil
		}
		// a worker picked it up in the meantime
	}

	flagged, err := o.store.RequestCancel(ctx, rec.ID)
	if err != nil {
		return fmt.Errorf("cancel: %w", err)
	}
	if !flagged {
		// reached a terminal status on its own
		return nil
	}
	o.metrics.Cancellation(string(store.StatusRunning))
	forwarded := o.consumer.RequestCancel(rec.ID)
	logger.Info("cancellation requested",
		logging.Bool("forwarded", forwarded),
		logging.String(logging.FieldEventType, "execution_cancel_requested"),
	)
	return nil
}

// Reconcile makes sure the consumer pool is running and returns the subset of
// candidateIDs that are still queued or running. It never fails; on store
// errors it returns what it could confirm.
func (o *Orchestrator) Reconcile(ctx context.Context, candidateIDs []string) []string {
	if o.resume(ctx) {
		o.logger.Info("consumer restarted by reconcile", logging.String(logging.FieldEventType, "consumer_restarted"))
	}

	remaining, err := o.store.RemoveCompletedFrom(ctx, candidateIDs, o.opts.MonitorInterval)
	if err != nil {
		logging.WarnWithContext(o.logger, "reconcile returned a partial result", "reconcile_partial",
			logging.Error(err),
			logging.Int("candidates", len(candidateIDs)),
			logging.Int("confirmed", len(remaining)),
			logging.String(logging.FieldErrorHint, "retry on the next poll"),
		)
	}
	if remaining == nil {
		remaining = []string{}
	}
	return remaining
}

// Execution returns one execution record.
func (o *Orchestrator) Execution(ctx context.Context, id string) (*store.ExecutionRecord, error) {
	rec, err := o.store.GetExecution(ctx, strings.TrimSpace(id))
	if err != nil {
		return nil, fmt.Errorf("get execution: %w", err)
	}
	if rec == nil {
		return nil, services.Wrap(services.ErrExecutionNotFound, "get execution", "id "+id, nil)
	}
	return rec, nil
}

// Executions lists execution records matching filter.
func (o *Orchestrator) Executions(ctx context.Context, filter store.ExecutionFilter) ([]*store.ExecutionRecord, error) {
	return o.store.ListExecutions(ctx, filter)
}

// StatusSummary is a point-in-time view of the scheduler.
type StatusSummary struct {
	ConsumerRunning bool
	Workers         int
	QueueDepth      int
	Queued          []execqueue.Entry
	InFlight        []string
	Health          store.HealthSummary
	LastError       string
}

// Status reports consumer, queue and store state.
func (o *Orchestrator) Status(ctx context.Context) (StatusSummary, error) {
	health, err := o.store.Health(ctx)
	if err != nil {
		return StatusSummary{}, fmt.Errorf("status: %w", err)
	}
	summary := StatusSummary{
		ConsumerRunning: o.consumer.Running(),
		Workers:         o.opts.Workers,
		QueueDepth:      o.queue.Len(),
		Queued:          o.queue.Snapshot(),
		InFlight:        o.consumer.InFlight(),
		Health:          health,
	}
	if lastErr := o.consumer.LastError(); lastErr != nil {
		summary.LastError = lastErr.Error()
	}
	return summary, nil
}

func (o *Orchestrator) requireDataset(ctx context.Context, op, datasetID string) error {
	if datasetID == "" {
		return services.Wrap(services.ErrDatasetNotFound, op, "dataset id is required", nil)
	}
	exists, err := o.datasets.DatasetExists(ctx, datasetID)
	if err != nil {
		return fmt.Errorf("%s: check dataset: %w", op, err)
	}
	if !exists {
		return services.Wrap(services.ErrDatasetNotFound, op, "dataset "+datasetID, nil)
	}
	return nil
}

func (o *Orchestrator) requireWorkflow(ctx context.Context, op, owner, name string) (*store.WorkflowDefinition, error) {
	def, err := o.workflows.Get(ctx, owner, name)
	if err != nil {
		return nil, fmt.Errorf("%s: lookup workflow: %w", op, err)
	}
	if def == nil {
		return nil, services.Wrap(services.ErrWorkflowNotFound, op, fmt.Sprintf("workflow %s/%s", owner, name), nil)
	}
	return def, nil
}

func (o *Orchestrator) publish(ctx context.Context, rec *store.ExecutionRecord, event notifications.Event, detail string) {
	publishEvent(ctx, o.notifier, o.logger, o.clock, rec, event, "", detail)
}
