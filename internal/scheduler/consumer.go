package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"k8s.io/utils/clock"

	"curator/internal/backend"
	"curator/internal/execqueue"
	"curator/internal/logging"
	"curator/internal/metrics"
	"curator/internal/notifications"
	"curator/internal/services"
	"curator/internal/store"
)

const disconnectMessage = "backend stopped reporting before the execution finished"

type consumerConfig struct {
	store         ExecutionStore
	queue         *execqueue.Queue
	backend       backend.Backend
	clock         clock.Clock
	logger        *slog.Logger
	metrics       *metrics.Metrics
	notifier      notifications.Service
	workers       int
	retryInterval time.Duration
}

// Consumer is the worker pool that moves queued executions through the backend.
type Consumer struct {
	cfg consumerConfig

	mu       sync.Mutex
	running  bool
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	inflight map[string]*slot
	lastErr  error
}

// slot tracks one execution a worker has taken off the queue.
type slot struct {
	handle          backend.Handle
	cancelRequested bool
}

func newConsumer(cfg consumerConfig) *Consumer {
	if cfg.workers <= 0 {
		cfg.workers = 1
	}
	if cfg.notifier == nil {
		cfg.notifier = notifications.Noop{}
	}
	if cfg.logger == nil {
		cfg.logger = logging.NewNop()
	}
	return &Consumer{cfg: cfg, inflight: make(map[string]*slot)}
}

// Start launches the workers. Calling Start on a running consumer is a no-op.
func (c *Consumer) Start(ctx context.Context) {
	c.EnsureRunning(ctx)
}

// EnsureRunning starts the workers when they are not running and reports
// whether it did.
func (c *Consumer) EnsureRunning(ctx context.Context) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running {
		return false
	}
	if ctx == nil || ctx.Err() != nil {
		ctx = context.Background()
	}
	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.running = true
	c.wg.Add(c.cfg.workers)
	for i := 0; i < c.cfg.workers; i++ {
		go c.work(runCtx, i)
	}
	return true
}

// Stop cancels the workers and waits for them to return.
func (c *Consumer) Stop() {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return
	}
	cancel := c.cancel
	c.mu.Unlock()

	cancel()
	c.wg.Wait()

	// running stays set until every worker has returned
	c.mu.Lock()
	c.running = false
	c.cancel = nil
	c.mu.Unlock()
}

// Running reports whether the workers are active.
func (c *Consumer) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

// InFlight returns the ids of executions held by workers, sorted.
func (c *Consumer) InFlight() []string {
	c.mu.Lock()
	ids := make([]string, 0, len(c.inflight))
	for id := range c.inflight {
		ids = append(ids, id)
	}
	c.mu.Unlock()
	sort.Strings(ids)
	return ids
}

// LastError returns the most recent store error seen by a worker.
func (c *Consumer) LastError() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

// RequestCancel forwards a cancellation to the backend for an execution held
// by a worker. When dispatch has not returned yet the request is remembered
// and sent as soon as the handle exists. It reports false when no worker
// holds id.
func (c *Consumer) RequestCancel(id string) bool {
	c.mu.Lock()
	s, ok := c.inflight[id]
	if !ok {
		c.mu.Unlock()
		return false
	}
	s.cancelRequested = true
	handle := s.handle
	c.mu.Unlock()

	if handle != nil {
		c.cancelHandle(id, handle)
	}
	return true
}

func (c *Consumer) work(ctx context.Context, worker int) {
	defer c.wg.Done()
	logger := c.cfg.logger.With(logging.Int("worker", worker))
	for {
		entry, err := c.cfg.queue.Take(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, execqueue.ErrClosed) {
				return
			}
			continue
		}
		c.cfg.metrics.SetQueueDepth(c.cfg.queue.Len())
		if err := c.process(ctx, logger, entry); err != nil {
			if ctx.Err() != nil {
				return
			}
			c.setLastError(err)
			logger.Error("execution processing failed",
				logging.String(logging.FieldExecutionID, entry.ID),
				logging.Error(err),
				logging.String(logging.FieldEventType, "execution_process_failed"),
				logging.String(logging.FieldErrorHint, "check database access; the execution is retried"),
			)
			c.retryLater(ctx, entry)
		}
	}
}

// retryLater puts entry back after the retry interval so a transient store
// failure does not strand an INQUEUE record.
func (c *Consumer) retryLater(ctx context.Context, entry execqueue.Entry) {
	select {
	case <-ctx.Done():
		return
	case <-c.cfg.clock.After(c.cfg.retryInterval):
	}
	c.cfg.queue.Enqueue(entry.ID, entry.Priority, entry.CreatedAt)
}

func (c *Consumer) process(ctx context.Context, logger *slog.Logger, entry execqueue.Entry) error {
	c.register(entry.ID)
	defer c.unregister(entry.ID)

	logger = logger.With(logging.String(logging.FieldExecutionID, entry.ID))
	ctx = services.WithExecutionID(ctx, entry.ID)

	rec, err := c.cfg.store.GetExecution(ctx, entry.ID)
	if err != nil {
		return fmt.Errorf("load execution: %w", err)
	}
	if rec == nil || rec.Status != store.StatusInQueue {
		logger.Debug("skipping execution that is no longer queued")
		return nil
	}
	logger = logger.With(logging.String(logging.FieldDatasetID, rec.DatasetID))
	ctx = services.WithDatasetID(ctx, rec.DatasetID)

	if rec.Cancelling || c.cancelRequested(rec.ID) {
		return c.cancelUndispatched(ctx, logger, rec)
	}

	now := c.cfg.clock.Now().UTC()
	ok, err := c.cfg.store.MarkRunning(ctx, rec.ID, now)
	if err != nil {
		return fmt.Errorf("mark running: %w", err)
	}
	if !ok {
		rec, err = c.cfg.store.GetExecution(ctx, entry.ID)
		if err != nil {
			return fmt.Errorf("reload execution: %w", err)
		}
		if rec != nil && rec.Status == store.StatusInQueue && rec.Cancelling {
			return c.cancelUndispatched(ctx, logger, rec)
		}
		logger.Debug("execution changed before dispatch")
		return nil
	}
	rec.Status = store.StatusRunning
	rec.StartedAt = &now
	rec.UpdatedAt = now

	handle, err := c.cfg.backend.Dispatch(ctx, rec.ID, stepSpecs(rec))
	if err != nil {
		logging.ErrorWithContext(logger, "backend dispatch failed", "execution_dispatch_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check the backend; the execution was cancelled"),
		)
		c.abort(rec, -1, fmt.Sprintf("dispatch: %v", err))
		return c.finish(ctx, logger, rec, notifications.EventCancelled, "")
	}
	logger.Info("execution dispatched",
		logging.String(logging.FieldWorkflow, rec.Owner+"/"+rec.WorkflowName),
		logging.Int("steps", len(rec.Steps)),
		logging.String(logging.FieldEventType, "execution_started"),
	)
	publishEvent(ctx, c.cfg.notifier, logger, c.cfg.clock, rec, notifications.EventStarted, "", "")

	if c.attach(rec.ID, handle) {
		c.cancelHandle(rec.ID, handle)
	}
	c.cfg.metrics.RunningDelta(1)
	defer c.cfg.metrics.RunningDelta(-1)
	return c.follow(ctx, logger, rec, handle)
}

// follow applies backend events until a terminal one arrives or the stream
// closes. A cancelled ctx leaves the record RUNNING for recovery.
func (c *Consumer) follow(ctx context.Context, logger *slog.Logger, rec *store.ExecutionRecord, handle backend.Handle) error {
	events := handle.Events()
	for {
		select {
		case <-ctx.Done():
			logger.Info("consumer stopping with execution in flight",
				logging.String(logging.FieldEventType, "execution_detached"),
			)
			return nil
		case ev, ok := <-events:
			if !ok {
				logging.WarnWithContext(logger, "backend stream closed without a terminal event", "execution_backend_disconnect",
					logging.String(logging.FieldImpact, "execution cancelled; running step marked failed"),
					logging.String(logging.FieldErrorHint, "resubmit once the backend is healthy"),
				)
				c.abort(rec, runningStep(rec), disconnectMessage)
				return c.finish(ctx, logger, rec, notifications.EventCancelled, "")
			}
			event, step := c.apply(rec, ev)
			if ev.Type.Terminal() {
				if ev.Type == backend.EventStepFailed {
					logger.Warn("step failed",
						logging.String(logging.FieldStep, step),
						logging.Error(ev.Err),
						logging.String(logging.FieldEventType, "step_failed"),
						logging.String(logging.FieldImpact, "remaining steps cancelled"),
					)
				}
				return c.finish(ctx, logger, rec, event, step)
			}
			if err := c.cfg.store.SaveProgress(ctx, rec); err != nil {
				logging.WarnWithContext(logger, "failed to save step progress", "execution_progress_failed",
					logging.Error(err),
					logging.String(logging.FieldErrorHint, "check database access"),
				)
			}
		}
	}
}

// apply folds ev into rec and returns the lifecycle event to publish when ev
// is terminal.
func (c *Consumer) apply(rec *store.ExecutionRecord, ev backend.Event) (notifications.Event, string) {
	at := ev.At
	if at.IsZero() {
		at = c.cfg.clock.Now()
	}
	at = at.UTC()
	rec.UpdatedAt = at

	var step *store.StepState
	if ev.StepIndex >= 0 && ev.StepIndex < len(rec.Steps) {
		step = &rec.Steps[ev.StepIndex]
	}
	stepName := ""
	if step != nil {
		stepName = string(step.Kind)
	}

	switch ev.Type {
	case backend.EventStepStarted:
		if step != nil {
			step.Status = store.StatusRunning
			step.StartedAt = &at
		}
	case backend.EventStepFinished:
		if step != nil {
			applyCounts(step, ev)
			step.Status = store.StatusFinished
			step.FinishedAt = &at
		}
	case backend.EventStepFailed:
		if step != nil {
			applyCounts(step, ev)
			if ev.Counts.Failed == 0 {
				step.RecordsFailed++
			}
			step.Status = store.StatusFailed
			step.FinishedAt = &at
			if ev.Err != nil {
				step.ErrorMessage = ev.Err.Error()
			}
			c.cfg.metrics.StepFailed(stepName)
		}
		rec.CancelCascade(at)
		return notifications.EventStepFailed, stepName
	case backend.EventCompleted:
		rec.Status = store.StatusFinished
		rec.FinishedAt = &at
		return notifications.EventFinished, ""
	case backend.EventCancelled:
		rec.CancelCascade(at)
		return notifications.EventCancelled, ""
	}
	return "", stepName
}

func applyCounts(step *store.StepState, ev backend.Event) {
	step.RecordsProcessed = ev.Counts.Processed
	step.RecordsCreated = ev.Counts.Created
	step.RecordsUpdated = ev.Counts.Updated
	step.RecordsDeleted = ev.Counts.Deleted
	step.RecordsFailed += ev.Counts.Failed
	if len(ev.Counts.FailedRecordIDs) > 0 {
		step.FailedRecordIDs = append(step.FailedRecordIDs, ev.Counts.FailedRecordIDs...)
	}
}

// abort marks step index failed with message (when index is valid) and
// cancels the rest of the execution.
func (c *Consumer) abort(rec *store.ExecutionRecord, index int, message string) {
	now := c.cfg.clock.Now().UTC()
	if index >= 0 && index < len(rec.Steps) {
		step := &rec.Steps[index]
		step.Status = store.StatusFailed
		step.FinishedAt = &now
		step.ErrorMessage = message
	} else if len(rec.Steps) > 0 {
		rec.Steps[0].ErrorMessage = message
	}
	rec.CancelCascade(now)
}

func (c *Consumer) cancelUndispatched(ctx context.Context, logger *slog.Logger, rec *store.ExecutionRecord) error {
	rec.CancelCascade(c.cfg.clock.Now().UTC())
	return c.finish(ctx, logger, rec, notifications.EventCancelled, "")
}

func (c *Consumer) finish(ctx context.Context, logger *slog.Logger, rec *store.ExecutionRecord, event notifications.Event, step string) error {
	// terminal writes must land even while the pool shuts down
	writeCtx := context.WithoutCancel(ctx)
	ok, err := c.persistTerminal(ctx, writeCtx, logger, rec)
	if err != nil {
		return err
	}
	if !ok {
		logger.Debug("execution already terminal")
		return nil
	}
	var elapsed time.Duration
	if rec.StartedAt != nil && rec.FinishedAt != nil {
		elapsed = rec.FinishedAt.Sub(*rec.StartedAt)
	}
	c.cfg.metrics.Completed(string(rec.Status), elapsed)
	logger.Info("execution finished",
		logging.String("status", string(rec.Status)),
		logging.Duration("elapsed", elapsed),
		logging.String(logging.FieldEventType, "execution_finished"),
	)
	errMsg := ""
	if step != "" {
		for _, s := range rec.Steps {
			if string(s.Kind) == step && s.Status == store.StatusFailed {
				errMsg = s.ErrorMessage
				break
			}
		}
	}
	publishEvent(writeCtx, c.cfg.notifier, logger, c.cfg.clock, rec, event, step, errMsg)
	return nil
}

// persistTerminal retries the terminal write until it lands. It gives up only
// when the pool stops; the record then stays RUNNING and is requeued by the
// next recovery.
func (c *Consumer) persistTerminal(ctx, writeCtx context.Context, logger *slog.Logger, rec *store.ExecutionRecord) (bool, error) {
	for attempt := 1; ; attempt++ {
		ok, err := c.cfg.store.FinishExecution(writeCtx, rec)
		if err == nil {
			return ok, nil
		}
		c.setLastError(err)
		logging.WarnWithContext(logger, "failed to save terminal status", "execution_finish_retry",
			logging.String("status", string(rec.Status)),
			logging.Int("attempt", attempt),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check database access; the write is retried"),
		)
		select {
		case <-ctx.Done():
			return false, fmt.Errorf("finish execution: %w", err)
		case <-c.cfg.clock.After(c.cfg.retryInterval):
		}
	}
}

func (c *Consumer) register(id string) {
	c.mu.Lock()
	c.inflight[id] = &slot{}
	c.mu.Unlock()
}

func (c *Consumer) unregister(id string) {
	c.mu.Lock()
	delete(c.inflight, id)
	c.mu.Unlock()
}

func (c *Consumer) cancelRequested(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.inflight[id]
	return ok && s.cancelRequested
}

// attach records the dispatched handle and reports whether a cancellation
// arrived while dispatch was in progress.
func (c *Consumer) attach(id string, handle backend.Handle) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.inflight[id]
	if !ok {
		return false
	}
	s.handle = handle
	return s.cancelRequested
}

func (c *Consumer) cancelHandle(id string, handle backend.Handle) {
	if err := c.cfg.backend.Cancel(handle); err != nil {
		logging.WarnWithContext(c.cfg.logger, "backend cancel failed", "execution_cancel_failed",
			logging.String(logging.FieldExecutionID, id),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "the execution stays cancelling until the backend acknowledges"),
		)
	}
}

func (c *Consumer) setLastError(err error) {
	c.mu.Lock()
	c.lastErr = err
	c.mu.Unlock()
}

func stepSpecs(rec *store.ExecutionRecord) []backend.StepSpec {
	specs := make([]backend.StepSpec, len(rec.Steps))
	for i, step := range rec.Steps {
		specs[i] = backend.StepSpec{Index: i, Kind: step.Kind, Parameters: step.Parameters}
	}
	return specs
}

func runningStep(rec *store.ExecutionRecord) int {
	for i, step := range rec.Steps {
		if step.Status == store.StatusRunning {
			return i
		}
	}
	return -1
}

func publishEvent(ctx context.Context, n notifications.Service, logger *slog.Logger, clk clock.PassiveClock, rec *store.ExecutionRecord, event notifications.Event, step, errMsg string) {
	if n == nil || event == "" {
		return
	}
	msg := notifications.Message{
		Event:        event,
		ExecutionID:  rec.ID,
		DatasetID:    rec.DatasetID,
		Owner:        rec.Owner,
		WorkflowName: rec.WorkflowName,
		Status:       string(rec.Status),
		Step:         step,
		Error:        errMsg,
		At:           clk.Now().UTC(),
	}
	if err := n.Publish(ctx, msg); err != nil {
		logger.Debug("lifecycle event not published", logging.Error(err))
	}
}
