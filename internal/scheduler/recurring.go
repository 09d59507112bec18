package scheduler

import (
	"context"
	"fmt"
	"strings"
	"time"

	"curator/internal/logging"
	"curator/internal/metrics"
	"curator/internal/notifications"
	"curator/internal/services"
	"curator/internal/store"
)

// nextPointer returns the pointer date after from for a recurring
// frequency. ONCE and unknown frequencies report false.
func nextPointer(freq store.Frequency, from time.Time) (time.Time, bool) {
	from = from.UTC()
	switch freq {
	case store.FrequencyDaily:
		return from.AddDate(0, 0, 1), true
	case store.FrequencyWeekly:
		return from.AddDate(0, 0, 7), true
	case store.FrequencyMonthly:
		return from.AddDate(0, 1, 0), true
	default:
		return time.Time{}, false
	}
}

func validateTriggerFields(op string, trig *store.ScheduledTrigger) error {
	if trig.PointerDate.IsZero() {
		return services.Wrap(services.ErrInvalidTrigger, op, "pointer date is required", nil)
	}
	if trig.Frequency == store.FrequencyNull {
		return services.Wrap(services.ErrInvalidTrigger, op, "frequency is required", nil)
	}
	return nil
}

func normalizeTrigger(trig *store.ScheduledTrigger) {
	trig.DatasetID = strings.TrimSpace(trig.DatasetID)
	trig.Owner = strings.TrimSpace(trig.Owner)
	trig.WorkflowName = strings.TrimSpace(trig.WorkflowName)
	trig.Frequency = store.ParseFrequency(string(trig.Frequency))
	if !trig.PointerDate.IsZero() {
		trig.PointerDate = trig.PointerDate.UTC()
	}
}

// ScheduleRecurring persists a new trigger for trig.DatasetID. The dataset
// and workflow must exist and the dataset must not already have an active
// trigger.
func (o *Orchestrator) ScheduleRecurring(ctx context.Context, trig *store.ScheduledTrigger) error {
	const op = "schedule"
	if trig == nil {
		return services.Wrap(services.ErrInvalidTrigger, op, "trigger is required", nil)
	}
	normalizeTrigger(trig)
	if err := o.requireDataset(ctx, op, trig.DatasetID); err != nil {
		return err
	}
	if _, err := o.requireWorkflow(ctx, op, trig.Owner, trig.WorkflowName); err != nil {
		return err
	}
	existing, err := o.store.TriggerForDataset(ctx, trig.DatasetID)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if existing != nil {
		return services.Wrap(services.ErrScheduledTriggerAlreadyExists, op, "dataset "+trig.DatasetID, nil)
	}
	if err := validateTriggerFields(op, trig); err != nil {
		return err
	}
	if err := o.store.CreateTrigger(ctx, trig); err != nil {
		return err
	}
	o.logger.Info("trigger scheduled",
		logging.String(logging.FieldDatasetID, trig.DatasetID),
		logging.String(logging.FieldWorkflow, trig.Owner+"/"+trig.WorkflowName),
		logging.String("frequency", string(trig.Frequency)),
		logging.Time("pointer_date", trig.PointerDate),
		logging.String(logging.FieldEventType, "trigger_scheduled"),
	)
	return nil
}

// UpdateRecurring replaces the schedule of the dataset's existing trigger.
func (o *Orchestrator) UpdateRecurring(ctx context.Context, trig *store.ScheduledTrigger) error {
	const op = "update schedule"
	if trig == nil {
		return services.Wrap(services.ErrInvalidTrigger, op, "trigger is required", nil)
	}
	normalizeTrigger(trig)
	if _, err := o.requireWorkflow(ctx, op, trig.Owner, trig.WorkflowName); err != nil {
		return err
	}
	existing, err := o.store.TriggerForDataset(ctx, trig.DatasetID)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if existing == nil {
		return services.Wrap(services.ErrScheduledTriggerNotFound, op, "dataset "+trig.DatasetID, nil)
	}
	if err := validateTriggerFields(op, trig); err != nil {
		return err
	}
	if err := o.store.UpdateTrigger(ctx, trig); err != nil {
		return err
	}
	trig.ID = existing.ID
	trig.Active = true
	trig.CreatedAt = existing.CreatedAt
	trig.LastFiredAt = existing.LastFiredAt
	trig.LastExecutionID = existing.LastExecutionID
	return nil
}

// DeleteRecurring removes the dataset's active trigger.
func (o *Orchestrator) DeleteRecurring(ctx context.Context, datasetID string) error {
	return o.store.DeleteTrigger(ctx, strings.TrimSpace(datasetID))
}

// GetRecurring returns the dataset's active trigger.
func (o *Orchestrator) GetRecurring(ctx context.Context, datasetID string) (*store.ScheduledTrigger, error) {
	datasetID = strings.TrimSpace(datasetID)
	trig, err := o.store.TriggerForDataset(ctx, datasetID)
	if err != nil {
		return nil, fmt.Errorf("get schedule: %w", err)
	}
	if trig == nil {
		return nil, services.Wrap(services.ErrScheduledTriggerNotFound, "get schedule", "dataset "+datasetID, nil)
	}
	return trig, nil
}

// ListRecurring returns triggers ordered by pointer date.
func (o *Orchestrator) ListRecurring(ctx context.Context, includeInactive bool) ([]*store.ScheduledTrigger, error) {
	return o.store.ListTriggers(ctx, includeInactive)
}

// SweepResult summarizes one RunDueSchedules pass.
type SweepResult struct {
	Due     int
	Fired   int
	Failed  int
	Skipped int
	// Settled counts triggers fired by an earlier sweep whose pointer date
	// was moved by this one.
	Settled    int
	Executions []string
}

// pendingFire remembers a submission made for a trigger pointer that could
// not be advanced yet.
type pendingFire struct {
	pointer     time.Time
	executionID string
}

// settleTrigger moves trig past its current pointer date, or retires it when
// it does not recur.
func (o *Orchestrator) settleTrigger(ctx context.Context, trig *store.ScheduledTrigger, firedAt time.Time, execID string) (bool, error) {
	if next, ok := nextPointer(trig.Frequency, trig.PointerDate); ok {
		return o.store.AdvanceTrigger(ctx, trig.ID, trig.PointerDate, next, firedAt, execID)
	}
	return o.store.DeactivateTrigger(ctx, trig.ID, trig.PointerDate, firedAt, execID)
}

// RunDueSchedules submits an execution for every active trigger due at now.
// A fired trigger advances by one period, or is retired when it is ONCE. A
// failed submission leaves the pointer date unchanged so the next sweep
// retries. Concurrent calls are serialized.
func (o *Orchestrator) RunDueSchedules(ctx context.Context, now time.Time) SweepResult {
	o.sweepMu.Lock()
	defer o.sweepMu.Unlock()

	started := o.clock.Now()
	defer func() { o.metrics.ObserveSweep(o.clock.Since(started)) }()

	var result SweepResult
	due, err := o.store.DueTriggers(ctx, now.UTC())
	if err != nil {
		logging.ErrorWithContext(o.logger, "failed to load due triggers", "sweep_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check database access"),
		)
		return result
	}
	result.Due = len(due)

	for _, trig := range due {
		if ctx.Err() != nil {
			break
		}
		logger := o.logger.With(
			logging.String(logging.FieldDatasetID, trig.DatasetID),
			logging.String("trigger_id", trig.ID),
		)
		if pending, ok := o.pendingFires[trig.ID]; ok {
			if pending.pointer.Equal(trig.PointerDate) {
				// this period already has its execution
				moved, err := o.settleTrigger(ctx, trig, now.UTC(), pending.executionID)
				if err != nil {
					result.Failed++
					logging.ErrorWithContext(logger, "failed to advance trigger", "trigger_advance_failed",
						logging.String(logging.FieldExecutionID, pending.executionID),
						logging.Error(err),
						logging.String(logging.FieldImpact, "retried next sweep without resubmitting"),
						logging.String(logging.FieldErrorHint, "check database access"),
					)
					continue
				}
				delete(o.pendingFires, trig.ID)
				if moved {
					result.Settled++
					logger.Info("trigger advanced after retry",
						logging.String(logging.FieldExecutionID, pending.executionID),
						logging.String(logging.FieldEventType, "trigger_settled"),
					)
				} else {
					result.Skipped++
				}
				continue
			}
			delete(o.pendingFires, trig.ID)
		}

		execID, err := o.Submit(ctx, trig.DatasetID, trig.Owner, trig.WorkflowName, trig.Priority)
		if err != nil {
			result.Failed++
			o.metrics.Trigger(metrics.TriggerFailed)
			logging.WarnWithContext(logger, "scheduled submission failed", "trigger_submit_failed",
				logging.Error(err),
				logging.String("error_kind", string(services.Classify(err))),
				logging.Time("pointer_date", trig.PointerDate),
				logging.String(logging.FieldImpact, "pointer date unchanged; retried next sweep"),
			)
			continue
		}

		moved, err := o.settleTrigger(ctx, trig, now.UTC(), execID)
		if err != nil {
			o.pendingFires[trig.ID] = pendingFire{pointer: trig.PointerDate, executionID: execID}
			logging.ErrorWithContext(logger, "failed to advance trigger", "trigger_advance_failed",
				logging.String(logging.FieldExecutionID, execID),
				logging.Error(err),
				logging.String(logging.FieldImpact, "retried next sweep without resubmitting"),
				logging.String(logging.FieldErrorHint, "check database access"),
			)
			// the execution exists, so the trigger still counts as fired
			moved = true
		}
		if !moved {
			result.Skipped++
			o.metrics.Trigger(metrics.TriggerSkipped)
			continue
		}
		result.Fired++
		result.Executions = append(result.Executions, execID)
		o.metrics.Trigger(metrics.TriggerFired)
		logger.Info("trigger fired",
			logging.String(logging.FieldExecutionID, execID),
			logging.String("frequency", string(trig.Frequency)),
			logging.String(logging.FieldEventType, "trigger_fired"),
		)
		publishEvent(ctx, o.notifier, logger, o.clock, &store.ExecutionRecord{
			ID:           execID,
			DatasetID:    trig.DatasetID,
			Owner:        trig.Owner,
			WorkflowName: trig.WorkflowName,
			Status:       store.StatusInQueue,
		}, notifications.EventTriggerFired, "", "")
	}
	return result
}
