package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"curator/internal/services"
)

// CreateTrigger persists a new active trigger. A second active trigger for the
// same dataset fails with services.ErrScheduledTriggerAlreadyExists.
func (s *Store) CreateTrigger(ctx context.Context, trig *ScheduledTrigger) error {
	if trig.ID == "" {
		trig.ID = uuid.NewString()
	}
	now := s.now()
	trig.CreatedAt = now
	trig.UpdatedAt = now
	trig.Active = true
	_, err := s.execWithRetry(ctx,
		`INSERT INTO triggers (`+triggerColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		trig.ID,
		trig.DatasetID,
		trig.Owner,
		trig.WorkflowName,
		formatTime(trig.PointerDate),
		string(trig.Frequency),
		trig.Priority,
		boolToInt(trig.Active),
		nullableTime(trig.LastFiredAt),
		nullableString(trig.LastExecutionID),
		formatTime(trig.CreatedAt),
		formatTime(trig.UpdatedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: dataset %s", services.ErrScheduledTriggerAlreadyExists, trig.DatasetID)
		}
		return fmt.Errorf("insert trigger: %w", err)
	}
	return nil
}

// UpdateTrigger rewrites the schedule of the dataset's active trigger.
func (s *Store) UpdateTrigger(ctx context.Context, trig *ScheduledTrigger) error {
	trig.UpdatedAt = s.now()
	res, err := s.execWithRetry(ctx,
		`UPDATE triggers
        SET owner = ?, workflow_name = ?, pointer_date = ?, frequency = ?, priority = ?, updated_at = ?
        WHERE dataset_id = ? AND active = 1`,
		trig.Owner,
		trig.WorkflowName,
		formatTime(trig.PointerDate),
		string(trig.Frequency),
		trig.Priority,
		formatTime(trig.UpdatedAt),
		trig.DatasetID,
	)
	if err != nil {
		return fmt.Errorf("update trigger: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: dataset %s", services.ErrScheduledTriggerNotFound, trig.DatasetID)
	}
	return nil
}

// DeleteTrigger removes the dataset's active trigger.
func (s *Store) DeleteTrigger(ctx context.Context, datasetID string) error {
	res, err := s.execWithRetry(ctx, `DELETE FROM triggers WHERE dataset_id = ? AND active = 1`, datasetID)
	if err != nil {
		return fmt.Errorf("delete trigger: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: dataset %s", services.ErrScheduledTriggerNotFound, datasetID)
	}
	return nil
}

// TriggerForDataset returns the dataset's active trigger, or nil.
func (s *Store) TriggerForDataset(ctx context.Context, datasetID string) (*ScheduledTrigger, error) {
	row := s.db.QueryRowContext(ensureContext(ctx),
		`SELECT `+triggerColumns+` FROM triggers WHERE dataset_id = ? AND active = 1`, datasetID)
	trig, err := scanTrigger(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("trigger for dataset: %w", err)
	}
	return trig, nil
}

// ListTriggers returns triggers ordered by pointer date. Deactivated ONCE
// triggers are included only when includeInactive is set.
func (s *Store) ListTriggers(ctx context.Context, includeInactive bool) ([]*ScheduledTrigger, error) {
	query := `SELECT ` + triggerColumns + ` FROM triggers`
	if !includeInactive {
		query += ` WHERE active = 1`
	}
	query += ` ORDER BY pointer_date, dataset_id`
	return s.queryTriggers(ctx, query)
}

// DueTriggers returns active triggers whose pointer date is at or before now.
func (s *Store) DueTriggers(ctx context.Context, now time.Time) ([]*ScheduledTrigger, error) {
	return s.queryTriggers(ctx,
		`SELECT `+triggerColumns+` FROM triggers WHERE active = 1 AND pointer_date <= ? ORDER BY pointer_date, dataset_id`,
		formatTime(now),
	)
}

func (s *Store) queryTriggers(ctx context.Context, query string, args ...any) ([]*ScheduledTrigger, error) {
	rows, err := s.db.QueryContext(ensureContext(ctx), query, args...)
	if err != nil {
		return nil, fmt.Errorf("query triggers: %w", err)
	}
	defer rows.Close()
	var out []*ScheduledTrigger
	for rows.Next() {
		trig, err := scanTrigger(rows)
		if err != nil {
			return nil, fmt.Errorf("scan trigger: %w", err)
		}
		out = append(out, trig)
	}
	return out, rows.Err()
}

// AdvanceTrigger moves the pointer date from expected to next. It only
// succeeds while the stored pointer still equals expected, so concurrent
// sweeps cannot advance the same period twice.
func (s *Store) AdvanceTrigger(ctx context.Context, id string, expected, next, firedAt time.Time, executionID string) (bool, error) {
	res, err := s.execWithRetry(ctx,
		`UPDATE triggers
        SET pointer_date = ?, last_fired_at = ?, last_execution_id = ?, updated_at = ?
        WHERE id = ? AND active = 1 AND pointer_date = ?`,
		formatTime(next),
		formatTime(firedAt),
		nullableString(executionID),
		formatTime(s.now()),
		id,
		formatTime(expected),
	)
	if err != nil {
		return false, fmt.Errorf("advance trigger: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("advance trigger: %w", err)
	}
	return n > 0, nil
}

// DeactivateTrigger retires a fired ONCE trigger. Like AdvanceTrigger it is
// conditional on the pointer date still matching expected.
func (s *Store) DeactivateTrigger(ctx context.Context, id string, expected, firedAt time.Time, executionID string) (bool, error) {
	res, err := s.execWithRetry(ctx,
		`UPDATE triggers
        SET active = 0, last_fired_at = ?, last_execution_id = ?, updated_at = ?
        WHERE id = ? AND active = 1 AND pointer_date = ?`,
		formatTime(firedAt),
		nullableString(executionID),
		formatTime(s.now()),
		id,
		formatTime(expected),
	)
	if err != nil {
		return false, fmt.Errorf("deactivate trigger: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("deactivate trigger: %w", err)
	}
	return n > 0, nil
}
