package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// MarkRunning moves an INQUEUE execution without a pending cancellation to
// RUNNING. It reports false when the row was not in that state.
func (s *Store) MarkRunning(ctx context.Context, id string, at time.Time) (bool, error) {
	res, err := s.execWithRetry(ctx,
		`UPDATE executions
        SET status = ?, started_at = ?, updated_at = ?
        WHERE id = ? AND status = ? AND cancelling = 0`,
		string(StatusRunning),
		formatTime(at),
		formatTime(at),
		id,
		string(StatusInQueue),
	)
	if err != nil {
		return false, fmt.Errorf("mark running: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("mark running: %w", err)
	}
	return n > 0, nil
}

// RequestCancel durably flags an active execution for cancellation.
func (s *Store) RequestCancel(ctx context.Context, id string) (bool, error) {
	res, err := s.execWithRetry(ctx,
		`UPDATE executions SET cancelling = 1, updated_at = ? WHERE id = ? AND status IN (?, ?)`,
		formatTime(s.now()),
		id,
		string(StatusInQueue),
		string(StatusRunning),
	)
	if err != nil {
		return false, fmt.Errorf("request cancel: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("request cancel: %w", err)
	}
	return n > 0, nil
}

// CancelQueued cancels an execution that never left the queue, cascading
// every step to CANCELLED. It reports false when the row was no longer INQUEUE.
func (s *Store) CancelQueued(ctx context.Context, id string, at time.Time) (bool, error) {
	var cancelled bool
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		cancelled = false
		row := tx.QueryRowContext(ctx, `SELECT `+executionColumns+` FROM executions WHERE id = ?`, id)
		rec, err := scanExecution(row)
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err != nil {
			return err
		}
		if rec.Status != StatusInQueue {
			return nil
		}
		rec.CancelCascade(at)
		if err := writeTerminal(ctx, tx, rec, StatusInQueue); err != nil {
			return err
		}
		cancelled = true
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("cancel queued execution: %w", err)
	}
	return cancelled, nil
}

// SaveProgress records step state and timestamps of an active execution. The
// cancelling flag is left untouched so a concurrent cancel request survives.
func (s *Store) SaveProgress(ctx context.Context, rec *ExecutionRecord) error {
	steps, err := encodeJSON(rec.Steps)
	if err != nil {
		return fmt.Errorf("encode steps: %w", err)
	}
	rec.UpdatedAt = s.now()
	_, err = s.execWithRetry(ctx,
		`UPDATE executions
        SET steps_json = ?, started_at = ?, updated_at = ?
        WHERE id = ? AND status IN (?, ?)`,
		steps,
		nullableTime(rec.StartedAt),
		formatTime(rec.UpdatedAt),
		rec.ID,
		string(StatusInQueue),
		string(StatusRunning),
	)
	if err != nil {
		return fmt.Errorf("save progress: %w", err)
	}
	return nil
}

// FinishExecution writes a terminal status for an active execution and
// clears the cancelling flag. It reports false when the row was already terminal.
func (s *Store) FinishExecution(ctx context.Context, rec *ExecutionRecord) (bool, error) {
	if !rec.Status.IsTerminal() {
		return false, fmt.Errorf("finish execution %s: status %s is not terminal", rec.ID, rec.Status)
	}
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = s.now()
	}
	rec.Cancelling = false
	var finished bool
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		finished = false
		err := writeTerminal(ctx, tx, rec, StatusInQueue, StatusRunning)
		if errors.Is(err, errNoActiveRow) {
			return nil
		}
		if err != nil {
			return err
		}
		finished = true
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("finish execution: %w", err)
	}
	return finished, nil
}

// RequeueInterrupted recovers executions left active by a previous process.
// RUNNING rows go back to INQUEUE with their steps reset; any active row with
// a pending cancellation is cancelled instead.
func (s *Store) RequeueInterrupted(ctx context.Context, at time.Time) (requeued int, cancelled int, err error) {
	err = s.withTx(ctx, func(tx *sql.Tx) error {
		requeued, cancelled = 0, 0
		rows, err := tx.QueryContext(ctx,
			`SELECT `+executionColumns+` FROM executions WHERE status = ? OR (status = ? AND cancelling = 1)`,
			string(StatusRunning), string(StatusInQueue),
		)
		if err != nil {
			return err
		}
		var recs []*ExecutionRecord
		for rows.Next() {
			rec, err := scanExecution(rows)
			if err != nil {
				rows.Close()
				return err
			}
			recs = append(recs, rec)
		}
		if err := rows.Close(); err != nil {
			return err
		}

		for _, rec := range recs {
			previous := rec.Status
			if rec.Cancelling {
				rec.CancelCascade(at)
				if err := writeTerminal(ctx, tx, rec, previous); err != nil {
					return err
				}
				cancelled++
				continue
			}
			resetForRequeue(rec, at)
			steps, err := encodeJSON(rec.Steps)
			if err != nil {
				return err
			}
			if _, err := tx.ExecContext(ctx,
				`UPDATE executions SET status = ?, steps_json = ?, started_at = NULL, updated_at = ? WHERE id = ? AND status = ?`,
				string(StatusInQueue), steps, formatTime(at), rec.ID, string(StatusRunning),
			); err != nil {
				return err
			}
			requeued++
		}
		return nil
	})
	if err != nil {
		return 0, 0, fmt.Errorf("requeue interrupted executions: %w", err)
	}
	return requeued, cancelled, nil
}

func resetForRequeue(rec *ExecutionRecord, at time.Time) {
	rec.Status = StatusInQueue
	rec.StartedAt = nil
	rec.UpdatedAt = at
	for i := range rec.Steps {
		prev := rec.Steps[i]
		rec.Steps[i] = StepState{
			Kind:           prev.Kind,
			Status:         StatusInQueue,
			RequestedOrder: prev.RequestedOrder,
			Parameters:     prev.Parameters,
		}
	}
}

var errNoActiveRow = errors.New("execution is not active")

func writeTerminal(ctx context.Context, tx *sql.Tx, rec *ExecutionRecord, from ...ExecutionStatus) error {
	steps, err := encodeJSON(rec.Steps)
	if err != nil {
		return fmt.Errorf("encode steps: %w", err)
	}
	args := []any{
		string(rec.Status),
		steps,
		nullableTime(rec.StartedAt),
		formatTime(rec.UpdatedAt),
		nullableTime(rec.FinishedAt),
		rec.ID,
	}
	args = append(args, statusArgs(from)...)
	res, err := tx.ExecContext(ctx,
		`UPDATE executions
        SET status = ?, cancelling = 0, steps_json = ?, started_at = ?, updated_at = ?, finished_at = ?
        WHERE id = ? AND status IN (`+makePlaceholders(len(from))+`)`,
		args...,
	)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errNoActiveRow
	}
	return nil
}
