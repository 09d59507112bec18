package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"curator/internal/services"
)

// ActiveExecutionForDataset returns the id of the dataset's INQUEUE or RUNNING
// execution, if any.
func (s *Store) ActiveExecutionForDataset(ctx context.Context, datasetID string) (string, bool, error) {
	var id string
	err := s.db.QueryRowContext(ensureContext(ctx),
		`SELECT id FROM executions WHERE dataset_id = ? AND status IN (?, ?) LIMIT 1`,
		datasetID, string(StatusInQueue), string(StatusRunning),
	).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("active execution for dataset: %w", err)
	}
	return id, true, nil
}

// CreateExecution persists rec after confirming, inside the same write
// transaction, that the dataset has no active execution. The partial unique
// index rejects any writer that slips past the check. rec.ID is assigned when
// empty.
func (s *Store) CreateExecution(ctx context.Context, rec *ExecutionRecord) error {
	if rec == nil {
		return errors.New("create execution: nil record")
	}
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = s.now()
	}
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = rec.CreatedAt
	}
	if rec.Status == StatusNull {
		rec.Status = StatusInQueue
	}
	steps, err := encodeJSON(rec.Steps)
	if err != nil {
		return fmt.Errorf("encode steps: %w", err)
	}

	err = s.withTx(ctx, func(tx *sql.Tx) error {
		var existing string
		err := tx.QueryRowContext(ctx,
			`SELECT id FROM executions WHERE dataset_id = ? AND status IN (?, ?) LIMIT 1`,
			rec.DatasetID, string(StatusInQueue), string(StatusRunning),
		).Scan(&existing)
		switch {
		case err == nil:
			return fmt.Errorf("%w: dataset %s already has execution %s", services.ErrExecutionAlreadyExists, rec.DatasetID, existing)
		case !errors.Is(err, sql.ErrNoRows):
			return err
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO executions (`+executionColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			rec.ID,
			rec.DatasetID,
			rec.Owner,
			rec.WorkflowName,
			rec.Priority,
			string(rec.Status),
			boolToInt(rec.Cancelling),
			steps,
			formatTime(rec.CreatedAt),
			nullableTime(rec.StartedAt),
			formatTime(rec.UpdatedAt),
			nullableTime(rec.FinishedAt),
		)
		return err
	})
	if err != nil {
		if errors.Is(err, services.ErrExecutionAlreadyExists) {
			return err
		}
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: dataset %s", services.ErrExecutionAlreadyExists, rec.DatasetID)
		}
		return fmt.Errorf("insert execution: %w", err)
	}
	return nil
}

// GetExecution returns the execution with id, or nil when absent.
func (s *Store) GetExecution(ctx context.Context, id string) (*ExecutionRecord, error) {
	row := s.db.QueryRowContext(ensureContext(ctx), `SELECT `+executionColumns+` FROM executions WHERE id = ?`, id)
	rec, err := scanExecution(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get execution: %w", err)
	}
	return rec, nil
}

// FindRunningOrQueued returns the dataset's active execution, or nil.
func (s *Store) FindRunningOrQueued(ctx context.Context, datasetID string) (*ExecutionRecord, error) {
	row := s.db.QueryRowContext(ensureContext(ctx),
		`SELECT `+executionColumns+` FROM executions WHERE dataset_id = ? AND status IN (?, ?) LIMIT 1`,
		datasetID, string(StatusInQueue), string(StatusRunning),
	)
	rec, err := scanExecution(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find running or queued: %w", err)
	}
	return rec, nil
}

// UpdateExecution writes every mutable column of rec.
func (s *Store) UpdateExecution(ctx context.Context, rec *ExecutionRecord) error {
	steps, err := encodeJSON(rec.Steps)
	if err != nil {
		return fmt.Errorf("encode steps: %w", err)
	}
	rec.UpdatedAt = s.now()
	res, err := s.execWithRetry(ctx,
		`UPDATE executions
        SET priority = ?, status = ?, cancelling = ?, steps_json = ?,
            started_at = ?, updated_at = ?, finished_at = ?
        WHERE id = ?`,
		rec.Priority,
		string(rec.Status),
		boolToInt(rec.Cancelling),
		steps,
		nullableTime(rec.StartedAt),
		formatTime(rec.UpdatedAt),
		nullableTime(rec.FinishedAt),
		rec.ID,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: dataset %s", services.ErrExecutionAlreadyExists, rec.DatasetID)
		}
		return fmt.Errorf("update execution: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("update execution %s: %w", rec.ID, services.ErrExecutionNotFound)
	}
	return nil
}

// ListActiveExecutions returns every INQUEUE or RUNNING execution in dispatch order.
func (s *Store) ListActiveExecutions(ctx context.Context) ([]*ExecutionRecord, error) {
	return s.ListExecutions(ctx, ExecutionFilter{Statuses: activeStatuses, Limit: -1})
}

// ListExecutions returns executions matching filter. Active-only listings are
// ordered by dispatch order, others newest first. A negative limit disables paging.
func (s *Store) ListExecutions(ctx context.Context, filter ExecutionFilter) ([]*ExecutionRecord, error) {
	var (
		clauses []string
		args    []any
	)
	if filter.DatasetID != "" {
		clauses = append(clauses, "dataset_id = ?")
		args = append(args, filter.DatasetID)
	}
	if len(filter.Statuses) > 0 {
		clauses = append(clauses, "status IN ("+makePlaceholders(len(filter.Statuses))+")")
		args = append(args, statusArgs(filter.Statuses)...)
	}
	query := `SELECT ` + executionColumns + ` FROM executions`
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	if onlyActive(filter.Statuses) {
		query += " ORDER BY priority, created_at, id"
	} else {
		query += " ORDER BY created_at DESC, id"
	}
	if filter.Limit >= 0 {
		limit := filter.Limit
		if limit == 0 {
			limit = 100
		}
		query += " LIMIT ? OFFSET ?"
		args = append(args, limit, max(filter.Offset, 0))
	}

	rows, err := s.db.QueryContext(ensureContext(ctx), query, args...)
	if err != nil {
		return nil, fmt.Errorf("list executions: %w", err)
	}
	defer rows.Close()

	var out []*ExecutionRecord
	for rows.Next() {
		rec, err := scanExecution(rows)
		if err != nil {
			return nil, fmt.Errorf("scan execution: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func onlyActive(statuses []ExecutionStatus) bool {
	if len(statuses) == 0 {
		return false
	}
	for _, status := range statuses {
		if !status.IsActive() {
			return false
		}
	}
	return true
}

// RemoveCompletedFrom returns the subset of candidateIDs whose executions are
// still INQUEUE or RUNNING. interval bounds the total time spent querying;
// on error the ids confirmed active so far are returned with the error.
// Unknown ids are treated as completed.
func (s *Store) RemoveCompletedFrom(ctx context.Context, candidateIDs []string, interval time.Duration) ([]string, error) {
	ctx = ensureContext(ctx)
	if interval > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, interval)
		defer cancel()
	}
	remaining := make([]string, 0, len(candidateIDs))
	for _, id := range candidateIDs {
		var status string
		err := s.db.QueryRowContext(ctx, `SELECT status FROM executions WHERE id = ?`, id).Scan(&status)
		if errors.Is(err, sql.ErrNoRows) {
			continue
		}
		if err != nil {
			return remaining, fmt.Errorf("check execution %s: %w", id, err)
		}
		if ParseExecutionStatus(status).IsActive() {
			remaining = append(remaining, id)
		}
	}
	return remaining, nil
}
