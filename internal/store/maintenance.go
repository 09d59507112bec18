package store

import (
	"context"
	"fmt"
)

// Stats returns a count of executions grouped by status.
func (s *Store) Stats(ctx context.Context) (map[ExecutionStatus]int, error) {
	rows, err := s.db.QueryContext(ensureContext(ctx), `SELECT status, COUNT(1) FROM executions GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("execution stats: %w", err)
	}
	defer rows.Close()

	stats := make(map[ExecutionStatus]int)
	for rows.Next() {
		var (
			status string
			count  int
		)
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		stats[ParseExecutionStatus(status)] += count
	}
	return stats, rows.Err()
}

// Health aggregates execution and trigger state for diagnostic output.
func (s *Store) Health(ctx context.Context) (HealthSummary, error) {
	stats, err := s.Stats(ctx)
	if err != nil {
		return HealthSummary{}, err
	}
	health := HealthSummary{}
	for status, count := range stats {
		health.Total += count
		switch status {
		case StatusInQueue:
			health.InQueue += count
		case StatusRunning:
			health.Running += count
		case StatusFinished:
			health.Finished += count
		case StatusCancelled:
			health.Cancelled += count
		}
	}
	ctx = ensureContext(ctx)
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM executions WHERE cancelling = 1`).Scan(&health.Cancelling); err != nil {
		return HealthSummary{}, fmt.Errorf("count cancelling: %w", err)
	}
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM triggers WHERE active = 1`).Scan(&health.ActiveTriggers); err != nil {
		return HealthSummary{}, fmt.Errorf("count triggers: %w", err)
	}
	return health, nil
}
