package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// RegisterDataset records a dataset id. Registering an existing id updates its name.
func (s *Store) RegisterDataset(ctx context.Context, id, name string) error {
	_, err := s.execWithRetry(ctx,
		`INSERT INTO datasets (id, name, created_at) VALUES (?, ?, ?)
        ON CONFLICT(id) DO UPDATE SET name = excluded.name`,
		id, name, formatTime(s.now()),
	)
	if err != nil {
		return fmt.Errorf("register dataset: %w", err)
	}
	return nil
}

// DeleteDataset removes a dataset id. Executions referencing it are kept.
func (s *Store) DeleteDataset(ctx context.Context, id string) (bool, error) {
	res, err := s.execWithRetry(ctx, `DELETE FROM datasets WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("delete dataset: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete dataset: %w", err)
	}
	return n > 0, nil
}

// DatasetExists reports whether id is registered.
func (s *Store) DatasetExists(ctx context.Context, id string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ensureContext(ctx), `SELECT 1 FROM datasets WHERE id = ?`, id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("dataset exists: %w", err)
	}
	return true, nil
}

// GetDataset returns the registry entry for id, or nil.
func (s *Store) GetDataset(ctx context.Context, id string) (*Dataset, error) {
	var (
		ds         Dataset
		createdRaw string
	)
	err := s.db.QueryRowContext(ensureContext(ctx),
		`SELECT id, name, created_at FROM datasets WHERE id = ?`, id,
	).Scan(&ds.ID, &ds.Name, &createdRaw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get dataset: %w", err)
	}
	ds.CreatedAt = parseTimeOrZero(createdRaw)
	return &ds, nil
}
