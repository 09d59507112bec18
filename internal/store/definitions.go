package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"curator/internal/services"
)

// InsertDefinition persists a new workflow definition. (owner, name) must be unique.
func (s *Store) InsertDefinition(ctx context.Context, def *WorkflowDefinition) error {
	if def.ID == "" {
		def.ID = uuid.NewString()
	}
	now := s.now()
	def.CreatedAt = now
	def.UpdatedAt = now
	steps, err := encodeJSON(def.Steps)
	if err != nil {
		return fmt.Errorf("encode steps: %w", err)
	}
	_, err = s.execWithRetry(ctx,
		`INSERT INTO workflow_definitions (`+definitionColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		def.ID,
		nullableString(def.DatasetID),
		def.Owner,
		def.Name,
		steps,
		formatTime(def.CreatedAt),
		formatTime(def.UpdatedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: %s/%s", services.ErrWorkflowAlreadyExists, def.Owner, def.Name)
		}
		return fmt.Errorf("insert workflow: %w", err)
	}
	return nil
}

// UpdateDefinition replaces the steps and dataset binding of an existing definition.
func (s *Store) UpdateDefinition(ctx context.Context, def *WorkflowDefinition) error {
	steps, err := encodeJSON(def.Steps)
	if err != nil {
		return fmt.Errorf("encode steps: %w", err)
	}
	def.UpdatedAt = s.now()
	res, err := s.execWithRetry(ctx,
		`UPDATE workflow_definitions SET dataset_id = ?, steps_json = ?, updated_at = ? WHERE owner = ? AND name = ?`,
		nullableString(def.DatasetID),
		steps,
		formatTime(def.UpdatedAt),
		def.Owner,
		def.Name,
	)
	if err != nil {
		return fmt.Errorf("update workflow: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s/%s", services.ErrWorkflowNotFound, def.Owner, def.Name)
	}
	return nil
}

// DeleteDefinition removes the definition identified by owner and name.
func (s *Store) DeleteDefinition(ctx context.Context, owner, name string) error {
	res, err := s.execWithRetry(ctx, `DELETE FROM workflow_definitions WHERE owner = ? AND name = ?`, owner, name)
	if err != nil {
		return fmt.Errorf("delete workflow: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s/%s", services.ErrWorkflowNotFound, owner, name)
	}
	return nil
}

// GetDefinition returns the definition for owner and name, or nil.
func (s *Store) GetDefinition(ctx context.Context, owner, name string) (*WorkflowDefinition, error) {
	row := s.db.QueryRowContext(ensureContext(ctx),
		`SELECT `+definitionColumns+` FROM workflow_definitions WHERE owner = ? AND name = ?`, owner, name)
	def, err := scanDefinition(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get workflow: %w", err)
	}
	return def, nil
}

// ListDefinitions returns definitions ordered by owner then name.
func (s *Store) ListDefinitions(ctx context.Context, filter DefinitionFilter) ([]*WorkflowDefinition, error) {
	var (
		clauses []string
		args    []any
	)
	if filter.Owner != "" {
		clauses = append(clauses, "owner = ?")
		args = append(args, filter.Owner)
	}
	if filter.NamePrefix != "" {
		clauses = append(clauses, "substr(name, 1, ?) = ?")
		args = append(args, len([]rune(filter.NamePrefix)), filter.NamePrefix)
	}
	query := `SELECT ` + definitionColumns + ` FROM workflow_definitions`
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY owner, name"
	if filter.Limit > 0 {
		query += " LIMIT ? OFFSET ?"
		args = append(args, filter.Limit, max(filter.Offset, 0))
	}

	rows, err := s.db.QueryContext(ensureContext(ctx), query, args...)
	if err != nil {
		return nil, fmt.Errorf("list workflows: %w", err)
	}
	defer rows.Close()
	var out []*WorkflowDefinition
	for rows.Next() {
		def, err := scanDefinition(rows)
		if err != nil {
			return nil, fmt.Errorf("scan workflow: %w", err)
		}
		out = append(out, def)
	}
	return out, rows.Err()
}
