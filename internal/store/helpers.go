package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// timeLayout is fixed-width so stored timestamps order correctly as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

const (
	sqliteConstraintUnique     = 2067
	sqliteConstraintPrimaryKey = 1555
)

const executionColumns = "id, dataset_id, owner, workflow_name, priority, status, cancelling, steps_json, created_at, started_at, updated_at, finished_at"

const triggerColumns = "id, dataset_id, owner, workflow_name, pointer_date, frequency, priority, active, last_fired_at, last_execution_id, created_at, updated_at"

const definitionColumns = "id, dataset_id, owner, name, steps_json, created_at, updated_at"

type rowScanner interface {
	Scan(dest ...any) error
}

func scanExecution(scanner rowScanner) (*ExecutionRecord, error) {
	var (
		rec         ExecutionRecord
		statusRaw   string
		cancelling  int
		stepsRaw    string
		createdRaw  string
		startedRaw  sql.NullString
		updatedRaw  string
		finishedRaw sql.NullString
	)
	if err := scanner.Scan(
		&rec.ID,
		&rec.DatasetID,
		&rec.Owner,
		&rec.WorkflowName,
		&rec.Priority,
		&statusRaw,
		&cancelling,
		&stepsRaw,
		&createdRaw,
		&startedRaw,
		&updatedRaw,
		&finishedRaw,
	); err != nil {
		return nil, err
	}
	rec.Status = ParseExecutionStatus(statusRaw)
	rec.Cancelling = cancelling != 0
	steps, err := decodeSteps(stepsRaw)
	if err != nil {
		return nil, fmt.Errorf("decode steps for execution %s: %w", rec.ID, err)
	}
	rec.Steps = steps
	rec.CreatedAt = parseTimeOrZero(createdRaw)
	rec.UpdatedAt = parseTimeOrZero(updatedRaw)
	rec.StartedAt = parseNullTime(startedRaw)
	rec.FinishedAt = parseNullTime(finishedRaw)
	return &rec, nil
}

func scanTrigger(scanner rowScanner) (*ScheduledTrigger, error) {
	var (
		trig         ScheduledTrigger
		pointerRaw   string
		frequencyRaw string
		active       int
		lastFiredRaw sql.NullString
		lastExecRaw  sql.NullString
		createdRaw   string
		updatedRaw   string
	)
	if err := scanner.Scan(
		&trig.ID,
		&trig.DatasetID,
		&trig.Owner,
		&trig.WorkflowName,
		&pointerRaw,
		&frequencyRaw,
		&trig.Priority,
		&active,
		&lastFiredRaw,
		&lastExecRaw,
		&createdRaw,
		&updatedRaw,
	); err != nil {
		return nil, err
	}
	trig.PointerDate = parseTimeOrZero(pointerRaw)
	trig.Frequency = ParseFrequency(frequencyRaw)
	trig.Active = active != 0
	trig.LastFiredAt = parseNullTime(lastFiredRaw)
	trig.LastExecutionID = lastExecRaw.String
	trig.CreatedAt = parseTimeOrZero(createdRaw)
	trig.UpdatedAt = parseTimeOrZero(updatedRaw)
	return &trig, nil
}

func scanDefinition(scanner rowScanner) (*WorkflowDefinition, error) {
	var (
		def        WorkflowDefinition
		datasetID  sql.NullString
		stepsRaw   string
		createdRaw string
		updatedRaw string
	)
	if err := scanner.Scan(&def.ID, &datasetID, &def.Owner, &def.Name, &stepsRaw, &createdRaw, &updatedRaw); err != nil {
		return nil, err
	}
	def.DatasetID = datasetID.String
	if err := json.Unmarshal([]byte(stepsRaw), &def.Steps); err != nil {
		return nil, fmt.Errorf("decode steps for workflow %s/%s: %w", def.Owner, def.Name, err)
	}
	def.CreatedAt = parseTimeOrZero(createdRaw)
	def.UpdatedAt = parseTimeOrZero(updatedRaw)
	return &def, nil
}

func decodeSteps(raw string) ([]StepState, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	var steps []StepState
	if err := json.Unmarshal([]byte(raw), &steps); err != nil {
		return nil, err
	}
	for i := range steps {
		steps[i].Status = ParseStepStatus(string(steps[i].Status))
	}
	return steps, nil
}

func encodeJSON(value any) (string, error) {
	data, err := json.Marshal(value)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func nullableTime(value *time.Time) any {
	if value == nil {
		return nil
	}
	return formatTime(*value)
}

func boolToInt(value bool) int {
	if value {
		return 1
	}
	return 0
}

func parseTimeString(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, errors.New("empty")
	}
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t.UTC(), nil
	}
	return time.Parse("2006-01-02 15:04:05", value)
}

func parseTimeOrZero(value string) time.Time {
	t, err := parseTimeString(value)
	if err != nil {
		return time.Time{}
	}
	return t
}

func parseNullTime(value sql.NullString) *time.Time {
	if !value.Valid {
		return nil
	}
	t, err := parseTimeString(value.String)
	if err != nil {
		return nil
	}
	return &t
}

func makePlaceholders(count int) string {
	if count <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?,", count), ",")
}

func statusArgs(statuses []ExecutionStatus) []any {
	args := make([]any, len(statuses))
	for i, status := range statuses {
		args[i] = string(status)
	}
	return args
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	var coder interface{ Code() int }
	if errors.As(err, &coder) {
		switch coder.Code() {
		case sqliteConstraintUnique, sqliteConstraintPrimaryKey:
			return true
		}
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
