package store

import (
	"strings"
	"time"

	"curator/internal/plugin"
)

// ExecutionStatus is the lifecycle state of an execution or one of its steps.
type ExecutionStatus string

const (
	// StatusNull is the normalized form of any unknown or absent status.
	StatusNull      ExecutionStatus = ""
	StatusInQueue   ExecutionStatus = "INQUEUE"
	StatusRunning   ExecutionStatus = "RUNNING"
	StatusFinished  ExecutionStatus = "FINISHED"
	StatusCancelled ExecutionStatus = "CANCELLED"
	// StatusFailed only ever appears on steps.
	StatusFailed ExecutionStatus = "FAILED"
)

// ParseExecutionStatus normalizes an execution status; FAILED and unknown
// values map to StatusNull.
func ParseExecutionStatus(value string) ExecutionStatus {
	switch status := ExecutionStatus(strings.ToUpper(strings.TrimSpace(value))); status {
	case StatusInQueue, StatusRunning, StatusFinished, StatusCancelled:
		return status
	default:
		return StatusNull
	}
}

// ParseStepStatus normalizes a step status, which additionally admits FAILED.
func ParseStepStatus(value string) ExecutionStatus {
	if status := ExecutionStatus(strings.ToUpper(strings.TrimSpace(value))); status == StatusFailed {
		return status
	}
	return ParseExecutionStatus(value)
}

// IsActive reports whether the status counts towards the one-active-execution rule.
func (s ExecutionStatus) IsActive() bool {
	return s == StatusInQueue || s == StatusRunning
}

// IsTerminal reports whether the status can no longer change.
func (s ExecutionStatus) IsTerminal() bool {
	return s == StatusFinished || s == StatusCancelled || s == StatusFailed
}

func (s ExecutionStatus) String() string {
	if s == StatusNull {
		return "NULL"
	}
	return string(s)
}

var activeStatuses = []ExecutionStatus{StatusInQueue, StatusRunning}

// StepConfig is one configured step inside a workflow definition.
type StepConfig struct {
	Kind       plugin.Kind         `json:"kind" yaml:"kind"`
	Parameters map[string][]string `json:"parameters,omitempty" yaml:"parameters,omitempty"`
}

// WorkflowDefinition is a named, owned, ordered list of steps. Step position
// is the execution order.
type WorkflowDefinition struct {
	ID        string
	DatasetID string
	Owner     string
	Name      string
	Steps     []StepConfig
	CreatedAt time.Time
	UpdatedAt time.Time
}

// StepState tracks one step of an execution.
type StepState struct {
	Kind             plugin.Kind         `json:"kind"`
	Status           ExecutionStatus     `json:"status"`
	RecordsProcessed int                 `json:"records_processed"`
	RecordsFailed    int                 `json:"records_failed"`
	RecordsCreated   int                 `json:"records_created"`
	RecordsUpdated   int                 `json:"records_updated"`
	RecordsDeleted   int                 `json:"records_deleted"`
	RequestedOrder   int                 `json:"requested_order"`
	Parameters       map[string][]string `json:"parameters,omitempty"`
	StartedAt        *time.Time          `json:"started_at,omitempty"`
	FinishedAt       *time.Time          `json:"finished_at,omitempty"`
	FailedRecordIDs  []string            `json:"failed_record_ids,omitempty"`
	ErrorMessage     string              `json:"error_message,omitempty"`
}

// ExecutionRecord is one run of a workflow definition against a dataset.
type ExecutionRecord struct {
	ID           string
	DatasetID    string
	Owner        string
	WorkflowName string
	Priority     int
	Status       ExecutionStatus
	Cancelling   bool
	CreatedAt    time.Time
	StartedAt    *time.Time
	UpdatedAt    time.Time
	FinishedAt   *time.Time
	Steps        []StepState
}

// Clone returns a deep copy so callers can mutate steps without aliasing.
func (r *ExecutionRecord) Clone() *ExecutionRecord {
	if r == nil {
		return nil
	}
	out := *r
	out.StartedAt = cloneTime(r.StartedAt)
	out.FinishedAt = cloneTime(r.FinishedAt)
	out.Steps = make([]StepState, len(r.Steps))
	for i, step := range r.Steps {
		step.StartedAt = cloneTime(step.StartedAt)
		step.FinishedAt = cloneTime(step.FinishedAt)
		step.FailedRecordIDs = append([]string(nil), step.FailedRecordIDs...)
		out.Steps[i] = step
	}
	return &out
}

// CancelCascade moves the execution to CANCELLED. Steps still INQUEUE or
// RUNNING become CANCELLED; FINISHED and FAILED steps keep their value.
func (r *ExecutionRecord) CancelCascade(at time.Time) {
	for i := range r.Steps {
		step := &r.Steps[i]
		if !step.Status.IsActive() {
			continue
		}
		if step.Status == StatusRunning {
			step.FinishedAt = timePtr(at)
		}
		step.Status = StatusCancelled
	}
	r.Status = StatusCancelled
	r.Cancelling = false
	r.FinishedAt = timePtr(at)
	r.UpdatedAt = at
}

// Frequency is the recurrence period of a scheduled trigger.
type Frequency string

const (
	FrequencyNull    Frequency = ""
	FrequencyOnce    Frequency = "ONCE"
	FrequencyDaily   Frequency = "DAILY"
	FrequencyWeekly  Frequency = "WEEKLY"
	FrequencyMonthly Frequency = "MONTHLY"
)

// ParseFrequency normalizes a frequency; unknown values map to FrequencyNull.
func ParseFrequency(value string) Frequency {
	switch f := Frequency(strings.ToUpper(strings.TrimSpace(value))); f {
	case FrequencyOnce, FrequencyDaily, FrequencyWeekly, FrequencyMonthly:
		return f
	default:
		return FrequencyNull
	}
}

// ScheduledTrigger is a persisted recurrence rule for one dataset.
type ScheduledTrigger struct {
	ID              string
	DatasetID       string
	Owner           string
	WorkflowName    string
	PointerDate     time.Time
	Frequency       Frequency
	Priority        int
	Active          bool
	LastFiredAt     *time.Time
	LastExecutionID string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Dataset is the minimal registry entry backing existence checks.
type Dataset struct {
	ID        string
	Name      string
	CreatedAt time.Time
}

// ExecutionFilter narrows ListExecutions.
type ExecutionFilter struct {
	DatasetID string
	Statuses  []ExecutionStatus
	Offset    int
	Limit     int
}

// DefinitionFilter narrows ListDefinitions.
type DefinitionFilter struct {
	Owner      string
	NamePrefix string
	Offset     int
	Limit      int
}

// HealthSummary aggregates execution counts for diagnostics.
type HealthSummary struct {
	Total          int
	InQueue        int
	Running        int
	Finished       int
	Cancelled      int
	Cancelling     int
	ActiveTriggers int
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

func timePtr(t time.Time) *time.Time {
	v := t
	return &v
}
