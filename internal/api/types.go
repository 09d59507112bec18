package api

// dateTimeFormat is used for RFC3339 timestamps in API payloads.
const dateTimeFormat = "2006-01-02T15:04:05.000Z07:00"

// Step describes one step of an execution.
type Step struct {
	Kind             string   `json:"kind"`
	Status           string   `json:"status"`
	RequestedOrder   int      `json:"requestedOrder"`
	RecordsProcessed int      `json:"recordsProcessed"`
	RecordsCreated   int      `json:"recordsCreated"`
	RecordsUpdated   int      `json:"recordsUpdated"`
	RecordsDeleted   int      `json:"recordsDeleted"`
	RecordsFailed    int      `json:"recordsFailed"`
	FailedRecordIDs  []string `json:"failedRecordIds,omitempty"`
	StartedAt        string   `json:"startedAt,omitempty"`
	FinishedAt       string   `json:"finishedAt,omitempty"`
	ErrorMessage     string   `json:"errorMessage,omitempty"`
}

// Execution describes an execution record.
type Execution struct {
	ID           string `json:"id"`
	DatasetID    string `json:"datasetId"`
	Owner        string `json:"owner"`
	WorkflowName string `json:"workflowName"`
	Priority     int    `json:"priority"`
	Status       string `json:"status"`
	Cancelling   bool   `json:"cancelling"`
	CreatedAt    string `json:"createdAt,omitempty"`
	StartedAt    string `json:"startedAt,omitempty"`
	UpdatedAt    string `json:"updatedAt,omitempty"`
	FinishedAt   string `json:"finishedAt,omitempty"`
	Steps        []Step `json:"steps"`
}

// StepConfig is one configured step of a workflow.
type StepConfig struct {
	Kind       string              `json:"kind"`
	Parameters map[string][]string `json:"parameters,omitempty"`
}

// Workflow describes a workflow definition.
type Workflow struct {
	ID        string       `json:"id,omitempty"`
	DatasetID string       `json:"datasetId,omitempty"`
	Owner     string       `json:"owner"`
	Name      string       `json:"name"`
	Steps     []StepConfig `json:"steps"`
	CreatedAt string       `json:"createdAt,omitempty"`
	UpdatedAt string       `json:"updatedAt,omitempty"`
}

// Schedule describes a recurring trigger.
type Schedule struct {
	ID              string `json:"id,omitempty"`
	DatasetID       string `json:"datasetId"`
	Owner           string `json:"owner"`
	WorkflowName    string `json:"workflowName"`
	PointerDate     string `json:"pointerDate"`
	Frequency       string `json:"frequency"`
	Priority        int    `json:"priority"`
	Active          bool   `json:"active"`
	LastFiredAt     string `json:"lastFiredAt,omitempty"`
	LastExecutionID string `json:"lastExecutionId,omitempty"`
}

// SubmitRequest asks for a new execution.
type SubmitRequest struct {
	DatasetID    string `json:"datasetId"`
	Owner        string `json:"owner"`
	WorkflowName string `json:"workflowName"`
	Priority     int    `json:"priority"`
}

// SubmitResponse carries the created execution id.
type SubmitResponse struct {
	ExecutionID string `json:"executionId"`
}

// ReconcileRequest lists execution ids a caller believes are active.
type ReconcileRequest struct {
	ExecutionIDs []string `json:"executionIds"`
}

// ReconcileResponse lists the ids still queued or running.
type ReconcileResponse struct {
	Remaining []string `json:"remaining"`
}

// DatasetRequest registers a dataset.
type DatasetRequest struct {
	Name string `json:"name"`
}

// ExecutionListResponse wraps a page of executions.
type ExecutionListResponse struct {
	Executions []Execution `json:"executions"`
}

// WorkflowListResponse wraps a page of workflows.
type WorkflowListResponse struct {
	Workflows []Workflow `json:"workflows"`
}

// ScheduleListResponse wraps schedules.
type ScheduleListResponse struct {
	Schedules []Schedule `json:"schedules"`
}

// QueueEntry is one queued execution.
type QueueEntry struct {
	ExecutionID string `json:"executionId"`
	Priority    int    `json:"priority"`
	CreatedAt   string `json:"createdAt"`
}

// SchedulerStatus summarizes the consumer pool and execution counts.
type SchedulerStatus struct {
	ConsumerRunning bool           `json:"consumerRunning"`
	Workers         int            `json:"workers"`
	QueueDepth      int            `json:"queueDepth"`
	Queue           []QueueEntry   `json:"queue"`
	InFlight        []string       `json:"inFlight"`
	Counts          map[string]int `json:"counts"`
	Cancelling      int            `json:"cancelling"`
	ActiveTriggers  int            `json:"activeTriggers"`
	LastError       string         `json:"lastError,omitempty"`
	LastSweep       string         `json:"lastSweep,omitempty"`
}

// CheckResult mirrors a preflight result.
type CheckResult struct {
	Name     string `json:"name"`
	Passed   bool   `json:"passed"`
	Optional bool   `json:"optional"`
	Detail   string `json:"detail,omitempty"`
}

// StepHealth mirrors readiness reporting for step handlers.
type StepHealth struct {
	Kind   string `json:"kind"`
	Ready  bool   `json:"ready"`
	Detail string `json:"detail,omitempty"`
}

// DaemonStatus aggregates daemon runtime information for API consumers.
type DaemonStatus struct {
	Running      bool            `json:"running"`
	PID          int             `json:"pid"`
	DatabasePath string          `json:"databasePath"`
	LockFilePath string          `json:"lockFilePath"`
	EventsTarget string          `json:"eventsTarget"`
	Scheduler    SchedulerStatus `json:"scheduler"`
	Checks       []CheckResult   `json:"checks"`
	Steps        []StepHealth    `json:"steps"`
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}
