package api

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"curator/internal/plugin"
	"curator/internal/preflight"
	"curator/internal/scheduler"
	"curator/internal/store"
)

// FromExecution converts an execution record to its API representation.
func FromExecution(rec *store.ExecutionRecord) Execution {
	if rec == nil {
		return Execution{}
	}
	dto := Execution{
		ID:           rec.ID,
		DatasetID:    rec.DatasetID,
		Owner:        rec.Owner,
		WorkflowName: rec.WorkflowName,
		Priority:     rec.Priority,
		Status:       rec.Status.String(),
		Cancelling:   rec.Cancelling,
		CreatedAt:    FormatTime(rec.CreatedAt),
		StartedAt:    formatTimePtr(rec.StartedAt),
		UpdatedAt:    FormatTime(rec.UpdatedAt),
		FinishedAt:   formatTimePtr(rec.FinishedAt),
		Steps:        make([]Step, 0, len(rec.Steps)),
	}
	for _, step := range rec.Steps {
		dto.Steps = append(dto.Steps, Step{
			Kind:             step.Kind.String(),
			Status:           step.Status.String(),
			RequestedOrder:   step.RequestedOrder,
			RecordsProcessed: step.RecordsProcessed,
			RecordsCreated:   step.RecordsCreated,
			RecordsUpdated:   step.RecordsUpdated,
			RecordsDeleted:   step.RecordsDeleted,
			RecordsFailed:    step.RecordsFailed,
			FailedRecordIDs:  slices.Clone(step.FailedRecordIDs),
			StartedAt:        formatTimePtr(step.StartedAt),
			FinishedAt:       formatTimePtr(step.FinishedAt),
			ErrorMessage:     step.ErrorMessage,
		})
	}
	return dto
}

// FromExecutions converts a slice of execution records into API DTOs.
func FromExecutions(records []*store.ExecutionRecord) []Execution {
	out := make([]Execution, 0, len(records))
	for _, rec := range records {
		out = append(out, FromExecution(rec))
	}
	return out
}

// FromWorkflow converts a workflow definition to its API representation.
func FromWorkflow(def *store.WorkflowDefinition) Workflow {
	if def == nil {
		return Workflow{}
	}
	dto := Workflow{
		ID:        def.ID,
		DatasetID: def.DatasetID,
		Owner:     def.Owner,
		Name:      def.Name,
		Steps:     make([]StepConfig, 0, len(def.Steps)),
		CreatedAt: FormatTime(def.CreatedAt),
		UpdatedAt: FormatTime(def.UpdatedAt),
	}
	for _, step := range def.Steps {
		dto.Steps = append(dto.Steps, StepConfig{Kind: step.Kind.String(), Parameters: step.Parameters})
	}
	return dto
}

// ToWorkflow converts a workflow payload into a store definition. Unknown
// step kinds are rejected here so the daemon never persists them.
func ToWorkflow(dto Workflow) (*store.WorkflowDefinition, error) {
	def := &store.WorkflowDefinition{
		ID:        dto.ID,
		DatasetID: dto.DatasetID,
		Owner:     dto.Owner,
		Name:      dto.Name,
		Steps:     make([]store.StepConfig, 0, len(dto.Steps)),
	}
	for i, step := range dto.Steps {
		kind, ok := plugin.ParseKind(step.Kind)
		if !ok {
			return nil, fmt.Errorf("step %d: unknown kind %q", i+1, step.Kind)
		}
		def.Steps = append(def.Steps, store.StepConfig{Kind: kind, Parameters: step.Parameters})
	}
	return def, nil
}

// FromSchedule converts a scheduled trigger to its API representation.
func FromSchedule(trig *store.ScheduledTrigger) Schedule {
	if trig == nil {
		return Schedule{}
	}
	return Schedule{
		ID:              trig.ID,
		DatasetID:       trig.DatasetID,
		Owner:           trig.Owner,
		WorkflowName:    trig.WorkflowName,
		PointerDate:     FormatTime(trig.PointerDate),
		Frequency:       string(trig.Frequency),
		Priority:        trig.Priority,
		Active:          trig.Active,
		LastFiredAt:     formatTimePtr(trig.LastFiredAt),
		LastExecutionID: trig.LastExecutionID,
	}
}

// ToSchedule parses a schedule payload. The pointer date accepts RFC3339
// and a bare date, which is read as midnight UTC.
func ToSchedule(dto Schedule) (*store.ScheduledTrigger, error) {
	pointer, err := ParseTime(dto.PointerDate)
	if err != nil {
		return nil, fmt.Errorf("pointer date: %w", err)
	}
	return &store.ScheduledTrigger{
		ID:           dto.ID,
		DatasetID:    dto.DatasetID,
		Owner:        dto.Owner,
		WorkflowName: dto.WorkflowName,
		PointerDate:  pointer,
		Frequency:    store.ParseFrequency(dto.Frequency),
		Priority:     dto.Priority,
		Active:       true,
	}, nil
}

// FromSchedules converts triggers into API DTOs.
func FromSchedules(triggers []*store.ScheduledTrigger) []Schedule {
	out := make([]Schedule, 0, len(triggers))
	for _, trig := range triggers {
		out = append(out, FromSchedule(trig))
	}
	return out
}

// FromStatusSummary converts a scheduler status summary to API payload.
func FromStatusSummary(summary scheduler.StatusSummary, lastSweep time.Time) SchedulerStatus {
	queue := make([]QueueEntry, 0, len(summary.Queued))
	for _, entry := range summary.Queued {
		queue = append(queue, QueueEntry{
			ExecutionID: entry.ID,
			Priority:    entry.Priority,
			CreatedAt:   FormatTime(entry.CreatedAt),
		})
	}
	h := summary.Health
	return SchedulerStatus{
		ConsumerRunning: summary.ConsumerRunning,
		Workers:         summary.Workers,
		QueueDepth:      summary.QueueDepth,
		Queue:           queue,
		InFlight:        append([]string{}, summary.InFlight...),
		Counts: map[string]int{
			store.StatusInQueue.String():   h.InQueue,
			store.StatusRunning.String():   h.Running,
			store.StatusFinished.String():  h.Finished,
			store.StatusCancelled.String(): h.Cancelled,
		},
		Cancelling:     h.Cancelling,
		ActiveTriggers: h.ActiveTriggers,
		LastError:      summary.LastError,
		LastSweep:      FormatTime(lastSweep),
	}
}

// CheckResults converts preflight results.
func CheckResults(results []preflight.Result) []CheckResult {
	out := make([]CheckResult, 0, len(results))
	for _, r := range results {
		out = append(out, CheckResult{Name: r.Name, Passed: r.Passed, Optional: r.Optional, Detail: r.Detail})
	}
	return out
}

// StepHealthSlice converts handler health into a slice sorted by kind.
func StepHealthSlice(health []plugin.Health) []StepHealth {
	if len(health) == 0 {
		return nil
	}
	out := make([]StepHealth, 0, len(health))
	for _, h := range health {
		out = append(out, StepHealth{Kind: h.Name, Ready: h.Ready, Detail: h.Detail})
	}
	slices.SortFunc(out, func(a, b StepHealth) int { return strings.Compare(a.Kind, b.Kind) })
	return out
}

// FormatTime converts a time to RFC3339 or returns empty string.
func FormatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(dateTimeFormat)
}

// ParseTime reads an RFC3339 timestamp or a YYYY-MM-DD date.
func ParseTime(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, fmt.Errorf("empty timestamp")
	}
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t.UTC(), nil
	}
	t, err := time.Parse(time.DateOnly, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse %q: expected RFC3339 or YYYY-MM-DD", value)
	}
	return t.UTC(), nil
}

func formatTimePtr(t *time.Time) string {
	if t == nil {
		return ""
	}
	return FormatTime(*t)
}
