package plugin

import "context"

// Request carries everything a handler needs to run one step.
type Request struct {
	ExecutionID string
	StepIndex   int
	Kind        Kind
	Parameters  map[string][]string
}

// Counts is the record tally a step reports on completion or failure.
type Counts struct {
	Processed       int
	Created         int
	Updated         int
	Deleted         int
	Failed          int
	FailedRecordIDs []string
}

// Reporter receives intermediate counts while a step runs.
type Reporter interface {
	Report(Counts)
}

// ReporterFunc adapts a function to Reporter.
type ReporterFunc func(Counts)

func (f ReporterFunc) Report(c Counts) {
	if f != nil {
		f(c)
	}
}

// Handler describes the contract the backend needs from each step kind.
// Execute must return promptly once ctx is cancelled.
type Handler interface {
	Execute(ctx context.Context, req Request, reporter Reporter) (Counts, error)
	HealthCheck(ctx context.Context) Health
}

// Health summarizes the readiness of a step handler.
type Health struct {
	Name   string
	Ready  bool
	Detail string
}

// Healthy constructs a ready Health record.
func Healthy(name string) Health {
	return Health{Name: name, Ready: true}
}

// Unhealthy constructs an unhealthy Health record with context detail.
func Unhealthy(name, detail string) Health {
	return Health{Name: name, Ready: false, Detail: detail}
}
