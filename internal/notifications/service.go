package notifications

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"curator/internal/config"
	"curator/internal/logging"
)

// Event identifies a lifecycle milestone.
type Event string

const (
	EventSubmitted    Event = "execution.submitted"
	EventStarted      Event = "execution.started"
	EventFinished     Event = "execution.finished"
	EventCancelled    Event = "execution.cancelled"
	EventStepFailed   Event = "execution.step_failed"
	EventTriggerFired Event = "trigger.fired"
)

// Message is the payload published for an event.
type Message struct {
	Event        Event     `json:"event"`
	ExecutionID  string    `json:"execution_id,omitempty"`
	DatasetID    string    `json:"dataset_id"`
	Owner        string    `json:"owner,omitempty"`
	WorkflowName string    `json:"workflow_name,omitempty"`
	Status       string    `json:"status,omitempty"`
	Step         string    `json:"step,omitempty"`
	Error        string    `json:"error,omitempty"`
	At           time.Time `json:"at"`
}

// Service defines the notification surface exposed to the scheduler.
type Service interface {
	Publish(ctx context.Context, msg Message) error
	Close() error
}

// NewService returns a Kafka publisher when brokers are configured and a
// log-only publisher otherwise.
func NewService(cfg *config.Config, logger *slog.Logger) Service {
	if cfg != nil && cfg.EventsEnabled() {
		return NewKafka(cfg.Events.KafkaBrokers, strings.TrimSpace(cfg.Events.KafkaTopic), time.Duration(cfg.Events.WriteTimeout)*time.Second, logger)
	}
	return NewLog(logger)
}

type logService struct {
	logger *slog.Logger
}

// NewLog builds a notifier that writes each event at info level.
func NewLog(logger *slog.Logger) Service {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &logService{logger: logger.With(logging.String(logging.FieldComponent, "notifications"))}
}

func (l *logService) Publish(ctx context.Context, msg Message) error {
	attrs := []logging.Attr{
		logging.String(logging.FieldEventType, string(msg.Event)),
		logging.String(logging.FieldDatasetID, msg.DatasetID),
	}
	if msg.ExecutionID != "" {
		attrs = append(attrs, logging.String(logging.FieldExecutionID, msg.ExecutionID))
	}
	if msg.WorkflowName != "" {
		attrs = append(attrs, logging.String(logging.FieldWorkflow, msg.Owner+"/"+msg.WorkflowName))
	}
	if msg.Status != "" {
		attrs = append(attrs, logging.String("status", msg.Status))
	}
	if msg.Step != "" {
		attrs = append(attrs, logging.String(logging.FieldStep, msg.Step))
	}
	if msg.Error != "" {
		attrs = append(attrs, logging.String("error", msg.Error))
	}
	l.logger.InfoContext(ctx, "lifecycle event", logging.Args(attrs...)...)
	return nil
}

func (l *logService) Close() error { return nil }

// Noop discards every event.
type Noop struct{}

func (Noop) Publish(context.Context, Message) error { return nil }
func (Noop) Close() error                           { return nil }
