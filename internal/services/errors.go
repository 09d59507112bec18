package services

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrDatasetNotFound               = errors.New("dataset not found")
	ErrWorkflowNotFound              = errors.New("workflow not found")
	ErrWorkflowAlreadyExists         = errors.New("workflow already exists")
	ErrInvalidWorkflow               = errors.New("invalid workflow definition")
	ErrExecutionNotFound             = errors.New("execution not found")
	ErrExecutionAlreadyExists        = errors.New("execution already exists")
	ErrScheduledTriggerNotFound      = errors.New("scheduled trigger not found")
	ErrScheduledTriggerAlreadyExists = errors.New("scheduled trigger already exists")
	ErrInvalidTrigger                = errors.New("invalid scheduled trigger")
	ErrValidation                    = errors.New("validation error")
)

// Kind is a stable, transport-friendly name for an error marker.
type Kind string

const (
	KindNone          Kind = ""
	KindNotFound      Kind = "not_found"
	KindAlreadyExists Kind = "already_exists"
	KindInvalid       Kind = "invalid"
	KindInternal      Kind = "internal"
)

// Wrap builds an error message that includes operation context while tagging
// it with the provided marker. The marker should be one of the exported
// sentinel errors above.
func Wrap(marker error, operation, message string, err error) error {
	detail := buildDetail(operation, message)
	if marker == nil {
		marker = ErrValidation
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

// Classify maps an error onto its coarse kind.
func Classify(err error) Kind {
	switch {
	case err == nil:
		return KindNone
	case errors.Is(err, ErrDatasetNotFound),
		errors.Is(err, ErrWorkflowNotFound),
		errors.Is(err, ErrExecutionNotFound),
		errors.Is(err, ErrScheduledTriggerNotFound):
		return KindNotFound
	case errors.Is(err, ErrWorkflowAlreadyExists),
		errors.Is(err, ErrExecutionAlreadyExists),
		errors.Is(err, ErrScheduledTriggerAlreadyExists):
		return KindAlreadyExists
	case errors.Is(err, ErrInvalidTrigger),
		errors.Is(err, ErrInvalidWorkflow),
		errors.Is(err, ErrValidation):
		return KindInvalid
	default:
		return KindInternal
	}
}

func buildDetail(operation, message string) string {
	parts := make([]string, 0, 2)
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "request rejected"
	}
	return strings.Join(parts, ": ")
}
