package backend

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"k8s.io/utils/clock"

	"curator/internal/logging"
	"curator/internal/plugin"
	"curator/internal/services"
)

// Local runs steps sequentially in a goroutine per dispatch.
type Local struct {
	registry *plugin.Registry
	clock    clock.PassiveClock
	logger   *slog.Logger

	mu      sync.Mutex
	running map[string]*localHandle
	wg      sync.WaitGroup
}

// NewLocal builds a backend resolving step kinds through registry.
func NewLocal(registry *plugin.Registry, clk clock.PassiveClock, logger *slog.Logger) *Local {
	if clk == nil {
		clk = clock.RealClock{}
	}
	return &Local{
		registry: registry,
		clock:    clk,
		logger:   logging.NewComponentLogger(logger, "backend"),
		running:  make(map[string]*localHandle),
	}
}

type localHandle struct {
	id     string
	events chan Event
	cancel context.CancelFunc
}

func (h *localHandle) ID() string           { return h.id }
func (h *localHandle) Events() <-chan Event { return h.events }

// Dispatch starts executing steps. The run outlives ctx; it ends when every
// step finishes, a step fails, or Cancel is called.
func (l *Local) Dispatch(ctx context.Context, executionID string, steps []StepSpec) (Handle, error) {
	if executionID == "" {
		return nil, errors.New("dispatch: execution id is required")
	}
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	runCtx = services.WithExecutionID(runCtx, executionID)
	handle := &localHandle{
		id:     executionID,
		events: make(chan Event, 2*len(steps)+1),
		cancel: cancel,
	}

	l.mu.Lock()
	if _, exists := l.running[executionID]; exists {
		l.mu.Unlock()
		cancel()
		return nil, fmt.Errorf("dispatch: execution %s is already running", executionID)
	}
	l.running[executionID] = handle
	l.mu.Unlock()

	specs := append([]StepSpec(nil), steps...)
	l.wg.Add(1)
	go l.run(runCtx, handle, specs)
	return handle, nil
}

// Cancel stops the run behind handle. Cancelling a finished run is a no-op.
func (l *Local) Cancel(handle Handle) error {
	if handle == nil {
		return ErrUnknownHandle
	}
	l.mu.Lock()
	h, ok := l.running[handle.ID()]
	l.mu.Unlock()
	if !ok {
		if _, issued := handle.(*localHandle); issued {
			return nil
		}
		return ErrUnknownHandle
	}
	h.cancel()
	return nil
}

// Close cancels every in-flight run and waits for them to stop.
func (l *Local) Close() {
	l.mu.Lock()
	for _, h := range l.running {
		h.cancel()
	}
	l.mu.Unlock()
	l.wg.Wait()
}

func (l *Local) run(ctx context.Context, handle *localHandle, steps []StepSpec) {
	defer l.wg.Done()
	defer func() {
		l.mu.Lock()
		delete(l.running, handle.id)
		l.mu.Unlock()
		handle.cancel()
		close(handle.events)
	}()

	emit := func(ev Event) {
		ev.At = l.clock.Now()
		handle.events <- ev
	}

	for _, step := range steps {
		if ctx.Err() != nil {
			emit(Event{Type: EventCancelled, StepIndex: step.Index, Kind: step.Kind})
			return
		}
		stepCtx := services.WithStep(ctx, string(step.Kind))
		logger := logging.WithContext(stepCtx, l.logger)

		handler, ok := l.registry.Lookup(step.Kind)
		if !ok {
			err := fmt.Errorf("no handler registered for step kind %q", step.Kind)
			logging.WarnWithContext(logger, "step has no handler", "backend_unknown_kind",
				logging.Error(err),
				logging.String(logging.FieldImpact, "execution halts at this step"),
			)
			emit(Event{Type: EventStepFailed, StepIndex: step.Index, Kind: step.Kind, Err: err})
			return
		}

		emit(Event{Type: EventStepStarted, StepIndex: step.Index, Kind: step.Kind})
		reporter := plugin.ReporterFunc(func(c plugin.Counts) {
			logger.Debug("step progress", logging.Int("processed", c.Processed), logging.Int("failed", c.Failed))
		})
		counts, err := handler.Execute(stepCtx, plugin.Request{
			ExecutionID: handle.id,
			StepIndex:   step.Index,
			Kind:        step.Kind,
			Parameters:  step.Parameters,
		}, reporter)

		switch {
		case ctx.Err() != nil:
			emit(Event{Type: EventCancelled, StepIndex: step.Index, Kind: step.Kind, Counts: counts})
			return
		case err != nil:
			logger.Info("step failed", logging.Error(err), logging.Int("failed", counts.Failed))
			emit(Event{Type: EventStepFailed, StepIndex: step.Index, Kind: step.Kind, Counts: counts, Err: err})
			return
		default:
			emit(Event{Type: EventStepFinished, StepIndex: step.Index, Kind: step.Kind, Counts: counts})
		}
	}
	emit(Event{Type: EventCompleted})
}
