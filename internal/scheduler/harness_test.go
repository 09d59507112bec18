package scheduler_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	testingclock "k8s.io/utils/clock/testing"

	"curator/internal/backend"
	"curator/internal/execqueue"
	"curator/internal/metrics"
	"curator/internal/plugin"
	"curator/internal/scheduler"
	"curator/internal/store"
	"curator/internal/testsupport"
	"curator/internal/workflows"
)

var epoch = time.Date(2026, 1, 5, 9, 0, 0, 0, time.UTC)

type fakeHandle struct {
	id     string
	events chan backend.Event
	once   sync.Once
}

func (h *fakeHandle) ID() string                   { return h.id }
func (h *fakeHandle) Events() <-chan backend.Event { return h.events }

func (h *fakeHandle) send(ev backend.Event) { h.events <- ev }

func (h *fakeHandle) close() { h.once.Do(func() { close(h.events) }) }

// fakeBackend hands out handles driven by the test. Cancel acknowledges
// with a Cancelled event unless ackCancel is false.
type fakeBackend struct {
	mu         sync.Mutex
	handles    map[string]*fakeHandle
	dispatched []string
	cancelled  []string
	ackCancel  bool
	gate       chan struct{}
	entered    chan string
	dispatchFn func(id string) error
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		handles:   make(map[string]*fakeHandle),
		ackCancel: true,
		entered:   make(chan string, 32),
	}
}

func (b *fakeBackend) Dispatch(_ context.Context, id string, steps []backend.StepSpec) (backend.Handle, error) {
	b.entered <- id
	b.mu.Lock()
	gate := b.gate
	fn := b.dispatchFn
	b.mu.Unlock()
	if gate != nil {
		<-gate
	}
	if fn != nil {
		if err := fn(id); err != nil {
			return nil, err
		}
	}
	h := &fakeHandle{id: id, events: make(chan backend.Event, 4*len(steps)+4)}
	b.mu.Lock()
	b.handles[id] = h
	b.dispatched = append(b.dispatched, id)
	b.mu.Unlock()
	return h, nil
}

func (b *fakeBackend) Cancel(handle backend.Handle) error {
	b.mu.Lock()
	h, ok := b.handles[handle.ID()]
	b.cancelled = append(b.cancelled, handle.ID())
	ack := b.ackCancel
	b.mu.Unlock()
	if !ok {
		return backend.ErrUnknownHandle
	}
	if ack {
		h.send(backend.Event{Type: backend.EventCancelled, StepIndex: -1})
		h.close()
	}
	return nil
}

func (b *fakeBackend) handle(id string) *fakeHandle {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.handles[id]
}

func (b *fakeBackend) dispatchCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.dispatched)
}

func (b *fakeBackend) cancelCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.cancelled)
}

type harness struct {
	t       *testing.T
	ctx     context.Context
	store   *store.Store
	orch    *scheduler.Orchestrator
	backend *fakeBackend
	clock   *testingclock.FakeClock
	queue   *execqueue.Queue
	metrics *metrics.Metrics
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	return newHarnessWithStore(t, nil)
}

// newHarnessWithStore builds a harness whose orchestrator persists through
// wrap(st) instead of the store itself.
func newHarnessWithStore(t *testing.T, wrap func(*store.Store) scheduler.ExecutionStore) *harness {
	t.Helper()
	fc := testingclock.NewFakeClock(epoch)
	st := testsupport.MustOpenStore(t, testsupport.NewConfig(t), store.WithClock(fc))
	testsupport.RegisterDatasets(t, st, "ds1", "ds2", "ds3")
	testsupport.InsertWorkflow(t, st, "tester", "index",
		plugin.KindHTTPHarvest, plugin.KindValidationExternal, plugin.KindPublish)

	h := &harness{
		t:       t,
		ctx:     context.Background(),
		store:   st,
		backend: newFakeBackend(),
		clock:   fc,
		queue:   execqueue.New(),
		metrics: metrics.New(),
	}
	var execStore scheduler.ExecutionStore = st
	if wrap != nil {
		execStore = wrap(st)
	}
	orch, err := scheduler.New(scheduler.Dependencies{
		Store:     execStore,
		Datasets:  st,
		Workflows: workflows.NewRegistry(st),
		Queue:     h.queue,
		Backend:   h.backend,
		Clock:     fc,
		Metrics:   h.metrics,
	}, scheduler.Options{Workers: 1, MonitorInterval: time.Second})
	require.NoError(t, err)
	h.orch = orch
	t.Cleanup(orch.Stop)
	return h
}

func (h *harness) start() {
	h.t.Helper()
	require.NoError(h.t, h.orch.Start(h.ctx))
}

func (h *harness) submit(datasetID string) string {
	h.t.Helper()
	id, err := h.orch.Submit(h.ctx, datasetID, "tester", "index", 0)
	require.NoError(h.t, err)
	return id
}

func (h *harness) record(id string) *store.ExecutionRecord {
	h.t.Helper()
	rec, err := h.store.GetExecution(h.ctx, id)
	require.NoError(h.t, err)
	require.NotNil(h.t, rec)
	return rec
}

func (h *harness) waitDispatched(id string) *fakeHandle {
	h.t.Helper()
	require.Eventually(h.t, func() bool { return h.backend.handle(id) != nil }, 5*time.Second, 5*time.Millisecond)
	return h.backend.handle(id)
}

func (h *harness) waitStatus(id string, status store.ExecutionStatus) *store.ExecutionRecord {
	h.t.Helper()
	require.Eventually(h.t, func() bool {
		rec, err := h.store.GetExecution(h.ctx, id)
		return err == nil && rec != nil && rec.Status == status
	}, 5*time.Second, 5*time.Millisecond)
	return h.record(id)
}

func (h *harness) waitStep(id string, index int, status store.ExecutionStatus) {
	h.t.Helper()
	require.Eventually(h.t, func() bool {
		rec, err := h.store.GetExecution(h.ctx, id)
		return err == nil && rec != nil && rec.Steps[index].Status == status
	}, 5*time.Second, 5*time.Millisecond)
}

func stepStatuses(rec *store.ExecutionRecord) []store.ExecutionStatus {
	out := make([]store.ExecutionStatus, len(rec.Steps))
	for i, s := range rec.Steps {
		out[i] = s.Status
	}
	return out
}

var errBackendDown = errors.New("backend down")

var errStoreDown = errors.New("database is locked")

// flakyStore fails the next N calls of selected writes, then delegates.
type flakyStore struct {
	*store.Store
	finishFailures  atomic.Int32
	cancelFailures  atomic.Int32
	advanceFailures atomic.Int32
}

func (f *flakyStore) FinishExecution(ctx context.Context, rec *store.ExecutionRecord) (bool, error) {
	if f.finishFailures.Add(-1) >= 0 {
		return false, errStoreDown
	}
	return f.Store.FinishExecution(ctx, rec)
}

func (f *flakyStore) CancelQueued(ctx context.Context, id string, at time.Time) (bool, error) {
	if f.cancelFailures.Add(-1) >= 0 {
		return false, errStoreDown
	}
	return f.Store.CancelQueued(ctx, id, at)
}

func (f *flakyStore) AdvanceTrigger(ctx context.Context, id string, expected, next, firedAt time.Time, executionID string) (bool, error) {
	if f.advanceFailures.Add(-1) >= 0 {
		return false, errStoreDown
	}
	return f.Store.AdvanceTrigger(ctx, id, expected, next, firedAt, executionID)
}

func newFlakyHarness(t *testing.T) (*harness, *flakyStore) {
	t.Helper()
	var flaky *flakyStore
	h := newHarnessWithStore(t, func(st *store.Store) scheduler.ExecutionStore {
		flaky = &flakyStore{Store: st}
		return flaky
	})
	return h, flaky
}
