package store_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"curator/internal/plugin"
	"curator/internal/services"
	"curator/internal/store"
	"curator/internal/testsupport"
)

func newExecution(datasetID string, priority int, kinds ...plugin.Kind) *store.ExecutionRecord {
	rec := &store.ExecutionRecord{
		DatasetID:    datasetID,
		Owner:        "tester",
		WorkflowName: "index",
		Priority:     priority,
		Status:       store.StatusInQueue,
	}
	for i, kind := range kinds {
		rec.Steps = append(rec.Steps, store.StepState{Kind: kind, Status: store.StatusInQueue, RequestedOrder: i})
	}
	return rec
}

func TestCreateExecutionRoundTrip(t *testing.T) {
	st := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	ctx := context.Background()

	rec := newExecution("ds1", 3, plugin.KindHTTPHarvest, plugin.KindPublish)
	if err := st.CreateExecution(ctx, rec); err != nil {
		t.Fatalf("CreateExecution failed: %v", err)
	}
	if rec.ID == "" {
		t.Fatal("expected id to be assigned")
	}

	fetched, err := st.GetExecution(ctx, rec.ID)
	if err != nil {
		t.Fatalf("GetExecution failed: %v", err)
	}
	if fetched == nil {
		t.Fatal("expected execution to be found")
	}
	if fetched.Status != store.StatusInQueue || fetched.Priority != 3 || len(fetched.Steps) != 2 {
		t.Fatalf("unexpected execution: %#v", fetched)
	}
	if fetched.Steps[1].Kind != plugin.KindPublish || fetched.Steps[1].RequestedOrder != 1 {
		t.Fatalf("unexpected step snapshot: %#v", fetched.Steps[1])
	}
	if !fetched.CreatedAt.Equal(rec.CreatedAt) {
		t.Fatalf("created_at drifted: %s vs %s", fetched.CreatedAt, rec.CreatedAt)
	}

	missing, err := st.GetExecution(ctx, "nope")
	if err != nil || missing != nil {
		t.Fatalf("expected nil for unknown id, got %#v, %v", missing, err)
	}
}

func TestCreateExecutionRejectsSecondActive(t *testing.T) {
	st := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	ctx := context.Background()

	first := newExecution("ds1", 0, plugin.KindPreview)
	if err := st.CreateExecution(ctx, first); err != nil {
		t.Fatalf("CreateExecution failed: %v", err)
	}
	err := st.CreateExecution(ctx, newExecution("ds1", 0, plugin.KindPreview))
	if !errors.Is(err, services.ErrExecutionAlreadyExists) {
		t.Fatalf("expected ErrExecutionAlreadyExists, got %v", err)
	}

	id, found, err := st.ActiveExecutionForDataset(ctx, "ds1")
	if err != nil || !found || id != first.ID {
		t.Fatalf("ActiveExecutionForDataset = %q, %v, %v", id, found, err)
	}
	if err := st.CreateExecution(ctx, newExecution("ds2", 0, plugin.KindPreview)); err != nil {
		t.Fatalf("other dataset should be independent: %v", err)
	}
}

func TestCreateExecutionConcurrentSubmittersKeepOneActive(t *testing.T) {
	st := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	ctx := context.Background()

	const writers = 4
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		conflicts int
		other     []error
	)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := st.CreateExecution(ctx, newExecution("contended", 0, plugin.KindEnrichment))
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case errors.Is(err, services.ErrExecutionAlreadyExists):
				conflicts++
			default:
				other = append(other, err)
			}
		}()
	}
	wg.Wait()

	if len(other) > 0 {
		t.Fatalf("unexpected errors: %v", other)
	}
	if successes != 1 || conflicts != writers-1 {
		t.Fatalf("expected one winner, got %d successes and %d conflicts", successes, conflicts)
	}
	active, err := st.ListExecutions(ctx, store.ExecutionFilter{DatasetID: "contended", Statuses: []store.ExecutionStatus{store.StatusInQueue, store.StatusRunning}})
	if err != nil {
		t.Fatalf("ListExecutions failed: %v", err)
	}
	if len(active) != 1 {
		t.Fatalf("expected exactly one active execution, got %d", len(active))
	}
}

func TestMarkRunningRespectsCancellation(t *testing.T) {
	st := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	ctx := context.Background()
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	rec := newExecution("ds1", 0, plugin.KindHTTPHarvest)
	if err := st.CreateExecution(ctx, rec); err != nil {
		t.Fatalf("CreateExecution failed: %v", err)
	}
	flagged, err := st.RequestCancel(ctx, rec.ID)
	if err != nil || !flagged {
		t.Fatalf("RequestCancel = %v, %v", flagged, err)
	}
	started, err := st.MarkRunning(ctx, rec.ID, now)
	if err != nil {
		t.Fatalf("MarkRunning failed: %v", err)
	}
	if started {
		t.Fatal("expected MarkRunning to refuse a cancelling execution")
	}

	other := newExecution("ds2", 0, plugin.KindHTTPHarvest)
	if err := st.CreateExecution(ctx, other); err != nil {
		t.Fatalf("CreateExecution failed: %v", err)
	}
	started, err = st.MarkRunning(ctx, other.ID, now)
	if err != nil || !started {
		t.Fatalf("MarkRunning = %v, %v", started, err)
	}
	again, err := st.MarkRunning(ctx, other.ID, now)
	if err != nil || again {
		t.Fatalf("second MarkRunning = %v, %v", again, err)
	}
	fetched, _ := st.GetExecution(ctx, other.ID)
	if fetched.Status != store.StatusRunning || fetched.StartedAt == nil || !fetched.StartedAt.Equal(now) {
		t.Fatalf("unexpected running record: %#v", fetched)
	}
}

func TestCancelQueuedCascadesAndFreesDataset(t *testing.T) {
	st := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	ctx := context.Background()
	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	rec := newExecution("ds1", 0, plugin.KindHTTPHarvest, plugin.KindPublish)
	if err := st.CreateExecution(ctx, rec); err != nil {
		t.Fatalf("CreateExecution failed: %v", err)
	}
	ok, err := st.CancelQueued(ctx, rec.ID, at)
	if err != nil || !ok {
		t.Fatalf("CancelQueued = %v, %v", ok, err)
	}
	fetched, _ := st.GetExecution(ctx, rec.ID)
	if fetched.Status != store.StatusCancelled || fetched.FinishedAt == nil {
		t.Fatalf("expected cancelled record, got %#v", fetched)
	}
	for _, step := range fetched.Steps {
		if step.Status != store.StatusCancelled {
			t.Fatalf("expected cascaded step, got %s", step.Status)
		}
	}
	ok, err = st.CancelQueued(ctx, rec.ID, at)
	if err != nil || ok {
		t.Fatalf("second CancelQueued = %v, %v", ok, err)
	}
	if err := st.CreateExecution(ctx, newExecution("ds1", 0, plugin.KindPublish)); err != nil {
		t.Fatalf("expected dataset to accept a new execution: %v", err)
	}
}

func TestSaveProgressPreservesCancelling(t *testing.T) {
	st := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	ctx := context.Background()
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	rec := newExecution("ds1", 0, plugin.KindHTTPHarvest, plugin.KindPublish)
	if err := st.CreateExecution(ctx, rec); err != nil {
		t.Fatalf("CreateExecution failed: %v", err)
	}
	if _, err := st.MarkRunning(ctx, rec.ID, now); err != nil {
		t.Fatalf("MarkRunning failed: %v", err)
	}
	local, _ := st.GetExecution(ctx, rec.ID)

	if _, err := st.RequestCancel(ctx, rec.ID); err != nil {
		t.Fatalf("RequestCancel failed: %v", err)
	}
	local.Steps[0].Status = store.StatusFinished
	local.Steps[0].RecordsProcessed = 10
	if err := st.SaveProgress(ctx, local); err != nil {
		t.Fatalf("SaveProgress failed: %v", err)
	}

	fetched, _ := st.GetExecution(ctx, rec.ID)
	if !fetched.Cancelling {
		t.Fatal("SaveProgress must not clear the cancelling flag")
	}
	if fetched.Steps[0].Status != store.StatusFinished || fetched.Steps[0].RecordsProcessed != 10 {
		t.Fatalf("progress not saved: %#v", fetched.Steps[0])
	}

	fetched.CancelCascade(now.Add(time.Minute))
	finished, err := st.FinishExecution(ctx, fetched)
	if err != nil || !finished {
		t.Fatalf("FinishExecution = %v, %v", finished, err)
	}
	final, _ := st.GetExecution(ctx, rec.ID)
	if final.Status != store.StatusCancelled || final.Cancelling {
		t.Fatalf("unexpected final record: %#v", final)
	}
	if final.Steps[0].Status != store.StatusFinished || final.Steps[1].Status != store.StatusCancelled {
		t.Fatalf("cascade should keep finished steps: %#v", final.Steps)
	}
	again, err := st.FinishExecution(ctx, final)
	if err != nil || again {
		t.Fatalf("terminal records must stay immutable, got %v, %v", again, err)
	}
}

func TestRemoveCompletedFrom(t *testing.T) {
	st := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	ctx := context.Background()

	active := newExecution("ds1", 0, plugin.KindPreview)
	done := newExecution("ds2", 0, plugin.KindPreview)
	for _, rec := range []*store.ExecutionRecord{active, done} {
		if err := st.CreateExecution(ctx, rec); err != nil {
			t.Fatalf("CreateExecution failed: %v", err)
		}
	}
	if _, err := st.CancelQueued(ctx, done.ID, time.Now()); err != nil {
		t.Fatalf("CancelQueued failed: %v", err)
	}

	remaining, err := st.RemoveCompletedFrom(ctx, []string{active.ID, done.ID, "unknown"}, time.Second)
	if err != nil {
		t.Fatalf("RemoveCompletedFrom failed: %v", err)
	}
	if len(remaining) != 1 || remaining[0] != active.ID {
		t.Fatalf("unexpected remaining ids: %v", remaining)
	}

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	partial, err := st.RemoveCompletedFrom(cancelled, []string{active.ID}, time.Second)
	if err == nil {
		t.Fatal("expected error for cancelled context")
	}
	if len(partial) != 0 {
		t.Fatalf("expected empty partial result, got %v", partial)
	}
}

func TestRequeueInterrupted(t *testing.T) {
	st := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	ctx := context.Background()
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	running := newExecution("ds1", 0, plugin.KindHTTPHarvest, plugin.KindPublish)
	cancelling := newExecution("ds2", 0, plugin.KindHTTPHarvest)
	queued := newExecution("ds3", 0, plugin.KindHTTPHarvest)
	for _, rec := range []*store.ExecutionRecord{running, cancelling, queued} {
		if err := st.CreateExecution(ctx, rec); err != nil {
			t.Fatalf("CreateExecution failed: %v", err)
		}
	}
	for _, rec := range []*store.ExecutionRecord{running, cancelling} {
		if _, err := st.MarkRunning(ctx, rec.ID, now); err != nil {
			t.Fatalf("MarkRunning failed: %v", err)
		}
	}
	progress, _ := st.GetExecution(ctx, running.ID)
	progress.Steps[0].Status = store.StatusFinished
	progress.Steps[0].RecordsProcessed = 5
	if err := st.SaveProgress(ctx, progress); err != nil {
		t.Fatalf("SaveProgress failed: %v", err)
	}
	if _, err := st.RequestCancel(ctx, cancelling.ID); err != nil {
		t.Fatalf("RequestCancel failed: %v", err)
	}

	requeued, cancelled, err := st.RequeueInterrupted(ctx, now.Add(time.Hour))
	if err != nil {
		t.Fatalf("RequeueInterrupted failed: %v", err)
	}
	if requeued != 1 || cancelled != 1 {
		t.Fatalf("expected 1 requeued and 1 cancelled, got %d and %d", requeued, cancelled)
	}

	got, _ := st.GetExecution(ctx, running.ID)
	if got.Status != store.StatusInQueue || got.StartedAt != nil {
		t.Fatalf("expected requeued record, got %#v", got)
	}
	if got.Steps[0].Status != store.StatusInQueue || got.Steps[0].RecordsProcessed != 0 {
		t.Fatalf("expected steps reset, got %#v", got.Steps[0])
	}
	gone, _ := st.GetExecution(ctx, cancelling.ID)
	if gone.Status != store.StatusCancelled {
		t.Fatalf("expected cancelled record, got %s", gone.Status)
	}

	active, err := st.ListActiveExecutions(ctx)
	if err != nil {
		t.Fatalf("ListActiveExecutions failed: %v", err)
	}
	if len(active) != 2 {
		t.Fatalf("expected 2 active executions, got %d", len(active))
	}
}

func TestParseExecutionStatusNormalizesUnknown(t *testing.T) {
	if got := store.ParseExecutionStatus("paused"); got != store.StatusNull {
		t.Fatalf("expected StatusNull, got %q", got)
	}
	if got := store.ParseExecutionStatus("FAILED"); got != store.StatusNull {
		t.Fatalf("FAILED is not an execution status, got %q", got)
	}
	if got := store.ParseStepStatus("failed"); got != store.StatusFailed {
		t.Fatalf("expected FAILED step status, got %q", got)
	}
	if got := store.ParseExecutionStatus(" running "); got != store.StatusRunning {
		t.Fatalf("expected RUNNING, got %q", got)
	}
}

func TestHealthCountsStatuses(t *testing.T) {
	st := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	ctx := context.Background()

	a := newExecution("ds1", 0, plugin.KindPreview)
	b := newExecution("ds2", 0, plugin.KindPreview)
	for _, rec := range []*store.ExecutionRecord{a, b} {
		if err := st.CreateExecution(ctx, rec); err != nil {
			t.Fatalf("CreateExecution failed: %v", err)
		}
	}
	if _, err := st.MarkRunning(ctx, b.ID, time.Now()); err != nil {
		t.Fatalf("MarkRunning failed: %v", err)
	}
	if _, err := st.RequestCancel(ctx, b.ID); err != nil {
		t.Fatalf("RequestCancel failed: %v", err)
	}
	health, err := st.Health(ctx)
	if err != nil {
		t.Fatalf("Health failed: %v", err)
	}
	if health.Total != 2 || health.InQueue != 1 || health.Running != 1 || health.Cancelling != 1 {
		t.Fatalf("unexpected health: %+v", health)
	}
}

func TestUpdateExecutionWritesFullRecord(t *testing.T) {
	st := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	ctx := context.Background()

	rec := newExecution("ds1", 3, plugin.KindHTTPHarvest, plugin.KindPublish)
	if err := st.CreateExecution(ctx, rec); err != nil {
		t.Fatalf("CreateExecution failed: %v", err)
	}

	started := time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)
	finished := started.Add(time.Hour)
	rec.Priority = 7
	rec.Status = store.StatusFinished
	rec.StartedAt = &started
	rec.FinishedAt = &finished
	rec.Steps[0].Status = store.StatusFinished
	rec.Steps[0].RecordsProcessed = 12
	rec.Steps[1].Status = store.StatusFinished
	if err := st.UpdateExecution(ctx, rec); err != nil {
		t.Fatalf("UpdateExecution failed: %v", err)
	}

	got, err := st.GetExecution(ctx, rec.ID)
	if err != nil || got == nil {
		t.Fatalf("GetExecution: %v %v", got, err)
	}
	if got.Priority != 7 || got.Status != store.StatusFinished {
		t.Fatalf("unexpected execution after update: %#v", got)
	}
	if got.StartedAt == nil || !got.StartedAt.Equal(started) || got.FinishedAt == nil || !got.FinishedAt.Equal(finished) {
		t.Fatalf("timestamps not written: started=%v finished=%v", got.StartedAt, got.FinishedAt)
	}
	if got.Steps[0].RecordsProcessed != 12 || got.Steps[1].Status != store.StatusFinished {
		t.Fatalf("steps not written: %#v", got.Steps)
	}
	if _, found, err := st.ActiveExecutionForDataset(ctx, "ds1"); err != nil || found {
		t.Fatalf("finished execution still active: found=%v err=%v", found, err)
	}

	ghost := newExecution("ds2", 0)
	ghost.ID = "ghost"
	if err := st.UpdateExecution(ctx, ghost); !errors.Is(err, services.ErrExecutionNotFound) {
		t.Fatalf("expected ErrExecutionNotFound, got %v", err)
	}
}
