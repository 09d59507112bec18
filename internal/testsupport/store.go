package testsupport

import (
	"context"
	"testing"

	"curator/internal/config"
	"curator/internal/plugin"
	"curator/internal/store"
)

// MustOpenStore opens a store.Store for tests and registers cleanup.
func MustOpenStore(t testing.TB, cfg *config.Config, opts ...store.Option) *store.Store {
	t.Helper()

	st, err := store.Open(cfg, opts...)
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() {
		st.Close()
	})
	return st
}

// RegisterDatasets adds each id to the dataset registry.
func RegisterDatasets(t testing.TB, st *store.Store, ids ...string) {
	t.Helper()
	for _, id := range ids {
		if err := st.RegisterDataset(context.Background(), id, "dataset "+id); err != nil {
			t.Fatalf("RegisterDataset(%s): %v", id, err)
		}
	}
}

// InsertWorkflow stores a definition with the given step kinds.
func InsertWorkflow(t testing.TB, st *store.Store, owner, name string, kinds ...plugin.Kind) *store.WorkflowDefinition {
	t.Helper()
	def := &store.WorkflowDefinition{Owner: owner, Name: name}
	for _, kind := range kinds {
		def.Steps = append(def.Steps, store.StepConfig{Kind: kind})
	}
	if err := st.InsertDefinition(context.Background(), def); err != nil {
		t.Fatalf("InsertDefinition(%s/%s): %v", owner, name, err)
	}
	return def
}
