package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"curator/internal/services"
)

func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	client, err := NewClient(srv.URL, srv.Client())
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	return client
}

func TestNewClientAddsScheme(t *testing.T) {
	client, err := NewClient("127.0.0.1:7610", nil)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	if client.baseURL != "http://127.0.0.1:7610" {
		t.Fatalf("unexpected base url %q", client.baseURL)
	}
	if _, err := NewClient("  ", nil); err == nil {
		t.Fatal("expected empty bind to fail")
	}
}

func TestClientSubmit(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/executions", func(w http.ResponseWriter, r *http.Request) {
		var req SubmitRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode: %v", err)
		}
		if req.DatasetID != "ds1" || req.Owner != "tester" || req.WorkflowName != "index" || req.Priority != 4 {
			t.Errorf("unexpected request: %+v", req)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(SubmitResponse{ExecutionID: "exec-1"})
	})
	client := newTestClient(t, mux)

	id, err := client.Submit(context.Background(), SubmitRequest{DatasetID: "ds1", Owner: "tester", WorkflowName: "index", Priority: 4})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if id != "exec-1" {
		t.Fatalf("unexpected id %q", id)
	}
}

func TestClientMapsErrorsToSentinels(t *testing.T) {
	cases := []struct {
		name   string
		status int
		body   ErrorResponse
		want   error
	}{
		{"dataset missing", http.StatusNotFound, ErrorResponse{Error: "dataset not found: submit: ds9", Kind: "not_found"}, services.ErrDatasetNotFound},
		{"already running", http.StatusConflict, ErrorResponse{Error: "execution already exists: submit: ds1", Kind: "already_exists"}, services.ErrExecutionAlreadyExists},
		{"bad trigger", http.StatusBadRequest, ErrorResponse{Error: "invalid scheduled trigger: schedule: frequency", Kind: "invalid"}, services.ErrInvalidTrigger},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tc.status)
				_ = json.NewEncoder(w).Encode(tc.body)
			}))
			err := client.Cancel(context.Background(), "ds1")
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
			if services.Classify(err) != services.Kind(tc.body.Kind) {
				t.Fatalf("classification mismatch: %v", services.Classify(err))
			}
		})
	}
}

func TestClientPlainErrorBody(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	_, err := client.Status(context.Background())
	if err == nil {
		t.Fatal("expected error")
	}
	if services.Classify(err) != services.KindInternal {
		t.Fatalf("expected internal kind, got %v", services.Classify(err))
	}
}

func TestClientExecutionsQuery(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("dataset") != "ds1" || len(q["status"]) != 2 || q.Get("limit") != "5" {
			t.Errorf("unexpected query %v", q)
		}
		_ = json.NewEncoder(w).Encode(ExecutionListResponse{Executions: []Execution{{ID: "exec-1", Status: "FINISHED"}}})
	}))
	items, err := client.Executions(context.Background(), ExecutionQuery{DatasetID: "ds1", Statuses: []string{"FINISHED", "CANCELLED"}, Limit: 5})
	if err != nil {
		t.Fatalf("Executions: %v", err)
	}
	if len(items) != 1 || items[0].ID != "exec-1" {
		t.Fatalf("unexpected items %+v", items)
	}
}

func TestClientWorkflowPathEscapes(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodDelete || r.URL.EscapedPath() != "/api/workflows/team%20a/nightly" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.EscapedPath())
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	if err := client.DeleteWorkflow(context.Background(), "team a", "nightly"); err != nil {
		t.Fatalf("DeleteWorkflow: %v", err)
	}
}

func TestClientSendsBearerToken(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer s3cret" {
			t.Errorf("unexpected authorization header %q", got)
		}
		_ = json.NewEncoder(w).Encode(ReconcileResponse{Remaining: []string{"exec-1"}})
	}))
	client.WithToken(" s3cret ")
	remaining, err := client.Reconcile(context.Background(), []string{"exec-1", "exec-2"})
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if len(remaining) != 1 || remaining[0] != "exec-1" {
		t.Fatalf("unexpected remaining %v", remaining)
	}
}
