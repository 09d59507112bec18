package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"curator/internal/services"
)

const defaultClientTimeout = 30 * time.Second

// Client talks to the daemon HTTP API.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// NewClient builds a client for the daemon listening on bind (host:port or a
// full http URL).
func NewClient(bind string, httpClient *http.Client) (*Client, error) {
	bind = strings.TrimSpace(bind)
	if bind == "" {
		return nil, errors.New("api bind address is required")
	}
	if !strings.Contains(bind, "://") {
		bind = "http://" + bind
	}
	parsed, err := url.Parse(bind)
	if err != nil {
		return nil, fmt.Errorf("parse api address: %w", err)
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultClientTimeout}
	}
	return &Client{baseURL: strings.TrimRight(parsed.String(), "/"), http: httpClient}, nil
}

// WithToken sets the bearer token sent with every request.
func (c *Client) WithToken(token string) *Client {
	c.token = strings.TrimSpace(token)
	return c
}

// Submit requests a new execution and returns its id.
func (c *Client) Submit(ctx context.Context, req SubmitRequest) (string, error) {
	var resp SubmitResponse
	if err := c.do(ctx, http.MethodPost, "/api/executions", req, &resp); err != nil {
		return "", err
	}
	return resp.ExecutionID, nil
}

// Cancel cancels the active execution of a dataset.
func (c *Client) Cancel(ctx context.Context, datasetID string) error {
	return c.do(ctx, http.MethodPost, "/api/datasets/"+url.PathEscape(datasetID)+"/cancel", nil, nil)
}

// Execution fetches one execution record.
func (c *Client) Execution(ctx context.Context, id string) (Execution, error) {
	var resp Execution
	err := c.do(ctx, http.MethodGet, "/api/executions/"+url.PathEscape(id), nil, &resp)
	return resp, err
}

// ExecutionQuery narrows Executions.
type ExecutionQuery struct {
	DatasetID string
	Statuses  []string
	Offset    int
	Limit     int
}

// Executions lists execution records.
func (c *Client) Executions(ctx context.Context, q ExecutionQuery) ([]Execution, error) {
	values := url.Values{}
	if q.DatasetID != "" {
		values.Set("dataset", q.DatasetID)
	}
	for _, status := range q.Statuses {
		values.Add("status", status)
	}
	if q.Offset > 0 {
		values.Set("offset", strconv.Itoa(q.Offset))
	}
	if q.Limit > 0 {
		values.Set("limit", strconv.Itoa(q.Limit))
	}
	var resp ExecutionListResponse
	if err := c.do(ctx, http.MethodGet, withQuery("/api/executions", values), nil, &resp); err != nil {
		return nil, err
	}
	return resp.Executions, nil
}

// Reconcile returns the subset of ids still queued or running.
func (c *Client) Reconcile(ctx context.Context, ids []string) ([]string, error) {
	var resp ReconcileResponse
	if err := c.do(ctx, http.MethodPost, "/api/reconcile", ReconcileRequest{ExecutionIDs: ids}, &resp); err != nil {
		return nil, err
	}
	return resp.Remaining, nil
}

// CreateWorkflow registers a new workflow definition.
func (c *Client) CreateWorkflow(ctx context.Context, wf Workflow) (Workflow, error) {
	var resp Workflow
	err := c.do(ctx, http.MethodPost, "/api/workflows", wf, &resp)
	return resp, err
}

// UpdateWorkflow replaces the steps of an existing workflow definition.
func (c *Client) UpdateWorkflow(ctx context.Context, wf Workflow) (Workflow, error) {
	var resp Workflow
	err := c.do(ctx, http.MethodPut, workflowPath(wf.Owner, wf.Name), wf, &resp)
	return resp, err
}

// Workflow fetches one workflow definition.
func (c *Client) Workflow(ctx context.Context, owner, name string) (Workflow, error) {
	var resp Workflow
	err := c.do(ctx, http.MethodGet, workflowPath(owner, name), nil, &resp)
	return resp, err
}

// Workflows lists workflow definitions.
func (c *Client) Workflows(ctx context.Context, owner, prefix string) ([]Workflow, error) {
	values := url.Values{}
	if owner != "" {
		values.Set("owner", owner)
	}
	if prefix != "" {
		values.Set("prefix", prefix)
	}
	var resp WorkflowListResponse
	if err := c.do(ctx, http.MethodGet, withQuery("/api/workflows", values), nil, &resp); err != nil {
		return nil, err
	}
	return resp.Workflows, nil
}

// DeleteWorkflow removes a workflow definition.
func (c *Client) DeleteWorkflow(ctx context.Context, owner, name string) error {
	return c.do(ctx, http.MethodDelete, workflowPath(owner, name), nil, nil)
}

// CreateSchedule registers a recurring trigger.
func (c *Client) CreateSchedule(ctx context.Context, s Schedule) (Schedule, error) {
	var resp Schedule
	err := c.do(ctx, http.MethodPost, "/api/schedules", s, &resp)
	return resp, err
}

// UpdateSchedule replaces the recurring trigger of a dataset.
func (c *Client) UpdateSchedule(ctx context.Context, s Schedule) (Schedule, error) {
	var resp Schedule
	err := c.do(ctx, http.MethodPut, "/api/schedules/"+url.PathEscape(s.DatasetID), s, &resp)
	return resp, err
}

// Schedule fetches the recurring trigger of a dataset.
func (c *Client) Schedule(ctx context.Context, datasetID string) (Schedule, error) {
	var resp Schedule
	err := c.do(ctx, http.MethodGet, "/api/schedules/"+url.PathEscape(datasetID), nil, &resp)
	return resp, err
}

// Schedules lists recurring triggers.
func (c *Client) Schedules(ctx context.Context, includeInactive bool) ([]Schedule, error) {
	values := url.Values{}
	if includeInactive {
		values.Set("all", "true")
	}
	var resp ScheduleListResponse
	if err := c.do(ctx, http.MethodGet, withQuery("/api/schedules", values), nil, &resp); err != nil {
		return nil, err
	}
	return resp.Schedules, nil
}

// DeleteSchedule removes the recurring trigger of a dataset.
func (c *Client) DeleteSchedule(ctx context.Context, datasetID string) error {
	return c.do(ctx, http.MethodDelete, "/api/schedules/"+url.PathEscape(datasetID), nil, nil)
}

// RegisterDataset adds a dataset to the registry.
func (c *Client) RegisterDataset(ctx context.Context, id, name string) error {
	return c.do(ctx, http.MethodPost, "/api/datasets/"+url.PathEscape(id), DatasetRequest{Name: name}, nil)
}

// DeleteDataset removes a dataset from the registry.
func (c *Client) DeleteDataset(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/api/datasets/"+url.PathEscape(id), nil, nil)
}

// Status fetches daemon status.
func (c *Client) Status(ctx context.Context) (DaemonStatus, error) {
	var resp DaemonStatus
	err := c.do(ctx, http.MethodGet, "/api/status", nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= http.StatusBadRequest {
		return decodeError(resp)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// RemoteError is a non-2xx daemon response. It unwraps to the services
// sentinel named in the message so errors.Is keeps working across the wire.
type RemoteError struct {
	StatusCode int
	Kind       services.Kind
	Message    string
	marker     error
}

func (e *RemoteError) Error() string {
	return e.Message
}

func (e *RemoteError) Unwrap() error {
	return e.marker
}

func decodeError(resp *http.Response) error {
	var payload ErrorResponse
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err := json.Unmarshal(raw, &payload); err != nil || payload.Error == "" {
		payload.Error = strings.TrimSpace(string(raw))
		if payload.Error == "" {
			payload.Error = resp.Status
		}
	}
	return &RemoteError{
		StatusCode: resp.StatusCode,
		Kind:       services.Kind(payload.Kind),
		Message:    payload.Error,
		marker:     markerFor(payload.Error),
	}
}

var sentinels = []error{
	services.ErrDatasetNotFound,
	services.ErrWorkflowNotFound,
	services.ErrWorkflowAlreadyExists,
	services.ErrInvalidWorkflow,
	services.ErrExecutionNotFound,
	services.ErrExecutionAlreadyExists,
	services.ErrScheduledTriggerNotFound,
	services.ErrScheduledTriggerAlreadyExists,
	services.ErrInvalidTrigger,
	services.ErrValidation,
}

// markerFor returns the sentinel whose text appears first in message.
func markerFor(message string) error {
	var (
		found error
		at    = -1
	)
	for _, sentinel := range sentinels {
		idx := strings.Index(message, sentinel.Error())
		if idx >= 0 && (at < 0 || idx < at) {
			found, at = sentinel, idx
		}
	}
	return found
}

func workflowPath(owner, name string) string {
	return "/api/workflows/" + url.PathEscape(owner) + "/" + url.PathEscape(name)
}

func withQuery(path string, values url.Values) string {
	if len(values) == 0 {
		return path
	}
	return path + "?" + values.Encode()
}
