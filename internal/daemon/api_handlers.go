package daemon

import (
	"net/http"
	"strconv"
	"strings"

	"curator/internal/api"
	"curator/internal/services"
	"curator/internal/store"
	"curator/internal/workflows"
)

func (s *apiServer) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req api.SubmitRequest
	if !s.decode(w, r, &req) {
		return
	}
	id, err := s.daemon.scheduler.Submit(r.Context(), req.DatasetID, req.Owner, req.WorkflowName, req.Priority)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, api.SubmitResponse{ExecutionID: id})
}

func (s *apiServer) handleListExecutions(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	filter := store.ExecutionFilter{DatasetID: strings.TrimSpace(query.Get("dataset"))}
	for _, value := range query["status"] {
		if strings.TrimSpace(value) == "" {
			continue
		}
		status := store.ParseExecutionStatus(value)
		if status == store.StatusNull {
			s.writeError(w, http.StatusBadRequest, services.KindInvalid, "unknown status "+strconv.Quote(value))
			return
		}
		filter.Statuses = append(filter.Statuses, status)
	}
	var ok bool
	if filter.Offset, ok = s.intParam(w, query.Get("offset"), "offset"); !ok {
		return
	}
	if filter.Limit, ok = s.intParam(w, query.Get("limit"), "limit"); !ok {
		return
	}

	records, err := s.daemon.scheduler.Executions(r.Context(), filter)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, api.ExecutionListResponse{Executions: api.FromExecutions(records)})
}

func (s *apiServer) handleGetExecution(w http.ResponseWriter, r *http.Request) {
	rec, err := s.daemon.scheduler.Execution(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, api.FromExecution(rec))
}

func (s *apiServer) handleCancel(w http.ResponseWriter, r *http.Request) {
	if err := s.daemon.scheduler.Cancel(r.Context(), r.PathValue("id")); err != nil {
		s.writeFailure(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusAccepted, nil)
}

func (s *apiServer) handleReconcile(w http.ResponseWriter, r *http.Request) {
	var req api.ReconcileRequest
	if !s.decode(w, r, &req) {
		return
	}
	remaining := s.daemon.scheduler.Reconcile(r.Context(), req.ExecutionIDs)
	s.writeJSON(w, http.StatusOK, api.ReconcileResponse{Remaining: remaining})
}

func (s *apiServer) handleRegisterDataset(w http.ResponseWriter, r *http.Request) {
	var req api.DatasetRequest
	if r.ContentLength != 0 && !s.decode(w, r, &req) {
		return
	}
	id := strings.TrimSpace(r.PathValue("id"))
	if id == "" {
		s.writeError(w, http.StatusBadRequest, services.KindInvalid, "dataset id is required")
		return
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		name = id
	}
	if err := s.daemon.store.RegisterDataset(r.Context(), id, name); err != nil {
		s.writeFailure(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusNoContent, nil)
}

func (s *apiServer) handleDeleteDataset(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(r.PathValue("id"))
	deleted, err := s.daemon.store.DeleteDataset(r.Context(), id)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	if !deleted {
		s.writeFailure(w, r, services.Wrap(services.ErrDatasetNotFound, "delete dataset", id, nil))
		return
	}
	s.writeJSON(w, http.StatusNoContent, nil)
}

func (s *apiServer) handleListWorkflows(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	var (
		page workflows.Page
		ok   bool
	)
	if page.Offset, ok = s.intParam(w, query.Get("offset"), "offset"); !ok {
		return
	}
	if page.Limit, ok = s.intParam(w, query.Get("limit"), "limit"); !ok {
		return
	}
	defs, err := s.daemon.workflows.List(r.Context(), query.Get("owner"), query.Get("prefix"), page)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	out := make([]api.Workflow, 0, len(defs))
	for _, def := range defs {
		out = append(out, api.FromWorkflow(def))
	}
	s.writeJSON(w, http.StatusOK, api.WorkflowListResponse{Workflows: out})
}

func (s *apiServer) handleCreateWorkflow(w http.ResponseWriter, r *http.Request) {
	var dto api.Workflow
	if !s.decode(w, r, &dto) {
		return
	}
	def, err := api.ToWorkflow(dto)
	if err != nil {
		s.writeFailure(w, r, services.Wrap(services.ErrInvalidWorkflow, "create workflow", err.Error(), nil))
		return
	}
	if _, err := s.daemon.workflows.Create(r.Context(), def); err != nil {
		s.writeFailure(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, api.FromWorkflow(def))
}

func (s *apiServer) handleGetWorkflow(w http.ResponseWriter, r *http.Request) {
	owner, name := r.PathValue("owner"), r.PathValue("name")
	def, err := s.daemon.workflows.Get(r.Context(), owner, name)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	if def == nil {
		s.writeFailure(w, r, services.Wrap(services.ErrWorkflowNotFound, "get workflow", owner+"/"+name, nil))
		return
	}
	s.writeJSON(w, http.StatusOK, api.FromWorkflow(def))
}

func (s *apiServer) handleUpdateWorkflow(w http.ResponseWriter, r *http.Request) {
	var dto api.Workflow
	if !s.decode(w, r, &dto) {
		return
	}
	dto.Owner, dto.Name = r.PathValue("owner"), r.PathValue("name")
	def, err := api.ToWorkflow(dto)
	if err != nil {
		s.writeFailure(w, r, services.Wrap(services.ErrInvalidWorkflow, "update workflow", err.Error(), nil))
		return
	}
	if err := s.daemon.workflows.Update(r.Context(), def); err != nil {
		s.writeFailure(w, r, err)
		return
	}
	if stored, err := s.daemon.workflows.Get(r.Context(), def.Owner, def.Name); err == nil && stored != nil {
		def = stored
	}
	s.writeJSON(w, http.StatusOK, api.FromWorkflow(def))
}

func (s *apiServer) handleDeleteWorkflow(w http.ResponseWriter, r *http.Request) {
	if err := s.daemon.workflows.Delete(r.Context(), r.PathValue("owner"), r.PathValue("name")); err != nil {
		s.writeFailure(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusNoContent, nil)
}

func (s *apiServer) handleListSchedules(w http.ResponseWriter, r *http.Request) {
	all, _ := strconv.ParseBool(r.URL.Query().Get("all"))
	triggers, err := s.daemon.scheduler.ListRecurring(r.Context(), all)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, api.ScheduleListResponse{Schedules: api.FromSchedules(triggers)})
}

func (s *apiServer) handleCreateSchedule(w http.ResponseWriter, r *http.Request) {
	var dto api.Schedule
	if !s.decode(w, r, &dto) {
		return
	}
	trig, err := api.ToSchedule(dto)
	if err != nil {
		s.writeFailure(w, r, services.Wrap(services.ErrInvalidTrigger, "schedule", err.Error(), nil))
		return
	}
	if err := s.daemon.scheduler.ScheduleRecurring(r.Context(), trig); err != nil {
		s.writeFailure(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, api.FromSchedule(trig))
}

func (s *apiServer) handleGetSchedule(w http.ResponseWriter, r *http.Request) {
	trig, err := s.daemon.scheduler.GetRecurring(r.Context(), r.PathValue("dataset"))
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, api.FromSchedule(trig))
}

func (s *apiServer) handleUpdateSchedule(w http.ResponseWriter, r *http.Request) {
	var dto api.Schedule
	if !s.decode(w, r, &dto) {
		return
	}
	dto.DatasetID = r.PathValue("dataset")
	trig, err := api.ToSchedule(dto)
	if err != nil {
		s.writeFailure(w, r, services.Wrap(services.ErrInvalidTrigger, "update schedule", err.Error(), nil))
		return
	}
	if err := s.daemon.scheduler.UpdateRecurring(r.Context(), trig); err != nil {
		s.writeFailure(w, r, err)
		return
	}
	if stored, err := s.daemon.scheduler.GetRecurring(r.Context(), trig.DatasetID); err == nil {
		trig = stored
	}
	s.writeJSON(w, http.StatusOK, api.FromSchedule(trig))
}

func (s *apiServer) handleDeleteSchedule(w http.ResponseWriter, r *http.Request) {
	if err := s.daemon.scheduler.DeleteRecurring(r.Context(), r.PathValue("dataset")); err != nil {
		s.writeFailure(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusNoContent, nil)
}

func (s *apiServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	status, err := s.daemon.Status(r.Context())
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, api.DaemonStatus{
		Running:      status.Running,
		PID:          status.PID,
		DatabasePath: status.DatabasePath,
		LockFilePath: status.LockFilePath,
		EventsTarget: status.EventsTarget,
		Scheduler:    api.FromStatusSummary(status.Scheduler, status.LastSweep),
		Checks:       api.CheckResults(status.Checks),
		Steps:        api.StepHealthSlice(status.Steps),
	})
}

func (s *apiServer) intParam(w http.ResponseWriter, raw, name string) (int, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, true
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value < 0 {
		s.writeError(w, http.StatusBadRequest, services.KindInvalid, "invalid "+name+" "+strconv.Quote(raw))
		return 0, false
	}
	return value, true
}
