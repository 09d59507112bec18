package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"curator/internal/api"
	"curator/internal/config"
	"curator/internal/logging"
	"curator/internal/services"
)

const maxRequestBody = 1 << 20

type apiServer struct {
	bind   string
	logger *slog.Logger
	daemon *Daemon

	mu       sync.Mutex
	listener net.Listener
	server   *http.Server
}

func newAPIServer(cfg *config.Config, d *Daemon, logger *slog.Logger) *apiServer {
	srv := &apiServer{
		bind:   strings.TrimSpace(cfg.Paths.APIBind),
		logger: logger,
		daemon: d,
	}
	srv.server = &http.Server{
		Handler:           srv.routes(cfg.Paths.APIToken),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return srv
}

func (s *apiServer) routes(token string) http.Handler {
	apiMux := http.NewServeMux()
	apiMux.HandleFunc("POST /api/executions", s.handleSubmit)
	apiMux.HandleFunc("GET /api/executions", s.handleListExecutions)
	apiMux.HandleFunc("GET /api/executions/{id}", s.handleGetExecution)
	apiMux.HandleFunc("POST /api/reconcile", s.handleReconcile)

	apiMux.HandleFunc("POST /api/datasets/{id}", s.handleRegisterDataset)
	apiMux.HandleFunc("DELETE /api/datasets/{id}", s.handleDeleteDataset)
	apiMux.HandleFunc("POST /api/datasets/{id}/cancel", s.handleCancel)

	apiMux.HandleFunc("GET /api/workflows", s.handleListWorkflows)
	apiMux.HandleFunc("POST /api/workflows", s.handleCreateWorkflow)
	apiMux.HandleFunc("GET /api/workflows/{owner}/{name}", s.handleGetWorkflow)
	apiMux.HandleFunc("PUT /api/workflows/{owner}/{name}", s.handleUpdateWorkflow)
	apiMux.HandleFunc("DELETE /api/workflows/{owner}/{name}", s.handleDeleteWorkflow)

	apiMux.HandleFunc("GET /api/schedules", s.handleListSchedules)
	apiMux.HandleFunc("POST /api/schedules", s.handleCreateSchedule)
	apiMux.HandleFunc("GET /api/schedules/{dataset}", s.handleGetSchedule)
	apiMux.HandleFunc("PUT /api/schedules/{dataset}", s.handleUpdateSchedule)
	apiMux.HandleFunc("DELETE /api/schedules/{dataset}", s.handleDeleteSchedule)

	apiMux.HandleFunc("GET /api/status", s.handleStatus)

	mux := http.NewServeMux()
	mux.Handle("/api/", authMiddleware(token, apiMux.ServeHTTP))
	mux.Handle("GET /metrics", s.daemon.metrics.Handler())
	return mux
}

func (s *apiServer) start(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.bind)
	if err != nil {
		return fmt.Errorf("api listen: %w", err)
	}
	s.mu.Lock()
	s.listener = listener
	s.mu.Unlock()

	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log().Error("api server error", logging.Error(err))
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}()

	s.log().Info("api server listening", logging.String("address", listener.Addr().String()))
	return nil
}

func (s *apiServer) stop() {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = s.server.Shutdown(shutdownCtx)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		_ = s.listener.Close()
		s.listener = nil
	}
}

func (s *apiServer) address() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.bind
}

func (s *apiServer) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBody)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		s.writeError(w, http.StatusBadRequest, services.KindInvalid, "invalid request body: "+err.Error())
		return false
	}
	return true
}

func (s *apiServer) writeJSON(w http.ResponseWriter, status int, payload any) {
	if payload == nil {
		w.WriteHeader(status)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.log().Error("failed to encode response", logging.Error(err))
	}
}

func (s *apiServer) writeError(w http.ResponseWriter, status int, kind services.Kind, message string) {
	s.writeJSON(w, status, api.ErrorResponse{Error: message, Kind: string(kind)})
}

// writeFailure maps an error's kind onto an HTTP status.
func (s *apiServer) writeFailure(w http.ResponseWriter, r *http.Request, err error) {
	kind := services.Classify(err)
	status := http.StatusInternalServerError
	switch kind {
	case services.KindNotFound:
		status = http.StatusNotFound
	case services.KindAlreadyExists:
		status = http.StatusConflict
	case services.KindInvalid:
		status = http.StatusBadRequest
	default:
		s.log().Error("api request failed",
			logging.String("method", r.Method),
			logging.String("path", r.URL.Path),
			logging.Error(err),
		)
	}
	s.writeError(w, status, kind, err.Error())
}

func (s *apiServer) log() *slog.Logger {
	if s.logger != nil {
		return logging.NewComponentLogger(s.logger, "api-server")
	}
	return logging.NewNop()
}
