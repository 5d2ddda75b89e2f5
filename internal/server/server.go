// Package server exposes the orchestrator over a small REST API: batch
// submission and polling, session control, stored result queries, comparison,
// and configuration snapshots.
package server

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/rxtech-lab/argo-orchestrator/internal/comparator"
	"github.com/rxtech-lab/argo-orchestrator/internal/logger"
	"github.com/rxtech-lab/argo-orchestrator/internal/scheduler"
	"github.com/rxtech-lab/argo-orchestrator/internal/session"
	"github.com/rxtech-lab/argo-orchestrator/internal/store"
	"github.com/rxtech-lab/argo-orchestrator/internal/types"
	"github.com/rxtech-lab/argo-orchestrator/pkg/backtestconfig"
	apperrors "github.com/rxtech-lab/argo-orchestrator/pkg/errors"
	"go.uber.org/zap"
)

// Server wires the orchestrator components behind HTTP handlers.
type Server struct {
	scheduler  *scheduler.Scheduler
	sessions   *session.Manager
	results    *store.ResultStore
	comparator *comparator.Comparator
	configs    *backtestconfig.Store
	logger     *logger.Logger

	httpServer *http.Server
	listener   net.Listener
}

// NewServer creates a server over the given components. The result store and
// configuration store may be nil; their endpoints then return 503.
func NewServer(
	sched *scheduler.Scheduler,
	sessions *session.Manager,
	results *store.ResultStore,
	comp *comparator.Comparator,
	configs *backtestconfig.Store,
	log *logger.Logger,
) *Server {
	return &Server{
		scheduler:  sched,
		sessions:   sessions,
		results:    results,
		comparator: comp,
		configs:    configs,
		logger:     log,
	}
}

// Start begins serving on the given address. If address is empty or ":0", a
// random available port is used; Address reports the bound one.
func (s *Server) Start(address string) error {
	if address == "" {
		address = ":0"
	}

	listener, err := net.Listen("tcp", address)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrCodeInvalidConfiguration, "failed to create listener", err)
	}

	s.listener = listener

	router := mux.NewRouter()

	router.HandleFunc("/api/v1/batches", s.handleSubmitBatch).Methods("POST")
	router.HandleFunc("/api/v1/batches/{id}", s.handleBatchStatus).Methods("GET")
	router.HandleFunc("/api/v1/batches/{id}", s.handleCancelBatch).Methods("DELETE")
	router.HandleFunc("/api/v1/tasks/{id}", s.handleTaskStatus).Methods("GET")
	router.HandleFunc("/api/v1/tasks/{id}", s.handleCancelTask).Methods("DELETE")

	router.HandleFunc("/api/v1/sessions", s.handleStartSession).Methods("POST")
	router.HandleFunc("/api/v1/sessions", s.handleListSessions).Methods("GET")
	router.HandleFunc("/api/v1/sessions/{id}", s.handleSessionStatus).Methods("GET")
	router.HandleFunc("/api/v1/sessions/{id}", s.handleStopSession).Methods("DELETE")

	router.HandleFunc("/api/v1/results", s.handleQueryResults).Methods("GET")
	router.HandleFunc("/api/v1/compare", s.handleCompare).Methods("POST")

	router.HandleFunc("/api/v1/configs", s.handleListConfigs).Methods("GET")
	router.HandleFunc("/api/v1/configs/schema", s.handleConfigSchema).Methods("GET")
	router.HandleFunc("/api/v1/configs/{name}", s.handleGetConfig).Methods("GET")
	router.HandleFunc("/api/v1/configs/{name}", s.handleSaveConfig).Methods("PUT")
	router.HandleFunc("/api/v1/configs/{name}", s.handleDeleteConfig).Methods("DELETE")

	s.httpServer = &http.Server{
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if err := s.httpServer.Serve(listener); err != http.ErrServerClosed {
			s.logger.Error("HTTP server error", zap.Error(err))
		}
	}()

	s.logger.Info("API server listening", zap.String("address", s.Address()))

	return nil
}

// Stop shuts the HTTP server down gracefully.
func (s *Server) Stop(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}

	return s.httpServer.Shutdown(ctx)
}

// Address returns the address the server is listening on.
func (s *Server) Address() string {
	if s.listener == nil {
		return ""
	}

	return s.listener.Addr().String()
}

type taskPayload struct {
	Strategy string              `json:"strategy"`
	Config   types.Configuration `json:"config"`
}

type submitBatchPayload struct {
	Tasks []taskPayload `json:"tasks"`
}

func (s *Server) handleSubmitBatch(w http.ResponseWriter, r *http.Request) {
	var payload submitBatchPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		s.writeError(w, apperrors.Wrap(apperrors.ErrCodeInvalidConfiguration, "invalid request body", err))

		return
	}

	requests := make([]scheduler.TaskRequest, 0, len(payload.Tasks))
	for _, t := range payload.Tasks {
		requests = append(requests, scheduler.TaskRequest{Strategy: t.Strategy, Config: t.Config})
	}

	batchID, err := s.scheduler.Submit(requests)
	if err != nil {
		s.writeError(w, err)

		return
	}

	s.writeJSON(w, http.StatusAccepted, map[string]string{"batch_id": batchID})
}

func (s *Server) handleBatchStatus(w http.ResponseWriter, r *http.Request) {
	statuses, err := s.scheduler.Status(mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, err)

		return
	}

	s.writeJSON(w, http.StatusOK, statuses)
}

func (s *Server) handleCancelBatch(w http.ResponseWriter, r *http.Request) {
	if err := s.scheduler.CancelAll(mux.Vars(r)["id"]); err != nil {
		s.writeError(w, err)

		return
	}

	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleTaskStatus(w http.ResponseWriter, r *http.Request) {
	status, err := s.scheduler.TaskStatus(mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, err)

		return
	}

	s.writeJSON(w, http.StatusOK, status)
}

func (s *Server) handleCancelTask(w http.ResponseWriter, r *http.Request) {
	if err := s.scheduler.Cancel(mux.Vars(r)["id"]); err != nil {
		s.writeError(w, err)

		return
	}

	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleStartSession(w http.ResponseWriter, r *http.Request) {
	var payload taskPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		s.writeError(w, apperrors.Wrap(apperrors.ErrCodeInvalidConfiguration, "invalid request body", err))

		return
	}

	id, err := s.sessions.Start(r.Context(), payload.Strategy, payload.Config)
	if err != nil {
		s.writeError(w, err)

		return
	}

	s.writeJSON(w, http.StatusCreated, map[string]string{"session_id": id})
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.sessions.List())
}

func (s *Server) handleSessionStatus(w http.ResponseWriter, r *http.Request) {
	status, err := s.sessions.Status(mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, err)

		return
	}

	s.writeJSON(w, http.StatusOK, status)
}

func (s *Server) handleStopSession(w http.ResponseWriter, r *http.Request) {
	status, err := s.sessions.Stop(mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, err)

		return
	}

	s.writeJSON(w, http.StatusOK, status)
}

func (s *Server) handleQueryResults(w http.ResponseWriter, r *http.Request) {
	if s.results == nil {
		s.writeError(w, apperrors.New(apperrors.ErrCodeStoreNotConfigured, "result store is not configured"))

		return
	}

	if strategy := r.URL.Query().Get("strategy"); strategy != "" {
		results, err := s.results.ByStrategy(r.Context(), strategy)
		if err != nil {
			s.writeError(w, err)

			return
		}

		s.writeJSON(w, http.StatusOK, results)

		return
	}

	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			s.writeError(w, apperrors.Newf(apperrors.ErrCodeInvalidConfiguration, "invalid limit %q", raw))

			return
		}

		limit = parsed
	}

	results, err := s.results.Latest(r.Context(), limit)
	if err != nil {
		s.writeError(w, err)

		return
	}

	s.writeJSON(w, http.StatusOK, results)
}

type comparePayload struct {
	Strategies []string `json:"strategies"`
}

// handleCompare ranks the most recent stored result of each named strategy.
func (s *Server) handleCompare(w http.ResponseWriter, r *http.Request) {
	if s.results == nil {
		s.writeError(w, apperrors.New(apperrors.ErrCodeStoreNotConfigured, "result store is not configured"))

		return
	}

	var payload comparePayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		s.writeError(w, apperrors.Wrap(apperrors.ErrCodeInvalidConfiguration, "invalid request body", err))

		return
	}

	results := make([]types.Result, 0, len(payload.Strategies))

	for _, strategy := range payload.Strategies {
		stored, err := s.results.ByStrategy(r.Context(), strategy)
		if err != nil {
			s.writeError(w, err)

			return
		}

		if len(stored) == 0 {
			s.writeError(w, apperrors.Newf(apperrors.ErrCodeCompareEmptyInput,
				"no stored results for strategy %s", strategy))

			return
		}

		results = append(results, stored[0].Result)
	}

	comparison, err := s.comparator.Compare(results)
	if err != nil {
		s.writeError(w, err)

		return
	}

	s.writeJSON(w, http.StatusOK, comparison)
}

// configStore returns the snapshot store, or a not-configured error that
// writeError maps to 503 when the server was built without one.
func (s *Server) configStore(w http.ResponseWriter) *backtestconfig.Store {
	if s.configs == nil {
		s.writeError(w, apperrors.New(apperrors.ErrCodeConfigStoreNotConfigured,
			"configuration store is not configured"))

		return nil
	}

	return s.configs
}

func (s *Server) handleListConfigs(w http.ResponseWriter, r *http.Request) {
	configs := s.configStore(w)
	if configs == nil {
		return
	}

	names, err := configs.List()
	if err != nil {
		s.writeError(w, err)

		return
	}

	s.writeJSON(w, http.StatusOK, names)
}

func (s *Server) handleConfigSchema(w http.ResponseWriter, r *http.Request) {
	schema, err := backtestconfig.GenerateSchema()
	if err != nil {
		s.writeError(w, err)

		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(schema))
}

func (s *Server) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	configs := s.configStore(w)
	if configs == nil {
		return
	}

	cfg, err := configs.Load(mux.Vars(r)["name"])
	if err != nil {
		s.writeError(w, err)

		return
	}

	s.writeJSON(w, http.StatusOK, cfg)
}

func (s *Server) handleSaveConfig(w http.ResponseWriter, r *http.Request) {
	configs := s.configStore(w)
	if configs == nil {
		return
	}

	var cfg types.Configuration
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		s.writeError(w, apperrors.Wrap(apperrors.ErrCodeInvalidConfiguration, "invalid request body", err))

		return
	}

	if err := configs.Save(mux.Vars(r)["name"], cfg); err != nil {
		s.writeError(w, err)

		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDeleteConfig(w http.ResponseWriter, r *http.Request) {
	configs := s.configStore(w)
	if configs == nil {
		return
	}

	if err := configs.Delete(mux.Vars(r)["name"]); err != nil {
		s.writeError(w, err)

		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.Error("Failed to encode response", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError

	switch code := apperrors.GetCode(err); {
	case apperrors.IsValidation(err), code == apperrors.ErrCodeEmptyBatch,
		code == apperrors.ErrCodeCompareEmptyInput:
		status = http.StatusBadRequest
	case code == apperrors.ErrCodeTaskNotFound, code == apperrors.ErrCodeBatchNotFound,
		code == apperrors.ErrCodeSessionNotFound, code == apperrors.ErrCodeConfigNotFound:
		status = http.StatusNotFound
	case code == apperrors.ErrCodeSessionNotRunning, code == apperrors.ErrCodeIllegalTransition:
		status = http.StatusConflict
	case code == apperrors.ErrCodeSchedulerShutdown, code == apperrors.ErrCodeStoreNotConfigured,
		code == apperrors.ErrCodeConfigStoreNotConfigured:
		status = http.StatusServiceUnavailable
	}

	s.writeJSON(w, status, map[string]interface{}{
		"error": err.Error(),
		"code":  apperrors.GetCode(err),
	})
}
