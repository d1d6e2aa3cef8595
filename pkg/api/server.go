package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/cloudmason/snapguard/pkg/cloud"
	"github.com/cloudmason/snapguard/pkg/log"
	"github.com/cloudmason/snapguard/pkg/metrics"
	"github.com/cloudmason/snapguard/pkg/restore"
	"github.com/cloudmason/snapguard/pkg/store"
)

// Config controls the HTTP surface.
type Config struct {
	ListenAddr     string
	RestoreEnabled bool
}

// Server exposes the snapshot and restore operations over HTTP. Authorization
// is the deployment's concern; the caller's identity arrives in the X-Actor
// header.
type Server struct {
	cfg    Config
	store  store.Store
	engine *restore.Engine
	mux    *http.ServeMux

	httpServer *http.Server
}

// NewServer wires the route table.
func NewServer(cfg Config, st store.Store, engine *restore.Engine) *Server {
	s := &Server{
		cfg:    cfg,
		store:  st,
		engine: engine,
		mux:    http.NewServeMux(),
	}

	s.mux.HandleFunc("POST /restore/plan", s.restoreGate(s.handlePlan))
	s.mux.HandleFunc("POST /restore/execute", s.restoreGate(s.handleExecute))
	s.mux.HandleFunc("POST /restore/cancel/{job_id}", s.restoreGate(s.handleCancel))
	s.mux.HandleFunc("POST /restore/jobs/{job_id}/retry", s.restoreGate(s.handleRetry))
	s.mux.HandleFunc("POST /restore/jobs/{job_id}/cleanup", s.restoreGate(s.handleCleanup))
	s.mux.HandleFunc("POST /restore/jobs/{job_id}/cleanup-storage", s.restoreGate(s.handleCleanupStorage))
	s.mux.HandleFunc("GET /restore/jobs", s.restoreGate(s.handleListJobs))
	s.mux.HandleFunc("GET /restore/jobs/{job_id}", s.restoreGate(s.handleGetJob))
	s.mux.HandleFunc("GET /restore/vm/{vm_id}/restore-points", s.restoreGate(s.handleRestorePoints))
	s.mux.HandleFunc("GET /restore/networks/{network_id}/available-ips", s.restoreGate(s.handleAvailableIPs))

	s.mux.HandleFunc("POST /snapshot/run-now", s.handleRunNow)
	s.mux.HandleFunc("GET /snapshot/run-now/status", s.handleRunNowStatus)
	s.mux.HandleFunc("GET /snapshot/runs", s.handleListRuns)
	s.mux.HandleFunc("GET /snapshot/runs/{run_id}", s.handleGetRun)

	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("GET /ready", s.handleReady)
	s.mux.Handle("GET /metrics", metrics.Handler())

	return s
}

// Handler returns the route table, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// Start serves until ctx is canceled, then drains with a 10 s grace period.
func (s *Server) Start(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:         s.cfg.ListenAddr,
		Handler:      s.mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.httpServer.ListenAndServe()
	}()
	logger := log.WithComponent("api")
	logger.Info().
		Str("addr", s.cfg.ListenAddr).
		Bool("restore_enabled", s.cfg.RestoreEnabled).
		Msg("HTTP server listening")

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return err
	}
	s.engine.Wait()
	return nil
}

// restoreGate enforces the restore feature flag.
func (s *Server) restoreGate(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.cfg.RestoreEnabled {
			writeError(w, http.StatusForbidden, "FeatureDisabled", "feature disabled")
			return
		}
		next(w, r)
	}
}

func actor(r *http.Request) string {
	if a := r.Header.Get("X-Actor"); a != "" {
		return a
	}
	return "unknown"
}

// --- JSON plumbing ---

type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, kind, message string) {
	writeJSON(w, status, errorBody{Error: errorDetail{Kind: kind, Message: message}})
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "InvalidRequest", "malformed JSON body: "+err.Error())
		return false
	}
	return true
}

// writeFailure maps an engine or store error to a structured HTTP response.
func writeFailure(w http.ResponseWriter, err error) {
	if kind, ok := restore.KindOf(err); ok {
		var re *restore.Error
		errors.As(err, &re)
		writeError(w, statusForKind(kind), string(kind), re.Message)
		return
	}
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "NotFound", err.Error())
		return
	}
	if errors.Is(err, store.ErrTriggerActive) {
		writeError(w, http.StatusConflict, "TriggerActive", err.Error())
		return
	}
	switch cloud.KindOf(err) {
	case cloud.KindNotFound:
		writeError(w, http.StatusNotFound, string(cloud.KindNotFound), err.Error())
	case cloud.KindAuth, cloud.KindForbidden:
		writeError(w, http.StatusBadGateway, string(cloud.KindOf(err)), err.Error())
	default:
		writeError(w, http.StatusInternalServerError, string(cloud.KindOf(err)), err.Error())
	}
}

func statusForKind(kind restore.Kind) int {
	switch kind {
	case restore.KindJobNotFound, restore.KindVMNotFound, restore.KindSnapshotNotFound:
		return http.StatusNotFound
	case restore.KindConcurrentRestore:
		return http.StatusConflict
	case restore.KindUnsupportedBootMode, restore.KindSnapshotMismatch:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusBadRequest
	}
}
