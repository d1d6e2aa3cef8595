package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/cloudmason/snapguard/pkg/store"
	"github.com/cloudmason/snapguard/pkg/types"
	"github.com/google/uuid"
)

// handleRunNow inserts an on-demand trigger for the snapshot worker to claim.
// At most one trigger may be pending or running at a time.
func (s *Server) handleRunNow(w http.ResponseWriter, r *http.Request) {
	trigger := &types.OnDemandTrigger{
		ID:          uuid.New().String(),
		RequestedBy: actor(r),
		Status:      types.TriggerPending,
		CreatedAt:   time.Now().UTC(),
	}
	if err := s.store.InsertOnDemandTrigger(trigger); err != nil {
		if errors.Is(err, store.ErrTriggerActive) {
			writeError(w, http.StatusConflict, "TriggerActive", "a snapshot run is already pending or running")
			return
		}
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{
		"trigger_id": trigger.ID,
		"status":     string(trigger.Status),
	})
}

func (s *Server) handleRunNowStatus(w http.ResponseWriter, r *http.Request) {
	trigger, err := s.store.LatestTrigger()
	if err != nil {
		writeFailure(w, err)
		return
	}
	if trigger == nil {
		writeError(w, http.StatusNotFound, "NotFound", "no trigger has been requested yet")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"trigger_id":    trigger.ID,
		"status":        trigger.Status,
		"step_progress": trigger.StepProgress,
		"error":         trigger.Error,
	})
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	runs, err := s.store.ListSnapshotRuns(limit)
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": runs})
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	runID := r.PathValue("run_id")
	run, err := s.store.GetSnapshotRun(runID)
	if err != nil {
		writeFailure(w, err)
		return
	}
	records, err := s.store.ListSnapshotRecords(runID)
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"run": run, "records": records})
}

type healthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

type readyResponse struct {
	Status    string            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Checks    map[string]string `json:"checks"`
}

// handleHealth is a pure liveness probe.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{Status: "healthy", Timestamp: time.Now().UTC()})
}

// handleReady verifies the job store answers reads.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	checks := make(map[string]string)
	status := "ready"
	code := http.StatusOK

	if _, err := s.store.ListSnapshotRuns(1); err != nil {
		checks["store"] = err.Error()
		status = "not ready"
		code = http.StatusServiceUnavailable
	} else {
		checks["store"] = "ok"
	}

	writeJSON(w, code, readyResponse{Status: status, Timestamp: time.Now().UTC(), Checks: checks})
}
