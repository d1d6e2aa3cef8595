package api

import (
	"net/http"
	"strconv"

	"github.com/cloudmason/snapguard/pkg/restore"
	"github.com/cloudmason/snapguard/pkg/types"
)

type planResponse struct {
	JobID      string           `json:"job_id"`
	Plan       *types.Plan      `json:"plan"`
	Warnings   []string         `json:"warnings"`
	QuotaCheck types.QuotaCheck `json:"quota_check"`
}

func (s *Server) handlePlan(w http.ResponseWriter, r *http.Request) {
	var req restore.PlanRequest
	if !decodeBody(w, r, &req) {
		return
	}
	req.RequestedBy = actor(r)

	job, err := s.engine.Plan(r.Context(), req)
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, planResponse{
		JobID:      job.ID,
		Plan:       job.Plan,
		Warnings:   job.Plan.Warnings,
		QuotaCheck: job.Plan.Quota,
	})
}

type executeRequest struct {
	JobID              string `json:"job_id"`
	ConfirmDestructive string `json:"confirm_destructive,omitempty"`
}

func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	var req executeRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.JobID == "" {
		writeError(w, http.StatusBadRequest, "InvalidRequest", "job_id is required")
		return
	}

	job, err := s.engine.Execute(r.Context(), req.JobID, req.ConfirmDestructive)
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{
		"job_id": job.ID,
		"status": job.Status,
	})
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("job_id")
	if err := s.engine.Cancel(jobID, "canceled by "+actor(r)); err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"job_id": jobID, "status": "cancel_requested"})
}

type retryRequest struct {
	IPStrategyOverride types.IPStrategy `json:"ip_strategy_override,omitempty"`
}

func (s *Server) handleRetry(w http.ResponseWriter, r *http.Request) {
	var req retryRequest
	if !decodeBody(w, r, &req) {
		return
	}
	job, err := s.engine.Retry(r.Context(), r.PathValue("job_id"), req.IPStrategyOverride)
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"job_id":      job.ID,
		"retry_of":    job.RetryOfJobID,
		"resume_from": job.ResumeFrom,
	})
}

type cleanupRequest struct {
	DeleteVolume bool `json:"delete_volume"`
}

func (s *Server) handleCleanup(w http.ResponseWriter, r *http.Request) {
	var req cleanupRequest
	if !decodeBody(w, r, &req) {
		return
	}
	report, err := s.engine.Cleanup(r.Context(), r.PathValue("job_id"), req.DeleteVolume)
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"cleaned": report})
}

type cleanupStorageRequest struct {
	DeleteOldVolume      bool `json:"delete_old_volume"`
	DeleteSourceSnapshot bool `json:"delete_source_snapshot"`
}

func (s *Server) handleCleanupStorage(w http.ResponseWriter, r *http.Request) {
	var req cleanupStorageRequest
	if !decodeBody(w, r, &req) {
		return
	}
	report, err := s.engine.CleanupStorage(r.Context(), r.PathValue("job_id"), req.DeleteOldVolume, req.DeleteSourceSnapshot)
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"cleaned": report})
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	jobs, err := s.store.ListRestoreJobs(r.URL.Query().Get("vm_id"), limit)
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"jobs": jobs})
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("job_id")
	job, err := s.store.GetRestoreJob(jobID)
	if err != nil {
		writeFailure(w, err)
		return
	}
	steps, err := s.store.ListRestoreSteps(jobID)
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"job": job, "steps": steps})
}

func (s *Server) handleRestorePoints(w http.ResponseWriter, r *http.Request) {
	points, err := s.engine.RestorePoints(r.Context(), r.PathValue("vm_id"))
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"restore_points": points})
}

func (s *Server) handleAvailableIPs(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	ips, err := s.engine.AvailableIPs(r.Context(), r.PathValue("network_id"), limit)
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"available_ips": ips})
}
