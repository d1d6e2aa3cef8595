package restore

import (
	"context"
	"errors"
	"time"

	"github.com/cloudmason/snapguard/pkg/log"
	"github.com/cloudmason/snapguard/pkg/store"
	"github.com/cloudmason/snapguard/pkg/types"
	"github.com/google/uuid"
)

// Retry creates a new job from a failed one, reusing the resources its
// successful steps created. Execution of the new job resumes at the first
// step the old job did not complete. The old job stays untouched for audit.
func (e *Engine) Retry(ctx context.Context, jobID string, ipStrategyOverride types.IPStrategy) (*types.RestoreJob, error) {
	old, err := e.store.GetRestoreJob(jobID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, NewError(KindJobNotFound, "restore job %s not found", jobID)
		}
		return nil, err
	}
	switch old.Status {
	case types.JobFailed, types.JobInterrupted, types.JobCanceled:
	default:
		return nil, NewError(KindInvalidRequest, "job %s is %s; only failed jobs can be retried", jobID, old.Status)
	}

	oldSteps, err := e.store.ListRestoreSteps(old.ID)
	if err != nil {
		return nil, err
	}

	plan := *old.Plan
	if ipStrategyOverride != "" {
		switch ipStrategyOverride {
		case types.IPStrategyNewIPs, types.IPStrategyTrySameIPs,
			types.IPStrategySameIPsOrFail, types.IPStrategyManualIP:
			plan.IPStrategy = ipStrategyOverride
		default:
			return nil, NewError(KindInvalidRequest, "unknown ip_strategy %q", ipStrategyOverride)
		}
	}

	resumeFrom, reusable := carryOver(oldSteps, old.Result)

	job := &types.RestoreJob{
		ID:           uuid.New().String(),
		VMID:         old.VMID,
		SnapshotID:   old.SnapshotID,
		ProjectID:    old.ProjectID,
		Mode:         old.Mode,
		IPStrategy:   plan.IPStrategy,
		Status:       types.JobPlanned,
		Plan:         &plan,
		Result:       reusable,
		RequestedBy:  old.RequestedBy,
		RetryOfJobID: old.ID,
		ResumeFrom:   resumeFrom,
		CreatedAt:    time.Now().UTC(),
		UpdatedAt:    time.Now().UTC(),
	}

	steps := buildSteps(job.ID, job.Mode, plan.Mode == types.RestoreModeReplace && plan.CleanupOldStorage)
	if err := e.store.InsertRestoreJob(job, steps); err != nil {
		if IsConcurrent(err) {
			return nil, NewError(KindConcurrentRestore, "a restore for vm %s is already in flight", job.VMID)
		}
		return nil, err
	}

	logger := log.WithJobID(job.ID)
	logger.Info().
		Str("retry_of", old.ID).
		Int("resume_from", resumeFrom).
		Msg("Retry job created")
	return job, nil
}

// carryOver computes where the new job resumes and which resource IDs it may
// reuse. Only resources that survived the old job's rollback (its result
// lists the survivors) qualify: a creation step whose output was rolled back
// is re-run, and the server is always re-created because rollback always
// removes it. A job with nothing to reuse restarts from step 1.
func carryOver(oldSteps []*types.RestoreStep, prior *types.RestoreResult) (int, *types.RestoreResult) {
	result := &types.RestoreResult{NewPortIPs: map[string]string{}}
	reused := false

	resume := func(ordinal int) (int, *types.RestoreResult) {
		if !reused || ordinal <= 1 {
			return 0, nil
		}
		return ordinal, result
	}

	for _, step := range oldSteps {
		if step.Status != types.StepSucceeded && step.Status != types.StepSkipped {
			return resume(step.Ordinal)
		}
		if step.Status != types.StepSucceeded {
			continue
		}
		switch step.Kind {
		case types.StepCreateVolumeFromSnapshot:
			id := detailString(step.Detail, "new_volume_id")
			if id == "" || prior == nil || prior.NewVolumeID != id {
				// Rollback removed the volume; recreate it.
				return resume(step.Ordinal)
			}
			result.NewVolumeID = id
			reused = true
		case types.StepCreatePorts:
			ids := detailStrings(step.Detail, "new_port_ids")
			if len(ids) == 0 {
				continue
			}
			if prior == nil || !sameIDs(ids, prior.NewPortIDs) {
				return resume(step.Ordinal)
			}
			result.NewPortIDs = ids
			for id, ip := range prior.NewPortIPs {
				result.NewPortIPs[id] = ip
			}
			reused = true
		case types.StepCreateServer:
			// Rollback always removes the server.
			return resume(step.Ordinal)
		}
	}
	return 0, nil
}

func sameIDs(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// Step details round-trip through JSON, so slices come back as []any.

func detailString(detail map[string]any, key string) string {
	if detail == nil {
		return ""
	}
	s, _ := detail[key].(string)
	return s
}

func detailStrings(detail map[string]any, key string) []string {
	if detail == nil {
		return nil
	}
	switch v := detail[key].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}
