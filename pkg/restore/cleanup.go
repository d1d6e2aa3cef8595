package restore

import (
	"context"
	"errors"

	"github.com/cloudmason/snapguard/pkg/cloud"
	"github.com/cloudmason/snapguard/pkg/log"
	"github.com/cloudmason/snapguard/pkg/store"
	"github.com/cloudmason/snapguard/pkg/types"
)

// Cancel requests cancellation of a job. Idempotent; cancelling a terminal
// job is a no-op.
func (e *Engine) Cancel(jobID, reason string) error {
	err := e.store.RequestCancel(jobID, reason)
	if errors.Is(err, store.ErrNotFound) {
		return NewError(KindJobNotFound, "restore job %s not found", jobID)
	}
	return err
}

// Cleanup walks a job's step details, collects every resource the job
// created, and deletes each. Volumes go only when deleteVolume is set and the
// volume is available. Returns a per-resource outcome report.
func (e *Engine) Cleanup(ctx context.Context, jobID string, deleteVolume bool) (map[string]string, error) {
	job, steps, err := e.loadJobWithSteps(jobID)
	if err != nil {
		return nil, err
	}
	if job.Status.InFlight() {
		return nil, NewError(KindInvalidRequest, "job %s is still %s", jobID, job.Status)
	}

	sess, err := e.sessions.AdminSession(ctx)
	if err != nil {
		return nil, err
	}

	report := make(map[string]string)
	var vmID, volumeID string
	var portIDs []string
	for _, step := range steps {
		switch step.Kind {
		case types.StepCreateServer:
			if id := detailString(step.Detail, "new_vm_id"); id != "" {
				vmID = id
			}
		case types.StepCreatePorts:
			portIDs = append(portIDs, detailStrings(step.Detail, "new_port_ids")...)
		case types.StepCreateVolumeFromSnapshot:
			if id := detailString(step.Detail, "new_volume_id"); id != "" {
				volumeID = id
			}
		}
	}

	if vmID != "" {
		if err := e.client.DeleteServer(ctx, sess, vmID); err != nil && !cloud.IsNotFound(err) {
			report["server:"+vmID] = err.Error()
		} else {
			report["server:"+vmID] = "deleted"
		}
	}
	for _, portID := range portIDs {
		if err := e.client.DeletePort(ctx, sess, portID); err != nil && !cloud.IsNotFound(err) {
			report["port:"+portID] = err.Error()
		} else {
			report["port:"+portID] = "deleted"
		}
	}
	if volumeID != "" {
		report["volume:"+volumeID] = e.disposeVolume(ctx, sess, volumeID, deleteVolume)
	}

	logger := log.WithJobID(jobID)
	logger.Info().Int("resources", len(report)).Msg("Manual cleanup finished")
	return report, nil
}

// CleanupStorage is the post-success disposal of a REPLACE job's old storage,
// for callers that planned without cleanup_old_storage and changed their mind.
func (e *Engine) CleanupStorage(ctx context.Context, jobID string, deleteOldVolume, deleteSourceSnapshot bool) (map[string]string, error) {
	job, err := e.store.GetRestoreJob(jobID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, NewError(KindJobNotFound, "restore job %s not found", jobID)
		}
		return nil, err
	}
	if job.Status != types.JobSucceeded {
		return nil, NewError(KindInvalidRequest, "job %s is %s; storage cleanup applies to succeeded jobs", jobID, job.Status)
	}

	sess, err := e.sessions.AdminSession(ctx)
	if err != nil {
		return nil, err
	}

	report := make(map[string]string)
	if deleteOldVolume && job.Plan != nil && job.Plan.SourceVolumeID != "" {
		report["volume:"+job.Plan.SourceVolumeID] = e.disposeVolume(ctx, sess, job.Plan.SourceVolumeID, true)
	}
	if deleteSourceSnapshot && job.SnapshotID != "" {
		if err := e.client.DeleteSnapshot(ctx, sess, job.SnapshotID); err != nil && !cloud.IsNotFound(err) {
			report["snapshot:"+job.SnapshotID] = err.Error()
		} else {
			report["snapshot:"+job.SnapshotID] = "deleted"
		}
	}
	return report, nil
}

// disposeVolume deletes a volume only when allowed and safe (available, never
// in-use), reporting what happened.
func (e *Engine) disposeVolume(ctx context.Context, sess *cloud.Session, volumeID string, allowed bool) string {
	if !allowed {
		return "kept"
	}
	vol, err := e.client.GetVolume(ctx, sess, volumeID)
	switch {
	case cloud.IsNotFound(err):
		return "already gone"
	case err != nil:
		return err.Error()
	case vol.Status != "available":
		return "kept: " + vol.Status
	}
	if err := e.client.DeleteVolume(ctx, sess, volumeID); err != nil && !cloud.IsNotFound(err) {
		return err.Error()
	}
	return "deleted"
}

func (e *Engine) loadJobWithSteps(jobID string) (*types.RestoreJob, []*types.RestoreStep, error) {
	job, err := e.store.GetRestoreJob(jobID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, nil, NewError(KindJobNotFound, "restore job %s not found", jobID)
		}
		return nil, nil, err
	}
	steps, err := e.store.ListRestoreSteps(jobID)
	if err != nil {
		return nil, nil, err
	}
	return job, steps, nil
}
