package snapshot

import (
	"context"
	"sync"
	"time"

	"github.com/cloudmason/snapguard/pkg/cloud"
	"github.com/cloudmason/snapguard/pkg/log"
	"github.com/cloudmason/snapguard/pkg/metrics"
	"github.com/cloudmason/snapguard/pkg/policy"
	"github.com/cloudmason/snapguard/pkg/types"
	"github.com/google/uuid"
)

// Metadata stamped onto every auto-created snapshot. Retention pruning keys
// off these exact values.
const (
	metaCreatedBy = "created_by"
	metaPolicy    = "policy"
	autoCreator   = "auto"
)

// createSnapshots is stage C. Project groups run sequentially to preserve
// session-cache locality; volumes inside a group fan out across the bounded
// pool.
func (w *Worker) createSnapshots(ctx context.Context, run *types.SnapshotRun, inv *inventory, groups map[string][]assignedVolume) {
	logger := log.WithRunID(run.ID)

	for _, projectID := range projectOrder(groups) {
		sess, err := w.sessionForProject(ctx, run, projectID)
		if err != nil {
			logger.Error().Err(err).Str("project_id", projectID).
				Msg("No session for project group, recording failures")
			for _, av := range groups[projectID] {
				w.record(run, &av.volume, "", types.RecordFailed, "", "session unavailable: "+err.Error())
			}
			continue
		}

		w.processGroup(ctx, run, sess, inv, groups[projectID])
	}
}

func (w *Worker) processGroup(ctx context.Context, run *types.SnapshotRun, sess *cloud.Session, inv *inventory, group []assignedVolume) {
	jobs := make(chan assignedVolume)
	var wg sync.WaitGroup

	for i := 0; i < w.cfg.VolumeWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for av := range jobs {
				w.processVolume(ctx, run, sess, inv, av)
			}
		}()
	}

	for _, av := range group {
		jobs <- av
	}
	close(jobs)
	wg.Wait()
}

// processVolume walks every (volume, policy) pair through the gates and, when
// all pass, creates the snapshot.
func (w *Worker) processVolume(ctx context.Context, run *types.SnapshotRun, sess *cloud.Session, inv *inventory, av assignedVolume) {
	vol := av.volume
	now := w.now().UTC()

	// Policies evaluate in the order declared on the policy set.
	for _, policyName := range av.policySet.Policies {
		if vol.SizeGB > w.cfg.MaxSnapshotSizeGB {
			w.record(run, &vol, policyName, types.RecordSkipped, "", types.SkipReasonOversized)
			continue
		}
		if !policy.ScheduledToday(policyName, now) {
			w.record(run, &vol, policyName, types.RecordSkipped, "", types.SkipReasonNotScheduled)
			continue
		}
		already, err := w.store.HasSnapshotToday(vol.ID, policyName, now)
		if err != nil {
			w.record(run, &vol, policyName, types.RecordFailed, "", err.Error())
			continue
		}
		if already {
			w.record(run, &vol, policyName, types.RecordSkipped, "", types.SkipReasonAlreadyToday)
			continue
		}

		name := snapshotName(inv.tenantName(vol.ProjectID), policyName, inv.serverName(vol.AttachedTo), vol.Name, now)
		metadata := map[string]string{
			metaCreatedBy: autoCreator,
			metaPolicy:    policyName,
		}

		snapID, err := w.client.CreateSnapshot(ctx, sess, vol.ID, name, metadata)
		switch {
		case err == nil:
			w.record(run, &vol, policyName, types.RecordCreated, snapID, "")
		case cloud.IsSizeRejected(err):
			// The backend refused the size; a skip, never a failure.
			w.record(run, &vol, policyName, types.RecordSkipped, "", types.SkipReasonSizeRejected)
		default:
			w.record(run, &vol, policyName, types.RecordFailed, "", err.Error())
		}
	}
}

func (w *Worker) record(run *types.SnapshotRun, vol *types.Volume, policyName string, action types.RecordAction, snapshotID, reason string) {
	rec := &types.SnapshotRecord{
		ID:               uuid.New().String(),
		RunID:            run.ID,
		VolumeID:         vol.ID,
		PolicyName:       policyName,
		Action:           action,
		RemoteSnapshotID: snapshotID,
		Reason:           reason,
		CreatedAt:        time.Now().UTC(),
	}
	if err := w.store.AppendSnapshotRecord(rec); err != nil {
		logger := log.WithRunID(run.ID)
		logger.Error().Err(err).Str("volume_id", vol.ID).
			Msg("Failed to append snapshot record")
		return
	}
	metrics.SnapshotRecordsTotal.WithLabelValues(string(action)).Inc()
}
