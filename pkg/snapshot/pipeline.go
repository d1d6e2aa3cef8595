package snapshot

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/cloudmason/snapguard/pkg/cloud"
	"github.com/cloudmason/snapguard/pkg/log"
	"github.com/cloudmason/snapguard/pkg/metrics"
	"github.com/cloudmason/snapguard/pkg/session"
	"github.com/cloudmason/snapguard/pkg/types"
	"github.com/google/uuid"
)

// assignedVolume is one volume with its resolved policy set, ready for
// stage C/D processing.
type assignedVolume struct {
	volume    types.Volume
	policySet *types.PolicySet
}

// runPipeline executes stages B (inventory barrier), C (creation), and
// D (retention) and finalizes the run. Per-volume errors become failed
// records; only infrastructure errors (store, rule load, stale inventory)
// abort the run itself.
func (w *Worker) runPipeline(ctx context.Context, runType types.RunType, progress *triggerProgress) (*types.SnapshotRun, error) {
	started := time.Now()

	run := &types.SnapshotRun{
		ID:        uuid.New().String(),
		RunType:   runType,
		Status:    types.RunStatusRunning,
		DryRun:    w.cfg.DryRun,
		StartedAt: started.UTC(),
	}
	if err := w.store.InsertSnapshotRun(run); err != nil {
		return nil, err
	}
	logger := log.WithRunID(run.ID)

	// Stage B: inventory barrier.
	progress.start("inventory_sync")
	inv, err := w.syncInventory(ctx)
	progress.finish("inventory_sync", err)
	if err != nil {
		logger.Error().Err(err).Msg("Refusing to run on stale inventory")
		final, ferr := w.FailRun(run.ID, err.Error())
		if ferr != nil {
			return nil, ferr
		}
		return final, nil
	}

	groups, err := w.collectGroups(inv)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to collect volume groups")
		final, ferr := w.FailRun(run.ID, err.Error())
		if ferr != nil {
			return nil, ferr
		}
		return final, nil
	}

	// Stage C: snapshot creation.
	progress.start("snapshot_creation")
	w.createSnapshots(ctx, run, inv, groups)
	progress.finish("snapshot_creation", nil)

	// Stage D: retention pruning. Runs after creation so the budget counts
	// the snapshot just taken.
	progress.start("retention_pruning")
	w.pruneRetention(ctx, run, groups)
	progress.finish("retention_pruning", nil)

	final, err := w.store.FinalizeSnapshotRun(run.ID, "")
	if err != nil {
		return nil, err
	}

	metrics.SnapshotRunsTotal.WithLabelValues(string(runType), string(final.Status)).Inc()
	metrics.SnapshotRunDuration.Observe(time.Since(started).Seconds())
	logger.Info().
		Str("status", string(final.Status)).
		Int("created", final.Created).
		Int("deleted", final.Deleted).
		Int("failed", final.Failed).
		Int("skipped", final.Skipped).
		Msg("Snapshot run finished")
	return final, nil
}

// FailRun force-finalizes a run as failed with the given reason.
func (w *Worker) FailRun(runID, reason string) (*types.SnapshotRun, error) {
	// Append a synthetic failed record so finalize derives status=failed.
	rec := &types.SnapshotRecord{
		ID:        uuid.New().String(),
		RunID:     runID,
		Action:    types.RecordFailed,
		Reason:    reason,
		CreatedAt: time.Now().UTC(),
	}
	if err := w.store.AppendSnapshotRecord(rec); err != nil {
		return nil, err
	}
	return w.store.FinalizeSnapshotRun(runID, reason)
}

// collectGroups joins assignments against volume inventory and groups them
// by project. Groups come back in deterministic project order.
func (w *Worker) collectGroups(inv *inventory) (map[string][]assignedVolume, error) {
	assignments, err := w.store.ListAssignments()
	if err != nil {
		return nil, err
	}

	volumesByID := make(map[string]types.Volume, len(inv.Volumes))
	for _, v := range inv.Volumes {
		volumesByID[v.ID] = v
	}

	groups := make(map[string][]assignedVolume)
	for _, a := range assignments {
		if !a.AutoSnapshot {
			continue
		}
		vol, ok := volumesByID[a.VolumeID]
		if !ok {
			continue // volume vanished since assignment
		}
		ps, err := w.store.GetPolicySet(a.PolicySetID)
		if err != nil {
			continue // dangling assignment, policy set gone
		}
		if !ps.IsActive {
			continue
		}
		groups[vol.ProjectID] = append(groups[vol.ProjectID], assignedVolume{
			volume:    vol,
			policySet: ps,
		})
	}
	return groups, nil
}

// projectOrder returns group keys sorted for deterministic iteration.
func projectOrder(groups map[string][]assignedVolume) []string {
	keys := make([]string, 0, len(groups))
	for k := range groups {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// sessionForProject resolves the scoped session for a project group, falling
// back to the admin session with a recorded warning. The returned session
// carries the run's dry-run flag.
func (w *Worker) sessionForProject(ctx context.Context, run *types.SnapshotRun, projectID string) (*cloud.Session, error) {
	sess, err := w.sessions.ProjectSession(ctx, projectID)
	if errors.Is(err, session.ErrNoProjectSession) {
		logger := log.WithRunID(run.ID)
		logger.Warn().Str("project_id", projectID).
			Msg("No project session available, using admin session")
		w.store.AppendRunWarning(run.ID, "admin session fallback for project "+projectID)
		sess, err = w.sessions.AdminSession(ctx)
	}
	if err != nil {
		return nil, err
	}
	if w.cfg.DryRun {
		dry := *sess
		dry.DryRun = true
		return &dry, nil
	}
	return sess, nil
}
