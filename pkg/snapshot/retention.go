package snapshot

import (
	"context"
	"sort"

	"github.com/cloudmason/snapguard/pkg/cloud"
	"github.com/cloudmason/snapguard/pkg/log"
	"github.com/cloudmason/snapguard/pkg/types"
)

// pruneRetention is stage D. For every assignment it lists the volume's
// auto-created snapshots per policy, keeps the newest retention-many, and
// deletes the rest. It always runs after creation so the just-created
// snapshot counts toward the budget.
func (w *Worker) pruneRetention(ctx context.Context, run *types.SnapshotRun, groups map[string][]assignedVolume) {
	logger := log.WithRunID(run.ID)

	for _, projectID := range projectOrder(groups) {
		sess, err := w.sessionForProject(ctx, run, projectID)
		if err != nil {
			logger.Error().Err(err).Str("project_id", projectID).
				Msg("No session for retention pass, skipping project")
			continue
		}

		for _, av := range groups[projectID] {
			for _, policyName := range av.policySet.Policies {
				keep, ok := av.policySet.Retention[policyName]
				if !ok || keep <= 0 {
					continue
				}
				w.pruneVolumePolicy(ctx, run, sess, av.volume, policyName, keep)
			}
		}
	}
}

func (w *Worker) pruneVolumePolicy(ctx context.Context, run *types.SnapshotRun, sess *cloud.Session, vol types.Volume, policyName string, keep int) {
	snaps, err := w.client.ListSnapshots(ctx, sess, vol.ID)
	if err != nil {
		w.record(run, &vol, policyName, types.RecordFailed, "", "list snapshots: "+err.Error())
		return
	}

	// Only snapshots this system created under this policy are in scope.
	var owned []types.Snapshot
	for _, snap := range snaps {
		if snap.Metadata[metaCreatedBy] == autoCreator && snap.Metadata[metaPolicy] == policyName {
			owned = append(owned, snap)
		}
	}
	if len(owned) <= keep {
		return
	}

	sort.Slice(owned, func(i, j int) bool {
		return owned[i].CreatedAt.After(owned[j].CreatedAt)
	})

	for _, snap := range owned[keep:] {
		if err := w.client.DeleteSnapshot(ctx, sess, snap.ID); err != nil {
			w.record(run, &vol, policyName, types.RecordFailed, snap.ID, "delete snapshot: "+err.Error())
			continue
		}
		w.record(run, &vol, policyName, types.RecordDeleted, snap.ID, "")
	}
}
