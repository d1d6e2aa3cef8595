package restore

import (
	"context"

	"github.com/cloudmason/snapguard/pkg/cloud"
	"github.com/cloudmason/snapguard/pkg/log"
)

// rollback undoes the resources a failed execution created, newest first.
// Every action is independently best-effort; the source snapshot is never
// touched. Returns a human-readable action list for the job result.
func (e *Engine) rollback(ctx context.Context, state *execState) []string {
	return e.cleanupResources(ctx, state)
}

// cleanupResources is shared by rollback and cancel handling. Resources it
// removes are cleared from the state, so the job result written afterwards
// lists only the survivors a retry may legitimately reuse.
func (e *Engine) cleanupResources(ctx context.Context, state *execState) []string {
	logger := log.WithComponent("restore")
	var actions []string

	if e.cfg.DryRun {
		return []string{"dry-run: nothing to clean up"}
	}

	if state.newVMID != "" {
		if err := e.client.DeleteServer(ctx, state.sess, state.newVMID); err != nil && !cloud.IsNotFound(err) {
			logger.Error().Err(err).Str("vm_id", state.newVMID).Msg("Rollback failed to delete server")
			actions = append(actions, "rollback: failed to delete server "+state.newVMID)
		} else {
			actions = append(actions, "rollback: deleted server "+state.newVMID)
			state.newVMID = ""
		}
	}

	var keptPorts []string
	for _, portID := range state.newPortIDs {
		if err := e.client.DeletePort(ctx, state.sess, portID); err != nil && !cloud.IsNotFound(err) {
			logger.Error().Err(err).Str("port_id", portID).Msg("Rollback failed to delete port")
			actions = append(actions, "rollback: failed to delete port "+portID)
			keptPorts = append(keptPorts, portID)
		} else {
			actions = append(actions, "rollback: deleted port "+portID)
			delete(state.newPortIPs, portID)
		}
	}
	state.newPortIDs = keptPorts

	if state.newVolumeID != "" {
		if e.cfg.CleanupVolumes {
			if err := e.client.DeleteVolume(ctx, state.sess, state.newVolumeID); err != nil && !cloud.IsNotFound(err) {
				logger.Error().Err(err).Str("volume_id", state.newVolumeID).Msg("Rollback failed to delete volume")
				actions = append(actions, "rollback: failed to delete volume "+state.newVolumeID)
			} else {
				actions = append(actions, "rollback: deleted volume "+state.newVolumeID)
				state.newVolumeID = ""
			}
		} else {
			actions = append(actions, "rollback: volume "+state.newVolumeID+" left for inspection")
		}
	}

	return actions
}
