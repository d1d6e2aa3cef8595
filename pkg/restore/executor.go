package restore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cloudmason/snapguard/pkg/cloud"
	"github.com/cloudmason/snapguard/pkg/log"
	"github.com/cloudmason/snapguard/pkg/metrics"
	"github.com/cloudmason/snapguard/pkg/session"
	"github.com/cloudmason/snapguard/pkg/store"
	"github.com/cloudmason/snapguard/pkg/types"
	"github.com/google/uuid"
)

// ConfirmationPhrase is the exact destructive-confirmation string a REPLACE
// execute call must carry. The comparison is case-sensitive.
func ConfirmationPhrase(vmName string) string {
	return "DELETE AND RESTORE " + vmName
}

// Execute claims a PLANNED job and starts its background execution. The claim
// itself is synchronous so confirmation and concurrency refusals reach the
// caller before any mutation begins.
func (e *Engine) Execute(ctx context.Context, jobID, confirmDestructive string) (*types.RestoreJob, error) {
	job, err := e.store.GetRestoreJob(jobID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, NewError(KindJobNotFound, "restore job %s not found", jobID)
		}
		return nil, err
	}

	if job.Mode == types.RestoreModeReplace {
		want := ConfirmationPhrase(job.Plan.VMName)
		if confirmDestructive != want {
			return nil, NewError(KindConfirmationRequired,
				"replace mode requires confirm_destructive to equal %q", want)
		}
	}

	if err := e.store.MarkJobPending(job.ID); err != nil {
		switch {
		case errors.Is(err, store.ErrConcurrentRestore):
			return nil, NewError(KindConcurrentRestore, "a restore for vm %s is already in flight", job.VMID)
		case errors.Is(err, store.ErrNotClaimable):
			return nil, NewError(KindInvalidRequest, "job %s is not executable: %v", job.ID, err)
		default:
			return nil, err
		}
	}

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.runJob(context.WithoutCancel(ctx), job.ID)
	}()

	job.Status = types.JobPending
	return job, nil
}

// execState accumulates step outputs across one job execution. Retried jobs
// arrive with reusable resource IDs pre-seeded from the prior attempt.
type execState struct {
	plan  *types.Plan
	sess  *cloud.Session
	admin *cloud.Session

	originalPortIDs []string
	newVolumeID     string
	newPortIDs      []string
	newPortIPs      map[string]string
	newVMID         string
	warnings        []string
}

func newExecState(job *types.RestoreJob) *execState {
	st := &execState{
		plan:       job.Plan,
		newPortIPs: make(map[string]string),
	}
	if prior := job.Result; prior != nil {
		st.newVolumeID = prior.NewVolumeID
		st.newPortIDs = append(st.newPortIDs, prior.NewPortIDs...)
		for id, ip := range prior.NewPortIPs {
			st.newPortIPs[id] = ip
		}
	}
	return st
}

func (st *execState) result() *types.RestoreResult {
	return &types.RestoreResult{
		NewVMID:     st.newVMID,
		NewVolumeID: st.newVolumeID,
		NewPortIDs:  st.newPortIDs,
		NewPortIPs:  st.newPortIPs,
		Warnings:    st.warnings,
	}
}

// replaceOnly reports whether the step executes only in REPLACE mode.
func replaceOnly(kind types.StepKind) bool {
	switch kind {
	case types.StepDeleteExistingVM, types.StepWaitVMDeleted,
		types.StepCleanupOldPorts, types.StepCleanupOldStorage:
		return true
	}
	return false
}

func (e *Engine) runJob(ctx context.Context, jobID string) {
	logger := log.WithJobID(jobID)

	job, err := e.store.GetRestoreJob(jobID)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to load restore job for execution")
		return
	}

	state := newExecState(job)

	// A cancel can land between the claim and the task starting.
	if job.Status == types.JobCanceled {
		e.finishCanceled(ctx, job, state, nil)
		return
	}

	job.Status = types.JobRunning
	if err := e.store.UpdateRestoreJob(job); err != nil {
		logger.Error().Err(err).Msg("Failed to mark job running")
		return
	}

	steps, err := e.store.ListRestoreSteps(job.ID)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to load restore steps")
		return
	}

	admin, err := e.sessions.AdminSession(ctx)
	if err != nil {
		e.failJob(ctx, job, state, steps[0], err)
		return
	}
	state.admin = e.applyDryRun(admin)
	state.sess = state.admin

	for _, step := range steps {
		canceled, cErr := e.store.IsCanceled(job.ID)
		if cErr != nil {
			logger.Error().Err(cErr).Msg("Cancellation check failed")
		}
		if canceled {
			e.markSkipped(step, "canceled")
			e.finishCanceled(ctx, job, state, step)
			return
		}

		if job.ResumeFrom > 0 && step.Ordinal < job.ResumeFrom {
			e.markSkipped(step, "reused from job "+job.RetryOfJobID)
			continue
		}
		if job.Mode == types.RestoreModeNew && replaceOnly(step.Kind) {
			e.markSkipped(step, "not applicable in NEW mode")
			continue
		}

		step.Status = types.StepRunning
		step.StartedAt = time.Now().UTC()
		if err := e.store.UpdateRestoreStep(step); err != nil {
			logger.Error().Err(err).Int("ordinal", step.Ordinal).Msg("Failed to persist step start")
		}

		// The step context is severed from the cancel request (the job runs
		// under WithoutCancel), so a watcher polls the store and interrupts
		// in-flight waits instead of letting them run out their timeouts.
		stepCtx, stopWatch := e.cancelAwareCtx(ctx, job.ID)
		detail, stepErr := e.runStep(stepCtx, job, state, step)
		stopWatch()
		step.Detail = detail
		step.FinishedAt = time.Now().UTC()
		metrics.RestoreStepDuration.WithLabelValues(string(step.Kind)).
			Observe(step.FinishedAt.Sub(step.StartedAt).Seconds())

		if stepErr != nil {
			// A cancel that landed while the step was in flight wins over
			// whatever error the interruption produced.
			if canceled, _ := e.store.IsCanceled(job.ID); canceled {
				e.markSkipped(step, "canceled")
				e.finishCanceled(ctx, job, state, step)
				return
			}
			step.Status = types.StepFailed
			if step.Detail == nil {
				step.Detail = map[string]any{}
			}
			step.Detail["error"] = stepErr.Error()
			if err := e.store.UpdateRestoreStep(step); err != nil {
				logger.Error().Err(err).Int("ordinal", step.Ordinal).Msg("Failed to persist step failure")
			}
			e.failJob(ctx, job, state, step, stepErr)
			return
		}

		step.Status = types.StepSucceeded
		if err := e.store.UpdateRestoreStep(step); err != nil {
			logger.Error().Err(err).Int("ordinal", step.Ordinal).Msg("Failed to persist step success")
		}
	}

	if canceled, _ := e.store.IsCanceled(job.ID); canceled {
		e.finishCanceled(ctx, job, state, nil)
		return
	}

	job.Status = types.JobSucceeded
	job.Result = state.result()
	if err := e.store.UpdateRestoreJob(job); err != nil {
		logger.Error().Err(err).Msg("Failed to persist job success")
		return
	}
	metrics.RestoreJobsTotal.WithLabelValues(string(job.Mode), string(job.Status)).Inc()
	logger.Info().Str("new_vm_id", state.newVMID).Msg("Restore job succeeded")
}

func (e *Engine) markSkipped(step *types.RestoreStep, reason string) {
	step.Status = types.StepSkipped
	step.Detail = map[string]any{"reason": reason}
	step.FinishedAt = time.Now().UTC()
	if err := e.store.UpdateRestoreStep(step); err != nil {
		logger := log.WithJobID(step.JobID)
		logger.Error().Err(err).Int("ordinal", step.Ordinal).
			Msg("Failed to persist skipped step")
	}
}

// finishCanceled runs resource cleanup and records its outcome on the already
// CANCELED job row.
func (e *Engine) finishCanceled(ctx context.Context, job *types.RestoreJob, state *execState, current *types.RestoreStep) {
	logger := log.WithJobID(job.ID)
	actions := e.cleanupResources(ctx, state)

	fresh, err := e.store.GetRestoreJob(job.ID)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to reload canceled job")
		return
	}
	fresh.Result = state.result()
	fresh.Result.Warnings = append(fresh.Result.Warnings, actions...)
	if err := e.store.UpdateRestoreJob(fresh); err != nil {
		logger.Error().Err(err).Msg("Failed to persist cancel cleanup result")
	}
	metrics.RestoreJobsTotal.WithLabelValues(string(job.Mode), string(types.JobCanceled)).Inc()

	ordinal := 0
	if current != nil {
		ordinal = current.Ordinal
	}
	logger.Info().Int("at_step", ordinal).Strs("cleanup", actions).Msg("Restore job canceled")
}

func (e *Engine) failJob(ctx context.Context, job *types.RestoreJob, state *execState, step *types.RestoreStep, stepErr error) {
	logger := log.WithJobID(job.ID)
	actions := e.rollback(ctx, state)

	failure := &types.Failure{
		Kind:                failureKind(stepErr),
		Message:             stepErr.Error(),
		StepOrdinal:         step.Ordinal,
		StepKind:            step.Kind,
		RecoverableViaRetry: true,
	}

	job.Status = types.JobFailed
	job.StatusReason = stepErr.Error()
	job.Result = state.result()
	job.Result.Failure = failure
	job.Result.Warnings = append(job.Result.Warnings, actions...)
	if err := e.store.UpdateRestoreJob(job); err != nil {
		logger.Error().Err(err).Msg("Failed to persist job failure")
	}
	metrics.RestoreJobsTotal.WithLabelValues(string(job.Mode), string(job.Status)).Inc()
	logger.Error().Err(stepErr).
		Int("step_ordinal", step.Ordinal).
		Str("step_kind", string(step.Kind)).
		Strs("rollback", actions).
		Msg("Restore job failed")
}

func failureKind(err error) string {
	if k, ok := KindOf(err); ok {
		return string(k)
	}
	return string(cloud.KindOf(err))
}

// cancelAwareCtx derives a context that is canceled once a cancel request
// lands on the job row, polling at the engine's poll interval. Worst-case
// cancellation latency for a blocked WAIT_* step is one poll interval, not
// the step timeout.
func (e *Engine) cancelAwareCtx(ctx context.Context, jobID string) (context.Context, context.CancelFunc) {
	stepCtx, stop := context.WithCancel(ctx)
	go func() {
		ticker := time.NewTicker(e.cfg.PollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-stepCtx.Done():
				return
			case <-ticker.C:
				if canceled, err := e.store.IsCanceled(jobID); err == nil && canceled {
					stop()
					return
				}
			}
		}
	}()
	return stepCtx, stop
}

// applyDryRun returns a copy of the session carrying the engine's dry-run flag.
func (e *Engine) applyDryRun(s *cloud.Session) *cloud.Session {
	if !e.cfg.DryRun {
		return s
	}
	cp := *s
	cp.DryRun = true
	return &cp
}

func (e *Engine) runStep(ctx context.Context, job *types.RestoreJob, state *execState, step *types.RestoreStep) (map[string]any, error) {
	switch step.Kind {
	case types.StepValidateLiveState:
		return e.stepValidateLiveState(ctx, job, state)
	case types.StepEnsureServiceUser:
		return e.stepEnsureServiceUser(ctx, state)
	case types.StepQuotaCheck:
		return e.stepQuotaCheck(ctx, job, state)
	case types.StepDeleteExistingVM:
		return e.stepDeleteExistingVM(ctx, state)
	case types.StepWaitVMDeleted:
		return e.stepWaitVMDeleted(ctx, state)
	case types.StepCleanupOldPorts:
		return e.stepCleanupOldPorts(ctx, state)
	case types.StepCreateVolumeFromSnapshot:
		return e.stepCreateVolume(ctx, state)
	case types.StepWaitVolumeAvailable:
		return e.stepWaitVolumeAvailable(ctx, state)
	case types.StepCreatePorts:
		return e.stepCreatePorts(ctx, state)
	case types.StepCreateServer:
		return e.stepCreateServer(ctx, state)
	case types.StepWaitServerActive:
		return e.stepWaitServerActive(ctx, state)
	case types.StepFinalize:
		return e.stepFinalize(state)
	case types.StepCleanupOldStorage:
		return e.stepCleanupOldStorage(ctx, state)
	}
	return nil, fmt.Errorf("unknown step kind %q", step.Kind)
}

// --- Step handlers ---

func (e *Engine) stepValidateLiveState(ctx context.Context, job *types.RestoreJob, state *execState) (map[string]any, error) {
	detail := map[string]any{}

	snap, err := e.client.GetSnapshot(ctx, state.sess, state.plan.SnapshotID)
	if err != nil {
		return detail, err
	}
	detail["snapshot_status"] = snap.Status
	if snap.Status != "available" {
		return detail, fmt.Errorf("snapshot %s is %s, not restorable", snap.ID, snap.Status)
	}

	_, err = e.client.GetServer(ctx, state.sess, state.plan.VMID)
	switch {
	case err == nil:
		detail["vm_present"] = true
	case cloud.IsNotFound(err):
		// REPLACE: the deletion target being gone already is fine.
		// NEW: the original is only a template; the plan carries everything.
		detail["vm_present"] = false
	default:
		return detail, err
	}
	return detail, nil
}

func (e *Engine) stepEnsureServiceUser(ctx context.Context, state *execState) (map[string]any, error) {
	detail := map[string]any{}
	sess, err := e.sessions.ProjectSession(ctx, state.plan.ProjectID)
	if errors.Is(err, session.ErrNoProjectSession) {
		state.warnings = append(state.warnings,
			"no project session for "+state.plan.ProjectID+"; remaining steps use the admin session")
		detail["scoped"] = false
		return detail, nil
	}
	if err != nil {
		return detail, err
	}
	state.sess = e.applyDryRun(sess)
	detail["scoped"] = true
	return detail, nil
}

func (e *Engine) stepQuotaCheck(ctx context.Context, job *types.RestoreJob, state *execState) (map[string]any, error) {
	check := e.quotaAdvisory(ctx, state.sess, state.plan)
	detail := map[string]any{"sufficient": check.Sufficient}
	if len(check.Shortfalls) > 0 {
		detail["shortfalls"] = check.Shortfalls
	}
	if job.Mode == types.RestoreModeNew && !check.Sufficient {
		return detail, cloud.NewError(cloud.KindQuota, "QuotaCheck",
			fmt.Errorf("project %s lacks quota: %v", state.plan.ProjectID, check.Shortfalls))
	}
	return detail, nil
}

func (e *Engine) stepDeleteExistingVM(ctx context.Context, state *execState) (map[string]any, error) {
	detail := map[string]any{"original_vm_id": state.plan.VMID}

	ports, err := e.client.ListPorts(ctx, state.sess, cloud.PortFilters{DeviceID: state.plan.VMID})
	if err == nil {
		for _, p := range ports {
			state.originalPortIDs = append(state.originalPortIDs, p.ID)
		}
	}
	detail["original_port_ids"] = state.originalPortIDs

	if e.cfg.DryRun {
		detail["deleted"] = false
		detail["dry_run"] = true
		return detail, nil
	}

	err = e.client.DeleteServer(ctx, state.sess, state.plan.VMID)
	if err != nil && !cloud.IsNotFound(err) {
		return detail, err
	}
	detail["deleted"] = true
	return detail, nil
}

func (e *Engine) stepWaitVMDeleted(ctx context.Context, state *execState) (map[string]any, error) {
	if e.cfg.DryRun {
		return map[string]any{"dry_run": true}, nil
	}
	err := e.client.WaitServerDeleted(ctx, state.sess, state.plan.VMID, e.cfg.VMDeleteTimeout, e.cfg.PollInterval)
	return map[string]any{"waited": true}, err
}

func (e *Engine) stepCleanupOldPorts(ctx context.Context, state *execState) (map[string]any, error) {
	detail := map[string]any{}
	if e.cfg.DryRun {
		detail["dry_run"] = true
		return detail, nil
	}

	var deleted []string
	remove := func(portID string) {
		err := e.client.DeletePort(ctx, state.sess, portID)
		if err == nil || cloud.IsNotFound(err) {
			deleted = append(deleted, portID)
		}
	}

	// 1. Ports captured when the VM was deleted.
	for _, id := range state.originalPortIDs {
		remove(id)
	}
	// 2. Anything still bound to the original device.
	if ports, err := e.client.ListPorts(ctx, state.sess, cloud.PortFilters{DeviceID: state.plan.VMID}); err == nil {
		for _, p := range ports {
			remove(p.ID)
		}
	}
	// 3. Externally-created orphans squatting on the target addresses.
	for _, pp := range state.plan.Ports {
		for _, ip := range pp.IPAddresses {
			ports, err := e.client.ListPorts(ctx, state.sess, cloud.PortFilters{NetworkID: pp.NetworkID, FixedIP: ip})
			if err != nil {
				continue
			}
			for _, p := range ports {
				remove(p.ID)
			}
		}
	}
	detail["deleted_port_ids"] = deleted

	// Give the network layer a moment to release the addresses.
	select {
	case <-time.After(e.cfg.PortReleaseDelay):
	case <-ctx.Done():
		return detail, ctx.Err()
	}
	return detail, nil
}

func (e *Engine) stepCreateVolume(ctx context.Context, state *execState) (map[string]any, error) {
	if state.newVolumeID != "" {
		return map[string]any{"new_volume_id": state.newVolumeID, "reused": true}, nil
	}
	if e.cfg.DryRun {
		state.newVolumeID = "dryrun-vol-" + uuid.New().String()
		return map[string]any{"new_volume_id": state.newVolumeID, "dry_run": true}, nil
	}

	id, err := e.client.CreateVolumeFromSnapshot(ctx, state.sess, cloud.VolumeSpec{
		Name:       "restore-" + state.plan.NewVMName,
		SnapshotID: state.plan.SnapshotID,
		SizeGB:     state.plan.VolumeSizeGB,
		Metadata: map[string]string{
			"restored_from_snapshot": state.plan.SnapshotID,
			"restored_for_vm":        state.plan.VMID,
		},
	})
	if err != nil {
		return nil, err
	}
	state.newVolumeID = id
	return map[string]any{"new_volume_id": id}, nil
}

func (e *Engine) stepWaitVolumeAvailable(ctx context.Context, state *execState) (map[string]any, error) {
	if e.cfg.DryRun {
		return map[string]any{"dry_run": true}, nil
	}
	err := e.client.WaitVolumeStatus(ctx, state.sess, state.newVolumeID, "available", e.cfg.VolumeTimeout, e.cfg.PollInterval)
	return map[string]any{"volume_id": state.newVolumeID}, err
}

func (e *Engine) stepCreatePorts(ctx context.Context, state *execState) (map[string]any, error) {
	detail := map[string]any{"ports": len(state.plan.Ports)}
	if len(state.newPortIDs) > 0 {
		detail["new_port_ids"] = state.newPortIDs
		detail["reused"] = true
		return detail, nil
	}
	if len(state.plan.Ports) == 0 {
		return detail, nil
	}

	if e.cfg.DryRun {
		for _, pp := range state.plan.Ports {
			id := "dryrun-port-" + uuid.New().String()
			state.newPortIDs = append(state.newPortIDs, id)
			if len(pp.IPAddresses) > 0 {
				state.newPortIPs[id] = pp.IPAddresses[0]
			}
		}
		detail["new_port_ids"] = state.newPortIDs
		detail["dry_run"] = true
		return detail, nil
	}

	for _, pp := range state.plan.Ports {
		port, err := e.createPlanPort(ctx, state, pp)
		if err != nil {
			detail["new_port_ids"] = state.newPortIDs
			return detail, err
		}
		state.newPortIDs = append(state.newPortIDs, port.ID)
		if len(port.FixedIPs) > 0 {
			state.newPortIPs[port.ID] = port.FixedIPs[0].IPAddress
		}
	}
	detail["new_port_ids"] = state.newPortIDs
	return detail, nil
}

// createPlanPort applies the job's IP strategy to one plan port, retrying IP
// conflicts and downgrading to DHCP where the strategy allows it.
func (e *Engine) createPlanPort(ctx context.Context, state *execState, pp types.PlanPort) (*types.Port, error) {
	spec := cloud.PortSpec{
		NetworkID:        pp.NetworkID,
		SecurityGroupIDs: state.plan.SecurityGroupIDs,
		Name:             state.plan.NewVMName,
	}

	switch state.plan.IPStrategy {
	case types.IPStrategyNewIPs:
		// DHCP.
	case types.IPStrategyTrySameIPs, types.IPStrategySameIPsOrFail:
		for _, ip := range pp.IPAddresses {
			spec.FixedIPs = append(spec.FixedIPs, types.FixedIP{IPAddress: ip})
		}
	case types.IPStrategyManualIP:
		if ip, ok := state.plan.ManualIPs[pp.NetworkID]; ok && ip != "" {
			spec.FixedIPs = []types.FixedIP{{IPAddress: ip}}
		} else {
			state.warnings = append(state.warnings,
				"no manual ip for network "+pp.NetworkID+"; falling back to DHCP")
		}
	}

	port, err := e.createPortWithRetry(ctx, state.sess, spec)
	if err == nil {
		return port, nil
	}
	if !cloud.IsConflict(err) || len(spec.FixedIPs) == 0 {
		return nil, err
	}
	if state.plan.IPStrategy == types.IPStrategySameIPsOrFail {
		return nil, err
	}

	// TRY_SAME_IPS / MANUAL_IP downgrade to DHCP after exhausted retries.
	state.warnings = append(state.warnings,
		fmt.Sprintf("ip conflict on network %s; downgraded to DHCP", pp.NetworkID))
	logger := log.WithComponent("restore")
	logger.Warn().
		Str("network_id", pp.NetworkID).
		Msg("Requested fixed IP unavailable, downgrading to DHCP")
	spec.FixedIPs = nil
	return e.client.CreatePort(ctx, state.sess, spec)
}

func (e *Engine) createPortWithRetry(ctx context.Context, sess *cloud.Session, spec cloud.PortSpec) (*types.Port, error) {
	var lastErr error
	for attempt := 0; attempt < e.cfg.PortRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(e.cfg.PortRetryDelay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
		port, err := e.client.CreatePort(ctx, sess, spec)
		if err == nil {
			return port, nil
		}
		lastErr = err
		if !cloud.IsConflict(err) {
			return nil, err
		}
	}
	return nil, lastErr
}

func (e *Engine) stepCreateServer(ctx context.Context, state *execState) (map[string]any, error) {
	if e.cfg.DryRun {
		state.newVMID = "dryrun-srv-" + uuid.New().String()
		return map[string]any{"new_vm_id": state.newVMID, "dry_run": true}, nil
	}

	id, err := e.client.CreateServer(ctx, state.sess, cloud.ServerSpec{
		Name:             state.plan.NewVMName,
		FlavorID:         state.plan.FlavorID,
		BootVolumeID:     state.newVolumeID,
		PortIDs:          state.newPortIDs,
		SecurityGroupIDs: state.plan.SecurityGroupIDs,
		UserData:         state.plan.UserData,
		Metadata: map[string]string{
			"restored_from_snapshot": state.plan.SnapshotID,
			"restored_from_vm":       state.plan.VMID,
		},
	})
	if err != nil {
		return nil, err
	}
	state.newVMID = id
	return map[string]any{"new_vm_id": id}, nil
}

func (e *Engine) stepWaitServerActive(ctx context.Context, state *execState) (map[string]any, error) {
	if e.cfg.DryRun {
		return map[string]any{"dry_run": true}, nil
	}
	err := e.client.WaitServerStatus(ctx, state.sess, state.newVMID, "ACTIVE", e.cfg.ServerTimeout, e.cfg.PollInterval)
	return map[string]any{"vm_id": state.newVMID}, err
}

func (e *Engine) stepFinalize(state *execState) (map[string]any, error) {
	return map[string]any{
		"new_vm_id":     state.newVMID,
		"new_volume_id": state.newVolumeID,
		"new_port_ids":  state.newPortIDs,
		"warnings":      len(state.warnings),
	}, nil
}

// stepCleanupOldStorage disposes of the replaced VM's storage. Failures here
// never fail the job; the restore itself already succeeded.
func (e *Engine) stepCleanupOldStorage(ctx context.Context, state *execState) (map[string]any, error) {
	detail := map[string]any{}
	if e.cfg.DryRun {
		detail["dry_run"] = true
		return detail, nil
	}

	vol, err := e.client.GetVolume(ctx, state.sess, state.plan.SourceVolumeID)
	switch {
	case cloud.IsNotFound(err):
		detail["old_volume"] = "already gone"
	case err != nil:
		detail["old_volume_error"] = err.Error()
	case vol.Status != "available":
		// Never delete a volume that is still attached somewhere.
		detail["old_volume_kept"] = vol.Status
	default:
		if err := e.client.DeleteVolume(ctx, state.sess, vol.ID); err != nil {
			detail["old_volume_error"] = err.Error()
		} else {
			detail["old_volume"] = "deleted"
		}
	}

	if state.plan.DeleteSourceSnapshot {
		if err := e.client.DeleteSnapshot(ctx, state.sess, state.plan.SnapshotID); err != nil && !cloud.IsNotFound(err) {
			detail["source_snapshot_error"] = err.Error()
		} else {
			detail["source_snapshot"] = "deleted"
		}
	}
	return detail, nil
}
