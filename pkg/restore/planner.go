package restore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/cloudmason/snapguard/pkg/cloud"
	"github.com/cloudmason/snapguard/pkg/log"
	"github.com/cloudmason/snapguard/pkg/store"
	"github.com/cloudmason/snapguard/pkg/types"
	"github.com/google/uuid"
)

// PlanRequest is the full planner input.
type PlanRequest struct {
	ProjectID            string            `json:"project_id"`
	VMID                 string            `json:"vm_id"`
	SnapshotID           string            `json:"snapshot_id"`
	Mode                 types.RestoreMode `json:"mode"`
	NewVMName            string            `json:"new_vm_name,omitempty"`
	IPStrategy           types.IPStrategy  `json:"ip_strategy"`
	ManualIPs            map[string]string `json:"manual_ips,omitempty"`
	SecurityGroupIDs     []string          `json:"security_group_ids,omitempty"`
	CleanupOldStorage    bool              `json:"cleanup_old_storage"`
	DeleteSourceSnapshot bool              `json:"delete_source_snapshot"`
	RequestedBy          string            `json:"requested_by,omitempty"`
}

func (r *PlanRequest) validate() error {
	if r.VMID == "" || r.SnapshotID == "" || r.ProjectID == "" {
		return NewError(KindInvalidRequest, "project_id, vm_id and snapshot_id are required")
	}
	switch r.Mode {
	case types.RestoreModeNew, types.RestoreModeReplace:
	default:
		return NewError(KindInvalidRequest, "mode must be NEW or REPLACE, got %q", r.Mode)
	}
	switch r.IPStrategy {
	case types.IPStrategyNewIPs, types.IPStrategyTrySameIPs,
		types.IPStrategySameIPsOrFail, types.IPStrategyManualIP:
	default:
		return NewError(KindInvalidRequest, "unknown ip_strategy %q", r.IPStrategy)
	}
	return nil
}

// Plan validates the request against live cloud state, builds the
// deterministic plan document, and persists a PLANNED job with its step rows.
// Planning never mutates the cloud.
func (e *Engine) Plan(ctx context.Context, req PlanRequest) (*types.RestoreJob, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}

	admin, err := e.sessions.AdminSession(ctx)
	if err != nil {
		return nil, err
	}

	srv, err := e.client.GetServer(ctx, admin, req.VMID)
	if err != nil {
		if cloud.IsNotFound(err) {
			return nil, NewError(KindVMNotFound, "vm %s not found", req.VMID)
		}
		return nil, err
	}
	if srv.ProjectID != req.ProjectID {
		return nil, NewError(KindVMNotFound, "vm %s not found in project %s", req.VMID, req.ProjectID)
	}
	if srv.BootVolume == "" {
		return nil, NewError(KindUnsupportedBootMode, "vm %s is not boot-from-volume", req.VMID)
	}

	snap, err := e.client.GetSnapshot(ctx, admin, req.SnapshotID)
	if err != nil {
		if cloud.IsNotFound(err) {
			return nil, NewError(KindSnapshotNotFound, "snapshot %s not found", req.SnapshotID)
		}
		return nil, err
	}
	if err := e.verifyLineage(ctx, admin, srv, snap); err != nil {
		return nil, err
	}

	plan := &types.Plan{
		VMID:                 srv.ID,
		VMName:               srv.Name,
		ProjectID:            srv.ProjectID,
		SnapshotID:           snap.ID,
		SourceVolumeID:       snap.VolumeID,
		VolumeSizeGB:         snap.SizeGB,
		Mode:                 req.Mode,
		IPStrategy:           req.IPStrategy,
		ManualIPs:            req.ManualIPs,
		SecurityGroupIDs:     req.SecurityGroupIDs,
		CleanupOldStorage:    req.CleanupOldStorage,
		DeleteSourceSnapshot: req.DeleteSourceSnapshot,
		FlavorID:             srv.FlavorID,
	}
	plan.NewVMName = req.NewVMName
	if plan.NewVMName == "" {
		if req.Mode == types.RestoreModeReplace {
			plan.NewVMName = srv.Name
		} else {
			plan.NewVMName = srv.Name + "-restored"
		}
	}

	ports, err := e.client.ListPorts(ctx, admin, cloud.PortFilters{DeviceID: srv.ID})
	if err != nil {
		return nil, err
	}
	plan.Ports = capturePorts(ports)

	if flavor := e.findFlavor(ctx, admin, srv.FlavorID); flavor != nil {
		plan.VCPUs = flavor.VCPUs
		plan.RAMMB = flavor.RAMMB
	} else {
		plan.Warnings = append(plan.Warnings, fmt.Sprintf("flavor %s details unavailable", srv.FlavorID))
	}

	userData, err := e.client.GetUserData(ctx, admin, srv.ID)
	if err != nil || userData == "" {
		plan.Warnings = append(plan.Warnings, "cloud-init user_data unavailable; restored vm boots without it")
	} else {
		plan.UserData = userData
	}

	if req.Mode == types.RestoreModeNew {
		plan.Quota = e.quotaAdvisory(ctx, admin, plan)
		if !plan.Quota.Sufficient {
			plan.Warnings = append(plan.Warnings, "project quota may be insufficient: "+
				fmt.Sprintf("%v", plan.Quota.Shortfalls))
		}
	} else {
		plan.Quota = types.QuotaCheck{Sufficient: true}
	}

	if req.IPStrategy == types.IPStrategyManualIP {
		plan.AvailableIPs = e.advisoryAvailableIPs(ctx, admin, plan.Ports)
	}

	job := &types.RestoreJob{
		ID:          uuid.New().String(),
		VMID:        srv.ID,
		SnapshotID:  snap.ID,
		ProjectID:   srv.ProjectID,
		Mode:        req.Mode,
		IPStrategy:  req.IPStrategy,
		Status:      types.JobPlanned,
		Plan:        plan,
		RequestedBy: req.RequestedBy,
		CreatedAt:   time.Now().UTC(),
		UpdatedAt:   time.Now().UTC(),
	}

	steps := buildSteps(job.ID, req.Mode, req.CleanupOldStorage)
	if err := e.store.InsertRestoreJob(job, steps); err != nil {
		if IsConcurrent(err) {
			return nil, NewError(KindConcurrentRestore, "a restore for vm %s is already in flight", srv.ID)
		}
		return nil, err
	}

	logger := log.WithJobID(job.ID)
	logger.Info().
		Str("vm_id", srv.ID).
		Str("mode", string(req.Mode)).
		Int("steps", len(steps)).
		Msg("Restore plan created")
	return job, nil
}

// verifyLineage checks the snapshot's volume is currently or was formerly
// attached to the VM.
func (e *Engine) verifyLineage(ctx context.Context, s *cloud.Session, srv *types.Server, snap *types.Snapshot) error {
	if snap.VolumeID == srv.BootVolume {
		return nil
	}
	vol, err := e.client.GetVolume(ctx, s, snap.VolumeID)
	if err == nil && vol.AttachedTo == srv.ID {
		return nil
	}
	return NewError(KindSnapshotMismatch,
		"snapshot %s belongs to volume %s, which is not attached to vm %s", snap.ID, snap.VolumeID, srv.ID)
}

func capturePorts(ports []types.Port) []types.PlanPort {
	out := make([]types.PlanPort, 0, len(ports))
	for _, p := range ports {
		pp := types.PlanPort{
			NetworkID:  p.NetworkID,
			MAC:        p.MAC,
			OriginalID: p.ID,
		}
		for _, f := range p.FixedIPs {
			pp.IPAddresses = append(pp.IPAddresses, f.IPAddress)
			if f.SubnetID != "" {
				pp.SubnetIDs = append(pp.SubnetIDs, f.SubnetID)
			}
		}
		out = append(out, pp)
	}
	// Deterministic plan documents regardless of list order.
	sort.Slice(out, func(i, j int) bool { return out[i].OriginalID < out[j].OriginalID })
	return out
}

func (e *Engine) findFlavor(ctx context.Context, s *cloud.Session, flavorID string) *types.Flavor {
	flavors, err := e.client.ListFlavors(ctx, s)
	if err != nil {
		return nil
	}
	for i := range flavors {
		if flavors[i].ID == flavorID {
			return &flavors[i]
		}
	}
	return nil
}

// quotaAdvisory compares the NEW-mode resource deltas against live project
// quotas. Advisory only; the authoritative check is the QUOTA_CHECK step.
func (e *Engine) quotaAdvisory(ctx context.Context, s *cloud.Session, plan *types.Plan) types.QuotaCheck {
	check := types.QuotaCheck{Sufficient: true}

	compute, err := e.client.GetComputeQuota(ctx, s, plan.ProjectID)
	if err == nil {
		if compute.InstancesUsed+1 > compute.Instances {
			check.Shortfalls = append(check.Shortfalls, "instances")
		}
		if plan.VCPUs > 0 && compute.CoresUsed+plan.VCPUs > compute.Cores {
			check.Shortfalls = append(check.Shortfalls, "cores")
		}
		if plan.RAMMB > 0 && compute.RAMMBUsed+plan.RAMMB > compute.RAMMB {
			check.Shortfalls = append(check.Shortfalls, "ram")
		}
	}
	storage, err := e.client.GetStorageQuota(ctx, s, plan.ProjectID)
	if err == nil {
		if storage.VolumesUsed+1 > storage.Volumes {
			check.Shortfalls = append(check.Shortfalls, "volumes")
		}
		if storage.GigaBytesUsed+plan.VolumeSizeGB > storage.GigaBytes {
			check.Shortfalls = append(check.Shortfalls, "gigabytes")
		}
	}
	check.Sufficient = len(check.Shortfalls) == 0
	return check
}

func (e *Engine) advisoryAvailableIPs(ctx context.Context, s *cloud.Session, ports []types.PlanPort) map[string][]string {
	out := make(map[string][]string)
	for _, p := range ports {
		if _, done := out[p.NetworkID]; done {
			continue
		}
		ips, err := e.AvailableIPs(ctx, p.NetworkID, 20)
		if err != nil {
			continue
		}
		out[p.NetworkID] = ips
	}
	return out
}

// buildSteps materializes the canonical step table. Rows 1-12 are always
// present; REPLACE-only rows are skipped at execution time in NEW mode.
// Row 13 exists only for REPLACE with cleanup_old_storage.
func buildSteps(jobID string, mode types.RestoreMode, cleanupOldStorage bool) []*types.RestoreStep {
	kinds := []types.StepKind{
		types.StepValidateLiveState,
		types.StepEnsureServiceUser,
		types.StepQuotaCheck,
		types.StepDeleteExistingVM,
		types.StepWaitVMDeleted,
		types.StepCleanupOldPorts,
		types.StepCreateVolumeFromSnapshot,
		types.StepWaitVolumeAvailable,
		types.StepCreatePorts,
		types.StepCreateServer,
		types.StepWaitServerActive,
		types.StepFinalize,
	}
	if mode == types.RestoreModeReplace && cleanupOldStorage {
		kinds = append(kinds, types.StepCleanupOldStorage)
	}

	steps := make([]*types.RestoreStep, 0, len(kinds))
	for i, kind := range kinds {
		steps = append(steps, &types.RestoreStep{
			JobID:   jobID,
			Ordinal: i + 1,
			Kind:    kind,
			Status:  types.StepPending,
		})
	}
	return steps
}

// IsConcurrent reports whether err is the store's in-flight-restore guard.
func IsConcurrent(err error) bool {
	return errors.Is(err, store.ErrConcurrentRestore)
}
