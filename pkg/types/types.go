package types

import (
	"time"
)

// Project is the inventory view of a remote tenant.
type Project struct {
	ID       string            `json:"id"`
	Name     string            `json:"name"`
	DomainID string            `json:"domain_id"`
	Domain   string            `json:"domain_name"`
	Enabled  bool              `json:"enabled"`
	Attrs    map[string]string `json:"attrs,omitempty"`
}

// Server is the inventory view of a remote virtual machine.
type Server struct {
	ID         string            `json:"id"`
	Name       string            `json:"name"`
	ProjectID  string            `json:"project_id"`
	Status     string            `json:"status"`
	FlavorID   string            `json:"flavor_id"`
	ImageID    string            `json:"image_id"`
	BootVolume string            `json:"boot_volume_id"` // empty when not boot-from-volume
	Attrs      map[string]string `json:"attrs,omitempty"`
}

// Volume is the inventory view of a remote block-storage volume.
type Volume struct {
	ID         string            `json:"id"`
	Name       string            `json:"name"`
	ProjectID  string            `json:"project_id"`
	Status     string            `json:"status"`
	SizeGB     int               `json:"size_gb"`
	Bootable   bool              `json:"bootable"`
	AttachedTo string            `json:"attached_to"` // server ID, empty when detached
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// Snapshot is the inventory view of a remote volume snapshot.
type Snapshot struct {
	ID        string            `json:"id"`
	Name      string            `json:"name"`
	VolumeID  string            `json:"volume_id"`
	ProjectID string            `json:"project_id"`
	Status    string            `json:"status"`
	SizeGB    int               `json:"size_gb"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
}

// Network is the inventory view of a remote network.
type Network struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	ProjectID string `json:"project_id"`
}

// Subnet is the inventory view of a remote subnet.
type Subnet struct {
	ID        string `json:"id"`
	NetworkID string `json:"network_id"`
	CIDR      string `json:"cidr"`
	GatewayIP string `json:"gateway_ip"`
}

// Port is the inventory view of a remote network port.
type Port struct {
	ID        string    `json:"id"`
	NetworkID string    `json:"network_id"`
	DeviceID  string    `json:"device_id"`
	MAC       string    `json:"mac"`
	FixedIPs  []FixedIP `json:"fixed_ips"`
}

// FixedIP is one address bound to a port.
type FixedIP struct {
	SubnetID  string `json:"subnet_id"`
	IPAddress string `json:"ip_address"`
}

// Flavor is the inventory view of a compute flavor.
type Flavor struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	VCPUs int    `json:"vcpus"`
	RAMMB int    `json:"ram_mb"`
}

// SecurityGroup is the inventory view of a remote security group.
type SecurityGroup struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	ProjectID string `json:"project_id"`
}

// PolicySet is a named set of retention policies bound to volumes via Assignments.
type PolicySet struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Scope     string         `json:"scope"` // "global" or a project ID
	Policies  []string       `json:"policies"`
	Retention map[string]int `json:"retention"` // policy name -> recovery points to keep
	Priority  int            `json:"priority"`  // lower = higher precedence
	IsActive  bool           `json:"is_active"`
}

// AssignmentSource records how an assignment came to be.
type AssignmentSource string

const (
	AssignmentSourceRule     AssignmentSource = "rule"
	AssignmentSourceOperator AssignmentSource = "operator"
)

// Assignment binds one volume to a policy set. One assignment per volume.
type Assignment struct {
	VolumeID     string           `json:"volume_id"`
	PolicySetID  string           `json:"policy_set_id"`
	AutoSnapshot bool             `json:"auto_snapshot"`
	Source       AssignmentSource `json:"source"`
	UpdatedAt    time.Time        `json:"updated_at"`
}

// Exclusion opts a volume or project out of snapshotting, optionally until ExpiresAt.
type Exclusion struct {
	ID        string    `json:"id"`
	VolumeID  string    `json:"volume_id,omitempty"`
	ProjectID string    `json:"project_id,omitempty"`
	Reason    string    `json:"reason,omitempty"`
	ExpiresAt time.Time `json:"expires_at,omitempty"` // zero = never expires
	CreatedAt time.Time `json:"created_at"`
}

// Active reports whether the exclusion is still in force at t.
func (e *Exclusion) Active(t time.Time) bool {
	return e.ExpiresAt.IsZero() || t.Before(e.ExpiresAt)
}

// RunType distinguishes scheduled runs from operator-triggered ones.
type RunType string

const (
	RunTypeScheduled RunType = "scheduled"
	RunTypeOnDemand  RunType = "on_demand"
)

// RunStatus is the lifecycle state of a snapshot run.
type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusPartial   RunStatus = "partial"
	RunStatusFailed    RunStatus = "failed"
)

// SnapshotRun is one execution of the scheduler pipeline.
type SnapshotRun struct {
	ID         string    `json:"id"`
	RunType    RunType   `json:"run_type"`
	Status     RunStatus `json:"status"`
	Created    int       `json:"created"`
	Deleted    int       `json:"deleted"`
	Failed     int       `json:"failed"`
	Skipped    int       `json:"skipped"`
	DryRun     bool      `json:"dry_run"`
	Error      string    `json:"error,omitempty"`
	Warnings   []string  `json:"warnings,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at,omitempty"`
}

// RecordAction classifies what happened to one volume/policy pair inside a run.
type RecordAction string

const (
	RecordCreated RecordAction = "created"
	RecordDeleted RecordAction = "deleted"
	RecordSkipped RecordAction = "skipped"
	RecordFailed  RecordAction = "failed"
)

// Skip reasons recorded on SnapshotRecord.Reason.
const (
	SkipReasonAlreadyToday = "already_today"
	SkipReasonOversized    = "oversized"
	SkipReasonNotScheduled = "not_scheduled"
	SkipReasonSizeRejected = "size_rejected"
)

// SnapshotRecord is the audit entry for one action against one volume in one run.
type SnapshotRecord struct {
	ID               string       `json:"id"`
	RunID            string       `json:"run_id"`
	VolumeID         string       `json:"volume_id"`
	PolicyName       string       `json:"policy_name"`
	Action           RecordAction `json:"action"`
	RemoteSnapshotID string       `json:"remote_snapshot_id,omitempty"`
	Reason           string       `json:"reason,omitempty"`
	CreatedAt        time.Time    `json:"created_at"`
}

// TriggerStatus is the lifecycle state of an on-demand trigger row.
type TriggerStatus string

const (
	TriggerPending   TriggerStatus = "pending"
	TriggerRunning   TriggerStatus = "running"
	TriggerCompleted TriggerStatus = "completed"
	TriggerFailed    TriggerStatus = "failed"
)

// StageProgress is one entry in a trigger's step_progress bag.
type StageProgress struct {
	Name       string    `json:"name"`
	Status     string    `json:"status"`
	Detail     string    `json:"detail,omitempty"`
	StartedAt  time.Time `json:"started_at,omitempty"`
	FinishedAt time.Time `json:"finished_at,omitempty"`
}

// OnDemandTrigger is the durable cross-process signal row inserted by the HTTP
// layer and claimed by the snapshot worker.
type OnDemandTrigger struct {
	ID           string          `json:"id"`
	RequestedBy  string          `json:"requested_by"`
	Status       TriggerStatus   `json:"status"`
	StepProgress []StageProgress `json:"step_progress,omitempty"`
	Error        string          `json:"error,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
}

// RestoreMode selects between creating a fresh VM and replacing the original.
type RestoreMode string

const (
	RestoreModeNew     RestoreMode = "NEW"
	RestoreModeReplace RestoreMode = "REPLACE"
)

// IPStrategy controls how the restored VM's ports acquire addresses.
type IPStrategy string

const (
	IPStrategyNewIPs        IPStrategy = "NEW_IPS"
	IPStrategyTrySameIPs    IPStrategy = "TRY_SAME_IPS"
	IPStrategySameIPsOrFail IPStrategy = "SAME_IPS_OR_FAIL"
	IPStrategyManualIP      IPStrategy = "MANUAL_IP"
)

// JobStatus is the restore job state machine.
type JobStatus string

const (
	JobPlanned     JobStatus = "PLANNED"
	JobPending     JobStatus = "PENDING"
	JobRunning     JobStatus = "RUNNING"
	JobSucceeded   JobStatus = "SUCCEEDED"
	JobFailed      JobStatus = "FAILED"
	JobCanceled    JobStatus = "CANCELED"
	JobInterrupted JobStatus = "INTERRUPTED"
)

// InFlight reports whether the status counts against the one-restore-per-VM guard.
func (s JobStatus) InFlight() bool {
	return s == JobPending || s == JobRunning
}

// Terminal reports whether the job can no longer change state.
func (s JobStatus) Terminal() bool {
	switch s {
	case JobSucceeded, JobFailed, JobCanceled, JobInterrupted:
		return true
	}
	return false
}

// StepKind enumerates the restore plan's canonical step kinds.
type StepKind string

const (
	StepValidateLiveState        StepKind = "VALIDATE_LIVE_STATE"
	StepEnsureServiceUser        StepKind = "ENSURE_SERVICE_USER"
	StepQuotaCheck               StepKind = "QUOTA_CHECK"
	StepDeleteExistingVM         StepKind = "DELETE_EXISTING_VM"
	StepWaitVMDeleted            StepKind = "WAIT_VM_DELETED"
	StepCleanupOldPorts          StepKind = "CLEANUP_OLD_PORTS"
	StepCreateVolumeFromSnapshot StepKind = "CREATE_VOLUME_FROM_SNAPSHOT"
	StepWaitVolumeAvailable      StepKind = "WAIT_VOLUME_AVAILABLE"
	StepCreatePorts              StepKind = "CREATE_PORTS"
	StepCreateServer             StepKind = "CREATE_SERVER"
	StepWaitServerActive         StepKind = "WAIT_SERVER_ACTIVE"
	StepFinalize                 StepKind = "FINALIZE"
	StepCleanupOldStorage        StepKind = "CLEANUP_OLD_STORAGE"
)

// StepStatus is the lifecycle state of one restore step.
type StepStatus string

const (
	StepPending   StepStatus = "PENDING"
	StepRunning   StepStatus = "RUNNING"
	StepSucceeded StepStatus = "SUCCEEDED"
	StepFailed    StepStatus = "FAILED"
	StepSkipped   StepStatus = "SKIPPED"
)

// PlanPort captures one original port of the VM being restored.
type PlanPort struct {
	NetworkID   string   `json:"network_id"`
	SubnetIDs   []string `json:"subnet_ids,omitempty"`
	IPAddresses []string `json:"ip_addresses"`
	MAC         string   `json:"mac,omitempty"`
	OriginalID  string   `json:"original_port_id"`
}

// QuotaCheck is the advisory quota comparison attached to a plan.
type QuotaCheck struct {
	Sufficient bool     `json:"sufficient"`
	Shortfalls []string `json:"shortfalls,omitempty"`
}

// Plan is the deterministic restore plan document. It is pure data: building it
// never mutates the cloud.
type Plan struct {
	VMID                 string              `json:"vm_id"`
	VMName               string              `json:"vm_name"`
	NewVMName            string              `json:"new_vm_name"`
	ProjectID            string              `json:"project_id"`
	SnapshotID           string              `json:"snapshot_id"`
	SourceVolumeID       string              `json:"source_volume_id"`
	VolumeSizeGB         int                 `json:"volume_size_gb"`
	Mode                 RestoreMode         `json:"mode"`
	IPStrategy           IPStrategy          `json:"ip_strategy"`
	ManualIPs            map[string]string   `json:"manual_ips,omitempty"` // network ID -> desired IP
	AvailableIPs         map[string][]string `json:"available_ips,omitempty"`
	SecurityGroupIDs     []string            `json:"security_group_ids,omitempty"`
	CleanupOldStorage    bool                `json:"cleanup_old_storage"`
	DeleteSourceSnapshot bool                `json:"delete_source_snapshot"`
	FlavorID             string              `json:"flavor_id"`
	VCPUs                int                 `json:"vcpus"`
	RAMMB                int                 `json:"ram_mb"`
	UserData             string              `json:"user_data,omitempty"` // base64 cloud-init payload
	Ports                []PlanPort          `json:"ports"`
	Warnings             []string            `json:"warnings,omitempty"`
	Quota                QuotaCheck          `json:"quota_check"`
}

// Failure is the structured error surfaced in a failed job's result.
type Failure struct {
	Kind                string   `json:"kind"`
	Message             string   `json:"message"`
	StepOrdinal         int      `json:"step_ordinal"`
	StepKind            StepKind `json:"step_kind"`
	RecoverableViaRetry bool     `json:"recoverable_via_retry"`
}

// RestoreResult is populated while a job executes.
type RestoreResult struct {
	NewVMID     string            `json:"new_vm_id,omitempty"`
	NewVolumeID string            `json:"new_volume_id,omitempty"`
	NewPortIDs  []string          `json:"new_port_ids,omitempty"`
	NewPortIPs  map[string]string `json:"new_port_ips,omitempty"` // port ID -> address
	Warnings    []string          `json:"warnings,omitempty"`
	Failure     *Failure          `json:"failure,omitempty"`
}

// RestoreJob is one restore attempt. Completed jobs are never deleted; they are
// the audit trail.
type RestoreJob struct {
	ID            string         `json:"id"`
	VMID          string         `json:"vm_id"`
	SnapshotID    string         `json:"snapshot_id"`
	ProjectID     string         `json:"project_id"`
	Mode          RestoreMode    `json:"mode"`
	IPStrategy    IPStrategy     `json:"ip_strategy"`
	Status        JobStatus      `json:"status"`
	Plan          *Plan          `json:"plan"`
	Result        *RestoreResult `json:"result,omitempty"`
	RequestedBy   string         `json:"requested_by"`
	RetryOfJobID  string         `json:"retry_of_job_id,omitempty"`
	ResumeFrom    int            `json:"resume_from,omitempty"` // first ordinal to execute, 0 = all
	StatusReason  string         `json:"status_reason,omitempty"`
	LastHeartbeat time.Time      `json:"last_heartbeat,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
}

// RestoreStep is one row per step inside a job's plan. Steps cascade-delete
// with their parent job.
type RestoreStep struct {
	JobID      string         `json:"job_id"`
	Ordinal    int            `json:"ordinal"`
	Kind       StepKind       `json:"kind"`
	Status     StepStatus     `json:"status"`
	Detail     map[string]any `json:"detail,omitempty"`
	StartedAt  time.Time      `json:"started_at,omitempty"`
	FinishedAt time.Time      `json:"finished_at,omitempty"`
}
