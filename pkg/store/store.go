package store

import (
	"errors"
	"time"

	"github.com/cloudmason/snapguard/pkg/types"
)

// Sentinel errors surfaced by Store implementations. Callers branch on these
// with errors.Is.
var (
	// ErrNotFound is returned when the requested row does not exist.
	ErrNotFound = errors.New("not found")

	// ErrConcurrentRestore is returned when another job for the same VM is
	// already pending or running.
	ErrConcurrentRestore = errors.New("restore already in flight for vm")

	// ErrNotClaimable is returned by MarkJobPending when the job is not in
	// PLANNED state (someone else claimed it, or it was canceled).
	ErrNotClaimable = errors.New("job is not claimable")

	// ErrTriggerActive is returned when an on-demand trigger is already
	// pending or running.
	ErrTriggerActive = errors.New("on-demand run already active")
)

// Store is the durable state layer shared by the API process and the worker
// process. Implementations must make each method atomic: invariants like
// one-in-flight-restore-per-VM are enforced inside the method, not by callers.
type Store interface {
	// Snapshot runs
	InsertSnapshotRun(run *types.SnapshotRun) error
	GetSnapshotRun(id string) (*types.SnapshotRun, error)
	ListSnapshotRuns(limit int) ([]*types.SnapshotRun, error)
	// AppendSnapshotRecord persists the record and bumps the parent run's
	// counter for the record's action in the same transaction.
	AppendSnapshotRecord(rec *types.SnapshotRecord) error
	ListSnapshotRecords(runID string) ([]*types.SnapshotRecord, error)
	// FinalizeSnapshotRun derives the terminal status from the run's
	// counters: failed when nothing was created and something failed,
	// partial when both happened, completed otherwise.
	FinalizeSnapshotRun(id string, runErr string) (*types.SnapshotRun, error)
	// HasSnapshotToday reports whether a snapshot was created for the
	// volume/policy pair during the UTC day containing now.
	HasSnapshotToday(volumeID, policy string, now time.Time) (bool, error)
	// AppendRunWarning records a non-fatal degradation on the run.
	AppendRunWarning(id, warning string) error
	// InterruptRunningRuns force-fails every run still marked running.
	// Called once at worker startup.
	InterruptRunningRuns() error

	// On-demand triggers
	InsertOnDemandTrigger(trigger *types.OnDemandTrigger) error
	GetOnDemandTrigger(id string) (*types.OnDemandTrigger, error)
	// ClaimNextOnDemandTrigger atomically flips the oldest pending trigger
	// to running and returns it, or (nil, nil) when none is pending.
	ClaimNextOnDemandTrigger() (*types.OnDemandTrigger, error)
	UpdateTriggerProgress(id string, progress []types.StageProgress) error
	FinishTrigger(id string, status types.TriggerStatus, errMsg string) error
	LatestTrigger() (*types.OnDemandTrigger, error)

	// Restore jobs
	// InsertRestoreJob persists a PLANNED job together with its step rows.
	// Fails with ErrConcurrentRestore while another job for the same VM is
	// pending or running.
	InsertRestoreJob(job *types.RestoreJob, steps []*types.RestoreStep) error
	GetRestoreJob(id string) (*types.RestoreJob, error)
	ListRestoreJobs(vmID string, limit int) ([]*types.RestoreJob, error)
	// MarkJobPending flips the job from PLANNED to PENDING, enforcing the
	// one-in-flight-job-per-VM invariant in the same transaction.
	MarkJobPending(id string) error
	// UpdateRestoreJob persists the job. A row that reached CANCELED keeps
	// that status even when the incoming job carries another one.
	UpdateRestoreJob(job *types.RestoreJob) error
	ListRestoreSteps(jobID string) ([]*types.RestoreStep, error)
	// UpdateRestoreStep persists the step and bumps the parent job's
	// heartbeat in the same transaction.
	UpdateRestoreStep(step *types.RestoreStep) error
	// RequestCancel marks a non-terminal job CANCELED. Terminal jobs are
	// left untouched; the call is idempotent.
	RequestCancel(id, reason string) error
	// IsCanceled reports whether cancellation has been requested for the job.
	IsCanceled(id string) (bool, error)
	// RecoverStaleJobs marks every PENDING or RUNNING job INTERRUPTED and
	// every running trigger failed. Called once at worker startup, before
	// the executor accepts work.
	RecoverStaleJobs() ([]*types.RestoreJob, error)

	// Policy sets and assignments
	UpsertPolicySet(ps *types.PolicySet) error
	GetPolicySet(id string) (*types.PolicySet, error)
	ListPolicySets() ([]*types.PolicySet, error)
	// UpsertAssignment writes the assignment unless an operator-sourced
	// assignment already exists for the volume and the incoming one is
	// rule-sourced; operator choices always win.
	UpsertAssignment(a *types.Assignment) error
	// UpsertAssignments writes a batch under one transaction with the same
	// operator-wins semantics; the whole chunk lands or none of it does.
	UpsertAssignments(batch []*types.Assignment) error
	GetAssignment(volumeID string) (*types.Assignment, error)
	ListAssignments() ([]*types.Assignment, error)
	DeleteAssignment(volumeID string) error

	// Exclusions
	CreateExclusion(e *types.Exclusion) error
	ListExclusions() ([]*types.Exclusion, error)
	DeleteExclusion(id string) error

	// Inventory mirror
	PutInventory(kind string, payload []byte) error
	GetInventory(kind string) ([]byte, error)
	SetInventoryWatermark(t time.Time) error
	InventoryWatermark() (time.Time, error)

	Close() error
}
