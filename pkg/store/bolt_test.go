package store

import (
	"errors"
	"testing"
	"time"

	"github.com/cloudmason/snapguard/pkg/types"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *BoltStore {
	t.Helper()
	s, err := NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func newRun(runType types.RunType) *types.SnapshotRun {
	return &types.SnapshotRun{
		ID:        uuid.New().String(),
		RunType:   runType,
		Status:    types.RunStatusRunning,
		StartedAt: time.Now().UTC(),
	}
}

func TestAppendSnapshotRecordBumpsCounters(t *testing.T) {
	s := newTestStore(t)
	run := newRun(types.RunTypeScheduled)
	require.NoError(t, s.InsertSnapshotRun(run))

	actions := []types.RecordAction{
		types.RecordCreated, types.RecordCreated,
		types.RecordDeleted,
		types.RecordFailed,
		types.RecordSkipped, types.RecordSkipped, types.RecordSkipped,
	}
	for i, action := range actions {
		rec := &types.SnapshotRecord{
			ID:        uuid.New().String(),
			RunID:     run.ID,
			VolumeID:  "vol-1",
			Action:    action,
			CreatedAt: time.Now().UTC().Add(time.Duration(i) * time.Millisecond),
		}
		require.NoError(t, s.AppendSnapshotRecord(rec))
	}

	got, err := s.GetSnapshotRun(run.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.Created)
	assert.Equal(t, 1, got.Deleted)
	assert.Equal(t, 1, got.Failed)
	assert.Equal(t, 3, got.Skipped)

	records, err := s.ListSnapshotRecords(run.ID)
	require.NoError(t, err)
	assert.Len(t, records, len(actions))
}

func TestFinalizeSnapshotRunStatus(t *testing.T) {
	tests := []struct {
		name    string
		created int
		failed  int
		want    types.RunStatus
	}{
		{"all succeeded", 3, 0, types.RunStatusCompleted},
		{"nothing attempted", 0, 0, types.RunStatusCompleted},
		{"mixed outcome", 2, 1, types.RunStatusPartial},
		{"all failed", 0, 2, types.RunStatusFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestStore(t)
			run := newRun(types.RunTypeScheduled)
			require.NoError(t, s.InsertSnapshotRun(run))

			for i := 0; i < tt.created; i++ {
				require.NoError(t, s.AppendSnapshotRecord(&types.SnapshotRecord{
					ID: uuid.New().String(), RunID: run.ID, VolumeID: "vol-1",
					Action: types.RecordCreated, CreatedAt: time.Now().UTC(),
				}))
			}
			for i := 0; i < tt.failed; i++ {
				require.NoError(t, s.AppendSnapshotRecord(&types.SnapshotRecord{
					ID: uuid.New().String(), RunID: run.ID, VolumeID: "vol-2",
					Action: types.RecordFailed, CreatedAt: time.Now().UTC(),
				}))
			}

			got, err := s.FinalizeSnapshotRun(run.ID, "")
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.Status)
			assert.False(t, got.FinishedAt.IsZero())
		})
	}
}

func TestHasSnapshotTodayUsesUTCDay(t *testing.T) {
	s := newTestStore(t)
	run := newRun(types.RunTypeScheduled)
	require.NoError(t, s.InsertSnapshotRun(run))

	// 23:30 UTC on the 14th
	createdAt := time.Date(2026, 3, 14, 23, 30, 0, 0, time.UTC)
	require.NoError(t, s.AppendSnapshotRecord(&types.SnapshotRecord{
		ID: uuid.New().String(), RunID: run.ID, VolumeID: "vol-1",
		PolicyName: "daily_5", Action: types.RecordCreated, CreatedAt: createdAt,
	}))

	// Same UTC day, even queried from a zone where it is already the 15th.
	zone := time.FixedZone("UTC+3", 3*3600)
	sameDay := time.Date(2026, 3, 15, 1, 0, 0, 0, zone) // 22:00 UTC on the 14th
	ok, err := s.HasSnapshotToday("vol-1", "daily_5", sameDay)
	require.NoError(t, err)
	assert.True(t, ok)

	nextDay := time.Date(2026, 3, 15, 0, 30, 0, 0, time.UTC)
	ok, err = s.HasSnapshotToday("vol-1", "daily_5", nextDay)
	require.NoError(t, err)
	assert.False(t, ok)

	// Different policy on the same day is independent.
	ok, err = s.HasSnapshotToday("vol-1", "monthly_1st", createdAt)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSkippedRecordsDoNotFeedDedup(t *testing.T) {
	s := newTestStore(t)
	run := newRun(types.RunTypeScheduled)
	require.NoError(t, s.InsertSnapshotRun(run))

	now := time.Now().UTC()
	require.NoError(t, s.AppendSnapshotRecord(&types.SnapshotRecord{
		ID: uuid.New().String(), RunID: run.ID, VolumeID: "vol-1",
		PolicyName: "daily_5", Action: types.RecordSkipped,
		Reason: types.SkipReasonOversized, CreatedAt: now,
	}))

	ok, err := s.HasSnapshotToday("vol-1", "daily_5", now)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestTriggerSingleActive(t *testing.T) {
	s := newTestStore(t)

	first := &types.OnDemandTrigger{
		ID: uuid.New().String(), RequestedBy: "ops",
		Status: types.TriggerPending, CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, s.InsertOnDemandTrigger(first))

	second := &types.OnDemandTrigger{
		ID: uuid.New().String(), RequestedBy: "ops",
		Status: types.TriggerPending, CreatedAt: time.Now().UTC(),
	}
	err := s.InsertOnDemandTrigger(second)
	assert.ErrorIs(t, err, ErrTriggerActive)

	// Claiming flips it to running; still counts as active.
	claimed, err := s.ClaimNextOnDemandTrigger()
	require.NoError(t, err)
	require.NotNil(t, claimed)
	assert.Equal(t, first.ID, claimed.ID)
	assert.Equal(t, types.TriggerRunning, claimed.Status)

	err = s.InsertOnDemandTrigger(second)
	assert.ErrorIs(t, err, ErrTriggerActive)

	// After completion a new trigger is accepted.
	require.NoError(t, s.FinishTrigger(first.ID, types.TriggerCompleted, ""))
	assert.NoError(t, s.InsertOnDemandTrigger(second))
}

func TestClaimNextOnDemandTriggerEmpty(t *testing.T) {
	s := newTestStore(t)
	claimed, err := s.ClaimNextOnDemandTrigger()
	require.NoError(t, err)
	assert.Nil(t, claimed)
}

func newJob(vmID string, status types.JobStatus) *types.RestoreJob {
	now := time.Now().UTC()
	return &types.RestoreJob{
		ID:        uuid.New().String(),
		VMID:      vmID,
		Mode:      types.RestoreModeNew,
		Status:    status,
		Plan:      &types.Plan{VMID: vmID},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func TestInsertRestoreJobRejectsInFlightVM(t *testing.T) {
	s := newTestStore(t)

	first := newJob("vm-1", types.JobPlanned)
	require.NoError(t, s.InsertRestoreJob(first, nil))
	require.NoError(t, s.MarkJobPending(first.ID))

	err := s.InsertRestoreJob(newJob("vm-1", types.JobPlanned), nil)
	assert.ErrorIs(t, err, ErrConcurrentRestore)

	// PLANNED jobs do not block new plans for the same VM.
	planned := newJob("vm-2", types.JobPlanned)
	require.NoError(t, s.InsertRestoreJob(planned, nil))
	assert.NoError(t, s.InsertRestoreJob(newJob("vm-2", types.JobPlanned), nil))
}

func TestRecoverStaleJobsFailsRunningTriggers(t *testing.T) {
	s := newTestStore(t)

	trig := &types.OnDemandTrigger{
		ID: uuid.New().String(), Status: types.TriggerPending, CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, s.InsertOnDemandTrigger(trig))
	_, err := s.ClaimNextOnDemandTrigger()
	require.NoError(t, err)

	_, err = s.RecoverStaleJobs()
	require.NoError(t, err)

	got, err := s.GetOnDemandTrigger(trig.ID)
	require.NoError(t, err)
	assert.Equal(t, types.TriggerFailed, got.Status)
	assert.Equal(t, "process restarted", got.Error)
}

func TestMarkJobPendingEnforcesSingleInFlight(t *testing.T) {
	s := newTestStore(t)

	first := newJob("vm-1", types.JobPlanned)
	second := newJob("vm-1", types.JobPlanned)
	require.NoError(t, s.InsertRestoreJob(first, nil))
	require.NoError(t, s.InsertRestoreJob(second, nil))

	require.NoError(t, s.MarkJobPending(first.ID))

	err := s.MarkJobPending(second.ID)
	assert.ErrorIs(t, err, ErrConcurrentRestore)

	// A different VM is unaffected.
	other := newJob("vm-2", types.JobPlanned)
	require.NoError(t, s.InsertRestoreJob(other, nil))
	assert.NoError(t, s.MarkJobPending(other.ID))

	// Once the first job terminates, the second becomes claimable.
	got, err := s.GetRestoreJob(first.ID)
	require.NoError(t, err)
	got.Status = types.JobFailed
	require.NoError(t, s.UpdateRestoreJob(got))
	assert.NoError(t, s.MarkJobPending(second.ID))
}

func TestMarkJobPendingRequiresPlanned(t *testing.T) {
	s := newTestStore(t)
	job := newJob("vm-1", types.JobPlanned)
	require.NoError(t, s.InsertRestoreJob(job, nil))

	require.NoError(t, s.MarkJobPending(job.ID))
	err := s.MarkJobPending(job.ID)
	assert.ErrorIs(t, err, ErrNotClaimable)
}

func TestRequestCancelIdempotent(t *testing.T) {
	s := newTestStore(t)
	job := newJob("vm-1", types.JobPlanned)
	require.NoError(t, s.InsertRestoreJob(job, nil))

	require.NoError(t, s.RequestCancel(job.ID, "operator request"))
	got, err := s.GetRestoreJob(job.ID)
	require.NoError(t, err)
	assert.Equal(t, types.JobCanceled, got.Status)
	assert.Equal(t, "operator request", got.StatusReason)

	// Second cancel is a no-op, and a succeeded job is never overwritten.
	require.NoError(t, s.RequestCancel(job.ID, "again"))
	got, err = s.GetRestoreJob(job.ID)
	require.NoError(t, err)
	assert.Equal(t, "operator request", got.StatusReason)

	done := newJob("vm-2", types.JobSucceeded)
	require.NoError(t, s.InsertRestoreJob(done, nil))
	require.NoError(t, s.RequestCancel(done.ID, "too late"))
	got, err = s.GetRestoreJob(done.ID)
	require.NoError(t, err)
	assert.Equal(t, types.JobSucceeded, got.Status)
}

func TestUpdateRestoreJobKeepsCanceled(t *testing.T) {
	s := newTestStore(t)
	job := newJob("vm-1", types.JobPlanned)
	require.NoError(t, s.InsertRestoreJob(job, nil))
	require.NoError(t, s.RequestCancel(job.ID, "operator request"))

	// An executor racing the cancel may still write its outcome; the result
	// fields land but the status and cancel reason stick.
	job.Status = types.JobFailed
	job.StatusReason = "step timed out"
	job.Result = &types.RestoreResult{NewVolumeID: "vol-new"}
	require.NoError(t, s.UpdateRestoreJob(job))

	got, err := s.GetRestoreJob(job.ID)
	require.NoError(t, err)
	assert.Equal(t, types.JobCanceled, got.Status)
	assert.Equal(t, "operator request", got.StatusReason)
	require.NotNil(t, got.Result)
	assert.Equal(t, "vol-new", got.Result.NewVolumeID)
}

func TestRecoverStaleJobs(t *testing.T) {
	s := newTestStore(t)

	pending := newJob("vm-1", types.JobPending)
	running := newJob("vm-2", types.JobRunning)
	planned := newJob("vm-3", types.JobPlanned)
	done := newJob("vm-4", types.JobSucceeded)
	for _, j := range []*types.RestoreJob{pending, running, planned, done} {
		require.NoError(t, s.InsertRestoreJob(j, nil))
	}

	recovered, err := s.RecoverStaleJobs()
	require.NoError(t, err)
	assert.Len(t, recovered, 2)

	for _, id := range []string{pending.ID, running.ID} {
		got, err := s.GetRestoreJob(id)
		require.NoError(t, err)
		assert.Equal(t, types.JobInterrupted, got.Status)
	}
	got, err := s.GetRestoreJob(planned.ID)
	require.NoError(t, err)
	assert.Equal(t, types.JobPlanned, got.Status)
}

func TestRestoreStepsOrderedAndHeartbeat(t *testing.T) {
	s := newTestStore(t)
	job := newJob("vm-1", types.JobPlanned)
	steps := []*types.RestoreStep{
		{JobID: job.ID, Ordinal: 1, Kind: types.StepValidateLiveState, Status: types.StepPending},
		{JobID: job.ID, Ordinal: 2, Kind: types.StepQuotaCheck, Status: types.StepPending},
		{JobID: job.ID, Ordinal: 10, Kind: types.StepFinalize, Status: types.StepPending},
	}
	require.NoError(t, s.InsertRestoreJob(job, steps))

	before, err := s.GetRestoreJob(job.ID)
	require.NoError(t, err)

	steps[0].Status = types.StepSucceeded
	require.NoError(t, s.UpdateRestoreStep(steps[0]))

	after, err := s.GetRestoreJob(job.ID)
	require.NoError(t, err)
	assert.True(t, after.LastHeartbeat.After(before.LastHeartbeat) || before.LastHeartbeat.IsZero())

	got, err := s.ListRestoreSteps(job.ID)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, 1, got[0].Ordinal)
	assert.Equal(t, 2, got[1].Ordinal)
	assert.Equal(t, 10, got[2].Ordinal)
	assert.Equal(t, types.StepSucceeded, got[0].Status)
}

func TestUpsertAssignmentOperatorWins(t *testing.T) {
	s := newTestStore(t)

	operator := &types.Assignment{
		VolumeID: "vol-1", PolicySetID: "set-gold",
		Source: types.AssignmentSourceOperator, AutoSnapshot: true,
	}
	require.NoError(t, s.UpsertAssignment(operator))

	rule := &types.Assignment{
		VolumeID: "vol-1", PolicySetID: "set-default",
		Source: types.AssignmentSourceRule, AutoSnapshot: true,
	}
	require.NoError(t, s.UpsertAssignment(rule))

	got, err := s.GetAssignment("vol-1")
	require.NoError(t, err)
	assert.Equal(t, "set-gold", got.PolicySetID)
	assert.Equal(t, types.AssignmentSourceOperator, got.Source)

	// Operator can still override an operator assignment.
	operator2 := &types.Assignment{
		VolumeID: "vol-1", PolicySetID: "set-silver",
		Source: types.AssignmentSourceOperator, AutoSnapshot: true,
	}
	require.NoError(t, s.UpsertAssignment(operator2))
	got, err = s.GetAssignment("vol-1")
	require.NoError(t, err)
	assert.Equal(t, "set-silver", got.PolicySetID)
}

func TestRuleUpsertOverwritesRule(t *testing.T) {
	s := newTestStore(t)

	require.NoError(t, s.UpsertAssignment(&types.Assignment{
		VolumeID: "vol-1", PolicySetID: "set-a", Source: types.AssignmentSourceRule,
	}))
	require.NoError(t, s.UpsertAssignment(&types.Assignment{
		VolumeID: "vol-1", PolicySetID: "set-b", Source: types.AssignmentSourceRule,
	}))

	got, err := s.GetAssignment("vol-1")
	require.NoError(t, err)
	assert.Equal(t, "set-b", got.PolicySetID)
}

func TestInventoryWatermark(t *testing.T) {
	s := newTestStore(t)

	wm, err := s.InventoryWatermark()
	require.NoError(t, err)
	assert.True(t, wm.IsZero())

	now := time.Now().UTC().Truncate(time.Second)
	require.NoError(t, s.SetInventoryWatermark(now))

	wm, err = s.InventoryWatermark()
	require.NoError(t, err)
	assert.True(t, wm.Equal(now))
}

func TestGetMissingRowsReturnErrNotFound(t *testing.T) {
	s := newTestStore(t)

	_, err := s.GetSnapshotRun("missing")
	assert.True(t, errors.Is(err, ErrNotFound))

	_, err = s.GetRestoreJob("missing")
	assert.True(t, errors.Is(err, ErrNotFound))

	_, err = s.GetAssignment("missing")
	assert.True(t, errors.Is(err, ErrNotFound))
}
