package snapshot

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/cloudmason/snapguard/pkg/cloud"
	"github.com/cloudmason/snapguard/pkg/log"
	"github.com/cloudmason/snapguard/pkg/session"
	"github.com/cloudmason/snapguard/pkg/store"
	"github.com/cloudmason/snapguard/pkg/types"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	log.Init(log.Config{Level: log.ErrorLevel, JSONOutput: true, Output: io.Discard})
	os.Exit(m.Run())
}

const defaultRules = `[
	{
		"name": "default-daily",
		"priority": 10,
		"match": {},
		"auto_snapshot": true,
		"policies": ["daily_5"],
		"retention": {"daily_5": 3}
	}
]`

type fixture struct {
	worker *Worker
	mock   *cloud.Mock
	store  *store.BoltStore
}

func newFixture(t *testing.T, rules string) *fixture {
	t.Helper()

	dir := t.TempDir()
	rulesPath := filepath.Join(dir, "rules.json")
	require.NoError(t, os.WriteFile(rulesPath, []byte(rules), 0600))

	st, err := store.NewBoltStore(dir)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	m := cloud.NewMock()
	m.Users["svc@example.com"] = &cloud.User{ID: "user-svc", Email: "svc@example.com"}

	sessions := session.NewProvider(m, session.Config{
		Credential: cloud.Credential{Email: "svc@example.com", Password: "secret"},
	})

	w := NewWorker(Config{RulesFile: rulesPath}, st, m, sessions)
	return &fixture{worker: w, mock: m, store: st}
}

func (f *fixture) seedVolume(id, name, project, server string, sizeGB int) {
	if _, ok := f.mock.Projects[project]; !ok {
		f.mock.Projects[project] = &types.Project{ID: project, Name: "acme-" + project}
	}
	if server != "" {
		if _, ok := f.mock.Servers[server]; !ok {
			f.mock.Servers[server] = &types.Server{ID: server, Name: "web", ProjectID: project, Status: "ACTIVE"}
		}
	}
	f.mock.Volumes[id] = &types.Volume{
		ID: id, Name: name, ProjectID: project, Status: "in-use",
		SizeGB: sizeGB, AttachedTo: server,
	}
}

func (f *fixture) runOnce(t *testing.T) *types.SnapshotRun {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, f.worker.runPolicyAssignment(ctx))
	run, err := f.worker.runPipeline(ctx, types.RunTypeScheduled, nil)
	require.NoError(t, err)
	return run
}

func recordsByAction(t *testing.T, st *store.BoltStore, runID string) map[types.RecordAction][]*types.SnapshotRecord {
	t.Helper()
	records, err := st.ListSnapshotRecords(runID)
	require.NoError(t, err)
	out := make(map[types.RecordAction][]*types.SnapshotRecord)
	for _, rec := range records {
		out[rec.Action] = append(out[rec.Action], rec)
	}
	return out
}

func TestHappyPathCreatesSnapshot(t *testing.T) {
	f := newFixture(t, defaultRules)
	f.seedVolume("vol-1", "data", "p1", "srv-1", 50)

	run := f.runOnce(t)
	assert.Equal(t, types.RunStatusCompleted, run.Status)
	assert.Equal(t, 1, run.Created)
	assert.Zero(t, run.Failed)

	require.Len(t, f.mock.Snapshots, 1)
	for _, snap := range f.mock.Snapshots {
		assert.True(t, strings.HasPrefix(snap.Name, "auto-acme-p1-daily-5-web-data-"), snap.Name)
		assert.Equal(t, "auto", snap.Metadata["created_by"])
		assert.Equal(t, "daily_5", snap.Metadata["policy"])
	}
}

// Invoking the worker repeatedly within one UTC day must create exactly once.
func TestDailyDedup(t *testing.T) {
	f := newFixture(t, defaultRules)
	f.seedVolume("vol-1", "data", "p1", "srv-1", 50)

	first := f.runOnce(t)
	assert.Equal(t, 1, first.Created)

	for i := 0; i < 2; i++ {
		run := f.runOnce(t)
		assert.Zero(t, run.Created)
		byAction := recordsByAction(t, f.store, run.ID)
		require.Len(t, byAction[types.RecordSkipped], 1)
		assert.Equal(t, types.SkipReasonAlreadyToday, byAction[types.RecordSkipped][0].Reason)
	}

	assert.Len(t, f.mock.Snapshots, 1)
}

// Pre-seed 5 auto snapshots, retention 3: one new snapshot is created, the
// budget counts it, and the 3 oldest are deleted leaving exactly 3.
func TestRetentionPruneAfterCreation(t *testing.T) {
	f := newFixture(t, defaultRules)
	f.seedVolume("vol-1", "data", "p1", "srv-1", 50)

	now := time.Now().UTC()
	for i := 1; i <= 5; i++ {
		id := fmt.Sprintf("snap-old-%d", i)
		f.mock.Snapshots[id] = &types.Snapshot{
			ID: id, Name: "auto-old", VolumeID: "vol-1", ProjectID: "p1",
			Status: "available", SizeGB: 50,
			Metadata:  map[string]string{"created_by": "auto", "policy": "daily_5"},
			CreatedAt: now.AddDate(0, 0, -i),
		}
	}

	run := f.runOnce(t)
	assert.Equal(t, 1, run.Created)
	assert.Equal(t, 3, run.Deleted)

	assert.Len(t, f.mock.Snapshots, 3)
	// The two oldest pre-seeded snapshots are gone.
	assert.NotContains(t, f.mock.Snapshots, "snap-old-4")
	assert.NotContains(t, f.mock.Snapshots, "snap-old-5")
	assert.Contains(t, f.mock.Snapshots, "snap-old-1")
	assert.Contains(t, f.mock.Snapshots, "snap-old-2")
}

func TestRetentionOneKeepsNewestOnly(t *testing.T) {
	rules := `[{
		"name": "tight", "priority": 1, "match": {},
		"auto_snapshot": true, "policies": ["daily_5"],
		"retention": {"daily_5": 1}
	}]`
	f := newFixture(t, rules)
	f.seedVolume("vol-1", "data", "p1", "srv-1", 50)

	f.mock.Snapshots["snap-old"] = &types.Snapshot{
		ID: "snap-old", VolumeID: "vol-1", ProjectID: "p1", Status: "available",
		Metadata:  map[string]string{"created_by": "auto", "policy": "daily_5"},
		CreatedAt: time.Now().UTC().AddDate(0, 0, -1),
	}

	run := f.runOnce(t)
	assert.Equal(t, 1, run.Created)
	assert.Equal(t, 1, run.Deleted)
	require.Len(t, f.mock.Snapshots, 1)
	assert.NotContains(t, f.mock.Snapshots, "snap-old")
}

// Foreign snapshots (no auto metadata) are never pruned.
func TestRetentionIgnoresForeignSnapshots(t *testing.T) {
	f := newFixture(t, defaultRules)
	f.seedVolume("vol-1", "data", "p1", "srv-1", 50)

	f.mock.Snapshots["snap-manual"] = &types.Snapshot{
		ID: "snap-manual", VolumeID: "vol-1", ProjectID: "p1", Status: "available",
		Metadata:  map[string]string{"created_by": "operator"},
		CreatedAt: time.Now().UTC().AddDate(0, 0, -30),
	}

	run := f.runOnce(t)
	assert.Equal(t, 1, run.Created)
	assert.Zero(t, run.Deleted)
	assert.Contains(t, f.mock.Snapshots, "snap-manual")
}

func TestOversizedVolumeSkipped(t *testing.T) {
	f := newFixture(t, defaultRules)
	f.seedVolume("vol-big", "bulk", "p1", "", 500) // over the 260 GB default

	run := f.runOnce(t)
	assert.Zero(t, run.Created)
	assert.Equal(t, 1, run.Skipped)

	byAction := recordsByAction(t, f.store, run.ID)
	require.Len(t, byAction[types.RecordSkipped], 1)
	assert.Equal(t, types.SkipReasonOversized, byAction[types.RecordSkipped][0].Reason)
	assert.Zero(t, f.mock.SnapshotCreates)
}

func TestMonthlyGateSkipsOffSchedule(t *testing.T) {
	rules := `[{
		"name": "monthly", "priority": 1, "match": {},
		"auto_snapshot": true, "policies": ["monthly_1st"],
		"retention": {"monthly_1st": 12}
	}]`
	f := newFixture(t, rules)
	f.seedVolume("vol-1", "data", "p1", "", 50)
	f.worker.now = func() time.Time {
		return time.Date(2026, 4, 20, 12, 0, 0, 0, time.UTC)
	}

	run := f.runOnce(t)
	assert.Zero(t, run.Created)
	byAction := recordsByAction(t, f.store, run.ID)
	require.Len(t, byAction[types.RecordSkipped], 1)
	assert.Equal(t, types.SkipReasonNotScheduled, byAction[types.RecordSkipped][0].Reason)
}

// HTTP 413 is a skip with reason size_rejected, and never pushes the run to
// partial.
func TestSizeRejectedIsSkipNotFailure(t *testing.T) {
	f := newFixture(t, defaultRules)
	f.seedVolume("vol-1", "data", "p1", "", 50)
	f.mock.CreateSnapshotHook = func(volumeID, name string) (string, error) {
		return "", cloud.NewError(cloud.KindSizeRejected, "CreateSnapshot", fmt.Errorf("413"))
	}

	run := f.runOnce(t)
	assert.Equal(t, types.RunStatusCompleted, run.Status)
	assert.Zero(t, run.Created)
	assert.Zero(t, run.Failed)
	assert.Equal(t, 1, run.Skipped)

	byAction := recordsByAction(t, f.store, run.ID)
	require.Len(t, byAction[types.RecordSkipped], 1)
	assert.Equal(t, types.SkipReasonSizeRejected, byAction[types.RecordSkipped][0].Reason)
}

func TestPerVolumeFailureMakesRunPartial(t *testing.T) {
	f := newFixture(t, defaultRules)
	f.seedVolume("vol-ok", "good", "p1", "", 50)
	f.seedVolume("vol-bad", "bad", "p1", "", 50)
	f.mock.CreateSnapshotHook = func(volumeID, name string) (string, error) {
		if volumeID == "vol-bad" {
			return "", cloud.NewError(cloud.KindInternal, "CreateSnapshot", fmt.Errorf("backend exploded"))
		}
		return "snap-" + uuid.New().String(), nil
	}

	run := f.runOnce(t)
	assert.Equal(t, types.RunStatusPartial, run.Status)
	assert.Equal(t, 1, run.Created)
	assert.Equal(t, 1, run.Failed)
}

// One grant per project per process, regardless of volume count.
func TestGrantOncePerProject(t *testing.T) {
	f := newFixture(t, defaultRules)
	for i := 0; i < 6; i++ {
		project := fmt.Sprintf("p%d", i%2)
		f.seedVolume(fmt.Sprintf("vol-%d", i), "data", project, "", 50)
	}

	run := f.runOnce(t)
	assert.Equal(t, 6, run.Created)
	assert.Equal(t, 2, f.mock.GrantAttempts)
}

func TestStaleInventoryRefusesRun(t *testing.T) {
	f := newFixture(t, defaultRules)
	f.seedVolume("vol-1", "data", "p1", "", 50)
	f.mock.AuthenticateHook = func(cred cloud.Credential, projectID string) (*cloud.Session, error) {
		return nil, cloud.NewError(cloud.KindAuth, "Authenticate", fmt.Errorf("identity down"))
	}

	run, err := f.worker.runPipeline(context.Background(), types.RunTypeScheduled, nil)
	require.NoError(t, err)
	assert.Equal(t, types.RunStatusFailed, run.Status)
	assert.Contains(t, run.Error, "inventory")
}

type brokenAssignmentStore struct {
	store.Store
}

func (b brokenAssignmentStore) ListAssignments() ([]*types.Assignment, error) {
	return nil, fmt.Errorf("assignments bucket read failed")
}

func TestAssignmentReadFailureFailsRun(t *testing.T) {
	f := newFixture(t, defaultRules)
	f.seedVolume("vol-1", "data", "p1", "", 50)
	f.worker.store = brokenAssignmentStore{Store: f.store}

	// The run must not stay running when the volume groups cannot be read.
	run, err := f.worker.runPipeline(context.Background(), types.RunTypeScheduled, nil)
	require.NoError(t, err)
	assert.Equal(t, types.RunStatusFailed, run.Status)
	assert.Contains(t, run.Error, "assignments bucket read failed")
}

func TestDryRunCreatesNoRemoteSnapshots(t *testing.T) {
	f := newFixture(t, defaultRules)
	f.worker.cfg.DryRun = true
	f.seedVolume("vol-1", "data", "p1", "", 50)

	run := f.runOnce(t)
	assert.True(t, run.DryRun)
	assert.Equal(t, 1, run.Created)
	assert.Empty(t, f.mock.Snapshots)

	byAction := recordsByAction(t, f.store, run.ID)
	require.Len(t, byAction[types.RecordCreated], 1)
	assert.True(t, strings.HasPrefix(byAction[types.RecordCreated][0].RemoteSnapshotID, "dryrun-"))
}

func TestOnDemandTriggerLifecycle(t *testing.T) {
	f := newFixture(t, defaultRules)
	f.seedVolume("vol-1", "data", "p1", "", 50)

	trigger := &types.OnDemandTrigger{
		ID: uuid.New().String(), RequestedBy: "ops",
		Status: types.TriggerPending, CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, f.store.InsertOnDemandTrigger(trigger))

	claimed, err := f.store.ClaimNextOnDemandTrigger()
	require.NoError(t, err)
	require.NotNil(t, claimed)

	f.worker.runTriggered(context.Background(), claimed)

	got, err := f.store.GetOnDemandTrigger(trigger.ID)
	require.NoError(t, err)
	assert.Equal(t, types.TriggerCompleted, got.Status)

	stages := make([]string, 0, len(got.StepProgress))
	for _, sp := range got.StepProgress {
		stages = append(stages, sp.Name)
		assert.Equal(t, "completed", sp.Status)
	}
	assert.Equal(t, []string{"policy_assignment", "inventory_sync", "snapshot_creation", "retention_pruning"}, stages)

	runs, err := f.store.ListSnapshotRuns(0)
	require.NoError(t, err)
	require.NotEmpty(t, runs)
	assert.Equal(t, types.RunTypeOnDemand, runs[0].RunType)
}

func TestOptOutRuleExcludesVolume(t *testing.T) {
	rules := `[
		{
			"name": "no-scratch", "priority": 1,
			"match": {"volume_name": ["scratch"]},
			"auto_snapshot": false
		},
		{
			"name": "default", "priority": 10, "match": {},
			"auto_snapshot": true, "policies": ["daily_5"],
			"retention": {"daily_5": 3}
		}
	]`
	f := newFixture(t, rules)
	f.seedVolume("vol-keep", "data", "p1", "", 50)
	f.seedVolume("vol-skip", "scratch-tmp", "p1", "", 50)

	run := f.runOnce(t)
	assert.Equal(t, 1, run.Created)

	assignments, err := f.store.ListAssignments()
	require.NoError(t, err)
	require.Len(t, assignments, 1)
	assert.Equal(t, "vol-keep", assignments[0].VolumeID)
}
