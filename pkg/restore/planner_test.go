package restore

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"testing"
	"time"

	"github.com/cloudmason/snapguard/pkg/cloud"
	"github.com/cloudmason/snapguard/pkg/log"
	"github.com/cloudmason/snapguard/pkg/session"
	"github.com/cloudmason/snapguard/pkg/store"
	"github.com/cloudmason/snapguard/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	log.Init(log.Config{Level: log.ErrorLevel, JSONOutput: true, Output: io.Discard})
	os.Exit(m.Run())
}

type fixture struct {
	engine *Engine
	mock   *cloud.Mock
	store  *store.BoltStore
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()

	st, err := store.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	m := cloud.NewMock()
	m.Users["svc@example.com"] = &cloud.User{ID: "user-svc", Email: "svc@example.com"}

	sessions := session.NewProvider(m, session.Config{
		Credential: cloud.Credential{Email: "svc@example.com", Password: "secret"},
	})

	if cfg.PollInterval == 0 {
		cfg.PollInterval = time.Millisecond
	}
	if cfg.PortRetryDelay == 0 {
		cfg.PortRetryDelay = time.Millisecond
	}
	if cfg.PortReleaseDelay == 0 {
		cfg.PortReleaseDelay = time.Millisecond
	}
	return &fixture{
		engine: NewEngine(cfg, st, m, sessions),
		mock:   m,
		store:  st,
	}
}

// seedVM installs a boot-from-volume server with a snapshot of its boot
// volume and the given ports.
func (f *fixture) seedVM(vmID string, ips map[string]string) {
	f.mock.Projects["p1"] = &types.Project{ID: "p1", Name: "acme"}
	f.mock.Flavors["fl-1"] = &types.Flavor{ID: "fl-1", Name: "m1.small", VCPUs: 2, RAMMB: 4096}
	f.mock.Servers[vmID] = &types.Server{
		ID: vmID, Name: "web-1", ProjectID: "p1", Status: "ACTIVE",
		FlavorID: "fl-1", BootVolume: "vol-" + vmID,
		Attrs: map[string]string{"user_data": "I2Nsb3VkLWNvbmZpZw=="},
	}
	f.mock.Volumes["vol-"+vmID] = &types.Volume{
		ID: "vol-" + vmID, Name: "root", ProjectID: "p1", Status: "in-use",
		SizeGB: 20, Bootable: true, AttachedTo: vmID,
	}
	f.mock.Snapshots["snap-"+vmID] = &types.Snapshot{
		ID: "snap-" + vmID, Name: "auto-acme", VolumeID: "vol-" + vmID,
		ProjectID: "p1", Status: "available", SizeGB: 20,
		CreatedAt: time.Now().UTC().Add(-time.Hour),
	}
	i := 0
	for networkID, ip := range ips {
		portID := vmID + "-port-" + networkID
		f.mock.Ports[portID] = &types.Port{
			ID: portID, NetworkID: networkID, DeviceID: vmID,
			MAC:      "fa:16:3e:00:00:0" + string(rune('1'+i)),
			FixedIPs: []types.FixedIP{{SubnetID: "sub-" + networkID, IPAddress: ip}},
		}
		i++
	}
}

func planRequest(vmID string, mode types.RestoreMode) PlanRequest {
	return PlanRequest{
		ProjectID:   "p1",
		VMID:        vmID,
		SnapshotID:  "snap-" + vmID,
		Mode:        mode,
		IPStrategy:  types.IPStrategyTrySameIPs,
		RequestedBy: "ops",
	}
}

func TestPlanNewModeStepList(t *testing.T) {
	f := newFixture(t, Config{})
	f.seedVM("vm-a", map[string]string{"n1": "10.0.0.5", "n2": "10.0.1.8"})

	job, err := f.engine.Plan(context.Background(), planRequest("vm-a", types.RestoreModeNew))
	require.NoError(t, err)
	assert.Equal(t, types.JobPlanned, job.Status)
	assert.Equal(t, "web-1-restored", job.Plan.NewVMName)
	assert.Equal(t, 2, job.Plan.VCPUs)
	assert.Len(t, job.Plan.Ports, 2)

	steps, err := f.store.ListRestoreSteps(job.ID)
	require.NoError(t, err)
	require.Len(t, steps, 12)
	assert.Equal(t, types.StepValidateLiveState, steps[0].Kind)
	assert.Equal(t, types.StepFinalize, steps[11].Kind)
	for i, step := range steps {
		assert.Equal(t, i+1, step.Ordinal)
		assert.Equal(t, types.StepPending, step.Status)
	}
}

func TestPlanReplaceWithStorageCleanupHasThirteenSteps(t *testing.T) {
	f := newFixture(t, Config{})
	f.seedVM("vm-a", nil)

	req := planRequest("vm-a", types.RestoreModeReplace)
	req.CleanupOldStorage = true
	job, err := f.engine.Plan(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "web-1", job.Plan.NewVMName)

	steps, err := f.store.ListRestoreSteps(job.ID)
	require.NoError(t, err)
	require.Len(t, steps, 13)
	assert.Equal(t, types.StepCleanupOldStorage, steps[12].Kind)
}

func TestPlanIsDeterministic(t *testing.T) {
	f := newFixture(t, Config{})
	f.seedVM("vm-a", map[string]string{"n1": "10.0.0.5", "n2": "10.0.1.8"})

	ctx := context.Background()
	first, err := f.engine.Plan(ctx, planRequest("vm-a", types.RestoreModeNew))
	require.NoError(t, err)
	second, err := f.engine.Plan(ctx, planRequest("vm-a", types.RestoreModeNew))
	require.NoError(t, err)

	a, err := json.Marshal(first.Plan)
	require.NoError(t, err)
	b, err := json.Marshal(second.Plan)
	require.NoError(t, err)
	assert.Equal(t, string(a), string(b))
}

func TestPlanRejectsImageBootedVM(t *testing.T) {
	f := newFixture(t, Config{})
	f.seedVM("vm-a", nil)
	f.mock.Servers["vm-a"].BootVolume = ""

	_, err := f.engine.Plan(context.Background(), planRequest("vm-a", types.RestoreModeNew))
	assert.True(t, IsKind(err, KindUnsupportedBootMode), "got %v", err)
}

func TestPlanRejectsForeignSnapshot(t *testing.T) {
	f := newFixture(t, Config{})
	f.seedVM("vm-a", nil)
	f.mock.Volumes["vol-other"] = &types.Volume{ID: "vol-other", ProjectID: "p1", Status: "in-use"}
	f.mock.Snapshots["snap-other"] = &types.Snapshot{
		ID: "snap-other", VolumeID: "vol-other", ProjectID: "p1", Status: "available",
	}

	req := planRequest("vm-a", types.RestoreModeNew)
	req.SnapshotID = "snap-other"
	_, err := f.engine.Plan(context.Background(), req)
	assert.True(t, IsKind(err, KindSnapshotMismatch), "got %v", err)
}

func TestPlanVMAndSnapshotNotFound(t *testing.T) {
	f := newFixture(t, Config{})
	f.seedVM("vm-a", nil)

	_, err := f.engine.Plan(context.Background(), planRequest("vm-missing", types.RestoreModeNew))
	assert.True(t, IsKind(err, KindVMNotFound), "got %v", err)

	req := planRequest("vm-a", types.RestoreModeNew)
	req.SnapshotID = "snap-missing"
	_, err = f.engine.Plan(context.Background(), req)
	assert.True(t, IsKind(err, KindSnapshotNotFound), "got %v", err)
}

func TestPlanScopesVMToProject(t *testing.T) {
	f := newFixture(t, Config{})
	f.seedVM("vm-a", nil)

	req := planRequest("vm-a", types.RestoreModeNew)
	req.ProjectID = "p2"
	_, err := f.engine.Plan(context.Background(), req)
	assert.True(t, IsKind(err, KindVMNotFound), "got %v", err)
}

func TestPlanQuotaShortfallIsAdvisory(t *testing.T) {
	f := newFixture(t, Config{})
	f.seedVM("vm-a", nil)
	f.mock.ComputeQuotas["p1"] = &cloud.ComputeQuota{
		Instances: 1, InstancesUsed: 1,
		Cores: 100, RAMMB: 1 << 20,
	}

	job, err := f.engine.Plan(context.Background(), planRequest("vm-a", types.RestoreModeNew))
	require.NoError(t, err)
	assert.False(t, job.Plan.Quota.Sufficient)
	assert.Contains(t, job.Plan.Quota.Shortfalls, "instances")
	assert.NotEmpty(t, job.Plan.Warnings)
}

func TestPlanZeroPortVM(t *testing.T) {
	f := newFixture(t, Config{})
	f.seedVM("vm-a", nil)

	job, err := f.engine.Plan(context.Background(), planRequest("vm-a", types.RestoreModeNew))
	require.NoError(t, err)
	assert.Empty(t, job.Plan.Ports)
}

func TestPlanMissingUserDataIsWarning(t *testing.T) {
	f := newFixture(t, Config{})
	f.seedVM("vm-a", nil)
	f.mock.Servers["vm-a"].Attrs = nil

	job, err := f.engine.Plan(context.Background(), planRequest("vm-a", types.RestoreModeNew))
	require.NoError(t, err)
	assert.Empty(t, job.Plan.UserData)
	assert.NotEmpty(t, job.Plan.Warnings)
}

func TestAvailableIPsSkipsUsedAndGateway(t *testing.T) {
	f := newFixture(t, Config{})
	f.mock.Subnets["sub-1"] = &types.Subnet{
		ID: "sub-1", NetworkID: "n1", CIDR: "10.0.0.0/29", GatewayIP: "10.0.0.1",
	}
	f.mock.Ports["port-1"] = &types.Port{
		ID: "port-1", NetworkID: "n1",
		FixedIPs: []types.FixedIP{{IPAddress: "10.0.0.2"}},
	}

	ips, err := f.engine.AvailableIPs(context.Background(), "n1", 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"10.0.0.3", "10.0.0.4", "10.0.0.5", "10.0.0.6"}, ips)
}

func TestRestorePointsSortedNewestFirst(t *testing.T) {
	f := newFixture(t, Config{})
	f.seedVM("vm-a", nil)
	f.mock.Snapshots["snap-older"] = &types.Snapshot{
		ID: "snap-older", VolumeID: "vol-vm-a", ProjectID: "p1", Status: "available",
		CreatedAt: time.Now().UTC().Add(-48 * time.Hour),
	}

	points, err := f.engine.RestorePoints(context.Background(), "vm-a")
	require.NoError(t, err)
	require.Len(t, points, 2)
	assert.Equal(t, "snap-vm-a", points[0].ID)
	assert.Equal(t, "snap-older", points[1].ID)
}
