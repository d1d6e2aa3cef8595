package api

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/cloudmason/snapguard/pkg/cloud"
	"github.com/cloudmason/snapguard/pkg/log"
	"github.com/cloudmason/snapguard/pkg/restore"
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
	server *Server
	engine *restore.Engine
	mock   *cloud.Mock
	store  *store.BoltStore
}

func newFixture(t *testing.T, restoreEnabled bool) *fixture {
	t.Helper()

	st, err := store.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	m := cloud.NewMock()
	m.Users["svc@example.com"] = &cloud.User{ID: "user-svc", Email: "svc@example.com"}
	sessions := session.NewProvider(m, session.Config{
		Credential: cloud.Credential{Email: "svc@example.com", Password: "secret"},
	})

	engine := restore.NewEngine(restore.Config{
		PollInterval:     time.Millisecond,
		PortRetryDelay:   time.Millisecond,
		PortReleaseDelay: time.Millisecond,
	}, st, m, sessions)

	return &fixture{
		server: NewServer(Config{RestoreEnabled: restoreEnabled}, st, engine),
		engine: engine,
		mock:   m,
		store:  st,
	}
}

func (f *fixture) seedVM(vmID string) {
	f.mock.Projects["p1"] = &types.Project{ID: "p1", Name: "acme"}
	f.mock.Servers[vmID] = &types.Server{
		ID: vmID, Name: "web-1", ProjectID: "p1", Status: "ACTIVE",
		FlavorID: "fl-1", BootVolume: "vol-" + vmID,
	}
	f.mock.Volumes["vol-"+vmID] = &types.Volume{
		ID: "vol-" + vmID, ProjectID: "p1", Status: "in-use",
		SizeGB: 20, Bootable: true, AttachedTo: vmID,
	}
	f.mock.Snapshots["snap-"+vmID] = &types.Snapshot{
		ID: "snap-" + vmID, VolumeID: "vol-" + vmID, ProjectID: "p1",
		Status: "available", SizeGB: 20, CreatedAt: time.Now().UTC(),
	}
}

func (f *fixture) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("X-Actor", "tester")
	w := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.NewDecoder(w.Body).Decode(&out))
	return out
}

func TestRestoreEndpointsDisabledByFlag(t *testing.T) {
	f := newFixture(t, false)

	for _, route := range []struct{ method, path string }{
		{http.MethodPost, "/restore/plan"},
		{http.MethodPost, "/restore/execute"},
		{http.MethodGet, "/restore/jobs"},
		{http.MethodPost, "/restore/cancel/some-id"},
	} {
		w := f.do(t, route.method, route.path, map[string]string{})
		assert.Equal(t, http.StatusForbidden, w.Code, route.path)
		body := decode[errorBody](t, w)
		assert.Equal(t, "feature disabled", body.Error.Message)
	}

	// The snapshot surface is independent of the restore flag.
	w := f.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestPlanExecuteLifecycleOverHTTP(t *testing.T) {
	f := newFixture(t, true)
	f.seedVM("vm-a")

	w := f.do(t, http.MethodPost, "/restore/plan", map[string]any{
		"project_id":  "p1",
		"vm_id":       "vm-a",
		"snapshot_id": "snap-vm-a",
		"mode":        "NEW",
		"ip_strategy": "NEW_IPS",
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	plan := decode[planResponse](t, w)
	require.NotEmpty(t, plan.JobID)
	assert.Equal(t, "vm-a", plan.Plan.VMID)
	assert.True(t, plan.QuotaCheck.Sufficient)

	w = f.do(t, http.MethodPost, "/restore/execute", map[string]any{"job_id": plan.JobID})
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	f.engine.Wait()

	w = f.do(t, http.MethodGet, "/restore/jobs/"+plan.JobID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var detail struct {
		Job   *types.RestoreJob    `json:"job"`
		Steps []*types.RestoreStep `json:"steps"`
	}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&detail))
	assert.Equal(t, types.JobSucceeded, detail.Job.Status)
	assert.Len(t, detail.Steps, 12)
	assert.Equal(t, "tester", detail.Job.RequestedBy)

	w = f.do(t, http.MethodGet, "/restore/jobs?vm_id=vm-a", nil)
	require.Equal(t, http.StatusOK, w.Code)
}

func TestExecuteConfirmationMismatchIs4xx(t *testing.T) {
	f := newFixture(t, true)
	f.seedVM("vm-a")

	w := f.do(t, http.MethodPost, "/restore/plan", map[string]any{
		"project_id":  "p1",
		"vm_id":       "vm-a",
		"snapshot_id": "snap-vm-a",
		"mode":        "REPLACE",
		"ip_strategy": "TRY_SAME_IPS",
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	plan := decode[planResponse](t, w)

	w = f.do(t, http.MethodPost, "/restore/execute", map[string]any{
		"job_id":              plan.JobID,
		"confirm_destructive": "delete and restore web-1",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	body := decode[errorBody](t, w)
	assert.Equal(t, string(restore.KindConfirmationRequired), body.Error.Kind)
	assert.Zero(t, f.mock.ServerDeletes)
}

func TestPlanRefusalsMapToStatusCodes(t *testing.T) {
	f := newFixture(t, true)
	f.seedVM("vm-a")
	f.mock.Servers["vm-img"] = &types.Server{ID: "vm-img", Name: "img", ProjectID: "p1", Status: "ACTIVE"}

	tests := []struct {
		name     string
		body     map[string]any
		expected int
	}{
		{
			name: "vm not found",
			body: map[string]any{
				"project_id": "p1", "vm_id": "vm-nope", "snapshot_id": "snap-vm-a",
				"mode": "NEW", "ip_strategy": "NEW_IPS",
			},
			expected: http.StatusNotFound,
		},
		{
			name: "image-booted vm",
			body: map[string]any{
				"project_id": "p1", "vm_id": "vm-img", "snapshot_id": "snap-vm-a",
				"mode": "NEW", "ip_strategy": "NEW_IPS",
			},
			expected: http.StatusUnprocessableEntity,
		},
		{
			name: "bad strategy",
			body: map[string]any{
				"project_id": "p1", "vm_id": "vm-a", "snapshot_id": "snap-vm-a",
				"mode": "NEW", "ip_strategy": "STATIC",
			},
			expected: http.StatusBadRequest,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := f.do(t, http.MethodPost, "/restore/plan", tt.body)
			assert.Equal(t, tt.expected, w.Code, w.Body.String())
		})
	}
}

func TestRunNowSingleActiveTrigger(t *testing.T) {
	f := newFixture(t, true)

	w := f.do(t, http.MethodPost, "/snapshot/run-now", nil)
	require.Equal(t, http.StatusAccepted, w.Code)
	first := decode[map[string]string](t, w)
	assert.NotEmpty(t, first["trigger_id"])

	w = f.do(t, http.MethodPost, "/snapshot/run-now", nil)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = f.do(t, http.MethodGet, "/snapshot/run-now/status", nil)
	require.Equal(t, http.StatusOK, w.Code)
	status := decode[map[string]any](t, w)
	assert.Equal(t, first["trigger_id"], status["trigger_id"])
	assert.Equal(t, "pending", status["status"])
}

func TestRunNowStatusWithoutTrigger(t *testing.T) {
	f := newFixture(t, true)
	w := f.do(t, http.MethodGet, "/snapshot/run-now/status", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestCancelUnknownJobIs404(t *testing.T) {
	f := newFixture(t, true)
	w := f.do(t, http.MethodPost, "/restore/cancel/nope", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHealthAndReady(t *testing.T) {
	f := newFixture(t, true)

	w := f.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	health := decode[healthResponse](t, w)
	assert.Equal(t, "healthy", health.Status)

	w = f.do(t, http.MethodGet, "/ready", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	ready := decode[readyResponse](t, w)
	assert.Equal(t, "ok", ready.Checks["store"])
}
