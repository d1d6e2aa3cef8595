package cloud

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cloudmason/snapguard/pkg/types"
	"github.com/google/uuid"
)

// Mock is an in-memory Client used by tests and local development. State is
// seeded directly on the struct; hooks let tests script failures for specific
// operations without faking the whole control plane.
type Mock struct {
	mu sync.Mutex

	Projects       map[string]*types.Project
	Servers        map[string]*types.Server
	Volumes        map[string]*types.Volume
	Snapshots      map[string]*types.Snapshot
	Ports          map[string]*types.Port
	Networks       map[string]*types.Network
	Subnets        map[string]*types.Subnet
	Flavors        map[string]*types.Flavor
	Users          map[string]*User // keyed by email
	SecurityGroups map[string]*types.SecurityGroup

	RoleGrants []RoleAssignment

	ComputeQuotas map[string]*ComputeQuota
	StorageQuotas map[string]*StorageQuota

	// Hooks. When nil the default in-memory behaviour applies.
	AuthenticateHook   func(cred Credential, projectID string) (*Session, error)
	CreateSnapshotHook func(volumeID, name string) (string, error)
	CreateServerHook   func(spec ServerSpec) (string, error)
	CreatePortHook     func(spec PortSpec) (*types.Port, error)
	WaitVolumeHook     func(volumeID, target string) error
	WaitServerHook     func(vmID, target string) error
	DeleteServerHook   func(vmID string) error

	// Counters for assertions.
	GrantAttempts   int
	AuthCalls       int
	SnapshotCreates int
	SnapshotDeletes int
	ServerDeletes   int
	PortDeletes     int
	VolumeDeletes   int
}

// NewMock returns an empty mock with all maps initialized.
func NewMock() *Mock {
	return &Mock{
		Projects:       make(map[string]*types.Project),
		Servers:        make(map[string]*types.Server),
		Volumes:        make(map[string]*types.Volume),
		Snapshots:      make(map[string]*types.Snapshot),
		Ports:          make(map[string]*types.Port),
		Networks:       make(map[string]*types.Network),
		Subnets:        make(map[string]*types.Subnet),
		Flavors:        make(map[string]*types.Flavor),
		Users:          make(map[string]*User),
		SecurityGroups: make(map[string]*types.SecurityGroup),
		ComputeQuotas:  make(map[string]*ComputeQuota),
		StorageQuotas:  make(map[string]*StorageQuota),
	}
}

var _ Client = (*Mock)(nil)

// --- Identity ---

func (m *Mock) Authenticate(ctx context.Context, cred Credential, projectID string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.AuthCalls++
	if m.AuthenticateHook != nil {
		return m.AuthenticateHook(cred, projectID)
	}
	user := m.Users[cred.Email]
	userID := "mock-user"
	if user != nil {
		userID = user.ID
	}
	return &Session{
		Token:     "mock-token-" + uuid.New().String(),
		UserID:    userID,
		ProjectID: projectID,
		ExpiresAt: time.Now().Add(time.Hour),
	}, nil
}

func (m *Mock) GrantRole(ctx context.Context, s *Session, userID, projectID, role string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.GrantAttempts++
	for _, g := range m.RoleGrants {
		if g.UserID == userID && g.ProjectID == projectID && g.Role == role {
			return nil // idempotent
		}
	}
	m.RoleGrants = append(m.RoleGrants, RoleAssignment{UserID: userID, ProjectID: projectID, Role: role})
	return nil
}

func (m *Mock) FindUserByEmail(ctx context.Context, s *Session, email string) (*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Users[email], nil
}

func (m *Mock) ListRoleAssignments(ctx context.Context, s *Session, userID string) ([]RoleAssignment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []RoleAssignment
	for _, g := range m.RoleGrants {
		if userID == "" || g.UserID == userID {
			out = append(out, g)
		}
	}
	return out, nil
}

func (m *Mock) ListProjects(ctx context.Context, s *Session) ([]types.Project, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []types.Project
	for _, p := range m.Projects {
		out = append(out, *p)
	}
	return out, nil
}

// --- Compute ---

func (m *Mock) GetServer(ctx context.Context, s *Session, vmID string) (*types.Server, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	srv, ok := m.Servers[vmID]
	if !ok {
		return nil, NewError(KindNotFound, "GetServer", fmt.Errorf("server %s not found", vmID))
	}
	cp := *srv
	return &cp, nil
}

func (m *Mock) ListServers(ctx context.Context, s *Session, projectID string) ([]types.Server, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []types.Server
	for _, srv := range m.Servers {
		if projectID == "" || srv.ProjectID == projectID {
			out = append(out, *srv)
		}
	}
	return out, nil
}

func (m *Mock) CreateServer(ctx context.Context, s *Session, spec ServerSpec) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.CreateServerHook != nil {
		return m.CreateServerHook(spec)
	}
	id := "srv-" + uuid.New().String()
	m.Servers[id] = &types.Server{
		ID:         id,
		Name:       spec.Name,
		ProjectID:  s.ProjectID,
		Status:     "ACTIVE",
		FlavorID:   spec.FlavorID,
		BootVolume: spec.BootVolumeID,
	}
	for _, pid := range spec.PortIDs {
		if p, ok := m.Ports[pid]; ok {
			p.DeviceID = id
		}
	}
	return id, nil
}

func (m *Mock) DeleteServer(ctx context.Context, s *Session, vmID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ServerDeletes++
	if m.DeleteServerHook != nil {
		return m.DeleteServerHook(vmID)
	}
	if _, ok := m.Servers[vmID]; !ok {
		return NewError(KindNotFound, "DeleteServer", fmt.Errorf("server %s not found", vmID))
	}
	delete(m.Servers, vmID)
	return nil
}

func (m *Mock) GetUserData(ctx context.Context, s *Session, vmID string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	srv, ok := m.Servers[vmID]
	if !ok {
		return "", NewError(KindNotFound, "GetUserData", fmt.Errorf("server %s not found", vmID))
	}
	return srv.Attrs["user_data"], nil
}

func (m *Mock) WaitServerStatus(ctx context.Context, s *Session, vmID, target string, timeout, poll time.Duration) error {
	if m.WaitServerHook != nil {
		return m.WaitServerHook(vmID, target)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	srv, ok := m.Servers[vmID]
	if !ok {
		return NewError(KindNotFound, "WaitServerStatus", fmt.Errorf("server %s not found", vmID))
	}
	if srv.Status != target {
		return NewError(KindTimeout, "WaitServerStatus", fmt.Errorf("server %s stuck in %s", vmID, srv.Status))
	}
	return nil
}

func (m *Mock) WaitServerDeleted(ctx context.Context, s *Session, vmID string, timeout, poll time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.Servers[vmID]; ok {
		return NewError(KindTimeout, "WaitServerDeleted", fmt.Errorf("server %s still present", vmID))
	}
	return nil
}

func (m *Mock) ListFlavors(ctx context.Context, s *Session) ([]types.Flavor, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []types.Flavor
	for _, f := range m.Flavors {
		out = append(out, *f)
	}
	return out, nil
}

func (m *Mock) GetComputeQuota(ctx context.Context, s *Session, projectID string) (*ComputeQuota, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if q, ok := m.ComputeQuotas[projectID]; ok {
		cp := *q
		return &cp, nil
	}
	return &ComputeQuota{Instances: 100, Cores: 1000, RAMMB: 1 << 20}, nil
}

// --- BlockStorage ---

func (m *Mock) CreateVolumeFromSnapshot(ctx context.Context, s *Session, spec VolumeSpec) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.Snapshots[spec.SnapshotID]; !ok {
		return "", NewError(KindNotFound, "CreateVolumeFromSnapshot", fmt.Errorf("snapshot %s not found", spec.SnapshotID))
	}
	id := "vol-" + uuid.New().String()
	m.Volumes[id] = &types.Volume{
		ID:        id,
		Name:      spec.Name,
		ProjectID: s.ProjectID,
		Status:    "available",
		SizeGB:    spec.SizeGB,
		Bootable:  true,
		Metadata:  spec.Metadata,
	}
	return id, nil
}

func (m *Mock) GetVolume(ctx context.Context, s *Session, volumeID string) (*types.Volume, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.Volumes[volumeID]
	if !ok {
		return nil, NewError(KindNotFound, "GetVolume", fmt.Errorf("volume %s not found", volumeID))
	}
	cp := *v
	return &cp, nil
}

func (m *Mock) ListVolumes(ctx context.Context, s *Session, allProjects bool) ([]types.Volume, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []types.Volume
	for _, v := range m.Volumes {
		if allProjects || v.ProjectID == s.ProjectID {
			out = append(out, *v)
		}
	}
	return out, nil
}

func (m *Mock) WaitVolumeStatus(ctx context.Context, s *Session, volumeID, target string, timeout, poll time.Duration) error {
	if m.WaitVolumeHook != nil {
		return m.WaitVolumeHook(volumeID, target)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.Volumes[volumeID]
	if !ok {
		return NewError(KindNotFound, "WaitVolumeStatus", fmt.Errorf("volume %s not found", volumeID))
	}
	if v.Status != target {
		return NewError(KindTimeout, "WaitVolumeStatus", fmt.Errorf("volume %s stuck in %s", volumeID, v.Status))
	}
	return nil
}

func (m *Mock) DeleteVolume(ctx context.Context, s *Session, volumeID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.VolumeDeletes++
	if _, ok := m.Volumes[volumeID]; !ok {
		return NewError(KindNotFound, "DeleteVolume", fmt.Errorf("volume %s not found", volumeID))
	}
	delete(m.Volumes, volumeID)
	return nil
}

func (m *Mock) CreateSnapshot(ctx context.Context, s *Session, volumeID, name string, metadata map[string]string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.SnapshotCreates++
	if m.CreateSnapshotHook != nil {
		return m.CreateSnapshotHook(volumeID, name)
	}
	if s.DryRun {
		return "dryrun-" + uuid.New().String(), nil
	}
	v, ok := m.Volumes[volumeID]
	if !ok {
		return "", NewError(KindNotFound, "CreateSnapshot", fmt.Errorf("volume %s not found", volumeID))
	}
	id := "snap-" + uuid.New().String()
	md := make(map[string]string, len(metadata))
	for k, val := range metadata {
		md[k] = val
	}
	m.Snapshots[id] = &types.Snapshot{
		ID:        id,
		Name:      name,
		VolumeID:  volumeID,
		ProjectID: v.ProjectID,
		Status:    "available",
		SizeGB:    v.SizeGB,
		Metadata:  md,
		CreatedAt: time.Now().UTC(),
	}
	return id, nil
}

func (m *Mock) GetSnapshot(ctx context.Context, s *Session, snapshotID string) (*types.Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	snap, ok := m.Snapshots[snapshotID]
	if !ok {
		return nil, NewError(KindNotFound, "GetSnapshot", fmt.Errorf("snapshot %s not found", snapshotID))
	}
	cp := *snap
	return &cp, nil
}

func (m *Mock) ListSnapshots(ctx context.Context, s *Session, volumeID string) ([]types.Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []types.Snapshot
	for _, snap := range m.Snapshots {
		if volumeID == "" || snap.VolumeID == volumeID {
			out = append(out, *snap)
		}
	}
	return out, nil
}

func (m *Mock) DeleteSnapshot(ctx context.Context, s *Session, snapshotID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s.DryRun {
		return nil
	}
	m.SnapshotDeletes++
	if _, ok := m.Snapshots[snapshotID]; !ok {
		return NewError(KindNotFound, "DeleteSnapshot", fmt.Errorf("snapshot %s not found", snapshotID))
	}
	delete(m.Snapshots, snapshotID)
	return nil
}

func (m *Mock) GetStorageQuota(ctx context.Context, s *Session, projectID string) (*StorageQuota, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if q, ok := m.StorageQuotas[projectID]; ok {
		cp := *q
		return &cp, nil
	}
	return &StorageQuota{Volumes: 100, GigaBytes: 10000}, nil
}

// --- Network ---

func (m *Mock) ListPorts(ctx context.Context, s *Session, filters PortFilters) ([]types.Port, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []types.Port
	for _, p := range m.Ports {
		if filters.DeviceID != "" && p.DeviceID != filters.DeviceID {
			continue
		}
		if filters.NetworkID != "" && p.NetworkID != filters.NetworkID {
			continue
		}
		if filters.FixedIP != "" && !portHasIP(p, filters.FixedIP) {
			continue
		}
		out = append(out, *p)
	}
	return out, nil
}

func portHasIP(p *types.Port, ip string) bool {
	for _, f := range p.FixedIPs {
		if f.IPAddress == ip {
			return true
		}
	}
	return false
}

func (m *Mock) CreatePort(ctx context.Context, s *Session, spec PortSpec) (*types.Port, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.CreatePortHook != nil {
		return m.CreatePortHook(spec)
	}
	// Requested fixed IPs conflict when another port already holds them.
	for _, f := range spec.FixedIPs {
		for _, p := range m.Ports {
			if p.NetworkID == spec.NetworkID && portHasIP(p, f.IPAddress) {
				return nil, NewError(KindConflict, "CreatePort", fmt.Errorf("ip %s in use on network %s", f.IPAddress, spec.NetworkID))
			}
		}
	}
	id := "port-" + uuid.New().String()
	fixed := spec.FixedIPs
	if len(fixed) == 0 {
		fixed = []types.FixedIP{{IPAddress: fmt.Sprintf("10.255.0.%d", len(m.Ports)+10)}}
	}
	port := &types.Port{ID: id, NetworkID: spec.NetworkID, FixedIPs: fixed}
	m.Ports[id] = port
	cp := *port
	return &cp, nil
}

func (m *Mock) DeletePort(ctx context.Context, s *Session, portID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.PortDeletes++
	if _, ok := m.Ports[portID]; !ok {
		return NewError(KindNotFound, "DeletePort", fmt.Errorf("port %s not found", portID))
	}
	delete(m.Ports, portID)
	return nil
}

func (m *Mock) ListSubnets(ctx context.Context, s *Session, networkID string) ([]types.Subnet, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []types.Subnet
	for _, sn := range m.Subnets {
		if networkID == "" || sn.NetworkID == networkID {
			out = append(out, *sn)
		}
	}
	return out, nil
}

func (m *Mock) ListNetworks(ctx context.Context, s *Session) ([]types.Network, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []types.Network
	for _, n := range m.Networks {
		out = append(out, *n)
	}
	return out, nil
}

func (m *Mock) ListSecurityGroups(ctx context.Context, s *Session, projectID string) ([]types.SecurityGroup, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []types.SecurityGroup
	for _, g := range m.SecurityGroups {
		if projectID == "" || g.ProjectID == projectID {
			out = append(out, *g)
		}
	}
	return out, nil
}

func (m *Mock) CreateSecurityGroup(ctx context.Context, s *Session, name, projectID string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := "sg-" + uuid.New().String()
	m.SecurityGroups[id] = &types.SecurityGroup{ID: id, Name: name, ProjectID: projectID}
	return id, nil
}

func (m *Mock) CreateSecurityGroupRule(ctx context.Context, s *Session, groupID, direction, protocol string, portMin, portMax int) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.SecurityGroups[groupID]; !ok {
		return "", NewError(KindNotFound, "CreateSecurityGroupRule", fmt.Errorf("security group %s not found", groupID))
	}
	return "sgr-" + uuid.New().String(), nil
}
