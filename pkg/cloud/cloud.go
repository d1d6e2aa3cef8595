package cloud

import (
	"context"
	"time"

	"github.com/cloudmason/snapguard/pkg/types"
)

// Credential identifies a user against the identity service. The client never
// stores credentials; callers pass them to Authenticate and hold the
// resulting Session.
type Credential struct {
	Email    string
	Password string
	Domain   string
}

// Session is an authenticated scope. All mutating calls take a Session so the
// caller controls which tenant the mutation lands in.
type Session struct {
	Token     string
	UserID    string
	ProjectID string
	ExpiresAt time.Time
	DryRun    bool // mutating calls synthesize IDs instead of touching the remote

	// impl carries concrete-client state (service clients bound to this
	// token). Never serialized; nil for mock sessions.
	impl any
}

// User is an identity-service user record.
type User struct {
	ID    string
	Name  string
	Email string
}

// RoleAssignment is one role binding of a user on a project.
type RoleAssignment struct {
	UserID    string
	ProjectID string
	Role      string
}

// ServerSpec describes the server to create during a restore.
type ServerSpec struct {
	Name             string
	FlavorID         string
	BootVolumeID     string
	PortIDs          []string
	SecurityGroupIDs []string
	UserData         string // base64 cloud-init payload, empty for none
	Metadata         map[string]string
}

// VolumeSpec describes a volume created from a snapshot.
type VolumeSpec struct {
	Name       string
	SnapshotID string
	SizeGB     int
	Metadata   map[string]string
}

// PortSpec describes a port to create. FixedIPs empty means DHCP.
type PortSpec struct {
	NetworkID        string
	FixedIPs         []types.FixedIP
	SecurityGroupIDs []string
	Name             string
}

// PortFilters narrows ListPorts. Zero fields are ignored.
type PortFilters struct {
	DeviceID  string
	NetworkID string
	FixedIP   string
}

// ComputeQuota is the live compute quota/usage for one project.
type ComputeQuota struct {
	Instances     int
	InstancesUsed int
	Cores         int
	CoresUsed     int
	RAMMB         int
	RAMMBUsed     int
}

// StorageQuota is the live block-storage quota/usage for one project.
type StorageQuota struct {
	Volumes       int
	VolumesUsed   int
	GigaBytes     int
	GigaBytesUsed int
}

// Identity is the identity-service capability set.
type Identity interface {
	// Authenticate returns a session scoped to projectID, or to the
	// credential's default project when projectID is empty.
	Authenticate(ctx context.Context, cred Credential, projectID string) (*Session, error)
	// GrantRole is idempotent; a pre-existing grant is not an error.
	GrantRole(ctx context.Context, s *Session, userID, projectID, role string) error
	// FindUserByEmail returns (nil, nil) when the user does not exist.
	FindUserByEmail(ctx context.Context, s *Session, email string) (*User, error)
	ListRoleAssignments(ctx context.Context, s *Session, userID string) ([]RoleAssignment, error)
	ListProjects(ctx context.Context, s *Session) ([]types.Project, error)
}

// Compute is the compute-service capability set.
type Compute interface {
	GetServer(ctx context.Context, s *Session, vmID string) (*types.Server, error)
	ListServers(ctx context.Context, s *Session, projectID string) ([]types.Server, error)
	CreateServer(ctx context.Context, s *Session, spec ServerSpec) (string, error)
	DeleteServer(ctx context.Context, s *Session, vmID string) error
	// GetUserData returns the base64 cloud-init payload, or "" when absent.
	GetUserData(ctx context.Context, s *Session, vmID string) (string, error)
	WaitServerStatus(ctx context.Context, s *Session, vmID, target string, timeout, poll time.Duration) error
	// WaitServerDeleted polls until the server is gone (404).
	WaitServerDeleted(ctx context.Context, s *Session, vmID string, timeout, poll time.Duration) error
	ListFlavors(ctx context.Context, s *Session) ([]types.Flavor, error)
	GetComputeQuota(ctx context.Context, s *Session, projectID string) (*ComputeQuota, error)
}

// BlockStorage is the block-storage capability set.
type BlockStorage interface {
	CreateVolumeFromSnapshot(ctx context.Context, s *Session, spec VolumeSpec) (string, error)
	GetVolume(ctx context.Context, s *Session, volumeID string) (*types.Volume, error)
	ListVolumes(ctx context.Context, s *Session, allProjects bool) ([]types.Volume, error)
	WaitVolumeStatus(ctx context.Context, s *Session, volumeID, target string, timeout, poll time.Duration) error
	DeleteVolume(ctx context.Context, s *Session, volumeID string) error
	CreateSnapshot(ctx context.Context, s *Session, volumeID, name string, metadata map[string]string) (string, error)
	GetSnapshot(ctx context.Context, s *Session, snapshotID string) (*types.Snapshot, error)
	ListSnapshots(ctx context.Context, s *Session, volumeID string) ([]types.Snapshot, error)
	DeleteSnapshot(ctx context.Context, s *Session, snapshotID string) error
	GetStorageQuota(ctx context.Context, s *Session, projectID string) (*StorageQuota, error)
}

// Network is the networking capability set.
type Network interface {
	ListPorts(ctx context.Context, s *Session, filters PortFilters) ([]types.Port, error)
	CreatePort(ctx context.Context, s *Session, spec PortSpec) (*types.Port, error)
	DeletePort(ctx context.Context, s *Session, portID string) error
	ListSubnets(ctx context.Context, s *Session, networkID string) ([]types.Subnet, error)
	ListNetworks(ctx context.Context, s *Session) ([]types.Network, error)
	ListSecurityGroups(ctx context.Context, s *Session, projectID string) ([]types.SecurityGroup, error)
	CreateSecurityGroup(ctx context.Context, s *Session, name, projectID string) (string, error)
	CreateSecurityGroupRule(ctx context.Context, s *Session, groupID, direction, protocol string, portMin, portMax int) (string, error)
}

// Client is the full typed façade over the remote cloud control plane.
type Client interface {
	Identity
	Compute
	BlockStorage
	Network
}
