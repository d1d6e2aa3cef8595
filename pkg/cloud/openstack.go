package cloud

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cloudmason/snapguard/pkg/types"
	"github.com/google/uuid"
	"github.com/gophercloud/gophercloud/v2"
	"github.com/gophercloud/gophercloud/v2/openstack"
	bsquotasets "github.com/gophercloud/gophercloud/v2/openstack/blockstorage/v3/quotasets"
	"github.com/gophercloud/gophercloud/v2/openstack/blockstorage/v3/snapshots"
	"github.com/gophercloud/gophercloud/v2/openstack/blockstorage/v3/volumes"
	"github.com/gophercloud/gophercloud/v2/openstack/compute/v2/flavors"
	computequotasets "github.com/gophercloud/gophercloud/v2/openstack/compute/v2/quotasets"
	"github.com/gophercloud/gophercloud/v2/openstack/compute/v2/servers"
	"github.com/gophercloud/gophercloud/v2/openstack/identity/v3/projects"
	"github.com/gophercloud/gophercloud/v2/openstack/identity/v3/roles"
	"github.com/gophercloud/gophercloud/v2/openstack/identity/v3/tokens"
	"github.com/gophercloud/gophercloud/v2/openstack/identity/v3/users"
	secgroups "github.com/gophercloud/gophercloud/v2/openstack/networking/v2/extensions/security/groups"
	secrules "github.com/gophercloud/gophercloud/v2/openstack/networking/v2/extensions/security/rules"
	"github.com/gophercloud/gophercloud/v2/openstack/networking/v2/networks"
	"github.com/gophercloud/gophercloud/v2/openstack/networking/v2/ports"
	"github.com/gophercloud/gophercloud/v2/openstack/networking/v2/subnets"
)

// computeMicroversion enables OS-EXT-SRV-ATTR fields on server gets, in
// particular user_data (requires >= 2.3).
const computeMicroversion = "2.3"

// OpenStack implements Client against a real OpenStack control plane via
// gophercloud. The struct is stateless apart from the retry policy; all scope
// lives in the Session passed to each call.
type OpenStack struct {
	Endpoint string
	Region   string
	Domain   string // default user domain for password auth
	Retry    RetryPolicy
}

// serviceClients is the per-session set of bound gophercloud clients.
type serviceClients struct {
	identity *gophercloud.ServiceClient
	compute  *gophercloud.ServiceClient
	storage  *gophercloud.ServiceClient
	network  *gophercloud.ServiceClient
}

// NewOpenStack builds an OpenStack client for the given identity endpoint.
func NewOpenStack(endpoint, region, domain string) *OpenStack {
	return &OpenStack{
		Endpoint: endpoint,
		Region:   region,
		Domain:   domain,
		Retry:    DefaultRetryPolicy(),
	}
}

var _ Client = (*OpenStack)(nil)

// statusOf extracts the HTTP status from a gophercloud error.
func statusOf(err error) (int, bool) {
	var respErr gophercloud.ErrUnexpectedResponseCode
	if errors.As(err, &respErr) {
		return respErr.Actual, true
	}
	return 0, false
}

// Authenticate implements Identity. When projectID is empty the credential's
// default project scope applies.
func (c *OpenStack) Authenticate(ctx context.Context, cred Credential, projectID string) (*Session, error) {
	const op = "Authenticate"

	domain := cred.Domain
	if domain == "" {
		domain = c.Domain
	}
	opts := gophercloud.AuthOptions{
		IdentityEndpoint: c.Endpoint,
		Username:         cred.Email,
		Password:         cred.Password,
		DomainName:       domain,
		AllowReauth:      true,
	}
	if projectID != "" {
		opts.Scope = &gophercloud.AuthScope{ProjectID: projectID}
	}

	var session *Session
	err := c.Retry.Do(ctx, op, func(ctx context.Context) error {
		provider, err := openstack.AuthenticatedClient(ctx, opts)
		if err != nil {
			return err
		}

		eo := gophercloud.EndpointOpts{Region: c.Region}
		identity, err := openstack.NewIdentityV3(provider, eo)
		if err != nil {
			return err
		}
		compute, err := openstack.NewComputeV2(provider, eo)
		if err != nil {
			return err
		}
		compute.Microversion = computeMicroversion
		storage, err := openstack.NewBlockStorageV3(provider, eo)
		if err != nil {
			return err
		}
		network, err := openstack.NewNetworkV2(provider, eo)
		if err != nil {
			return err
		}

		expiry := time.Now().Add(time.Hour)
		userID := ""
		if result, ok := provider.GetAuthResult().(tokens.CreateResult); ok {
			if tok, err := result.ExtractToken(); err == nil {
				expiry = tok.ExpiresAt
			}
			if user, err := result.ExtractUser(); err == nil {
				userID = user.ID
			}
		}

		session = &Session{
			Token:     provider.Token(),
			UserID:    userID,
			ProjectID: projectID,
			ExpiresAt: expiry,
			impl: &serviceClients{
				identity: identity,
				compute:  compute,
				storage:  storage,
				network:  network,
			},
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return session, nil
}

func (c *OpenStack) clients(op string, s *Session) (*serviceClients, error) {
	if s == nil {
		return nil, NewError(KindAuth, op, fmt.Errorf("nil session"))
	}
	sc, ok := s.impl.(*serviceClients)
	if !ok {
		return nil, NewError(KindAuth, op, fmt.Errorf("session is not bound to this client"))
	}
	return sc, nil
}

// --- Identity ---

func (c *OpenStack) GrantRole(ctx context.Context, s *Session, userID, projectID, role string) error {
	const op = "GrantRole"
	sc, err := c.clients(op, s)
	if err != nil {
		return err
	}
	if s.DryRun {
		return nil
	}
	return c.Retry.Do(ctx, op, func(ctx context.Context) error {
		pages, err := roles.List(sc.identity, roles.ListOpts{Name: role}).AllPages(ctx)
		if err != nil {
			return err
		}
		found, err := roles.ExtractRoles(pages)
		if err != nil {
			return err
		}
		if len(found) == 0 {
			return NewError(KindNotFound, op, fmt.Errorf("role %q not found", role))
		}
		err = roles.Assign(ctx, sc.identity, found[0].ID, roles.AssignOpts{
			UserID:    userID,
			ProjectID: projectID,
		}).ExtractErr()
		// Duplicate grants are idempotent.
		if err != nil {
			if status, ok := statusOf(err); ok && status == 409 {
				return nil
			}
		}
		return err
	})
}

func (c *OpenStack) FindUserByEmail(ctx context.Context, s *Session, email string) (*User, error) {
	const op = "FindUserByEmail"
	sc, err := c.clients(op, s)
	if err != nil {
		return nil, err
	}
	var user *User
	err = c.Retry.Do(ctx, op, func(ctx context.Context) error {
		pages, err := users.List(sc.identity, users.ListOpts{}).AllPages(ctx)
		if err != nil {
			return err
		}
		all, err := users.ExtractUsers(pages)
		if err != nil {
			return err
		}
		for _, u := range all {
			extraEmail, _ := u.Extra["email"].(string)
			if u.Name == email || extraEmail == email {
				user = &User{ID: u.ID, Name: u.Name, Email: email}
				return nil
			}
		}
		return nil // absent is not an error
	})
	if err != nil {
		return nil, err
	}
	return user, nil
}

func (c *OpenStack) ListRoleAssignments(ctx context.Context, s *Session, userID string) ([]RoleAssignment, error) {
	const op = "ListRoleAssignments"
	sc, err := c.clients(op, s)
	if err != nil {
		return nil, err
	}
	var out []RoleAssignment
	err = c.Retry.Do(ctx, op, func(ctx context.Context) error {
		opts := roles.ListAssignmentsOpts{}
		if userID != "" {
			opts.UserID = userID
		}
		pages, err := roles.ListAssignments(sc.identity, opts).AllPages(ctx)
		if err != nil {
			return err
		}
		assignments, err := roles.ExtractRoleAssignments(pages)
		if err != nil {
			return err
		}
		out = out[:0]
		for _, a := range assignments {
			out = append(out, RoleAssignment{
				UserID:    a.User.ID,
				ProjectID: a.Scope.Project.ID,
				Role:      a.Role.ID,
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (c *OpenStack) ListProjects(ctx context.Context, s *Session) ([]types.Project, error) {
	const op = "ListProjects"
	sc, err := c.clients(op, s)
	if err != nil {
		return nil, err
	}
	var out []types.Project
	err = c.Retry.Do(ctx, op, func(ctx context.Context) error {
		pages, err := projects.List(sc.identity, projects.ListOpts{}).AllPages(ctx)
		if err != nil {
			return err
		}
		all, err := projects.ExtractProjects(pages)
		if err != nil {
			return err
		}
		out = out[:0]
		for _, p := range all {
			out = append(out, types.Project{
				ID:       p.ID,
				Name:     p.Name,
				DomainID: p.DomainID,
				Enabled:  p.Enabled,
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// --- Compute ---

func (c *OpenStack) GetServer(ctx context.Context, s *Session, vmID string) (*types.Server, error) {
	const op = "GetServer"
	sc, err := c.clients(op, s)
	if err != nil {
		return nil, err
	}
	var out *types.Server
	err = c.Retry.Do(ctx, op, func(ctx context.Context) error {
		srv, err := servers.Get(ctx, sc.compute, vmID).Extract()
		if err != nil {
			return err
		}
		out = serverFromRemote(srv)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (c *OpenStack) ListServers(ctx context.Context, s *Session, projectID string) ([]types.Server, error) {
	const op = "ListServers"
	sc, err := c.clients(op, s)
	if err != nil {
		return nil, err
	}
	var out []types.Server
	err = c.Retry.Do(ctx, op, func(ctx context.Context) error {
		opts := servers.ListOpts{AllTenants: projectID == ""}
		if projectID != "" {
			opts.TenantID = projectID
		}
		pages, err := servers.List(sc.compute, opts).AllPages(ctx)
		if err != nil {
			return err
		}
		all, err := servers.ExtractServers(pages)
		if err != nil {
			return err
		}
		out = out[:0]
		for i := range all {
			out = append(out, *serverFromRemote(&all[i]))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (c *OpenStack) CreateServer(ctx context.Context, s *Session, spec ServerSpec) (string, error) {
	const op = "CreateServer"
	sc, err := c.clients(op, s)
	if err != nil {
		return "", err
	}
	if s.DryRun {
		return "dryrun-" + uuid.New().String(), nil
	}
	var id string
	err = c.Retry.Do(ctx, op, func(ctx context.Context) error {
		nets := make([]servers.Network, 0, len(spec.PortIDs))
		for _, portID := range spec.PortIDs {
			nets = append(nets, servers.Network{Port: portID})
		}
		opts := servers.CreateOpts{
			Name:      spec.Name,
			FlavorRef: spec.FlavorID,
			Networks:  nets,
			Metadata:  spec.Metadata,
			BlockDevice: []servers.BlockDevice{{
				UUID:                spec.BootVolumeID,
				SourceType:          servers.SourceVolume,
				DestinationType:     servers.DestinationVolume,
				BootIndex:           0,
				DeleteOnTermination: false,
			}},
		}
		if spec.UserData != "" {
			opts.UserData = []byte(spec.UserData)
		}
		srv, err := servers.Create(ctx, sc.compute, opts, nil).Extract()
		if err != nil {
			return err
		}
		id = srv.ID
		return nil
	})
	if err != nil {
		return "", err
	}
	return id, nil
}

func (c *OpenStack) DeleteServer(ctx context.Context, s *Session, vmID string) error {
	const op = "DeleteServer"
	sc, err := c.clients(op, s)
	if err != nil {
		return err
	}
	if s.DryRun {
		return nil
	}
	return c.Retry.Do(ctx, op, func(ctx context.Context) error {
		return servers.Delete(ctx, sc.compute, vmID).ExtractErr()
	})
}

func (c *OpenStack) GetUserData(ctx context.Context, s *Session, vmID string) (string, error) {
	const op = "GetUserData"
	sc, err := c.clients(op, s)
	if err != nil {
		return "", err
	}
	var userData string
	err = c.Retry.Do(ctx, op, func(ctx context.Context) error {
		srv, err := servers.Get(ctx, sc.compute, vmID).Extract()
		if err != nil {
			return err
		}
		if srv.Userdata != nil {
			userData = *srv.Userdata
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	return userData, nil
}

func (c *OpenStack) WaitServerStatus(ctx context.Context, s *Session, vmID, target string, timeout, poll time.Duration) error {
	const op = "WaitServerStatus"
	deadline := time.Now().Add(timeout)
	for {
		srv, err := c.GetServer(ctx, s, vmID)
		if err != nil {
			return err
		}
		if srv.Status == target {
			return nil
		}
		if srv.Status == "ERROR" {
			return NewError(KindInternal, op, fmt.Errorf("server %s entered ERROR state", vmID))
		}
		if time.Now().After(deadline) {
			return NewError(KindTimeout, op, fmt.Errorf("server %s did not reach %s within %s", vmID, target, timeout))
		}
		select {
		case <-ctx.Done():
			return classify(op, ctx.Err())
		case <-time.After(poll):
		}
	}
}

func (c *OpenStack) WaitServerDeleted(ctx context.Context, s *Session, vmID string, timeout, poll time.Duration) error {
	const op = "WaitServerDeleted"
	deadline := time.Now().Add(timeout)
	for {
		_, err := c.GetServer(ctx, s, vmID)
		if IsNotFound(err) {
			return nil
		}
		if err != nil {
			return err
		}
		if time.Now().After(deadline) {
			return NewError(KindTimeout, op, fmt.Errorf("server %s still present after %s", vmID, timeout))
		}
		select {
		case <-ctx.Done():
			return classify(op, ctx.Err())
		case <-time.After(poll):
		}
	}
}

func (c *OpenStack) ListFlavors(ctx context.Context, s *Session) ([]types.Flavor, error) {
	const op = "ListFlavors"
	sc, err := c.clients(op, s)
	if err != nil {
		return nil, err
	}
	var out []types.Flavor
	err = c.Retry.Do(ctx, op, func(ctx context.Context) error {
		pages, err := flavors.ListDetail(sc.compute, flavors.ListOpts{}).AllPages(ctx)
		if err != nil {
			return err
		}
		all, err := flavors.ExtractFlavors(pages)
		if err != nil {
			return err
		}
		out = out[:0]
		for _, f := range all {
			out = append(out, types.Flavor{ID: f.ID, Name: f.Name, VCPUs: f.VCPUs, RAMMB: f.RAM})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (c *OpenStack) GetComputeQuota(ctx context.Context, s *Session, projectID string) (*ComputeQuota, error) {
	const op = "GetComputeQuota"
	sc, err := c.clients(op, s)
	if err != nil {
		return nil, err
	}
	var out *ComputeQuota
	err = c.Retry.Do(ctx, op, func(ctx context.Context) error {
		detail, err := computequotasets.GetDetail(ctx, sc.compute, projectID).Extract()
		if err != nil {
			return err
		}
		out = &ComputeQuota{
			Instances:     detail.Instances.Limit,
			InstancesUsed: detail.Instances.InUse,
			Cores:         detail.Cores.Limit,
			CoresUsed:     detail.Cores.InUse,
			RAMMB:         detail.RAM.Limit,
			RAMMBUsed:     detail.RAM.InUse,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// --- BlockStorage ---

func (c *OpenStack) CreateVolumeFromSnapshot(ctx context.Context, s *Session, spec VolumeSpec) (string, error) {
	const op = "CreateVolumeFromSnapshot"
	sc, err := c.clients(op, s)
	if err != nil {
		return "", err
	}
	if s.DryRun {
		return "dryrun-" + uuid.New().String(), nil
	}
	var id string
	err = c.Retry.Do(ctx, op, func(ctx context.Context) error {
		vol, err := volumes.Create(ctx, sc.storage, volumes.CreateOpts{
			Name:       spec.Name,
			SnapshotID: spec.SnapshotID,
			Size:       spec.SizeGB,
			Metadata:   spec.Metadata,
		}, nil).Extract()
		if err != nil {
			return err
		}
		id = vol.ID
		return nil
	})
	if err != nil {
		return "", err
	}
	return id, nil
}

func (c *OpenStack) GetVolume(ctx context.Context, s *Session, volumeID string) (*types.Volume, error) {
	const op = "GetVolume"
	sc, err := c.clients(op, s)
	if err != nil {
		return nil, err
	}
	var out *types.Volume
	err = c.Retry.Do(ctx, op, func(ctx context.Context) error {
		vol, err := volumes.Get(ctx, sc.storage, volumeID).Extract()
		if err != nil {
			return err
		}
		out = volumeFromRemote(vol)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (c *OpenStack) ListVolumes(ctx context.Context, s *Session, allProjects bool) ([]types.Volume, error) {
	const op = "ListVolumes"
	sc, err := c.clients(op, s)
	if err != nil {
		return nil, err
	}
	var out []types.Volume
	err = c.Retry.Do(ctx, op, func(ctx context.Context) error {
		pages, err := volumes.List(sc.storage, volumes.ListOpts{AllTenants: allProjects}).AllPages(ctx)
		if err != nil {
			return err
		}
		all, err := volumes.ExtractVolumes(pages)
		if err != nil {
			return err
		}
		out = out[:0]
		for i := range all {
			out = append(out, *volumeFromRemote(&all[i]))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (c *OpenStack) WaitVolumeStatus(ctx context.Context, s *Session, volumeID, target string, timeout, poll time.Duration) error {
	const op = "WaitVolumeStatus"
	deadline := time.Now().Add(timeout)
	for {
		vol, err := c.GetVolume(ctx, s, volumeID)
		if err != nil {
			return err
		}
		if vol.Status == target {
			return nil
		}
		if vol.Status == "error" {
			return NewError(KindInternal, op, fmt.Errorf("volume %s entered error state", volumeID))
		}
		if time.Now().After(deadline) {
			return NewError(KindTimeout, op, fmt.Errorf("volume %s did not reach %s within %s", volumeID, target, timeout))
		}
		select {
		case <-ctx.Done():
			return classify(op, ctx.Err())
		case <-time.After(poll):
		}
	}
}

func (c *OpenStack) DeleteVolume(ctx context.Context, s *Session, volumeID string) error {
	const op = "DeleteVolume"
	sc, err := c.clients(op, s)
	if err != nil {
		return err
	}
	if s.DryRun {
		return nil
	}
	return c.Retry.Do(ctx, op, func(ctx context.Context) error {
		return volumes.Delete(ctx, sc.storage, volumeID, volumes.DeleteOpts{}).ExtractErr()
	})
}

func (c *OpenStack) CreateSnapshot(ctx context.Context, s *Session, volumeID, name string, metadata map[string]string) (string, error) {
	const op = "CreateSnapshot"
	sc, err := c.clients(op, s)
	if err != nil {
		return "", err
	}
	if s.DryRun {
		return "dryrun-" + uuid.New().String(), nil
	}
	var id string
	err = c.Retry.Do(ctx, op, func(ctx context.Context) error {
		// Force allows snapshotting in-use volumes.
		snap, err := snapshots.Create(ctx, sc.storage, snapshots.CreateOpts{
			VolumeID: volumeID,
			Name:     name,
			Force:    true,
			Metadata: metadata,
		}).Extract()
		if err != nil {
			return err
		}
		id = snap.ID
		return nil
	})
	if err != nil {
		return "", err
	}
	return id, nil
}

func (c *OpenStack) GetSnapshot(ctx context.Context, s *Session, snapshotID string) (*types.Snapshot, error) {
	const op = "GetSnapshot"
	sc, err := c.clients(op, s)
	if err != nil {
		return nil, err
	}
	var out *types.Snapshot
	err = c.Retry.Do(ctx, op, func(ctx context.Context) error {
		snap, err := snapshots.Get(ctx, sc.storage, snapshotID).Extract()
		if err != nil {
			return err
		}
		out = snapshotFromRemote(snap)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (c *OpenStack) ListSnapshots(ctx context.Context, s *Session, volumeID string) ([]types.Snapshot, error) {
	const op = "ListSnapshots"
	sc, err := c.clients(op, s)
	if err != nil {
		return nil, err
	}
	var out []types.Snapshot
	err = c.Retry.Do(ctx, op, func(ctx context.Context) error {
		pages, err := snapshots.List(sc.storage, snapshots.ListOpts{VolumeID: volumeID}).AllPages(ctx)
		if err != nil {
			return err
		}
		all, err := snapshots.ExtractSnapshots(pages)
		if err != nil {
			return err
		}
		out = out[:0]
		for i := range all {
			out = append(out, *snapshotFromRemote(&all[i]))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (c *OpenStack) DeleteSnapshot(ctx context.Context, s *Session, snapshotID string) error {
	const op = "DeleteSnapshot"
	sc, err := c.clients(op, s)
	if err != nil {
		return err
	}
	if s.DryRun {
		return nil
	}
	return c.Retry.Do(ctx, op, func(ctx context.Context) error {
		return snapshots.Delete(ctx, sc.storage, snapshotID).ExtractErr()
	})
}

func (c *OpenStack) GetStorageQuota(ctx context.Context, s *Session, projectID string) (*StorageQuota, error) {
	const op = "GetStorageQuota"
	sc, err := c.clients(op, s)
	if err != nil {
		return nil, err
	}
	var out *StorageQuota
	err = c.Retry.Do(ctx, op, func(ctx context.Context) error {
		usage, err := bsquotasets.GetUsage(ctx, sc.storage, projectID).Extract()
		if err != nil {
			return err
		}
		out = &StorageQuota{
			Volumes:       usage.Volumes.Limit,
			VolumesUsed:   usage.Volumes.InUse,
			GigaBytes:     usage.Gigabytes.Limit,
			GigaBytesUsed: usage.Gigabytes.InUse,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// --- Network ---

func (c *OpenStack) ListPorts(ctx context.Context, s *Session, filters PortFilters) ([]types.Port, error) {
	const op = "ListPorts"
	sc, err := c.clients(op, s)
	if err != nil {
		return nil, err
	}
	var out []types.Port
	err = c.Retry.Do(ctx, op, func(ctx context.Context) error {
		opts := ports.ListOpts{
			DeviceID:  filters.DeviceID,
			NetworkID: filters.NetworkID,
		}
		if filters.FixedIP != "" {
			opts.FixedIPs = []ports.FixedIPOpts{{IPAddress: filters.FixedIP}}
		}
		pages, err := ports.List(sc.network, opts).AllPages(ctx)
		if err != nil {
			return err
		}
		all, err := ports.ExtractPorts(pages)
		if err != nil {
			return err
		}
		out = out[:0]
		for i := range all {
			out = append(out, *portFromRemote(&all[i]))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (c *OpenStack) CreatePort(ctx context.Context, s *Session, spec PortSpec) (*types.Port, error) {
	const op = "CreatePort"
	sc, err := c.clients(op, s)
	if err != nil {
		return nil, err
	}
	if s.DryRun {
		return &types.Port{
			ID:        "dryrun-" + uuid.New().String(),
			NetworkID: spec.NetworkID,
			FixedIPs:  spec.FixedIPs,
		}, nil
	}
	var out *types.Port
	err = c.Retry.Do(ctx, op, func(ctx context.Context) error {
		opts := ports.CreateOpts{
			NetworkID: spec.NetworkID,
			Name:      spec.Name,
		}
		if len(spec.FixedIPs) > 0 {
			fixed := make([]ports.IP, 0, len(spec.FixedIPs))
			for _, f := range spec.FixedIPs {
				fixed = append(fixed, ports.IP{SubnetID: f.SubnetID, IPAddress: f.IPAddress})
			}
			opts.FixedIPs = fixed
		}
		if len(spec.SecurityGroupIDs) > 0 {
			groups := spec.SecurityGroupIDs
			opts.SecurityGroups = &groups
		}
		port, err := ports.Create(ctx, sc.network, opts).Extract()
		if err != nil {
			return err
		}
		out = portFromRemote(port)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (c *OpenStack) DeletePort(ctx context.Context, s *Session, portID string) error {
	const op = "DeletePort"
	sc, err := c.clients(op, s)
	if err != nil {
		return err
	}
	if s.DryRun {
		return nil
	}
	return c.Retry.Do(ctx, op, func(ctx context.Context) error {
		return ports.Delete(ctx, sc.network, portID).ExtractErr()
	})
}

func (c *OpenStack) ListSubnets(ctx context.Context, s *Session, networkID string) ([]types.Subnet, error) {
	const op = "ListSubnets"
	sc, err := c.clients(op, s)
	if err != nil {
		return nil, err
	}
	var out []types.Subnet
	err = c.Retry.Do(ctx, op, func(ctx context.Context) error {
		pages, err := subnets.List(sc.network, subnets.ListOpts{NetworkID: networkID}).AllPages(ctx)
		if err != nil {
			return err
		}
		all, err := subnets.ExtractSubnets(pages)
		if err != nil {
			return err
		}
		out = out[:0]
		for _, sn := range all {
			out = append(out, types.Subnet{
				ID:        sn.ID,
				NetworkID: sn.NetworkID,
				CIDR:      sn.CIDR,
				GatewayIP: sn.GatewayIP,
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (c *OpenStack) ListNetworks(ctx context.Context, s *Session) ([]types.Network, error) {
	const op = "ListNetworks"
	sc, err := c.clients(op, s)
	if err != nil {
		return nil, err
	}
	var out []types.Network
	err = c.Retry.Do(ctx, op, func(ctx context.Context) error {
		pages, err := networks.List(sc.network, networks.ListOpts{}).AllPages(ctx)
		if err != nil {
			return err
		}
		all, err := networks.ExtractNetworks(pages)
		if err != nil {
			return err
		}
		out = out[:0]
		for _, n := range all {
			out = append(out, types.Network{ID: n.ID, Name: n.Name, ProjectID: n.TenantID})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (c *OpenStack) ListSecurityGroups(ctx context.Context, s *Session, projectID string) ([]types.SecurityGroup, error) {
	const op = "ListSecurityGroups"
	sc, err := c.clients(op, s)
	if err != nil {
		return nil, err
	}
	var out []types.SecurityGroup
	err = c.Retry.Do(ctx, op, func(ctx context.Context) error {
		pages, err := secgroups.List(sc.network, secgroups.ListOpts{TenantID: projectID}).AllPages(ctx)
		if err != nil {
			return err
		}
		all, err := secgroups.ExtractGroups(pages)
		if err != nil {
			return err
		}
		out = out[:0]
		for _, g := range all {
			out = append(out, types.SecurityGroup{ID: g.ID, Name: g.Name, ProjectID: g.TenantID})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (c *OpenStack) CreateSecurityGroup(ctx context.Context, s *Session, name, projectID string) (string, error) {
	const op = "CreateSecurityGroup"
	sc, err := c.clients(op, s)
	if err != nil {
		return "", err
	}
	if s.DryRun {
		return "dryrun-" + uuid.New().String(), nil
	}
	var id string
	err = c.Retry.Do(ctx, op, func(ctx context.Context) error {
		group, err := secgroups.Create(ctx, sc.network, secgroups.CreateOpts{
			Name:     name,
			TenantID: projectID,
		}).Extract()
		if err != nil {
			return err
		}
		id = group.ID
		return nil
	})
	if err != nil {
		return "", err
	}
	return id, nil
}

func (c *OpenStack) CreateSecurityGroupRule(ctx context.Context, s *Session, groupID, direction, protocol string, portMin, portMax int) (string, error) {
	const op = "CreateSecurityGroupRule"
	sc, err := c.clients(op, s)
	if err != nil {
		return "", err
	}
	if s.DryRun {
		return "dryrun-" + uuid.New().String(), nil
	}
	var id string
	err = c.Retry.Do(ctx, op, func(ctx context.Context) error {
		rule, err := secrules.Create(ctx, sc.network, secrules.CreateOpts{
			SecGroupID:   groupID,
			Direction:    secrules.RuleDirection(direction),
			Protocol:     secrules.RuleProtocol(protocol),
			PortRangeMin: portMin,
			PortRangeMax: portMax,
			EtherType:    secrules.EtherType4,
		}).Extract()
		if err != nil {
			return err
		}
		id = rule.ID
		return nil
	})
	if err != nil {
		return "", err
	}
	return id, nil
}

// --- conversions ---

func serverFromRemote(srv *servers.Server) *types.Server {
	out := &types.Server{
		ID:        srv.ID,
		Name:      srv.Name,
		ProjectID: srv.TenantID,
		Status:    srv.Status,
		Attrs:     map[string]string{},
	}
	if id, ok := srv.Flavor["id"].(string); ok {
		out.FlavorID = id
	}
	for _, att := range srv.AttachedVolumes {
		// First attached volume is the boot volume for boot-from-volume
		// servers; refined by the caller against the block-storage view.
		out.BootVolume = att.ID
		break
	}
	if srv.Userdata != nil && *srv.Userdata != "" {
		out.Attrs["user_data"] = *srv.Userdata
	}
	return out
}

func volumeFromRemote(vol *volumes.Volume) *types.Volume {
	out := &types.Volume{
		ID:        vol.ID,
		Name:      vol.Name,
		Status:    vol.Status,
		SizeGB:    vol.Size,
		Bootable:  vol.Bootable == "true",
		Metadata:  vol.Metadata,
		ProjectID: vol.TenantID,
	}
	for _, att := range vol.Attachments {
		out.AttachedTo = att.ServerID
		break
	}
	return out
}

func snapshotFromRemote(snap *snapshots.Snapshot) *types.Snapshot {
	return &types.Snapshot{
		ID:        snap.ID,
		Name:      snap.Name,
		VolumeID:  snap.VolumeID,
		Status:    snap.Status,
		SizeGB:    snap.Size,
		Metadata:  snap.Metadata,
		CreatedAt: snap.CreatedAt,
	}
}

func portFromRemote(p *ports.Port) *types.Port {
	out := &types.Port{
		ID:        p.ID,
		NetworkID: p.NetworkID,
		DeviceID:  p.DeviceID,
		MAC:       p.MACAddress,
	}
	for _, f := range p.FixedIPs {
		out.FixedIPs = append(out.FixedIPs, types.FixedIP{SubnetID: f.SubnetID, IPAddress: f.IPAddress})
	}
	return out
}
