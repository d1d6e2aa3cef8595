package restore

import (
	"context"
	"net/netip"
	"sort"

	"github.com/cloudmason/snapguard/pkg/cloud"
	"github.com/cloudmason/snapguard/pkg/types"
)

// RestorePoints lists the snapshots usable as restore sources for a VM: every
// snapshot of its boot volume plus snapshots of volumes currently attached.
func (e *Engine) RestorePoints(ctx context.Context, vmID string) ([]types.Snapshot, error) {
	sess, err := e.sessions.AdminSession(ctx)
	if err != nil {
		return nil, err
	}

	srv, err := e.client.GetServer(ctx, sess, vmID)
	if err != nil {
		if cloud.IsNotFound(err) {
			return nil, NewError(KindVMNotFound, "vm %s not found", vmID)
		}
		return nil, err
	}

	volumeIDs := map[string]bool{}
	if srv.BootVolume != "" {
		volumeIDs[srv.BootVolume] = true
	}
	vols, err := e.client.ListVolumes(ctx, sess, true)
	if err == nil {
		for _, v := range vols {
			if v.AttachedTo == vmID {
				volumeIDs[v.ID] = true
			}
		}
	}

	var points []types.Snapshot
	for volumeID := range volumeIDs {
		snaps, err := e.client.ListSnapshots(ctx, sess, volumeID)
		if err != nil {
			continue
		}
		points = append(points, snaps...)
	}
	sort.Slice(points, func(i, j int) bool { return points[i].CreatedAt.After(points[j].CreatedAt) })
	return points, nil
}

// AvailableIPs computes up to limit currently-unassigned addresses on the
// network's subnets. Advisory only: the address space can change between this
// call and port creation.
func (e *Engine) AvailableIPs(ctx context.Context, networkID string, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 20
	}
	sess, err := e.sessions.AdminSession(ctx)
	if err != nil {
		return nil, err
	}

	subnets, err := e.client.ListSubnets(ctx, sess, networkID)
	if err != nil {
		return nil, err
	}
	ports, err := e.client.ListPorts(ctx, sess, cloud.PortFilters{NetworkID: networkID})
	if err != nil {
		return nil, err
	}

	used := map[string]bool{}
	for _, p := range ports {
		for _, f := range p.FixedIPs {
			used[f.IPAddress] = true
		}
	}

	var free []string
	for _, subnet := range subnets {
		prefix, err := netip.ParsePrefix(subnet.CIDR)
		if err != nil {
			continue
		}
		used[subnet.GatewayIP] = true

		addr := prefix.Addr().Next() // skip the network address
		for prefix.Contains(addr) && len(free) < limit {
			candidate := addr
			addr = addr.Next()
			if !prefix.Contains(addr) {
				break // last address is broadcast on v4
			}
			if used[candidate.String()] {
				continue
			}
			free = append(free, candidate.String())
		}
		if len(free) >= limit {
			break
		}
	}
	return free, nil
}
