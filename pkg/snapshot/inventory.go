package snapshot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cloudmason/snapguard/pkg/log"
	"github.com/cloudmason/snapguard/pkg/store"
	"github.com/cloudmason/snapguard/pkg/types"
)

// Inventory kind keys in the store's inventory bucket.
const (
	inventoryProjects = "projects"
	inventoryServers  = "servers"
	inventoryVolumes  = "volumes"
)

// inventory is the worker's view of the cloud, refreshed at the start of each
// run and mirrored into the store for the API process.
type inventory struct {
	Projects map[string]types.Project // by ID
	Servers  map[string]types.Server  // by ID
	Volumes  []types.Volume
}

func (inv *inventory) tenantName(projectID string) string {
	if p, ok := inv.Projects[projectID]; ok {
		return p.Name
	}
	return projectID
}

func (inv *inventory) domainName(projectID string) string {
	if p, ok := inv.Projects[projectID]; ok {
		if p.Domain != "" {
			return p.Domain
		}
		return p.DomainID
	}
	return ""
}

func (inv *inventory) serverName(serverID string) string {
	if s, ok := inv.Servers[serverID]; ok {
		return s.Name
	}
	return ""
}

// syncInventory refreshes the mirror from the cloud and advances the
// watermark. On refresh failure it falls back to the stored mirror, but only
// while the watermark is fresh enough; a stale mirror aborts the run.
func (w *Worker) syncInventory(ctx context.Context) (*inventory, error) {
	logger := log.WithComponent("snapshot-worker")

	inv, err := w.refreshInventory(ctx)
	if err == nil {
		return inv, nil
	}
	logger.Warn().Err(err).Msg("Inventory refresh failed, checking mirror staleness")

	watermark, wmErr := w.store.InventoryWatermark()
	if wmErr != nil {
		return nil, wmErr
	}
	if watermark.IsZero() || time.Since(watermark) > w.cfg.InventoryStaleness {
		return nil, fmt.Errorf("inventory stale since %s: %w", watermark.Format(time.RFC3339), err)
	}

	return w.loadInventory()
}

func (w *Worker) refreshInventory(ctx context.Context) (*inventory, error) {
	admin, err := w.sessions.AdminSession(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to open admin session: %w", err)
	}

	projects, err := w.client.ListProjects(ctx, admin)
	if err != nil {
		return nil, fmt.Errorf("failed to list projects: %w", err)
	}
	servers, err := w.client.ListServers(ctx, admin, "")
	if err != nil {
		return nil, fmt.Errorf("failed to list servers: %w", err)
	}
	volumes, err := w.client.ListVolumes(ctx, admin, true)
	if err != nil {
		return nil, fmt.Errorf("failed to list volumes: %w", err)
	}

	inv := &inventory{
		Projects: make(map[string]types.Project, len(projects)),
		Servers:  make(map[string]types.Server, len(servers)),
		Volumes:  volumes,
	}
	for _, p := range projects {
		inv.Projects[p.ID] = p
	}
	for _, s := range servers {
		inv.Servers[s.ID] = s
	}

	for kind, v := range map[string]any{
		inventoryProjects: projects,
		inventoryServers:  servers,
		inventoryVolumes:  volumes,
	} {
		data, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		if err := w.store.PutInventory(kind, data); err != nil {
			return nil, err
		}
	}
	if err := w.store.SetInventoryWatermark(time.Now().UTC()); err != nil {
		return nil, err
	}
	return inv, nil
}

func (w *Worker) loadInventory() (*inventory, error) {
	inv := &inventory{
		Projects: make(map[string]types.Project),
		Servers:  make(map[string]types.Server),
	}

	var projects []types.Project
	if err := w.loadInventoryKind(inventoryProjects, &projects); err != nil {
		return nil, err
	}
	for _, p := range projects {
		inv.Projects[p.ID] = p
	}

	var servers []types.Server
	if err := w.loadInventoryKind(inventoryServers, &servers); err != nil {
		return nil, err
	}
	for _, s := range servers {
		inv.Servers[s.ID] = s
	}

	if err := w.loadInventoryKind(inventoryVolumes, &inv.Volumes); err != nil {
		return nil, err
	}
	return inv, nil
}

func (w *Worker) loadInventoryKind(kind string, out any) error {
	data, err := w.store.GetInventory(kind)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	return json.Unmarshal(data, out)
}
