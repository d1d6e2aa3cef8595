package restore

import (
	"sync"
	"time"

	"github.com/cloudmason/snapguard/pkg/cloud"
	"github.com/cloudmason/snapguard/pkg/session"
	"github.com/cloudmason/snapguard/pkg/store"
)

// Config controls execution timeouts and rollback behaviour.
type Config struct {
	// DryRun makes mutating steps synthesize IDs instead of touching the cloud.
	DryRun bool
	// CleanupVolumes lets rollback delete created volumes. When false they
	// are left behind with their IDs recorded for manual inspection.
	CleanupVolumes bool

	VMDeleteTimeout  time.Duration
	VolumeTimeout    time.Duration
	ServerTimeout    time.Duration
	PollInterval     time.Duration
	PortRetries      int
	PortRetryDelay   time.Duration
	PortReleaseDelay time.Duration
}

// Engine is the restore planner and executor. The planner is synchronous and
// pure (it never mutates the cloud); execution runs as one background task per
// job inside the calling process.
type Engine struct {
	cfg      Config
	store    store.Store
	client   cloud.Client
	sessions *session.Provider

	wg sync.WaitGroup
}

// NewEngine assembles an engine. Zero timeouts fall back to defaults.
func NewEngine(cfg Config, st store.Store, client cloud.Client, sessions *session.Provider) *Engine {
	if cfg.VMDeleteTimeout <= 0 {
		cfg.VMDeleteTimeout = 300 * time.Second
	}
	if cfg.VolumeTimeout <= 0 {
		cfg.VolumeTimeout = 600 * time.Second
	}
	if cfg.ServerTimeout <= 0 {
		cfg.ServerTimeout = 600 * time.Second
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 5 * time.Second
	}
	if cfg.PortRetries <= 0 {
		cfg.PortRetries = 5
	}
	if cfg.PortRetryDelay <= 0 {
		cfg.PortRetryDelay = 3 * time.Second
	}
	if cfg.PortReleaseDelay <= 0 {
		cfg.PortReleaseDelay = 3 * time.Second
	}
	return &Engine{
		cfg:      cfg,
		store:    st,
		client:   client,
		sessions: sessions,
	}
}

// Wait blocks until all in-flight background executions finish. Used for
// graceful shutdown and by tests.
func (e *Engine) Wait() {
	e.wg.Wait()
}
