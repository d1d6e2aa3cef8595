package snapshot

import (
	"context"
	"sync"
	"time"

	"github.com/cloudmason/snapguard/pkg/cloud"
	"github.com/cloudmason/snapguard/pkg/log"
	"github.com/cloudmason/snapguard/pkg/metrics"
	"github.com/cloudmason/snapguard/pkg/session"
	"github.com/cloudmason/snapguard/pkg/store"
	"github.com/cloudmason/snapguard/pkg/types"
)

// Config controls the worker's cadence and limits.
type Config struct {
	RulesFile          string
	PolicyInterval     time.Duration
	SnapshotInterval   time.Duration
	TriggerPoll        time.Duration
	MaxSnapshotSizeGB  int
	DryRun             bool
	VolumeWorkers      int
	AssignmentChunk    int
	InventoryStaleness time.Duration
}

// Worker drives the snapshot lifecycle: policy assignment, snapshot creation,
// retention pruning, and the on-demand trigger channel. One instance runs one
// main loop; the per-volume fan-out inside a run is bounded by VolumeWorkers.
type Worker struct {
	cfg      Config
	store    store.Store
	client   cloud.Client
	sessions *session.Provider

	stopCh chan struct{}
	wg     sync.WaitGroup

	// now is swapped out by tests to pin calendar gates.
	now func() time.Time
}

// NewWorker assembles a worker. Zero Config durations fall back to defaults.
func NewWorker(cfg Config, st store.Store, client cloud.Client, sessions *session.Provider) *Worker {
	if cfg.PolicyInterval <= 0 {
		cfg.PolicyInterval = 60 * time.Minute
	}
	if cfg.SnapshotInterval <= 0 {
		cfg.SnapshotInterval = 60 * time.Minute
	}
	if cfg.TriggerPoll <= 0 {
		cfg.TriggerPoll = 10 * time.Second
	}
	if cfg.VolumeWorkers <= 0 {
		cfg.VolumeWorkers = 8
	}
	if cfg.AssignmentChunk <= 0 {
		cfg.AssignmentChunk = 500
	}
	if cfg.MaxSnapshotSizeGB <= 0 {
		cfg.MaxSnapshotSizeGB = 260
	}
	if cfg.InventoryStaleness <= 0 {
		cfg.InventoryStaleness = time.Hour
	}
	return &Worker{
		cfg:      cfg,
		store:    st,
		client:   client,
		sessions: sessions,
		stopCh:   make(chan struct{}),
		now:      time.Now,
	}
}

// Start recovers stale state and begins the main loop.
func (w *Worker) Start(ctx context.Context) error {
	logger := log.WithComponent("snapshot-worker")

	recovered, err := w.store.RecoverStaleJobs()
	if err != nil {
		return err
	}
	for _, job := range recovered {
		logger.Warn().Str("job_id", job.ID).Str("vm_id", job.VMID).
			Msg("Marked stale restore job interrupted")
	}
	if err := w.store.InterruptRunningRuns(); err != nil {
		return err
	}

	w.wg.Add(1)
	go w.run(ctx)
	logger.Info().
		Dur("policy_interval", w.cfg.PolicyInterval).
		Dur("snapshot_interval", w.cfg.SnapshotInterval).
		Bool("dry_run", w.cfg.DryRun).
		Msg("Snapshot worker started")
	return nil
}

// Stop signals the loop and waits for the current iteration to finish.
func (w *Worker) Stop() {
	close(w.stopCh)
	w.wg.Wait()
}

func (w *Worker) run(ctx context.Context) {
	defer w.wg.Done()

	logger := log.WithComponent("snapshot-worker")

	triggerTicker := time.NewTicker(w.cfg.TriggerPoll)
	policyTicker := time.NewTicker(w.cfg.PolicyInterval)
	snapshotTicker := time.NewTicker(w.cfg.SnapshotInterval)
	defer triggerTicker.Stop()
	defer policyTicker.Stop()
	defer snapshotTicker.Stop()

	for {
		select {
		case <-triggerTicker.C:
			trigger, err := w.store.ClaimNextOnDemandTrigger()
			if err != nil {
				logger.Error().Err(err).Msg("Failed to poll on-demand triggers")
				continue
			}
			if trigger != nil {
				metrics.TriggerClaimsTotal.Inc()
				w.runTriggered(ctx, trigger)
			}
		case <-policyTicker.C:
			if err := w.runPolicyAssignment(ctx); err != nil {
				logger.Error().Err(err).Msg("Policy assignment pass failed")
			}
		case <-snapshotTicker.C:
			w.runScheduled(ctx)
		case <-w.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (w *Worker) runScheduled(ctx context.Context) {
	logger := log.WithComponent("snapshot-worker")
	if _, err := w.runPipeline(ctx, types.RunTypeScheduled, nil); err != nil {
		logger.Error().Err(err).Msg("Scheduled snapshot run failed")
	}
}

// runTriggered executes the full pipeline (assignment included) for a claimed
// on-demand trigger, mirroring stage progress onto the trigger row.
func (w *Worker) runTriggered(ctx context.Context, trigger *types.OnDemandTrigger) {
	logger := log.WithComponent("snapshot-worker")
	logger.Info().Str("trigger_id", trigger.ID).Str("requested_by", trigger.RequestedBy).
		Msg("Claimed on-demand trigger")

	progress := newTriggerProgress(w.store, trigger)

	progress.start("policy_assignment")
	err := w.runPolicyAssignment(ctx)
	progress.finish("policy_assignment", err)
	if err != nil {
		w.store.FinishTrigger(trigger.ID, types.TriggerFailed, err.Error())
		return
	}

	run, err := w.runPipeline(ctx, types.RunTypeOnDemand, progress)
	if err != nil {
		w.store.FinishTrigger(trigger.ID, types.TriggerFailed, err.Error())
		return
	}

	status := types.TriggerCompleted
	errMsg := ""
	if run != nil && run.Status == types.RunStatusFailed {
		status = types.TriggerFailed
		errMsg = run.Error
	}
	w.store.FinishTrigger(trigger.ID, status, errMsg)
}

// triggerProgress mirrors pipeline stages onto an on-demand trigger row.
// A nil *triggerProgress is valid and does nothing, so scheduled runs share
// the same pipeline code.
type triggerProgress struct {
	store   store.Store
	trigger *types.OnDemandTrigger
	stages  []types.StageProgress
}

func newTriggerProgress(st store.Store, trigger *types.OnDemandTrigger) *triggerProgress {
	return &triggerProgress{store: st, trigger: trigger}
}

func (p *triggerProgress) start(stage string) {
	if p == nil {
		return
	}
	p.stages = append(p.stages, types.StageProgress{
		Name:      stage,
		Status:    "running",
		StartedAt: time.Now().UTC(),
	})
	p.store.UpdateTriggerProgress(p.trigger.ID, p.stages)
}

func (p *triggerProgress) finish(stage string, err error) {
	if p == nil {
		return
	}
	for i := range p.stages {
		if p.stages[i].Name != stage {
			continue
		}
		p.stages[i].FinishedAt = time.Now().UTC()
		if err != nil {
			p.stages[i].Status = "failed"
			p.stages[i].Detail = err.Error()
		} else {
			p.stages[i].Status = "completed"
		}
		break
	}
	p.store.UpdateTriggerProgress(p.trigger.ID, p.stages)
}
