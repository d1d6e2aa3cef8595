package store

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/cloudmason/snapguard/pkg/types"
	bolt "go.etcd.io/bbolt"
)

var (
	// Bucket names
	bucketSnapshotRuns    = []byte("snapshot_runs")
	bucketSnapshotRecords = []byte("snapshot_records")
	bucketSnapshotDays    = []byte("snapshot_days")
	bucketTriggers        = []byte("triggers")
	bucketRestoreJobs     = []byte("restore_jobs")
	bucketRestoreSteps    = []byte("restore_steps")
	bucketPolicySets      = []byte("policy_sets")
	bucketAssignments     = []byte("assignments")
	bucketExclusions      = []byte("exclusions")
	bucketInventory       = []byte("inventory")
	bucketMeta            = []byte("meta")
)

const keyInventoryWatermark = "inventory_watermark"

// dayLayout is the UTC calendar-day key used for same-day deduplication.
const dayLayout = "2006-01-02"

// BoltStore implements Store using BoltDB. Every method runs inside a single
// bolt transaction, which is what makes the cross-row invariants atomic.
type BoltStore struct {
	db *bolt.DB
}

var _ Store = (*BoltStore)(nil)

// NewBoltStore opens (or creates) the database under dataDir.
func NewBoltStore(dataDir string) (*BoltStore, error) {
	dbPath := filepath.Join(dataDir, "snapguard.db")

	db, err := bolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		buckets := [][]byte{
			bucketSnapshotRuns,
			bucketSnapshotRecords,
			bucketSnapshotDays,
			bucketTriggers,
			bucketRestoreJobs,
			bucketRestoreSteps,
			bucketPolicySets,
			bucketAssignments,
			bucketExclusions,
			bucketInventory,
			bucketMeta,
		}

		for _, bucket := range buckets {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
			}
		}
		return nil
	})

	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStore{db: db}, nil
}

// Close closes the database
func (s *BoltStore) Close() error {
	return s.db.Close()
}

func put(b *bolt.Bucket, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return b.Put([]byte(key), data)
}

// Snapshot run operations

func (s *BoltStore) InsertSnapshotRun(run *types.SnapshotRun) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return put(tx.Bucket(bucketSnapshotRuns), run.ID, run)
	})
}

func (s *BoltStore) GetSnapshotRun(id string) (*types.SnapshotRun, error) {
	var run types.SnapshotRun
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketSnapshotRuns).Get([]byte(id))
		if data == nil {
			return fmt.Errorf("snapshot run %s: %w", id, ErrNotFound)
		}
		return json.Unmarshal(data, &run)
	})
	if err != nil {
		return nil, err
	}
	return &run, nil
}

func (s *BoltStore) ListSnapshotRuns(limit int) ([]*types.SnapshotRun, error) {
	var runs []*types.SnapshotRun
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketSnapshotRuns).ForEach(func(k, v []byte) error {
			var run types.SnapshotRun
			if err := json.Unmarshal(v, &run); err != nil {
				return err
			}
			runs = append(runs, &run)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(runs, func(i, j int) bool {
		return runs[i].StartedAt.After(runs[j].StartedAt)
	})
	if limit > 0 && len(runs) > limit {
		runs = runs[:limit]
	}
	return runs, nil
}

func (s *BoltStore) AppendSnapshotRecord(rec *types.SnapshotRecord) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		runs := tx.Bucket(bucketSnapshotRuns)
		data := runs.Get([]byte(rec.RunID))
		if data == nil {
			return fmt.Errorf("snapshot run %s: %w", rec.RunID, ErrNotFound)
		}
		var run types.SnapshotRun
		if err := json.Unmarshal(data, &run); err != nil {
			return err
		}

		switch rec.Action {
		case types.RecordCreated:
			run.Created++
		case types.RecordDeleted:
			run.Deleted++
		case types.RecordFailed:
			run.Failed++
		case types.RecordSkipped:
			run.Skipped++
		}

		if err := put(runs, run.ID, &run); err != nil {
			return err
		}

		records := tx.Bucket(bucketSnapshotRecords)
		if err := put(records, rec.RunID+"/"+rec.ID, rec); err != nil {
			return err
		}

		// Successful creations feed the same-day deduplication index.
		if rec.Action == types.RecordCreated {
			days := tx.Bucket(bucketSnapshotDays)
			key := dayKey(rec.VolumeID, rec.PolicyName, rec.CreatedAt)
			return days.Put([]byte(key), []byte(rec.ID))
		}
		return nil
	})
}

func (s *BoltStore) ListSnapshotRecords(runID string) ([]*types.SnapshotRecord, error) {
	var records []*types.SnapshotRecord
	prefix := []byte(runID + "/")
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketSnapshotRecords).Cursor()
		for k, v := c.Seek(prefix); k != nil && strings.HasPrefix(string(k), string(prefix)); k, v = c.Next() {
			var rec types.SnapshotRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				return err
			}
			records = append(records, &rec)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return records, nil
}

func (s *BoltStore) FinalizeSnapshotRun(id string, runErr string) (*types.SnapshotRun, error) {
	var out types.SnapshotRun
	err := s.db.Update(func(tx *bolt.Tx) error {
		runs := tx.Bucket(bucketSnapshotRuns)
		data := runs.Get([]byte(id))
		if data == nil {
			return fmt.Errorf("snapshot run %s: %w", id, ErrNotFound)
		}
		if err := json.Unmarshal(data, &out); err != nil {
			return err
		}

		switch {
		case out.Failed > 0 && out.Created == 0:
			out.Status = types.RunStatusFailed
		case out.Failed > 0:
			out.Status = types.RunStatusPartial
		default:
			out.Status = types.RunStatusCompleted
		}
		out.Error = runErr
		out.FinishedAt = time.Now().UTC()

		return put(runs, out.ID, &out)
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (s *BoltStore) HasSnapshotToday(volumeID, policy string, now time.Time) (bool, error) {
	var found bool
	err := s.db.View(func(tx *bolt.Tx) error {
		key := dayKey(volumeID, policy, now)
		found = tx.Bucket(bucketSnapshotDays).Get([]byte(key)) != nil
		return nil
	})
	return found, err
}

func (s *BoltStore) AppendRunWarning(id, warning string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		runs := tx.Bucket(bucketSnapshotRuns)
		data := runs.Get([]byte(id))
		if data == nil {
			return fmt.Errorf("snapshot run %s: %w", id, ErrNotFound)
		}
		var run types.SnapshotRun
		if err := json.Unmarshal(data, &run); err != nil {
			return err
		}
		run.Warnings = append(run.Warnings, warning)
		return put(runs, run.ID, &run)
	})
}

func (s *BoltStore) InterruptRunningRuns() error {
	return s.db.Update(func(tx *bolt.Tx) error {
		runs := tx.Bucket(bucketSnapshotRuns)
		var stale []*types.SnapshotRun
		err := runs.ForEach(func(k, v []byte) error {
			var run types.SnapshotRun
			if err := json.Unmarshal(v, &run); err != nil {
				return err
			}
			if run.Status == types.RunStatusRunning {
				stale = append(stale, &run)
			}
			return nil
		})
		if err != nil {
			return err
		}
		for _, run := range stale {
			run.Status = types.RunStatusFailed
			run.Error = "interrupted"
			run.FinishedAt = time.Now().UTC()
			if err := put(runs, run.ID, run); err != nil {
				return err
			}
		}
		return nil
	})
}

func dayKey(volumeID, policy string, t time.Time) string {
	return volumeID + "/" + policy + "/" + t.UTC().Format(dayLayout)
}

// Trigger operations

func (s *BoltStore) InsertOnDemandTrigger(trigger *types.OnDemandTrigger) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketTriggers)
		var active bool
		err := b.ForEach(func(k, v []byte) error {
			var t types.OnDemandTrigger
			if err := json.Unmarshal(v, &t); err != nil {
				return err
			}
			if t.Status == types.TriggerPending || t.Status == types.TriggerRunning {
				active = true
			}
			return nil
		})
		if err != nil {
			return err
		}
		if active {
			return ErrTriggerActive
		}
		return put(b, trigger.ID, trigger)
	})
}

func (s *BoltStore) GetOnDemandTrigger(id string) (*types.OnDemandTrigger, error) {
	var trigger types.OnDemandTrigger
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketTriggers).Get([]byte(id))
		if data == nil {
			return fmt.Errorf("trigger %s: %w", id, ErrNotFound)
		}
		return json.Unmarshal(data, &trigger)
	})
	if err != nil {
		return nil, err
	}
	return &trigger, nil
}

func (s *BoltStore) ClaimNextOnDemandTrigger() (*types.OnDemandTrigger, error) {
	var claimed *types.OnDemandTrigger
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketTriggers)
		var oldest *types.OnDemandTrigger
		err := b.ForEach(func(k, v []byte) error {
			var t types.OnDemandTrigger
			if err := json.Unmarshal(v, &t); err != nil {
				return err
			}
			if t.Status != types.TriggerPending {
				return nil
			}
			if oldest == nil || t.CreatedAt.Before(oldest.CreatedAt) {
				oldest = &t
			}
			return nil
		})
		if err != nil || oldest == nil {
			return err
		}
		oldest.Status = types.TriggerRunning
		claimed = oldest
		return put(b, oldest.ID, oldest)
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

func (s *BoltStore) UpdateTriggerProgress(id string, progress []types.StageProgress) error {
	return s.updateTrigger(id, func(t *types.OnDemandTrigger) {
		t.StepProgress = progress
	})
}

func (s *BoltStore) FinishTrigger(id string, status types.TriggerStatus, errMsg string) error {
	return s.updateTrigger(id, func(t *types.OnDemandTrigger) {
		t.Status = status
		t.Error = errMsg
	})
}

func (s *BoltStore) updateTrigger(id string, mutate func(*types.OnDemandTrigger)) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketTriggers)
		data := b.Get([]byte(id))
		if data == nil {
			return fmt.Errorf("trigger %s: %w", id, ErrNotFound)
		}
		var t types.OnDemandTrigger
		if err := json.Unmarshal(data, &t); err != nil {
			return err
		}
		mutate(&t)
		return put(b, t.ID, &t)
	})
}

func (s *BoltStore) LatestTrigger() (*types.OnDemandTrigger, error) {
	var latest *types.OnDemandTrigger
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketTriggers).ForEach(func(k, v []byte) error {
			var t types.OnDemandTrigger
			if err := json.Unmarshal(v, &t); err != nil {
				return err
			}
			if latest == nil || t.CreatedAt.After(latest.CreatedAt) {
				latest = &t
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return latest, nil
}

// Restore job operations

func (s *BoltStore) InsertRestoreJob(job *types.RestoreJob, steps []*types.RestoreStep) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		jobs := tx.Bucket(bucketRestoreJobs)

		var inflight bool
		err := jobs.ForEach(func(k, v []byte) error {
			var other types.RestoreJob
			if err := json.Unmarshal(v, &other); err != nil {
				return err
			}
			if other.VMID == job.VMID && other.Status.InFlight() {
				inflight = true
			}
			return nil
		})
		if err != nil {
			return err
		}
		if inflight {
			return fmt.Errorf("vm %s: %w", job.VMID, ErrConcurrentRestore)
		}

		if err := put(jobs, job.ID, job); err != nil {
			return err
		}
		stepsBucket := tx.Bucket(bucketRestoreSteps)
		for _, step := range steps {
			if err := put(stepsBucket, stepKey(step.JobID, step.Ordinal), step); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *BoltStore) GetRestoreJob(id string) (*types.RestoreJob, error) {
	var job types.RestoreJob
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketRestoreJobs).Get([]byte(id))
		if data == nil {
			return fmt.Errorf("restore job %s: %w", id, ErrNotFound)
		}
		return json.Unmarshal(data, &job)
	})
	if err != nil {
		return nil, err
	}
	return &job, nil
}

func (s *BoltStore) ListRestoreJobs(vmID string, limit int) ([]*types.RestoreJob, error) {
	var jobs []*types.RestoreJob
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketRestoreJobs).ForEach(func(k, v []byte) error {
			var job types.RestoreJob
			if err := json.Unmarshal(v, &job); err != nil {
				return err
			}
			if vmID != "" && job.VMID != vmID {
				return nil
			}
			jobs = append(jobs, &job)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(jobs, func(i, j int) bool {
		return jobs[i].CreatedAt.After(jobs[j].CreatedAt)
	})
	if limit > 0 && len(jobs) > limit {
		jobs = jobs[:limit]
	}
	return jobs, nil
}

// MarkJobPending is the claim step of execution. Both checks happen inside one
// transaction so two concurrent execute requests cannot both win.
func (s *BoltStore) MarkJobPending(id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		jobs := tx.Bucket(bucketRestoreJobs)
		data := jobs.Get([]byte(id))
		if data == nil {
			return fmt.Errorf("restore job %s: %w", id, ErrNotFound)
		}
		var job types.RestoreJob
		if err := json.Unmarshal(data, &job); err != nil {
			return err
		}
		if job.Status != types.JobPlanned {
			return fmt.Errorf("job %s is %s: %w", id, job.Status, ErrNotClaimable)
		}

		var inflight bool
		err := jobs.ForEach(func(k, v []byte) error {
			var other types.RestoreJob
			if err := json.Unmarshal(v, &other); err != nil {
				return err
			}
			if other.ID != job.ID && other.VMID == job.VMID && other.Status.InFlight() {
				inflight = true
			}
			return nil
		})
		if err != nil {
			return err
		}
		if inflight {
			return fmt.Errorf("vm %s: %w", job.VMID, ErrConcurrentRestore)
		}

		job.Status = types.JobPending
		job.LastHeartbeat = time.Now().UTC()
		job.UpdatedAt = time.Now().UTC()
		return put(jobs, job.ID, &job)
	})
}

// UpdateRestoreJob persists the job. A row that reached CANCELED stays
// CANCELED: an executor racing a cancel request may still write its result
// fields, but the status and cancel reason stick.
func (s *BoltStore) UpdateRestoreJob(job *types.RestoreJob) error {
	job.UpdatedAt = time.Now().UTC()
	return s.db.Update(func(tx *bolt.Tx) error {
		jobs := tx.Bucket(bucketRestoreJobs)
		if data := jobs.Get([]byte(job.ID)); data != nil {
			var existing types.RestoreJob
			if err := json.Unmarshal(data, &existing); err != nil {
				return err
			}
			if existing.Status == types.JobCanceled && job.Status != types.JobCanceled {
				job.Status = types.JobCanceled
				job.StatusReason = existing.StatusReason
			}
		}
		return put(jobs, job.ID, job)
	})
}

func (s *BoltStore) ListRestoreSteps(jobID string) ([]*types.RestoreStep, error) {
	var steps []*types.RestoreStep
	prefix := []byte(jobID + "/")
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketRestoreSteps).Cursor()
		for k, v := c.Seek(prefix); k != nil && strings.HasPrefix(string(k), string(prefix)); k, v = c.Next() {
			var step types.RestoreStep
			if err := json.Unmarshal(v, &step); err != nil {
				return err
			}
			steps = append(steps, &step)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(steps, func(i, j int) bool { return steps[i].Ordinal < steps[j].Ordinal })
	return steps, nil
}

func (s *BoltStore) UpdateRestoreStep(step *types.RestoreStep) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		if err := put(tx.Bucket(bucketRestoreSteps), stepKey(step.JobID, step.Ordinal), step); err != nil {
			return err
		}

		// Step progress doubles as the job's liveness signal.
		jobs := tx.Bucket(bucketRestoreJobs)
		data := jobs.Get([]byte(step.JobID))
		if data == nil {
			return fmt.Errorf("restore job %s: %w", step.JobID, ErrNotFound)
		}
		var job types.RestoreJob
		if err := json.Unmarshal(data, &job); err != nil {
			return err
		}
		job.LastHeartbeat = time.Now().UTC()
		job.UpdatedAt = job.LastHeartbeat
		return put(jobs, job.ID, &job)
	})
}

func (s *BoltStore) RequestCancel(id, reason string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		jobs := tx.Bucket(bucketRestoreJobs)
		data := jobs.Get([]byte(id))
		if data == nil {
			return fmt.Errorf("restore job %s: %w", id, ErrNotFound)
		}
		var job types.RestoreJob
		if err := json.Unmarshal(data, &job); err != nil {
			return err
		}
		if job.Status.Terminal() {
			return nil
		}
		job.Status = types.JobCanceled
		job.StatusReason = reason
		job.UpdatedAt = time.Now().UTC()
		return put(jobs, job.ID, &job)
	})
}

func (s *BoltStore) IsCanceled(id string) (bool, error) {
	job, err := s.GetRestoreJob(id)
	if err != nil {
		return false, err
	}
	return job.Status == types.JobCanceled, nil
}

func (s *BoltStore) RecoverStaleJobs() ([]*types.RestoreJob, error) {
	var recovered []*types.RestoreJob
	err := s.db.Update(func(tx *bolt.Tx) error {
		jobs := tx.Bucket(bucketRestoreJobs)
		var stale []*types.RestoreJob
		err := jobs.ForEach(func(k, v []byte) error {
			var job types.RestoreJob
			if err := json.Unmarshal(v, &job); err != nil {
				return err
			}
			if job.Status.InFlight() {
				stale = append(stale, &job)
			}
			return nil
		})
		if err != nil {
			return err
		}
		for _, job := range stale {
			job.Status = types.JobInterrupted
			job.StatusReason = "process restarted"
			job.UpdatedAt = time.Now().UTC()
			if err := put(jobs, job.ID, job); err != nil {
				return err
			}
			recovered = append(recovered, job)
		}

		// A trigger stuck in running died with the previous process.
		triggers := tx.Bucket(bucketTriggers)
		var staleTriggers []*types.OnDemandTrigger
		err = triggers.ForEach(func(k, v []byte) error {
			var trig types.OnDemandTrigger
			if err := json.Unmarshal(v, &trig); err != nil {
				return err
			}
			if trig.Status == types.TriggerRunning {
				staleTriggers = append(staleTriggers, &trig)
			}
			return nil
		})
		if err != nil {
			return err
		}
		for _, trig := range staleTriggers {
			trig.Status = types.TriggerFailed
			trig.Error = "process restarted"
			if err := put(triggers, trig.ID, trig); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return recovered, nil
}

func stepKey(jobID string, ordinal int) string {
	return fmt.Sprintf("%s/%03d", jobID, ordinal)
}

// Policy set and assignment operations

func (s *BoltStore) UpsertPolicySet(ps *types.PolicySet) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return put(tx.Bucket(bucketPolicySets), ps.ID, ps)
	})
}

func (s *BoltStore) GetPolicySet(id string) (*types.PolicySet, error) {
	var ps types.PolicySet
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketPolicySets).Get([]byte(id))
		if data == nil {
			return fmt.Errorf("policy set %s: %w", id, ErrNotFound)
		}
		return json.Unmarshal(data, &ps)
	})
	if err != nil {
		return nil, err
	}
	return &ps, nil
}

func (s *BoltStore) ListPolicySets() ([]*types.PolicySet, error) {
	var sets []*types.PolicySet
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketPolicySets).ForEach(func(k, v []byte) error {
			var ps types.PolicySet
			if err := json.Unmarshal(v, &ps); err != nil {
				return err
			}
			sets = append(sets, &ps)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return sets, nil
}

func (s *BoltStore) UpsertAssignment(a *types.Assignment) error {
	return s.UpsertAssignments([]*types.Assignment{a})
}

func (s *BoltStore) UpsertAssignments(batch []*types.Assignment) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketAssignments)
		for _, a := range batch {
			if data := b.Get([]byte(a.VolumeID)); data != nil {
				var existing types.Assignment
				if err := json.Unmarshal(data, &existing); err != nil {
					return err
				}
				// An operator's explicit choice survives rule re-evaluation.
				if existing.Source == types.AssignmentSourceOperator && a.Source == types.AssignmentSourceRule {
					continue
				}
			}
			a.UpdatedAt = time.Now().UTC()
			if err := put(b, a.VolumeID, a); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *BoltStore) GetAssignment(volumeID string) (*types.Assignment, error) {
	var a types.Assignment
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketAssignments).Get([]byte(volumeID))
		if data == nil {
			return fmt.Errorf("assignment for volume %s: %w", volumeID, ErrNotFound)
		}
		return json.Unmarshal(data, &a)
	})
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (s *BoltStore) ListAssignments() ([]*types.Assignment, error) {
	var out []*types.Assignment
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketAssignments).ForEach(func(k, v []byte) error {
			var a types.Assignment
			if err := json.Unmarshal(v, &a); err != nil {
				return err
			}
			out = append(out, &a)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *BoltStore) DeleteAssignment(volumeID string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketAssignments).Delete([]byte(volumeID))
	})
}

// Exclusion operations

func (s *BoltStore) CreateExclusion(e *types.Exclusion) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return put(tx.Bucket(bucketExclusions), e.ID, e)
	})
}

func (s *BoltStore) ListExclusions() ([]*types.Exclusion, error) {
	var out []*types.Exclusion
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketExclusions).ForEach(func(k, v []byte) error {
			var e types.Exclusion
			if err := json.Unmarshal(v, &e); err != nil {
				return err
			}
			out = append(out, &e)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *BoltStore) DeleteExclusion(id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketExclusions).Delete([]byte(id))
	})
}

// Inventory mirror operations

func (s *BoltStore) PutInventory(kind string, payload []byte) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketInventory).Put([]byte(kind), payload)
	})
}

func (s *BoltStore) GetInventory(kind string) ([]byte, error) {
	var payload []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketInventory).Get([]byte(kind))
		if data == nil {
			return fmt.Errorf("inventory %s: %w", kind, ErrNotFound)
		}
		payload = append([]byte(nil), data...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return payload, nil
}

func (s *BoltStore) SetInventoryWatermark(t time.Time) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketMeta).Put([]byte(keyInventoryWatermark), []byte(t.UTC().Format(time.RFC3339)))
	})
}

func (s *BoltStore) InventoryWatermark() (time.Time, error) {
	var watermark time.Time
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketMeta).Get([]byte(keyInventoryWatermark))
		if data == nil {
			return nil // zero time means never synced
		}
		t, err := time.Parse(time.RFC3339, string(data))
		if err != nil {
			return fmt.Errorf("failed to parse inventory watermark: %w", err)
		}
		watermark = t
		return nil
	})
	return watermark, err
}
