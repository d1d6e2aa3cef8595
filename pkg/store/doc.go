/*
Package store provides BoltDB-backed state persistence for snapshot runs,
restore jobs, policy assignments, and the inventory mirror.

Both the API process and the worker process open the same database file, which
is why every invariant is enforced inside a single bolt transaction rather
than in application code: bolt serializes writers across processes, so a
transaction that checks and then writes cannot race another writer.

# Bucket Structure

	┌───────────────────── SNAPGUARD STORE ─────────────────────┐
	│                                                            │
	│  File: <dataDir>/snapguard.db                              │
	│                                                            │
	│  snapshot_runs     (run ID)         run lifecycle + counters│
	│  snapshot_records  (runID/recID)    per-volume audit rows  │
	│  snapshot_days     (vol/policy/day) same-day dedup index   │
	│  triggers          (trigger ID)     on-demand run signals  │
	│  restore_jobs      (job ID)         restore state machine  │
	│  restore_steps     (jobID/ordinal)  per-step progress      │
	│  policy_sets       (set ID)         named retention sets   │
	│  assignments       (volume ID)      volume → policy set    │
	│  exclusions        (exclusion ID)   opt-out rows           │
	│  inventory         (kind)           cloud inventory mirror │
	│  meta              (fixed keys)     inventory watermark    │
	└────────────────────────────────────────────────────────────┘

# Transactional Invariants

Three operations do more than a plain put, and each relies on running inside
one db.Update:

  - AppendSnapshotRecord writes the record, bumps the parent run's counter,
    and (for creations) writes the same-day dedup key.
  - MarkJobPending flips a job PLANNED → PENDING only after verifying no
    other pending or running job targets the same VM.
  - InsertOnDemandTrigger rejects the insert while another trigger is still
    pending or running.

Completed runs and jobs are never deleted; they are the audit trail.
*/
package store
