/*
Package restore implements snapshot-to-VM restore as a planner/executor pair
communicating through the job store.

	         Plan (sync, pure)              Execute (async)
	client ───────────────▶ RestoreJob ───────────────▶ background task
	                        PLANNED                     PENDING → RUNNING
	                        + step rows                 step 1..N in order

The planner validates live cloud state (boot-from-volume only, snapshot
lineage), captures the VM's ports, flavor and cloud-init payload, and writes a
deterministic plan document. It never mutates the cloud.

The executor claims the job (the store's one-in-flight-per-VM guard is the
only serializer), then drives the canonical step list. REPLACE mode requires
the caller to echo the exact confirmation phrase; see ConfirmationPhrase.
Cancellation is observed between steps. A failed step triggers best-effort
rollback of everything this job created; the source snapshot is never touched.

Failed jobs can be retried: the new job reuses the resource IDs its
predecessor's succeeded steps recorded and resumes at the first step that did
not complete.
*/
package restore
