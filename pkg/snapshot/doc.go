/*
Package snapshot implements the scheduled snapshot worker.

One long-lived loop drives four cadences:

	every 10 s                poll + claim on-demand triggers
	every policy interval     stage A  policy assignment
	every snapshot interval   stages B+C+D
	on startup                recover stale jobs, fail interrupted runs

Pipeline stages:

	A  Policy Assignment   rules × volume inventory → assignments
	B  Inventory Barrier   refresh mirror; refuse to run when stale > 1 h
	C  Snapshot Creation   per (volume, policy): size gate → calendar gate
	                       → daily dedup → create; 413 is a skip, not a failure
	D  Retention Pruning   keep newest retention-many auto snapshots,
	                       ALWAYS after creation so the budget includes the
	                       snapshot just taken

Project groups in stages C and D run sequentially (session-cache locality);
volumes inside a group fan out over a bounded pool (default 8). Per-volume
errors become failed/skipped records and the run continues; only rule-load
and store failures abort the run.
*/
package snapshot
