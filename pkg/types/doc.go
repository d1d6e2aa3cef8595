/*
Package types defines the shared domain model for Snapguard.

Two families of types live here. Inventory views (Project, Server, Volume,
Snapshot, Network, Subnet, Port, Flavor, SecurityGroup) mirror the remote
cloud's state as collected by the external inventory service; Snapguard treats
them as read-only. Orchestration records (PolicySet, Assignment, SnapshotRun,
SnapshotRecord, OnDemandTrigger, RestoreJob, RestoreStep) are owned by
Snapguard itself and persisted through pkg/store.

Status enums are plain string types so they serialize cleanly to JSON and into
the bolt store without translation tables.

# Restore job state machine

	            planner           execute          executor
	 (absent) ──────────▶ PLANNED ──────▶ PENDING ──────▶ RUNNING ──┬──▶ SUCCEEDED
	                                                                 ├──▶ FAILED
	                                                                 ├──▶ CANCELED
	                                                                 └──▶ INTERRUPTED

Only PLANNED→PENDING and transitions out of RUNNING are written by the
executor; cancel requests may move PLANNED and PENDING jobs to CANCELED, and
startup recovery moves in-flight jobs to INTERRUPTED.
*/
package types
