/*
Package cloud is the typed façade over the OpenStack control plane.

Two implementations exist: OpenStack (gophercloud-backed, used in production)
and Mock (in-memory, used by tests and local development). Both satisfy the
Client interface, which splits into four capability sets:

	┌──────────────────────── cloud.Client ────────────────────────┐
	│                                                              │
	│  Identity      authenticate, role grants, user lookup        │
	│  Compute       servers, flavors, user-data, compute quotas   │
	│  BlockStorage  volumes, snapshots, storage quotas            │
	│  Network       ports, subnets, networks, security groups     │
	│                                                              │
	│  every call takes a *Session; the caller decides scope       │
	└──────────────────────────────────────────────────────────────┘

# Error taxonomy

No raw transport error ever leaves this package. Every failure is classified
into exactly one Kind (auth, forbidden, not-found, conflict, quota, timeout,
size-rejected, transient, internal) and wrapped in *Error. Callers branch
with the Is* helpers; HTTP 413 on snapshot creation surfaces as SizeRejected,
which the snapshot worker records as a skip rather than a failure.

# Retry policy

All remote operations run under one uniform RetryPolicy: 30 s per-attempt
timeout, up to 3 retries with exponential backoff (1 s base, factor 2,
±20% jitter). Only Transient outcomes are retried; 4xx responses other than
408/429 fail immediately.

# Dry-run sessions

A Session with DryRun set short-circuits every mutating call: the remote is
never contacted and a synthetic "dryrun-<uuid>" ID is returned. Reads still
hit the remote, so dry runs exercise the full decision path.
*/
package cloud
