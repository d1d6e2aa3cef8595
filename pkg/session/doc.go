/*
Package session produces cloud sessions scoped to arbitrary projects via a
shared service account.

The provider's core trick: the service account does not hold roles on tenant
projects up front. When a project-scoped session is first needed, the provider
grants the account the admin role on that project (at most once per process),
then authenticates directly against the project.

	ProjectSession(p)
	      │
	      ├─ LRU hit, token fresh ────────────────▶ cached session
	      │
	      ├─ FindUserByEmail (memoised)
	      ├─ GrantRole        (once per project, sync.Once)
	      ├─ Authenticate     (scoped to p)
	      │
	      └─ any failure ──▶ ErrNoProjectSession (caller falls back to admin)

Scoped sessions live in a bounded expirable LRU (64 entries, 50-minute TTL)
so cached tokens are dropped before the typical 60-minute token lifetime
expires. Invalidate drops both the cached session and the grant sentinel,
forcing a full rebuild on next use; callers invoke it when the remote starts
returning 401 on a previously working session.
*/
package session
