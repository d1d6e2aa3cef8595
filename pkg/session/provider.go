package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cloudmason/snapguard/pkg/cloud"
	"github.com/cloudmason/snapguard/pkg/log"
	"github.com/cloudmason/snapguard/pkg/metrics"
	"github.com/hashicorp/golang-lru/v2/expirable"
)

// ErrNoProjectSession is the fallback sentinel: a project-scoped session could
// not be produced and the caller should use the admin session instead. The
// degradation must be logged and recorded by the caller.
var ErrNoProjectSession = errors.New("no project session available")

const (
	// DefaultCacheSize bounds the scoped-session LRU.
	DefaultCacheSize = 64

	// DefaultSessionTTL keeps cached sessions under the typical 60-minute
	// token lifetime.
	DefaultSessionTTL = 50 * time.Minute

	// adminRole is the role temporarily granted to the service user on
	// target projects.
	adminRole = "admin"
)

// Config configures a Provider.
type Config struct {
	Credential cloud.Credential
	// Disabled forces every ProjectSession call to return the fallback
	// sentinel. Used when the shared service account is not provisioned.
	Disabled   bool
	CacheSize  int
	SessionTTL time.Duration
}

type grantState struct {
	once sync.Once
	err  error
}

// Provider produces sessions scoped to arbitrary projects by granting the
// shared service account the admin role on demand. Safe for concurrent use.
type Provider struct {
	client cloud.Identity
	cfg    Config

	mu     sync.Mutex
	admin  *cloud.Session
	user   *cloud.User             // memoised for the process lifetime
	grants map[string]*grantState  // per-project grant-at-most-once sentinel

	cache *expirable.LRU[string, *cloud.Session]
}

// NewProvider builds a Provider over the identity capability of the cloud
// client. Zero Config fields fall back to defaults.
func NewProvider(client cloud.Identity, cfg Config) *Provider {
	if cfg.CacheSize <= 0 {
		cfg.CacheSize = DefaultCacheSize
	}
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = DefaultSessionTTL
	}
	return &Provider{
		client: client,
		cfg:    cfg,
		grants: make(map[string]*grantState),
		cache:  expirable.NewLRU[string, *cloud.Session](cfg.CacheSize, nil, cfg.SessionTTL),
	}
}

// AdminSession returns a session scoped to the service account's home
// project. The session is cached and re-authenticated when its token nears
// expiry.
func (p *Provider) AdminSession(ctx context.Context) (*cloud.Session, error) {
	p.mu.Lock()
	cached := p.admin
	p.mu.Unlock()
	if cached != nil && time.Until(cached.ExpiresAt) > time.Minute {
		return cached, nil
	}

	session, err := p.client.Authenticate(ctx, p.cfg.Credential, "")
	if err != nil {
		return nil, fmt.Errorf("failed to authenticate admin session: %w", err)
	}

	p.mu.Lock()
	p.admin = session
	p.mu.Unlock()
	return session, nil
}

// ProjectSession returns a session scoped to projectID, or ErrNoProjectSession
// when one cannot be produced. Callers fall back to the admin session on the
// sentinel; any other error is a hard failure of the admin path itself.
func (p *Provider) ProjectSession(ctx context.Context, projectID string) (*cloud.Session, error) {
	if p.cfg.Disabled {
		metrics.SessionFallbacks.Inc()
		return nil, ErrNoProjectSession
	}

	if session, ok := p.cache.Get(projectID); ok {
		if time.Until(session.ExpiresAt) > time.Minute {
			return session, nil
		}
		p.cache.Remove(projectID)
	}

	logger := log.WithProjectID(projectID)

	admin, err := p.AdminSession(ctx)
	if err != nil {
		return nil, err
	}

	user, err := p.serviceUser(ctx, admin)
	if err != nil {
		logger.Warn().Err(err).Msg("Service user lookup failed, falling back to admin session")
		metrics.SessionFallbacks.Inc()
		return nil, ErrNoProjectSession
	}

	if err := p.ensureGrant(ctx, admin, user, projectID); err != nil {
		logger.Warn().Err(err).Msg("Role grant failed, falling back to admin session")
		metrics.SessionFallbacks.Inc()
		return nil, ErrNoProjectSession
	}

	session, err := p.client.Authenticate(ctx, p.cfg.Credential, projectID)
	if err != nil {
		logger.Warn().Err(err).Msg("Scoped authentication failed, falling back to admin session")
		metrics.SessionFallbacks.Inc()
		return nil, ErrNoProjectSession
	}

	p.cache.Add(projectID, session)
	return session, nil
}

// Invalidate drops cached grant and session state for the project. Used when
// the remote returns 401 on a previously working session.
func (p *Provider) Invalidate(projectID string) {
	p.cache.Remove(projectID)
	p.mu.Lock()
	delete(p.grants, projectID)
	p.mu.Unlock()
}

// serviceUser memoises the by-email lookup for the process lifetime.
func (p *Provider) serviceUser(ctx context.Context, admin *cloud.Session) (*cloud.User, error) {
	p.mu.Lock()
	cached := p.user
	p.mu.Unlock()
	if cached != nil {
		return cached, nil
	}

	user, err := p.client.FindUserByEmail(ctx, admin, p.cfg.Credential.Email)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, fmt.Errorf("service user %s not found", p.cfg.Credential.Email)
	}

	p.mu.Lock()
	p.user = user
	p.mu.Unlock()
	return user, nil
}

// ensureGrant performs the role grant at most once per project per process,
// even under concurrent callers. A failed grant is not retried until
// Invalidate resets the sentinel.
func (p *Provider) ensureGrant(ctx context.Context, admin *cloud.Session, user *cloud.User, projectID string) error {
	p.mu.Lock()
	state, ok := p.grants[projectID]
	if !ok {
		state = &grantState{}
		p.grants[projectID] = state
	}
	p.mu.Unlock()

	state.once.Do(func() {
		metrics.SessionGrantAttempts.Inc()
		state.err = p.client.GrantRole(ctx, admin, user.ID, projectID, adminRole)
	})
	return state.err
}
