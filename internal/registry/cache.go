package registry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/FiligranHQ/xtm-composer-sub000/internal/log"
)

const defaultCacheTTL = 30 * time.Minute

type cachedAuth struct {
	cachedAt time.Time
	ttl      time.Duration
}

func (c cachedAuth) expired(now time.Time) bool {
	return now.Sub(c.cachedAt) > c.ttl
}

// AuthCache is the process-wide keyed cache of "this registry server is
// authenticated, valid until T". Reads take a shared lock; writes
// (insertion, invalidation) take an exclusive lock that is released
// before the next call — no lock is ever held across network I/O.
// Concurrent misses for the same server are coalesced via pending, so
// only one goroutine actually authenticates while the rest wait on its
// result.
type AuthCache struct {
	mu         sync.RWMutex
	entries    map[string]cachedAuth
	pending    map[string]*refreshResult
	defaultTTL time.Duration
}

// refreshResult is the outcome of an in-flight authentication, shared
// by every goroutine that arrived while it was running.
type refreshResult struct {
	done  chan struct{}
	creds Credentials
	err   error
}

// NewAuthCache constructs an AuthCache with the given default TTL; a
// zero value means defaultCacheTTL (30 minutes).
func NewAuthCache(defaultTTL time.Duration) *AuthCache {
	if defaultTTL <= 0 {
		defaultTTL = defaultCacheTTL
	}
	return &AuthCache{
		entries:    make(map[string]cachedAuth),
		pending:    make(map[string]*refreshResult),
		defaultTTL: defaultTTL,
	}
}

// IsValid reports whether server has an unexpired cached authentication.
func (c *AuthCache) IsValid(server string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	entry, ok := c.entries[server]
	if !ok {
		return false
	}
	return !entry.expired(time.Now())
}

func (c *AuthCache) store(server string, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[server] = cachedAuth{cachedAt: time.Now(), ttl: ttl}
}

// Invalidate removes any cached authentication for server.
func (c *AuthCache) Invalidate(server string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, server)
}

// AuthenticateFunc performs one authentication attempt against a
// registry server, returning resolved Credentials on success.
type AuthenticateFunc func(ctx context.Context, server string) (Credentials, error)

// GetCredentials resolves credentials for server: a cache hit returns
// freshly rebuilt credentials without calling authenticate; a miss or
// expiry retries authenticate up to retryAttempts times, separated by
// retryDelay, caching on success and invalidating on final failure.
//
// Double-checked locking: the fast path (IsValid) takes only a shared
// lock. On a miss, GetCredentials re-checks under the exclusive lock —
// a concurrent caller may have already refreshed the entry while this
// one was waiting. If the entry is still missing/expired and no other
// goroutine is already refreshing it, this goroutine becomes the
// refresher: it registers a pending result, releases the lock before
// calling authenticate (no lock is held across network I/O), then
// re-acquires the lock only to record the outcome. Every other
// goroutine that finds a pending refresh in progress waits on its
// result instead of starting a redundant one.
func (c *AuthCache) GetCredentials(ctx context.Context, r *Resolver, server string, authenticate AuthenticateFunc) (Credentials, error) {
	if c.IsValid(server) {
		log.Logger.Debug().Str("registry", server).Msg("using cached registry authentication")
		return r.BuildCredentials(), nil
	}

	c.mu.Lock()
	if entry, ok := c.entries[server]; ok && !entry.expired(time.Now()) {
		c.mu.Unlock()
		log.Logger.Debug().Str("registry", server).Msg("using cached registry authentication")
		return r.BuildCredentials(), nil
	}
	if pending, ok := c.pending[server]; ok {
		c.mu.Unlock()
		return waitForRefresh(ctx, pending)
	}
	result := &refreshResult{done: make(chan struct{})}
	c.pending[server] = result
	c.mu.Unlock()

	result.creds, result.err = c.refresh(ctx, r, server, authenticate)

	c.mu.Lock()
	delete(c.pending, server)
	c.mu.Unlock()
	close(result.done)

	return result.creds, result.err
}

// waitForRefresh blocks until the in-flight refresh this goroutine
// coalesced onto completes, or ctx is cancelled first.
func waitForRefresh(ctx context.Context, result *refreshResult) (Credentials, error) {
	select {
	case <-result.done:
		return result.creds, result.err
	case <-ctx.Done():
		return Credentials{}, ctx.Err()
	}
}

// refresh performs the actual authenticate/retry sequence with no lock
// held, caching on success and invalidating on final failure.
func (c *AuthCache) refresh(ctx context.Context, r *Resolver, server string, authenticate AuthenticateFunc) (Credentials, error) {
	cfg := r.Config()
	retryAttempts := cfg.RetryAttempts
	if retryAttempts <= 0 {
		retryAttempts = 1
	}
	retryDelay := cfg.RetryDelay
	ttl := cfg.TokenTTL
	if ttl <= 0 {
		ttl = c.defaultTTL
	}

	var lastErr error
	for attempt := 1; attempt <= retryAttempts; attempt++ {
		creds, err := authenticate(ctx, server)
		if err == nil {
			c.store(server, ttl)
			log.Logger.Info().Str("registry", server).Dur("ttl", ttl).Msg("registry authentication succeeded, cached")
			return creds, nil
		}
		lastErr = err
		if attempt < retryAttempts {
			log.Logger.Warn().Str("registry", server).Int("attempt", attempt).Int("max_attempts", retryAttempts).Err(err).Msg("registry authentication failed, retrying")
			select {
			case <-time.After(retryDelay):
			case <-ctx.Done():
				return Credentials{}, ctx.Err()
			}
		}
	}

	c.Invalidate(server)
	log.Logger.Error().Str("registry", server).Int("attempts", retryAttempts).Err(lastErr).Msg("registry authentication failed after all retry attempts")
	return Credentials{}, fmt.Errorf("registry authentication failed for %s: %w", server, lastErr)
}
