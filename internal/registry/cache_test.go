package registry

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestAuthCacheCoalescesConcurrentMisses exercises the double-checked
// locking path directly: several goroutines race a cache miss for the
// same server, and only one of them should ever call authenticate.
func TestAuthCacheCoalescesConcurrentMisses(t *testing.T) {
	cache := NewAuthCache(time.Hour)
	r := NewResolver(&Config{Server: "registry.example.com", RetryAttempts: 1})

	var calls int32
	release := make(chan struct{})
	authenticate := func(ctx context.Context, server string) (Credentials, error) {
		atomic.AddInt32(&calls, 1)
		<-release
		return Credentials{Username: "u"}, nil
	}

	const goroutines = 8
	var wg sync.WaitGroup
	wg.Add(goroutines)
	for i := 0; i < goroutines; i++ {
		go func() {
			defer wg.Done()
			_, err := cache.GetCredentials(context.Background(), r, "registry.example.com", authenticate)
			assert.NoError(t, err)
		}()
	}

	// Give every goroutine a chance to reach the authenticate call (or
	// coalesce onto the one that got there first) before releasing it.
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&calls), "only one goroutine should have authenticated")
	assert.True(t, cache.IsValid("registry.example.com"))
}

// TestAuthCacheRechecksUnderWriteLockAfterMiss ensures a goroutine that
// loses the race to the fast IsValid check still finds a fresh entry
// once it acquires the exclusive lock, instead of re-authenticating.
func TestAuthCacheRechecksUnderWriteLockAfterMiss(t *testing.T) {
	cache := NewAuthCache(time.Hour)
	r := NewResolver(&Config{Server: "registry.example.com", RetryAttempts: 1})

	_, err := cache.GetCredentials(context.Background(), r, "registry.example.com", func(ctx context.Context, server string) (Credentials, error) {
		return Credentials{Username: "u"}, nil
	})
	require.NoError(t, err)

	calls := 0
	_, err = cache.GetCredentials(context.Background(), r, "registry.example.com", func(ctx context.Context, server string) (Credentials, error) {
		calls++
		return Credentials{}, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 0, calls, "an already-valid entry must not trigger a second authenticate")
}
