package registry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/FiligranHQ/xtm-composer-sub000/internal/secret"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveImageNoConfig(t *testing.T) {
	r := NewResolver(nil)
	resolved, err := r.ResolveImage("nginx:latest")
	require.NoError(t, err)
	assert.Equal(t, "nginx:latest", resolved.FullName)
	assert.False(t, resolved.NeedsAuth)
}

func TestResolveImageAlreadyQualified(t *testing.T) {
	r := NewResolver(&Config{Server: "registry.example.com"})
	resolved, err := r.ResolveImage("docker.io/library/nginx:latest")
	require.NoError(t, err)
	assert.Equal(t, "docker.io/library/nginx:latest", resolved.FullName)
}

func TestResolveImageNeedsPrefix(t *testing.T) {
	r := NewResolver(&Config{Server: "registry.example.com/"})
	resolved, err := r.ResolveImage("opencti/connector-ipinfo:latest")
	require.NoError(t, err)
	assert.Equal(t, "registry.example.com/opencti/connector-ipinfo:latest", resolved.FullName)
}

func TestResolveImageNeedsAuthWithNoServerOverride(t *testing.T) {
	r := NewResolver(&Config{
		Username: secret.New("user"),
		Password: secret.New("pass"),
	})
	resolved, err := r.ResolveImage("nginx:latest")
	require.NoError(t, err)
	assert.Equal(t, "nginx:latest", resolved.FullName)
	assert.True(t, resolved.NeedsAuth)
}

func TestResolveImageRejectsEmpty(t *testing.T) {
	r := NewResolver(nil)
	_, err := r.ResolveImage("")
	assert.ErrorIs(t, err, ErrEmptyImage)
}

func TestResolveImageRejectsWhitespace(t *testing.T) {
	r := NewResolver(nil)
	_, err := r.ResolveImage("nginx latest")
	assert.ErrorIs(t, err, ErrInvalidImage)
}

func TestResolveImageNeedsAuthWhenCredentialsPresent(t *testing.T) {
	r := NewResolver(&Config{
		Server:   "registry.example.com",
		Username: secret.New("user"),
		Password: secret.New("pass"),
	})
	resolved, err := r.ResolveImage("my-image")
	require.NoError(t, err)
	assert.True(t, resolved.NeedsAuth)
}

func TestAuthCacheValidAfterSuccess(t *testing.T) {
	cache := NewAuthCache(time.Hour)
	r := NewResolver(&Config{Server: "registry.example.com", RetryAttempts: 3})

	_, err := cache.GetCredentials(context.Background(), r, "registry.example.com", func(ctx context.Context, server string) (Credentials, error) {
		return Credentials{Username: "u"}, nil
	})
	require.NoError(t, err)
	assert.True(t, cache.IsValid("registry.example.com"))
}

func TestAuthCacheExpires(t *testing.T) {
	cache := NewAuthCache(10 * time.Millisecond)
	r := NewResolver(&Config{Server: "registry.example.com", RetryAttempts: 1})

	_, err := cache.GetCredentials(context.Background(), r, "registry.example.com", func(ctx context.Context, server string) (Credentials, error) {
		return Credentials{}, nil
	})
	require.NoError(t, err)
	assert.True(t, cache.IsValid("registry.example.com"))

	time.Sleep(20 * time.Millisecond)
	assert.False(t, cache.IsValid("registry.example.com"))
}

func TestAuthCacheInvalidatesOnFinalFailure(t *testing.T) {
	cache := NewAuthCache(time.Hour)
	r := NewResolver(&Config{Server: "registry.example.com", RetryAttempts: 2, RetryDelay: time.Millisecond})

	attempts := 0
	_, err := cache.GetCredentials(context.Background(), r, "registry.example.com", func(ctx context.Context, server string) (Credentials, error) {
		attempts++
		return Credentials{}, errors.New("unauthorized")
	})
	assert.Error(t, err)
	assert.Equal(t, 2, attempts)
	assert.False(t, cache.IsValid("registry.example.com"))
}
