package registry

import (
	"errors"
	"strings"
	"unicode"
)

// ErrEmptyImage and ErrInvalidImage are returned by ResolveImage for
// malformed base image references.
var (
	ErrEmptyImage   = errors.New("image name cannot be empty")
	ErrInvalidImage = errors.New("image name contains invalid whitespace characters")
)

// Resolver normalises connector image references against an optional
// registry configuration.
type Resolver struct {
	config *Config
}

// NewResolver constructs a Resolver. config may be nil, meaning no
// registry is configured and every image resolves against the public
// default (Docker Hub or equivalent).
func NewResolver(config *Config) *Resolver {
	return &Resolver{config: config}
}

// ResolveImage resolves a base image reference: an image
// already qualified with a registry host (a dot before the first "/")
// is returned unchanged; otherwise it is prefixed with the configured
// server.
func (r *Resolver) ResolveImage(base string) (ResolvedImage, error) {
	if base == "" {
		return ResolvedImage{}, ErrEmptyImage
	}
	if strings.IndexFunc(base, unicode.IsSpace) >= 0 {
		return ResolvedImage{}, ErrInvalidImage
	}

	if r.config == nil {
		return ResolvedImage{
			FullName:  base,
			NeedsAuth: false,
		}, nil
	}

	if r.config.Server == "" {
		return ResolvedImage{
			FullName:  base,
			NeedsAuth: r.config.HasCredentials(),
		}, nil
	}

	server := strings.TrimRight(r.config.Server, "/")

	needsPrefix := true
	if idx := strings.Index(base, "/"); idx >= 0 {
		needsPrefix = !strings.Contains(base[:idx], ".")
	}

	fullName := base
	if needsPrefix {
		fullName = server + "/" + base
	}

	return ResolvedImage{
		FullName:       fullName,
		RegistryServer: server,
		NeedsAuth:      r.config.HasCredentials(),
	}, nil
}

// HasCredentials reports whether the configured registry has both a
// username and password set.
func (r *Resolver) HasCredentials() bool {
	return r.config.HasCredentials()
}

// RegistryServer returns the configured registry server, if any.
func (r *Resolver) RegistryServer() (string, bool) {
	if r.config == nil || r.config.Server == "" {
		return "", false
	}
	return r.config.Server, true
}

// BuildCredentials always rebuilds a fresh Credentials value from
// configuration; the cache only records whether the server's
// credentials have been validated, not the credentials themselves.
func (r *Resolver) BuildCredentials() Credentials {
	if r.config == nil {
		return Credentials{}
	}
	return Credentials{
		Username:      r.config.Username.Expose(),
		Password:      r.config.Password.Expose(),
		Email:         r.config.Email,
		ServerAddress: r.config.Server,
	}
}

// Config exposes the underlying registry configuration, primarily so
// callers can read RetryAttempts/RetryDelay/TokenTTL.
func (r *Resolver) Config() *Config {
	return r.config
}
