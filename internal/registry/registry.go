// Package registry resolves connector image references against an
// optional registry configuration and manages the process-wide
// authentication cache used across all orchestrator drivers.
package registry

import (
	"time"

	"github.com/FiligranHQ/xtm-composer-sub000/internal/secret"
)

// Config mirrors the opencti.daemon.registry configuration block
// consumed by the registry driver.
type Config struct {
	Server             string
	Username           secret.String
	Password           secret.String
	Email              string
	AutoRefreshSecret  bool
	RefreshThreshold   float64
	RetryAttempts      int
	RetryDelay         time.Duration
	TokenTTL           time.Duration
}

// HasCredentials reports whether both username and password are
// configured.
func (c *Config) HasCredentials() bool {
	return c != nil && !c.Username.IsEmpty() && !c.Password.IsEmpty()
}

// Credentials is the resolved, ready-to-use set of registry credentials,
// handed to an orchestrator driver's pull/auth call.
type Credentials struct {
	Username      string
	Password      string
	Email         string
	ServerAddress string
}

// ResolvedImage is the outcome of resolving a connector's base image
// reference against the registry configuration.
type ResolvedImage struct {
	FullName       string
	RegistryServer string
	NeedsAuth      bool
}
