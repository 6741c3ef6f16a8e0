// Package platform defines the polymorphic capability set both
// platform API drivers (GraphQL, REST) implement.
package platform

import (
	"context"
	"time"

	"github.com/FiligranHQ/xtm-composer-sub000/internal/orchestrator"
)

// DaemonSelector is the orchestrator kind the composer targets, as set
// by the local daemon.selector configuration.
type DaemonSelector string

const (
	SelectorDocker     DaemonSelector = "docker"
	SelectorSwarm      DaemonSelector = "swarm"
	SelectorKubernetes DaemonSelector = "kubernetes"
	SelectorPortainer  DaemonSelector = "portainer"
)

// DaemonConfiguration is the locally configured orchestrator selection,
// returned by Daemon(). It carries the selector only.
type DaemonConfiguration struct {
	Selector DaemonSelector
}

// ConnectorDesired is the wire-level desired-state record for one
// connector, before sensitive configuration items are decrypted.
type ConnectorDesired struct {
	ID              string
	Name            string
	Image           string
	ContractHash    string
	CurrentStatus   orchestrator.Status
	RequestedStatus orchestrator.RequestedStatus
	Configuration   []ConfigItem
	LogsSchedule    time.Duration
}

// ConfigItem is one wire-level configuration entry; Value is
// base64-encoded envelope ciphertext when Sensitive is true.
type ConfigItem struct {
	Key       string
	Value     string
	Sensitive bool
}

// HealthReport carries reboot-loop-detector output back to the
// platform.
type HealthReport struct {
	RestartCount   int
	StartedAt      *time.Time
	IsInRebootLoop bool
}

// Platform is the capability set a platform API driver implements.
type Platform interface {
	// Daemon returns the orchestrator selection from the driver's local
	// configuration; it makes no network call.
	Daemon(ctx context.Context) (DaemonConfiguration, error)

	// Version returns the platform's reported version string.
	Version(ctx context.Context) (string, error)

	// Register announces this manager to the platform. The REST driver
	// also sends the manager's public key; the GraphQL driver sends the
	// id, name and contracts only.
	Register(ctx context.Context, managerID, managerName string) error

	// PingAlive is the alive-ticker's periodic heartbeat.
	PingAlive(ctx context.Context) error

	// Connectors returns the desired set of connectors for this
	// manager.
	Connectors(ctx context.Context, managerID string) ([]ConnectorDesired, error)

	// PatchStatus reports a connector's newly observed status.
	PatchStatus(ctx context.Context, connectorID string, status orchestrator.Status) error

	// PatchLogs reports up to the last batch of log lines for a
	// connector.
	PatchLogs(ctx context.Context, connectorID string, lines []string) error

	// PatchHealth reports reboot-loop detector output for a connector.
	PatchHealth(ctx context.Context, connectorID string, health HealthReport) error

	// NotifyContainerRemoved is an optional capability: some drivers
	// support informing the platform that a container's backing
	// workload was removed. Implementations that don't support it
	// return ErrNotSupported.
	NotifyContainerRemoved(ctx context.Context, connectorID string) error
}

// ErrNotSupported is returned by NotifyContainerRemoved when a driver
// has no such capability; the engine treats this as a no-op, not a
// failure.
var ErrNotSupported = notSupportedError{}

type notSupportedError struct{}

func (notSupportedError) Error() string { return "operation not supported by this platform driver" }
