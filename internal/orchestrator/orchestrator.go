// Package orchestrator defines the polymorphic capability set every
// container runtime driver (direct daemon, Swarm, Kubernetes, Portainer)
// implements, plus the labelling and naming conventions shared by all
// four drivers.
package orchestrator

import (
	"context"
	"regexp"
	"strings"
	"time"
)

// Label keys written to every managed container.
const (
	LabelManager   = "opencti-manager"
	LabelConnector = "opencti-connector-id"
	LabelHash      = "opencti-connector-hash"

	// AnnotationHash is the Kubernetes-only annotation carrying the same
	// value as LabelHash, since Deployment pod template labels are not
	// always a convenient place to detect drift without a rollout.
	AnnotationHash = "OPENCTI_CONFIG_HASH"
)

// Status is the observed connector status derived from a container's
// native state via a driver's StateConverter.
type Status string

const (
	StatusStarted Status = "started"
	StatusStopped Status = "stopped"
)

// RequestedStatus is the platform's desired status for a connector.
type RequestedStatus string

const (
	RequestedStarting RequestedStatus = "starting"
	RequestedStopping RequestedStatus = "stopping"
)

// Connector is the runtime-ready (secrets already decrypted) desired
// state of one connector, as consumed by an orchestrator driver.
type Connector struct {
	ID              string
	Name            string
	Image           string
	ContractHash    string
	CurrentStatus   Status
	RequestedStatus RequestedStatus
	Configuration   []ConfigItem
	PlatformBaseURL string
	LogsSchedule    time.Duration
}

// ConfigItem is one entry of a connector's configuration, already
// decrypted if it was marked sensitive.
type ConfigItem struct {
	Key   string
	Value string
}

// Container is the observed state of one managed workload, in whatever
// shape the orchestrator driver natively returns it (a container, a
// service, or a deployment+pod pair).
type Container struct {
	ID           string
	Name         string
	State        string
	Labels       map[string]string
	Envs         map[string]string
	RestartCount int
	StartedAt    *time.Time
}

// IsManaged reports whether labels identify this container as owned by
// the composer.
func (c *Container) IsManaged() bool {
	_, ok := c.Labels[LabelConnector]
	return ok
}

// ExtractConnectorID reads the connector id label back from a
// container. Unlike the reference implementation this never panics:
// absence is reported via ok, not a crash.
func (c *Container) ExtractConnectorID() (id string, ok bool) {
	id, ok = c.Labels[LabelConnector]
	return id, ok
}

// ExtractConnectorHash reads the stored contract hash label back from a
// container.
func (c *Container) ExtractConnectorHash() (hash string, ok bool) {
	hash, ok = c.Labels[LabelHash]
	return hash, ok
}

var nonAlphanumeric = regexp.MustCompile(`[^a-z0-9]+`)

// CanonicalName derives the stable, deterministic container/service name
// from a connector's human name: lowercase, every non-alphanumeric run
// replaced with a single "-".
func CanonicalName(connectorName string) string {
	lower := strings.ToLower(connectorName)
	return nonAlphanumeric.ReplaceAllString(lower, "-")
}

// ManagedLabels builds the label set written on deploy.
func ManagedLabels(managerID string, c Connector) map[string]string {
	return map[string]string{
		LabelManager:   managerID,
		LabelConnector: c.ID,
		LabelHash:      c.ContractHash,
	}
}

// Orchestrator is the capability set every driver implements.
type Orchestrator interface {
	// Get looks up the container bound to connector by its canonical
	// name. Returns ok=false when absent (the common first-deploy case).
	Get(ctx context.Context, connector Connector) (container *Container, ok bool, err error)

	// List returns every container scoped to this orchestrator's
	// manager id.
	List(ctx context.Context) ([]Container, error)

	// Start and Stop are fire-and-forget: the driver logs failures but
	// does not surface them to the caller.
	Start(ctx context.Context, container Container, connector Connector)
	Stop(ctx context.Context, container Container, connector Connector)

	// Remove deletes container. Idempotent in intent.
	Remove(ctx context.Context, container Container) error

	// Deploy pulls the image, creates the workload, attaches managed
	// labels, and starts it if requested. Returns ok=false on any
	// failure; deploy failures never propagate to the caller.
	Deploy(ctx context.Context, connector Connector) (container *Container, ok bool)

	// Refresh replaces an existing workload whose stored contract hash
	// has drifted from the desired one.
	Refresh(ctx context.Context, connector Connector) (container *Container, ok bool)

	// Logs returns up to the last 100 lines of combined stdout/stderr.
	// Returns ok=false on error.
	Logs(ctx context.Context, container Container, connector Connector) (lines []string, ok bool)

	// StateConverter maps the driver's native state string to a
	// Status.
	StateConverter(container Container) Status
}
