// Package graphql implements the platform.Platform contract against an
// OpenCTI-style GraphQL API, Bearer-token authenticated.
package graphql

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	gqlclient "github.com/hasura/go-graphql-client"

	"github.com/FiligranHQ/xtm-composer-sub000/internal/log"
	"github.com/FiligranHQ/xtm-composer-sub000/internal/orchestrator"
	"github.com/FiligranHQ/xtm-composer-sub000/internal/platform"
)

// Options configures one GraphQL platform driver instance.
type Options struct {
	URL            string
	Token          string
	RequestTimeout time.Duration
	ConnectTimeout time.Duration
	LogsSchedule   time.Duration
	Daemon         platform.DaemonConfiguration
	ManagerName    string
	Contracts      []string
}

// Driver drives a GraphQL endpoint.
type Driver struct {
	client       *gqlclient.Client
	daemon       platform.DaemonConfiguration
	managerName  string
	contracts    []string
	logsSchedule time.Duration
}

type bearerTransport struct {
	token string
	base  http.RoundTripper
}

func (t *bearerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	clone := req.Clone(req.Context())
	clone.Header.Set("Authorization", "Bearer "+t.token)
	return t.base.RoundTrip(clone)
}

// New builds a GraphQL driver against the configured endpoint.
func New(options Options) *Driver {
	dialer := &net.Dialer{Timeout: options.ConnectTimeout}
	base := &http.Transport{DialContext: dialer.DialContext}
	httpClient := &http.Client{
		Timeout:   options.RequestTimeout,
		Transport: &bearerTransport{token: options.Token, base: base},
	}
	client := gqlclient.NewClient(options.URL, httpClient)
	return &Driver{
		client:       client,
		daemon:       options.Daemon,
		managerName:  options.ManagerName,
		contracts:    options.Contracts,
		logsSchedule: options.LogsSchedule,
	}
}

// Daemon returns the locally configured orchestrator selection: unlike
// every other capability, the reference implementation keeps this a
// plain accessor over process configuration rather than a network call.
func (d *Driver) Daemon(ctx context.Context) (platform.DaemonConfiguration, error) {
	return d.daemon, nil
}

type getVersionQuery struct {
	About struct {
		Version string
	} `graphql:"about"`
}

func (d *Driver) Version(ctx context.Context) (string, error) {
	var q getVersionQuery
	if err := d.client.Query(ctx, &q, nil); err != nil {
		return "", fmt.Errorf("fetch platform version: %w", err)
	}
	return q.About.Version, nil
}

type pingAliveMutation struct {
	PingConnectorsManager string `graphql:"pingConnectorsManager"`
}

func (d *Driver) PingAlive(ctx context.Context) error {
	var m pingAliveMutation
	if err := d.client.Mutate(ctx, &m, nil); err != nil {
		return fmt.Errorf("ping alive: %w", err)
	}
	return nil
}

type registerConnectorsManagerInput struct {
	ID        gqlclient.ID `json:"id"`
	Name      string       `json:"name"`
	Contracts []string     `json:"contracts"`
}

type registerConnectorsManagerMutation struct {
	RegisterConnectorsManager struct {
		ID gqlclient.ID
	} `graphql:"registerConnectorsManager(input: $input)"`
}

func (d *Driver) Register(ctx context.Context, managerID, managerName string) error {
	var m registerConnectorsManagerMutation
	vars := map[string]interface{}{
		"input": registerConnectorsManagerInput{
			ID:        gqlclient.ID(managerID),
			Name:      managerName,
			Contracts: d.contracts,
		},
	}
	if err := d.client.Mutate(ctx, &m, vars); err != nil {
		return fmt.Errorf("register connectors manager: %w", err)
	}
	return nil
}

type managedConnector struct {
	ID                          gqlclient.ID
	Name                        string
	ManagerContractHash         *string
	ManagerContractImage        *string
	ManagerCurrentStatus        *string
	ManagerRequestedStatus      *string
	ManagerContractConfiguration []struct {
		Key       string
		Value     string
		Sensitive bool
	}
}

func (mc managedConnector) toDesired(logsSchedule time.Duration) platform.ConnectorDesired {
	desired := platform.ConnectorDesired{
		ID:           string(mc.ID),
		Name:         mc.Name,
		LogsSchedule: logsSchedule,
	}
	if mc.ManagerContractHash != nil {
		desired.ContractHash = *mc.ManagerContractHash
	}
	if mc.ManagerContractImage != nil {
		desired.Image = *mc.ManagerContractImage
	}
	if mc.ManagerCurrentStatus != nil {
		desired.CurrentStatus = statusFromWire(*mc.ManagerCurrentStatus)
	}
	if mc.ManagerRequestedStatus != nil {
		desired.RequestedStatus = requestedStatusFromWire(*mc.ManagerRequestedStatus)
	}
	for _, c := range mc.ManagerContractConfiguration {
		desired.Configuration = append(desired.Configuration, platform.ConfigItem{
			Key: c.Key, Value: c.Value, Sensitive: c.Sensitive,
		})
	}
	return desired
}

func statusFromWire(s string) orchestrator.Status {
	switch s {
	case "started", "healthy", "running":
		return orchestrator.StatusStarted
	default:
		return orchestrator.StatusStopped
	}
}

func requestedStatusFromWire(s string) orchestrator.RequestedStatus {
	if s == "starting" {
		return orchestrator.RequestedStarting
	}
	return orchestrator.RequestedStopping
}

type getConnectorsQuery struct {
	ConnectorsForManager []managedConnector `graphql:"connectorsForManager(managerId: $managerId)"`
}

func (d *Driver) Connectors(ctx context.Context, managerID string) ([]platform.ConnectorDesired, error) {
	var q getConnectorsQuery
	vars := map[string]interface{}{"managerId": gqlclient.ID(managerID)}
	if err := d.client.Query(ctx, &q, vars); err != nil {
		return nil, fmt.Errorf("fetch connectors for manager: %w", err)
	}
	out := make([]platform.ConnectorDesired, 0, len(q.ConnectorsForManager))
	for _, mc := range q.ConnectorsForManager {
		out = append(out, mc.toDesired(d.logsSchedule))
	}
	return out, nil
}

type currentConnectorStatusInput struct {
	ID     gqlclient.ID `json:"id"`
	Status string       `json:"status"`
}

type updateConnectorCurrentStatusMutation struct {
	UpdateConnectorCurrentStatus struct {
		ID gqlclient.ID
	} `graphql:"updateConnectorCurrentStatus(input: $input)"`
}

func (d *Driver) PatchStatus(ctx context.Context, connectorID string, status orchestrator.Status) error {
	var m updateConnectorCurrentStatusMutation
	vars := map[string]interface{}{
		"input": currentConnectorStatusInput{ID: gqlclient.ID(connectorID), Status: string(status)},
	}
	if err := d.client.Mutate(ctx, &m, vars); err != nil {
		return fmt.Errorf("patch connector status: %w", err)
	}
	return nil
}

type logsConnectorStatusInput struct {
	ID   gqlclient.ID `json:"id"`
	Logs []string     `json:"logs"`
}

type updateConnectorLogsMutation struct {
	UpdateConnectorLogs struct {
		ID gqlclient.ID
	} `graphql:"updateConnectorLogs(input: $input)"`
}

func (d *Driver) PatchLogs(ctx context.Context, connectorID string, lines []string) error {
	var m updateConnectorLogsMutation
	vars := map[string]interface{}{
		"input": logsConnectorStatusInput{ID: gqlclient.ID(connectorID), Logs: lines},
	}
	if err := d.client.Mutate(ctx, &m, vars); err != nil {
		return fmt.Errorf("patch connector logs: %w", err)
	}
	return nil
}

type healthConnectorStatusInput struct {
	ID             gqlclient.ID `json:"id"`
	RestartCount   int          `json:"restart_count"`
	StartedAt      string       `json:"started_at"`
	IsInRebootLoop bool         `json:"is_in_reboot_loop"`
}

type updateConnectorHealthMutation struct {
	UpdateConnectorHealth struct {
		ID gqlclient.ID
	} `graphql:"updateConnectorHealth(input: $input)"`
}

func (d *Driver) PatchHealth(ctx context.Context, connectorID string, health platform.HealthReport) error {
	var startedAt string
	if health.StartedAt != nil {
		startedAt = health.StartedAt.Format(time.RFC3339)
	}
	var m updateConnectorHealthMutation
	vars := map[string]interface{}{
		"input": healthConnectorStatusInput{
			ID:             gqlclient.ID(connectorID),
			RestartCount:   health.RestartCount,
			StartedAt:      startedAt,
			IsInRebootLoop: health.IsInRebootLoop,
		},
	}
	if err := d.client.Mutate(ctx, &m, vars); err != nil {
		return fmt.Errorf("patch connector health: %w", err)
	}
	return nil
}

// NotifyContainerRemoved is a deliberate no-op on the GraphQL driver: the
// reference implementation's equivalent callback does nothing either. It
// returns platform.ErrNotSupported, which the engine treats as a no-op.
func (d *Driver) NotifyContainerRemoved(ctx context.Context, connectorID string) error {
	log.Logger.Debug().Str("connector_id", connectorID).Msg("container removed (no platform notification for this driver)")
	return platform.ErrNotSupported
}
