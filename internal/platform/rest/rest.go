// Package rest implements the platform.Platform contract against a
// plain REST+JSON API (OpenAEV/OpenBAS-style), Bearer-token
// authenticated.
package rest

import (
	"bytes"
	"context"
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/FiligranHQ/xtm-composer-sub000/internal/log"
	"github.com/FiligranHQ/xtm-composer-sub000/internal/orchestrator"
	"github.com/FiligranHQ/xtm-composer-sub000/internal/platform"
)

// Options configures one REST platform driver instance.
type Options struct {
	URL            string
	Token          string
	RequestTimeout time.Duration
	ConnectTimeout time.Duration
	LogsSchedule   time.Duration
	Daemon         platform.DaemonConfiguration
	PublicKey      *rsa.PublicKey
	ManagerID      string
}

// Driver drives a plain REST+JSON endpoint under the /xtm-composer
// route prefix.
type Driver struct {
	baseURL      string
	httpClient   *http.Client
	token        string
	daemon       platform.DaemonConfiguration
	logsSchedule time.Duration
	publicKey    *rsa.PublicKey
	managerID    string
}

// New builds a REST driver against the configured endpoint.
func New(options Options) *Driver {
	dialer := &net.Dialer{Timeout: options.ConnectTimeout}
	transport := &http.Transport{DialContext: dialer.DialContext}
	return &Driver{
		baseURL:      options.URL,
		httpClient:   &http.Client{Timeout: options.RequestTimeout, Transport: transport},
		token:        options.Token,
		daemon:       options.Daemon,
		logsSchedule: options.LogsSchedule,
		publicKey:    options.PublicKey,
		managerID:    options.ManagerID,
	}
}

func (d *Driver) do(ctx context.Context, method, path string, body interface{}, out interface{}) error {
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request body: %w", err)
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, d.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+d.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%s %s: non-success status %d", method, path, resp.StatusCode)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response body for %s %s: %w", method, path, err)
	}
	return nil
}

func (d *Driver) Daemon(ctx context.Context) (platform.DaemonConfiguration, error) {
	return d.daemon, nil
}

func (d *Driver) Version(ctx context.Context) (string, error) {
	var out struct {
		Version string `json:"version"`
	}
	if err := d.do(ctx, http.MethodGet, "/settings/version", nil, &out); err != nil {
		return "", fmt.Errorf("fetch platform version: %w", err)
	}
	return out.Version, nil
}

func (d *Driver) PingAlive(ctx context.Context) error {
	var out struct {
		XTMComposerVersion string `json:"xtm_composer_version"`
	}
	path := fmt.Sprintf("/xtm-composer/%s/refresh-connectivity", d.managerID)
	return d.do(ctx, http.MethodPut, path, nil, &out)
}

type registerInput struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	PublicKey string `json:"public_key"`
}

// Register announces this manager along with its RSA public key, PEM
// encoded, so the platform can encrypt sensitive configuration values
// against it. Unlike the GraphQL driver, this wire protocol embeds the
// key directly in the registration payload rather than relying on a
// prior manager/contract announcement.
func (d *Driver) Register(ctx context.Context, managerID, managerName string) error {
	if d.publicKey == nil {
		return fmt.Errorf("register: no public key configured for this manager")
	}
	der, err := x509.MarshalPKIXPublicKey(d.publicKey)
	if err != nil {
		return fmt.Errorf("marshal public key: %w", err)
	}
	pemBytes := pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der})

	input := registerInput{ID: managerID, Name: managerName, PublicKey: string(pemBytes)}
	var out json.RawMessage
	return d.do(ctx, http.MethodPost, "/xtm-composer/register", input, &out)
}

type connectorInstance struct {
	ConnectorInstanceID              string                            `json:"connector_instance_id"`
	ConnectorInstanceName            string                            `json:"connector_instance_name"`
	ConnectorInstanceHash            *string                           `json:"connector_instance_hash"`
	ConnectorImage                   *string                           `json:"connector_image"`
	ConnectorInstanceCurrentStatus   *string                           `json:"connector_instance_current_status"`
	ConnectorInstanceRequestedStatus *string                           `json:"connector_instance_requested_status"`
	ConnectorInstanceConfiguration   []connectorInstanceConfiguration `json:"connector_instance_configuration"`
}

type connectorInstanceConfiguration struct {
	ConfigurationKey         string  `json:"configuration_key"`
	ConfigurationValue       *string `json:"configuration_value"`
	ConfigurationIsEncrypted bool    `json:"configuration_is_encrypted"`
}

func (c connectorInstance) toDesired(logsSchedule time.Duration) platform.ConnectorDesired {
	desired := platform.ConnectorDesired{
		ID:           c.ConnectorInstanceID,
		Name:         c.ConnectorInstanceName,
		LogsSchedule: logsSchedule,
	}
	if c.ConnectorInstanceHash != nil {
		desired.ContractHash = *c.ConnectorInstanceHash
	}
	if c.ConnectorImage != nil {
		desired.Image = *c.ConnectorImage
	}
	if c.ConnectorInstanceCurrentStatus != nil {
		desired.CurrentStatus = statusFromWire(*c.ConnectorInstanceCurrentStatus)
	}
	if c.ConnectorInstanceRequestedStatus != nil {
		desired.RequestedStatus = requestedStatusFromWire(*c.ConnectorInstanceRequestedStatus)
	}
	for _, cfg := range c.ConnectorInstanceConfiguration {
		value := ""
		if cfg.ConfigurationValue != nil {
			value = *cfg.ConfigurationValue
		}
		desired.Configuration = append(desired.Configuration, platform.ConfigItem{
			Key: cfg.ConfigurationKey, Value: value, Sensitive: cfg.ConfigurationIsEncrypted,
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

func (d *Driver) Connectors(ctx context.Context, managerID string) ([]platform.ConnectorDesired, error) {
	var instances []connectorInstance
	path := fmt.Sprintf("/xtm-composer/%s/connector-instances", managerID)
	if err := d.do(ctx, http.MethodGet, path, nil, &instances); err != nil {
		return nil, fmt.Errorf("fetch connector instances: %w", err)
	}
	out := make([]platform.ConnectorDesired, 0, len(instances))
	for _, c := range instances {
		out = append(out, c.toDesired(d.logsSchedule))
	}
	return out, nil
}

type statusInput struct {
	ConnectorInstanceCurrentStatus string `json:"connector_instance_current_status"`
}

func (d *Driver) PatchStatus(ctx context.Context, connectorID string, status orchestrator.Status) error {
	path := fmt.Sprintf("/xtm-composer/%s/connector-instances/%s/status", d.managerID, connectorID)
	var out json.RawMessage
	return d.do(ctx, http.MethodPut, path, statusInput{ConnectorInstanceCurrentStatus: string(status)}, &out)
}

type logsInput struct {
	ConnectorInstanceLogs []string `json:"connector_instance_logs"`
}

func (d *Driver) PatchLogs(ctx context.Context, connectorID string, lines []string) error {
	path := fmt.Sprintf("/xtm-composer/%s/connector-instances/%s/logs", d.managerID, connectorID)
	var out json.RawMessage
	return d.do(ctx, http.MethodPost, path, logsInput{ConnectorInstanceLogs: lines}, &out)
}

type healthInput struct {
	ConnectorInstanceRestartCount   int    `json:"connector_instance_restart_count"`
	ConnectorInstanceStartedAt      string `json:"connector_instance_started_at"`
	ConnectorInstanceIsInRebootLoop bool   `json:"connector_instance_is_in_reboot_loop"`
}

func (d *Driver) PatchHealth(ctx context.Context, connectorID string, health platform.HealthReport) error {
	var startedAt string
	if health.StartedAt != nil {
		startedAt = health.StartedAt.Format(time.RFC3339)
	}
	path := fmt.Sprintf("/xtm-composer/%s/connector-instances/%s/health-check", d.managerID, connectorID)
	var out json.RawMessage
	return d.do(ctx, http.MethodPut, path, healthInput{
		ConnectorInstanceRestartCount:   health.RestartCount,
		ConnectorInstanceStartedAt:      startedAt,
		ConnectorInstanceIsInRebootLoop: health.IsInRebootLoop,
	}, &out)
}

// NotifyContainerRemoved tells the platform a connector's workload was
// removed, so it can clear any stale "container present" state.
func (d *Driver) NotifyContainerRemoved(ctx context.Context, connectorID string) error {
	path := fmt.Sprintf("/xtm-composer/%s/connector-instances/%s", d.managerID, connectorID)
	if err := d.do(ctx, http.MethodDelete, path, nil, nil); err != nil {
		log.Logger.Warn().Err(err).Str("connector_id", connectorID).Msg("failed to notify platform of container removal")
		return err
	}
	return nil
}
