// Package docker implements the orchestrator.Orchestrator contract
// against a directly reachable Docker Engine API socket.
package docker

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/image"
	dockerregistry "github.com/docker/docker/api/types/registry"
	dockerclient "github.com/docker/docker/client"
	"github.com/docker/docker/errdefs"
	dockerunits "github.com/docker/go-units"

	"github.com/FiligranHQ/xtm-composer-sub000/internal/log"
	"github.com/FiligranHQ/xtm-composer-sub000/internal/orchestrator"
	"github.com/FiligranHQ/xtm-composer-sub000/internal/registry"
)

// Options mirrors the opencti.daemon.docker configuration block: the
// subset of HostConfig fields an operator may want to set on every
// managed connector container.
type Options struct {
	NetworkMode  string
	ExtraHosts   []string
	DNS          []string
	DNSSearch    []string
	Privileged   *bool
	CapAdd       []string
	CapDrop      []string
	SecurityOpt  []string
	UsernsMode   string
	PidMode      string
	IpcMode      string
	UtsMode      string
	Runtime      string
	ShmSize      int64
	Sysctls      map[string]string
	Ulimits      []Ulimit
}

// Ulimit is one container.Ulimit entry.
type Ulimit struct {
	Name string
	Soft int64
	Hard int64
}

// Orchestrator drives a Docker Engine API socket directly.
type Orchestrator struct {
	client    *dockerclient.Client
	managerID string
	options   Options
	resolver  *registry.Resolver
	authCache *registry.AuthCache
}

// New connects to a Docker daemon using the environment's default
// connection parameters (DOCKER_HOST, TLS certs, API version
// negotiation).
func New(managerID string, options Options, resolver *registry.Resolver, authCache *registry.AuthCache) (*Orchestrator, error) {
	return NewWithOpts(managerID, options, resolver, authCache, dockerclient.FromEnv)
}

// NewWithOpts builds the same driver against a custom Engine API
// client, letting callers (the Portainer proxy driver, tests) swap in
// their own transport/host without duplicating the operation set.
func NewWithOpts(managerID string, options Options, resolver *registry.Resolver, authCache *registry.AuthCache, opts ...dockerclient.Opt) (*Orchestrator, error) {
	allOpts := append([]dockerclient.Opt{dockerclient.WithAPIVersionNegotiation()}, opts...)
	cli, err := dockerclient.NewClientWithOpts(allOpts...)
	if err != nil {
		return nil, fmt.Errorf("connect to docker daemon: %w", err)
	}
	return &Orchestrator{
		client:    cli,
		managerID: managerID,
		options:   options,
		resolver:  resolver,
		authCache: authCache,
	}, nil
}

func normalizeName(names []string) string {
	if len(names) == 0 {
		return ""
	}
	return strings.TrimPrefix(names[0], "/")
}

func (o *Orchestrator) containerName(connector orchestrator.Connector) string {
	return orchestrator.CanonicalName(connector.Name)
}

func (o *Orchestrator) Get(ctx context.Context, connector orchestrator.Connector) (*orchestrator.Container, bool, error) {
	inspect, err := o.client.ContainerInspect(ctx, o.containerName(connector))
	if err != nil {
		if errdefs.IsNotFound(err) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("inspect container: %w", err)
	}

	envs := make(map[string]string)
	if inspect.Config != nil {
		for _, kv := range inspect.Config.Env {
			parts := strings.SplitN(kv, "=", 2)
			if len(parts) == 2 {
				envs[parts[0]] = parts[1]
			}
		}
	}

	var labels map[string]string
	if inspect.Config != nil {
		labels = inspect.Config.Labels
	}

	var state string
	if inspect.State != nil {
		state = inspect.State.Status
	}

	var startedAt *time.Time
	if inspect.State != nil && inspect.State.StartedAt != "" {
		if t, err := time.Parse(time.RFC3339Nano, inspect.State.StartedAt); err == nil && !t.IsZero() {
			startedAt = &t
		}
	}

	c := &orchestrator.Container{
		ID:           inspect.ID,
		Name:         strings.TrimPrefix(inspect.Name, "/"),
		State:        state,
		Labels:       labels,
		Envs:         envs,
		RestartCount: inspect.RestartCount,
		StartedAt:    startedAt,
	}
	return c, true, nil
}

func (o *Orchestrator) List(ctx context.Context) ([]orchestrator.Container, error) {
	f := filters.NewArgs()
	f.Add("label", fmt.Sprintf("%s=%s", orchestrator.LabelManager, o.managerID))

	containers, err := o.client.ContainerList(ctx, container.ListOptions{All: true, Filters: f})
	if err != nil {
		log.Logger.Error().Err(err).Str("manager_id", o.managerID).Msg("failed to list managed containers")
		return nil, nil
	}

	out := make([]orchestrator.Container, 0, len(containers))
	for _, c := range containers {
		out = append(out, orchestrator.Container{
			ID:     c.ID,
			Name:   normalizeName(c.Names),
			State:  c.State,
			Labels: c.Labels,
		})
	}
	return out, nil
}

func (o *Orchestrator) Start(ctx context.Context, c orchestrator.Container, connector orchestrator.Connector) {
	name := o.containerName(connector)
	if err := o.client.ContainerStart(ctx, name, container.StartOptions{}); err != nil {
		log.Logger.Error().Err(err).Str("name", name).Msg("failed to start container")
		return
	}
	log.Logger.Debug().Str("name", name).Msg("container started")
}

func (o *Orchestrator) Stop(ctx context.Context, c orchestrator.Container, connector orchestrator.Connector) {
	name := o.containerName(connector)
	if err := o.client.ContainerStop(ctx, name, container.StopOptions{}); err != nil {
		log.Logger.Error().Err(err).Str("name", name).Msg("failed to stop container")
		return
	}
	log.Logger.Debug().Str("name", name).Msg("container stopped")
}

func (o *Orchestrator) Remove(ctx context.Context, c orchestrator.Container) error {
	err := o.client.ContainerRemove(ctx, c.ID, container.RemoveOptions{RemoveVolumes: true, Force: true})
	if err != nil {
		return fmt.Errorf("remove container %s: %w", c.Name, err)
	}
	log.Logger.Debug().Str("name", c.Name).Str("id", c.ID).Msg("container removed")
	return nil
}

func (o *Orchestrator) Refresh(ctx context.Context, connector orchestrator.Connector) (*orchestrator.Container, bool) {
	if existing, ok, _ := o.Get(ctx, connector); ok {
		_ = o.Remove(ctx, *existing)
	}
	return o.Deploy(ctx, connector)
}

func (o *Orchestrator) Deploy(ctx context.Context, connector orchestrator.Connector) (*orchestrator.Container, bool) {
	resolved, err := o.resolver.ResolveImage(connector.Image)
	if err != nil {
		log.Logger.Error().Err(err).Str("image", connector.Image).Msg("failed to resolve image name")
		return nil, false
	}

	var encodedAuth string
	if resolved.NeedsAuth {
		creds, err := o.authCache.GetCredentials(ctx, o.resolver, resolved.RegistryServer, o.authenticate)
		if err != nil {
			log.Logger.Error().Err(err).Str("orchestrator", "docker").Msg("failed to get registry credentials")
			return nil, false
		}
		encodedAuth, err = encodeAuthConfig(creds)
		if err != nil {
			log.Logger.Error().Err(err).Msg("failed to encode registry auth")
			return nil, false
		}
	}

	log.Logger.Info().Str("orchestrator", "docker").Str("image", resolved.FullName).Str("operation", "pull").Str("status", "started").Msg("starting image pull")

	reader, err := o.client.ImagePull(ctx, resolved.FullName, image.PullOptions{RegistryAuth: encodedAuth})
	if err != nil {
		log.Logger.Error().Err(err).Str("image", resolved.FullName).Msg("image pull failed")
		return nil, false
	}
	_, _ = io.Copy(io.Discard, reader)
	_ = reader.Close()

	log.Logger.Info().Str("orchestrator", "docker").Str("image", resolved.FullName).Str("operation", "pull").Str("status", "completed").Msg("image pull completed")

	envVars := make([]string, 0, len(connector.Configuration))
	for _, item := range connector.Configuration {
		envVars = append(envVars, fmt.Sprintf("%s=%s", item.Key, item.Value))
	}

	hostConfig := o.buildHostConfig()
	cfg := &container.Config{
		Image:  resolved.FullName,
		Env:    envVars,
		Labels: orchestrator.ManagedLabels(o.managerID, connector),
	}

	name := o.containerName(connector)
	created, err := o.client.ContainerCreate(ctx, cfg, hostConfig, nil, nil, name)
	if err != nil {
		log.Logger.Error().Err(err).Str("name", name).Str("image", resolved.FullName).Msg("failed to create container")
		if strings.Contains(err.Error(), "Conflict") {
			log.Logger.Error().Msgf("container with name %q already exists", name)
		} else if strings.Contains(err.Error(), "No such image") {
			log.Logger.Error().Msgf("image %q was pulled but cannot be found", resolved.FullName)
		}
		return nil, false
	}
	_ = created

	c, ok, err := o.Get(ctx, connector)
	if err != nil || !ok {
		return nil, false
	}

	if connector.RequestedStatus == orchestrator.RequestedStarting {
		o.Start(ctx, *c, connector)
	}
	return c, true
}

func (o *Orchestrator) buildHostConfig() *container.HostConfig {
	hc := &container.HostConfig{}
	opts := o.options

	if opts.NetworkMode != "" {
		hc.NetworkMode = container.NetworkMode(opts.NetworkMode)
	}
	if len(opts.ExtraHosts) > 0 {
		hc.ExtraHosts = opts.ExtraHosts
	}
	if len(opts.DNS) > 0 {
		hc.DNS = opts.DNS
	}
	if len(opts.DNSSearch) > 0 {
		hc.DNSSearch = opts.DNSSearch
	}
	if opts.Privileged != nil {
		hc.Privileged = *opts.Privileged
	}
	if len(opts.CapAdd) > 0 {
		hc.CapAdd = opts.CapAdd
	}
	if len(opts.CapDrop) > 0 {
		hc.CapDrop = opts.CapDrop
	}
	if len(opts.SecurityOpt) > 0 {
		hc.SecurityOpt = opts.SecurityOpt
	}
	if opts.UsernsMode != "" {
		hc.UsernsMode = container.UsernsMode(opts.UsernsMode)
	}
	if opts.PidMode != "" {
		hc.PidMode = container.PidMode(opts.PidMode)
	}
	if opts.IpcMode != "" {
		hc.IpcMode = container.IpcMode(opts.IpcMode)
	}
	if opts.UtsMode != "" {
		hc.UTSMode = container.UTSMode(opts.UtsMode)
	}
	if opts.Runtime != "" {
		hc.Runtime = opts.Runtime
	}
	if opts.ShmSize > 0 {
		hc.ShmSize = opts.ShmSize
	}
	if len(opts.Sysctls) > 0 {
		hc.Sysctls = opts.Sysctls
	}
	if len(opts.Ulimits) > 0 {
		ulimits := make([]*dockerunits.Ulimit, 0, len(opts.Ulimits))
		for _, u := range opts.Ulimits {
			ulimits = append(ulimits, &dockerunits.Ulimit{Name: u.Name, Soft: u.Soft, Hard: u.Hard})
		}
		hc.Ulimits = ulimits
	}
	return hc
}

func (o *Orchestrator) Logs(ctx context.Context, c orchestrator.Container, connector orchestrator.Connector) ([]string, bool) {
	reader, err := o.client.ContainerLogs(ctx, o.containerName(connector), container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Tail:       "100",
	})
	if err != nil {
		log.Logger.Error().Err(err).Str("name", o.containerName(connector)).Msg("failed to read container logs")
		return nil, false
	}
	defer reader.Close()

	content, err := io.ReadAll(reader)
	if err != nil {
		log.Logger.Error().Err(err).Msg("failed to drain container logs")
		return nil, false
	}
	lines := strings.Split(strings.TrimRight(string(content), "\n"), "\n")
	return lines, true
}

func (o *Orchestrator) StateConverter(c orchestrator.Container) orchestrator.Status {
	if c.State == "running" {
		return orchestrator.StatusStarted
	}
	return orchestrator.StatusStopped
}

func (o *Orchestrator) authenticate(ctx context.Context, server string) (registry.Credentials, error) {
	return o.resolver.BuildCredentials(), nil
}

func encodeAuthConfig(creds registry.Credentials) (string, error) {
	cfg := dockerregistry.AuthConfig{
		Username:      creds.Username,
		Password:      creds.Password,
		Email:         creds.Email,
		ServerAddress: creds.ServerAddress,
	}
	buf, err := json.Marshal(cfg)
	if err != nil {
		return "", err
	}
	return base64.URLEncoding.EncodeToString(buf), nil
}
