// Package swarm implements the orchestrator.Orchestrator contract
// against a Docker Swarm manager, scaling replica counts 0/1 for
// stop/start instead of starting and stopping individual containers.
package swarm

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	dockertypes "github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	dockerregistry "github.com/docker/docker/api/types/registry"
	"github.com/docker/docker/api/types/swarm"
	dockerclient "github.com/docker/docker/client"
	"github.com/docker/docker/errdefs"

	"github.com/FiligranHQ/xtm-composer-sub000/internal/log"
	"github.com/FiligranHQ/xtm-composer-sub000/internal/orchestrator"
	"github.com/FiligranHQ/xtm-composer-sub000/internal/registry"
)

// Options mirrors the opencti.daemon.swarm configuration block.
type Options struct {
	ExtraHosts           []string
	DNS                  []string
	DNSSearch            []string
	CapAdd               []string
	CapDrop              []string
	Sysctls              map[string]string
	Hostname             string
	User                 string
	ReadOnly             *bool
	Init                 *bool
	Network              string
	PlacementConstraints []string
	RestartCondition     string
}

// Orchestrator drives a Docker Swarm manager.
type Orchestrator struct {
	client    *dockerclient.Client
	managerID string
	options   Options
	resolver  *registry.Resolver
	authCache *registry.AuthCache
}

func New(managerID string, options Options, resolver *registry.Resolver, authCache *registry.AuthCache) (*Orchestrator, error) {
	cli, err := dockerclient.NewClientWithOpts(dockerclient.FromEnv, dockerclient.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("connect to docker daemon: %w", err)
	}
	return &Orchestrator{client: cli, managerID: managerID, options: options, resolver: resolver, authCache: authCache}, nil
}

func (o *Orchestrator) serviceName(connector orchestrator.Connector) string {
	return orchestrator.CanonicalName(connector.Name)
}

func (o *Orchestrator) Get(ctx context.Context, connector orchestrator.Connector) (*orchestrator.Container, bool, error) {
	name := o.serviceName(connector)
	svc, _, err := o.client.ServiceInspectWithRaw(ctx, name, dockertypes.ServiceInspectOptions{})
	if err != nil {
		if errdefs.IsNotFound(err) {
			return nil, false, nil
		}
		log.Logger.Debug().Err(err).Str("name", name).Msg("could not find swarm service")
		return nil, false, nil
	}

	labels := svc.Spec.Labels
	envs := make(map[string]string)
	if svc.Spec.TaskTemplate.ContainerSpec != nil {
		for _, kv := range svc.Spec.TaskTemplate.ContainerSpec.Env {
			parts := strings.SplitN(kv, "=", 2)
			if len(parts) == 2 {
				envs[parts[0]] = parts[1]
			}
		}
	}

	restartCount, startedAt, state := o.taskInfo(ctx, name)

	c := &orchestrator.Container{
		ID:           svc.ID,
		Name:         name,
		State:        state,
		Labels:       labels,
		Envs:         envs,
		RestartCount: restartCount,
		StartedAt:    startedAt,
	}
	return c, true, nil
}

func (o *Orchestrator) taskInfo(ctx context.Context, serviceName string) (restartCount int, startedAt *time.Time, state string) {
	f := filters.NewArgs()
	f.Add("service", serviceName)
	tasks, err := o.client.TaskList(ctx, dockertypes.TaskListOptions{Filters: f})
	if err != nil {
		return 0, nil, "unknown"
	}

	var running *swarm.Task
	for i := range tasks {
		if tasks[i].Status.State != swarm.TaskStateRunning {
			continue
		}
		if running == nil || tasks[i].Status.Timestamp.After(running.Status.Timestamp) {
			running = &tasks[i]
		}
	}
	if running != nil {
		total := len(tasks)
		count := 0
		if total > 1 {
			count = total - 1
		}
		ts := running.Status.Timestamp
		return count, &ts, "running"
	}
	return len(tasks), nil, "stopped"
}

func (o *Orchestrator) List(ctx context.Context) ([]orchestrator.Container, error) {
	f := filters.NewArgs()
	f.Add("label", fmt.Sprintf("%s=%s", orchestrator.LabelManager, o.managerID))

	services, err := o.client.ServiceList(ctx, dockertypes.ServiceListOptions{Filters: f})
	if err != nil {
		log.Logger.Error().Err(err).Msg("error fetching swarm services")
		return nil, nil
	}

	out := make([]orchestrator.Container, 0, len(services))
	for _, svc := range services {
		_, _, state := o.taskInfo(ctx, svc.Spec.Name)
		out = append(out, orchestrator.Container{
			ID:     svc.ID,
			Name:   svc.Spec.Name,
			State:  state,
			Labels: svc.Spec.Labels,
		})
	}
	return out, nil
}

// scaleTo sets a service's replica count, retrying once if the update
// is rejected for a stale version: ServiceUpdate is optimistic-locked
// against the version returned by ServiceInspectWithRaw, and a
// concurrent update (another tick, another manager) between inspect
// and update loses that race with a conflict, not a real failure.
func (o *Orchestrator) scaleTo(ctx context.Context, connector orchestrator.Connector, replicas uint64) {
	name := o.serviceName(connector)

	for attempt := 1; attempt <= 2; attempt++ {
		svc, _, err := o.client.ServiceInspectWithRaw(ctx, name, dockertypes.ServiceInspectOptions{})
		if err != nil {
			log.Logger.Error().Err(err).Str("name", name).Msg("failed to inspect swarm service for scaling")
			return
		}

		spec := svc.Spec
		if spec.Mode.Replicated == nil {
			spec.Mode.Replicated = &swarm.ReplicatedService{}
		}
		spec.Mode.Replicated.Replicas = &replicas

		_, err = o.client.ServiceUpdate(ctx, name, svc.Version, spec, dockertypes.ServiceUpdateOptions{})
		if err == nil {
			return
		}
		if errdefs.IsConflict(err) && attempt == 1 {
			log.Logger.Warn().Str("name", name).Msg("swarm service update rejected for stale version, retrying once")
			continue
		}
		log.Logger.Error().Err(err).Str("name", name).Msg("failed to update swarm service replica count")
		return
	}
}

func (o *Orchestrator) Start(ctx context.Context, c orchestrator.Container, connector orchestrator.Connector) {
	o.scaleTo(ctx, connector, 1)
}

func (o *Orchestrator) Stop(ctx context.Context, c orchestrator.Container, connector orchestrator.Connector) {
	o.scaleTo(ctx, connector, 0)
}

func (o *Orchestrator) Remove(ctx context.Context, c orchestrator.Container) error {
	if err := o.client.ServiceRemove(ctx, c.Name); err != nil {
		return fmt.Errorf("remove swarm service %s: %w", c.Name, err)
	}
	log.Logger.Info().Str("name", c.Name).Msg("removed swarm service")
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
			log.Logger.Error().Err(err).Msg("failed to get registry credentials")
			return nil, false
		}
		encodedAuth, err = encodeAuthConfig(creds)
		if err != nil {
			log.Logger.Error().Err(err).Msg("failed to encode registry auth")
			return nil, false
		}
	}

	envVars := make([]string, 0, len(connector.Configuration))
	for _, item := range connector.Configuration {
		envVars = append(envVars, fmt.Sprintf("%s=%s", item.Key, item.Value))
	}

	containerSpec := &swarm.ContainerSpec{
		Image: resolved.FullName,
		Env:   envVars,
	}
	if len(o.options.ExtraHosts) > 0 {
		containerSpec.Hosts = o.options.ExtraHosts
	}
	if len(o.options.DNS) > 0 || len(o.options.DNSSearch) > 0 {
		containerSpec.DNSConfig = &swarm.DNSConfig{Nameservers: o.options.DNS, Search: o.options.DNSSearch}
	}
	if len(o.options.CapAdd) > 0 {
		containerSpec.CapabilityAdd = o.options.CapAdd
	}
	if len(o.options.CapDrop) > 0 {
		containerSpec.CapabilityDrop = o.options.CapDrop
	}
	if len(o.options.Sysctls) > 0 {
		containerSpec.Sysctls = o.options.Sysctls
	}
	if o.options.Hostname != "" {
		containerSpec.Hostname = o.options.Hostname
	}
	if o.options.User != "" {
		containerSpec.User = o.options.User
	}
	if o.options.ReadOnly != nil {
		containerSpec.ReadOnly = *o.options.ReadOnly
	}
	if o.options.Init != nil {
		containerSpec.Init = o.options.Init
	}

	var networks []swarm.NetworkAttachmentConfig
	if o.options.Network != "" {
		networks = []swarm.NetworkAttachmentConfig{{Target: o.options.Network}}
	}

	var placement *swarm.Placement
	if len(o.options.PlacementConstraints) > 0 {
		placement = &swarm.Placement{Constraints: o.options.PlacementConstraints}
	}

	var restartPolicy *swarm.RestartPolicy
	if o.options.RestartCondition != "" {
		restartPolicy = &swarm.RestartPolicy{Condition: swarm.RestartPolicyCondition(o.options.RestartCondition)}
	}

	var replicas uint64
	if connector.RequestedStatus == orchestrator.RequestedStarting {
		replicas = 1
	}

	spec := swarm.ServiceSpec{
		Annotations: swarm.Annotations{
			Name:   o.serviceName(connector),
			Labels: orchestrator.ManagedLabels(o.managerID, connector),
		},
		TaskTemplate: swarm.TaskSpec{
			ContainerSpec: containerSpec,
			Networks:      networks,
			Placement:     placement,
			RestartPolicy: restartPolicy,
		},
		Mode: swarm.ServiceMode{
			Replicated: &swarm.ReplicatedService{Replicas: &replicas},
		},
	}

	_, err = o.client.ServiceCreate(ctx, spec, dockertypes.ServiceCreateOptions{EncodedRegistryAuth: encodedAuth})
	if err != nil {
		log.Logger.Error().Err(err).Str("image", resolved.FullName).Msg("error creating swarm service")
		return nil, false
	}

	return o.Get(ctx, connector)
}

func (o *Orchestrator) Logs(ctx context.Context, c orchestrator.Container, connector orchestrator.Connector) ([]string, bool) {
	name := o.serviceName(connector)
	f := filters.NewArgs()
	f.Add("service", name)

	tasks, err := o.client.TaskList(ctx, dockertypes.TaskListOptions{Filters: f})
	if err != nil {
		log.Logger.Error().Err(err).Str("name", name).Msg("error fetching tasks for swarm service")
		return nil, false
	}

	for _, task := range tasks {
		if task.Status.State != swarm.TaskStateRunning || task.Status.ContainerStatus == nil {
			continue
		}
		cid := task.Status.ContainerStatus.ContainerID
		if cid == "" {
			continue
		}
		reader, err := o.client.ContainerLogs(ctx, cid, container.LogsOptions{ShowStdout: true, ShowStderr: true, Tail: "100"})
		if err != nil {
			log.Logger.Debug().Err(err).Str("task_container_id", cid).Msg("could not fetch logs from task container, trying next task")
			continue
		}
		content, err := io.ReadAll(reader)
		_ = reader.Close()
		if err != nil {
			continue
		}
		return strings.Split(strings.TrimRight(string(content), "\n"), "\n"), true
	}
	return nil, false
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
