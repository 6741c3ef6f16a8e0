package engine

import (
	"context"
	"testing"
	"time"

	"github.com/FiligranHQ/xtm-composer-sub000/internal/orchestrator"
	"github.com/FiligranHQ/xtm-composer-sub000/internal/platform"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeOrchestrator is a hand-rolled test double for the orchestrator
// contract; the corpus this codebase grew out of does not reach for a
// mocking framework, so neither does this.
type fakeOrchestrator struct {
	containers map[string]orchestrator.Container

	deployCalls  []string
	startCalls   []string
	stopCalls    []string
	removeCalls  []string
	refreshCalls []string
}

func newFakeOrchestrator() *fakeOrchestrator {
	return &fakeOrchestrator{containers: make(map[string]orchestrator.Container)}
}

func (f *fakeOrchestrator) Get(ctx context.Context, connector orchestrator.Connector) (*orchestrator.Container, bool, error) {
	c, ok := f.containers[connector.ID]
	if !ok {
		return nil, false, nil
	}
	return &c, true, nil
}

func (f *fakeOrchestrator) List(ctx context.Context) ([]orchestrator.Container, error) {
	out := make([]orchestrator.Container, 0, len(f.containers))
	for _, c := range f.containers {
		out = append(out, c)
	}
	return out, nil
}

func (f *fakeOrchestrator) Start(ctx context.Context, container orchestrator.Container, connector orchestrator.Connector) {
	f.startCalls = append(f.startCalls, connector.ID)
	c := f.containers[connector.ID]
	c.State = "running"
	f.containers[connector.ID] = c
}

func (f *fakeOrchestrator) Stop(ctx context.Context, container orchestrator.Container, connector orchestrator.Connector) {
	f.stopCalls = append(f.stopCalls, connector.ID)
	c := f.containers[connector.ID]
	c.State = "exited"
	f.containers[connector.ID] = c
}

func (f *fakeOrchestrator) Remove(ctx context.Context, container orchestrator.Container) error {
	f.removeCalls = append(f.removeCalls, container.ID)
	if id, ok := container.ExtractConnectorID(); ok {
		delete(f.containers, id)
	}
	return nil
}

func (f *fakeOrchestrator) Deploy(ctx context.Context, connector orchestrator.Connector) (*orchestrator.Container, bool) {
	f.deployCalls = append(f.deployCalls, connector.ID)
	c := orchestrator.Container{
		ID:    "container-" + connector.ID,
		Name:  orchestrator.CanonicalName(connector.Name),
		State: "created",
		Labels: map[string]string{
			orchestrator.LabelConnector: connector.ID,
			orchestrator.LabelHash:      connector.ContractHash,
		},
	}
	f.containers[connector.ID] = c
	return &c, true
}

func (f *fakeOrchestrator) Refresh(ctx context.Context, connector orchestrator.Connector) (*orchestrator.Container, bool) {
	f.refreshCalls = append(f.refreshCalls, connector.ID)
	return f.Deploy(ctx, connector)
}

func (f *fakeOrchestrator) Logs(ctx context.Context, container orchestrator.Container, connector orchestrator.Connector) ([]string, bool) {
	return []string{"log line"}, true
}

func (f *fakeOrchestrator) StateConverter(container orchestrator.Container) orchestrator.Status {
	if container.State == "running" {
		return orchestrator.StatusStarted
	}
	return orchestrator.StatusStopped
}

type fakePlatform struct {
	connectors []platform.ConnectorDesired

	statusPatches     map[string]orchestrator.Status
	removedNotified   []string
	healthReports     map[string]platform.HealthReport
}

func newFakePlatform(connectors ...platform.ConnectorDesired) *fakePlatform {
	return &fakePlatform{
		connectors:    connectors,
		statusPatches: make(map[string]orchestrator.Status),
		healthReports: make(map[string]platform.HealthReport),
	}
}

func (f *fakePlatform) Daemon(ctx context.Context) (platform.DaemonConfiguration, error) {
	return platform.DaemonConfiguration{}, nil
}
func (f *fakePlatform) Version(ctx context.Context) (string, error)                 { return "1.0.0", nil }
func (f *fakePlatform) Register(ctx context.Context, managerID, managerName string) error { return nil }
func (f *fakePlatform) PingAlive(ctx context.Context) error                          { return nil }

func (f *fakePlatform) Connectors(ctx context.Context, managerID string) ([]platform.ConnectorDesired, error) {
	return f.connectors, nil
}

func (f *fakePlatform) PatchStatus(ctx context.Context, connectorID string, status orchestrator.Status) error {
	f.statusPatches[connectorID] = status
	return nil
}

func (f *fakePlatform) PatchLogs(ctx context.Context, connectorID string, lines []string) error {
	return nil
}

func (f *fakePlatform) PatchHealth(ctx context.Context, connectorID string, health platform.HealthReport) error {
	f.healthReports[connectorID] = health
	return nil
}

func (f *fakePlatform) NotifyContainerRemoved(ctx context.Context, connectorID string) error {
	f.removedNotified = append(f.removedNotified, connectorID)
	return nil
}

func TestTickColdDeploy(t *testing.T) {
	orch := newFakeOrchestrator()
	plat := newFakePlatform(platform.ConnectorDesired{
		ID: "c1", Name: "c1", Image: "nginx:latest", ContractHash: "h1",
		RequestedStatus: orchestrator.RequestedStarting,
	})
	e := New("manager-1", orch, plat, nil)

	require.NoError(t, e.Tick(context.Background()))

	assert.Equal(t, []string{"c1"}, orch.deployCalls)
	assert.Equal(t, orchestrator.StatusStopped, plat.statusPatches["c1"])
	container := orch.containers["c1"]
	assert.Equal(t, "c1", container.Labels[orchestrator.LabelConnector])
	assert.Equal(t, "h1", container.Labels[orchestrator.LabelHash])
}

func TestTickStartTransition(t *testing.T) {
	orch := newFakeOrchestrator()
	orch.containers["c1"] = orchestrator.Container{
		ID:    "container-c1",
		State: "exited",
		Labels: map[string]string{
			orchestrator.LabelConnector: "c1",
			orchestrator.LabelHash:      "h1",
		},
	}
	plat := newFakePlatform(platform.ConnectorDesired{
		ID: "c1", Name: "c1", Image: "nginx:latest", ContractHash: "h1",
		RequestedStatus: orchestrator.RequestedStarting,
		CurrentStatus:   orchestrator.StatusStopped,
	})
	e := New("manager-1", orch, plat, nil)

	require.NoError(t, e.Tick(context.Background()))

	assert.Equal(t, []string{"c1"}, orch.startCalls)
	assert.Empty(t, orch.deployCalls)
}

func TestTickStopTransition(t *testing.T) {
	orch := newFakeOrchestrator()
	orch.containers["c1"] = orchestrator.Container{
		ID:    "container-c1",
		State: "running",
		Labels: map[string]string{
			orchestrator.LabelConnector: "c1",
			orchestrator.LabelHash:      "h1",
		},
	}
	plat := newFakePlatform(platform.ConnectorDesired{
		ID: "c1", Name: "c1", Image: "nginx:latest", ContractHash: "h1",
		RequestedStatus: orchestrator.RequestedStopping,
		CurrentStatus:   orchestrator.StatusStarted,
	})
	e := New("manager-1", orch, plat, nil)

	require.NoError(t, e.Tick(context.Background()))

	assert.Equal(t, []string{"c1"}, orch.stopCalls)
}

func TestTickHashDriftTriggersRefreshOnly(t *testing.T) {
	orch := newFakeOrchestrator()
	orch.containers["c1"] = orchestrator.Container{
		ID:    "container-c1",
		State: "running",
		Labels: map[string]string{
			orchestrator.LabelConnector: "c1",
			orchestrator.LabelHash:      "h1",
		},
	}
	plat := newFakePlatform(platform.ConnectorDesired{
		ID: "c1", Name: "c1", Image: "nginx:latest", ContractHash: "h2",
		RequestedStatus: orchestrator.RequestedStarting,
	})
	e := New("manager-1", orch, plat, nil)

	require.NoError(t, e.Tick(context.Background()))

	assert.Equal(t, []string{"c1"}, orch.refreshCalls)
	assert.Empty(t, orch.startCalls)
	assert.Empty(t, orch.stopCalls)
}

func TestTickOrphanRemoval(t *testing.T) {
	orch := newFakeOrchestrator()
	orch.containers["c9"] = orchestrator.Container{
		ID:    "container-c9",
		State: "running",
		Labels: map[string]string{
			orchestrator.LabelConnector: "c9",
		},
	}
	plat := newFakePlatform()
	e := New("manager-1", orch, plat, nil)

	require.NoError(t, e.Tick(context.Background()))

	assert.Equal(t, []string{"container-c9"}, orch.removeCalls)
	assert.Contains(t, plat.removedNotified, "c9")
}

func TestTickIdempotentOnUnchangedState(t *testing.T) {
	orch := newFakeOrchestrator()
	orch.containers["c1"] = orchestrator.Container{
		ID:    "container-c1",
		State: "running",
		Labels: map[string]string{
			orchestrator.LabelConnector: "c1",
			orchestrator.LabelHash:      "h1",
		},
	}
	plat := newFakePlatform(platform.ConnectorDesired{
		ID: "c1", Name: "c1", Image: "nginx:latest", ContractHash: "h1",
		RequestedStatus: orchestrator.RequestedStarting,
		CurrentStatus:   orchestrator.StatusStarted,
		LogsSchedule:    time.Hour,
	})
	e := New("manager-1", orch, plat, nil)

	require.NoError(t, e.Tick(context.Background()))
	require.NoError(t, e.Tick(context.Background()))

	assert.Empty(t, orch.deployCalls)
	assert.Empty(t, orch.startCalls)
	assert.Empty(t, orch.stopCalls)
	assert.Empty(t, orch.refreshCalls)
}

func TestTickRebootLoopHealthReport(t *testing.T) {
	startedAt := time.Now().Add(-30 * time.Second)
	orch := newFakeOrchestrator()
	orch.containers["c1"] = orchestrator.Container{
		ID:           "container-c1",
		State:        "running",
		RestartCount: 5,
		StartedAt:    &startedAt,
		Labels: map[string]string{
			orchestrator.LabelConnector: "c1",
			orchestrator.LabelHash:      "h1",
		},
	}
	plat := newFakePlatform(platform.ConnectorDesired{
		ID: "c1", Name: "c1", Image: "nginx:latest", ContractHash: "h1",
		RequestedStatus: orchestrator.RequestedStarting,
		CurrentStatus:   orchestrator.StatusStarted,
	})
	e := New("manager-1", orch, plat, nil)

	require.NoError(t, e.Tick(context.Background()))

	assert.True(t, plat.healthReports["c1"].IsInRebootLoop)
}
