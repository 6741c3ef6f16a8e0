// Package engine implements the per-tick reconciliation algorithm that
// aligns a platform's desired connector set with an orchestrator's
// observed container set.
package engine

import (
	"context"
	"crypto/rsa"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/FiligranHQ/xtm-composer-sub000/internal/crypto"
	"github.com/FiligranHQ/xtm-composer-sub000/internal/log"
	"github.com/FiligranHQ/xtm-composer-sub000/internal/metrics"
	"github.com/FiligranHQ/xtm-composer-sub000/internal/orchestrator"
	"github.com/FiligranHQ/xtm-composer-sub000/internal/platform"
)

// Engine drives one reconciliation tick for one (orchestrator, platform)
// pair. A single Engine instance must not be ticked concurrently; the
// scheduler guarantees ticks for a given platform never overlap.
type Engine struct {
	ManagerID    string
	Orchestrator orchestrator.Orchestrator
	Platform     platform.Platform
	PrivateKey   *rsa.PrivateKey

	cadenceMu    sync.Mutex
	lastPushedAt map[string]time.Time
}

// New constructs an Engine. privateKey may be nil if no connector ever
// carries encrypted configuration, but in practice every deployment
// configures one.
func New(managerID string, orch orchestrator.Orchestrator, plat platform.Platform, privateKey *rsa.PrivateKey) *Engine {
	return &Engine{
		ManagerID:    managerID,
		Orchestrator: orch,
		Platform:     plat,
		PrivateKey:   privateKey,
		lastPushedAt: make(map[string]time.Time),
	}
}

// Tick runs one full reconciliation cycle: fetch desired and observed
// sets, join them by connector id, and issue the resulting sequence of
// orchestrator and platform calls.
func (e *Engine) Tick(ctx context.Context) error {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.ReconciliationDuration)

	desired, err := e.Platform.Connectors(ctx, e.ManagerID)
	if err != nil {
		metrics.ReconciliationErrorsTotal.WithLabelValues("platform_fetch").Inc()
		log.Logger.Error().Err(err).Msg("failed to fetch desired connectors, skipping tick")
		return nil
	}

	observed, err := e.Orchestrator.List(ctx)
	if err != nil {
		metrics.ReconciliationErrorsTotal.WithLabelValues("orchestrator_list").Inc()
		log.Logger.Error().Err(err).Msg("failed to list observed containers, proceeding with empty set")
		observed = nil
	}

	containersByConnectorID := make(map[string]orchestrator.Container, len(observed))
	for _, c := range observed {
		if id, ok := c.ExtractConnectorID(); ok {
			containersByConnectorID[id] = c
		}
	}

	seen := make(map[string]struct{}, len(desired))
	for _, wireConnector := range desired {
		if wireConnector.ID == "" {
			log.Logger.Warn().Msg("desired connector missing id, skipping for this tick")
			continue
		}
		if wireConnector.Image == "" || wireConnector.ContractHash == "" {
			log.Logger.Warn().Str("connector_id", wireConnector.ID).Msg("connector missing required fields (image/contract_hash), skipping for this tick")
			continue
		}
		seen[wireConnector.ID] = struct{}{}

		connector := e.toRuntimeConnector(wireConnector)
		e.reconcileConnector(ctx, connector, containersByConnectorID)
	}

	for connectorID, container := range containersByConnectorID {
		if _, ok := seen[connectorID]; ok {
			continue
		}
		e.removeOrphan(ctx, container, connectorID)
	}

	metrics.ManagedConnectors.Set(float64(len(seen)))
	return nil
}

// toRuntimeConnector decrypts sensitive configuration items and maps an
// unrecognised requested_status to Stopping.
func (e *Engine) toRuntimeConnector(w platform.ConnectorDesired) orchestrator.Connector {
	requested := w.RequestedStatus
	if requested != orchestrator.RequestedStarting && requested != orchestrator.RequestedStopping {
		requested = orchestrator.RequestedStopping
	}

	configuration := make([]orchestrator.ConfigItem, 0, len(w.Configuration))
	for _, item := range w.Configuration {
		value := item.Value
		if item.Sensitive {
			plain, err := crypto.DecryptValue(e.PrivateKey, item.Value)
			if err != nil {
				log.Logger.Warn().Str("connector_id", w.ID).Str("key", item.Key).Err(err).Msg("failed to decrypt connector configuration value, substituting empty string")
				plain = ""
			}
			value = plain
		}
		configuration = append(configuration, orchestrator.ConfigItem{Key: item.Key, Value: value})
	}

	return orchestrator.Connector{
		ID:              w.ID,
		Name:            w.Name,
		Image:           w.Image,
		ContractHash:    w.ContractHash,
		CurrentStatus:   w.CurrentStatus,
		RequestedStatus: requested,
		Configuration:   configuration,
		LogsSchedule:    w.LogsSchedule,
	}
}

func (e *Engine) reconcileConnector(ctx context.Context, connector orchestrator.Connector, containersByConnectorID map[string]orchestrator.Container) {
	logger := log.WithConnector(connector.ID)

	container, bound := containersByConnectorID[connector.ID]
	if !bound {
		created, ok := e.Orchestrator.Deploy(ctx, connector)
		if !ok {
			logger.Error().Msg("deploy failed, no container created this tick")
			return
		}
		metrics.ConnectorsInitializedTotal.Inc()
		// Kept for wire compatibility with platforms that expect Stopped
		// immediately after a cold deploy, regardless of requested_status.
		if err := e.Platform.PatchStatus(ctx, connector.ID, orchestrator.StatusStopped); err != nil {
			logger.Error().Err(err).Msg("failed to patch status after cold deploy")
		}
		containersByConnectorID[connector.ID] = *created
		return
	}

	observedStatus := e.Orchestrator.StateConverter(container)

	if storedHash, ok := container.ExtractConnectorHash(); !ok || storedHash != connector.ContractHash {
		refreshed, ok := e.Orchestrator.Refresh(ctx, connector)
		if ok {
			metrics.ConnectorsUpdatedTotal.Inc()
			containersByConnectorID[connector.ID] = *refreshed
		} else {
			logger.Error().Msg("refresh failed")
		}
		return
	}

	if connector.CurrentStatus != "" && connector.CurrentStatus != observedStatus {
		if err := e.Platform.PatchStatus(ctx, connector.ID, observedStatus); err != nil {
			logger.Error().Err(err).Msg("failed to patch status")
		}
	}

	switch {
	case connector.RequestedStatus == orchestrator.RequestedStarting && observedStatus == orchestrator.StatusStopped:
		e.Orchestrator.Start(ctx, container, connector)
		metrics.ConnectorsStartedTotal.Inc()
	case connector.RequestedStatus == orchestrator.RequestedStopping && observedStatus == orchestrator.StatusStarted:
		e.Orchestrator.Stop(ctx, container, connector)
		metrics.ConnectorsStoppedTotal.Inc()
	}

	refreshed, ok, err := e.Orchestrator.Get(ctx, connector)
	if err != nil || !ok {
		return
	}

	if !e.shouldPush(connector.ID, connector.LogsSchedule) {
		return
	}

	if lines, ok := e.Orchestrator.Logs(ctx, *refreshed, connector); ok {
		// The platform has no concept of a log batch id; this one exists
		// purely to correlate this push's log lines across our own
		// structured logs, since the platform never echoes one back.
		batchID := uuid.NewString()
		if err := e.Platform.PatchLogs(ctx, connector.ID, lines); err != nil {
			logger.Error().Err(err).Str("log_batch_id", batchID).Msg("failed to patch logs")
		} else {
			logger.Debug().Str("log_batch_id", batchID).Int("lines", len(lines)).Msg("pushed logs")
		}
	}

	health := platform.HealthReport{
		RestartCount:   refreshed.RestartCount,
		StartedAt:      refreshed.StartedAt,
		IsInRebootLoop: IsInRebootLoop(refreshed.RestartCount, refreshed.StartedAt, time.Now()),
	}
	if err := e.Platform.PatchHealth(ctx, connector.ID, health); err != nil {
		logger.Error().Err(err).Msg("failed to patch health")
	}
}

func (e *Engine) removeOrphan(ctx context.Context, container orchestrator.Container, connectorID string) {
	if err := e.Orchestrator.Remove(ctx, container); err != nil {
		log.WithConnector(connectorID).Error().Err(err).Msg("failed to remove orphaned container")
		return
	}
	if err := e.Platform.NotifyContainerRemoved(ctx, connectorID); err != nil && err != platform.ErrNotSupported {
		log.WithConnector(connectorID).Error().Err(err).Msg("failed to notify platform of container removal")
	}
}

// shouldPush implements the per-connector log/health push cadence: push
// on the first opportunity, then wait at least schedule between pushes.
func (e *Engine) shouldPush(connectorID string, schedule time.Duration) bool {
	e.cadenceMu.Lock()
	defer e.cadenceMu.Unlock()

	last, ok := e.lastPushedAt[connectorID]
	now := time.Now()
	if ok && now.Sub(last) < schedule {
		return false
	}
	e.lastPushedAt[connectorID] = now
	return true
}
