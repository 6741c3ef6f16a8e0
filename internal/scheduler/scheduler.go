// Package scheduler drives an engine's reconciliation and alive-ping
// ticks on independent timers, one scheduler per configured platform.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/FiligranHQ/xtm-composer-sub000/internal/engine"
	"github.com/FiligranHQ/xtm-composer-sub000/internal/log"
)

// Scheduler runs two independent loops for one engine: a reconciliation
// loop on reconcileInterval and an alive-ping loop on aliveInterval.
// Neither loop overlaps itself: a tick that is still running when its
// own ticker fires again is simply skipped for that firing, since the
// ticks share no mutable scheduler state beyond the channel select.
type Scheduler struct {
	name              string
	engine            *engine.Engine
	reconcileInterval time.Duration
	aliveInterval     time.Duration

	mu     sync.Mutex
	stopCh chan struct{}
	doneCh chan struct{}
}

// New constructs a Scheduler for one platform. name identifies the
// platform in logs (e.g. its configured key).
func New(name string, e *engine.Engine, reconcileInterval, aliveInterval time.Duration) *Scheduler {
	return &Scheduler{
		name:              name,
		engine:            e,
		reconcileInterval: reconcileInterval,
		aliveInterval:     aliveInterval,
	}
}

// Start launches the reconciliation and alive-ping loops in the
// background. Start must not be called twice without an intervening
// Stop.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})
	s.mu.Unlock()

	go s.runReconciliation(ctx)
	go s.runAlivePing(ctx)
}

// Stop requests both loops to exit and blocks until the reconciliation
// loop has returned. A tick already in flight is allowed to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	stopCh := s.stopCh
	doneCh := s.doneCh
	s.mu.Unlock()

	if stopCh == nil {
		return
	}
	close(stopCh)
	<-doneCh
}

func (s *Scheduler) runReconciliation(ctx context.Context) {
	defer close(s.doneCh)

	ticker := time.NewTicker(s.reconcileInterval)
	defer ticker.Stop()

	logger := log.WithPlatform(s.name)

	for {
		select {
		case <-ticker.C:
			if err := s.engine.Tick(ctx); err != nil {
				logger.Error().Err(err).Msg("reconciliation tick returned an error")
			}
		case <-s.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (s *Scheduler) runAlivePing(ctx context.Context) {
	ticker := time.NewTicker(s.aliveInterval)
	defer ticker.Stop()

	logger := log.WithPlatform(s.name)

	for {
		select {
		case <-ticker.C:
			if err := s.engine.Platform.PingAlive(ctx); err != nil {
				logger.Warn().Err(err).Msg("alive ping failed")
			}
		case <-s.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}
