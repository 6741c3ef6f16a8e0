package kubernetes

import (
	"context"
	"time"

	"github.com/FiligranHQ/xtm-composer-sub000/internal/log"
	"github.com/FiligranHQ/xtm-composer-sub000/internal/registry"
)

const defaultSecretTTL = 30 * time.Minute

// SecretRefresher periodically re-materializes the imagePullSecret ahead
// of its assumed expiry, so a long-lived connector never starts failing
// image pulls because a credential silently went stale. It runs only
// when auto_refresh_secret is set and both registry credentials are
// configured.
type SecretRefresher struct {
	orchestrator *Orchestrator
	config       *registry.Config

	stopCh chan struct{}
	doneCh chan struct{}
}

// NewSecretRefresher constructs a refresher for orchestrator's registry.
func NewSecretRefresher(orchestrator *Orchestrator, config *registry.Config) *SecretRefresher {
	return &SecretRefresher{
		orchestrator: orchestrator,
		config:       config,
		stopCh:       make(chan struct{}),
		doneCh:       make(chan struct{}),
	}
}

// Start launches the refresh loop in a new goroutine. It is a no-op
// (but still closes doneCh immediately) when auto-refresh is disabled
// or credentials are missing.
func (r *SecretRefresher) Start(ctx context.Context) {
	if r.config == nil || !r.config.AutoRefreshSecret {
		log.Logger.Info().Msg("kubernetes imagePullSecret auto-refresh is disabled")
		close(r.doneCh)
		return
	}
	if !r.config.HasCredentials() {
		log.Logger.Warn().Msg("imagePullSecret auto-refresh enabled but credentials are missing, disabling")
		close(r.doneCh)
		return
	}

	threshold := r.config.RefreshThreshold
	if threshold <= 0 || threshold >= 1 {
		log.Logger.Warn().Float64("threshold", threshold).Msg("invalid refresh_threshold, using default 0.8")
		threshold = 0.8
	}

	go r.loop(ctx, threshold)
}

func (r *SecretRefresher) loop(ctx context.Context, threshold float64) {
	defer close(r.doneCh)

	ttl := r.config.TokenTTL
	if ttl <= 0 {
		ttl = defaultSecretTTL
	}
	interval := time.Duration(float64(ttl) * threshold)

	log.Logger.Info().Dur("interval", interval).Msg("starting kubernetes secret auto-refresh loop")

	timer := time.NewTimer(interval)
	defer timer.Stop()

	for {
		select {
		case <-r.stopCh:
			return
		case <-ctx.Done():
			return
		case <-timer.C:
			r.refreshOnce(ctx)
			timer.Reset(interval)
		}
	}
}

func (r *SecretRefresher) refreshOnce(ctx context.Context) {
	log.Logger.Info().Msg("refreshing kubernetes imagePullSecret")
	creds := r.orchestrator.resolver.BuildCredentials()
	secretName, err := r.orchestrator.ensureImagePullSecret(ctx, creds)
	if err != nil {
		log.Logger.Error().Err(err).Msg("failed to refresh imagePullSecret, will retry next cycle")
		return
	}
	log.Logger.Info().Str("secret", secretName).Msg("successfully refreshed imagePullSecret")
}

// Stop signals the refresh loop to exit and waits for it to do so.
func (r *SecretRefresher) Stop() {
	select {
	case <-r.doneCh:
		return
	default:
	}
	close(r.stopCh)
	<-r.doneCh
}
