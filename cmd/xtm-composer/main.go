package main

import (
	"context"
	"crypto/rsa"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/FiligranHQ/xtm-composer-sub000/internal/config"
	"github.com/FiligranHQ/xtm-composer-sub000/internal/crypto"
	"github.com/FiligranHQ/xtm-composer-sub000/internal/engine"
	"github.com/FiligranHQ/xtm-composer-sub000/internal/log"
	"github.com/FiligranHQ/xtm-composer-sub000/internal/metrics"
	"github.com/FiligranHQ/xtm-composer-sub000/internal/orchestrator"
	"github.com/FiligranHQ/xtm-composer-sub000/internal/orchestrator/docker"
	"github.com/FiligranHQ/xtm-composer-sub000/internal/orchestrator/kubernetes"
	"github.com/FiligranHQ/xtm-composer-sub000/internal/orchestrator/portainer"
	"github.com/FiligranHQ/xtm-composer-sub000/internal/orchestrator/swarm"
	"github.com/FiligranHQ/xtm-composer-sub000/internal/platform"
	"github.com/FiligranHQ/xtm-composer-sub000/internal/platform/graphql"
	"github.com/FiligranHQ/xtm-composer-sub000/internal/platform/rest"
	"github.com/FiligranHQ/xtm-composer-sub000/internal/registry"
	"github.com/FiligranHQ/xtm-composer-sub000/internal/scheduler"
)

var (
	Version = "dev"
	Commit  = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "xtm-composer",
	Short: "Reconciles declarative connector intent from a platform into container workloads",
	Long: `xtm-composer is a long-running agent that keeps one or more
platform backends' desired connector state in sync with a local
container orchestrator (direct Docker daemon, Swarm, Kubernetes, or a
Portainer-proxied daemon).`,
	Version: Version,
	RunE:    run,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf("xtm-composer version %s\nCommit: %s\n", Version, Commit))
	rootCmd.PersistentFlags().String("config", "./config", "directory containing default.yaml and optional run-mode override")
	rootCmd.PersistentFlags().String("log-level", "", "override manager.logger.level")
	rootCmd.PersistentFlags().Bool("log-json", false, "force JSON log output regardless of manager.logger.format")
}

func run(cmd *cobra.Command, args []string) error {
	configDir, _ := cmd.Flags().GetString("config")
	runMode := os.Getenv("env")

	cfg, err := config.Load(configDir, runMode)
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	logLevel, _ := cmd.Flags().GetString("log-level")
	if logLevel == "" {
		logLevel = cfg.Manager.Logger.Level
	}
	logFormat := cfg.Manager.Logger.Format
	if forceJSON, _ := cmd.Flags().GetBool("log-json"); forceJSON {
		logFormat = string(log.JSONFormat)
	}
	log.Init(log.Config{Level: log.Level(logLevel), Format: log.Format(logFormat)})

	privateKey := crypto.LoadPrivateKey(cfg.Manager.CredentialsKeyFilepath, cfg.Manager.CredentialsKey.Expose())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	schedulers := make([]*scheduler.Scheduler, 0, 3)
	refreshers := make([]*kubernetes.SecretRefresher, 0, 3)

	platforms := []struct {
		name string
		kind string
		cfg  config.Platform
	}{
		{"opencti", "graphql", cfg.OpenCTI},
		{"openaev", "rest", cfg.OpenAEV},
		{"openbas", "rest", cfg.OpenBAS},
	}

	for _, p := range platforms {
		if !p.cfg.Enable {
			continue
		}

		plat := buildPlatform(p.kind, p.cfg, cfg.Manager.ID, cfg.Manager.Name, privateKey)

		orch, refresher, err := buildOrchestrator(p.name, cfg.Manager.ID, p.cfg.Daemon)
		if err != nil {
			return fmt.Errorf("build %s orchestrator: %w", p.name, err)
		}
		if refresher != nil {
			refresher.Start(ctx)
			refreshers = append(refreshers, refresher)
		}

		if err := plat.Register(ctx, cfg.Manager.ID, cfg.Manager.Name); err != nil {
			log.WithPlatform(p.name).Error().Err(err).Msg("failed to register manager with platform, continuing anyway")
		}

		e := engine.New(cfg.Manager.ID, orch, plat, privateKey)
		sched := scheduler.New(p.name, e, p.cfg.ReconcileInterval, p.cfg.AliveInterval)
		sched.Start(ctx)
		schedulers = append(schedulers, sched)

		log.Logger.Info().Str("platform", p.name).Str("selector", p.cfg.Daemon.Selector).Msg("platform reconciliation started")
	}

	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		addr := fmt.Sprintf(":%d", cfg.Prometheus.Port)
		if err := http.ListenAndServe(addr, mux); err != nil {
			log.Logger.Error().Err(err).Msg("metrics server stopped")
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh
	log.Logger.Info().Msg("shutting down")

	cancel()
	for _, sched := range schedulers {
		sched.Stop()
	}
	for _, refresher := range refreshers {
		refresher.Stop()
	}

	return nil
}

func buildPlatform(kind string, cfg config.Platform, managerID, managerName string, privateKey *rsa.PrivateKey) platform.Platform {
	daemonConfig := platform.DaemonConfiguration{Selector: platform.DaemonSelector(cfg.Daemon.Selector)}

	switch kind {
	case "graphql":
		return graphql.New(graphql.Options{
			URL:            cfg.URL,
			Token:          cfg.Token.Expose(),
			RequestTimeout: cfg.RequestTimeout,
			ConnectTimeout: cfg.ConnectTimeout,
			LogsSchedule:   cfg.LogsSchedule,
			Daemon:         daemonConfig,
			ManagerName:    managerName,
		})
	default:
		return rest.New(rest.Options{
			URL:            cfg.URL,
			Token:          cfg.Token.Expose(),
			RequestTimeout: cfg.RequestTimeout,
			ConnectTimeout: cfg.ConnectTimeout,
			LogsSchedule:   cfg.LogsSchedule,
			Daemon:         daemonConfig,
			PublicKey:      &privateKey.PublicKey,
			ManagerID:      managerID,
		})
	}
}

func buildOrchestrator(platformName, managerID string, d config.Daemon) (orchestrator.Orchestrator, *kubernetes.SecretRefresher, error) {
	registryConfig := &registry.Config{
		Server:            d.Registry.Server,
		Username:          d.Registry.Username,
		Password:          d.Registry.Password,
		Email:             d.Registry.Email,
		AutoRefreshSecret: d.Registry.AutoRefreshSecret,
		RefreshThreshold:  d.Registry.RefreshThreshold,
		RetryAttempts:     d.Registry.RetryAttempts,
		RetryDelay:        d.Registry.RetryDelay,
		TokenTTL:          d.Registry.TokenTTL,
	}
	resolver := registry.NewResolver(registryConfig)
	authCache := registry.NewAuthCache(d.Registry.TokenTTL)

	switch platform.DaemonSelector(d.Selector) {
	case platform.SelectorSwarm:
		orch, err := swarm.New(managerID, swarm.Options{
			ExtraHosts:           d.Swarm.ExtraHosts,
			DNS:                  d.Swarm.DNS,
			DNSSearch:            d.Swarm.DNSSearch,
			CapAdd:               d.Swarm.CapAdd,
			CapDrop:              d.Swarm.CapDrop,
			Sysctls:              d.Swarm.Sysctls,
			Hostname:             d.Swarm.Hostname,
			User:                 d.Swarm.User,
			ReadOnly:             d.Swarm.ReadOnly,
			Init:                 d.Swarm.Init,
			Network:              d.Swarm.Network,
			PlacementConstraints: d.Swarm.PlacementConstraints,
			RestartCondition:     d.Swarm.RestartCondition,
		}, resolver, authCache)
		return orch, nil, err

	case platform.SelectorKubernetes:
		baseDeployment, err := kubernetes.DecodeBaseDeployment(d.Kubernetes.BaseDeployment)
		if err != nil {
			return nil, nil, fmt.Errorf("decode base_deployment: %w", err)
		}
		orch, err := kubernetes.New(managerID, kubernetes.Options{
			Namespace:       d.Kubernetes.Namespace,
			KubeconfigPath:  d.Kubernetes.KubeconfigPath,
			ImagePullPolicy: d.Kubernetes.ImagePullPolicy,
			BaseDeployment:  baseDeployment,
		}, resolver, authCache)
		if err != nil {
			return nil, nil, err
		}
		refresher := kubernetes.NewSecretRefresher(orch, registryConfig)
		return orch, refresher, nil

	case platform.SelectorPortainer:
		orch, err := portainer.New(managerID, portainer.Options{
			API:                d.Portainer.API,
			EnvID:              d.Portainer.EnvID,
			APIKey:             d.Portainer.APIKey.Expose(),
			Version:            d.Portainer.Version,
			InsecureSkipVerify: d.Portainer.InsecureSkipVerify,
			DockerOptions: docker.Options{
				NetworkMode: d.Docker.NetworkMode,
				ExtraHosts:  d.Docker.ExtraHosts,
				DNS:         d.Docker.DNS,
				DNSSearch:   d.Docker.DNSSearch,
				Privileged:  d.Docker.Privileged,
				CapAdd:      d.Docker.CapAdd,
				CapDrop:     d.Docker.CapDrop,
				SecurityOpt: d.Docker.SecurityOpt,
				UsernsMode:  d.Docker.UsernsMode,
				PidMode:     d.Docker.PidMode,
				IpcMode:     d.Docker.IpcMode,
				UtsMode:     d.Docker.UtsMode,
				Runtime:     d.Docker.Runtime,
				ShmSize:     d.Docker.ShmSize,
				Sysctls:     d.Docker.Sysctls,
			},
		}, resolver, authCache)
		return orch, nil, err

	case platform.SelectorDocker, "":
		orch, err := docker.New(managerID, docker.Options{
			NetworkMode: d.Docker.NetworkMode,
			ExtraHosts:  d.Docker.ExtraHosts,
			DNS:         d.Docker.DNS,
			DNSSearch:   d.Docker.DNSSearch,
			Privileged:  d.Docker.Privileged,
			CapAdd:      d.Docker.CapAdd,
			CapDrop:     d.Docker.CapDrop,
			SecurityOpt: d.Docker.SecurityOpt,
			UsernsMode:  d.Docker.UsernsMode,
			PidMode:     d.Docker.PidMode,
			IpcMode:     d.Docker.IpcMode,
			UtsMode:     d.Docker.UtsMode,
			Runtime:     d.Docker.Runtime,
			ShmSize:     d.Docker.ShmSize,
			Sysctls:     d.Docker.Sysctls,
		}, resolver, authCache)
		return orch, nil, err

	default:
		log.Fatal(fmt.Sprintf("invalid daemon configuration for %s: %q", platformName, d.Selector))
		return nil, nil, nil
	}
}
