// Package config loads process configuration from a default file, an
// optional environment-named override file, and OPENCTI_-prefixed
// environment variables, in that composition order.
package config

import (
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"

	"github.com/FiligranHQ/xtm-composer-sub000/internal/log"
	"github.com/FiligranHQ/xtm-composer-sub000/internal/secret"
)

// Manager holds process identity, logging and debug configuration.
type Manager struct {
	ID                     string        `mapstructure:"id"`
	Name                   string        `mapstructure:"name"`
	CredentialsKey         secret.String `mapstructure:"credentials_key"`
	CredentialsKeyFilepath string        `mapstructure:"credentials_key_filepath"`
	Logger                 Logger        `mapstructure:"logger"`
	Debug                  Debug         `mapstructure:"debug"`
}

// Logger mirrors manager.logger.*.
type Logger struct {
	Level     string `mapstructure:"level"`
	Format    string `mapstructure:"format"`
	Console   bool   `mapstructure:"console"`
	Directory string `mapstructure:"directory"`
}

// Debug mirrors manager.debug.*.
type Debug struct {
	ShowEnvVars          bool `mapstructure:"show_env_vars"`
	ShowSensitiveEnvVars bool `mapstructure:"show_sensitive_env_vars"`
}

// Registry mirrors a daemon's registry sub-block.
type Registry struct {
	Server            string        `mapstructure:"server"`
	Username          secret.String `mapstructure:"username"`
	Password          secret.String `mapstructure:"password"`
	Email             string        `mapstructure:"email"`
	AutoRefreshSecret bool          `mapstructure:"auto_refresh_secret"`
	RefreshThreshold  float64       `mapstructure:"refresh_threshold"`
	RetryAttempts     int           `mapstructure:"retry_attempts"`
	RetryDelay        time.Duration `mapstructure:"retry_delay"`
	TokenTTL          time.Duration `mapstructure:"token_ttl"`
}

// Docker mirrors a daemon's docker sub-block.
type Docker struct {
	NetworkMode string            `mapstructure:"network_mode"`
	ExtraHosts  []string          `mapstructure:"extra_hosts"`
	DNS         []string          `mapstructure:"dns"`
	DNSSearch   []string          `mapstructure:"dns_search"`
	Privileged  *bool             `mapstructure:"privileged"`
	CapAdd      []string          `mapstructure:"cap_add"`
	CapDrop     []string          `mapstructure:"cap_drop"`
	SecurityOpt []string          `mapstructure:"security_opt"`
	UsernsMode  string            `mapstructure:"userns_mode"`
	PidMode     string            `mapstructure:"pid_mode"`
	IpcMode     string            `mapstructure:"ipc_mode"`
	UtsMode     string            `mapstructure:"uts_mode"`
	Runtime     string            `mapstructure:"runtime"`
	ShmSize     int64             `mapstructure:"shm_size"`
	Sysctls     map[string]string `mapstructure:"sysctls"`
}

// Swarm mirrors a daemon's swarm sub-block.
type Swarm struct {
	ExtraHosts           []string          `mapstructure:"extra_hosts"`
	DNS                  []string          `mapstructure:"dns"`
	DNSSearch            []string          `mapstructure:"dns_search"`
	CapAdd               []string          `mapstructure:"cap_add"`
	CapDrop              []string          `mapstructure:"cap_drop"`
	Sysctls              map[string]string `mapstructure:"sysctls"`
	Hostname             string            `mapstructure:"hostname"`
	User                 string            `mapstructure:"user"`
	ReadOnly             *bool             `mapstructure:"read_only"`
	Init                 *bool             `mapstructure:"init"`
	Network              string            `mapstructure:"network"`
	PlacementConstraints []string          `mapstructure:"placement_constraints"`
	RestartCondition     string            `mapstructure:"restart_condition"`
}

// Kubernetes mirrors a daemon's kubernetes sub-block. BaseDeployment is
// left as the raw YAML manifest text here (a literal block scalar in
// the config file); the caller (internal/orchestrator/kubernetes)
// parses it into *appsv1.Deployment, since an apps/v1 manifest has its
// own well-known shape that mapstructure has no reason to learn.
type Kubernetes struct {
	Namespace       string `mapstructure:"namespace"`
	KubeconfigPath  string `mapstructure:"kubeconfig_path"`
	ImagePullPolicy string `mapstructure:"image_pull_policy"`
	BaseDeployment  string `mapstructure:"base_deployment"`
}

// Portainer mirrors a daemon's portainer sub-block.
type Portainer struct {
	API                string        `mapstructure:"api"`
	EnvID              string        `mapstructure:"env_id"`
	APIKey             secret.String `mapstructure:"api_key"`
	Version            string        `mapstructure:"api_version"`
	InsecureSkipVerify bool          `mapstructure:"insecure_skip_verify"`
}

// Daemon mirrors a platform's daemon.* block: which orchestrator to
// target and that orchestrator's own sub-configuration.
type Daemon struct {
	Selector   string     `mapstructure:"selector"`
	Docker     Docker     `mapstructure:"docker"`
	Swarm      Swarm      `mapstructure:"swarm"`
	Kubernetes Kubernetes `mapstructure:"kubernetes"`
	Portainer  Portainer  `mapstructure:"portainer"`
	Registry   Registry   `mapstructure:"registry"`
}

// Platform mirrors one of opencti/openaev/openbas's configuration
// block.
type Platform struct {
	Enable            bool          `mapstructure:"enable"`
	URL               string        `mapstructure:"url"`
	Token             secret.String `mapstructure:"token"`
	Daemon            Daemon        `mapstructure:"daemon"`
	LogsSchedule      time.Duration `mapstructure:"logs_schedule"`
	RequestTimeout    time.Duration `mapstructure:"request_timeout"`
	ConnectTimeout    time.Duration `mapstructure:"connect_timeout"`
	ReconcileInterval time.Duration `mapstructure:"reconcile_interval"`
	AliveInterval     time.Duration `mapstructure:"alive_interval"`
}

// Prometheus mirrors prometheus.*.
type Prometheus struct {
	Port int `mapstructure:"port"`
}

// Config is the full, decoded configuration tree.
type Config struct {
	Manager    Manager    `mapstructure:"manager"`
	OpenCTI    Platform   `mapstructure:"opencti"`
	OpenAEV    Platform   `mapstructure:"openaev"`
	OpenBAS    Platform   `mapstructure:"openbas"`
	Prometheus Prometheus `mapstructure:"prometheus"`
}

// Load composes configuration from <configDir>/default.yaml, an
// optional <configDir>/<runMode>.yaml override, and OPENCTI_-prefixed
// environment variables (nested keys joined by underscore), in that
// order. configDir defaults to "./config" when empty.
func Load(configDir, runMode string) (*Config, error) {
	if configDir == "" {
		configDir = "./config"
	}

	v := viper.New()
	v.SetConfigName("default")
	v.SetConfigType("yaml")
	v.AddConfigPath(configDir)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read default config: %w", err)
	}

	if runMode != "" {
		override := viper.New()
		override.SetConfigName(runMode)
		override.SetConfigType("yaml")
		override.AddConfigPath(configDir)
		if err := override.ReadInConfig(); err == nil {
			if mergeErr := v.MergeConfigMap(override.AllSettings()); mergeErr != nil {
				return nil, fmt.Errorf("merge %s config: %w", runMode, mergeErr)
			}
		}
	}

	v.SetEnvPrefix("opencti")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	decodeHook := mapstructure.ComposeDecodeHookFunc(
		secretStringDecodeHook,
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	)
	if err := v.Unmarshal(&cfg, viper.DecodeHook(decodeHook)); err != nil {
		return nil, fmt.Errorf("decode configuration: %w", err)
	}

	if cfg.Manager.Logger.Level == "" {
		cfg.Manager.Logger.Level = string(log.InfoLevel)
	}
	if cfg.Manager.Logger.Format == "" {
		cfg.Manager.Logger.Format = string(log.JSONFormat)
	}

	return &cfg, nil
}

// secretStringDecodeHook lets viper decode a plain string into
// secret.String without the config package special-casing every
// sensitive field by hand.
func secretStringDecodeHook(from, to reflect.Type, data interface{}) (interface{}, error) {
	if to != reflect.TypeOf(secret.String{}) {
		return data, nil
	}
	if from.Kind() != reflect.String {
		return data, nil
	}
	return secret.New(data.(string)), nil
}
