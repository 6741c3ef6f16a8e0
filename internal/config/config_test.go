package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfigFile(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name+".yaml"), []byte(content), 0o600))
}

func TestLoadDecodesDefaultFile(t *testing.T) {
	dir := t.TempDir()
	writeConfigFile(t, dir, "default", `
manager:
  id: mgr-1
  name: test-manager
  logger:
    level: debug
    format: pretty
opencti:
  enable: true
  url: https://opencti.example.com
  token: tok-secret
  logs_schedule: 30s
  daemon:
    selector: docker
    registry:
      refresh_threshold: 0.75
prometheus:
  port: 9100
`)

	cfg, err := Load(dir, "")
	require.NoError(t, err)

	assert.Equal(t, "mgr-1", cfg.Manager.ID)
	assert.Equal(t, "test-manager", cfg.Manager.Name)
	assert.Equal(t, "debug", cfg.Manager.Logger.Level)
	assert.True(t, cfg.OpenCTI.Enable)
	assert.Equal(t, "https://opencti.example.com", cfg.OpenCTI.URL)
	assert.Equal(t, "tok-secret", cfg.OpenCTI.Token.Expose())
	assert.Equal(t, 30*time.Second, cfg.OpenCTI.LogsSchedule)
	assert.Equal(t, "docker", cfg.OpenCTI.Daemon.Selector)
	assert.Equal(t, 0.75, cfg.OpenCTI.Daemon.Registry.RefreshThreshold)
	assert.Equal(t, 9100, cfg.Prometheus.Port)
}

func TestLoadMergesRunModeOverride(t *testing.T) {
	dir := t.TempDir()
	writeConfigFile(t, dir, "default", `
manager:
  name: base-manager
opencti:
  url: https://base.example.com
`)
	writeConfigFile(t, dir, "staging", `
opencti:
  url: https://staging.example.com
`)

	cfg, err := Load(dir, "staging")
	require.NoError(t, err)

	assert.Equal(t, "base-manager", cfg.Manager.Name)
	assert.Equal(t, "https://staging.example.com", cfg.OpenCTI.URL)
}

func TestLoadDefaultsLoggerWhenUnset(t *testing.T) {
	dir := t.TempDir()
	writeConfigFile(t, dir, "default", `
manager:
  name: bare-manager
`)

	cfg, err := Load(dir, "")
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.Manager.Logger.Level)
	assert.Equal(t, "json", cfg.Manager.Logger.Format)
}

func TestSecretFieldsAreRedactedButDecodeCorrectly(t *testing.T) {
	dir := t.TempDir()
	writeConfigFile(t, dir, "default", `
opencti:
  token: super-secret-token
  daemon:
    registry:
      username: reguser
      password: regpass
`)

	cfg, err := Load(dir, "")
	require.NoError(t, err)

	assert.Equal(t, "super-secret-token", cfg.OpenCTI.Token.Expose())
	assert.NotContains(t, cfg.OpenCTI.Token.String(), "super-secret-token")
	assert.Equal(t, "reguser", cfg.OpenCTI.Daemon.Registry.Username.Expose())
	assert.Equal(t, "regpass", cfg.OpenCTI.Daemon.Registry.Password.Expose())
}
