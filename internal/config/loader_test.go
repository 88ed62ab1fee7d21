package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	require.Equal(t, "https://app.tibber.com/login.credentials", cfg.API.AuthURL)
	require.Equal(t, "https://app.tibber.com/v4/gql", cfg.API.GraphQLURL)
	require.Equal(t, 3, cfg.API.MaxRetries)
	require.Equal(t, time.Second, cfg.API.BaseDelay)
	require.Equal(t, time.Minute, cfg.API.MaxDelay)

	require.Equal(t, 80.0, cfg.Rate.HourlyLimit)
	require.Equal(t, time.Hour, cfg.Rate.HourlyWindow)
	require.Equal(t, 20.0, cfg.Rate.BurstLimit)
	require.Equal(t, 15*time.Minute, cfg.Rate.BurstWindow)
	require.Equal(t, time.Minute, cfg.Rate.SaveInterval)

	require.Equal(t, "libsql", cfg.Store.Driver)
	require.Equal(t, 8787, cfg.Server.Port)
	require.Equal(t, "info", cfg.Logging.Level)
}

func TestLoadEnvironmentOverrides(t *testing.T) {
	t.Setenv("GRIDLENS_ACCOUNT_EMAIL", "env@example.com")
	t.Setenv("GRIDLENS_RATE_HOURLY_LIMIT", "40")
	t.Setenv("GRIDLENS_API_REQUEST_TIMEOUT", "5s")

	cfg, err := Load("")
	require.NoError(t, err)

	require.Equal(t, "env@example.com", cfg.Account.Email)
	require.Equal(t, 40.0, cfg.Rate.HourlyLimit)
	require.Equal(t, 5*time.Second, cfg.API.RequestTimeout)
}

func TestLoadExplicitConfigFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "gridlens.yaml")
	content := `
account:
  email: file@example.com
  home_id: 11111111-2222-3333-4444-555555555555
api:
  base_delay: 2s
server:
  port: 9900
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	require.Equal(t, "file@example.com", cfg.Account.Email)
	require.Equal(t, "11111111-2222-3333-4444-555555555555", cfg.Account.HomeID)
	require.Equal(t, 2*time.Second, cfg.API.BaseDelay)
	require.Equal(t, 9900, cfg.Server.Port)

	// Untouched keys keep their defaults.
	require.Equal(t, "https://app.tibber.com/v4/gql", cfg.API.GraphQLURL)
	require.Equal(t, 80.0, cfg.Rate.HourlyLimit)
}

func TestLoadMissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}
