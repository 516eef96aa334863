package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadAppliesFileThenEnvOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	body := `{
		// postgres connection
		"postgres": {"dsn": "postgres://file-dsn"},
		"gateway": {"listen_addr": ":7000", "max_in_flight": 10}
	}`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	t.Setenv("PRIVCHAT_GATEWAY_MAX_IN_FLIGHT", "99")

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "postgres://file-dsn", cfg.Postgres.DSN)
	require.Equal(t, ":7000", cfg.Gateway.ListenAddr)
	require.Equal(t, 99, cfg.Gateway.MaxInFlight)
}

func TestLoadWithEmptyPathReturnsDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, 1024, cfg.Gateway.MaxInFlight)
	require.Equal(t, 500, cfg.OfflineQueue.MaxLen)
}

func TestApplyFlagsOutranksEverythingElse(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	cfg.Gateway.ListenAddr = ":7000"

	cfg = ApplyFlags(cfg, ":9000", "")
	require.Equal(t, ":9000", cfg.Gateway.ListenAddr)
}

func TestValidateRejectsMissingDSN(t *testing.T) {
	cfg, err := Default()
	require.NoError(t, err)
	cfg.Auth.Key = make([]byte, 32)
	err = Validate(cfg)
	require.Error(t, err)
}

func TestValidateAcceptsWellFormedConfig(t *testing.T) {
	cfg, err := Default()
	require.NoError(t, err)
	cfg.Postgres.DSN = "postgres://localhost/privchat"
	cfg.Auth.Key = make([]byte, 32)
	require.NoError(t, Validate(cfg))
}

func TestValidateRejectsShortAuthKey(t *testing.T) {
	cfg, err := Default()
	require.NoError(t, err)
	cfg.Postgres.DSN = "postgres://localhost/privchat"
	cfg.Auth.Key = []byte("too-short")
	require.Error(t, Validate(cfg))
}
