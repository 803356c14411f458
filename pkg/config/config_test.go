package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/multiscale/costeer/pkg/config"
)

func TestLoad_MissingFileYieldsDefaults(t *testing.T) {
	cfg, err := config.Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	require.Equal(t, config.ModeSingleHost, cfg.Mode)
	require.Equal(t, "registry-1", cfg.Registry.ID)
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "costeer.yaml")
	yaml := `
mode: distributed
data_dir: /var/lib/costeer
registry:
  id: registry-primary
  address: 10.0.0.1:9000
companions:
  - id: sim-a
    action_id: action_001
    goal: simulator
    cmd: ["./sim", "--config", "a.cfg"]
    cpu: 2
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o644))

	cfg, err := config.Load(path)
	require.NoError(t, err)
	require.Equal(t, config.ModeDistributed, cfg.Mode)
	require.Equal(t, "/var/lib/costeer", cfg.DataDir)
	require.Equal(t, "registry-primary", cfg.Registry.ID)
	require.Equal(t, "10.0.0.1:9000", cfg.Registry.Address)
	require.Len(t, cfg.Companions, 1)
	require.Equal(t, "simulator", cfg.Companions[0].Goal)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "costeer.yaml")
	require.NoError(t, os.WriteFile(path, []byte("data_dir: /from/file\n"), 0o644))

	t.Setenv("COSTEER_DATA_DIR", "/from/env")
	t.Setenv("COSTEER_LOG_LEVEL", "debug")

	cfg, err := config.Load(path)
	require.NoError(t, err)
	require.Equal(t, "/from/env", cfg.DataDir)
	require.Equal(t, "debug", cfg.Log.Level)
	require.Equal(t, "debug", string(cfg.LogLevel()))
}

func TestNewFabric_SingleHostNeedsNoKey(t *testing.T) {
	cfg := config.New()
	fabric, err := cfg.NewFabric("node-1")
	require.NoError(t, err)
	require.NotNil(t, fabric)
}

func TestNewFabric_DistributedRejectsMissingKey(t *testing.T) {
	cfg := config.New()
	cfg.Mode = config.ModeDistributed
	_, err := cfg.NewFabric("node-1")
	require.Error(t, err)
}

func TestNewFabric_DistributedAcceptsHexKey(t *testing.T) {
	cfg := config.New()
	cfg.Mode = config.ModeDistributed
	cfg.PresharedKeyHex = "deadbeef"
	fabric, err := cfg.NewFabric("node-1")
	require.NoError(t, err)
	require.NotNil(t, fabric)
}
