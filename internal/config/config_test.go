package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dreamware/tabletcoord/internal/cluster"
)

// clearEnv blanks every variable the loaders read so the host environment
// cannot leak into a test.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"CONFIG_FILE", "NODE_LISTEN", "NODE_ADDR", "COORDINATOR_ADDR", "NODE_SERVICES",
		"NODE_READ_SPEED", "NODE_REPLACES", "NODE_VERIFY_INTERVAL", "RPC_TIMEOUT",
		"NODE_SEGMENT_SIZE", "HEALTH_INTERVAL", "HEALTH_MAX_FAILURES",
	} {
		t.Setenv(k, "")
	}
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadNodeDefaults(t *testing.T) {
	clearEnv(t)
	t.Setenv("COORDINATOR_ADDR", "http://coord:8080")

	cfg, err := LoadNode()
	require.NoError(t, err)
	assert.Equal(t, ":8081", cfg.Listen)
	assert.Equal(t, "http://127.0.0.1:8081", cfg.Addr)
	assert.Equal(t, "http://coord:8080", cfg.Coordinator)
	assert.True(t, cfg.Services.Has(cluster.MasterService))
	assert.True(t, cfg.Services.Has(cluster.BackupService))
	assert.Equal(t, cluster.InvalidServerId, cfg.Replaces)
	assert.Equal(t, 10*time.Second, cfg.VerifyInterval)
	assert.Equal(t, 5*time.Second, cfg.RPCTimeout)
}

func TestLoadNodeRequiresCoordinator(t *testing.T) {
	clearEnv(t)
	_, err := LoadNode()
	assert.ErrorIs(t, err, ErrMissing)
}

func TestLoadNodeFromEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv("COORDINATOR_ADDR", "coord:8080")
	t.Setenv("NODE_LISTEN", ":9000")
	t.Setenv("NODE_ADDR", "http://node-3:9000")
	t.Setenv("NODE_SERVICES", "master, ping")
	t.Setenv("NODE_READ_SPEED", "250")
	t.Setenv("NODE_REPLACES", "3.1")
	t.Setenv("NODE_VERIFY_INTERVAL", "250ms")
	t.Setenv("RPC_TIMEOUT", "2s")
	t.Setenv("NODE_SEGMENT_SIZE", "4096")

	cfg, err := LoadNode()
	require.NoError(t, err)
	assert.Equal(t, ":9000", cfg.Listen)
	assert.Equal(t, "http://node-3:9000", cfg.Addr)
	assert.Equal(t, cluster.NewServiceMask(cluster.MasterService, cluster.PingService), cfg.Services)
	assert.Equal(t, uint32(250), cfg.ReadSpeed)
	assert.Equal(t, cluster.NewServerId(3, 1), cfg.Replaces)
	assert.Equal(t, 250*time.Millisecond, cfg.VerifyInterval)
	assert.Equal(t, 2*time.Second, cfg.RPCTimeout)
	assert.Equal(t, uint32(4096), cfg.SegmentSize)
}

func TestLoadNodeInvalidValues(t *testing.T) {
	tests := []struct {
		key   string
		value string
	}{
		{"NODE_SERVICES", "master,teleport"},
		{"NODE_SERVICES", " , "},
		{"NODE_REPLACES", "7"},
		{"NODE_READ_SPEED", "fast"},
		{"NODE_VERIFY_INTERVAL", "soon"},
		{"RPC_TIMEOUT", "-1s"},
	}
	for _, tt := range tests {
		t.Run(tt.key+"="+tt.value, func(t *testing.T) {
			clearEnv(t)
			t.Setenv("COORDINATOR_ADDR", "coord")
			t.Setenv(tt.key, tt.value)
			_, err := LoadNode()
			assert.Error(t, err)
		})
	}
}

// TestLoadNodeFileThenEnv checks that the file overrides defaults and the
// environment overrides the file.
func TestLoadNodeFileThenEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv("CONFIG_FILE", writeConfig(t, `
node:
  listen: ":7000"
  coordinator: "http://file-coord:8080"
  services: "backup"
  read_speed: 90
  verify_interval: 30s
`))
	t.Setenv("NODE_READ_SPEED", "120")

	cfg, err := LoadNode()
	require.NoError(t, err)
	assert.Equal(t, ":7000", cfg.Listen)
	assert.Equal(t, "http://127.0.0.1:7000", cfg.Addr)
	assert.Equal(t, "http://file-coord:8080", cfg.Coordinator)
	assert.Equal(t, cluster.NewServiceMask(cluster.BackupService), cfg.Services)
	assert.Equal(t, uint32(120), cfg.ReadSpeed)
	assert.Equal(t, 30*time.Second, cfg.VerifyInterval)
}

func TestLoadConfigFileErrors(t *testing.T) {
	clearEnv(t)
	t.Setenv("COORDINATOR_ADDR", "coord")

	t.Setenv("CONFIG_FILE", filepath.Join(t.TempDir(), "missing.yaml"))
	_, err := LoadNode()
	assert.Error(t, err)

	t.Setenv("CONFIG_FILE", writeConfig(t, "node: [unbalanced"))
	_, err = LoadCoordinator()
	assert.Error(t, err)
}

func TestLoadCoordinator(t *testing.T) {
	clearEnv(t)

	cfg, err := LoadCoordinator()
	require.NoError(t, err)
	assert.Equal(t, Coordinator{Addr: ":8080", HealthInterval: 5 * time.Second, HealthMaxFailures: 3}, cfg)

	t.Setenv("CONFIG_FILE", writeConfig(t, `
coordinator:
  addr: ":9090"
  health_interval: 1s
  health_max_failures: 5
`))
	cfg, err = LoadCoordinator()
	require.NoError(t, err)
	assert.Equal(t, Coordinator{Addr: ":9090", HealthInterval: time.Second, HealthMaxFailures: 5}, cfg)

	t.Setenv("HEALTH_MAX_FAILURES", "2")
	t.Setenv("COORDINATOR_ADDR", ":1234")
	cfg, err = LoadCoordinator()
	require.NoError(t, err)
	assert.Equal(t, 2, cfg.HealthMaxFailures)
	assert.Equal(t, ":1234", cfg.Addr)

	t.Setenv("HEALTH_MAX_FAILURES", "0")
	_, err = LoadCoordinator()
	assert.Error(t, err)
}
