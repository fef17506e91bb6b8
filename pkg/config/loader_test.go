package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	home := t.TempDir()
	t.Setenv(EnvHomeDir, home)

	var cfg EnvConfig
	require.NoError(t, cfg.Load())

	require.Equal(t, home, cfg.Dirs().Home())
	require.DirExists(t, cfg.Dirs().State())
	require.DirExists(t, cfg.Dirs().Results())

	require.Equal(t, DefaultListenAddr, cfg.Coordinator.Listen)
	require.Equal(t, 10*time.Second, cfg.Coordinator.BarrierTimeout.Duration)
	require.Equal(t, 5*time.Second, cfg.Coordinator.ReplayGrace.Duration)
	require.Zero(t, cfg.Coordinator.DisconnectTimeout.Duration)
	require.Equal(t, "4KiB", cfg.Worker.Data.Start)
	require.Equal(t, "abort", cfg.Worker.Retry.OnFailure)
	require.Equal(t, filepath.Join(home, "results"), cfg.Results.Dir)
	require.Contains(t, cfg.Networks, "ipfs")
	require.Contains(t, cfg.Networks, "swarm")
}

func TestLoadTomlOverridesDefaults(t *testing.T) {
	home := t.TempDir()
	t.Setenv(EnvHomeDir, home)

	toml := `
[coordinator]
listen = "0.0.0.0:9000"
auto = true
connections = 3
barrier_timeout = "2s"
disconnect_timeout = "1m"

[worker.retry]
max_attempts = 5
on_failure = "skip"

[networks.ipfs]
api = "10.0.0.1:5001"
`
	require.NoError(t, os.WriteFile(filepath.Join(home, ".env.toml"), []byte(toml), 0o644))

	var cfg EnvConfig
	require.NoError(t, cfg.Load())

	require.Equal(t, "0.0.0.0:9000", cfg.Coordinator.Listen)
	require.True(t, cfg.Coordinator.Auto)
	require.Equal(t, 3, cfg.Coordinator.Connections)
	require.Equal(t, 2*time.Second, cfg.Coordinator.BarrierTimeout.Duration)
	require.Equal(t, time.Minute, cfg.Coordinator.DisconnectTimeout.Duration)
	// untouched keys keep their defaults.
	require.Equal(t, 5*time.Second, cfg.Coordinator.ReplayGrace.Duration)
	require.EqualValues(t, 5, cfg.Worker.Retry.MaxAttempts)
	require.Equal(t, "skip", cfg.Worker.Retry.OnFailure)

	var ipfs struct {
		API string `mapstructure:"api"`
	}
	require.NoError(t, cfg.Network("ipfs", &ipfs))
	require.Equal(t, "10.0.0.1:5001", ipfs.API)

	var swarm struct {
		API      string `mapstructure:"api"`
		DebugAPI string `mapstructure:"debug_api"`
	}
	require.NoError(t, cfg.Network("swarm", &swarm))
	require.Equal(t, "http://localhost:1633", swarm.API)
	require.Equal(t, "http://localhost:1635", swarm.DebugAPI)

	require.Error(t, cfg.Network("filecoin", &ipfs))
}

func TestEnvOverridesToml(t *testing.T) {
	home := t.TempDir()
	t.Setenv(EnvHomeDir, home)
	t.Setenv(EnvEndpoint, "coordinator:8040")

	toml := `
[worker]
endpoint = "elsewhere:8040"
`
	require.NoError(t, os.WriteFile(filepath.Join(home, ".env.toml"), []byte(toml), 0o644))

	var cfg EnvConfig
	require.NoError(t, cfg.Load())
	require.Equal(t, "coordinator:8040", cfg.Worker.Endpoint)
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	home := t.TempDir()
	t.Setenv(EnvHomeDir, home)

	toml := `
[worker.data]
op = "/"
`
	require.NoError(t, os.WriteFile(filepath.Join(home, ".env.toml"), []byte(toml), 0o644))

	var cfg EnvConfig
	require.Error(t, cfg.Load())
}
