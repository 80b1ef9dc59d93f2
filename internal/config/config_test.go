package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	apperrors "github.com/RMMwalali/kraftbasic-sub001/internal/errors"
)

func TestDefaults(t *testing.T) {
	c := Default()

	require.True(t, c.Sync.OfflineModeEnabled)
	require.Equal(t, 30*time.Second, c.Sync.DrainInterval)
	require.Equal(t, 3, c.Sync.MaxRetries)
	require.Equal(t, BackoffFixed, c.Sync.Backoff)
	require.Equal(t, WriteFailureQueue, c.Sync.WriteFailurePolicy)
	require.Zero(t, c.Sync.RemoteTimeout)
	require.Equal(t, SinkLog, c.DeadLetter.Sink)
	require.NoError(t, c.Validate())
}

func TestLoadFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "kraftsync.yaml")
	yaml := `
sync:
  drain_interval: 5s
  max_retries: 5
  backoff: exponential
storage:
  driver: memory
deadletter:
  sink: store
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o600))
	t.Setenv("KRAFTSYNC_SYNC_WRITE_FAILURE_POLICY", "fail")
	t.Setenv("KRAFTSYNC_LOGGING_LEVEL", "debug")

	c, err := LoadFile(path)
	require.NoError(t, err)
	require.Equal(t, 5*time.Second, c.Sync.DrainInterval)
	require.Equal(t, 5, c.Sync.MaxRetries)
	require.Equal(t, BackoffExponential, c.Sync.Backoff)
	require.Equal(t, WriteFailureFail, c.Sync.WriteFailurePolicy)
	require.Equal(t, DriverMemory, c.Storage.Driver)
	require.Equal(t, SinkStore, c.DeadLetter.Sink)
	require.Equal(t, "debug", c.Logging.Level)
}

func TestLoadFileMissingExplicitPath(t *testing.T) {
	_, err := LoadFile(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
	require.True(t, apperrors.Is(err, apperrors.ErrInvalid))
}

func TestLoadWithoutFile(t *testing.T) {
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(t.TempDir()))
	t.Cleanup(func() { _ = os.Chdir(wd) })
	t.Setenv(FileEnv, "")
	t.Setenv("KRAFTSYNC_STORAGE_DRIVER", "redis")

	c, err := Load()
	require.NoError(t, err)
	require.Equal(t, DriverRedis, c.Storage.Driver)
}

func TestValidateRejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"zero interval", func(c *Config) { c.Sync.DrainInterval = 0 }},
		{"no retries", func(c *Config) { c.Sync.MaxRetries = 0 }},
		{"unknown backoff", func(c *Config) { c.Sync.Backoff = "jitter" }},
		{"exponential without base", func(c *Config) {
			c.Sync.Backoff = BackoffExponential
			c.Sync.BackoffBase = 0
		}},
		{"unknown policy", func(c *Config) { c.Sync.WriteFailurePolicy = "drop" }},
		{"negative timeout", func(c *Config) { c.Sync.RemoteTimeout = -time.Second }},
		{"unknown driver", func(c *Config) { c.Storage.Driver = "etcd" }},
		{"nsq without topic", func(c *Config) {
			c.DeadLetter.Sink = SinkNSQ
			c.DeadLetter.Topic = ""
		}},
		{"bad level", func(c *Config) { c.Logging.Level = "loud" }},
		{"probe without interval", func(c *Config) {
			c.Connectivity.HealthURL = "http://localhost/healthz"
			c.Connectivity.ProbeInterval = 0
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := Default()
			tt.mutate(&c)
			err := c.Validate()
			require.Error(t, err)
			require.True(t, apperrors.Is(err, apperrors.ErrInvalid))
		})
	}
}
