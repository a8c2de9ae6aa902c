package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	originalDir, _ := os.Getwd()
	tmpDir := t.TempDir()
	os.Chdir(tmpDir)
	defer os.Chdir(originalDir)

	cfg, err := Load()
	require.NoError(t, err)

	// Server defaults
	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 8081, cfg.Server.AdminPort)
	assert.Equal(t, 30*time.Second, cfg.Server.ReadTimeout)

	// Pool defaults mirror supervisor.DefaultConfig()
	assert.Equal(t, 4, cfg.Pool.PoolSize)
	assert.Equal(t, 1, cfg.Pool.MinWorkers)
	assert.Equal(t, 100, cfg.Pool.MaxWorkers)
	assert.Equal(t, 5*time.Second, cfg.Pool.HeartbeatInterval)
	assert.Equal(t, 15*time.Second, cfg.Pool.HeartbeatTimeout)
	assert.Equal(t, 30*time.Second, cfg.Pool.ZombieThreshold)
	assert.Equal(t, 5*time.Minute, cfg.Pool.TaskTimeout)
	assert.Equal(t, 3, cfg.Pool.MaxTaskRetries)
	assert.Equal(t, 1*time.Second, cfg.Pool.RetryBackoff)
	assert.Equal(t, 30*time.Second, cfg.Pool.MaxBackoff)
	assert.Equal(t, "round-robin", cfg.Pool.LoadBalancing)
	assert.True(t, cfg.Pool.AutoRestart)
	assert.Equal(t, 3, cfg.Pool.MaxRestartAttempts)
	assert.Equal(t, uint64(512), cfg.Pool.WorkerMemoryThresholdMB)
	assert.False(t, cfg.Pool.RestartOnMemory)
	assert.Equal(t, 1000, cfg.Pool.MaxQueueDepth)
	assert.Equal(t, "block", cfg.Pool.SubmitOnOverflow)
	assert.Equal(t, 50, cfg.Pool.ScaleUpQueueThreshold)
	assert.False(t, cfg.Pool.AutoScale)

	// Redis defaults (event mirror)
	assert.False(t, cfg.Redis.Enabled)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)

	// Metrics defaults
	assert.True(t, cfg.Metrics.Enabled)
	assert.Equal(t, "/metrics", cfg.Metrics.Path)

	// Auth defaults
	assert.False(t, cfg.Auth.Enabled)

	// Rate limit defaults
	assert.Equal(t, 1000, cfg.RateLimit.RPS)

	// Logging defaults
	assert.Equal(t, "info", cfg.LogLevel)
}

func TestLoad_WithConfigFile(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := tmpDir + "/config.yaml"

	configContent := `
server:
  host: "127.0.0.1"
  port: 9090

pool:
  poolsize: 8
  binarypath: "/usr/local/bin/poolworker"
  loadbalancing: "least-loaded"

loglevel: "warn"
`
	err := os.WriteFile(configPath, []byte(configContent), 0644)
	require.NoError(t, err)

	originalDir, _ := os.Getwd()
	os.Chdir(tmpDir)
	defer os.Chdir(originalDir)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1", cfg.Server.Host)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, 8, cfg.Pool.PoolSize)
	assert.Equal(t, "/usr/local/bin/poolworker", cfg.Pool.BinaryPath)
	assert.Equal(t, "least-loaded", cfg.Pool.LoadBalancing)
	assert.Equal(t, "warn", cfg.LogLevel)
}

func TestPoolConfig_ToSupervisorConfig(t *testing.T) {
	p := PoolConfig{
		BinaryPath:        "./poolworker",
		PoolSize:          4,
		MinWorkers:        1,
		MaxWorkers:        10,
		HeartbeatInterval: 5 * time.Second,
		HeartbeatTimeout:  15 * time.Second,
		ZombieThreshold:   30 * time.Second,
		TaskTimeout:       5 * time.Minute,
		MaxTaskRetries:    3,
		RetryBackoff:      1 * time.Second,
		MaxBackoff:        30 * time.Second,
		LoadBalancing:     "round-robin",
		SubmitOnOverflow:  "reject",
		ShutdownGrace:     5 * time.Minute,
	}

	sc := p.ToSupervisorConfig()

	assert.Equal(t, "./poolworker", sc.BinaryPath)
	assert.Equal(t, 4, sc.PoolSize)
	assert.Equal(t, int64(5000), sc.HeartbeatIntervalMS)
	assert.Equal(t, int64(15000), sc.HeartbeatTimeoutMS)
	assert.Equal(t, int64(30000), sc.ZombieThresholdMS)
	assert.Equal(t, int64(300000), sc.TaskTimeoutMS)
	assert.Equal(t, int64(1000), sc.RetryBackoffMS)
	assert.Equal(t, int64(30000), sc.MaxBackoffMS)
	assert.Equal(t, int64(300000), sc.ShutdownGraceMS)
	assert.EqualValues(t, "reject", sc.SubmitOnOverflow)
}

func TestServerConfig_Fields(t *testing.T) {
	cfg := ServerConfig{
		Host:         "localhost",
		Port:         8080,
		AdminPort:    8081,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	assert.Equal(t, "localhost", cfg.Host)
	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, 8081, cfg.AdminPort)
}
