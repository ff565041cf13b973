package common

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigFromFile_KeepsDefaultsForMissingKeys(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("CNAP_DIR", dir)

	path := filepath.Join(dir, "agentkernel.yaml")
	yamlContent := `
app:
  env: development
agent:
  effort_level: high
checkpoint:
  auto_interval: 3
`
	require.NoError(t, os.WriteFile(path, []byte(yamlContent), 0o644))

	cfg, err := LoadConfigFromFile(path)
	require.NoError(t, err)

	assert.Equal(t, "development", cfg.App.ENV)
	assert.Equal(t, "high", cfg.Agent.EffortLevel)
	assert.Equal(t, 10, cfg.Agent.MaxSteps)
	assert.Equal(t, 3, cfg.Checkpoint.AutoInterval)
	assert.Equal(t, 10, cfg.Checkpoint.MaxCheckpoints)
	assert.True(t, cfg.Checkpoint.OnError)
	assert.True(t, cfg.Checkpoint.BeforeCompaction)
	assert.Equal(t, dir, cfg.Directory.CNAPDir)
	assert.Equal(t, filepath.Join(dir, "agentkernel.db"), cfg.Database.DSN)
}

func TestLoadConfigFromFile_EnvOverrides(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("CNAP_DIR", dir)
	t.Setenv("CNAP_CHECKPOINT_MAX", "4")
	t.Setenv("CNAP_CHECKPOINT_ON_ERROR", "false")
	t.Setenv("CNAP_SANDBOX_STOP_TIMEOUT", "3s")
	t.Setenv("CNAP_DB_DSN", "postgres://kernel@localhost/kernel")

	path := filepath.Join(dir, "agentkernel.yaml")
	require.NoError(t, os.WriteFile(path, []byte("checkpoint:\n  max_checkpoints: 7\n"), 0o644))

	cfg, err := LoadConfigFromFile(path)
	require.NoError(t, err)

	assert.Equal(t, 4, cfg.Checkpoint.MaxCheckpoints)
	assert.False(t, cfg.Checkpoint.OnError)
	assert.Equal(t, 3*time.Second, cfg.Sandbox.StopTimeout)
	assert.Equal(t, "postgres://kernel@localhost/kernel", cfg.Database.DSN)
}

func TestLoadConfigFromFile_Invalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broken.yaml")
	require.NoError(t, os.WriteFile(path, []byte("agent: [unterminated"), 0o644))

	_, err := LoadConfigFromFile(path)
	assert.Error(t, err)

	_, err = LoadConfigFromFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestLoadConfigFromEnv(t *testing.T) {
	t.Setenv("CNAP_DIR", "/tmp/kernel-test")
	t.Setenv("CNAP_AGENT_EFFORT", "low")
	t.Setenv("CNAP_COMPACTION_TARGET_RATIO", "0.25")
	t.Setenv("CNAP_CHECKPOINT_DIR", "/tmp/kernel-test/cp")

	cfg, err := LoadConfigFromEnv()
	require.NoError(t, err)

	assert.Equal(t, "low", cfg.Agent.EffortLevel)
	assert.InDelta(t, 0.25, cfg.Compaction.TargetRatio, 1e-9)
	assert.Equal(t, "/tmp/kernel-test/cp", cfg.Directory.CheckpointDir)
	assert.NoError(t, cfg.Validate())
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{name: "defaults", mutate: func(*Config) {}},
		{name: "bad effort", mutate: func(c *Config) { c.Agent.EffortLevel = "extreme" }, wantErr: true},
		{name: "zero max steps", mutate: func(c *Config) { c.Agent.MaxSteps = 0 }, wantErr: true},
		{name: "zero max checkpoints", mutate: func(c *Config) { c.Checkpoint.MaxCheckpoints = 0 }, wantErr: true},
		{name: "negative interval", mutate: func(c *Config) { c.Checkpoint.AutoInterval = -1 }, wantErr: true},
		{name: "interval disabled", mutate: func(c *Config) { c.Checkpoint.AutoInterval = 0 }},
		{name: "ratio out of range", mutate: func(c *Config) { c.Compaction.TargetRatio = 1.5 }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestNewLoggerWithConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.App.ENV = "development"
	cfg.App.LogLevel = "debug"

	logger, err := NewLoggerWithConfig("kernel", cfg)
	require.NoError(t, err)
	assert.True(t, logger.Core().Enabled(-1))
}

func TestNewLoggerWithConfig_Defaults(t *testing.T) {
	logger, err := NewLoggerWithConfig("", nil)
	require.NoError(t, err)
	assert.False(t, logger.Core().Enabled(-1))
	assert.True(t, logger.Core().Enabled(0))
}

func TestNewLoggerWithConfig_InvalidLevel(t *testing.T) {
	cfg := DefaultConfig()
	cfg.App.LogLevel = "loud"

	_, err := NewLoggerWithConfig("kernel", cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "app.log_level")
}
