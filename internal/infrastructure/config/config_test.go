package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sandiphembram2021/kronos-operating-system/internal/kernel"
	"github.com/sandiphembram2021/kronos-operating-system/internal/kernel/ipc"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, "8000", cfg.Server.Port)
	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, 256, cfg.Scheduler.MaxProcesses)
	assert.Equal(t, uint32(1000), cfg.RTOS.TickRateHz)
	assert.True(t, cfg.RTOS.Preemption)
	assert.Equal(t, 4096, cfg.Memory.Frames)
	assert.Equal(t, 4096, cfg.IPC.PipeBufferSize)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, 100, cfg.RateLimit.RequestsPerSecond)
	assert.NoError(t, cfg.Validate())
}

func TestDefaultRoundTripsKernelConfig(t *testing.T) {
	assert.Equal(t, kernel.DefaultConfig(), Default().Kernel())
}

func TestLoadWithEnvironmentVariables(t *testing.T) {
	envVars := map[string]string{
		"PORT":                       "9000",
		"HOST":                       "127.0.0.1",
		"KRONOS_MAX_PROCESSES":       "64",
		"KRONOS_TICK_RATE_HZ":        "100",
		"KRONOS_PREEMPTION":          "false",
		"KRONOS_PHYSICAL_FRAMES":     "512",
		"KRONOS_SWAP_SLOTS":          "0",
		"KRONOS_PIPE_BUFFER_SIZE":    "1024",
		"LOG_LEVEL":                  "debug",
		"LOG_DEV":                    "true",
		"KRONOS_RATE_LIMIT_RPS":      "500",
		"KRONOS_RATE_LIMIT_BURST":    "1000",
		"KRONOS_RATE_LIMIT_ENABLED":  "false",
		"KRONOS_RECLAIM_ON_PRESSURE": "false",
	}
	for key, value := range envVars {
		t.Setenv(key, value)
	}

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:9000", cfg.Address())
	assert.Equal(t, 64, cfg.Scheduler.MaxProcesses)
	assert.Equal(t, uint32(100), cfg.RTOS.TickRateHz)
	assert.False(t, cfg.RTOS.Preemption)
	assert.Equal(t, 512, cfg.Memory.Frames)
	assert.Zero(t, cfg.Memory.SwapSlots)
	assert.False(t, cfg.Memory.Reclaim)
	assert.Equal(t, 1024, cfg.IPC.PipeBufferSize)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.True(t, cfg.Logging.Development)
	assert.Equal(t, 500, cfg.RateLimit.RequestsPerSecond)
	assert.False(t, cfg.RateLimit.Enabled)

	kc := cfg.Kernel()
	assert.Equal(t, 64, kc.MaxProcesses)
	assert.Equal(t, 1024, kc.IPC.PipeBufferSize)
	assert.Equal(t, ipc.DefaultQueueDepth, kc.IPC.QueueDepth, "untouched settings keep their defaults")
}

func TestLoadRejectsBadValues(t *testing.T) {
	t.Setenv("KRONOS_MAX_PROCESSES", "not-a-number")
	_, err := Load()
	assert.Error(t, err)

	cfg := LoadOrDefault()
	assert.Equal(t, 256, cfg.Scheduler.MaxProcesses)
}

func TestFileOverlays(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		content string
	}{
		{
			name: "yaml",
			file: "kronos.yaml",
			content: `
scheduler:
  max_processes: 32
rtos:
  tick_rate_hz: 250
memory:
  physical_frames: 128
  swap_path: /var/lib/kronos
`,
		},
		{
			name: "toml",
			file: "kronos.toml",
			content: `
[scheduler]
max_processes = 32

[rtos]
tick_rate_hz = 250

[memory]
physical_frames = 128
swap_path = "/var/lib/kronos"
`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), tt.file)
			require.NoError(t, os.WriteFile(path, []byte(tt.content), 0o600))

			cfg, err := LoadFile(path)
			require.NoError(t, err)
			assert.Equal(t, 32, cfg.Scheduler.MaxProcesses)
			assert.Equal(t, uint32(250), cfg.RTOS.TickRateHz)
			assert.Equal(t, 128, cfg.Memory.Frames)
			assert.Equal(t, "/var/lib/kronos", cfg.Memory.SwapPath)
			assert.Equal(t, 1024, cfg.Memory.SwapSlots, "unset keys keep defaults")
		})
	}
}

func TestEnvironmentOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "kronos.yml")
	require.NoError(t, os.WriteFile(path, []byte("scheduler:\n  max_processes: 32\n"), 0o600))
	t.Setenv(FileEnv, path)
	t.Setenv("KRONOS_MAX_PROCESSES", "48")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 48, cfg.Scheduler.MaxProcesses)
}

func TestLoadFileErrors(t *testing.T) {
	_, err := LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "kronos.json")
	require.NoError(t, os.WriteFile(path, []byte("{}"), 0o600))
	_, err = LoadFile(path)
	assert.ErrorContains(t, err, "unsupported format")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{name: "no process slots", mutate: func(c *Config) { c.Scheduler.MaxProcesses = 1 }},
		{name: "zero tick rate", mutate: func(c *Config) { c.RTOS.TickRateHz = 0 }},
		{name: "zero frames", mutate: func(c *Config) { c.Memory.Frames = 0 }},
		{name: "negative swap", mutate: func(c *Config) { c.Memory.SwapSlots = -1 }},
		{name: "zero pipe buffer", mutate: func(c *Config) { c.IPC.PipeBufferSize = 0 }},
		{name: "zero time slice", mutate: func(c *Config) { c.Scheduler.TimeSliceTicks = 0 }},
		{name: "bad rate limit", mutate: func(c *Config) { c.RateLimit.Burst = 0 }},
		{name: "zero tick period", mutate: func(c *Config) { c.Demo.TickPeriod = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
