package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/goccy/go-yaml"
	"github.com/kelseyhightower/envconfig"
	"github.com/pelletier/go-toml/v2"

	"github.com/sandiphembram2021/kronos-operating-system/internal/kernel"
	"github.com/sandiphembram2021/kronos-operating-system/internal/kernel/ipc"
	"github.com/sandiphembram2021/kronos-operating-system/internal/kernel/rtos"
	"github.com/sandiphembram2021/kronos-operating-system/internal/kernel/sched"
)

// FileEnv names the environment variable pointing at an optional config
// file.
const FileEnv = "KRONOS_CONFIG"

// Config holds all daemon configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server" toml:"server"`
	Scheduler SchedulerConfig `yaml:"scheduler" toml:"scheduler"`
	RTOS      RTOSConfig      `yaml:"rtos" toml:"rtos"`
	Memory    MemoryConfig    `yaml:"memory" toml:"memory"`
	IPC       IPCConfig       `yaml:"ipc" toml:"ipc"`
	Logging   LogConfig       `yaml:"logging" toml:"logging"`
	RateLimit RateLimitConfig `yaml:"rate_limit" toml:"rate_limit"`
	Demo      DemoConfig      `yaml:"demo" toml:"demo"`
}

// ServerConfig holds introspection server configuration.
type ServerConfig struct {
	Port string `envconfig:"PORT" yaml:"port" toml:"port"`
	Host string `envconfig:"HOST" yaml:"host" toml:"host"`
}

// SchedulerConfig sizes the process table and tunes the scheduler.
type SchedulerConfig struct {
	MaxProcesses     int    `envconfig:"KRONOS_MAX_PROCESSES" yaml:"max_processes" toml:"max_processes"`
	TimeSliceTicks   uint64 `envconfig:"KRONOS_TIME_SLICE_TICKS" yaml:"time_slice_ticks" toml:"time_slice_ticks"`
	CFSPeriodNs      uint64 `envconfig:"KRONOS_CFS_PERIOD_NS" yaml:"cfs_period_ns" toml:"cfs_period_ns"`
	MinGranularityNs uint64 `envconfig:"KRONOS_CFS_MIN_GRANULARITY_NS" yaml:"cfs_min_granularity_ns" toml:"cfs_min_granularity_ns"`
	RTQueueSlots     int    `envconfig:"KRONOS_RT_QUEUE_SLOTS" yaml:"rt_queue_slots" toml:"rt_queue_slots"`
	RTTimeSliceTicks uint64 `envconfig:"KRONOS_RT_TIME_SLICE_TICKS" yaml:"rt_time_slice_ticks" toml:"rt_time_slice_ticks"`
}

// RTOSConfig configures the timer.
type RTOSConfig struct {
	TickRateHz       uint32 `envconfig:"KRONOS_TICK_RATE_HZ" yaml:"tick_rate_hz" toml:"tick_rate_hz"`
	MaxPeriodicTasks int    `envconfig:"KRONOS_MAX_PERIODIC_TASKS" yaml:"max_periodic_tasks" toml:"max_periodic_tasks"`
	MaxTimeouts      int    `envconfig:"KRONOS_MAX_TIMEOUTS" yaml:"max_timeouts" toml:"max_timeouts"`
	Preemption       bool   `envconfig:"KRONOS_PREEMPTION" yaml:"preemption" toml:"preemption"`
}

// MemoryConfig sizes physical memory and swap.
type MemoryConfig struct {
	Frames            int    `envconfig:"KRONOS_PHYSICAL_FRAMES" yaml:"physical_frames" toml:"physical_frames"`
	TLBEntries        int    `envconfig:"KRONOS_TLB_ENTRIES" yaml:"tlb_entries" toml:"tlb_entries"`
	SwapSlots         int    `envconfig:"KRONOS_SWAP_SLOTS" yaml:"swap_slots" toml:"swap_slots"`
	SwapPath          string `envconfig:"KRONOS_SWAP_PATH" yaml:"swap_path" toml:"swap_path"`
	SwapCooldownTicks uint64 `envconfig:"KRONOS_SWAP_COOLDOWN_TICKS" yaml:"swap_cooldown_ticks" toml:"swap_cooldown_ticks"`
	Reclaim           bool   `envconfig:"KRONOS_RECLAIM_ON_PRESSURE" yaml:"reclaim_on_pressure" toml:"reclaim_on_pressure"`
}

// IPCConfig sizes the IPC object tables.
type IPCConfig struct {
	MaxPipes       int `envconfig:"KRONOS_MAX_PIPES" yaml:"max_pipes" toml:"max_pipes"`
	PipeBufferSize int `envconfig:"KRONOS_PIPE_BUFFER_SIZE" yaml:"pipe_buffer_size" toml:"pipe_buffer_size"`
	MaxQueues      int `envconfig:"KRONOS_MAX_QUEUES" yaml:"max_queues" toml:"max_queues"`
	QueueDepth     int `envconfig:"KRONOS_QUEUE_DEPTH" yaml:"queue_depth" toml:"queue_depth"`
	MaxMessageSize int `envconfig:"KRONOS_MAX_MESSAGE_SIZE" yaml:"max_message_size" toml:"max_message_size"`
	MaxSemaphores  int `envconfig:"KRONOS_MAX_SEMAPHORES" yaml:"max_semaphores" toml:"max_semaphores"`
	MaxMutexes     int `envconfig:"KRONOS_MAX_MUTEXES" yaml:"max_mutexes" toml:"max_mutexes"`
	MaxEvents      int `envconfig:"KRONOS_MAX_EVENTS" yaml:"max_events" toml:"max_events"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level       string `envconfig:"LOG_LEVEL" yaml:"level" toml:"level"`
	Development bool   `envconfig:"LOG_DEV" yaml:"development" toml:"development"`
}

// RateLimitConfig holds per-client API rate limiting.
type RateLimitConfig struct {
	RequestsPerSecond int  `envconfig:"KRONOS_RATE_LIMIT_RPS" yaml:"requests_per_second" toml:"requests_per_second"`
	Burst             int  `envconfig:"KRONOS_RATE_LIMIT_BURST" yaml:"burst" toml:"burst"`
	Enabled           bool `envconfig:"KRONOS_RATE_LIMIT_ENABLED" yaml:"enabled" toml:"enabled"`
}

// DemoConfig controls the workload kronosd boots with.
type DemoConfig struct {
	Enabled    bool `envconfig:"KRONOS_DEMO" yaml:"enabled" toml:"enabled"`
	TickPeriod int  `envconfig:"KRONOS_TICK_PERIOD_US" yaml:"tick_period_us" toml:"tick_period_us"`
}

// Default returns the boot defaults.
func Default() *Config {
	kc := kernel.DefaultConfig()
	return &Config{
		Server: ServerConfig{
			Port: "8000",
			Host: "0.0.0.0",
		},
		Scheduler: SchedulerConfig{
			MaxProcesses:     kc.MaxProcesses,
			TimeSliceTicks:   kc.Scheduler.TimeSliceTicks,
			CFSPeriodNs:      kc.Scheduler.CFSPeriodNs,
			MinGranularityNs: kc.Scheduler.MinGranularityNs,
			RTQueueSlots:     kc.Scheduler.RTQueueSlots,
			RTTimeSliceTicks: kc.Scheduler.RTTimeSliceTicks,
		},
		RTOS: RTOSConfig{
			TickRateHz:       kc.RTOS.TickRateHz,
			MaxPeriodicTasks: kc.RTOS.MaxPeriodicTasks,
			MaxTimeouts:      kc.RTOS.MaxTimeouts,
			Preemption:       kc.RTOS.Preemption,
		},
		Memory: MemoryConfig{
			Frames:            kc.Memory.Frames,
			TLBEntries:        kc.Memory.TLBEntries,
			SwapSlots:         kc.Memory.SwapSlots,
			SwapCooldownTicks: kc.Memory.SwapCooldownTicks,
			Reclaim:           kc.Memory.Reclaim,
		},
		IPC: IPCConfig{
			MaxPipes:       kc.IPC.MaxPipes,
			PipeBufferSize: kc.IPC.PipeBufferSize,
			MaxQueues:      kc.IPC.MaxQueues,
			QueueDepth:     kc.IPC.QueueDepth,
			MaxMessageSize: kc.IPC.MaxMessageSize,
			MaxSemaphores:  kc.IPC.MaxSemaphores,
			MaxMutexes:     kc.IPC.MaxMutexes,
			MaxEvents:      kc.IPC.MaxEvents,
		},
		Logging: LogConfig{
			Level:       "info",
			Development: false,
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: 100,
			Burst:             200,
			Enabled:           true,
		},
		Demo: DemoConfig{
			Enabled:    true,
			TickPeriod: 1000,
		},
	}
}

// Load builds the configuration in layers: defaults, then the file named by
// KRONOS_CONFIG if set, then environment variables.
func Load() (*Config, error) {
	cfg := Default()
	if path := os.Getenv(FileEnv); path != "" {
		if err := cfg.overlayFile(path); err != nil {
			return nil, err
		}
	}
	if err := envconfig.Process("", cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadOrDefault loads configuration or falls back to the defaults.
func LoadOrDefault() *Config {
	cfg, err := Load()
	if err != nil {
		return Default()
	}
	return cfg
}

// LoadFile overlays the defaults with a YAML or TOML file, chosen by
// extension.
func LoadFile(path string) (*Config, error) {
	cfg := Default()
	if err := cfg.overlayFile(path); err != nil {
		return nil, err
	}
	return cfg, cfg.Validate()
}

func (c *Config) overlayFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, c)
	case ".toml":
		err = toml.Unmarshal(data, c)
	default:
		return fmt.Errorf("config file %s: unsupported format", path)
	}
	if err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

// Validate rejects settings the kernel cannot boot with.
func (c *Config) Validate() error {
	var errs []error
	positive := func(name string, v int) {
		if v <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %d", name, v))
		}
	}
	positive("max_processes", c.Scheduler.MaxProcesses)
	positive("rt_queue_slots", c.Scheduler.RTQueueSlots)
	positive("max_periodic_tasks", c.RTOS.MaxPeriodicTasks)
	positive("max_timeouts", c.RTOS.MaxTimeouts)
	positive("physical_frames", c.Memory.Frames)
	positive("max_pipes", c.IPC.MaxPipes)
	positive("pipe_buffer_size", c.IPC.PipeBufferSize)
	positive("max_queues", c.IPC.MaxQueues)
	positive("queue_depth", c.IPC.QueueDepth)
	positive("max_message_size", c.IPC.MaxMessageSize)
	positive("max_semaphores", c.IPC.MaxSemaphores)
	positive("tick_period_us", c.Demo.TickPeriod)
	if c.Scheduler.MaxProcesses < 2 {
		errs = append(errs, errors.New("max_processes must leave room beside idle"))
	}
	if c.Scheduler.TimeSliceTicks == 0 {
		errs = append(errs, errors.New("time_slice_ticks must be positive"))
	}
	if c.RTOS.TickRateHz == 0 || c.RTOS.TickRateHz > 1_000_000 {
		errs = append(errs, fmt.Errorf("tick_rate_hz out of range: %d", c.RTOS.TickRateHz))
	}
	if c.Memory.SwapSlots < 0 {
		errs = append(errs, fmt.Errorf("swap_slots must not be negative, got %d", c.Memory.SwapSlots))
	}
	if c.RateLimit.Enabled && (c.RateLimit.RequestsPerSecond <= 0 || c.RateLimit.Burst <= 0) {
		errs = append(errs, errors.New("rate limit needs positive rps and burst"))
	}
	return errors.Join(errs...)
}

// Kernel converts the configuration into the kernel's boot parameters.
func (c *Config) Kernel() kernel.Config {
	return kernel.Config{
		MaxProcesses: c.Scheduler.MaxProcesses,
		Scheduler: sched.Config{
			TimeSliceTicks:   c.Scheduler.TimeSliceTicks,
			CFSPeriodNs:      c.Scheduler.CFSPeriodNs,
			MinGranularityNs: c.Scheduler.MinGranularityNs,
			RTQueueSlots:     c.Scheduler.RTQueueSlots,
			RTTimeSliceTicks: c.Scheduler.RTTimeSliceTicks,
		},
		RTOS: rtos.Config{
			TickRateHz:       c.RTOS.TickRateHz,
			MaxPeriodicTasks: c.RTOS.MaxPeriodicTasks,
			MaxTimeouts:      c.RTOS.MaxTimeouts,
			Preemption:       c.RTOS.Preemption,
		},
		Memory: kernel.MemoryConfig{
			Frames:            c.Memory.Frames,
			TLBEntries:        c.Memory.TLBEntries,
			Reclaim:           c.Memory.Reclaim,
			SwapSlots:         c.Memory.SwapSlots,
			SwapCooldownTicks: c.Memory.SwapCooldownTicks,
		},
		IPC: ipc.Config{
			MaxPipes:       c.IPC.MaxPipes,
			PipeBufferSize: c.IPC.PipeBufferSize,
			MaxQueues:      c.IPC.MaxQueues,
			QueueDepth:     c.IPC.QueueDepth,
			MaxMessageSize: c.IPC.MaxMessageSize,
			MaxSemaphores:  c.IPC.MaxSemaphores,
			MaxMutexes:     c.IPC.MaxMutexes,
			MaxEvents:      c.IPC.MaxEvents,
			WaitListLimit:  ipc.DefaultWaitListLimit,
		},
	}
}

// Address returns host:port for the introspection server.
func (c *Config) Address() string {
	return c.Server.Host + ":" + c.Server.Port
}
