package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sandiphembram2021/kronos-operating-system/internal/demo"
	"github.com/sandiphembram2021/kronos-operating-system/internal/infrastructure/config"
	"github.com/sandiphembram2021/kronos-operating-system/internal/infrastructure/logging"
	"github.com/sandiphembram2021/kronos-operating-system/internal/infrastructure/monitoring"
	"github.com/sandiphembram2021/kronos-operating-system/internal/infrastructure/tracing"
	"github.com/sandiphembram2021/kronos-operating-system/internal/kernel"
	"github.com/sandiphembram2021/kronos-operating-system/internal/kernel/vfs"
	"github.com/sandiphembram2021/kronos-operating-system/internal/server"
)

const metricsRefreshMs = 1000

func main() {
	port := flag.String("port", "", "Introspection server port (overrides PORT)")
	dev := flag.Bool("dev", false, "Development logging")
	noDemo := flag.Bool("no-demo", false, "Boot without the demo workload")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	if *port != "" {
		cfg.Server.Port = *port
	}
	if *dev {
		cfg.Logging.Development = true
		cfg.Logging.Level = "debug"
	}
	if *noDemo {
		cfg.Demo.Enabled = false
	}

	logger, err := logging.New(logging.Config{
		Level:       cfg.Logging.Level,
		Development: cfg.Logging.Development,
		OutputPaths: []string{"stdout"},
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if err := run(cfg, logger.Logger); err != nil {
		logger.Fatal("kronosd failed", zap.Error(err))
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	var fs vfs.FS
	if cfg.Memory.SwapPath != "" {
		osfs, err := vfs.NewOSFS(cfg.Memory.SwapPath)
		if err != nil {
			return fmt.Errorf("swap directory: %w", err)
		}
		fs = osfs
	}

	k, err := kernel.New(cfg.Kernel(), fs, logger)
	if err != nil {
		return fmt.Errorf("boot: %w", err)
	}
	defer k.Shutdown()

	metrics := monitoring.NewMetrics(nil)
	tracer := tracing.New(k.BootID(), 0, logger.Named("trace"))
	k.Instrument(metrics.Hooks())
	k.Instrument(kernel.Hooks{Sched: tracer})

	if _, err := k.RegisterPeriodicTask("metrics-refresh", func() {
		metrics.Observe(k.Stats())
	}, metricsRefreshMs, 0); err != nil {
		return fmt.Errorf("register metrics task: %w", err)
	}

	logger.Info("Kernel booted",
		zap.String("boot_id", k.BootID().String()),
		zap.Int("max_processes", cfg.Scheduler.MaxProcesses),
		zap.Int("frames", cfg.Memory.Frames),
		zap.Uint32("tick_rate_hz", cfg.RTOS.TickRateHz),
		zap.String("address", cfg.Address()),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	g, ctx := errgroup.WithContext(ctx)

	period := time.Duration(cfg.Demo.TickPeriod) * time.Microsecond
	g.Go(func() error {
		return k.Run(ctx, period)
	})
	g.Go(func() error {
		return server.New(cfg, k, metrics, tracer, logger).Run(ctx)
	})
	if cfg.Demo.Enabled {
		g.Go(func() error {
			return demo.New(k, logger).Run(ctx)
		})
	}

	err = g.Wait()
	logger.Info("Shutting down", zap.Uint64("ticks", k.Ticks()))
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
