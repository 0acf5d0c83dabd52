// Package demo boots a small mixed workload on a kernel so the introspection
// service has something to show: a forked pipe pipeline, a real-time sensor
// feeding a message queue, event-flag notifications and mutex contention
// over mapped memory.
//
// Every simulated process is driven by one goroutine issuing its system
// calls. A process killed from outside (for example through the API) ends
// its goroutine quietly.
package demo

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sandiphembram2021/kronos-operating-system/internal/kernel"
	"github.com/sandiphembram2021/kronos-operating-system/internal/kernel/ipc"
	"github.com/sandiphembram2021/kronos-operating-system/internal/kernel/kerr"
	"github.com/sandiphembram2021/kronos-operating-system/internal/kernel/mm"
	"github.com/sandiphembram2021/kronos-operating-system/internal/kernel/proc"
)

const (
	sensorQueueKey ipc.Key = 0x5e45
	sampleReady            = 0x1
	batchSize              = 10
	workers                = 3
	sensorPriority         = proc.Priority(10)
)

// Workload is a running demo.
type Workload struct {
	k      *kernel.Kernel
	logger *zap.Logger
}

// New prepares a workload on k.
func New(k *kernel.Kernel, logger *zap.Logger) *Workload {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Workload{k: k, logger: logger.Named("demo")}
}

// Run starts every actor and blocks until ctx ends. All demo processes have
// exited and been reaped when it returns.
func (w *Workload) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, ctx := errgroup.WithContext(ctx)

	var err error
	for _, start := range []func(context.Context, *errgroup.Group) error{w.pipeline, w.sensor, w.workers} {
		if err = start(ctx, g); err != nil {
			cancel()
			break
		}
	}

	waitErr := g.Wait()
	w.reapOrphans()
	if err != nil {
		return err
	}
	return waitErr
}

// actor runs body on behalf of pid until it fails or ctx ends, then exits
// the process.
func (w *Workload) actor(ctx context.Context, g *errgroup.Group, name string, pid proc.PID, body func(ctx context.Context) error) {
	g.Go(func() error {
		err := body(ctx)
		switch {
		case ctx.Err() != nil:
			err = nil
		case errors.Is(err, kerr.ErrProcessExited), errors.Is(err, kerr.ErrNoProcess):
			w.logger.Info("process ended", zap.String("actor", name), zap.Uint32("pid", uint32(pid)))
			return nil
		case err != nil:
			w.logger.Warn("actor failed", zap.String("actor", name), zap.Uint32("pid", uint32(pid)), zap.Error(err))
		}
		code := 0
		if err != nil {
			code = 1
		}
		_ = w.k.Exit(pid, code)
		return nil
	})
}

// pipeline forks a producer into a producer/consumer pair joined by a pipe.
func (w *Workload) pipeline(ctx context.Context, g *errgroup.Group) error {
	producer, err := w.k.CreateProcess("producer", 0x400000, proc.PriorityNormal)
	if err != nil {
		return fmt.Errorf("create producer: %w", err)
	}
	rfd, wfd, err := w.k.Pipe(producer)
	if err != nil {
		return fmt.Errorf("pipe: %w", err)
	}
	consumer, err := w.k.Fork(producer)
	if err != nil {
		return fmt.Errorf("fork consumer: %w", err)
	}
	if err := w.k.Close(producer, rfd); err != nil {
		return err
	}
	if err := w.k.Close(consumer, wfd); err != nil {
		return err
	}

	w.actor(ctx, g, "producer", producer, func(ctx context.Context) error {
		for seq := 0; ; seq++ {
			msg := []byte(fmt.Sprintf("record %d", seq))
			if _, err := w.k.PipeWrite(ctx, producer, wfd, msg); err != nil {
				return err
			}
			if err := w.k.Sleep(ctx, producer, 20); err != nil {
				return err
			}
		}
	})
	w.actor(ctx, g, "consumer", consumer, func(ctx context.Context) error {
		for {
			data, err := w.k.PipeRead(ctx, consumer, rfd, 64, 0)
			if err != nil {
				return err
			}
			if len(data) == 0 {
				return nil
			}
			w.logger.Debug("consumed", zap.Int("bytes", len(data)))
		}
	})
	return nil
}

// sensor runs a real-time sampler, a collector draining its queue and a
// watcher woken by the collector every batch.
func (w *Workload) sensor(ctx context.Context, g *errgroup.Group) error {
	q, err := w.k.Msgget(sensorQueueKey, ipc.IPCCreat)
	if err != nil {
		return fmt.Errorf("msgget: %w", err)
	}
	ev, err := w.k.EventCreate(true)
	if err != nil {
		return fmt.Errorf("event create: %w", err)
	}

	sensor, err := w.k.CreateProcess("sensor", 0x500000, proc.PriorityHigh)
	if err != nil {
		return err
	}
	if err := w.k.SetRealtimePriority(sensor, sensorPriority); err != nil {
		return err
	}
	collector, err := w.k.CreateProcess("collector", 0x600000, proc.PriorityNormal)
	if err != nil {
		return err
	}
	watcher, err := w.k.CreateProcess("watcher", 0x700000, proc.PriorityLow)
	if err != nil {
		return err
	}

	w.actor(ctx, g, "sensor", sensor, func(ctx context.Context) error {
		buf := make([]byte, 8)
		for {
			binary.LittleEndian.PutUint64(buf, w.k.Ticks())
			if err := w.k.Msgsnd(ctx, sensor, q, 1, buf, 0); err != nil {
				return err
			}
			if err := w.k.Sleep(ctx, sensor, 10); err != nil {
				return err
			}
		}
	})
	w.actor(ctx, g, "collector", collector, func(ctx context.Context) error {
		for n := 1; ; n++ {
			if _, err := w.k.Msgrcv(ctx, collector, q, 64, 0, 0); err != nil {
				return err
			}
			if n%batchSize == 0 {
				if err := w.k.EventSet(ev, sampleReady); err != nil {
					return err
				}
			}
		}
	})
	w.actor(ctx, g, "watcher", watcher, func(ctx context.Context) error {
		for {
			if _, err := w.k.EventWait(ctx, watcher, ev, sampleReady, false, 0); err != nil {
				return err
			}
			if err := w.k.Yield(watcher); err != nil {
				return err
			}
		}
	})
	return nil
}

// workers contend for one mutex guarding a write to their own mapped page.
func (w *Workload) workers(ctx context.Context, g *errgroup.Group) error {
	mu, err := w.k.MutexCreate(false)
	if err != nil {
		return fmt.Errorf("mutex create: %w", err)
	}
	for i := 0; i < workers; i++ {
		pid, err := w.k.CreateProcess(fmt.Sprintf("worker-%d", i), 0x800000, proc.PriorityNormal)
		if err != nil {
			return err
		}
		if err := w.k.SetNice(pid, i*5); err != nil {
			return err
		}
		addr, err := w.k.Mmap(pid, 0, mm.PageSize, mm.ProtRead|mm.ProtWrite, mm.MapPrivate|mm.MapAnonymous, -1, 0)
		if err != nil {
			return fmt.Errorf("mmap: %w", err)
		}
		w.actor(ctx, g, "worker", pid, func(ctx context.Context) error {
			buf := make([]byte, 8)
			for n := uint64(0); ; n++ {
				if err := w.k.MutexLock(ctx, pid, mu, 0); err != nil {
					return err
				}
				binary.LittleEndian.PutUint64(buf, n)
				err := w.k.WriteMemory(pid, addr, buf)
				if unlockErr := w.k.MutexUnlock(pid, mu); err == nil {
					err = unlockErr
				}
				if err != nil {
					return err
				}
				if err := w.k.Sleep(ctx, pid, 5); err != nil {
					return err
				}
			}
		})
	}
	return nil
}

// reapOrphans collects the exit status of every zombie left to the idle
// process.
func (w *Workload) reapOrphans() {
	for _, p := range w.k.Processes() {
		if p.State != proc.StateZombie.String() || p.PPID != proc.IdlePID {
			continue
		}
		code, err := w.k.Reap(proc.IdlePID, p.PID)
		if err != nil {
			continue
		}
		w.logger.Debug("reaped", zap.Uint32("pid", uint32(p.PID)), zap.Int("code", code))
	}
}
