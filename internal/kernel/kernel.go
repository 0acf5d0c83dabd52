// Package kernel wires the scheduler, timing layer, memory manager, signals
// and IPC into one simulated single-CPU kernel.
//
// All subsystem state sits behind one lock, which stands in for disabling
// interrupts on the real target. Subsystems are state machines that never
// wait: an operation that cannot complete parks its caller and reports
// kerr.ErrWouldBlock. The Kernel methods turn that into a real wait by
// releasing the lock until the caller's wake future resolves or its context
// ends, then retrying the operation.
package kernel

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/sandiphembram2021/kronos-operating-system/internal/infrastructure/resilience"
	"github.com/sandiphembram2021/kronos-operating-system/internal/kernel/ipc"
	"github.com/sandiphembram2021/kronos-operating-system/internal/kernel/kerr"
	"github.com/sandiphembram2021/kronos-operating-system/internal/kernel/mm"
	"github.com/sandiphembram2021/kronos-operating-system/internal/kernel/proc"
	"github.com/sandiphembram2021/kronos-operating-system/internal/kernel/rtos"
	"github.com/sandiphembram2021/kronos-operating-system/internal/kernel/sched"
	"github.com/sandiphembram2021/kronos-operating-system/internal/kernel/signal"
	"github.com/sandiphembram2021/kronos-operating-system/internal/kernel/vfs"
	"github.com/sandiphembram2021/kronos-operating-system/internal/shared/id"
)

// DefaultMaxProcesses is the process table capacity, idle included.
const DefaultMaxProcesses = 256

// MemoryConfig sizes physical memory and the swap device.
type MemoryConfig struct {
	// Frames is the size of physical memory in frames. Frame 0 is reserved,
	// so Frames-1 are allocatable.
	Frames     int
	TLBEntries int
	Reclaim    bool
	// SwapSlots of zero disables swapping.
	SwapSlots int
	// SwapCooldownTicks is how long a failing swap device is left alone.
	SwapCooldownTicks uint64
}

// Config sizes every subsystem.
type Config struct {
	MaxProcesses int
	Scheduler    sched.Config
	RTOS         rtos.Config
	Memory       MemoryConfig
	IPC          ipc.Config
}

// DefaultConfig returns the boot defaults.
func DefaultConfig() Config {
	return Config{
		MaxProcesses: DefaultMaxProcesses,
		Scheduler:    sched.DefaultConfig(),
		RTOS:         rtos.DefaultConfig(),
		Memory: MemoryConfig{
			Frames:            4096,
			TLBEntries:        mm.DefaultTLBEntries,
			Reclaim:           true,
			SwapSlots:         1024,
			SwapCooldownTicks: 1000,
		},
		IPC: ipc.DefaultConfig(),
	}
}

// Hooks are instrumentation points. Any field may be nil.
type Hooks struct {
	Sched  sched.Observer
	Memory mm.Observer
	IPC    ipc.Observer
	Signal func(pid proc.PID, sig signal.Signal)
	Tick   func(tick uint64)
}

// Kernel is one booted simulated kernel. It is safe for concurrent use.
type Kernel struct {
	mu sync.Mutex

	cfg    Config
	bootID id.BootID

	table   *proc.Table
	rtos    *rtos.System
	sched   *sched.Scheduler
	signals *signal.Manager
	mm      *mm.Manager
	ipc     *ipc.Manager

	fs       vfs.FS
	swapFile vfs.File
	openRefs map[vfs.File]int
	mapped   map[proc.PID][]vfs.File

	onTick []func(tick uint64)
	logger *zap.Logger
}

// New boots a kernel. fs backs the swap device and file mappings; nil means
// an in-memory store.
func New(cfg Config, fs vfs.FS, logger *zap.Logger) (*Kernel, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if fs == nil {
		fs = vfs.NewMemFS()
	}
	if cfg.MaxProcesses <= 0 {
		cfg.MaxProcesses = DefaultMaxProcesses
	}
	if cfg.Memory.TLBEntries <= 0 {
		cfg.Memory.TLBEntries = mm.DefaultTLBEntries
	}

	k := &Kernel{
		cfg:      cfg,
		bootID:   id.NewBootID(),
		fs:       fs,
		openRefs: make(map[vfs.File]int),
		mapped:   make(map[proc.PID][]vfs.File),
	}
	k.logger = logger.With(zap.String("boot_id", k.bootID.String()))

	k.table = proc.NewTable(cfg.MaxProcesses)
	k.rtos = rtos.New(cfg.RTOS, k.logger)
	k.sched = sched.New(cfg.Scheduler, k.table, k.rtos, k.logger)
	k.signals = signal.New(host{k}, k.logger)

	var swap *mm.SwapDevice
	if cfg.Memory.SwapSlots > 0 {
		f, err := mm.CreateSwapFile(fs, cfg.Memory.SwapSlots)
		if err != nil {
			return nil, fmt.Errorf("create swap file: %w", err)
		}
		k.swapFile = f
		breaker := resilience.New("swap", resilience.Settings{
			Cooldown: cfg.Memory.SwapCooldownTicks,
			OnStateChange: func(name string, from, to resilience.State) {
				k.logger.Warn("swap breaker state changed",
					zap.String("breaker", name),
					zap.Stringer("from", from),
					zap.Stringer("to", to))
			},
		}, k.rtos.Ticks)
		swap = mm.NewSwapDevice(f, cfg.Memory.SwapSlots, breaker, k.logger)
	}
	k.mm = mm.New(mm.Config{
		Frames:     cfg.Memory.Frames,
		TLBEntries: cfg.Memory.TLBEntries,
		Reclaim:    cfg.Memory.Reclaim,
	}, swap, k.signals, k.logger)
	k.ipc = ipc.New(cfg.IPC, k.sched, k.rtos, k.signals, k.logger)

	k.logger.Info("kernel booted",
		zap.Int("max_processes", cfg.MaxProcesses),
		zap.Int("frames", cfg.Memory.Frames),
		zap.Int("swap_slots", cfg.Memory.SwapSlots),
		zap.Uint64("tick_rate_hz", k.rtos.Clock().Hz()))
	return k, nil
}

// Instrument attaches observers. Scheduler observers accumulate; the others
// replace any earlier one.
func (k *Kernel) Instrument(h Hooks) {
	k.mu.Lock()
	defer k.mu.Unlock()

	if h.Sched != nil {
		k.sched.AddObserver(h.Sched)
	}
	if h.Memory != nil {
		k.mm.SetObserver(h.Memory)
	}
	if h.IPC != nil {
		k.ipc.SetObserver(h.IPC)
	}
	if h.Signal != nil {
		k.signals.OnSend(h.Signal)
	}
	if h.Tick != nil {
		k.onTick = append(k.onTick, h.Tick)
	}
}

// BootID returns the identifier of this kernel instance.
func (k *Kernel) BootID() id.BootID {
	return k.bootID
}

// Config returns the effective configuration.
func (k *Kernel) Config() Config {
	return k.cfg
}

// Shutdown releases the swap image.
func (k *Kernel) Shutdown() error {
	k.mu.Lock()
	defer k.mu.Unlock()

	if k.swapFile == nil {
		return nil
	}
	err := k.swapFile.Close()
	k.swapFile = nil
	return err
}

// live returns the process pid if it has not exited. Callers hold k.mu.
func (k *Kernel) live(pid proc.PID) (*proc.Process, error) {
	p, ok := k.table.Lookup(pid)
	if !ok || !p.State.Alive() {
		return nil, kerr.ErrNoProcess
	}
	return p, nil
}

// do runs fn under the kernel lock on behalf of pid, then delivers any
// signal the call raised against it.
func (k *Kernel) do(pid proc.PID, fn func(p *proc.Process) error) error {
	deliveries, err := k.locked(pid, fn)
	runHandlers(deliveries)
	return err
}

func (k *Kernel) locked(pid proc.PID, fn func(p *proc.Process) error) ([]signal.Delivery, error) {
	k.mu.Lock()
	defer k.mu.Unlock()

	p, err := k.live(pid)
	if err != nil {
		return nil, err
	}
	err = fn(p)
	return k.signals.Deliver(p), err
}

// wait runs op until it stops reporting kerr.ErrWouldBlock. Between attempts
// the lock is released and the caller waits for its wake future or ctx. A
// non-zero timeoutMs becomes an absolute tick deadline, fixed at the first
// attempt.
func (k *Kernel) wait(ctx context.Context, pid proc.PID, timeoutMs uint32, op func(c ipc.Caller) error) error {
	k.mu.Lock()
	p, err := k.live(pid)
	if err != nil {
		k.mu.Unlock()
		return err
	}
	c := ipc.Caller{P: p}
	if timeoutMs > 0 {
		c.Deadline = k.rtos.Ticks() + max(1, k.rtos.Clock().MsToTicks(timeoutMs))
	}

	for {
		err := op(c)
		if !errors.Is(err, kerr.ErrWouldBlock) {
			if c.Deadline != 0 {
				k.rtos.CancelTimeout(p.Handle)
			}
			deliveries := k.signals.Deliver(p)
			k.mu.Unlock()
			runHandlers(deliveries)
			return err
		}

		wake := p.WakeChan()
		k.mu.Unlock()
		select {
		case <-wake:
		case <-ctx.Done():
			k.mu.Lock()
			k.ipc.Forget(p)
			k.sched.Wake(p)
			k.mu.Unlock()
			return ctx.Err()
		}

		k.mu.Lock()
		if err := k.resume(ctx, p); err != nil {
			k.mu.Unlock()
			return err
		}
	}
}

// resume runs at every wake-up of a waiting caller: pending signals are
// delivered and a stopped process stays parked until SIGCONT. It is called
// and returns with k.mu held.
func (k *Kernel) resume(ctx context.Context, p *proc.Process) error {
	for {
		if deliveries := k.signals.Deliver(p); len(deliveries) > 0 {
			k.mu.Unlock()
			runHandlers(deliveries)
			k.mu.Lock()
		}
		if !p.State.Alive() {
			k.ipc.Forget(p)
			return kerr.ErrProcessExited
		}
		if !p.Stopped {
			return nil
		}

		if p.State != proc.StateBlocked {
			k.sched.Block(p)
		}
		wake := p.Park()
		k.mu.Unlock()
		select {
		case <-wake:
			k.mu.Lock()
		case <-ctx.Done():
			k.mu.Lock()
			return ctx.Err()
		}
	}
}

func runHandlers(deliveries []signal.Delivery) {
	for _, d := range deliveries {
		d.Run()
	}
}
