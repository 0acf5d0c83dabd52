package kernel

import (
	"github.com/sandiphembram2021/kronos-operating-system/internal/kernel/kerr"
	"github.com/sandiphembram2021/kronos-operating-system/internal/kernel/mm"
	"github.com/sandiphembram2021/kronos-operating-system/internal/kernel/proc"
	"github.com/sandiphembram2021/kronos-operating-system/internal/kernel/vfs"
)

// Mmap maps length bytes into pid. Anonymous mappings ignore fd; file
// mappings read through the open file fd and keep it alive until pid exits.
func (k *Kernel) Mmap(pid proc.PID, addr, length uint64, prot, flags, fd int, offset uint64) (uint64, error) {
	var start uint64
	err := k.do(pid, func(p *proc.Process) error {
		var file vfs.File
		if flags&mm.MapAnonymous == 0 {
			d, err := p.FD(fd)
			if err != nil {
				return err
			}
			if d.Kind != proc.FDFile {
				return kerr.ErrInvalidParam
			}
			file = d.File
		}
		var err error
		start, err = k.mm.Mmap(p.PID, addr, length, prot, flags, file, offset)
		if err != nil {
			return err
		}
		if file != nil {
			k.openRefs[file]++
			k.mapped[p.PID] = append(k.mapped[p.PID], file)
		}
		return nil
	})
	return start, err
}

// Munmap unmaps the areas of pid lying inside [addr, addr+length).
func (k *Kernel) Munmap(pid proc.PID, addr, length uint64) error {
	return k.do(pid, func(p *proc.Process) error {
		return k.mm.Munmap(p.PID, addr, length)
	})
}

// Fault raises a page fault in pid at va. A fault the memory manager cannot
// resolve signals pid, and the signal is delivered before Fault returns.
func (k *Kernel) Fault(pid proc.PID, va uint64, write bool) error {
	var code uint32
	if write {
		code = mm.FaultWrite
	}
	return k.do(pid, func(p *proc.Process) error {
		return k.mm.Fault(p.PID, va, code)
	})
}

// ReadMemory copies n bytes out of pid's address space, faulting pages in
// as the MMU would.
func (k *Kernel) ReadMemory(pid proc.PID, va uint64, n int) ([]byte, error) {
	var out []byte
	err := k.do(pid, func(p *proc.Process) error {
		var err error
		out, err = k.mm.Read(p.PID, va, n)
		return err
	})
	return out, err
}

// WriteMemory copies data into pid's address space.
func (k *Kernel) WriteMemory(pid proc.PID, va uint64, data []byte) error {
	return k.do(pid, func(p *proc.Process) error {
		return k.mm.Write(p.PID, va, data)
	})
}

// SwapOut evicts the page of pid at va.
func (k *Kernel) SwapOut(pid proc.PID, va uint64) error {
	return k.do(pid, func(p *proc.Process) error {
		return k.mm.SwapOut(p.PID, va)
	})
}

// Reclaim evicts one page chosen by the reclaim policy. It reports whether a
// page was freed.
func (k *Kernel) Reclaim() bool {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.mm.Reclaim()
}

// MemoryStats returns global memory counters.
func (k *Kernel) MemoryStats() mm.Stats {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.mm.Stats()
}

// Mappings lists the memory areas of pid.
func (k *Kernel) Mappings(pid proc.PID) ([]mm.VMA, error) {
	k.mu.Lock()
	defer k.mu.Unlock()

	as, ok := k.mm.Space(pid)
	if !ok {
		return nil, kerr.ErrNoProcess
	}
	return as.VMAs(), nil
}
