package mm

import (
	"errors"
	"io"

	"go.uber.org/zap"

	"github.com/sandiphembram2021/kronos-operating-system/internal/kernel/kerr"
	"github.com/sandiphembram2021/kronos-operating-system/internal/kernel/proc"
	"github.com/sandiphembram2021/kronos-operating-system/internal/kernel/signal"
	"github.com/sandiphembram2021/kronos-operating-system/internal/kernel/vfs"
)

var (
	ErrSegv        = kerr.New(kerr.CodeError, "segmentation violation")
	ErrOverlap     = kerr.New(kerr.CodeInvalidParam, "range overlaps an existing mapping")
	ErrNoVSpace    = kerr.New(kerr.CodeNoMemory, "no free virtual address range")
	ErrIO          = kerr.New(kerr.CodeError, "backing file IO failed")
	ErrNotResident = kerr.New(kerr.CodeInvalidParam, "page not resident")
	ErrPageShared  = kerr.New(kerr.CodeInvalidParam, "page is shared")
	ErrSpaceExists = kerr.New(kerr.CodeInvalidParam, "address space already exists")
)

// FaultWrite is the error-code bit set for write accesses.
const FaultWrite = 0x2

// FaultKind classifies a handled page fault.
type FaultKind string

const (
	FaultDemand   FaultKind = "demand"
	FaultFile     FaultKind = "file"
	FaultCOW      FaultKind = "cow"
	FaultSwapIn   FaultKind = "swap_in"
	FaultSpurious FaultKind = "spurious"
	FaultSegv     FaultKind = "segv"
	FaultOOM      FaultKind = "oom"
	FaultBus      FaultKind = "bus"
)

// Sender delivers fault signals.
type Sender interface {
	Send(pid proc.PID, sig signal.Signal) error
}

// Observer is told about faults and swap traffic.
type Observer interface {
	PageFault(kind FaultKind)
	SwapOut()
	SwapIn()
}

// Config sizes the memory manager.
type Config struct {
	// Frames counts physical frames including the reserved frame 0.
	Frames     int
	TLBEntries int
	Reclaim    bool
}

// Stats is a snapshot of memory counters.
type Stats struct {
	TotalFrames   int    `json:"total_frames"`
	FreeFrames    int    `json:"free_frames"`
	UsedFrames    int    `json:"used_frames"`
	SwapTotal     int    `json:"swap_total"`
	SwapUsed      int    `json:"swap_used"`
	AddressSpaces int    `json:"address_spaces"`
	PageFaults    uint64 `json:"page_faults"`
	COWCopies     uint64 `json:"cow_copies"`
	COWReuses     uint64 `json:"cow_reuses"`
	SwapIns       uint64 `json:"swap_ins"`
	SwapOuts      uint64 `json:"swap_outs"`
	Reclaims      uint64 `json:"reclaims"`
	Segfaults     uint64 `json:"segfaults"`
	OOMKills      uint64 `json:"oom_kills"`
}

type residentKey struct {
	pid proc.PID
	va  uint64
}

// Manager owns physical memory, the swap device and every address space.
// It is not safe for concurrent use; the kernel lock guards it.
type Manager struct {
	cfg     Config
	pm      *PhysMem
	swap    *SwapDevice
	spaces  map[proc.PID]*AddressSpace
	signals Sender

	// resident is the reclaim queue in order of first mapping.
	resident []residentKey
	tracked  map[residentKey]struct{}

	nextRoot uint64
	stats    Stats
	observer Observer
	logger   *zap.Logger
}

// New creates a memory manager. swap may be nil, in which case pages are
// never swapped out.
func New(cfg Config, swap *SwapDevice, signals Sender, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Frames <= 0 {
		cfg.Frames = 4096
	}
	return &Manager{
		cfg:      cfg,
		pm:       NewPhysMem(cfg.Frames),
		swap:     swap,
		spaces:   make(map[proc.PID]*AddressSpace),
		signals:  signals,
		tracked:  make(map[residentKey]struct{}),
		nextRoot: 1,
		logger:   logger.Named("mm"),
	}
}

// SetObserver registers o for fault and swap notifications.
func (m *Manager) SetObserver(o Observer) {
	m.observer = o
}

// Phys returns the frame allocator.
func (m *Manager) Phys() *PhysMem {
	return m.pm
}

// NewSpace creates an empty address space for pid.
func (m *Manager) NewSpace(pid proc.PID) (*AddressSpace, error) {
	if _, ok := m.spaces[pid]; ok {
		return nil, ErrSpaceExists
	}
	as := &AddressSpace{
		pid:  pid,
		root: m.nextRoot << PageShift,
		pt:   NewPageTable(),
		tlb:  NewTLB(m.cfg.TLBEntries),
	}
	m.nextRoot++
	m.spaces[pid] = as
	return as, nil
}

// Space returns the address space of pid.
func (m *Manager) Space(pid proc.PID) (*AddressSpace, bool) {
	as, ok := m.spaces[pid]
	return as, ok
}

// Mmap maps length bytes and returns the start address. Pages are populated
// lazily unless MapPopulate is set.
func (m *Manager) Mmap(pid proc.PID, addr, length uint64, prot, flags int, file vfs.File, offset uint64) (uint64, error) {
	as, err := m.space(pid)
	if err != nil {
		return 0, err
	}
	if length == 0 || prot&^(ProtRead|ProtWrite|ProtExec) != 0 {
		return 0, kerr.ErrInvalidParam
	}
	size := PageRoundUp(length)
	if flags&MapAnonymous != 0 {
		file, offset = nil, 0
	} else if file == nil || offset%PageSize != 0 {
		return 0, kerr.ErrInvalidParam
	}

	var start uint64
	if flags&MapFixed != 0 {
		if addr%PageSize != 0 || addr < UserSpaceStart || addr+size > UserSpaceEnd || addr+size < addr {
			return 0, kerr.ErrInvalidParam
		}
		if as.vmas.overlaps(addr, addr+size) {
			return 0, ErrOverlap
		}
		start = addr
	} else {
		var ok bool
		start, ok = as.vmas.gap(MmapBase, size, UserSpaceEnd)
		if !ok {
			return 0, ErrNoVSpace
		}
	}

	v := &VMA{Start: start, End: start + size, Prot: prot, Flags: flags, File: file, Offset: offset}
	as.vmas.insert(v)

	if flags&MapPopulate != 0 {
		for va := v.Start; va < v.End; va += PageSize {
			if _, err := m.fault(as, va, prot&ProtWrite != 0); err != nil {
				m.unmapArea(as, v)
				as.vmas.removeWithin(v.Start, v.End)
				return 0, err
			}
		}
	}

	m.logger.Debug("mmap",
		zap.Uint32("pid", uint32(pid)),
		zap.Uint64("start", start),
		zap.Uint64("length", size),
		zap.Int("prot", prot),
		zap.Int("flags", flags))
	return start, nil
}

// Munmap removes every area lying fully inside the page-aligned cover of
// [addr, addr+length), releasing their frames and swap slots.
func (m *Manager) Munmap(pid proc.PID, addr, length uint64) error {
	as, err := m.space(pid)
	if err != nil {
		return err
	}
	if length == 0 {
		return kerr.ErrInvalidParam
	}
	start := PageAlign(addr)
	end := PageRoundUp(addr + length)
	for _, v := range as.vmas.removeWithin(start, end) {
		m.unmapArea(as, v)
	}
	return nil
}

// Fault handles a page fault of pid at va. errCode bit 1 marks a write. An
// unrecoverable fault raises a signal on pid and returns the cause.
func (m *Manager) Fault(pid proc.PID, va uint64, errCode uint32) error {
	as, err := m.space(pid)
	if err != nil {
		return err
	}
	kind, err := m.fault(as, va, errCode&FaultWrite != 0)
	switch {
	case err == nil:
	case errors.Is(err, ErrSegv):
		kind = FaultSegv
	case errors.Is(err, kerr.ErrNoMemory):
		kind = FaultOOM
	default:
		kind = FaultBus
	}
	m.stats.PageFaults++
	if m.observer != nil {
		m.observer.PageFault(kind)
	}
	if err == nil {
		return nil
	}

	sig := signal.SIGBUS
	switch kind {
	case FaultSegv:
		sig = signal.SIGSEGV
		m.stats.Segfaults++
	case FaultOOM:
		sig = signal.SIGKILL
		m.stats.OOMKills++
	}
	m.logger.Info("unrecoverable page fault",
		zap.Uint32("pid", uint32(pid)),
		zap.Uint64("addr", va),
		zap.String("kind", string(kind)),
		zap.Stringer("signal", sig))
	if m.signals != nil {
		_ = m.signals.Send(pid, sig)
	}
	return err
}

func (m *Manager) fault(as *AddressSpace, va uint64, write bool) (FaultKind, error) {
	page := PageAlign(va)
	v := as.vmas.find(va)
	if v == nil || v.Prot == ProtNone || (write && v.Prot&ProtWrite == 0) {
		return FaultSegv, ErrSegv
	}

	e, _ := as.pt.Lookup(page)
	switch {
	case e.Present() && write && e.COW():
		return FaultCOW, m.breakCOW(as, page, e)
	case e.Present():
		touched := e | PTEAccessed
		if write {
			touched |= PTEDirty | PTEWritable
		}
		as.set(page, touched)
		return FaultSpurious, nil
	case e.Swapped():
		return FaultSwapIn, m.swapIn(as, v, page, e, write)
	}

	phys, err := m.allocFrame()
	if err != nil {
		return FaultOOM, err
	}
	kind := FaultDemand
	if v.FileBacked() {
		kind = FaultFile
		off := v.Offset + (page - v.Start)
		if _, err := v.File.ReadAt(m.pm.Page(phys), int64(off)); err != nil && !errors.Is(err, io.EOF) {
			m.pm.Put(phys)
			return FaultBus, ErrIO
		}
	}
	flags := v.pteFlags() | PTEAccessed
	if write {
		flags |= PTEDirty
	}
	as.set(page, MakePTE(phys, flags))
	m.track(as.pid, page)
	return kind, nil
}

// breakCOW gives the faulting space a private writable copy of a shared
// page. A frame that is no longer shared is reused in place.
func (m *Manager) breakCOW(as *AddressSpace, page uint64, e PTE) error {
	old := e.Frame()
	flags := (e.Flags() &^ PTECOW) | PTEWritable | PTEAccessed | PTEDirty
	if m.pm.RefCount(old) == 1 {
		as.set(page, MakePTE(old, flags))
		m.stats.COWReuses++
		m.track(as.pid, page)
		return nil
	}

	phys, err := m.allocFrame()
	if err != nil {
		return err
	}
	copy(m.pm.Page(phys), m.pm.Page(old))
	as.set(page, MakePTE(phys, flags))
	m.pm.Put(old)
	m.stats.COWCopies++
	m.track(as.pid, page)
	return nil
}

func (m *Manager) swapIn(as *AddressSpace, v *VMA, page uint64, e PTE, write bool) error {
	if m.swap == nil {
		return ErrSwapUnavailable
	}
	phys, err := m.allocFrame()
	if err != nil {
		return err
	}
	slot := e.SwapSlot()
	if err := m.swap.In(slot, m.pm.Page(phys)); err != nil {
		m.pm.Put(phys)
		return err
	}
	_ = m.swap.Free(slot)

	flags := v.pteFlags() | PTEAccessed
	if write {
		flags |= PTEDirty
	}
	as.set(page, MakePTE(phys, flags))
	m.track(as.pid, page)
	m.stats.SwapIns++
	if m.observer != nil {
		m.observer.SwapIn()
	}
	return nil
}

// SwapOut writes the resident private page of pid at va to swap and frees
// its frame.
func (m *Manager) SwapOut(pid proc.PID, va uint64) error {
	as, err := m.space(pid)
	if err != nil {
		return err
	}
	page := PageAlign(va)
	e, ok := as.pt.Lookup(page)
	if !ok || !e.Present() {
		return ErrNotResident
	}
	if e.COW() || m.pm.RefCount(e.Frame()) != 1 {
		return ErrPageShared
	}
	return m.swapOutPage(as, page, e)
}

func (m *Manager) swapOutPage(as *AddressSpace, page uint64, e PTE) error {
	if m.swap == nil {
		return ErrSwapUnavailable
	}
	slot, err := m.swap.Out(m.pm.Page(e.Frame()))
	if err != nil {
		return err
	}
	as.set(page, MakeSwapPTE(slot, e.Flags()&^(PTEAccessed|PTEDirty)))
	m.pm.Put(e.Frame())
	m.stats.SwapOuts++
	if m.observer != nil {
		m.observer.SwapOut()
	}
	m.logger.Debug("page swapped out",
		zap.Uint32("pid", uint32(as.pid)),
		zap.Uint64("addr", page),
		zap.Uint64("slot", slot))
	return nil
}

// allocFrame allocates a frame, reclaiming one resident page first when
// memory is exhausted and reclaim is enabled.
func (m *Manager) allocFrame() (uint64, error) {
	phys, err := m.pm.Alloc()
	if err == nil || !m.cfg.Reclaim {
		return phys, err
	}
	if !m.Reclaim() {
		return 0, err
	}
	return m.pm.Alloc()
}

// Reclaim swaps out one resident private page, giving recently accessed
// pages a second chance. It reports whether a frame was freed.
func (m *Manager) Reclaim() bool {
	if m.swap == nil {
		return false
	}
	for budget := 2*len(m.resident) + 1; budget > 0 && len(m.resident) > 0; budget-- {
		key := m.resident[0]
		m.resident = m.resident[1:]
		delete(m.tracked, key)

		as, ok := m.spaces[key.pid]
		if !ok {
			continue
		}
		e, ok := as.pt.Lookup(key.va)
		if !ok || !e.Present() || e.COW() || m.pm.RefCount(e.Frame()) != 1 {
			continue
		}
		if v := as.vmas.find(key.va); v == nil || v.Shared() {
			continue
		}
		if e&PTEAccessed != 0 {
			as.set(key.va, e&^PTEAccessed)
			m.track(key.pid, key.va)
			continue
		}
		if err := m.swapOutPage(as, key.va, e); err != nil {
			m.logger.Warn("reclaim failed", zap.Error(err))
			return false
		}
		m.stats.Reclaims++
		return true
	}
	return false
}

func (m *Manager) track(pid proc.PID, va uint64) {
	key := residentKey{pid: pid, va: va}
	if _, ok := m.tracked[key]; ok {
		return
	}
	m.tracked[key] = struct{}{}
	m.resident = append(m.resident, key)
}

// Fork gives child a copy-on-write copy of parent's address space. Private
// writable pages become read-only COW shares in both spaces, shared mappings
// share frames directly, and swapped pages get a slot of their own.
func (m *Manager) Fork(parent, child proc.PID) error {
	pas, err := m.space(parent)
	if err != nil {
		return err
	}
	cas, err := m.NewSpace(child)
	if err != nil {
		return err
	}
	for _, v := range pas.vmas.areas {
		dup := *v
		cas.vmas.insert(&dup)
	}

	for _, pe := range pas.entries(0, UserSpaceEnd) {
		v := pas.vmas.find(pe.va)
		switch {
		case pe.e.Swapped():
			if err := m.duplicateSlot(cas, pe); err != nil {
				m.Destroy(child)
				return err
			}
		case pe.e.Present():
			_ = m.pm.Get(pe.e.Frame())
			if v != nil && !v.Shared() && (pe.e.Writable() || pe.e.COW()) {
				shared := (pe.e | PTECOW) &^ PTEWritable
				pas.set(pe.va, shared)
				cas.set(pe.va, shared)
				continue
			}
			cas.set(pe.va, pe.e)
		}
	}

	m.logger.Debug("address space forked",
		zap.Uint32("parent", uint32(parent)),
		zap.Uint32("child", uint32(child)))
	return nil
}

func (m *Manager) duplicateSlot(cas *AddressSpace, pe pageEntry) error {
	if m.swap == nil {
		return ErrSwapUnavailable
	}
	buf := make([]byte, PageSize)
	if err := m.swap.In(pe.e.SwapSlot(), buf); err != nil {
		return err
	}
	slot, err := m.swap.Out(buf)
	if err != nil {
		return err
	}
	cas.set(pe.va, MakeSwapPTE(slot, pe.e.Flags()))
	return nil
}

// Destroy releases every mapping of pid and drops its address space.
func (m *Manager) Destroy(pid proc.PID) {
	as, ok := m.spaces[pid]
	if !ok {
		return
	}
	for _, v := range as.vmas.areas {
		m.unmapArea(as, v)
	}
	as.vmas.areas = nil
	as.tlb.Flush()
	delete(m.spaces, pid)
}

// unmapArea releases the pages of v. Dirty pages of shared file mappings are
// written back first.
func (m *Manager) unmapArea(as *AddressSpace, v *VMA) {
	for _, pe := range as.entries(v.Start, v.End) {
		as.clear(pe.va)
		switch {
		case pe.e.Present():
			if v.Shared() && v.FileBacked() && pe.e&PTEDirty != 0 {
				off := v.Offset + (pe.va - v.Start)
				if _, err := v.File.WriteAt(m.pm.Page(pe.e.Frame()), int64(off)); err != nil {
					m.logger.Warn("write-back failed",
						zap.String("file", v.File.Name()),
						zap.Error(err))
				}
			}
			m.pm.Put(pe.e.Frame())
		case pe.e.Swapped():
			if m.swap != nil {
				_ = m.swap.Free(pe.e.SwapSlot())
			}
		}
	}
}

// Translate resolves va for a read or write the way the MMU does: TLB
// first, then the page table, faulting and retrying when the access is not
// yet allowed. It returns the physical address.
func (m *Manager) Translate(pid proc.PID, va uint64, write bool) (uint64, error) {
	as, err := m.space(pid)
	if err != nil {
		return 0, err
	}
	off := va &^ PageMask
	for attempt := 0; attempt < 3; attempt++ {
		if frame, writable, ok := as.tlb.Lookup(va); ok && (!write || writable) {
			if write {
				if slot := as.pt.Walk(PageAlign(va), false); slot != nil {
					*slot |= PTEDirty
				}
			}
			return frame | off, nil
		}
		if e, ok := as.pt.Lookup(PageAlign(va)); ok && e.Present() && (!write || e.Writable()) {
			e |= PTEAccessed
			if write {
				e |= PTEDirty
			}
			as.pt.Set(PageAlign(va), e)
			as.tlb.Insert(va, e.Frame(), e.Writable())
			return e.Frame() | off, nil
		}
		var code uint32
		if write {
			code = FaultWrite
		}
		if err := m.Fault(pid, va, code); err != nil {
			return 0, err
		}
	}
	return 0, ErrSegv
}

// Read copies n bytes of pid's memory starting at va.
func (m *Manager) Read(pid proc.PID, va uint64, n int) ([]byte, error) {
	if n < 0 {
		return nil, kerr.ErrInvalidParam
	}
	out := make([]byte, 0, n)
	for n > 0 {
		phys, err := m.Translate(pid, va, false)
		if err != nil {
			return nil, err
		}
		chunk := min(n, int(PageSize-(va&^PageMask)))
		page := m.pm.Page(phys)
		start := int(phys &^ PageMask)
		out = append(out, page[start:start+chunk]...)
		va += uint64(chunk)
		n -= chunk
	}
	return out, nil
}

// Write copies data into pid's memory starting at va.
func (m *Manager) Write(pid proc.PID, va uint64, data []byte) error {
	for len(data) > 0 {
		phys, err := m.Translate(pid, va, true)
		if err != nil {
			return err
		}
		chunk := min(len(data), int(PageSize-(va&^PageMask)))
		page := m.pm.Page(phys)
		start := int(phys &^ PageMask)
		copy(page[start:start+chunk], data[:chunk])
		va += uint64(chunk)
		data = data[chunk:]
	}
	return nil
}

// Stats returns global memory counters.
func (m *Manager) Stats() Stats {
	st := m.stats
	st.TotalFrames = m.pm.TotalFrames()
	st.FreeFrames = m.pm.FreeFrames()
	st.UsedFrames = st.TotalFrames - st.FreeFrames
	st.AddressSpaces = len(m.spaces)
	if m.swap != nil {
		st.SwapTotal = m.swap.Total()
		st.SwapUsed = m.swap.Used()
	}
	return st
}

// SpaceStats returns per-process counters.
func (m *Manager) SpaceStats(pid proc.PID) (SpaceStats, error) {
	as, err := m.space(pid)
	if err != nil {
		return SpaceStats{}, err
	}
	return as.stats(), nil
}

func (m *Manager) space(pid proc.PID) (*AddressSpace, error) {
	as, ok := m.spaces[pid]
	if !ok {
		return nil, kerr.ErrNoProcess
	}
	return as, nil
}
