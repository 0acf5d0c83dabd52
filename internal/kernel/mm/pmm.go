package mm

import (
	"github.com/sandiphembram2021/kronos-operating-system/internal/kernel/kerr"
)

// Page geometry.
const (
	PageSize  = 4096
	PageShift = 12
	PageMask  = ^uint64(PageSize - 1)
)

// PageAlign rounds addr down to a page boundary.
func PageAlign(addr uint64) uint64 {
	return addr & PageMask
}

// PageRoundUp rounds n up to a whole number of pages.
func PageRoundUp(n uint64) uint64 {
	return (n + PageSize - 1) & PageMask
}

var (
	ErrBadFrame = kerr.New(kerr.CodeInvalidParam, "physical address does not name an allocated frame")
)

// PhysMem is the physical frame allocator. Free frames form a LIFO free
// list; an allocated frame carries a reference count and is returned to the
// list when the count drops to zero.
type PhysMem struct {
	mem  []byte
	refs []uint32
	free []uint32
}

// NewPhysMem creates frames frames of physical memory. Frame 0 is reserved.
func NewPhysMem(frames int) *PhysMem {
	if frames < 2 {
		frames = 2
	}
	pm := &PhysMem{
		mem:  make([]byte, frames*PageSize),
		refs: make([]uint32, frames),
		free: make([]uint32, 0, frames-1),
	}
	for i := frames - 1; i >= 1; i-- {
		pm.free = append(pm.free, uint32(i))
	}
	return pm
}

// Alloc returns the physical address of a zeroed frame with reference count 1.
func (pm *PhysMem) Alloc() (uint64, error) {
	n := len(pm.free)
	if n == 0 {
		return 0, kerr.ErrNoMemory
	}
	idx := pm.free[n-1]
	pm.free = pm.free[:n-1]
	pm.refs[idx] = 1

	phys := uint64(idx) << PageShift
	clear(pm.Page(phys))
	return phys, nil
}

// Get takes another reference on the frame at phys.
func (pm *PhysMem) Get(phys uint64) error {
	idx, ok := pm.index(phys)
	if !ok || pm.refs[idx] == 0 {
		return ErrBadFrame
	}
	pm.refs[idx]++
	return nil
}

// Put drops a reference and frees the frame when none remain. It returns the
// remaining count.
func (pm *PhysMem) Put(phys uint64) uint32 {
	idx, ok := pm.index(phys)
	if !ok || pm.refs[idx] == 0 {
		return 0
	}
	pm.refs[idx]--
	if pm.refs[idx] == 0 {
		pm.free = append(pm.free, idx)
	}
	return pm.refs[idx]
}

// RefCount returns the reference count of the frame at phys.
func (pm *PhysMem) RefCount(phys uint64) uint32 {
	idx, ok := pm.index(phys)
	if !ok {
		return 0
	}
	return pm.refs[idx]
}

// Page returns the bytes of the frame at phys.
func (pm *PhysMem) Page(phys uint64) []byte {
	off := PageAlign(phys)
	return pm.mem[off : off+PageSize]
}

// FreeFrames returns the number of frames on the free list.
func (pm *PhysMem) FreeFrames() int {
	return len(pm.free)
}

// TotalFrames returns the number of usable frames.
func (pm *PhysMem) TotalFrames() int {
	return len(pm.refs) - 1
}

func (pm *PhysMem) index(phys uint64) (uint32, bool) {
	idx := phys >> PageShift
	if idx == 0 || idx >= uint64(len(pm.refs)) {
		return 0, false
	}
	return uint32(idx), true
}
