package mm

import (
	"github.com/sandiphembram2021/kronos-operating-system/internal/kernel/proc"
)

// User address-space layout.
const (
	UserSpaceStart = proc.UserVirtualBase
	UserSpaceEnd   = VirtualAddrMax
	UserStackTop   = 0x7FFFFFFFFFFF
	MmapBase       = 0x40000000
)

// AddressSpace is the memory context of one process.
type AddressSpace struct {
	pid  proc.PID
	root uint64
	pt   *PageTable
	vmas vmaSet
	tlb  *TLB
}

// PID returns the owning process.
func (as *AddressSpace) PID() proc.PID { return as.pid }

// Root returns the page-table root identifier loaded into CR3.
func (as *AddressSpace) Root() uint64 { return as.root }

// VMAs returns a copy of the areas in address order.
func (as *AddressSpace) VMAs() []VMA {
	out := make([]VMA, len(as.vmas.areas))
	for i, v := range as.vmas.areas {
		out[i] = *v
	}
	return out
}

// Lookup returns the page-table entry for va.
func (as *AddressSpace) Lookup(va uint64) (PTE, bool) {
	return as.pt.Lookup(PageAlign(va))
}

// set installs e for the page containing va and shoots down its TLB entry.
func (as *AddressSpace) set(va uint64, e PTE) {
	as.pt.Set(PageAlign(va), e)
	as.tlb.Invalidate(va)
}

// clear removes the entry for the page containing va.
func (as *AddressSpace) clear(va uint64) PTE {
	old := as.pt.Clear(PageAlign(va))
	as.tlb.Invalidate(va)
	return old
}

type pageEntry struct {
	va uint64
	e  PTE
}

// entries collects the leaf entries inside [start, end).
func (as *AddressSpace) entries(start, end uint64) []pageEntry {
	var out []pageEntry
	as.pt.Range(func(va uint64, e PTE) bool {
		if va >= end {
			return false
		}
		if va >= start {
			out = append(out, pageEntry{va: va, e: e})
		}
		return true
	})
	return out
}

// SpaceStats describes one address space.
type SpaceStats struct {
	PID       proc.PID `json:"pid"`
	VMAs      int      `json:"vmas"`
	Resident  int      `json:"resident_pages"`
	Swapped   int      `json:"swapped_pages"`
	Shared    int      `json:"cow_pages"`
	Tables    int      `json:"page_tables"`
	TLBHits   uint64   `json:"tlb_hits"`
	TLBMisses uint64   `json:"tlb_misses"`
}

func (as *AddressSpace) stats() SpaceStats {
	st := SpaceStats{PID: as.pid, VMAs: as.vmas.len(), Tables: as.pt.Tables()}
	as.pt.Range(func(_ uint64, e PTE) bool {
		switch {
		case e.Present():
			st.Resident++
			if e.COW() {
				st.Shared++
			}
		case e.Swapped():
			st.Swapped++
		}
		return true
	})
	st.TLBHits, st.TLBMisses = as.tlb.Counters()
	return st
}
