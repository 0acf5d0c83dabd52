package mm

// PTE is a leaf page-table entry: a frame address or swap slot in bits 12..51
// plus flags in the low bits.
type PTE uint64

// PTE flags.
const (
	PTEPresent  PTE = 0x001
	PTEWritable PTE = 0x002
	PTEUser     PTE = 0x004
	PTEAccessed PTE = 0x020
	PTEDirty    PTE = 0x040
	PTECOW      PTE = 0x200
	PTESwapped  PTE = 0x400
)

const pteAddrMask = PTE(0x000FFFFFFFFFF000)

// MakePTE builds a present entry for the frame at phys.
func MakePTE(phys uint64, flags PTE) PTE {
	return PTE(phys)&pteAddrMask | flags | PTEPresent
}

// MakeSwapPTE builds a non-present entry recording a swap slot.
func MakeSwapPTE(slot uint64, flags PTE) PTE {
	return PTE(slot<<PageShift)&pteAddrMask | flags&^PTEPresent | PTESwapped
}

// Present reports whether the entry maps a frame.
func (e PTE) Present() bool { return e&PTEPresent != 0 }

// Writable reports whether the entry allows writes.
func (e PTE) Writable() bool { return e&PTEWritable != 0 }

// COW reports whether the entry is a copy-on-write share.
func (e PTE) COW() bool { return e&PTECOW != 0 }

// Swapped reports whether the page lives in a swap slot.
func (e PTE) Swapped() bool { return e&PTESwapped != 0 }

// Frame returns the physical address of a present entry.
func (e PTE) Frame() uint64 { return uint64(e & pteAddrMask) }

// SwapSlot returns the slot of a swapped entry.
func (e PTE) SwapSlot() uint64 { return uint64(e&pteAddrMask) >> PageShift }

// Flags returns the low flag bits.
func (e PTE) Flags() PTE { return e &^ pteAddrMask }
