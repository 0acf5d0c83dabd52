package mm

import (
	"sort"

	"github.com/sandiphembram2021/kronos-operating-system/internal/kernel/vfs"
)

// Protection bits.
const (
	ProtNone  = 0x0
	ProtRead  = 0x1
	ProtWrite = 0x2
	ProtExec  = 0x4
)

// Mapping flags.
const (
	MapShared    = 0x01
	MapPrivate   = 0x02
	MapFixed     = 0x10
	MapAnonymous = 0x20
	MapPopulate  = 0x8000
)

// VMA is a contiguous range [Start, End) of one address space with uniform
// protection and backing.
type VMA struct {
	Start  uint64
	End    uint64
	Prot   int
	Flags  int
	File   vfs.File
	Offset uint64
}

// Contains reports whether addr falls inside the area.
func (v *VMA) Contains(addr uint64) bool {
	return addr >= v.Start && addr < v.End
}

// Len returns the size of the area in bytes.
func (v *VMA) Len() uint64 {
	return v.End - v.Start
}

// Shared reports whether writes are visible to every mapper.
func (v *VMA) Shared() bool {
	return v.Flags&MapShared != 0
}

// FileBacked reports whether pages are filled from a file.
func (v *VMA) FileBacked() bool {
	return v.File != nil
}

// pteFlags returns the leaf flags for a fresh page of this area.
func (v *VMA) pteFlags() PTE {
	flags := PTEUser
	if v.Prot&ProtWrite != 0 {
		flags |= PTEWritable
	}
	return flags
}

// vmaSet keeps VMAs sorted by start address. Members never overlap.
type vmaSet struct {
	areas []*VMA
}

func (s *vmaSet) find(addr uint64) *VMA {
	i := sort.Search(len(s.areas), func(i int) bool { return s.areas[i].End > addr })
	if i < len(s.areas) && s.areas[i].Contains(addr) {
		return s.areas[i]
	}
	return nil
}

func (s *vmaSet) overlaps(start, end uint64) bool {
	i := sort.Search(len(s.areas), func(i int) bool { return s.areas[i].End > start })
	return i < len(s.areas) && s.areas[i].Start < end
}

func (s *vmaSet) insert(v *VMA) {
	i := sort.Search(len(s.areas), func(i int) bool { return s.areas[i].Start >= v.Start })
	s.areas = append(s.areas, nil)
	copy(s.areas[i+1:], s.areas[i:])
	s.areas[i] = v
}

// removeWithin removes and returns every area lying fully inside
// [start, end).
func (s *vmaSet) removeWithin(start, end uint64) []*VMA {
	var removed []*VMA
	kept := s.areas[:0]
	for _, v := range s.areas {
		if v.Start >= start && v.End <= end {
			removed = append(removed, v)
			continue
		}
		kept = append(kept, v)
	}
	s.areas = kept
	return removed
}

// gap returns the lowest page-aligned start >= from where length bytes fit
// below limit.
func (s *vmaSet) gap(from, length, limit uint64) (uint64, bool) {
	candidate := from
	for _, v := range s.areas {
		if v.End <= candidate {
			continue
		}
		if v.Start >= candidate+length {
			break
		}
		candidate = v.End
	}
	if candidate+length > limit || candidate+length < candidate {
		return 0, false
	}
	return candidate, true
}

func (s *vmaSet) len() int {
	return len(s.areas)
}
