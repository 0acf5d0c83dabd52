// Package mm is the virtual memory manager.
//
// Physical memory is a byte arena cut into 4 KiB frames with per-frame
// reference counts; frame 0 is reserved so physical address 0 never names a
// usable page. Each process owns an AddressSpace: a four-level page table
// (9 index bits per level above a 12-bit offset), a sorted set of
// non-overlapping VMAs and a small TLB model.
//
// Paging is on demand everywhere. Mmap only records a VMA; pages are
// populated by the fault handler on first touch, or all at once through the
// same path when MAP_POPULATE is given. The fault handler resolves, in order:
// copy-on-write breaks, swap-ins, and fresh anonymous or file-backed pages.
// Unrecoverable faults raise a signal on the faulting process instead of
// failing the kernel: SIGSEGV for a bad address or permission, SIGKILL when
// no frame can be found even after reclaim, SIGBUS for a swap slot that
// fails its checksum.
package mm
