package mm

import (
	"errors"
	"fmt"
	"io"
	"math/bits"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/blake2b"

	"github.com/sandiphembram2021/kronos-operating-system/internal/infrastructure/resilience"
	"github.com/sandiphembram2021/kronos-operating-system/internal/kernel/kerr"
	"github.com/sandiphembram2021/kronos-operating-system/internal/kernel/vfs"
)

var (
	ErrSwapFull        = kerr.New(kerr.CodeNoMemory, "swap space exhausted")
	ErrSwapCorrupt     = kerr.New(kerr.CodeError, "swap slot failed checksum")
	ErrSwapUnavailable = kerr.New(kerr.CodeError, "swap device unavailable")
	ErrBadSwapSlot     = kerr.New(kerr.CodeInvalidParam, "swap slot not in use")
)

// CreateSwapFile creates a uniquely named swap image large enough for slots
// pages on fs.
func CreateSwapFile(fs vfs.FS, slots int) (vfs.File, error) {
	name := fmt.Sprintf("swap-%s.img", uuid.NewString())
	return fs.Create(name, int64(slots)*PageSize)
}

// SwapDevice is a bitmap-indexed slot allocator over one backing file. Every
// written slot keeps a BLAKE2b-256 digest of its contents, checked on read.
type SwapDevice struct {
	file    vfs.File
	slots   int
	bitmap  []uint64
	sums    [][blake2b.Size256]byte
	used    int
	breaker *resilience.Breaker
	logger  *zap.Logger
}

// NewSwapDevice creates a swap device of slots pages over file. IO goes
// through breaker when one is given.
func NewSwapDevice(file vfs.File, slots int, breaker *resilience.Breaker, logger *zap.Logger) *SwapDevice {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SwapDevice{
		file:    file,
		slots:   slots,
		bitmap:  make([]uint64, (slots+63)/64),
		sums:    make([][blake2b.Size256]byte, slots),
		breaker: breaker,
		logger:  logger.Named("swap"),
	}
}

// Out writes page to a free slot and returns the slot number. Slot 0 is a
// valid slot.
func (d *SwapDevice) Out(page []byte) (uint64, error) {
	slot, ok := d.findFree()
	if !ok {
		return 0, ErrSwapFull
	}
	err := d.io(func() error {
		n, err := d.file.WriteAt(page[:PageSize], int64(slot)*PageSize)
		if err == nil && n != PageSize {
			err = io.ErrShortWrite
		}
		return err
	})
	if err != nil {
		return 0, err
	}
	d.sums[slot] = blake2b.Sum256(page[:PageSize])
	d.mark(slot, true)
	d.used++
	return uint64(slot), nil
}

// In reads slot into dst and verifies its checksum. The slot stays in use.
func (d *SwapDevice) In(slot uint64, dst []byte) error {
	if !d.InUse(slot) {
		return ErrBadSwapSlot
	}
	err := d.io(func() error {
		n, err := d.file.ReadAt(dst[:PageSize], int64(slot)*PageSize)
		if n == PageSize && errors.Is(err, io.EOF) {
			err = nil
		}
		if err == nil && n != PageSize {
			err = io.ErrUnexpectedEOF
		}
		return err
	})
	if err != nil {
		return err
	}
	if blake2b.Sum256(dst[:PageSize]) != d.sums[slot] {
		d.logger.Warn("swap slot checksum mismatch", zap.Uint64("slot", slot))
		return ErrSwapCorrupt
	}
	return nil
}

// Free releases slot.
func (d *SwapDevice) Free(slot uint64) error {
	if !d.InUse(slot) {
		return ErrBadSwapSlot
	}
	d.mark(int(slot), false)
	d.sums[slot] = [blake2b.Size256]byte{}
	d.used--
	return nil
}

// InUse reports whether slot holds a page.
func (d *SwapDevice) InUse(slot uint64) bool {
	if slot >= uint64(d.slots) {
		return false
	}
	return d.bitmap[slot/64]&(1<<(slot%64)) != 0
}

// Used returns the number of occupied slots.
func (d *SwapDevice) Used() int { return d.used }

// Total returns the number of slots.
func (d *SwapDevice) Total() int { return d.slots }

func (d *SwapDevice) findFree() (int, bool) {
	for w, word := range d.bitmap {
		if word == ^uint64(0) {
			continue
		}
		slot := w*64 + bits.TrailingZeros64(^word)
		if slot >= d.slots {
			return 0, false
		}
		return slot, true
	}
	return 0, false
}

func (d *SwapDevice) mark(slot int, used bool) {
	if used {
		d.bitmap[slot/64] |= 1 << (slot % 64)
		return
	}
	d.bitmap[slot/64] &^= 1 << (slot % 64)
}

func (d *SwapDevice) io(op func() error) error {
	if d.breaker == nil {
		return op()
	}
	err := d.breaker.Do(op)
	if errors.Is(err, resilience.ErrOpen) || errors.Is(err, resilience.ErrTooManyProbes) {
		return ErrSwapUnavailable
	}
	return err
}
