// Package arena provides fixed-capacity slot tables addressed by
// generation-checked handles.
//
// A Handle stays valid only while the slot it names holds the value it was
// issued for. Once the slot is released and reused the generation moves on,
// so stale handles held in wait lists or descriptor tables resolve to
// "not found" instead of aliasing the new occupant.
package arena

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var (
	ErrFull          = errors.New("arena: no free slot")
	ErrInvalidHandle = errors.New("arena: invalid handle")
)

// Handle names one occupancy of one slot. The zero Handle is never issued.
type Handle struct {
	Index uint32
	Gen   uint32
}

// IsZero reports whether h is the zero handle.
func (h Handle) IsZero() bool {
	return h.Gen == 0
}

// String formats the handle as "index.generation".
func (h Handle) String() string {
	return fmt.Sprintf("%d.%d", h.Index, h.Gen)
}

// ParseHandle parses the "index.generation" form produced by String.
func ParseHandle(s string) (Handle, error) {
	idx, gen, ok := strings.Cut(s, ".")
	if !ok {
		return Handle{}, fmt.Errorf("%w: %q", ErrInvalidHandle, s)
	}
	i, err := strconv.ParseUint(idx, 10, 32)
	if err != nil {
		return Handle{}, fmt.Errorf("%w: %q", ErrInvalidHandle, s)
	}
	g, err := strconv.ParseUint(gen, 10, 32)
	if err != nil || g == 0 {
		return Handle{}, fmt.Errorf("%w: %q", ErrInvalidHandle, s)
	}
	return Handle{Index: uint32(i), Gen: uint32(g)}, nil
}

type slot[T any] struct {
	gen  uint32
	used bool
	val  T
}

// Arena is a bounded table of T. It is not safe for concurrent use; callers
// serialise access the same way they serialise every other kernel table.
type Arena[T any] struct {
	slots    []slot[T]
	free     []uint32
	capacity int
	live     int
}

// New creates an arena holding at most capacity values.
func New[T any](capacity int) *Arena[T] {
	return &Arena[T]{capacity: capacity}
}

// Insert stores v in the lowest recycled slot (or a fresh one) and returns
// its handle.
func (a *Arena[T]) Insert(v T) (Handle, error) {
	var idx uint32
	switch {
	case len(a.free) > 0:
		idx = a.free[len(a.free)-1]
		a.free = a.free[:len(a.free)-1]
	case len(a.slots) < a.capacity:
		a.slots = append(a.slots, slot[T]{})
		idx = uint32(len(a.slots) - 1)
	default:
		return Handle{}, ErrFull
	}

	s := &a.slots[idx]
	s.gen++
	s.used = true
	s.val = v
	a.live++
	return Handle{Index: idx, Gen: s.gen}, nil
}

// Get returns the value named by h.
func (a *Arena[T]) Get(h Handle) (T, bool) {
	var zero T
	if !a.valid(h) {
		return zero, false
	}
	return a.slots[h.Index].val, true
}

// Contains reports whether h names a live value.
func (a *Arena[T]) Contains(h Handle) bool {
	return a.valid(h)
}

// Remove releases the slot named by h and returns the value it held.
func (a *Arena[T]) Remove(h Handle) (T, bool) {
	var zero T
	if !a.valid(h) {
		return zero, false
	}
	s := &a.slots[h.Index]
	v := s.val
	s.val = zero
	s.used = false
	a.free = append(a.free, h.Index)
	a.live--
	return v, true
}

// Len returns the number of live values.
func (a *Arena[T]) Len() int {
	return a.live
}

// Cap returns the arena capacity.
func (a *Arena[T]) Cap() int {
	return a.capacity
}

// Each calls fn for every live value in slot order until fn returns false.
func (a *Arena[T]) Each(fn func(Handle, T) bool) {
	for i := range a.slots {
		s := &a.slots[i]
		if !s.used {
			continue
		}
		if !fn(Handle{Index: uint32(i), Gen: s.gen}, s.val) {
			return
		}
	}
}

// Find returns the first live value, in slot order, for which match is true.
func (a *Arena[T]) Find(match func(T) bool) (Handle, T, bool) {
	var (
		found Handle
		val   T
		ok    bool
	)
	a.Each(func(h Handle, v T) bool {
		if match(v) {
			found, val, ok = h, v, true
			return false
		}
		return true
	})
	return found, val, ok
}

func (a *Arena[T]) valid(h Handle) bool {
	if h.Gen == 0 || int(h.Index) >= len(a.slots) {
		return false
	}
	s := &a.slots[h.Index]
	return s.used && s.gen == h.Gen
}
