package mm

// DefaultTLBEntries is the capacity of each address space's TLB.
const DefaultTLBEntries = 64

type tlbEntry struct {
	frame    uint64
	writable bool
}

// TLB caches page translations for one address space. Eviction is FIFO.
type TLB struct {
	entries map[uint64]tlbEntry
	order   []uint64
	limit   int

	hits   uint64
	misses uint64
}

// NewTLB creates a TLB with limit entries.
func NewTLB(limit int) *TLB {
	if limit <= 0 {
		limit = DefaultTLBEntries
	}
	return &TLB{entries: make(map[uint64]tlbEntry, limit), limit: limit}
}

// Lookup returns the cached translation for the page containing va.
func (t *TLB) Lookup(va uint64) (frame uint64, writable, ok bool) {
	e, ok := t.entries[PageAlign(va)]
	if !ok {
		t.misses++
		return 0, false, false
	}
	t.hits++
	return e.frame, e.writable, true
}

// Insert caches a translation.
func (t *TLB) Insert(va, frame uint64, writable bool) {
	page := PageAlign(va)
	if _, ok := t.entries[page]; !ok {
		if len(t.order) >= t.limit {
			oldest := t.order[0]
			t.order = t.order[1:]
			delete(t.entries, oldest)
		}
		t.order = append(t.order, page)
	}
	t.entries[page] = tlbEntry{frame: frame, writable: writable}
}

// Invalidate drops the translation of the page containing va.
func (t *TLB) Invalidate(va uint64) {
	page := PageAlign(va)
	if _, ok := t.entries[page]; !ok {
		return
	}
	delete(t.entries, page)
	for i, p := range t.order {
		if p == page {
			t.order = append(t.order[:i], t.order[i+1:]...)
			break
		}
	}
}

// Flush drops every translation.
func (t *TLB) Flush() {
	clear(t.entries)
	t.order = t.order[:0]
}

// Len returns the number of cached translations.
func (t *TLB) Len() int {
	return len(t.entries)
}

// Counters returns hit and miss counts.
func (t *TLB) Counters() (hits, misses uint64) {
	return t.hits, t.misses
}
