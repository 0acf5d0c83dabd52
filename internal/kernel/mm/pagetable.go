package mm

// Virtual address geometry.
const (
	ptLevels       = 4
	ptEntries      = 512
	ptIndexBits    = 9
	VirtualAddrMax = uint64(1) << 47
)

// ptNode is one level of the radix tree. Only the lowest level carries
// leaf entries.
type ptNode struct {
	next [ptEntries]*ptNode
	ptes *[ptEntries]PTE
	used int
}

// PageTable is a four-level radix page table. Intermediate levels are
// created on demand and dropped again when they empty out.
type PageTable struct {
	root   *ptNode
	tables int
}

// NewPageTable creates an empty page table.
func NewPageTable() *PageTable {
	return &PageTable{root: &ptNode{}, tables: 1}
}

func ptIndex(va uint64, level int) int {
	shift := PageShift + ptIndexBits*(level-1)
	return int(va>>shift) & (ptEntries - 1)
}

// Walk returns the leaf slot for va, creating missing levels when create is
// set. It returns nil for a missing path or a non-canonical address.
func (pt *PageTable) Walk(va uint64, create bool) *PTE {
	if va >= VirtualAddrMax {
		return nil
	}
	node := pt.root
	for level := ptLevels; level > 1; level-- {
		i := ptIndex(va, level)
		child := node.next[i]
		if child == nil {
			if !create {
				return nil
			}
			child = &ptNode{}
			if level == 2 {
				child.ptes = new([ptEntries]PTE)
			}
			node.next[i] = child
			node.used++
			pt.tables++
		}
		node = child
	}
	return &node.ptes[ptIndex(va, 1)]
}

// Lookup returns the entry for va.
func (pt *PageTable) Lookup(va uint64) (PTE, bool) {
	e := pt.Walk(va, false)
	if e == nil || *e == 0 {
		return 0, false
	}
	return *e, true
}

// Set stores e for va.
func (pt *PageTable) Set(va uint64, e PTE) bool {
	slot := pt.Walk(va, true)
	if slot == nil {
		return false
	}
	*slot = e
	return true
}

// Clear zeroes the entry for va and prunes empty levels. It returns the old
// entry.
func (pt *PageTable) Clear(va uint64) PTE {
	if va >= VirtualAddrMax {
		return 0
	}
	var path [ptLevels]*ptNode
	node := pt.root
	for level := ptLevels; level > 1; level-- {
		path[ptLevels-level] = node
		node = node.next[ptIndex(va, level)]
		if node == nil {
			return 0
		}
	}
	i := ptIndex(va, 1)
	old := node.ptes[i]
	node.ptes[i] = 0
	if !leafEmpty(node) {
		return old
	}
	for level := 2; level <= ptLevels; level++ {
		parent := path[ptLevels-level]
		parent.next[ptIndex(va, level)] = nil
		parent.used--
		pt.tables--
		if parent.used > 0 || parent == pt.root {
			break
		}
	}
	return old
}

func leafEmpty(n *ptNode) bool {
	for _, e := range n.ptes {
		if e != 0 {
			return false
		}
	}
	return true
}

// Range visits every non-zero leaf entry in ascending address order.
func (pt *PageTable) Range(fn func(va uint64, e PTE) bool) {
	pt.rangeNode(pt.root, ptLevels, 0, fn)
}

func (pt *PageTable) rangeNode(n *ptNode, level int, base uint64, fn func(uint64, PTE) bool) bool {
	shift := uint(PageShift + ptIndexBits*(level-1))
	if level == 1 {
		for i, e := range n.ptes {
			if e != 0 && !fn(base|uint64(i)<<shift, e) {
				return false
			}
		}
		return true
	}
	for i, child := range n.next {
		if child == nil {
			continue
		}
		if !pt.rangeNode(child, level-1, base|uint64(i)<<shift, fn) {
			return false
		}
	}
	return true
}

// Tables returns the number of table pages in use, root included.
func (pt *PageTable) Tables() int {
	return pt.tables
}
