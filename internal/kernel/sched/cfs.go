package sched

import (
	"github.com/google/btree"

	"github.com/sandiphembram2021/kronos-operating-system/internal/kernel/proc"
)

type entity struct {
	vruntime uint64
	pid      proc.PID
	p        *proc.Process
}

func entityLess(a, b entity) bool {
	if a.vruntime != b.vruntime {
		return a.vruntime < b.vruntime
	}
	return a.pid < b.pid
}

// fairTree is the fair-share run queue.
type fairTree struct {
	tree        *btree.BTreeG[entity]
	totalWeight uint64
}

func newFairTree() *fairTree {
	return &fairTree{tree: btree.NewG(8, entityLess)}
}

// enqueue inserts p keyed by its current vruntime. The key must not change
// while p is queued.
func (f *fairTree) enqueue(p *proc.Process) {
	if _, replaced := f.tree.ReplaceOrInsert(entity{vruntime: p.VRuntime, pid: p.PID, p: p}); !replaced {
		f.totalWeight += p.Weight
	}
}

func (f *fairTree) dequeue(p *proc.Process) bool {
	if _, ok := f.tree.Delete(entity{vruntime: p.VRuntime, pid: p.PID}); !ok {
		return false
	}
	f.totalWeight -= p.Weight
	return true
}

func (f *fairTree) leftmost() (*proc.Process, bool) {
	e, ok := f.tree.Min()
	if !ok {
		return nil, false
	}
	return e.p, true
}

func (f *fairTree) contains(p *proc.Process) bool {
	return f.tree.Has(entity{vruntime: p.VRuntime, pid: p.PID})
}

func (f *fairTree) len() int {
	return f.tree.Len()
}

// each visits queued processes in run order.
func (f *fairTree) each(fn func(*proc.Process) bool) {
	f.tree.Ascend(func(e entity) bool {
		return fn(e.p)
	})
}
