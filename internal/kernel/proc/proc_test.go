package proc

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWeightForNice(t *testing.T) {
	want := []uint64{
		88761, 71755, 56483, 46273, 36291,
		29154, 23254, 18705, 14949, 11916,
		9548, 7620, 6100, 4904, 3906,
		3121, 2501, 1991, 1586, 1277,
		1024, 820, 655, 526, 423,
		335, 272, 215, 172, 137,
		110, 87, 70, 56, 45,
		36, 29, 23, 18, 15,
	}

	for nice := NiceMin; nice <= NiceMax; nice++ {
		assert.Equal(t, want[nice-NiceMin], WeightForNice(nice), "nice %d", nice)
	}

	assert.Equal(t, uint64(88761), WeightForNice(-20))
	assert.Equal(t, uint64(1024), WeightForNice(0))
	assert.Equal(t, uint64(15), WeightForNice(19))
}

func TestWeightClampsOutOfRange(t *testing.T) {
	assert.Equal(t, WeightForNice(NiceMin), WeightForNice(-100))
	assert.Equal(t, WeightForNice(NiceMax), WeightForNice(100))
}

func TestNiceForPriority(t *testing.T) {
	tests := []struct {
		name string
		prio Priority
		want int
	}{
		{name: "realtime", prio: PriorityRealtime, want: -5},
		{name: "high", prio: PriorityHigh, want: -5},
		{name: "normal", prio: PriorityNormal, want: 0},
		{name: "low", prio: PriorityLow, want: 5},
		{name: "idle", prio: PriorityIdle, want: NiceMax},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NiceForPriority(tt.prio))
		})
	}
}

func TestTableInsertLookupRemove(t *testing.T) {
	table := NewTable(3)
	require.Equal(t, 1, table.Len())

	idle, ok := table.Lookup(IdlePID)
	require.True(t, ok)
	assert.Equal(t, "idle", idle.Name)
	assert.Same(t, idle, table.Idle())

	a := &Process{Name: "a"}
	b := &Process{Name: "b"}
	require.NoError(t, table.Insert(a))
	require.NoError(t, table.Insert(b))
	assert.Equal(t, PID(1), a.PID)
	assert.Equal(t, PID(2), b.PID)

	err := table.Insert(&Process{Name: "c"})
	assert.ErrorIs(t, err, ErrTableFull)

	removed, ok := table.Remove(a.PID)
	require.True(t, ok)
	assert.Same(t, a, removed)

	_, ok = table.Resolve(a.Handle)
	assert.False(t, ok, "handle of a removed process must not resolve")

	c := &Process{Name: "c"}
	require.NoError(t, table.Insert(c))
	assert.Equal(t, PID(3), c.PID, "PIDs are never reused")
	assert.Equal(t, a.Handle.Index, c.Handle.Index)

	_, ok = table.Remove(IdlePID)
	assert.False(t, ok)
}

func TestCountsLeaveOutIdle(t *testing.T) {
	table := NewTable(4)
	assert.Empty(t, table.Counts())

	require.NoError(t, table.Insert(&Process{Name: "a", State: StateReady}))
	require.NoError(t, table.Insert(&Process{Name: "b", State: StateBlocked}))
	assert.Equal(t, map[State]int{StateReady: 1, StateBlocked: 1}, table.Counts())
}

func TestWaitListPriorityOrder(t *testing.T) {
	table := NewTable(8)
	procs := make([]*Process, 4)
	for i := range procs {
		procs[i] = &Process{}
		require.NoError(t, table.Insert(procs[i]))
	}

	w := NewWaitList(8)
	require.NoError(t, w.InsertByPriority(procs[0].Handle, 50))
	require.NoError(t, w.InsertByPriority(procs[1].Handle, 10))
	require.NoError(t, w.InsertByPriority(procs[2].Handle, 50))
	require.NoError(t, w.InsertByPriority(procs[3].Handle, 10))

	got := w.Handles()
	assert.Equal(t, procs[1].Handle, got[0])
	assert.Equal(t, procs[3].Handle, got[1])
	assert.Equal(t, procs[0].Handle, got[2])
	assert.Equal(t, procs[2].Handle, got[3])

	urgent, ok := w.MostUrgent()
	require.True(t, ok)
	assert.Equal(t, Priority(10), urgent)

	h, ok := w.PopFront()
	require.True(t, ok)
	assert.Equal(t, procs[1].Handle, h)
	assert.True(t, w.Remove(procs[0].Handle))
	assert.Equal(t, 2, w.Len())
}

func TestWaitListBound(t *testing.T) {
	table := NewTable(4)
	a, b := &Process{}, &Process{}
	require.NoError(t, table.Insert(a))
	require.NoError(t, table.Insert(b))

	w := NewWaitList(1)
	require.NoError(t, w.Push(a.Handle))
	require.NoError(t, w.Push(a.Handle), "re-registering is a no-op")
	assert.ErrorIs(t, w.Push(b.Handle), ErrWaitListFull)
}

func TestFDTable(t *testing.T) {
	p := &Process{}
	for i := 0; i < MaxFDs; i++ {
		n, err := p.InstallFD(&FileDescriptor{Kind: FDFile})
		require.NoError(t, err)
		assert.Equal(t, i, n)
	}
	_, err := p.InstallFD(&FileDescriptor{})
	assert.ErrorIs(t, err, ErrFDTableFull)

	_, err = p.RemoveFD(3)
	require.NoError(t, err)
	n, err := p.InstallFD(&FileDescriptor{Kind: FDPipeRead})
	require.NoError(t, err)
	assert.Equal(t, 3, n, "lowest free slot is reused")

	_, err = p.FD(MaxFDs)
	assert.ErrorIs(t, err, ErrBadFD)
}

func TestWakeFuture(t *testing.T) {
	p := &Process{}

	select {
	case <-p.WakeChan():
	default:
		t.Fatal("an unparked process must not wait")
	}

	ch := p.Park()
	select {
	case <-ch:
		t.Fatal("parked future resolved early")
	default:
	}
	p.Unpark()
	_, open := <-ch
	assert.False(t, open)
}
