package ipc

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sandiphembram2021/kronos-operating-system/internal/kernel/kerr"
	"github.com/sandiphembram2021/kronos-operating-system/internal/kernel/proc"
	"github.com/sandiphembram2021/kronos-operating-system/internal/shared/arena"
)

func TestSemgetValidation(t *testing.T) {
	f := newFixture(t, DefaultConfig())

	tests := []struct {
		name    string
		initial int
		max     int
	}{
		{name: "zero max", initial: 0, max: 0},
		{name: "negative initial", initial: -1, max: 1},
		{name: "initial above max", initial: 3, max: 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.m.Semget(KeyPrivate, tt.initial, tt.max, IPCCreat)
			assert.ErrorIs(t, err, kerr.ErrInvalidParam)
		})
	}

	_, err := f.m.Semget(5, 1, 1, 0)
	assert.ErrorIs(t, err, ErrNotFound)
	h, err := f.m.Semget(5, 1, 1, IPCCreat)
	require.NoError(t, err)
	again, err := f.m.Semget(5, 0, 0, 0)
	require.NoError(t, err, "lookup ignores the value arguments")
	assert.Equal(t, h, again)
	_, err = f.m.Semget(5, 1, 1, IPCCreat|IPCExcl)
	assert.ErrorIs(t, err, ErrExists)
}

func TestSemaphoreWaitAndSignal(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	a, b := f.spawn(t, "a"), f.spawn(t, "b")
	id, err := f.m.Semget(KeyPrivate, 1, 1, IPCCreat)
	require.NoError(t, err)
	sem, ok := f.m.Semaphore(id)
	require.True(t, ok)

	require.NoError(t, f.m.SemWait(call(a), id))
	assert.Zero(t, sem.Value())

	assertBlocked(t, b, f.m.SemWait(call(b), id))
	assert.Zero(t, sem.Value(), "value never goes negative")
	assert.ErrorIs(t, f.m.SemTryWait(b, id), ErrAgain)

	require.NoError(t, f.m.SemSignal(a, id))
	assertWoken(t, b)
	assert.Equal(t, 1, sem.Value())

	require.NoError(t, f.m.SemWait(call(b), id))
	assert.Zero(t, sem.Value())
	assert.Equal(t, []proc.PID{b.PID}, f.m.Snapshot().Semaphores[0].Holders)
}

func TestSemSignalOverflow(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	a := f.spawn(t, "a")
	id, err := f.m.Semget(KeyPrivate, 2, 2, IPCCreat)
	require.NoError(t, err)

	assert.ErrorIs(t, f.m.SemSignal(a, id), ErrOverflow)
	require.NoError(t, f.m.SemTryWait(a, id))
	require.NoError(t, f.m.SemSignal(a, id))
	sem, _ := f.m.Semaphore(id)
	assert.Equal(t, 2, sem.Value())
}

func TestSemSignalWakesMostUrgentWaiter(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	owner := f.spawn(t, "owner")
	low := f.spawnRT(t, "low", 50)
	high := f.spawnRT(t, "high", 10)
	mid := f.spawnRT(t, "mid", 30)
	id, err := f.m.Semget(KeyPrivate, 0, 1, IPCCreat)
	require.NoError(t, err)

	for _, p := range []*proc.Process{low, high, mid} {
		assertBlocked(t, p, f.m.SemWait(call(p), id))
	}

	require.NoError(t, f.m.SemSignal(owner, id))
	assertWoken(t, high)
	assert.Equal(t, proc.StateBlocked, low.State)
	assert.Equal(t, proc.StateBlocked, mid.State)

	require.NoError(t, f.m.SemWait(call(high), id))
	require.NoError(t, f.m.SemSignal(high, id))
	assertWoken(t, mid)
	assert.Equal(t, proc.StateBlocked, low.State)
}

func TestSemWaitTimesOut(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	a := f.spawn(t, "a")
	id, err := f.m.Semget(KeyPrivate, 0, 1, IPCCreat)
	require.NoError(t, err)

	c := Caller{P: a, Deadline: 3}
	assertBlocked(t, a, f.m.SemWait(c, id))
	f.advance(3)
	assertWoken(t, a)

	assert.ErrorIs(t, f.m.SemWait(c, id), kerr.ErrTimeout)
	sem, _ := f.m.Semaphore(id)
	assert.Zero(t, sem.Value())
	assert.Zero(t, f.m.Stats().Blocked)
}

func TestSemWaitSatisfiedCancelsTimeout(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	a, b := f.spawn(t, "a"), f.spawn(t, "b")
	id, err := f.m.Semget(KeyPrivate, 0, 1, IPCCreat)
	require.NoError(t, err)

	c := Caller{P: a, Deadline: 10}
	assertBlocked(t, a, f.m.SemWait(c, id))
	require.NoError(t, f.m.SemSignal(b, id))
	require.NoError(t, f.m.SemWait(c, id))

	_, armed := f.rt.Deadline(a.Handle)
	assert.False(t, armed)
}

func TestSemaphorePriorityInheritance(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	holder := f.spawnRT(t, "holder", 80)
	urgent := f.spawnRT(t, "urgent", 10)
	id, err := f.m.Semget(KeyPrivate, 1, 1, IPCCreat)
	require.NoError(t, err)

	require.NoError(t, f.m.SemWait(call(holder), id))
	assertBlocked(t, urgent, f.m.SemWait(call(urgent), id))

	assert.Equal(t, proc.Priority(10), holder.Priority)
	assert.Equal(t, proc.Priority(80), holder.BasePriority)
	assert.True(t, holder.Boosted)

	require.NoError(t, f.m.SemSignal(holder, id))
	assert.Equal(t, proc.Priority(80), holder.Priority)
	assert.False(t, holder.Boosted)
	assertWoken(t, urgent)
}

func TestSemaphoreInheritanceSkipsMoreUrgentHolder(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	holder := f.spawnRT(t, "holder", 5)
	waiter := f.spawnRT(t, "waiter", 40)
	id, err := f.m.Semget(KeyPrivate, 1, 1, IPCCreat)
	require.NoError(t, err)

	require.NoError(t, f.m.SemWait(call(holder), id))
	assertBlocked(t, waiter, f.m.SemWait(call(waiter), id))
	assert.Equal(t, proc.Priority(5), holder.Priority)
	assert.False(t, holder.Boosted)
}

func TestSemRemoveWakesWaitersAndRestoresHolders(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	holder := f.spawnRT(t, "holder", 60)
	waiter := f.spawnRT(t, "waiter", 20)
	id, err := f.m.Semget(3, 1, 1, IPCCreat)
	require.NoError(t, err)

	require.NoError(t, f.m.SemWait(call(holder), id))
	assertBlocked(t, waiter, f.m.SemWait(call(waiter), id))
	require.True(t, holder.Boosted)

	require.NoError(t, f.m.SemRemove(id))
	assertWoken(t, waiter)
	assert.Equal(t, proc.Priority(60), holder.Priority)
	assert.ErrorIs(t, f.m.SemWait(call(waiter), id), ErrRemoved)
	_, err = f.m.Semget(3, 1, 1, 0)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestReleaseOwnedReturnsUnits(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	holder, waiter := f.spawn(t, "holder"), f.spawn(t, "waiter")
	id, err := f.m.Semget(KeyPrivate, 2, 2, IPCCreat)
	require.NoError(t, err)
	mu, err := f.m.MutexCreate(false)
	require.NoError(t, err)

	require.NoError(t, f.m.SemWait(call(holder), id))
	require.NoError(t, f.m.SemWait(call(holder), id))
	require.NoError(t, f.m.MutexLock(call(holder), mu))
	assertBlocked(t, waiter, f.m.SemWait(call(waiter), id))

	f.m.ReleaseOwned(holder)
	sem, _ := f.m.Semaphore(id)
	assert.Equal(t, 2, sem.Value())
	assertWoken(t, waiter)
	assert.Empty(t, f.m.Snapshot().Semaphores[0].Holders)
	assert.Zero(t, f.m.Snapshot().Mutexes[0].Owner)
}

func TestSemWaitAfterEarlyWakeLeavesWaitList(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	a, b := f.spawn(t, "a"), f.spawn(t, "b")
	id, err := f.m.Semget(KeyPrivate, 0, 1, IPCCreat)
	require.NoError(t, err)

	assertBlocked(t, a, f.m.SemWait(call(a), id))
	// A signal wakes a without touching the semaphore.
	f.s.Wake(a)
	assertBlocked(t, a, f.m.SemWait(call(a), id))
	assert.Equal(t, 1, f.m.Stats().Blocked, "re-blocking does not queue twice")

	f.s.Wake(a)
	require.NoError(t, f.m.SemSignal(b, id))
	require.NoError(t, f.m.SemWait(call(a), id))
	assert.Zero(t, f.m.Stats().Blocked)
}

func TestAbandonedWakeUpPassesToNextWaiter(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	a, b, c := f.spawn(t, "a"), f.spawn(t, "b"), f.spawn(t, "c")
	id, err := f.m.Semget(KeyPrivate, 0, 1, IPCCreat)
	require.NoError(t, err)

	assertBlocked(t, a, f.m.SemWait(call(a), id))
	assertBlocked(t, b, f.m.SemWait(call(b), id))

	require.NoError(t, f.m.SemSignal(c, id))
	assertWoken(t, a)
	assert.Equal(t, proc.StateBlocked, b.State)

	// a leaves before retrying, so the unit goes to b.
	f.m.Forget(a)
	assertWoken(t, b)
	require.NoError(t, f.m.SemWait(call(b), id))
	sem, _ := f.m.Semaphore(id)
	assert.Zero(t, sem.Value())
	assert.Zero(t, f.m.Stats().Blocked)
}

func TestForgetAfterRetryWakesNobody(t *testing.T) {
	tests := []struct {
		name  string
		setup func(t *testing.T, f *fixture, a, c *proc.Process, id arena.Handle)
	}{
		{
			name: "woken waiter took the unit",
			setup: func(t *testing.T, f *fixture, a, _ *proc.Process, id arena.Handle) {
				require.NoError(t, f.m.SemWait(call(a), id))
			},
		},
		{
			name: "unit taken by someone else",
			setup: func(t *testing.T, f *fixture, _, c *proc.Process, id arena.Handle) {
				require.NoError(t, f.m.SemTryWait(c, id))
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, DefaultConfig())
			a, b, c := f.spawn(t, "a"), f.spawn(t, "b"), f.spawn(t, "c")
			id, err := f.m.Semget(KeyPrivate, 0, 1, IPCCreat)
			require.NoError(t, err)
			assertBlocked(t, a, f.m.SemWait(call(a), id))
			assertBlocked(t, b, f.m.SemWait(call(b), id))
			require.NoError(t, f.m.SemSignal(c, id))

			tt.setup(t, f, a, c, id)
			f.m.Forget(a)
			assert.Equal(t, proc.StateBlocked, b.State)
		})
	}
}

func TestSignalWokenWaiterKeepsItsTurn(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	a, b, c := f.spawn(t, "a"), f.spawn(t, "b"), f.spawn(t, "c")
	id, err := f.m.Semget(KeyPrivate, 0, 1, IPCCreat)
	require.NoError(t, err)

	assertBlocked(t, a, f.m.SemWait(call(a), id))
	assertBlocked(t, b, f.m.SemWait(call(b), id))
	// A signal wakes a; the unit posted before it retries is still a's.
	f.s.Wake(a)
	require.NoError(t, f.m.SemSignal(c, id))
	assert.Equal(t, proc.StateBlocked, b.State)

	require.NoError(t, f.m.SemWait(call(a), id))
	assert.Equal(t, 1, f.m.Stats().Blocked)
}

func TestSemSignalKeepsBoostLentThroughOtherSemaphore(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	holder := f.spawnRT(t, "holder", 80)
	urgent := f.spawnRT(t, "urgent", 10)
	mid := f.spawnRT(t, "mid", 40)
	first, err := f.m.Semget(KeyPrivate, 1, 1, IPCCreat)
	require.NoError(t, err)
	second, err := f.m.Semget(KeyPrivate, 1, 1, IPCCreat)
	require.NoError(t, err)

	require.NoError(t, f.m.SemWait(call(holder), first))
	require.NoError(t, f.m.SemWait(call(holder), second))
	assertBlocked(t, urgent, f.m.SemWait(call(urgent), first))
	assertBlocked(t, mid, f.m.SemWait(call(mid), second))

	require.NoError(t, f.m.SemSignal(holder, first))
	assert.Equal(t, proc.Priority(40), holder.Priority)
	assert.True(t, holder.Boosted)

	require.NoError(t, f.m.SemSignal(holder, second))
	assert.Equal(t, proc.Priority(80), holder.Priority)
	assert.False(t, holder.Boosted)
}
