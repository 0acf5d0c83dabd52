package ipc

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sandiphembram2021/kronos-operating-system/internal/kernel/kerr"
	"github.com/sandiphembram2021/kronos-operating-system/internal/kernel/proc"
	"github.com/sandiphembram2021/kronos-operating-system/internal/kernel/signal"
)

// share hands a copy of descriptor fd of from to to, as fork would.
func (f *fixture) share(t *testing.T, from, to *proc.Process, fd int) int {
	t.Helper()
	d, err := from.FD(fd)
	require.NoError(t, err)
	dup := *d
	n, err := to.InstallFD(&dup)
	require.NoError(t, err)
	f.m.PipeDup(&dup)
	return n
}

func TestPipeRoundTrip(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	a := f.spawn(t, "a")

	r, w, err := f.m.PipeCreate(a)
	require.NoError(t, err)
	assert.Equal(t, 0, r)
	assert.Equal(t, 1, w)

	n, err := f.m.PipeWrite(call(a), w, []byte("hello"))
	require.NoError(t, err)
	assert.Equal(t, 5, n)

	got, err := f.m.PipeRead(call(a), r, 3)
	require.NoError(t, err)
	assert.Equal(t, []byte("hel"), got)
	got, err = f.m.PipeRead(call(a), r, 64)
	require.NoError(t, err)
	assert.Equal(t, []byte("lo"), got)
}

func TestPipeWrapsAroundBuffer(t *testing.T) {
	f := newFixture(t, Config{PipeBufferSize: 4})
	a := f.spawn(t, "a")
	r, w, err := f.m.PipeCreate(a)
	require.NoError(t, err)

	for _, chunk := range []string{"abc", "de", "fg"} {
		n, err := f.m.PipeWrite(call(a), w, []byte(chunk))
		require.NoError(t, err)
		require.Equal(t, len(chunk), n)
		got, err := f.m.PipeRead(call(a), r, 4)
		require.NoError(t, err)
		assert.Equal(t, chunk, string(got))
	}
}

func TestPipeDescriptorErrors(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	a := f.spawn(t, "a")
	r, w, err := f.m.PipeCreate(a)
	require.NoError(t, err)

	_, err = f.m.PipeRead(call(a), w, 1)
	assert.ErrorIs(t, err, ErrWrongEnd)
	_, err = f.m.PipeWrite(call(a), r, []byte("x"))
	assert.ErrorIs(t, err, ErrWrongEnd)
	_, err = f.m.PipeRead(call(a), 9, 1)
	assert.ErrorIs(t, err, proc.ErrBadFD)
	_, err = f.m.PipeRead(call(a), r, 0)
	assert.ErrorIs(t, err, kerr.ErrInvalidParam)
	assert.ErrorIs(t, f.m.PipeClose(a, 9), proc.ErrBadFD)
}

func TestPipeReaderBlocksUntilWrite(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	a, b, c := f.spawn(t, "writer"), f.spawn(t, "r1"), f.spawn(t, "r2")
	r, w, err := f.m.PipeCreate(a)
	require.NoError(t, err)
	rb := f.share(t, a, b, r)
	rc := f.share(t, a, c, r)

	_, err = f.m.PipeRead(call(b), rb, 8)
	assertBlocked(t, b, err)
	_, err = f.m.PipeRead(call(c), rc, 8)
	assertBlocked(t, c, err)
	assert.Equal(t, 2, f.m.Snapshot().Pipes[0].BlockedReaders)

	_, err = f.m.PipeWrite(call(a), w, []byte("x"))
	require.NoError(t, err)
	assertWoken(t, b)
	assertWoken(t, c)
	assert.Zero(t, f.m.Snapshot().Pipes[0].BlockedReaders)

	got, err := f.m.PipeRead(call(b), rb, 8)
	require.NoError(t, err)
	assert.Equal(t, "x", string(got))
	_, err = f.m.PipeRead(call(c), rc, 8)
	assertBlocked(t, c, err)
}

func TestPipeWriterBlocksWhenFull(t *testing.T) {
	f := newFixture(t, Config{PipeBufferSize: 8})
	a, b := f.spawn(t, "reader"), f.spawn(t, "writer")
	r, w, err := f.m.PipeCreate(a)
	require.NoError(t, err)
	wb := f.share(t, a, b, w)

	n, err := f.m.PipeWrite(call(b), wb, []byte("abcdef"))
	require.NoError(t, err)
	assert.Equal(t, 6, n)

	// Fits the buffer, so it goes in whole or waits.
	_, err = f.m.PipeWrite(call(b), wb, []byte("ghij"))
	assertBlocked(t, b, err)

	_, err = f.m.PipeRead(call(a), r, 2)
	require.NoError(t, err)
	assertWoken(t, b)

	n, err = f.m.PipeWrite(call(b), wb, []byte("ghij"))
	require.NoError(t, err)
	assert.Equal(t, 4, n)
	assert.Equal(t, 8, f.m.Snapshot().Pipes[0].Buffered)
}

func TestPipeLargeWriteIsChunked(t *testing.T) {
	f := newFixture(t, Config{PipeBufferSize: 8})
	a := f.spawn(t, "a")
	r, w, err := f.m.PipeCreate(a)
	require.NoError(t, err)

	data := []byte("0123456789abcdefghij")
	n, err := f.m.PipeWrite(call(a), w, data)
	require.NoError(t, err)
	assert.Equal(t, 8, n)

	got, err := f.m.PipeRead(call(a), r, 3)
	require.NoError(t, err)
	assert.Equal(t, "012", string(got))

	n, err = f.m.PipeWrite(call(a), w, data[8:])
	require.NoError(t, err)
	assert.Equal(t, 3, n, "only the free space is taken")
}

func TestPipeEndOfFile(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	a, b := f.spawn(t, "writer"), f.spawn(t, "reader")
	r, w, err := f.m.PipeCreate(a)
	require.NoError(t, err)
	rb := f.share(t, a, b, r)

	_, err = f.m.PipeRead(call(b), rb, 4)
	assertBlocked(t, b, err)

	require.NoError(t, f.m.PipeClose(a, w))
	assertWoken(t, b)

	got, err := f.m.PipeRead(call(b), rb, 4)
	require.NoError(t, err)
	assert.NotNil(t, got)
	assert.Empty(t, got)
}

func TestPipeBrokenRaisesSIGPIPE(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	a := f.spawn(t, "a")
	r, w, err := f.m.PipeCreate(a)
	require.NoError(t, err)
	require.NoError(t, f.m.PipeClose(a, r))

	n, err := f.m.PipeWrite(call(a), w, []byte("x"))
	assert.ErrorIs(t, err, ErrBrokenPipe)
	assert.Zero(t, n)
	f.signals.AssertCalled(t, "Send", a.PID, signal.SIGPIPE)
}

func TestPipeClosingLastReaderWakesWriters(t *testing.T) {
	f := newFixture(t, Config{PipeBufferSize: 2})
	a, b := f.spawn(t, "reader"), f.spawn(t, "writer")
	r, w, err := f.m.PipeCreate(a)
	require.NoError(t, err)
	wb := f.share(t, a, b, w)

	_, err = f.m.PipeWrite(call(b), wb, []byte("ab"))
	require.NoError(t, err)
	_, err = f.m.PipeWrite(call(b), wb, []byte("c"))
	assertBlocked(t, b, err)

	require.NoError(t, f.m.PipeClose(a, r))
	assertWoken(t, b)
	_, err = f.m.PipeWrite(call(b), wb, []byte("c"))
	assert.ErrorIs(t, err, ErrBrokenPipe)
}

func TestPipeFreedWhenBothEndsClosed(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	a, b := f.spawn(t, "a"), f.spawn(t, "b")
	r, w, err := f.m.PipeCreate(a)
	require.NoError(t, err)
	f.share(t, a, b, r)

	f.m.CloseAll(a)
	assert.Nil(t, a.FDs[r])
	assert.Nil(t, a.FDs[w])
	assert.Equal(t, 1, f.m.Stats().Pipes, "b still holds the read end")

	f.m.CloseAll(b)
	assert.Zero(t, f.m.Stats().Pipes)
}

func TestPipeCreateRollsBackOnFullDescriptorTable(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	a := f.spawn(t, "a")
	for i := 0; i < proc.MaxFDs-1; i++ {
		_, err := a.InstallFD(&proc.FileDescriptor{Kind: proc.FDFile})
		require.NoError(t, err)
	}

	_, _, err := f.m.PipeCreate(a)
	assert.ErrorIs(t, err, proc.ErrFDTableFull)
	assert.Zero(t, f.m.Stats().Pipes)
	assert.Nil(t, a.FDs[proc.MaxFDs-1])
}

func TestPipeReadTimesOut(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	a := f.spawn(t, "a")
	r, _, err := f.m.PipeCreate(a)
	require.NoError(t, err)

	c := Caller{P: a, Deadline: f.rt.Ticks() + 3}
	_, err = f.m.PipeRead(c, r, 1)
	assertBlocked(t, a, err)
	deadline, ok := f.rt.Deadline(a.Handle)
	require.True(t, ok)
	assert.Equal(t, uint64(3), deadline)

	f.advance(2)
	assert.Equal(t, proc.StateBlocked, a.State)

	f.advance(1)
	assertWoken(t, a)
	_, err = f.m.PipeRead(c, r, 1)
	assert.ErrorIs(t, err, kerr.ErrTimeout)
	assert.Zero(t, f.m.Stats().Blocked)
}
