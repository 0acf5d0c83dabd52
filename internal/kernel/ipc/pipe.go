package ipc

import (
	"go.uber.org/zap"

	"github.com/sandiphembram2021/kronos-operating-system/internal/kernel/kerr"
	"github.com/sandiphembram2021/kronos-operating-system/internal/kernel/proc"
	"github.com/sandiphembram2021/kronos-operating-system/internal/kernel/signal"
	"github.com/sandiphembram2021/kronos-operating-system/internal/shared/arena"
)

// Pipe is a bounded circular byte buffer with open-end counts and one wait
// list per side.
type Pipe struct {
	buf   []byte
	rpos  int
	wpos  int
	count int

	readers int
	writers int

	readWait  *proc.WaitList
	writeWait *proc.WaitList
}

// PipeInfo describes one pipe.
type PipeInfo struct {
	ID             string `json:"id"`
	Buffered       int    `json:"buffered"`
	Capacity       int    `json:"capacity"`
	Readers        int    `json:"readers"`
	Writers        int    `json:"writers"`
	BlockedReaders int    `json:"blocked_readers"`
	BlockedWriters int    `json:"blocked_writers"`
}

func (p *Pipe) info(h arena.Handle) PipeInfo {
	return PipeInfo{
		ID:             h.String(),
		Buffered:       p.count,
		Capacity:       len(p.buf),
		Readers:        p.readers,
		Writers:        p.writers,
		BlockedReaders: p.readWait.Len(),
		BlockedWriters: p.writeWait.Len(),
	}
}

func (p *Pipe) free() int {
	return len(p.buf) - p.count
}

func (p *Pipe) put(data []byte) {
	for _, b := range data {
		p.buf[p.wpos] = b
		p.wpos = (p.wpos + 1) % len(p.buf)
	}
	p.count += len(data)
}

func (p *Pipe) take(n int) []byte {
	out := make([]byte, n)
	for i := range out {
		out[i] = p.buf[p.rpos]
		p.rpos = (p.rpos + 1) % len(p.buf)
	}
	p.count -= n
	return out
}

// PipeCreate creates a pipe and installs its read and write ends in the
// descriptor table of owner.
func (m *Manager) PipeCreate(owner *proc.Process) (readFD, writeFD int, err error) {
	p := &Pipe{
		buf:       make([]byte, m.cfg.PipeBufferSize),
		readers:   1,
		writers:   1,
		readWait:  m.newWaitList(),
		writeWait: m.newWaitList(),
	}
	h, err := m.pipes.Insert(p)
	if err != nil {
		return -1, -1, ErrNoPipeSlot
	}

	readFD, err = owner.InstallFD(&proc.FileDescriptor{Kind: proc.FDPipeRead, Pipe: h})
	if err != nil {
		m.pipes.Remove(h)
		return -1, -1, err
	}
	writeFD, err = owner.InstallFD(&proc.FileDescriptor{Kind: proc.FDPipeWrite, Pipe: h})
	if err != nil {
		owner.FDs[readFD] = nil
		m.pipes.Remove(h)
		return -1, -1, err
	}

	m.logger.Debug("pipe created",
		zap.Uint32("pid", uint32(owner.PID)),
		zap.Stringer("pipe", h),
		zap.Int("read_fd", readFD),
		zap.Int("write_fd", writeFD))
	return readFD, writeFD, nil
}

func (m *Manager) pipeEnd(c Caller, fd int, kind proc.FDKind) (*Pipe, error) {
	d, err := c.P.FD(fd)
	if err != nil {
		return nil, err
	}
	if d.Kind != kind {
		return nil, ErrWrongEnd
	}
	p, ok := m.pipes.Get(d.Pipe)
	if !ok {
		return nil, ErrRemoved
	}
	return p, nil
}

// PipeRead reads up to n bytes from the read end fd. An empty pipe blocks
// while a writer remains open; with no writers it returns an empty slice
// (end of file).
func (m *Manager) PipeRead(c Caller, fd int, n int) ([]byte, error) {
	if n <= 0 {
		return nil, kerr.ErrInvalidParam
	}
	p, err := m.pipeEnd(c, fd, proc.FDPipeRead)
	if err != nil {
		return nil, err
	}
	if p.count == 0 {
		if p.writers == 0 {
			m.satisfied(c, p.readWait)
			return []byte{}, nil
		}
		return nil, m.sleep(c, p.readWait, false, "pipe")
	}

	out := p.take(min(n, p.count))
	m.satisfied(c, p.readWait)
	m.wakeAll(p.writeWait)
	return out, nil
}

// PipeWrite writes data to the write end fd and returns the number of bytes
// taken. Data that fits in the buffer is written whole or not at all; larger
// writes proceed in chunks and the caller repeats with the remainder. With
// no reader left the caller gets SIGPIPE and ErrBrokenPipe.
func (m *Manager) PipeWrite(c Caller, fd int, data []byte) (int, error) {
	p, err := m.pipeEnd(c, fd, proc.FDPipeWrite)
	if err != nil {
		return 0, err
	}
	if p.readers == 0 {
		m.satisfied(c, p.writeWait)
		if m.signals != nil {
			_ = m.signals.Send(c.P.PID, signal.SIGPIPE)
		}
		return 0, ErrBrokenPipe
	}
	if len(data) == 0 {
		return 0, nil
	}

	need := len(data)
	if need > len(p.buf) {
		need = 1
	}
	if p.free() < need {
		return 0, m.sleep(c, p.writeWait, false, "pipe")
	}

	n := min(len(data), p.free())
	p.put(data[:n])
	m.satisfied(c, p.writeWait)
	m.wakeAll(p.readWait)
	return n, nil
}

// PipeClose closes descriptor fd of owner. Closing the last writer wakes the
// readers to see end of file; closing the last reader wakes the writers to
// see a broken pipe. The pipe is freed when both sides are closed.
func (m *Manager) PipeClose(owner *proc.Process, fd int) error {
	d, err := owner.FD(fd)
	if err != nil {
		return err
	}
	if d.Kind != proc.FDPipeRead && d.Kind != proc.FDPipeWrite {
		return proc.ErrBadFD
	}
	_, _ = owner.RemoveFD(fd)
	m.closeEnd(d)
	return nil
}

// PipeDup records another open reference to the pipe end d, as when a
// descriptor table is copied by fork.
func (m *Manager) PipeDup(d *proc.FileDescriptor) {
	p, ok := m.pipes.Get(d.Pipe)
	if !ok {
		return
	}
	switch d.Kind {
	case proc.FDPipeRead:
		p.readers++
	case proc.FDPipeWrite:
		p.writers++
	}
}

// CloseAll closes every pipe descriptor of owner. Used on exit.
func (m *Manager) CloseAll(owner *proc.Process) {
	for fd, d := range owner.FDs {
		if d != nil && (d.Kind == proc.FDPipeRead || d.Kind == proc.FDPipeWrite) {
			owner.FDs[fd] = nil
			m.closeEnd(d)
		}
	}
}

func (m *Manager) closeEnd(d *proc.FileDescriptor) {
	p, ok := m.pipes.Get(d.Pipe)
	if !ok {
		return
	}
	switch d.Kind {
	case proc.FDPipeRead:
		if p.readers > 0 {
			p.readers--
		}
		if p.readers == 0 {
			m.wakeAll(p.writeWait)
		}
	case proc.FDPipeWrite:
		if p.writers > 0 {
			p.writers--
		}
		if p.writers == 0 {
			m.wakeAll(p.readWait)
		}
	}
	if p.readers == 0 && p.writers == 0 {
		m.pipes.Remove(d.Pipe)
		m.logger.Debug("pipe released", zap.Stringer("pipe", d.Pipe))
	}
}
