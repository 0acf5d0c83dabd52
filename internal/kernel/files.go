package kernel

import (
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/sandiphembram2021/kronos-operating-system/internal/kernel/kerr"
	"github.com/sandiphembram2021/kronos-operating-system/internal/kernel/proc"
	"github.com/sandiphembram2021/kronos-operating-system/internal/kernel/vfs"
)

// ErrNotFile is returned for file operations on a pipe descriptor.
var ErrNotFile = kerr.New(kerr.CodeInvalidParam, "descriptor is not a file")

// OpenFile opens name in the kernel's file store and installs it in the
// lowest free descriptor of pid. With create set, a missing file is created
// zero-filled at size bytes.
func (k *Kernel) OpenFile(pid proc.PID, name string, create bool, size int64) (int, error) {
	fd := -1
	err := k.do(pid, func(p *proc.Process) error {
		f, err := k.fs.Open(name)
		if errors.Is(err, vfs.ErrNotFound) && create {
			f, err = k.fs.Create(name, size)
		}
		if err != nil {
			return fmt.Errorf("open %s: %w", name, err)
		}
		fd, err = p.InstallFD(&proc.FileDescriptor{Kind: proc.FDFile, File: f})
		if err != nil {
			if k.openRefs[f] == 0 {
				_ = f.Close()
			}
			return err
		}
		k.openRefs[f]++
		return nil
	})
	return fd, err
}

// Close releases descriptor fd of pid, pipe or file.
func (k *Kernel) Close(pid proc.PID, fd int) error {
	return k.do(pid, func(p *proc.Process) error {
		d, err := p.FD(fd)
		if err != nil {
			return err
		}
		if d.Kind != proc.FDFile {
			return k.ipc.PipeClose(p, fd)
		}
		p.FDs[fd] = nil
		k.release(d.File)
		return nil
	})
}

// ReadFile reads up to n bytes at offset from the file open on fd.
func (k *Kernel) ReadFile(pid proc.PID, fd int, offset int64, n int) ([]byte, error) {
	if n < 0 || offset < 0 {
		return nil, kerr.ErrInvalidParam
	}
	var out []byte
	err := k.do(pid, func(p *proc.Process) error {
		f, err := fileOf(p, fd)
		if err != nil {
			return err
		}
		buf := make([]byte, n)
		got, err := f.ReadAt(buf, offset)
		if got == 0 && err != nil {
			return err
		}
		out = buf[:got]
		return nil
	})
	return out, err
}

// WriteFile writes data at offset into the file open on fd.
func (k *Kernel) WriteFile(pid proc.PID, fd int, offset int64, data []byte) (int, error) {
	var n int
	err := k.do(pid, func(p *proc.Process) error {
		f, err := fileOf(p, fd)
		if err != nil {
			return err
		}
		n, err = f.WriteAt(data, offset)
		return err
	})
	return n, err
}

func fileOf(p *proc.Process, fd int) (vfs.File, error) {
	d, err := p.FD(fd)
	if err != nil {
		return nil, err
	}
	if d.Kind != proc.FDFile {
		return nil, ErrNotFile
	}
	return d.File, nil
}

// closeFiles drops every file reference p holds through descriptors and
// mappings. Pipes are left to the IPC manager.
func (k *Kernel) closeFiles(p *proc.Process) {
	for i, d := range p.FDs {
		if d == nil || d.Kind != proc.FDFile {
			continue
		}
		p.FDs[i] = nil
		k.release(d.File)
	}
	for _, f := range k.mapped[p.PID] {
		k.release(f)
	}
	delete(k.mapped, p.PID)
}

// release drops one reference to f and closes it with the last one.
func (k *Kernel) release(f vfs.File) {
	k.openRefs[f]--
	if k.openRefs[f] > 0 {
		return
	}
	delete(k.openRefs, f)
	if err := f.Close(); err != nil {
		k.logger.Warn("close file failed", zap.String("file", f.Name()), zap.Error(err))
	}
}
