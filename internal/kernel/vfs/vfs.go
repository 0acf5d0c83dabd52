// Package vfs is the minimal file store the memory manager needs: random
// access reads and writes by offset. It backs the swap device and
// file-backed mappings and nothing else.
package vfs

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
)

var (
	ErrNotFound = errors.New("vfs: file not found")
	ErrExists   = errors.New("vfs: file exists")
)

// File is an open file addressed by offset.
type File interface {
	io.ReaderAt
	io.WriterAt
	io.Closer
	Name() string
	Size() int64
}

// FS opens and creates files.
type FS interface {
	Open(name string) (File, error)
	Create(name string, size int64) (File, error)
	List() []string
}

// MemFS keeps every file in memory.
type MemFS struct {
	mu    sync.RWMutex
	files map[string]*MemFile
}

// NewMemFS creates an empty in-memory filesystem.
func NewMemFS() *MemFS {
	return &MemFS{files: make(map[string]*MemFile)}
}

// Open returns the named file.
func (fs *MemFS) Open(name string) (File, error) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()

	f, ok := fs.files[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return f, nil
}

// Create makes a zero-filled file of the given size.
func (fs *MemFS) Create(name string, size int64) (File, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if _, ok := fs.files[name]; ok {
		return nil, fmt.Errorf("%w: %s", ErrExists, name)
	}
	f := &MemFile{name: name, data: make([]byte, size)}
	fs.files[name] = f
	return f, nil
}

// List returns file names in lexical order.
func (fs *MemFS) List() []string {
	fs.mu.RLock()
	defer fs.mu.RUnlock()

	names := make([]string, 0, len(fs.files))
	for name := range fs.files {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// MemFile is an in-memory File. Writes past the end grow it.
type MemFile struct {
	mu   sync.RWMutex
	name string
	data []byte
}

// NewMemFile wraps data as a file.
func NewMemFile(name string, data []byte) *MemFile {
	return &MemFile{name: name, data: data}
}

func (f *MemFile) Name() string { return f.name }

func (f *MemFile) Size() int64 {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return int64(len(f.data))
}

func (f *MemFile) ReadAt(p []byte, off int64) (int, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	if off < 0 {
		return 0, fmt.Errorf("vfs: negative offset %d", off)
	}
	if off >= int64(len(f.data)) {
		return 0, io.EOF
	}
	n := copy(p, f.data[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

func (f *MemFile) WriteAt(p []byte, off int64) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if off < 0 {
		return 0, fmt.Errorf("vfs: negative offset %d", off)
	}
	end := off + int64(len(p))
	if end > int64(len(f.data)) {
		grown := make([]byte, end)
		copy(grown, f.data)
		f.data = grown
	}
	return copy(f.data[off:], p), nil
}

func (f *MemFile) Close() error { return nil }

// OSFS stores files in a host directory.
type OSFS struct {
	root string
}

// NewOSFS roots a filesystem at dir, creating it if needed.
func NewOSFS(dir string) (*OSFS, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("vfs: create root: %w", err)
	}
	return &OSFS{root: dir}, nil
}

func (fs *OSFS) Open(name string) (File, error) {
	f, err := os.OpenFile(fs.path(name), os.O_RDWR, 0)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	if err != nil {
		return nil, err
	}
	return &osFile{File: f, name: name}, nil
}

func (fs *OSFS) Create(name string, size int64) (File, error) {
	f, err := os.OpenFile(fs.path(name), os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o600)
	if errors.Is(err, os.ErrExist) {
		return nil, fmt.Errorf("%w: %s", ErrExists, name)
	}
	if err != nil {
		return nil, err
	}
	if err := f.Truncate(size); err != nil {
		f.Close()
		return nil, fmt.Errorf("vfs: size %s: %w", name, err)
	}
	return &osFile{File: f, name: name}, nil
}

func (fs *OSFS) List() []string {
	entries, err := os.ReadDir(fs.root)
	if err != nil {
		return nil
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			names = append(names, e.Name())
		}
	}
	return names
}

func (fs *OSFS) path(name string) string {
	return filepath.Join(fs.root, filepath.Base(name))
}

type osFile struct {
	*os.File
	name string
}

func (f *osFile) Name() string { return f.name }

func (f *osFile) Size() int64 {
	info, err := f.Stat()
	if err != nil {
		return 0
	}
	return info.Size()
}
