// Package capturetest provides an in-memory capture.FS for tests.
package capturetest

import (
	"fmt"
	"io/fs"
	"sync"
)

// MemFS tracks files by path and size. Directories are recorded but never
// required to exist before files are added.
type MemFS struct {
	mu    sync.Mutex
	files map[string]int64
	dirs  map[string]bool

	// DirErr, when set, is returned by EnsureDir.
	DirErr error
}

func NewMemFS() *MemFS {
	return &MemFS{files: map[string]int64{}, dirs: map[string]bool{}}
}

func (m *MemFS) Exists(path string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.files[path]
	return ok, nil
}

func (m *MemFS) Size(path string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.files[path]
	if !ok {
		return 0, fmt.Errorf("size %s: %w", path, fs.ErrNotExist)
	}
	return n, nil
}

func (m *MemFS) EnsureDir(path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.DirErr != nil {
		return m.DirErr
	}
	m.dirs[path] = true
	return nil
}

// Put creates or resizes a file.
func (m *MemFS) Put(path string, size int64) {
	m.mu.Lock()
	m.files[path] = size
	m.mu.Unlock()
}

// Grow adds n bytes to an existing file.
func (m *MemFS) Grow(path string, n int64) {
	m.mu.Lock()
	if _, ok := m.files[path]; ok {
		m.files[path] += n
	}
	m.mu.Unlock()
}

func (m *MemFS) Remove(path string) {
	m.mu.Lock()
	delete(m.files, path)
	m.mu.Unlock()
}

func (m *MemFS) HasDir(path string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.dirs[path]
}
