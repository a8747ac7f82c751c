// Package fakefs is an in-memory ports.FileSystem built on fstest.MapFS.
// Absolute and relative names share one namespace: "/a/b" and "a/b" are the
// same file.
package fakefs

import (
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing/fstest"
	"time"

	"github.com/acolita/ashell-monkey/internal/ports"
)

// FS holds files, a home directory and an environment.
type FS struct {
	mu   sync.RWMutex
	m    fstest.MapFS
	home string
	env  map[string]string
}

// New returns an empty filesystem with home /home/test.
func New() *FS {
	return &FS{m: fstest.MapFS{}, home: "/home/test", env: map[string]string{}}
}

// key maps a host path onto a MapFS name.
func key(name string) string {
	k := strings.TrimPrefix(filepath.ToSlash(filepath.Clean(name)), "/")
	if k == "" {
		return "."
	}
	return k
}

func (f *FS) ReadFile(name string) ([]byte, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	data, err := fs.ReadFile(f.m, key(name))
	if err != nil {
		return nil, &fs.PathError{Op: "open", Path: name, Err: unwrap(err)}
	}
	return data, nil
}

// WriteFile replaces name, creating parent directories as needed.
func (f *FS) WriteFile(name string, data []byte, perm fs.FileMode) error {
	f.put(name, data, perm)
	return nil
}

// OpenFile opens name for appending. O_EXCL with O_CREATE fails on an
// existing file; O_TRUNC empties it.
func (f *FS) OpenFile(name string, flag int, perm fs.FileMode) (ports.FileHandle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	file, ok := f.m[key(name)]
	switch {
	case ok && flag&(os.O_CREATE|os.O_EXCL) == os.O_CREATE|os.O_EXCL:
		return nil, &fs.PathError{Op: "open", Path: name, Err: fs.ErrExist}
	case !ok && flag&os.O_CREATE == 0:
		return nil, &fs.PathError{Op: "open", Path: name, Err: fs.ErrNotExist}
	case !ok:
		file = &fstest.MapFile{Mode: perm, ModTime: time.Now()}
		f.m[key(name)] = file
	case flag&os.O_TRUNC != 0:
		file.Data = nil
	}
	return &handle{fs: f, file: file}, nil
}

func (f *FS) Stat(name string) (fs.FileInfo, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	info, err := fs.Stat(f.m, key(name))
	if err != nil {
		return nil, &fs.PathError{Op: "stat", Path: name, Err: unwrap(err)}
	}
	return info, nil
}

func (f *FS) MkdirAll(path string, perm fs.FileMode) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if k := key(path); k != "." {
		if _, ok := f.m[k]; !ok {
			f.m[k] = &fstest.MapFile{Mode: fs.ModeDir | perm, ModTime: time.Now()}
		}
	}
	return nil
}

func (f *FS) UserHomeDir() (string, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.home, nil
}

func (f *FS) Getenv(name string) string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.env[name]
}

// AddFile seeds a file.
func (f *FS) AddFile(name string, data []byte, mode fs.FileMode) {
	f.put(name, data, mode)
}

// SetHomeDir changes what UserHomeDir returns.
func (f *FS) SetHomeDir(dir string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.home = dir
}

// SetEnv sets a variable seen by Getenv.
func (f *FS) SetEnv(name, value string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.env[name] = value
}

func (f *FS) put(name string, data []byte, mode fs.FileMode) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.m[key(name)] = &fstest.MapFile{
		Data:    append([]byte(nil), data...),
		Mode:    mode,
		ModTime: time.Now(),
	}
}

// unwrap strips the MapFS path so errors name the caller's path.
func unwrap(err error) error {
	if pe, ok := err.(*fs.PathError); ok {
		return pe.Err
	}
	return err
}

type handle struct {
	fs     *FS
	file   *fstest.MapFile
	closed bool
}

func (h *handle) Write(b []byte) (int, error) {
	h.fs.mu.Lock()
	defer h.fs.mu.Unlock()
	if h.closed {
		return 0, fs.ErrClosed
	}
	h.file.Data = append(h.file.Data, b...)
	h.file.ModTime = time.Now()
	return len(b), nil
}

func (h *handle) Close() error {
	h.fs.mu.Lock()
	defer h.fs.mu.Unlock()
	h.closed = true
	return nil
}

var _ ports.FileSystem = (*FS)(nil)
