// Package realfs is the ports.FileSystem backed by the host OS.
package realfs

import (
	"io/fs"
	"os"

	"github.com/acolita/ashell-monkey/internal/ports"
)

// FS delegates to package os.
type FS struct{}

func New() *FS { return &FS{} }

func (FS) ReadFile(name string) ([]byte, error) { return os.ReadFile(name) }
func (FS) WriteFile(name string, data []byte, perm fs.FileMode) error {
	return os.WriteFile(name, data, perm)
}
func (FS) Stat(name string) (fs.FileInfo, error)        { return os.Stat(name) }
func (FS) MkdirAll(path string, perm fs.FileMode) error { return os.MkdirAll(path, perm) }
func (FS) UserHomeDir() (string, error)                 { return os.UserHomeDir() }
func (FS) Getenv(key string) string                     { return os.Getenv(key) }

// OpenFile returns the *os.File as a ports.FileHandle.
func (FS) OpenFile(name string, flag int, perm fs.FileMode) (ports.FileHandle, error) {
	f, err := os.OpenFile(name, flag, perm)
	if err != nil {
		return nil, err
	}
	return f, nil
}

var _ ports.FileSystem = (*FS)(nil)
