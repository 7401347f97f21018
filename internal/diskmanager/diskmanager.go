// Package diskmanager provides interfaces and implementations for managing disk-based file operations.
// It handles file reading, writing, renaming and directory durability required by the store.
package diskmanager

import (
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// FileHandle abstracts the file operations used by the log and snapshot layers.
type FileHandle interface {
	io.Reader
	io.Writer
	io.ReaderAt
	io.Seeker
	// Truncate changes the size of the file without moving the offset.
	Truncate(size int64) error
	// Close closes the file handle, rendering it unusable for I/O.
	Close() error
	// Sync commits the current contents of the file to stable storage.
	Sync() error
	// Stat returns the file stat
	Stat() (os.FileInfo, error)
	// Name returns the path the handle was opened with.
	Name() string
}

// DiskManager defines methods for file and directory operations.
type DiskManager interface {
	// Open opens a file with specified path, flags and permissions.
	Open(path string, flags int, perm os.FileMode) (FileHandle, error)
	// Remove removes the named file.
	Remove(path string) error
	// Rename atomically replaces newpath with oldpath.
	Rename(oldpath, newpath string) error
	// Stat returns file info for path.
	Stat(path string) (os.FileInfo, error)
	// MkdirAll creates dir and any missing parents.
	MkdirAll(dir string, perm os.FileMode) error
	// List returns the sorted names of regular files in dir
	// that contain the filter string. Empty filter matches all files.
	List(dir string, filter string) ([]string, error)
	// SyncDir makes renames and creations inside dir durable.
	SyncDir(dir string) error
}

// *os.File satisfies FileHandle directly.
var _ FileHandle = (*os.File)(nil)

type diskManager struct{}

// NewDiskManager creates a DiskManager backed by the local filesystem.
func NewDiskManager() DiskManager {
	return diskManager{}
}

func (diskManager) Open(path string, flags int, perm os.FileMode) (FileHandle, error) {
	f, err := os.OpenFile(path, flags, perm)
	if err != nil {
		return nil, err
	}
	return f, nil
}

func (diskManager) Remove(path string) error { return os.Remove(path) }

func (diskManager) Rename(oldpath, newpath string) error { return os.Rename(oldpath, newpath) }

func (diskManager) Stat(path string) (os.FileInfo, error) { return os.Stat(path) }

func (diskManager) MkdirAll(dir string, perm os.FileMode) error { return os.MkdirAll(dir, perm) }

func (diskManager) List(dir string, filter string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var files []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if filter == "" || strings.Contains(entry.Name(), filter) {
			files = append(files, entry.Name())
		}
	}
	sort.Strings(files)
	return files, nil
}

func (diskManager) SyncDir(dir string) error {
	d, err := os.Open(filepath.Clean(dir))
	if err != nil {
		return err
	}
	defer d.Close()
	return syncDir(d)
}
