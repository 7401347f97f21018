// Package faultydm provides a fault-injecting disk manager for testing failure paths.
package faultydm

import (
	"errors"
	"os"
	"strings"
	"sync"

	"github.com/MikhailWahib/flintkv/internal/diskmanager"
)

// ErrInjected is the default error returned by injected faults.
var ErrInjected = errors.New("injected fault")

// Fault defines the failure behavior for files whose path contains a pattern.
type Fault struct {
	// FailWrites fails writes once FailAfterBytes bytes were written through one handle.
	FailWrites     bool
	FailAfterBytes int64
	FailOnSync     bool
	FailOnRename   bool
	FailOnOpen     bool
	Err            error
}

func (f Fault) err() error {
	if f.Err != nil {
		return f.Err
	}
	return ErrInjected
}

// DiskManager wraps another DiskManager and injects faults by path pattern.
type DiskManager struct {
	dm diskmanager.DiskManager

	mu    sync.Mutex
	rules map[string]Fault
	syncs int
}

// New wraps dm (or the local disk manager when nil).
func New(dm diskmanager.DiskManager) *DiskManager {
	if dm == nil {
		dm = diskmanager.NewDiskManager()
	}
	return &DiskManager{dm: dm, rules: make(map[string]Fault)}
}

// AddRule installs a fault for every path containing pattern.
func (d *DiskManager) AddRule(pattern string, f Fault) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.rules[pattern] = f
}

// ClearRules removes every installed fault.
func (d *DiskManager) ClearRules() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.rules = make(map[string]Fault)
}

// Syncs returns how many file syncs reached the underlying disk manager.
func (d *DiskManager) Syncs() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.syncs
}

func (d *DiskManager) match(path string) (Fault, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for pattern, f := range d.rules {
		if strings.Contains(path, pattern) {
			return f, true
		}
	}
	return Fault{}, false
}

func (d *DiskManager) Open(path string, flags int, perm os.FileMode) (diskmanager.FileHandle, error) {
	fault, _ := d.match(path)
	if fault.FailOnOpen {
		return nil, fault.err()
	}
	fh, err := d.dm.Open(path, flags, perm)
	if err != nil {
		return nil, err
	}
	return &file{FileHandle: fh, dm: d}, nil
}

func (d *DiskManager) Remove(path string) error { return d.dm.Remove(path) }

func (d *DiskManager) Rename(oldpath, newpath string) error {
	if fault, ok := d.match(oldpath); ok && fault.FailOnRename {
		return fault.err()
	}
	return d.dm.Rename(oldpath, newpath)
}

func (d *DiskManager) Stat(path string) (os.FileInfo, error) { return d.dm.Stat(path) }

func (d *DiskManager) MkdirAll(dir string, perm os.FileMode) error { return d.dm.MkdirAll(dir, perm) }

func (d *DiskManager) List(dir string, filter string) ([]string, error) {
	return d.dm.List(dir, filter)
}

func (d *DiskManager) SyncDir(dir string) error { return d.dm.SyncDir(dir) }

// file looks up its fault on every call so rules added after Open still apply.
type file struct {
	diskmanager.FileHandle
	dm      *DiskManager
	written int64
}

func (f *file) Write(p []byte) (int, error) {
	fault, _ := f.dm.match(f.Name())
	if fault.FailWrites && f.written+int64(len(p)) > fault.FailAfterBytes {
		// Persist the part that fits to mimic a short write.
		allowed := fault.FailAfterBytes - f.written
		if allowed > 0 {
			n, _ := f.FileHandle.Write(p[:allowed])
			f.written += int64(n)
			return n, fault.err()
		}
		return 0, fault.err()
	}
	n, err := f.FileHandle.Write(p)
	f.written += int64(n)
	return n, err
}

func (f *file) Sync() error {
	if fault, ok := f.dm.match(f.Name()); ok && fault.FailOnSync {
		return fault.err()
	}
	f.dm.mu.Lock()
	f.dm.syncs++
	f.dm.mu.Unlock()
	return f.FileHandle.Sync()
}
