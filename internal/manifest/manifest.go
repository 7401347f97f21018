// Package manifest persists the pointer to the snapshot and log that make up
// the current state of a store.
//
// The manifest is a single ASCII line "number:snapshot_path:log_path". Paths
// inside the store directory are written as base names and resolved against
// the directory on read.
package manifest

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/MikhailWahib/flintkv/internal/diskmanager"
	"github.com/MikhailWahib/flintkv/internal/kverr"
)

// FileName is the manifest's name inside the store directory.
const FileName = "MANIFEST"

const maxSize = 64 * 1024

// Meta names a published snapshot and the log that continues it.
type Meta struct {
	Number       uint64
	SnapshotPath string
	LogPath      string
}

// Encode renders m as the manifest line, relative to dir where possible.
func (m Meta) Encode(dir string) (string, error) {
	snap, err := relative(dir, m.SnapshotPath)
	if err != nil {
		return "", err
	}
	log, err := relative(dir, m.LogPath)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%d:%s:%s\n", m.Number, snap, log), nil
}

func relative(dir, path string) (string, error) {
	if rel, err := filepath.Rel(dir, path); err == nil && !strings.HasPrefix(rel, "..") {
		path = rel
	}
	if path == "" || strings.ContainsAny(path, ":\n") {
		return "", fmt.Errorf("manifest: path %q cannot be stored", path)
	}
	return path, nil
}

// Parse decodes a manifest line and resolves relative paths against dir.
func Parse(dir, line string) (Meta, error) {
	line = strings.TrimRight(line, "\r\n")
	fields := strings.Split(line, ":")
	if len(fields) != 3 {
		return Meta{}, kverr.Corrupt("manifest has %d fields, want 3", len(fields))
	}

	n, err := strconv.ParseUint(fields[0], 10, 64)
	if err != nil {
		return Meta{}, kverr.Corrupt("manifest snapshot number %q", fields[0])
	}
	if fields[1] == "" || fields[2] == "" {
		return Meta{}, kverr.Corrupt("manifest has an empty path")
	}

	return Meta{
		Number:       n,
		SnapshotPath: resolve(dir, fields[1]),
		LogPath:      resolve(dir, fields[2]),
	}, nil
}

func resolve(dir, path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(dir, path)
}

// Read loads the manifest from dir. The boolean is false when none exists yet.
func Read(dm diskmanager.DiskManager, dir string) (Meta, bool, error) {
	path := filepath.Join(dir, FileName)
	file, err := dm.Open(path, os.O_RDONLY, 0)
	if os.IsNotExist(err) {
		return Meta{}, false, nil
	}
	if err != nil {
		return Meta{}, false, kverr.IO("open", path, err)
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, maxSize+1))
	if err != nil {
		return Meta{}, false, kverr.IO("read", path, err)
	}
	if len(data) > maxSize {
		return Meta{}, false, kverr.Corrupt("manifest larger than %d bytes", maxSize)
	}
	if bytes.Count(data, []byte("\n")) > 1 {
		return Meta{}, false, kverr.Corrupt("manifest has more than one line")
	}

	m, err := Parse(dir, string(data))
	if err != nil {
		return Meta{}, false, err
	}
	return m, true, nil
}

// Write atomically replaces the manifest in dir with m: the line is written
// to a temporary file, synced, renamed over the manifest and the directory synced.
func Write(dm diskmanager.DiskManager, dir string, m Meta) error {
	line, err := m.Encode(dir)
	if err != nil {
		return err
	}

	path := filepath.Join(dir, FileName)
	tmpPath := filepath.Join(dir, FileName+"-"+uuid.NewString()+".tmp")

	file, err := dm.Open(tmpPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return kverr.IO("create", tmpPath, err)
	}
	if _, err := io.WriteString(file, line); err != nil {
		_ = file.Close()
		_ = dm.Remove(tmpPath)
		return kverr.IO("write", tmpPath, err)
	}
	if err := file.Sync(); err != nil {
		_ = file.Close()
		_ = dm.Remove(tmpPath)
		return kverr.IO("sync", tmpPath, err)
	}
	if err := file.Close(); err != nil {
		_ = dm.Remove(tmpPath)
		return kverr.IO("close", tmpPath, err)
	}

	if err := dm.Rename(tmpPath, path); err != nil {
		_ = dm.Remove(tmpPath)
		return kverr.IO("rename", tmpPath, err)
	}
	return kverr.IO("sync dir", dir, dm.SyncDir(dir))
}
