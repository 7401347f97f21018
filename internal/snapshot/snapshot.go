// Package snapshot writes and loads point-in-time dumps of the index.
//
// A snapshot file is a sequence of (key_len:u32LE, key, val_len:u32LE, val)
// pairs with no header or footer. Files are written under a temporary name and
// renamed to snapshot-<number>.snap once synced, so a published snapshot is
// always complete.
package snapshot

import (
	"fmt"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/MikhailWahib/flintkv/internal/diskmanager"
	"github.com/MikhailWahib/flintkv/internal/kverr"
)

const (
	filePrefix = "snapshot-"
	fileSuffix = ".snap"
	// TempSuffix marks files that are still being written.
	TempSuffix = ".tmp"
)

// FileName returns the published file name for snapshot number n.
func FileName(n uint64) string {
	return fmt.Sprintf("%s%06d%s", filePrefix, n, fileSuffix)
}

// ParseFileName extracts the snapshot number from a published file name.
func ParseFileName(name string) (uint64, bool) {
	rest, ok := strings.CutPrefix(filepath.Base(name), filePrefix)
	if !ok {
		return 0, false
	}
	digits, ok := strings.CutSuffix(rest, fileSuffix)
	if !ok || digits == "" {
		return 0, false
	}
	n, err := strconv.ParseUint(digits, 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

// File is a published snapshot found on disk.
type File struct {
	Number uint64
	Path   string
}

// List returns the published snapshots in dir ordered by number.
func List(dm diskmanager.DiskManager, dir string) ([]File, error) {
	names, err := dm.List(dir, fileSuffix)
	if err != nil {
		return nil, kverr.IO("list", dir, err)
	}

	var files []File
	for _, name := range names {
		if n, ok := ParseFileName(name); ok {
			files = append(files, File{Number: n, Path: filepath.Join(dir, name)})
		}
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Number < files[j].Number })
	return files, nil
}

// RemoveTemps deletes temporary files left behind by an interrupted write and
// returns the paths removed.
func RemoveTemps(dm diskmanager.DiskManager, dir string) ([]string, error) {
	names, err := dm.List(dir, TempSuffix)
	if err != nil {
		return nil, kverr.IO("list", dir, err)
	}

	var removed []string
	for _, name := range names {
		if !strings.HasSuffix(name, TempSuffix) {
			continue
		}
		path := filepath.Join(dir, name)
		if err := dm.Remove(path); err != nil {
			return removed, kverr.IO("remove", path, err)
		}
		removed = append(removed, path)
	}
	return removed, nil
}
