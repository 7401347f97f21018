// Package wal implements the append-only write-ahead log and its crash recovery.
package wal

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/MikhailWahib/flintkv/internal/diskmanager"
	"github.com/MikhailWahib/flintkv/internal/kverr"
	"github.com/MikhailWahib/flintkv/internal/record"
)

const writeBufferSize = 64 * 1024

// WAL manages the write-ahead log file. It is not safe for concurrent use;
// the store worker is its only caller.
type WAL struct {
	dm     diskmanager.DiskManager
	path   string
	file   diskmanager.FileHandle
	writer *bufio.Writer
	size   int64
	// floor is the newest rotation stamp in use; new stamps are always above it.
	floor int64
}

// ReplayStats summarizes a replay.
type ReplayStats struct {
	Records        int
	ValidBytes     int64
	TruncatedBytes int64
}

// Open opens or creates the log at path.
func Open(dm diskmanager.DiskManager, path string) (*WAL, error) {
	file, err := dm.Open(path, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0644)
	if err != nil {
		return nil, kverr.IO("open", path, err)
	}

	info, err := file.Stat()
	if err != nil {
		_ = file.Close()
		return nil, kverr.IO("stat", path, err)
	}

	return &WAL{
		dm:     dm,
		path:   path,
		file:   file,
		writer: bufio.NewWriterSize(file, writeBufferSize),
		size:   info.Size(),
	}, nil
}

// Path returns the file path of the log.
func (w *WAL) Path() string { return w.path }

// Size returns the number of bytes appended so far, including buffered ones.
func (w *WAL) Size() int64 { return w.size }

// Append encodes e into the write buffer. Durability is left to the caller's policy.
func (w *WAL) Append(e record.Entry) (int, error) {
	n, err := record.WriteEntry(w.writer, e)
	w.size += int64(n)
	if err != nil {
		return n, kverr.IO("append", w.path, err)
	}
	return n, nil
}

// Flush hands buffered records to the OS.
func (w *WAL) Flush() error {
	return kverr.IO("flush", w.path, w.writer.Flush())
}

// Sync flushes and forces the log to stable storage.
func (w *WAL) Sync() error {
	if err := w.Flush(); err != nil {
		return err
	}
	return kverr.IO("sync", w.path, w.file.Sync())
}

// Replay reads the log from its start and calls apply for every complete record.
//
// A record cut short by the end of the file is a torn write: the file is
// truncated to the start of that record and replay succeeds. A complete but
// invalid record fails with an error matching kverr.ErrCorruptLog and leaves
// the file untouched.
func (w *WAL) Replay(apply func(record.Entry)) (ReplayStats, error) {
	var stats ReplayStats

	if err := w.Flush(); err != nil {
		return stats, err
	}

	r := bufio.NewReaderSize(io.NewSectionReader(w.file, 0, w.size), writeBufferSize)
	var offset int64

	for {
		e, err := record.ReadEntry(r)
		if err == nil {
			apply(e)
			offset += int64(e.EncodedSize())
			stats.Records++
			continue
		}

		if errors.Is(err, io.EOF) {
			break
		}
		if errors.Is(err, record.ErrTornRecord) {
			stats.TruncatedBytes = w.size - offset
			if err := w.truncate(offset); err != nil {
				return stats, err
			}
			break
		}
		if errors.Is(err, kverr.ErrCorruptLog) {
			return stats, fmt.Errorf("%s at offset %d: %w", w.path, offset, err)
		}
		return stats, kverr.IO("read", w.path, err)
	}

	stats.ValidBytes = offset
	return stats, nil
}

func (w *WAL) truncate(size int64) error {
	if err := w.file.Truncate(size); err != nil {
		return kverr.IO("truncate", w.path, err)
	}
	if err := w.file.Sync(); err != nil {
		return kverr.IO("sync", w.path, err)
	}
	w.size = size
	return nil
}

// Rotate syncs the log, renames it to a timestamp-suffixed sibling and starts
// an empty log at the original path. It returns the sibling's path.
func (w *WAL) Rotate() (string, error) {
	if err := w.Sync(); err != nil {
		return "", err
	}
	if err := w.file.Close(); err != nil {
		return "", kverr.IO("close", w.path, err)
	}

	rotated, err := w.rotatedName()
	if err != nil {
		return "", err
	}
	if err := w.dm.Rename(w.path, rotated); err != nil {
		// Keep the log usable when the rename fails.
		if reopenErr := w.reopen(); reopenErr != nil {
			return "", errors.Join(kverr.IO("rename", w.path, err), reopenErr)
		}
		return "", kverr.IO("rename", w.path, err)
	}

	if err := w.reopen(); err != nil {
		return "", err
	}
	if err := w.dm.SyncDir(filepath.Dir(w.path)); err != nil {
		return "", kverr.IO("sync dir", filepath.Dir(w.path), err)
	}
	return rotated, nil
}

func (w *WAL) reopen() error {
	file, err := w.dm.Open(w.path, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0644)
	if err != nil {
		return kverr.IO("open", w.path, err)
	}
	info, err := file.Stat()
	if err != nil {
		_ = file.Close()
		return kverr.IO("stat", w.path, err)
	}
	w.file = file
	w.writer.Reset(file)
	w.size = info.Size()
	return nil
}

// SetRotationFloor makes later rotations use stamps greater than stamp, even
// if the clock moved backwards.
func (w *WAL) SetRotationFloor(stamp int64) {
	w.floor = max(w.floor, stamp)
}

func (w *WAL) rotatedName() (string, error) {
	ts := max(time.Now().UnixNano(), w.floor+1)
	for {
		name := fmt.Sprintf("%s.%d", w.path, ts)
		_, err := w.dm.Stat(name)
		if os.IsNotExist(err) {
			w.floor = ts
			return name, nil
		}
		if err != nil {
			return "", kverr.IO("stat", name, err)
		}
		ts++
	}
}

// Close flushes buffered records and closes the file. It does not sync.
func (w *WAL) Close() error {
	flushErr := w.Flush()
	closeErr := kverr.IO("close", w.path, w.file.Close())
	return errors.Join(flushErr, closeErr)
}

// RotatedSiblings returns the paths of logs rotated away from path that still
// exist on disk, oldest first.
func RotatedSiblings(dm diskmanager.DiskManager, path string) ([]string, error) {
	dir, base := filepath.Split(path)
	if dir == "" {
		dir = "."
	}
	names, err := dm.List(dir, base+".")
	if err != nil {
		return nil, kverr.IO("list", dir, err)
	}

	type sibling struct {
		path string
		ts   int64
	}
	var siblings []sibling
	for _, name := range names {
		suffix, ok := strings.CutPrefix(name, base+".")
		if !ok {
			continue
		}
		ts, ok := parseStamp(suffix)
		if !ok {
			continue
		}
		siblings = append(siblings, sibling{path: filepath.Join(dir, name), ts: ts})
	}
	sort.Slice(siblings, func(i, j int) bool { return siblings[i].ts < siblings[j].ts })

	paths := make([]string, len(siblings))
	for i, s := range siblings {
		paths[i] = s.path
	}
	return paths, nil
}

// RotationStamp returns the stamp a rotated log's name ends with.
func RotationStamp(path string) (int64, bool) {
	ext := filepath.Ext(path)
	if ext == "" {
		return 0, false
	}
	return parseStamp(ext[1:])
}

func parseStamp(s string) (int64, bool) {
	ts, err := strconv.ParseInt(s, 10, 64)
	if err != nil || ts <= 0 {
		return 0, false
	}
	return ts, true
}

// coveredSuffix names the marker holding the newest rotation stamp that a
// published snapshot already includes.
const coveredSuffix = ".covered"

// CoveredMarker returns the path of the marker kept next to the log at path.
func CoveredMarker(path string) string { return path + coveredSuffix }

// ReadCovered returns the stamp recorded by WriteCovered for the log at path,
// or 0 when none was recorded.
func ReadCovered(dm diskmanager.DiskManager, path string) (int64, error) {
	marker := CoveredMarker(path)
	file, err := dm.Open(marker, os.O_RDONLY, 0)
	if os.IsNotExist(err) {
		return 0, nil
	}
	if err != nil {
		return 0, kverr.IO("open", marker, err)
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, 64))
	if err != nil {
		return 0, kverr.IO("read", marker, err)
	}
	ts, ok := parseStamp(strings.TrimSpace(string(data)))
	if !ok {
		return 0, kverr.Corrupt("rotation marker %s holds %q", marker, data)
	}
	return ts, nil
}

// WriteCovered records that every log rotated from path with a stamp up to
// stamp is part of the published snapshot. The marker is replaced atomically.
func WriteCovered(dm diskmanager.DiskManager, path string, stamp int64) error {
	marker := CoveredMarker(path)
	tmp := marker + ".tmp"

	file, err := dm.Open(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return kverr.IO("create", tmp, err)
	}
	if _, err := fmt.Fprintf(file, "%d\n", stamp); err != nil {
		_ = file.Close()
		_ = dm.Remove(tmp)
		return kverr.IO("write", tmp, err)
	}
	if err := file.Sync(); err != nil {
		_ = file.Close()
		_ = dm.Remove(tmp)
		return kverr.IO("sync", tmp, err)
	}
	if err := file.Close(); err != nil {
		_ = dm.Remove(tmp)
		return kverr.IO("close", tmp, err)
	}
	if err := dm.Rename(tmp, marker); err != nil {
		_ = dm.Remove(tmp)
		return kverr.IO("rename", tmp, err)
	}
	dir := filepath.Dir(path)
	return kverr.IO("sync dir", dir, dm.SyncDir(dir))
}
