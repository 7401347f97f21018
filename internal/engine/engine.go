// Package engine implements the store: an in-memory index rebuilt from a
// snapshot and an append-only log, with snapshotting to bound log growth.
//
// An Engine is not safe for concurrent use. The coordinator's worker is
// expected to be its only caller.
package engine

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"

	"github.com/MikhailWahib/flintkv/internal/diskmanager"
	"github.com/MikhailWahib/flintkv/internal/durability"
	"github.com/MikhailWahib/flintkv/internal/index"
	"github.com/MikhailWahib/flintkv/internal/kverr"
	"github.com/MikhailWahib/flintkv/internal/logging"
	"github.com/MikhailWahib/flintkv/internal/manifest"
	"github.com/MikhailWahib/flintkv/internal/record"
	"github.com/MikhailWahib/flintkv/internal/snapshot"
	"github.com/MikhailWahib/flintkv/internal/wal"
)

// SnapshotMeta identifies a published snapshot and the log that continues it.
type SnapshotMeta = manifest.Meta

// Options configures Open. Only Dir is required.
type Options struct {
	Dir string
	// LogFile is the log's name inside Dir. Defaults to DefaultLogFile.
	LogFile     string
	DiskManager diskmanager.DiskManager
	// Policy defaults to durability.Flush.
	Policy *durability.Policy
	// MaxLogSize triggers a snapshot once the log reaches it. 0 disables.
	MaxLogSize int64
	Logger     logrus.FieldLogger
}

// Stats is a point-in-time summary of the store.
type Stats struct {
	Keys           int
	LogBytes       int64
	SnapshotNumber uint64
	PendingSyncs   uint64
}

// Recovery describes what Open rebuilt the index from.
type Recovery struct {
	SnapshotPairs  int
	RotatedLogs    int // replayed rotated logs
	CoveredLogs    int // rotated logs skipped because the snapshot includes them
	Records        int
	TruncatedBytes int64
	RemovedTemps   int
}

// Engine owns the log handle and the index exclusively.
type Engine struct {
	dir        string
	dm         diskmanager.DiskManager
	wal        *wal.WAL
	index      *index.Index
	policy     *durability.Policy
	maxLogSize int64
	log        logrus.FieldLogger
	unlock     func() error

	current      SnapshotMeta
	nextSnapshot uint64
	recovery     Recovery
	closed       bool

	// snapshotRetryAt is the log size at which a failed automatic snapshot is retried.
	snapshotRetryAt  int64
	snapshotFailures int
}

// Open locks dir, loads the published snapshot and replays the log.
func Open(opts Options) (*Engine, error) {
	if opts.Dir == "" {
		return nil, kverr.Invalid("store directory is required")
	}
	if opts.MaxLogSize < 0 {
		return nil, kverr.Invalid("max log size must not be negative")
	}
	if opts.LogFile == "" {
		opts.LogFile = DefaultLogFile
	}
	if opts.DiskManager == nil {
		opts.DiskManager = diskmanager.NewDiskManager()
	}
	if opts.Policy == nil {
		opts.Policy, _ = durability.New(durability.Flush, 0)
	}
	if opts.Logger == nil {
		opts.Logger = logging.Discard()
	}

	if err := opts.DiskManager.MkdirAll(opts.Dir, dirPerm); err != nil {
		return nil, kverr.IO("mkdir", opts.Dir, err)
	}
	unlock, err := diskmanager.LockDir(opts.Dir)
	if err != nil {
		if errors.Is(err, diskmanager.ErrLocked) {
			return nil, fmt.Errorf("lock %s: %w", opts.Dir, err)
		}
		return nil, kverr.IO("lock", filepath.Join(opts.Dir, diskmanager.LockFileName), err)
	}

	e := &Engine{
		dir:        opts.Dir,
		dm:         opts.DiskManager,
		index:      index.New(),
		policy:     opts.Policy,
		maxLogSize: opts.MaxLogSize,
		log:        opts.Logger,
		unlock:     unlock,
	}
	if err := e.recover(filepath.Join(opts.Dir, opts.LogFile)); err != nil {
		if e.wal != nil {
			_ = e.wal.Close()
		}
		_ = unlock()
		return nil, err
	}

	e.log.WithFields(logrus.Fields{
		"dir":        e.dir,
		"keys":       e.index.Len(),
		"snapshot":   e.current.Number,
		"records":    e.recovery.Records,
		"durability": e.policy.String(),
	}).Info("store opened")
	return e, nil
}

func (e *Engine) recover(logPath string) error {
	removed, err := snapshot.RemoveTemps(e.dm, e.dir)
	if err != nil {
		return err
	}
	e.recovery.RemovedTemps = len(removed)
	for _, path := range removed {
		e.log.WithField("path", path).Debug("removed leftover temp file")
	}

	meta, ok, err := manifest.Read(e.dm, e.dir)
	if err != nil {
		return err
	}
	if ok {
		e.current = meta
		logPath = meta.LogPath
		if err := e.loadSnapshot(meta.SnapshotPath); err != nil {
			return err
		}
	}

	// Rotated logs up to the covered stamp are already in the published snapshot.
	var covered int64
	if ok {
		if covered, err = wal.ReadCovered(e.dm, logPath); err != nil {
			return err
		}
	}
	rotated, err := wal.RotatedSiblings(e.dm, logPath)
	if err != nil {
		return err
	}
	floor := covered
	for _, path := range rotated {
		stamp, _ := wal.RotationStamp(path)
		floor = max(floor, stamp)
		if stamp <= covered {
			e.recovery.CoveredLogs++
			if err := e.dm.Remove(path); err != nil {
				e.log.WithError(err).WithField("path", path).Warn("remove rotated log included in snapshot")
			}
			continue
		}
		if err := e.replayRotated(path); err != nil {
			return err
		}
		e.recovery.RotatedLogs++
	}

	e.wal, err = wal.Open(e.dm, logPath)
	if err != nil {
		return err
	}
	e.wal.SetRotationFloor(floor)
	stats, err := e.wal.Replay(e.apply)
	if err != nil {
		return err
	}
	e.noteReplay(logPath, stats)

	files, err := snapshot.List(e.dm, e.dir)
	if err != nil {
		return err
	}
	last := e.current.Number
	for _, f := range files {
		last = max(last, f.Number)
	}
	e.nextSnapshot = last + 1
	return nil
}

func (e *Engine) loadSnapshot(path string) error {
	if _, err := e.dm.Stat(path); err != nil {
		if os.IsNotExist(err) {
			e.log.WithField("path", path).Warn("snapshot named by manifest is missing, replaying log only")
			return nil
		}
		return kverr.IO("stat", path, err)
	}

	n, err := snapshot.Load(e.dm, path, func(key, value []byte) {
		e.index.Set(key, value)
	})
	if err != nil {
		return err
	}
	e.recovery.SnapshotPairs = n
	return nil
}

// replayRotated applies a log left behind by a snapshot that never published.
func (e *Engine) replayRotated(path string) error {
	w, err := wal.Open(e.dm, path)
	if err != nil {
		return err
	}
	stats, err := w.Replay(e.apply)
	closeErr := w.Close()
	if err != nil {
		return err
	}
	if closeErr != nil {
		return closeErr
	}
	e.log.WithField("path", path).Info("replayed rotated log")
	e.noteReplay(path, stats)
	return nil
}

func (e *Engine) noteReplay(path string, stats wal.ReplayStats) {
	e.recovery.Records += stats.Records
	e.recovery.TruncatedBytes += stats.TruncatedBytes
	if stats.TruncatedBytes > 0 {
		e.log.WithFields(logrus.Fields{
			"path":      path,
			"offset":    stats.ValidBytes,
			"truncated": stats.TruncatedBytes,
		}).Warn("truncated torn record at end of log")
	}
}

func (e *Engine) apply(entry record.Entry) {
	switch entry.Type {
	case record.SetEntry:
		e.index.Set(entry.Key, entry.Value)
	case record.DelEntry:
		e.index.Delete(entry.Key)
	}
}

func (e *Engine) checkOpen() error {
	if e.closed {
		return kverr.Closed("store has been shut down")
	}
	return nil
}

// Set durably records key=value and installs it in the index.
func (e *Engine) Set(key, value []byte) error {
	if err := e.checkOpen(); err != nil {
		return err
	}
	if err := record.ValidateKey(key); err != nil {
		return err
	}
	if err := record.ValidateValue(value); err != nil {
		return err
	}

	value = bytes.Clone(value)
	if err := e.write(record.Entry{Type: record.SetEntry, Key: key, Value: value}); err != nil {
		return err
	}
	e.index.Set(key, value)
	e.maybeSnapshot()
	return nil
}

// Get returns the value stored under key. The slice is shared with the index
// and must not be modified.
func (e *Engine) Get(key []byte) ([]byte, bool, error) {
	if err := e.checkOpen(); err != nil {
		return nil, false, err
	}
	if err := record.ValidateKey(key); err != nil {
		return nil, false, err
	}
	v, ok := e.index.Get(key)
	return v, ok, nil
}

// Delete removes key and reports whether it was present. Deleting a missing
// key appends nothing.
func (e *Engine) Delete(key []byte) (bool, error) {
	if err := e.checkOpen(); err != nil {
		return false, err
	}
	if err := record.ValidateKey(key); err != nil {
		return false, err
	}
	if _, ok := e.index.Get(key); !ok {
		return false, nil
	}

	if err := e.write(record.Entry{Type: record.DelEntry, Key: key}); err != nil {
		return false, err
	}
	e.index.Delete(key)
	e.maybeSnapshot()
	return true, nil
}

// Scan returns the keys starting with prefix in bytewise order.
func (e *Engine) Scan(prefix []byte) ([]index.ScanKey, error) {
	if err := e.checkOpen(); err != nil {
		return nil, err
	}
	return e.index.Scan(prefix), nil
}

// write appends entry and applies the durability policy. The index must only
// change once write succeeds.
func (e *Engine) write(entry record.Entry) error {
	if _, err := e.wal.Append(entry); err != nil {
		return err
	}
	return e.policy.AfterWrite(e.wal)
}

// maybeSnapshot takes a snapshot once the log reaches the size limit. Each
// consecutive failure doubles how far the log must grow before the next try,
// so a broken snapshot path does not rotate the log on every write.
func (e *Engine) maybeSnapshot() {
	if e.maxLogSize <= 0 {
		return
	}
	if e.wal.Size() < max(e.maxLogSize, e.snapshotRetryAt) {
		return
	}
	if _, err := e.CreateSnapshot(); err != nil {
		e.snapshotFailures++
		e.snapshotRetryAt = e.wal.Size() + e.maxLogSize<<min(e.snapshotFailures-1, maxSnapshotBackoff)
		e.log.WithError(err).WithFields(logrus.Fields{
			"failures": e.snapshotFailures,
			"retry_at": e.snapshotRetryAt,
		}).Warn("automatic snapshot failed")
	}
}

// Stats reports the store's current size and snapshot state.
func (e *Engine) Stats() (Stats, error) {
	if err := e.checkOpen(); err != nil {
		return Stats{}, err
	}
	return Stats{
		Keys:           e.index.Len(),
		LogBytes:       e.wal.Size(),
		SnapshotNumber: e.current.Number,
		PendingSyncs:   e.policy.Pending(),
	}, nil
}

// Recovery reports what the last Open loaded and replayed.
func (e *Engine) Recovery() Recovery { return e.recovery }

// Current returns the published snapshot, or a zero Meta when none exists.
func (e *Engine) Current() SnapshotMeta { return e.current }

// Dir returns the store directory.
func (e *Engine) Dir() string { return e.dir }

// LogPath returns the path of the active log.
func (e *Engine) LogPath() string { return e.wal.Path() }

// Shutdown applies the durability policy's shutdown step, closes the log and
// releases the directory lock. Every later call fails with kverr.ErrStoreClosed.
func (e *Engine) Shutdown() error {
	if err := e.checkOpen(); err != nil {
		return err
	}
	e.closed = true

	err := e.policy.OnShutdown(e.wal)
	err = errors.Join(err, e.wal.Close())
	if unlockErr := e.unlock(); unlockErr != nil {
		err = errors.Join(err, kverr.IO("unlock", e.dir, unlockErr))
	}
	e.index.Clear()

	if err != nil {
		e.log.WithError(err).Error("store shut down with errors")
		return err
	}
	e.log.WithField("dir", e.dir).Info("store shut down")
	return nil
}
