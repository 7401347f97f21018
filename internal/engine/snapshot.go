package engine

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/MikhailWahib/flintkv/internal/manifest"
	"github.com/MikhailWahib/flintkv/internal/snapshot"
	"github.com/MikhailWahib/flintkv/internal/wal"
)

// CreateSnapshot rotates the log, dumps the index to a new snapshot file,
// publishes it through the manifest and then deletes the superseded snapshots
// and rotated logs.
//
// Until the manifest is durable the rotated log stays on disk, so a crash at
// any step leaves a directory that Open recovers in full.
func (e *Engine) CreateSnapshot() (SnapshotMeta, error) {
	if err := e.checkOpen(); err != nil {
		return SnapshotMeta{}, err
	}

	rotated, err := e.wal.Rotate()
	if err != nil {
		return SnapshotMeta{}, fmt.Errorf("rotate log: %w", err)
	}
	e.policy.Synced()
	e.log.WithField("path", rotated).Debug("rotated log")

	n := e.nextSnapshot
	view := e.index.View()
	path, err := snapshot.Write(e.dm, e.dir, n, view)
	if err != nil {
		return SnapshotMeta{}, fmt.Errorf("write snapshot %d: %w", n, err)
	}
	e.nextSnapshot++

	meta := SnapshotMeta{Number: n, SnapshotPath: path, LogPath: e.wal.Path()}
	if err := manifest.Write(e.dm, e.dir, meta); err != nil {
		return SnapshotMeta{}, fmt.Errorf("publish snapshot %d: %w", n, err)
	}
	e.current = meta
	e.snapshotFailures = 0
	e.snapshotRetryAt = 0

	if stamp, ok := wal.RotationStamp(rotated); ok {
		if err := wal.WriteCovered(e.dm, e.wal.Path(), stamp); err != nil {
			e.log.WithError(err).Warn("record rotated logs included in snapshot")
		}
	}

	e.log.WithFields(logrus.Fields{
		"snapshot": n,
		"keys":     view.Len(),
		"bytes":    view.Bytes(),
	}).Info("snapshot published")

	e.collectGarbage(n)
	return meta, nil
}

// collectGarbage removes snapshots older than published and every rotated log.
// Failures are logged only: the manifest already points past these files.
func (e *Engine) collectGarbage(published uint64) {
	files, err := snapshot.List(e.dm, e.dir)
	if err != nil {
		e.log.WithError(err).Warn("list snapshots for cleanup")
	}
	for _, f := range files {
		if f.Number >= published {
			continue
		}
		if err := e.dm.Remove(f.Path); err != nil {
			e.log.WithError(err).WithField("path", f.Path).Warn("remove superseded snapshot")
		}
	}

	rotated, err := wal.RotatedSiblings(e.dm, e.wal.Path())
	if err != nil {
		e.log.WithError(err).Warn("list rotated logs for cleanup")
	}
	for _, path := range rotated {
		if err := e.dm.Remove(path); err != nil {
			e.log.WithError(err).WithField("path", path).Warn("remove rotated log")
		}
	}
}
