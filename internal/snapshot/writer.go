package snapshot

import (
	"bufio"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/MikhailWahib/flintkv/internal/diskmanager"
	"github.com/MikhailWahib/flintkv/internal/index"
	"github.com/MikhailWahib/flintkv/internal/kverr"
	"github.com/MikhailWahib/flintkv/internal/record"
)

const writeBufferSize = 256 * 1024

// Write dumps view into dir as snapshot number n and returns the published path.
func Write(dm diskmanager.DiskManager, dir string, n uint64, view *index.View) (string, error) {
	tmpPath := filepath.Join(dir, filePrefix+uuid.NewString()+TempSuffix)
	finalPath := filepath.Join(dir, FileName(n))

	file, err := dm.Open(tmpPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return "", kverr.IO("create", tmpPath, err)
	}

	// Until the rename succeeds the temp file is ours to clean up.
	closed := false
	defer func() {
		if !closed {
			_ = file.Close()
		}
		if tmpPath != "" {
			_ = dm.Remove(tmpPath)
		}
	}()

	w := bufio.NewWriterSize(file, writeBufferSize)
	var buf []byte
	err = view.ForEach(func(key string, value []byte) error {
		buf = record.AppendPair(buf[:0], []byte(key), value)
		_, err := w.Write(buf)
		return err
	})
	if err != nil {
		return "", kverr.IO("write", tmpPath, err)
	}
	if err := w.Flush(); err != nil {
		return "", kverr.IO("flush", tmpPath, err)
	}
	if err := file.Sync(); err != nil {
		return "", kverr.IO("sync", tmpPath, err)
	}
	closed = true
	if err := file.Close(); err != nil {
		return "", kverr.IO("close", tmpPath, err)
	}

	if err := dm.Rename(tmpPath, finalPath); err != nil {
		return "", kverr.IO("rename", tmpPath, err)
	}
	tmpPath = ""

	if err := dm.SyncDir(dir); err != nil {
		return "", kverr.IO("sync dir", dir, err)
	}
	return finalPath, nil
}
