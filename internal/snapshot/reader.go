package snapshot

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/MikhailWahib/flintkv/internal/diskmanager"
	"github.com/MikhailWahib/flintkv/internal/kverr"
	"github.com/MikhailWahib/flintkv/internal/record"
)

// Load reads every pair of the snapshot at path and passes it to fn.
// Snapshots are published only once complete, so any short read is corruption.
func Load(dm diskmanager.DiskManager, path string, fn func(key, value []byte)) (int, error) {
	file, err := dm.Open(path, os.O_RDONLY, 0)
	if err != nil {
		return 0, kverr.IO("open", path, err)
	}
	defer file.Close()

	r := bufio.NewReaderSize(file, writeBufferSize)
	count := 0
	for {
		key, value, err := record.ReadPair(r)
		switch {
		case err == nil:
			fn(key, value)
			count++
		case errors.Is(err, io.EOF):
			return count, nil
		case errors.Is(err, record.ErrTornRecord):
			return count, kverr.Corrupt("snapshot %s truncated after %d pairs: %v", path, count, err)
		case errors.Is(err, kverr.ErrCorruptLog):
			return count, fmt.Errorf("snapshot %s pair %d: %w", path, count, err)
		default:
			return count, kverr.IO("read", path, err)
		}
	}
}
