package snapshot_test

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/MikhailWahib/flintkv/internal/diskmanager"
	"github.com/MikhailWahib/flintkv/internal/diskmanager/faultydm"
	"github.com/MikhailWahib/flintkv/internal/index"
	"github.com/MikhailWahib/flintkv/internal/kverr"
	"github.com/MikhailWahib/flintkv/internal/snapshot"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func load(t *testing.T, dm diskmanager.DiskManager, path string) map[string]string {
	t.Helper()
	got := map[string]string{}
	_, err := snapshot.Load(dm, path, func(k, v []byte) { got[string(k)] = string(v) })
	require.NoError(t, err)
	return got
}

func TestSnapshot_WriteLoad(t *testing.T) {
	dir := t.TempDir()
	dm := diskmanager.NewDiskManager()

	ix := index.New()
	want := map[string]string{}
	for i := range 100 {
		k, v := fmt.Sprintf("key-%03d", i), fmt.Sprintf("value-%d", i)
		ix.Set([]byte(k), []byte(v))
		want[k] = v
	}
	ix.Set([]byte("empty"), []byte{})
	want["empty"] = ""

	path, err := snapshot.Write(dm, dir, 7, ix.View())
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "snapshot-000007.snap"), path)

	assert.Equal(t, want, load(t, dm, path))

	leftovers, err := dm.List(dir, snapshot.TempSuffix)
	require.NoError(t, err)
	assert.Empty(t, leftovers)
}

func TestSnapshot_EmptyIndex(t *testing.T) {
	dir := t.TempDir()
	dm := diskmanager.NewDiskManager()

	path, err := snapshot.Write(dm, dir, 1, index.New().View())
	require.NoError(t, err)
	assert.Empty(t, load(t, dm, path))
}

func TestSnapshot_TruncatedFileIsCorrupt(t *testing.T) {
	dir := t.TempDir()
	dm := diskmanager.NewDiskManager()

	ix := index.New()
	ix.Set([]byte("a"), []byte("1"))
	ix.Set([]byte("b"), []byte("2"))
	path, err := snapshot.Write(dm, dir, 1, ix.View())
	require.NoError(t, err)

	info, err := os.Stat(path)
	require.NoError(t, err)
	require.NoError(t, os.Truncate(path, info.Size()-1))

	_, err = snapshot.Load(dm, path, func(k, v []byte) {})
	assert.ErrorIs(t, err, kverr.ErrCorruptLog)
}

func TestSnapshot_SyncFailureLeavesNoFiles(t *testing.T) {
	dir := t.TempDir()
	fdm := faultydm.New(nil)
	fdm.AddRule(snapshot.TempSuffix, faultydm.Fault{FailOnSync: true})

	ix := index.New()
	ix.Set([]byte("a"), []byte("1"))

	_, err := snapshot.Write(fdm, dir, 3, ix.View())
	assert.ErrorIs(t, err, faultydm.ErrInjected)
	assert.True(t, kverr.IsIO(err))

	files, err := fdm.List(dir, "")
	require.NoError(t, err)
	assert.Empty(t, files)
}

func TestSnapshot_ListAndParse(t *testing.T) {
	dir := t.TempDir()
	dm := diskmanager.NewDiskManager()

	for _, name := range []string{"snapshot-000010.snap", "snapshot-2.snap", "snapshot-x.snap", "notes.snap", "snapshot-abc.tmp"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), nil, 0644))
	}

	files, err := snapshot.List(dm, dir)
	require.NoError(t, err)
	require.Len(t, files, 2)
	assert.Equal(t, uint64(2), files[0].Number)
	assert.Equal(t, uint64(10), files[1].Number)

	n, ok := snapshot.ParseFileName(snapshot.FileName(42))
	assert.True(t, ok)
	assert.Equal(t, uint64(42), n)

	removed, err := snapshot.RemoveTemps(dm, dir)
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(dir, "snapshot-abc.tmp")}, removed)
}
