package flintkv_test

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MikhailWahib/flintkv"
	"github.com/MikhailWahib/flintkv/internal/logging"
)

func openDB(t *testing.T, dir string, cfg *flintkv.Config) *flintkv.DB {
	t.Helper()
	db, err := flintkv.Open(dir, cfg, flintkv.WithLogger(logging.Discard()))
	require.NoError(t, err)
	return db
}

func TestDB_SetGetDelete(t *testing.T) {
	db := openDB(t, t.TempDir(), nil)
	defer db.Close()

	require.NoError(t, db.Set([]byte("k"), []byte("v1")))
	require.NoError(t, db.Set([]byte("k"), []byte("v2")))

	v, ok, err := db.Get([]byte("k"))
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "v2", string(v))

	existed, err := db.Delete([]byte("k"))
	require.NoError(t, err)
	assert.True(t, existed)

	_, ok, err = db.Get([]byte("k"))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestDB_Reopen(t *testing.T) {
	dir := t.TempDir()
	cfg := flintkv.DefaultConfig()
	cfg.Durability = "fsync-always"
	cfg.MaxLogSize = 512

	db := openDB(t, dir, cfg)
	for i := range 100 {
		require.NoError(t, db.Set([]byte{'k', byte(i)}, []byte("value")))
	}
	stats, err := db.Stats()
	require.NoError(t, err)
	assert.Positive(t, stats.SnapshotNumber)
	require.NoError(t, db.Close())

	db = openDB(t, dir, cfg)
	defer db.Close()
	keys, err := db.Scan([]byte("k"))
	require.NoError(t, err)
	assert.Len(t, keys, 100)
}

func TestDB_ErrorsAreReexported(t *testing.T) {
	dir := t.TempDir()
	db := openDB(t, dir, nil)

	err := db.Set(nil, []byte("v"))
	assert.True(t, errors.Is(err, flintkv.ErrInvalidInput))

	require.NoError(t, db.Close())
	assert.ErrorIs(t, db.Set([]byte("k"), []byte("v")), flintkv.ErrStoreClosed)
}

func TestDB_InvalidConfig(t *testing.T) {
	cfg := flintkv.DefaultConfig()
	cfg.Durability = "sometimes"
	_, err := flintkv.Open(t.TempDir(), cfg)
	assert.ErrorIs(t, err, flintkv.ErrInvalidInput)
}

func TestDB_Metrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	db, err := flintkv.Open(t.TempDir(), nil, flintkv.WithLogger(logging.Discard()), flintkv.WithMetrics(reg))
	require.NoError(t, err)
	defer db.Close()

	require.NoError(t, db.Set([]byte("k"), []byte("v")))
	families, err := reg.Gather()
	require.NoError(t, err)

	var names []string
	for _, mf := range families {
		names = append(names, mf.GetName())
	}
	assert.Contains(t, names, "flintkv_operations_total")
}
