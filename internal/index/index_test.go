package index_test

import (
	"testing"

	"github.com/MikhailWahib/flintkv/internal/index"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func texts(keys []index.ScanKey) []string {
	out := make([]string, len(keys))
	for i, k := range keys {
		out[i] = k.Text
	}
	return out
}

func TestIndex_ScanPrefix(t *testing.T) {
	ix := index.New()
	for _, k := range []string{"app", "apple", "banana", "apricot"} {
		ix.Set([]byte(k), []byte("v"))
	}

	assert.Equal(t, []string{"app", "apple", "apricot"}, texts(ix.Scan([]byte("ap"))))
	assert.Equal(t, []string{"app", "apple", "apricot", "banana"}, texts(ix.Scan(nil)))
	assert.Empty(t, ix.Scan([]byte("zzz")))
	assert.NotNil(t, ix.Scan([]byte("zzz")))
}

func TestIndex_ScanNonTextKey(t *testing.T) {
	ix := index.New()
	ix.Set([]byte{0xff, 0xfe}, []byte("bin"))
	ix.Set([]byte("text"), []byte("t"))

	keys := ix.Scan(nil)
	require.Len(t, keys, 2)

	assert.Equal(t, "text", keys[0].Text)
	assert.True(t, keys[0].Valid)

	assert.False(t, keys[1].Valid, "invalid UTF-8 must be flagged, not dropped")
	assert.Equal(t, "0xfffe", keys[1].Text)
	assert.Equal(t, []byte{0xff, 0xfe}, keys[1].Raw)
}

func TestIndex_SetGetDelete(t *testing.T) {
	ix := index.New()

	ix.Set([]byte("k"), []byte("v1"))
	ix.Set([]byte("k"), []byte("v2"))

	v, ok := ix.Get([]byte("k"))
	require.True(t, ok)
	assert.Equal(t, "v2", string(v))
	assert.Equal(t, 1, ix.Len())

	assert.True(t, ix.Delete([]byte("k")))
	assert.False(t, ix.Delete([]byte("k")))
	_, ok = ix.Get([]byte("k"))
	assert.False(t, ok)
}

func TestIndex_KeyIsCopied(t *testing.T) {
	ix := index.New()
	key := []byte("abc")
	ix.Set(key, []byte("v"))
	key[0] = 'x'

	_, ok := ix.Get([]byte("abc"))
	assert.True(t, ok)
}

func TestIndex_ViewIsPointInTime(t *testing.T) {
	ix := index.New()
	ix.Set([]byte("a"), []byte("1"))
	ix.Set([]byte("b"), []byte("2"))

	view := ix.View()

	ix.Set([]byte("a"), []byte("changed"))
	ix.Delete([]byte("b"))
	ix.Set([]byte("c"), []byte("3"))

	got := map[string]string{}
	require.NoError(t, view.ForEach(func(k string, v []byte) error {
		got[k] = string(v)
		return nil
	}))
	assert.Equal(t, map[string]string{"a": "1", "b": "2"}, got)
	assert.Equal(t, 2, view.Len())
	assert.Equal(t, 4, view.Bytes())
}
