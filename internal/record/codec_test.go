package record_test

import (
	"bytes"
	"encoding/binary"
	"io"
	"strings"
	"testing"

	"github.com/MikhailWahib/flintkv/internal/kverr"
	"github.com/MikhailWahib/flintkv/internal/record"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSerializeEntry_Layout(t *testing.T) {
	key := []byte("mykey")
	value := []byte("myvalue")

	buf := record.SerializeEntry(record.Entry{Type: record.SetEntry, Key: key, Value: value})

	expectedLen := 1 + 4 + len(key) + 4 + len(value)
	require.Len(t, buf, expectedLen)

	assert.Equal(t, record.SetEntry, record.EntryType(buf[0]), "entry type mismatch")
	keyLen := binary.LittleEndian.Uint32(buf[1:5])
	assert.Equal(t, key, buf[5:5+keyLen], "key mismatch")
	valLen := binary.LittleEndian.Uint32(buf[5+keyLen : 9+keyLen])
	assert.Equal(t, value, buf[9+keyLen:9+keyLen+valLen], "value mismatch")
}

func TestSerializeEntry_DelHasNoValue(t *testing.T) {
	e := record.Entry{Type: record.DelEntry, Key: []byte("k"), Value: []byte("ignored")}

	buf := record.SerializeEntry(e)
	assert.Len(t, buf, 1+4+1)
	assert.Equal(t, e.EncodedSize(), len(buf))
}

func TestReadEntry(t *testing.T) {
	var stream bytes.Buffer
	entries := []record.Entry{
		{Type: record.SetEntry, Key: []byte("a"), Value: []byte("1")},
		{Type: record.SetEntry, Key: []byte("empty"), Value: []byte{}},
		{Type: record.DelEntry, Key: []byte("a")},
	}
	for _, e := range entries {
		_, err := record.WriteEntry(&stream, e)
		require.NoError(t, err)
	}

	for _, want := range entries {
		got, err := record.ReadEntry(&stream)
		require.NoError(t, err)
		assert.Equal(t, want.Type, got.Type)
		assert.Equal(t, want.Key, got.Key)
		if want.Type == record.SetEntry {
			assert.Equal(t, len(want.Value), len(got.Value))
		} else {
			assert.Nil(t, got.Value)
		}
	}

	_, err := record.ReadEntry(&stream)
	assert.ErrorIs(t, err, io.EOF)
}

func TestReadEntry_TornAtEveryOffset(t *testing.T) {
	full := record.SerializeEntry(record.Entry{Type: record.SetEntry, Key: []byte("key"), Value: []byte("value")})

	// Every strict prefix longer than zero is a torn record.
	for cut := 1; cut < len(full); cut++ {
		_, err := record.ReadEntry(bytes.NewReader(full[:cut]))
		assert.ErrorIs(t, err, record.ErrTornRecord, "cut at %d", cut)
		assert.NotErrorIs(t, err, kverr.ErrCorruptLog, "cut at %d", cut)
	}
}

func TestReadEntry_Corrupt(t *testing.T) {
	lenBytes := func(n uint32) []byte { return binary.LittleEndian.AppendUint32(nil, n) }

	tests := []struct {
		name string
		data []byte
	}{
		{"unknown opcode", []byte{0x7f, 1, 0, 0, 0, 'k'}},
		{"zero opcode", []byte{0, 0, 0, 0, 0}},
		{"empty key", append([]byte{byte(record.SetEntry)}, lenBytes(0)...)},
		{"oversized key", append([]byte{byte(record.DelEntry)}, lenBytes(record.MaxKeyLen+1)...)},
		{"oversized value", append(append([]byte{byte(record.SetEntry)}, append(lenBytes(1), 'k')...), lenBytes(record.MaxValueLen+1)...)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := record.ReadEntry(bytes.NewReader(tt.data))
			assert.ErrorIs(t, err, kverr.ErrCorruptLog)
		})
	}
}

func TestPairs(t *testing.T) {
	var buf []byte
	buf = record.AppendPair(buf, []byte("k1"), []byte("v1"))
	buf = record.AppendPair(buf, []byte("k2"), nil)

	r := bytes.NewReader(buf)
	k, v, err := record.ReadPair(r)
	require.NoError(t, err)
	assert.Equal(t, "k1", string(k))
	assert.Equal(t, "v1", string(v))

	k, v, err = record.ReadPair(r)
	require.NoError(t, err)
	assert.Equal(t, "k2", string(k))
	assert.Empty(t, v)

	_, _, err = record.ReadPair(r)
	assert.ErrorIs(t, err, io.EOF)

	_, _, err = record.ReadPair(bytes.NewReader(buf[:3]))
	assert.ErrorIs(t, err, record.ErrTornRecord)
}

func TestValidate(t *testing.T) {
	assert.ErrorIs(t, record.ValidateKey(nil), kverr.ErrInvalidInput)
	assert.ErrorIs(t, record.ValidateKey([]byte(strings.Repeat("k", record.MaxKeyLen+1))), kverr.ErrInvalidInput)
	assert.NoError(t, record.ValidateKey([]byte(strings.Repeat("k", record.MaxKeyLen))))

	assert.NoError(t, record.ValidateValue(nil))
	assert.NoError(t, record.ValidateValue(make([]byte, record.MaxValueLen)))
	assert.ErrorIs(t, record.ValidateValue(make([]byte, record.MaxValueLen+1)), kverr.ErrInvalidInput)
}
