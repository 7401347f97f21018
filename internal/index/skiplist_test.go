package index

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSkipListPutAndGet(t *testing.T) {
	sl := newSkipList()

	sl.put("apple", []byte("red"))
	sl.put("banana", []byte("yellow"))
	sl.put("cherry", []byte("dark red"))
	sl.put("Hello", []byte("World"))
	sl.put("123", []byte("456"))

	tests := []struct {
		key, expectedValue string
		expectedFound      bool
	}{
		{"apple", "red", true},
		{"banana", "yellow", true},
		{"cherry", "dark red", true},
		{"grape", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			actualValue, found := sl.get(tt.key)
			assert.Equal(t, tt.expectedFound, found, "unexpected found value for key %v", tt.key)
			assert.Equal(t, tt.expectedValue, string(actualValue), "unexpected value for key %v", tt.key)
		})
	}
	assert.Equal(t, 5, sl.size)
}

func TestSkipListUpdateTracksBytes(t *testing.T) {
	sl := newSkipList()

	sl.put("apple", []byte("red"))
	assert.Equal(t, len("apple")+len("red"), sl.bytes)

	sl.put("apple", []byte("green"))
	actualValue, found := sl.get("apple")
	assert.True(t, found, "expected apple to be found")
	assert.Equal(t, "green", string(actualValue))
	assert.Equal(t, len("apple")+len("green"), sl.bytes)
	assert.Equal(t, 1, sl.size)

	assert.True(t, sl.remove("apple"))
	assert.Zero(t, sl.bytes)
}

func TestSkipListRemove(t *testing.T) {
	sl := newSkipList()

	sl.put("apple", []byte("red"))
	sl.put("banana", []byte("yellow"))
	sl.put("cherry", []byte("dark red"))

	assert.True(t, sl.remove("banana"))
	assert.False(t, sl.remove("banana"), "second remove finds nothing")

	_, found := sl.get("banana")
	assert.False(t, found)
	assert.Equal(t, 2, sl.size)
}

func TestSkipListOrderingUnderChurn(t *testing.T) {
	sl := newSkipList()
	for i := 999; i >= 0; i-- {
		sl.put(fmt.Sprintf("k%04d", i), []byte{byte(i)})
	}
	for i := 0; i < 1000; i += 2 {
		assert.True(t, sl.remove(fmt.Sprintf("k%04d", i)))
	}

	var prev string
	count := 0
	for node := sl.head.next[0]; node != nil; node = node.next[0] {
		assert.Less(t, prev, node.key)
		prev = node.key
		count++
	}
	assert.Equal(t, 500, count)

	sl.clear()
	assert.Zero(t, sl.size)
	assert.Nil(t, sl.head.next[0])
}
