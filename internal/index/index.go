// Package index holds the in-memory key-value state rebuilt from snapshots and the log.
//
// The index is owned by a single goroutine and does no locking. Values are
// treated as immutable: Set installs a new slice instead of writing into the
// old one, which lets a View share values with the live index.
package index

import (
	"encoding/hex"
	"unicode/utf8"
)

// Index is an ordered map from keys to values.
type Index struct {
	sl *skipList
}

// New returns an empty index.
func New() *Index {
	return &Index{sl: newSkipList()}
}

// Set stores value under key. The index takes ownership of value; key is copied.
func (ix *Index) Set(key, value []byte) {
	ix.sl.put(string(key), value)
}

// Get returns the stored value. Callers must not modify it.
func (ix *Index) Get(key []byte) ([]byte, bool) {
	return ix.sl.get(string(key))
}

// Delete removes key and reports whether it was present.
func (ix *Index) Delete(key []byte) bool {
	return ix.sl.remove(string(key))
}

// Len returns the number of keys.
func (ix *Index) Len() int { return ix.sl.size }

// Bytes returns the total size of keys and values held.
func (ix *Index) Bytes() int { return ix.sl.bytes }

// Clear drops every entry.
func (ix *Index) Clear() { ix.sl.clear() }

// ScanKey is one key returned by Scan.
type ScanKey struct {
	Raw []byte
	// Text is the key decoded as UTF-8, or "0x" followed by its hex encoding when Valid is false.
	Text  string
	Valid bool
}

// Scan returns the keys starting with prefix in bytewise order. An empty prefix matches all keys.
func (ix *Index) Scan(prefix []byte) []ScanKey {
	keys := make([]ScanKey, 0)
	ix.sl.seekPrefix(string(prefix), func(n *skipListNode) {
		keys = append(keys, newScanKey(n.key))
	})
	return keys
}

func newScanKey(key string) ScanKey {
	if utf8.ValidString(key) {
		return ScanKey{Raw: []byte(key), Text: key, Valid: true}
	}
	return ScanKey{Raw: []byte(key), Text: "0x" + hex.EncodeToString([]byte(key))}
}

// Pair is one entry of a View.
type Pair struct {
	Key   string
	Value []byte
}

// View is a point-in-time copy of the index. Values are shared with the index
// that produced it, so building a View never copies value bytes.
type View struct {
	pairs []Pair
	bytes int
}

// View captures the current contents in key order.
func (ix *Index) View() *View {
	v := &View{pairs: make([]Pair, 0, ix.sl.size), bytes: ix.sl.bytes}
	for node := ix.sl.head.next[0]; node != nil; node = node.next[0] {
		v.pairs = append(v.pairs, Pair{Key: node.key, Value: node.value})
	}
	return v
}

// Len returns the number of pairs in the view.
func (v *View) Len() int { return len(v.pairs) }

// Bytes returns the total key and value size captured.
func (v *View) Bytes() int { return v.bytes }

// ForEach calls fn for every pair in key order and stops at the first error.
func (v *View) ForEach(fn func(key string, value []byte) error) error {
	for _, p := range v.pairs {
		if err := fn(p.Key, p.Value); err != nil {
			return err
		}
	}
	return nil
}
