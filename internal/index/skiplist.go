package index

import (
	"math/rand"
	"strings"
	"time"
)

const (
	maxLevel    = 16
	probability = 0.5
)

// skipListNode holds one key and links to its successors at each level.
// value is replaced, never mutated, so views may keep the old slice.
type skipListNode struct {
	key   string
	value []byte
	next  []*skipListNode
}

// skipList is a probabilistic ordered map from byte-string keys to values.
type skipList struct {
	head  *skipListNode
	level int
	size  int
	bytes int
	rng   *rand.Rand
}

func newSkipListNode(key string, value []byte, level int) *skipListNode {
	return &skipListNode{
		key:   key,
		value: value,
		next:  make([]*skipListNode, level),
	}
}

func newSkipList() *skipList {
	return &skipList{
		head:  newSkipListNode("", nil, maxLevel),
		level: 1,
		rng:   rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// randomLevel determines the level for a new node using a probabilistic model.
func (sl *skipList) randomLevel() int {
	level := 1
	for sl.rng.Float64() < probability && level < maxLevel {
		level++
	}
	return level
}

// findPath fills update with the rightmost node before key at every level
// and returns the first node whose key is >= key.
func (sl *skipList) findPath(key string, update []*skipListNode) *skipListNode {
	current := sl.head
	for i := sl.level - 1; i >= 0; i-- {
		for current.next[i] != nil && current.next[i].key < key {
			current = current.next[i]
		}
		if update != nil {
			update[i] = current
		}
	}
	return current.next[0]
}

// put inserts key or replaces its value.
func (sl *skipList) put(key string, value []byte) {
	var update [maxLevel]*skipListNode
	node := sl.findPath(key, update[:])

	if node != nil && node.key == key {
		sl.bytes += len(value) - len(node.value)
		node.value = value
		return
	}

	newLevel := sl.randomLevel()
	if newLevel > sl.level {
		for i := sl.level; i < newLevel; i++ {
			update[i] = sl.head
		}
		sl.level = newLevel
	}

	newNode := newSkipListNode(key, value, newLevel)
	for i := range newLevel {
		newNode.next[i] = update[i].next[i]
		update[i].next[i] = newNode
	}

	sl.size++
	sl.bytes += len(key) + len(value)
}

func (sl *skipList) get(key string) ([]byte, bool) {
	node := sl.findPath(key, nil)
	if node != nil && node.key == key {
		return node.value, true
	}
	return nil, false
}

// remove unlinks key and reports whether it was present.
func (sl *skipList) remove(key string) bool {
	var update [maxLevel]*skipListNode
	node := sl.findPath(key, update[:])
	if node == nil || node.key != key {
		return false
	}

	for i := range node.next {
		if update[i].next[i] != node {
			break
		}
		update[i].next[i] = node.next[i]
	}

	for sl.level > 1 && sl.head.next[sl.level-1] == nil {
		sl.level--
	}

	sl.size--
	sl.bytes -= len(node.key) + len(node.value)
	return true
}

// seekPrefix calls fn, in key order, for every node whose key starts with prefix.
func (sl *skipList) seekPrefix(prefix string, fn func(*skipListNode)) {
	for node := sl.findPath(prefix, nil); node != nil && strings.HasPrefix(node.key, prefix); node = node.next[0] {
		fn(node)
	}
}

func (sl *skipList) clear() {
	sl.head = newSkipListNode("", nil, maxLevel)
	sl.level = 1
	sl.size = 0
	sl.bytes = 0
}
