// Package record implements the binary codec shared by the write-ahead log and snapshot files.
package record

// EntryTypeSize is the size in bytes used to store an entry type marker
const EntryTypeSize = 1

// LengthSize is the size in bytes used to store length prefixes
const LengthSize = 4

// MaxKeyLen is the largest accepted key, in bytes.
const MaxKeyLen = 1024

// MaxValueLen is the largest accepted value, in bytes.
const MaxValueLen = 1 << 20
