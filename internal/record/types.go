package record

import "fmt"

// EntryType represents the operation recorded in the log
type EntryType byte

const (
	// SetEntry indicates a key-value insertion operation
	SetEntry EntryType = iota + 1
	// DelEntry indicates a key deletion operation
	DelEntry
)

func (t EntryType) String() string {
	switch t {
	case SetEntry:
		return "set"
	case DelEntry:
		return "del"
	default:
		return fmt.Sprintf("opcode(%d)", byte(t))
	}
}

// Entry is a single log record. Value is ignored for DelEntry.
type Entry struct {
	Type  EntryType
	Key   []byte
	Value []byte
}

// EncodedSize returns the number of bytes the entry occupies on disk.
func (e Entry) EncodedSize() int {
	n := EntryTypeSize + LengthSize + len(e.Key)
	if e.Type == SetEntry {
		n += LengthSize + len(e.Value)
	}
	return n
}
