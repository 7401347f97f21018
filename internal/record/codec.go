package record

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/MikhailWahib/flintkv/internal/kverr"
)

// ErrTornRecord is returned when the stream ends in the middle of a record.
var ErrTornRecord = errors.New("torn record")

// AppendEntry appends the encoded entry to dst.
// Format: [1 byte EntryType][4 bytes KeyLen][Key] and, for SetEntry only, [4 bytes ValueLen][Value].
func AppendEntry(dst []byte, e Entry) []byte {
	dst = append(dst, byte(e.Type))
	dst = binary.LittleEndian.AppendUint32(dst, uint32(len(e.Key)))
	dst = append(dst, e.Key...)
	if e.Type == SetEntry {
		dst = binary.LittleEndian.AppendUint32(dst, uint32(len(e.Value)))
		dst = append(dst, e.Value...)
	}
	return dst
}

// SerializeEntry converts an Entry to a byte slice
func SerializeEntry(e Entry) []byte {
	return AppendEntry(make([]byte, 0, e.EncodedSize()), e)
}

// WriteEntry encodes e and writes it to w in a single call.
func WriteEntry(w io.Writer, e Entry) (int, error) {
	return w.Write(SerializeEntry(e))
}

// ReadEntry decodes the next entry from r.
//
// It returns io.EOF when r is exhausted exactly at a record boundary, an error
// wrapping ErrTornRecord when r ends inside a record, and an error matching
// kverr.ErrCorruptLog when a fully read field holds an impossible value.
func ReadEntry(r io.Reader) (Entry, error) {
	var op [EntryTypeSize]byte
	if _, err := io.ReadFull(r, op[:]); err != nil {
		return Entry{}, err
	}

	t := EntryType(op[0])
	if t != SetEntry && t != DelEntry {
		return Entry{}, kverr.Corrupt("unknown opcode %d", op[0])
	}

	key, err := readField(r, "key", MaxKeyLen, false)
	if err != nil {
		return Entry{}, err
	}

	e := Entry{Type: t, Key: key}
	if t == SetEntry {
		e.Value, err = readField(r, "value", MaxValueLen, true)
		if err != nil {
			return Entry{}, err
		}
	}
	return e, nil
}

// AppendPair appends a snapshot pair: [4 bytes KeyLen][Key][4 bytes ValueLen][Value].
func AppendPair(dst, key, value []byte) []byte {
	dst = binary.LittleEndian.AppendUint32(dst, uint32(len(key)))
	dst = append(dst, key...)
	dst = binary.LittleEndian.AppendUint32(dst, uint32(len(value)))
	return append(dst, value...)
}

// ReadPair decodes the next snapshot pair from r, with the same EOF semantics as ReadEntry.
func ReadPair(r io.Reader) (key, value []byte, err error) {
	var lenBuf [LengthSize]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, nil, fmt.Errorf("%w: reading key length", ErrTornRecord)
		}
		return nil, nil, err
	}
	keyLen := binary.LittleEndian.Uint32(lenBuf[:])
	if keyLen == 0 || keyLen > MaxKeyLen {
		return nil, nil, kverr.Corrupt("key length %d out of range", keyLen)
	}
	key = make([]byte, keyLen)
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, nil, torn("key", err)
	}

	value, err = readField(r, "value", MaxValueLen, true)
	if err != nil {
		return nil, nil, err
	}
	return key, value, nil
}

// readField reads a length-prefixed field that must appear after the start of a record,
// so any EOF is a torn record.
func readField(r io.Reader, name string, max uint32, allowEmpty bool) ([]byte, error) {
	var lenBuf [LengthSize]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, torn(name+" length", err)
	}

	n := binary.LittleEndian.Uint32(lenBuf[:])
	if n == 0 && !allowEmpty {
		return nil, kverr.Corrupt("%s length is zero", name)
	}
	if n > max {
		return nil, kverr.Corrupt("%s length %d exceeds %d", name, n, max)
	}

	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, torn(name, err)
	}
	return buf, nil
}

func torn(field string, err error) error {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return fmt.Errorf("%w: reading %s", ErrTornRecord, field)
	}
	return err
}
