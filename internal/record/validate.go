package record

import "github.com/MikhailWahib/flintkv/internal/kverr"

// ValidateKey rejects empty keys and keys longer than MaxKeyLen.
func ValidateKey(key []byte) error {
	if len(key) == 0 {
		return kverr.Invalid("key must not be empty")
	}
	if len(key) > MaxKeyLen {
		return kverr.Invalid("key length %d exceeds %d bytes", len(key), MaxKeyLen)
	}
	return nil
}

// ValidateValue rejects values longer than MaxValueLen.
func ValidateValue(value []byte) error {
	if len(value) > MaxValueLen {
		return kverr.Invalid("value length %d exceeds %d bytes", len(value), MaxValueLen)
	}
	return nil
}
