package kverr_test

import (
	"errors"
	"io/fs"
	"testing"

	"github.com/MikhailWahib/flintkv/internal/kverr"
	"github.com/stretchr/testify/assert"
)

func TestClassification(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		target error
	}{
		{"corrupt", kverr.Corrupt("bad opcode %d", 9), kverr.ErrCorruptLog},
		{"invalid", kverr.Invalid("empty key"), kverr.ErrInvalidInput},
		{"closed", kverr.Closed("worker exited"), kverr.ErrStoreClosed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, tt.err, tt.target)
			assert.False(t, kverr.IsIO(tt.err))
		})
	}
}

func TestIOError(t *testing.T) {
	err := kverr.IO("open", "/tmp/x", fs.ErrPermission)

	assert.True(t, kverr.IsIO(err))
	assert.ErrorIs(t, err, fs.ErrPermission)
	assert.Equal(t, "io: open /tmp/x: permission denied", err.Error())

	// Re-wrapping keeps the innermost operation.
	again := kverr.IO("sync", "", err)
	var ioErr *kverr.IOError
	assert.True(t, errors.As(again, &ioErr))
	assert.Equal(t, "open", ioErr.Op)

	assert.NoError(t, kverr.IO("open", "x", nil))
}
