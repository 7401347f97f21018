package coordinator

import (
	"bytes"
	"context"

	"github.com/MikhailWahib/flintkv/internal/engine"
	"github.com/MikhailWahib/flintkv/internal/index"
	"github.com/MikhailWahib/flintkv/internal/kverr"
)

// Handle submits requests to the worker. It is a value type, safe to copy and
// to use from any goroutine.
//
// A ctx that ends makes the caller stop waiting and return ctx.Err(). A
// request already queued is still applied.
type Handle struct {
	requests chan<- request
	done     <-chan struct{}
}

// Set stores value under key.
func (h Handle) Set(ctx context.Context, key, value []byte) error {
	resp, err := h.call(ctx, request{op: opSet, key: bytes.Clone(key), value: bytes.Clone(value)})
	if err != nil {
		return err
	}
	return resp.err
}

// Get returns a copy of the value stored under key.
func (h Handle) Get(ctx context.Context, key []byte) ([]byte, bool, error) {
	resp, err := h.call(ctx, request{op: opGet, key: bytes.Clone(key)})
	if err != nil {
		return nil, false, err
	}
	return resp.value, resp.found, resp.err
}

// Delete removes key and reports whether it was present.
func (h Handle) Delete(ctx context.Context, key []byte) (bool, error) {
	resp, err := h.call(ctx, request{op: opDelete, key: bytes.Clone(key)})
	if err != nil {
		return false, err
	}
	return resp.found, resp.err
}

// Scan returns the keys starting with prefix in bytewise order.
func (h Handle) Scan(ctx context.Context, prefix []byte) ([]index.ScanKey, error) {
	resp, err := h.call(ctx, request{op: opScan, key: bytes.Clone(prefix)})
	if err != nil {
		return nil, err
	}
	return resp.keys, resp.err
}

// Snapshot creates and publishes a snapshot.
func (h Handle) Snapshot(ctx context.Context) (engine.SnapshotMeta, error) {
	resp, err := h.call(ctx, request{op: opSnapshot})
	if err != nil {
		return engine.SnapshotMeta{}, err
	}
	return resp.meta, resp.err
}

// Stats reports the store's size and snapshot state.
func (h Handle) Stats(ctx context.Context) (engine.Stats, error) {
	resp, err := h.call(ctx, request{op: opStats})
	if err != nil {
		return engine.Stats{}, err
	}
	return resp.stats, resp.err
}

func (h Handle) call(ctx context.Context, req request) (response, error) {
	if err := ctx.Err(); err != nil {
		return response{}, err
	}

	req.reply = make(chan response, 1)
	select {
	case h.requests <- req:
	case <-h.done:
		return response{}, kverr.Closed("store worker has exited")
	case <-ctx.Done():
		return response{}, ctx.Err()
	}
	return await(ctx, req.reply, h.done)
}

// await waits for a reply. A reply sent before the worker exited wins over done.
func await(ctx context.Context, reply <-chan response, done <-chan struct{}) (response, error) {
	select {
	case resp := <-reply:
		return resp, nil
	case <-done:
		select {
		case resp := <-reply:
			return resp, nil
		default:
			return response{}, kverr.Closed("store worker exited before replying")
		}
	case <-ctx.Done():
		return response{}, ctx.Err()
	}
}
