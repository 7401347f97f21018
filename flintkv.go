// Package flintkv is an embeddable, persistent key-value store.
//
// Every write is appended to a log before it is applied to an in-memory
// index. Snapshots dump the index to disk and let the log start over, so
// reopening a store loads the latest snapshot and replays only the log
// written since. A single worker goroutine owns the store and serializes
// every operation, which makes a DB safe for concurrent use.
//
// Example usage:
//
//	db, err := flintkv.Open("/path/to/store", nil)
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer db.Close()
//
//	if err := db.Set([]byte("key"), []byte("value")); err != nil {
//		log.Printf("Set failed: %v", err)
//	}
//
//	value, exists, err := db.Get([]byte("key"))
//	if err == nil && exists {
//		fmt.Printf("Value: %s\n", value)
//	}
package flintkv

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/MikhailWahib/flintkv/internal/config"
	"github.com/MikhailWahib/flintkv/internal/coordinator"
	"github.com/MikhailWahib/flintkv/internal/diskmanager"
	"github.com/MikhailWahib/flintkv/internal/engine"
	"github.com/MikhailWahib/flintkv/internal/index"
	"github.com/MikhailWahib/flintkv/internal/kverr"
	"github.com/MikhailWahib/flintkv/internal/logging"
	"github.com/MikhailWahib/flintkv/internal/metrics"
)

// Config is an alias for config.Config, re-exported for user convenience.
type Config = config.Config

// DefaultConfig returns a Config struct populated with default values. Re-exported for user convenience.
var DefaultConfig = config.DefaultConfig

// LoadConfig reads a YAML config file. Re-exported for user convenience.
var LoadConfig = config.Load

type (
	// Handle submits requests to the store from any goroutine.
	Handle = coordinator.Handle
	// ScanKey is one key returned by Scan.
	ScanKey = index.ScanKey
	// SnapshotMeta identifies a published snapshot.
	SnapshotMeta = engine.SnapshotMeta
	// Stats summarizes the store.
	Stats = engine.Stats
	// IOError wraps a filesystem failure with its operation and path.
	IOError = kverr.IOError
)

var (
	// ErrCorruptLog reports a log, snapshot or manifest that cannot be decoded.
	ErrCorruptLog = kverr.ErrCorruptLog
	// ErrInvalidInput reports a key or value outside the size limits.
	ErrInvalidInput = kverr.ErrInvalidInput
	// ErrStoreClosed reports an operation on a closed store.
	ErrStoreClosed = kverr.ErrStoreClosed
	// ErrLocked reports a store directory already opened by another process.
	ErrLocked = diskmanager.ErrLocked
)

type options struct {
	logger     logrus.FieldLogger
	registerer prometheus.Registerer
}

// Option customizes Open.
type Option func(*options)

// WithLogger sets the logger. By default the store logs to stderr at Config.LogLevel.
func WithLogger(l logrus.FieldLogger) Option {
	return func(o *options) { o.logger = l }
}

// WithMetrics registers the store's prometheus collectors with reg.
func WithMetrics(reg prometheus.Registerer) Option {
	return func(o *options) { o.registerer = reg }
}

// DB is a FlintKV store. It is safe for concurrent use.
type DB struct {
	coord  *coordinator.Coordinator
	handle coordinator.Handle
}

// Open opens or creates a store in dir. The directory is created if needed.
// A nil cfg uses DefaultConfig; a non-empty dir overrides cfg.Dir.
func Open(dir string, cfg *Config, opts ...Option) (*DB, error) {
	c := DefaultConfig()
	if cfg != nil {
		copied := *cfg
		c = &copied
	}
	c.FillDefaults()
	if dir != "" {
		c.Dir = dir
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	policy, err := c.DurabilityPolicy()
	if err != nil {
		return nil, err
	}

	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		logger, err := logging.New(c.LogLevel, "flintkv")
		if err != nil {
			return nil, kverr.Invalid("%v", err)
		}
		o.logger = logger
	}

	e, err := engine.Open(engine.Options{
		Dir:        c.Dir,
		LogFile:    c.LogFile,
		Policy:     policy,
		MaxLogSize: c.MaxLogSize,
		Logger:     o.logger,
	})
	if err != nil {
		return nil, err
	}

	var m *metrics.Metrics
	if o.registerer != nil {
		m = metrics.New(o.registerer)
	}
	coord := coordinator.Start(e, coordinator.Options{
		QueueSize: c.QueueSize,
		Metrics:   m,
		Logger:    o.logger,
	})
	return &DB{coord: coord, handle: coord.Handle()}, nil
}

// Set writes a key-value pair, overwriting any previous value.
// It returns once the write is logged according to the durability mode.
func (db *DB) Set(key, value []byte) error {
	return db.handle.Set(context.Background(), key, value)
}

// Get retrieves the value for a given key.
func (db *DB) Get(key []byte) ([]byte, bool, error) {
	return db.handle.Get(context.Background(), key)
}

// Delete removes the key and reports whether it existed.
func (db *DB) Delete(key []byte) (bool, error) {
	return db.handle.Delete(context.Background(), key)
}

// Scan returns the keys beginning with prefix in bytewise order.
func (db *DB) Scan(prefix []byte) ([]ScanKey, error) {
	return db.handle.Scan(context.Background(), prefix)
}

// Snapshot writes the current contents to a new snapshot and truncates the log.
func (db *DB) Snapshot() (SnapshotMeta, error) {
	return db.handle.Snapshot(context.Background())
}

// Stats reports the number of keys, the log size and the current snapshot.
func (db *DB) Stats() (Stats, error) {
	return db.handle.Stats(context.Background())
}

// Handle returns the context-aware handle used by servers and long-lived callers.
func (db *DB) Handle() Handle { return db.handle }

// Close waits for queued operations, applies the durability mode's shutdown
// step and releases the store directory. Later calls fail with ErrStoreClosed.
func (db *DB) Close() error {
	return db.coord.Close()
}
