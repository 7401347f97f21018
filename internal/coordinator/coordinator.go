// Package coordinator serializes every store operation through one worker
// goroutine that owns the engine. Callers talk to it through a Handle.
package coordinator

import (
	"bytes"
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/MikhailWahib/flintkv/internal/engine"
	"github.com/MikhailWahib/flintkv/internal/index"
	"github.com/MikhailWahib/flintkv/internal/logging"
	"github.com/MikhailWahib/flintkv/internal/metrics"
)

// DefaultQueueSize is the request queue capacity used when Options.QueueSize is zero.
const DefaultQueueSize = 1024

type opKind int

const (
	opSet opKind = iota
	opGet
	opDelete
	opScan
	opSnapshot
	opStats
	opShutdown
)

func (k opKind) String() string {
	switch k {
	case opSet:
		return "set"
	case opGet:
		return "get"
	case opDelete:
		return "del"
	case opScan:
		return "scan"
	case opSnapshot:
		return "snapshot"
	case opStats:
		return "stats"
	case opShutdown:
		return "shutdown"
	default:
		return fmt.Sprintf("op(%d)", int(k))
	}
}

type request struct {
	op    opKind
	key   []byte
	value []byte
	// reply has capacity 1 so the worker never blocks on a caller that stopped waiting.
	reply chan response
}

type response struct {
	value []byte
	found bool
	keys  []index.ScanKey
	meta  engine.SnapshotMeta
	stats engine.Stats
	err   error
}

// Options configures Start.
type Options struct {
	QueueSize int
	Metrics   *metrics.Metrics
	Logger    logrus.FieldLogger
}

// Coordinator runs the worker that owns an engine.
type Coordinator struct {
	requests chan request
	done     chan struct{}
	engine   *engine.Engine
	metrics  *metrics.Metrics
	log      logrus.FieldLogger

	lastSnapshot uint64

	closeOnce sync.Once
	closeErr  error
}

// Start takes ownership of e and starts its worker. e must not be used
// directly afterwards.
func Start(e *engine.Engine, opts Options) *Coordinator {
	if opts.QueueSize <= 0 {
		opts.QueueSize = DefaultQueueSize
	}
	if opts.Logger == nil {
		opts.Logger = logging.Discard()
	}

	c := &Coordinator{
		requests:     make(chan request, opts.QueueSize),
		done:         make(chan struct{}),
		engine:       e,
		metrics:      opts.Metrics,
		log:          opts.Logger,
		lastSnapshot: e.Current().Number,
	}
	if stats, err := e.Stats(); err == nil {
		c.metrics.SetStoreSize(stats.Keys, stats.LogBytes)
	}
	go c.run()
	return c
}

// Handle returns a handle for submitting requests. Handles are cheap to copy.
func (c *Coordinator) Handle() Handle {
	return Handle{requests: c.requests, done: c.done}
}

// Done is closed once the worker has exited.
func (c *Coordinator) Done() <-chan struct{} { return c.done }

// Close queues a shutdown behind every request already submitted and waits
// for the worker to exit. It returns the engine's shutdown error.
func (c *Coordinator) Close() error {
	c.closeOnce.Do(func() {
		reply := make(chan response, 1)
		select {
		case c.requests <- request{op: opShutdown, reply: reply}:
			resp, err := await(context.Background(), reply, c.done)
			if err == nil {
				err = resp.err
			}
			c.closeErr = err
		case <-c.done:
		}
		<-c.done
	})
	return c.closeErr
}

// run implements the single-writer loop. It exits after a shutdown request.
func (c *Coordinator) run() {
	defer close(c.done)
	defer func() {
		if r := recover(); r != nil {
			c.log.WithFields(logrus.Fields{
				"panic": r,
				"stack": string(debug.Stack()),
			}).Error("store worker panicked, rejecting further requests")
		}
	}()

	for {
		req := <-c.requests
		start := time.Now()
		resp := c.dispatch(req)
		c.metrics.Observe(req.op.String(), start, resp.err)
		req.reply <- resp

		if req.op == opShutdown {
			return
		}
	}
}

func (c *Coordinator) dispatch(req request) response {
	var resp response
	switch req.op {
	case opSet:
		resp.err = c.engine.Set(req.key, req.value)
		c.afterMutation()
	case opGet:
		var v []byte
		v, resp.found, resp.err = c.engine.Get(req.key)
		resp.value = bytes.Clone(v)
	case opDelete:
		resp.found, resp.err = c.engine.Delete(req.key)
		c.afterMutation()
	case opScan:
		resp.keys, resp.err = c.engine.Scan(req.key)
	case opSnapshot:
		resp.meta, resp.err = c.engine.CreateSnapshot()
		c.afterMutation()
	case opStats:
		resp.stats, resp.err = c.engine.Stats()
	case opShutdown:
		resp.err = c.engine.Shutdown()
	default:
		resp.err = fmt.Errorf("unknown request %v", req.op)
	}
	return resp
}

// afterMutation refreshes the size gauges and counts snapshots, including
// ones the engine took on its own.
func (c *Coordinator) afterMutation() {
	if c.metrics == nil {
		return
	}
	stats, err := c.engine.Stats()
	if err != nil {
		return
	}
	c.metrics.SetStoreSize(stats.Keys, stats.LogBytes)
	if stats.SnapshotNumber != c.lastSnapshot {
		c.lastSnapshot = stats.SnapshotNumber
		c.metrics.SnapshotPublished()
	}
}
