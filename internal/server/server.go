// Package server exposes a store over a newline-framed text protocol on TCP.
//
// Each line is a command split on whitespace:
//
//	SET <key> <value...>   OK
//	GET <key>              the value, or (nil)
//	DEL <key>              1 if the key existed, else 0
//	SCAN [prefix]          one key per line, then OK
//	SNAPSHOT               OK snapshot-<number>
//	STATS                  keys=<n> log_bytes=<n> snapshot=<n>
//
// Malformed commands get "ERROR: invalid command" and store failures
// "ERROR: <reason>". The connection stays open in both cases.
package server

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/MikhailWahib/flintkv/internal/engine"
	"github.com/MikhailWahib/flintkv/internal/index"
	"github.com/MikhailWahib/flintkv/internal/logging"
	"github.com/MikhailWahib/flintkv/internal/record"
)

// maxLineSize fits a SET carrying the largest key and value.
const maxLineSize = 64 + record.MaxKeyLen + record.MaxValueLen

const errInvalidCommand = "ERROR: invalid command"

// Store is the set of operations the protocol needs. coordinator.Handle implements it.
type Store interface {
	Set(ctx context.Context, key, value []byte) error
	Get(ctx context.Context, key []byte) ([]byte, bool, error)
	Delete(ctx context.Context, key []byte) (bool, error)
	Scan(ctx context.Context, prefix []byte) ([]index.ScanKey, error)
	Snapshot(ctx context.Context) (engine.SnapshotMeta, error)
	Stats(ctx context.Context) (engine.Stats, error)
}

// Options configures a Server.
type Options struct {
	// RateLimit caps commands per second on each connection. 0 disables.
	RateLimit float64
	Logger    logrus.FieldLogger
}

// Server serves the text protocol.
type Server struct {
	store     Store
	rateLimit float64
	log       logrus.FieldLogger

	mu      sync.Mutex
	conns   map[net.Conn]struct{}
	closing bool
}

// New returns a server backed by store.
func New(store Store, opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = logging.Discard()
	}
	return &Server{
		store:     store,
		rateLimit: opts.RateLimit,
		log:       opts.Logger,
		conns:     make(map[net.Conn]struct{}),
	}
}

// Serve accepts connections on l until ctx is done, then closes l and every
// open connection and waits for their goroutines. It returns nil after a
// shutdown through ctx.
func (s *Server) Serve(ctx context.Context, l net.Listener) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		<-gctx.Done()
		_ = l.Close()
		s.closeConns()
		return nil
	})

	g.Go(func() error {
		for {
			conn, err := l.Accept()
			if err != nil {
				if gctx.Err() != nil {
					return nil
				}
				return fmt.Errorf("accept: %w", err)
			}
			if !s.track(conn) {
				_ = conn.Close()
				continue
			}
			g.Go(func() error {
				defer s.untrack(conn)
				s.serveConn(gctx, conn)
				return nil
			})
		}
	})

	s.log.WithField("addr", l.Addr().String()).Info("server listening")
	err := g.Wait()
	s.log.Info("server stopped")
	return err
}

func (s *Server) track(conn net.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closing {
		return false
	}
	s.conns[conn] = struct{}{}
	return true
}

func (s *Server) untrack(conn net.Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.conns, conn)
	_ = conn.Close()
}

func (s *Server) closeConns() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closing = true
	for conn := range s.conns {
		_ = conn.Close()
	}
}

func (s *Server) serveConn(ctx context.Context, conn net.Conn) {
	log := s.log.WithField("remote", conn.RemoteAddr().String())
	log.Debug("client connected")
	defer log.Debug("client disconnected")

	var limiter *rate.Limiter
	if s.rateLimit > 0 {
		limiter = rate.NewLimiter(rate.Limit(s.rateLimit), max(1, int(s.rateLimit/10)))
	}

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 4096), maxLineSize)
	w := bufio.NewWriter(conn)

	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}
		if limiter != nil {
			if err := limiter.Wait(ctx); err != nil {
				return
			}
		}

		s.execute(ctx, w, fields)
		if err := w.Flush(); err != nil {
			log.WithError(err).Debug("write reply")
			return
		}
	}

	if err := scanner.Err(); err != nil && !errors.Is(err, net.ErrClosed) {
		if errors.Is(err, bufio.ErrTooLong) {
			fmt.Fprintln(w, "ERROR: line too long")
			_ = w.Flush()
		}
		log.WithError(err).Warn("read command")
	}
}

func (s *Server) execute(ctx context.Context, w *bufio.Writer, fields []string) {
	cmd := strings.ToUpper(fields[0])
	args := fields[1:]

	switch {
	case cmd == "SET" && len(args) >= 2:
		err := s.store.Set(ctx, []byte(args[0]), []byte(strings.Join(args[1:], " ")))
		s.reply(w, cmd, "OK", err)

	case cmd == "GET" && len(args) >= 1:
		value, ok, err := s.store.Get(ctx, []byte(args[0]))
		switch {
		case err != nil:
			s.reply(w, cmd, "", err)
		case !ok:
			fmt.Fprintln(w, "(nil)")
		default:
			w.Write(value)
			w.WriteByte('\n')
		}

	case cmd == "DEL" && len(args) >= 1:
		existed, err := s.store.Delete(ctx, []byte(args[0]))
		result := "0"
		if existed {
			result = "1"
		}
		s.reply(w, cmd, result, err)

	case cmd == "SCAN" && len(args) <= 1:
		var prefix []byte
		if len(args) == 1 {
			prefix = []byte(args[0])
		}
		keys, err := s.store.Scan(ctx, prefix)
		if err == nil {
			for _, k := range keys {
				fmt.Fprintln(w, k.Text)
			}
		}
		s.reply(w, cmd, "OK", err)

	case cmd == "SNAPSHOT" && len(args) == 0:
		meta, err := s.store.Snapshot(ctx)
		s.reply(w, cmd, fmt.Sprintf("OK snapshot-%04d", meta.Number), err)

	case cmd == "STATS" && len(args) == 0:
		stats, err := s.store.Stats(ctx)
		s.reply(w, cmd, fmt.Sprintf("keys=%d log_bytes=%d snapshot=%d",
			stats.Keys, stats.LogBytes, stats.SnapshotNumber), err)

	default:
		fmt.Fprintln(w, errInvalidCommand)
	}
}

func (s *Server) reply(w *bufio.Writer, cmd, ok string, err error) {
	if err != nil {
		s.log.WithError(err).WithField("cmd", cmd).Warn("command failed")
		fmt.Fprintf(w, "ERROR: %v\n", err)
		return
	}
	fmt.Fprintln(w, ok)
}
