// Command flintkv operates on a FlintKV store from the shell or serves it over TCP.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/MikhailWahib/flintkv"
	"github.com/MikhailWahib/flintkv/internal/logging"
	"github.com/MikhailWahib/flintkv/internal/server"
)

const usage = `FlintKV - embeddable persistent key-value store

Usage:
  flintkv [options] <command> [args]

Commands:
  set <key> <value>   Store a value
  get <key>           Print a value, or (nil)
  del <key>           Delete a key, prints 1 if it existed, else 0
  scan [prefix]       Print keys in order
  snapshot            Write a snapshot and truncate the log
  stats               Print key count, log size and snapshot number
  serve [-addr a] [-metrics-addr m]
                      Serve the store over TCP

Options:
`

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("flintkv", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() {
		fmt.Fprint(stderr, usage)
		fs.PrintDefaults()
	}

	configPath := fs.String("config", "", "YAML config file")
	dir := fs.String("dir", "", "store directory (default \".\")")
	logFile := fs.String("log", "", "log file name, or a path whose directory becomes the store directory")
	durability := fs.String("durability", "", "flush, fsync-always or fsync-every:<n>")
	maxLogSize := fs.Int64("max-log-size", -1, "snapshot once the log reaches this many bytes, 0 disables")
	verbose := fs.Bool("v", false, "log at the configured level instead of warnings only")
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}
	if fs.NArg() == 0 {
		fs.Usage()
		return 2
	}

	cfg := flintkv.DefaultConfig()
	if *configPath != "" {
		loaded, err := flintkv.LoadConfig(*configPath)
		if err != nil {
			fmt.Fprintf(stderr, "error: %v\n", err)
			return 1
		}
		cfg = loaded
	}
	if *logFile != "" {
		if d := filepath.Dir(*logFile); d != "." && *dir == "" {
			*dir = d
		}
		cfg.LogFile = filepath.Base(*logFile)
	}
	if *dir != "" {
		cfg.Dir = *dir
	}
	if cfg.Dir == "" {
		cfg.Dir = "."
	}
	if *durability != "" {
		cfg.Durability = *durability
	}
	if *maxLogSize >= 0 {
		cfg.MaxLogSize = *maxLogSize
	}

	level := cfg.LogLevel
	cmd, cmdArgs := fs.Arg(0), fs.Args()[1:]
	if cmd != "serve" && !*verbose {
		level = "warn"
	}
	logger, err := logging.New(level, "flintkv")
	if err != nil {
		fmt.Fprintf(stderr, "error: %v\n", err)
		return 1
	}
	logger.SetOutput(stderr)

	if err := dispatch(cmd, cmdArgs, cfg, logger, stdout); err != nil {
		var usageErr usageError
		if errors.As(err, &usageErr) {
			fmt.Fprintf(stderr, "error: %v\n\n", err)
			fs.Usage()
			return 2
		}
		fmt.Fprintf(stderr, "error: %v\n", err)
		if errors.Is(err, flintkv.ErrCorruptLog) {
			fmt.Fprintf(stderr, "hint: the store in %s appears corrupted (likely a torn write or format mismatch). "+
				"Move or delete %s and try again.\n", cfg.Dir, cfg.LogFile)
		}
		return 1
	}
	return 0
}

type usageError string

func (e usageError) Error() string { return string(e) }

func dispatch(cmd string, args []string, cfg *flintkv.Config, logger *logrus.Logger, stdout io.Writer) error {
	if cmd == "serve" {
		return serve(args, cfg, logger)
	}

	var need func(int) bool
	switch cmd {
	case "set":
		need = func(n int) bool { return n >= 2 }
	case "get", "del":
		need = func(n int) bool { return n == 1 }
	case "scan":
		need = func(n int) bool { return n <= 1 }
	case "snapshot", "stats":
		need = func(n int) bool { return n == 0 }
	default:
		return usageError(fmt.Sprintf("unknown command %q", cmd))
	}
	if !need(len(args)) {
		return usageError(fmt.Sprintf("wrong number of arguments for %s", cmd))
	}

	db, err := flintkv.Open(cfg.Dir, cfg, flintkv.WithLogger(logger))
	if err != nil {
		return err
	}
	err = execute(db, cmd, args, stdout)
	return errors.Join(err, db.Close())
}

func execute(db *flintkv.DB, cmd string, args []string, stdout io.Writer) error {
	switch cmd {
	case "set":
		return db.Set([]byte(args[0]), []byte(strings.Join(args[1:], " ")))

	case "get":
		value, ok, err := db.Get([]byte(args[0]))
		if err != nil {
			return err
		}
		if !ok {
			fmt.Fprintln(stdout, "(nil)")
			return nil
		}
		fmt.Fprintf(stdout, "%s\n", value)

	case "del":
		existed, err := db.Delete([]byte(args[0]))
		if err != nil {
			return err
		}
		if existed {
			fmt.Fprintln(stdout, "1")
		} else {
			fmt.Fprintln(stdout, "0")
		}

	case "scan":
		var prefix []byte
		if len(args) == 1 {
			prefix = []byte(args[0])
		}
		keys, err := db.Scan(prefix)
		if err != nil {
			return err
		}
		for _, k := range keys {
			fmt.Fprintln(stdout, k.Text)
		}

	case "snapshot":
		meta, err := db.Snapshot()
		if err != nil {
			return err
		}
		fmt.Fprintf(stdout, "snapshot-%04d\n", meta.Number)

	case "stats":
		stats, err := db.Stats()
		if err != nil {
			return err
		}
		fmt.Fprintf(stdout, "keys=%d log_bytes=%d snapshot=%d pending_syncs=%d\n",
			stats.Keys, stats.LogBytes, stats.SnapshotNumber, stats.PendingSyncs)
	}
	return nil
}

func serve(args []string, cfg *flintkv.Config, logger *logrus.Logger) error {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	addr := fs.String("addr", cfg.ListenAddr, "listen address")
	metricsAddr := fs.String("metrics-addr", cfg.MetricsAddr, "address for /metrics, empty disables")
	if err := fs.Parse(args); err != nil {
		return usageError(err.Error())
	}
	if fs.NArg() != 0 {
		return usageError("serve takes no positional arguments")
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	db, err := flintkv.Open(cfg.Dir, cfg, flintkv.WithLogger(logger), flintkv.WithMetrics(reg))
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	l, err := net.Listen("tcp", *addr)
	if err != nil {
		return errors.Join(fmt.Errorf("listen on %s: %w", *addr, err), db.Close())
	}

	g, gctx := errgroup.WithContext(ctx)
	srv := server.New(db.Handle(), server.Options{RateLimit: cfg.ConnRateLimit, Logger: logger})
	g.Go(func() error { return srv.Serve(gctx, l) })

	if *metricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		httpSrv := &http.Server{Addr: *metricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

		g.Go(func() error {
			logger.WithField("addr", *metricsAddr).Info("serving metrics")
			if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return httpSrv.Shutdown(shutdownCtx)
		})
	}

	err = g.Wait()
	logger.Info("shutting down")
	return errors.Join(err, db.Close())
}
