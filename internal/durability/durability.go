// Package durability decides, per write, how far appended data is pushed toward stable storage.
package durability

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/MikhailWahib/flintkv/internal/kverr"
)

// Mode selects the durability guarantee of the log.
type Mode int

const (
	// Flush pushes every write to the OS page cache. Survives a process crash, not a power loss.
	Flush Mode = iota
	// FsyncAlways flushes and fsyncs after every write.
	FsyncAlways
	// FsyncEveryN flushes every write and fsyncs once N writes are pending.
	FsyncEveryN
)

func (m Mode) String() string {
	switch m {
	case Flush:
		return "flush"
	case FsyncAlways:
		return "fsync-always"
	case FsyncEveryN:
		return "fsync-every"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// Syncer is the log surface a policy drives.
type Syncer interface {
	// Flush hands buffered bytes to the OS.
	Flush() error
	// Sync forces flushed bytes to stable storage.
	Sync() error
}

// Policy applies a Mode and tracks writes that are flushed but not yet synced.
type Policy struct {
	mode    Mode
	n       uint64
	pending uint64
}

// New builds a policy. n is only used by FsyncEveryN and must be positive there.
func New(mode Mode, n uint64) (*Policy, error) {
	switch mode {
	case Flush, FsyncAlways:
		return &Policy{mode: mode}, nil
	case FsyncEveryN:
		if n == 0 {
			return nil, kverr.Invalid("fsync-every interval must be positive")
		}
		return &Policy{mode: mode, n: n}, nil
	default:
		return nil, kverr.Invalid("unknown durability mode %d", int(mode))
	}
}

// Parse builds a policy from its text form: "flush", "fsync-always" or "fsync-every:<n>".
func Parse(s string) (*Policy, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	switch s {
	case "", "flush":
		return New(Flush, 0)
	case "fsync-always", "fsync":
		return New(FsyncAlways, 0)
	}

	if rest, ok := strings.CutPrefix(s, "fsync-every:"); ok {
		n, err := strconv.ParseUint(rest, 10, 64)
		if err != nil {
			return nil, kverr.Invalid("bad fsync-every interval %q", rest)
		}
		return New(FsyncEveryN, n)
	}
	return nil, kverr.Invalid("unknown durability mode %q", s)
}

// Mode returns the configured mode.
func (p *Policy) Mode() Mode { return p.mode }

// Interval returns N for FsyncEveryN and 0 otherwise.
func (p *Policy) Interval() uint64 { return p.n }

// Pending returns the number of writes flushed since the last sync.
func (p *Policy) Pending() uint64 { return p.pending }

func (p *Policy) String() string {
	if p.mode == FsyncEveryN {
		return fmt.Sprintf("fsync-every:%d", p.n)
	}
	return p.mode.String()
}

// AfterWrite is called once per appended record.
func (p *Policy) AfterWrite(s Syncer) error {
	if err := s.Flush(); err != nil {
		return err
	}

	switch p.mode {
	case FsyncAlways:
		return s.Sync()
	case FsyncEveryN:
		p.pending++
		if p.pending >= p.n {
			if err := s.Sync(); err != nil {
				return err
			}
			p.pending = 0
		}
	default:
		p.pending++
	}
	return nil
}

// Synced tells the policy that the log was fully synced out of band (e.g. by rotation).
func (p *Policy) Synced() { p.pending = 0 }

// OnShutdown flushes, and syncs unless the mode is Flush.
func (p *Policy) OnShutdown(s Syncer) error {
	if err := s.Flush(); err != nil {
		return err
	}
	if p.mode == Flush {
		return nil
	}
	if err := s.Sync(); err != nil {
		return err
	}
	p.pending = 0
	return nil
}
