package supervisor

import (
	"flag"
	"fmt"
	"net"
	"strconv"
	"strings"
)

// Params holds the parsed command line, mirroring the flag set before
// partitioning into per-worker engine.Config values.
type Params struct {
	Server     bool
	ClientHost string

	Workers int // -r

	BindIP   string // -b
	BasePort int    // -bp
	NumPorts int    // -np

	ClientBasePort  int // -bcp
	ClientNumPorts  int // -ncp
	XConnect        bool

	TotalConns int // -N
	PendingCap int // -P
	ConnMs     int // -D

	Mode string // -M

	DisplayIntervalSec int // -i
	RunSec             int // -t, 0 = forever
	DelayStartSec      int // -ds
	WarmupSec          int // -wt

	PingPongPeriodSec int // -k

	KeepaliveSec int // -tka

	DoNotReconnect bool // -dnrc
	PollMode       bool // -poll
	ReusePort      bool // -rup

	Abortive   bool // -abortiveclose / -normalclose
	Disconnect bool // -disconbc / -nodisconbc

	BufLen int // -len

	Silent bool // -sil
	Brief  bool // -brief

	OutputFile string // -o
	Affinity   string // -aff

	CSVFile string // -csv, a ncps extension: structured per-interval dump
}

// ErrUsage wraps a flag-parsing or validation failure that should abort the
// program with a usage message.
type ErrUsage struct{ msg string }

func (e *ErrUsage) Error() string { return e.msg }

// ParseArgs parses a ncps command line into Params. argv does not include
// the program name. The first token must be -s or -c <host>.
func ParseArgs(argv []string) (*Params, error) {
	if len(argv) == 0 {
		return nil, &ErrUsage{"missing required -s or -c <remote-ip>"}
	}

	p := &Params{
		Workers:             16,
		BindIP:              "0.0.0.0",
		BasePort:            10001,
		Mode:                "1",
		DisplayIntervalSec:  1,
		Abortive:            false,
		Disconnect:          false,
		BufLen:              1000,
	}

	rest := argv
	switch argv[0] {
	case "-s":
		p.Server = true
		rest = argv[1:]
		p.Abortive = true
		p.Mode = "s"
	case "-c":
		if len(argv) < 2 {
			return nil, &ErrUsage{"-c requires a remote ip"}
		}
		p.ClientHost = argv[1]
		rest = argv[2:]
	default:
		return nil, &ErrUsage{fmt.Sprintf("first argument must be -s or -c, got %q", argv[0])}
	}

	fs := flag.NewFlagSet("ncps", flag.ContinueOnError)
	fs.IntVar(&p.Workers, "r", p.Workers, "worker thread count")
	fs.StringVar(&p.BindIP, "b", p.BindIP, "local bind address")
	fs.IntVar(&p.BasePort, "bp", p.BasePort, "base port")
	fs.IntVar(&p.NumPorts, "np", 0, "count of ports starting at -bp")
	fs.IntVar(&p.ClientBasePort, "bcp", 0, "client local base port")
	fs.IntVar(&p.ClientNumPorts, "ncp", 0, "client local port count")
	fs.BoolVar(&p.XConnect, "xconnect", false, "cartesian product of local x remote ports")
	fs.IntVar(&p.TotalConns, "N", 0, "client: total open connections")
	fs.IntVar(&p.PendingCap, "P", 0, "client: pending-connect cap")
	fs.IntVar(&p.ConnMs, "D", 0, "client: per-connection duration ms")
	fs.StringVar(&p.Mode, "M", p.Mode, "io mode: 0,1,p,s,r")
	fs.IntVar(&p.DisplayIntervalSec, "i", p.DisplayIntervalSec, "display interval seconds")
	fs.IntVar(&p.RunSec, "t", 0, "total run duration seconds, 0 = forever")
	fs.IntVar(&p.DelayStartSec, "ds", 0, "delay start seconds")
	fs.IntVar(&p.WarmupSec, "wt", 0, "warm-up seconds excluded from final stats")
	fs.IntVar(&p.PingPongPeriodSec, "k", 0, "ping-pong period and implicit connect-rate cap seconds")
	fs.IntVar(&p.KeepaliveSec, "tka", 0, "TCP keep-alive idle seconds")
	fs.BoolVar(&p.DoNotReconnect, "dnrc", false, "client: do not reconnect after close")
	fs.BoolVar(&p.PollMode, "poll", false, "busy-poll completions while connections are open")
	fs.BoolVar(&p.ReusePort, "rup", false, "server: SO_REUSEPORT, all workers share all ports")
	fs.BoolVar(&p.Abortive, "abortiveclose", p.Abortive, "abortive close discipline")
	var normalClose bool
	fs.BoolVar(&normalClose, "normalclose", false, "normal close discipline")
	fs.BoolVar(&p.Disconnect, "disconbc", p.Disconnect, "half-close before close")
	var noDisconbc bool
	fs.BoolVar(&noDisconbc, "nodisconbc", false, "do not half-close before close")
	fs.IntVar(&p.BufLen, "len", p.BufLen, "I/O buffer size, 0 -> default")
	fs.BoolVar(&p.Silent, "sil", false, "suppress periodic display")
	fs.BoolVar(&p.Brief, "brief", false, "start in brief display mode")
	fs.StringVar(&p.OutputFile, "o", "", "redirect output to file")
	fs.StringVar(&p.Affinity, "aff", "", "comma-separated per-worker CPU indices, or nonrss")
	fs.StringVar(&p.CSVFile, "csv", "", "write every periodic row to this file as structured CSV")

	if err := fs.Parse(rest); err != nil {
		return nil, &ErrUsage{err.Error()}
	}
	if fs.NArg() > 0 {
		return nil, &ErrUsage{fmt.Sprintf("unrecognized arguments: %v", fs.Args())}
	}
	if normalClose {
		p.Abortive = false
	}
	if noDisconbc {
		p.Disconnect = false
	}
	if p.BufLen == 0 {
		p.BufLen = 1000
	}
	if p.NumPorts == 0 {
		p.NumPorts = 1
	}
	if !p.Server && p.TotalConns == 0 {
		p.TotalConns = p.Workers * 100
	}
	if !p.Server && p.PendingCap == 0 {
		p.PendingCap = p.TotalConns
	}

	return p, p.Validate()
}

// Validate checks cross-field constraints spec.md documents for each flag.
func (p *Params) Validate() error {
	if p.Workers <= 0 || p.Workers > 1024 {
		return &ErrUsage{"-r must be in [1, 1024]"}
	}
	if net.ParseIP(p.BindIP) == nil {
		return &ErrUsage{fmt.Sprintf("-b: invalid ip %q", p.BindIP)}
	}
	if p.BasePort+p.NumPorts > 65536 {
		return &ErrUsage{"-bp + -np must be <= 65536"}
	}
	if p.Server {
		if p.NumPorts < p.Workers && !p.ReusePort {
			return &ErrUsage{"-np must be >= -r unless -rup is set"}
		}
		switch p.Mode {
		case "s", "r":
		default:
			return &ErrUsage{"server -M only accepts s or r"}
		}
	} else {
		if p.ClientHost == "" {
			return &ErrUsage{"-c requires a remote host"}
		}
		if net.ParseIP(p.ClientHost) == nil {
			if _, err := net.LookupHost(p.ClientHost); err != nil {
				return &ErrUsage{fmt.Sprintf("-c: cannot resolve %q", p.ClientHost)}
			}
		}
		if p.ClientBasePort != 0 {
			if p.ClientNumPorts == 0 {
				return &ErrUsage{"-ncp is mandatory when -bcp != 0"}
			}
			if p.ClientNumPorts < p.Workers {
				return &ErrUsage{"-ncp must be >= -r"}
			}
			if p.ClientBasePort+p.ClientNumPorts > 65536 {
				return &ErrUsage{"-bcp + -ncp must be <= 65536"}
			}
		}
		switch p.Mode {
		case "0", "1", "p", "s", "r":
		default:
			return &ErrUsage{fmt.Sprintf("invalid -M %q", p.Mode)}
		}
	}
	if _, err := parseAffinity(p.Affinity, p.Workers); err != nil {
		return err
	}
	return nil
}

// parseAffinity resolves -aff into one CPU index per worker, or nil if -aff
// was not given. "nonrss" resolution happens later, once the rss detector
// has sampled; this only validates the explicit-list form up front.
func parseAffinity(aff string, workers int) ([]int, error) {
	if aff == "" || aff == "nonrss" {
		return nil, nil
	}
	parts := strings.Split(aff, ",")
	if len(parts) != workers {
		return nil, &ErrUsage{fmt.Sprintf("-aff lists %d CPUs, want %d (one per worker)", len(parts), workers)}
	}
	out := make([]int, len(parts))
	for i, s := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(s))
		if err != nil {
			return nil, &ErrUsage{fmt.Sprintf("-aff: invalid cpu index %q", s)}
		}
		out[i] = n
	}
	return out, nil
}
