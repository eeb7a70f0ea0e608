// Package rss implements the `-aff nonrss` auto-affinity detector: reading
// the kernel's per-CPU NET_RX softirq counters and picking out CPUs whose
// recent NIC-RX activity is low enough to be considered safe to pin a
// worker to.
package rss

import (
	"bufio"
	"errors"
	"os"
	"strconv"
	"strings"
)

// DefaultPath is where Linux publishes per-CPU softirq counters.
const DefaultPath = "/proc/softirqs"

// MaxCPUs bounds how many per-CPU counters a single NET_RX: line may carry.
const MaxCPUs = 1024

// ErrUnavailable is returned when the softirq source can't be read, e.g. on
// a non-Linux platform or a sandboxed environment without /proc. -aff nonrss
// is an optional capability; callers should fail the flag cleanly rather
// than crash.
var ErrUnavailable = errors.New("rss: softirq counter source unavailable")

// ErrNoNetRXLine is returned when the source file exists but never contains
// a NET_RX: row.
var ErrNoNetRXLine = errors.New("rss: no NET_RX: line found")

// Sampler reads one snapshot of per-CPU NET_RX counters from path.
type Sampler struct {
	path string
}

// NewSampler binds a Sampler to path (typically DefaultPath).
func NewSampler(path string) *Sampler {
	return &Sampler{path: path}
}

// Sample reads the current per-CPU NET_RX counters.
func (s *Sampler) Sample() ([]uint64, error) {
	f, err := os.Open(s.path)
	if err != nil {
		return nil, ErrUnavailable
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		fields := strings.Fields(line)
		if len(fields) == 0 || fields[0] != "NET_RX:" {
			continue
		}
		counts := fields[1:]
		if len(counts) > MaxCPUs {
			counts = counts[:MaxCPUs]
		}
		out := make([]uint64, len(counts))
		for i, f := range counts {
			v, err := strconv.ParseUint(f, 10, 64)
			if err != nil {
				return nil, ErrNoNetRXLine
			}
			out[i] = v
		}
		return out, nil
	}
	if err := scanner.Err(); err != nil {
		return nil, ErrUnavailable
	}
	return nil, ErrNoNetRXLine
}

// NonRSSCPUs computes, from two successive samples, which CPU indices had
// NET_RX activity below 10% of the busiest CPU's delta -- the threshold the
// supervisor uses to pick "quiet" CPUs for worker affinity.
func NonRSSCPUs(prev, cur []uint64) (cpus []int, threshold uint64) {
	n := len(prev)
	if len(cur) < n {
		n = len(cur)
	}
	deltas := make([]uint64, n)
	var max uint64
	for i := 0; i < n; i++ {
		d := uint64(0)
		if cur[i] > prev[i] {
			d = cur[i] - prev[i]
		}
		deltas[i] = d
		if d > max {
			max = d
		}
	}
	threshold = max / 10
	for i, d := range deltas {
		if d < threshold {
			cpus = append(cpus, i)
		}
	}
	return cpus, threshold
}

// Detector drives the supervisor's two-snapshot-then-decide sequence: the
// supervisor calls Snapshot twice, one second apart, before any worker
// starts, and then reads NonRSSCPUs. The sampling is not gated on the
// observed connection rate and is not repeated during the run.
type Detector struct {
	sampler   *Sampler
	snapshots [][]uint64
}

// NewDetector creates a Detector reading from path.
func NewDetector(path string) *Detector {
	return &Detector{sampler: NewSampler(path)}
}

// Snapshot takes one reading, keeping only the most recent two.
func (d *Detector) Snapshot() error {
	s, err := d.sampler.Sample()
	if err != nil {
		return err
	}
	d.snapshots = append(d.snapshots, s)
	if len(d.snapshots) > 2 {
		d.snapshots = d.snapshots[len(d.snapshots)-2:]
	}
	return nil
}

// Ready reports whether two snapshots have been taken, i.e. NonRSSCPUs can
// be computed.
func (d *Detector) Ready() bool { return len(d.snapshots) >= 2 }

// NonRSSCPUs computes the quiet-CPU set from the two most recent snapshots.
func (d *Detector) NonRSSCPUs() ([]int, uint64, error) {
	if !d.Ready() {
		return nil, 0, errors.New("rss: need two snapshots before computing non-RSS CPUs")
	}
	cpus, threshold := NonRSSCPUs(d.snapshots[0], d.snapshots[1])
	return cpus, threshold, nil
}
