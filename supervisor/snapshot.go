// Package supervisor owns the top-level run: parsing flags into worker
// configs, starting one engine per worker, and periodically aggregating
// their counters into the display and the final report.
package supervisor

import "github.com/m-lab/ncps/engine"

// SnapshotCache keeps, per worker, the most recent two engine.Snapshot
// readings so the reporting loop can compute per-interval deltas without
// the workers themselves tracking history.
type SnapshotCache struct {
	current  map[int]engine.Snapshot
	previous map[int]engine.Snapshot
	cycles   int64
}

// NewSnapshotCache creates an empty cache.
func NewSnapshotCache() *SnapshotCache {
	return &SnapshotCache{
		current:  make(map[int]engine.Snapshot, 16),
		previous: make(map[int]engine.Snapshot, 16),
	}
}

// Update records workerID's latest snapshot and returns the previous
// reading for that worker (the zero Snapshot on the worker's first call).
func (c *SnapshotCache) Update(workerID int, snap engine.Snapshot) engine.Snapshot {
	c.current[workerID] = snap
	return c.previous[workerID]
}

// EndCycle rotates current into previous and returns the full set of
// readings taken during the cycle just ended.
func (c *SnapshotCache) EndCycle() map[int]engine.Snapshot {
	tmp := c.current
	c.previous = tmp
	c.current = make(map[int]engine.Snapshot, len(tmp)+len(tmp)/10+1)
	c.cycles++
	return tmp
}

// CycleCount returns the number of times EndCycle has been called.
func (c *SnapshotCache) CycleCount() int64 { return c.cycles }

// Total sums a field across every worker's most recent snapshot. It is
// the supervisor's way of turning per-worker Counters into the aggregate
// numbers the periodic display and final report need.
func Total(snaps map[int]engine.Snapshot) engine.Snapshot {
	var out engine.Snapshot
	for _, s := range snaps {
		out.Open += s.Open
		out.OpenPending += s.OpenPending
		out.OpenFailure += s.OpenFailure
		out.IOFailure += s.IOFailure
		out.Closed += s.Closed
		out.RXBytes += s.RXBytes
		out.TXBytes += s.TXBytes
		out.RTTSum0 += s.RTTSum0
		out.RTTCount0 += s.RTTCount0
		out.RTTSumR += s.RTTSumR
		out.RTTCountR += s.RTTCountR
		out.RetransSum += s.RetransSum
		out.PortWrapped = out.PortWrapped || s.PortWrapped
	}
	return out
}
