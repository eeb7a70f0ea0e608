package engine

import "sync/atomic"

// Counters are a worker's single-writer/single-reader-safe stats: the
// worker updates each via the atomic store/add helpers below after every
// state transition, and the supervisor reads them with Load from a
// different goroutine without locking, accepting that the whole snapshot
// may be very slightly torn across fields (each individual field is
// word-sized and independently consistent).
type Counters struct {
	open        int64 // currently-open connections (client+server)
	openPending int64 // outstanding (not yet completed) connects
	openFailure int64 // failed connect attempts, excluding ErrPortBusy
	ioFailure   int64 // failed reads/writes
	closed      int64 // total closes issued
	rxBytes     int64
	txBytes     int64
	portWrapped int64 // 1 once this worker's client port range has wrapped

	// RTT sums are split by whether the connection's SYN was retransmitted,
	// mirroring the periodic report's c0/c0rtt (no retransmit) and
	// cR/cRrtt (retransmitted) columns.
	rttSum0     int64
	rttCount0   int64
	rttSumR     int64
	rttCountR   int64
	retransSum  int64 // cumulative SYN retransmits, for the RT/i column
}

func (c *Counters) incOpen()        { atomic.AddInt64(&c.open, 1) }
func (c *Counters) decOpen()        { atomic.AddInt64(&c.open, -1) }
func (c *Counters) incOpenPending() { atomic.AddInt64(&c.openPending, 1) }
func (c *Counters) decOpenPending() { atomic.AddInt64(&c.openPending, -1) }
func (c *Counters) incOpenFailure() { atomic.AddInt64(&c.openFailure, 1) }
func (c *Counters) incIOFailure()   { atomic.AddInt64(&c.ioFailure, 1) }
func (c *Counters) incClosed()      { atomic.AddInt64(&c.closed, 1) }
func (c *Counters) addRX(n int64)   { atomic.AddInt64(&c.rxBytes, n) }
func (c *Counters) addTX(n int64)   { atomic.AddInt64(&c.txBytes, n) }
func (c *Counters) markPortWrap()   { atomic.StoreInt64(&c.portWrapped, 1) }

// addConnectRTT records one connection's SYN RTT into the 0-retransmit or
// retransmitted bucket depending on retrans.
func (c *Counters) addConnectRTT(rttUs int64, retrans int) {
	atomic.AddInt64(&c.retransSum, int64(retrans))
	if retrans == 0 {
		atomic.AddInt64(&c.rttSum0, rttUs)
		atomic.AddInt64(&c.rttCount0, 1)
		return
	}
	atomic.AddInt64(&c.rttSumR, rttUs)
	atomic.AddInt64(&c.rttCountR, 1)
}

// Snapshot is the value the supervisor takes a periodic reading into.
type Snapshot struct {
	Open        int64
	OpenPending int64
	OpenFailure int64
	IOFailure   int64
	Closed      int64
	RXBytes     int64
	TXBytes     int64
	PortWrapped bool

	RTTSum0    int64
	RTTCount0  int64
	RTTSumR    int64
	RTTCountR  int64
	RetransSum int64
}

// Load takes a consistent-enough snapshot for delta computation; see the
// Counters doc comment on the torn-read tradeoff.
func (c *Counters) Load() Snapshot {
	return Snapshot{
		Open:        atomic.LoadInt64(&c.open),
		OpenPending: atomic.LoadInt64(&c.openPending),
		OpenFailure: atomic.LoadInt64(&c.openFailure),
		IOFailure:   atomic.LoadInt64(&c.ioFailure),
		Closed:      atomic.LoadInt64(&c.closed),
		RXBytes:     atomic.LoadInt64(&c.rxBytes),
		TXBytes:     atomic.LoadInt64(&c.txBytes),
		PortWrapped: atomic.LoadInt64(&c.portWrapped) != 0,
		RTTSum0:     atomic.LoadInt64(&c.rttSum0),
		RTTCount0:   atomic.LoadInt64(&c.rttCount0),
		RTTSumR:     atomic.LoadInt64(&c.rttSumR),
		RTTCountR:   atomic.LoadInt64(&c.rttCountR),
		RetransSum:  atomic.LoadInt64(&c.retransSum),
	}
}

// Sub returns the field-wise delta s - other, for periodic-interval rates.
// Open and OpenPending are levels, not totals, so s's values are kept as-is;
// PortWrapped is a sticky flag, so s's value is kept as-is too.
func (s Snapshot) Sub(other Snapshot) Snapshot {
	return Snapshot{
		Open:        s.Open,
		OpenPending: s.OpenPending,
		OpenFailure: s.OpenFailure - other.OpenFailure,
		IOFailure:   s.IOFailure - other.IOFailure,
		Closed:      s.Closed - other.Closed,
		RXBytes:     s.RXBytes - other.RXBytes,
		TXBytes:     s.TXBytes - other.TXBytes,
		PortWrapped: s.PortWrapped,
		RTTSum0:     s.RTTSum0 - other.RTTSum0,
		RTTCount0:   s.RTTCount0 - other.RTTCount0,
		RTTSumR:     s.RTTSumR - other.RTTSumR,
		RTTCountR:   s.RTTCountR - other.RTTCountR,
		RetransSum:  s.RetransSum - other.RetransSum,
	}
}
